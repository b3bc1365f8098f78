package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lotas/tabsidebar/internal/applog"
	"github.com/lotas/tabsidebar/internal/badgecount"
	"github.com/lotas/tabsidebar/internal/browser"
	"github.com/lotas/tabsidebar/internal/config"
	"github.com/lotas/tabsidebar/internal/diag"
	"github.com/lotas/tabsidebar/internal/dispatch"
	"github.com/lotas/tabsidebar/internal/extension"
	"github.com/lotas/tabsidebar/internal/help"
	"github.com/lotas/tabsidebar/internal/loop"
	"github.com/lotas/tabsidebar/internal/server"
	"github.com/lotas/tabsidebar/internal/storage"
	"github.com/lotas/tabsidebar/internal/tabstate"
	"github.com/lotas/tabsidebar/internal/tui"
	"github.com/lotas/tabsidebar/internal/types"
	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "tabsidebar",
		Version: version,
		Short:   "Per-tab annotation sidebar state service",
		Long: `tabsidebar tracks which browser tabs have the annotation sidebar active,
inactive or errored, and drives the browser extension accordingly.

Run without a subcommand to serve the extension bridge.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), 0)
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/tabsidebar/config.yaml)")

	root.AddCommand(newServeCmd(), newStatesCmd(), newConfigCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the extension bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "WebSocket port (overrides server.port)")
	return cmd
}

// runServe wires the state machine to the extension bridge and blocks until
// interrupted.
func runServe(parent context.Context, portOverride int) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}

	if err := applog.Init(cfg.Log.Dir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not open log file: %v\n", err)
	}
	defer applog.Close()

	backend, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer backend.Close()

	settings := config.NewSettings(cfg)
	if err := settings.Watch(configPath); err != nil {
		applog.Error("config.watch", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg.Server.Port)
	client := browser.NewClient(srv)
	lp := loop.New(ctx, 256)

	machine := tabstate.NewMachine(tabstate.NewStore())
	d := dispatch.New(machine, dispatch.Deps{
		Persister: backend,
		Injector:  client,
		Badge:     client,
		Counter:   badgecount.NewFetcher(cfg.Service.APIURL, cfg.Service.FetchTimeout()),
		Settings:  settings,
		Reporter:  diag.NewReporter(cfg.Diagnostics.Capacity),
		Async:     lp,
	})
	ext := extension.New(machine, extension.Deps{
		Loader: backend,
		Tabs:   client,
		Opener: client,
		Help:   help.NewPage(client, cfg.Extension.HelpURL),
		Syncer: d,
		Async:  lp,
	}, extension.Config{WelcomeURL: cfg.Extension.WelcomeURL})

	go forwardEvents(ctx, srv, lp, ext)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(ctx) }()

	fmt.Fprintf(os.Stderr, "tabsidebar %s listening on 127.0.0.1:%d (storage: %s, log: %s)\n",
		version, srv.Port(), cfg.Storage.Backend, applog.Path(cfg.Log.Dir))
	applog.Info("serve.start", "port", srv.Port(), "storage", cfg.Storage.Backend, "version", version)

	go func() {
		if err := <-errc; err != nil {
			applog.Error("server.listen", err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			stop()
		}
	}()

	err = lp.Run()
	lp.Wait()
	applog.Info("serve.stop")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// forwardEvents hands every browser event to the extension on the loop.
func forwardEvents(ctx context.Context, srv *server.Server, lp *loop.Loop, ext *extension.Extension) {
	for {
		select {
		case msg := <-srv.Messages():
			ev, err := server.ParseEvent(msg)
			if err != nil {
				applog.Error("ws.event", err, "type", msg.Type)
				continue
			}
			if !lp.Post(func() { ext.HandleEvent(ctx, ev) }) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func newStatesCmd() *cobra.Command {
	var (
		watch    bool
		asJSON   bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "states",
		Short: "Show persisted tab states",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			backend, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer backend.Close()

			if watch {
				p := tea.NewProgram(tui.NewModel(backend, interval, cfg.Storage.Backend), tea.WithAltScreen())
				_, err := p.Run()
				return err
			}

			records, err := backend.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printStatesJSON(records)
			}
			printStatesTable(records)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Live view, refreshed periodically")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Refresh interval for --watch")
	return cmd
}

type stateJSON struct {
	TabID     int            `json:"tabId"`
	State     types.TabState `json:"state"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func printStatesJSON(records []storage.Record) error {
	out := make([]stateJSON, 0, len(records))
	for _, r := range records {
		out = append(out, stateJSON{TabID: r.TabID, State: r.State, UpdatedAt: r.UpdatedAt})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printStatesTable(records []storage.Record) {
	if len(records) == 0 {
		fmt.Println("No tabs tracked.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TAB\tSTATE\tREADY\tSIDEBAR\tCOUNT\tUPDATED\tURL")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%t\t%t\t%d\t%s\t%s\n",
			r.TabID, r.State.State, r.State.Ready, r.State.Installed, r.State.AnnotationCount,
			r.UpdatedAt.Local().Format("2006-01-02 15:04:05"), r.State.URL)
	}
	w.Flush()
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.WriteDefault(configPath, force)
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
