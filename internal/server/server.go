package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/lotas/tabsidebar/internal/applog"
	"nhooyr.io/websocket"
)

// ErrNotConnected is returned when a command is sent while no extension is
// connected, or when the connection drops before the response arrives.
var ErrNotConnected = errors.New("extension not connected")

// TypeConnected is synthesized by the server when an extension connects.
const TypeConnected = "connected"

// IncomingMsg is a message from the extension: either a browser event
// (Type set) or the response to a command (ID set).
type IncomingMsg struct {
	Type   string          `json:"type,omitempty"`
	Tab    json.RawMessage `json:"tab,omitempty"`
	Tabs   json.RawMessage `json:"tabs,omitempty"`
	TabID  int             `json:"tabId,omitempty"`
	Status string          `json:"status,omitempty"`
	// Tab replacement
	AddedTabID   int `json:"addedTabId,omitempty"`
	RemovedTabID int `json:"removedTabId,omitempty"`
	// Install details
	Reason      string `json:"reason,omitempty"`
	InstallType string `json:"installType,omitempty"`
	// Command response fields
	ID        string `json:"id,omitempty"`
	OK        *bool  `json:"ok,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
}

// IsResponse reports whether msg answers a command.
func (m IncomingMsg) IsResponse() bool {
	return m.ID != "" && m.Type == ""
}

// Badge is the toolbar icon state for one tab.
type Badge struct {
	Text  string `json:"text"`
	Title string `json:"title"`
	Icon  string `json:"icon"`
	Color string `json:"color,omitempty"`
}

// OutgoingMsg is a command to the extension.
type OutgoingMsg struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	TabID  int    `json:"tabId,omitempty"`
	URL    string `json:"url,omitempty"`
	Index  *int   `json:"index,omitempty"`
	Badge  *Badge `json:"badge,omitempty"`
}

// Server manages the WebSocket connection to the extension.
type Server struct {
	port    int
	msgs    chan IncomingMsg
	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]waiter
}

// waiter is a Request waiting for its response on one connection.
type waiter struct {
	conn *websocket.Conn
	ch   chan IncomingMsg
}

// New creates a new Server. Port 0 means the caller manages the listener.
func New(port int) *Server {
	return &Server{
		port:    port,
		msgs:    make(chan IncomingMsg, 256),
		pending: make(map[string]waiter),
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Messages returns the channel of browser events from the extension.
// Command responses are delivered to Request instead.
func (s *Server) Messages() <-chan IncomingMsg {
	return s.msgs
}

// Connected reports whether an extension is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send sends a command to the connected extension without waiting for a
// response.
func (s *Server) Send(ctx context.Context, msg OutgoingMsg) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return write(ctx, conn, msg)
}

func write(ctx context.Context, conn *websocket.Conn, msg OutgoingMsg) error {
	applog.Info("ws.send", "action", msg.Action, "id", msg.ID)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Request sends a command and waits for the response with the same id. It
// fails with ErrNotConnected when the connection it was sent on goes away,
// including when a newer connection replaces it.
func (s *Server) Request(ctx context.Context, msg OutgoingMsg) (IncomingMsg, error) {
	msg.ID = uuid.NewString()
	ch := make(chan IncomingMsg, 1)

	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return IncomingMsg{}, ErrNotConnected
	}
	s.pending[msg.ID] = waiter{conn: conn, ch: ch}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
	}()

	if err := write(ctx, conn, msg); err != nil {
		return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, ErrNotConnected)
		}
		return resp, nil
	case <-ctx.Done():
		return IncomingMsg{}, ctx.Err()
	}
}

func (s *Server) deliver(resp IncomingMsg) {
	s.mu.Lock()
	w, ok := s.pending[resp.ID]
	if ok {
		delete(s.pending, resp.ID)
	}
	s.mu.Unlock()

	if !ok {
		applog.Info("ws.response.orphan", "id", resp.ID)
		return
	}
	w.ch <- resp
}

// failPending wakes every waiter of conn. Whoever removes a waiter from the
// map owns its channel, so each one is either delivered to or closed, never
// both.
func (s *Server) failPending(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.pending {
		if w.conn != conn {
			continue
		}
		close(w.ch)
		delete(s.pending, id)
	}
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(4 << 20) // 4 MB, a tab query on a large session

		ctx := r.Context()
		s.mu.Lock()
		old := s.conn
		s.conn = conn
		s.mu.Unlock()
		if old != nil {
			applog.Info("ws.replaced")
			s.failPending(old)
			old.CloseNow()
		}

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()
			s.failPending(conn)
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		if !s.enqueue(ctx, IncomingMsg{Type: TypeConnected}) {
			return
		}

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			if msg.IsResponse() {
				s.deliver(msg)
				continue
			}
			applog.Info("ws.recv", "type", msg.Type)
			if !s.enqueue(ctx, msg) {
				return
			}
		}
	})
}

// enqueue blocks until the event is accepted or the connection ends.
func (s *Server) enqueue(ctx context.Context, msg IncomingMsg) bool {
	select {
	case s.msgs <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// ListenAndServe starts the WebSocket server on the configured port.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", s.Handler())

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
