package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lotas/tabsidebar/internal/types"
)

// testDB creates a temporary database for testing.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// backends returns a fresh instance of every backend.
func backends(t *testing.T) map[string]Backend {
	t.Helper()
	return map[string]Backend{
		"sqlite": NewTabStore(testDB(t)),
		"file":   NewFileStore(filepath.Join(t.TempDir(), "states.jsonlz4")),
	}
}

func TestOpenDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "tabsidebar.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not found: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("applied migrations = %d, want %d", count, len(migrations))
	}
}

func TestOpenDB_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	store := NewTabStore(db)
	if err := store.Save(context.Background(), 1, types.TabState{State: types.Active, URL: "https://example.com"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	db.Close()

	store, err = OpenTabStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	got, err := store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if got[1].State != types.Active || got[1].URL != "https://example.com" {
		t.Errorf("record after reopen = %+v", got[1])
	}
}

func TestBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			active := types.TabState{State: types.Active, Ready: true, Installed: true, AnnotationCount: 4, URL: "https://a.example"}
			inactive := types.TabState{State: types.Inactive, AnnotationCount: 1}

			if err := b.Save(ctx, 1, active); err != nil {
				t.Fatalf("Save(1): %v", err)
			}
			if err := b.Save(ctx, 2, inactive); err != nil {
				t.Fatalf("Save(2): %v", err)
			}

			got, err := b.LoadAll(ctx)
			if err != nil {
				t.Fatalf("LoadAll: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("LoadAll len = %d, want 2", len(got))
			}
			if got[1] != active {
				t.Errorf("tab 1 = %+v, want %+v", got[1], active)
			}
			if got[2] != inactive {
				t.Errorf("tab 2 = %+v, want %+v", got[2], inactive)
			}
		})
	}
}

func TestBackend_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := b.Save(ctx, 7, types.TabState{State: types.Active}); err != nil {
				t.Fatal(err)
			}
			if err := b.Save(ctx, 7, types.TabState{State: types.Inactive, AnnotationCount: 3}); err != nil {
				t.Fatal(err)
			}
			records, err := b.List(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(records) != 1 {
				t.Fatalf("List len = %d, want 1", len(records))
			}
			if records[0].TabID != 7 || records[0].State.State != types.Inactive || records[0].State.AnnotationCount != 3 {
				t.Errorf("record = %+v", records[0])
			}
			if records[0].UpdatedAt.IsZero() {
				t.Error("UpdatedAt not set")
			}
		})
	}
}

func TestBackend_RefusesErrored(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := b.Save(ctx, 1, types.TabState{State: types.Errored, Err: errors.New("boom")})
			if !errors.Is(err, types.ErrInvalidState) {
				t.Fatalf("Save errored = %v, want ErrInvalidState", err)
			}
			got, err := b.LoadAll(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 0 {
				t.Errorf("errored record was persisted: %+v", got)
			}
		})
	}
}

func TestBackend_Remove(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := b.Save(ctx, 1, types.Default()); err != nil {
				t.Fatal(err)
			}
			if err := b.Save(ctx, 2, types.Default()); err != nil {
				t.Fatal(err)
			}
			if err := b.Remove(ctx, 1); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if err := b.Remove(ctx, 99); err != nil {
				t.Fatalf("Remove unknown: %v", err)
			}
			records, err := b.List(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(records) != 1 || records[0].TabID != 2 {
				t.Errorf("records after remove = %+v", records)
			}
		})
	}
}

func TestBackend_EmptyLoad(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := b.LoadAll(context.Background())
			if err != nil {
				t.Fatalf("LoadAll on fresh store: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("fresh store has %d records", len(got))
			}
		})
	}
}

func TestMozLz4_RoundTrip(t *testing.T) {
	inputs := [][]byte{
		[]byte("{}"),
		[]byte(strings.Repeat(`{"state":"active","ready":true}`, 200)),
		{0x00, 0xff, 0x10, 0x7f, 0x80},
	}
	for _, in := range inputs {
		compressed, err := CompressMozLz4(in)
		if err != nil {
			t.Fatalf("compress: %v", err)
		}
		if !bytes.HasPrefix(compressed, mozLz4Magic) {
			t.Fatalf("missing magic header")
		}
		out, err := DecompressMozLz4(compressed)
		if err != nil {
			t.Fatalf("decompress: %v", err)
		}
		if !bytes.Equal(in, out) {
			t.Errorf("round trip mismatch: got %q, want %q", out, in)
		}
	}
}

func TestDecompressMozLz4_BadInput(t *testing.T) {
	if _, err := DecompressMozLz4([]byte("short")); err == nil {
		t.Error("expected error for short input")
	}
	if _, err := DecompressMozLz4([]byte("notMozLz\x00\x00\x00\x00xxxx")); err == nil {
		t.Error("expected error for bad magic")
	}
}

func TestDecompressMozLz4_ImplausibleSize(t *testing.T) {
	header := append([]byte{}, mozLz4Magic...)
	for _, size := range []uint32{0xffffffff, 4096} {
		data := binary.LittleEndian.AppendUint32(append([]byte{}, header...), size)
		data = append(data, 0x10, 'x')
		if _, err := DecompressMozLz4(data); err == nil || !strings.Contains(err.Error(), "implausible") {
			t.Errorf("size %d: err = %v, want implausible size error", size, err)
		}
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "states.jsonlz4")
	if err := os.WriteFile(path, []byte("garbage-garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).LoadAll(context.Background()); err == nil {
		t.Error("expected error for corrupt file")
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "states.jsonlz4"))
	for i := 0; i < 3; i++ {
		if err := s.Save(context.Background(), i, types.Default()); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the store file", len(entries))
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(BackendSQLite, filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	if _, ok := b.(*TabStore); !ok {
		t.Errorf("sqlite backend is %T", b)
	}
	b.Close()

	b, err = Open(BackendFile, filepath.Join(dir, "a.jsonlz4"))
	if err != nil {
		t.Fatalf("Open file: %v", err)
	}
	if _, ok := b.(*FileStore); !ok {
		t.Errorf("file backend is %T", b)
	}

	if _, err := Open("redis", ""); err == nil {
		t.Error("expected error for unknown backend")
	}
}
