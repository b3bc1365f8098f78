package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lotas/tabsidebar/internal/types"
	"github.com/pierrec/lz4/v4"
)

// mozlz4 header: 8-byte magic "mozLz40\x00"
var mozLz4Magic = []byte("mozLz40\x00")

const (
	mozLz4HeaderSize = 12 // 8 magic + 4 size
	maxMozLz4Size    = 64 << 20
	// An lz4 block expands at most 255x.
	maxLz4Ratio = 255
)

// DecompressMozLz4 decompresses data in Mozilla's mozlz4 format.
// The format is: 8-byte magic "mozLz40\x00" + 4-byte LE uint32 uncompressed size + lz4 block data.
func DecompressMozLz4(data []byte) ([]byte, error) {
	if len(data) < mozLz4HeaderSize {
		return nil, fmt.Errorf("mozlz4: data too short (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:len(mozLz4Magic)], mozLz4Magic) {
		return nil, fmt.Errorf("mozlz4: invalid header magic")
	}

	size := int64(binary.LittleEndian.Uint32(data[8:12]))
	block := data[mozLz4HeaderSize:]
	if size > maxMozLz4Size || size > int64(len(block))*maxLz4Ratio {
		return nil, fmt.Errorf("mozlz4: implausible uncompressed size %d for %d-byte block", size, len(block))
	}
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(block, dst)
	if err != nil {
		return nil, fmt.Errorf("mozlz4: decompress failed: %w", err)
	}
	return dst[:n], nil
}

// CompressMozLz4 frames src in Mozilla's mozlz4 format.
func CompressMozLz4(src []byte) ([]byte, error) {
	out := make([]byte, mozLz4HeaderSize+lz4.CompressBlockBound(len(src)))
	copy(out, mozLz4Magic)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(src)))

	// A destination of CompressBlockBound size always fits the block.
	n, err := lz4.CompressBlock(src, out[mozLz4HeaderSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("mozlz4: compress failed: %w", err)
	}
	return out[:mozLz4HeaderSize+n], nil
}

// fileRecord is the on-disk form of one tab.
type fileRecord struct {
	types.TabState
	UpdatedAt time.Time `json:"updatedAt"`
}

// FileStore keeps every tab record in a single mozlz4-compressed JSON file.
// Each write replaces the file atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// DefaultFilePath returns ~/.local/share/tabsidebar/tabstates.jsonlz4.
func DefaultFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "tabsidebar", "tabstates.jsonlz4"), nil
}

// NewFileStore returns a FileStore backed by path. The file is created on
// the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Close is a no-op; every write is already on disk.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() (map[int]fileRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[int]fileRecord), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	raw, err := DecompressMozLz4(data)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	records := make(map[int]fileRecord)
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return records, nil
}

func (s *FileStore) write(records map[int]fileRecord) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode tab states: %w", err)
	}
	data, err := CompressMozLz4(raw)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tabstates-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// LoadAll returns every persisted record keyed by tab id.
func (s *FileStore) LoadAll(ctx context.Context) (map[int]types.TabState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make(map[int]types.TabState, len(records))
	for id, r := range records {
		out[id] = r.TabState
	}
	return out, nil
}

// Save upserts the record of a tab. Errored records are never persisted.
func (s *FileStore) Save(ctx context.Context, tabID int, st types.TabState) error {
	if err := checkPersistable(tabID, st); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	records[tabID] = fileRecord{TabState: st, UpdatedAt: time.Now().UTC()}
	return s.write(records)
}

// Remove deletes the record of a tab.
func (s *FileStore) Remove(ctx context.Context, tabID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := records[tabID]; !ok {
		return nil
	}
	delete(records, tabID)
	return s.write(records)
}

// List returns every persisted record ordered by tab id.
func (s *FileStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(records))
	for id, r := range records {
		out = append(out, Record{TabID: id, State: r.TabState, UpdatedAt: r.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out, nil
}
