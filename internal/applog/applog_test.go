package applog

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestInfoWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	Info("dispatch.inject", "tab", 5, "url", "http://example.com/a b")

	line := buf.String()
	if !strings.Contains(line, " INFO dispatch.inject tab=5 ") {
		t.Errorf("unexpected line %q", line)
	}
	if !strings.Contains(line, `url="http://example.com/a b"`) {
		t.Errorf("value with space not quoted: %q", line)
	}
}

func TestErrorIncludesErr(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	Error("storage.save", errors.New("disk full"), "tab", 1)
	if !strings.Contains(buf.String(), `ERROR storage.save err="disk full" tab=1`) {
		t.Errorf("unexpected line %q", buf.String())
	}
}

func TestQuoteTruncates(t *testing.T) {
	got := quote(strings.Repeat("x", 300))
	if len([]rune(got)) != maxValueLen+1 {
		t.Errorf("got %d runes, want %d", len([]rune(got)), maxValueLen+1)
	}
}

func TestNoOpWithoutOutput(t *testing.T) {
	SetOutput(nil)
	Info("ignored") // must not panic
}

func TestInitCreatesFile(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Info("hello")
	Close()

	data, err := os.ReadFile(Path(dir))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "INFO hello") {
		t.Errorf("log file missing line: %q", data)
	}
}
