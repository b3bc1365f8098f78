package diag

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lotas/tabsidebar/internal/applog"
)

func TestReportLogsAndKeeps(t *testing.T) {
	var buf bytes.Buffer
	applog.SetOutput(&buf)
	defer applog.SetOutput(nil)

	r := NewReporter(10)
	meta := map[string]string{"url": "http://example.com"}
	r.Report(errors.New("script failed"), "Injecting Hypothesis sidebar", meta)
	meta["url"] = "mutated"

	line := buf.String()
	if !strings.Contains(line, `ERROR diag.report err="script failed" context="Injecting Hypothesis sidebar" url=http://example.com`) {
		t.Errorf("unexpected log line %q", line)
	}

	got := r.Recent()
	if len(got) != 1 {
		t.Fatalf("got %d reports, want 1", len(got))
	}
	if got[0].Err != "script failed" || got[0].Meta["url"] != "http://example.com" {
		t.Errorf("report = %+v", got[0])
	}
	if got[0].Time.IsZero() {
		t.Error("report time not set")
	}
}

func TestReportIsBounded(t *testing.T) {
	r := NewReporter(3)
	for i := 0; i < 5; i++ {
		r.Report(fmt.Errorf("err %d", i), "ctx", nil)
	}
	got := r.Recent()
	if len(got) != 3 {
		t.Fatalf("got %d reports, want 3", len(got))
	}
	if got[0].Err != "err 2" || got[2].Err != "err 4" {
		t.Errorf("kept %q..%q, want the newest three", got[0].Err, got[2].Err)
	}
}

func TestReportNilError(t *testing.T) {
	r := NewReporter(0)
	r.Report(nil, "ctx", nil)
	if len(r.Recent()) != 0 {
		t.Error("nil error was recorded")
	}
}
