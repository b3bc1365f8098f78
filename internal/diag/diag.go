// Package diag records unexpected failures for later inspection.
package diag

import (
	"sort"
	"sync"
	"time"

	"github.com/lotas/tabsidebar/internal/applog"
)

// DefaultCapacity is the number of reports kept in memory.
const DefaultCapacity = 50

// Report is one recorded failure.
type Report struct {
	Time    time.Time
	Context string
	Err     string
	Meta    map[string]string
}

// Reporter writes failures to the application log and keeps the most
// recent ones.
type Reporter struct {
	mu       sync.Mutex
	capacity int
	reports  []Report
	now      func() time.Time
}

// NewReporter returns a Reporter keeping up to capacity reports.
func NewReporter(capacity int) *Reporter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Reporter{capacity: capacity, now: time.Now}
}

// Report records err under context with extra metadata.
func (r *Reporter) Report(err error, context string, meta map[string]string) {
	if err == nil {
		return
	}

	kv := []any{"context", context}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	copied := make(map[string]string, len(meta))
	for _, k := range keys {
		kv = append(kv, k, meta[k])
		copied[k] = meta[k]
	}
	applog.Error("diag.report", err, kv...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, Report{
		Time:    r.now(),
		Context: context,
		Err:     err.Error(),
		Meta:    copied,
	})
	if over := len(r.reports) - r.capacity; over > 0 {
		r.reports = append(r.reports[:0:0], r.reports[over:]...)
	}
}

// Recent returns the kept reports, oldest first.
func (r *Reporter) Recent() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Report, len(r.reports))
	copy(out, r.reports)
	return out
}
