// Package recorder writes one JSONL trace per case request so failed scrapes can be
// inspected after the fact.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	DefaultKeep = 20
	TraceDir    = "data/traces"
)

// Event represents a single record in a request trace.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data"`
}

// Recorder hands out trace files and keeps the directory bounded.
type Recorder struct {
	mu       sync.Mutex
	basePath string
	keep     int
	now      func() time.Time
}

// NewRecorder creates a recorder instance.
// It ensures the directory exists.
func NewRecorder(basePath string, keep int) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{basePath: basePath, keep: keep, now: time.Now}, nil
}

// Trace is the open file for one request. A nil Trace discards everything.
type Trace struct {
	mu        sync.Mutex
	file      *os.File
	encoder   *json.Encoder
	requestID string
	now       func() time.Time
	path      string
}

// Start rotates old traces and opens a new file for requestID. A nil Recorder returns a nil Trace.
func (r *Recorder) Start(requestID string) (*Trace, error) {
	if r == nil {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.rotate(); err != nil {
		return nil, fmt.Errorf("rotate traces: %w", err)
	}

	filename := fmt.Sprintf("trace_%s_%d.jsonl", requestID, r.now().UnixMilli())
	path := filepath.Join(r.basePath, filename)
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Trace{
		file:      f,
		encoder:   json.NewEncoder(f),
		requestID: requestID,
		now:       r.now,
		path:      path,
	}, nil
}

// Log appends an event to the trace.
func (t *Trace) Log(eventType string, data interface{}) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.encoder == nil {
		return
	}
	_ = t.encoder.Encode(Event{
		Timestamp: t.now(),
		Type:      eventType,
		RequestID: t.requestID,
		Data:      data,
	})
}

// Path is the trace file location.
func (t *Trace) Path() string {
	if t == nil {
		return ""
	}
	return t.path
}

// Close finishes the trace.
func (t *Trace) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	t.encoder = nil
	return err
}

// rotate keeps only the newest traces, leaving room for the one about to be created.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	type traceFile struct {
		name string
		mod  time.Time
	}
	var traces []traceFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, traceFile{e.Name(), info.ModTime()})
	}

	// Newest first; names carry a millisecond stamp that breaks mtime ties.
	sort.Slice(traces, func(i, j int) bool {
		if traces[i].mod.Equal(traces[j].mod) {
			return traces[i].name > traces[j].name
		}
		return traces[i].mod.After(traces[j].mod)
	})

	if len(traces) >= r.keep {
		for _, t := range traces[r.keep-1:] {
			_ = os.Remove(filepath.Join(r.basePath, t.name))
		}
	}
	return nil
}
