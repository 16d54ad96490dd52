// Package audit appends a structured record for every mutating marketplace
// request to a rotating JSONL trail. The trail is the registry operator's
// answer to "who changed what": disputes over assignments and ratings get
// settled from it.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is one audit record. Request bodies are captured verbatim when they
// are valid JSON and wrapped as a JSON string otherwise.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Principal string          `json:"principal,omitempty"`
	Method    string          `json:"method"`
	Path      string          `json:"path"`
	Status    int             `json:"status"`
	Request   json.RawMessage `json:"request,omitempty"`
}

// Trail serialises audit entries, one JSON object per line. A nil Trail is
// safe to use and records nothing, which keeps call sites free of enabled
// checks.
type Trail struct {
	mu    sync.Mutex
	out   io.WriteCloser
	nowFn func() time.Time
}

// Option customises a Trail.
type Option func(*Trail)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) {
		if now != nil {
			t.nowFn = now
		}
	}
}

// NewTrail opens a rotating trail at path. An empty path disables auditing
// and returns nil.
func NewTrail(path string, opts ...Option) *Trail {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    64, // megabytes
		MaxBackups: 7,
		MaxAge:     30, // days
		Compress:   true,
	}
	return NewTrailWriter(out, opts...)
}

// NewTrailWriter builds a trail over an arbitrary writer. Tests use this to
// capture entries in memory.
func NewTrailWriter(out io.WriteCloser, opts ...Option) *Trail {
	t := &Trail{out: out, nowFn: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record appends one entry. Errors are returned so callers can surface a
// degraded trail without failing the request that triggered it.
func (t *Trail) Record(principal, method, path string, status int, request []byte) error {
	if t == nil {
		return nil
	}
	entry := Entry{
		Timestamp: t.nowFn().UTC(),
		Principal: principal,
		Method:    method,
		Path:      path,
		Status:    status,
	}
	if len(request) > 0 {
		if json.Valid(request) {
			entry.Request = append([]byte(nil), request...)
		} else if quoted, err := json.Marshal(string(request)); err == nil {
			entry.Request = quoted
		}
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	line = append(line, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.out.Write(line); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	return nil
}

// Close releases the underlying writer.
func (t *Trail) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.out.Close()
}
