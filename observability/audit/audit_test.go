package audit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

type memSink struct {
	bytes.Buffer
	closed bool
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestTrailRecordsJSONLines(t *testing.T) {
	sink := &memSink{}
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	trail := NewTrailWriter(sink, WithClock(func() time.Time { return now }))

	body := []byte(`{"agent_id":"agent_1","task_type":"code_review"}`)
	if err := trail.Record("agent_1", "POST", "/agents", 201, body); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := trail.Record("", "GET", "/rfps", 200, nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(sink.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first Entry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if first.Principal != "agent_1" || first.Method != "POST" || first.Path != "/agents" || first.Status != 201 {
		t.Fatalf("unexpected entry: %+v", first)
	}
	if !first.Timestamp.Equal(now) {
		t.Fatalf("expected timestamp %v, got %v", now, first.Timestamp)
	}
	if !bytes.Equal(first.Request, body) {
		t.Fatalf("expected request body preserved, got %s", first.Request)
	}

	var second Entry
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal second line: %v", err)
	}
	if second.Principal != "" || len(second.Request) != 0 {
		t.Fatalf("expected empty principal and request, got %+v", second)
	}
}

func TestTrailQuotesInvalidJSON(t *testing.T) {
	sink := &memSink{}
	trail := NewTrailWriter(sink)

	if err := trail.Record("agent_2", "POST", "/bids", 400, []byte("not-json{")); err != nil {
		t.Fatalf("record: %v", err)
	}

	var entry Entry
	if err := json.Unmarshal(bytes.TrimSpace(sink.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var quoted string
	if err := json.Unmarshal(entry.Request, &quoted); err != nil {
		t.Fatalf("expected request wrapped as JSON string: %v", err)
	}
	if quoted != "not-json{" {
		t.Fatalf("expected original payload, got %q", quoted)
	}
}

func TestNilTrailIsSafe(t *testing.T) {
	var trail *Trail
	if err := trail.Record("x", "GET", "/", 200, nil); err != nil {
		t.Fatalf("expected nil trail record to no-op, got %v", err)
	}
	if err := trail.Close(); err != nil {
		t.Fatalf("expected nil trail close to no-op, got %v", err)
	}
}

func TestNewTrailEmptyPathDisabled(t *testing.T) {
	if trail := NewTrail("  "); trail != nil {
		t.Fatal("expected empty path to disable the trail")
	}
}

func TestTrailClosePropagates(t *testing.T) {
	sink := &memSink{}
	trail := NewTrailWriter(sink)
	if err := trail.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !sink.closed {
		t.Fatal("expected underlying writer to be closed")
	}
}
