package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestDispatcherDeliversInOrderAndDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "step", Metadata: map[string]string{"i": string(rune('0' + i))}})
	}
	d.Close()

	for i := 0; i < 5; i++ {
		select {
		case ev := <-sink.Events():
			if ev.Metadata["i"] != string(rune('0'+i)) {
				t.Fatalf("event %d out of order: %+v", i, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}

	d.Emit(context.Background(), Event{EventType: "late"})
	select {
	case ev := <-sink.Events():
		t.Fatalf("closed dispatcher delivered %+v", ev)
	default:
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

type blockingSink struct{ release chan struct{} }

func (b blockingSink) Emit(context.Context, Event) { <-b.release }

func TestDropIfFullCountsDrops(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, blockingSink{release: release})

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "flood"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink")
	}
	close(release)
	d.Close()
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{EventType: "challenge_issued", UserID: "u1", Level: "MEDIUM", Success: true})
	s.Emit(context.Background(), Event{EventType: "challenge_failed", UserID: "u1", Reason: "Challenge expired"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.EventType != "challenge_failed" || ev.Reason != "Challenge expired" || ev.Success {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestSlogSinkUsesWarnForFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := NewSlogSink(logger)

	s.Emit(context.Background(), Event{EventType: "verification_failed", UserID: "u9", Reason: "Invalid challenge nonce"})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if rec["level"] != "WARN" || rec["msg"] != "verification_failed" || rec["reason"] != "Invalid challenge nonce" {
		t.Fatalf("unexpected record %v", rec)
	}
}
