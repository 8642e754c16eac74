package runtimelog

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteEventStore_AppendAndReplay(t *testing.T) {
	store, err := OpenSQLiteEventStore(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := uint64(1); i <= 3; i++ {
		ev := Event{
			SchemaVersion: schemaVersion,
			Seq:           i,
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			ThreadID:      "t1",
			TurnID:        "turn1",
			EventType:     EventMessageDelta,
			Payload:       map[string]any{"text": "chunk"},
		}
		if err := store.Append(ev); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	events, err := store.EventsSince("t1", 0)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d seq = %d, want %d", i, ev.Seq, i+1)
		}
		if ev.EventType != EventMessageDelta {
			t.Errorf("event %d type = %q", i, ev.EventType)
		}
		if ev.Payload["text"] != "chunk" {
			t.Errorf("event %d payload = %v", i, ev.Payload)
		}
	}

	tail, err := store.EventsSince("t1", 2)
	if err != nil {
		t.Fatalf("EventsSince(2): %v", err)
	}
	if len(tail) != 1 || tail[0].Seq != 3 {
		t.Errorf("cursor replay should return only seq 3, got %+v", tail)
	}
}

func TestSQLiteEventStore_AppendIsIdempotent(t *testing.T) {
	store, err := OpenSQLiteEventStore(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ev := Event{Seq: 1, Timestamp: time.Now(), ThreadID: "t1", EventType: EventTurnStarted}
	if err := store.Append(ev); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ev); err != nil {
		t.Fatalf("duplicate append should be ignored, got: %v", err)
	}

	events, err := store.EventsSince("t1", 0)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events after duplicate append, want 1", len(events))
	}
}

func TestSQLiteEventStore_IsolatesThreads(t *testing.T) {
	store, err := OpenSQLiteEventStore(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	_ = store.Append(Event{Seq: 1, Timestamp: time.Now(), ThreadID: "a", EventType: EventTurnStarted})
	_ = store.Append(Event{Seq: 1, Timestamp: time.Now(), ThreadID: "b", EventType: EventTurnStarted})

	events, err := store.EventsSince("a", 0)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 1 || events[0].ThreadID != "a" {
		t.Errorf("thread a should see only its own event, got %+v", events)
	}
}
