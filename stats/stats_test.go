package stats

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestCollector(t *testing.T) {
	events := make(chan Event, 16)
	boom := errors.New("boom")
	for _, evt := range []Event{
		{Stage: StageInbox, Type: EventTypeReceived},
		{Stage: StageInbox, Type: EventTypeReceived},
		{Stage: StageInbox, Type: EventTypeReceived},
		{Stage: StageInbox, Type: EventTypeDuplicate},
		{Stage: StageRelay, Type: EventTypePublished, Platform: "email_bridge"},
		{Stage: StageRelay, Type: EventTypeRegistered},
		{Stage: StageRelay, Type: EventTypeRejected},
		{Stage: StageRelay, Type: EventTypeFailed, Err: boom},
	} {
		events <- evt
	}
	close(events)

	c := NewCollector()
	c.Run(context.Background(), events)
	got := c.Snapshot()

	if got.Received != 3 || got.Duplicates != 1 || got.Published != 1 || got.Registered != 1 || got.Rejected != 1 || got.Failed != 1 {
		t.Errorf("Snapshot() = %+v", got)
	}
	if got.Platforms["email_bridge"] != 1 {
		t.Errorf("Platforms = %v", got.Platforms)
	}
	if !errors.Is(got.LastError, boom) {
		t.Errorf("LastError = %v, want boom", got.LastError)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	c := NewCollector()
	c.Apply(Event{Type: EventTypePublished, Platform: "email_bridge"})
	snap := c.Snapshot()
	snap.Platforms["email_bridge"] = 99
	if c.Snapshot().Platforms["email_bridge"] != 1 {
		t.Error("Snapshot() shares the platform map")
	}
}

func TestTop(t *testing.T) {
	m := map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}
	got := Top(m, 3)
	want := []Count{{"c", 5}, {"a", 2}, {"b", 2}}
	if len(got) != len(want) {
		t.Fatalf("Top() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Top()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	var buf bytes.Buffer
	PrettyPrintTop(&buf, m, 1)
	if buf.String() != "1. c (5)\n" {
		t.Errorf("PrettyPrintTop() = %q", buf.String())
	}
}
