package internal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"understory/internal/store"
)

type recordingAlerter struct {
	calls []string
	err   error
}

func (a *recordingAlerter) Alert(sender string) error {
	a.calls = append(a.calls, sender)
	return a.err
}

func ringSetup(t *testing.T, origin time.Time) (*store.Memory, *RingNotifier, *recordingAlerter, *store.Subscription) {
	t.Helper()
	mem := newTestMemory(origin)
	alerter := &recordingAlerter{}
	n := NewRingNotifier(mem, alerter)
	sub, err := n.Attach("den", "alice")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	latestSnapshot(t, sub) // initial empty delivery
	return mem, n, alerter, sub
}

func addRing(t *testing.T, mem *store.Memory, sender string) {
	t.Helper()
	_, err := mem.Add(context.Background(), ringsPath("den"), store.Fields{
		"sender":    sender,
		"createdAt": store.ServerTimestamp,
	})
	if err != nil {
		t.Fatalf("add ring: %v", err)
	}
}

func remainingRings(t *testing.T, sub *store.Subscription) int {
	t.Helper()
	return len(latestSnapshot(t, sub).Docs)
}

func TestRingSelfEchoDeletedSilently(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	mem, n, alerter, sub := ringSetup(t, origin)

	addRing(t, mem, "alice")
	notices := n.Observe(latestSnapshot(t, sub), origin)

	if len(notices) != 0 || len(alerter.calls) != 0 {
		t.Fatalf("self echo produced notices %v, alerts %v", notices, alerter.calls)
	}
	if got := remainingRings(t, sub); got != 0 {
		t.Fatalf("%d events left, want 0", got)
	}
}

func TestRingStaleBacklogDeletedSilently(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	mem, n, alerter, sub := ringSetup(t, origin)

	addRing(t, mem, "bob")
	notices := n.Observe(latestSnapshot(t, sub), origin.Add(6*time.Second))

	if len(notices) != 0 || len(alerter.calls) != 0 {
		t.Fatalf("stale event produced notices %v, alerts %v", notices, alerter.calls)
	}
	if got := remainingRings(t, sub); got != 0 {
		t.Fatalf("%d events left, want 0", got)
	}
}

func TestRingFreshEventAlertsOnceThenDeletes(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	mem, n, alerter, sub := ringSetup(t, origin)

	addRing(t, mem, "bob")
	notices := n.Observe(latestSnapshot(t, sub), origin.Add(time.Second))

	if len(alerter.calls) != 1 || alerter.calls[0] != "bob" {
		t.Fatalf("alerts = %v, want exactly one for bob", alerter.calls)
	}
	if len(notices) != 1 || !strings.Contains(notices[0].Text, "bob") {
		t.Fatalf("notices = %v, want one received notice", notices)
	}
	if got := remainingRings(t, sub); got != 0 {
		t.Fatalf("%d events left, want 0", got)
	}
}

func TestRingAlertFailureFallsBackToNotice(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	mem, n, alerter, sub := ringSetup(t, origin)
	alerter.err = errors.New("bell unavailable")

	addRing(t, mem, "bob")
	notices := n.Observe(latestSnapshot(t, sub), origin.Add(time.Second))

	// fallback notice plus the received notice
	if len(notices) != 2 {
		t.Fatalf("notices = %v, want fallback and received", notices)
	}
	if got := remainingRings(t, sub); got != 0 {
		t.Fatalf("%d events left, want 0", got)
	}
}

func TestRingPublishes(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	_, n, _, sub := ringSetup(t, origin)

	if notices := n.Ring(context.Background()); len(notices) != 0 {
		t.Fatalf("successful ring produced notices: %v", notices)
	}
	snapshot := latestSnapshot(t, sub)
	if len(snapshot.Docs) != 1 {
		t.Fatalf("%d events, want 1", len(snapshot.Docs))
	}
	event := ringFromDoc(snapshot.Docs[0])
	if event.Sender != "alice" || event.CreatedAt == nil || !event.CreatedAt.Equal(origin) {
		t.Fatalf("published event = %+v", event)
	}
}
