package internal

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"understory/internal/store"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	session := LoadSession(t.TempDir())
	if err := session.Login("den", "alice"); err != nil {
		t.Fatalf("login: %v", err)
	}
	return session
}

func newTestMemory(at time.Time) *store.Memory {
	mem := store.NewMemory()
	mem.Now = func() time.Time { return at }
	return mem
}

// latestSnapshot drains the buffered deliveries and returns the most
// recent one. Memory applies writes synchronously, so by the time a
// write call returns its snapshot is already queued.
func latestSnapshot(t *testing.T, sub *store.Subscription) store.Snapshot {
	t.Helper()
	var snapshot store.Snapshot
	got := false
	for {
		select {
		case s, ok := <-sub.C:
			if !ok {
				t.Fatal("subscription closed")
			}
			snapshot = s
			got = true
		default:
			if !got {
				t.Fatal("no snapshot delivered")
			}
			return snapshot
		}
	}
}

func TestSendRoundTrip(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	mem := newTestMemory(origin)
	session := newTestSession(t)
	rec := NewReconciler(mem, session)

	sub, err := rec.Attach("den", "alice")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	rec.Apply(latestSnapshot(t, sub))

	if err := rec.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	rec.Apply(latestSnapshot(t, sub))

	msgs := rec.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	msg := msgs[0]
	if msg.Sender != "alice" || msg.Body != "hello" {
		t.Fatalf("got %q from %q", msg.Body, msg.Sender)
	}
	if !msg.SeenBy["alice"] || len(msg.SeenBy) != 1 {
		t.Fatalf("seenBy = %v, want exactly {alice}", msg.SeenBy)
	}
	if msg.CreatedAt == nil || !msg.CreatedAt.Equal(origin) {
		t.Fatalf("createdAt = %v, want %v", msg.CreatedAt, origin)
	}
}

func TestSendValidation(t *testing.T) {
	mem := newTestMemory(time.Now())
	session := newTestSession(t)
	rec := NewReconciler(mem, session)
	if _, err := rec.Attach("den", "alice"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := rec.Send(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("blank send: got %v, want ErrEmptyMessage", err)
	}

	if err := session.Logout(); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := rec.Send(context.Background(), "hello"); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("logged-out send: got %v, want ErrNotLoggedIn", err)
	}
}

func TestUnreadSummaryIsOneShot(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	mem := newTestMemory(origin)
	session := newTestSession(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := mem.Add(ctx, messagesPath("den"), newMessageFields("bob", "hi")); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rec := NewReconciler(mem, session)
	sub, err := rec.Attach("den", "alice")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	summary := rec.Apply(latestSnapshot(t, sub))
	if summary == nil || summary.Count != 2 {
		t.Fatalf("first summary = %+v, want count 2", summary)
	}

	if _, err := mem.Add(ctx, messagesPath("den"), newMessageFields("bob", "again")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if summary := rec.Apply(latestSnapshot(t, sub)); summary != nil {
		t.Fatalf("second summary = %+v, want nil", summary)
	}

	// re-attach opens a fresh one-shot window
	sub, err = rec.Attach("den", "alice")
	if err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	if summary := rec.Apply(latestSnapshot(t, sub)); summary == nil || summary.Count != 3 {
		t.Fatalf("summary after re-attach = %+v, want count 3", summary)
	}
}

func TestMarkSeenIdempotent(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	mem := newTestMemory(origin)
	session := newTestSession(t)
	ctx := context.Background()

	if _, err := mem.Add(ctx, messagesPath("den"), newMessageFields("bob", "hi")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := NewReconciler(mem, session)
	sub, err := rec.Attach("den", "alice")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	rec.Apply(latestSnapshot(t, sub))

	rec.MarkSeen(ctx, rec.Messages())
	rec.Apply(latestSnapshot(t, sub))
	first := rec.Messages()[0].SeenBy

	rec.MarkSeen(ctx, rec.Messages())
	rec.Apply(latestSnapshot(t, sub))
	second := rec.Messages()[0].SeenBy

	want := map[string]bool{"alice": true, "bob": true}
	if !reflect.DeepEqual(first, want) || !reflect.DeepEqual(second, want) {
		t.Fatalf("seenBy after repeated markSeen = %v then %v, want %v", first, second, want)
	}
	if got := rec.Messages()[0].SeenAt["alice"]; !got.Equal(origin) {
		t.Fatalf("seenAt[alice] = %v, want %v", got, origin)
	}
}

func TestClearLocalHidesHistory(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	later := origin.Add(time.Minute)
	mem := newTestMemory(origin)
	session := newTestSession(t)
	ctx := context.Background()

	if _, err := mem.Add(ctx, messagesPath("den"), newMessageFields("bob", "old")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mem.Now = func() time.Time { return later }
	if _, err := mem.Add(ctx, messagesPath("den"), newMessageFields("bob", "at-mark")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := NewReconciler(mem, session)
	sub, err := rec.Attach("den", "alice")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	rec.Apply(latestSnapshot(t, sub))
	if got := len(rec.Messages()); got != 2 {
		t.Fatalf("before clear: %d messages, want 2", got)
	}

	rec.ClearLocal(later)

	// immediate local refilter: strictly-older is hidden, the message
	// created exactly at the watermark stays
	msgs := rec.Messages()
	if len(msgs) != 1 || msgs[0].Body != "at-mark" {
		t.Fatalf("after clear: %+v, want only at-mark", msgs)
	}

	// cached docs stay hidden across a fresh subscription
	sub, err = rec.Attach("den", "alice")
	if err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	rec.Apply(latestSnapshot(t, sub))
	if got := len(rec.Messages()); got != 1 {
		t.Fatalf("after re-attach: %d messages, want 1", got)
	}

	// newly arriving messages are visible
	mem.Now = func() time.Time { return later.Add(time.Second) }
	if _, err := mem.Add(ctx, messagesPath("den"), newMessageFields("bob", "fresh")); err != nil {
		t.Fatalf("add: %v", err)
	}
	rec.Apply(latestSnapshot(t, sub))
	if got := len(rec.Messages()); got != 2 {
		t.Fatalf("after fresh arrival: %d messages, want 2", got)
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	origin := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	mem := newTestMemory(origin)
	ctx := context.Background()
	for i, body := range []string{"one", "two", "three"} {
		at := origin.Add(time.Duration(i) * time.Minute)
		mem.Now = func() time.Time { return at }
		if _, err := mem.Add(ctx, messagesPath("den"), newMessageFields("bob", body)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	project := func() []TranscriptLine {
		session := newTestSession(t)
		rec := NewReconciler(mem, session)
		sub, err := rec.Attach("den", "alice")
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		rec.Apply(latestSnapshot(t, sub))
		return ProjectTranscript(rec.Messages(), "alice", origin.Add(time.Hour))
	}

	if first, second := project(), project(); !reflect.DeepEqual(first, second) {
		t.Fatalf("replay diverged:\n%+v\n%+v", first, second)
	}
}
