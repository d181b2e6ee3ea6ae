package internal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"understory/internal/store"
)

// UnreadSummary is the one-shot report computed from the first snapshot
// after an attach: how many messages from other people the local user
// has not seen yet.
type UnreadSummary struct {
	Room  string
	Count int
}

// Reconciler merges the remote ordered message feed with the local
// visibility watermark. It keeps a deduplicated ascending view and
// emits the unread summary exactly once per subscription instance.
type Reconciler struct {
	store   store.Store
	session *Session

	room string
	user string
	sub  *store.Subscription

	// firstSnapshot is scoped to the current subscription instance so
	// re-attaching always opens a fresh one-shot window.
	firstSnapshot bool

	messages []Message
}

func NewReconciler(st store.Store, session *Session) *Reconciler {
	return &Reconciler{store: st, session: session}
}

// Attach subscribes to the message feed for (room, user), detaching any
// previous subscription first so a superseded feed can never mutate
// current state. Safe to call repeatedly.
func (r *Reconciler) Attach(room, user string) (*store.Subscription, error) {
	r.Detach()
	sub, err := r.store.Subscribe(messagesPath(room), "createdAt")
	if err != nil {
		return nil, fmt.Errorf("attach messages: %w", err)
	}
	r.room = room
	r.user = user
	r.sub = sub
	r.firstSnapshot = true
	r.messages = nil
	return sub, nil
}

// Detach cancels the current subscription, if any.
func (r *Reconciler) Detach() {
	if r.sub != nil {
		r.sub.Cancel()
		r.sub = nil
	}
	r.messages = nil
}

// Apply folds one snapshot into the local view: watermark filter, then
// the ascending order the store delivered. The returned summary is
// non-nil only for the first snapshot after Attach.
func (r *Reconciler) Apply(snapshot store.Snapshot) *UnreadSummary {
	watermark := r.session.Watermark(r.room, r.user)
	messages := make([]Message, 0, len(snapshot.Docs))
	for _, doc := range snapshot.Docs {
		message := messageFromDoc(doc)
		if hiddenByWatermark(message, watermark) {
			continue
		}
		messages = append(messages, message)
	}
	r.messages = messages

	if !r.firstSnapshot {
		return nil
	}
	r.firstSnapshot = false
	summary := &UnreadSummary{Room: r.room}
	for _, message := range messages {
		if message.Sender != r.user && !message.SeenBy[r.user] {
			summary.Count++
		}
	}
	return summary
}

// Messages returns the current filtered ascending view.
func (r *Reconciler) Messages() []Message {
	return r.messages
}

// Send validates and appends a message. The author is immediately in
// the seen set; createdAt and the author's seen time are assigned by
// the server. Repeated identical sends produce distinct messages.
func (r *Reconciler) Send(ctx context.Context, body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return ErrEmptyMessage
	}
	if !r.session.LoggedIn() {
		return ErrNotLoggedIn
	}
	if _, err := r.store.Add(ctx, messagesPath(r.room), newMessageFields(r.user, trimmed)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// MarkSeen unions the local user into the seen set of every message
// they have not acknowledged yet. Each union is best-effort: failures
// are logged and never retried. The merge is commutative and
// idempotent, so overlapping calls from multiple clients are safe.
func (r *Reconciler) MarkSeen(ctx context.Context, messages []Message) {
	for _, message := range messages {
		if message.Sender == r.user || message.SeenBy[r.user] {
			continue
		}
		err := r.store.UpsertMerge(ctx, messagesPath(r.room), message.ID, store.Fields{
			"seenBy": map[string]any{r.user: true},
			"seenAt": map[string]any{r.user: store.ServerTimestamp},
		})
		bestEffort("mark seen", err)
	}
}

// ClearLocal advances the watermark to now and refilters the local view
// immediately. Remote data is untouched; history merely stops being
// visible on this identity.
func (r *Reconciler) ClearLocal(now time.Time) {
	r.session.SetWatermark(r.room, r.user, now)
	watermark := r.session.Watermark(r.room, r.user)
	kept := r.messages[:0]
	for _, message := range r.messages {
		if hiddenByWatermark(message, watermark) {
			continue
		}
		kept = append(kept, message)
	}
	r.messages = kept
}

// hiddenByWatermark hides messages created strictly before the
// watermark. Messages still waiting for a server timestamp are always
// visible: they were composed locally after the clear.
func hiddenByWatermark(message Message, watermark time.Time) bool {
	if watermark.IsZero() || message.CreatedAt == nil {
		return false
	}
	return message.CreatedAt.Before(watermark)
}
