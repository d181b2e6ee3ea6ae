package internal

import (
	"context"
	"fmt"
	"time"

	"understory/internal/store"
)

// ringStale is the window after creation during which a ring event is
// still worth alerting on. Older events are resubscription backlog.
const ringStale = 5 * time.Second

// Severity tags a local status line.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityError
)

// Notice is a local, user-visible status line.
type Notice struct {
	Severity Severity
	Text     string
}

// Alerter raises a system-level alert for an attention request. The
// terminal implementation rings the bell; implementations may fail
// (unavailable, denied) and the notifier degrades to a local notice.
type Alerter interface {
	Alert(sender string) error
}

// RingEvent is an ephemeral attention request. Whole-lifecycle:
// created on trigger, destroyed by whichever client observes it first.
type RingEvent struct {
	ID        string
	Sender    string
	CreatedAt *time.Time
}

// RingNotifier publishes and consumes ring events. Consumption is
// lossy: the first observer deletes the event, and there is no
// per-recipient delivery guarantee.
type RingNotifier struct {
	store   store.Store
	alerter Alerter
	room    string
	self    string
	sub     *store.Subscription
}

func NewRingNotifier(st store.Store, alerter Alerter) *RingNotifier {
	return &RingNotifier{store: st, alerter: alerter}
}

// Attach subscribes to the room's ring collection, detaching any
// previous subscription first.
func (n *RingNotifier) Attach(room, self string) (*store.Subscription, error) {
	n.Detach()
	sub, err := n.store.Subscribe(ringsPath(room), "createdAt")
	if err != nil {
		return nil, fmt.Errorf("attach rings: %w", err)
	}
	n.room = room
	n.self = self
	n.sub = sub
	return sub, nil
}

func (n *RingNotifier) Detach() {
	if n.sub != nil {
		n.sub.Cancel()
		n.sub = nil
	}
}

// Ring publishes one attention event with a server-assigned creation
// time. Fire-and-forget: a failure yields a single local error notice
// and no retry.
func (n *RingNotifier) Ring(ctx context.Context) []Notice {
	_, err := n.store.Add(ctx, ringsPath(n.room), store.Fields{
		"sender":    n.self,
		"createdAt": store.ServerTimestamp,
	})
	if err != nil {
		bestEffort("ring", err)
		return []Notice{{Severity: SeverityError, Text: "ring could not be sent"}}
	}
	return nil
}

// Observe consumes every newly added ring event in arrival order.
// Self-authored and stale events are deleted silently; fresh events
// from others alert (or fall back to a local notice) and are then
// deleted so no other observer sees them again.
func (n *RingNotifier) Observe(snapshot store.Snapshot, now time.Time) []Notice {
	var notices []Notice
	for _, change := range snapshot.Changes {
		if change.Kind != store.Added {
			continue
		}
		event := ringFromDoc(change.Doc)

		if event.Sender == n.self || n.stale(event, now) {
			n.delete(event.ID)
			continue
		}
		if err := n.alerter.Alert(event.Sender); err != nil {
			notices = append(notices, Notice{Severity: SeverityInfo, Text: fmt.Sprintf("%s wants your attention (alert unavailable)", event.Sender)})
		}
		notices = append(notices, Notice{Severity: SeverityInfo, Text: fmt.Sprintf("ring from %s", event.Sender)})
		n.delete(event.ID)
	}
	return notices
}

func (n *RingNotifier) stale(event RingEvent, now time.Time) bool {
	if event.CreatedAt == nil {
		return false
	}
	return now.Sub(*event.CreatedAt) > ringStale
}

func (n *RingNotifier) delete(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bestEffort("ring cleanup", n.store.Delete(ctx, ringsPath(n.room), id))
}

func ringFromDoc(doc store.Doc) RingEvent {
	event := RingEvent{ID: doc.ID}
	if sender, ok := store.FieldString(doc.Fields["sender"]); ok {
		event.Sender = sender
	}
	if created, ok := store.FieldTime(doc.Fields["createdAt"]); ok {
		event.CreatedAt = &created
	}
	return event
}
