package internal

import (
	"context"
	"fmt"
	"time"

	"understory/internal/store"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

const (
	// typingIdle is how long input may pause before typing=false is
	// published. A single timer slot; every keystroke restarts it.
	typingIdle = 1200 * time.Millisecond

	// onlineNoticeWindow suppresses repeated online notices for the
	// same user, absorbing connection flapping.
	onlineNoticeWindow = 2000 * time.Millisecond
)

// PresenceRecord is the live state of one (room,user). One record per
// pair; arbitrary field subsets merge last-write-wins in the store.
type PresenceRecord struct {
	User      string
	Status    Status
	Typing    bool
	UpdatedAt time.Time
}

// UserState is the shape handed to presence-display collaborators.
type UserState struct {
	Status Status
	Typing bool
}

// PresenceNotice is a one-shot transition report about another user.
type PresenceNotice struct {
	User   string
	Status Status
}

// Presence drives the local user's status/typing record and observes
// everyone else's. Writes are best-effort; a lost presence update is
// repaired by the next transition.
type Presence struct {
	store store.Store
	room  string
	self  string
	sub   *store.Subscription

	records map[string]PresenceRecord

	typingLocal    bool
	typingDeadline time.Time

	lastOnlineNotice map[string]time.Time
}

func NewPresence(st store.Store) *Presence {
	return &Presence{
		store:            st,
		records:          make(map[string]PresenceRecord),
		lastOnlineNotice: make(map[string]time.Time),
	}
}

// Attach subscribes to the room's presence collection, detaching any
// previous subscription first.
func (p *Presence) Attach(room, self string) (*store.Subscription, error) {
	p.Detach()
	sub, err := p.store.Subscribe(presencePath(room), "user")
	if err != nil {
		return nil, fmt.Errorf("attach presence: %w", err)
	}
	p.room = room
	p.self = self
	p.sub = sub
	p.records = make(map[string]PresenceRecord)
	p.lastOnlineNotice = make(map[string]time.Time)
	p.typingLocal = false
	p.typingDeadline = time.Time{}
	return sub, nil
}

func (p *Presence) Detach() {
	if p.sub != nil {
		p.sub.Cancel()
		p.sub = nil
	}
}

// Login publishes self=online.
func (p *Presence) Login(ctx context.Context) {
	p.upsertSelf(ctx, store.Fields{"status": string(StatusOnline)})
}

// VisibilityChanged mirrors tab visibility onto status: hidden means
// away, visible means online.
func (p *Presence) VisibilityChanged(ctx context.Context, visible bool) {
	status := StatusAway
	if visible {
		status = StatusOnline
	}
	p.upsertSelf(ctx, store.Fields{"status": string(status)})
}

// Logout stops typing and goes offline, in that order. Each write is
// independently best-effort: a failed typing clear does not block the
// offline transition. The record persists remotely as offline.
func (p *Presence) Logout(ctx context.Context) {
	p.typingLocal = false
	p.typingDeadline = time.Time{}
	p.upsertSelf(ctx, store.Fields{"typing": false})
	p.upsertSelf(ctx, store.Fields{"status": string(StatusOffline)})
}

// Unload fires a final offline write without waiting for the result,
// for process-teardown paths that cannot block.
func (p *Presence) Unload() {
	room, self := p.room, p.self
	st := p.store
	if room == "" || self == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = st.UpsertMerge(ctx, presencePath(room), self, store.Fields{
			"user":      self,
			"status":    string(StatusOffline),
			"updatedAt": store.ServerTimestamp,
		})
	}()
}

// TypingActivity notes a keystroke at now. The first keystroke of a
// burst publishes typing=true; every keystroke restarts the single
// debounce slot that Tick later acts on.
func (p *Presence) TypingActivity(ctx context.Context, now time.Time) {
	if !p.typingLocal {
		p.typingLocal = true
		p.upsertSelf(ctx, store.Fields{"typing": true})
	}
	p.typingDeadline = now.Add(typingIdle)
}

// Tick publishes typing=false once the debounce window has elapsed with
// no further input. Called from the shell's timer; cheap when idle.
func (p *Presence) Tick(ctx context.Context, now time.Time) {
	if !p.typingLocal || p.typingDeadline.IsZero() || now.Before(p.typingDeadline) {
		return
	}
	p.typingLocal = false
	p.typingDeadline = time.Time{}
	p.upsertSelf(ctx, store.Fields{"typing": false})
}

// TypingPending reports whether a debounce deadline is outstanding, so
// the shell knows to keep ticking.
func (p *Presence) TypingPending() bool {
	return p.typingLocal && !p.typingDeadline.IsZero()
}

// Apply folds a presence snapshot into the local map and returns
// one-shot notices for other users' transitions. An online notice for
// a user is suppressed if one was emitted within the last two seconds.
func (p *Presence) Apply(snapshot store.Snapshot, now time.Time) []PresenceNotice {
	var notices []PresenceNotice
	incoming := make(map[string]PresenceRecord, len(snapshot.Docs))
	for _, doc := range snapshot.Docs {
		record := presenceFromDoc(doc)
		if record.User == "" {
			continue
		}
		incoming[record.User] = record

		previous, known := p.records[record.User]
		if record.User == p.self || (known && previous.Status == record.Status) {
			continue
		}
		if !known && record.Status == StatusOffline {
			// first sight of a user who is already gone is not news
			continue
		}
		if record.Status == StatusOnline {
			if last, ok := p.lastOnlineNotice[record.User]; ok && now.Sub(last) < onlineNoticeWindow {
				continue
			}
			p.lastOnlineNotice[record.User] = now
		}
		notices = append(notices, PresenceNotice{User: record.User, Status: record.Status})
	}
	p.records = incoming
	return notices
}

// States maps user → {status, typing} for the presence display.
func (p *Presence) States() map[string]UserState {
	states := make(map[string]UserState, len(p.records))
	for user, record := range p.records {
		states[user] = UserState{Status: record.Status, Typing: record.Typing}
	}
	return states
}

// TypingIndicator renders who else is typing right now, or "".
func (p *Presence) TypingIndicator() string {
	var typing []string
	for user, record := range p.records {
		if user != p.self && record.Typing && record.Status != StatusOffline {
			typing = append(typing, user)
		}
	}
	switch len(typing) {
	case 0:
		return ""
	case 1:
		return typing[0] + " is typing…"
	default:
		return "several people are typing…"
	}
}

func (p *Presence) upsertSelf(ctx context.Context, fields store.Fields) {
	if p.room == "" || p.self == "" {
		return
	}
	fields["user"] = p.self
	fields["updatedAt"] = store.ServerTimestamp
	bestEffort("presence", p.store.UpsertMerge(ctx, presencePath(p.room), p.self, fields))
}

func presenceFromDoc(doc store.Doc) PresenceRecord {
	record := PresenceRecord{Status: StatusOffline}
	if user, ok := store.FieldString(doc.Fields["user"]); ok {
		record.User = user
	} else {
		record.User = doc.ID
	}
	if status, ok := store.FieldString(doc.Fields["status"]); ok {
		record.Status = Status(status)
	}
	if typing, ok := doc.Fields["typing"].(bool); ok {
		record.Typing = typing
	}
	if updated, ok := store.FieldTime(doc.Fields["updatedAt"]); ok {
		record.UpdatedAt = updated
	}
	return record
}
