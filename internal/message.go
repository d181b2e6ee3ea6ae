package internal

import (
	"fmt"
	"time"

	"understory/internal/store"
)

// Message is one entry in a room's timeline. CreatedAt stays nil until
// the server assigns it and is immutable afterwards. SeenBy and SeenAt
// only ever grow; concurrent receipt unions from multiple clients merge
// key-wise in the store.
type Message struct {
	ID        string
	Sender    string
	Body      string
	CreatedAt *time.Time
	SeenBy    map[string]bool
	SeenAt    map[string]time.Time
}

// SeenByOther reports whether anyone besides the author has the
// message in their seen set.
func (m Message) SeenByOther() bool {
	for user := range m.SeenBy {
		if user != m.Sender {
			return true
		}
	}
	return false
}

func messagesPath(room string) string {
	return fmt.Sprintf("rooms/%s/messages", room)
}

func presencePath(room string) string {
	return fmt.Sprintf("rooms/%s/presence", room)
}

func ringsPath(room string) string {
	return fmt.Sprintf("rooms/%s/rings", room)
}

// newMessageFields builds the store payload for a send: the author is
// the first member of the seen set and their seen time is assigned by
// the server along with createdAt.
func newMessageFields(sender, body string) store.Fields {
	return store.Fields{
		"sender":    sender,
		"body":      body,
		"createdAt": store.ServerTimestamp,
		"seenBy":    map[string]any{sender: true},
		"seenAt":    map[string]any{sender: store.ServerTimestamp},
	}
}

// messageFromDoc decodes a store document. Missing or malformed fields
// degrade to zero values; a message is never dropped for being
// incomplete.
func messageFromDoc(doc store.Doc) Message {
	message := Message{
		ID:     doc.ID,
		SeenBy: make(map[string]bool),
		SeenAt: make(map[string]time.Time),
	}
	if sender, ok := store.FieldString(doc.Fields["sender"]); ok {
		message.Sender = sender
	}
	if body, ok := store.FieldString(doc.Fields["body"]); ok {
		message.Body = body
	}
	if created, ok := store.FieldTime(doc.Fields["createdAt"]); ok {
		message.CreatedAt = &created
	}
	if seenBy, ok := doc.Fields["seenBy"].(map[string]any); ok {
		for user, marked := range seenBy {
			if flag, ok := marked.(bool); ok && flag {
				message.SeenBy[user] = true
			}
		}
	}
	if seenAt, ok := doc.Fields["seenAt"].(map[string]any); ok {
		for user, raw := range seenAt {
			if ts, ok := store.FieldTime(raw); ok {
				message.SeenAt[user] = ts
			}
		}
	}
	return message
}
