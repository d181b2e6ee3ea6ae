// Package store defines the realtime collection store the sync core is
// built on: ordered, push-subscribed collections of JSON-ish documents
// with append-only adds, field-merging upserts, deletes, and
// server-assigned timestamps. Two implementations live here: Memory
// (in-process, used by tests and local mode) and Remote (a websocket
// client backed by the Server in this package).
package store

import (
	"context"
	"sort"
	"time"
)

// ServerTimestamp marks a field value to be replaced with the store's
// clock at the moment the write is applied. It survives JSON encoding,
// so the Remote client can pass it through to the server unchanged.
const ServerTimestamp = "\x00server-timestamp"

// Fields is the mutable payload of a document. Values are restricted to
// what JSON round-trips: strings, bools, float64, nested
// map[string]any, and time.Time (encoded as RFC3339).
type Fields map[string]any

// Doc is one document in a collection.
type Doc struct {
	ID     string
	Fields Fields
}

type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

// Change describes one document mutation observed by a subscription.
type Change struct {
	Kind ChangeKind
	Doc  Doc
}

// Snapshot is one delivery on a subscription: the full ordered document
// list plus the changes since the previous delivery. The first snapshot
// after Subscribe lists every existing document as Added.
type Snapshot struct {
	Docs    []Doc
	Changes []Change
}

// Subscription is a live feed of snapshots for one collection path.
// Cancel releases it; the channel is closed afterwards. A slow consumer
// may miss intermediate snapshots, but each snapshot carries the full
// document list, so the latest delivery is always authoritative.
type Subscription struct {
	C      <-chan Snapshot
	cancel func()
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s != nil && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Store is the collection-store contract the sync core depends on. All
// writes are at-most-once; delivery to subscribers is at-least-once
// with per-field monotonic merge semantics for map-valued fields.
type Store interface {
	// Subscribe opens a push feed for path, ordered ascending by the
	// named field. Documents missing the order field sort last, stable
	// by insertion order.
	Subscribe(path, orderBy string) (*Subscription, error)

	// Add appends a new document and returns its server-assigned ID.
	Add(ctx context.Context, path string, fields Fields) (string, error)

	// UpsertMerge creates or updates a document, merging fields into
	// the existing ones. Map-valued fields merge key-wise so that
	// concurrent unions commute; scalar fields are last-write-wins.
	UpsertMerge(ctx context.Context, path, id string, fields Fields) error

	// Delete removes a document. Deleting a missing document is not an
	// error.
	Delete(ctx context.Context, path, id string) error

	Close() error
}

// mergeFields merges src into dst, recursing into map values so that
// set-like fields (seen markers, receipts) only ever grow keys.
func mergeFields(dst, src Fields) Fields {
	if dst == nil {
		dst = make(Fields, len(src))
	}
	for key, value := range src {
		srcMap, srcIsMap := asMap(value)
		dstMap, dstIsMap := asMap(dst[key])
		if srcIsMap && dstIsMap {
			dst[key] = map[string]any(mergeFields(Fields(dstMap), Fields(srcMap)))
			continue
		}
		dst[key] = value
	}
	return dst
}

func asMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case Fields:
		return typed, true
	default:
		return nil, false
	}
}

// resolveServerTimestamps replaces every ServerTimestamp sentinel in
// fields (including nested maps) with now.
func resolveServerTimestamps(fields Fields, now time.Time) Fields {
	for key, value := range fields {
		if value == ServerTimestamp {
			fields[key] = now
			continue
		}
		if nested, ok := asMap(value); ok {
			fields[key] = map[string]any(resolveServerTimestamps(Fields(nested), now))
		}
	}
	return fields
}

// cloneFields deep-copies fields so snapshots handed to subscribers
// never alias store-internal state.
func cloneFields(fields Fields) Fields {
	if fields == nil {
		return nil
	}
	out := make(Fields, len(fields))
	for key, value := range fields {
		if nested, ok := asMap(value); ok {
			out[key] = map[string]any(cloneFields(Fields(nested)))
			continue
		}
		out[key] = value
	}
	return out
}

// FieldTime decodes a field value as a timestamp. It accepts time.Time
// (Memory store) and RFC3339 strings (anything that crossed JSON).
func FieldTime(value any) (time.Time, bool) {
	switch typed := value.(type) {
	case time.Time:
		return typed, true
	case string:
		if typed == ServerTimestamp {
			return time.Time{}, false
		}
		parsed, err := time.Parse(time.RFC3339Nano, typed)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// FieldString decodes a field value as a string.
func FieldString(value any) (string, bool) {
	s, ok := value.(string)
	return s, ok
}

// orderDocs sorts docs ascending by the orderBy field. Documents
// without a comparable value keep their relative insertion order and
// sort after every document that has one.
func orderDocs(docs []Doc, orderBy string) {
	if orderBy == "" {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return orderLess(docs[i], docs[j], orderBy)
	})
}

func orderLess(left, right Doc, orderBy string) bool {
	leftTime, leftIsTime := FieldTime(left.Fields[orderBy])
	rightTime, rightIsTime := FieldTime(right.Fields[orderBy])
	if leftIsTime && rightIsTime {
		return leftTime.Before(rightTime)
	}
	if leftIsTime != rightIsTime {
		// a document still waiting for its server timestamp sorts last
		return leftIsTime
	}
	leftString, leftOK := plainString(left.Fields[orderBy])
	rightString, rightOK := plainString(right.Fields[orderBy])
	if leftOK && rightOK {
		return leftString < rightString
	}
	if leftOK != rightOK {
		return leftOK
	}
	return false
}

func plainString(value any) (string, bool) {
	s, ok := value.(string)
	if !ok || s == ServerTimestamp {
		return "", false
	}
	return s, true
}
