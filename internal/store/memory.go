package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. It applies every write synchronously
// and delivers the resulting snapshot to subscribers before the write
// call returns, which makes it deterministic enough for the sync-core
// tests. Local mode uses it as the backing store of an in-process
// server.
type Memory struct {
	mu          sync.Mutex
	collections map[string]*memCollection

	// Now supplies server-assigned timestamps. Tests override it for
	// deterministic clocks; it defaults to time.Now.
	Now func() time.Time
}

type memCollection struct {
	docs  map[string]Fields
	order map[string]int // insertion sequence, for stable ordering
	seq   int
	subs  map[*memSub]struct{}
}

type memSub struct {
	ch      chan Snapshot
	orderBy string
}

func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]*memCollection),
		Now:         time.Now,
	}
}

func (m *Memory) collection(path string) *memCollection {
	coll, ok := m.collections[path]
	if !ok {
		coll = &memCollection{
			docs:  make(map[string]Fields),
			order: make(map[string]int),
			subs:  make(map[*memSub]struct{}),
		}
		m.collections[path] = coll
	}
	return coll
}

func (m *Memory) Subscribe(path, orderBy string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collection(path)
	sub := &memSub{ch: make(chan Snapshot, 16), orderBy: orderBy}
	coll.subs[sub] = struct{}{}

	// initial snapshot: everything reported as Added
	snapshot := coll.snapshotLocked(orderBy)
	changes := make([]Change, 0, len(snapshot.Docs))
	for _, doc := range snapshot.Docs {
		changes = append(changes, Change{Kind: Added, Doc: doc})
	}
	snapshot.Changes = changes
	sub.deliver(snapshot)

	return &Subscription{
		C: sub.ch,
		cancel: func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, live := coll.subs[sub]; live {
				delete(coll.subs, sub)
				close(sub.ch)
			}
		},
	}, nil
}

func (m *Memory) Add(ctx context.Context, path string, fields Fields) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	coll := m.collection(path)
	resolved := resolveServerTimestamps(cloneFields(fields), m.Now())
	coll.docs[id] = resolved
	coll.seq++
	coll.order[id] = coll.seq
	coll.broadcastLocked(Change{Kind: Added, Doc: Doc{ID: id, Fields: cloneFields(resolved)}})
	return id, nil
}

func (m *Memory) UpsertMerge(ctx context.Context, path, id string, fields Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collection(path)
	kind := Modified
	existing, ok := coll.docs[id]
	if !ok {
		kind = Added
		existing = make(Fields)
		coll.seq++
		coll.order[id] = coll.seq
	}
	merged := mergeFields(existing, resolveServerTimestamps(cloneFields(fields), m.Now()))
	coll.docs[id] = merged
	coll.broadcastLocked(Change{Kind: kind, Doc: Doc{ID: id, Fields: cloneFields(merged)}})
	return nil
}

func (m *Memory) Delete(ctx context.Context, path, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collection(path)
	fields, ok := coll.docs[id]
	if !ok {
		return nil
	}
	delete(coll.docs, id)
	delete(coll.order, id)
	coll.broadcastLocked(Change{Kind: Removed, Doc: Doc{ID: id, Fields: cloneFields(fields)}})
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, coll := range m.collections {
		for sub := range coll.subs {
			close(sub.ch)
		}
		coll.subs = make(map[*memSub]struct{})
	}
	return nil
}

// snapshotLocked builds the ordered full-document view.
func (c *memCollection) snapshotLocked(orderBy string) Snapshot {
	docs := make([]Doc, 0, len(c.docs))
	for id, fields := range c.docs {
		docs = append(docs, Doc{ID: id, Fields: cloneFields(fields)})
	}
	// insertion order first so the orderBy sort has a stable base
	sortByInsertion(docs, c.order)
	orderDocs(docs, orderBy)
	return Snapshot{Docs: docs}
}

func (c *memCollection) broadcastLocked(change Change) {
	for sub := range c.subs {
		snapshot := c.snapshotLocked(sub.orderBy)
		snapshot.Changes = []Change{change}
		sub.deliver(snapshot)
	}
}

func (s *memSub) deliver(snapshot Snapshot) {
	deliverLossy(s.ch, snapshot)
}

func sortByInsertion(docs []Doc, order map[string]int) {
	for i := 1; i < len(docs); i++ {
		for j := i; j > 0 && order[docs[j].ID] < order[docs[j-1].ID]; j-- {
			docs[j], docs[j-1] = docs[j-1], docs[j]
		}
	}
}
