package store

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"understory/internal/storage"
)

const (
	serverWriteWait  = 10 * time.Second
	serverPongWait   = 60 * time.Second
	serverPingPeriod = (serverPongWait * 9) / 10
	serverMaxMsgSize = 64 * 1024

	writeLimitWindow = 3 * time.Second
	writeLimitBurst  = 30
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// the server is meant to sit behind a private address or TLS
		// proxy; origin is not a trust boundary here
		return true
	},
}

// Server holds every collection, fans mutations out to subscribers,
// assigns document IDs and server timestamps, and persists documents
// through the SQLite layer. It is the authoritative side of the wire
// protocol in wire.go.
type Server struct {
	mu          sync.Mutex
	collections map[string]*serverCollection
	db          *storage.Store // nil in pure in-memory deployments
	now         func() time.Time
	metrics     *Metrics
	limiter     *RateLimiter
}

type serverCollection struct {
	docs   map[string]Fields
	order  map[string]int
	seq    int
	loaded bool
	subs   map[*serverSub]struct{}
}

type serverSub struct {
	conn    *serverConn
	subID   int64
	orderBy string
}

// NewServer creates a store server. db may be nil, in which case
// documents live only in memory.
func NewServer(db *storage.Store) *Server {
	return &Server{
		collections: make(map[string]*serverCollection),
		db:          db,
		now:         time.Now,
		metrics:     NewMetrics(),
		limiter:     NewRateLimiter(writeLimitBurst, writeLimitWindow),
	}
}

// Metrics exposes the server's counters for the /metrics handler.
func (s *Server) Metrics() *Metrics { return s.metrics }

// collectionLocked returns the named collection, loading persisted
// documents on first touch.
func (s *Server) collectionLocked(path string) *serverCollection {
	coll, ok := s.collections[path]
	if ok {
		return coll
	}
	coll = &serverCollection{
		docs:  make(map[string]Fields),
		order: make(map[string]int),
		subs:  make(map[*serverSub]struct{}),
	}
	s.collections[path] = coll
	if s.db != nil {
		rows, err := s.db.ListDocs(context.Background(), path)
		if err != nil {
			log.Printf("store: load %s: %v", path, err)
		}
		for _, row := range rows {
			var fields Fields
			if err := json.Unmarshal(row.Fields, &fields); err != nil {
				log.Printf("store: decode %s/%s: %v", path, row.ID, err)
				continue
			}
			coll.seq++
			coll.docs[row.ID] = fields
			coll.order[row.ID] = coll.seq
		}
	}
	coll.loaded = true
	return coll
}

// ServeWS upgrades an HTTP request into a store protocol connection.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	ws, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		log.Printf("store: upgrade error: %v", err)
		return
	}
	conn := &serverConn{
		server: s,
		ws:     ws,
		send:   make(chan []byte, 256),
		subs:   make(map[int64]*serverSub),
		key:    request.RemoteAddr,
	}
	s.metrics.IncConn()
	go conn.writePump()
	go conn.readPump()
}

// apply executes one mutation frame and returns the ack. Fan-out to
// subscribers happens before the ack is queued, so a client observing
// its own ack has already been offered the snapshot.
func (s *Server) apply(conn *serverConn, request frame) frame {
	ack := frame{Op: opAck, Seq: request.Seq}

	if request.Op != opSubscribe && request.Op != opUnsubscribe && !s.limiter.Allow(conn.key) {
		ack.Error = "rate limited"
		return ack
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch request.Op {
	case opSubscribe:
		coll := s.collectionLocked(request.Path)
		sub := &serverSub{conn: conn, subID: request.Sub, orderBy: request.OrderBy}
		coll.subs[sub] = struct{}{}
		conn.addSub(request.Sub, sub, request.Path)
		s.metrics.IncSubscription()
		ack.OK = true
		// initial snapshot with everything marked Added
		snapshot := serverSnapshotLocked(coll, request.OrderBy)
		for _, doc := range snapshot.Docs {
			snapshot.Changes = append(snapshot.Changes, Change{Kind: Added, Doc: doc})
		}
		conn.pushSnapshot(request.Sub, snapshot)

	case opUnsubscribe:
		if sub, path := conn.removeSub(request.Sub); sub != nil {
			if coll, ok := s.collections[path]; ok {
				delete(coll.subs, sub)
			}
		}
		ack.OK = true

	case opAdd:
		coll := s.collectionLocked(request.Path)
		id := uuid.NewString()
		fields := resolveServerTimestamps(request.Fields, s.now())
		coll.seq++
		coll.docs[id] = fields
		coll.order[id] = coll.seq
		s.persistLocked(request.Path, id, fields)
		s.fanOutLocked(request.Path, coll, Change{Kind: Added, Doc: Doc{ID: id, Fields: fields}})
		ack.OK = true
		ack.ID = id
		s.metrics.IncWrite()

	case opMerge:
		coll := s.collectionLocked(request.Path)
		kind := Modified
		existing, ok := coll.docs[request.ID]
		if !ok {
			kind = Added
			existing = make(Fields)
			coll.seq++
			coll.order[request.ID] = coll.seq
		}
		merged := mergeFields(existing, resolveServerTimestamps(request.Fields, s.now()))
		coll.docs[request.ID] = merged
		s.persistLocked(request.Path, request.ID, merged)
		s.fanOutLocked(request.Path, coll, Change{Kind: kind, Doc: Doc{ID: request.ID, Fields: merged}})
		ack.OK = true
		ack.ID = request.ID
		s.metrics.IncWrite()

	case opDelete:
		coll := s.collectionLocked(request.Path)
		fields, ok := coll.docs[request.ID]
		if ok {
			delete(coll.docs, request.ID)
			delete(coll.order, request.ID)
			if s.db != nil {
				if err := s.db.DeleteDoc(context.Background(), request.Path, request.ID); err != nil {
					log.Printf("store: delete %s/%s: %v", request.Path, request.ID, err)
				}
			}
			s.fanOutLocked(request.Path, coll, Change{Kind: Removed, Doc: Doc{ID: request.ID, Fields: fields}})
		}
		ack.OK = true
		s.metrics.IncWrite()

	default:
		ack.Error = "unknown op " + request.Op
	}
	return ack
}

func (s *Server) persistLocked(path, id string, fields Fields) {
	if s.db == nil {
		return
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		log.Printf("store: encode %s/%s: %v", path, id, err)
		return
	}
	if err := s.db.PutDoc(context.Background(), path, id, encoded); err != nil {
		log.Printf("store: persist %s/%s: %v", path, id, err)
	}
}

func (s *Server) fanOutLocked(path string, coll *serverCollection, change Change) {
	for sub := range coll.subs {
		snapshot := serverSnapshotLocked(coll, sub.orderBy)
		snapshot.Changes = []Change{change}
		sub.conn.pushSnapshot(sub.subID, snapshot)
		s.metrics.IncFanOut()
	}
}

func serverSnapshotLocked(coll *serverCollection, orderBy string) Snapshot {
	docs := make([]Doc, 0, len(coll.docs))
	for id, fields := range coll.docs {
		docs = append(docs, Doc{ID: id, Fields: fields})
	}
	sortByInsertion(docs, coll.order)
	orderDocs(docs, orderBy)
	return Snapshot{Docs: docs}
}

// dropConn detaches every subscription a closed connection held.
func (s *Server) dropConn(conn *serverConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, path := range conn.subPaths() {
		if coll, ok := s.collections[path]; ok {
			for sub := range coll.subs {
				if sub.conn == conn {
					delete(coll.subs, sub)
				}
			}
		}
	}
	s.metrics.DecConn()
}

// serverConn wraps one websocket peer with a buffered send queue, in
// the shape of the chat hub's client pumps.
type serverConn struct {
	server *Server
	ws     *websocket.Conn
	send   chan []byte
	key    string

	mu    sync.Mutex
	subs  map[int64]*serverSub
	paths map[int64]string
}

func (c *serverConn) addSub(id int64, sub *serverSub, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paths == nil {
		c.paths = make(map[int64]string)
	}
	c.subs[id] = sub
	c.paths[id] = path
}

func (c *serverConn) removeSub(id int64) (*serverSub, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := c.subs[id]
	path := c.paths[id]
	delete(c.subs, id)
	delete(c.paths, id)
	return sub, path
}

func (c *serverConn) subPaths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := make([]string, 0, len(c.paths))
	for _, path := range c.paths {
		paths = append(paths, path)
	}
	return paths
}

func (c *serverConn) pushSnapshot(subID int64, snapshot Snapshot) {
	docs, changes := snapshotToWire(snapshot)
	c.enqueue(frame{Op: opSnapshot, Sub: subID, Docs: docs, Changes: changes})
}

// enqueue serializes a frame onto the send queue, dropping the frame if
// the peer cannot keep up. Snapshots are self-contained, so a dropped
// one is repaired by the next.
func (c *serverConn) enqueue(f frame) {
	encoded, err := json.Marshal(f)
	if err != nil {
		log.Printf("store: encode frame: %v", err)
		return
	}
	select {
	case c.send <- encoded:
	default:
	}
}

func (c *serverConn) readPump() {
	defer func() {
		c.server.dropConn(c)
		close(c.send)
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(serverMaxMsgSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(serverPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(serverPongWait))
	})
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			// normal close or read error; deferred cleanup runs
			return
		}
		var request frame
		if err := json.Unmarshal(payload, &request); err != nil {
			continue
		}
		c.enqueue(c.server.apply(c, request))
	}
}

func (c *serverConn) writePump() {
	ticker := time.NewTicker(serverPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(serverWriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(serverWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
