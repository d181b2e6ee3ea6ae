package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	remoteWriteWait  = 10 * time.Second
	remotePongWait   = 60 * time.Second
	remotePingPeriod = (remotePongWait * 9) / 10
	remoteAckWait    = 5 * time.Second
)

// ErrClosed is returned for operations on a Remote whose connection has
// gone away.
var ErrClosed = errors.New("store: connection closed")

// Remote is a Store backed by a websocket connection to a Server.
// Writes are request/response frames matched by sequence number;
// snapshots are pushed by the server per live subscription.
type Remote struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	seq     int64
	subSeq  int64
	pending map[int64]chan frame
	subs    map[int64]*remoteSub
	closed  bool
}

type remoteSub struct {
	ch chan Snapshot
}

// DialRemote connects to a store server at a ws:// or wss:// URL and
// starts the read and keepalive loops.
func DialRemote(storeURL string) (*Remote, error) {
	conn, _, err := websocket.DefaultDialer.Dial(storeURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("store: dial %s: %w", storeURL, err)
	}
	remote := &Remote{
		conn:    conn,
		pending: make(map[int64]chan frame),
		subs:    make(map[int64]*remoteSub),
	}
	go remote.readPump()
	go remote.pingLoop()
	return remote, nil
}

func (r *Remote) Subscribe(path, orderBy string) (*Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.subSeq++
	subID := r.subSeq
	sub := &remoteSub{ch: make(chan Snapshot, 16)}
	r.subs[subID] = sub
	r.mu.Unlock()

	_, err := r.roundTrip(context.Background(), frame{Op: opSubscribe, Sub: subID, Path: path, OrderBy: orderBy})
	if err != nil {
		r.dropSub(subID)
		return nil, err
	}
	return &Subscription{
		C: sub.ch,
		cancel: func() {
			// best effort; the connection may already be gone
			_, _ = r.roundTrip(context.Background(), frame{Op: opUnsubscribe, Sub: subID})
			r.dropSub(subID)
		},
	}, nil
}

func (r *Remote) Add(ctx context.Context, path string, fields Fields) (string, error) {
	ack, err := r.roundTrip(ctx, frame{Op: opAdd, Path: path, Fields: fields})
	if err != nil {
		return "", err
	}
	return ack.ID, nil
}

func (r *Remote) UpsertMerge(ctx context.Context, path, id string, fields Fields) error {
	_, err := r.roundTrip(ctx, frame{Op: opMerge, Path: path, ID: id, Fields: fields})
	return err
}

func (r *Remote) Delete(ctx context.Context, path, id string) error {
	_, err := r.roundTrip(ctx, frame{Op: opDelete, Path: path, ID: id})
	return err
}

func (r *Remote) Close() error {
	r.writeMu.Lock()
	_ = r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	r.writeMu.Unlock()
	err := r.conn.Close()
	r.teardown()
	return err
}

// roundTrip sends one frame and waits for the matching ack.
func (r *Remote) roundTrip(ctx context.Context, request frame) (frame, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return frame{}, ErrClosed
	}
	r.seq++
	request.Seq = r.seq
	reply := make(chan frame, 1)
	r.pending[request.Seq] = reply
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, request.Seq)
		r.mu.Unlock()
	}()

	if err := r.writeFrame(request); err != nil {
		return frame{}, fmt.Errorf("store: write %s: %w", request.Op, err)
	}

	timeout := time.NewTimer(remoteAckWait)
	defer timeout.Stop()
	select {
	case ack, ok := <-reply:
		if !ok {
			return frame{}, ErrClosed
		}
		if !ack.OK {
			return frame{}, fmt.Errorf("store: %s rejected: %s", request.Op, ack.Error)
		}
		return ack, nil
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-timeout.C:
		return frame{}, fmt.Errorf("store: %s: no ack within %s", request.Op, remoteAckWait)
	}
}

func (r *Remote) writeFrame(f frame) error {
	encoded, err := json.Marshal(f)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(remoteWriteWait))
	return r.conn.WriteMessage(websocket.TextMessage, encoded)
}

func (r *Remote) readPump() {
	defer r.teardown()
	_ = r.conn.SetReadDeadline(time.Now().Add(remotePongWait))
	r.conn.SetPongHandler(func(string) error {
		return r.conn.SetReadDeadline(time.Now().Add(remotePongWait))
	})
	for {
		_, payload, err := r.conn.ReadMessage()
		if err != nil {
			// normal close or a dead connection; teardown wakes waiters
			return
		}
		var incoming frame
		if err := json.Unmarshal(payload, &incoming); err != nil {
			continue
		}
		switch incoming.Op {
		case opAck:
			r.mu.Lock()
			reply := r.pending[incoming.Seq]
			r.mu.Unlock()
			if reply != nil {
				select {
				case reply <- incoming:
				default:
				}
			}
		case opSnapshot:
			r.mu.Lock()
			sub := r.subs[incoming.Sub]
			r.mu.Unlock()
			if sub != nil {
				deliverLossy(sub.ch, snapshotFromWire(incoming.Docs, incoming.Changes))
			}
		}
	}
}

func (r *Remote) pingLoop() {
	ticker := time.NewTicker(remotePingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}
		r.writeMu.Lock()
		_ = r.conn.SetWriteDeadline(time.Now().Add(remoteWriteWait))
		err := r.conn.WriteMessage(websocket.PingMessage, nil)
		r.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// teardown marks the connection dead, fails pending round trips, and
// closes every subscription channel exactly once.
func (r *Remote) teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for seq, reply := range r.pending {
		close(reply)
		delete(r.pending, seq)
	}
	for id, sub := range r.subs {
		close(sub.ch)
		delete(r.subs, id)
	}
}

func (r *Remote) dropSub(subID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[subID]; ok {
		delete(r.subs, subID)
		close(sub.ch)
	}
}

// deliverLossy pushes a snapshot, evicting the oldest pending delivery
// when the subscriber is behind. Snapshots are self-contained, so the
// subscriber converges on whatever it reads last.
func deliverLossy(ch chan Snapshot, snapshot Snapshot) {
	for {
		select {
		case ch <- snapshot:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
