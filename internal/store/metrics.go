package store

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics counts store server activity. Exposed as a JSON endpoint so a
// deployment can be eyeballed with curl.
type Metrics struct {
	writes        atomic.Uint64
	fanOuts       atomic.Uint64
	subscriptions atomic.Uint64
	activeConns   atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncWrite()        { m.writes.Add(1) }
func (m *Metrics) IncFanOut()       { m.fanOuts.Add(1) }
func (m *Metrics) IncSubscription() { m.subscriptions.Add(1) }
func (m *Metrics) IncConn()         { m.activeConns.Add(1) }
func (m *Metrics) DecConn()         { m.activeConns.Add(-1) }

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"writes_total":        m.writes.Load(),
		"fanouts_total":       m.fanOuts.Load(),
		"subscriptions_total": m.subscriptions.Load(),
		"active_connections":  m.activeConns.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
