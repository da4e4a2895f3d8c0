package relay

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics holds the relay counters exported on /metrics.
type Metrics struct {
	activeConns   atomic.Int64
	connsTotal    atomic.Uint64
	rejected      atomic.Uint64
	linesIn       atomic.Uint64
	broadcasts    atomic.Uint64
	directReplies atomic.Uint64
	lagged        atomic.Uint64
	uploads       atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
	m.connsTotal.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) IncRejected() {
	m.rejected.Add(1)
}

func (m *Metrics) IncLineIn() {
	m.linesIn.Add(1)
}

func (m *Metrics) IncBroadcast() {
	m.broadcasts.Add(1)
}

func (m *Metrics) IncDirectReply() {
	m.directReplies.Add(1)
}

// AddLagged counts messages a slow connection never saw.
func (m *Metrics) AddLagged(n int) {
	if n > 0 {
		m.lagged.Add(uint64(n))
	}
}

func (m *Metrics) IncUpload() {
	m.uploads.Add(1)
}

// ActiveConns is the number of connections currently being served.
func (m *Metrics) ActiveConns() int64 {
	return m.activeConns.Load()
}

// Snapshot returns the counters keyed by their exported names.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"active_connections":   m.activeConns.Load(),
		"connections_total":    m.connsTotal.Load(),
		"rejected_total":       m.rejected.Load(),
		"lines_in_total":       m.linesIn.Load(),
		"broadcasts_total":     m.broadcasts.Load(),
		"direct_replies_total": m.directReplies.Load(),
		"lagged_total":         m.lagged.Load(),
		"uploads_total":        m.uploads.Load(),
	}
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}
