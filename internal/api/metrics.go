package api

import (
	"sync/atomic"
	"time"

	"github.com/marcus/boardsync/internal/broadcast"
	"github.com/marcus/boardsync/internal/webhook"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime    time.Time
	requests     atomic.Int64
	serverErrors atomic.Int64
	clientErrors atomic.Int64
	mutations    atomic.Int64
	rateLimited  atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds float64         `json:"uptime_seconds"`
	Requests      int64           `json:"requests"`
	ServerErrors  int64           `json:"server_errors"`
	ClientErrors  int64           `json:"client_errors"`
	Mutations     int64           `json:"mutations"`
	RateLimited   int64           `json:"rate_limited"`
	Broadcast     broadcast.Stats `json:"broadcast"`
	Webhook       *webhook.Stats  `json:"webhook,omitempty"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// RecordMutation increments the committed mutation counter.
func (m *Metrics) RecordMutation() {
	m.mutations.Add(1)
}

// RecordRateLimited increments the rejected-by-rate-limit counter.
func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Add(1)
}

// Snapshot returns a point-in-time copy of the metrics together with the
// hub's delivery counters.
func (m *Metrics) Snapshot(hub *broadcast.Hub) MetricsSnapshot {
	snap := MetricsSnapshot{
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		Requests:      m.requests.Load(),
		ServerErrors:  m.serverErrors.Load(),
		ClientErrors:  m.clientErrors.Load(),
		Mutations:     m.mutations.Load(),
		RateLimited:   m.rateLimited.Load(),
	}
	if hub != nil {
		snap.Broadcast = hub.Stats()
	}
	return snap
}
