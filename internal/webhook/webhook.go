// Package webhook forwards committed board events to an external HTTP
// endpoint. Delivery is best-effort: events are batched, signed and POSTed,
// and dropped when the queue is full or the endpoint fails.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/marcus/boardsync/internal/events"
)

const (
	DefaultQueue         = 256
	DefaultBatchSize     = 50
	DefaultFlushInterval = time.Second

	dispatchTimeout = 10 * time.Second
)

// Payload is the webhook POST body.
type Payload struct {
	Timestamp string            `json:"timestamp"`
	Events    []events.Envelope `json:"events"`
}

// Stats are the sink's delivery counters.
type Stats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

// Sink queues events and delivers them in batches from Run.
type Sink struct {
	URL           string
	Secret        string
	Client        *http.Client
	BatchSize     int
	FlushInterval time.Duration

	queue   chan events.Envelope
	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewSink creates a sink for url holding at most queue undelivered events.
// A non-positive queue uses DefaultQueue.
func NewSink(url, secret string, queue int) *Sink {
	if queue <= 0 {
		queue = DefaultQueue
	}
	return &Sink{
		URL:           url,
		Secret:        secret,
		Client:        &http.Client{Timeout: dispatchTimeout},
		BatchSize:     DefaultBatchSize,
		FlushInterval: DefaultFlushInterval,
		queue:         make(chan events.Envelope, queue),
	}
}

// Publish enqueues ev without blocking. A full queue drops the event.
func (s *Sink) Publish(ev events.Envelope) {
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
		slog.Debug("webhook: queue full, dropping event", "type", ev.Type)
	}
}

// Stats returns the delivery counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Sent:    s.sent.Load(),
		Failed:  s.failed.Load(),
		Dropped: s.dropped.Load(),
	}
}

// Run delivers queued events until ctx ends, then flushes what is left.
func (s *Sink) Run(ctx context.Context) {
	interval := s.FlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	size := s.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var batch []events.Envelope
	flush := func() {
		if len(batch) == 0 {
			return
		}
		dctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		p := Payload{Timestamp: time.Now().UTC().Format(time.RFC3339), Events: batch}
		if err := Dispatch(dctx, s.Client, s.URL, s.Secret, p); err != nil {
			s.failed.Add(int64(len(batch)))
			slog.Warn("webhook: delivery failed", "events", len(batch), "err", err)
		} else {
			s.sent.Add(int64(len(batch)))
		}
		batch = nil
	}

	for {
		select {
		case ev := <-s.queue:
			batch = append(batch, ev)
			if len(batch) >= size {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case ev := <-s.queue:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Sign returns the hex HMAC-SHA256 of "<timestamp>.<body>".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Dispatch performs a synchronous HTTP POST to the webhook URL.
// Returns nil on success (2xx status).
func Dispatch(ctx context.Context, client *http.Client, url, secret string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "boardsync-webhook/1")

	unixTS := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set("X-Board-Timestamp", unixTS)
	if secret != "" {
		req.Header.Set("X-Board-Signature", "sha256="+Sign(secret, unixTS, body))
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", url, resp.StatusCode)
	}
	return nil
}
