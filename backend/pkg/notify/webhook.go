package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rfidpay/cardcore/backend/pkg/ledger"
)

type WebhookConfig struct {
	URL         string
	Timeout     time.Duration
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
}

// Webhook POSTs events as JSON from a background worker. Events that do not
// fit in the queue are dropped and counted.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
	logger *slog.Logger
	queue  chan ledger.Event

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
	sent    atomic.Int64
}

func NewWebhook(cfg WebhookConfig, logger *slog.Logger) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "webhook"),
		queue:  make(chan ledger.Event, cfg.QueueSize),
	}
}

// Start runs the delivery worker until Close is called or ctx ends.
func (w *Webhook) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case e, ok := <-w.queue:
				if !ok {
					return
				}
				if err := w.deliver(ctx, e); err != nil {
					w.logger.Error("webhook delivery failed", "event", e.Type, "card_id", e.CardID, "error", err)
					continue
				}
				w.sent.Add(1)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (w *Webhook) Publish(_ context.Context, e ledger.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- e:
	default:
		w.dropped.Add(1)
		w.logger.Warn("webhook queue full, event dropped", "event", e.Type, "card_id", e.CardID)
	}
}

// Close stops accepting events and waits for the queue to drain.
func (w *Webhook) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Webhook) Dropped() int64 { return w.dropped.Load() }
func (w *Webhook) Sent() int64    { return w.sent.Load() }

func (w *Webhook) deliver(ctx context.Context, e ledger.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		retry, err := w.post(ctx, e, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == w.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * w.cfg.Backoff):
		}
	}
	return lastErr
}

// post sends one attempt and reports whether a failure is worth retrying.
func (w *Webhook) post(ctx context.Context, e ledger.Event, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", string(e.Type))

	resp, err := w.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("failed to post event: %w", err)
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("webhook responded %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("webhook rejected event with %d", resp.StatusCode)
	}
	return false, nil
}
