// Package notify delivers fire-and-forget notifications about claim
// outcomes. Delivery failures are logged, never returned.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/http/client"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
)

// Kind names a notification.
type Kind string

const (
	KindSponsorshipVerified Kind = "sponsorship_verified"
	KindSponsorshipRejected Kind = "sponsorship_rejected"
	KindCheckin             Kind = "checkin"
)

// Dispatcher sends a notification without blocking the caller on delivery.
type Dispatcher interface {
	Notify(ctx context.Context, kind Kind, subject string, payload map[string]any)
}

// LogDispatcher writes notifications to the log.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logutil.NoopIfNil(logger)}
}

func (d *LogDispatcher) Notify(_ context.Context, kind Kind, subject string, payload map[string]any) {
	d.logger.Info("notification", "kind", kind, "subject", subject, "payload", payload)
}

// Message is the webhook request body.
type Message struct {
	Kind    Kind           `json:"kind"`
	Subject string         `json:"subject"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  int64          `json:"sent_at"`
}

// WebhookDispatcher POSTs each notification as JSON from a background
// goroutine. Close waits for in-flight deliveries.
type WebhookDispatcher struct {
	client  client.JSONClient
	url     string
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewWebhookDispatcher(c client.JSONClient, url string, timeout time.Duration, logger *slog.Logger) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookDispatcher{
		client:  c,
		url:     url,
		timeout: timeout,
		logger:  logutil.NoopIfNil(logger),
		now:     time.Now,
	}
}

func (d *WebhookDispatcher) Notify(ctx context.Context, kind Kind, subject string, payload map[string]any) {
	msg := Message{Kind: kind, Subject: subject, Payload: payload, SentAt: d.now().Unix()}
	// Delivery outlives the request that triggered it.
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		if err := d.client.PostJSON(ctx, d.url, nil, msg, nil); err != nil {
			d.logger.Warn("webhook delivery failed", "kind", kind, "subject", subject, "error", err)
		}
	}()
}

// Close waits for pending deliveries.
func (d *WebhookDispatcher) Close() error {
	d.wg.Wait()
	return nil
}

// Multi fans a notification out to several dispatchers.
type Multi []Dispatcher

func (m Multi) Notify(ctx context.Context, kind Kind, subject string, payload map[string]any) {
	for _, d := range m {
		d.Notify(ctx, kind, subject, payload)
	}
}

var (
	_ Dispatcher = (*LogDispatcher)(nil)
	_ Dispatcher = (*WebhookDispatcher)(nil)
	_ Dispatcher = Multi(nil)
)
