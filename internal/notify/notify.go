// Package notify delivers best-effort operator notifications. Delivery never
// blocks the caller and failures are only logged.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"alpha-mirror/internal/observability"
)

// Kind groups notifications.
type Kind string

const (
	KindBuy       Kind = "buy"
	KindSell      Kind = "sell"
	KindMilestone Kind = "milestone"
	KindPromotion Kind = "promotion"
	KindDeferred  Kind = "deferred"
	KindError     Kind = "error"
	KindHeartbeat Kind = "heartbeat"
)

// Message is one notification.
type Message struct {
	Kind   Kind              `json:"kind"`
	Text   string            `json:"text"`
	Fields map[string]string `json:"fields,omitempty"`
	Time   time.Time         `json:"time"`
}

// Notifier accepts messages without blocking.
type Notifier interface {
	Notify(msg Message)
}

// Sender delivers one message synchronously.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Nop discards messages.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(Message) {}

// LogSender writes messages to a logger.
type LogSender struct {
	Log logrus.FieldLogger
}

// Send implements Sender.
func (s LogSender) Send(_ context.Context, msg Message) error {
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	fields := logrus.Fields{"kind": msg.Kind}
	for k, v := range msg.Fields {
		fields[k] = v
	}
	log.WithFields(fields).Info(msg.Text)
	return nil
}

// Webhook posts messages as JSON.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a Webhook sender.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

// Send implements Sender.
func (w *Webhook) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Multi sends to every sender, returning the first error.
type Multi []Sender

// Send implements Sender.
func (m Multi) Send(ctx context.Context, msg Message) error {
	var first error
	for _, s := range m {
		if err := s.Send(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Options configures an Async notifier.
type Options struct {
	Sender     Sender
	RatePerSec float64
	Burst      int
	QueueSize  int
	Logger     logrus.FieldLogger
}

// Async queues messages and delivers them from a single worker at a bounded
// rate. A full queue drops the message.
type Async struct {
	sender  Sender
	limiter *rate.Limiter
	queue   chan Message
	log     logrus.FieldLogger
}

var _ Notifier = (*Async)(nil)

// NewAsync creates an Async notifier. Call Run to start delivery.
func NewAsync(opts Options) *Async {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Sender == nil {
		opts.Sender = LogSender{Log: opts.Logger}
	}
	return &Async{
		sender:  opts.Sender,
		limiter: rate.NewLimiter(limit, opts.Burst),
		queue:   make(chan Message, opts.QueueSize),
		log:     opts.Logger,
	}
}

// Notify enqueues msg or drops it when the queue is full.
func (a *Async) Notify(msg Message) {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	select {
	case a.queue <- msg:
	default:
		observability.RecordNotificationDropped()
		a.log.WithField("kind", msg.Kind).Warn("notification queue full, dropping")
	}
}

// Run delivers queued messages until ctx is done.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-a.queue:
			if err := a.limiter.Wait(ctx); err != nil {
				return nil
			}
			sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			if err := a.sender.Send(sendCtx, msg); err != nil {
				a.log.WithError(err).WithField("kind", msg.Kind).Warn("notification failed")
			}
			cancel()
		}
	}
}
