// Package notification delivers ledger alerts (oversells, broken linked
// sells) to external channels.
package notification

import (
	"context"
	"errors"
	"log"
	"sync"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned by Throttled when an alert is dropped.
var ErrThrottled = errors.New("alert throttled")

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent. Key identifies the underlying
// event so repeated reports of the same problem can be suppressed.
type Alert struct {
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Key     string            `json:"key,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Dedup forwards each keyed alert once. Alerts without a key always pass.
// Reports are rebuilt from the full ledger every time, so the same
// anomaly shows up on every request.
type Dedup struct {
	next Notifier

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedup wraps next.
func NewDedup(next Notifier) *Dedup {
	return &Dedup{next: next, seen: make(map[string]struct{})}
}

func (d *Dedup) Send(ctx context.Context, alert Alert) error {
	if alert.Key != "" {
		d.mu.Lock()
		if _, ok := d.seen[alert.Key]; ok {
			d.mu.Unlock()
			return nil
		}
		d.seen[alert.Key] = struct{}{}
		d.mu.Unlock()
	}

	if err := d.next.Send(ctx, alert); err != nil {
		// Forget the key so the next report retries delivery.
		if alert.Key != "" {
			d.mu.Lock()
			delete(d.seen, alert.Key)
			d.mu.Unlock()
		}
		return err
	}
	return nil
}

// Throttled drops alerts that exceed the limiter instead of queueing them.
// A dropped alert returns ErrThrottled, so a Dedup in front of it retries
// the key on the next report.
type Throttled struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewThrottled allows a burst of alerts and then one every 1/perSecond.
func NewThrottled(next Notifier, perSecond float64, burst int) *Throttled {
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *Throttled) Send(ctx context.Context, alert Alert) error {
	if !t.limiter.Allow() {
		log.Printf("[notify] throttled alert: %s", alert.Title)
		return ErrThrottled
	}
	return t.next.Send(ctx, alert)
}

// Multi fans an alert out to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var first error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil && first == nil {
			first = err
		}
	}
	return first
}
