// Package notify provides a multi-channel notification system. Messages are
// queued and delivered by a background worker to all registered senders
// (Telegram, Discord, etc.), filtered by event type so operators receive only
// the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/keeperbot/internal/metrics"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers one message.
	Send(ctx context.Context, msg Message) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// guarded wraps a Sender in its own circuit breaker so a dead channel stops
// costing a timeout per message.
type guarded struct {
	Sender
	cb *gobreaker.CircuitBreaker
}

type envelope struct {
	event string
	msg   Message
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithQueueSize sets how many messages Post buffers before dropping.
func WithQueueSize(n int) Option {
	return func(n2 *Notifier) {
		if n > 0 {
			n2.queue = make(chan envelope, n)
		}
	}
}

// WithRate limits deliveries to perSecond messages per second (burst 1).
func WithRate(perSecond float64) Option {
	return func(n *Notifier) {
		if perSecond > 0 {
			n.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithMetrics counts deliveries per sender.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// Notifier dispatches notifications to one or more Senders. Post is
// fire-and-forget; Notify delivers synchronously. Both only forward events
// in the allowed set; NotifyAll bypasses the filter.
type Notifier struct {
	senders []guarded
	events  map[string]bool // allowed event types
	queue   chan envelope
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded. If events
// is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger, opts ...Option) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	n := &Notifier{
		events:  allowed,
		queue:   make(chan envelope, 64),
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  logger.With(slog.String("component", "notifier")),
	}
	for _, o := range opts {
		o(n)
	}
	for _, s := range senders {
		name := s.Name()
		n.senders = append(n.senders, guarded{
			Sender: s,
			cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        name,
				MaxRequests: 1,
				Timeout:     time.Minute,
				ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
				OnStateChange: func(name string, from, to gobreaker.State) {
					n.logger.Warn("notification channel state changed",
						slog.String("sender", name),
						slog.String("from", from.String()),
						slog.String("to", to.String()),
					)
				},
			}),
		})
	}
	return n
}

func (n *Notifier) allowed(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Post queues msg for background delivery and returns immediately. When the
// queue is full the message is dropped with a warning.
func (n *Notifier) Post(event string, msg Message) {
	if !n.allowed(event) || len(n.senders) == 0 {
		return
	}
	select {
	case n.queue <- envelope{event: event, msg: msg}:
	default:
		n.metrics.Notification("queue", "dropped")
		n.logger.Warn("notification queue full, dropping message",
			slog.String("event", event),
			slog.String("title", msg.Title),
		)
	}
}

// Run delivers queued messages until ctx is cancelled, then flushes what is
// still queued within a short grace period.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.flush()
			return nil
		case env := <-n.queue:
			if err := n.limiter.Wait(ctx); err != nil {
				n.flush()
				return nil
			}
			_ = n.dispatch(ctx, env.msg)
		}
	}
}

func (n *Notifier) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case env := <-n.queue:
			_ = n.dispatch(ctx, env.msg)
		default:
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Notify sends msg to all senders only if the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event string, msg Message) error {
	if !n.allowed(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, msg)
}

// NotifyAll sends msg to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, msg Message) error {
	return n.dispatch(ctx, msg)
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		_, err := s.cb.Execute(func() (interface{}, error) {
			return nil, s.Send(ctx, msg)
		})
		if err != nil {
			n.metrics.Notification(s.Name(), "failed")
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.metrics.Notification(s.Name(), "sent")
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
