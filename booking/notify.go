/*
notify.go - Outbound guest notifications

PURPOSE:
  Lifecycle transitions publish confirmation, modification and cancellation
  events. Delivery is decoupled from the transition: a failed or slow
  notifier never changes the outcome the caller sees.

DISPATCH:
  Dispatcher wraps a Notifier with a bounded queue and one worker. Notify
  enqueues and returns immediately. The worker tries each event up to
  MaxAttempts times with linear backoff and logs the final failure. A full
  queue drops the event with a log line.

SEE ALSO:
  - notify/amqp.go: RabbitMQ publisher
  - notify/log.go: logging notifier for local runs
*/
package booking

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type NotificationKind string

const (
	NotifyConfirmation NotificationKind = "confirmation"
	NotifyModification NotificationKind = "modification"
	NotifyCancellation NotificationKind = "cancellation"
)

// Notification is the payload handed to notifiers. It carries the access
// URL, so it must only be delivered to the guest.
type Notification struct {
	Kind          NotificationKind `json:"kind"`
	ReservationID ReservationID    `json:"reservation_id"`
	Status        Status           `json:"status"`
	GuestName     string           `json:"guest_name"`
	GuestEmail    string           `json:"guest_email"`
	GuestPhone    string           `json:"guest_phone,omitempty"`
	UnitName      string           `json:"unit_name"`
	Arrival       string           `json:"arrival"`
	Departure     string           `json:"departure"`
	Nights        int              `json:"nights"`
	Total         string           `json:"total"`
	AccessURL     string           `json:"access_url"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// NewNotification builds the event for r.
func NewNotification(kind NotificationKind, r Reservation, baseURL string, at time.Time) Notification {
	return Notification{
		Kind:          kind,
		ReservationID: r.ID,
		Status:        r.Status,
		GuestName:     r.Guest.Name,
		GuestEmail:    r.Guest.Email,
		GuestPhone:    r.Guest.Phone,
		UnitName:      r.UnitName,
		Arrival:       r.Stay.Arrival.String(),
		Departure:     r.Stay.Departure.String(),
		Nights:        r.Nights,
		Total:         r.Total.StringFixed(2),
		AccessURL:     AccessURL(baseURL, r.ID, r.Token),
		OccurredAt:    at,
	}
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// =============================================================================
// DISPATCHER
// =============================================================================

const (
	DefaultQueueSize   = 256
	DefaultMaxAttempts = 3
	deliveryTimeout    = 10 * time.Second
)

type Dispatcher struct {
	Target      Notifier
	MaxAttempts int
	Backoff     time.Duration
	Log         logrus.FieldLogger

	queue  chan Notification
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher starts the delivery worker. Call Close to drain it.
func NewDispatcher(target Notifier, queueSize int, log logrus.FieldLogger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		Target:      target,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     500 * time.Millisecond,
		Log:         log,
		queue:       make(chan Notification, queueSize),
		done:        make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify enqueues n without blocking. It never returns an error; a full or
// closed queue drops the event.
func (d *Dispatcher) Notify(_ context.Context, n Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger(n).Warn("dispatcher closed, notification dropped")
		return nil
	}
	select {
	case d.queue <- n:
	default:
		d.logger(n).Warn("notification queue full, dropped")
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be attempted.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n Notification) {
	attempts := d.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err = d.Target.Notify(ctx, n)
		cancel()
		if err == nil {
			return
		}
		d.logger(n).WithError(err).WithField("attempt", i).Warn("notification delivery failed")
		if i < attempts {
			time.Sleep(time.Duration(i) * d.Backoff)
		}
	}
	d.logger(n).WithError(err).Error("notification abandoned")
}

func (d *Dispatcher) logger(n Notification) logrus.FieldLogger {
	return logOr(d.Log).WithFields(logrus.Fields{
		"reservation_id": n.ReservationID,
		"kind":           n.Kind,
	})
}

// =============================================================================
// ANNOUNCER - Lifecycle side of notifications
// =============================================================================

// Announcer turns committed transitions into notifications. A nil Announcer
// or nil Notifier is a no-op.
type Announcer struct {
	Notifier Notifier
	BaseURL  string
	Clock    Clock
	Log      logrus.FieldLogger
}

// Announce publishes kind for r. Errors are logged and swallowed; the
// caller's context cancellation does not cancel delivery.
func (a *Announcer) Announce(ctx context.Context, kind NotificationKind, r Reservation) {
	if a == nil || a.Notifier == nil {
		return
	}
	n := NewNotification(kind, r, a.BaseURL, clockOr(a.Clock).Now())
	if err := a.Notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		logOr(a.Log).WithError(err).WithFields(logrus.Fields{
			"reservation_id": r.ID,
			"kind":           kind,
		}).Warn("notification failed")
	}
}
