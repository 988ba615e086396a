/*
payment.go - Payment authorization workflow

PURPOSE:
  Drives the two-step gateway handshake for a reservation: a setup session
  that saves the guest's payment method, then a manual-capture hold for
  exactly one night's rate. Later the hold is captured (late cancellation)
  or released (timely cancellation, paid out-of-band).

SUB-STATE MACHINE (PaymentInfo.State, independent of Status):

  none ──▶ setup_pending ──▶ hold_requested ──▶ hold_placed ──▶ captured
    │                              │                  │
    └──────────────────────────────┘                  └──────▶ released
                                   │
                                   ▼
                              hold_failed

  hold_placed moves the reservation Pending -> Confirmed.
  hold_failed moves it Pending -> AuthorizationFailed.

HOLD PLACEMENT:
  1. Claim: hold_requested is written in a transaction. Only the claimer
     calls the gateway.
  2. Gateway call outside any transaction, bounded by Timeout.
  3. Outcome: a second transaction re-reads the reservation. If it was
     canceled or expired meanwhile and the hold was placed, the hold is
     released instead of confirming.

CALLBACKS:
  Gateway events are deduplicated by event id through the CallbackLog.
  The dedupe record is written in the same transaction as the state change
  it causes, so a redelivered event is a no-op. Transitions check current
  state and never leave a terminal status.

SEE ALSO:
  - gateway/stripe: Stripe implementation of Gateway
  - sweeper.go: expires setup sessions the guest never completed
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultGatewayTimeout = 10 * time.Second
	DefaultSetupTimeout   = 30 * time.Minute
)

// =============================================================================
// GATEWAY PORT
// =============================================================================

type SetupRequest struct {
	ReservationID ReservationID
	GuestName     string
	GuestEmail    string
	CustomerRef   string
}

// SetupSession is the out-of-band handshake the guest completes by redirect.
type SetupSession struct {
	Ref         string
	RedirectURL string
	CustomerRef string
	ExpiresAt   time.Time
}

type HoldRequest struct {
	ReservationID  ReservationID
	Amount         decimal.Decimal
	CustomerRef    string
	MethodRef      string
	IdempotencyKey string
	Description    string
}

type Hold struct {
	Ref string
}

// Gateway is the outbound payment boundary. Implementations return
// ErrHoldDeclined (wrapped) when the issuer refuses a hold.
type Gateway interface {
	BeginSetup(ctx context.Context, req SetupRequest) (*SetupSession, error)
	CreateHold(ctx context.Context, req HoldRequest) (*Hold, error)
	CaptureHold(ctx context.Context, ref string, amount decimal.Decimal) error
	ReleaseHold(ctx context.Context, ref string) error
}

// ErrPaymentsDisabled is returned by DisabledGateway.
var ErrPaymentsDisabled = errors.New("payment gateway not configured")

// DisabledGateway is used when no gateway credentials are configured.
// Every call fails, so new reservations end AuthorizationFailed.
type DisabledGateway struct{}

func (DisabledGateway) BeginSetup(context.Context, SetupRequest) (*SetupSession, error) {
	return nil, ErrPaymentsDisabled
}

func (DisabledGateway) CreateHold(context.Context, HoldRequest) (*Hold, error) {
	return nil, ErrPaymentsDisabled
}

func (DisabledGateway) CaptureHold(context.Context, string, decimal.Decimal) error {
	return ErrPaymentsDisabled
}

func (DisabledGateway) ReleaseHold(context.Context, string) error {
	return ErrPaymentsDisabled
}

// =============================================================================
// GATEWAY EVENTS
// =============================================================================

type EventType string

const (
	EventSetupCompleted EventType = "setup_completed"
	EventHoldCreated    EventType = "hold_created"
	EventHoldFailed     EventType = "hold_failed"
	EventChargeRefunded EventType = "charge_refunded"
	// EventPaymentCompleted is a full payment taken by the gateway, which
	// settles the reservation like an admin mark-paid.
	EventPaymentCompleted EventType = "payment_completed"
	// EventIgnored marks verified events of a type the engine does not act
	// on. They are acknowledged and recorded.
	EventIgnored EventType = "ignored"
)

// GatewayEvent is a verified inbound callback, already mapped from the
// gateway's own vocabulary.
type GatewayEvent struct {
	ID               string
	Type             EventType
	ReservationID    ReservationID
	PaymentMethodRef string
	CustomerRef      string
	SetupRef         string
	HoldRef          string
	Reason           string
}

// =============================================================================
// PAYMENT WORKFLOW
// =============================================================================

type PaymentWorkflow struct {
	Store        TxStore
	Gateway      Gateway
	Announcer    *Announcer
	Clock        Clock
	Log          logrus.FieldLogger
	Timeout      time.Duration
	SetupTimeout time.Duration
}

// Start hands a freshly created Pending reservation to the gateway. With a
// saved payment method the hold is placed synchronously. Without one a
// setup session is opened and returned; the hold follows the
// setup_completed callback.
func (w *PaymentWorkflow) Start(ctx context.Context, r *Reservation, methodRef, customerRef string) (*Reservation, *SetupSession, error) {
	if methodRef != "" {
		err := w.Store.WithTx(ctx, func(s Store) error {
			cur, err := s.GetReservation(ctx, r.ID)
			if err != nil {
				return err
			}
			cur.Payment.MethodRef = methodRef
			cur.Payment.CustomerRef = customerRef
			return s.UpdateReservation(ctx, *cur)
		})
		if err != nil {
			return nil, nil, err
		}
		out, err := w.PlaceHold(ctx, r.ID)
		return out, nil, err
	}
	return w.beginSetup(ctx, r, customerRef)
}

func (w *PaymentWorkflow) beginSetup(ctx context.Context, r *Reservation, customerRef string) (*Reservation, *SetupSession, error) {
	var session *SetupSession
	err := w.call(ctx, "begin setup", func(cctx context.Context) error {
		var err error
		session, err = w.Gateway.BeginSetup(cctx, SetupRequest{
			ReservationID: r.ID,
			GuestName:     r.Guest.Name,
			GuestEmail:    r.Guest.Email,
			CustomerRef:   customerRef,
		})
		return err
	})
	if err != nil {
		out, ferr := w.fail(ctx, r.ID, err)
		return out, nil, ferr
	}

	expires := session.ExpiresAt
	if expires.IsZero() {
		expires = w.now().Add(w.setupTimeout())
	}
	var out *Reservation
	err = w.Store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetReservation(ctx, r.ID)
		if err != nil {
			return err
		}
		if cur.Status != StatusPending {
			return &TransitionError{ReservationID: cur.ID, From: cur.Status, Op: "begin setup", Err: ErrInvalidTransition}
		}
		cur.Payment.State = PaymentSetupPending
		cur.Payment.SetupRef = session.Ref
		cur.Payment.SetupExpiresAt = expires
		cur.Payment.CustomerRef = session.CustomerRef
		cur.UpdatedAt = w.now()
		if err := s.UpdateReservation(ctx, *cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	w.logger(r.ID).WithField("setup_ref", session.Ref).Info("setup session opened")
	return out, session, nil
}

// PlaceHold requests the one-night manual-capture hold. It returns the
// reservation as it stands afterwards. A rejected or failed hold returns
// *AuthorizationError with the reservation persisted as AuthorizationFailed.
func (w *PaymentWorkflow) PlaceHold(ctx context.Context, id ReservationID) (*Reservation, error) {
	var claimed *Reservation
	var current *Reservation
	err := w.Store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		current = cur
		if cur.Status != StatusPending {
			if cur.Payment.HasLiveHold() {
				return nil
			}
			return &TransitionError{ReservationID: id, From: cur.Status, Op: "place hold", Err: ErrInvalidTransition}
		}
		switch cur.Payment.State {
		case PaymentHoldRequested, PaymentHoldPlaced:
			// Another caller owns the gateway call.
			return nil
		}
		cur.Payment.State = PaymentHoldRequested
		cur.Payment.IdempotencyKey = HoldKey(id)
		cur.UpdatedAt = w.now()
		if err := s.UpdateReservation(ctx, *cur); err != nil {
			return err
		}
		claimed = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return current, nil
	}

	var hold *Hold
	gwErr := w.call(ctx, "create hold", func(cctx context.Context) error {
		var err error
		hold, err = w.Gateway.CreateHold(cctx, HoldRequest{
			ReservationID:  id,
			Amount:         claimed.HoldAmount,
			CustomerRef:    claimed.Payment.CustomerRef,
			MethodRef:      claimed.Payment.MethodRef,
			IdempotencyKey: claimed.Payment.IdempotencyKey,
			Description:    fmt.Sprintf("Reservation %d, one-night hold", id),
		})
		return err
	})
	if gwErr != nil {
		return w.fail(ctx, id, gwErr)
	}
	return w.confirmHold(ctx, id, hold.Ref)
}

// confirmHold commits a placed hold. If the reservation left Pending while
// the gateway call was in flight the hold is orphaned and released.
func (w *PaymentWorkflow) confirmHold(ctx context.Context, id ReservationID, holdRef string) (*Reservation, error) {
	var out *Reservation
	confirmed, orphan := false, false
	err := w.Store.WithTx(ctx, func(s Store) error {
		var err error
		var c, o bool
		out, c, o, err = applyHold(ctx, s, id, holdRef, w.now())
		confirmed, orphan = c, o
		return err
	})
	if err != nil {
		return nil, err
	}
	if confirmed {
		w.logger(id).WithField("hold_ref", holdRef).Info("hold placed, reservation confirmed")
		w.Announcer.Announce(ctx, NotifyConfirmation, *out)
	}
	if orphan {
		return w.releaseOrphan(ctx, out, holdRef)
	}
	return out, nil
}

// applyHold is the state half of a placed hold, shared with the
// hold_created callback. It reports whether the reservation was confirmed
// and whether the hold is an orphan that must be released.
func applyHold(ctx context.Context, s Store, id ReservationID, holdRef string, now time.Time) (*Reservation, bool, bool, error) {
	cur, err := s.GetReservation(ctx, id)
	if err != nil {
		return nil, false, false, err
	}
	if cur.Payment.State == PaymentHoldPlaced && cur.Payment.HoldRef == holdRef {
		return cur, false, false, nil
	}
	if cur.Status != StatusPending {
		if cur.Payment.HoldRef == holdRef && cur.Payment.State == PaymentReleased {
			return cur, false, false, nil
		}
		if cur.Payment.HasLiveHold() {
			// A second hold for a reservation that already has one.
			return cur, false, true, nil
		}
		cur.Payment.HoldRef = holdRef
		cur.UpdatedAt = now
		return cur, false, true, s.UpdateReservation(ctx, *cur)
	}
	cur.Status = StatusConfirmed
	cur.Payment.State = PaymentHoldPlaced
	cur.Payment.HoldRef = holdRef
	cur.Payment.FailureReason = ""
	cur.UpdatedAt = now
	return cur, true, false, s.UpdateReservation(ctx, *cur)
}

func (w *PaymentWorkflow) releaseOrphan(ctx context.Context, r *Reservation, holdRef string) (*Reservation, error) {
	log := w.logger(r.ID).WithFields(logrus.Fields{"hold_ref": holdRef, "status": r.Status})
	if err := w.Release(ctx, holdRef); err != nil {
		log.WithError(err).Error("orphaned hold could not be released")
		return r, err
	}
	var out *Reservation
	err := w.Store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetReservation(ctx, r.ID)
		if err != nil {
			return err
		}
		out = cur
		if cur.Payment.HoldRef != holdRef {
			return nil
		}
		cur.Payment.State = PaymentReleased
		cur.UpdatedAt = w.now()
		return s.UpdateReservation(ctx, *cur)
	})
	if err != nil {
		return nil, err
	}
	log.Warn("hold placed after reservation left pending, released")
	return out, nil
}

// fail persists AuthorizationFailed for a still-pending reservation and
// returns the caller-facing *AuthorizationError.
func (w *PaymentWorkflow) fail(ctx context.Context, id ReservationID, cause error) (*Reservation, error) {
	log := w.logger(id).WithError(cause)
	switch {
	case errors.Is(cause, ErrGatewayTimeout):
		log = log.WithField("gateway_timeout", true)
	case errors.Is(cause, ErrGatewayError):
		log = log.WithField("gateway_error", true)
	default:
		log = log.WithField("declined", true)
	}

	var out *Reservation
	err := w.Store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		out = cur
		if cur.Status != StatusPending {
			if cur.Payment.State != PaymentHoldRequested {
				return nil
			}
			cur.Payment.State = PaymentHoldFailed
			cur.Payment.FailureReason = cause.Error()
			cur.UpdatedAt = w.now()
			return s.UpdateReservation(ctx, *cur)
		}
		cur.Status = StatusAuthorizationFailed
		cur.Payment.State = PaymentHoldFailed
		cur.Payment.FailureReason = cause.Error()
		cur.UpdatedAt = w.now()
		return s.UpdateReservation(ctx, *cur)
	})
	if err != nil {
		return nil, err
	}
	log.Warn("payment authorization failed")
	return out, &AuthorizationError{ReservationID: id, Cause: cause}
}

// Capture converts the hold into a charge of amount.
func (w *PaymentWorkflow) Capture(ctx context.Context, holdRef string, amount decimal.Decimal) error {
	return w.call(ctx, "capture hold", func(cctx context.Context) error {
		return w.Gateway.CaptureHold(cctx, holdRef, amount)
	})
}

// Release cancels the hold without charging.
func (w *PaymentWorkflow) Release(ctx context.Context, holdRef string) error {
	return w.call(ctx, "release hold", func(cctx context.Context) error {
		return w.Gateway.ReleaseHold(cctx, holdRef)
	})
}

// =============================================================================
// CALLBACK HANDLING
// =============================================================================

// HandleEvent applies a verified gateway event. Redelivered event ids and
// events that would leave a terminal state are no-ops. An error means the
// event was not recorded and the gateway should redeliver it.
func (w *PaymentWorkflow) HandleEvent(ctx context.Context, ev GatewayEvent) error {
	if ev.ID == "" {
		return &FieldError{Field: "event_id", Message: "is required"}
	}
	log := w.logger(ev.ReservationID).WithFields(logrus.Fields{"event_id": ev.ID, "event_type": ev.Type})

	seen, err := w.Store.HasCallback(ctx, ev.ID)
	if err != nil {
		return err
	}
	if seen {
		log.Debug("duplicate gateway event ignored")
		return nil
	}

	switch ev.Type {
	case EventSetupCompleted:
		return w.onSetupCompleted(ctx, ev, log)
	case EventHoldCreated:
		return w.onHoldCreated(ctx, ev, log)
	case EventHoldFailed:
		return w.onHoldFailed(ctx, ev, log)
	case EventChargeRefunded:
		return w.onChargeRefunded(ctx, ev, log)
	case EventPaymentCompleted:
		return w.onPaymentCompleted(ctx, ev, log)
	default:
		return w.record(ctx, w.Store, ev)
	}
}

func (w *PaymentWorkflow) record(ctx context.Context, s Store, ev GatewayEvent) error {
	err := s.RecordCallback(ctx, CallbackRecord{
		EventID:       ev.ID,
		Type:          ev.Type,
		ReservationID: ev.ReservationID,
		ReceivedAt:    w.now(),
	})
	if errors.Is(err, ErrDuplicateCallback) {
		return nil
	}
	return err
}

// withEvent runs fn and records ev in one transaction. fn sees nil when the
// event id was recorded concurrently.
func (w *PaymentWorkflow) withEvent(ctx context.Context, ev GatewayEvent, fn func(Store, *Reservation) error) error {
	return w.Store.WithTx(ctx, func(s Store) error {
		seen, err := s.HasCallback(ctx, ev.ID)
		if err != nil || seen {
			return err
		}
		cur, err := s.GetReservation(ctx, ev.ReservationID)
		if errors.Is(err, ErrNotFound) {
			// Unknown reservation: acknowledge so the gateway stops retrying.
			return w.record(ctx, s, ev)
		}
		if err != nil {
			return err
		}
		if err := fn(s, cur); err != nil {
			return err
		}
		return w.record(ctx, s, ev)
	})
}

func (w *PaymentWorkflow) onSetupCompleted(ctx context.Context, ev GatewayEvent, log logrus.FieldLogger) error {
	ready := false
	err := w.withEvent(ctx, ev, func(s Store, cur *Reservation) error {
		if cur.Status != StatusPending || cur.Payment.State != PaymentSetupPending {
			log.WithField("status", cur.Status).Info("setup completion ignored")
			return nil
		}
		if ev.PaymentMethodRef == "" {
			return &FieldError{Field: "payment_method", Message: "missing from setup completion"}
		}
		cur.Payment.MethodRef = ev.PaymentMethodRef
		if ev.CustomerRef != "" {
			cur.Payment.CustomerRef = ev.CustomerRef
		}
		cur.UpdatedAt = w.now()
		ready = true
		return s.UpdateReservation(ctx, *cur)
	})
	if err != nil || !ready {
		return err
	}
	_, err = w.PlaceHold(ctx, ev.ReservationID)
	var authErr *AuthorizationError
	if errors.As(err, &authErr) {
		// Terminal outcome already persisted.
		return nil
	}
	return err
}

func (w *PaymentWorkflow) onHoldCreated(ctx context.Context, ev GatewayEvent, log logrus.FieldLogger) error {
	if ev.HoldRef == "" {
		return &FieldError{Field: "hold_ref", Message: "is required"}
	}
	var out *Reservation
	confirmed, orphan := false, false
	err := w.withEvent(ctx, ev, func(s Store, cur *Reservation) error {
		var err error
		var c, o bool
		out, c, o, err = applyHold(ctx, s, cur.ID, ev.HoldRef, w.now())
		confirmed, orphan = c, o
		return err
	})
	if err != nil {
		return err
	}
	switch {
	case confirmed:
		log.Info("hold confirmed by gateway callback")
		w.Announcer.Announce(ctx, NotifyConfirmation, *out)
	case orphan:
		_, err = w.releaseOrphan(ctx, out, ev.HoldRef)
		return err
	}
	return nil
}

func (w *PaymentWorkflow) onHoldFailed(ctx context.Context, ev GatewayEvent, log logrus.FieldLogger) error {
	return w.withEvent(ctx, ev, func(s Store, cur *Reservation) error {
		if cur.Status != StatusPending {
			log.WithField("status", cur.Status).Info("hold failure ignored")
			return nil
		}
		reason := ev.Reason
		if reason == "" {
			reason = "hold failed"
		}
		cur.Status = StatusAuthorizationFailed
		cur.Payment.State = PaymentHoldFailed
		cur.Payment.FailureReason = reason
		cur.UpdatedAt = w.now()
		log.WithField("reason", reason).Warn("hold failed, reservation not binding")
		return s.UpdateReservation(ctx, *cur)
	})
}

func (w *PaymentWorkflow) onChargeRefunded(ctx context.Context, ev GatewayEvent, log logrus.FieldLogger) error {
	return w.withEvent(ctx, ev, func(s Store, cur *Reservation) error {
		if cur.Payment.State != PaymentCaptured || !cur.Payment.RefundedAt.IsZero() {
			return nil
		}
		cur.Payment.RefundedAt = w.now()
		cur.UpdatedAt = w.now()
		log.Info("late fee refunded")
		return s.UpdateReservation(ctx, *cur)
	})
}

// onPaymentCompleted moves a Pending or Confirmed reservation to Paid. A
// live hold is no longer needed and is released after commit.
func (w *PaymentWorkflow) onPaymentCompleted(ctx context.Context, ev GatewayEvent, log logrus.FieldLogger) error {
	var paid *Reservation
	var holdRef string
	err := w.withEvent(ctx, ev, func(s Store, cur *Reservation) error {
		if cur.Status != StatusPending && cur.Status != StatusConfirmed {
			log.WithField("status", cur.Status).Info("payment completion ignored")
			return nil
		}
		if cur.Payment.HasLiveHold() {
			holdRef = cur.Payment.HoldRef
		}
		cur.Status = StatusPaid
		cur.UpdatedAt = w.now()
		if err := s.UpdateReservation(ctx, *cur); err != nil {
			return err
		}
		paid = cur
		return nil
	})
	if err != nil || paid == nil {
		return err
	}
	log.Info("reservation paid through the gateway")
	if holdRef == "" {
		return nil
	}
	if err := w.Release(ctx, holdRef); err != nil {
		// The event is recorded; a redelivery would not retry the release.
		log.WithError(err).WithField("hold_ref", holdRef).Error("hold release after payment failed")
		return nil
	}
	return w.Store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetReservation(ctx, paid.ID)
		if err != nil {
			return err
		}
		if cur.Payment.HoldRef != holdRef || !cur.Payment.HasLiveHold() {
			return nil
		}
		cur.Payment.State = PaymentReleased
		cur.UpdatedAt = w.now()
		return s.UpdateReservation(ctx, *cur)
	})
}

// =============================================================================
// SETUP EXPIRY
// =============================================================================

// ExpireSetups fails Pending reservations whose setup session lapsed.
// Returns the number expired.
func (w *PaymentWorkflow) ExpireSetups(ctx context.Context) (int, error) {
	now := w.now()
	stale, err := w.Store.ListPendingSetups(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, r := range stale {
		err := w.Store.WithTx(ctx, func(s Store) error {
			cur, err := s.GetReservation(ctx, r.ID)
			if err != nil {
				return err
			}
			if cur.Status != StatusPending || cur.Payment.State != PaymentSetupPending {
				return nil
			}
			cur.Status = StatusAuthorizationFailed
			cur.Payment.State = PaymentHoldFailed
			cur.Payment.FailureReason = "setup expired"
			cur.UpdatedAt = now
			expired++
			return s.UpdateReservation(ctx, *cur)
		})
		if err != nil {
			return expired, fmt.Errorf("expire setup for reservation %d: %w", r.ID, err)
		}
	}
	return expired, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// call runs one gateway operation under the configured timeout and
// classifies its failure.
func (w *PaymentWorkflow) call(ctx context.Context, op string, fn func(context.Context) error) error {
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultGatewayTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(cctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuthorizationFailed) {
		return err
	}
	var gf *GatewayFailure
	if errors.As(err, &gf) {
		return err
	}
	timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded)
	return &GatewayFailure{Op: op, Timeout: timedOut, Err: err}
}

func (w *PaymentWorkflow) setupTimeout() time.Duration {
	if w.SetupTimeout <= 0 {
		return DefaultSetupTimeout
	}
	return w.SetupTimeout
}

func (w *PaymentWorkflow) now() time.Time { return clockOr(w.Clock).Now() }

func (w *PaymentWorkflow) logger(id ReservationID) logrus.FieldLogger {
	return logOr(w.Log).WithField("reservation_id", id)
}
