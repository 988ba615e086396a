/*
reservation.go - Reservation lifecycle

PURPOSE:
  Guest and admin operations on reservations: create, read, modify, cancel,
  mark paid and list. The state machine lives here; gateway interaction is
  delegated to PaymentWorkflow.

STATE MACHINE:

            hold placed            admin mark-paid
  Pending ──────────────▶ Confirmed ─────────────▶ Paid
     │                       │
     │ hold failed           │ cancel before arrival ──▶ Canceled
     ▼                       │ cancel on/after arrival ─▶ CanceledLateFeeCharged
  AuthorizationFailed        │
                             ▼

  Only Pending and Confirmed accept guest modification or cancellation.

CREATE RACE:
  Search and create are separate calls, so a unit shown as free may be
  booked in between. The authoritative overlap check runs inside the same
  transaction as the insert. After commit the occupancy of the unit is
  re-scanned (overlaps are possible only with a store that cannot
  serialize the check). The lowest id wins: if an earlier reservation
  overlaps the new one, the new one is moved to Canceled and the caller
  gets a *ConflictError; overlapping later ids that committed first are
  canceled instead and their holds released.

LATE FEE:
  The late-cancellation charge is HoldAmount: one night at the rate in
  effect when the reservation was created. Modifications never change it.

SEE ALSO:
  - payment.go: hold placement, capture, release
  - batch.go: admin batch cancellation on top of CancelAsAdmin
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// INPUTS / RESULTS
// =============================================================================

type CreateInput struct {
	UnitName  string
	Arrival   Date
	Departure Date
	Guest     Guest
	// PaymentMethodRef is a payment method already saved at the gateway.
	// With it the hold is placed synchronously.
	PaymentMethodRef string
	CustomerRef      string
}

func (in CreateInput) validate(today Date) error {
	if strings.TrimSpace(in.UnitName) == "" {
		return &FieldError{Field: "unit_name", Message: "is required"}
	}
	if strings.TrimSpace(in.Guest.Name) == "" {
		return &FieldError{Field: "name", Message: "is required"}
	}
	if _, err := mail.ParseAddress(in.Guest.Email); err != nil {
		return &FieldError{Field: "email", Message: "must be a valid email address"}
	}
	return Stay{Arrival: in.Arrival, Departure: in.Departure}.ValidateBookable(today)
}

// CreateResult carries the reservation and, when the guest still has to
// save a payment method, the setup session to redirect them to.
type CreateResult struct {
	Reservation *Reservation
	Setup       *SetupSession
}

// ModifyInput changes only the fields that are set. At least one is required.
type ModifyInput struct {
	UnitName  *string
	Arrival   *Date
	Departure *Date
}

func (in ModifyInput) empty() bool {
	return in.UnitName == nil && in.Arrival == nil && in.Departure == nil
}

// =============================================================================
// RESERVATION SERVICE
// =============================================================================

type ReservationService struct {
	Store     TxStore
	Sequencer *Sequencer
	Payments  *PaymentWorkflow
	Announcer *Announcer
	Clock     Clock
	Log       logrus.FieldLogger
}

// Create books a unit. On a payment failure the reservation is still
// returned (AuthorizationFailed) together with an *AuthorizationError.
func (rs *ReservationService) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	now := rs.now()
	if err := in.validate(DateOf(now)); err != nil {
		return nil, err
	}
	stay := Stay{Arrival: in.Arrival, Departure: in.Departure}

	if _, err := rs.Store.GetUnitByName(ctx, strings.TrimSpace(in.UnitName)); err != nil {
		return nil, err
	}

	// Allocation happens outside the transaction and is never retried; a
	// failed booking burns its id.
	id, err := rs.Sequencer.NextReservationID(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate reservation id: %w", err)
	}
	token, err := NewToken()
	if err != nil {
		return nil, err
	}

	var r Reservation
	err = rs.Store.WithTx(ctx, func(s Store) error {
		u, err := s.GetUnitByName(ctx, strings.TrimSpace(in.UnitName))
		if err != nil {
			return err
		}
		if err := checkUnitFree(ctx, s, u, stay, 0); err != nil {
			return err
		}
		nights, total := PriceStay(u.Rate, stay)
		r = Reservation{
			ID:         id,
			UnitID:     u.ID,
			UnitName:   u.Name,
			Rate:       u.Rate,
			Guest:      normalizeGuest(in.Guest),
			Stay:       stay,
			Nights:     nights,
			Total:      total,
			HoldAmount: u.Rate,
			Token:      token,
			Status:     StatusPending,
			Payment:    PaymentInfo{State: PaymentNone, IdempotencyKey: HoldKey(id)},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return s.CreateReservation(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	log := rs.logger(id).WithFields(logrus.Fields{"unit": r.UnitName, "stay": stay.String()})
	log.Info("reservation created")

	if err := rs.verifyExclusive(ctx, &r); err != nil {
		return nil, err
	}

	if err := rs.Store.UpsertPerson(ctx, PersonFromGuest(r.Guest, now)); err != nil {
		log.WithError(err).Warn("person upsert failed")
	}

	out, setup, err := rs.Payments.Start(ctx, &r, in.PaymentMethodRef, in.CustomerRef)
	if out == nil {
		out = &r
	}
	return &CreateResult{Reservation: out, Setup: setup}, err
}

// verifyExclusive is the post-write overlap re-scan. The lowest id among
// overlapping occupying reservations wins: r cancels itself when a lower id
// overlaps it, and otherwise displaces every higher id that committed first.
func (rs *ReservationService) verifyExclusive(ctx context.Context, r *Reservation) error {
	overlapping, err := rs.Store.OccupyingReservations(ctx, r.UnitID, r.Stay)
	if err != nil {
		return err
	}
	var later []Reservation
	for _, other := range overlapping {
		if other.ID == r.ID {
			continue
		}
		if other.ID > r.ID {
			later = append(later, other)
			continue
		}
		conflict := &ConflictError{UnitID: r.UnitID, Requested: r.Stay, Existing: other.Stay, ReservationID: other.ID}
		err := rs.Store.WithTx(ctx, func(s Store) error {
			cur, err := s.GetReservation(ctx, r.ID)
			if err != nil {
				return err
			}
			cur.Status = StatusCanceled
			cur.UpdatedAt = rs.now()
			return s.UpdateReservation(ctx, *cur)
		})
		if err != nil {
			return fmt.Errorf("compensate reservation %d: %w", r.ID, err)
		}
		rs.logger(r.ID).WithField("conflicts_with", other.ID).Warn("overlap detected after commit, reservation canceled")
		return conflict
	}
	for _, other := range later {
		rs.displace(ctx, other.ID, r.ID)
	}
	return nil
}

// displace cancels a higher-id reservation that won a race it should have
// lost. A live hold is released; a hold still in flight is released by
// confirmHold when it sees the reservation left Pending.
func (rs *ReservationService) displace(ctx context.Context, id, winner ReservationID) {
	log := rs.logger(id).WithField("displaced_by", winner)
	var out Reservation
	var holdRef string
	changed := false
	err := rs.Store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != StatusPending && cur.Status != StatusConfirmed {
			if cur.Status.Occupies() {
				log.WithField("status", cur.Status).Error("overlapping reservation already settled, left in place")
			}
			return nil
		}
		if cur.Payment.HasLiveHold() {
			holdRef = cur.Payment.HoldRef
		}
		cur.Status = StatusCanceled
		cur.UpdatedAt = rs.now()
		if err := s.UpdateReservation(ctx, *cur); err != nil {
			return err
		}
		out = *cur
		changed = true
		return nil
	})
	if err != nil {
		log.WithError(err).Error("could not cancel overlapping reservation")
		return
	}
	if !changed {
		return
	}
	log.Warn("overlap detected after commit, later reservation canceled")
	if holdRef != "" {
		if released, err := rs.Payments.releaseOrphan(ctx, &out, holdRef); err == nil {
			out = *released
		}
	}
	rs.Announcer.Announce(ctx, NotifyCancellation, out)
}

// Get returns the reservation only on an exact (id, token) match. A wrong
// token and an unknown id produce the same error.
func (rs *ReservationService) Get(ctx context.Context, id ReservationID, token string) (*Reservation, error) {
	r, err := rs.Store.GetReservation(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	if !TokenMatches(r.Token, token) {
		return nil, ErrReservationNotFound
	}
	return r, nil
}

// Modify changes the unit and/or dates of a Pending or Confirmed
// reservation. Price is recomputed from the effective unit's current rate;
// HoldAmount is unchanged.
func (rs *ReservationService) Modify(ctx context.Context, id ReservationID, token string, in ModifyInput) (*Reservation, error) {
	if in.empty() {
		return nil, &FieldError{Field: "changes", Message: "at least one of unit_name, arrival, departure is required"}
	}
	if in.UnitName != nil && strings.TrimSpace(*in.UnitName) == "" {
		return nil, &FieldError{Field: "unit_name", Message: "must not be empty"}
	}
	today := DateOf(rs.now())

	var out Reservation
	err := rs.Store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetReservation(ctx, id)
		if errors.Is(err, ErrNotFound) || (err == nil && !TokenMatches(cur.Token, token)) {
			return ErrReservationNotFound
		}
		if err != nil {
			return err
		}
		if err := guestMutable(cur, "modify"); err != nil {
			return err
		}

		stay := cur.Stay
		if in.Arrival != nil {
			stay.Arrival = *in.Arrival
		}
		if in.Departure != nil {
			stay.Departure = *in.Departure
		}
		if in.Arrival != nil {
			err = stay.ValidateBookable(today)
		} else {
			err = stay.Validate()
		}
		if err != nil {
			return err
		}

		var u *Unit
		if in.UnitName != nil {
			u, err = s.GetUnitByName(ctx, strings.TrimSpace(*in.UnitName))
		} else {
			u, err = s.GetUnit(ctx, cur.UnitID)
		}
		if err != nil {
			return err
		}
		if err := checkUnitFree(ctx, s, u, stay, cur.ID); err != nil {
			return err
		}

		cur.UnitID = u.ID
		cur.UnitName = u.Name
		cur.Rate = u.Rate
		cur.Stay = stay
		cur.Nights, cur.Total = PriceStay(u.Rate, stay)
		cur.UpdatedAt = rs.now()
		if err := s.UpdateReservation(ctx, *cur); err != nil {
			return err
		}
		out = *cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	rs.logger(id).WithFields(logrus.Fields{
		"unit":  out.UnitName,
		"stay":  out.Stay.String(),
		"total": out.Total.String(),
	}).Info("reservation modified")
	rs.Announcer.Announce(ctx, NotifyModification, out)
	return &out, nil
}

// Cancel is the guest path: it requires the access token.
func (rs *ReservationService) Cancel(ctx context.Context, id ReservationID, token string) (*Reservation, error) {
	if _, err := rs.Get(ctx, id, token); err != nil {
		return nil, err
	}
	return rs.cancel(ctx, id)
}

// CancelAsAdmin cancels without a token. Callers must have authenticated
// the admin.
func (rs *ReservationService) CancelAsAdmin(ctx context.Context, id ReservationID) (*Reservation, error) {
	return rs.cancel(ctx, id)
}

// cancel releases the hold before arrival and captures it as a late fee on
// or after arrival. A gateway failure leaves the reservation unchanged.
func (rs *ReservationService) cancel(ctx context.Context, id ReservationID) (*Reservation, error) {
	r, err := rs.Store.GetReservation(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := guestMutable(r, "cancel"); err != nil {
		return nil, err
	}

	today := DateOf(rs.now())
	late := !today.Before(r.Stay.Arrival)
	log := rs.logger(id).WithField("late", late)

	next := StatusCanceled
	payment := r.Payment
	if r.Payment.HasLiveHold() {
		if late {
			if err := rs.Payments.Capture(ctx, r.Payment.HoldRef, r.HoldAmount); err != nil {
				log.WithError(err).Error("late fee capture failed")
				return nil, err
			}
			next = StatusCanceledLateFeeCharged
			payment.State = PaymentCaptured
			payment.Captured = r.HoldAmount
		} else {
			if err := rs.Payments.Release(ctx, r.Payment.HoldRef); err != nil {
				log.WithError(err).Error("hold release failed")
				return nil, err
			}
			payment.State = PaymentReleased
		}
	} else if late {
		log.Warn("late cancellation without a hold, no fee charged")
	}

	var out Reservation
	var missed string
	err = rs.Store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status.IsCanceled() {
			return &TransitionError{ReservationID: id, From: cur.Status, Op: "cancel", Err: ErrAlreadyCanceled}
		}
		if cur.Payment.HasLiveHold() && !r.Payment.HasLiveHold() {
			// Hold landed while we were deciding; settle it below.
			missed = cur.Payment.HoldRef
			payment = cur.Payment
			next = StatusCanceled
		}
		cur.Status = next
		cur.Payment = payment
		cur.UpdatedAt = rs.now()
		if err := s.UpdateReservation(ctx, *cur); err != nil {
			return err
		}
		out = *cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	if missed != "" {
		settle := rs.Payments.releaseOrphan
		if late {
			settle = rs.captureMissed
		}
		if settled, serr := settle(ctx, &out, missed); serr == nil {
			out = *settled
		}
	}
	log.WithField("status", out.Status).Info("reservation canceled")
	rs.Announcer.Announce(ctx, NotifyCancellation, out)
	return &out, nil
}

// captureMissed charges the late fee on a hold that landed while a late
// cancellation was being committed.
func (rs *ReservationService) captureMissed(ctx context.Context, r *Reservation, holdRef string) (*Reservation, error) {
	log := rs.logger(r.ID).WithField("hold_ref", holdRef)
	if err := rs.Payments.Capture(ctx, holdRef, r.HoldAmount); err != nil {
		log.WithError(err).Error("late fee capture failed on a hold placed during cancellation")
		return r, err
	}
	var out Reservation
	err := rs.Store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetReservation(ctx, r.ID)
		if err != nil {
			return err
		}
		out = *cur
		if cur.Payment.HoldRef != holdRef || !cur.Payment.HasLiveHold() {
			return nil
		}
		cur.Status = StatusCanceledLateFeeCharged
		cur.Payment.State = PaymentCaptured
		cur.Payment.Captured = cur.HoldAmount
		cur.UpdatedAt = rs.now()
		if err := s.UpdateReservation(ctx, *cur); err != nil {
			return err
		}
		out = *cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("hold placed during late cancellation, late fee captured")
	return &out, nil
}

// MarkPaid settles a Confirmed reservation paid out-of-band and releases
// its hold.
func (rs *ReservationService) MarkPaid(ctx context.Context, id ReservationID) (*Reservation, error) {
	r, err := rs.Store.GetReservation(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	switch {
	case r.Status == StatusPaid:
		return nil, &TransitionError{ReservationID: id, From: r.Status, Op: "mark paid", Err: ErrAlreadyPaid}
	case r.Status.IsCanceled():
		return nil, &TransitionError{ReservationID: id, From: r.Status, Op: "mark paid", Err: ErrAlreadyCanceled}
	case r.Status != StatusConfirmed:
		return nil, &TransitionError{ReservationID: id, From: r.Status, Op: "mark paid", Err: ErrInvalidTransition}
	}

	if r.Payment.HasLiveHold() {
		if err := rs.Payments.Release(ctx, r.Payment.HoldRef); err != nil {
			rs.logger(id).WithError(err).Error("hold release failed")
			return nil, err
		}
	}

	var out Reservation
	err = rs.Store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != StatusConfirmed {
			return &TransitionError{ReservationID: id, From: cur.Status, Op: "mark paid", Err: ErrInvalidTransition}
		}
		cur.Status = StatusPaid
		if cur.Payment.HasLiveHold() {
			cur.Payment.State = PaymentReleased
		}
		cur.UpdatedAt = rs.now()
		if err := s.UpdateReservation(ctx, *cur); err != nil {
			return err
		}
		out = *cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	rs.logger(id).Info("reservation marked paid")
	return &out, nil
}

// List returns every reservation, newest first.
func (rs *ReservationService) List(ctx context.Context) ([]Reservation, error) {
	return rs.Store.ListReservations(ctx)
}

// =============================================================================
// HELPERS
// =============================================================================

// guestMutable rejects modification and cancellation outside Pending and
// Confirmed.
func guestMutable(r *Reservation, op string) error {
	switch {
	case r.Status == StatusPending || r.Status == StatusConfirmed:
		return nil
	case r.Status.IsCanceled():
		return &TransitionError{ReservationID: r.ID, From: r.Status, Op: op, Err: ErrAlreadyCanceled}
	default:
		return &TransitionError{ReservationID: r.ID, From: r.Status, Op: op, Err: ErrInvalidTransition}
	}
}

func normalizeGuest(g Guest) Guest {
	g.Name = strings.TrimSpace(g.Name)
	g.Email = NormalizeEmail(g.Email)
	g.Phone = strings.TrimSpace(g.Phone)
	g.Country = strings.TrimSpace(g.Country)
	g.City = strings.TrimSpace(g.City)
	g.StreetAddress = strings.TrimSpace(g.StreetAddress)
	return g
}

func (rs *ReservationService) now() time.Time { return clockOr(rs.Clock).Now() }

func (rs *ReservationService) logger(id ReservationID) logrus.FieldLogger {
	return logOr(rs.Log).WithField("reservation_id", id)
}
