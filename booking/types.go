/*
types.go - Core domain types for the reservation engine

PURPOSE:
  Defines the fundamental vocabulary: properties, units, manual blocks,
  reservations, guests and person records. All other files build on these.

KEY CONCEPTS:
  Property:    A listing grouping one or more units. Its rate is derived.
  Unit:        The bookable thing. Has its own nightly rate and blocks.
  Block:       Admin-declared unavailability on a unit (maintenance etc).
  Reservation: A guest's claim on a unit for a Stay. Carries a denormalized
               copy of the unit name and nightly rate taken at booking time.

OCCUPANCY:
  Only Pending, Confirmed and Paid reservations occupy a unit. Every
  canceled state and AuthorizationFailed leave the unit free.

SEE ALSO:
  - time.go: Date and Stay
  - store.go: persistence ports
  - reservation.go: lifecycle transitions
*/
package booking

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PropertyID string
type UnitID string
type BlockID string

// ReservationID is allocated from the "reservation_id" sequence. Guests see
// it, so it is a small integer rather than a uuid.
type ReservationID int64

func NewPropertyID() PropertyID { return PropertyID(uuid.NewString()) }
func NewUnitID() UnitID         { return UnitID(uuid.NewString()) }
func NewBlockID() BlockID       { return BlockID(uuid.NewString()) }

// =============================================================================
// INVENTORY
// =============================================================================

type Property struct {
	ID       PropertyID
	Name     string
	Location string
	// Rate is derived from the first unit in UnitIDs; zero without units.
	Rate      decimal.Decimal
	UnitIDs   []UnitID
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Unit struct {
	ID         UnitID
	PropertyID PropertyID
	Name       string
	Rate       decimal.Decimal
	Capacity   int
	Bedrooms   int
	Blocks     []Block
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Block marks a unit unavailable for a stay-shaped interval.
type Block struct {
	ID     BlockID
	UnitID UnitID
	Stay   Stay
	Reason string
}

// BlockedDuring returns the first block overlapping s, if any.
func (u Unit) BlockedDuring(s Stay) (Block, bool) {
	for _, b := range u.Blocks {
		if b.Stay.Overlaps(s) {
			return b, true
		}
	}
	return Block{}, false
}

// =============================================================================
// RESERVATION STATUS
// =============================================================================

type Status string

const (
	StatusPending                Status = "pending"
	StatusConfirmed              Status = "confirmed"
	StatusPaid                   Status = "paid"
	StatusCanceled               Status = "canceled"
	StatusCanceledLateFeeCharged Status = "canceled_late_fee_charged"
	StatusAuthorizationFailed    Status = "authorization_failed"
)

// Occupies reports whether a reservation in this status holds its unit.
func (s Status) Occupies() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPaid:
		return true
	}
	return false
}

func (s Status) IsCanceled() bool {
	return s == StatusCanceled || s == StatusCanceledLateFeeCharged
}

// IsTerminal reports states no further transition may leave.
func (s Status) IsTerminal() bool {
	return s.IsCanceled() || s == StatusAuthorizationFailed || s == StatusPaid
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPaid, StatusCanceled,
		StatusCanceledLateFeeCharged, StatusAuthorizationFailed:
		return true
	}
	return false
}

// =============================================================================
// PAYMENT SUB-STATE
// =============================================================================

type PaymentState string

const (
	PaymentNone          PaymentState = "none"
	PaymentSetupPending  PaymentState = "setup_pending"
	PaymentHoldRequested PaymentState = "hold_requested"
	PaymentHoldPlaced    PaymentState = "hold_placed"
	PaymentHoldFailed    PaymentState = "hold_failed"
	PaymentCaptured      PaymentState = "captured"
	PaymentReleased      PaymentState = "released"
)

// PaymentInfo tracks the authorization hold independently of Status.
type PaymentInfo struct {
	State          PaymentState
	CustomerRef    string
	MethodRef      string
	SetupRef       string
	SetupExpiresAt time.Time
	HoldRef        string
	IdempotencyKey string
	Captured       decimal.Decimal
	RefundedAt     time.Time
	FailureReason  string
}

// HasLiveHold reports whether funds are currently held at the gateway.
func (p PaymentInfo) HasLiveHold() bool {
	return p.State == PaymentHoldPlaced && p.HoldRef != ""
}

// =============================================================================
// RESERVATION
// =============================================================================

type Guest struct {
	Name          string
	Email         string
	Phone         string
	Country       string
	City          string
	StreetAddress string
}

type Reservation struct {
	ID       ReservationID
	UnitID   UnitID
	UnitName string
	// Rate and HoldAmount are copied at booking time. HoldAmount is never
	// recomputed, even when the stay or unit changes.
	Rate       decimal.Decimal
	Guest      Guest
	Stay       Stay
	Nights     int
	Total      decimal.Decimal
	HoldAmount decimal.Decimal
	Token      string
	Status     Status
	Payment    PaymentInfo
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OccupiesDuring reports whether the reservation holds its unit for s.
func (r Reservation) OccupiesDuring(s Stay) bool {
	return r.Status.Occupies() && r.Stay.Overlaps(s)
}

// HoldKey is the idempotency key for the reservation's authorization hold.
func HoldKey(id ReservationID) string {
	return "hold-" + strconv.FormatInt(int64(id), 10)
}

// PriceStay computes nights and total at a nightly rate.
func PriceStay(rate decimal.Decimal, s Stay) (int, decimal.Decimal) {
	n := s.Nights()
	return n, rate.Mul(decimal.NewFromInt(int64(n)))
}

// =============================================================================
// PERSON / CALLBACKS
// =============================================================================

// Person is the guest contact record, keyed by lowercased email.
type Person struct {
	Email         string
	Name          string
	Phone         string
	Country       string
	City          string
	StreetAddress string
	UpdatedAt     time.Time
}

func PersonFromGuest(g Guest, at time.Time) Person {
	return Person{
		Email:         NormalizeEmail(g.Email),
		Name:          g.Name,
		Phone:         g.Phone,
		Country:       g.Country,
		City:          g.City,
		StreetAddress: g.StreetAddress,
		UpdatedAt:     at,
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CallbackRecord marks a gateway event id as processed.
type CallbackRecord struct {
	EventID       string
	Type          EventType
	ReservationID ReservationID
	ReceivedAt    time.Time
}
