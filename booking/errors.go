/*
errors.go - Error taxonomy for the reservation engine

PURPOSE:
  Every error the engine returns belongs to exactly one class. Handlers and
  the batch coordinator classify with errors.Is against the class sentinels,
  never by string matching.

CLASSES:
  ErrValidation          Missing/malformed fields, bad dates. Returned before
                         any mutation.
  ErrNotFound            Unknown unit/property/reservation, or a token
                         mismatch. Reservations never reveal which one.
  ErrConflict            Overlapping booking or block, double cancellation,
                         transition from a state that does not allow it.
  ErrAuthorizationFailed Gateway rejected the hold. The reservation stays
                         persisted in a terminal, non-binding state.
  ErrGatewayTimeout      Gateway call hit its deadline.
  ErrGatewayError        Gateway call failed for any other reason.

SEE ALSO:
  - api/errors.go: class -> HTTP status mapping
  - batch.go: class -> per-item failure code
*/
package booking

import (
	"errors"
	"fmt"
)

// =============================================================================
// CLASS SENTINELS
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrAuthorizationFailed = errors.New("payment authorization failed")
	ErrGatewayTimeout      = errors.New("payment gateway timeout")
	ErrGatewayError        = errors.New("payment gateway error")
)

// classError is a specific sentinel that belongs to a class.
type classError struct {
	msg   string
	class error
}

func (e *classError) Error() string { return e.msg }
func (e *classError) Unwrap() error { return e.class }

func classed(class error, msg string) error {
	return &classError{msg: msg, class: class}
}

// =============================================================================
// SPECIFIC SENTINELS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidDateRange = classed(ErrValidation, "invalid date range")
	ErrEmptySequence    = classed(ErrValidation, "sequence name is required")

	// ErrReservationNotFound is returned for an unknown id AND for a wrong
	// token. Callers must not be able to tell the two apart.
	ErrReservationNotFound = classed(ErrNotFound, "reservation not found")
	ErrUnitNotFound        = classed(ErrNotFound, "unit not found")
	ErrPropertyNotFound    = classed(ErrNotFound, "property not found")
	ErrBlockNotFound       = classed(ErrNotFound, "block not found")
	ErrPersonNotFound      = classed(ErrNotFound, "person not found")
	ErrNoAvailability      = classed(ErrNotFound, "no available units for the requested dates")

	ErrOverlap              = classed(ErrConflict, "dates overlap an existing booking or block")
	ErrAlreadyCanceled      = classed(ErrConflict, "reservation already canceled")
	ErrAlreadyPaid          = classed(ErrConflict, "reservation already paid")
	ErrInvalidTransition    = classed(ErrConflict, "transition not allowed from current status")
	ErrDuplicateUnitName    = classed(ErrConflict, "unit name already exists")
	ErrDuplicateReservation = classed(ErrConflict, "reservation id or token already exists")

	// ErrHoldDeclined is returned by a Gateway when the card issuer refused
	// the hold, as opposed to the gateway itself failing.
	ErrHoldDeclined = classed(ErrAuthorizationFailed, "payment hold declined")

	// ErrDuplicateCallback is returned by a CallbackLog when the gateway event
	// id was already recorded. Redelivery is expected; this is not a failure.
	ErrDuplicateCallback = classed(ErrConflict, "gateway event already processed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError reports a single invalid input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return ErrValidation }

// ConflictError reports the interval that blocked a booking or block.
// Exactly one of ReservationID / BlockID is set.
type ConflictError struct {
	UnitID        UnitID
	Requested     Stay
	Existing      Stay
	ReservationID ReservationID
	BlockID       BlockID
}

func (e *ConflictError) Error() string {
	if e.BlockID != "" {
		return fmt.Sprintf("unit %s is blocked %s (block %s), requested %s",
			e.UnitID, e.Existing, e.BlockID, e.Requested)
	}
	return fmt.Sprintf("unit %s is booked %s (reservation %d), requested %s",
		e.UnitID, e.Existing, e.ReservationID, e.Requested)
}

func (e *ConflictError) Unwrap() error { return ErrOverlap }

// TransitionError reports an operation attempted from a status that does not
// allow it.
type TransitionError struct {
	ReservationID ReservationID
	From          Status
	Op            string
	Err           error // ErrAlreadyCanceled, ErrAlreadyPaid or ErrInvalidTransition
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s reservation %d in status %s: %v", e.Op, e.ReservationID, e.From, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// GatewayFailure wraps an error returned by the payment gateway. Timeout
// selects the class (ErrGatewayTimeout vs ErrGatewayError).
type GatewayFailure struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *GatewayFailure) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayFailure) Unwrap() []error {
	if e.Timeout {
		return []error{ErrGatewayTimeout, e.Err}
	}
	return []error{ErrGatewayError, e.Err}
}

// AuthorizationError means no valid payment hold exists for the reservation.
// The reservation was persisted as AuthorizationFailed.
type AuthorizationError struct {
	ReservationID ReservationID
	Cause         error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("payment authorization failed for reservation %d: %v", e.ReservationID, e.Cause)
}

func (e *AuthorizationError) Unwrap() []error {
	return []error{ErrAuthorizationFailed, e.Cause}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's input or the
// current state of the resource.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict returns true for overlap and state conflicts.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsGatewayFailure returns true for timeouts and gateway-side errors.
func IsGatewayFailure(err error) bool {
	return errors.Is(err, ErrGatewayTimeout) || errors.Is(err, ErrGatewayError)
}
