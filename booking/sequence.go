package booking

import (
	"context"
	"fmt"
	"strings"
)

// ReservationSequence names the counter reservation ids are drawn from.
const ReservationSequence = "reservation_id"

// Sequencer allocates unique, monotonically increasing integers per name.
// Values may be skipped (a failed booking burns its id) but never reused.
type Sequencer struct {
	Store SequenceStore
}

func NewSequencer(store SequenceStore) *Sequencer {
	return &Sequencer{Store: store}
}

// Next returns the next value for name. Storage failures are returned to the
// caller as-is; there is no retry, since a retried increment could skip or
// double-allocate depending on where it failed.
func (s *Sequencer) Next(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrEmptySequence
	}
	v, err := s.Store.NextSequence(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("next %s: %w", name, err)
	}
	return v, nil
}

// NextReservationID draws from the reservation counter.
func (s *Sequencer) NextReservationID(ctx context.Context) (ReservationID, error) {
	v, err := s.Next(ctx, ReservationSequence)
	if err != nil {
		return 0, err
	}
	return ReservationID(v), nil
}
