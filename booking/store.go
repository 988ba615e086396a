/*
store.go - Persistence ports for the reservation engine

PURPOSE:
  Defines the interface between the engine and the database. Services only
  depend on these interfaces; SQLite and in-memory implementations satisfy
  them.

KEY INTERFACES:
  InventoryStore:   Properties, units and manual blocks
  ReservationStore: Reservations and the occupancy query
  PersonStore:      Guest contact records, upserted by email, searched by name
  CallbackLog:      Processed gateway event ids
  TxStore:          All of the above plus WithTx for atomic check-then-write
  SequenceStore:    Durable named counters

ATOMICITY:
  The availability check and the reservation write for one unit happen
  inside a single WithTx. Implementations must serialize overlapping
  transactions (SQLite does this with a single writer connection, the
  memory store with a mutex).

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - booking/store/memory.go: In-memory for tests and local runs
  - store/redisseq/redis.go: Redis-backed SequenceStore

SEE ALSO:
  - reservation.go: the transactional create/modify/cancel paths
  - sequence.go: Sequencer on top of SequenceStore
*/
package booking

import (
	"context"
	"time"
)

// =============================================================================
// INVENTORY
// =============================================================================

type InventoryStore interface {
	SaveProperty(ctx context.Context, p Property) error
	GetProperty(ctx context.Context, id PropertyID) (*Property, error)
	ListProperties(ctx context.Context) ([]Property, error)
	// DeleteProperty removes the property, its units and their blocks.
	DeleteProperty(ctx context.Context, id PropertyID) error

	// SaveUnit inserts or updates. A name already used by another unit
	// returns ErrDuplicateUnitName.
	SaveUnit(ctx context.Context, u Unit) error
	GetUnit(ctx context.Context, id UnitID) (*Unit, error)
	GetUnitByName(ctx context.Context, name string) (*Unit, error)
	// ListUnits returns units with their blocks. Empty propertyID means all.
	ListUnits(ctx context.Context, propertyID PropertyID) ([]Unit, error)

	AddBlock(ctx context.Context, b Block) error
	RemoveBlock(ctx context.Context, unitID UnitID, blockID BlockID) error
}

// =============================================================================
// RESERVATIONS
// =============================================================================

type ReservationStore interface {
	// CreateReservation fails with ErrDuplicateReservation if the id or
	// token already exists.
	CreateReservation(ctx context.Context, r Reservation) error
	UpdateReservation(ctx context.Context, r Reservation) error
	GetReservation(ctx context.Context, id ReservationID) (*Reservation, error)
	// ListReservations returns all reservations, newest first.
	ListReservations(ctx context.Context) ([]Reservation, error)

	// OccupyingReservations returns reservations in an occupying status whose
	// stay overlaps s. Empty unitID means every unit.
	OccupyingReservations(ctx context.Context, unitID UnitID, s Stay) ([]Reservation, error)

	// ListPendingSetups returns Pending reservations waiting on a setup
	// handshake that expired before the given instant.
	ListPendingSetups(ctx context.Context, before time.Time) ([]Reservation, error)
}

// =============================================================================
// PEOPLE / CALLBACKS
// =============================================================================

type PersonStore interface {
	UpsertPerson(ctx context.Context, p Person) error
	// SearchPeople matches name case-insensitively as a substring, ordered
	// by name. An empty name returns everyone.
	SearchPeople(ctx context.Context, name string) ([]Person, error)
	// DeletePerson removes the record for an email. Reservations keep their
	// own copy of the guest details.
	DeletePerson(ctx context.Context, email string) error
}

type CallbackLog interface {
	HasCallback(ctx context.Context, eventID string) (bool, error)
	// RecordCallback returns ErrDuplicateCallback if already recorded.
	RecordCallback(ctx context.Context, rec CallbackRecord) error
}

// =============================================================================
// COMBINED / TRANSACTIONAL
// =============================================================================

// Store is everything a transaction body needs.
type Store interface {
	InventoryStore
	ReservationStore
	PersonStore
	CallbackLog
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// SEQUENCES
// =============================================================================

// SequenceStore hands out strictly increasing integers per name. The
// increment and read are one atomic operation; the first value is 1.
type SequenceStore interface {
	NextSequence(ctx context.Context, name string) (int64, error)
}
