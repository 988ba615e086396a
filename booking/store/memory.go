// Package store provides in-process booking.TxStore implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements booking.TxStore and booking.SequenceStore. A single
// mutex serializes every call, so a WithTx body sees a stable state.
type Memory struct {
	mu sync.Mutex
	st *memState
}

func NewMemory() *Memory {
	return &Memory{st: newMemState()}
}

var (
	_ booking.TxStore       = (*Memory)(nil)
	_ booking.SequenceStore = (*Memory)(nil)
)

// WithTx executes fn within a transaction.
// Simulated with a snapshot + restore on error.
func (m *Memory) WithTx(ctx context.Context, fn func(booking.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *Memory) NextSequence(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.sequences[name]++
	return m.st.sequences[name], nil
}

func (m *Memory) SaveProperty(ctx context.Context, p booking.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveProperty(ctx, p)
}

func (m *Memory) GetProperty(ctx context.Context, id booking.PropertyID) (*booking.Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetProperty(ctx, id)
}

func (m *Memory) ListProperties(ctx context.Context) ([]booking.Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListProperties(ctx)
}

func (m *Memory) DeleteProperty(ctx context.Context, id booking.PropertyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteProperty(ctx, id)
}

func (m *Memory) SaveUnit(ctx context.Context, u booking.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveUnit(ctx, u)
}

func (m *Memory) GetUnit(ctx context.Context, id booking.UnitID) (*booking.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetUnit(ctx, id)
}

func (m *Memory) GetUnitByName(ctx context.Context, name string) (*booking.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetUnitByName(ctx, name)
}

func (m *Memory) ListUnits(ctx context.Context, propertyID booking.PropertyID) ([]booking.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListUnits(ctx, propertyID)
}

func (m *Memory) AddBlock(ctx context.Context, b booking.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AddBlock(ctx, b)
}

func (m *Memory) RemoveBlock(ctx context.Context, unitID booking.UnitID, blockID booking.BlockID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.RemoveBlock(ctx, unitID, blockID)
}

func (m *Memory) CreateReservation(ctx context.Context, r booking.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CreateReservation(ctx, r)
}

func (m *Memory) UpdateReservation(ctx context.Context, r booking.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateReservation(ctx, r)
}

func (m *Memory) GetReservation(ctx context.Context, id booking.ReservationID) (*booking.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetReservation(ctx, id)
}

func (m *Memory) ListReservations(ctx context.Context) ([]booking.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListReservations(ctx)
}

func (m *Memory) OccupyingReservations(ctx context.Context, unitID booking.UnitID, s booking.Stay) ([]booking.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.OccupyingReservations(ctx, unitID, s)
}

func (m *Memory) ListPendingSetups(ctx context.Context, before time.Time) ([]booking.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListPendingSetups(ctx, before)
}

func (m *Memory) UpsertPerson(ctx context.Context, p booking.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpsertPerson(ctx, p)
}

func (m *Memory) SearchPeople(ctx context.Context, name string) ([]booking.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SearchPeople(ctx, name)
}

func (m *Memory) DeletePerson(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeletePerson(ctx, email)
}

func (m *Memory) HasCallback(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.HasCallback(ctx, eventID)
}

func (m *Memory) RecordCallback(ctx context.Context, rec booking.CallbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.RecordCallback(ctx, rec)
}

// People returns the stored person records, for inspection in tests.
func (m *Memory) People() map[string]booking.Person {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]booking.Person, len(m.st.people))
	for k, v := range m.st.people {
		out[k] = v
	}
	return out
}

// =============================================================================
// STATE - Unlocked view handed to WithTx bodies
// =============================================================================

type memState struct {
	properties   map[booking.PropertyID]booking.Property
	units        map[booking.UnitID]booking.Unit
	reservations map[booking.ReservationID]booking.Reservation
	tokens       map[string]booking.ReservationID
	people       map[string]booking.Person
	callbacks    map[string]booking.CallbackRecord
	sequences    map[string]int64
}

func newMemState() *memState {
	return &memState{
		properties:   make(map[booking.PropertyID]booking.Property),
		units:        make(map[booking.UnitID]booking.Unit),
		reservations: make(map[booking.ReservationID]booking.Reservation),
		tokens:       make(map[string]booking.ReservationID),
		people:       make(map[string]booking.Person),
		callbacks:    make(map[string]booking.CallbackRecord),
		sequences:    make(map[string]int64),
	}
}

// clone deep-copies everything mutable. Sequences are included so a rolled
// back transaction behaves like a rolled back SQL transaction; the
// reservation id counter is advanced outside WithTx and is unaffected.
func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.properties {
		c.properties[k] = copyProperty(v)
	}
	for k, v := range s.units {
		c.units[k] = copyUnit(v)
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.people {
		c.people[k] = v
	}
	for k, v := range s.callbacks {
		c.callbacks[k] = v
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	return c
}

func copyProperty(p booking.Property) booking.Property {
	p.UnitIDs = append([]booking.UnitID(nil), p.UnitIDs...)
	return p
}

func copyUnit(u booking.Unit) booking.Unit {
	u.Blocks = append([]booking.Block(nil), u.Blocks...)
	return u
}

func (s *memState) SaveProperty(_ context.Context, p booking.Property) error {
	s.properties[p.ID] = copyProperty(p)
	return nil
}

func (s *memState) GetProperty(_ context.Context, id booking.PropertyID) (*booking.Property, error) {
	p, ok := s.properties[id]
	if !ok {
		return nil, booking.ErrPropertyNotFound
	}
	p = copyProperty(p)
	return &p, nil
}

func (s *memState) ListProperties(_ context.Context) ([]booking.Property, error) {
	out := make([]booking.Property, 0, len(s.properties))
	for _, p := range s.properties {
		out = append(out, copyProperty(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memState) DeleteProperty(_ context.Context, id booking.PropertyID) error {
	if _, ok := s.properties[id]; !ok {
		return booking.ErrPropertyNotFound
	}
	for uid, u := range s.units {
		if u.PropertyID == id {
			delete(s.units, uid)
		}
	}
	delete(s.properties, id)
	return nil
}

func (s *memState) SaveUnit(_ context.Context, u booking.Unit) error {
	for id, other := range s.units {
		if id != u.ID && strings.EqualFold(other.Name, u.Name) {
			return booking.ErrDuplicateUnitName
		}
	}
	if existing, ok := s.units[u.ID]; ok {
		// Blocks are owned by AddBlock/RemoveBlock.
		u.Blocks = existing.Blocks
	} else {
		u.Blocks = nil
	}
	s.units[u.ID] = copyUnit(u)
	return nil
}

func (s *memState) GetUnit(_ context.Context, id booking.UnitID) (*booking.Unit, error) {
	u, ok := s.units[id]
	if !ok {
		return nil, booking.ErrUnitNotFound
	}
	u = copyUnit(u)
	return &u, nil
}

func (s *memState) GetUnitByName(_ context.Context, name string) (*booking.Unit, error) {
	for _, u := range s.units {
		if strings.EqualFold(u.Name, name) {
			u = copyUnit(u)
			return &u, nil
		}
	}
	return nil, booking.ErrUnitNotFound
}

func (s *memState) ListUnits(_ context.Context, propertyID booking.PropertyID) ([]booking.Unit, error) {
	var out []booking.Unit
	for _, u := range s.units {
		if propertyID == "" || u.PropertyID == propertyID {
			out = append(out, copyUnit(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memState) AddBlock(_ context.Context, b booking.Block) error {
	u, ok := s.units[b.UnitID]
	if !ok {
		return booking.ErrUnitNotFound
	}
	u.Blocks = append(append([]booking.Block(nil), u.Blocks...), b)
	sort.Slice(u.Blocks, func(i, j int) bool {
		return u.Blocks[i].Stay.Arrival.Before(u.Blocks[j].Stay.Arrival)
	})
	s.units[u.ID] = u
	return nil
}

func (s *memState) RemoveBlock(_ context.Context, unitID booking.UnitID, blockID booking.BlockID) error {
	u, ok := s.units[unitID]
	if !ok {
		return booking.ErrUnitNotFound
	}
	kept := make([]booking.Block, 0, len(u.Blocks))
	found := false
	for _, b := range u.Blocks {
		if b.ID == blockID {
			found = true
			continue
		}
		kept = append(kept, b)
	}
	if !found {
		return booking.ErrBlockNotFound
	}
	u.Blocks = kept
	s.units[unitID] = u
	return nil
}

func (s *memState) CreateReservation(_ context.Context, r booking.Reservation) error {
	if _, ok := s.reservations[r.ID]; ok {
		return booking.ErrDuplicateReservation
	}
	if _, ok := s.tokens[r.Token]; ok {
		return booking.ErrDuplicateReservation
	}
	s.reservations[r.ID] = r
	s.tokens[r.Token] = r.ID
	return nil
}

func (s *memState) UpdateReservation(_ context.Context, r booking.Reservation) error {
	if _, ok := s.reservations[r.ID]; !ok {
		return booking.ErrReservationNotFound
	}
	s.reservations[r.ID] = r
	return nil
}

func (s *memState) GetReservation(_ context.Context, id booking.ReservationID) (*booking.Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return nil, booking.ErrReservationNotFound
	}
	return &r, nil
}

func (s *memState) ListReservations(_ context.Context) ([]booking.Reservation, error) {
	out := make([]booking.Reservation, 0, len(s.reservations))
	for _, r := range s.reservations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memState) OccupyingReservations(_ context.Context, unitID booking.UnitID, stay booking.Stay) ([]booking.Reservation, error) {
	var out []booking.Reservation
	for _, r := range s.reservations {
		if unitID != "" && r.UnitID != unitID {
			continue
		}
		if r.OccupiesDuring(stay) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) ListPendingSetups(_ context.Context, before time.Time) ([]booking.Reservation, error) {
	var out []booking.Reservation
	for _, r := range s.reservations {
		if r.Status != booking.StatusPending || r.Payment.State != booking.PaymentSetupPending {
			continue
		}
		if !r.Payment.SetupExpiresAt.IsZero() && r.Payment.SetupExpiresAt.Before(before) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) UpsertPerson(_ context.Context, p booking.Person) error {
	p.Email = booking.NormalizeEmail(p.Email)
	s.people[p.Email] = p
	return nil
}

func (s *memState) SearchPeople(_ context.Context, name string) ([]booking.Person, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	out := make([]booking.Person, 0)
	for _, p := range s.people {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Email < out[j].Email
	})
	return out, nil
}

func (s *memState) DeletePerson(_ context.Context, email string) error {
	email = booking.NormalizeEmail(email)
	if _, ok := s.people[email]; !ok {
		return booking.ErrPersonNotFound
	}
	delete(s.people, email)
	return nil
}

func (s *memState) HasCallback(_ context.Context, eventID string) (bool, error) {
	_, ok := s.callbacks[eventID]
	return ok, nil
}

func (s *memState) RecordCallback(_ context.Context, rec booking.CallbackRecord) error {
	if _, ok := s.callbacks[rec.EventID]; ok {
		return booking.ErrDuplicateCallback
	}
	s.callbacks[rec.EventID] = rec
	return nil
}
