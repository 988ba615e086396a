package booking

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AVAILABILITY ENGINE - Which units are free for a stay
// =============================================================================

type SearchQuery struct {
	Arrival   Date
	Departure Date
	// RequireMatch turns an empty result into ErrNoAvailability.
	RequireMatch bool
}

// PropertyAvailability groups the free units of one property. Total is the
// sum of unit.Rate * Nights over Units; it is advisory display data.
type PropertyAvailability struct {
	Property Property
	Units    []Unit
	Nights   int
	Total    decimal.Decimal
}

type AvailabilityEngine struct {
	Store Store
	Clock Clock
}

func NewAvailabilityEngine(store Store, clock Clock) *AvailabilityEngine {
	return &AvailabilityEngine{Store: store, Clock: clock}
}

// Search returns properties with at least one unit free of occupying
// reservations and manual blocks for [Arrival, Departure). Results are
// sorted by property name, units by unit name.
func (e *AvailabilityEngine) Search(ctx context.Context, q SearchQuery) ([]PropertyAvailability, error) {
	stay := Stay{Arrival: q.Arrival, Departure: q.Departure}
	today := DateOf(clockOr(e.Clock).Now())
	if err := stay.ValidateBookable(today); err != nil {
		return nil, err
	}

	busy, err := e.Store.OccupyingReservations(ctx, "", stay)
	if err != nil {
		return nil, err
	}
	booked := make(map[UnitID]bool, len(busy))
	for _, r := range busy {
		booked[r.UnitID] = true
	}

	properties, err := e.Store.ListProperties(ctx)
	if err != nil {
		return nil, err
	}
	units, err := e.Store.ListUnits(ctx, "")
	if err != nil {
		return nil, err
	}

	free := make(map[PropertyID][]Unit)
	for _, u := range units {
		if booked[u.ID] {
			continue
		}
		if _, blocked := u.BlockedDuring(stay); blocked {
			continue
		}
		free[u.PropertyID] = append(free[u.PropertyID], u)
	}

	nights := stay.Nights()
	var out []PropertyAvailability
	for _, p := range properties {
		group := free[p.ID]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })
		total := decimal.Zero
		for _, u := range group {
			_, t := PriceStay(u.Rate, stay)
			total = total.Add(t)
		}
		out = append(out, PropertyAvailability{Property: p, Units: group, Nights: nights, Total: total})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Property.Name < out[j].Property.Name })

	if len(out) == 0 && q.RequireMatch {
		return nil, ErrNoAvailability
	}
	return out, nil
}

// checkUnitFree is the authoritative commit-time overlap check. It must run
// inside the same WithTx as the write it guards. exclude skips the
// reservation being modified.
func checkUnitFree(ctx context.Context, s Store, u *Unit, stay Stay, exclude ReservationID) error {
	if b, blocked := u.BlockedDuring(stay); blocked {
		return &ConflictError{UnitID: u.ID, Requested: stay, Existing: b.Stay, BlockID: b.ID}
	}
	existing, err := s.OccupyingReservations(ctx, u.ID, stay)
	if err != nil {
		return err
	}
	for _, r := range existing {
		if r.ID == exclude {
			continue
		}
		return &ConflictError{UnitID: u.ID, Requested: stay, Existing: r.Stay, ReservationID: r.ID}
	}
	return nil
}
