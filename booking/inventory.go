/*
inventory.go - Properties, units and manual blocks

PURPOSE:
  Admin-side management of the two-level inventory. Every write that touches
  more than one record (unit create + property rate, property delete
  cascade) runs inside one WithTx.

RATE DERIVATION:
  A property's displayed rate is the rate of the first unit in its ordered
  unit list, or zero when it has none. It is re-derived whenever a unit is
  created or updated. Bookings always price from the unit, never from the
  property.

BLOCKS:
  A new block must not overlap another block on the same unit. Blocks are
  independent of reservations: blocking dates a guest already booked is an
  admin decision and is allowed.
*/
package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// INPUTS
// =============================================================================

type PropertyInput struct {
	Name     string
	Location string
}

func (in PropertyInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &FieldError{Field: "name", Message: "is required"}
	}
	return nil
}

type UnitInput struct {
	PropertyID PropertyID
	Name       string
	Rate       decimal.Decimal
	Capacity   int
	Bedrooms   int
}

func (in UnitInput) validate() error {
	if in.PropertyID == "" {
		return &FieldError{Field: "property_id", Message: "is required"}
	}
	if strings.TrimSpace(in.Name) == "" {
		return &FieldError{Field: "name", Message: "is required"}
	}
	return validateUnitAttrs(in.Rate, in.Capacity, in.Bedrooms)
}

// UnitUpdate changes only the fields that are set.
type UnitUpdate struct {
	Name     *string
	Rate     *decimal.Decimal
	Capacity *int
	Bedrooms *int
}

func validateUnitAttrs(rate decimal.Decimal, capacity, bedrooms int) error {
	if !rate.IsPositive() {
		return &FieldError{Field: "rate", Message: "must be greater than zero"}
	}
	if capacity < 1 {
		return &FieldError{Field: "capacity", Message: "must be at least 1"}
	}
	if bedrooms < 0 {
		return &FieldError{Field: "bedrooms", Message: "must not be negative"}
	}
	return nil
}

// =============================================================================
// INVENTORY SERVICE
// =============================================================================

type Inventory struct {
	Store TxStore
	Clock Clock
	Log   logrus.FieldLogger
}

func NewInventory(store TxStore, clock Clock, log logrus.FieldLogger) *Inventory {
	return &Inventory{Store: store, Clock: clock, Log: log}
}

func (inv *Inventory) CreateProperty(ctx context.Context, in PropertyInput) (*Property, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := clockOr(inv.Clock).Now()
	p := Property{
		ID:        NewPropertyID(),
		Name:      strings.TrimSpace(in.Name),
		Location:  strings.TrimSpace(in.Location),
		Rate:      decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := inv.Store.SaveProperty(ctx, p); err != nil {
		return nil, fmt.Errorf("save property: %w", err)
	}
	logOr(inv.Log).WithFields(logrus.Fields{"property_id": p.ID, "name": p.Name}).Info("property created")
	return &p, nil
}

func (inv *Inventory) UpdateProperty(ctx context.Context, id PropertyID, in PropertyInput) (*Property, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var out *Property
	err := inv.Store.WithTx(ctx, func(s Store) error {
		p, err := s.GetProperty(ctx, id)
		if err != nil {
			return err
		}
		p.Name = strings.TrimSpace(in.Name)
		p.Location = strings.TrimSpace(in.Location)
		p.UpdatedAt = clockOr(inv.Clock).Now()
		if err := s.SaveProperty(ctx, *p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (inv *Inventory) GetProperty(ctx context.Context, id PropertyID) (*Property, error) {
	return inv.Store.GetProperty(ctx, id)
}

func (inv *Inventory) ListProperties(ctx context.Context) ([]Property, error) {
	return inv.Store.ListProperties(ctx)
}

// DeleteProperty removes the property and cascades to its units and their
// blocks. Reservations keep their denormalized unit name and rate.
func (inv *Inventory) DeleteProperty(ctx context.Context, id PropertyID) error {
	err := inv.Store.WithTx(ctx, func(s Store) error {
		return s.DeleteProperty(ctx, id)
	})
	if err != nil {
		return err
	}
	logOr(inv.Log).WithField("property_id", id).Info("property deleted")
	return nil
}

func (inv *Inventory) CreateUnit(ctx context.Context, in UnitInput) (*Unit, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := clockOr(inv.Clock).Now()
	u := Unit{
		ID:         NewUnitID(),
		PropertyID: in.PropertyID,
		Name:       strings.TrimSpace(in.Name),
		Rate:       in.Rate,
		Capacity:   in.Capacity,
		Bedrooms:   in.Bedrooms,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := inv.Store.WithTx(ctx, func(s Store) error {
		p, err := s.GetProperty(ctx, in.PropertyID)
		if err != nil {
			return err
		}
		if err := s.SaveUnit(ctx, u); err != nil {
			return err
		}
		p.UnitIDs = append(p.UnitIDs, u.ID)
		return inv.rederive(ctx, s, p)
	})
	if err != nil {
		return nil, err
	}
	logOr(inv.Log).WithFields(logrus.Fields{
		"unit_id":     u.ID,
		"property_id": u.PropertyID,
		"name":        u.Name,
		"rate":        u.Rate.String(),
	}).Info("unit created")
	return &u, nil
}

func (inv *Inventory) UpdateUnit(ctx context.Context, id UnitID, upd UnitUpdate) (*Unit, error) {
	var out *Unit
	err := inv.Store.WithTx(ctx, func(s Store) error {
		u, err := s.GetUnit(ctx, id)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return &FieldError{Field: "name", Message: "must not be empty"}
			}
			u.Name = name
		}
		if upd.Rate != nil {
			u.Rate = *upd.Rate
		}
		if upd.Capacity != nil {
			u.Capacity = *upd.Capacity
		}
		if upd.Bedrooms != nil {
			u.Bedrooms = *upd.Bedrooms
		}
		if err := validateUnitAttrs(u.Rate, u.Capacity, u.Bedrooms); err != nil {
			return err
		}
		u.UpdatedAt = clockOr(inv.Clock).Now()
		if err := s.SaveUnit(ctx, *u); err != nil {
			return err
		}
		p, err := s.GetProperty(ctx, u.PropertyID)
		if err != nil {
			return err
		}
		if err := inv.rederive(ctx, s, p); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (inv *Inventory) GetUnit(ctx context.Context, id UnitID) (*Unit, error) {
	return inv.Store.GetUnit(ctx, id)
}

func (inv *Inventory) ListUnits(ctx context.Context, propertyID PropertyID) ([]Unit, error) {
	if propertyID != "" {
		if _, err := inv.Store.GetProperty(ctx, propertyID); err != nil {
			return nil, err
		}
	}
	return inv.Store.ListUnits(ctx, propertyID)
}

// rederive sets the property rate from its first unit and saves it.
func (inv *Inventory) rederive(ctx context.Context, s Store, p *Property) error {
	p.Rate = decimal.Zero
	if len(p.UnitIDs) > 0 {
		first, err := s.GetUnit(ctx, p.UnitIDs[0])
		if err != nil {
			return fmt.Errorf("derive rate for property %s: %w", p.ID, err)
		}
		p.Rate = first.Rate
	}
	p.UpdatedAt = clockOr(inv.Clock).Now()
	return s.SaveProperty(ctx, *p)
}

// =============================================================================
// MANUAL BLOCKS
// =============================================================================

func (inv *Inventory) AddBlock(ctx context.Context, unitID UnitID, stay Stay, reason string) (*Block, error) {
	if err := stay.Validate(); err != nil {
		return nil, err
	}
	b := Block{ID: NewBlockID(), UnitID: unitID, Stay: stay, Reason: strings.TrimSpace(reason)}
	err := inv.Store.WithTx(ctx, func(s Store) error {
		u, err := s.GetUnit(ctx, unitID)
		if err != nil {
			return err
		}
		if existing, ok := u.BlockedDuring(stay); ok {
			return &ConflictError{UnitID: unitID, Requested: stay, Existing: existing.Stay, BlockID: existing.ID}
		}
		return s.AddBlock(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	logOr(inv.Log).WithFields(logrus.Fields{
		"unit_id":  unitID,
		"block_id": b.ID,
		"stay":     stay.String(),
	}).Info("block added")
	return &b, nil
}

func (inv *Inventory) RemoveBlock(ctx context.Context, unitID UnitID, blockID BlockID) error {
	return inv.Store.WithTx(ctx, func(s Store) error {
		return s.RemoveBlock(ctx, unitID, blockID)
	})
}
