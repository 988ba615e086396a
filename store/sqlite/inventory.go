package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// PROPERTIES
// =============================================================================

func (s queries) SaveProperty(ctx context.Context, p booking.Property) error {
	ids := p.UnitIDs
	if ids == nil {
		ids = []booking.UnitID{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO properties (id, name, location, rate, unit_ids_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			rate = excluded.rate,
			unit_ids_json = excluded.unit_ids_json,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, p.Location, p.Rate.String(), string(idsJSON), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save property: %w", err)
	}
	return nil
}

const propertyColumns = `id, name, location, rate, unit_ids_json, created_at, updated_at`

func scanProperty(row scanner) (booking.Property, error) {
	var p booking.Property
	var rate, idsJSON, created, updated string
	if err := row.Scan(&p.ID, &p.Name, &p.Location, &rate, &idsJSON, &created, &updated); err != nil {
		return p, err
	}
	p.Rate = parseDecimal(rate)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	if err := json.Unmarshal([]byte(idsJSON), &p.UnitIDs); err != nil {
		return p, fmt.Errorf("property %s unit ids: %w", p.ID, err)
	}
	return p, nil
}

func (s queries) GetProperty(ctx context.Context, id booking.PropertyID) (*booking.Property, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id)
	p, err := scanProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrPropertyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s queries) ListProperties(ctx context.Context) ([]booking.Property, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+propertyColumns+` FROM properties ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProperty relies on ON DELETE CASCADE for units and blocks.
func (s queries) DeleteProperty(ctx context.Context, id booking.PropertyID) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM properties WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete property: %w", err)
	}
	return rowsAffected(res, booking.ErrPropertyNotFound)
}

// =============================================================================
// UNITS
// =============================================================================

func (s queries) SaveUnit(ctx context.Context, u booking.Unit) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO units (id, property_id, name, rate, capacity, bedrooms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			rate = excluded.rate,
			capacity = excluded.capacity,
			bedrooms = excluded.bedrooms,
			updated_at = excluded.updated_at
	`, u.ID, u.PropertyID, u.Name, u.Rate.String(), u.Capacity, u.Bedrooms, formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return booking.ErrDuplicateUnitName
		}
		return fmt.Errorf("failed to save unit: %w", err)
	}
	return nil
}

const unitColumns = `id, property_id, name, rate, capacity, bedrooms, created_at, updated_at`

func scanUnit(row scanner) (booking.Unit, error) {
	var u booking.Unit
	var rate, created, updated string
	if err := row.Scan(&u.ID, &u.PropertyID, &u.Name, &rate, &u.Capacity, &u.Bedrooms, &created, &updated); err != nil {
		return u, err
	}
	u.Rate = parseDecimal(rate)
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)
	return u, nil
}

func (s queries) getUnitWhere(ctx context.Context, where string, arg any) (*booking.Unit, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE `+where, arg)
	u, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrUnitNotFound
	}
	if err != nil {
		return nil, err
	}
	blocks, err := s.blocksFor(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Blocks = blocks
	return &u, nil
}

func (s queries) GetUnit(ctx context.Context, id booking.UnitID) (*booking.Unit, error) {
	return s.getUnitWhere(ctx, `id = ?`, id)
}

// GetUnitByName matches case-insensitively through the column collation.
func (s queries) GetUnitByName(ctx context.Context, name string) (*booking.Unit, error) {
	return s.getUnitWhere(ctx, `name = ?`, name)
}

func (s queries) ListUnits(ctx context.Context, propertyID booking.PropertyID) ([]booking.Unit, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+unitColumns+` FROM units
		WHERE ? = '' OR property_id = ?
		ORDER BY name
	`, propertyID, propertyID)
	if err != nil {
		return nil, err
	}
	var units []booking.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		units = append(units, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	blocks, err := s.allBlocks(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	for i := range units {
		units[i].Blocks = blocks[units[i].ID]
	}
	return units, nil
}

// =============================================================================
// BLOCKS
// =============================================================================

func (s queries) AddBlock(ctx context.Context, b booking.Block) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO blocks (id, unit_id, arrival, departure, reason) VALUES (?, ?, ?, ?, ?)
	`, b.ID, b.UnitID, b.Stay.Arrival.String(), b.Stay.Departure.String(), b.Reason)
	if err != nil {
		if isForeignKeyError(err) {
			return booking.ErrUnitNotFound
		}
		return fmt.Errorf("failed to add block: %w", err)
	}
	return nil
}

func (s queries) RemoveBlock(ctx context.Context, unitID booking.UnitID, blockID booking.BlockID) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM blocks WHERE id = ? AND unit_id = ?`, blockID, unitID)
	if err != nil {
		return fmt.Errorf("failed to remove block: %w", err)
	}
	return rowsAffected(res, booking.ErrBlockNotFound)
}

func scanBlock(row scanner) (booking.Block, error) {
	var b booking.Block
	var arrival, departure string
	if err := row.Scan(&b.ID, &b.UnitID, &arrival, &departure, &b.Reason); err != nil {
		return b, err
	}
	b.Stay = booking.Stay{Arrival: parseDate(arrival), Departure: parseDate(departure)}
	return b, nil
}

func (s queries) blocksFor(ctx context.Context, unitID booking.UnitID) ([]booking.Block, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, unit_id, arrival, departure, reason FROM blocks
		WHERE unit_id = ? ORDER BY arrival
	`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s queries) allBlocks(ctx context.Context, propertyID booking.PropertyID) (map[booking.UnitID][]booking.Block, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT b.id, b.unit_id, b.arrival, b.departure, b.reason
		FROM blocks b JOIN units u ON u.id = b.unit_id
		WHERE ? = '' OR u.property_id = ?
		ORDER BY b.arrival
	`, propertyID, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[booking.UnitID][]booking.Block)
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out[b.UnitID] = append(out[b.UnitID], b)
	}
	return out, rows.Err()
}
