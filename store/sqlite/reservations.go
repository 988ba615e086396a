package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// RESERVATIONS
// =============================================================================

const reservationColumns = `
	id, unit_id, unit_name, rate,
	guest_name, guest_email, guest_phone, guest_country, guest_city, guest_street,
	arrival, departure, nights, total, hold_amount, token, status,
	payment_state, customer_ref, method_ref, setup_ref, setup_expires_at,
	hold_ref, idempotency_key, captured, refunded_at, failure_reason,
	created_at, updated_at`

func reservationArgs(r booking.Reservation) []any {
	p := r.Payment
	return []any{
		int64(r.ID), r.UnitID, r.UnitName, r.Rate.String(),
		r.Guest.Name, r.Guest.Email, r.Guest.Phone, r.Guest.Country, r.Guest.City, r.Guest.StreetAddress,
		r.Stay.Arrival.String(), r.Stay.Departure.String(), r.Nights, r.Total.String(), r.HoldAmount.String(),
		r.Token, string(r.Status),
		string(p.State), p.CustomerRef, p.MethodRef, p.SetupRef, formatTime(p.SetupExpiresAt),
		p.HoldRef, p.IdempotencyKey, p.Captured.String(), formatTime(p.RefundedAt), p.FailureReason,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	}
}

func scanReservation(row scanner) (booking.Reservation, error) {
	var r booking.Reservation
	var id int64
	var rate, total, holdAmount, captured string
	var arrival, departure, status, state string
	var setupExpires, refunded, created, updated string
	err := row.Scan(
		&id, &r.UnitID, &r.UnitName, &rate,
		&r.Guest.Name, &r.Guest.Email, &r.Guest.Phone, &r.Guest.Country, &r.Guest.City, &r.Guest.StreetAddress,
		&arrival, &departure, &r.Nights, &total, &holdAmount, &r.Token, &status,
		&state, &r.Payment.CustomerRef, &r.Payment.MethodRef, &r.Payment.SetupRef, &setupExpires,
		&r.Payment.HoldRef, &r.Payment.IdempotencyKey, &captured, &refunded, &r.Payment.FailureReason,
		&created, &updated,
	)
	if err != nil {
		return r, err
	}
	r.ID = booking.ReservationID(id)
	r.Rate = parseDecimal(rate)
	r.Total = parseDecimal(total)
	r.HoldAmount = parseDecimal(holdAmount)
	r.Stay = booking.Stay{Arrival: parseDate(arrival), Departure: parseDate(departure)}
	r.Status = booking.Status(status)
	r.Payment.State = booking.PaymentState(state)
	r.Payment.SetupExpiresAt = parseTime(setupExpires)
	r.Payment.Captured = parseDecimal(captured)
	r.Payment.RefundedAt = parseTime(refunded)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}

func (s queries) CreateReservation(ctx context.Context, r booking.Reservation) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, reservationArgs(r)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return booking.ErrDuplicateReservation
		}
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

// UpdateReservation rewrites every mutable column. Id, token and creation
// time are fixed at booking.
func (s queries) UpdateReservation(ctx context.Context, r booking.Reservation) error {
	p := r.Payment
	res, err := s.q.ExecContext(ctx, `
		UPDATE reservations SET
			unit_id = ?, unit_name = ?, rate = ?,
			guest_name = ?, guest_email = ?, guest_phone = ?, guest_country = ?, guest_city = ?, guest_street = ?,
			arrival = ?, departure = ?, nights = ?, total = ?, hold_amount = ?, status = ?,
			payment_state = ?, customer_ref = ?, method_ref = ?, setup_ref = ?, setup_expires_at = ?,
			hold_ref = ?, idempotency_key = ?, captured = ?, refunded_at = ?, failure_reason = ?,
			updated_at = ?
		WHERE id = ?
	`,
		r.UnitID, r.UnitName, r.Rate.String(),
		r.Guest.Name, r.Guest.Email, r.Guest.Phone, r.Guest.Country, r.Guest.City, r.Guest.StreetAddress,
		r.Stay.Arrival.String(), r.Stay.Departure.String(), r.Nights, r.Total.String(), r.HoldAmount.String(), string(r.Status),
		string(p.State), p.CustomerRef, p.MethodRef, p.SetupRef, formatTime(p.SetupExpiresAt),
		p.HoldRef, p.IdempotencyKey, p.Captured.String(), formatTime(p.RefundedAt), p.FailureReason,
		formatTime(r.UpdatedAt),
		int64(r.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	return rowsAffected(res, booking.ErrReservationNotFound)
}

func (s queries) GetReservation(ctx context.Context, id booking.ReservationID) (*booking.Reservation, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, int64(id))
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s queries) ListReservations(ctx context.Context) ([]booking.Reservation, error) {
	return s.listReservations(ctx, `SELECT `+reservationColumns+` FROM reservations ORDER BY id DESC`)
}

// OccupyingReservations compares dates as text; YYYY-MM-DD sorts like the
// calendar. An empty unitID matches every unit.
func (s queries) OccupyingReservations(ctx context.Context, unitID booking.UnitID, stay booking.Stay) ([]booking.Reservation, error) {
	return s.listReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status IN (?, ?, ?)
			AND (? = '' OR unit_id = ?)
			AND arrival < ? AND departure > ?
		ORDER BY id
	`,
		string(booking.StatusPending), string(booking.StatusConfirmed), string(booking.StatusPaid),
		unitID, unitID,
		stay.Departure.String(), stay.Arrival.String(),
	)
}

func (s queries) ListPendingSetups(ctx context.Context, before time.Time) ([]booking.Reservation, error) {
	return s.listReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = ? AND payment_state = ?
			AND setup_expires_at != '' AND setup_expires_at < ?
		ORDER BY id
	`, string(booking.StatusPending), string(booking.PaymentSetupPending), formatTime(before))
}

func (s queries) listReservations(ctx context.Context, query string, args ...any) ([]booking.Reservation, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// PEOPLE
// =============================================================================

func (s queries) UpsertPerson(ctx context.Context, p booking.Person) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO people (email, name, phone, country, city, street_address, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			country = excluded.country,
			city = excluded.city,
			street_address = excluded.street_address,
			updated_at = excluded.updated_at
	`, booking.NormalizeEmail(p.Email), p.Name, p.Phone, p.Country, p.City, p.StreetAddress, formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert person: %w", err)
	}
	return nil
}

// SearchPeople escapes LIKE wildcards so a name is matched literally.
func (s queries) SearchPeople(ctx context.Context, name string) ([]booking.Person, error) {
	pattern := "%" + likeEscaper.Replace(strings.TrimSpace(name)) + "%"
	rows, err := s.q.QueryContext(ctx, `
		SELECT email, name, phone, country, city, street_address, updated_at
		FROM people
		WHERE name LIKE ? ESCAPE '\'
		ORDER BY name, email
	`, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search people: %w", err)
	}
	defer rows.Close()

	out := make([]booking.Person, 0)
	for rows.Next() {
		var p booking.Person
		var updatedAt string
		if err := rows.Scan(&p.Email, &p.Name, &p.Phone, &p.Country, &p.City, &p.StreetAddress, &updatedAt); err != nil {
			return nil, err
		}
		p.UpdatedAt = parseTime(updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s queries) DeletePerson(ctx context.Context, email string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM people WHERE email = ?`, booking.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("failed to delete person: %w", err)
	}
	return rowsAffected(res, booking.ErrPersonNotFound)
}

// =============================================================================
// CALLBACK LOG
// =============================================================================

func (s queries) HasCallback(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM callbacks WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s queries) RecordCallback(ctx context.Context, rec booking.CallbackRecord) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO callbacks (event_id, event_type, reservation_id, received_at) VALUES (?, ?, ?, ?)
	`, rec.EventID, string(rec.Type), int64(rec.ReservationID), formatTime(rec.ReceivedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return booking.ErrDuplicateCallback
		}
		return fmt.Errorf("failed to record callback: %w", err)
	}
	return nil
}
