/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON contract. Domain types never cross the wire directly.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

VALIDATION:
  Request types carry go-playground/validator tags. Handlers run the
  validator before any domain call; the engine re-validates business rules
  (date order, arrival not in the past, positive rates).

DATES:
  Calendar dates are "YYYY-MM-DD" strings. Money is a decimal string.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// REQUESTS
// =============================================================================

type SearchRequest struct {
	Arrival      string `json:"arrival" validate:"required,datetime=2006-01-02"`
	Departure    string `json:"departure" validate:"required,datetime=2006-01-02"`
	RequireMatch bool   `json:"require_match"`
}

type GuestDTO struct {
	Name          string `json:"name" validate:"required,max=200"`
	Email         string `json:"email" validate:"required,email,max=254"`
	Phone         string `json:"phone,omitempty" validate:"max=40"`
	Country       string `json:"country,omitempty" validate:"max=100"`
	City          string `json:"city,omitempty" validate:"max=100"`
	StreetAddress string `json:"street_address,omitempty" validate:"max=300"`
}

type CreateReservationRequest struct {
	UnitName         string   `json:"unit_name" validate:"required,max=200"`
	Arrival          string   `json:"arrival" validate:"required,datetime=2006-01-02"`
	Departure        string   `json:"departure" validate:"required,datetime=2006-01-02"`
	Guest            GuestDTO `json:"guest"`
	PaymentMethodRef string   `json:"payment_method_ref,omitempty" validate:"max=255"`
	CustomerRef      string   `json:"customer_ref,omitempty" validate:"max=255"`
}

// ModifyReservationRequest changes only the fields present.
type ModifyReservationRequest struct {
	Token     string  `json:"token"`
	UnitName  *string `json:"unit_name,omitempty" validate:"omitempty,min=1,max=200"`
	Arrival   *string `json:"arrival,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Departure *string `json:"departure,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

type BatchCancelRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,max=500,dive,gt=0"`
}

type PropertyRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Location string `json:"location" validate:"max=300"`
}

type UnitRequest struct {
	PropertyID string          `json:"property_id" validate:"required"`
	Name       string          `json:"name" validate:"required,max=200"`
	Rate       decimal.Decimal `json:"rate"`
	Capacity   int             `json:"capacity" validate:"gte=1"`
	Bedrooms   int             `json:"bedrooms" validate:"gte=0"`
}

type UnitPatchRequest struct {
	Name     *string          `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Rate     *decimal.Decimal `json:"rate,omitempty"`
	Capacity *int             `json:"capacity,omitempty" validate:"omitempty,gte=1"`
	Bedrooms *int             `json:"bedrooms,omitempty" validate:"omitempty,gte=0"`
}

type BlockRequest struct {
	Arrival   string `json:"arrival" validate:"required,datetime=2006-01-02"`
	Departure string `json:"departure" validate:"required,datetime=2006-01-02"`
	Reason    string `json:"reason,omitempty" validate:"max=500"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ErrorResponse struct {
	Error    string       `json:"error"`
	Code     string       `json:"code"`
	Field    string       `json:"field,omitempty"`
	Conflict *ConflictDTO `json:"conflict,omitempty"`

	// Reservation is set when a create failed at payment authorization
	// and the reservation was kept in a terminal state.
	Reservation *ReservationDTO `json:"reservation,omitempty"`
}

// ConflictDTO names the interval that blocked the request. It never
// identifies the other guest's reservation.
type ConflictDTO struct {
	UnitID    string `json:"unit_id"`
	Arrival   string `json:"arrival"`
	Departure string `json:"departure"`
}

type ReservationDTO struct {
	ID           int64           `json:"id"`
	UnitID       string          `json:"unit_id"`
	UnitName     string          `json:"unit_name"`
	Rate         decimal.Decimal `json:"rate"`
	Guest        GuestDTO        `json:"guest"`
	Arrival      string          `json:"arrival"`
	Departure    string          `json:"departure"`
	Nights       int             `json:"nights"`
	Total        decimal.Decimal `json:"total"`
	HoldAmount   decimal.Decimal `json:"hold_amount"`
	Status       string          `json:"status"`
	PaymentState string          `json:"payment_state"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CreateReservationResponse is the only response that carries the token.
type CreateReservationResponse struct {
	Reservation ReservationDTO `json:"reservation"`
	Token       string         `json:"token"`
	AccessURL   string         `json:"access_url"`
	CheckoutURL string         `json:"checkout_url,omitempty"`
}

type BlockDTO struct {
	ID        string `json:"id"`
	Arrival   string `json:"arrival"`
	Departure string `json:"departure"`
	Reason    string `json:"reason,omitempty"`
}

type UnitDTO struct {
	ID         string          `json:"id"`
	PropertyID string          `json:"property_id"`
	Name       string          `json:"name"`
	Rate       decimal.Decimal `json:"rate"`
	Capacity   int             `json:"capacity"`
	Bedrooms   int             `json:"bedrooms"`
	Blocks     []BlockDTO      `json:"blocks,omitempty"`
}

type PropertyDTO struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Location  string          `json:"location,omitempty"`
	Rate      decimal.Decimal `json:"rate"`
	UnitIDs   []string        `json:"unit_ids"`
	CreatedAt time.Time       `json:"created_at"`
}

type AvailabilityDTO struct {
	Property PropertyDTO     `json:"property"`
	Units    []UnitDTO       `json:"units"`
	Nights   int             `json:"nights"`
	Total    decimal.Decimal `json:"total"`
}

// PersonDTO is a guest directory entry. Email is its id.
type PersonDTO struct {
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone,omitempty"`
	Country       string    `json:"country,omitempty"`
	City          string    `json:"city,omitempty"`
	StreetAddress string    `json:"street_address,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type BatchItemDTO struct {
	ID     int64  `json:"id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

type BatchResultDTO struct {
	Requested int            `json:"requested"`
	Canceled  int            `json:"canceled"`
	Failed    int            `json:"failed"`
	Results   []BatchItemDTO `json:"results"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toReservationDTO(r *booking.Reservation) ReservationDTO {
	return ReservationDTO{
		ID:       int64(r.ID),
		UnitID:   string(r.UnitID),
		UnitName: r.UnitName,
		Rate:     r.Rate,
		Guest: GuestDTO{
			Name:          r.Guest.Name,
			Email:         r.Guest.Email,
			Phone:         r.Guest.Phone,
			Country:       r.Guest.Country,
			City:          r.Guest.City,
			StreetAddress: r.Guest.StreetAddress,
		},
		Arrival:      r.Stay.Arrival.String(),
		Departure:    r.Stay.Departure.String(),
		Nights:       r.Nights,
		Total:        r.Total,
		HoldAmount:   r.HoldAmount,
		Status:       string(r.Status),
		PaymentState: string(r.Payment.State),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func toUnitDTO(u *booking.Unit) UnitDTO {
	dto := UnitDTO{
		ID:         string(u.ID),
		PropertyID: string(u.PropertyID),
		Name:       u.Name,
		Rate:       u.Rate,
		Capacity:   u.Capacity,
		Bedrooms:   u.Bedrooms,
	}
	for _, b := range u.Blocks {
		dto.Blocks = append(dto.Blocks, toBlockDTO(&b))
	}
	return dto
}

func toBlockDTO(b *booking.Block) BlockDTO {
	return BlockDTO{
		ID:        string(b.ID),
		Arrival:   b.Stay.Arrival.String(),
		Departure: b.Stay.Departure.String(),
		Reason:    b.Reason,
	}
}

func toPropertyDTO(p *booking.Property) PropertyDTO {
	ids := make([]string, len(p.UnitIDs))
	for i, id := range p.UnitIDs {
		ids[i] = string(id)
	}
	return PropertyDTO{
		ID:        string(p.ID),
		Name:      p.Name,
		Location:  p.Location,
		Rate:      p.Rate,
		UnitIDs:   ids,
		CreatedAt: p.CreatedAt,
	}
}

func toPersonDTO(p *booking.Person) PersonDTO {
	return PersonDTO{
		Email:         p.Email,
		Name:          p.Name,
		Phone:         p.Phone,
		Country:       p.Country,
		City:          p.City,
		StreetAddress: p.StreetAddress,
		UpdatedAt:     p.UpdatedAt,
	}
}

func toBatchResultDTO(res *booking.BatchResult) BatchResultDTO {
	out := BatchResultDTO{
		Requested: res.Requested,
		Canceled:  res.Canceled,
		Failed:    res.Failed,
		Results:   make([]BatchItemDTO, len(res.Results)),
	}
	for i, item := range res.Results {
		out.Results[i] = BatchItemDTO{ID: int64(item.ID), Status: string(item.Status), Error: item.Error, Code: item.Code}
	}
	return out
}
