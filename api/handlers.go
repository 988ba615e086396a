/*
handlers.go - HTTP API handlers for the reservation engine

PURPOSE:
  Exposes the booking engine via REST API. Handles HTTP request/response,
  JSON decoding and validation, and delegates to the booking services.

ENDPOINTS:
  Guest:
    POST   /api/bookings/search          Available properties for a stay
    POST   /api/bookings/create          Book a unit (returns the token once)
    GET    /api/bookings/{id}?token=     Reservation details
    PATCH  /api/bookings/{id}            Change unit and/or dates
    PATCH  /api/bookings/{id}/cancel     Cancel (token in query or body)

  Admin:
    GET    /api/admin/reservations                List all reservations
    PATCH  /api/admin/reservations/cancel-batch   Cancel many ids
    PATCH  /api/admin/reservations/{id}/cancel    Cancel without a token
    PATCH  /api/admin/reservations/{id}/mark-paid Paid out-of-band
    *      /api/admin/properties, /api/admin/units Inventory
    GET    /api/admin/people?name=                Search the guest directory
    DELETE /api/admin/people/{id}                 Remove a person by email

  Gateway:
    POST   /api/payments/webhook         Signed payment gateway callbacks

REQUEST FLOW:
  1. Decode JSON (bounded body)
  2. Validate with validator/v10
  3. Call the booking service
  4. Serialize a DTO, never a domain type

ERROR HANDLING:
  See errors.go. Token mismatches are reported exactly like unknown ids.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - auth.go: Admin bearer tokens
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/reservation-engine/booking"
)

const (
	maxBodyBytes    = 1 << 20
	maxWebhookBytes = 64 << 10
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// WebhookParser verifies and maps a raw gateway callback.
type WebhookParser interface {
	Parse(ctx context.Context, payload []byte, signature string) (booking.GatewayEvent, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *booking.Engine
	// Webhooks is nil when payments are disabled.
	Webhooks WebhookParser
	Health   Pinger
	// BaseURL prefixes the access link returned at creation.
	BaseURL string
	Log     logrus.FieldLogger

	validate *validator.Validate
}

func NewHandler(engine *booking.Engine, baseURL string, log logrus.FieldLogger) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Handler{Engine: engine, BaseURL: baseURL, Log: log, validate: v}
}

func (h *Handler) logger(r *http.Request) logrus.FieldLogger {
	return h.Log.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	})
}

// decode reads a bounded JSON body into dst and validates it.
func (h *Handler) decode(r *http.Request, w http.ResponseWriter, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &booking.FieldError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func reservationID(r *http.Request) (booking.ReservationID, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &booking.FieldError{Field: "id", Message: "must be a positive integer"}
	}
	return booking.ReservationID(id), nil
}

func parseDate(field, s string) (booking.Date, error) {
	d, err := booking.ParseDate(s)
	if err != nil {
		return booking.Date{}, &booking.FieldError{Field: field, Message: "must be a date in YYYY-MM-DD format"}
	}
	return d, nil
}

func parseStay(arrival, departure string) (booking.Stay, error) {
	a, err := parseDate("arrival", arrival)
	if err != nil {
		return booking.Stay{}, err
	}
	d, err := parseDate("departure", departure)
	if err != nil {
		return booking.Stay{}, err
	}
	return booking.Stay{Arrival: a, Departure: d}, nil
}

// =============================================================================
// GUEST HANDLERS
// =============================================================================

// Search returns properties with free units for the requested stay.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := h.decode(r, w, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	stay, err := parseStay(req.Arrival, req.Departure)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	results, err := h.Engine.Availability.Search(r.Context(), booking.SearchQuery{
		Arrival:      stay.Arrival,
		Departure:    stay.Departure,
		RequireMatch: req.RequireMatch,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]AvailabilityDTO, len(results))
	for i, pa := range results {
		units := make([]UnitDTO, len(pa.Units))
		for j := range pa.Units {
			units[j] = toUnitDTO(&pa.Units[j])
		}
		dtos[i] = AvailabilityDTO{
			Property: toPropertyDTO(&pa.Property),
			Units:    units,
			Nights:   pa.Nights,
			Total:    pa.Total,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateReservation books a unit. The token is returned only here.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := h.decode(r, w, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	stay, err := parseStay(req.Arrival, req.Departure)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	res, err := h.Engine.Reservations.Create(r.Context(), booking.CreateInput{
		UnitName:  req.UnitName,
		Arrival:   stay.Arrival,
		Departure: stay.Departure,
		Guest: booking.Guest{
			Name:          req.Guest.Name,
			Email:         req.Guest.Email,
			Phone:         req.Guest.Phone,
			Country:       req.Guest.Country,
			City:          req.Guest.City,
			StreetAddress: req.Guest.StreetAddress,
		},
		PaymentMethodRef: req.PaymentMethodRef,
		CustomerRef:      req.CustomerRef,
	})
	if err != nil {
		status, resp := h.errorResponse(r, err)
		if res != nil && res.Reservation != nil && errors.Is(err, booking.ErrAuthorizationFailed) {
			dto := toReservationDTO(res.Reservation)
			resp.Reservation = &dto
		}
		writeJSON(w, status, resp)
		return
	}

	out := CreateReservationResponse{
		Reservation: toReservationDTO(res.Reservation),
		Token:       res.Reservation.Token,
		AccessURL:   booking.AccessURL(h.BaseURL, res.Reservation.ID, res.Reservation.Token),
	}
	if res.Setup != nil {
		out.CheckoutURL = res.Setup.RedirectURL
	}
	writeJSON(w, http.StatusCreated, out)
}

// GetReservation requires the access token in the query string.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, err := reservationID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	res, err := h.Engine.Reservations.Get(r.Context(), id, r.URL.Query().Get("token"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// ModifyReservation changes the unit and/or dates.
func (h *Handler) ModifyReservation(w http.ResponseWriter, r *http.Request) {
	id, err := reservationID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req ModifyReservationRequest
	if err := h.decode(r, w, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if req.Token == "" {
		req.Token = r.URL.Query().Get("token")
	}

	in := booking.ModifyInput{UnitName: req.UnitName}
	if req.Arrival != nil {
		d, err := parseDate("arrival", *req.Arrival)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		in.Arrival = &d
	}
	if req.Departure != nil {
		d, err := parseDate("departure", *req.Departure)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		in.Departure = &d
	}

	res, err := h.Engine.Reservations.Modify(r.Context(), id, req.Token, in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// CancelReservation takes the token from the query or a JSON body.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id, err := reservationID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" && r.ContentLength != 0 {
		var req TokenRequest
		if err := h.decode(r, w, &req); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		token = req.Token
	}

	res, err := h.Engine.Reservations.Cancel(r.Context(), id, token)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// =============================================================================
// ADMIN RESERVATION HANDLERS
// =============================================================================

func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.Reservations.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]ReservationDTO, len(list))
	for i := range list {
		dtos[i] = toReservationDTO(&list[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// BatchCancel cancels each id independently. Partial failure is still 200.
func (h *Handler) BatchCancel(w http.ResponseWriter, r *http.Request) {
	var req BatchCancelRequest
	if err := h.decode(r, w, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	ids := make([]booking.ReservationID, len(req.IDs))
	for i, id := range req.IDs {
		ids[i] = booking.ReservationID(id)
	}

	res, err := h.Engine.Batch.Cancel(r.Context(), ids)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.logger(r).WithFields(logrus.Fields{
		"admin":     AdminSubject(r.Context()),
		"requested": res.Requested,
		"canceled":  res.Canceled,
		"failed":    res.Failed,
	}).Info("batch cancellation")
	writeJSON(w, http.StatusOK, toBatchResultDTO(res))
}

func (h *Handler) AdminCancel(w http.ResponseWriter, r *http.Request) {
	id, err := reservationID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	res, err := h.Engine.Reservations.CancelAsAdmin(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// MarkPaid settles a reservation paid out-of-band and releases its hold.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, err := reservationID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	res, err := h.Engine.Reservations.MarkPaid(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

func (h *Handler) ListProperties(w http.ResponseWriter, r *http.Request) {
	props, err := h.Engine.Inventory.ListProperties(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]PropertyDTO, len(props))
	for i := range props {
		dtos[i] = toPropertyDTO(&props[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateProperty(w http.ResponseWriter, r *http.Request) {
	var req PropertyRequest
	if err := h.decode(r, w, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	p, err := h.Engine.Inventory.CreateProperty(r.Context(), booking.PropertyInput{Name: req.Name, Location: req.Location})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPropertyDTO(p))
}

func (h *Handler) GetProperty(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.Inventory.GetProperty(r.Context(), booking.PropertyID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPropertyDTO(p))
}

func (h *Handler) UpdateProperty(w http.ResponseWriter, r *http.Request) {
	var req PropertyRequest
	if err := h.decode(r, w, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	id := booking.PropertyID(chi.URLParam(r, "id"))
	p, err := h.Engine.Inventory.UpdateProperty(r.Context(), id, booking.PropertyInput{Name: req.Name, Location: req.Location})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPropertyDTO(p))
}

// DeleteProperty removes the property with its units and their blocks.
func (h *Handler) DeleteProperty(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Inventory.DeleteProperty(r.Context(), booking.PropertyID(chi.URLParam(r, "id"))); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUnits accepts an optional property_id filter.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.Engine.Inventory.ListUnits(r.Context(), booking.PropertyID(r.URL.Query().Get("property_id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]UnitDTO, len(units))
	for i := range units {
		dtos[i] = toUnitDTO(&units[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var req UnitRequest
	if err := h.decode(r, w, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	u, err := h.Engine.Inventory.CreateUnit(r.Context(), booking.UnitInput{
		PropertyID: booking.PropertyID(req.PropertyID),
		Name:       req.Name,
		Rate:       req.Rate,
		Capacity:   req.Capacity,
		Bedrooms:   req.Bedrooms,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnitDTO(u))
}

func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	u, err := h.Engine.Inventory.GetUnit(r.Context(), booking.UnitID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(u))
}

func (h *Handler) UpdateUnit(w http.ResponseWriter, r *http.Request) {
	var req UnitPatchRequest
	if err := h.decode(r, w, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	u, err := h.Engine.Inventory.UpdateUnit(r.Context(), booking.UnitID(chi.URLParam(r, "id")), booking.UnitUpdate{
		Name:     req.Name,
		Rate:     req.Rate,
		Capacity: req.Capacity,
		Bedrooms: req.Bedrooms,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(u))
}

func (h *Handler) AddBlock(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := h.decode(r, w, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	stay, err := parseStay(req.Arrival, req.Departure)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	b, err := h.Engine.Inventory.AddBlock(r.Context(), booking.UnitID(chi.URLParam(r, "id")), stay, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBlockDTO(b))
}

func (h *Handler) RemoveBlock(w http.ResponseWriter, r *http.Request) {
	unitID := booking.UnitID(chi.URLParam(r, "id"))
	blockID := booking.BlockID(chi.URLParam(r, "blockID"))
	if err := h.Engine.Inventory.RemoveBlock(r.Context(), unitID, blockID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PEOPLE HANDLERS
// =============================================================================

// SearchPeople filters by ?name=, a case-insensitive substring.
func (h *Handler) SearchPeople(w http.ResponseWriter, r *http.Request) {
	people, err := h.Engine.People.Search(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]PersonDTO, len(people))
	for i := range people {
		dtos[i] = toPersonDTO(&people[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeletePerson takes the email as the id; it may arrive percent-encoded.
func (h *Handler) DeletePerson(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, &booking.FieldError{Field: "id", Message: "must be an email address"})
		return
	}
	if err := h.Engine.People.Delete(r.Context(), email); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// GATEWAY / HEALTH
// =============================================================================

// PaymentWebhook verifies the signature before any domain call. A 5xx
// tells the gateway to redeliver.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if h.Webhooks == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "payments are not configured")
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "unreadable body")
		return
	}
	ev, err := h.Webhooks.Parse(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger(r).WithError(err).Warn("webhook rejected")
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid webhook")
		return
	}

	if err := h.Engine.Payments.HandleEvent(r.Context(), ev); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			h.logger(r).WithError(err).Error("health check failed")
			writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
