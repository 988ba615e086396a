package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/reservation-engine/booking"
)

// Error codes in ErrorResponse.Code.
const (
	CodeValidation          = "validation"
	CodeNotFound            = "not_found"
	CodeConflict            = "conflict"
	CodeAuthorizationFailed = "authorization_failed"
	CodeGatewayTimeout      = "gateway_timeout"
	CodeGatewayError        = "gateway_error"
	CodeUnauthorized        = "unauthorized"
	CodeForbidden           = "forbidden"
	CodeUnavailable         = "unavailable"
	CodeInternal            = "internal"
)

// classify maps an engine error to its HTTP status and code.
// AuthorizationFailed is checked before the gateway classes: a hold that
// timed out still leaves the reservation AuthorizationFailed.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, booking.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, booking.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, booking.ErrAuthorizationFailed):
		return http.StatusPaymentRequired, CodeAuthorizationFailed
	case errors.Is(err, booking.ErrGatewayTimeout):
		return http.StatusGatewayTimeout, CodeGatewayTimeout
	case errors.Is(err, booking.ErrGatewayError):
		return http.StatusBadGateway, CodeGatewayError
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// writeDomainError classifies err. Internal errors are logged and their
// text is not sent to the client.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := h.errorResponse(r, err)
	writeJSON(w, status, resp)
}

func (h *Handler) errorResponse(r *http.Request, err error) (int, ErrorResponse) {
	status, code := classify(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var fe *booking.FieldError
	if errors.As(err, &fe) {
		resp.Field = fe.Field
	}
	var ce *booking.ConflictError
	if errors.As(err, &ce) {
		resp.Conflict = &ConflictDTO{
			UnitID:    string(ce.UnitID),
			Arrival:   ce.Existing.Arrival.String(),
			Departure: ce.Existing.Departure.String(),
		}
		// The detailed message names the other reservation.
		resp.Error = booking.ErrOverlap.Error()
	}

	if status == http.StatusInternalServerError {
		h.logger(r).WithError(err).Error("request failed")
		resp.Error = "internal error"
	} else if status >= http.StatusPaymentRequired && code != CodeNotFound && code != CodeConflict {
		h.logger(r).WithFields(logrus.Fields{"code": code}).WithError(err).Warn("request failed")
	}
	return status, resp
}

// validationError turns the first validator failure into a FieldError so
// it takes the same path as engine validation.
func validationError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return &booking.FieldError{Field: fe.Field(), Message: describe(fe)}
	}
	return &booking.FieldError{Field: "body", Message: err.Error()}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "min":
		return "must have at least " + fe.Param() + " item(s)"
	case "max":
		return "must have at most " + fe.Param() + " item(s) or characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
