package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// MaxBatchSize bounds one batch cancellation request.
const MaxBatchSize = 500

// Failure codes reported per id by batch cancellation.
const (
	CodeNotFound          = "not_found"
	CodeAlreadyCanceled   = "already_canceled"
	CodeInvalidTransition = "invalid_transition"
	CodeGatewayTimeout    = "gateway_timeout"
	CodeGatewayError      = "gateway_error"
	CodeInternal          = "internal"
)

// ErrorCode classifies err into one of the failure codes.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyCanceled):
		return CodeAlreadyCanceled
	case errors.Is(err, ErrConflict):
		return CodeInvalidTransition
	case errors.Is(err, ErrGatewayTimeout):
		return CodeGatewayTimeout
	case errors.Is(err, ErrGatewayError), errors.Is(err, ErrAuthorizationFailed):
		return CodeGatewayError
	default:
		return CodeInternal
	}
}

type BatchItem struct {
	ID     ReservationID
	Status Status
	Error  string
	Code   string
}

type BatchResult struct {
	Requested int
	Canceled  int
	Failed    int
	Results   []BatchItem
}

type canceller interface {
	CancelAsAdmin(ctx context.Context, id ReservationID) (*Reservation, error)
}

// BatchCanceller cancels many reservations independently. One failure
// never stops the rest.
type BatchCanceller struct {
	Reservations canceller
	Log          logrus.FieldLogger
}

func NewBatchCanceller(rs *ReservationService, log logrus.FieldLogger) *BatchCanceller {
	return &BatchCanceller{Reservations: rs, Log: log}
}

// Cancel processes ids in order. Duplicates are processed once.
func (bc *BatchCanceller) Cancel(ctx context.Context, ids []ReservationID) (*BatchResult, error) {
	if len(ids) == 0 {
		return nil, &FieldError{Field: "ids", Message: "at least one id is required"}
	}
	if len(ids) > MaxBatchSize {
		return nil, &FieldError{Field: "ids", Message: fmt.Sprintf("at most %d ids per batch", MaxBatchSize)}
	}

	seen := make(map[ReservationID]bool, len(ids))
	res := &BatchResult{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		res.Requested++

		r, err := bc.Reservations.CancelAsAdmin(ctx, id)
		if err != nil {
			res.Failed++
			res.Results = append(res.Results, BatchItem{ID: id, Error: err.Error(), Code: ErrorCode(err)})
			continue
		}
		res.Canceled++
		res.Results = append(res.Results, BatchItem{ID: id, Status: r.Status})
	}

	logOr(bc.Log).WithFields(logrus.Fields{
		"requested": res.Requested,
		"canceled":  res.Canceled,
		"failed":    res.Failed,
	}).Info("batch cancellation finished")
	return res, nil
}
