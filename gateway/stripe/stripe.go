/*
Package stripe implements booking.Gateway on Stripe.

PURPOSE:
  Maps the two-step authorization handshake onto Stripe objects:

    BeginSetup   -> Customer (if none) + Checkout Session in setup mode
    CreateHold   -> PaymentIntent, capture_method=manual, off_session, confirm
    CaptureHold  -> PaymentIntent capture with amount_to_capture
    ReleaseHold  -> PaymentIntent cancel

  Every object carries metadata reservation_id so webhook events can be
  routed back without a lookup table.

AMOUNTS:
  Stripe takes integer minor units. Zero-decimal currencies (RWF, JPY, ...)
  are sent as the integer amount, everything else times 100.

ERRORS:
  A card_error from Stripe is wrapped in booking.ErrHoldDeclined. Anything
  else is returned as is and classified by the workflow as a gateway error
  or, on deadline, a gateway timeout.

SEE ALSO:
  - webhook.go: signature verification and event mapping
  - booking/payment.go: the workflow driving this adapter
*/
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/warp/reservation-engine/booking"
)

// MetadataReservationID is the metadata key on every Stripe object created
// for a reservation.
const MetadataReservationID = "reservation_id"

type Config struct {
	SecretKey  string
	Currency   string
	SuccessURL string
	CancelURL  string
	// APIURL overrides the Stripe endpoint. Tests point it at httptest.
	APIURL     string
	MaxRetries int64
}

type Gateway struct {
	api        *client.API
	currency   string
	successURL string
	cancelURL  string
	log        logrus.FieldLogger
}

var _ booking.Gateway = (*Gateway)(nil)

func New(cfg Config, log logrus.FieldLogger) *Gateway {
	if log == nil {
		log = logrus.StandardLogger()
	}
	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "rwf"
	}
	return &Gateway{
		api:        newClient(cfg, log),
		currency:   currency,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		log:        log.WithField("component", "stripe"),
	}
}

func newClient(cfg Config, log logrus.FieldLogger) *client.API {
	bc := &stripeapi.BackendConfig{
		LeveledLogger:     log,
		MaxNetworkRetries: stripeapi.Int64(cfg.MaxRetries),
	}
	if cfg.APIURL != "" {
		bc.URL = stripeapi.String(cfg.APIURL)
	}
	return client.New(cfg.SecretKey, &stripeapi.Backends{
		API:     stripeapi.GetBackendWithConfig(stripeapi.APIBackend, bc),
		Connect: stripeapi.GetBackendWithConfig(stripeapi.ConnectBackend, bc),
		Uploads: stripeapi.GetBackendWithConfig(stripeapi.UploadsBackend, bc),
	})
}

// =============================================================================
// SETUP
// =============================================================================

func (g *Gateway) BeginSetup(ctx context.Context, req booking.SetupRequest) (*booking.SetupSession, error) {
	rid := strconv.FormatInt(int64(req.ReservationID), 10)

	customerRef := req.CustomerRef
	if customerRef == "" {
		params := &stripeapi.CustomerParams{
			Name:  stripeapi.String(req.GuestName),
			Email: stripeapi.String(req.GuestEmail),
		}
		params.Context = ctx
		params.AddMetadata(MetadataReservationID, rid)
		cus, err := g.api.Customers.New(params)
		if err != nil {
			return nil, fmt.Errorf("create customer: %w", classify(err))
		}
		customerRef = cus.ID
	}

	params := &stripeapi.CheckoutSessionParams{
		Mode:               stripeapi.String(string(stripeapi.CheckoutSessionModeSetup)),
		Customer:           stripeapi.String(customerRef),
		PaymentMethodTypes: stripeapi.StringSlice([]string{"card"}),
		SuccessURL:         stripeapi.String(g.successURL),
		CancelURL:          stripeapi.String(g.cancelURL),
		ClientReferenceID:  stripeapi.String(rid),
		SetupIntentData: &stripeapi.CheckoutSessionSetupIntentDataParams{
			Metadata: map[string]string{MetadataReservationID: rid},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataReservationID, rid)
	params.SetIdempotencyKey("setup-" + rid)

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", classify(err))
	}

	out := &booking.SetupSession{Ref: sess.ID, RedirectURL: sess.URL, CustomerRef: customerRef}
	if sess.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(sess.ExpiresAt, 0).UTC()
	}
	g.log.WithFields(logrus.Fields{"reservation_id": req.ReservationID, "session": sess.ID}).Debug("checkout session created")
	return out, nil
}

// =============================================================================
// HOLDS
// =============================================================================

func (g *Gateway) CreateHold(ctx context.Context, req booking.HoldRequest) (*booking.Hold, error) {
	params := &stripeapi.PaymentIntentParams{
		Amount:        stripeapi.Int64(MinorUnits(req.Amount, g.currency)),
		Currency:      stripeapi.String(g.currency),
		CaptureMethod: stripeapi.String(string(stripeapi.PaymentIntentCaptureMethodManual)),
		Confirm:       stripeapi.Bool(true),
		OffSession:    stripeapi.Bool(true),
		PaymentMethod: stripeapi.String(req.MethodRef),
	}
	if req.CustomerRef != "" {
		params.Customer = stripeapi.String(req.CustomerRef)
	}
	if req.Description != "" {
		params.Description = stripeapi.String(req.Description)
	}
	params.Context = ctx
	params.AddMetadata(MetadataReservationID, strconv.FormatInt(int64(req.ReservationID), 10))
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", classify(err))
	}
	if pi.Status != stripeapi.PaymentIntentStatusRequiresCapture {
		return nil, fmt.Errorf("%w: payment intent %s is %s", booking.ErrHoldDeclined, pi.ID, pi.Status)
	}
	return &booking.Hold{Ref: pi.ID}, nil
}

func (g *Gateway) CaptureHold(ctx context.Context, ref string, amount decimal.Decimal) error {
	params := &stripeapi.PaymentIntentCaptureParams{
		AmountToCapture: stripeapi.Int64(MinorUnits(amount, g.currency)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("capture-" + ref)
	if _, err := g.api.PaymentIntents.Capture(ref, params); err != nil {
		return fmt.Errorf("capture %s: %w", ref, classify(err))
	}
	return nil
}

func (g *Gateway) ReleaseHold(ctx context.Context, ref string) error {
	params := &stripeapi.PaymentIntentCancelParams{}
	params.Context = ctx
	params.SetIdempotencyKey("release-" + ref)
	if _, err := g.api.PaymentIntents.Cancel(ref, params); err != nil {
		return fmt.Errorf("cancel %s: %w", ref, classify(err))
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// MinorUnits converts a decimal amount to Stripe's integer representation.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

func classify(err error) error {
	var se *stripeapi.Error
	if errors.As(err, &se) && se.Type == stripeapi.ErrorTypeCard {
		reason := string(se.DeclineCode)
		if reason == "" {
			reason = string(se.Code)
		}
		return fmt.Errorf("%w: %s (%s)", booking.ErrHoldDeclined, se.Msg, reason)
	}
	return err
}
