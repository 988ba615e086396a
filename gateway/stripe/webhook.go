package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/warp/reservation-engine/booking"
)

// ErrBadSignature is returned when a webhook payload fails verification.
// The transport answers 400 and the domain is never called.
var ErrBadSignature = errors.New("stripe: webhook signature verification failed")

// Webhooks verifies and translates Stripe webhook deliveries.
type Webhooks struct {
	Secret string
	// Gateway, when set, resolves references the payload does not embed
	// (the setup intent's payment method, a charge's reservation id).
	Gateway *Gateway
}

// Parse verifies the Stripe-Signature header and maps the event onto a
// booking.GatewayEvent. Event types the workflow does not act on come back
// as booking.EventIgnored so they are still acknowledged and recorded.
func (wh *Webhooks) Parse(ctx context.Context, payload []byte, signature string) (booking.GatewayEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, wh.Secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return booking.GatewayEvent{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	out := booking.GatewayEvent{ID: ev.ID, Type: booking.EventIgnored}
	if ev.Data == nil {
		return out, nil
	}

	switch string(ev.Type) {
	case "checkout.session.completed":
		var sess stripeapi.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return out, fmt.Errorf("decode checkout session: %w", err)
		}
		if sess.Mode == stripeapi.CheckoutSessionModePayment {
			out.Type = booking.EventPaymentCompleted
			out.ReservationID = reservationID(sess.Metadata, sess.ClientReferenceID)
			return out, nil
		}
		if sess.Mode != stripeapi.CheckoutSessionModeSetup {
			return out, nil
		}
		out.Type = booking.EventSetupCompleted
		out.ReservationID = reservationID(sess.Metadata, sess.ClientReferenceID)
		out.SetupRef = sess.ID
		if sess.Customer != nil {
			out.CustomerRef = sess.Customer.ID
		}
		if sess.SetupIntent != nil {
			method, err := wh.paymentMethod(ctx, sess.SetupIntent)
			if err != nil {
				return out, err
			}
			out.PaymentMethodRef = method
		}

	case "payment_intent.amount_capturable_updated":
		var pi stripeapi.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return out, fmt.Errorf("decode payment intent: %w", err)
		}
		out.Type = booking.EventHoldCreated
		out.ReservationID = reservationID(pi.Metadata, "")
		out.HoldRef = pi.ID

	case "payment_intent.payment_failed":
		var pi stripeapi.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return out, fmt.Errorf("decode payment intent: %w", err)
		}
		out.Type = booking.EventHoldFailed
		out.ReservationID = reservationID(pi.Metadata, "")
		out.HoldRef = pi.ID
		if pi.LastPaymentError != nil {
			out.Reason = pi.LastPaymentError.Msg
			if pi.LastPaymentError.DeclineCode != "" {
				out.Reason = string(pi.LastPaymentError.DeclineCode)
			}
		}

	case "charge.refunded":
		var ch stripeapi.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return out, fmt.Errorf("decode charge: %w", err)
		}
		out.Type = booking.EventChargeRefunded
		out.ReservationID = reservationID(ch.Metadata, "")
		if ch.PaymentIntent != nil {
			out.HoldRef = ch.PaymentIntent.ID
		}
		if out.ReservationID == 0 && out.HoldRef != "" {
			id, err := wh.reservationForIntent(ctx, out.HoldRef)
			if err != nil {
				return out, err
			}
			out.ReservationID = id
		}
	}
	return out, nil
}

func (wh *Webhooks) paymentMethod(ctx context.Context, si *stripeapi.SetupIntent) (string, error) {
	if si.PaymentMethod != nil && si.PaymentMethod.ID != "" {
		return si.PaymentMethod.ID, nil
	}
	if wh.Gateway == nil || si.ID == "" {
		return "", nil
	}
	params := &stripeapi.SetupIntentParams{}
	params.Context = ctx
	full, err := wh.Gateway.api.SetupIntents.Get(si.ID, params)
	if err != nil {
		return "", fmt.Errorf("retrieve setup intent %s: %w", si.ID, err)
	}
	if full.PaymentMethod == nil {
		return "", nil
	}
	return full.PaymentMethod.ID, nil
}

func (wh *Webhooks) reservationForIntent(ctx context.Context, ref string) (booking.ReservationID, error) {
	if wh.Gateway == nil {
		return 0, nil
	}
	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx
	pi, err := wh.Gateway.api.PaymentIntents.Get(ref, params)
	if err != nil {
		return 0, fmt.Errorf("retrieve payment intent %s: %w", ref, err)
	}
	return reservationID(pi.Metadata, ""), nil
}

// reservationID reads the metadata key, falling back to the given value.
// Unparseable ids map to 0, which the workflow acknowledges as unknown.
func reservationID(meta map[string]string, fallback string) booking.ReservationID {
	raw := meta[MetadataReservationID]
	if raw == "" {
		raw = fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return booking.ReservationID(n)
}
