package stripe_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reservation-engine/booking"
	"github.com/warp/reservation-engine/gateway/stripe"
)

// fakeStripe records form-encoded requests and answers with canned JSON.
type fakeStripe struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	body     string
}

type recorded struct {
	Method      string
	Path        string
	Form        url.Values
	Idempotency string
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(raw))
	f.mu.Lock()
	f.requests = append(f.requests, recorded{
		Method: r.Method, Path: r.URL.Path, Form: form, Idempotency: r.Header.Get("Idempotency-Key"),
	})
	status, body := f.status, f.body
	f.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (f *fakeStripe) last(t *testing.T) recorded {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newGateway(t *testing.T, fake *fakeStripe) *stripe.Gateway {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	log := logrus.New()
	log.SetOutput(io.Discard)
	return stripe.New(stripe.Config{
		SecretKey:  "sk_test_123",
		Currency:   "RWF",
		SuccessURL: "https://stay.test/ok",
		CancelURL:  "https://stay.test/cancel",
		APIURL:     srv.URL,
	}, log)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(45000), stripe.MinorUnits(decimal.NewFromInt(45000), "rwf"))
	assert.Equal(t, int64(45000), stripe.MinorUnits(decimal.NewFromInt(45000), "RWF"))
	assert.Equal(t, int64(12050), stripe.MinorUnits(decimal.RequireFromString("120.50"), "usd"))
	assert.Equal(t, int64(101), stripe.MinorUnits(decimal.RequireFromString("100.6"), "jpy"))
}

func TestCreateHold_ManualCaptureOffSession(t *testing.T) {
	// GIVEN: Stripe accepting the intent
	fake := &fakeStripe{body: `{"id":"pi_123","object":"payment_intent","status":"requires_capture"}`}
	gw := newGateway(t, fake)

	// WHEN: a one-night hold is requested
	hold, err := gw.CreateHold(context.Background(), booking.HoldRequest{
		ReservationID:  7,
		Amount:         decimal.NewFromInt(45000),
		CustomerRef:    "cus_1",
		MethodRef:      "pm_1",
		IdempotencyKey: booking.HoldKey(7),
	})

	// THEN: the intent is manual capture, confirmed off session, keyed by reservation
	require.NoError(t, err)
	assert.Equal(t, "pi_123", hold.Ref)

	req := fake.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/v1/payment_intents", req.Path)
	assert.Equal(t, "hold-7", req.Idempotency)
	assert.Equal(t, "45000", req.Form.Get("amount"))
	assert.Equal(t, "rwf", req.Form.Get("currency"))
	assert.Equal(t, "manual", req.Form.Get("capture_method"))
	assert.Equal(t, "true", req.Form.Get("confirm"))
	assert.Equal(t, "true", req.Form.Get("off_session"))
	assert.Equal(t, "pm_1", req.Form.Get("payment_method"))
	assert.Equal(t, "cus_1", req.Form.Get("customer"))
	assert.Equal(t, "7", req.Form.Get("metadata[reservation_id]"))
}

func TestCreateHold_CardErrorIsDecline(t *testing.T) {
	fake := &fakeStripe{
		status: http.StatusPaymentRequired,
		body:   `{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`,
	}
	gw := newGateway(t, fake)

	_, err := gw.CreateHold(context.Background(), booking.HoldRequest{ReservationID: 1, Amount: decimal.NewFromInt(100), MethodRef: "pm_1"})
	assert.ErrorIs(t, err, booking.ErrHoldDeclined)
	assert.ErrorIs(t, err, booking.ErrAuthorizationFailed)
	assert.Contains(t, err.Error(), "insufficient_funds")
}

func TestCreateHold_ServerErrorIsNotDecline(t *testing.T) {
	fake := &fakeStripe{
		status: http.StatusInternalServerError,
		body:   `{"error":{"type":"api_error","message":"boom"}}`,
	}
	gw := newGateway(t, fake)

	_, err := gw.CreateHold(context.Background(), booking.HoldRequest{ReservationID: 1, Amount: decimal.NewFromInt(100), MethodRef: "pm_1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, booking.ErrHoldDeclined)
}

func TestCreateHold_UncapturableStatusIsDecline(t *testing.T) {
	fake := &fakeStripe{body: `{"id":"pi_9","object":"payment_intent","status":"requires_action"}`}
	gw := newGateway(t, fake)

	_, err := gw.CreateHold(context.Background(), booking.HoldRequest{ReservationID: 1, Amount: decimal.NewFromInt(100), MethodRef: "pm_1"})
	assert.ErrorIs(t, err, booking.ErrHoldDeclined)
}

func TestCaptureAndRelease(t *testing.T) {
	fake := &fakeStripe{body: `{"id":"pi_123","object":"payment_intent","status":"succeeded"}`}
	gw := newGateway(t, fake)

	require.NoError(t, gw.CaptureHold(context.Background(), "pi_123", decimal.NewFromInt(45000)))
	req := fake.last(t)
	assert.Equal(t, "/v1/payment_intents/pi_123/capture", req.Path)
	assert.Equal(t, "45000", req.Form.Get("amount_to_capture"))

	require.NoError(t, gw.ReleaseHold(context.Background(), "pi_123"))
	assert.Equal(t, "/v1/payment_intents/pi_123/cancel", fake.last(t).Path)
}

func TestBeginSetup_CreatesCustomerThenSession(t *testing.T) {
	fake := &fakeStripe{body: `{"id":"cs_1","object":"checkout.session","url":"https://checkout.test/cs_1","expires_at":1738414800}`}
	gw := newGateway(t, fake)

	sess, err := gw.BeginSetup(context.Background(), booking.SetupRequest{ReservationID: 3, GuestName: "Aline", GuestEmail: "aline@example.com"})
	require.NoError(t, err)

	require.Len(t, fake.requests, 2)
	assert.Equal(t, "/v1/customers", fake.requests[0].Path)
	assert.Equal(t, "aline@example.com", fake.requests[0].Form.Get("email"))

	req := fake.requests[1]
	assert.Equal(t, "/v1/checkout/sessions", req.Path)
	assert.Equal(t, "setup", req.Form.Get("mode"))
	assert.Equal(t, "3", req.Form.Get("metadata[reservation_id]"))
	assert.Equal(t, "3", req.Form.Get("setup_intent_data[metadata][reservation_id]"))

	assert.Equal(t, "cs_1", sess.Ref)
	assert.Equal(t, "https://checkout.test/cs_1", sess.RedirectURL)
	assert.Equal(t, time.Unix(1738414800, 0).UTC(), sess.ExpiresAt)
}

// =============================================================================
// WEBHOOKS
// =============================================================================

const secret = "whsec_test"

func sign(payload string, at time.Time) string {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + payload))
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func event(id, typ, object string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"api_version":"2023-10-16","data":{"object":%s}}`, id, typ, object)
}

func TestWebhook_SetupCompleted(t *testing.T) {
	wh := &stripe.Webhooks{Secret: secret}
	payload := event("evt_1", "checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session","mode":"setup","customer":"cus_9",
		  "metadata":{"reservation_id":"12"},
		  "setup_intent":{"id":"seti_1","object":"setup_intent","payment_method":"pm_saved"}}`)

	ev, err := wh.Parse(context.Background(), []byte(payload), sign(payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, booking.EventSetupCompleted, ev.Type)
	assert.Equal(t, booking.ReservationID(12), ev.ReservationID)
	assert.Equal(t, "pm_saved", ev.PaymentMethodRef)
	assert.Equal(t, "cus_9", ev.CustomerRef)
	assert.Equal(t, "cs_1", ev.SetupRef)
}

func TestWebhook_PaymentModeSessionCompletesPayment(t *testing.T) {
	wh := &stripe.Webhooks{Secret: secret}
	payload := event("evt_2", "checkout.session.completed",
		`{"id":"cs_2","object":"checkout.session","mode":"payment","client_reference_id":"21","payment_intent":"pi_paid"}`)

	ev, err := wh.Parse(context.Background(), []byte(payload), sign(payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, booking.EventPaymentCompleted, ev.Type)
	assert.Equal(t, booking.ReservationID(21), ev.ReservationID)
}

func TestWebhook_SubscriptionModeSessionIgnored(t *testing.T) {
	wh := &stripe.Webhooks{Secret: secret}
	payload := event("evt_2b", "checkout.session.completed", `{"id":"cs_3","object":"checkout.session","mode":"subscription"}`)

	ev, err := wh.Parse(context.Background(), []byte(payload), sign(payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, booking.EventIgnored, ev.Type)
}

func TestWebhook_HoldEvents(t *testing.T) {
	wh := &stripe.Webhooks{Secret: secret}

	created := event("evt_3", "payment_intent.amount_capturable_updated",
		`{"id":"pi_1","object":"payment_intent","metadata":{"reservation_id":"4"}}`)
	ev, err := wh.Parse(context.Background(), []byte(created), sign(created, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, booking.EventHoldCreated, ev.Type)
	assert.Equal(t, "pi_1", ev.HoldRef)
	assert.Equal(t, booking.ReservationID(4), ev.ReservationID)

	failed := event("evt_4", "payment_intent.payment_failed",
		`{"id":"pi_1","object":"payment_intent","metadata":{"reservation_id":"4"},
		  "last_payment_error":{"type":"card_error","decline_code":"do_not_honor","message":"declined"}}`)
	ev, err = wh.Parse(context.Background(), []byte(failed), sign(failed, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, booking.EventHoldFailed, ev.Type)
	assert.Equal(t, "do_not_honor", ev.Reason)
}

func TestWebhook_ChargeRefunded(t *testing.T) {
	wh := &stripe.Webhooks{Secret: secret}
	payload := event("evt_5", "charge.refunded",
		`{"id":"ch_1","object":"charge","payment_intent":"pi_1","metadata":{"reservation_id":"8"}}`)

	ev, err := wh.Parse(context.Background(), []byte(payload), sign(payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, booking.EventChargeRefunded, ev.Type)
	assert.Equal(t, booking.ReservationID(8), ev.ReservationID)
	assert.Equal(t, "pi_1", ev.HoldRef)
}

func TestWebhook_UnknownTypeIgnored(t *testing.T) {
	wh := &stripe.Webhooks{Secret: secret}
	payload := event("evt_6", "customer.created", `{"id":"cus_1","object":"customer"}`)

	ev, err := wh.Parse(context.Background(), []byte(payload), sign(payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, booking.EventIgnored, ev.Type)
	assert.Equal(t, "evt_6", ev.ID)
}

func TestWebhook_BadSignatureRejected(t *testing.T) {
	wh := &stripe.Webhooks{Secret: secret}
	payload := event("evt_7", "charge.refunded", `{"id":"ch_1","object":"charge"}`)

	_, err := wh.Parse(context.Background(), []byte(payload), "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, stripe.ErrBadSignature)

	// Stale timestamp, otherwise valid
	_, err = wh.Parse(context.Background(), []byte(payload), sign(payload, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, stripe.ErrBadSignature)
}
