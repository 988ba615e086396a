package booking_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/warp/reservation-engine/booking"
	"github.com/warp/reservation-engine/booking/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type capture struct {
	Ref    string
	Amount decimal.Decimal
}

// fakeGateway records calls and fails on demand.
type fakeGateway struct {
	mu       sync.Mutex
	setups   []booking.SetupRequest
	holds    []booking.HoldRequest
	captures []capture
	releases []string

	setupErr   error
	holdErr    error
	captureErr error
	releaseErr error
}

func (g *fakeGateway) BeginSetup(_ context.Context, req booking.SetupRequest) (*booking.SetupSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.setupErr != nil {
		return nil, g.setupErr
	}
	g.setups = append(g.setups, req)
	ref := fmt.Sprintf("seti_%d", req.ReservationID)
	return &booking.SetupSession{Ref: ref, RedirectURL: "https://pay.test/" + ref, CustomerRef: "cus_test"}, nil
}

func (g *fakeGateway) CreateHold(_ context.Context, req booking.HoldRequest) (*booking.Hold, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holdErr != nil {
		return nil, g.holdErr
	}
	g.holds = append(g.holds, req)
	return &booking.Hold{Ref: "pi_" + req.IdempotencyKey}, nil
}

func (g *fakeGateway) CaptureHold(_ context.Context, ref string, amount decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.captureErr != nil {
		return g.captureErr
	}
	g.captures = append(g.captures, capture{Ref: ref, Amount: amount})
	return nil
}

func (g *fakeGateway) ReleaseHold(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.releaseErr != nil {
		return g.releaseErr
	}
	g.releases = append(g.releases, ref)
	return nil
}

func (g *fakeGateway) holdCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.holds)
}

// recorder is a synchronous Notifier.
type recorder struct {
	mu    sync.Mutex
	sent  []booking.Notification
	fails int
}

func (r *recorder) Notify(_ context.Context, n booking.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails > 0 {
		r.fails--
		return fmt.Errorf("broker down")
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recorder) kinds() []booking.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []booking.NotificationKind
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

type testEnv struct {
	ctx    context.Context
	engine *booking.Engine
	store  *store.Memory
	gw     *fakeGateway
	clock  *booking.FixedClock
	notes  *recorder

	property *booking.Property
	unitA    *booking.Unit
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func date(s string) booking.Date { return booking.MustParseDate(s) }

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// newTestEnv sets "today" to 2025-02-01 and seeds one property with unit
// "A" at 100/night.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvOn(t, nil)
}

// newTestEnvOn runs the engine on wrap(mem) when wrap is set. env.store
// stays the bare memory store.
func newTestEnvOn(t *testing.T, wrap func(*store.Memory) booking.TxStore) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	var txs booking.TxStore = mem
	if wrap != nil {
		txs = wrap(mem)
	}
	env := &testEnv{
		ctx:   context.Background(),
		store: mem,
		gw:    &fakeGateway{},
		clock: booking.NewFixedClock(time.Date(2025, time.February, 1, 12, 0, 0, 0, time.UTC)),
		notes: &recorder{},
	}
	env.engine = booking.NewEngine(booking.EngineConfig{
		Store:         txs,
		Sequences:     mem,
		Gateway:       env.gw,
		Notifier:      env.notes,
		AccessBaseURL: "https://stay.test",
		Clock:         env.clock,
		Log:           quietLogger(),
	})

	p, err := env.engine.Inventory.CreateProperty(env.ctx, booking.PropertyInput{Name: "Kacyiru Compound", Location: "Kigali"})
	require.NoError(t, err)
	env.property = p
	env.unitA = env.addUnit(t, "A", 100)
	return env
}

func (e *testEnv) addUnit(t *testing.T, name string, rate int64) *booking.Unit {
	t.Helper()
	u, err := e.engine.Inventory.CreateUnit(e.ctx, booking.UnitInput{
		PropertyID: e.property.ID,
		Name:       name,
		Rate:       dec(rate),
		Capacity:   2,
		Bedrooms:   1,
	})
	require.NoError(t, err)
	return u
}

func guest() booking.Guest {
	return booking.Guest{Name: "Aline Uwase", Email: "Aline@Example.com", Phone: "+250788000000", Country: "RW", City: "Kigali"}
}

// book creates a reservation with a saved payment method, so the hold is
// placed synchronously and the reservation comes back Confirmed.
func (e *testEnv) book(t *testing.T, unit, arrival, departure string) *booking.Reservation {
	t.Helper()
	res, err := e.tryBook(unit, arrival, departure)
	require.NoError(t, err)
	return res.Reservation
}

func (e *testEnv) tryBook(unit, arrival, departure string) (*booking.CreateResult, error) {
	return e.engine.Reservations.Create(e.ctx, booking.CreateInput{
		UnitName:         unit,
		Arrival:          date(arrival),
		Departure:        date(departure),
		Guest:            guest(),
		PaymentMethodRef: "pm_card_visa",
	})
}

func (e *testEnv) reload(t *testing.T, id booking.ReservationID) *booking.Reservation {
	t.Helper()
	r, err := e.store.GetReservation(e.ctx, id)
	require.NoError(t, err)
	return r
}

// =============================================================================
// INTERLEAVING STORE
// =============================================================================

// interleavedStore runs a hook attached to the context with beforeTx once,
// ahead of the next WithTx on that context, so a test can slip a change in
// between two steps of an operation. With blind set it also behaves like a
// store whose transactions do not see each other's writes: the overlap
// query inside WithTx returns nothing.
type interleavedStore struct {
	*store.Memory
	blind bool
}

func (s interleavedStore) WithTx(ctx context.Context, fn func(booking.Store) error) error {
	if h, ok := ctx.Value(hookKey{}).(*txHook); ok {
		h.once.Do(h.fn)
	}
	if !s.blind {
		return s.Memory.WithTx(ctx, fn)
	}
	return s.Memory.WithTx(ctx, func(tx booking.Store) error {
		return fn(blindTx{Store: tx})
	})
}

type blindTx struct {
	booking.Store
}

func (blindTx) OccupyingReservations(context.Context, booking.UnitID, booking.Stay) ([]booking.Reservation, error) {
	return nil, nil
}

type hookKey struct{}

type txHook struct {
	once sync.Once
	fn   func()
}

func beforeTx(ctx context.Context, fn func()) context.Context {
	return context.WithValue(ctx, hookKey{}, &txHook{fn: fn})
}

func hooked(m *store.Memory) booking.TxStore { return interleavedStore{Memory: m} }

func unserialized(m *store.Memory) booking.TxStore { return interleavedStore{Memory: m, blind: true} }
