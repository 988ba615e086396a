package booking_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_WorkedExample(t *testing.T) {
	// GIVEN: unit A at 100/night
	env := newTestEnv(t)

	// WHEN: booking 03-01..03-04
	r := env.book(t, "A", "2025-03-01", "2025-03-04")

	// THEN: 3 nights, total 300, hold of one night
	assert.Equal(t, booking.StatusConfirmed, r.Status)
	assert.Equal(t, 3, r.Nights)
	assert.True(t, r.Total.Equal(dec(300)))
	assert.True(t, r.HoldAmount.Equal(dec(100)))
	require.Len(t, env.gw.holds, 1)
	assert.True(t, env.gw.holds[0].Amount.Equal(dec(100)))
	assert.Equal(t, booking.HoldKey(r.ID), env.gw.holds[0].IdempotencyKey)

	// WHEN: an overlapping request arrives
	_, err := env.tryBook("A", "2025-03-03", "2025-03-05")

	// THEN: conflict with the offending interval
	var ce *booking.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, r.ID, ce.ReservationID)
	assert.Equal(t, "2025-03-01..2025-03-04", ce.Existing.String())
	assert.ErrorIs(t, err, booking.ErrConflict)

	// AND: an adjacent stay succeeds
	next := env.book(t, "A", "2025-03-04", "2025-03-06")
	assert.Equal(t, booking.StatusConfirmed, next.Status)
	assert.Greater(t, int64(next.ID), int64(r.ID))
}

func TestCreate_BlockedDatesConflict(t *testing.T) {
	env := newTestEnv(t)
	blk, err := env.engine.Inventory.AddBlock(env.ctx, env.unitA.ID,
		booking.Stay{Arrival: date("2025-03-02"), Departure: date("2025-03-03")}, "owner stay")
	require.NoError(t, err)

	_, err = env.tryBook("A", "2025-03-01", "2025-03-04")
	var ce *booking.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, blk.ID, ce.BlockID)
}

func TestCreate_ValidationBeforeAnyMutation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Reservations.Create(env.ctx, booking.CreateInput{
		UnitName: "A", Arrival: date("2025-03-01"), Departure: date("2025-03-04"),
		Guest: booking.Guest{Name: "No Email"},
	})
	assert.ErrorIs(t, err, booking.ErrValidation)

	_, err = env.tryBook("A", "2025-01-10", "2025-01-12")
	assert.ErrorIs(t, err, booking.ErrInvalidDateRange)

	_, err = env.tryBook("Z", "2025-03-01", "2025-03-04")
	assert.ErrorIs(t, err, booking.ErrUnitNotFound)

	all, err := env.engine.Reservations.List(env.ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Zero(t, env.gw.holdCount())
}

func TestCreate_UpsertsPersonByLowercasedEmail(t *testing.T) {
	env := newTestEnv(t)
	env.book(t, "A", "2025-03-01", "2025-03-04")

	people := env.store.People()
	p, ok := people["aline@example.com"]
	require.True(t, ok)
	assert.Equal(t, "Aline Uwase", p.Name)
}

func TestCreate_WithoutPaymentMethod_StartsSetup(t *testing.T) {
	// GIVEN: no saved payment method
	env := newTestEnv(t)

	// WHEN: creating
	res, err := env.engine.Reservations.Create(env.ctx, booking.CreateInput{
		UnitName: "A", Arrival: date("2025-03-01"), Departure: date("2025-03-04"), Guest: guest(),
	})

	// THEN: Pending with a redirect, no hold yet, unit already occupied
	require.NoError(t, err)
	require.NotNil(t, res.Setup)
	assert.NotEmpty(t, res.Setup.RedirectURL)
	assert.Equal(t, booking.StatusPending, res.Reservation.Status)
	assert.Equal(t, booking.PaymentSetupPending, res.Reservation.Payment.State)
	assert.Zero(t, env.gw.holdCount())

	_, err = env.tryBook("A", "2025-03-02", "2025-03-03")
	assert.ErrorIs(t, err, booking.ErrOverlap)
}

func TestCreate_HoldDeclined_PersistsAuthorizationFailed(t *testing.T) {
	// GIVEN: the issuer declines
	env := newTestEnv(t)
	env.gw.holdErr = booking.ErrHoldDeclined

	// WHEN: booking
	res, err := env.tryBook("A", "2025-03-01", "2025-03-04")

	// THEN: error surfaces, reservation kept as audit trail
	require.Error(t, err)
	assert.ErrorIs(t, err, booking.ErrAuthorizationFailed)
	require.NotNil(t, res)
	stored := env.reload(t, res.Reservation.ID)
	assert.Equal(t, booking.StatusAuthorizationFailed, stored.Status)
	assert.Equal(t, booking.PaymentHoldFailed, stored.Payment.State)

	// AND: the unit is free again
	env.gw.holdErr = nil
	_, err = env.tryBook("A", "2025-03-01", "2025-03-04")
	assert.NoError(t, err)
}

type slowGateway struct {
	*fakeGateway
}

func (g slowGateway) CreateHold(ctx context.Context, _ booking.HoldRequest) (*booking.Hold, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCreate_GatewayTimeout_IsAuthorizationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Payments.Gateway = slowGateway{env.gw}
	env.engine.Payments.Timeout = 20 * time.Millisecond

	res, err := env.tryBook("A", "2025-03-01", "2025-03-04")
	require.Error(t, err)
	assert.ErrorIs(t, err, booking.ErrGatewayTimeout)
	assert.ErrorIs(t, err, booking.ErrAuthorizationFailed)
	assert.Equal(t, booking.StatusAuthorizationFailed, env.reload(t, res.Reservation.ID).Status)
}

func TestCreate_ConcurrentSameUnit_ExactlyOneWins(t *testing.T) {
	env := newTestEnv(t)

	const guests = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < guests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.tryBook("A", "2025-03-01", "2025-03-04")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, booking.ErrOverlap):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, guests-1, conflicts)
}

func TestCreate_LowerIDCommittingLast_DisplacesHigherID(t *testing.T) {
	// GIVEN: the in-transaction overlap check sees nothing, and the create
	// holding id 1 is parked ahead of its transaction
	env := newTestEnvOn(t, unserialized)
	parked, resume := make(chan struct{}), make(chan struct{})
	ctx := beforeTx(env.ctx, func() {
		close(parked)
		<-resume
	})
	type outcome struct {
		res *booking.CreateResult
		err error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		res, err := env.engine.Reservations.Create(ctx, booking.CreateInput{
			UnitName: "A", Arrival: date("2025-03-01"), Departure: date("2025-03-04"),
			Guest: guest(), PaymentMethodRef: "pm_card_visa",
		})
		firstDone <- outcome{res, err}
	}()
	<-parked

	// WHEN: id 2 books overlapping nights and fully commits before id 1
	second, err := env.tryBook("A", "2025-03-02", "2025-03-05")
	require.NoError(t, err)
	require.Equal(t, booking.ReservationID(2), second.Reservation.ID)
	require.Equal(t, booking.StatusConfirmed, second.Reservation.Status)
	close(resume)
	first := <-firstDone

	// THEN: id 1 keeps the unit
	require.NoError(t, first.err)
	assert.Equal(t, booking.ReservationID(1), first.res.Reservation.ID)
	assert.Equal(t, booking.StatusConfirmed, first.res.Reservation.Status)

	occupying, err := env.store.OccupyingReservations(env.ctx, env.unitA.ID,
		booking.Stay{Arrival: date("2025-03-01"), Departure: date("2025-03-05")})
	require.NoError(t, err)
	require.Len(t, occupying, 1)
	assert.Equal(t, booking.ReservationID(1), occupying[0].ID)

	// AND: id 2 is canceled, its hold released and its guest told
	displaced := env.reload(t, 2)
	assert.Equal(t, booking.StatusCanceled, displaced.Status)
	assert.Equal(t, booking.PaymentReleased, displaced.Payment.State)
	assert.Equal(t, []string{second.Reservation.Payment.HoldRef}, env.gw.releases)
	assert.Contains(t, env.notes.kinds(), booking.NotifyCancellation)
}

func TestCreate_HigherIDCommittingLast_CancelsItself(t *testing.T) {
	// GIVEN: the in-transaction overlap check sees nothing, and id 1 holds A
	env := newTestEnvOn(t, unserialized)
	first := env.book(t, "A", "2025-03-01", "2025-03-04")

	// WHEN: id 2 inserts overlapping nights
	_, err := env.tryBook("A", "2025-03-03", "2025-03-05")

	// THEN: the re-scan after commit cancels id 2 and reports the conflict
	var ce *booking.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, first.ID, ce.ReservationID)
	assert.Equal(t, booking.StatusCanceled, env.reload(t, 2).Status)
	assert.Equal(t, booking.StatusConfirmed, env.reload(t, first.ID).Status)
	assert.Equal(t, 1, env.gw.holdCount())
}

// =============================================================================
// READ / TOKEN
// =============================================================================

func TestGet_TokenOpacity(t *testing.T) {
	env := newTestEnv(t)
	r := env.book(t, "A", "2025-03-01", "2025-03-04")
	assert.Len(t, r.Token, 64)

	got, err := env.engine.Reservations.Get(env.ctx, r.ID, r.Token)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	_, wrongToken := env.engine.Reservations.Get(env.ctx, r.ID, strings.Repeat("0", 64))
	_, wrongID := env.engine.Reservations.Get(env.ctx, r.ID+100, r.Token)
	_, noToken := env.engine.Reservations.Get(env.ctx, r.ID, "")

	assert.Equal(t, wrongToken, wrongID)
	assert.Equal(t, wrongToken.Error(), noToken.Error())
	assert.ErrorIs(t, wrongToken, booking.ErrReservationNotFound)
}

// =============================================================================
// MODIFY
// =============================================================================

func TestModify_RepricesAtCurrentRateKeepsHold(t *testing.T) {
	// GIVEN: a 3-night booking on A, then A's rate rises and B exists
	env := newTestEnv(t)
	r := env.book(t, "A", "2025-03-01", "2025-03-04")
	rate := dec(130)
	_, err := env.engine.Inventory.UpdateUnit(env.ctx, env.unitA.ID, booking.UnitUpdate{Rate: &rate})
	require.NoError(t, err)

	// WHEN: extending by one night
	dep := date("2025-03-05")
	got, err := env.engine.Reservations.Modify(env.ctx, r.ID, r.Token, booking.ModifyInput{Departure: &dep})

	// THEN: 4 nights at the current rate, hold untouched
	require.NoError(t, err)
	assert.Equal(t, 4, got.Nights)
	assert.True(t, got.Total.Equal(dec(520)), "got %s", got.Total)
	assert.True(t, got.HoldAmount.Equal(dec(100)))
	assert.Contains(t, env.notes.kinds(), booking.NotifyModification)
}

func TestModify_MoveToOtherUnit(t *testing.T) {
	env := newTestEnv(t)
	env.addUnit(t, "B", 150)
	r := env.book(t, "A", "2025-03-01", "2025-03-04")

	name := "B"
	got, err := env.engine.Reservations.Modify(env.ctx, r.ID, r.Token, booking.ModifyInput{UnitName: &name})
	require.NoError(t, err)
	assert.Equal(t, "B", got.UnitName)
	assert.True(t, got.Total.Equal(dec(450)))

	// A is free again for the same dates
	_, err = env.tryBook("A", "2025-03-01", "2025-03-04")
	assert.NoError(t, err)
}

func TestModify_ExcludesSelfButNotOthers(t *testing.T) {
	env := newTestEnv(t)
	first := env.book(t, "A", "2025-03-01", "2025-03-04")
	second := env.book(t, "A", "2025-03-06", "2025-03-08")

	// Shifting within its own interval is fine
	arr := date("2025-03-02")
	_, err := env.engine.Reservations.Modify(env.ctx, first.ID, first.Token, booking.ModifyInput{Arrival: &arr})
	require.NoError(t, err)

	// Stretching into the second booking conflicts and commits nothing
	dep := date("2025-03-07")
	_, err = env.engine.Reservations.Modify(env.ctx, first.ID, first.Token, booking.ModifyInput{Departure: &dep})
	var ce *booking.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, second.ID, ce.ReservationID)
	assert.Equal(t, "2025-03-02..2025-03-04", env.reload(t, first.ID).Stay.String())
}

func TestModify_Rejections(t *testing.T) {
	env := newTestEnv(t)
	r := env.book(t, "A", "2025-03-01", "2025-03-04")

	_, err := env.engine.Reservations.Modify(env.ctx, r.ID, r.Token, booking.ModifyInput{})
	assert.ErrorIs(t, err, booking.ErrValidation)

	dep := date("2025-03-05")
	_, err = env.engine.Reservations.Modify(env.ctx, r.ID, "bad", booking.ModifyInput{Departure: &dep})
	assert.ErrorIs(t, err, booking.ErrReservationNotFound)

	_, err = env.engine.Reservations.Cancel(env.ctx, r.ID, r.Token)
	require.NoError(t, err)
	_, err = env.engine.Reservations.Modify(env.ctx, r.ID, r.Token, booking.ModifyInput{Departure: &dep})
	assert.ErrorIs(t, err, booking.ErrAlreadyCanceled)
}

func TestModify_OntoBlockedUnitConflicts(t *testing.T) {
	// GIVEN: a booking on A and unit B blocked over the same nights
	env := newTestEnv(t)
	b := env.addUnit(t, "B", 150)
	block, err := env.engine.Inventory.AddBlock(env.ctx, b.ID,
		booking.Stay{Arrival: date("2025-03-02"), Departure: date("2025-03-03")}, "maintenance")
	require.NoError(t, err)
	r := env.book(t, "A", "2025-03-01", "2025-03-04")

	// WHEN: moving the booking to B
	name := "B"
	_, err = env.engine.Reservations.Modify(env.ctx, r.ID, r.Token, booking.ModifyInput{UnitName: &name})

	// THEN: the block is reported and the booking stays on A
	var ce *booking.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, block.ID, ce.BlockID)
	assert.Equal(t, b.ID, ce.UnitID)
	assert.Zero(t, ce.ReservationID)
	assert.ErrorIs(t, err, booking.ErrOverlap)
	assert.Equal(t, "A", env.reload(t, r.ID).UnitName)
}

func TestModify_DatesOntoBlockOnSameUnitConflict(t *testing.T) {
	// GIVEN: a booking on A and a block on A after it
	env := newTestEnv(t)
	r := env.book(t, "A", "2025-03-01", "2025-03-04")
	block, err := env.engine.Inventory.AddBlock(env.ctx, env.unitA.ID,
		booking.Stay{Arrival: date("2025-03-10"), Departure: date("2025-03-12")}, "repaint")
	require.NoError(t, err)

	// WHEN: extending the stay into the block
	dep := date("2025-03-11")
	_, err = env.engine.Reservations.Modify(env.ctx, r.ID, r.Token, booking.ModifyInput{Departure: &dep})

	// THEN: the block wins and nothing is committed
	var ce *booking.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, block.ID, ce.BlockID)
	assert.Equal(t, "2025-03-01..2025-03-04", env.reload(t, r.ID).Stay.String())

	// AND: stopping the day the block starts is fine
	dep = date("2025-03-10")
	_, err = env.engine.Reservations.Modify(env.ctx, r.ID, r.Token, booking.ModifyInput{Departure: &dep})
	assert.NoError(t, err)
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_BeforeArrival_ReleasesHold(t *testing.T) {
	env := newTestEnv(t)
	r := env.book(t, "A", "2025-03-01", "2025-03-04")

	got, err := env.engine.Reservations.Cancel(env.ctx, r.ID, r.Token)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCanceled, got.Status)
	assert.Equal(t, booking.PaymentReleased, got.Payment.State)
	assert.Equal(t, []string{r.Payment.HoldRef}, env.gw.releases)
	assert.Empty(t, env.gw.captures)
	assert.Contains(t, env.notes.kinds(), booking.NotifyCancellation)
}

func TestCancel_OnArrivalDay_CapturesOneNightAtBookingRate(t *testing.T) {
	// GIVEN: a 5-night booking at 100, later repriced and the unit rate raised
	env := newTestEnv(t)
	r := env.book(t, "A", "2025-03-01", "2025-03-06")
	rate := dec(400)
	_, err := env.engine.Inventory.UpdateUnit(env.ctx, env.unitA.ID, booking.UnitUpdate{Rate: &rate})
	require.NoError(t, err)
	dep := date("2025-03-07")
	_, err = env.engine.Reservations.Modify(env.ctx, r.ID, r.Token, booking.ModifyInput{Departure: &dep})
	require.NoError(t, err)

	// WHEN: cancelling on the arrival day
	env.clock.Set(time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC))
	got, err := env.engine.Reservations.Cancel(env.ctx, r.ID, r.Token)

	// THEN: exactly one night at the original rate is captured
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCanceledLateFeeCharged, got.Status)
	require.Len(t, env.gw.captures, 1)
	assert.True(t, env.gw.captures[0].Amount.Equal(dec(100)), "got %s", env.gw.captures[0].Amount)
	assert.True(t, got.Payment.Captured.Equal(dec(100)))
}

// holdLands confirms the reservation underneath a running operation.
func holdLands(t *testing.T, env *testEnv, id booking.ReservationID, ref string) func() {
	return func() {
		cur := env.reload(t, id)
		cur.Status = booking.StatusConfirmed
		cur.Payment.State = booking.PaymentHoldPlaced
		cur.Payment.HoldRef = ref
		require.NoError(t, env.store.UpdateReservation(env.ctx, *cur))
	}
}

func TestCancel_LateWithHoldLandingMidCancel_CapturesFee(t *testing.T) {
	// GIVEN: a reservation still waiting on its setup, on its arrival day
	env := newTestEnvOn(t, hooked)
	r := env.bookWithSetup(t, "2025-03-01", "2025-03-04")
	env.clock.Set(time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC))

	// WHEN: the hold is placed while the cancellation is in progress
	ctx := beforeTx(env.ctx, holdLands(t, env, r.ID, "pi_mid_cancel"))
	got, err := env.engine.Reservations.CancelAsAdmin(ctx, r.ID)

	// THEN: the late fee is captured from that hold
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCanceledLateFeeCharged, got.Status)
	assert.Equal(t, booking.PaymentCaptured, got.Payment.State)
	assert.True(t, got.Payment.Captured.Equal(dec(100)), "got %s", got.Payment.Captured)
	require.Len(t, env.gw.captures, 1)
	assert.Equal(t, "pi_mid_cancel", env.gw.captures[0].Ref)
	assert.True(t, env.gw.captures[0].Amount.Equal(dec(100)))
	assert.Empty(t, env.gw.releases)
	assert.Equal(t, booking.StatusCanceledLateFeeCharged, env.reload(t, r.ID).Status)
}

func TestCancel_EarlyWithHoldLandingMidCancel_ReleasesHold(t *testing.T) {
	env := newTestEnvOn(t, hooked)
	r := env.bookWithSetup(t, "2025-03-01", "2025-03-04")

	ctx := beforeTx(env.ctx, holdLands(t, env, r.ID, "pi_mid_cancel"))
	got, err := env.engine.Reservations.CancelAsAdmin(ctx, r.ID)

	require.NoError(t, err)
	assert.Equal(t, booking.StatusCanceled, got.Status)
	assert.Equal(t, booking.PaymentReleased, got.Payment.State)
	assert.Equal(t, []string{"pi_mid_cancel"}, env.gw.releases)
	assert.Empty(t, env.gw.captures)
}

func TestCancel_Twice_AlreadyCanceled(t *testing.T) {
	env := newTestEnv(t)
	r := env.book(t, "A", "2025-03-01", "2025-03-04")
	_, err := env.engine.Reservations.Cancel(env.ctx, r.ID, r.Token)
	require.NoError(t, err)

	_, err = env.engine.Reservations.Cancel(env.ctx, r.ID, r.Token)
	assert.ErrorIs(t, err, booking.ErrAlreadyCanceled)
	assert.Len(t, env.gw.releases, 1)
}

func TestCancel_GatewayFailure_LeavesReservationUnchanged(t *testing.T) {
	env := newTestEnv(t)
	r := env.book(t, "A", "2025-03-01", "2025-03-04")
	env.gw.releaseErr = errors.New("connection reset")

	_, err := env.engine.Reservations.Cancel(env.ctx, r.ID, r.Token)
	assert.ErrorIs(t, err, booking.ErrGatewayError)

	stored := env.reload(t, r.ID)
	assert.Equal(t, booking.StatusConfirmed, stored.Status)
	assert.Equal(t, booking.PaymentHoldPlaced, stored.Payment.State)
}

func TestCancel_PendingWithoutHold(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.engine.Reservations.Create(env.ctx, booking.CreateInput{
		UnitName: "A", Arrival: date("2025-03-01"), Departure: date("2025-03-04"), Guest: guest(),
	})
	require.NoError(t, err)
	r := res.Reservation

	got, err := env.engine.Reservations.Cancel(env.ctx, r.ID, r.Token)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCanceled, got.Status)
	assert.Empty(t, env.gw.releases)
}

// =============================================================================
// MARK PAID
// =============================================================================

func TestMarkPaid(t *testing.T) {
	env := newTestEnv(t)
	r := env.book(t, "A", "2025-03-01", "2025-03-04")

	got, err := env.engine.Reservations.MarkPaid(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPaid, got.Status)
	assert.Equal(t, []string{r.Payment.HoldRef}, env.gw.releases)

	_, err = env.engine.Reservations.MarkPaid(env.ctx, r.ID)
	assert.ErrorIs(t, err, booking.ErrAlreadyPaid)

	// Paid is terminal for guests
	_, err = env.engine.Reservations.Cancel(env.ctx, r.ID, r.Token)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
}

func TestMarkPaid_RejectsCanceledAndPending(t *testing.T) {
	env := newTestEnv(t)
	r := env.book(t, "A", "2025-03-01", "2025-03-04")
	_, err := env.engine.Reservations.CancelAsAdmin(env.ctx, r.ID)
	require.NoError(t, err)
	_, err = env.engine.Reservations.MarkPaid(env.ctx, r.ID)
	assert.ErrorIs(t, err, booking.ErrAlreadyCanceled)

	res, err := env.engine.Reservations.Create(env.ctx, booking.CreateInput{
		UnitName: "A", Arrival: date("2025-04-01"), Departure: date("2025-04-02"), Guest: guest(),
	})
	require.NoError(t, err)
	_, err = env.engine.Reservations.MarkPaid(env.ctx, res.Reservation.ID)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
}

func TestList_NewestFirst(t *testing.T) {
	env := newTestEnv(t)
	a := env.book(t, "A", "2025-03-01", "2025-03-04")
	b := env.book(t, "A", "2025-03-10", "2025-03-12")

	all, err := env.engine.Reservations.List(env.ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID)
	assert.Equal(t, a.ID, all[1].ID)
}
