package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reservation-engine/booking"
	"github.com/warp/reservation-engine/booking/store"
)

var t0 = time.Date(2025, time.February, 1, 12, 0, 0, 0, time.UTC)

func seedPeople(t *testing.T, m *store.Memory) {
	t.Helper()
	ctx := context.Background()
	for _, p := range []booking.Person{
		{Email: "Aline@Example.com", Name: "Aline Uwase", City: "Kigali", UpdatedAt: t0},
		{Email: "eric@example.com", Name: "Eric Mugisha", UpdatedAt: t0},
		{Email: "diane@example.com", Name: "Diane Uwase", UpdatedAt: t0},
	} {
		require.NoError(t, m.UpsertPerson(ctx, p))
	}
}

func TestSearchPeople_SubstringIgnoringCase(t *testing.T) {
	m := store.NewMemory()
	seedPeople(t, m)

	got, err := m.SearchPeople(context.Background(), "uWaSe")

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Aline Uwase", got[0].Name)
	assert.Equal(t, "aline@example.com", got[0].Email)
	assert.Equal(t, "Diane Uwase", got[1].Name)
}

func TestSearchPeople_EmptyNameReturnsEveryone(t *testing.T) {
	m := store.NewMemory()
	seedPeople(t, m)

	got, err := m.SearchPeople(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = m.SearchPeople(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestDeletePerson(t *testing.T) {
	m := store.NewMemory()
	seedPeople(t, m)
	ctx := context.Background()

	// GIVEN: an email in a different case than stored
	require.NoError(t, m.DeletePerson(ctx, "ALINE@example.com"))

	// THEN: only that record is gone
	got, err := m.SearchPeople(ctx, "")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.NotContains(t, m.People(), "aline@example.com")

	// AND: deleting again is not found
	err = m.DeletePerson(ctx, "aline@example.com")
	assert.ErrorIs(t, err, booking.ErrPersonNotFound)
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestDeletePerson_RolledBackWithTx(t *testing.T) {
	m := store.NewMemory()
	seedPeople(t, m)
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(s booking.Store) error {
		require.NoError(t, s.DeletePerson(ctx, "eric@example.com"))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, m.People(), "eric@example.com")
}
