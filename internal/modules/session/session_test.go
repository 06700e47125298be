package session

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbix/internal/modules/pricing"
	"orbix/internal/modules/ride"
	"orbix/internal/types"
)

func newStore(role types.Role) *ride.Store {
	return ride.NewStore(ride.Options{Role: role, IdentityID: "u1"})
}

func driveToStarted(t *testing.T, s *ride.Store) {
	t.Helper()
	require.NoError(t, s.Transition(ride.Event{
		Kind: ride.EventRequestSubmitted, RideID: "r1",
		Pickup: ride.Place{Address: "MG Road"}, Destination: ride.Place{Address: "Airport"},
		VehicleType: "car",
	}))
	require.NoError(t, s.Transition(ride.Event{Kind: ride.EventMatched, RideID: "r1", OTP: "483920", Counterpart: &ride.Counterpart{Name: "Ravi"}}))
	require.NoError(t, s.Transition(ride.Event{Kind: ride.EventRideStarted, RideID: "r1"}))
}

func TestPersisterSavesAndRestores(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache("u1")

	first := newStore(types.RoleRider)
	p := NewPersister(first, cache, nil)
	p.Start()
	driveToStarted(t, first)
	require.NoError(t, first.SetFare("r1", pricing.NewFare(types.Money{Amount: 25000, Currency: "INR"})))
	require.NoError(t, first.SetRoute("r1", &ride.Route{Available: true, DistanceKm: 4}))
	p.Stop()

	saved, err := cache.Load(ctx, "u1", types.RoleRider)
	require.NoError(t, err)
	assert.Equal(t, ride.PhaseStarted, saved.Phase)
	assert.Equal(t, "483920", saved.OTP)
	assert.Equal(t, int64(25000), saved.DisplayFare().Amount)
	assert.Nil(t, saved.Route)

	second := newStore(types.RoleRider)
	restored, err := NewPersister(second, cache, nil).RestoreInto(ctx)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, ride.PhaseStarted, second.Phase())
	assert.Equal(t, types.ID("r1"), second.Current().RideID)
}

func TestPersisterClearsOnTerminal(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache("u1")
	s := newStore(types.RoleRider)
	p := NewPersister(s, cache, nil)
	p.Start()

	driveToStarted(t, s)
	require.NoError(t, s.Transition(ride.Event{Kind: ride.EventCancel, RideID: "r1", Reason: "rider cancelled"}))
	p.Stop()

	_, err := cache.Load(ctx, "u1", types.RoleRider)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersisterClearsOnReset(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache("u1")
	s := newStore(types.RoleCaptain)
	p := NewPersister(s, cache, nil)
	p.Start()

	require.NoError(t, s.Transition(ride.Event{Kind: ride.EventOfferAccepted, RideID: "r2", Pickup: ride.Place{Address: "A"}, Destination: ride.Place{Address: "B"}}))
	s.Reset()
	p.Stop()

	_, err := cache.Load(ctx, "u1", types.RoleCaptain)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestoreWithNothingSaved(t *testing.T) {
	s := newStore(types.RoleRider)
	ok, err := NewPersister(s, NewMemoryCache("u1"), nil).RestoreInto(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ride.PhaseIdle, s.Phase())
}

func TestRestoreDiscardsWrongRole(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache("u1")
	require.NoError(t, cache.Save(ctx, ride.Session{RideID: "r1", Role: types.RoleCaptain, Phase: ride.PhaseStarted}))

	// Saved under the captain key, so the rider store finds nothing.
	ok, err := NewPersister(newStore(types.RoleRider), cache, nil).RestoreInto(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// A finished ride under the right key is discarded and deleted.
	require.NoError(t, cache.Save(ctx, ride.Session{RideID: "r1", Role: types.RoleCaptain, Phase: ride.PhaseCompleted}))
	ok, err = NewPersister(newStore(types.RoleCaptain), cache, nil).RestoreInto(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = cache.Load(ctx, "u1", types.RoleCaptain)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("ORBIX_REDIS_ADDR")
	if addr == "" {
		t.Skip("ORBIX_REDIS_ADDR not set; skipping integration test")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	cache := NewRedisCache(rdb, "it-user", 0)
	t.Cleanup(func() { _ = cache.Delete(ctx, "it-user", types.RoleRider) })

	fare := pricing.NewFare(types.Money{Amount: 18000, Currency: "INR"}).WithFee(pricing.FeeLateNight, types.Money{Amount: 2500, Currency: "INR"})
	in := ride.Session{RideID: "r-it", Role: types.RoleRider, Phase: ride.PhaseMatched, OTP: "000123", Fare: fare}
	require.NoError(t, cache.Save(ctx, in))

	out, err := cache.Load(ctx, "it-user", types.RoleRider)
	require.NoError(t, err)
	assert.Equal(t, in.RideID, out.RideID)
	assert.Equal(t, in.OTP, out.OTP)
	assert.Equal(t, int64(20500), out.DisplayFare().Amount)

	require.NoError(t, cache.Delete(ctx, "it-user", types.RoleRider))
	_, err = cache.Load(ctx, "it-user", types.RoleRider)
	assert.ErrorIs(t, err, ErrNotFound)
}
