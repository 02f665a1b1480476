package redisstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkout/internal/holds"
	"ms-checkout/internal/models"
)

// setupTestRedis creates a Redis client backed by miniredis pinned to now.
func setupTestRedis(t *testing.T, now time.Time) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	mr.SetTime(now)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func sampleHold(id string, now time.Time, ttl time.Duration) *models.Hold {
	return &models.Hold{
		ID:          id,
		RequesterID: "cart-1",
		EventID:     "ev-1",
		Status:      models.HoldActive,
		Items:       []models.HoldItem{{TicketTypeID: "ga", Quantity: 2, UnitPrice: 1500, Currency: "USD"}},
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		UpdatedAt:   now,
	}
}

func TestCreateAndGet(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	client, mr := setupTestRedis(t, now)
	s := New(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, sampleHold("h1", now, time.Minute)))

	got, err := s.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, models.HoldActive, got.Status)
	assert.Equal(t, "cart-1", got.RequesterID)
	assert.True(t, got.ExpiresAt.Equal(now.Add(time.Minute)))
	assert.Equal(t, int64(1500), got.Items[0].UnitPrice)

	// key outlives the hold by the audit tail
	assert.Equal(t, time.Minute+time.Hour, mr.TTL(key("h1")))

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrHoldNotFound)
}

func TestTransitionGuards(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	client, _ := setupTestRedis(t, now)
	s := New(client, time.Hour)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleHold("h1", now, time.Minute)))

	_, won, err := s.Transition(ctx, "h1", models.HoldExpired, holds.GuardExpired, now)
	require.NoError(t, err)
	assert.False(t, won, "not yet due")

	later := now.Add(time.Minute)
	_, won, err = s.Transition(ctx, "h1", models.HoldConverted, holds.GuardNotExpired, later)
	require.NoError(t, err)
	assert.False(t, won, "expired at the boundary")

	h, won, err := s.Transition(ctx, "h1", models.HoldExpired, holds.GuardExpired, later)
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, models.HoldExpired, h.Status)

	_, won, err = s.Transition(ctx, "h1", models.HoldReleased, holds.GuardAny, later)
	require.NoError(t, err)
	assert.False(t, won, "terminal holds never move")

	_, _, err = s.Transition(ctx, "nope", models.HoldReleased, holds.GuardAny, later)
	assert.ErrorIs(t, err, models.ErrHoldNotFound)
}

func TestDueForExpiryTracksActiveHolds(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	client, _ := setupTestRedis(t, now)
	s := New(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, sampleHold("early", now, time.Second)))
	require.NoError(t, s.Create(ctx, sampleHold("late", now, time.Hour)))
	require.NoError(t, s.Create(ctx, sampleHold("done", now, time.Second)))
	_, _, err := s.Transition(ctx, "done", models.HoldReleased, holds.GuardAny, now)
	require.NoError(t, err)

	ids, err := s.DueForExpiry(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"early"}, ids)

	// renew moves the hold out of the due window
	_, ok, err := s.Extend(ctx, "early", now.Add(2*time.Hour), now)
	require.NoError(t, err)
	assert.True(t, ok)
	ids, err = s.DueForExpiry(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRestoreUndoesTransition(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	client, _ := setupTestRedis(t, now)
	s := New(client, time.Hour)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleHold("h1", now, time.Second)))

	_, won, err := s.Transition(ctx, "h1", models.HoldConverted, holds.GuardNotExpired, now)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, s.Restore(ctx, "h1", models.HoldConverted, now))
	h, err := s.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, models.HoldActive, h.Status)

	ids, err := s.DueForExpiry(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, ids)

	// restoring from the wrong status changes nothing
	require.NoError(t, s.Restore(ctx, "h1", models.HoldReleased, now))
	h, err = s.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, models.HoldActive, h.Status)
}

func TestConcurrentTransitionsHaveOneWinner(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	client, _ := setupTestRedis(t, now)
	s := New(client, time.Hour)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleHold("h1", now, time.Minute)))

	var wins atomic.Int32
	var wg sync.WaitGroup
	targets := []models.HoldStatus{models.HoldConverted, models.HoldReleased, models.HoldConverted, models.HoldReleased}
	for _, to := range targets {
		wg.Add(1)
		go func(to models.HoldStatus) {
			defer wg.Done()
			_, won, err := s.Transition(ctx, "h1", to, holds.GuardNotExpired, now)
			assert.NoError(t, err)
			if won {
				wins.Add(1)
			}
		}(to)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestPurgeDropsDanglingIndexEntries(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	client, mr := setupTestRedis(t, now)
	s := New(client, time.Hour)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleHold("h1", now, time.Second)))

	mr.Del(key("h1"))
	n, err := s.Purge(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ids, err := s.DueForExpiry(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
