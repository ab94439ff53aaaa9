package kafka

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }
func newClock() *fakeClock                   { return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)} }
func memoryStore(clock *fakeClock) *MemoryDedupStore {
	s := NewMemoryDedupStore(time.Minute, time.Hour)
	s.now = clock.now
	return s
}

func TestMemoryDedupStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := memoryStore(newClock())

	state, err := store.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)

	state, _ = store.Claim(ctx, "evt-1")
	assert.Equal(t, ClaimInFlight, state)

	require.NoError(t, store.Complete(ctx, "evt-1"))
	state, _ = store.Claim(ctx, "evt-1")
	assert.Equal(t, ClaimDone, state)

	require.NoError(t, store.Release(ctx, "evt-1"))
	state, _ = store.Claim(ctx, "evt-1")
	assert.Equal(t, ClaimDone, state, "release keeps completed events")
}

func TestMemoryDedupStore_ReleaseAllowsRetry(t *testing.T) {
	ctx := context.Background()
	store := memoryStore(newClock())

	_, _ = store.Claim(ctx, "evt-1")
	require.NoError(t, store.Release(ctx, "evt-1"))

	state, err := store.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)
}

func TestMemoryDedupStore_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := memoryStore(clock)

	_, _ = store.Claim(ctx, "stale-claim")
	_, _ = store.Claim(ctx, "done")
	require.NoError(t, store.Complete(ctx, "done"))

	clock.advance(time.Minute)
	state, _ := store.Claim(ctx, "stale-claim")
	assert.Equal(t, ClaimAcquired, state, "abandoned claims expire")
	state, _ = store.Claim(ctx, "done")
	assert.Equal(t, ClaimDone, state)

	clock.advance(time.Hour)
	state, _ = store.Claim(ctx, "done")
	assert.Equal(t, ClaimAcquired, state)
	assert.Equal(t, 1, store.Len(), "expired entries are swept")
}

func TestMemoryDedupStore_SingleWinner(t *testing.T) {
	store := NewMemoryDedupStore(time.Minute, time.Hour)

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s, _ := store.Claim(context.Background(), "evt-race"); s == ClaimAcquired {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), acquired.Load())
}

func newRedisStore(t *testing.T) (*RedisDedupStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDedupStore(client, time.Minute, time.Hour), mr
}

func TestRedisDedupStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)
	key := "search:event:evt-1"

	state, err := store.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)
	assert.Equal(t, time.Minute, mr.TTL(key))

	state, err = store.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, ClaimInFlight, state)

	require.NoError(t, store.Complete(ctx, "evt-1"))
	assert.Equal(t, time.Hour, mr.TTL(key))

	state, err = store.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, ClaimDone, state)

	require.NoError(t, store.Release(ctx, "evt-1"))
	assert.True(t, mr.Exists(key), "release keeps completed events")
}

func TestRedisDedupStore_ReleaseAndExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	_, _ = store.Claim(ctx, "evt-released")
	require.NoError(t, store.Release(ctx, "evt-released"))
	assert.False(t, mr.Exists("search:event:evt-released"))

	_, _ = store.Claim(ctx, "evt-abandoned")
	mr.FastForward(2 * time.Minute)
	state, err := store.Claim(ctx, "evt-abandoned")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)
}

func TestRedisDedupStore_ServerDown(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, err := store.Claim(context.Background(), "evt-1")
	assert.ErrorContains(t, err, "claim event evt-1")
	assert.Error(t, store.Complete(context.Background(), "evt-1"))
	assert.Error(t, store.Release(context.Background(), "evt-1"))
}

func testEvent(eventID string) *Event {
	return &Event{
		EventID:     eventID,
		EventType:   "product.updated",
		AggregateID: "42",
	}
}

func countingHandler(calls *int32, err error) Handler {
	return func(context.Context, *Event) error {
		atomic.AddInt32(calls, 1)
		return err
	}
}

func TestDeduplicate_DuplicateSkipped(t *testing.T) {
	var calls int32
	handler := Deduplicate(NewMemoryDedupStore(time.Minute, time.Hour), countingHandler(&calls, nil), testLogger())

	require.NoError(t, handler(context.Background(), testEvent("evt-dup")))
	require.NoError(t, handler(context.Background(), testEvent("evt-dup")))
	require.NoError(t, handler(context.Background(), testEvent("evt-other")))

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDeduplicate_EmptyEventIDPassesThrough(t *testing.T) {
	var calls int32
	handler := Deduplicate(NewMemoryDedupStore(time.Minute, time.Hour), countingHandler(&calls, nil), testLogger())

	for i := 0; i < 3; i++ {
		require.NoError(t, handler(context.Background(), testEvent("")))
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDeduplicate_FailureReleasesClaim(t *testing.T) {
	store := NewMemoryDedupStore(time.Minute, time.Hour)
	handlerErr := errors.New("bulk rejected")
	var calls int32
	handler := Deduplicate(store, countingHandler(&calls, handlerErr), testLogger())

	assert.ErrorIs(t, handler(context.Background(), testEvent("evt-err")), handlerErr)
	assert.ErrorIs(t, handler(context.Background(), testEvent("evt-err")), handlerErr)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Zero(t, store.Len())
}

func TestDeduplicate_InFlightElsewhere(t *testing.T) {
	store, _ := newRedisStore(t)
	_, err := store.Claim(context.Background(), "evt-busy")
	require.NoError(t, err)

	var calls int32
	handler := Deduplicate(store, countingHandler(&calls, nil), testLogger())

	err = handler(context.Background(), testEvent("evt-busy"))
	assert.ErrorIs(t, err, ErrEventInFlight)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestDeduplicate_StoreDownProcessesAnyway(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	var calls int32
	handler := Deduplicate(store, countingHandler(&calls, nil), testLogger())

	require.NoError(t, handler(context.Background(), testEvent("evt-store-fail")))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClaimState_String(t *testing.T) {
	assert.Equal(t, "acquired", ClaimAcquired.String())
	assert.Equal(t, "in_flight", ClaimInFlight.String())
	assert.Equal(t, "done", ClaimDone.String())
	assert.Equal(t, "ClaimState(9)", ClaimState(9).String())
}
