package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClaimState is the outcome of claiming an event ID.
type ClaimState int

const (
	// ClaimAcquired means the caller owns the event and must Complete or
	// Release it.
	ClaimAcquired ClaimState = iota
	// ClaimInFlight means another handler holds an unexpired claim.
	ClaimInFlight
	// ClaimDone means the event was already processed.
	ClaimDone
)

func (s ClaimState) String() string {
	switch s {
	case ClaimAcquired:
		return "acquired"
	case ClaimInFlight:
		return "in_flight"
	case ClaimDone:
		return "done"
	default:
		return fmt.Sprintf("ClaimState(%d)", int(s))
	}
}

// ErrEventInFlight is returned by a deduplicated handler when another
// replica is still processing the same event. The consumer retries it.
var ErrEventInFlight = errors.New("event is being processed elsewhere")

// DedupStore tracks catalogue event IDs across redeliveries. An event is
// claimed before it is handled, then completed on success or released on
// failure. Implementations must be safe for concurrent use.
type DedupStore interface {
	Claim(ctx context.Context, eventID string) (ClaimState, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type dedupEntry struct {
	done    bool
	expires time.Time
}

// MemoryDedupStore keeps event IDs in process. It only deduplicates
// within a single indexer replica.
type MemoryDedupStore struct {
	mu       sync.Mutex
	entries  map[string]dedupEntry
	claimTTL time.Duration
	doneTTL  time.Duration
	now      func() time.Time
}

// NewMemoryDedupStore creates a store whose claims expire after claimTTL
// and whose completed events are remembered for doneTTL.
func NewMemoryDedupStore(claimTTL, doneTTL time.Duration) *MemoryDedupStore {
	return &MemoryDedupStore{
		entries:  make(map[string]dedupEntry),
		claimTTL: claimTTL,
		doneTTL:  doneTTL,
		now:      time.Now,
	}
}

// Claim implements DedupStore. Expired entries are swept on every claim.
func (s *MemoryDedupStore) Claim(_ context.Context, eventID string) (ClaimState, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, id)
		}
	}
	if e, ok := s.entries[eventID]; ok {
		if e.done {
			return ClaimDone, nil
		}
		return ClaimInFlight, nil
	}
	s.entries[eventID] = dedupEntry{expires: now.Add(s.claimTTL)}
	return ClaimAcquired, nil
}

// Complete implements DedupStore.
func (s *MemoryDedupStore) Complete(_ context.Context, eventID string) error {
	now := s.now()
	s.mu.Lock()
	s.entries[eventID] = dedupEntry{done: true, expires: now.Add(s.doneTTL)}
	s.mu.Unlock()
	return nil
}

// Release implements DedupStore. Completed events are left in place.
func (s *MemoryDedupStore) Release(_ context.Context, eventID string) error {
	s.mu.Lock()
	if e, ok := s.entries[eventID]; ok && !e.done {
		delete(s.entries, eventID)
	}
	s.mu.Unlock()
	return nil
}

// Len returns the number of tracked IDs, expired ones included.
func (s *MemoryDedupStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

const (
	dedupKeyPrefix = "search:event:"
	claimPending   = "pending"
	claimComplete  = "done"
)

// releaseScript deletes a claim only while it is still pending.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisDedupStore shares event IDs between indexer replicas.
type RedisDedupStore struct {
	client   redis.UniversalClient
	claimTTL time.Duration
	doneTTL  time.Duration
}

// NewRedisDedupStore creates a Redis-backed store.
func NewRedisDedupStore(client redis.UniversalClient, claimTTL, doneTTL time.Duration) *RedisDedupStore {
	return &RedisDedupStore{client: client, claimTTL: claimTTL, doneTTL: doneTTL}
}

// Claim implements DedupStore with SET NX, so only one replica acquires
// a given event.
func (s *RedisDedupStore) Claim(ctx context.Context, eventID string) (ClaimState, error) {
	key := dedupKeyPrefix + eventID
	ok, err := s.client.SetNX(ctx, key, claimPending, s.claimTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	if ok {
		return ClaimAcquired, nil
	}

	val, err := s.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// The claim expired between SET NX and GET.
		return ClaimInFlight, nil
	case err != nil:
		return 0, fmt.Errorf("read event %s: %w", eventID, err)
	case val == claimComplete:
		return ClaimDone, nil
	default:
		return ClaimInFlight, nil
	}
}

// Complete implements DedupStore.
func (s *RedisDedupStore) Complete(ctx context.Context, eventID string) error {
	return s.client.Set(ctx, dedupKeyPrefix+eventID, claimComplete, s.doneTTL).Err()
}

// Release implements DedupStore.
func (s *RedisDedupStore) Release(ctx context.Context, eventID string) error {
	return releaseScript.Run(ctx, s.client, []string{dedupKeyPrefix + eventID}, claimPending).Err()
}

// Deduplicate wraps inner so that each event ID is handled at most once
// while the store remembers it. Events without an ID always pass through,
// as does every event when the store is unreachable.
func Deduplicate(store DedupStore, inner Handler, logger *slog.Logger) Handler {
	return func(ctx context.Context, event *Event) error {
		if event.EventID == "" {
			return inner(ctx, event)
		}
		log := logger.With(
			slog.String("event_id", event.EventID),
			slog.String("event_type", event.EventType),
		)

		state, err := store.Claim(ctx, event.EventID)
		if err != nil {
			log.WarnContext(ctx, "dedup store unavailable, processing anyway", slog.String("error", err.Error()))
			return inner(ctx, event)
		}
		switch state {
		case ClaimDone:
			log.DebugContext(ctx, "skipping duplicate event", slog.String("aggregate_id", event.AggregateID))
			duplicatesTotal.WithLabelValues(event.EventType).Inc()
			return nil
		case ClaimInFlight:
			return fmt.Errorf("event %s: %w", event.EventID, ErrEventInFlight)
		}

		if err := inner(ctx, event); err != nil {
			if relErr := store.Release(ctx, event.EventID); relErr != nil {
				log.WarnContext(ctx, "failed to release event claim", slog.String("error", relErr.Error()))
			}
			return err
		}
		if err := store.Complete(ctx, event.EventID); err != nil {
			log.WarnContext(ctx, "failed to record processed event", slog.String("error", err.Error()))
		}
		return nil
	}
}
