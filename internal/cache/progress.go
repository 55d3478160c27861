package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"certhub/internal/renewal"
)

const progressKeyPrefix = "certhub:renewal:progress:"

// ProgressStore mirrors renewal progress states into Redis so the API can
// answer progress queries without holding the scheduler's tracker, and so
// the last known state survives a process restart. It implements
// renewal.ProgressSink.
type ProgressStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProgressStore creates a store; states expire after ttl
func NewProgressStore(client *redis.Client, ttl time.Duration) *ProgressStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ProgressStore{client: client, ttl: ttl}
}

// Report implements renewal.ProgressSink. Write failures are logged and
// swallowed; progress mirroring never blocks a renewal.
func (s *ProgressStore) Report(state renewal.RequestProgressState) {
	data, err := json.Marshal(state)
	if err != nil {
		log.Printf("[Progress Store] failed to encode state for %s: %v", state.ManagedCertificateID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.client.Set(ctx, progressKeyPrefix+state.ManagedCertificateID, data, s.ttl).Err(); err != nil {
		log.Printf("[Progress Store] failed to store state for %s: %v", state.ManagedCertificateID, err)
	}
}

// Get returns the last reported state for a certificate
func (s *ProgressStore) Get(ctx context.Context, certID string) (*renewal.RequestProgressState, error) {
	data, err := s.client.Get(ctx, progressKeyPrefix+certID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state renewal.RequestProgressState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
