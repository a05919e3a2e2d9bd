package distribution

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const pauseKeyPrefix = "distribution:pause:"

// RedisPauseSignal shares pause requests between the API process and the
// worker running the job.
type RedisPauseSignal struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisPauseSignal(client redis.UniversalClient, ttl time.Duration) *RedisPauseSignal {
	return &RedisPauseSignal{client: client, ttl: ttl}
}

func pauseKey(jobID string) string {
	return pauseKeyPrefix + jobID
}

// Request flags the job as paused. A zero ttl keeps the flag until cleared.
func (s *RedisPauseSignal) Request(ctx context.Context, jobID string) error {
	return s.client.Set(ctx, pauseKey(jobID), time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
}

func (s *RedisPauseSignal) Clear(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, pauseKey(jobID)).Err()
}

func (s *RedisPauseSignal) PauseRequested(ctx context.Context, jobID string) (bool, error) {
	n, err := s.client.Exists(ctx, pauseKey(jobID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
