package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "tixbot:token:"

// RedisStore keeps one JSON record per email. Records carry a TTL equal to
// their remaining lifetime, so Redis evicts expired tokens by itself.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func redisKey(email string) string {
	return redisKeyPrefix + email
}

func (s *RedisStore) Get(ctx context.Context, email string) (*SessionToken, error) {
	raw, err := s.client.Get(ctx, redisKey(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	tok := &SessionToken{}
	if err := json.Unmarshal(raw, tok); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return tok, nil
}

func (s *RedisStore) Save(ctx context.Context, tok *SessionToken) (*SessionToken, error) {
	raw, err := json.Marshal(tok)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token: %w", err)
	}

	ttl := tok.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		// Keep already-expired records briefly so Get still reports them
		// as expired rather than missing.
		ttl = time.Minute
	}

	if err := s.client.Set(ctx, redisKey(tok.Email), raw, ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to write token: %w", err)
	}

	saved := *tok
	return &saved, nil
}
