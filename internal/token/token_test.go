package token_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tixbot/internal/token"
	"tixbot/internal/token/tokentest"
)

func TestExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"one second ago", now.Add(-time.Second), true},
		{"exactly now", now, true},
		{"one second ahead", now.Add(time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := &token.SessionToken{Email: "a@example.com", ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, tok.Expired(now))
		})
	}
}

func TestNewAppliesLifetime(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tok := token.New("a@example.com", "sid", now, 2*time.Hour)
	assert.Equal(t, now.Add(2*time.Hour), tok.ExpiresAt)
	assert.NotEqual(t, uuid.Nil, tok.ID)

	tok = token.New("a@example.com", "sid", now, 0)
	assert.Equal(t, now.Add(token.DefaultLifetime), tok.ExpiresAt)
}

// storeContract exercises the upsert-by-email behaviour every Store must
// provide.
func storeContract(t *testing.T, store token.Store) {
	ctx := context.Background()
	email := fmt.Sprintf("contract-%d@example.com", time.Now().UnixNano())
	now := time.Now().Truncate(time.Microsecond)

	_, err := store.Get(ctx, email)
	require.True(t, errors.Is(err, token.ErrNotFound), "expected ErrNotFound, got %v", err)

	first, err := store.Save(ctx, token.New(email, "first", now, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "first", first.Value)

	second, err := store.Save(ctx, token.New(email, "second", now, 2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, email, second.Email)

	got, err := store.Get(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Value)
	assert.True(t, got.ExpiresAt.Equal(now.Add(2*time.Hour)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Save(ctx, token.New(email, fmt.Sprintf("c%d", i), now, time.Hour))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err = store.Get(ctx, email)
	require.NoError(t, err)
	assert.Regexp(t, `^c[0-7]$`, got.Value)
}

func TestMemoryStoreContract(t *testing.T) {
	s := tokentest.NewStore()
	storeContract(t, s)
	assert.Equal(t, 1, s.Len())
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := token.ConnectPostgres(ctx, token.PostgresConfig{DSN: dsn, RetryInterval: time.Second})
	require.NoError(t, err)
	defer pool.Close()

	store := token.NewPostgresStore(pool)
	require.NoError(t, store.Migrate(ctx))
	storeContract(t, store)
}

func TestRedisStoreContract(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	storeContract(t, token.NewRedisStore(client))
}

func TestConnectPostgresInvalidDSN(t *testing.T) {
	_, err := token.ConnectPostgres(context.Background(), token.PostgresConfig{DSN: "postgres://%zz"})
	assert.Error(t, err)
}
