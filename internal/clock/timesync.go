package clock

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"tixbot/internal/logger"
)

// Synced is a Clock adjusted by the offset between the local wall clock and
// the Date header reported by one or more reference servers (normally the
// ticketing site itself, whose clock decides when sales open).
type Synced struct {
	client  *http.Client
	servers []string

	mu           sync.RWMutex
	offset       time.Duration
	lastSyncTime time.Time
	synced       bool
}

// NewSynced creates an unsynchronized clock; until Sync succeeds it behaves
// like System.
func NewSynced(servers ...string) *Synced {
	return &Synced{
		client:  &http.Client{Timeout: 5 * time.Second},
		servers: servers,
	}
}

// Sync averages the offsets of every reachable server.
func (s *Synced) Sync(ctx context.Context) error {
	log := logger.Get()

	var totalOffset time.Duration
	successCount := 0

	for _, server := range s.servers {
		offset, err := s.getTimeOffset(ctx, server)
		if err != nil {
			log.Debug("time sync failed", zap.String("server", server), zap.Error(err))
			continue
		}
		totalOffset += offset
		successCount++
		log.Debug("time offset measured", zap.String("server", server), zap.Duration("offset", offset))
	}

	if successCount == 0 {
		return fmt.Errorf("failed to sync time with any of %d servers", len(s.servers))
	}

	s.mu.Lock()
	s.offset = totalOffset / time.Duration(successCount)
	s.lastSyncTime = time.Now()
	s.synced = true
	s.mu.Unlock()

	log.Info("clock synchronized", zap.Duration("offset", s.GetOffset()))
	return nil
}

func (s *Synced) getTimeOffset(ctx context.Context, url string) (time.Duration, error) {
	beforeRequest := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	afterRequest := time.Now()

	dateHeader := resp.Header.Get("Date")
	if dateHeader == "" {
		return 0, fmt.Errorf("no Date header in response")
	}

	serverTime, err := http.ParseTime(dateHeader)
	if err != nil {
		return 0, fmt.Errorf("failed to parse Date header: %w", err)
	}

	// Half the round trip approximates one-way latency.
	latency := afterRequest.Sub(beforeRequest) / 2
	return serverTime.Sub(beforeRequest.Add(latency)), nil
}

func (s *Synced) Now() time.Time {
	return time.Now().Add(s.GetOffset())
}

func (s *Synced) Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func (s *Synced) IsSynced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

func (s *Synced) GetOffset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// ShouldResync reports whether the last sync is more than an hour old.
func (s *Synced) ShouldResync() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.synced {
		return true
	}
	return time.Since(s.lastSyncTime) > time.Hour
}
