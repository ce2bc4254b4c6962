package clock

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tixbot/internal/clock/clocktest"
)

func TestSystemSleepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := System{}.Sleep(ctx, time.Hour)
	if err != context.Canceled {
		t.Fatalf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return promptly after cancellation")
	}
}

func TestSystemSleepDuration(t *testing.T) {
	start := time.Now()
	if err := (System{}).Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Sleep() returned after %v, expected at least 20ms", elapsed)
	}
}

func TestSleepUntil(t *testing.T) {
	start := time.Date(2025, 1, 15, 11, 58, 0, 0, time.UTC)
	fake := clocktest.New(start)
	target := start.Add(2 * time.Minute)

	if err := SleepUntil(context.Background(), fake, target); err != nil {
		t.Fatalf("SleepUntil() error = %v", err)
	}
	if fake.Now().Before(target) {
		t.Errorf("clock at %v, expected at or after %v", fake.Now(), target)
	}
	for _, d := range fake.Sleeps() {
		if d > 30*time.Second {
			t.Errorf("single sleep of %v exceeds the 30s step", d)
		}
	}
}

func TestSleepUntilPastTarget(t *testing.T) {
	fake := clocktest.New(time.Now())
	if err := SleepUntil(context.Background(), fake, fake.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("SleepUntil() error = %v", err)
	}
	if n := len(fake.Sleeps()); n != 0 {
		t.Errorf("expected no sleeps, got %d", n)
	}
}

func TestSyncedUsesServerDate(t *testing.T) {
	ahead := 90 * time.Second
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Date", time.Now().Add(ahead).UTC().Format(http.TimeFormat))
	}))
	defer srv.Close()

	ts := NewSynced(srv.URL)
	if ts.IsSynced() {
		t.Error("Synced should not be synced initially")
	}
	if !ts.ShouldResync() {
		t.Error("Should need to resync when not yet synced")
	}

	if err := ts.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if !ts.IsSynced() {
		t.Error("Synced should be synced after calling Sync()")
	}
	if ts.ShouldResync() {
		t.Error("Should not need to resync immediately after syncing")
	}

	// Date headers have one-second resolution.
	offset := ts.GetOffset()
	if offset < ahead-2*time.Second || offset > ahead+2*time.Second {
		t.Errorf("offset = %v, expected about %v", offset, ahead)
	}

	ts.lastSyncTime = time.Now().Add(-2 * time.Hour)
	if !ts.ShouldResync() {
		t.Error("Should need to resync after 2 hours")
	}
}

func TestSyncedAllServersFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Date"] = nil
	}))
	defer srv.Close()

	ts := NewSynced(srv.URL)
	if err := ts.Sync(context.Background()); err == nil {
		t.Fatal("expected error when no server reports a Date header")
	}

	diff := ts.Now().Sub(time.Now())
	if diff > 100*time.Millisecond || diff < -100*time.Millisecond {
		t.Errorf("Unsynced time differs from system time: %v", diff)
	}
}

func TestParseStartTime(t *testing.T) {
	taipei := time.FixedZone("CST", 8*3600)

	tests := []struct {
		name        string
		input       string
		want        time.Time
		shouldError bool
	}{
		{
			name:  "Friendly format",
			input: "2025-01-15 12:00",
			want:  time.Date(2025, 1, 15, 12, 0, 0, 0, taipei),
		},
		{
			name:  "With seconds",
			input: "2025-01-15 12:00:30",
			want:  time.Date(2025, 1, 15, 12, 0, 30, 0, taipei),
		},
		{
			name:  "Slash date as shown on listings",
			input: "2025/01/15 12:00",
			want:  time.Date(2025, 1, 15, 12, 0, 0, 0, taipei),
		},
		{
			name:  "RFC3339 keeps its own offset",
			input: "2025-01-15T04:00:00Z",
			want:  time.Date(2025, 1, 15, 12, 0, 0, 0, taipei),
		},
		{
			name:  "Whitespace trimmed",
			input: "  2025-01-15 12:00  ",
			want:  time.Date(2025, 1, 15, 12, 0, 0, 0, taipei),
		},
		{name: "Garbage", input: "tomorrow noon", shouldError: true},
		{name: "Empty", input: "", shouldError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStartTime(tt.input, taipei)
			if tt.shouldError {
				if err == nil {
					t.Errorf("ParseStartTime(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStartTime(%q) error = %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseStartTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
