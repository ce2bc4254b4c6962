package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tixbot/internal/config"
	"tixbot/internal/purchase"
	"tixbot/internal/worker"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{
		"-event", "Summer Sonic",
		"-datetime", "2025/08/16",
		"-seat", "2F Zone B",
		"-payment", "Credit, ATM",
		"-delivery", "E-ticket",
		"-exclude", "Resale",
		"-quantity", "3",
		"-dry-run",
	})
	require.NoError(t, err)

	req := opts.request()
	assert.Equal(t, "Summer Sonic", req.EventKeyword)
	assert.Equal(t, "2025/08/16", req.DateTime)
	assert.Equal(t, "2F Zone B", req.SeatKeyword)
	assert.Equal(t, []string{"Credit", "ATM"}, req.PaymentKeywords)
	assert.Equal(t, []string{"E-ticket"}, req.DeliveryKeywords)
	assert.Equal(t, []string{"Resale"}, req.ExcludeKeywords)
	assert.Equal(t, 3, req.Quantity)
	assert.NoError(t, req.Validate())
	assert.True(t, opts.dryRun)
	assert.Equal(t, "config.yaml", opts.configPath)
}

func TestParseFlagsRejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing event", []string{"-quantity", "2"}},
		{"zero quantity", []string{"-event", "Concert", "-quantity", "0"}},
		{"unknown flag", []string{"-event", "Concert", "-fast"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestCredentialPrefersFlags(t *testing.T) {
	env := config.Credentials{Email: "env@example.com", Password: "env-pass"}

	opts := &cliOptions{}
	assert.Equal(t, "env@example.com", opts.credential(env).Email)
	assert.Equal(t, "env-pass", opts.credential(env).Password)

	opts = &cliOptions{email: "flag@example.com"}
	c := opts.credential(env)
	assert.Equal(t, "flag@example.com", c.Email)
	assert.Equal(t, "env-pass", c.Password)
}

func TestApplyOverridesConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	opts := &cliOptions{debug: true, startAt: "2025-08-01 12:00:00"}
	opts.apply(cfg)

	assert.False(t, cfg.DryRun)
	assert.True(t, cfg.DebugMode)
	assert.Equal(t, "2025-08-01 12:00:00", cfg.StartAt)
}

func TestOpenTokenStoreUnknownDriver(t *testing.T) {
	_, _, err := openTokenStore(context.Background(), config.TokenStoreConfig{Driver: "sqlite"})
	assert.ErrorContains(t, err, "unknown token store driver")
}

func TestRunRejectsBadFlags(t *testing.T) {
	assert.Equal(t, 2, run([]string{"-quantity", "1"}))
	assert.Equal(t, 0, run([]string{"-h"}))
}

func TestAwaitResultOnCancel(t *testing.T) {
	pool := worker.NewPool(1)
	defer pool.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	running, err := worker.Submit(ctx, pool, "running", func(ctx context.Context) (purchase.Result, error) {
		<-ctx.Done()
		return purchase.Result{Outcome: purchase.Canceled, Step: purchase.StepPollAvailability, Err: ctx.Err()}, nil
	})
	require.NoError(t, err)
	queued, err := worker.Submit(ctx, pool, "queued", func(ctx context.Context) (purchase.Result, error) {
		return purchase.Result{}, ctx.Err()
	})
	require.NoError(t, err)

	cancel()

	res := awaitResult(ctx, pool, running)
	assert.Equal(t, purchase.Canceled, res.Outcome)
	assert.Equal(t, purchase.StepPollAvailability, res.Step, "the job's own result is reported")
	assert.False(t, res.Outcome.Success())

	res = awaitResult(ctx, pool, queued)
	assert.Equal(t, purchase.Canceled, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.False(t, res.Outcome.Success())
}

func TestAwaitResultCompleted(t *testing.T) {
	pool := worker.NewPool(1)
	defer pool.Stop()

	h, err := worker.Submit(context.Background(), pool, "done", func(ctx context.Context) (purchase.Result, error) {
		return purchase.Result{Outcome: purchase.DryRun, Step: purchase.StepDone}, nil
	})
	require.NoError(t, err)

	res := awaitResult(context.Background(), pool, h)
	assert.Equal(t, purchase.DryRun, res.Outcome)
	assert.NoError(t, res.Err)
}
