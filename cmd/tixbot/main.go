package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tixbot/internal/browser"
	"tixbot/internal/captcha"
	"tixbot/internal/clock"
	"tixbot/internal/config"
	"tixbot/internal/logger"
	"tixbot/internal/login"
	"tixbot/internal/purchase"
	"tixbot/internal/sitetext"
	"tixbot/internal/token"
	"tixbot/internal/worker"
)

type cliOptions struct {
	configPath string
	envFile    string

	event    string
	datetime string
	seat     string
	delivery string
	payment  string
	exclude  string
	quantity int

	email    string
	password string

	dryRun  bool
	debug   bool
	startAt string
	async   bool
}

func parseFlags(args []string) (*cliOptions, error) {
	o := &cliOptions{}
	fs := flag.NewFlagSet("tixbot", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&o.envFile, "env", ".env", "Path to a .env file with credentials")
	fs.StringVar(&o.event, "event", "", "Keyword the event link must contain")
	fs.StringVar(&o.datetime, "datetime", "", "Date (or date and time) of the show, e.g. 2025/08/16")
	fs.StringVar(&o.seat, "seat", "", "Seat area to aim for; the closest available area wins")
	fs.StringVar(&o.delivery, "delivery", "", "Comma-separated delivery keywords in priority order")
	fs.StringVar(&o.payment, "payment", "", "Comma-separated payment keywords in priority order")
	fs.StringVar(&o.exclude, "exclude", "", "Comma-separated keywords that disqualify an event link")
	fs.IntVar(&o.quantity, "quantity", 1, "Number of tickets")
	fs.StringVar(&o.email, "email", "", "Sign-in email (default $"+config.EnvEmail+")")
	fs.StringVar(&o.password, "password", "", "Sign-in password (default $"+config.EnvPassword+")")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Test mode: stop before the final checkout click")
	fs.BoolVar(&o.debug, "debug", false, "Enable detailed debug logging")
	fs.StringVar(&o.startAt, "start-at", "", "Hold the availability poll until this time (RFC3339 or 2006-01-02 15:04:05)")
	fs.BoolVar(&o.async, "async", false, "Run the purchase on the worker pool")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if o.event == "" {
		return nil, errors.New("-event is required")
	}
	if o.quantity < 1 {
		return nil, fmt.Errorf("-quantity must be at least 1, got %d", o.quantity)
	}
	return o, nil
}

func (o *cliOptions) request() purchase.Request {
	return purchase.Request{
		EventKeyword:     o.event,
		DateTime:         o.datetime,
		SeatKeyword:      o.seat,
		DeliveryKeywords: purchase.ParseKeywords(o.delivery),
		PaymentKeywords:  purchase.ParseKeywords(o.payment),
		ExcludeKeywords:  purchase.ParseKeywords(o.exclude),
		Quantity:         o.quantity,
	}
}

// credential prefers flags over the environment.
func (o *cliOptions) credential(env config.Credentials) login.Credential {
	c := login.Credential{Email: env.Email, Password: env.Password}
	if o.email != "" {
		c.Email = o.email
	}
	if o.password != "" {
		c.Password = o.password
	}
	return c
}

func (o *cliOptions) apply(cfg *config.Config) {
	if o.dryRun {
		cfg.DryRun = true
	}
	if o.debug {
		cfg.DebugMode = true
	}
	if o.startAt != "" {
		cfg.StartAt = o.startAt
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if err := config.LoadEnv(opts.envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	cfg.ApplyEnv()
	opts.apply(cfg)

	log, err := logger.Init(cfg.DebugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	cred := opts.credential(config.CredentialsFromEnv())
	if cred.Email == "" {
		log.Error("no sign-in email; use -email or set " + config.EnvEmail)
		return 2
	}
	if cred.Password == "" {
		log.Warn("no password given; signing in will fail unless a valid token is cached")
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                 tixcraft Purchase Assistant               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openTokenStore(ctx, cfg.TokenStore)
	if err != nil {
		log.Error("failed to open token store", zap.String("driver", cfg.TokenStore.Driver), zap.Error(err))
		return 1
	}
	defer closeStore()

	vocab, err := sitetext.Load(cfg.SiteTextPath)
	if err != nil {
		log.Error("failed to load site text", zap.Error(err))
		return 1
	}

	purchaseOpts, err := purchase.OptionsFromConfig(cfg)
	if err != nil {
		log.Error("invalid purchase options", zap.Error(err))
		return 1
	}

	deps := purchase.Deps{
		Store:  store,
		Solver: captcha.NewSolver(captcha.NewHTTPEngine(cfg.OCR.Endpoint, cfg.OCR.Timeout)),
		Browsers: browser.NewRodFactory(browser.RodOptions{
			Headless:       cfg.Browser.Headless,
			ProfileDir:     cfg.Browser.ProfilePath,
			Stealth:        cfg.Browser.Stealth,
			UserAgent:      cfg.Browser.UserAgent,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			RemoteURL:      cfg.Browser.RemoteURL,
		}),
		Vocab: vocab,
		Login: login.OptionsFromConfig(cfg),
	}

	if !purchaseOpts.StartAt.IsZero() {
		synced := clock.NewSynced(cfg.Site.TimeSyncServers...)
		if err := synced.Sync(ctx); err != nil {
			log.Warn("time sync failed, using the local clock", zap.Error(err))
		}
		go keepSynced(ctx, synced)
		deps.SiteClock = synced
		log.Info("timed start",
			zap.Time("start_at", purchaseOpts.StartAt),
			zap.Duration("remaining", purchaseOpts.StartAt.Sub(synced.Now())),
		)
	}

	if cfg.DryRun {
		log.Info("dry run: the final checkout click will be skipped")
	}

	orch := purchase.New(purchaseOpts, deps)
	req := opts.request()

	var res purchase.Result
	if opts.async {
		pool := worker.NewPool(1)
		defer pool.Stop()

		h, err := orch.Start(ctx, pool, req, cred)
		if err != nil {
			log.Error("failed to start purchase", zap.Error(err))
			return 1
		}
		log.Info("purchase started", zap.Stringer("job_id", h.ID))
		res = awaitResult(ctx, pool, h)
	} else {
		res = orch.Run(ctx, req, cred)
	}

	fields := []zap.Field{
		zap.Stringer("outcome", res.Outcome),
		zap.Stringer("step", res.Step),
		zap.Duration("elapsed", res.Elapsed),
	}
	if res.Seat != "" {
		fields = append(fields, zap.String("seat", res.Seat))
	}
	if res.DiagnosticsDir != "" {
		fields = append(fields, zap.String("diagnostics", res.DiagnosticsDir))
	}
	if res.Err != nil {
		fields = append(fields, zap.Error(res.Err))
	}
	log.Info("purchase finished", fields...)

	if !res.Outcome.Success() {
		return 1
	}
	return 0
}

// awaitResult waits for an async purchase. When ctx ends first the pool is
// stopped, which cancels the job and waits for it to close its browsers, and
// the job's own result is reported. A job with no result counts as failed or
// canceled, never purchased.
func awaitResult(ctx context.Context, pool *worker.Pool, h *worker.Handle[purchase.Result]) purchase.Result {
	if _, err := h.Wait(ctx); err != nil && ctx.Err() != nil {
		pool.Stop()
	}
	<-h.Done()

	res, err := h.Wait(context.Background())
	if res.Outcome == purchase.Unknown {
		if err == nil {
			err = errors.New("purchase returned no result")
		}
		res.Err = err
		res.Outcome = purchase.Classify(err)
	}
	return res
}

func openTokenStore(ctx context.Context, cfg config.TokenStoreConfig) (token.Store, func(), error) {
	switch cfg.Driver {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return token.NewRedisStore(client), func() { client.Close() }, nil

	case config.StorePostgres:
		pool, err := token.ConnectPostgres(ctx, token.PostgresConfig{
			DSN:            cfg.PostgresDSN,
			MaxConns:       cfg.MaxConns,
			ConnectTimeout: cfg.ConnectTimeout,
			MaxRetries:     cfg.ConnectRetries,
			RetryInterval:  cfg.ConnectRetryWait,
		})
		if err != nil {
			return nil, nil, err
		}
		store := token.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown token store driver %q", cfg.Driver)
}

// keepSynced re-measures the site clock offset while the bot waits for the
// start time.
func keepSynced(ctx context.Context, c *clock.Synced) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.ShouldResync() {
				continue
			}
			if err := c.Sync(ctx); err != nil {
				logger.Get().Warn("time resync failed", zap.Error(err))
			}
		}
	}
}
