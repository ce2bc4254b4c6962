// Package purchase drives the ticketing site from the activity page through
// checkout.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tixbot/internal/browser"
	"tixbot/internal/captcha"
	"tixbot/internal/clock"
	"tixbot/internal/config"
	"tixbot/internal/logger"
	"tixbot/internal/login"
	"tixbot/internal/sitetext"
	"tixbot/internal/token"
	"tixbot/internal/worker"
)

// Options tune one purchase attempt.
type Options struct {
	EventURL       string
	TicketEntryURL string
	Cookie         config.CookieConfig
	Selectors      config.SelectorConfig
	Timings        config.TimingConfig

	Anchor AnchorStrategy
	// Zero means unbounded.
	MaxCaptchaAttempts int
	MaxFormAttempts    int

	DryRun bool
	// StartAt, when non-zero, holds the availability poll until this time.
	StartAt time.Time

	DiagnosticsDir    string
	SessionCloseGrace time.Duration
}

// OptionsFromConfig builds Options from cfg, parsing the anchor strategy and
// start time.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	anchor, err := ParseAnchorStrategy(cfg.AnchorStrategy)
	if err != nil {
		return Options{}, err
	}

	var startAt time.Time
	if cfg.StartAt != "" {
		startAt, err = clock.ParseStartTime(cfg.StartAt, time.Local)
		if err != nil {
			return Options{}, err
		}
	}

	return Options{
		EventURL:           cfg.Site.EventURL,
		TicketEntryURL:     cfg.Site.TicketEntryURL,
		Cookie:             cfg.Site.SessionCookie,
		Selectors:          cfg.Selectors,
		Timings:            cfg.Timings,
		Anchor:             anchor,
		MaxCaptchaAttempts: cfg.MaxCaptchaAttempts,
		MaxFormAttempts:    cfg.MaxFormAttempts,
		DryRun:             cfg.DryRun,
		StartAt:            startAt,
		DiagnosticsDir:     cfg.DiagnosticsDir,
		SessionCloseGrace:  cfg.SessionCloseGrace,
	}, nil
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Store    token.Store
	Solver   *captcha.Solver
	Browsers browser.Factory
	Vocab    *sitetext.Catalog
	Login    login.Options

	Clock clock.Clock
	// SiteClock is the clock StartAt is measured on. Defaults to Clock.
	SiteClock clock.Clock
}

// Orchestrator runs purchase attempts against the ticketing site.
type Orchestrator struct {
	opts Options
	deps Deps
}

// New returns an Orchestrator, defaulting unset clocks and the site text.
func New(opts Options, deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.SiteClock == nil {
		deps.SiteClock = deps.Clock
	}
	if deps.Vocab == nil {
		deps.Vocab = sitetext.Default()
	}
	return &Orchestrator{opts: opts, deps: deps}
}

// run is the state of a single purchase attempt.
type run struct {
	*Orchestrator
	req  Request
	cred login.Credential
	log  *zap.Logger

	sessions *browser.Registry
	site     browser.Driver
	result   Result
}

// Run executes one purchase attempt. It never returns an error or panics:
// every failure is reported in the Result, and browser sessions are closed
// on all paths.
func (o *Orchestrator) Run(ctx context.Context, req Request, cred login.Credential) Result {
	started := o.deps.Clock.Now()
	r := &run{
		Orchestrator: o,
		req:          req,
		cred:         cred,
		log: logger.Get().With(
			zap.String("event", req.EventKeyword),
			zap.String("email", cred.Email),
		),
		sessions: browser.NewRegistry(o.deps.Browsers, o.opts.SessionCloseGrace),
	}

	r.log.Info("starting purchase",
		zap.String("datetime", req.DateTime),
		zap.String("seat", req.SeatKeyword),
		zap.Int("quantity", req.Quantity),
		zap.Bool("dry_run", o.opts.DryRun),
	)

	defer func() {
		if cerr := r.sessions.CloseAll(); cerr != nil {
			r.log.Warn("some browser sessions failed to close", zap.Error(cerr))
		}
	}()

	r.finish(r.protect(ctx))

	r.result.Elapsed = o.deps.Clock.Now().Sub(started)
	return r.result
}

// protect runs the workflow, turning a panic from a driver or OCR engine
// into an ordinary failure.
func (r *run) protect(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("purchase panicked", zap.Any("panic", p), zap.Stack("stack"))
			err = fmt.Errorf("purchase panicked at %s: %v", r.result.Step, p)
		}
	}()
	return r.execute(ctx)
}

// Start runs the purchase on pool. The handle may be awaited or dropped;
// failed attempts are logged by the pool either way.
func (o *Orchestrator) Start(ctx context.Context, pool *worker.Pool, req Request, cred login.Credential) (*worker.Handle[Result], error) {
	return worker.Submit(ctx, pool, "purchase "+req.EventKeyword, func(ctx context.Context) (Result, error) {
		res := o.Run(ctx, req, cred)
		if res.Outcome == Failed {
			return res, fmt.Errorf("purchase failed at %s: %w", res.Step, res.Err)
		}
		return res, nil
	})
}

func (r *run) enter(s Step) {
	r.result.Step = s
	r.log.Debug("entering step", zap.Stringer("step", s))
}

func (r *run) execute(ctx context.Context) error {
	if err := r.req.Validate(); err != nil {
		return err
	}
	if r.deps.Solver == nil {
		return errors.New("no verification code solver configured")
	}

	r.enter(StepResolveToken)
	tok, err := r.resolveToken(ctx)
	if err != nil {
		return err
	}

	r.enter(StepOpenListing)
	lease, err := r.sessions.Acquire(ctx, browser.RoleTargetSite)
	if err != nil {
		return err
	}
	defer lease.Return()
	r.site = lease.Driver

	if err := r.openActivityPage(ctx); err != nil {
		return err
	}

	r.enter(StepInjectToken)
	if err := r.injectToken(ctx, tok.Value); err != nil {
		return err
	}

	r.enter(StepFindEvent)
	if err := r.openEventPage(ctx); err != nil {
		return err
	}

	r.enter(StepPollAvailability)
	listings, err := r.pollAvailability(ctx)
	if err != nil {
		return err
	}
	availableAt := r.deps.Clock.Now()

	r.enter(StepSelectListing)
	listing, err := r.selectListing(listings)
	if err != nil {
		return err
	}
	r.result.Listing = &listing

	r.enter(StepSelectSeat)
	if err := r.selectSeat(ctx, listing); err != nil {
		return err
	}

	r.enter(StepFillForm)
	if err := r.fillForm(ctx); err != nil {
		return err
	}

	r.enter(StepCheckout)
	if err := r.checkout(ctx); err != nil {
		return err
	}

	r.enter(StepDone)
	elapsed := r.deps.Clock.Now().Sub(availableAt)
	if r.opts.DryRun {
		r.log.Info("dry run complete, stopped before checkout", zap.Duration("elapsed", elapsed))
	} else {
		r.log.Info("ticket purchased", zap.Duration("elapsed", elapsed))
	}
	return nil
}

func (r *run) resolveToken(ctx context.Context) (*token.SessionToken, error) {
	flow := login.NewFlow(r.deps.Store, r.sessions, r.deps.Clock, r.deps.Login)
	flow.OnState = func(s login.State) {
		if s == login.StateReuse {
			r.result.TokenReused = true
		}
	}
	flow.OnFailure = func(d browser.Driver, err error) {
		r.capture(d, err)
	}

	tok, err := flow.Resolve(ctx, r.cred)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session token: %w", err)
	}
	return tok, nil
}

// finish records the outcome of err, capturing diagnostics for failures.
func (r *run) finish(err error) {
	r.result.Err = err
	r.result.Outcome = Classify(err)
	if err == nil && r.opts.DryRun {
		r.result.Outcome = DryRun
	}

	switch r.result.Outcome {
	case Purchased, DryRun:
	case NotFound:
		r.log.Warn("nothing to purchase", zap.Stringer("step", r.result.Step), zap.Error(err))
	case Canceled:
		r.log.Warn("purchase canceled", zap.Stringer("step", r.result.Step))
	default:
		r.log.Error("purchase failed",
			zap.Stringer("step", r.result.Step),
			zap.Bool("invalid_state", IsInvalidState(err)),
			zap.Error(err),
		)
		if r.result.DiagnosticsDir == "" {
			r.capture(r.site, err)
		}
	}
}

func (r *run) capture(d browser.Driver, cause error) {
	if r.opts.DiagnosticsDir == "" {
		return
	}
	dir, err := captureDiagnostics(r.opts.DiagnosticsDir, r.deps.Clock.Now(), r.result.Step, d, cause)
	if dir != "" {
		r.result.DiagnosticsDir = dir
		r.log.Info("diagnostics captured", zap.String("dir", dir))
	}
	if err != nil {
		r.log.Warn("diagnostics incomplete", zap.Error(err))
	}
}

func (r *run) sleep(ctx context.Context, d time.Duration) error {
	return r.deps.Clock.Sleep(ctx, d)
}

// limitReached reports whether attempt exceeds a configured cap. A zero cap
// never triggers.
func limitReached(attempt, limit int) bool {
	return limit > 0 && attempt > limit
}
