// Package login obtains a ticketing-site session token, either from the token
// store or by signing in through the identity provider in a browser.
package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tixbot/internal/browser"
	"tixbot/internal/clock"
	"tixbot/internal/config"
	"tixbot/internal/logger"
	"tixbot/internal/token"
)

var ErrSessionCookieMissing = errors.New("session cookie missing after login")

// Credential signs in to the identity provider. It is held in memory for a
// single login attempt only.
type Credential struct {
	Email    string
	Password string
}

// String keeps the password out of logs and error messages.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{Email: %s}", c.Email)
}

// State is a step of the sign-in flow.
type State int

const (
	StateCheckCache State = iota
	StateReuse
	StateAuthenticate
	StateChallengeWait
	StateRedirectWait
	StateExtractToken
	StatePersistToken
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCheckCache:
		return "check-cache"
	case StateReuse:
		return "reuse"
	case StateAuthenticate:
		return "authenticate"
	case StateChallengeWait:
		return "challenge-wait"
	case StateRedirectWait:
		return "redirect-wait"
	case StateExtractToken:
		return "extract-token"
	case StatePersistToken:
		return "persist-token"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options describe the identity provider and the sign-in pacing.
type Options struct {
	URL                string
	ChallengeSignature string
	// TargetURL is the ticketing site origin the provider redirects back to.
	TargetURL  string
	CookieName string

	EmailInput        string
	PasswordInputName string
	ChallengeFrame    string
	ChallengeResponse string

	SubmitPause           time.Duration
	ChallengeFrameTimeout time.Duration
	ChallengePollInterval time.Duration
	ChallengeSettle       time.Duration
	RedirectPollInterval  time.Duration
	RedirectSettle        time.Duration
	TokenLifetime         time.Duration
}

// OptionsFromConfig copies the sign-in settings out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		URL:                   cfg.Login.URL,
		ChallengeSignature:    cfg.Login.ChallengeSignature,
		TargetURL:             cfg.Site.BaseURL,
		CookieName:            cfg.Site.SessionCookie.Name,
		EmailInput:            cfg.Login.EmailInput,
		PasswordInputName:     cfg.Login.PasswordInputName,
		ChallengeFrame:        cfg.Login.ChallengeFrame,
		ChallengeResponse:     cfg.Login.ChallengeResponse,
		SubmitPause:           cfg.Login.SubmitPause,
		ChallengeFrameTimeout: cfg.Login.ChallengeFrameTimeout,
		ChallengePollInterval: cfg.Login.ChallengePollInterval,
		ChallengeSettle:       cfg.Login.ChallengeSettle,
		RedirectPollInterval:  cfg.Login.RedirectPollInterval,
		RedirectSettle:        cfg.Login.RedirectSettle,
		TokenLifetime:         cfg.Login.TokenLifetime,
	}
}

// Sessions hands out browser sessions by role. *browser.Registry implements
// it.
type Sessions interface {
	Acquire(ctx context.Context, role browser.Role) (*browser.Lease, error)
	Release(role browser.Role) error
}

// Flow resolves a session token, reusing a cached one or signing in.
type Flow struct {
	store    token.Store
	sessions Sessions
	clock    clock.Clock
	opts     Options

	// OnState, when set, is called on entry to every state.
	OnState func(State)
	// OnFailure, when set, sees the identity browser of a failed sign-in
	// before it is closed.
	OnFailure func(d browser.Driver, err error)
}

// NewFlow returns a Flow that persists tokens to store.
func NewFlow(store token.Store, sessions Sessions, clk clock.Clock, opts Options) *Flow {
	return &Flow{
		store:    store,
		sessions: sessions,
		clock:    clk,
		opts:     opts,
	}
}

// Resolve returns a usable token for cred, signing in when the cached token
// is missing or expired. The identity browser session is released before
// Resolve returns, whatever the outcome.
func (f *Flow) Resolve(ctx context.Context, cred Credential) (_ *token.SessionToken, err error) {
	log := logger.Get().With(zap.String("email", cred.Email))

	var (
		state          = StateCheckCache
		cached         *token.SessionToken
		lease          *browser.Lease
		driver         browser.Driver
		emailSubmitted bool
		cookieValue    string
	)

	release := func() {
		if lease == nil {
			return
		}
		lease.Return()
		if err := f.sessions.Release(browser.RoleIdentity); err != nil {
			log.Warn("failed to close identity browser", zap.Error(err))
		}
		lease = nil
		driver = nil
	}
	defer func() {
		if err != nil && driver != nil && f.OnFailure != nil && ctx.Err() == nil {
			f.OnFailure(driver, err)
		}
		release()
	}()

	for {
		if f.OnState != nil {
			f.OnState(state)
		}

		switch state {
		case StateCheckCache:
			tok, err := f.store.Get(ctx, cred.Email)
			switch {
			case err == nil && !tok.Expired(f.clock.Now()):
				cached = tok
				state = StateReuse
			case err == nil:
				log.Warn("token expired", zap.Time("expired_at", tok.ExpiresAt))
				state = StateAuthenticate
			case errors.Is(err, token.ErrNotFound):
				log.Warn("token not found")
				state = StateAuthenticate
			default:
				return nil, fmt.Errorf("failed to look up token: %w", err)
			}

		case StateReuse:
			log.Info("token reused", zap.Time("expires_at", cached.ExpiresAt))
			return cached, nil

		case StateAuthenticate:
			if lease == nil {
				l, err := f.sessions.Acquire(ctx, browser.RoleIdentity)
				if err != nil {
					return nil, err
				}
				lease, driver = l, l.Driver
			}

			if !emailSubmitted {
				if err := f.submitEmail(ctx, driver, cred.Email); err != nil {
					return nil, err
				}
				emailSubmitted = true

				challenged, err := f.underChallenge(driver)
				if err != nil {
					return nil, err
				}
				if challenged {
					state = StateChallengeWait
					continue
				}
			}

			if err := f.submitPassword(ctx, driver, cred.Password); err != nil {
				return nil, err
			}
			state = StateRedirectWait

		case StateChallengeWait:
			if err := f.waitChallenge(ctx, driver); err != nil {
				return nil, err
			}
			state = StateAuthenticate

		case StateRedirectWait:
			if err := f.waitRedirect(ctx, driver); err != nil {
				return nil, err
			}
			state = StateExtractToken

		case StateExtractToken:
			v, err := f.sessionCookie(driver)
			if err != nil {
				return nil, err
			}
			cookieValue = v
			release()
			state = StatePersistToken

		case StatePersistToken:
			tok := token.New(cred.Email, cookieValue, f.clock.Now(), f.opts.TokenLifetime)
			saved, err := f.store.Save(ctx, tok)
			if err != nil {
				return nil, fmt.Errorf("failed to save token: %w", err)
			}
			log.Info("token created", zap.Time("expires_at", saved.ExpiresAt))
			cached = saved
			state = StateDone

		case StateDone:
			return cached, nil
		}
	}
}

func (f *Flow) submitEmail(ctx context.Context, d browser.Driver, email string) error {
	if err := d.Navigate(ctx, f.opts.URL); err != nil {
		return err
	}

	input, err := d.Find(browser.CSS(f.opts.EmailInput))
	if err != nil {
		return fmt.Errorf("failed to find email input: %w", err)
	}
	if err := input.Input(email); err != nil {
		return fmt.Errorf("failed to type email: %w", err)
	}
	if err := input.PressEnter(); err != nil {
		return fmt.Errorf("failed to submit email: %w", err)
	}
	return f.clock.Sleep(ctx, f.opts.SubmitPause)
}

func (f *Flow) submitPassword(ctx context.Context, d browser.Driver, password string) error {
	input, err := d.Find(browser.Name(f.opts.PasswordInputName))
	if err != nil {
		return fmt.Errorf("failed to find password input: %w", err)
	}
	if err := input.Input(password); err != nil {
		return fmt.Errorf("failed to type password: %w", err)
	}
	if err := input.PressEnter(); err != nil {
		return fmt.Errorf("failed to submit password: %w", err)
	}
	return f.clock.Sleep(ctx, f.opts.SubmitPause)
}

func (f *Flow) underChallenge(d browser.Driver) (bool, error) {
	u, err := d.URL()
	if err != nil {
		return false, fmt.Errorf("failed to read current url: %w", err)
	}
	return strings.Contains(u, f.opts.ChallengeSignature), nil
}

// waitChallenge makes one automated attempt at the checkbox challenge, then
// waits for a human to finish it. There is no attempt limit; only ctx ends
// the wait early.
func (f *Flow) waitChallenge(ctx context.Context, d browser.Driver) error {
	log := logger.Get()
	log.Warn("bot challenge detected, waiting for it to be solved")

	if err := f.clickNotARobot(ctx, d); err != nil {
		log.Warn("automated challenge click failed", zap.Error(err))
	}

	for attempt := 1; ; attempt++ {
		if err := f.clock.Sleep(ctx, f.opts.ChallengePollInterval); err != nil {
			return err
		}
		challenged, err := f.underChallenge(d)
		if err != nil {
			return err
		}
		if !challenged {
			log.Info("bot challenge solved", zap.Int("polls", attempt))
			break
		}
		if attempt%10 == 0 {
			log.Info("still waiting for bot challenge", zap.Int("polls", attempt))
		}
	}
	return f.clock.Sleep(ctx, f.opts.ChallengeSettle)
}

func (f *Flow) clickNotARobot(ctx context.Context, d browser.Driver) error {
	frame, err := d.WaitVisible(ctx, browser.CSS(f.opts.ChallengeFrame), f.opts.ChallengeFrameTimeout)
	if err != nil {
		return fmt.Errorf("challenge frame: %w", err)
	}
	if err := frame.Click(); err != nil {
		return fmt.Errorf("click challenge frame: %w", err)
	}

	box, err := d.Find(browser.CSS(f.opts.ChallengeResponse))
	if err != nil {
		return fmt.Errorf("challenge checkbox: %w", err)
	}
	return box.ClickScript()
}

func (f *Flow) waitRedirect(ctx context.Context, d browser.Driver) error {
	log := logger.Get()
	for attempt := 1; ; attempt++ {
		u, err := d.URL()
		if err != nil {
			return fmt.Errorf("failed to read current url: %w", err)
		}
		if strings.Contains(u, f.opts.TargetURL) {
			break
		}
		if attempt%10 == 1 {
			log.Info("waiting for redirect", zap.String("target", f.opts.TargetURL), zap.Int("polls", attempt))
		}
		if err := f.clock.Sleep(ctx, f.opts.RedirectPollInterval); err != nil {
			return err
		}
	}

	log.Info("redirected, waiting for page to settle", zap.Duration("settle", f.opts.RedirectSettle))
	return f.clock.Sleep(ctx, f.opts.RedirectSettle)
}

func (f *Flow) sessionCookie(d browser.Driver) (string, error) {
	cookies, err := d.Cookies()
	if err != nil {
		return "", err
	}
	for _, c := range cookies {
		if c.Name == f.opts.CookieName && c.Value != "" {
			return c.Value, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSessionCookieMissing, f.opts.CookieName)
}
