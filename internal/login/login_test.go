package login_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tixbot/internal/browser"
	"tixbot/internal/browser/browsertest"
	"tixbot/internal/clock/clocktest"
	"tixbot/internal/login"
	"tixbot/internal/token"
	"tixbot/internal/token/tokentest"
)

const (
	loginURL     = "https://tixcraft.com/login/google"
	challengeURL = "https://accounts.google.com/v3/signin/challenge/recaptcha?TL=abc"
	passwordURL  = "https://accounts.google.com/v3/signin/challenge/pwd"
	consentURL   = "https://accounts.google.com/signin/oauth/consent"
	siteURL      = "https://tixcraft.com/"
)

var (
	start = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cred  = login.Credential{Email: "fan@example.com", Password: "hunter2"}
)

func testOptions() login.Options {
	return login.Options{
		URL:                   loginURL,
		ChallengeSignature:    "https://accounts.google.com/v3/signin/challenge/recaptcha",
		TargetURL:             "https://tixcraft.com",
		CookieName:            "SID",
		EmailInput:            "#identifierId",
		PasswordInputName:     "Passwd",
		ChallengeFrame:        "iframe",
		ChallengeResponse:     "#g-recaptcha-response",
		SubmitPause:           5 * time.Second,
		ChallengeFrameTimeout: 10 * time.Second,
		ChallengePollInterval: 3 * time.Second,
		ChallengeSettle:       3 * time.Second,
		RedirectPollInterval:  3 * time.Second,
		RedirectSettle:        10 * time.Second,
		TokenLifetime:         6 * time.Hour,
	}
}

type harness struct {
	fake   *browsertest.Fake
	store  *tokentest.Store
	clk    *clocktest.Fake
	reg    *browser.Registry
	flow   *login.Flow
	states []login.State
	opens  int

	email    *browsertest.Element
	password *browsertest.Element
}

// newHarness builds an identity provider whose email step lands on
// afterEmail and whose password step lands on afterPassword, setting the
// SID cookie when setCookie is true.
func newHarness(t *testing.T, afterEmail, afterPassword string, setCookie bool, seed ...*token.SessionToken) *harness {
	t.Helper()
	h := &harness{
		fake:  browsertest.New(),
		store: tokentest.NewStore(seed...),
		clk:   clocktest.New(start),
	}

	h.email = browsertest.El("email", "")
	h.email.OnEnter = func() error {
		h.fake.SetURL(afterEmail)
		return nil
	}
	h.password = browsertest.El("password", "")
	h.password.OnEnter = func() error {
		h.fake.SetURL(afterPassword)
		if setCookie {
			return h.fake.SetCookie(browser.Cookie{Name: "SID", Value: "sid-value", Domain: "tixcraft.com"})
		}
		return nil
	}

	h.fake.OnNavigate = func(f *browsertest.Fake, url string) {
		if url == loginURL {
			f.Set(browser.CSS("#identifierId"), h.email)
			f.Set(browser.Name("Passwd"), h.password)
			f.Set(browser.CSS("iframe"), browsertest.El("challenge-frame", ""))
			f.Set(browser.CSS("#g-recaptcha-response"), browsertest.El("challenge-box", ""))
		}
	}

	h.reg = browser.NewRegistry(func(ctx context.Context, role browser.Role) (browser.Driver, error) {
		require.Equal(t, browser.RoleIdentity, role)
		h.opens++
		return h.fake, nil
	}, 0)

	h.flow = login.NewFlow(h.store, h.reg, h.clk, testOptions())
	h.flow.OnState = func(s login.State) { h.states = append(h.states, s) }
	return h
}

func TestResolveReusesValidToken(t *testing.T) {
	cached := token.New(cred.Email, "cached-sid", start, time.Hour)
	h := newHarness(t, passwordURL, siteURL, true, cached)

	got, err := h.flow.Resolve(context.Background(), cred)
	require.NoError(t, err)

	assert.Equal(t, "cached-sid", got.Value)
	assert.Equal(t, []login.State{login.StateCheckCache, login.StateReuse}, h.states)
	assert.Equal(t, 0, h.opens, "no browser should be opened for a cached token")
	_, saves := h.store.Counts()
	assert.Equal(t, 0, saves)
}

func TestResolveLogsInWhenTokenExpired(t *testing.T) {
	expired := token.New(cred.Email, "old-sid", start.Add(-7*time.Hour), 6*time.Hour)
	h := newHarness(t, passwordURL, consentURL, true, expired)
	h.clk.OnSleep = func(n int) {
		if n == 4 {
			h.fake.SetURL(siteURL)
		}
	}

	got, err := h.flow.Resolve(context.Background(), cred)
	require.NoError(t, err)

	assert.Equal(t, "sid-value", got.Value)
	assert.Equal(t, cred.Email, got.Email)
	assert.Equal(t, []login.State{
		login.StateCheckCache,
		login.StateAuthenticate,
		login.StateRedirectWait,
		login.StateExtractToken,
		login.StatePersistToken,
		login.StateDone,
	}, h.states)

	stored, err := h.store.Get(context.Background(), cred.Email)
	require.NoError(t, err)
	assert.Equal(t, "sid-value", stored.Value)
	assert.True(t, stored.ExpiresAt.After(start.Add(6*time.Hour)), "expiry counts from issuance")

	assert.Equal(t, []string{cred.Email}, h.email.Inputs())
	assert.Equal(t, []string{cred.Password}, h.password.Inputs())
	assert.Equal(t, []time.Duration{
		5 * time.Second, 5 * time.Second, 3 * time.Second, 3 * time.Second, 10 * time.Second,
	}, h.clk.Sleeps())

	assert.True(t, h.fake.Closed(), "identity browser is closed after login")
	assert.Equal(t, 0, h.reg.Len())
}

func TestResolveWaitsForChallenge(t *testing.T) {
	h := newHarness(t, challengeURL, siteURL, true)
	h.clk.OnSleep = func(n int) {
		if n == 3 {
			h.fake.SetURL(passwordURL)
		}
	}

	got, err := h.flow.Resolve(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "sid-value", got.Value)

	assert.Equal(t, []login.State{
		login.StateCheckCache,
		login.StateAuthenticate,
		login.StateChallengeWait,
		login.StateAuthenticate,
		login.StateRedirectWait,
		login.StateExtractToken,
		login.StatePersistToken,
		login.StateDone,
	}, h.states)

	assert.True(t, h.fake.Called("click challenge-frame"))
	assert.True(t, h.fake.Called("script-click challenge-box"))
	assert.Len(t, h.email.Inputs(), 1, "email is submitted once")
	assert.Equal(t, 1, h.fake.Count("navigate "+loginURL))
}

func TestResolveChallengeFailedClickIsIgnored(t *testing.T) {
	h := newHarness(t, challengeURL, siteURL, true)
	h.fake.OnNavigate = func(f *browsertest.Fake, url string) {
		f.Set(browser.CSS("#identifierId"), h.email)
		f.Set(browser.Name("Passwd"), h.password)
	}
	h.clk.OnSleep = func(n int) {
		if n == 2 {
			h.fake.SetURL(passwordURL)
		}
	}

	_, err := h.flow.Resolve(context.Background(), cred)
	require.NoError(t, err)
	assert.Contains(t, h.states, login.StateChallengeWait)
}

func TestResolveChallengeWaitIsCancellable(t *testing.T) {
	h := newHarness(t, challengeURL, siteURL, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clk.OnSleep = func(n int) {
		if n == 20 {
			cancel()
		}
	}

	_, err := h.flow.Resolve(ctx, cred)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, h.clk.Sleeps(), 20)
	assert.True(t, h.fake.Closed(), "identity browser is released on cancellation")
	assert.Equal(t, 0, h.store.Len())
}

func TestResolveMissingSessionCookie(t *testing.T) {
	h := newHarness(t, passwordURL, siteURL, false)
	var seen error
	h.flow.OnFailure = func(d browser.Driver, err error) {
		assert.Same(t, h.fake, d)
		assert.False(t, h.fake.Closed(), "failure hook runs before the browser closes")
		seen = err
	}

	_, err := h.flow.Resolve(context.Background(), cred)
	assert.ErrorIs(t, err, login.ErrSessionCookieMissing)
	assert.ErrorIs(t, seen, login.ErrSessionCookieMissing)
	assert.Equal(t, 0, h.store.Len())
	assert.True(t, h.fake.Closed())
}

func TestResolveMissingEmailInput(t *testing.T) {
	h := newHarness(t, passwordURL, siteURL, true)
	h.fake.OnNavigate = nil

	_, err := h.flow.Resolve(context.Background(), cred)
	assert.ErrorIs(t, err, browser.ErrElementNotFound)
	assert.True(t, h.fake.Closed())
}

func TestResolveStoreError(t *testing.T) {
	h := newHarness(t, passwordURL, siteURL, true)
	h.store.GetErr = errors.New("connection refused")

	_, err := h.flow.Resolve(context.Background(), cred)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 0, h.opens)
}

func TestResolveSaveError(t *testing.T) {
	h := newHarness(t, passwordURL, siteURL, true)
	h.store.SaveErr = errors.New("read-only")

	_, err := h.flow.Resolve(context.Background(), cred)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save token")
}

func TestCredentialStringHidesPassword(t *testing.T) {
	assert.NotContains(t, cred.String(), cred.Password)
	assert.Contains(t, cred.String(), cred.Email)
}
