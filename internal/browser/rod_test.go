package browser

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func launchForTest(t *testing.T) *RodDriver {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping browser-dependent test")
	}
	if _, ok := launcher.LookPath(); !ok {
		t.Skip("Skipping browser-dependent test: no chrome installed")
	}

	d, err := LaunchRod(context.Background(), RodOptions{Headless: true}, RoleTargetSite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestRodWaitVisible(t *testing.T) {
	d := launchForTest(t)
	page := `<div id="now">ready</div><div id="later">later</div>`
	require.NoError(t, d.Navigate(context.Background(), "data:text/html,"+url.PathEscape(page)))

	el, err := d.WaitVisible(context.Background(), CSS("#now"), 200*time.Millisecond)
	require.NoError(t, err)

	// The element outlives the wait's timeout.
	time.Sleep(300 * time.Millisecond)
	text, err := el.Text()
	require.NoError(t, err)
	assert.Equal(t, "ready", text)

	_, err = d.WaitVisible(context.Background(), CSS("#missing"), 300*time.Millisecond)
	assert.ErrorIs(t, err, ErrElementNotFound)

	// The page stays usable after a timed-out wait.
	ok, err := d.Exists(CSS("#later"))
	require.NoError(t, err)
	assert.True(t, ok)
}
