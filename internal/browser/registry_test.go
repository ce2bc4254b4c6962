package browser_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tixbot/internal/browser"
	"tixbot/internal/browser/browsertest"
)

type openedFakes struct {
	byRole map[browser.Role]*browsertest.Fake
	opens  int
}

func newFactory(closeErr map[browser.Role]error) (browser.Factory, *openedFakes) {
	opened := &openedFakes{byRole: make(map[browser.Role]*browsertest.Fake)}
	return func(ctx context.Context, role browser.Role) (browser.Driver, error) {
		f := browsertest.New()
		f.CloseErr = closeErr[role]
		opened.byRole[role] = f
		opened.opens++
		return f, nil
	}, opened
}

func TestRegistryAcquireIsExclusivePerRole(t *testing.T) {
	factory, opened := newFactory(nil)
	reg := browser.NewRegistry(factory, 0)
	ctx := context.Background()

	lease, err := reg.Acquire(ctx, browser.RoleTargetSite)
	require.NoError(t, err)

	_, err = reg.Acquire(ctx, browser.RoleTargetSite)
	assert.True(t, errors.Is(err, browser.ErrSessionInUse))

	other, err := reg.Acquire(ctx, browser.RoleIdentity)
	require.NoError(t, err)
	assert.NotSame(t, lease.Driver, other.Driver)

	lease.Return()
	lease.Return()
	again, err := reg.Acquire(ctx, browser.RoleTargetSite)
	require.NoError(t, err)
	assert.Same(t, lease.Driver, again.Driver, "returned session should be reused")
	assert.Equal(t, 2, opened.opens)
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryWithReleasesSession(t *testing.T) {
	factory, opened := newFactory(nil)
	reg := browser.NewRegistry(factory, 0)

	boom := errors.New("boom")
	err := reg.With(context.Background(), browser.RoleIdentity, func(d browser.Driver) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, opened.byRole[browser.RoleIdentity].Closed())
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryCloseAllToleratesFailures(t *testing.T) {
	factory, opened := newFactory(map[browser.Role]error{
		browser.RoleIdentity: errors.New("already gone"),
	})
	reg := browser.NewRegistry(factory, 0)
	ctx := context.Background()

	_, err := reg.Acquire(ctx, browser.RoleIdentity)
	require.NoError(t, err)
	_, err = reg.Acquire(ctx, browser.RoleTargetSite)
	require.NoError(t, err)

	err = reg.CloseAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already gone")
	assert.True(t, opened.byRole[browser.RoleIdentity].Closed())
	assert.True(t, opened.byRole[browser.RoleTargetSite].Closed(), "a failed close must not stop the others")
	assert.Equal(t, 0, reg.Len())

	assert.NoError(t, reg.CloseAll())
}

func TestRegistryFactoryError(t *testing.T) {
	reg := browser.NewRegistry(func(ctx context.Context, role browser.Role) (browser.Driver, error) {
		return nil, errors.New("no chrome")
	}, 0)

	_, err := reg.Acquire(context.Background(), browser.RoleTargetSite)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target-site")
	assert.Equal(t, 0, reg.Len())
}

func TestLocatorSelector(t *testing.T) {
	tests := []struct {
		loc    browser.Locator
		want   string
		wantOK bool
	}{
		{browser.ID("gameList"), `[id="gameList"]`, true},
		{browser.Class("area-list"), ".area-list", true},
		{browser.Tag("tr"), "tr", true},
		{browser.Name("Passwd"), `[name="Passwd"]`, true},
		{browser.CSS("#all a"), "#all a", true},
		{browser.XPath("//a"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.loc.String(), func(t *testing.T) {
			got, ok := tt.loc.Selector()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
