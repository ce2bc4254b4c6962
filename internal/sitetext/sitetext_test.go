package sitetext

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.True(t, c.IsListingAvailable("Find tickets"))
	assert.False(t, c.IsListingAvailable("立即購票"))
	assert.True(t, c.IsListingAvailable("可購票"))
	assert.False(t, c.IsListingAvailable("Sold out"))

	assert.True(t, c.IsPurchaseButton("Buy Tickets"))
	assert.True(t, c.IsPurchaseButton("立即購票"))
	assert.True(t, c.IsPurchaseButton("  Buy Tickets \n"))
	assert.False(t, c.IsPurchaseButton("Sign up"))

	assert.True(t, c.IsIncorrectCodeAlert("The verification code that you entered is incorrect. Please try again."))
	assert.False(t, c.IsIncorrectCodeAlert("Session expired"))
}

func TestIsSeatAvailable(t *testing.T) {
	c := Default()

	tests := []struct {
		status string
		want   bool
	}{
		{"Available", true},
		{"2 seat(s) remaining", true},
		{"熱賣中", true},
		{"AVAILABLE", true},
		{"Sold out", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsSeatAvailable(tt.status))
		})
	}
}

func TestLoadOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "site.yaml")
	require.NoError(t, os.WriteFile(path, []byte("purchase_buttons:\n  - \"Get Tickets\"\n"), 0644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.True(t, c.IsPurchaseButton("Get Tickets"))
	assert.False(t, c.IsPurchaseButton("Buy Tickets"), "override replaces the list")
	assert.True(t, c.IsListingAvailable("Find tickets"), "omitted lists keep defaults")
}

func TestLoadRejectsEmptyList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.yaml")
	require.NoError(t, os.WriteFile(path, []byte("seat_available: []\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}
