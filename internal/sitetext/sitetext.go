// Package sitetext holds the fixed strings the bot recognises on the
// ticketing site: status words, button labels and alert messages.
package sitetext

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

type Catalog struct {
	ListingAvailable    []string `yaml:"listing_available"`
	SeatAvailable       []string `yaml:"seat_available"`
	PurchaseButtons     []string `yaml:"purchase_buttons"`
	IncorrectCodeAlerts []string `yaml:"incorrect_code_alerts"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	var c Catalog
	if err := yaml.Unmarshal(defaultYAML, &c); err != nil {
		panic(fmt.Sprintf("sitetext: embedded catalog is invalid: %v", err))
	}
	return &c
}

// Load reads an override file on top of the built-in catalog. Lists present
// in the file replace the defaults; omitted lists keep them. An empty path
// returns the defaults.
func Load(path string) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site text file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse site text file %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("site text file %s: %w", path, err)
	}
	return c, nil
}

// Validate rejects catalogs with an empty list, which would make the
// matching predicate never succeed.
func (c *Catalog) Validate() error {
	switch {
	case len(c.ListingAvailable) == 0:
		return fmt.Errorf("listing_available must not be empty")
	case len(c.SeatAvailable) == 0:
		return fmt.Errorf("seat_available must not be empty")
	case len(c.PurchaseButtons) == 0:
		return fmt.Errorf("purchase_buttons must not be empty")
	case len(c.IncorrectCodeAlerts) == 0:
		return fmt.Errorf("incorrect_code_alerts must not be empty")
	}
	return nil
}

// IsListingAvailable reports whether status is exactly one of the on-sale
// status words.
func (c *Catalog) IsListingAvailable(status string) bool {
	status = strings.TrimSpace(status)
	for _, s := range c.ListingAvailable {
		if status == s {
			return true
		}
	}
	return false
}

// IsSeatAvailable reports whether status contains any seat availability
// token, ignoring case.
func (c *Catalog) IsSeatAvailable(status string) bool {
	status = strings.ToLower(status)
	for _, tok := range c.SeatAvailable {
		if strings.Contains(status, strings.ToLower(tok)) {
			return true
		}
	}
	return false
}

// IsPurchaseButton reports whether label contains a known purchase label.
// The trigger often carries extra whitespace or an icon glyph.
func (c *Catalog) IsPurchaseButton(label string) bool {
	return containsAny(label, c.PurchaseButtons)
}

func (c *Catalog) IsIncorrectCodeAlert(text string) bool {
	return containsAny(text, c.IncorrectCodeAlerts)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
