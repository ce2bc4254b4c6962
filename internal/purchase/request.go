package purchase

import (
	"errors"
	"fmt"
	"strings"

	"tixbot/internal/browser"
	"tixbot/internal/similarity"
	"tixbot/internal/sitetext"
)

// Request describes what to buy. It is passed by value and never modified.
type Request struct {
	EventKeyword string
	// DateTime is matched as a substring of the listing's date cell.
	DateTime    string
	SeatKeyword string

	// Keyword lists are in priority order.
	DeliveryKeywords []string
	PaymentKeywords  []string
	ExcludeKeywords  []string

	Quantity int
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.EventKeyword) == "" {
		return errors.New("event keyword is required")
	}
	if r.Quantity < 1 {
		return fmt.Errorf("quantity must be at least 1, got %d", r.Quantity)
	}
	return nil
}

// ParseKeywords splits a comma-separated list, trimming blanks.
func ParseKeywords(csv string) []string {
	var out []string
	for _, kw := range strings.Split(csv, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// EventListing is one row of a game list, scraped fresh on every poll.
type EventListing struct {
	DateTime    string
	Name        string
	Destination string
	Status      string
	URL         string
}

// Available reports whether the listing is on sale and has somewhere to go.
func (l EventListing) Available(vocab *sitetext.Catalog) bool {
	return l.URL != "" && vocab.IsListingAvailable(l.Status)
}

// SeatOption is one seating area on the area list.
type SeatOption struct {
	Name    string
	Status  string
	Element browser.Element
}

func (s SeatOption) Available(vocab *sitetext.Catalog) bool {
	return vocab.IsSeatAvailable(s.Status)
}

// FilterEventAnchors returns the indexes of texts that contain keyword and
// none of the exclude keywords, in their original order.
func FilterEventAnchors(texts []string, keyword string, exclude []string) []int {
	var out []int
	for i, text := range texts {
		if !strings.Contains(text, keyword) {
			continue
		}
		excluded := false
		for _, ex := range exclude {
			if ex != "" && strings.Contains(text, ex) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, i)
		}
	}
	return out
}

// AnchorStrategy decides which of several matching event links to follow.
type AnchorStrategy int

const (
	// AnchorLast follows the last match in page order.
	AnchorLast AnchorStrategy = iota
	AnchorFirst
	// AnchorBest follows the match most similar to the event keyword.
	AnchorBest
)

func ParseAnchorStrategy(s string) (AnchorStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last":
		return AnchorLast, nil
	case "first":
		return AnchorFirst, nil
	case "best":
		return AnchorBest, nil
	}
	return AnchorLast, fmt.Errorf("unknown anchor strategy %q", s)
}

func (a AnchorStrategy) String() string {
	switch a {
	case AnchorLast:
		return "last"
	case AnchorFirst:
		return "first"
	case AnchorBest:
		return "best"
	}
	return fmt.Sprintf("anchor(%d)", int(a))
}

// Choose picks one index out of candidates, which index into texts.
// candidates must not be empty.
func (a AnchorStrategy) Choose(texts []string, candidates []int, keyword string) int {
	switch a {
	case AnchorFirst:
		return candidates[0]
	case AnchorBest:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = texts[c]
		}
		if best, _, ok := similarity.Best(keyword, names); ok {
			return candidates[best]
		}
	}
	return candidates[len(candidates)-1]
}

// ChooseByKeyword returns the index of the first label containing the
// highest-priority keyword that matches anything, or -1.
func ChooseByKeyword(keywords, labels []string) (index int, keyword string) {
	for _, kw := range keywords {
		for i, label := range labels {
			if strings.Contains(label, kw) {
				return i, kw
			}
		}
	}
	return -1, ""
}
