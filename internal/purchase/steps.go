package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tixbot/internal/browser"
	"tixbot/internal/clock"
	"tixbot/internal/similarity"
)

const scrollToBottomJS = "window.scrollTo(0, document.body.scrollHeight);"

// isNetworkError reports whether a navigation failed for a reason worth
// retrying.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "net::ERR_") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "network is unreachable")
}

// retryOnNetworkError repeats operation while it fails with a network error.
// Other errors and cancellation end the loop.
func (r *run) retryOnNetworkError(ctx context.Context, operationName string, operation func() error) error {
	for attemptNum := 1; ; attemptNum++ {
		err := operation()
		if err == nil || !isNetworkError(err) {
			return err
		}
		if attemptNum%10 == 0 || attemptNum <= 3 {
			r.log.Warn("network error, retrying",
				zap.String("operation", operationName),
				zap.Int("attempt", attemptNum),
				zap.Error(err),
			)
		}
		if err := r.sleep(ctx, r.opts.Timings.PollClickPause); err != nil {
			return err
		}
	}
}

func (r *run) navigate(ctx context.Context, url string) error {
	return r.retryOnNetworkError(ctx, "navigate", func() error {
		return r.site.Navigate(ctx, url)
	})
}

func (r *run) openActivityPage(ctx context.Context) error {
	if err := r.navigate(ctx, r.opts.EventURL); err != nil {
		return fmt.Errorf("failed to open activity page: %w", err)
	}
	if err := r.acceptCookiePolicy(ctx); err != nil {
		return err
	}
	if err := r.site.Exec(scrollToBottomJS); err != nil {
		return fmt.Errorf("failed to scroll activity page: %w", err)
	}
	return nil
}

// acceptCookiePolicy dismisses the consent banner if it shows up. Failing to
// click it is not fatal.
func (r *run) acceptCookiePolicy(ctx context.Context) error {
	if err := r.sleep(ctx, r.opts.Timings.CookieBannerDelay); err != nil {
		return err
	}
	btn, err := r.site.Find(browser.CSS(r.opts.Selectors.CookieAccept))
	if err != nil {
		return nil
	}
	r.log.Info("accepting cookie policy")
	if err := btn.Click(); err != nil {
		r.log.Warn("failed to accept cookie policy", zap.Error(err))
		return nil
	}
	return r.sleep(ctx, r.opts.Timings.CookieAcceptSettle)
}

// injectToken replaces the site's session cookie with value and reloads so
// the site sees the signed-in session.
func (r *run) injectToken(ctx context.Context, value string) error {
	c := r.opts.Cookie

	existing, err := r.site.Cookies()
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}
	for _, ec := range existing {
		if ec.Name != c.Name {
			continue
		}
		if err := r.site.DeleteCookie(ec.Name, ec.Domain); err != nil {
			return fmt.Errorf("failed to delete stale session cookie: %w", err)
		}
	}

	err = r.site.SetCookie(browser.Cookie{
		Name:     c.Name,
		Value:    value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		SameSite: c.SameSite,
	})
	if err != nil {
		return err
	}
	r.log.Info("session cookie loaded")

	if err := r.site.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload after loading session: %w", err)
	}
	return nil
}

func (r *run) openEventPage(ctx context.Context) error {
	anchors, err := r.site.FindAll(browser.CSS(r.opts.Selectors.EventAnchors))
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	texts := make([]string, len(anchors))
	for i, a := range anchors {
		if texts[i], err = a.Text(); err != nil {
			return fmt.Errorf("failed to read event link: %w", err)
		}
	}

	candidates := FilterEventAnchors(texts, r.req.EventKeyword, r.req.ExcludeKeywords)
	if len(candidates) == 0 {
		return fmt.Errorf("%w: event %q among %d links", ErrNotFound, r.req.EventKeyword, len(anchors))
	}

	chosen := r.opts.Anchor.Choose(texts, candidates, r.req.EventKeyword)
	href, ok, err := anchors[chosen].Attribute("href")
	if err != nil {
		return err
	}
	if !ok || href == "" {
		return fmt.Errorf("%w: event link %q has no href", ErrInvalidState, texts[chosen])
	}

	r.log.Info("event found",
		zap.String("link", texts[chosen]),
		zap.Int("candidates", len(candidates)),
		zap.Stringer("strategy", r.opts.Anchor),
	)
	if err := r.navigate(ctx, href); err != nil {
		return fmt.Errorf("failed to open event page: %w", err)
	}

	if _, err := r.site.WaitVisible(ctx, browser.CSS(r.opts.Selectors.PurchaseTrigger), r.opts.Timings.TriggerTimeout); err != nil {
		return fmt.Errorf("purchase button did not appear: %w", err)
	}
	return nil
}

// pollAvailability clicks the purchase trigger until the game list shows an
// available listing. It has no attempt limit; ctx ends it.
func (r *run) pollAvailability(ctx context.Context) ([]EventListing, error) {
	if !r.opts.StartAt.IsZero() {
		r.log.Info("waiting for start time", zap.Time("start_at", r.opts.StartAt))
		if err := clock.SleepUntil(ctx, r.deps.SiteClock, r.opts.StartAt); err != nil {
			return nil, err
		}
	}

	r.log.Info("clicking purchase button until tickets are available")
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		trigger, err := r.site.Find(browser.CSS(r.opts.Selectors.PurchaseTrigger))
		if err != nil {
			return nil, fmt.Errorf("purchase button: %w", err)
		}
		if err := trigger.ScrollIntoView(); err != nil {
			return nil, err
		}

		label, err := trigger.Text()
		if err != nil {
			return nil, err
		}
		if !r.deps.Vocab.IsPurchaseButton(label) {
			return nil, fmt.Errorf("%w: %q", ErrUnrecognizedButton, label)
		}

		if err := trigger.Click(); err != nil {
			return nil, err
		}
		if err := r.sleep(ctx, r.opts.Timings.PollClickPause); err != nil {
			return nil, err
		}
		if err := trigger.Click(); err != nil {
			return nil, err
		}
		if err := r.sleep(ctx, r.opts.Timings.PollScrapePause); err != nil {
			return nil, err
		}

		listings, err := r.scrapeListings()
		if err != nil {
			return nil, err
		}
		for _, l := range listings {
			if l.Available(r.deps.Vocab) {
				r.log.Info("tickets available", zap.Int("attempts", attempt))
				return listings, nil
			}
		}

		if attempt%10 == 0 {
			r.log.Info("still waiting for tickets", zap.Int("attempts", attempt), zap.Int("listings", len(listings)))
		}
	}
}

// scrapeListings reads the game list. A missing table yields no listings.
func (r *run) scrapeListings() ([]EventListing, error) {
	sel := r.opts.Selectors
	table, err := r.site.Find(browser.CSS(sel.ListingTable))
	if errors.Is(err, browser.ErrElementNotFound) {
		r.log.Debug("game list not rendered yet")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := table.FindAll(browser.CSS(sel.ListingRow))
	if err != nil {
		return nil, err
	}

	var listings []EventListing
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		cells, err := row.FindAll(browser.CSS(sel.ListingCell))
		if err != nil {
			return nil, err
		}
		if len(cells) != 4 {
			r.log.Debug("skipping game list row", zap.Int("row", i), zap.Int("cells", len(cells)))
			continue
		}

		var text [4]string
		for j, c := range cells {
			if text[j], err = c.Text(); err != nil {
				return nil, err
			}
		}

		l := EventListing{
			DateTime:    strings.TrimSpace(text[0]),
			Name:        strings.TrimSpace(text[1]),
			Destination: strings.TrimSpace(text[2]),
			Status:      strings.TrimSpace(text[3]),
		}
		if btn, err := cells[3].Find(browser.CSS(sel.ListingButton)); err == nil {
			href, _, err := btn.Attribute("data-href")
			if err != nil {
				return nil, err
			}
			l.URL = href
		}
		listings = append(listings, l)
	}
	return listings, nil
}

func (r *run) selectListing(listings []EventListing) (EventListing, error) {
	for _, l := range listings {
		if !l.Available(r.deps.Vocab) {
			continue
		}
		r.log.Info("listing available", zap.String("datetime", l.DateTime), zap.String("name", l.Name))
		if strings.Contains(l.DateTime, r.req.DateTime) {
			return l, nil
		}
	}
	return EventListing{}, fmt.Errorf("%w: no available listing on %q", ErrNotFound, r.req.DateTime)
}

func (r *run) selectSeat(ctx context.Context, listing EventListing) error {
	sel := r.opts.Selectors
	if err := r.navigate(ctx, listing.URL); err != nil {
		return fmt.Errorf("failed to open listing: %w", err)
	}

	current, err := r.site.URL()
	if err != nil {
		return err
	}
	if r.opts.TicketEntryURL != "" && strings.Contains(current, r.opts.TicketEntryURL) {
		r.log.Info("already on the ticket entry page, skipping seat selection")
		return r.waitForCodeImage(ctx)
	}

	list, err := r.site.WaitVisible(ctx, browser.CSS(sel.SeatList), r.opts.Timings.SeatListTimeout)
	if err != nil {
		return fmt.Errorf("seat list did not appear: %w", err)
	}
	links, err := list.FindAll(browser.CSS(sel.SeatLink))
	if err != nil {
		return err
	}

	var available []SeatOption
	for _, link := range links {
		name, err := link.Text()
		if err != nil {
			return err
		}
		opt := SeatOption{Name: strings.TrimSpace(name), Element: link}
		if font, err := link.Find(browser.CSS(sel.SeatStatus)); err == nil {
			if opt.Status, err = font.Text(); err != nil {
				return err
			}
		}
		if opt.Available(r.deps.Vocab) {
			available = append(available, opt)
		}
	}
	r.log.Info("seat areas", zap.Int("total", len(links)), zap.Int("available", len(available)))

	names := make([]string, len(available))
	for i, s := range available {
		names[i] = s.Name
	}
	idx, score, ok := similarity.Best(r.req.SeatKeyword, names)
	if !ok {
		return fmt.Errorf("%w: no available seat area for %q", ErrNotFound, r.req.SeatKeyword)
	}
	seat := available[idx]
	r.log.Info("seat found", zap.String("seat", seat.Name), zap.Float64("score", score))

	if err := seat.Element.ScrollIntoView(); err != nil {
		return err
	}
	if err := r.sleep(ctx, r.opts.Timings.SeatClickPause); err != nil {
		return err
	}
	if err := seat.Element.Click(); err != nil {
		return fmt.Errorf("failed to click seat area: %w", err)
	}
	r.result.Seat = seat.Name
	r.log.Info("seat selected, waiting for order form", zap.String("seat", seat.Name))

	return r.waitForCodeImage(ctx)
}

func (r *run) waitForCodeImage(ctx context.Context) error {
	_, err := r.site.WaitVisible(ctx, browser.CSS(r.opts.Selectors.CodeImage), r.opts.Timings.CodeImageTimeout)
	if err != nil {
		return fmt.Errorf("order form did not appear: %w", err)
	}
	return nil
}
