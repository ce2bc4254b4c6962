package purchase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tixbot/internal/browser"
	"tixbot/internal/captcha"
)

// fillForm completes the order form. When the site rejects the verification
// code the whole form is filled again, since the server may have reset it.
func (r *run) fillForm(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if limitReached(attempt, r.opts.MaxFormAttempts) {
			return fmt.Errorf("order form rejected %d times", r.opts.MaxFormAttempts)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.selectQuantity(); err != nil {
			return err
		}
		if err := r.clickAgree(); err != nil {
			return err
		}
		if err := r.enterVerificationCode(ctx); err != nil {
			return err
		}
		if err := r.submitForm(ctx); err != nil {
			return err
		}

		retry, err := r.awaitSubmission(ctx, attempt)
		if err != nil {
			return err
		}
		if !retry {
			return nil
		}
	}
}

func (r *run) selectQuantity() error {
	sel, err := r.site.Find(browser.CSS(r.opts.Selectors.Quantity))
	if err != nil {
		return fmt.Errorf("quantity selector: %w", err)
	}
	text, err := sel.Text()
	if err != nil {
		return err
	}

	limit, err := maxQuantity(text)
	if err != nil {
		return err
	}

	n := r.req.Quantity
	if n > limit {
		r.log.Warn("requested quantity exceeds limit, selecting the maximum",
			zap.Int("requested", n), zap.Int("max", limit))
		n = limit
	}
	r.log.Info("selecting ticket quantity", zap.Int("quantity", n))
	return sel.SelectText(strconv.Itoa(n))
}

// maxQuantity reads the largest option of the quantity dropdown, which the
// site lists last.
func maxQuantity(optionsText string) (int, error) {
	lines := strings.Split(strings.TrimSpace(optionsText), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	n, err := strconv.Atoi(last)
	if err != nil {
		return 0, fmt.Errorf("%w: unreadable quantity options %q", ErrInvalidState, optionsText)
	}
	return n, nil
}

func (r *run) clickAgree() error {
	box, err := r.site.Find(browser.CSS(r.opts.Selectors.AgreeCheckbox))
	if err != nil {
		return fmt.Errorf("terms checkbox: %w", err)
	}
	return box.Click()
}

// enterVerificationCode reads the code image until the OCR returns a
// well-formed code, refreshing the image after every miss, then types it.
func (r *run) enterVerificationCode(ctx context.Context) error {
	sel := r.opts.Selectors
	code, err := r.solveVerificationCode(ctx)
	if err != nil {
		return err
	}

	input, err := r.site.Find(browser.CSS(sel.CodeInput))
	if err != nil {
		return fmt.Errorf("verification code input: %w", err)
	}
	return input.Input(string(code))
}

func (r *run) solveVerificationCode(ctx context.Context) (captcha.Code, error) {
	for attempt := 1; ; attempt++ {
		if limitReached(attempt, r.opts.MaxCaptchaAttempts) {
			return "", fmt.Errorf("no readable verification code after %d attempts", r.opts.MaxCaptchaAttempts)
		}

		img, err := r.site.Find(browser.CSS(r.opts.Selectors.CodeImage))
		if err != nil {
			return "", fmt.Errorf("verification code image: %w", err)
		}
		png, err := img.Screenshot()
		if err != nil {
			return "", fmt.Errorf("failed to capture verification code: %w", err)
		}

		code, err := r.deps.Solver.Solve(ctx, png)
		switch {
		case ctx.Err() != nil:
			return "", ctx.Err()
		case err != nil:
			r.log.Warn("verification code OCR failed", zap.Int("attempt", attempt), zap.Error(err))
		case code.Valid():
			r.log.Info("verification code detected", zap.String("code", string(code)), zap.Int("attempt", attempt))
			return code, nil
		default:
			r.log.Warn("verification code invalid, refreshing", zap.String("code", string(code)), zap.Int("attempt", attempt))
		}

		if err := img.Click(); err != nil {
			return "", fmt.Errorf("failed to refresh verification code: %w", err)
		}
		if err := r.sleep(ctx, r.opts.Timings.CodeRefreshPause); err != nil {
			return "", err
		}
	}
}

func (r *run) submitForm(ctx context.Context) error {
	btn, err := r.site.Find(browser.CSS(r.opts.Selectors.SubmitButton))
	if err != nil {
		return fmt.Errorf("submit button: %w", err)
	}
	r.log.Info("submitting order form")
	if err := btn.Click(); err != nil {
		return err
	}
	return r.sleep(ctx, r.opts.Timings.SubmitPause)
}

// awaitSubmission waits for the site to answer the submitted form, either
// with an alert or with the payment page. The alert comes from the page the
// POST returns, so it can appear well after the click. A slice of the wait
// times out while an alert blocks the page, and the next check sees it.
func (r *run) awaitSubmission(ctx context.Context, attempt int) (retry bool, err error) {
	interval := r.opts.Timings.SubmitPollInterval
	if interval <= 0 {
		interval = r.opts.Timings.SubmitPause
	}
	deadline := r.deps.Clock.Now().Add(r.opts.Timings.PaymentTimeout)
	box := browser.CSS(r.opts.Selectors.PaymentBox)

	for checks := 1; ; checks++ {
		raised, err := r.handleSubmitAlert(attempt)
		if err != nil || raised {
			return raised, err
		}

		_, err = r.site.WaitVisible(ctx, box, interval)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, browser.ErrElementNotFound) {
			return false, err
		}
		if !r.deps.Clock.Now().Before(deadline) {
			return false, fmt.Errorf("payment methods did not appear: %w", err)
		}
		if checks%10 == 0 {
			r.log.Info("still waiting for the order to be accepted", zap.Int("checks", checks))
		}
		if err := r.sleep(ctx, interval); err != nil {
			return false, err
		}
	}
}

// handleSubmitAlert accepts a pending alert, if any, and reports whether the
// form must be filled again.
func (r *run) handleSubmitAlert(attempt int) (retry bool, err error) {
	text, err := r.site.AlertText()
	if errors.Is(err, browser.ErrNoAlert) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if r.deps.Vocab.IsIncorrectCodeAlert(text) {
		r.log.Warn("verification code rejected, filling the form again", zap.Int("attempt", attempt))
	} else {
		r.log.Warn("unexpected alert after submit, filling the form again", zap.String("alert", text), zap.Int("attempt", attempt))
	}
	if err := r.site.AcceptAlert(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *run) checkout(ctx context.Context) error {
	if err := r.selectPayment(ctx); err != nil {
		return err
	}
	if err := r.selectDelivery(ctx); err != nil {
		return err
	}

	btn, err := r.site.WaitVisible(ctx, browser.CSS(r.opts.Selectors.CheckoutButton), r.opts.Timings.CheckoutTimeout)
	if err != nil {
		return fmt.Errorf("checkout button did not appear: %w", err)
	}
	if err := btn.ScrollIntoView(); err != nil {
		return err
	}
	if err := r.sleep(ctx, r.opts.Timings.SubmitPause); err != nil {
		return err
	}

	if r.opts.DryRun {
		r.log.Info("dry run: not clicking checkout")
		return nil
	}
	r.log.Info("clicking checkout")
	return btn.Click()
}

func (r *run) selectPayment(ctx context.Context) error {
	sel := r.opts.Selectors
	r.log.Info("waiting for payment methods")
	box, err := r.site.WaitVisible(ctx, browser.CSS(sel.PaymentBox), r.opts.Timings.PaymentTimeout)
	if err != nil {
		return fmt.Errorf("payment methods did not appear: %w", err)
	}

	label, keyword, err := pickLabel(box, sel.PaymentLabel, r.req.PaymentKeywords)
	if err != nil {
		return err
	}
	if label == nil {
		r.log.Warn("no payment method matched, leaving the site default", zap.Strings("keywords", r.req.PaymentKeywords))
		return nil
	}
	if err := label.Click(); err != nil {
		return err
	}
	r.log.Info("payment method selected", zap.String("keyword", keyword))
	if err := r.sleep(ctx, r.opts.Timings.PaymentClickPause); err != nil {
		return err
	}
	return label.ScrollIntoView()
}

func (r *run) selectDelivery(ctx context.Context) error {
	sel := r.opts.Selectors
	if _, err := r.site.WaitVisible(ctx, browser.CSS(sel.DeliveryReady), r.opts.Timings.DeliveryTimeout); err != nil {
		return fmt.Errorf("delivery methods did not appear: %w", err)
	}
	list, err := r.site.Find(browser.CSS(sel.DeliveryList))
	if err != nil {
		return fmt.Errorf("delivery list: %w", err)
	}

	label, keyword, err := pickLabel(list, sel.DeliveryLabel, r.req.DeliveryKeywords)
	if err != nil {
		return err
	}
	if label == nil {
		r.log.Warn("no delivery method matched, leaving the site default", zap.Strings("keywords", r.req.DeliveryKeywords))
		return nil
	}
	if err := label.Click(); err != nil {
		return err
	}
	r.log.Info("delivery method selected", zap.String("keyword", keyword))
	return nil
}

// pickLabel returns the label under parent chosen by keyword priority, or
// nil when nothing matches.
func pickLabel(parent browser.Element, labelSelector string, keywords []string) (browser.Element, string, error) {
	labels, err := parent.FindAll(browser.CSS(labelSelector))
	if err != nil {
		return nil, "", err
	}
	texts := make([]string, len(labels))
	for i, l := range labels {
		if texts[i], err = l.Text(); err != nil {
			return nil, "", err
		}
	}
	idx, kw := ChooseByKeyword(keywords, texts)
	if idx < 0 {
		return nil, "", nil
	}
	return labels[idx], kw, nil
}
