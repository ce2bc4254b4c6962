package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tixbot/internal/login"
	"tixbot/internal/token"
)

var (
	// ErrNotFound means the event, listing or seat is not there. The attempt
	// ends quietly without diagnostics.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState means the site is not in a shape the bot understands,
	// usually because its layout changed.
	ErrInvalidState = errors.New("invalid page state")

	ErrUnrecognizedButton = fmt.Errorf("%w: unrecognized purchase button", ErrInvalidState)
)

// Step is a stage of the purchase workflow, in the order they run.
type Step int

const (
	StepResolveToken Step = iota
	StepOpenListing
	StepInjectToken
	StepFindEvent
	StepPollAvailability
	StepSelectListing
	StepSelectSeat
	StepFillForm
	StepCheckout
	StepDone
)

func (s Step) String() string {
	switch s {
	case StepResolveToken:
		return "resolve-token"
	case StepOpenListing:
		return "open-listing"
	case StepInjectToken:
		return "inject-token"
	case StepFindEvent:
		return "find-event"
	case StepPollAvailability:
		return "poll-availability"
	case StepSelectListing:
		return "select-listing"
	case StepSelectSeat:
		return "select-seat"
	case StepFillForm:
		return "fill-form"
	case StepCheckout:
		return "checkout"
	case StepDone:
		return "done"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Outcome is how a purchase attempt ended. The zero value is Unknown so an
// unfilled Result never reads as a success.
type Outcome int

const (
	Unknown Outcome = iota
	Purchased
	// DryRun stopped just before the final checkout click.
	DryRun
	NotFound
	Failed
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Unknown:
		return "unknown"
	case Purchased:
		return "purchased"
	case DryRun:
		return "dry-run"
	case NotFound:
		return "not-found"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Success reports whether the workflow reached checkout.
func (o Outcome) Success() bool {
	return o == Purchased || o == DryRun
}

// Result is what a purchase attempt reports instead of raising.
type Result struct {
	Outcome Outcome
	// Step is the last step entered; for failures, the step that failed.
	Step Step
	Err  error
	// DiagnosticsDir holds the captured page state of a failed attempt.
	DiagnosticsDir string

	Listing     *EventListing
	Seat        string
	TokenReused bool
	Elapsed     time.Duration
}

// Classify maps a workflow error onto an Outcome. A nil error is Purchased.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Purchased
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Canceled
	case errors.Is(err, ErrNotFound), errors.Is(err, token.ErrNotFound):
		return NotFound
	}
	return Failed
}

// IsInvalidState reports whether err means the site was in an unexpected
// state rather than something failing outright.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, login.ErrSessionCookieMissing)
}
