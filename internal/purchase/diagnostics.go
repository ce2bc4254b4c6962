package purchase

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tixbot/internal/browser"
)

const (
	screenshotFile = "screenshot.png"
	pageFile       = "page.html"
	errorFile      = "error.txt"
)

// captureDiagnostics writes the page's screenshot, markup and the failure
// text into a new timestamped directory under root. d may be nil when no
// browser is open, in which case only the error text is written. The
// directory is returned even if some artifacts could not be captured.
func captureDiagnostics(root string, now time.Time, step Step, d browser.Driver, cause error) (string, error) {
	dir := filepath.Join(root, now.Format("20060102-150405.000000000"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create diagnostics dir: %w", err)
	}

	var errs []error
	text := fmt.Sprintf("step: %s\ntime: %s\nerror: %v\n", step, now.Format(time.RFC3339), cause)

	if d != nil {
		if u, err := d.URL(); err == nil {
			text += "url: " + u + "\n"
		}
		if png, err := d.Screenshot(); err != nil {
			errs = append(errs, fmt.Errorf("screenshot: %w", err))
		} else if err := os.WriteFile(filepath.Join(dir, screenshotFile), png, 0644); err != nil {
			errs = append(errs, err)
		}
		if html, err := d.HTML(); err != nil {
			errs = append(errs, fmt.Errorf("html: %w", err))
		} else if err := os.WriteFile(filepath.Join(dir, pageFile), []byte(html), 0644); err != nil {
			errs = append(errs, err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, errorFile), []byte(text), 0644); err != nil {
		errs = append(errs, err)
	}
	return dir, errors.Join(errs...)
}
