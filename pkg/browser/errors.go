package browser

import (
	"errors"
	"fmt"

	"github.com/playwright-community/playwright-go"
)

// ErrSessionClosed is returned by actions on a closed session.
var ErrSessionClosed = errors.New("browser session closed")

// ActionError is a failed UI action on one element.
type ActionError struct {
	Action   string
	Selector string

	// URL is the page the action ran on, if known
	URL string

	Err error
}

func (e *ActionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s %s on %s: %v", e.Action, e.Selector, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Action, e.Selector, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether a UI failure may go away when the action is
// repeated: the element was not ready before the wait bound elapsed.
// A closed page or browser is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionClosed) || errors.Is(err, playwright.ErrTargetClosed) {
		return false
	}
	return errors.Is(err, playwright.ErrTimeout)
}
