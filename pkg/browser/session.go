package browser

import (
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// URL returns the address of the current page.
func (s *Session) URL() string {
	if s.Page == nil {
		return ""
	}
	return s.Page.URL()
}

func (s *Session) actionError(action, selector string, err error) *ActionError {
	return &ActionError{Action: action, Selector: selector, URL: s.URL(), Err: err}
}

// locator resolves a selector in the current frame, or in the main document
// when no frame was entered.
func (s *Session) locator(selector string, first bool) playwright.Locator {
	var loc playwright.Locator
	if s.frame != "" {
		loc = s.Page.FrameLocator(s.frame).Locator(selector)
	} else {
		loc = s.Page.Locator(selector)
	}
	if first {
		loc = loc.First()
	}
	return loc
}

func (s *Session) timeoutOr(timeout float64) float64 {
	if timeout > 0 {
		return timeout
	}
	return s.timeout
}

// Navigate navigates the session's page to the specified URL.
// Navigation always leaves any entered frame.
func (s *Session) Navigate(url string, opts NavigateOptions) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.frame = ""

	// Build Playwright navigation options
	playwrightOpts := playwright.PageGotoOptions{}

	if opts.WaitUntil != "" {
		waitUntil := playwright.WaitUntilState(opts.WaitUntil)
		playwrightOpts.WaitUntil = &waitUntil
	}

	timeout := s.timeoutOr(opts.Timeout)
	playwrightOpts.Timeout = &timeout

	_, err := s.Page.Goto(url, playwrightOpts)
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Wait blocks until the element reaches the requested state or the timeout
// elapses. Every other action waits through it first.
func (s *Session) Wait(opts WaitOptions) error {
	if s.closed {
		return ErrSessionClosed
	}

	if opts.Selector == "" {
		return fmt.Errorf("selector is required for wait")
	}
	if opts.State == "" {
		opts.State = StateVisible
	}

	state := playwright.WaitForSelectorState(opts.State)
	timeout := s.timeoutOr(opts.Timeout)
	err := s.locator(opts.Selector, opts.First).WaitFor(playwright.LocatorWaitForOptions{
		State:   &state,
		Timeout: &timeout,
	})
	if err != nil {
		return s.actionError("wait " + opts.State, opts.Selector, err)
	}
	return nil
}

// Click waits for an element to be visible and clicks it.
func (s *Session) Click(opts ClickOptions) error {
	if err := s.Wait(WaitOptions{Selector: opts.Selector, State: StateVisible, First: opts.First, Timeout: opts.Timeout}); err != nil {
		return err
	}

	timeout := s.timeoutOr(opts.Timeout)
	err := s.locator(opts.Selector, opts.First).Click(playwright.LocatorClickOptions{
		Timeout: &timeout,
	})
	if err != nil {
		return s.actionError("click", opts.Selector, err)
	}

	// Update current URL in case click caused navigation
	return nil
}

// Fill waits for an input to be visible, clears it and types the value.
func (s *Session) Fill(opts FillOptions) error {
	if err := s.Wait(WaitOptions{Selector: opts.Selector, State: StateVisible, Timeout: opts.Timeout}); err != nil {
		return err
	}

	timeout := s.timeoutOr(opts.Timeout)
	loc := s.locator(opts.Selector, false)
	if err := loc.Clear(playwright.LocatorClearOptions{Timeout: &timeout}); err != nil {
		return s.actionError("clear", opts.Selector, err)
	}
	if err := loc.Fill(opts.Value, playwright.LocatorFillOptions{Timeout: &timeout}); err != nil {
		return s.actionError("fill", opts.Selector, err)
	}
	return nil
}

// IsChecked waits for a checkbox to be attached and reports its state.
func (s *Session) IsChecked(selector string) (bool, error) {
	if err := s.Wait(WaitOptions{Selector: selector, State: StateAttached}); err != nil {
		return false, err
	}

	timeout := s.timeout
	checked, err := s.locator(selector, false).IsChecked(playwright.LocatorIsCheckedOptions{
		Timeout: &timeout,
	})
	if err != nil {
		return false, s.actionError("read checkbox", selector, err)
	}
	return checked, nil
}

// EnterFrame waits for an iframe and makes it the target of later actions.
func (s *Session) EnterFrame(selector string) error {
	if err := s.Wait(WaitOptions{Selector: selector, State: StateAttached}); err != nil {
		return err
	}
	s.frame = selector
	s.Settle()
	return nil
}

// LeaveFrame makes the main document the target of later actions.
func (s *Session) LeaveFrame() {
	s.frame = ""
}

// Settle pauses for the configured settle delay.
func (s *Session) Settle() {
	if s.settleDelay > 0 {
		time.Sleep(s.settleDelay)
	}
}

// close releases the Playwright resources. Safe to call multiple times.
func (s *Session) close() {
	if s.closed {
		return
	}
	s.closed = true

	// Ignore errors, continue cleanup
	_ = s.Page.Close()
	_ = s.Context.Close()
	_ = s.Browser.Close()
}
