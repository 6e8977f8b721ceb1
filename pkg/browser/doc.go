// Package browser drives the Alma staff interface through Playwright.
//
// A SessionManager owns the Playwright driver for a whole run. It is
// initialized once, hands out Sessions, and is shut down at the end.
//
// # Session Lifecycle
//
//  1. Start: StartSession launches Chromium with a fresh context and page
//  2. Use: Navigate, Click, Fill, Wait and IsChecked act on the page
//  3. Close: CloseSession releases the browser; closing twice is a no-op
//
// # Waiting
//
// Every action waits for its element before acting, bounded by the session
// timeout. A wait that runs out returns an error wrapping
// playwright.ErrTimeout, which IsTransient reports as retryable.
//
// # Frames
//
// The user search of the merge page lives in an iframe. EnterFrame switches
// subsequent actions into it and LeaveFrame switches back. Navigate always
// returns to the main document.
package browser
