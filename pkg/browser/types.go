package browser

import (
	"time"

	"github.com/playwright-community/playwright-go"
)

// Session represents an active browser session with its associated resources.
type Session struct {
	// Name is the unique identifier for this session
	Name string

	// Browser is the Playwright browser instance
	Browser playwright.Browser

	// Context is the browser context (isolated session)
	Context playwright.BrowserContext

	// Page is the current active page
	Page playwright.Page

	// timeout bounds every wait, in milliseconds
	timeout float64

	// settleDelay lets dynamic content render after a frame switch
	settleDelay time.Duration

	// frame is the selector of the iframe actions run in; empty for the main document
	frame string

	closed bool
}

// SessionOptions configures a new browser session.
type SessionOptions struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Viewport sets the initial viewport size
	Viewport *Viewport

	// Timeout sets the default timeout for operations (in milliseconds)
	Timeout float64

	// SettleDelay is the pause after entering a frame
	SettleDelay time.Duration

	// Args are extra command line flags for Chromium
	Args []string
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// NavigateOptions configures page navigation behavior.
type NavigateOptions struct {
	// WaitUntil specifies when to consider navigation successful
	// Valid values: "load", "domcontentloaded", "networkidle"
	WaitUntil string

	// Timeout in milliseconds (0 means default)
	Timeout float64
}

// ClickOptions configures element clicking behavior.
type ClickOptions struct {
	// Selector identifies the element to click
	Selector string

	// First clicks the first match when the selector matches several elements
	First bool

	// Timeout in milliseconds
	Timeout float64
}

// FillOptions configures form input filling.
type FillOptions struct {
	// Selector identifies the input element
	Selector string

	// Value is the text to fill. The field is cleared first.
	Value string

	// Timeout in milliseconds
	Timeout float64
}

// WaitOptions configures waiting behavior.
type WaitOptions struct {
	// Selector to wait for
	Selector string

	// State to wait for: "attached" or "visible" (the default)
	State string

	// First waits for the first match when the selector matches several elements
	First bool

	// Timeout in milliseconds
	Timeout float64
}

// Wait states
const (
	StateAttached = "attached"
	StateVisible  = "visible"
)

// Default values for various operations
const (
	DefaultTimeout        = 30000.0 // 30 seconds in milliseconds
	DefaultViewportWidth  = 1920
	DefaultViewportHeight = 1080
	DefaultMaxSessions    = 2
)

// DefaultArgs are the Chromium flags used for unattended runs.
var DefaultArgs = []string{
	"--disable-dev-shm-usage",
	"--no-sandbox",
	"--disable-gpu",
}
