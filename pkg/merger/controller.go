package merger

import (
	"errors"
	"fmt"

	"github.com/slsp/almamerge/pkg/browser"
	"github.com/slsp/almamerge/pkg/config"
	"github.com/slsp/almamerge/pkg/logging"
	"github.com/slsp/almamerge/pkg/staff"
)

// cookieBannerTimeout bounds the wait for the consent overlay, in
// milliseconds. The overlay does not show on every login.
const cookieBannerTimeout = 5000.0

// Page is the set of UI actions the merge flow needs. *browser.Session
// implements it.
type Page interface {
	Navigate(url string, opts browser.NavigateOptions) error
	Click(opts browser.ClickOptions) error
	Fill(opts browser.FillOptions) error
	Wait(opts browser.WaitOptions) error
	IsChecked(selector string) (bool, error)
	EnterFrame(selector string) error
	LeaveFrame()
	Settle()
}

// Launcher starts and stops named browser pages.
type Launcher interface {
	Launch(name string) (Page, error)
	Close(name string)
}

// BrowserLauncher launches pages through a browser.SessionManager.
type BrowserLauncher struct {
	Manager *browser.SessionManager
	Options browser.SessionOptions
}

// NewBrowserLauncher derives the session options from the browser config.
func NewBrowserLauncher(manager *browser.SessionManager, cfg config.BrowserConfig) *BrowserLauncher {
	return &BrowserLauncher{
		Manager: manager,
		Options: browser.SessionOptions{
			Headless: cfg.Headless,
			Viewport: &browser.Viewport{
				Width:  cfg.ViewportWidth,
				Height: cfg.ViewportHeight,
			},
			Timeout:     float64(cfg.Timeout.Milliseconds()),
			SettleDelay: cfg.SettleDelay,
		},
	}
}

// Launch starts a browser session.
func (l *BrowserLauncher) Launch(name string) (Page, error) {
	session, err := l.Manager.StartSession(name, l.Options)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Close closes the named session.
func (l *BrowserLauncher) Close(name string) {
	l.Manager.CloseSession(name)
}

// Controller owns one browser session logged in as a temporary staff
// account.
type Controller struct {
	launcher Launcher
	identity *staff.Identity
	log      *logging.Logger

	name       string
	page       Page
	terminated bool
}

// NewController launches a browser session for the identity's zone.
func NewController(launcher Launcher, identity *staff.Identity, logger *logging.Logger) (*Controller, error) {
	if identity == nil || identity.Failed() {
		return nil, stageError(KindSession, "start session", errors.New("no usable staff identity"))
	}

	page, err := launcher.Launch(identity.Zone)
	if err != nil {
		return nil, stageError(KindSession, "start session", err)
	}

	return &Controller{
		launcher: launcher,
		identity: identity,
		log:      logger,
		name:     identity.Zone,
		page:     page,
	}, nil
}

// Page returns the controlled page.
func (c *Controller) Page() Page {
	return c.page
}

// Login signs in with the staff identity and dismisses the cookie consent
// overlay when it shows. It returns once the admin menu is visible.
func (c *Controller) Login() error {
	if c.terminated {
		return stageError(KindSession, "login", browser.ErrSessionClosed)
	}

	if err := c.page.Navigate(c.identity.AlmaURL, browser.NavigateOptions{WaitUntil: "load"}); err != nil {
		return stageError(KindSession, "login page", err)
	}
	if err := c.page.Fill(browser.FillOptions{Selector: selUsername, Value: c.identity.PrimaryID}); err != nil {
		return stageError(KindSession, "username field", err)
	}
	if err := c.page.Fill(browser.FillOptions{Selector: selPassword, Value: c.identity.Password}); err != nil {
		return stageError(KindSession, "password field", err)
	}
	if err := c.page.Click(browser.ClickOptions{Selector: selLoginSubmit}); err != nil {
		return stageError(KindSession, "login button", err)
	}

	if err := c.acceptCookies(); err != nil {
		return stageError(KindSession, "cookie banner", err)
	}

	if err := c.page.Wait(browser.WaitOptions{Selector: selAdminMenu, State: browser.StateVisible}); err != nil {
		return stageError(KindSession, "home page", err)
	}

	c.log.Infof("Logged in to %s as %s", c.identity.Zone, c.identity.PrimaryID)
	return nil
}

func (c *Controller) acceptCookies() error {
	err := c.page.Click(browser.ClickOptions{Selector: selCookieAccept, Timeout: cookieBannerTimeout})
	if err != nil && browser.IsTransient(err) {
		c.log.Debugf("No cookie banner shown")
		return nil
	}
	return err
}

// OpenMergeUsersPage navigates through the admin menu to the merge users
// job list.
func (c *Controller) OpenMergeUsersPage() error {
	if c.terminated {
		return stageError(KindSession, "admin menu", browser.ErrSessionClosed)
	}

	if err := c.page.Click(browser.ClickOptions{Selector: selAdminMenu}); err != nil {
		return stageError(KindSession, "admin menu", err)
	}
	if err := c.page.Click(browser.ClickOptions{Selector: selMergeUsersLink}); err != nil {
		return stageError(KindSession, "merge users link", err)
	}
	if err := c.page.Wait(browser.WaitOptions{Selector: selAddJob, State: browser.StateVisible}); err != nil {
		return stageError(KindSession, "merge users page", err)
	}
	return nil
}

// Terminate closes the browser session. Safe to call multiple times.
func (c *Controller) Terminate() {
	if c.terminated {
		return
	}
	c.terminated = true
	c.launcher.Close(c.name)
	c.log.Debugf("Closed browser session %s", c.name)
}

// Terminated reports whether Terminate was called.
func (c *Controller) Terminated() bool {
	return c.terminated
}

func (c *Controller) String() string {
	return fmt.Sprintf("session %s (%s)", c.name, c.identity.PrimaryID)
}
