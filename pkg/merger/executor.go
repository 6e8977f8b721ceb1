package merger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slsp/almamerge/pkg/alma"
	"github.com/slsp/almamerge/pkg/browser"
	"github.com/slsp/almamerge/pkg/config"
	"github.com/slsp/almamerge/pkg/logging"
)

// Executor runs the merge of two users of one zone: it copies the internal
// blocks through the API, then drives the merge wizard.
type Executor struct {
	page   Page
	client alma.Client
	zone   string
	env    string
	retry  config.RetryConfig
	log    *logging.Logger

	// sleep waits between checkbox attempts
	sleep func(time.Duration)
}

// NewExecutor creates an executor acting on page for users of zone in env.
func NewExecutor(page Page, client alma.Client, zone, env string, retry config.RetryConfig, logger *logging.Logger) *Executor {
	return &Executor{
		page:   page,
		client: client,
		zone:   zone,
		env:    env,
		retry:  retry,
		log:    logger,
		sleep:  time.Sleep,
	}
}

// MergeUsers merges fromID into toID. The returned error is an *Error
// naming the step that failed.
func (e *Executor) MergeUsers(ctx context.Context, fromID, toID string) error {
	if err := e.CopyInternalBlocks(ctx, fromID, toID); err != nil {
		return err
	}

	if err := e.page.Click(browser.ClickOptions{Selector: selAddJob}); err != nil {
		return stageError(KindUI, "Add Job button", err)
	}

	if err := e.pickUser(selPickupFrom, "from", fromID); err != nil {
		return err
	}
	if err := e.pickUser(selPickupTo, "to", toID); err != nil {
		return err
	}

	e.page.Settle()
	for _, param := range CopyOptions {
		if err := e.ensureChecked(param); err != nil {
			return err
		}
	}

	if err := e.page.Click(browser.ClickOptions{Selector: selMergeButton}); err != nil {
		return stageError(KindUI, "merge button", err)
	}
	if err := e.page.Click(browser.ClickOptions{Selector: selConfirmMerge}); err != nil {
		return stageError(KindUI, "confirm button", err)
	}

	return nil
}

// CopyInternalBlocks appends the Internal segment blocks of fromID to the
// block list of toID and saves toID. Blocks toID already holds are not
// appended again.
func (e *Executor) CopyInternalBlocks(ctx context.Context, fromID, toID string) error {
	from, err := e.fetch(ctx, fromID, "from")
	if err != nil {
		return err
	}
	to, err := e.fetch(ctx, toID, "to")
	if err != nil {
		return err
	}

	internal := alma.InternalBlocks(from.Blocks())
	if len(internal) == 0 {
		e.log.Debugf("No internal blocks to copy from %s", fromID)
		return nil
	}

	// A resumed row may already have copied some of them
	blocks := alma.MissingBlocks(to.Blocks(), internal)
	if len(blocks) == 0 {
		e.log.Infof("Internal blocks of %s already present on %s", fromID, toID)
		return nil
	}

	if err := to.AppendBlocks(blocks...); err != nil {
		return &Error{Kind: KindDataUpdate, Stage: "copy internal blocks", Side: "to", Err: err}
	}
	if err := e.client.Update(ctx, to); err != nil {
		return &Error{
			Kind:  KindDataUpdate,
			Stage: "copy internal blocks",
			Side:  "to",
			Err:   fmt.Errorf("failed to update user %s: %w", toID, err),
		}
	}

	e.log.Infof("Copied %d internal block(s) from %s to %s", len(blocks), fromID, toID)
	return nil
}

func (e *Executor) fetch(ctx context.Context, primaryID, side string) (*alma.User, error) {
	u, err := e.client.Get(ctx, primaryID, e.zone, e.env)
	if err == nil {
		return u, nil
	}

	kind := KindDataUpdate
	if errors.Is(err, alma.ErrUserNotFound) {
		kind = KindUserNotFound
		err = fmt.Errorf("user %s does not exist: %w", primaryID, err)
	}
	return nil, &Error{Kind: kind, Stage: "copy internal blocks", Side: side, Err: err}
}

// pickUser opens a user picker and selects primaryID in the search popup.
func (e *Executor) pickUser(pickup, side, primaryID string) error {
	if err := e.page.Click(browser.ClickOptions{Selector: pickup}); err != nil {
		return &Error{Kind: KindUI, Stage: "pickup button", Side: side, Err: err}
	}
	if err := e.searchUser(primaryID); err != nil {
		err.Side = side
		return err
	}
	return nil
}

// searchUser searches the popup by primary ID and clicks the first result.
func (e *Executor) searchUser(primaryID string) *Error {
	if err := e.page.EnterFrame(selSearchFrame); err != nil {
		return stageError(KindUI, "switching to iframe", err)
	}
	defer e.page.LeaveFrame()

	if err := e.page.Click(browser.ClickOptions{Selector: selSearchIndex}); err != nil {
		return stageError(KindUI, "search type button", err)
	}
	e.page.Settle()
	if err := e.page.Click(browser.ClickOptions{Selector: selSearchPrimaryID}); err != nil {
		return stageError(KindUI, "primary id option", err)
	}
	if err := e.page.Fill(browser.FillOptions{Selector: selSearchText, Value: primaryID}); err != nil {
		return stageError(KindUI, "search field", err)
	}
	if err := e.page.Click(browser.ClickOptions{Selector: selSearchButton}); err != nil {
		return stageError(KindUI, "search button", err)
	}
	if err := e.page.Wait(browser.WaitOptions{Selector: selUserTable, State: browser.StateAttached}); err != nil {
		return stageError(KindUI, "user table", err)
	}
	if err := e.page.Click(browser.ClickOptions{Selector: selUserRows, First: true}); err != nil {
		return stageError(KindUI, "search result", fmt.Errorf("%w for %s: %w", ErrNoUserFound, primaryID, err))
	}
	return nil
}

// ensureChecked selects a copy option checkbox. Transient failures are
// retried up to the configured number of attempts.
func (e *Executor) ensureChecked(param string) error {
	attempts := e.retry.CheckboxAttempts
	if attempts < 1 {
		attempts = 1
	}
	stage := "checkbox " + param

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = e.toggleOn(param); err == nil {
			return nil
		}
		if !browser.IsTransient(err) {
			return stageError(KindUI, stage, err)
		}
		if attempt < attempts {
			e.log.Warnf("Attempt %d/%d at %s failed: %v", attempt, attempts, stage, err)
			e.sleep(e.retry.CheckboxBackoff)
		}
	}
	return stageError(KindUI, stage, fmt.Errorf("giving up after %d attempts: %w", attempts, err))
}

func (e *Executor) toggleOn(param string) error {
	checked, err := e.page.IsChecked(checkboxSelector(param))
	if err != nil || checked {
		return err
	}
	return e.page.Click(browser.ClickOptions{Selector: checkboxLabelSelector(param)})
}
