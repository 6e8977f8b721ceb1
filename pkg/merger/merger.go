// Package merger drives the Alma merge users wizard for one zone.
//
// An AlmaMerger combines a Controller, which owns the logged in browser
// session, and an Executor, which performs merges on it. Every failure is
// returned as an *Error whose Kind tells the caller whether the session
// is still usable.
package merger

import (
	"context"

	"github.com/slsp/almamerge/pkg/alma"
	"github.com/slsp/almamerge/pkg/config"
	"github.com/slsp/almamerge/pkg/logging"
	"github.com/slsp/almamerge/pkg/staff"
)

// AlmaMerger is a logged in session on the merge users page.
type AlmaMerger struct {
	*Controller
	executor *Executor
}

// Open launches a session for the identity, logs in and opens the merge
// users page. The session is closed again when any step fails.
func Open(cfg *config.Config, launcher Launcher, client alma.Client, identity *staff.Identity, logger *logging.Logger) (*AlmaMerger, error) {
	ctrl, err := NewController(launcher, identity, logger)
	if err != nil {
		return nil, err
	}

	if err := ctrl.Login(); err != nil {
		ctrl.Terminate()
		return nil, err
	}
	if err := ctrl.OpenMergeUsersPage(); err != nil {
		ctrl.Terminate()
		return nil, err
	}

	return &AlmaMerger{
		Controller: ctrl,
		executor:   NewExecutor(ctrl.Page(), client, identity.Zone, identity.Env, cfg.Retry, logger),
	}, nil
}

// MergeUsers merges fromID into toID.
func (m *AlmaMerger) MergeUsers(ctx context.Context, fromID, toID string) error {
	return m.executor.MergeUsers(ctx, fromID, toID)
}
