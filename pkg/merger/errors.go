package merger

import (
	"errors"
	"fmt"
)

// Kind classifies a merge failure so the caller can pick a recovery path.
type Kind int

const (
	// KindUI is a failed step of the merge wizard. The browser session is
	// in an unknown state afterwards.
	KindUI Kind = iota

	// KindUserNotFound means one of the two users does not exist in the
	// directory. The session is unaffected.
	KindUserNotFound

	// KindDataUpdate is a failed fetch or update of a user record while
	// copying blocks.
	KindDataUpdate

	// KindSession is a failed login or navigation to the merge page.
	KindSession

	// KindInstruction is an instruction row that cannot be merged as
	// given, e.g. an empty user id.
	KindInstruction
)

func (k Kind) String() string {
	switch k {
	case KindUI:
		return "ui"
	case KindUserNotFound:
		return "user_not_found"
	case KindDataUpdate:
		return "data_update"
	case KindSession:
		return "session"
	case KindInstruction:
		return "instruction"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrNoUserFound is returned when the user search of the merge wizard
// shows no result.
var ErrNoUserFound = errors.New("no user found")

// Error is a merge failure tagged with its kind and the step it occurred in.
type Error struct {
	Kind Kind

	// Stage names the step that broke, e.g. "Add Job button"
	Stage string

	// Side is "from" or "to" when the failure concerns one of the users
	Side string

	Err error
}

func (e *Error) Error() string {
	if e.Side != "" {
		return fmt.Sprintf("%s (%s user): %v", e.Stage, e.Side, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KeepsSession reports whether the browser session can keep being used
// after the failure.
func (e *Error) KeepsSession() bool {
	return e.Kind == KindUserNotFound || e.Kind == KindInstruction
}

// KindOf returns the kind of a merge error. Errors that are not tagged are
// treated as UI failures.
func KindOf(err error) Kind {
	var merr *Error
	if errors.As(err, &merr) {
		return merr.Kind
	}
	return KindUI
}

// KeepsSession reports whether err leaves the browser session usable.
func KeepsSession(err error) bool {
	var merr *Error
	return errors.As(err, &merr) && merr.KeepsSession()
}

func stageError(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}
