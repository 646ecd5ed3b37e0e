package tracker

import (
	"errors"
	"fmt"
)

// ErrMissingTarget is returned by Run when the resource to diagnose is not named.
var ErrMissingTarget = errors.New("resource type and name are required")

// UserFacingError is a failure of an explicit action. It carries the action
// name so the view can say what went wrong.
type UserFacingError struct {
	Action string
	Err    error
}

func (e *UserFacingError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
}

func (e *UserFacingError) Unwrap() error { return e.Err }

// IsUserFacing reports whether err is a *UserFacingError.
func IsUserFacing(err error) bool {
	var u *UserFacingError
	return errors.As(err, &u)
}
