package backport

import (
	"errors"
	"fmt"

	"github.com/dionisio-bot/dionisio/internal/cherrypick"
)

// Kind classifies why a backport failed.
type Kind int

const (
	// KindHostFailure is a failed operation of the repository host.
	KindHostFailure Kind = iota
	// KindConflict means the commit could not be cherry-picked without
	// conflicts, Error.Conflict is set.
	KindConflict
	// KindVersionInvalid means the release tag is not a semantic version.
	KindVersionInvalid
	// KindPreviousReleaseMissing means the release preceding the tag
	// does not exist.
	KindPreviousReleaseMissing
)

func (k Kind) String() string {
	switch k {
	case KindHostFailure:
		return "host_failure"
	case KindConflict:
		return "conflict"
	case KindVersionInvalid:
		return "version_invalid"
	case KindPreviousReleaseMissing:
		return "previous_release_missing"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is returned by all operations of the Coordinator.
type Error struct {
	Kind Kind
	Tag  string
	// Conflict is set when Kind is KindConflict.
	Conflict *cherrypick.ConflictError
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindConflict:
		return fmt.Sprintf("backport to %s: %s", e.Tag, e.Conflict)
	case KindVersionInvalid:
		return fmt.Sprintf("backport to %s: invalid release version: %s", e.Tag, e.Err)
	case KindPreviousReleaseMissing:
		return fmt.Sprintf("backport to %s: previous release is missing: %s", e.Tag, e.Err)
	default:
		return fmt.Sprintf("backport to %s: %s", e.Tag, e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e.Kind == KindConflict {
		return e.Conflict
	}

	return e.Err
}

func hostFailure(tag string, err error) *Error {
	return &Error{Kind: KindHostFailure, Tag: tag, Err: err}
}

// AsError returns the *Error that err wraps.
// If err does not wrap an *Error, it is classified as KindHostFailure.
func AsError(err error) *Error {
	var bErr *Error
	if errors.As(err, &bErr) {
		return bErr
	}

	return hostFailure("", err)
}
