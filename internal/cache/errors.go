package cache

import (
	"errors"
	"fmt"

	"github.com/storyline-app/storyline/internal/types"
)

// Sentinel errors for the synchronous rejection paths. These are returned
// before any optimistic state change, so no rollback is ever needed for
// them.
var (
	// ErrNotFound means the patch target is absent from the record store.
	ErrNotFound = errors.New("record not found")
	// ErrForbidden means the permission gate denied the operation for
	// the caller's role.
	ErrForbidden = errors.New("forbidden")
	// ErrStaleView means a load result arrived for a view that is no
	// longer subscribed (or was re-specced) and was discarded.
	ErrStaleView = errors.New("stale view")
	// ErrClosed means the session has been torn down.
	ErrClosed = errors.New("session closed")
)

// LoadError wraps a failed page fetch. The group's pagination state is
// untouched when this is returned, so the caller may simply retry.
type LoadError struct {
	Spec     types.ViewSpec
	GroupKey string
	Err      error
}

func (e *LoadError) Error() string {
	if e.GroupKey != "" {
		return fmt.Sprintf("loading group %q: %v", e.GroupKey, e.Err)
	}
	return fmt.Sprintf("loading view: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsLoadError reports whether err is a retryable page-load failure.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}
