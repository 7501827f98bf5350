package catalog

import (
	"fmt"

	"github.com/jmgilman/go/catalog/internal/model"
	"github.com/jmgilman/go/catalog/internal/remote"
)

// Errors returned by the default Source. They can be checked with errors.Is.
var (
	// ErrInvalidURL indicates an unknown selector or an unusable endpoint URL.
	ErrInvalidURL = remote.ErrInvalidURL

	// ErrInvalidResponse indicates a transport failure, or a strict selector
	// receiving an invalid item.
	ErrInvalidResponse = remote.ErrInvalidResponse

	// ErrDecodeFailed indicates the response was not a catalog document.
	ErrDecodeFailed = remote.ErrDecodeFailed
)

// StatusCodeError reports a catalog response outside the 2xx range.
type StatusCodeError = remote.StatusCodeError

// ValidationError reports an item missing a required field.
type ValidationError = model.ValidationError

// RefreshError is returned by Refresh when the remote list could not be
// fetched. The cached collection is still returned alongside it.
type RefreshError struct {
	Selector Selector
	Err      error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh %s: %v", e.Selector, e.Err)
}

// Unwrap returns the underlying source error.
func (e *RefreshError) Unwrap() error {
	return e.Err
}
