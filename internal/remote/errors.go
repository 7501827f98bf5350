package remote

import (
	"fmt"
	"net/http"

	platformerrors "github.com/jmgilman/go/errors"
)

// Sentinel errors for catalog requests. They can be checked with errors.Is.
var (
	// ErrInvalidURL indicates an unknown selector or an unusable endpoint URL.
	ErrInvalidURL = platformerrors.New(platformerrors.CodeInvalidInput, "invalid catalog URL")

	// ErrInvalidResponse indicates the request failed in transport or the
	// response broke the selector's validity rules.
	ErrInvalidResponse = platformerrors.New(platformerrors.CodeNetwork, "invalid catalog response")

	// ErrDecodeFailed indicates the response body was not a catalog document.
	ErrDecodeFailed = platformerrors.New(platformerrors.CodeSchemaFailed, "failed to decode catalog response")
)

// invalidItem reports an item rejected by a strict selector. The result
// matches ErrInvalidResponse and the item's *model.ValidationError and is
// classified as permanent.
func invalidItem(err error) error {
	wrapped := platformerrors.Wrap(
		fmt.Errorf("%w: %w", ErrInvalidResponse, err),
		platformerrors.CodeSchemaFailed,
		"catalog item failed validation",
	)
	return platformerrors.WithClassification(wrapped, platformerrors.ClassificationPermanent)
}

// StatusCodeError reports a response outside the 2xx range.
type StatusCodeError struct {
	Code int
	URL  string
}

func (e *StatusCodeError) Error() string {
	text := http.StatusText(e.Code)
	if text == "" {
		return fmt.Sprintf("unexpected status code %d from %s", e.Code, e.URL)
	}
	return fmt.Sprintf("unexpected status code %d (%s) from %s", e.Code, text, e.URL)
}

// Retryable reports whether the status is worth retrying later.
func (e *StatusCodeError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}
