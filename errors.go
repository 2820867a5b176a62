package guestpager

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleLoad is returned when a load completes for a pipeline that was
	// superseded by a newer query. Nothing is written to the store.
	ErrStaleLoad = errors.New("load superseded by a newer query")
	// ErrPipelineClosed is returned by loads issued on a superseded or closed pipeline.
	ErrPipelineClosed = errors.New("pipeline is closed")
	// ErrInvalidPage is returned for page numbers below 1.
	ErrInvalidPage = errors.New("page number must be >= 1")
	// ErrUnknownDriver is returned by OpenStore for unsupported drivers.
	ErrUnknownDriver = errors.New("unknown store driver")
)

// FetchError is the only recoverable failure of a load: the remote page could
// not be fetched or decoded. The store is never touched when it is returned.
type FetchError struct {
	Page int
	// StatusCode is the HTTP status, 0 when no response was received.
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch page %d: status %d: %v", e.Page, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("fetch page %d: %v", e.Page, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError reports whether err carries a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
