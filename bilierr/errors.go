// Package bilierr defines the closed error taxonomy shared by every
// layer of the bililive stream: parse failures, WebSocket transport
// failures, local I/O failures, and builder/configuration failures.
package bilierr

import (
	"fmt"

	multierror "github.com/hashicorp/go-multierror"
)

// ParseError reports a malformed or unrecognized packet. It never
// indicates a disconnect — the underlying transport is still usable.
type ParseError struct {
	Context string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "parse: " + e.Context
	}
	return fmt.Sprintf("parse: %s: %v", e.Context, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError wraps err as a ParseError with context.
func NewParseError(context string, err error) *ParseError {
	return &ParseError{Context: context, Err: err}
}

// WebSocketError reports a failure at the WebSocket transport layer.
// Always treated as a disconnect by stream.ReconnectStream.
type WebSocketError struct {
	Context string
	Err     error
}

func (e *WebSocketError) Error() string {
	if e.Err == nil {
		return "websocket: " + e.Context
	}
	return fmt.Sprintf("websocket: %s: %v", e.Context, e.Err)
}

func (e *WebSocketError) Unwrap() error { return e.Err }

// NewWebSocketError wraps err as a WebSocketError with context.
func NewWebSocketError(context string, err error) *WebSocketError {
	return &WebSocketError{Context: context, Err: err}
}

// IOError reports a local I/O failure, including the synthetic error
// raised when a retrying stream exhausts its reconnect attempts.
// Always treated as a disconnect by stream.ReconnectStream.
type IOError struct {
	Context string
	Err     error
}

func (e *IOError) Error() string {
	if e.Err == nil {
		return "io: " + e.Context
	}
	return fmt.Sprintf("io: %s: %v", e.Context, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// NewIOError wraps err as an IOError with context.
func NewIOError(context string, err error) *IOError {
	return &IOError{Context: context, Err: err}
}

// ErrExhausted is the IOError raised when a ReconnectStream's retry
// policy reports no attempts remaining.
var ErrExhausted = &IOError{Context: "Disconnected. Connection attempts have been exhausted."}

// BuildError aggregates every problem found while constructing a
// StreamConfig: missing required fields, and any failure encountered
// while resolving optional fields through a Requester.
type BuildError struct {
	merr *multierror.Error
}

func (e *BuildError) Error() string {
	if e.merr == nil {
		return "build: no errors"
	}
	return "build: " + e.merr.Error()
}

func (e *BuildError) Unwrap() error {
	if e.merr == nil {
		return nil
	}
	return e.merr.ErrorOrNil()
}

// Add appends a problem to the BuildError, returning the receiver so
// calls can be chained. A nil receiver allocates a fresh BuildError.
func (e *BuildError) Add(format string, args ...any) *BuildError {
	if e == nil {
		e = &BuildError{}
	}
	e.merr = multierror.Append(e.merr, fmt.Errorf(format, args...))
	return e
}

// HasErrors reports whether any problem has been recorded.
func (e *BuildError) HasErrors() bool {
	return e != nil && e.merr != nil && len(e.merr.Errors) > 0
}

// OrNil returns nil if no problems were recorded, so callers can
// return buildErr.OrNil() directly as the function's error result.
func (e *BuildError) OrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// Aggregate combines independent close-path failures into a single
// error, or nil if every argument was nil.
func Aggregate(errs ...error) error {
	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}
