// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package frames

import "errors"

var (
	ErrBufferOverflow     = errors.New("frame buffer exceeded maximum size")            // unconsumed input grew past the configured cap
	ErrNewlineFlood       = errors.New("too many line breaks received")                 // more line breaks than allowed inside one window
	ErrConnectTimeout     = errors.New("no frame received before connect timeout")      // the connect timer fired before a frame arrived
	ErrInvalidHeaderValue = errors.New("header value contains an unescapable character") // a tab was found while escaping
	ErrInvalidEscape      = errors.New("unsupported escape sequence in header value")   // an unknown or tab escape was found while unescaping
	ErrClosed             = errors.New("codec closed")                                  // the codec no longer accepts input or output
)

// Error is a protocol level failure carrying the message and details which are
// reported to a peer in an ERROR frame.
type Error struct {
	Message string // short description sent as the message header
	Details string // optional longer description sent as the details header
	Err     error  // an optional underlying error
}

// NewError returns a new protocol error.
func NewError(message, details string) *Error {
	return &Error{Message: message, Details: details}
}

// Error returns the message of the error.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsSecurityViolation returns true if the error is one of the fatal codec bounds
// which close the transport without an ERROR frame.
func IsSecurityViolation(err error) bool {
	return errors.Is(err, ErrBufferOverflow) ||
		errors.Is(err, ErrNewlineFlood) ||
		errors.Is(err, ErrConnectTimeout)
}

// AsError converts any error into a protocol error, keeping the original as the cause.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Message: err.Error(), Err: err}
}
