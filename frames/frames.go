// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package frames encodes and decodes STOMP 1.0, 1.1 and 1.2 frames.
package frames

import (
	"fmt"
	"strconv"
	"strings"
)

// STOMP commands sent by clients.
const (
	Connect     = "CONNECT"
	Stomp       = "STOMP"
	Send        = "SEND"
	Subscribe   = "SUBSCRIBE"
	Unsubscribe = "UNSUBSCRIBE"
	Begin       = "BEGIN"
	Commit      = "COMMIT"
	Abort       = "ABORT"
	Ack         = "ACK"
	Nack        = "NACK"
	Disconnect  = "DISCONNECT"
)

// STOMP commands sent by servers.
const (
	Connected    = "CONNECTED"
	Message      = "MESSAGE"
	Receipt      = "RECEIPT"
	ErrorCommand = "ERROR"
)

// Standard header names.
const (
	HeaderAcceptVersion         = "accept-version"
	HeaderAck                   = "ack"
	HeaderContentLength         = "content-length"
	HeaderContentType           = "content-type"
	HeaderDestination           = "destination"
	HeaderDetails               = "details"
	HeaderHeartBeat             = "heart-beat"
	HeaderHost                  = "host"
	HeaderID                    = "id"
	HeaderLogin                 = "login"
	HeaderMessage               = "message"
	HeaderMessageID             = "message-id"
	HeaderPasscode              = "passcode"
	HeaderReceipt               = "receipt"
	HeaderReceiptID             = "receipt-id"
	HeaderServer                = "server"
	HeaderSession               = "session"
	HeaderSubscription          = "subscription"
	HeaderSuppressContentLength = "suppress-content-length"
	HeaderTransaction           = "transaction"
	HeaderVersion               = "version"
)

// Frame is a single STOMP frame. Frames delivered to a listener must not be modified.
type Frame struct {
	Command string  // the frame command, eg. SEND
	Headers Headers // the frame headers in received or assigned order
	Body    []byte  // the frame body, which may contain NUL bytes when content-length is set
}

// New returns a new frame with the given command and key-value header pairs.
func New(command string, kv ...string) *Frame {
	f := &Frame{Command: command}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers.Set(kv[i], kv[i+1])
	}
	return f
}

// Copy returns a deep copy of the frame.
func (f *Frame) Copy() *Frame {
	c := &Frame{
		Command: f.Command,
		Headers: f.Headers.Clone(),
	}

	if f.Body != nil {
		c.Body = append([]byte{}, f.Body...)
	}

	return c
}

// ContentLength returns the value of the content-length header, if it is present and valid.
func (f *Frame) ContentLength() (int, bool) {
	v, ok := f.Headers.Lookup(HeaderContentLength)
	if !ok {
		return 0, false
	}

	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 31)
	if err != nil {
		return 0, false
	}

	return int(n), true
}

// redacted replaces header values which must never be echoed back or logged.
const redacted = "********"

// String returns a short printable representation of the frame, used in error details.
// The passcode header value is redacted.
func (f *Frame) String() string {
	var b strings.Builder
	b.WriteString(f.Command)
	for _, k := range f.Headers.Keys() {
		v := f.Headers.Get(k)
		if k == HeaderPasscode {
			v = redacted
		}
		fmt.Fprintf(&b, " %s:%s", k, v)
	}
	if len(f.Body) > 0 {
		fmt.Fprintf(&b, " [%d bytes]", len(f.Body))
	}
	return b.String()
}
