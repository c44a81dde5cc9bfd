// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package session

import (
	"maps"
	"strings"

	"github.com/mochi-mqtt/stomp/frames"
)

const (
	Version10 = "1.0"
	Version11 = "1.1"
	Version12 = "1.2"

	maxCommandName = 20 // command names of this length or longer are never dispatched
)

// Command is an entry in a protocol table: the header validators which run in order
// before the handler, and the handler itself.
type Command[S any] struct {
	Validators []Validator
	Handle     func(s S, f *frames.Frame) error
}

// validate runs each validator in order and returns the first failure.
func (c Command[S]) validate(f *frames.Frame) error {
	for _, v := range c.Validators {
		if err := v(f); err != nil {
			return err
		}
	}
	return nil
}

// Protocol is the command table of a single protocol version. The server table holds
// the commands a server session accepts from a client, and the client table holds the
// commands a client session accepts from a server.
type Protocol struct {
	Version string
	server  map[string]Command[*ServerSession]
	client  map[string]Command[*ClientSession]
}

// ServerCommand returns the entry for a command received by a server session.
func (p *Protocol) ServerCommand(name string) (Command[*ServerSession], bool) {
	if len(name) >= maxCommandName {
		return Command[*ServerSession]{}, false
	}
	c, ok := p.server[name]
	return c, ok
}

// ClientCommand returns the entry for a command received by a client session.
func (p *Protocol) ClientCommand(name string) (Command[*ClientSession], bool) {
	if len(name) >= maxCommandName {
		return Command[*ClientSession]{}, false
	}
	c, ok := p.client[name]
	return c, ok
}

// the tables are built in init as their handlers refer back to Lookup.
var v10, v11, v12 *Protocol

func init() {
	v10 = newV10()
	v11 = newV11(v10)
	v12 = newV12(v11)
}

// Versions returns the supported protocol versions, lowest first.
func Versions() []string {
	return []string{Version10, Version11, Version12}
}

// Lookup returns the protocol table for a version.
func Lookup(version string) (*Protocol, bool) {
	switch version {
	case Version10:
		return v10, true
	case Version11:
		return v11, true
	case Version12:
		return v12, true
	}
	return nil, false
}

// Negotiate selects the highest supported version from a comma separated
// accept-version list. An empty list selects 1.0.
func Negotiate(acceptVersion string) (*Protocol, error) {
	if strings.TrimSpace(acceptVersion) == "" {
		return v10, nil
	}

	var accepts = map[string]bool{}
	for _, v := range strings.Split(acceptVersion, ",") {
		accepts[strings.TrimSpace(v)] = true
	}

	for _, p := range []*Protocol{v12, v11, v10} {
		if accepts[p.Version] {
			return p, nil
		}
	}

	return nil, ErrUnsupportedVersion
}

func newV10() *Protocol {
	return &Protocol{
		Version: Version10,
		server: map[string]Command[*ServerSession]{
			frames.Connect: {Handle: handleConnect},
			frames.Stomp:   {Handle: handleConnect},
			frames.Send: {
				Validators: []Validator{requireHeader(frames.HeaderDestination)},
				Handle:     handleSend,
			},
			frames.Subscribe: {
				Validators: []Validator{requireHeader(frames.HeaderDestination)},
				Handle:     handleSubscribe,
			},
			frames.Unsubscribe: {
				Validators: []Validator{requireOneHeader(frames.HeaderDestination, frames.HeaderID)},
				Handle:     handleUnsubscribe,
			},
			frames.Begin: {
				Validators: []Validator{requireHeader(frames.HeaderTransaction)},
				Handle:     handleBegin,
			},
			frames.Commit: {
				Validators: []Validator{requireHeader(frames.HeaderTransaction)},
				Handle:     handleCommit,
			},
			frames.Abort: {
				Validators: []Validator{requireHeader(frames.HeaderTransaction)},
				Handle:     handleAbort,
			},
			frames.Ack: {
				Validators: []Validator{requireHeader(frames.HeaderMessageID)},
				Handle:     handleAck,
			},
			frames.Disconnect: {Handle: handleDisconnect},
		},
		client: map[string]Command[*ClientSession]{
			frames.Connected: {Handle: handleConnected},
			frames.Message: {
				Validators: []Validator{requireAllHeaders(frames.HeaderDestination, frames.HeaderMessageID)},
				Handle:     handleMessage,
			},
			frames.Receipt: {
				Validators: []Validator{requireHeader(frames.HeaderReceiptID)},
				Handle:     handleReceipt,
			},
			frames.ErrorCommand: {Handle: handleError},
		},
	}
}

func newV11(base *Protocol) *Protocol {
	p := &Protocol{
		Version: Version11,
		server:  maps.Clone(base.server),
		client:  maps.Clone(base.client),
	}

	connect := []Validator{requireAllHeaders(frames.HeaderAcceptVersion, frames.HeaderHost)}
	p.server[frames.Connect] = Command[*ServerSession]{Validators: connect, Handle: handleConnect}
	p.server[frames.Stomp] = Command[*ServerSession]{Validators: connect, Handle: handleConnect}
	p.server[frames.Subscribe] = Command[*ServerSession]{
		Validators: []Validator{requireAllHeaders(frames.HeaderDestination, frames.HeaderID)},
		Handle:     handleSubscribe,
	}
	p.server[frames.Unsubscribe] = Command[*ServerSession]{
		Validators: []Validator{requireHeader(frames.HeaderID)},
		Handle:     handleUnsubscribe,
	}

	ack := []Validator{requireAllHeaders(frames.HeaderMessageID, frames.HeaderSubscription)}
	p.server[frames.Ack] = Command[*ServerSession]{Validators: ack, Handle: handleAck}
	p.server[frames.Nack] = Command[*ServerSession]{Validators: ack, Handle: handleNack}

	p.client[frames.Connected] = Command[*ClientSession]{
		Validators: []Validator{requireHeader(frames.HeaderVersion)},
		Handle:     handleConnected,
	}
	p.client[frames.Message] = Command[*ClientSession]{
		Validators: []Validator{requireAllHeaders(frames.HeaderDestination, frames.HeaderMessageID, frames.HeaderSubscription)},
		Handle:     handleMessage,
	}

	return p
}

func newV12(base *Protocol) *Protocol {
	p := &Protocol{
		Version: Version12,
		server:  maps.Clone(base.server),
		client:  maps.Clone(base.client),
	}

	ack := []Validator{requireHeader(frames.HeaderID)}
	p.server[frames.Ack] = Command[*ServerSession]{Validators: ack, Handle: handleAck}
	p.server[frames.Nack] = Command[*ServerSession]{Validators: ack, Handle: handleNack}

	return p
}
