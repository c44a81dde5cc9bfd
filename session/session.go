// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package session implements the per-connection STOMP state machine for both
// server and client endpoints on top of a frames.Codec.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mochi-mqtt/stomp/frames"
)

var (
	ErrUnknownCommand      = frames.NewError("No such command", "")                                  // the command is not in the active protocol table
	ErrNotConnected        = frames.NewError("You must first issue a CONNECT command", "")           // a command arrived before CONNECT
	ErrUnsupportedVersion  = frames.NewError("Supported protocol versions are 1.0, 1.1, 1.2", "")    // no common protocol version
	ErrAlreadyConnected    = frames.NewError("Already connected", "")                                // a second CONNECT was received
	ErrNoHeartbeat         = errors.New("heartbeat timeout")                                         // the peer was silent for twice the incoming period
	ErrTransactionExists   = errors.New("transaction already started")                               // BEGIN reused an open transaction id
	ErrTransactionNotFound = errors.New("transaction not found")                                     // COMMIT or ABORT named an unknown transaction
	ErrSubscriptionMissing = errors.New("subscription not found")                                    // UNSUBSCRIBE named an unknown subscription
)

// HeartbeatOptions are the locally configured heartbeat periods. Zero disables a direction.
type HeartbeatOptions struct {
	Outgoing time.Duration // how often this side promises to send
	Incoming time.Duration // how often this side wants to receive
}

// Header returns the heart-beat header value for the periods.
func (o HeartbeatOptions) Header() string {
	return fmt.Sprintf("%d,%d", o.Outgoing.Milliseconds(), o.Incoming.Milliseconds())
}

// Enabled returns true if either direction is configured.
func (o HeartbeatOptions) Enabled() bool {
	return o.Outgoing > 0 || o.Incoming > 0
}

// Options contains the configuration of a session.
type Options struct {
	Codec     frames.Options    // the codec security bounds
	Heartbeat HeartbeatOptions  // the local heartbeat periods
	Observers []frames.Observer // additional codec observers
	OnFault   func(err error)   // receives transport failures
	Logger    *slog.Logger      // a nil logger discards output
}

// Data is the per-connection record maintained by session dispatch.
type Data struct {
	ID            string
	authenticated atomic.Bool
	subscriptions map[string]string   // subscription key to destination
	transactions  map[string]struct{} // open transaction ids
}

// Authenticated returns true once CONNECTED has been sent.
func (d *Data) Authenticated() bool {
	return d.authenticated.Load()
}

// Subscriptions returns the number of subscriptions tracked by the session.
func (d *Data) Subscriptions() int {
	return len(d.subscriptions)
}

// Transactions returns the number of open transactions.
func (d *Data) Transactions() int {
	return len(d.transactions)
}

func (d *Data) subscribe(f *frames.Frame) {
	key, ok := f.Headers.Lookup(frames.HeaderID)
	if !ok {
		key = f.Headers.Get(frames.HeaderDestination)
	}
	d.subscriptions[key] = f.Headers.Get(frames.HeaderDestination)
}

// unsubscribeKey returns the key of the subscription an UNSUBSCRIBE frame removes.
// Without an id, the subscription keyed on the destination is used, or else the
// lowest subscription id on the destination.
func (d *Data) unsubscribeKey(f *frames.Frame) (string, error) {
	if id, ok := f.Headers.Lookup(frames.HeaderID); ok {
		if _, ok := d.subscriptions[id]; ok {
			return id, nil
		}
		return "", &frames.Error{
			Message: fmt.Sprintf("Subscription not found for id '%s'", id),
			Err:     ErrSubscriptionMissing,
		}
	}

	dest := f.Headers.Get(frames.HeaderDestination)
	if sd, ok := d.subscriptions[dest]; ok && sd == dest {
		return dest, nil
	}

	var found string
	var ok bool
	for key, sd := range d.subscriptions {
		if sd == dest && (!ok || key < found) {
			found, ok = key, true
		}
	}

	if ok {
		return found, nil
	}

	return "", &frames.Error{
		Message: fmt.Sprintf("Subscription not found for destination '%s'", dest),
		Err:     ErrSubscriptionMissing,
	}
}

func (d *Data) begin(tx string) error {
	if _, ok := d.transactions[tx]; ok {
		return &frames.Error{
			Message: fmt.Sprintf("Transaction with ID %s already started", tx),
			Err:     ErrTransactionExists,
		}
	}
	return nil
}

func (d *Data) open(tx string) error {
	if _, ok := d.transactions[tx]; !ok {
		return &frames.Error{
			Message: fmt.Sprintf("Transaction not found '%s'", tx),
			Err:     ErrTransactionNotFound,
		}
	}
	return nil
}

// core is the state shared by server and client sessions.
type core struct {
	sync.Mutex // serializes dispatch, codec errors and the end notification
	Data
	opts      Options
	log       *slog.Logger
	codec     *frames.Codec
	heartbeat *Heartbeat
	protocol  atomic.Pointer[Protocol]
}

// init prepares the session record and logger.
func (c *core) init(id string, opts *Options) {
	if opts == nil {
		opts = new(Options)
	}

	c.opts = *opts
	c.log = c.opts.Logger
	if c.log == nil {
		c.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c.log = c.log.With("session", id)

	if c.opts.Codec.Logger == nil {
		c.opts.Codec.Logger = c.log
	}

	c.ID = id
	c.subscriptions = map[string]string{}
	c.transactions = map[string]struct{}{}
	c.protocol.Store(v10)
}

// attach builds the codec and heartbeat monitor. Heartbeats are negotiated from the
// first frame carrying one of the trigger commands.
func (c *core) attach(t frames.Transport, l frames.Listener, triggers ...string) {
	c.codec = frames.NewCodec(t, l, &c.opts.Codec)
	c.heartbeat = NewHeartbeat(c.codec, c.opts.Heartbeat, c.log, triggers...)
	c.heartbeat.onFault = c.fault
	c.codec.Observe(c.heartbeat)
	for _, o := range c.opts.Observers {
		c.codec.Observe(o)
	}
}

// Protocol returns the active protocol table.
func (c *core) Protocol() *Protocol {
	return c.protocol.Load()
}

// Version returns the active protocol version.
func (c *core) Version() string {
	return c.protocol.Load().Version
}

// Codec returns the codec of the session.
func (c *core) Codec() *frames.Codec {
	return c.codec
}

// Heartbeat returns the heartbeat monitor of the session.
func (c *core) Heartbeat() *Heartbeat {
	return c.heartbeat
}

// Feed passes received bytes to the codec, in the order they were read.
func (c *core) Feed(b []byte) {
	c.codec.Feed(b)
}

// End indicates the transport has ended.
func (c *core) End(err error) {
	c.codec.End(err)
}

// Closed returns true if the session transport has been closed.
func (c *core) Closed() bool {
	return c.codec.Closed()
}

// Close releases the heartbeat timers and closes the transport.
func (c *core) Close() {
	c.heartbeat.Release()
	if err := c.codec.Close(); err != nil {
		c.fault(err)
	}
}

// send writes a frame, reporting transport failures to the fault sink.
func (c *core) send(f *frames.Frame) error {
	err := c.codec.Send(f)
	if err != nil && !errors.Is(err, frames.ErrClosed) && !errors.Is(err, frames.ErrInvalidHeaderValue) {
		c.fault(err)
	}
	return err
}

func (c *core) fault(err error) {
	c.log.Debug("transport fault", "error", err)
	if c.opts.OnFault != nil {
		c.opts.OnFault(err)
	}
}

// frame returns a new outbound frame holding a copy of headers.
func frame(command string, headers frames.Headers, body []byte) *frames.Frame {
	return &frames.Frame{
		Command: command,
		Headers: headers.Clone(),
		Body:    body,
	}
}
