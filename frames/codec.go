// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package frames

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mochi-mqtt/stomp/mempool"
)

const (
	DefaultMaximumBufferSize  = 10 * 1024   // the default cap on unconsumed bytes
	DefaultNewlineFloodWindow = time.Second // the default line break counting window
	DefaultNewlineFloodLimit  = 100         // the default number of line breaks allowed per window

	maxCommandLength = 30 // command lines of this length or longer are skipped
)

type state byte

const (
	stateCommand state = iota
	stateHeaders
	stateBody
	stateError
)

// Transport is a reliable ordered byte stream which frames are written to.
// Send must not retain b after it returns.
type Transport interface {
	Send(b []byte) error
	Close() error
}

// Listener receives the notifications of a codec, strictly in order.
type Listener interface {
	OnFrame(f *Frame)  // a complete frame was parsed
	OnError(err error) // a parse error, security violation or observer fault
	OnEnd(err error)   // the stream ended
}

// Observer watches the byte stream of a codec without taking part in dispatch.
type Observer interface {
	OnData(b []byte)           // raw bytes were received
	OnFrame(f *Frame)          // a complete frame was parsed, before the listener sees it
	OnSent(f *Frame, b []byte) // a frame was written to the transport
	OnEnd()                    // the stream ended
}

// ObserverBase provides no-op Observer methods for embedding.
type ObserverBase struct{}

func (ObserverBase) OnData(b []byte)           {}
func (ObserverBase) OnFrame(f *Frame)          {}
func (ObserverBase) OnSent(f *Frame, b []byte) {}
func (ObserverBase) OnEnd()                    {}

// Options contains the security bounds and output settings of a codec.
type Options struct {
	// MaximumBufferSize is the most unconsumed bytes, including a partially parsed frame,
	// which may be held before the connection is aborted. Negative disables the cap.
	MaximumBufferSize int

	// ConnectTimeout closes the transport if no complete frame arrives in time. Zero disables it.
	ConnectTimeout time.Duration

	// NewlineFloodWindow is the period after which the line break counter resets.
	NewlineFloodWindow time.Duration

	// NewlineFloodLimit is the number of line breaks allowed inside one window. Negative disables it.
	NewlineFloodLimit int

	// HeaderFilter, if set, returns false for header keys which must not be sent.
	HeaderFilter func(key string) bool

	// Logger receives codec diagnostics. A nil logger discards them.
	Logger *slog.Logger
}

// ensureDefaults fills any unset options with the default bounds.
func (o *Options) ensureDefaults() {
	if o.MaximumBufferSize == 0 {
		o.MaximumBufferSize = DefaultMaximumBufferSize
	}

	if o.NewlineFloodWindow <= 0 {
		o.NewlineFloodWindow = DefaultNewlineFloodWindow
	}

	if o.NewlineFloodLimit == 0 {
		o.NewlineFloodLimit = DefaultNewlineFloodLimit
	}

	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Codec converts a stream of received bytes into frames, and frames into bytes
// written to a transport. Feed and End must be called from a single goroutine.
type Codec struct {
	transport Transport
	listener  Listener
	observers []Observer
	opts      Options
	log       *slog.Logger
	now       func() time.Time

	buf     []byte // received bytes not yet consumed
	state   state  // the current parse state
	frame   *Frame // the frame being assembled
	length  int    // the content-length of the frame being assembled, or -1
	pending int    // bytes consumed into the frame being assembled
	lines   int    // line breaks consumed in the current window
	window  time.Time

	sendMu    sync.Mutex
	timer     *time.Timer
	framed    atomic.Bool // a frame has been parsed
	closed    atomic.Bool
	closeOnce sync.Once
	endOnce   sync.Once
}

// NewCodec returns a codec bound to a transport and listener. If a connect timeout is
// configured, the timer starts immediately.
func NewCodec(t Transport, l Listener, opts *Options) *Codec {
	if opts == nil {
		opts = new(Options)
	}

	o := *opts
	o.ensureDefaults()

	c := &Codec{
		transport: t,
		listener:  l,
		opts:      o,
		log:       o.Logger,
		now:       time.Now,
		length:    -1,
	}

	if o.ConnectTimeout > 0 {
		c.timer = time.AfterFunc(o.ConnectTimeout, func() {
			if !c.framed.Load() {
				c.Fail(ErrConnectTimeout)
			}
		})
	}

	return c
}

// Observe attaches an observer. Observers must be attached before any bytes are fed.
func (c *Codec) Observe(o Observer) {
	c.observers = append(c.observers, o)
}

// Closed returns true if the codec has been closed.
func (c *Codec) Closed() bool {
	return c.closed.Load()
}

// Feed parses received bytes, notifying the listener of any complete frames.
func (c *Codec) Feed(b []byte) {
	if len(b) == 0 || c.closed.Load() {
		return
	}

	for _, o := range c.observers {
		o.OnData(b)
	}

	c.buf = append(c.buf, b...)
	c.parse()

	if c.closed.Load() {
		c.buf = nil
		return
	}

	if c.opts.MaximumBufferSize > 0 && len(c.buf)+c.pending > c.opts.MaximumBufferSize {
		c.Fail(ErrBufferOverflow)
	}
}

// End indicates the stream has ended. It is safe to call more than once.
func (c *Codec) End(err error) {
	c.endOnce.Do(func() {
		_ = c.Close()
		for _, o := range c.observers {
			o.OnEnd()
		}
		c.listener.OnEnd(err)
	})
}

// Fail closes the transport and reports a fatal error to the listener. Nothing is
// reported if the codec is already closed.
func (c *Codec) Fail(err error) {
	if c.closed.Load() {
		return
	}

	c.log.Warn("closing stream", "error", err)
	if cerr := c.Close(); cerr != nil {
		c.log.Debug("failed to close transport", "error", cerr)
	}

	c.listener.OnError(err)
}

// Close closes the transport. It is safe to call more than once.
func (c *Codec) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.timer != nil {
			c.timer.Stop()
		}
		err = c.transport.Close()
	})
	return err
}

// Send encodes a frame and writes it to the transport.
func (c *Codec) Send(f *Frame) error {
	if c.closed.Load() {
		return ErrClosed
	}

	buf := mempool.GetBuffer()
	defer mempool.PutBuffer(buf)

	if err := encode(buf, f, c.opts.HeaderFilter); err != nil {
		return err
	}

	c.sendMu.Lock()
	err := c.transport.Send(buf.Bytes())
	c.sendMu.Unlock()
	if err != nil {
		return err
	}

	for _, o := range c.observers {
		o.OnSent(f, buf.Bytes())
	}

	return nil
}

// SendRaw writes bytes to the transport without framing, such as heartbeats.
func (c *Codec) SendRaw(b []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.transport.Send(b)
}

// parse advances the state machine until more bytes are needed.
func (c *Codec) parse() {
	for !c.closed.Load() {
		var ok bool
		switch c.state {
		case stateCommand:
			ok = c.parseCommand()
		case stateHeaders:
			ok = c.parseHeaders()
		case stateBody:
			ok = c.parseBody()
		case stateError:
			ok = c.skipFrame()
		}

		if !ok {
			return
		}
	}
}

// parseCommand consumes lines until a command is found. NUL bytes and empty lines
// between frames are heartbeats.
func (c *Codec) parseCommand() bool {
	for {
		i := 0
		for i < len(c.buf) && c.buf[i] == 0 {
			i++
		}
		c.buf = c.buf[i:]

		line, ok := c.popLine()
		if !ok {
			return false
		}

		if line == "" || len(line) >= maxCommandLength {
			continue
		}

		c.frame = &Frame{Command: line}
		c.length = -1
		c.pending = len(line) + 1
		c.state = stateHeaders
		return true
	}
}

// parseHeaders consumes header lines until the blank line before the body.
func (c *Codec) parseHeaders() bool {
	for {
		line, ok := c.popLine()
		if !ok {
			return false
		}

		if line == "" {
			c.pending++
			c.state = stateBody
			return true
		}

		c.pending += len(line) + 1
		k, v, found := strings.Cut(line, ":")
		if !found {
			c.parseError(NewError("Error parsing header", fmt.Sprintf("No ':' in line '%s'", line)))
			return true
		}

		key, err := Unescape(k)
		if err == nil {
			v, err = Unescape(v)
		}
		if err != nil {
			c.parseError(&Error{
				Message: "Error parsing header",
				Details: fmt.Sprintf("Invalid escape sequence in line '%s'", line),
				Err:     err,
			})
			return true
		}

		if key == HeaderContentLength && !c.frame.Headers.Has(key) {
			n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 31)
			if err != nil {
				c.parseError(&Error{
					Message: "Error parsing header",
					Details: fmt.Sprintf("Invalid content-length '%s'", v),
					Err:     err,
				})
				return true
			}
			c.length = int(n)
		}

		c.frame.Headers.add(key, v)
	}
}

// parseBody consumes the body, either by content-length or up to the first NUL.
func (c *Codec) parseBody() bool {
	if c.length >= 0 {
		take := min(c.length-len(c.frame.Body), len(c.buf))
		c.frame.Body = append(c.frame.Body, c.buf[:take]...)
		c.buf = c.buf[take:]
		c.pending += take

		if len(c.frame.Body) < c.length || len(c.buf) == 0 {
			return false
		}

		if c.buf[0] != 0 {
			c.parseError(NewError("Error parsing body", fmt.Sprintf("Expected NUL after %d bytes of content", c.length)))
			return true
		}

		c.buf = c.buf[1:]
		c.emit()
		return true
	}

	i := bytes.IndexByte(c.buf, 0)
	if i < 0 {
		c.frame.Body = append(c.frame.Body, c.buf...)
		c.pending += len(c.buf)
		c.buf = c.buf[:0]
		return false
	}

	c.frame.Body = append(c.frame.Body, c.buf[:i]...)
	c.buf = c.buf[i+1:]
	c.emit()
	return true
}

// skipFrame discards bytes up to and including the next NUL after a parse error.
func (c *Codec) skipFrame() bool {
	i := bytes.IndexByte(c.buf, 0)
	if i < 0 {
		c.buf = c.buf[:0]
		return false
	}

	c.buf = c.buf[i+1:]
	c.state = stateCommand
	return true
}

// emit hands a completed frame to the observers and listener.
func (c *Codec) emit() {
	f := c.frame
	c.frame = nil
	c.length = -1
	c.pending = 0
	c.state = stateCommand

	if c.framed.CompareAndSwap(false, true) && c.timer != nil {
		c.timer.Stop()
	}

	for _, o := range c.observers {
		o.OnFrame(f)
	}

	c.listener.OnFrame(f)
}

// parseError reports a recoverable parse error and resynchronizes on the next NUL.
func (c *Codec) parseError(err *Error) {
	c.frame = nil
	c.length = -1
	c.pending = 0
	c.state = stateError
	c.listener.OnError(err)
}

// popLine returns the next line without its line ending, counting line breaks
// against the flood limit.
func (c *Codec) popLine() (string, bool) {
	i := bytes.IndexByte(c.buf, '\n')
	if i < 0 {
		return "", false
	}

	line := c.buf[:i]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	s := string(line)
	c.buf = c.buf[i+1:]

	if !c.countLine() {
		c.Fail(ErrNewlineFlood)
		return "", false
	}

	return s, true
}

// countLine records a consumed line break, returning false if the flood limit was exceeded.
func (c *Codec) countLine() bool {
	if c.opts.NewlineFloodLimit < 0 {
		return true
	}

	now := c.now()
	if c.window.IsZero() || now.Sub(c.window) >= c.opts.NewlineFloodWindow {
		c.window = now
		c.lines = 0
	}

	c.lines++
	return c.lines <= c.opts.NewlineFloodLimit
}
