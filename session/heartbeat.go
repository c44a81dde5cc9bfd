// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mochi-mqtt/stomp/frames"
)

var heartbeatPing = []byte{0}

// Heartbeat negotiates and enforces the keep-alive periods of a session. It observes
// the codec so that every received byte counts as activity.
type Heartbeat struct {
	frames.ObserverBase
	codec    *frames.Codec
	local    HeartbeatOptions
	triggers []string
	log      *slog.Logger
	onFault  func(err error)
	now      func() time.Time

	outgoing   atomic.Int64 // negotiated outgoing period in ns
	incoming   atomic.Int64 // negotiated incoming period in ns
	last       atomic.Int64 // unix ns of the last received byte, 0 if none
	negotiated atomic.Bool
	stop       chan struct{}
	wg         sync.WaitGroup
	once       sync.Once
}

// NewHeartbeat returns a heartbeat monitor for a codec. Negotiation happens on the
// first received frame with one of the trigger commands.
func NewHeartbeat(c *frames.Codec, local HeartbeatOptions, log *slog.Logger, triggers ...string) *Heartbeat {
	return &Heartbeat{
		codec:    c,
		local:    local,
		triggers: triggers,
		log:      log,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Periods returns the negotiated outgoing and incoming periods. Zero is disabled.
func (h *Heartbeat) Periods() (outgoing, incoming time.Duration) {
	return time.Duration(h.outgoing.Load()), time.Duration(h.incoming.Load())
}

// OnData records inbound activity.
func (h *Heartbeat) OnData(b []byte) {
	h.last.Store(h.now().UnixNano())
}

// OnFrame negotiates the periods from the first trigger frame.
func (h *Heartbeat) OnFrame(f *frames.Frame) {
	if !slices.Contains(h.triggers, f.Command) {
		return
	}

	v, ok := f.Headers.Lookup(frames.HeaderHeartBeat)
	if !ok || !h.negotiated.CompareAndSwap(false, true) {
		return
	}

	out, in, err := ParseHeartbeat(v)
	if err != nil {
		h.log.Debug("ignoring heart-beat header", "value", v, "error", err)
		return
	}

	h.Start(negotiate(h.local.Outgoing, in), negotiate(h.local.Incoming, out))
}

// OnEnd releases the timers.
func (h *Heartbeat) OnEnd() {
	h.Release()
}

// Start runs the timers for negotiated periods. A zero period is not started.
func (h *Heartbeat) Start(outgoing, incoming time.Duration) {
	h.outgoing.Store(int64(outgoing))
	h.incoming.Store(int64(incoming))

	select {
	case <-h.stop:
		return
	default:
	}

	if outgoing > 0 {
		h.wg.Add(1)
		go h.send(outgoing)
	}

	if incoming > 0 {
		h.wg.Add(1)
		go h.watch(incoming)
	}
}

// Release stops both timers. It is safe to call more than once.
func (h *Heartbeat) Release() {
	h.once.Do(func() {
		close(h.stop)
	})
}

// Wait blocks until the timers have stopped after a release.
func (h *Heartbeat) Wait() {
	h.wg.Wait()
}

// send writes a ping on every outgoing period.
func (h *Heartbeat) send(d time.Duration) {
	defer h.wg.Done()
	t := time.NewTicker(d)
	defer t.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-t.C:
			if err := h.codec.SendRaw(heartbeatPing); err != nil {
				if !errors.Is(err, frames.ErrClosed) && h.onFault != nil {
					h.onFault(err)
				}
				return
			}
		}
	}
}

// watch fails the codec if nothing has been received for twice the incoming period.
func (h *Heartbeat) watch(d time.Duration) {
	defer h.wg.Done()
	t := time.NewTicker(d)
	defer t.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-t.C:
			last := h.last.Load()
			if last == 0 || h.now().UnixNano()-last <= int64(2*d) {
				continue
			}

			h.Release()
			h.codec.Fail(&frames.Error{
				Message: fmt.Sprintf("No heartbeat for the last %d ms", (2 * d).Milliseconds()),
				Err:     ErrNoHeartbeat,
			})
			return
		}
	}
}

// ParseHeartbeat parses a heart-beat header value of the form "<outgoing>,<incoming>"
// in milliseconds.
func ParseHeartbeat(v string) (outgoing, incoming time.Duration, err error) {
	a, b, ok := strings.Cut(v, ",")
	if !ok {
		return 0, 0, fmt.Errorf("malformed heart-beat %q", v)
	}

	out, err := strconv.ParseUint(strings.TrimSpace(a), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed heart-beat %q: %w", v, err)
	}

	in, err := strconv.ParseUint(strings.TrimSpace(b), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed heart-beat %q: %w", v, err)
	}

	return time.Duration(out) * time.Millisecond, time.Duration(in) * time.Millisecond, nil
}

// negotiate combines a local and remote period. Zero on either side disables it.
func negotiate(local, remote time.Duration) time.Duration {
	if local <= 0 || remote <= 0 {
		return 0
	}
	return max(local, remote)
}
