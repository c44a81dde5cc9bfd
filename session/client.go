// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package session

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/mochi-mqtt/stomp/frames"
)

// ClientSession is the client endpoint of a single connection. It dispatches the
// server's commands to a ServerCommandListener and never closes the connection
// because of a protocol error.
type ClientSession struct {
	core
	listener   ServerCommandListener
	negotiated atomic.Bool
	disconnect atomic.Pointer[string] // the receipt id which completes a disconnect
}

// NewClientSession returns a client session bound to a transport. The listener is
// built by the factory before the codec exists, so the factory must not send.
func NewClientSession(id string, t frames.Transport, factory ServerListenerFactory, opts *Options) *ClientSession {
	s := new(ClientSession)
	s.init(id, opts)
	s.listener = factory(s)
	s.attach(t, s, frames.Connected)
	return s
}

// Listener returns the command listener of the session.
func (s *ClientSession) Listener() ServerCommandListener {
	return s.listener
}

// OnFrame dispatches a frame received from the server.
func (s *ClientSession) OnFrame(f *frames.Frame) {
	s.Lock()
	defer s.Unlock()

	if err := s.dispatch(f); err != nil {
		s.log.Debug("protocol error", "error", err)
		s.listener.OnProtocolError(err)
	}
}

// OnError reports a codec error to the listener.
func (s *ClientSession) OnError(err error) {
	s.Lock()
	defer s.Unlock()
	s.log.Debug("protocol error", "error", err)
	s.listener.OnProtocolError(err)
}

// OnEnd handles the end of the stream.
func (s *ClientSession) OnEnd(err error) {
	s.Lock()
	defer s.Unlock()
	s.heartbeat.Release()
	s.listener.OnEnd(err)
}

// dispatch looks up, validates and handles a frame.
func (s *ClientSession) dispatch(f *frames.Frame) error {
	cmd, ok := s.Protocol().ClientCommand(f.Command)
	if !ok {
		return &frames.Error{
			Message: ErrUnknownCommand.Message,
			Details: fmt.Sprintf("Unrecognized Command '%s'", f.Command),
			Err:     ErrUnknownCommand,
		}
	}

	if err := cmd.validate(f); err != nil {
		return err
	}

	return cmd.Handle(s, f)
}

// Connect sends a CONNECT frame offering every supported version, and a heart-beat
// header if heartbeats are configured.
func (s *ClientSession) Connect(headers frames.Headers) error {
	f := frame(frames.Connect, headers, nil)
	f.Headers.Set(frames.HeaderAcceptVersion, strings.Join(Versions(), ","))
	if s.opts.Heartbeat.Enabled() {
		f.Headers.Set(frames.HeaderHeartBeat, s.opts.Heartbeat.Header())
	}
	return s.send(f)
}

// Send sends a message to a destination.
func (s *ClientSession) Send(headers frames.Headers, body []byte) error {
	return s.send(frame(frames.Send, headers, body))
}

// Subscribe sends a SUBSCRIBE frame.
func (s *ClientSession) Subscribe(headers frames.Headers) error {
	return s.send(frame(frames.Subscribe, headers, nil))
}

// Unsubscribe sends an UNSUBSCRIBE frame.
func (s *ClientSession) Unsubscribe(headers frames.Headers) error {
	return s.send(frame(frames.Unsubscribe, headers, nil))
}

// Begin sends a BEGIN frame.
func (s *ClientSession) Begin(headers frames.Headers) error {
	return s.send(frame(frames.Begin, headers, nil))
}

// Commit sends a COMMIT frame.
func (s *ClientSession) Commit(headers frames.Headers) error {
	return s.send(frame(frames.Commit, headers, nil))
}

// Abort sends an ABORT frame.
func (s *ClientSession) Abort(headers frames.Headers) error {
	return s.send(frame(frames.Abort, headers, nil))
}

// Ack sends an ACK frame.
func (s *ClientSession) Ack(headers frames.Headers) error {
	return s.send(frame(frames.Ack, headers, nil))
}

// Nack sends a NACK frame.
func (s *ClientSession) Nack(headers frames.Headers) error {
	return s.send(frame(frames.Nack, headers, nil))
}

// Disconnect sends a DISCONNECT frame. If a receipt is requested the connection is
// closed when the matching RECEIPT arrives, otherwise it is closed immediately.
func (s *ClientSession) Disconnect(headers frames.Headers) error {
	f := frame(frames.Disconnect, headers, nil)
	receipt, ok := f.Headers.Lookup(frames.HeaderReceipt)
	if ok {
		s.disconnect.Store(&receipt)
	}

	err := s.send(f)
	if !ok || err != nil {
		s.Close()
	}

	return err
}

func handleConnected(s *ClientSession, f *frames.Frame) error {
	if s.negotiated.CompareAndSwap(false, true) {
		version := f.Headers.Get(frames.HeaderVersion)
		if version == "" {
			version = Version10
		}

		p, ok := Lookup(version)
		if !ok {
			return &frames.Error{
				Message: ErrUnsupportedVersion.Message,
				Details: fmt.Sprintf("Server selected version '%s'", version),
				Err:     ErrUnsupportedVersion,
			}
		}

		s.protocol.Store(p)
	}

	s.authenticated.Store(true)
	return s.listener.Connected(f)
}

func handleMessage(s *ClientSession, f *frames.Frame) error {
	return s.listener.Message(f)
}

func handleReceipt(s *ClientSession, f *frames.Frame) error {
	err := s.listener.Receipt(f)

	if r := s.disconnect.Load(); r != nil && *r == f.Headers.Get(frames.HeaderReceiptID) {
		s.Close()
	}

	return err
}

func handleError(s *ClientSession, f *frames.Frame) error {
	return s.listener.Error(f)
}
