// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package session

import (
	"fmt"

	"github.com/mochi-mqtt/stomp/frames"
)

// ServerSession is the server endpoint of a single connection. It authenticates the
// client, negotiates the protocol version and dispatches the client's commands to a
// ClientCommandListener.
type ServerSession struct {
	core
	listener ClientCommandListener
}

// NewServerSession returns a server session bound to a transport. The listener is
// built by the factory before the codec exists, so the factory must not send.
func NewServerSession(id string, t frames.Transport, factory ClientListenerFactory, opts *Options) *ServerSession {
	s := new(ServerSession)
	s.init(id, opts)
	s.listener = factory(s)
	s.attach(t, s, frames.Connect, frames.Stomp)
	return s
}

// Listener returns the command listener of the session.
func (s *ServerSession) Listener() ClientCommandListener {
	return s.listener
}

// OnFrame dispatches a frame received from the client.
func (s *ServerSession) OnFrame(f *frames.Frame) {
	s.Lock()
	defer s.Unlock()

	if s.Closed() {
		return
	}

	if err := s.dispatch(f); err != nil {
		s.reject(f, err)
		return
	}

	if receipt, ok := f.Headers.Lookup(frames.HeaderReceipt); ok && f.Command != frames.Connect && f.Command != frames.Stomp {
		_ = s.Receipt(frames.NewHeaders(frames.HeaderReceiptID, receipt))
	}

	if f.Command == frames.Disconnect {
		s.Close()
	}
}

// OnError handles a parse error or fatal codec error. Parse errors are answered with
// an ERROR frame; fatal errors have already closed the transport.
func (s *ServerSession) OnError(err error) {
	s.Lock()
	defer s.Unlock()
	s.reject(nil, err)
}

// OnEnd handles the end of the stream.
func (s *ServerSession) OnEnd(err error) {
	s.Lock()
	defer s.Unlock()
	s.heartbeat.Release()
	s.listener.OnEnd(err)
}

// dispatch looks up, validates and handles a frame.
func (s *ServerSession) dispatch(f *frames.Frame) error {
	cmd, ok := s.Protocol().ServerCommand(f.Command)
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

	if !s.Authenticated() && f.Command != frames.Connect && f.Command != frames.Stomp {
		return ErrNotConnected
	}

	return cmd.Handle(s, f)
}

// reject reports a failure to the listener, then sends an ERROR frame and closes the
// session if the transport is still open.
func (s *ServerSession) reject(f *frames.Frame, err error) {
	s.log.Debug("protocol error", "error", err)
	s.listener.OnProtocolError(err)

	if s.Closed() {
		s.heartbeat.Release()
		return
	}

	e := frames.AsError(err)
	h := frames.NewHeaders(frames.HeaderMessage, e.Message)
	if e.Details != "" {
		h.Set(frames.HeaderDetails, e.Details)
	}

	if f != nil {
		if receipt, ok := f.Headers.Lookup(frames.HeaderReceipt); ok {
			h.Set(frames.HeaderReceiptID, receipt)
		}
	}

	_ = s.Error(h, nil)
}

// Connected sends the CONNECTED frame, adding the version and heart-beat headers,
// and marks the session as authenticated.
func (s *ServerSession) Connected(headers frames.Headers) error {
	f := frame(frames.Connected, headers, nil)
	f.Headers.Set(frames.HeaderVersion, s.Version())
	if s.opts.Heartbeat.Enabled() {
		f.Headers.Set(frames.HeaderHeartBeat, s.opts.Heartbeat.Header())
	}

	s.authenticated.Store(true)
	return s.send(f)
}

// Message sends a MESSAGE frame to the client.
func (s *ServerSession) Message(headers frames.Headers, body []byte) error {
	return s.send(frame(frames.Message, headers, body))
}

// Receipt sends a RECEIPT frame to the client.
func (s *ServerSession) Receipt(headers frames.Headers) error {
	return s.send(frame(frames.Receipt, headers, nil))
}

// Error sends an ERROR frame to the client and closes the session.
func (s *ServerSession) Error(headers frames.Headers, body []byte) error {
	err := s.send(frame(frames.ErrorCommand, headers, body))
	s.Close()
	return err
}

func handleConnect(s *ServerSession, f *frames.Frame) error {
	if s.Authenticated() {
		return ErrAlreadyConnected
	}

	p, err := Negotiate(f.Headers.Get(frames.HeaderAcceptVersion))
	if err != nil {
		return err
	}

	if cmd, ok := p.ServerCommand(f.Command); ok {
		if err := cmd.validate(f); err != nil {
			return err
		}
	}

	s.protocol.Store(p)
	return s.listener.Connect(f)
}

func handleSend(s *ServerSession, f *frames.Frame) error {
	return s.listener.Send(f)
}

func handleSubscribe(s *ServerSession, f *frames.Frame) error {
	if err := s.listener.Subscribe(f); err != nil {
		return err
	}
	s.subscribe(f)
	return nil
}

func handleUnsubscribe(s *ServerSession, f *frames.Frame) error {
	key, err := s.unsubscribeKey(f)
	if err != nil {
		return err
	}

	if err := s.listener.Unsubscribe(f); err != nil {
		return err
	}

	delete(s.subscriptions, key)
	return nil
}

func handleBegin(s *ServerSession, f *frames.Frame) error {
	tx := f.Headers.Get(frames.HeaderTransaction)
	if err := s.begin(tx); err != nil {
		return err
	}

	if err := s.listener.Begin(f); err != nil {
		return err
	}

	s.transactions[tx] = struct{}{}
	return nil
}

func handleCommit(s *ServerSession, f *frames.Frame) error {
	tx := f.Headers.Get(frames.HeaderTransaction)
	if err := s.open(tx); err != nil {
		return err
	}

	if err := s.listener.Commit(f); err != nil {
		return err
	}

	delete(s.transactions, tx)
	return nil
}

func handleAbort(s *ServerSession, f *frames.Frame) error {
	tx := f.Headers.Get(frames.HeaderTransaction)
	if err := s.open(tx); err != nil {
		return err
	}

	if err := s.listener.Abort(f); err != nil {
		return err
	}

	delete(s.transactions, tx)
	return nil
}

func handleAck(s *ServerSession, f *frames.Frame) error {
	return s.listener.Ack(f)
}

func handleNack(s *ServerSession, f *frames.Frame) error {
	return s.listener.Nack(f)
}

func handleDisconnect(s *ServerSession, f *frames.Frame) error {
	return s.listener.Disconnect(f)
}
