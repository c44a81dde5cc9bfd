// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package session

import "github.com/mochi-mqtt/stomp/frames"

// ClientCommandListener handles the commands a client sends to a server session.
// A returned error is sent to the client as an ERROR frame and the session is closed.
type ClientCommandListener interface {
	Connect(f *frames.Frame) error
	Send(f *frames.Frame) error
	Subscribe(f *frames.Frame) error
	Unsubscribe(f *frames.Frame) error
	Begin(f *frames.Frame) error
	Commit(f *frames.Frame) error
	Abort(f *frames.Frame) error
	Ack(f *frames.Frame) error
	Nack(f *frames.Frame) error
	Disconnect(f *frames.Frame) error
	OnProtocolError(err error)
	OnEnd(err error)
}

// ServerCommandListener handles the commands a server sends to a client session.
// A returned error is reported to OnProtocolError.
type ServerCommandListener interface {
	Connected(f *frames.Frame) error
	Message(f *frames.Frame) error
	Receipt(f *frames.Frame) error
	Error(f *frames.Frame) error
	OnProtocolError(err error)
	OnEnd(err error)
}

// ClientListenerFactory builds the listener for a new server session.
type ClientListenerFactory func(s *ServerSession) ClientCommandListener

// ServerListenerFactory builds the listener for a new client session.
type ServerListenerFactory func(s *ClientSession) ServerCommandListener

// UseClientListener returns a factory which always returns l.
func UseClientListener(l ClientCommandListener) ClientListenerFactory {
	return func(*ServerSession) ClientCommandListener {
		return l
	}
}

// UseServerListener returns a factory which always returns l.
func UseServerListener(l ServerCommandListener) ServerListenerFactory {
	return func(*ClientSession) ServerCommandListener {
		return l
	}
}

// ClientCommandListenerBase provides no-op ClientCommandListener methods for embedding.
type ClientCommandListenerBase struct{}

func (ClientCommandListenerBase) Connect(f *frames.Frame) error     { return nil }
func (ClientCommandListenerBase) Send(f *frames.Frame) error        { return nil }
func (ClientCommandListenerBase) Subscribe(f *frames.Frame) error   { return nil }
func (ClientCommandListenerBase) Unsubscribe(f *frames.Frame) error { return nil }
func (ClientCommandListenerBase) Begin(f *frames.Frame) error       { return nil }
func (ClientCommandListenerBase) Commit(f *frames.Frame) error      { return nil }
func (ClientCommandListenerBase) Abort(f *frames.Frame) error       { return nil }
func (ClientCommandListenerBase) Ack(f *frames.Frame) error         { return nil }
func (ClientCommandListenerBase) Nack(f *frames.Frame) error        { return nil }
func (ClientCommandListenerBase) Disconnect(f *frames.Frame) error  { return nil }
func (ClientCommandListenerBase) OnProtocolError(err error)         {}
func (ClientCommandListenerBase) OnEnd(err error)                   {}

// ServerCommandListenerBase provides no-op ServerCommandListener methods for embedding.
type ServerCommandListenerBase struct{}

func (ServerCommandListenerBase) Connected(f *frames.Frame) error { return nil }
func (ServerCommandListenerBase) Message(f *frames.Frame) error   { return nil }
func (ServerCommandListenerBase) Receipt(f *frames.Frame) error   { return nil }
func (ServerCommandListenerBase) Error(f *frames.Frame) error     { return nil }
func (ServerCommandListenerBase) OnProtocolError(err error)       {}
func (ServerCommandListenerBase) OnEnd(err error)                 {}
