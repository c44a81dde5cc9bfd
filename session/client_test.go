// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/stomp/frames"
)

type serverListener struct {
	ServerCommandListenerBase
	sync.Mutex
	calls []string
	errs  []error
	fail  error
}

func (l *serverListener) record(f *frames.Frame) error {
	l.Lock()
	defer l.Unlock()
	l.calls = append(l.calls, f.Command)
	return l.fail
}

func (l *serverListener) Connected(f *frames.Frame) error { return l.record(f) }
func (l *serverListener) Message(f *frames.Frame) error   { return l.record(f) }
func (l *serverListener) Receipt(f *frames.Frame) error   { return l.record(f) }
func (l *serverListener) Error(f *frames.Frame) error     { return l.record(f) }

func (l *serverListener) OnProtocolError(err error) {
	l.Lock()
	defer l.Unlock()
	l.errs = append(l.errs, err)
}

func newClient(opts *Options) (*ClientSession, *mockTransport, *serverListener) {
	t := new(mockTransport)
	l := new(serverListener)
	return NewClientSession("c1", t, UseServerListener(l), opts), t, l
}

func TestClientConnect(t *testing.T) {
	s, tr, _ := newClient(&Options{
		Heartbeat: HeartbeatOptions{Outgoing: time.Second},
	})

	err := s.Connect(frames.NewHeaders(frames.HeaderHost, "/myHost"))
	require.NoError(t, err)

	f := lastFrame(t, tr)
	require.Equal(t, frames.Connect, f.Command)
	require.Equal(t, "1.0,1.1,1.2", f.Headers.Get(frames.HeaderAcceptVersion))
	require.Equal(t, "/myHost", f.Headers.Get(frames.HeaderHost))
	require.Equal(t, "1000,0", f.Headers.Get(frames.HeaderHeartBeat))
}

func TestClientConnectWithoutHeartbeat(t *testing.T) {
	s, tr, _ := newClient(nil)
	require.NoError(t, s.Connect(frames.Headers{}))
	require.False(t, lastFrame(t, tr).Headers.Has(frames.HeaderHeartBeat))
}

func TestClientConnectedSwitchesVersion(t *testing.T) {
	s, _, l := newClient(nil)
	require.Equal(t, Version10, s.Version())

	feed(s, "CONNECTED\nversion:1.1\n\n\x00")
	require.Equal(t, Version11, s.Version())
	require.True(t, s.Authenticated())
	require.Equal(t, []string{frames.Connected}, l.calls)

	feed(s, "CONNECTED\nversion:1.2\n\n\x00")
	require.Equal(t, Version11, s.Version())
}

func TestClientConnectedUnknownVersion(t *testing.T) {
	s, tr, l := newClient(nil)
	feed(s, "CONNECTED\nversion:3.0\n\n\x00")

	require.Equal(t, Version10, s.Version())
	require.ErrorIs(t, l.errs[0], ErrUnsupportedVersion)
	require.False(t, tr.isClosed())
}

func TestClientValidatesMessage(t *testing.T) {
	s, tr, l := newClient(nil)
	feed(s, "CONNECTED\nversion:1.2\n\n\x00", "MESSAGE\ndestination:/queue/a\nmessage-id:1\n\nhi\x00")

	require.Len(t, l.errs, 1)
	require.Equal(t, "Header 'subscription' is required for MESSAGE", l.errs[0].Error())
	require.False(t, tr.isClosed())

	feed(s, "MESSAGE\ndestination:/queue/a\nmessage-id:2\nsubscription:0\n\nhi\x00")
	require.Equal(t, []string{frames.Connected, frames.Message}, l.calls)
}

func TestClientUnknownCommand(t *testing.T) {
	s, tr, l := newClient(nil)
	feed(s, "SEND\ndestination:/queue/a\n\n\x00")

	require.ErrorIs(t, l.errs[0], ErrUnknownCommand)
	require.False(t, tr.isClosed())
}

func TestClientHandlerErrorKeepsConnection(t *testing.T) {
	s, tr, l := newClient(nil)
	l.fail = errors.New("oops")
	feed(s, "CONNECTED\n\n\x00", "RECEIPT\nreceipt-id:1\n\n\x00")

	require.Len(t, l.errs, 2)
	require.False(t, tr.isClosed())
}

func TestClientParseErrorKeepsConnection(t *testing.T) {
	s, tr, l := newClient(nil)
	feed(s, "MESSAGE\nbad\n\n\x00")

	require.Len(t, l.errs, 1)
	require.False(t, tr.isClosed())
}

func TestClientDisconnectWaitsForReceipt(t *testing.T) {
	s, tr, _ := newClient(nil)
	require.NoError(t, s.Disconnect(frames.NewHeaders(frames.HeaderReceipt, "77")))
	require.False(t, tr.isClosed())

	f := lastFrame(t, tr)
	require.Equal(t, frames.Disconnect, f.Command)

	feed(s, "RECEIPT\nreceipt-id:76\n\n\x00")
	require.False(t, tr.isClosed())

	feed(s, "RECEIPT\nreceipt-id:77\n\n\x00")
	require.True(t, tr.isClosed())
}

func TestClientDisconnectWithoutReceipt(t *testing.T) {
	s, tr, _ := newClient(nil)
	require.NoError(t, s.Disconnect(frames.Headers{}))
	require.True(t, tr.isClosed())
}

func TestClientCommands(t *testing.T) {
	s, tr, _ := newClient(nil)
	h := frames.NewHeaders(frames.HeaderDestination, "/queue/a", frames.HeaderID, "0")

	require.NoError(t, s.Send(h, []byte("hi")))
	require.NoError(t, s.Subscribe(h))
	require.NoError(t, s.Unsubscribe(h))
	require.NoError(t, s.Begin(frames.NewHeaders(frames.HeaderTransaction, "tx")))
	require.NoError(t, s.Commit(frames.NewHeaders(frames.HeaderTransaction, "tx")))
	require.NoError(t, s.Abort(frames.NewHeaders(frames.HeaderTransaction, "tx")))
	require.NoError(t, s.Ack(frames.NewHeaders(frames.HeaderID, "1")))
	require.NoError(t, s.Nack(frames.NewHeaders(frames.HeaderID, "2")))

	var commands []string
	for _, f := range tr.frames(t) {
		commands = append(commands, f.Command)
	}

	require.Equal(t, []string{
		frames.Send, frames.Subscribe, frames.Unsubscribe,
		frames.Begin, frames.Commit, frames.Abort,
		frames.Ack, frames.Nack,
	}, commands)
}

func TestClientServerExchange(t *testing.T) {
	st := new(mockTransport)
	sl := &testListener{fail: map[string]error{}}
	server := NewServerSession("s1", st, func(s *ServerSession) ClientCommandListener {
		sl.s = s
		return sl
	}, nil)

	client, ct, cl := newClient(nil)

	require.NoError(t, client.Connect(frames.NewHeaders(frames.HeaderHost, "/")))
	server.Feed(ct.bytes())
	client.Feed(st.bytes())

	require.Equal(t, Version12, server.Version())
	require.Equal(t, Version12, client.Version())
	require.Equal(t, []string{frames.Connected}, cl.calls)
}
