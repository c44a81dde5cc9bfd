// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package stomp

import (
	"testing"
	"time"

	gostomp "github.com/go-stomp/stomp/v3"
	"github.com/mochi-mqtt/stomp/listeners"

	"github.com/stretchr/testify/require"
)

// newTCPServer starts a broker with a single tcp listener on a free local port.
func newTCPServer(t *testing.T, hook Hook) (*Server, string) {
	s := newServer()
	if hook != nil {
		require.NoError(t, s.AddHook(hook, nil))
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: "127.0.0.1:0"})
	require.NoError(t, s.AddListener(tcp))
	require.NoError(t, s.Serve())

	return s, tcp.Address()
}

func receive(t *testing.T, sub *gostomp.Subscription) *gostomp.Message {
	select {
	case msg := <-sub.C:
		require.NotNil(t, msg)
		require.NoError(t, msg.Err)
		return msg
	case <-time.After(2 * time.Second):
		require.Fail(t, "no message received")
	}
	return nil
}

func TestInteropSubscribeSend(t *testing.T) {
	s, addr := newTCPServer(t, nil)
	defer s.Close()

	conn, err := gostomp.Dial("tcp", addr,
		gostomp.ConnOpt.HeartBeat(0, 0),
		gostomp.ConnOpt.Host("/"),
	)
	require.NoError(t, err)
	require.Equal(t, gostomp.V12, conn.Version())
	require.NotEmpty(t, conn.Session())
	require.Equal(t, ServerName+"/"+Version, conn.Server())

	sub, err := conn.Subscribe("/queue/a", gostomp.AckAuto)
	require.NoError(t, err)

	err = conn.Send("/queue/a", "text/plain", []byte("hello"))
	require.NoError(t, err)

	msg := receive(t, sub)
	require.Equal(t, "/queue/a", msg.Destination)
	require.Equal(t, "text/plain", msg.ContentType)
	require.Equal(t, []byte("hello"), msg.Body)
	require.NotEmpty(t, msg.Header.Get("message-id"))

	require.NoError(t, conn.Disconnect())
}

func TestInteropVersion10(t *testing.T) {
	s, addr := newTCPServer(t, nil)
	defer s.Close()

	conn, err := gostomp.Dial("tcp", addr,
		gostomp.ConnOpt.HeartBeat(0, 0),
		gostomp.ConnOpt.AcceptVersion(gostomp.V10),
	)
	require.NoError(t, err)
	require.Equal(t, gostomp.V10, conn.Version())

	sub, err := conn.Subscribe("/topic/b", gostomp.AckAuto)
	require.NoError(t, err)

	err = conn.Send("/topic/b", "", []byte("old"))
	require.NoError(t, err)

	msg := receive(t, sub)
	require.Equal(t, []byte("old"), msg.Body)

	require.NoError(t, conn.Disconnect())
}

func TestInteropClientAck(t *testing.T) {
	hook := new(recordingHook)
	s, addr := newTCPServer(t, hook)
	defer s.Close()

	conn, err := gostomp.Dial("tcp", addr,
		gostomp.ConnOpt.HeartBeat(0, 0),
		gostomp.ConnOpt.Host("/"),
	)
	require.NoError(t, err)

	sub, err := conn.Subscribe("/queue/c", gostomp.AckClientIndividual)
	require.NoError(t, err)

	err = conn.Send("/queue/c", "text/plain", []byte("ack me"))
	require.NoError(t, err)

	msg := receive(t, sub)
	require.NoError(t, conn.Ack(msg))

	require.Eventually(t, func() bool {
		hook.Lock()
		defer hook.Unlock()
		return len(hook.acks) == 1 && hook.acks[0].Value &&
			hook.acks[0].MessageID == msg.Header.Get("message-id")
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Disconnect())
}
