// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package stomp

import (
	"testing"

	"github.com/mochi-mqtt/stomp/session"

	"github.com/stretchr/testify/require"
)

func newTestClient(id, listener string) *Client {
	return &Client{
		ID: id,
		Net: ClientConnection{
			Remote:   "test.addr",
			Listener: listener,
		},
	}
}

func TestNewClients(t *testing.T) {
	cl := NewClients()
	require.NotNil(t, cl.internal)
}

func TestClientsAddGet(t *testing.T) {
	cl := NewClients()
	cl.Add(newTestClient("t1", "tcp1"))
	cl.Add(newTestClient("t2", "tcp1"))

	c, ok := cl.Get("t1")
	require.True(t, ok)
	require.Equal(t, "t1", c.ID)

	_, ok = cl.Get("t3")
	require.False(t, ok)
}

func TestClientsGetAll(t *testing.T) {
	cl := NewClients()
	cl.Add(newTestClient("t1", "tcp1"))
	cl.Add(newTestClient("t2", "tcp1"))
	cl.Add(newTestClient("t3", "tcp1"))
	require.Equal(t, 3, cl.Len())

	m := cl.GetAll()
	require.Len(t, m, 3)
	require.Contains(t, m, "t1")
	require.Contains(t, m, "t2")
	require.Contains(t, m, "t3")

	delete(m, "t1")
	require.Equal(t, 3, cl.Len())
}

func TestClientsDelete(t *testing.T) {
	cl := NewClients()
	cl.Add(newTestClient("t1", "tcp1"))
	require.Equal(t, 1, cl.Len())

	cl.Delete("t1")
	_, ok := cl.Get("t1")
	require.False(t, ok)
	require.Equal(t, 0, cl.Len())
}

func TestClientsGetByListener(t *testing.T) {
	cl := NewClients()
	cl.Add(newTestClient("t1", "tcp1"))
	cl.Add(newTestClient("t2", "ws1"))
	cl.Add(newTestClient("t3", "tcp1"))

	clients := cl.GetByListener("tcp1")
	require.Len(t, clients, 2)
	for _, c := range clients {
		require.Equal(t, "tcp1", c.Net.Listener)
	}

	require.Empty(t, cl.GetByListener("unix1"))
}

func TestClientConnected(t *testing.T) {
	c := newTestClient("t1", "tcp1")
	require.Equal(t, int64(0), c.Connected())

	c.connected.Store(1700000000)
	require.Equal(t, int64(1700000000), c.Connected())
}

func TestClientClosed(t *testing.T) {
	c := newTestClient("t1", "tcp1")
	require.True(t, c.Closed())

	tt := new(testTransport)
	c.Session = session.NewServerSession("t1", tt, session.UseClientListener(new(session.ClientCommandListenerBase)), &session.Options{Logger: logger})
	require.False(t, c.Closed())

	c.Session.Close()
	require.True(t, c.Closed())
}
