// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// freeAddr returns a local address which was free at the time of the call.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestNew(t *testing.T) {
	l := New()
	require.NotNil(t, l.internal)
}

func TestAddListener(t *testing.T) {
	l := New()
	l.Add(NewMockListener("t1", testAddr))
	require.Contains(t, l.internal, "t1")
}

func TestGetListener(t *testing.T) {
	l := New()
	l.Add(NewMockListener("t1", testAddr))
	l.Add(NewMockListener("t2", testAddr))

	g, ok := l.Get("t1")
	require.True(t, ok)
	require.Equal(t, "t1", g.ID())

	_, ok = l.Get("t3")
	require.False(t, ok)
}

func TestLenListener(t *testing.T) {
	l := New()
	l.Add(NewMockListener("t1", testAddr))
	l.Add(NewMockListener("t2", testAddr))
	require.Equal(t, 2, l.Len())
}

func TestDeleteListener(t *testing.T) {
	l := New()
	l.Add(NewMockListener("t1", testAddr))
	l.Delete("t1")
	require.Equal(t, 0, l.Len())
}

func TestServeListener(t *testing.T) {
	l := New()
	mocked := NewMockListener("t1", testAddr)
	l.Add(mocked)
	l.Serve("t1", MockEstablisher)
	require.Eventually(t, mocked.IsServing, time.Second, time.Millisecond)

	l.Close("t1", MockCloser)
	require.False(t, mocked.IsServing())
	l.ClientsWg.Wait()
}

func TestServeUnknownListener(t *testing.T) {
	l := New()
	l.Serve("t1", MockEstablisher)
	l.ClientsWg.Wait()
}

func TestServeAllListeners(t *testing.T) {
	l := New()
	m1 := NewMockListener("t1", testAddr)
	m2 := NewMockListener("t2", testAddr)
	l.Add(m1)
	l.Add(m2)

	l.ServeAll(MockEstablisher)
	require.Eventually(t, func() bool {
		return m1.IsServing() && m2.IsServing()
	}, time.Second, time.Millisecond)

	closed := map[string]bool{}
	l.CloseAll(func(id string) {
		closed[id] = true
	})

	require.True(t, closed["t1"])
	require.True(t, closed["t2"])
	require.False(t, m1.IsServing())
	require.False(t, m2.IsServing())
}

const testAddr = ":61613"
