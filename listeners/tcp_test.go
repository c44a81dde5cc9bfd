// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTCP(t *testing.T) {
	l := NewTCP(Config{ID: "t1", Address: testAddr})
	require.Equal(t, "t1", l.ID())
	require.Equal(t, testAddr, l.Address())
	require.Equal(t, "tcp", l.Protocol())
}

func TestTCPInit(t *testing.T) {
	l := NewTCP(Config{ID: "t1", Address: "127.0.0.1:0"})
	require.NoError(t, l.Init(logger))
	require.NotEqual(t, "127.0.0.1:0", l.Address())

	l2 := NewTCP(Config{ID: "t2", Address: l.Address()})
	require.Error(t, l2.Init(logger))
	l.Close(MockCloser)
}

func TestTCPServeAndClose(t *testing.T) {
	l := NewTCP(Config{ID: "t1", Address: "127.0.0.1:0"})
	require.NoError(t, l.Init(logger))

	o := make(chan bool)
	go func() {
		l.Serve(MockEstablisher)
		o <- true
	}()

	var closed bool
	l.Close(func(id string) {
		closed = true
	})
	require.True(t, closed)
	<-o

	l.Close(MockCloser)      // coverage: close closed
	l.Serve(MockEstablisher) // coverage: serve closed
}

func TestTCPEstablish(t *testing.T) {
	l := NewTCP(Config{ID: "t1", Address: "127.0.0.1:0"})
	require.NoError(t, l.Init(logger))

	o := make(chan bool)
	established := make(chan string)
	go func() {
		l.Serve(func(id string, c net.Conn) error {
			established <- id
			return errors.New("ending")
		})
		o <- true
	}()

	conn, err := net.Dial("tcp", l.Address())
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, "t1", <-established)
	l.Close(MockCloser)
	<-o
}
