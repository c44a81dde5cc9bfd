// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: Jeroen Rinzema

package listeners

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNet(t *testing.T) {
	n, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	l := NewNet("t1", n)
	require.Equal(t, "t1", l.ID())
	require.Equal(t, n.Addr().String(), l.Address())
	require.Equal(t, "tcp", l.Protocol())
	require.NoError(t, l.Init(logger))
	l.Close(MockCloser)
}

func TestNetEstablishThenEnd(t *testing.T) {
	n, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	l := NewNet("t1", n)
	require.NoError(t, l.Init(logger))

	o := make(chan bool)
	established := make(chan bool)
	go func() {
		l.Serve(func(id string, c net.Conn) error {
			established <- true
			return errors.New("ending")
		})
		o <- true
	}()

	conn, err := net.Dial("tcp", n.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.True(t, <-established)
	l.Close(MockCloser)
	<-o
}
