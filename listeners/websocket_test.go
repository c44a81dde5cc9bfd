// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"bufio"
	"crypto/tls"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestNewWebsocket(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.Equal(t, "t1", l.ID())
	require.Equal(t, testAddr, l.Address())
	require.Equal(t, "ws", l.Protocol())
}

func TestWebsocketProtocolTLS(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr, TLSConfig: new(tls.Config)})
	require.Equal(t, "wss", l.Protocol())
}

func TestWebsocketInit(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.Nil(t, l.listen)
	require.NoError(t, l.Init(logger))
	require.NotNil(t, l.listen)
}

func TestWebsocketServeAndClose(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: freeAddr(t)})
	require.NoError(t, l.Init(logger))

	o := make(chan bool)
	go func() {
		l.Serve(MockEstablisher)
		o <- true
	}()

	time.Sleep(10 * time.Millisecond)

	var closed bool
	l.Close(func(id string) {
		closed = true
	})
	require.True(t, closed)
	<-o
}

func TestWebsocketEstablish(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.NoError(t, l.Init(logger))

	established := make(chan string, 1)
	l.establish = func(id string, c net.Conn) error {
		b, err := bufio.NewReader(c).ReadString(0)
		if err != nil {
			return err
		}
		established <- b
		_, err = c.Write([]byte("CONNECTED\nversion:1.2\n\n\x00"))
		return err
	}

	s := httptest.NewServer(l.listen.Handler)
	defer s.Close()

	d := websocket.Dialer{Subprotocols: []string{"v12.stomp"}}
	ws, resp, err := d.Dial("ws"+strings.TrimPrefix(s.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Equal(t, "v12.stomp", resp.Header.Get("Sec-Websocket-Protocol"))

	// a frame split over two messages is read as one stream
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("CONNECT\naccept-")))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("version:1.2\n\n\x00")))
	require.Equal(t, "CONNECT\naccept-version:1.2\n\n\x00", <-established)

	op, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, op)
	require.Equal(t, "CONNECTED\nversion:1.2\n\n\x00", string(msg))
}
