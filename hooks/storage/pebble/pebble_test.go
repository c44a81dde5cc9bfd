// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: werbenhu

package pebble

import (
	"io"
	"log/slog"
	"testing"

	pebbledb "github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/mochi-mqtt/stomp"
	"github.com/mochi-mqtt/stomp/frames"
	"github.com/mochi-mqtt/stomp/hooks/storage"
	"github.com/mochi-mqtt/stomp/system"
	"github.com/stretchr/testify/require"
)

var (
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	client = &stomp.Client{
		ID: "test",
		Net: stomp.ClientConnection{
			Remote:   "test.addr",
			Listener: "listener",
		},
		Properties: stomp.ClientProperties{
			Login:   "guest",
			Host:    "/",
			Version: "1.0",
		},
	}

	connect = frames.New(frames.Connect)
)

func newHook(t *testing.T) *Hook {
	h := new(Hook)
	h.SetOpts(logger, nil)
	err := h.Init(&Options{Path: t.TempDir()})
	require.NoError(t, err)
	return h
}

func TestSessionKey(t *testing.T) {
	k := sessionKey(&stomp.Client{ID: "cl1"})
	require.Equal(t, storage.SessionKey+"_cl1", k)
}

func TestSysInfoKey(t *testing.T) {
	require.Equal(t, storage.SysInfoKey, sysInfoKey())
}

func TestKeyUpperBound(t *testing.T) {
	require.Equal(t, []byte("SET"), keyUpperBound([]byte("SES")))
	require.Equal(t, []byte{0x02}, keyUpperBound([]byte{0x01, 0xff}))
	require.Nil(t, keyUpperBound([]byte{0xff, 0xff}))
}

func TestID(t *testing.T) {
	h := new(Hook)
	require.Equal(t, "pebble-db", h.ID())
}

func TestProvides(t *testing.T) {
	h := new(Hook)
	require.True(t, h.Provides(stomp.OnSessionEstablished))
	require.True(t, h.Provides(stomp.OnSessionEnd))
	require.True(t, h.Provides(stomp.OnSysInfoTick))
	require.True(t, h.Provides(stomp.StoredSessions))
	require.True(t, h.Provides(stomp.StoredSysInfo))
	require.False(t, h.Provides(stomp.OnACLCheck))
	require.False(t, h.Provides(stomp.OnConnectAuthenticate))
}

func TestInitBadConfig(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)

	err := h.Init(map[string]any{})
	require.ErrorIs(t, err, stomp.ErrInvalidConfigType)
}

func TestInitSyncMode(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	err := h.Init(&Options{
		Mode:    "sync",
		Path:    "mem",
		Options: &pebbledb.Options{FS: vfs.NewMem()},
	})
	require.NoError(t, err)
	defer h.Stop()

	require.Equal(t, pebbledb.Sync, h.mode)
}

func TestOnSessionEstablishedThenOnSessionEnd(t *testing.T) {
	h := newHook(t)
	defer h.Stop()

	require.Equal(t, pebbledb.NoSync, h.mode)
	h.OnSessionEstablished(client, connect)

	r := new(storage.Session)
	err := h.getKv(sessionKey(client), r)
	require.NoError(t, err)
	require.Equal(t, client.ID, r.ID)
	require.Equal(t, storage.SessionKey, r.T)
	require.Equal(t, client.Net.Remote, r.Remote)
	require.Equal(t, client.Net.Listener, r.Listener)
	require.Equal(t, client.Properties.Login, r.Login)
	require.Equal(t, client.Properties.Version, r.Version)

	h.OnSessionEnd(client, nil)
	err = h.getKv(sessionKey(client), r)
	require.ErrorIs(t, err, pebbledb.ErrNotFound)
}

func TestNoDB(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	h.OnSessionEstablished(client, connect)
	h.OnSessionEnd(client, nil)
	h.OnSysInfoTick(new(system.Info))

	_, err := h.StoredSessions()
	require.ErrorIs(t, err, storage.ErrDBFileNotOpen)

	_, err = h.StoredSysInfo()
	require.ErrorIs(t, err, storage.ErrDBFileNotOpen)

	require.NoError(t, h.Stop())
}

func TestOnSysInfoTick(t *testing.T) {
	h := newHook(t)
	defer h.Stop()

	info := &system.Info{
		Version:       "2.0.0",
		BytesReceived: 100,
	}

	h.OnSysInfoTick(info)

	r := new(storage.SystemInfo)
	err := h.getKv(storage.SysInfoKey, r)
	require.NoError(t, err)
	require.Equal(t, info.Version, r.Version)
	require.Equal(t, info.BytesReceived, r.BytesReceived)
}

func TestStoredSessions(t *testing.T) {
	h := newHook(t)
	defer h.Stop()

	h.OnSessionEstablished(&stomp.Client{ID: "cl1"}, connect)
	h.OnSessionEstablished(&stomp.Client{ID: "cl2"}, connect)
	h.OnSessionEstablished(&stomp.Client{ID: "cl3"}, connect)
	h.OnSysInfoTick(&system.Info{Version: "2.0.0"})

	r, err := h.StoredSessions()
	require.NoError(t, err)
	require.Len(t, r, 3)
	require.Equal(t, "cl1", r[0].ID)
	require.Equal(t, "cl2", r[1].ID)
	require.Equal(t, "cl3", r[2].ID)
}

func TestStoredSessionsBadData(t *testing.T) {
	h := newHook(t)
	defer h.Stop()

	err := h.db.Set([]byte(storage.SessionKey+"_bad"), []byte("{broken"), pebbledb.Sync)
	require.NoError(t, err)

	_, err = h.StoredSessions()
	require.Error(t, err)
}

func TestStoredSysInfo(t *testing.T) {
	h := newHook(t)
	defer h.Stop()

	r, err := h.StoredSysInfo()
	require.NoError(t, err)
	require.Equal(t, "", r.Version)

	h.OnSysInfoTick(&system.Info{Version: "2.0.0", ClientsTotal: 42})

	r, err = h.StoredSysInfo()
	require.NoError(t, err)
	require.Equal(t, "2.0.0", r.Version)
	require.Equal(t, int64(42), r.ClientsTotal)
}
