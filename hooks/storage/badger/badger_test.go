// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package badger

import (
	"io"
	"log/slog"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
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
			Version: "1.1",
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

func TestID(t *testing.T) {
	h := new(Hook)
	require.Equal(t, "badger-db", h.ID())
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

func TestInitUseDefaults(t *testing.T) {
	h := newHook(t)
	defer h.Stop()

	require.Equal(t, int64(defaultGcInterval), h.config.GcInterval)
	require.Equal(t, defaultGcDiscardRatio, h.config.GcDiscardRatio)
	require.NotNil(t, h.config.Options)
}

func TestGcLoop(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	opts := badgerdb.DefaultOptions("").WithInMemory(true)
	err := h.Init(&Options{
		Options:    &opts,
		GcInterval: 1,
	})
	require.NoError(t, err)

	h.OnSessionEstablished(client, connect)
	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, h.Stop())
	require.Nil(t, h.db)
}

func TestGcLoopStopsBeforeClose(t *testing.T) {
	opts := badgerdb.DefaultOptions(t.TempDir())
	for i := 0; i < 5; i++ {
		h := new(Hook)
		h.SetOpts(logger, nil)
		o := opts
		err := h.Init(&Options{
			Options:    &o,
			GcInterval: 1,
		})
		require.NoError(t, err)

		h.gcTicker.Reset(time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, h.Stop())
		require.Nil(t, h.gcTicker)
		require.Nil(t, h.db)
	}
}

func TestOnSessionEstablishedThenOnSessionEnd(t *testing.T) {
	h := newHook(t)
	defer h.Stop()

	h.OnSessionEstablished(client, connect)

	r := new(storage.Session)
	err := h.getKv(sessionKey(client), r)
	require.NoError(t, err)
	require.Equal(t, client.ID, r.ID)
	require.Equal(t, storage.SessionKey, r.T)
	require.Equal(t, client.Net.Remote, r.Remote)
	require.Equal(t, client.Net.Listener, r.Listener)
	require.Equal(t, client.Properties.Login, r.Login)
	require.Equal(t, client.Properties.Host, r.Host)
	require.Equal(t, client.Properties.Version, r.Version)

	h.OnSessionEnd(client, nil)
	err = h.getKv(sessionKey(client), r)
	require.ErrorIs(t, err, badgerdb.ErrKeyNotFound)
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
	require.Equal(t, storage.SysInfoKey, r.T)
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

	err := h.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(storage.SessionKey+"_bad"), []byte("{broken"))
	})
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
