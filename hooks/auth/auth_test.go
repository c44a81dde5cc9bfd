// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package auth

import (
	"log/slog"
	"os"
	"testing"

	"github.com/mochi-mqtt/stomp"
	"github.com/mochi-mqtt/stomp/frames"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

var (
	ledgerStruct = Ledger{
		Auth: AuthRules{
			{Login: "peach", Passcode: "password1", Allow: true},
		},
		ACL: ACLRules{
			{Session: "1", Filters: Filters{"/topic/peach.*": ReadWrite}},
		},
	}

	ledgerJSON = []byte(`{"auth":[{"login":"peach","passcode":"password1","allow":true}],"acl":[{"session":"1","filters":{"/topic/peach.*":3}}]}`)
	ledgerYAML = []byte(`auth:
  - login: peach
    passcode: password1
    allow: true
acl:
  - session: "1"
    filters:
      /topic/peach.*: 3
`)
)

func TestBasicID(t *testing.T) {
	h := new(Hook)
	require.Equal(t, "auth-ledger", h.ID())
}

func TestBasicProvides(t *testing.T) {
	h := new(Hook)
	require.True(t, h.Provides(stomp.OnACLCheck))
	require.True(t, h.Provides(stomp.OnConnectAuthenticate))
	require.False(t, h.Provides(stomp.OnMessage))
}

func TestBasicInitBadConfig(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)

	err := h.Init(map[string]any{})
	require.ErrorIs(t, err, stomp.ErrInvalidConfigType)
}

func TestBasicInitDefaultConfig(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)

	err := h.Init(nil)
	require.NoError(t, err)
	require.NotNil(t, h.ledger)
}

func TestBasicInitTypedNilConfig(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)

	err := h.Init((*Options)(nil))
	require.NoError(t, err)
	require.NotNil(t, h.config)
	require.NotNil(t, h.ledger)
}

func TestBasicInitWithLedgerPointer(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)

	ln := &Ledger{
		Auth: []AuthRule{
			{
				Remote: "127.0.0.1",
				Allow:  true,
			},
		},
		ACL: []ACLRule{
			{
				Remote: "127.0.0.1",
				Filters: Filters{
					"*": ReadWrite,
				},
			},
		},
	}

	err := h.Init(&Options{
		Ledger: ln,
	})

	require.NoError(t, err)
	require.Same(t, ln, h.ledger)
}

func TestBasicInitWithLedgerJSON(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)

	require.Nil(t, h.ledger)
	err := h.Init(&Options{
		Data: ledgerJSON,
	})

	require.NoError(t, err)
	require.Equal(t, ledgerStruct.Auth[0].Login, h.ledger.Auth[0].Login)
	require.Equal(t, ledgerStruct.ACL[0].Session, h.ledger.ACL[0].Session)
	require.Equal(t, ledgerStruct.ACL[0].Filters, h.ledger.ACL[0].Filters)
}

func TestBasicInitWithLedgerYAML(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)

	require.Nil(t, h.ledger)
	err := h.Init(&Options{
		Data: ledgerYAML,
	})

	require.NoError(t, err)
	require.Equal(t, ledgerStruct.Auth[0].Login, h.ledger.Auth[0].Login)
	require.Equal(t, ledgerStruct.ACL[0].Session, h.ledger.ACL[0].Session)
	require.Equal(t, ledgerStruct.ACL[0].Filters, h.ledger.ACL[0].Filters)
}

func TestBasicInitWithLedgerBadData(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)

	require.Nil(t, h.ledger)
	err := h.Init(&Options{
		Data: []byte("fdsfdsafasd"),
	})

	require.Error(t, err)
}

func TestOnConnectAuthenticate(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)

	ln := new(Ledger)
	ln.Auth = checkLedger.Auth
	ln.ACL = checkLedger.ACL
	err := h.Init(
		&Options{
			Ledger: ln,
		},
	)

	require.NoError(t, err)

	require.True(t, h.OnConnectAuthenticate(
		&stomp.Client{},
		connectFrame("mochi", "melon"),
	))

	require.False(t, h.OnConnectAuthenticate(
		&stomp.Client{},
		connectFrame("mochi", "bad-pass"),
	))

	require.False(t, h.OnConnectAuthenticate(
		&stomp.Client{},
		frames.New(frames.Connect),
	))
}

func TestOnACL(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)

	ln := new(Ledger)
	ln.Auth = checkLedger.Auth
	ln.ACL = checkLedger.ACL
	err := h.Init(
		&Options{
			Ledger: ln,
		},
	)

	require.NoError(t, err)

	mochi := &stomp.Client{
		Properties: stomp.ClientProperties{
			Login: "mochi",
		},
	}

	require.True(t, h.OnACLCheck(mochi, "/topic/mochi.info", true))
	require.False(t, h.OnACLCheck(mochi, "/queue/a", true))
	require.True(t, h.OnACLCheck(mochi, "/topic/readonly", false))
	require.False(t, h.OnACLCheck(mochi, "/topic/readonly", true))
}
