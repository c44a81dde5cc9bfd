// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package auth

import (
	"bytes"

	"github.com/mochi-mqtt/stomp"
	"github.com/mochi-mqtt/stomp/frames"
)

// Options contains the configuration/rules data for the auth ledger.
type Options struct {
	Data   []byte
	Ledger *Ledger
}

// Hook is an authentication hook which implements an auth ledger.
type Hook struct {
	stomp.HookBase
	config *Options
	ledger *Ledger
}

// ID returns the ID of the hook.
func (h *Hook) ID() string {
	return "auth-ledger"
}

// Provides indicates which hook methods this hook provides.
func (h *Hook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		stomp.OnConnectAuthenticate,
		stomp.OnACLCheck,
	}, []byte{b})
}

// Init configures the hook with the auth ledger to be used for checking.
func (h *Hook) Init(config any) error {
	o, ok := config.(*Options)
	if !ok && config != nil {
		return stomp.ErrInvalidConfigType
	}

	if o == nil {
		o = new(Options)
	}

	h.config = o

	var err error
	if h.config.Ledger != nil {
		h.ledger = h.config.Ledger
	} else if len(h.config.Data) > 0 {
		h.ledger = new(Ledger)
		err = h.ledger.Unmarshal(h.config.Data)
	}
	if err != nil {
		return err
	}

	if h.ledger == nil {
		h.ledger = &Ledger{
			Auth: AuthRules{},
			ACL:  ACLRules{},
		}
	}

	h.Log.Info("loaded auth rules",
		"users", len(h.ledger.Users),
		"authentication", len(h.ledger.Auth),
		"acl", len(h.ledger.ACL))

	return nil
}

// OnConnectAuthenticate returns true if the connecting session has rules which provide access
// in the auth ledger.
func (h *Hook) OnConnectAuthenticate(cl *stomp.Client, f *frames.Frame) bool {
	if _, ok := h.ledger.AuthOk(cl, f); ok {
		return true
	}

	h.Log.Info("client failed authentication check",
		"login", f.Headers.Get(frames.HeaderLogin),
		"remote", cl.Net.Remote)

	return false
}

// OnACLCheck returns true if the session has matching read or write access to subscribe
// or send to a given destination.
func (h *Hook) OnACLCheck(cl *stomp.Client, destination string, write bool) bool {
	if _, ok := h.ledger.ACLOk(cl, destination, write); ok {
		return true
	}

	h.Log.Debug("client failed allowed ACL check",
		"client", cl.ID,
		"login", cl.Properties.Login,
		"destination", destination)

	return false
}
