// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package debug

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/mochi-mqtt/stomp"
	"github.com/mochi-mqtt/stomp/frames"
	"github.com/mochi-mqtt/stomp/hooks/storage"
	"github.com/mochi-mqtt/stomp/system"
)

// Options contains configuration settings for the debug output.
type Options struct {
	ShowBody      bool `yaml:"show_body" json:"show_body"`           // include frame bodies (default false)
	ShowPasscodes bool `yaml:"show_passcodes" json:"show_passcodes"` // show connecting session passcodes (default false)
}

// Hook is a debugging hook which logs additional low-level information from the server.
type Hook struct {
	stomp.HookBase
	config *Options
	Log    *slog.Logger
}

// ID returns the ID of the hook.
func (h *Hook) ID() string {
	return "debug"
}

// Provides indicates which hook methods this hook provides.
func (h *Hook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		stomp.OnStarted,
		stomp.OnStopped,
		stomp.OnSysInfoTick,
		stomp.OnSessionEstablished,
		stomp.OnSessionEnd,
		stomp.OnSessionError,
		stomp.OnFrameRead,
		stomp.OnFrameSent,
		stomp.OnMessageDropped,
		stomp.OnSubscribed,
		stomp.OnUnsubscribed,
		stomp.StoredSessions,
		stomp.StoredSysInfo,
	}, []byte{b})
}

// Init is called when the hook is initialized.
func (h *Hook) Init(config any) error {
	o, ok := config.(*Options)
	if !ok && config != nil {
		return stomp.ErrInvalidConfigType
	}

	if o == nil {
		o = new(Options)
	}

	h.config = o

	return nil
}

// SetOpts is called when the hook receives inheritable server parameters.
func (h *Hook) SetOpts(l *slog.Logger, opts *stomp.HookOptions) {
	h.Log = l
	h.Log.Debug("", "method", "SetOpts")
}

// Stop is called when the hook is stopped.
func (h *Hook) Stop() error {
	h.Log.Debug("", "method", "Stop")
	return nil
}

// OnStarted is called when the server starts.
func (h *Hook) OnStarted() {
	h.Log.Debug("", "method", "OnStarted")
}

// OnStopped is called when the server stops.
func (h *Hook) OnStopped() {
	h.Log.Debug("", "method", "OnStopped")
}

// OnSessionEstablished is called when a session has been sent CONNECTED.
func (h *Hook) OnSessionEstablished(cl *stomp.Client, f *frames.Frame) {
	h.Log.Debug("session established",
		"method", "OnSessionEstablished",
		"client", cl.ID,
		"version", cl.Properties.Version,
		"remote", cl.Net.Remote)
}

// OnSessionEnd is called when a session has ended.
func (h *Hook) OnSessionEnd(cl *stomp.Client, err error) {
	h.Log.Debug("session ended", "method", "OnSessionEnd", "client", cl.ID, "error", err)
}

// OnSessionError is called when a session reports a protocol or transport error.
func (h *Hook) OnSessionError(cl *stomp.Client, err error) {
	h.Log.Debug("session error", "method", "OnSessionError", "client", cl.ID, "error", err)
}

// OnFrameRead is called when a new frame is received from a session.
func (h *Hook) OnFrameRead(cl *stomp.Client, f *frames.Frame) {
	h.Log.Debug(fmt.Sprintf("%s << %s", f.Command, cl.ID), "m", h.frameMeta(f))
}

// OnFrameSent is called when a frame is sent to a session.
func (h *Hook) OnFrameSent(cl *stomp.Client, f *frames.Frame, b []byte) {
	h.Log.Debug(fmt.Sprintf("%s >> %s", f.Command, cl.ID), "m", h.frameMeta(f), "bytes", len(b))
}

// OnMessageDropped is called when a message could not be queued for a subscriber.
func (h *Hook) OnMessageDropped(cl *stomp.Client, sub *stomp.Subscription, f *frames.Frame) {
	h.Log.Debug("message dropped",
		"method", "OnMessageDropped",
		"client", cl.ID,
		"subscription", sub.ID,
		"destination", sub.Destination)
}

// OnSubscribed is called when a subscription has been added.
func (h *Hook) OnSubscribed(cl *stomp.Client, sub *stomp.Subscription) {
	h.Log.Debug("subscribed",
		"method", "OnSubscribed",
		"client", cl.ID,
		"subscription", sub.ID,
		"destination", sub.Destination,
		"ack", sub.Ack)
}

// OnUnsubscribed is called when a subscription has been removed.
func (h *Hook) OnUnsubscribed(cl *stomp.Client, sub *stomp.Subscription) {
	h.Log.Debug("unsubscribed",
		"method", "OnUnsubscribed",
		"client", cl.ID,
		"subscription", sub.ID,
		"destination", sub.Destination)
}

// StoredSessions is called when the server restores sessions from a store.
func (h *Hook) StoredSessions() (v []storage.Session, err error) {
	h.Log.Debug("", "method", "StoredSessions")
	return v, nil
}

// StoredSysInfo is called when the server restores system info from a store.
func (h *Hook) StoredSysInfo() (v storage.SystemInfo, err error) {
	h.Log.Debug("", "method", "StoredSysInfo")
	return v, nil
}

// OnSysInfoTick is called when the server publishes its $SYS values.
func (h *Hook) OnSysInfoTick(info *system.Info) {
	h.Log.Debug("", "method", "OnSysInfoTick", "clients_connected", info.ClientsConnected)
}

// frameMeta returns the headers of a frame for the debug logs, with the body and
// passcode included only when configured.
func (h *Hook) frameMeta(f *frames.Frame) map[string]any {
	m := map[string]any{}
	for k, v := range f.Headers.Map() {
		m[k] = v
	}

	if _, ok := m[frames.HeaderPasscode]; ok && !h.config.ShowPasscodes {
		m[frames.HeaderPasscode] = "********"
	}

	if h.config.ShowBody && len(f.Body) > 0 {
		m["body"] = string(f.Body)
	}

	return m
}
