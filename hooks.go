// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, thedevop, dgduncan

package stomp

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mochi-mqtt/stomp/frames"
	"github.com/mochi-mqtt/stomp/hooks/storage"
	"github.com/mochi-mqtt/stomp/system"
)

const (
	SetOptions byte = iota
	OnSysInfoTick
	OnStarted
	OnStopped
	OnConnectAuthenticate
	OnACLCheck
	OnConnect
	OnSessionEstablished
	OnDisconnect
	OnSessionEnd
	OnSessionError
	OnFrameRead
	OnFrameSent
	OnMessage
	OnMessageDropped
	OnSubscribe
	OnSubscribed
	OnUnsubscribe
	OnUnsubscribed
	OnAck
	OnBegin
	OnCommit
	OnAbort
	StoredSessions
	StoredSysInfo
)

var (
	// ErrInvalidConfigType indicates a different Type of config value was expected to what was received.
	ErrInvalidConfigType = errors.New("invalid config type provided")
)

// Hook provides an interface of handlers for different events which occur
// during the lifecycle of the broker.
type Hook interface {
	ID() string
	Provides(b byte) bool
	Init(config any) error
	Stop() error
	SetOpts(l *slog.Logger, o *HookOptions)
	OnStarted()
	OnStopped()
	OnSysInfoTick(*system.Info)
	OnConnectAuthenticate(cl *Client, f *frames.Frame) bool
	OnACLCheck(cl *Client, destination string, write bool) bool
	OnConnect(cl *Client, f *frames.Frame) error
	OnSessionEstablished(cl *Client, f *frames.Frame)
	OnDisconnect(cl *Client, f *frames.Frame)
	OnSessionEnd(cl *Client, err error)
	OnSessionError(cl *Client, err error)
	OnFrameRead(cl *Client, f *frames.Frame)                     // triggers when a frame has been decoded, before it is dispatched
	OnFrameSent(cl *Client, f *frames.Frame, b []byte)           // triggers when frame bytes have been written to the client
	OnMessage(cl *Client, f *frames.Frame) (*frames.Frame, error) // may modify or reject a SEND frame before it is routed
	OnMessageDropped(cl *Client, sub *Subscription, f *frames.Frame)
	OnSubscribe(cl *Client, sub *Subscription) error
	OnSubscribed(cl *Client, sub *Subscription)
	OnUnsubscribe(cl *Client, sub *Subscription) error
	OnUnsubscribed(cl *Client, sub *Subscription)
	OnAck(cl *Client, ack Acknowledge) error
	OnBegin(cl *Client, transaction string) error
	OnCommit(cl *Client, transaction string) error
	OnAbort(cl *Client, transaction string) error
	StoredSessions() ([]storage.Session, error)
	StoredSysInfo() (storage.SystemInfo, error)
}

// HookOptions contains values which are inherited from the server on initialisation.
type HookOptions struct {
	Capabilities *Capabilities
}

// HookLoadConfig contains the hook and configuration as loaded from a configuration (usually file).
type HookLoadConfig struct {
	Hook   Hook
	Config any
}

// Hooks is a slice of Hook interfaces to be called in sequence.
type Hooks struct {
	Log        *slog.Logger   // a logger for the hook (from the server)
	internal   atomic.Value   // a slice of []Hook
	wg         sync.WaitGroup // a waitgroup for syncing hook shutdown
	qty        int64          // the number of hooks in use
	sync.Mutex                // a mutex for locking when adding hooks
}

// Len returns the number of hooks added.
func (h *Hooks) Len() int64 {
	return atomic.LoadInt64(&h.qty)
}

// Provides returns true if any one hook provides any of the requested hook methods.
func (h *Hooks) Provides(b ...byte) bool {
	for _, hook := range h.GetAll() {
		for _, hb := range b {
			if hook.Provides(hb) {
				return true
			}
		}
	}

	return false
}

// Add adds and initializes a new hook.
func (h *Hooks) Add(hook Hook, config any) error {
	h.Lock()
	defer h.Unlock()

	err := hook.Init(config)
	if err != nil {
		return fmt.Errorf("failed initialising %s hook: %w", hook.ID(), err)
	}

	i, ok := h.internal.Load().([]Hook)
	if !ok {
		i = []Hook{}
	}

	i = append(i, hook)
	h.internal.Store(i)
	atomic.AddInt64(&h.qty, 1)
	h.wg.Add(1)

	return nil
}

// GetAll returns a slice of all the hooks.
func (h *Hooks) GetAll() []Hook {
	i, ok := h.internal.Load().([]Hook)
	if !ok {
		return []Hook{}
	}

	return i
}

// Stop indicates all attached hooks to gracefully end.
func (h *Hooks) Stop() {
	go func() {
		for _, hook := range h.GetAll() {
			h.Log.Info("stopping hook", "hook", hook.ID())
			if err := hook.Stop(); err != nil {
				h.Log.Debug("problem stopping hook", "error", err, "hook", hook.ID())
			}

			h.wg.Done()
		}
	}()

	h.wg.Wait()
}

// OnSysInfoTick is called when the $SYS destination values are published out.
func (h *Hooks) OnSysInfoTick(sys *system.Info) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnSysInfoTick) {
			hook.OnSysInfoTick(sys)
		}
	}
}

// OnStarted is called when the server has successfully started.
func (h *Hooks) OnStarted() {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnStarted) {
			hook.OnStarted()
		}
	}
}

// OnStopped is called when the server has successfully stopped.
func (h *Hooks) OnStopped() {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnStopped) {
			hook.OnStopped()
		}
	}
}

// OnConnectAuthenticate is called when a session attempts to authenticate with the
// server. An implementation of this method MUST be used to allow or deny access to
// the server (see hooks/auth/allow_all or ledger).
func (h *Hooks) OnConnectAuthenticate(cl *Client, f *frames.Frame) bool {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnConnectAuthenticate) {
			if ok := hook.OnConnectAuthenticate(cl, f); ok {
				return true
			}
		}
	}

	return false
}

// OnACLCheck is called when a session attempts to send or subscribe to a destination.
// An implementation of this method MUST be used to allow or deny access
// (see hooks/auth/allow_all or ledger).
func (h *Hooks) OnACLCheck(cl *Client, destination string, write bool) bool {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnACLCheck) {
			if ok := hook.OnACLCheck(cl, destination, write); ok {
				return true
			}
		}
	}

	return false
}

// OnConnect is called when a session has been authenticated, and may return an error
// to refuse the connection.
func (h *Hooks) OnConnect(cl *Client, f *frames.Frame) error {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnConnect) {
			if err := hook.OnConnect(cl, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnSessionEstablished is called when the CONNECTED frame has been sent.
func (h *Hooks) OnSessionEstablished(cl *Client, f *frames.Frame) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnSessionEstablished) {
			hook.OnSessionEstablished(cl, f)
		}
	}
}

// OnDisconnect is called when a session sends a DISCONNECT frame.
func (h *Hooks) OnDisconnect(cl *Client, f *frames.Frame) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnDisconnect) {
			hook.OnDisconnect(cl, f)
		}
	}
}

// OnSessionEnd is called when the connection of a session has ended for any reason.
func (h *Hooks) OnSessionEnd(cl *Client, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnSessionEnd) {
			hook.OnSessionEnd(cl, err)
		}
	}
}

// OnSessionError is called when a session reports a protocol violation or transport fault.
func (h *Hooks) OnSessionError(cl *Client, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnSessionError) {
			hook.OnSessionError(cl, err)
		}
	}
}

// OnFrameRead is called when a frame is received from a session.
func (h *Hooks) OnFrameRead(cl *Client, f *frames.Frame) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnFrameRead) {
			hook.OnFrameRead(cl, f)
		}
	}
}

// OnFrameSent is called when a frame has been written to a session.
func (h *Hooks) OnFrameSent(cl *Client, f *frames.Frame, b []byte) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnFrameSent) {
			hook.OnFrameSent(cl, f, b)
		}
	}
}

// OnMessage is called when a session sends a message. The frame returned by each
// hook is passed to the next in the order the hooks were attached. Any error rejects
// the message.
func (h *Hooks) OnMessage(cl *Client, f *frames.Frame) (*frames.Frame, error) {
	fx := f
	for _, hook := range h.GetAll() {
		if hook.Provides(OnMessage) {
			nf, err := hook.OnMessage(cl, fx)
			if err != nil {
				h.Log.Debug("message rejected", "error", err, "hook", hook.ID(), "frame", fx)
				return f, err
			}

			if nf != nil {
				fx = nf
			}
		}
	}

	return fx, nil
}

// OnMessageDropped is called when a message could not be queued for a subscriber.
func (h *Hooks) OnMessageDropped(cl *Client, sub *Subscription, f *frames.Frame) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnMessageDropped) {
			hook.OnMessageDropped(cl, sub, f)
		}
	}
}

// OnSubscribe is called when a session subscribes, and may return an error to
// reject the subscription.
func (h *Hooks) OnSubscribe(cl *Client, sub *Subscription) error {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnSubscribe) {
			if err := hook.OnSubscribe(cl, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnSubscribed is called when a subscription has been added to the registry.
func (h *Hooks) OnSubscribed(cl *Client, sub *Subscription) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnSubscribed) {
			hook.OnSubscribed(cl, sub)
		}
	}
}

// OnUnsubscribe is called when a session unsubscribes, and may return an error to
// keep the subscription.
func (h *Hooks) OnUnsubscribe(cl *Client, sub *Subscription) error {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnUnsubscribe) {
			if err := hook.OnUnsubscribe(cl, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnUnsubscribed is called when a subscription has been removed from the registry.
func (h *Hooks) OnUnsubscribed(cl *Client, sub *Subscription) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnUnsubscribed) {
			hook.OnUnsubscribed(cl, sub)
		}
	}
}

// OnAck is called when a session acknowledges (ACK) or rejects (NACK) a message.
// The broker does not redeliver; hooks own any acknowledgement policy.
func (h *Hooks) OnAck(cl *Client, ack Acknowledge) error {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnAck) {
			if err := hook.OnAck(cl, ack); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnBegin is called when a session begins a transaction.
func (h *Hooks) OnBegin(cl *Client, tx string) error {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnBegin) {
			if err := hook.OnBegin(cl, tx); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnCommit is called when a session commits a transaction.
func (h *Hooks) OnCommit(cl *Client, tx string) error {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnCommit) {
			if err := hook.OnCommit(cl, tx); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnAbort is called when a session aborts a transaction.
func (h *Hooks) OnAbort(cl *Client, tx string) error {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnAbort) {
			if err := hook.OnAbort(cl, tx); err != nil {
				return err
			}
		}
	}
	return nil
}

// StoredSessions returns the session records left in a persistent store, and is
// used to continue the session id sequence after a restart.
func (h *Hooks) StoredSessions() (v []storage.Session, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(StoredSessions) {
			v, err := hook.StoredSessions()
			if err != nil {
				h.Log.Error("failed to load sessions", "error", err, "hook", hook.ID())
				return v, err
			}

			if len(v) > 0 {
				return v, nil
			}
		}
	}

	return
}

// StoredSysInfo returns a set of system info values.
func (h *Hooks) StoredSysInfo() (v storage.SystemInfo, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(StoredSysInfo) {
			v, err := hook.StoredSysInfo()
			if err != nil {
				h.Log.Error("failed to load $SYS info", "error", err, "hook", hook.ID())
				return v, err
			}

			if v.Version != "" {
				return v, nil
			}
		}
	}

	return
}

// HookBase provides a set of default methods for each hook. It should be embedded in
// all hooks.
type HookBase struct {
	Hook
	Log  *slog.Logger
	Opts *HookOptions
}

// ID returns the ID of the hook.
func (h *HookBase) ID() string {
	return "base"
}

// Provides indicates which methods a hook provides. The default is none - this method
// should be overridden by the embedding hook.
func (h *HookBase) Provides(b byte) bool {
	return false
}

// Init performs any pre-start initializations for the hook, such as connecting to databases
// or opening files.
func (h *HookBase) Init(config any) error {
	return nil
}

// SetOpts is called by the server to propagate internal values and generally should
// not be called manually.
func (h *HookBase) SetOpts(l *slog.Logger, opts *HookOptions) {
	h.Log = l
	h.Opts = opts
}

// Stop is called to gracefully shut down the hook.
func (h *HookBase) Stop() error {
	return nil
}

func (h *HookBase) OnStarted()                                                      {}
func (h *HookBase) OnStopped()                                                      {}
func (h *HookBase) OnSysInfoTick(*system.Info)                                      {}
func (h *HookBase) OnSessionEstablished(cl *Client, f *frames.Frame)                {}
func (h *HookBase) OnDisconnect(cl *Client, f *frames.Frame)                        {}
func (h *HookBase) OnSessionEnd(cl *Client, err error)                              {}
func (h *HookBase) OnSessionError(cl *Client, err error)                            {}
func (h *HookBase) OnFrameRead(cl *Client, f *frames.Frame)                         {}
func (h *HookBase) OnFrameSent(cl *Client, f *frames.Frame, b []byte)               {}
func (h *HookBase) OnMessageDropped(cl *Client, sub *Subscription, f *frames.Frame) {}
func (h *HookBase) OnSubscribed(cl *Client, sub *Subscription)                      {}
func (h *HookBase) OnUnsubscribed(cl *Client, sub *Subscription)                    {}

// OnConnectAuthenticate is called when a user attempts to authenticate with the server.
func (h *HookBase) OnConnectAuthenticate(cl *Client, f *frames.Frame) bool {
	return false
}

// OnACLCheck is called when a user attempts to send or subscribe to a destination.
func (h *HookBase) OnACLCheck(cl *Client, destination string, write bool) bool {
	return false
}

// OnConnect is called when a new session connects.
func (h *HookBase) OnConnect(cl *Client, f *frames.Frame) error {
	return nil
}

// OnMessage is called when a session sends a message.
func (h *HookBase) OnMessage(cl *Client, f *frames.Frame) (*frames.Frame, error) {
	return f, nil
}

func (h *HookBase) OnSubscribe(cl *Client, sub *Subscription) error   { return nil }
func (h *HookBase) OnUnsubscribe(cl *Client, sub *Subscription) error { return nil }
func (h *HookBase) OnAck(cl *Client, ack Acknowledge) error           { return nil }
func (h *HookBase) OnBegin(cl *Client, transaction string) error      { return nil }
func (h *HookBase) OnCommit(cl *Client, transaction string) error     { return nil }
func (h *HookBase) OnAbort(cl *Client, transaction string) error      { return nil }

// StoredSessions returns all stored sessions.
func (h *HookBase) StoredSessions() (v []storage.Session, err error) {
	return
}

// StoredSysInfo returns a set of system info values.
func (h *HookBase) StoredSysInfo() (v storage.SystemInfo, err error) {
	return
}
