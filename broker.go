// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package stomp

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mochi-mqtt/stomp/frames"
)

// brokerListener handles the commands of a single session on behalf of the server.
// Its methods are called by the session one frame at a time.
type brokerListener struct {
	s  *Server
	cl *Client
}

// Connect authenticates the session, enforces the session limit and replies with a
// CONNECTED frame.
func (b *brokerListener) Connect(f *frames.Frame) error {
	s, cl := b.s, b.cl
	cl.Properties = ClientProperties{
		Login:   f.Headers.Get(frames.HeaderLogin),
		Host:    f.Headers.Get(frames.HeaderHost),
		Version: cl.Session.Version(),
	}

	if !s.hooks.OnConnectAuthenticate(cl, f) {
		return ErrNotAuthorized
	}

	if atomic.LoadInt64(&s.Info.ClientsConnected) >= s.Options.Capabilities.MaximumSessions {
		return ErrServerBusy
	}

	if err := s.hooks.OnConnect(cl, f); err != nil {
		return err
	}

	err := cl.Session.Connected(frames.NewHeaders(
		frames.HeaderSession, cl.ID,
		frames.HeaderServer, ServerName+"/"+Version,
	))
	if err != nil {
		return err
	}

	cl.connected.Store(time.Now().Unix())
	n := atomic.AddInt64(&s.Info.ClientsConnected, 1)
	for {
		peak := atomic.LoadInt64(&s.Info.ClientsMaximum)
		if n <= peak || atomic.CompareAndSwapInt64(&s.Info.ClientsMaximum, peak, n) {
			break
		}
	}

	s.hooks.OnSessionEstablished(cl, f)
	return nil
}

// Send routes a message to every subscription on its destination.
func (b *brokerListener) Send(f *frames.Frame) error {
	s, cl := b.s, b.cl
	destination := f.Headers.Get(frames.HeaderDestination)
	if !s.hooks.OnACLCheck(cl, destination, true) {
		return accessDenied("send to", destination)
	}

	atomic.AddInt64(&s.Info.MessagesReceived, 1)
	nf, err := s.hooks.OnMessage(cl, f)
	if err != nil {
		return err
	}

	s.publishToSubscribers(nf)
	return nil
}

// Subscribe adds a subscription to the registry.
func (b *brokerListener) Subscribe(f *frames.Frame) error {
	s, cl := b.s, b.cl
	destination := f.Headers.Get(frames.HeaderDestination)
	ack, err := ParseAckMode(f.Headers.Get(frames.HeaderAck))
	if err != nil {
		return err
	}

	if !s.hooks.OnACLCheck(cl, destination, false) {
		return accessDenied("subscribe to", destination)
	}

	sub := &Subscription{
		ID:          SubscriptionKey(f),
		Destination: destination,
		Ack:         ack,
		Session:     cl.ID,
	}

	if err := s.hooks.OnSubscribe(cl, sub); err != nil {
		return err
	}

	if err := s.Subscriptions.Subscribe(sub); err != nil {
		return err
	}

	atomic.AddInt64(&s.Info.Subscriptions, 1)
	s.hooks.OnSubscribed(cl, sub)
	return nil
}

// Unsubscribe removes a subscription from the registry. Without an id header, the
// subscription keyed on the destination is used, or else the one with the lowest id
// the session holds on the destination, matching the session's own choice.
func (b *brokerListener) Unsubscribe(f *frames.Frame) error {
	s, cl := b.s, b.cl

	sub, ok := b.subscription(f)
	if !ok {
		return &frames.Error{
			Message: fmt.Sprintf("Subscription not found for '%s'", SubscriptionKey(f)),
			Err:     ErrSubscriptionNotFound,
		}
	}

	if err := s.hooks.OnUnsubscribe(cl, sub); err != nil {
		return err
	}

	if _, err := s.Subscriptions.Unsubscribe(cl.ID, sub.ID); err != nil {
		return err
	}

	atomic.AddInt64(&s.Info.Subscriptions, -1)
	s.hooks.OnUnsubscribed(cl, sub)
	return nil
}

// subscription returns the subscription an UNSUBSCRIBE frame refers to.
func (b *brokerListener) subscription(f *frames.Frame) (*Subscription, bool) {
	s, cl := b.s, b.cl
	if id, ok := f.Headers.Lookup(frames.HeaderID); ok {
		return s.Subscriptions.Get(cl.ID, id)
	}

	destination := f.Headers.Get(frames.HeaderDestination)
	if sub, ok := s.Subscriptions.Get(cl.ID, destination); ok && sub.Destination == destination {
		return sub, true
	}

	var found *Subscription
	s.Subscriptions.ForSessionDestination(cl.ID, destination, func(_ string, sub *Subscription) bool {
		found = sub
		return false
	})

	return found, found != nil
}

// Begin passes a new transaction to the hooks.
func (b *brokerListener) Begin(f *frames.Frame) error {
	if err := b.s.hooks.OnBegin(b.cl, f.Headers.Get(frames.HeaderTransaction)); err != nil {
		return err
	}

	atomic.AddInt64(&b.s.Info.Transactions, 1)
	return nil
}

// Commit passes a committed transaction to the hooks.
func (b *brokerListener) Commit(f *frames.Frame) error {
	if err := b.s.hooks.OnCommit(b.cl, f.Headers.Get(frames.HeaderTransaction)); err != nil {
		return err
	}

	atomic.AddInt64(&b.s.Info.Transactions, -1)
	return nil
}

// Abort passes an aborted transaction to the hooks.
func (b *brokerListener) Abort(f *frames.Frame) error {
	if err := b.s.hooks.OnAbort(b.cl, f.Headers.Get(frames.HeaderTransaction)); err != nil {
		return err
	}

	atomic.AddInt64(&b.s.Info.Transactions, -1)
	return nil
}

func (b *brokerListener) Ack(f *frames.Frame) error {
	return b.s.hooks.OnAck(b.cl, NewAcknowledge(b.cl.Session.Version(), f))
}

func (b *brokerListener) Nack(f *frames.Frame) error {
	return b.s.hooks.OnAck(b.cl, NewAcknowledge(b.cl.Session.Version(), f))
}

// Disconnect notifies the hooks; the session closes the connection once any receipt is sent.
func (b *brokerListener) Disconnect(f *frames.Frame) error {
	b.s.hooks.OnDisconnect(b.cl, f)
	return nil
}

// OnProtocolError is called for every error the session reports to the client.
func (b *brokerListener) OnProtocolError(err error) {
	atomic.AddInt64(&b.s.Info.ProtocolErrors, 1)
	b.s.hooks.OnSessionError(b.cl, err)
}

// OnEnd removes the session and everything it owns from the broker.
func (b *brokerListener) OnEnd(err error) {
	s, cl := b.s, b.cl

	n := s.Subscriptions.RemoveSession(cl.ID)
	atomic.AddInt64(&s.Info.Subscriptions, -int64(n))
	atomic.AddInt64(&s.Info.Transactions, -int64(cl.Session.Transactions()))
	s.Clients.Delete(cl.ID)

	if cl.Connected() > 0 {
		atomic.AddInt64(&s.Info.ClientsConnected, -1)
	}

	s.hooks.OnSessionEnd(cl, err)
}

// accessDenied returns the error sent when an acl check refuses a destination.
func accessDenied(action, destination string) error {
	return &frames.Error{
		Message: "Access denied",
		Details: fmt.Sprintf("Not authorized to %s '%s'", action, destination),
		Err:     ErrAccessDenied,
	}
}

// clientObserver counts the traffic of a session and passes every frame to the hooks.
type clientObserver struct {
	frames.ObserverBase
	s  *Server
	cl *Client
}

func (o *clientObserver) OnData(b []byte) {
	atomic.AddInt64(&o.s.Info.BytesReceived, int64(len(b)))
}

func (o *clientObserver) OnFrame(f *frames.Frame) {
	atomic.AddInt64(&o.s.Info.FramesReceived, 1)
	o.s.hooks.OnFrameRead(o.cl, f)
}

func (o *clientObserver) OnSent(f *frames.Frame, b []byte) {
	atomic.AddInt64(&o.s.Info.FramesSent, 1)
	atomic.AddInt64(&o.s.Info.BytesSent, int64(len(b)))
	o.s.hooks.OnFrameSent(o.cl, f, b)
}
