// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package stomp

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mochi-mqtt/stomp/frames"
	"github.com/mochi-mqtt/stomp/session"
)

// AckMode is the acknowledgement mode requested by a subscription.
type AckMode string

const (
	AckAuto             AckMode = "auto"
	AckClient           AckMode = "client"
	AckClientIndividual AckMode = "client-individual"
)

var (
	ErrSubscriptionExists   = errors.New("subscription already exists")   // a session reused a subscription id
	ErrSubscriptionNotFound = errors.New("subscription not found")        // no subscription matched an unsubscribe
	ErrInvalidAckMode       = errors.New("invalid subscription ack mode") // the ack header held an unknown mode
)

// ParseAckMode returns the ack mode of a SUBSCRIBE ack header. An empty value is auto.
func ParseAckMode(v string) (AckMode, error) {
	switch AckMode(v) {
	case "", AckAuto:
		return AckAuto, nil
	case AckClient, AckClientIndividual:
		return AckMode(v), nil
	}

	return "", &frames.Error{
		Message: fmt.Sprintf("Invalid ack mode '%s'", v),
		Err:     ErrInvalidAckMode,
	}
}

// Subscription is a single subscription of a session to a destination.
type Subscription struct {
	ID          string  `json:"id"`          // the subscription id, or the destination for 1.0 subscriptions without one
	Destination string  `json:"destination"` // the destination subscribed to
	Ack         AckMode `json:"ack"`         // the acknowledgement mode
	Session     string  `json:"session"`     // the id of the owning session
}

// SubscriptionKey returns the key a SUBSCRIBE or UNSUBSCRIBE frame refers to: the id
// header, or the destination when no id is given.
func SubscriptionKey(f *frames.Frame) string {
	if id, ok := f.Headers.Lookup(frames.HeaderID); ok {
		return id
	}
	return f.Headers.Get(frames.HeaderDestination)
}

// Acknowledge is an ACK or NACK frame normalized across protocol versions.
type Acknowledge struct {
	Value        bool   // true for ACK, false for NACK
	MessageID    string // the message being acknowledged
	Subscription string // the subscription the message was delivered on, if known
	Transaction  string // the transaction the acknowledgement is part of, if any
}

// NewAcknowledge builds an Acknowledge from an ACK or NACK frame. Version 1.2 names
// the message with the id header; earlier versions use message-id and subscription.
func NewAcknowledge(version string, f *frames.Frame) Acknowledge {
	ack := Acknowledge{
		Value:       f.Command == frames.Ack,
		Transaction: f.Headers.Get(frames.HeaderTransaction),
	}

	if version == session.Version12 {
		ack.MessageID = f.Headers.Get(frames.HeaderID)
	} else {
		ack.MessageID = f.Headers.Get(frames.HeaderMessageID)
		ack.Subscription = f.Headers.Get(frames.HeaderSubscription)
	}

	return ack
}

// Subscriptions is the broker registry of subscriptions, indexed both by session
// and by destination. A single lock covers both indices so they always agree.
type Subscriptions struct {
	sync.RWMutex
	sessions     map[string]map[string]*Subscription // session id > subscription id > subscription
	destinations map[string]map[string]int           // destination > session id > subscriptions held
	count        int
}

// NewSubscriptions returns a new instance of Subscriptions.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		sessions:     map[string]map[string]*Subscription{},
		destinations: map[string]map[string]int{},
	}
}

// Subscribe adds a subscription to both indices. A subscription id already in use
// by the session is rejected and neither index is changed.
func (s *Subscriptions) Subscribe(sub *Subscription) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.sessions[sub.Session][sub.ID]; ok {
		return &frames.Error{
			Message: fmt.Sprintf("Subscription ID %s already found for session '%s'", sub.ID, sub.Session),
			Err:     ErrSubscriptionExists,
		}
	}

	subs, ok := s.sessions[sub.Session]
	if !ok {
		subs = map[string]*Subscription{}
		s.sessions[sub.Session] = subs
	}
	subs[sub.ID] = sub

	d, ok := s.destinations[sub.Destination]
	if !ok {
		d = map[string]int{}
		s.destinations[sub.Destination] = d
	}
	d[sub.Session]++
	s.count++

	return nil
}

// Unsubscribe removes a subscription from both indices, returning the removed subscription.
func (s *Subscriptions) Unsubscribe(sessionID, id string) (*Subscription, error) {
	s.Lock()
	defer s.Unlock()

	sub, ok := s.sessions[sessionID][id]
	if !ok {
		return nil, &frames.Error{
			Message: fmt.Sprintf("Subscription not found for id '%s'", id),
			Err:     ErrSubscriptionNotFound,
		}
	}

	s.remove(sub)
	return sub, nil
}

// remove deletes a subscription from both indices, dropping emptied entries.
func (s *Subscriptions) remove(sub *Subscription) {
	subs := s.sessions[sub.Session]
	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(s.sessions, sub.Session)
	}

	d := s.destinations[sub.Destination]
	d[sub.Session]--
	if d[sub.Session] <= 0 {
		delete(d, sub.Session)
	}
	if len(d) == 0 {
		delete(s.destinations, sub.Destination)
	}

	s.count--
}

// Get returns a subscription of a session.
func (s *Subscriptions) Get(sessionID, id string) (*Subscription, bool) {
	s.RLock()
	defer s.RUnlock()
	sub, ok := s.sessions[sessionID][id]
	return sub, ok
}

// Len returns the number of subscriptions in the registry.
func (s *Subscriptions) Len() int {
	s.RLock()
	defer s.RUnlock()
	return s.count
}

// RemoveSession removes every subscription owned by a session, returning the number removed.
func (s *Subscriptions) RemoveSession(sessionID string) int {
	s.Lock()
	defer s.Unlock()

	subs := s.sessions[sessionID]
	n := 0
	for _, sub := range subs {
		s.remove(sub)
		n++
	}

	delete(s.sessions, sessionID)
	return n
}

// ForDestination calls visit for every subscription on a destination across all
// sessions, until visit returns false. The subscriptions are collected before the
// first call, so visit may safely call back into the registry.
func (s *Subscriptions) ForDestination(destination string, visit func(sessionID string, sub *Subscription) bool) {
	for _, sub := range s.snapshot(destination, "") {
		if !visit(sub.Session, sub) {
			return
		}
	}
}

// ForSessionDestination calls visit for every subscription a session holds on a
// destination, in subscription id order, until visit returns false.
func (s *Subscriptions) ForSessionDestination(sessionID, destination string, visit func(sessionID string, sub *Subscription) bool) {
	for _, sub := range s.snapshot(destination, sessionID) {
		if !visit(sub.Session, sub) {
			return
		}
	}
}

// snapshot returns the subscriptions on a destination, optionally limited to one
// session, ordered by session and subscription id.
func (s *Subscriptions) snapshot(destination, sessionID string) []*Subscription {
	s.RLock()
	defer s.RUnlock()

	d := s.destinations[destination]
	out := make([]*Subscription, 0, len(d))
	for sid := range d {
		if sessionID != "" && sid != sessionID {
			continue
		}

		for _, sub := range s.sessions[sid] {
			if sub.Destination == destination {
				out = append(out, sub)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Session != out[j].Session {
			return out[i].Session < out[j].Session
		}
		return out[i].ID < out[j].ID
	})

	return out
}
