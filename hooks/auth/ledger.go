// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package auth

import (
	"encoding/json"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mochi-mqtt/stomp"
	"github.com/mochi-mqtt/stomp/frames"
)

const (
	Deny      Access = iota // login cannot access the destination
	ReadOnly                // login can only subscribe to the destination
	WriteOnly               // login can only send to the destination
	ReadWrite               // login can both send and subscribe to the destination
)

// Access determines the read/write privileges for an ACL rule.
type Access byte

// Users contains a map of access rules for specific logins, keyed on login.
type Users map[string]UserRule

// UserRule defines a set of access rules for a specific login.
type UserRule struct {
	Login    RString `json:"login,omitempty" yaml:"login,omitempty"`       // the login of a user
	Passcode RString `json:"passcode,omitempty" yaml:"passcode,omitempty"` // the passcode of a user
	ACL      Filters `json:"acl,omitempty" yaml:"acl,omitempty"`           // filters to match, if desired
	Disallow bool    `json:"disallow,omitempty" yaml:"disallow,omitempty"` // allow or disallow the user
}

// AuthRules defines generic access rules applicable to all logins.
type AuthRules []AuthRule

type AuthRule struct {
	Session  RString `json:"session,omitempty" yaml:"session,omitempty"`   // the broker assigned session id
	Login    RString `json:"login,omitempty" yaml:"login,omitempty"`       // the login of a user
	Remote   RString `json:"remote,omitempty" yaml:"remote,omitempty"`     // remote address or
	Passcode RString `json:"passcode,omitempty" yaml:"passcode,omitempty"` // the passcode of a user
	Allow    bool    `json:"allow,omitempty" yaml:"allow,omitempty"`       // allow or disallow the users
}

// ACLRules defines generic destination access rules applicable to all logins.
type ACLRules []ACLRule

// ACLRule defines access rules for a set of destinations.
type ACLRule struct {
	Session RString `json:"session,omitempty" yaml:"session,omitempty"` // the broker assigned session id
	Login   RString `json:"login,omitempty" yaml:"login,omitempty"`     // the login of a user
	Remote  RString `json:"remote,omitempty" yaml:"remote,omitempty"`   // remote address or
	Filters Filters `json:"filters,omitempty" yaml:"filters,omitempty"` // filters to match
}

// Filters is a map of Access rules keyed on destination filter.
type Filters map[RString]Access

// RString is a rule value string.
type RString string

// Matches returns true if the rule matches a given string.
func (r RString) Matches(a string) bool {
	rr := string(r)
	if r == "" || r == "*" || a == rr {
		return true
	}

	i := strings.Index(rr, "*")
	if i > 0 && len(a) > i && strings.Compare(rr[:i], a[:i]) == 0 {
		return true
	}

	return false
}

// FilterMatches returns true if a filter matches a destination.
func (r RString) FilterMatches(a string) bool {
	return MatchDestination(string(r), a)
}

// MatchDestination checks if a destination matches a filter. A filter of * matches
// every destination, and a filter ending in * matches any destination starting with
// the filter prefix. Eg. filter /queue/orders.* == destination /queue/orders.eu.
func MatchDestination(filter, destination string) bool {
	if filter == "*" || filter == destination {
		return true
	}

	prefix, ok := strings.CutSuffix(filter, "*")
	if !ok {
		return false
	}

	return strings.HasPrefix(destination, prefix)
}

// Ledger is an auth ledger containing access rules for logins and destinations.
type Ledger struct {
	sync.Mutex `json:"-" yaml:"-"`
	Users      Users     `json:"users" yaml:"users"`
	Auth       AuthRules `json:"auth" yaml:"auth"`
	ACL        ACLRules  `json:"acl" yaml:"acl"`
}

// Update updates the internal values of the ledger.
func (l *Ledger) Update(ln *Ledger) {
	l.Lock()
	defer l.Unlock()
	l.Users = ln.Users
	l.Auth = ln.Auth
	l.ACL = ln.ACL
}

// AuthOk returns true if the rules indicate the login is allowed to authenticate.
func (l *Ledger) AuthOk(cl *stomp.Client, f *frames.Frame) (n int, ok bool) {
	login := f.Headers.Get(frames.HeaderLogin)
	passcode := f.Headers.Get(frames.HeaderPasscode)

	// A predefined user is always checked before the global rules.
	if l.Users != nil {
		if u, ok := l.Users[login]; ok &&
			u.Passcode != "" &&
			u.Passcode == RString(passcode) {
			return 0, !u.Disallow
		}
	}

	for n, rule := range l.Auth {
		if rule.Session.Matches(cl.ID) &&
			rule.Login.Matches(login) &&
			rule.Passcode.Matches(passcode) &&
			rule.Remote.Matches(cl.Net.Remote) {
			return n, rule.Allow
		}
	}

	return 0, false
}

// ACLOk returns true if the rules indicate the login is allowed to subscribe or send
// to a destination, based on the `write` bool.
func (l *Ledger) ACLOk(cl *stomp.Client, destination string, write bool) (n int, ok bool) {
	if l.Users != nil {
		if u, ok := l.Users[cl.Properties.Login]; ok && len(u.ACL) > 0 {
			for filter, access := range u.ACL {
				if filter.FilterMatches(destination) {
					if !write && (access == ReadOnly || access == ReadWrite) {
						return n, true
					} else if write && (access == WriteOnly || access == ReadWrite) {
						return n, true
					} else {
						return n, false
					}
				}
			}
		}
	}

	for n, rule := range l.ACL {
		if rule.Session.Matches(cl.ID) &&
			rule.Login.Matches(cl.Properties.Login) &&
			rule.Remote.Matches(cl.Net.Remote) {
			if len(rule.Filters) == 0 {
				return n, true
			}

			for filter, access := range rule.Filters {
				if !filter.FilterMatches(destination) {
					continue
				}

				if write && (access == WriteOnly || access == ReadWrite) {
					return n, true
				}

				if !write && (access == ReadOnly || access == ReadWrite) {
					return n, true
				}
			}

			for filter := range rule.Filters {
				if filter.FilterMatches(destination) {
					return n, false
				}
			}
		}
	}

	return 0, true
}

// ToJSON encodes the values into a JSON string.
func (l *Ledger) ToJSON() (data []byte, err error) {
	return json.Marshal(l)
}

// ToYAML encodes the values into a YAML string.
func (l *Ledger) ToYAML() (data []byte, err error) {
	return yaml.Marshal(l)
}

// Unmarshal decodes a JSON or YAML string (such as a rule config from a file) into a struct.
func (l *Ledger) Unmarshal(data []byte) error {
	l.Lock()
	defer l.Unlock()
	if len(data) == 0 {
		return nil
	}

	if data[0] == '{' {
		return json.Unmarshal(data, l)
	}

	return yaml.Unmarshal(data, &l)
}
