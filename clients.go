// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package stomp

import (
	"sync"
	"sync/atomic"

	"github.com/mochi-mqtt/stomp/session"
)

// Clients contains a map of the sessions known by the broker.
type Clients struct {
	internal map[string]*Client // sessions known by the broker, keyed on session id.
	sync.RWMutex
}

// NewClients returns an instance of Clients.
func NewClients() *Clients {
	return &Clients{
		internal: make(map[string]*Client),
	}
}

// Add adds a new client to the clients map, keyed on session id.
func (cl *Clients) Add(val *Client) {
	cl.Lock()
	defer cl.Unlock()
	cl.internal[val.ID] = val
}

// GetAll returns all the clients.
func (cl *Clients) GetAll() map[string]*Client {
	cl.RLock()
	defer cl.RUnlock()
	m := make(map[string]*Client, len(cl.internal))
	for k, v := range cl.internal {
		m[k] = v
	}
	return m
}

// Get returns the value of a client if it exists.
func (cl *Clients) Get(id string) (*Client, bool) {
	cl.RLock()
	defer cl.RUnlock()
	val, ok := cl.internal[id]
	return val, ok
}

// Len returns the length of the clients map.
func (cl *Clients) Len() int {
	cl.RLock()
	defer cl.RUnlock()
	return len(cl.internal)
}

// Delete removes a client from the internal map.
func (cl *Clients) Delete(id string) {
	cl.Lock()
	defer cl.Unlock()
	delete(cl.internal, id)
}

// GetByListener returns clients matching a listener id.
func (cl *Clients) GetByListener(id string) []*Client {
	cl.RLock()
	defer cl.RUnlock()
	clients := make([]*Client, 0, len(cl.internal))
	for _, client := range cl.internal {
		if client.Net.Listener == id {
			clients = append(clients, client)
		}
	}
	return clients
}

// Client is a single STOMP session known by the broker.
type Client struct {
	Properties ClientProperties       // client properties from the CONNECT frame
	Net        ClientConnection       // network connection details
	Session    *session.ServerSession // the protocol session bound to the connection
	ID         string                 // the broker assigned session id
	connected  atomic.Int64           // unix time the CONNECTED frame was sent, 0 before then
}

// ClientConnection contains the connection transport and metadata for the client.
type ClientConnection struct {
	Remote   string // the remote address of the client
	Listener string // listener id of the client
}

// ClientProperties contains the properties which define the client behaviour.
type ClientProperties struct {
	Login   string // the login header of the CONNECT frame
	Host    string // the virtual host requested by the client
	Version string // the negotiated protocol version
}

// Connected returns the unix time the session was connected, or 0 if it has not.
func (cl *Client) Connected() int64 {
	return cl.connected.Load()
}

// Closed returns true if the client session transport has been closed.
func (cl *Client) Closed() bool {
	return cl.Session == nil || cl.Session.Closed()
}
