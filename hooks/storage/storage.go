// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package storage contains the records persisted by the storage hooks. Only broker
// metadata is stored: the sessions which are connected and the $SYS counters.
package storage

import (
	"encoding/json"
	"errors"

	"github.com/mochi-mqtt/stomp/system"
)

const (
	SessionKey = "SES" // unique key to denote sessions in a store
	SysInfoKey = "SYS" // unique key to denote server system information in a store
)

var (
	// ErrDBFileNotOpen indicates that the file database (e.g. bolt/badger) wasn't open for reading.
	ErrDBFileNotOpen = errors.New("db file not open")
)

// Serializable is an interface for objects that can be serialized and deserialized.
type Serializable interface {
	UnmarshalBinary([]byte) error
	MarshalBinary() (data []byte, err error)
}

// Session is a storable record of a connected STOMP session.
type Session struct {
	ID        string `json:"id"`        // the session id / storage key
	T         string `json:"t"`         // the data type (session)
	Remote    string `json:"remote"`    // the remote address of the client
	Listener  string `json:"listener"`  // the listener the client connected on
	Login     string `json:"login"`     // the login the client connected with
	Host      string `json:"host"`      // the virtual host requested by the client
	Version   string `json:"version"`   // the negotiated protocol version
	Connected int64  `json:"connected"` // the time the session connected in unix seconds
}

// MarshalBinary encodes the values into a json string.
func (d Session) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *Session) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// SystemInfo is a storable representation of the system information values.
type SystemInfo struct {
	system.Info        // embed the system info struct
	T           string `json:"t"`  // the data type
	ID          string `json:"id"` // the storage key
}

// MarshalBinary encodes the values into a json string.
func (d SystemInfo) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *SystemInfo) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}
