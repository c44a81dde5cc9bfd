// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package frames

import "slices"

// Headers is an ordered set of frame headers. Keys are unique; lookups are by key
// and iteration follows insertion order.
type Headers struct {
	keys   []string
	values map[string]string
}

// NewHeaders returns headers populated from key-value pairs.
func NewHeaders(kv ...string) Headers {
	var h Headers
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

// Len returns the number of headers.
func (h *Headers) Len() int {
	return len(h.keys)
}

// Get returns the value of a header, or an empty string if not present.
func (h *Headers) Get(key string) string {
	return h.values[key]
}

// Lookup returns the value of a header and whether it was present.
func (h *Headers) Lookup(key string) (string, bool) {
	v, ok := h.values[key]
	return v, ok
}

// Has returns true if the header is present.
func (h *Headers) Has(key string) bool {
	_, ok := h.values[key]
	return ok
}

// Set sets the value of a header, replacing any existing value in place.
func (h *Headers) Set(key, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}

	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// add sets a header only if it is not already present. Repeated headers keep the
// first value received.
func (h *Headers) add(key, value string) {
	if h.Has(key) {
		return
	}
	h.Set(key, value)
}

// Del removes a header.
func (h *Headers) Del(key string) {
	if _, ok := h.values[key]; !ok {
		return
	}

	delete(h.values, key)
	h.keys = slices.DeleteFunc(h.keys, func(k string) bool { return k == key })
}

// Keys returns the header keys in insertion order.
func (h *Headers) Keys() []string {
	return slices.Clone(h.keys)
}

// Clone returns a deep copy of the headers.
func (h *Headers) Clone() Headers {
	c := Headers{
		keys:   slices.Clone(h.keys),
		values: make(map[string]string, len(h.values)),
	}
	for k, v := range h.values {
		c.values[k] = v
	}
	return c
}

// Map returns the headers as a plain map.
func (h *Headers) Map() map[string]string {
	m := make(map[string]string, len(h.values))
	for k, v := range h.values {
		m[k] = v
	}
	return m
}
