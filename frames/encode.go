// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package frames

import (
	"bytes"
	"sort"
	"strconv"
)

// Encode returns the wire bytes for a frame. Headers are written in key order and
// passed through filter if it is not nil. A content-length header is computed for
// non-empty bodies unless the frame carries suppress-content-length; neither
// header is copied from the frame itself.
func Encode(f *Frame, filter func(key string) bool) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := encode(buf, f, filter); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encode writes the wire bytes for a frame into buf.
func encode(buf *bytes.Buffer, f *Frame, filter func(key string) bool) error {
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	keys := f.Headers.Keys()
	sort.Strings(keys)
	for _, k := range keys {
		if k == HeaderContentLength || k == HeaderSuppressContentLength {
			continue
		}

		if filter != nil && !filter(k) {
			continue
		}

		ek, err := Escape(k)
		if err != nil {
			return err
		}

		ev, err := Escape(f.Headers.Get(k))
		if err != nil {
			return err
		}

		buf.WriteString(ek)
		buf.WriteByte(':')
		buf.WriteString(ev)
		buf.WriteByte('\n')
	}

	if len(f.Body) > 0 && !f.Headers.Has(HeaderSuppressContentLength) {
		buf.WriteString(HeaderContentLength)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(len(f.Body)))
		buf.WriteByte('\n')
	}

	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)

	return nil
}
