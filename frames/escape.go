// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package frames

import "strings"

// Escape encodes a header value for the wire. Tabs cannot be represented and
// return ErrInvalidHeaderValue.
func Escape(v string) (string, error) {
	if !strings.ContainsAny(v, "\\\n\r:\t") {
		return v, nil
	}

	var b strings.Builder
	b.Grow(len(v) + 4)
	for i := 0; i < len(v); i++ {
		switch c := v[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case ':':
			b.WriteString(`\c`)
		case '\t':
			return "", ErrInvalidHeaderValue
		default:
			b.WriteByte(c)
		}
	}

	return b.String(), nil
}

// Unescape decodes a header value read from the wire. Any escape sequence other
// than \\, \n, \r and \c, including \t, returns ErrInvalidEscape.
func Unescape(v string) (string, error) {
	if !strings.ContainsRune(v, '\\') {
		return v, nil
	}

	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}

		i++
		if i == len(v) {
			return "", ErrInvalidEscape
		}

		switch v[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'c':
			b.WriteByte(':')
		default:
			return "", ErrInvalidEscape
		}
	}

	return b.String(), nil
}
