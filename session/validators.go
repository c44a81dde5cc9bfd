// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package session

import (
	"fmt"
	"strings"

	"github.com/mochi-mqtt/stomp/frames"
)

// Validator checks a received frame before it is dispatched, returning a
// *frames.Error if the frame is invalid.
type Validator func(f *frames.Frame) error

// requireHeader fails if the named header is missing.
func requireHeader(name string) Validator {
	return func(f *frames.Frame) error {
		if f.Headers.Has(name) {
			return nil
		}
		return missingHeader(f, name)
	}
}

// requireOneHeader fails if none of the named headers are present.
func requireOneHeader(names ...string) Validator {
	return func(f *frames.Frame) error {
		for _, name := range names {
			if f.Headers.Has(name) {
				return nil
			}
		}

		return frames.NewError(
			fmt.Sprintf("One of the following Headers '%s' is required for %s", strings.Join(names, ", "), f.Command),
			"Frame: "+f.String(),
		)
	}
}

// requireAllHeaders fails on the first of the named headers which is missing.
func requireAllHeaders(names ...string) Validator {
	return func(f *frames.Frame) error {
		for _, name := range names {
			if !f.Headers.Has(name) {
				return missingHeader(f, name)
			}
		}
		return nil
	}
}

func missingHeader(f *frames.Frame, name string) error {
	return frames.NewError(
		fmt.Sprintf("Header '%s' is required for %s", name, f.Command),
		"Frame: "+f.String(),
	)
}
