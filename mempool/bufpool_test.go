// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mempool

import (
	"reflect"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBuffer(t *testing.T) {
	defer debug.SetGCPercent(debug.SetGCPercent(-1))
	bp := NewBuffer(1000)
	require.Equal(t, "*mempool.BufferWithCap", reflect.TypeOf(bp).String())

	bp = NewBuffer(0)
	require.Equal(t, "*mempool.Buffer", reflect.TypeOf(bp).String())

	bp = NewBuffer(-1)
	require.Equal(t, "*mempool.Buffer", reflect.TypeOf(bp).String())
}

func TestDefaultPool(t *testing.T) {
	defer debug.SetGCPercent(debug.SetGCPercent(-1))
	buf := GetBuffer()
	buf.WriteString("SEND\ndestination:/queue/a\n\n\x00")
	PutBuffer(buf)

	buf = GetBuffer()
	require.Equal(t, 0, buf.Len())
}

func TestBufferWithCapDropsLargeFrames(t *testing.T) {
	defer debug.SetGCPercent(debug.SetGCPercent(-1))
	bp := NewBuffer(100)
	buf := bp.Get()
	buf.Write(make([]byte, 101))

	bp.Put(buf)
	buf = bp.Get()
	require.Equal(t, 0, buf.Len())
	require.Equal(t, 0, buf.Cap())
}
