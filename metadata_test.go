/*
 * Copyright 2022 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package treejit

import (
	"encoding/binary"
	"testing"

	"github.com/cloudwego/treejit/internal/opts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func blob(words ...uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, v := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

func sampleBlob() []byte {
	return blob(
		60, 24, 2,
		0x40, 1, 0, 32, 0, 4,
		0x60, 1, 0, 32, 8, 4,
		16, 2, 0x100, 0,
	)
}

func TestDecodeMetaData(t *testing.T) {
	md, err := DecodeMetaData(sampleBlob())
	require.NoError(t, err)
	require.Equal(t, uint32(24), md.ScratchBufferSize)
	require.Len(t, md.Mappings, 2)
	require.Equal(t, []SharedSlot{{InlinedSiteIndex: 0, OSRBufferOffset: 32, ScratchBufferOffset: 8, SymSize: 4}}, md.Mappings[1].Slots)
	require.Equal(t, []int32{0x100, 0}, md.CatchBlockPCs)
	require.NotEmpty(t, md.String())
}

func TestDecodeMetaData_NoSharedSlots(t *testing.T) {
	md, err := DecodeMetaData(blob(4, 12, 1, 0x80))
	require.NoError(t, err)
	require.Empty(t, md.Mappings)
	pc, ok := md.CatchBlockPC(-1)
	require.True(t, ok)
	require.Equal(t, int32(0x80), pc)
}

func TestDecodeMetaData_Malformed(t *testing.T) {
	var me MetaDataError
	buf := sampleBlob()

	/* every truncation fails */
	for i := 0; i < len(buf); i += 4 {
		_, err := DecodeMetaData(buf[:i])
		require.Error(t, err, "length %d", i)
		require.True(t, errors.As(err, &me), "length %d", i)
	}

	/* wrong section size */
	_, err := DecodeMetaData(blob(4, 16, 1, 0x80))
	require.True(t, errors.As(err, &me))
	require.Equal(t, 4, me.Offset)

	/* trailing bytes */
	_, err = DecodeMetaData(append(sampleBlob(), 0))
	require.True(t, errors.As(err, &me))

	/* unordered mappings */
	_, err = DecodeMetaData(blob(36, 0, 2, 0x60, 0, 0x40, 0, 8, 0))
	require.True(t, errors.As(err, &me))
	require.Contains(t, err.Error(), "out of order")
}

func TestMetaData_Lookup(t *testing.T) {
	md, err := DecodeMetaData(sampleBlob())
	require.NoError(t, err)
	require.Nil(t, md.Lookup(0x3f))
	require.Equal(t, int32(0x40), md.Lookup(0x40).PC)
	require.Equal(t, int32(0x40), md.Lookup(0x5f).PC)
	require.Equal(t, int32(0x60), md.Lookup(0x60).PC)
	require.Equal(t, int32(0x60), md.Lookup(0x1000).PC)
}

func TestMetaData_CatchBlockPC(t *testing.T) {
	md, err := DecodeMetaData(sampleBlob())
	require.NoError(t, err)
	pc, ok := md.CatchBlockPC(-1)
	require.True(t, ok)
	require.Equal(t, int32(0x100), pc)
	_, ok = md.CatchBlockPC(0)
	require.False(t, ok)
	_, ok = md.CatchBlockPC(5)
	require.False(t, ok)
	_, ok = md.CatchBlockPC(-2)
	require.False(t, ok)
}

func TestOptions(t *testing.T) {
	o := NewOptions(
		WithOSRMode(VoluntaryOSR),
		WithSharedSlots(false),
		WithTrace("osr", "deadTrees"),
		WithMaxParallel(2),
		WithFoldLoopToggles(true),
	)
	require.Equal(t, opts.VoluntaryOSR, o.OSRMode)
	require.True(t, o.DisableOSRSharedSlots)
	require.True(t, o.Tracing("osr"))
	require.True(t, o.Tracing("deadtrees"))
	require.Equal(t, 2, o.MaxParallel)
	require.True(t, o.FoldLoopToggles)
	require.Panics(t, func() { WithMaxParallel(0) })
	require.Panics(t, func() { WithOSRMode(opts.OSRMode(7)) })
}

func TestSetMaxParallel(t *testing.T) {
	old := SetMaxParallel(8)
	defer SetMaxParallel(old)
	require.Equal(t, 8, NewOptions().MaxParallel)
	require.Panics(t, func() { SetMaxParallel(-1) })
}
