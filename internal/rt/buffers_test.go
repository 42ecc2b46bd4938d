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

package rt

import (
	"sync"
	"testing"

	"github.com/cloudwego/treejit/internal/abi"
	"github.com/cloudwego/treejit/internal/il"
	"github.com/stretchr/testify/require"
)

func TestBufferPool_FrameSize(t *testing.T) {
	m := il.NewMethodSymbol("m", 2, 3)
	c := il.NewCompilation(m, nil, &abi.AMD64, nil)
	c.NewAuto(m, "pp", il.Int32, -1)
	m.SetSyncObjectTemp(c.NewAuto(m, "sync", il.Address, 5))
	p := NewBufferPool(&abi.AMD64, Limits{})
	require.Equal(t, uint32(16+(1+3+1+2)*8), p.OSRFrameSizeInBytes(m))
}

func TestBufferPool_Ensure(t *testing.T) {
	p := NewBufferPool(&abi.AMD64, Limits{MaxScratchBufferSize: 64})
	require.True(t, p.EnsureOSRBufferSize(100, 32, 200))
	require.True(t, p.EnsureOSRBufferSize(50, 64, 10))
	require.False(t, p.EnsureOSRBufferSize(10, 65, 10))
	frame, scratch, stack := p.Sizes()
	require.Equal(t, uint32(100), frame)
	require.Equal(t, uint32(64), scratch)
	require.Equal(t, uint32(200), stack)
}

func TestBufferPool_Concurrent(t *testing.T) {
	p := NewBufferPool(&abi.AMD64, Limits{})
	wg := sync.WaitGroup{}
	for i := 1; i <= 32; i++ {
		wg.Add(1)
		go func(v uint32) {
			defer wg.Done()
			p.EnsureOSRBufferSize(v, v, v)
		}(uint32(i))
	}
	wg.Wait()
	frame, scratch, stack := p.Sizes()
	require.Equal(t, uint32(32), frame)
	require.Equal(t, uint32(32), scratch)
	require.Equal(t, uint32(32), stack)
}
