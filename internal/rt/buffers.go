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
	"fmt"
	"sync"

	"github.com/cloudwego/treejit/internal/abi"
	"github.com/cloudwego/treejit/internal/il"
)

// Runtime is the part of the virtual machine the compiler negotiates OSR resources with.
type Runtime interface {
	// OSRFrameSizeInBytes returns the size of the interpreter frame of m.
	OSRFrameSizeInBytes(m *il.MethodSymbol) uint32

	// EnsureOSRBufferSize grows the process-wide OSR buffers so that they can
	// hold the given sizes, returning false if that is not possible.
	EnsureOSRBufferSize(maxFrameSize uint32, maxScratchBufferSize uint32, maxStackFrameSize uint32) bool
}

// Limits caps the OSR buffers a BufferPool may grow to. Zero means unlimited.
type Limits struct {
	MaxFrameSize         uint32
	MaxScratchBufferSize uint32
	MaxStackFrameSize    uint32
}

// BufferPool is the default Runtime. It tracks the sizes of the OSR buffers
// shared by every thread and only ever grows them.
type BufferPool struct {
	mu      sync.Mutex
	target  *abi.Target
	limits  Limits
	frame   uint32
	scratch uint32
	stack   uint32
}

func NewBufferPool(target *abi.Target, limits Limits) *BufferPool {
	return &BufferPool{target: target, limits: limits}
}

func (self *BufferPool) OSRFrameSizeInBytes(m *il.MethodSymbol) uint32 {
	slots := m.NumPendingPushSlots() + m.NumTemps + m.NumSyncSlots() + m.NumParameterSlots
	return uint32(self.target.OSRFrameHeaderSize + slots*self.target.ReferenceSize)
}

func (self *BufferPool) EnsureOSRBufferSize(maxFrameSize uint32, maxScratchBufferSize uint32, maxStackFrameSize uint32) bool {
	self.mu.Lock()
	defer self.mu.Unlock()

	/* check against the limits */
	if exceeds(maxFrameSize, self.limits.MaxFrameSize) ||
		exceeds(maxScratchBufferSize, self.limits.MaxScratchBufferSize) ||
		exceeds(maxStackFrameSize, self.limits.MaxStackFrameSize) {
		return false
	}

	/* grow the buffers */
	self.frame = max(self.frame, maxFrameSize)
	self.scratch = max(self.scratch, maxScratchBufferSize)
	self.stack = max(self.stack, maxStackFrameSize)
	return true
}

// Sizes returns the current sizes of the frame, scratch and stack buffers.
func (self *BufferPool) Sizes() (frame uint32, scratch uint32, stack uint32) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.frame, self.scratch, self.stack
}

func (self *BufferPool) String() string {
	frame, scratch, stack := self.Sizes()
	return fmt.Sprintf("BufferPool{frame=%d,scratch=%d,stack=%d}", frame, scratch, stack)
}

func exceeds(v uint32, limit uint32) bool {
	return limit != 0 && v > limit
}
