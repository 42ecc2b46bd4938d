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

package abi

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/klauspost/cpuid/v2"
)

// Target describes the properties of the machine the compiled code runs on.
type Target struct {
	Name               string
	ReferenceSize      int32
	OSRFrameHeaderSize int32
	ScarceGPRs         bool
	JavaFloatSemantics bool
}

var (
	// AMD64 is the 64-bit x86 target with a 16-entry general purpose register file.
	AMD64 = Target{
		Name:               "amd64",
		ReferenceSize:      8,
		OSRFrameHeaderSize: 16,
		ScarceGPRs:         false,
		JavaFloatSemantics: true,
	}

	// X86 is the 32-bit x86 target, which only has 8 general purpose registers and
	// evaluates floating point expressions with x87 extended precision.
	X86 = Target{
		Name:               "386",
		ReferenceSize:      4,
		OSRFrameHeaderSize: 8,
		ScarceGPRs:         true,
		JavaFloatSemantics: false,
	}
)

// Host returns the target description of the running machine.
func Host() *Target {
	ret := AMD64
	ret.Name = runtime.GOARCH
	ret.ReferenceSize = int32(unsafe.Sizeof(uintptr(0)))
	ret.OSRFrameHeaderSize = 2 * ret.ReferenceSize
	ret.ScarceGPRs = ret.ReferenceSize < 8

	/* floating point semantics depend on SSE2 being usable */
	if runtime.GOARCH == "386" || runtime.GOARCH == "amd64" {
		ret.JavaFloatSemantics = cpuid.CPU.Supports(cpuid.SSE2)
	}
	return &ret
}

// Describe returns a one-line summary of the host CPU, used in compilation traces.
func Describe() string {
	return fmt.Sprintf("%s (%d cores, %s)", cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.VendorString)
}

func (self *Target) String() string {
	return fmt.Sprintf("%s{ref=%d,hdr=%d}", self.Name, self.ReferenceSize, self.OSRFrameHeaderSize)
}

// SlotSize returns the number of bytes occupied by a value of the given size in an interpreter frame.
func (self *Target) SlotSize(size int32) int32 {
	if size <= self.ReferenceSize {
		return self.ReferenceSize
	} else {
		return (size + self.ReferenceSize - 1) / self.ReferenceSize * self.ReferenceSize
	}
}
