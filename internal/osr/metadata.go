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

package osr

import (
    `encoding/binary`
    `fmt`
)

const (
    _SizeOfScratchBufferInfo = 16
)

// SizeOfMetaData returns the size of both metadata sections.
func (self *CompilationData) SizeOfMetaData() uint32 {
    if self.comp.Options.DisableOSRSharedSlots {
        return 4 + self.SizeOfCallerIndex2OSRCatchBlockMap()
    } else {
        return self.SizeOfInstruction2SharedSlotMap() + self.SizeOfCallerIndex2OSRCatchBlockMap()
    }
}

// SizeOfInstruction2SharedSlotMap returns the size of section 0.
func (self *CompilationData) SizeOfInstruction2SharedSlotMap() uint32 {
    ret := uint32(12)
    for _, p := range self.slotmap.Entries() {
        ret += 8 + uint32(len(p.Infos)) * _SizeOfScratchBufferInfo
    }
    return ret
}

// SizeOfCallerIndex2OSRCatchBlockMap returns the size of section 1.
func (self *CompilationData) SizeOfCallerIndex2OSRCatchBlockMap() uint32 {
    return 8 + 4 * uint32(len(self.methods))
}

// WriteMetaData serializes both sections into buf, which must hold at least
// SizeOfMetaData bytes, and returns the number of bytes written. Every field is
// a little-endian 32-bit integer.
func (self *CompilationData) WriteMetaData(buf []byte) uint32 {
    n := uint32(0)
    size := self.SizeOfMetaData()

    /* check the buffer size */
    if uint32(len(buf)) < size {
        panic(fmt.Sprintf("osr: metadata buffer too small: %d < %d", len(buf), size))
    }

    /* section 0, just the size field when shared slots are disabled */
    if self.comp.Options.DisableOSRSharedSlots {
        n += putU32(buf, 4)
    } else {
        n += self.writeInstruction2SharedSlotMap(buf)
    }

    /* section 1 */
    n += self.writeCallerIndex2OSRCatchBlockMap(buf[n:])
    if n != size {
        panic(fmt.Sprintf("osr: %d bytes of metadata written, expected %d", n, size))
    }
    return n
}

func putU32(buf []byte, v uint32) uint32 {
    binary.LittleEndian.PutUint32(buf, v)
    return 4
}

func putI32(buf []byte, v int32) uint32 {
    binary.LittleEndian.PutUint32(buf, uint32(v))
    return 4
}

func (self *CompilationData) writeInstruction2SharedSlotMap(buf []byte) uint32 {
    n := uint32(0)
    size := self.SizeOfInstruction2SharedSlotMap()
    entries := self.slotmap.Entries()

    /* section header */
    n += putU32(buf[n:], size)
    n += putU32(buf[n:], self.scratch)
    n += putI32(buf[n:], int32(len(entries)))

    /* every mapping */
    for _, p := range entries {
        n += putI32(buf[n:], p.InstructionPC)
        n += putI32(buf[n:], int32(len(p.Infos)))
        for _, v := range p.Infos {
            n += putI32(buf[n:], v.InlinedSiteIndex)
            n += putI32(buf[n:], v.OSRBufferOffset)
            n += putI32(buf[n:], v.ScratchBufferOffset)
            n += putI32(buf[n:], v.SymSize)
        }
    }

    /* must match the computed size */
    if n != size {
        panic(fmt.Sprintf("osr: section 0 has %d bytes, expected %d", n, size))
    }
    return n
}

func (self *CompilationData) writeCallerIndex2OSRCatchBlockMap(buf []byte) uint32 {
    n := uint32(0)
    size := self.SizeOfCallerIndex2OSRCatchBlockMap()

    /* section header */
    n += putU32(buf[n:], size)
    n += putI32(buf[n:], int32(len(self.methods)))

    /* catch block PC of every frame, or 0 */
    for _, md := range self.methods {
        if md == nil || md.OSRCodeBlock() == nil || md.OSRCatchBlock() == nil || md.OSRCatchBlock().StartPC < 0 {
            n += putI32(buf[n:], 0)
        } else {
            n += putI32(buf[n:], md.OSRCatchBlock().StartPC)
        }
    }
    return n
}
