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
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

const (
	_SizeOfMapping    = 8
	_SizeOfSharedSlot = 16
)

// SharedSlot tells the runtime where to find the value of a symbol that
// shares its interpreter slot with other symbols.
type SharedSlot struct {
	InlinedSiteIndex    int32
	OSRBufferOffset     int32
	ScratchBufferOffset int32
	SymSize             int32
}

// Mapping lists the shared slots to restore when transitioning at PC or any
// later instruction before the next mapping.
type Mapping struct {
	PC    int32
	Slots []SharedSlot
}

// MetaData is the decoded OSR metadata of a compiled method.
type MetaData struct {
	ScratchBufferSize uint32
	Mappings          []Mapping
	CatchBlockPCs     []int32
}

type decoder struct {
	buf []byte
	pos int
}

func (self *decoder) u32(note string) (uint32, error) {
	if self.pos+4 > len(self.buf) {
		return 0, errors.WithStack(MetaDataError{Offset: self.pos, Note: "truncated " + note})
	}
	ret := binary.LittleEndian.Uint32(self.buf[self.pos:])
	self.pos += 4
	return ret, nil
}

func (self *decoder) i32(note string) (int32, error) {
	v, err := self.u32(note)
	return int32(v), err
}

func (self *decoder) count(note string, size int) (int, error) {
	pos := self.pos
	n, err := self.i32(note)

	/* must fit in what is left */
	if err != nil {
		return 0, err
	}
	if n < 0 || int(n)*size > len(self.buf)-self.pos {
		return 0, errors.WithStack(MetaDataError{Offset: pos, Note: fmt.Sprintf("invalid %s %d", note, n)})
	}
	return int(n), nil
}

// DecodeMetaData parses the two sections of an OSR metadata blob: the
// instruction to shared slot map, and the OSR catch block PC of every frame.
func DecodeMetaData(buf []byte) (*MetaData, error) {
	ret := new(MetaData)
	dec := &decoder{buf: buf}

	/* section 0 */
	if err := ret.decodeSharedSlotMap(dec); err != nil {
		return nil, errors.Wrap(err, "instruction to shared slot map")
	}

	/* section 1 */
	if err := ret.decodeCatchBlockMap(dec); err != nil {
		return nil, errors.Wrap(err, "caller index to OSR catch block map")
	}

	/* nothing may follow */
	if dec.pos != len(buf) {
		return nil, errors.WithStack(MetaDataError{Offset: dec.pos, Note: "trailing bytes"})
	}
	return ret, nil
}

func (self *MetaData) decodeSharedSlotMap(dec *decoder) error {
	start := dec.pos
	size, err := dec.u32("section size")

	/* just the size field when nothing is shared */
	if err != nil {
		return err
	} else if size == 4 {
		return nil
	}

	/* section header */
	if self.ScratchBufferSize, err = dec.u32("scratch buffer size"); err != nil {
		return err
	}
	n, err := dec.count("mapping count", _SizeOfMapping)
	if err != nil {
		return err
	}

	/* every mapping */
	self.Mappings = make([]Mapping, n)
	for i := range self.Mappings {
		p := &self.Mappings[i]
		if p.PC, err = dec.i32("instruction PC"); err != nil {
			return err
		}
		nb, err := dec.count("slot count", _SizeOfSharedSlot)
		if err != nil {
			return err
		}
		if i > 0 && p.PC <= self.Mappings[i-1].PC {
			return errors.WithStack(MetaDataError{Offset: dec.pos - 8, Note: "instruction PCs out of order"})
		}

		/* the slots */
		p.Slots = make([]SharedSlot, nb)
		for j := range p.Slots {
			v := &p.Slots[j]
			v.InlinedSiteIndex, _ = dec.i32("inlined site index")
			v.OSRBufferOffset, _ = dec.i32("OSR buffer offset")
			v.ScratchBufferOffset, _ = dec.i32("scratch buffer offset")
			v.SymSize, _ = dec.i32("symbol size")
		}
	}

	/* the size field covers the whole section */
	if uint32(dec.pos-start) != size {
		return errors.WithStack(MetaDataError{Offset: start, Note: fmt.Sprintf("section size %d, actual %d", size, dec.pos-start)})
	}
	return nil
}

func (self *MetaData) decodeCatchBlockMap(dec *decoder) error {
	start := dec.pos
	size, err := dec.u32("section size")
	if err != nil {
		return err
	}

	/* catch block PC of every frame */
	n, err := dec.count("frame count", 4)
	if err != nil {
		return err
	}
	self.CatchBlockPCs = make([]int32, n)
	for i := range self.CatchBlockPCs {
		self.CatchBlockPCs[i], _ = dec.i32("catch block PC")
	}

	/* the size field covers the whole section */
	if uint32(dec.pos-start) != size {
		return errors.WithStack(MetaDataError{Offset: start, Note: fmt.Sprintf("section size %d, actual %d", size, dec.pos-start)})
	}
	return nil
}

// Lookup returns the mapping in effect at pc: the one with the greatest PC
// not above pc, or nil if there is none.
func (self *MetaData) Lookup(pc int32) *Mapping {
	i := sort.Search(len(self.Mappings), func(i int) bool {
		return self.Mappings[i].PC > pc
	})
	if i == 0 {
		return nil
	} else {
		return &self.Mappings[i-1]
	}
}

// CatchBlockPC returns the PC of the OSR catch block of the frame inlined at
// callerIndex, -1 being the root method. Frames without one report false.
func (self *MetaData) CatchBlockPC(callerIndex int32) (int32, bool) {
	if i := int(callerIndex) + 1; i < 0 || i >= len(self.CatchBlockPCs) || self.CatchBlockPCs[i] == 0 {
		return 0, false
	} else {
		return self.CatchBlockPCs[i], true
	}
}

func (self *MetaData) String() string {
	sb := strings.Builder{}
	fmt.Fprintf(&sb, "MetaData(scratch=%d, mappings=%d, frames=%d)", self.ScratchBufferSize, len(self.Mappings), len(self.CatchBlockPCs))

	/* one line per mapping */
	for _, p := range self.Mappings {
		fmt.Fprintf(&sb, "\n    %#x:", p.PC)
		for _, v := range p.Slots {
			fmt.Fprintf(&sb, " {site=%d osr=%d scratch=%d size=%d}", v.InlinedSiteIndex, v.OSRBufferOffset, v.ScratchBufferOffset, v.SymSize)
		}
	}

	/* then the catch blocks */
	for i, pc := range self.CatchBlockPCs {
		fmt.Fprintf(&sb, "\n    catch[%d] = %#x", i-1, pc)
	}
	return sb.String()
}
