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
    `fmt`
    `strings`

    `github.com/google/btree`
)

const (
    _SlotMapDegree = 8
)

// ScratchBufferInfo tells the runtime where to copy one shared-slot value from
// the scratch buffer into the OSR frame buffer. ScratchBufferOffset is -1 for
// slots that must be zeroed instead.
type ScratchBufferInfo struct {
    InlinedSiteIndex    int32
    OSRBufferOffset     int32
    ScratchBufferOffset int32
    SymSize             int32
}

func (self ScratchBufferInfo) String() string {
    return fmt.Sprintf("{%d, %d, %d, %d}", self.InlinedSiteIndex, self.OSRBufferOffset, self.ScratchBufferOffset, self.SymSize)
}

type ScratchBufferInfos []ScratchBufferInfo

func (self ScratchBufferInfos) Equal(other ScratchBufferInfos) bool {
    if len(self) != len(other) {
        return false
    }
    for i, v := range self {
        if v != other[i] {
            return false
        }
    }
    return true
}

// SlotMapEntry is one mapping of the instruction to shared slot map.
type SlotMapEntry struct {
    InstructionPC int32
    Infos         ScratchBufferInfos
}

func (self *SlotMapEntry) String() string {
    buf := make([]string, len(self.Infos))
    for i, v := range self.Infos {
        buf[i] = v.String()
    }
    return fmt.Sprintf("%x -> %d[ %s]", self.InstructionPC, len(self.Infos), strings.Join(buf, ", "))
}

func lessSlotMapEntry(a *SlotMapEntry, b *SlotMapEntry) bool {
    return a.InstructionPC < b.InstructionPC
}

// SlotMap is the instruction to shared slot map, ordered by instruction PC.
type SlotMap struct {
    tree *btree.BTreeG[*SlotMapEntry]
}

func newSlotMap() SlotMap {
    return SlotMap { tree: btree.NewG(_SlotMapDegree, lessSlotMapEntry) }
}

func (self SlotMap) Len() int {
    return self.tree.Len()
}

// Add appends infos to the mapping of pc, creating it if needed.
func (self SlotMap) Add(pc int32, infos ScratchBufferInfos) {
    if p, ok := self.tree.Get(&SlotMapEntry { InstructionPC: pc }); ok {
        p.Infos = append(p.Infos, infos...)
    } else {
        self.tree.ReplaceOrInsert(&SlotMapEntry { InstructionPC: pc, Infos: append(ScratchBufferInfos(nil), infos...) })
    }
}

// Entries returns the mappings in ascending PC order.
func (self SlotMap) Entries() []*SlotMapEntry {
    ret := make([]*SlotMapEntry, 0, self.tree.Len())
    self.tree.Ascend(func(p *SlotMapEntry) bool {
        ret = append(ret, p)
        return true
    })
    return ret
}

// Lookup returns the mapping in effect at pc, which is the one with the
// greatest PC not above it.
func (self SlotMap) Lookup(pc int32) (ret *SlotMapEntry) {
    self.tree.DescendLessOrEqual(&SlotMapEntry { InstructionPC: pc }, func(p *SlotMapEntry) bool {
        ret = p
        return false
    })
    return
}

// Compress drops every mapping whose payload equals the one before it.
func (self SlotMap) Compress() int {
    var last *SlotMapEntry
    var drop []*SlotMapEntry

    /* find the repeated ones */
    self.tree.Ascend(func(p *SlotMapEntry) bool {
        if last != nil && last.Infos.Equal(p.Infos) {
            drop = append(drop, p)
        } else {
            last = p
        }
        return true
    })

    /* remove them */
    for _, p := range drop {
        self.tree.Delete(p)
    }
    return len(drop)
}
