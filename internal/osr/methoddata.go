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

    `github.com/bits-and-blooms/bitset`
    `github.com/cloudwego/treejit/internal/il`
    `golang.org/x/exp/maps`
    `golang.org/x/exp/slices`
)

// MethodData holds the OSR state of one inlined frame. The root method is at
// inlined site index -1.
type MethodData struct {
    site      int32
    method    *il.MethodSymbol
    owner     *CompilationData
    code      *il.Block
    catch     *il.Block
    numShared int32
    linked    bool
    scratch   map[int32][]int32
    slots     map[int32]*SlotSharingInfo
    live      map[int32]*bitset.BitSet
    ppLive    map[int32]*bitset.BitSet
    args      map[int32][]int32
    defs      DefiningMap
}

func newMethodData(site int32, method *il.MethodSymbol, owner *CompilationData) *MethodData {
    return &MethodData {
        site      : site,
        method    : method,
        owner     : owner,
        numShared : -1,
        scratch   : make(map[int32][]int32),
        slots     : make(map[int32]*SlotSharingInfo),
        live      : make(map[int32]*bitset.BitSet),
        ppLive    : make(map[int32]*bitset.BitSet),
        args      : make(map[int32][]int32),
    }
}

func (self *MethodData) InlinedSiteIndex() int32      { return self.site }
func (self *MethodData) Method() *il.MethodSymbol     { return self.method }
func (self *MethodData) DefiningMap() DefiningMap     { return self.defs }
func (self *MethodData) IsLinkedToCaller() bool       { return self.linked }
func (self *MethodData) SetLinkedToCaller(v bool)     { self.linked = v }
func (self *MethodData) NumOfSymsThatShareSlot() int32 { return self.numShared }

// OSRCodeBlock returns the OSR code block, unless it was never created or
// has been removed from the CFG since.
func (self *MethodData) OSRCodeBlock() *il.Block {
    if self.code == nil || self.code.IsRemoved() {
        return nil
    } else {
        return self.code
    }
}

// OSRCatchBlock returns the OSR catch block, unless it was never created or
// has been removed from the CFG since.
func (self *MethodData) OSRCatchBlock() *il.Block {
    if self.catch == nil || self.catch.IsRemoved() {
        return nil
    } else {
        return self.catch
    }
}

// FindOrCreateOSRCodeBlock returns the OSR code block, creating the block pair
// on the first request. n provides the bytecode info of the new blocks.
func (self *MethodData) FindOrCreateOSRCodeBlock(n *il.Node) *il.Block {
    if self.code != nil {
        return self.code
    }
    if self.catch != nil {
        panic("osr: catch block exists without a code block")
    }
    self.createOSRBlocks(n)
    return self.code
}

// FindOrCreateOSRCatchBlock returns the OSR catch block, creating the block
// pair on the first request.
func (self *MethodData) FindOrCreateOSRCatchBlock(n *il.Node) *il.Block {
    if self.catch != nil {
        return self.catch
    }
    if self.code != nil {
        panic("osr: code block exists without a catch block")
    }
    self.createOSRBlocks(n)
    return self.catch
}

func (self *MethodData) createOSRBlocks(n *il.Node) {
    comp := self.owner.comp
    cfg := comp.FlowGraph()
    bci := n.ByteCodeInfo()

    /* the code block */
    self.code = il.NewBlock(comp, bci)
    self.code.SetIsCold(true)
    self.code.SetIsOSRCodeBlock(true)
    self.code.SetDoNotProfile(true)

    /* the catch block */
    self.catch = il.NewBlock(comp, bci)
    self.catch.SetIsCold(true)
    self.catch.SetDoNotProfile(true)
    self.catch.SetIsOSRCatchBlock(true)
    self.catch.SetCanCatchOSR(true)

    /* add to the CFG, catch falls into code */
    cfg.AddNode(self.catch)
    cfg.AddNode(self.code)
    cfg.AddEdge(self.catch, self.code)

    /* lay out the trees at the end of the method, catch first */
    if last := lastTreeTop(comp); last == nil {
        comp.Method().SetFirstTreeTop(self.catch.Entry())
    } else {
        il.Join(last, self.catch.Entry())
    }
    il.Join(self.catch.Exit(), self.code.Entry())

    /* trace the creation */
    if comp.Tracing("osr") {
        kind := "inlined method"
        if self.site == -1 {
            kind = "topmost method"
        }
        comp.Log().Debug("created OSR blocks",
            "code", self.code.Number,
            "catch", self.catch.Number,
            "kind", kind,
            "callee", self.method.Name,
        )
    }
}

func lastTreeTop(comp *il.Compilation) *il.TreeTop {
    tt := comp.StartTree()
    for tt != nil && tt.Next() != nil {
        tt = tt.Next()
    }
    return tt
}

// InlinesAnyMethod checks if any inlined call site is called from this frame.
func (self *MethodData) InlinesAnyMethod() bool {
    comp := self.owner.comp
    for i := 0; i < comp.NumInlinedCallSites(); i++ {
        if comp.InlinedCallSite(int32(i)).ByteCodeInfo.CallerIndex == self.site {
            return true
        }
    }
    return false
}

// AddLiveRangeInfo records the set of symbols dead at an OSR point.
func (self *MethodData) AddLiveRangeInfo(bci int32, info *bitset.BitSet) {
    self.live[bci] = info
}

func (self *MethodData) LiveRangeInfo(bci int32) *bitset.BitSet {
    return self.live[bci]
}

// AddPendingPushLivenessInfo records the pending pushes known live at an OSR point.
func (self *MethodData) AddPendingPushLivenessInfo(bci int32, info *bitset.BitSet) {
    self.ppLive[bci] = info
}

func (self *MethodData) PendingPushLivenessInfo(bci int32) *bitset.BitSet {
    return self.ppLive[bci]
}

// EnsureArgInfoAt makes room for n transition arguments at bci, discarding
// any previous arguments of a different count.
func (self *MethodData) EnsureArgInfoAt(bci int32, n int) {
    if args, ok := self.args[bci]; !ok || len(args) != n {
        self.args[bci] = make([]int32, n)
    }
}

// AddArgInfo sets the idx-th transition argument at bci. It does nothing
// unless EnsureArgInfoAt was called first.
func (self *MethodData) AddArgInfo(bci int32, idx int, symRefNum int32) {
    if args, ok := self.args[bci]; ok {
        args[idx] = symRefNum
    }
}

func (self *MethodData) ArgInfo(bci int32) []int32 {
    return self.args[bci]
}

func (self *MethodData) HasSlotSharingOrDeadSlotsInfo() bool {
    return len(self.slots) != 0
}

func (self *MethodData) AddSlotSharingInfo(bci int32, slot int32, symRefNum int32, symRefOrder int32, symSize int32, twoSlots bool) {
    self.EnsureSlotSharingInfoAt(bci).AddSlotInfo(slot, symRefNum, symRefOrder, symSize, twoSlots)
}

// EnsureSlotSharingInfoAt marks bci as an OSR point, even if no shared slot is live there.
func (self *MethodData) EnsureSlotSharingInfoAt(bci int32) *SlotSharingInfo {
    p, ok := self.slots[bci]
    if !ok {
        p = new(SlotSharingInfo)
        self.slots[bci] = p
    }
    return p
}

func (self *MethodData) SlotSharingInfo(bci int32) *SlotSharingInfo {
    return self.slots[bci]
}

// AddScratchBufferOffset publishes where the symbol with the given order in
// slot is spilled in the scratch buffer.
func (self *MethodData) AddScratchBufferOffset(slot int32, order int32, offset int32) {
    tab := self.scratch[slot]
    for int32(len(tab)) <= order {
        tab = append(tab, -1)
    }
    tab[order] = offset
    self.scratch[slot] = tab
}

// ScratchBufferOffset returns the scratch buffer offset of a shared-slot symbol.
func (self *MethodData) ScratchBufferOffset(slot int32, order int32) (int32, bool) {
    if tab, ok := self.scratch[slot]; !ok || order < 0 || int(order) >= len(tab) {
        return -1, false
    } else {
        return tab[order], true
    }
}

// SetNumOfSymsThatShareSlot may only be set once, except to the same value.
func (self *MethodData) SetNumOfSymsThatShareSlot(v int32) {
    if v < 0 {
        panic("osr: negative number of slot-sharing symbols")
    }
    if v == self.numShared {
        return
    }
    if self.numShared != -1 {
        panic(fmt.Sprintf("osr: number of slot-sharing symbols already set to %d, now %d", self.numShared, v))
    }
    self.numShared = v
    self.owner.shared += v
}

// AddInstruction records the shared slots live at bci for the instruction at pc.
func (self *MethodData) AddInstruction(pc int32, bci int32) {
    comp := self.owner.comp
    trace := comp.Tracing("osr")

    /* nothing shares a slot in this frame */
    if self.numShared <= 0 {
        if trace {
            comp.Log().Debug("instruction rejected: no slot-sharing symbols in method", "pc", pc, "site", self.site)
        }
        return
    }

    /* only OSR points carry slot infos */
    ssi, ok := self.slots[bci]
    if !ok {
        if trace {
            comp.Log().Debug("instruction rejected: not an OSR point", "pc", pc, "site", self.site, "bci", bci)
        }
        return
    }

    /* compose the scratch buffer infos */
    infos := make(ScratchBufferInfos, 0, len(ssi.infos))
    for _, v := range ssi.infos {
        off := int32(-1)
        if v.SymRefOrder != -1 {
            if off, ok = self.ScratchBufferOffset(v.Slot, v.SymRefOrder); !ok {
                panic(fmt.Sprintf("osr: slot %d symref #%d has no scratch buffer offset", v.Slot, v.SymRefNum))
            }
        } else if v.SymRefNum != -1 {
            panic(fmt.Sprintf("osr: slot %d symref #%d has no order", v.Slot, v.SymRefNum))
        }
        infos = append(infos, ScratchBufferInfo {
            InlinedSiteIndex    : self.site,
            OSRBufferOffset     : self.SlotIndex2OSRBufferIndex(v.Slot, v.SymSize, v.TakesTwoSlots),
            ScratchBufferOffset : off,
            SymSize             : v.SymSize,
        })
    }

    /* add to the map */
    self.owner.slotmap.Add(pc, infos)
}

func (self *MethodData) HeaderSize() int32 {
    return self.owner.comp.Target.OSRFrameHeaderSize
}

// SlotIndex2OSRBufferIndex returns the offset of a slot within the OSR frame
// buffer. Pending pushes are laid out first, followed by the temps, the sync
// object and the parameters in reverse slot order. A two-slot value lives in
// the lower-addressed slot.
func (self *MethodData) SlotIndex2OSRBufferIndex(slot int32, symSize int32, twoSlots bool) int32 {
    adj := int32(0)
    ref := self.owner.comp.Target.ReferenceSize
    if twoSlots {
        adj = -1
    }
    if m := self.method; slot < 0 {
        return self.HeaderSize() + (m.NumPendingPushSlots() + slot + adj) * ref
    } else {
        return self.HeaderSize() + (m.NumPendingPushSlots() + m.NumTemps + m.NumSyncSlots() + m.NumParameterSlots - slot - 1 + adj) * ref
    }
}

func (self *MethodData) TotalNumOfSlots() int32 {
    m := self.method
    return m.NumPendingPushSlots() + m.NumTemps + m.NumSyncSlots() + m.NumParameterSlots
}

func (self *MethodData) TotalDataSize() int32 {
    return self.HeaderSize() + self.TotalNumOfSlots() * self.owner.comp.Target.ReferenceSize
}

// IsEmpty reports frames without any OSR point recorded.
func (self *MethodData) IsEmpty() bool {
    return len(self.slots) == 0
}

func (self *MethodData) String() string {
    keys := maps.Keys(self.slots)
    slices.Sort(keys)
    buf := make([]string, len(keys))
    for i, k := range keys {
        buf[i] = fmt.Sprintf("%x -> %s", k, self.slots[k])
    }
    return "[" + strings.Join(buf, ",\n") + "]"
}
