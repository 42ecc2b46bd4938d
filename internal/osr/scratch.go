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
    `github.com/cloudwego/treejit/internal/il`
)

// AssignScratchBufferOffsets gives every slot-sharing symbol of the frames
// with OSR blocks its own location in the scratch buffer. The offsets are
// cumulative across frames, the total becomes the maximum scratch buffer size.
func (self *CompilationData) AssignScratchBufferOffsets() {
    off := int32(0)
    tgt := self.comp.Target
    self.BuildSymRefOrderMap()

    /* only frames that can still transition */
    for _, md := range self.methods {
        if md == nil || md.OSRCodeBlock() == nil {
            continue
        }

        /* shared slots may be disabled entirely */
        nb := int32(0)
        if !self.comp.Options.SupportsSharedSlots() {
            md.SetNumOfSymsThatShareSlot(0)
            continue
        }

        /* pending pushes first, then the autos */
        for _, tab := range [2][][]*il.SymbolReference { md.method.PendingPushSymRefs(), md.method.AutoSymRefs() } {
            for _, refs := range tab {
                for i, ref := range refs {
                    if md.method.SharesStackSlot(ref) {
                        nb++
                        md.AddScratchBufferOffset(ref.Symbol().Slot, int32(i), off)
                        off += tgt.SlotSize(ref.Symbol().Size())
                    }
                }
            }
        }

        /* publish the count */
        md.SetNumOfSymsThatShareSlot(nb)
        if self.comp.Tracing("osr") {
            self.comp.Log().Debug("scratch buffer offsets assigned", "site", md.site, "symbols", nb, "end", off)
        }
    }

    /* the whole compilation */
    self.SetMaxScratchBufferSize(uint32(off))
}

// RecordSharedSlots marks bci as an OSR point and records which of the live
// symbols occupy a shared slot there. Symbols of other frames, JIT temps and
// symbols with a slot to themselves are ignored.
func (self *CompilationData) RecordSharedSlots(bci il.ByteCodeInfo, live []*il.SymbolReference) {
    md := self.MethodDataAt(bci.CallerIndex)
    if md == nil || md.OSRCodeBlock() == nil {
        if self.comp.Tracing("osr") {
            self.comp.Log().Debug("OSR point rejected: no OSR code block", "caller", bci.CallerIndex, "bci", bci.ByteCodeIndex)
        }
        return
    }

    /* the point exists even if nothing is shared */
    md.EnsureSlotSharingInfoAt(bci.ByteCodeIndex)
    if !self.comp.Options.SupportsSharedSlots() {
        return
    }

    /* only symbols in a shared slot of this frame */
    for _, ref := range live {
        sym := ref.Symbol()
        if !sym.IsAutoOrParm() || ref.Owner() != md.method || !md.method.SharesStackSlot(ref) {
            continue
        }
        self.AddSlotSharingInfo(bci, sym.Slot, ref.Number(), symRefOrderIn(md.method, ref), sym.Size(), sym.TakesTwoSlots())
    }
}

func symRefOrderIn(method *il.MethodSymbol, ref *il.SymbolReference) int32 {
    for i, v := range method.SymRefsInSlot(ref.Symbol().Slot) {
        if v == ref {
            return int32(i)
        }
    }
    return -1
}
