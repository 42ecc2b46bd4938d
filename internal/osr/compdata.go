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

    `github.com/cloudwego/treejit/internal/il`
    `github.com/cloudwego/treejit/internal/opts`
)

// CompilationData is the OSR state of one compilation: the per-frame method
// data, indexed by inlined site index + 1, and the instruction to shared slot
// map written into the method metadata.
type CompilationData struct {
    comp     *il.Compilation
    methods  []*MethodData
    slotmap  SlotMap
    orders   map[int32]int32
    shared   int32
    scratch  uint32
}

func NewCompilationData(comp *il.Compilation) *CompilationData {
    return &CompilationData {
        comp    : comp,
        slotmap : newSlotMap(),
        orders  : make(map[int32]int32),
    }
}

func (self *CompilationData) Compilation() *il.Compilation  { return self.comp }
func (self *CompilationData) Methods() []*MethodData         { return self.methods }
func (self *CompilationData) SlotMap() SlotMap               { return self.slotmap }
func (self *CompilationData) NumOfSymsThatShareSlot() int32  { return self.shared }
func (self *CompilationData) MaxScratchBufferSize() uint32   { return self.scratch }

// SetMaxScratchBufferSize raises the maximum scratch buffer size to at least v.
func (self *CompilationData) SetMaxScratchBufferSize(v uint32) {
    self.scratch = max(self.scratch, v)
}

// MethodDataAt returns the method data of an inlined site index, if any.
func (self *CompilationData) MethodDataAt(site int32) *MethodData {
    if idx := int(site) + 1; idx < 0 || idx >= len(self.methods) {
        return nil
    } else {
        return self.methods[idx]
    }
}

// FindOSRMethodData returns the method data of site, provided it was created for method.
func (self *CompilationData) FindOSRMethodData(site int32, method *il.MethodSymbol) *MethodData {
    if md := self.MethodDataAt(site); md != nil && md.site == site && md.method == method {
        return md
    } else {
        return nil
    }
}

// FindOrCreateOSRMethodData is called by the inliner for every frame it
// generates IL for, including the root method at site -1.
func (self *CompilationData) FindOrCreateOSRMethodData(site int32, method *il.MethodSymbol) *MethodData {
    if md := self.FindOSRMethodData(site, method); md != nil {
        return md
    }

    /* grow the array as needed */
    idx := int(site) + 1
    for len(self.methods) <= idx {
        self.methods = append(self.methods, nil)
    }

    /* create a new one */
    md := newMethodData(site, method, self)
    self.methods[idx] = md
    if self.comp.Tracing("osr") {
        self.comp.Log().Debug("OSR method data created", "index", idx, "callee", method.Name)
    }
    return md
}

// FindCallerOSRMethodData returns the method data of the frame that called callee.
func (self *CompilationData) FindCallerOSRMethodData(callee *MethodData) *MethodData {
    return self.MethodDataAt(self.comp.InlinedCallSite(callee.site).ByteCodeInfo.CallerIndex)
}

// SetOSRMethodDataArraySize drops the frames of inlined methods the inliner gave up on.
func (self *CompilationData) SetOSRMethodDataArraySize(n int) {
    for len(self.methods) < n {
        self.methods = append(self.methods, nil)
    }
    for i := n; i < len(self.methods); i++ {
        self.methods[i] = nil
    }
    self.methods = self.methods[:n]
}

// AddSlotSharingInfo records that a symbol is live in a shared slot at bci.
// The method data of bci's frame must already exist.
func (self *CompilationData) AddSlotSharingInfo(bci il.ByteCodeInfo, slot int32, symRefNum int32, symRefOrder int32, symSize int32, twoSlots bool) {
    self.methods[bci.CallerIndex + 1].AddSlotSharingInfo(bci.ByteCodeIndex, slot, symRefNum, symRefOrder, symSize, twoSlots)
}

// EnsureSlotSharingInfoAt marks bci as an OSR point of a frame with OSR blocks.
func (self *CompilationData) EnsureSlotSharingInfoAt(bci il.ByteCodeInfo) {
    if md := self.MethodDataAt(bci.CallerIndex); md != nil && md.OSRCodeBlock() != nil {
        md.EnsureSlotSharingInfoAt(bci.ByteCodeIndex)
    }
}

// AddInstructionForNode records an instruction generated for n. Under
// voluntary OSR only the induce-OSR helper calls can transition.
func (self *CompilationData) AddInstructionForNode(pc int32, n *il.Node) {
    if self.comp.Options.OSRMode == opts.VoluntaryOSR {
        if n == nil || !n.Op().HasSymbolReference() || !self.comp.SymRefTab().IsHelper(n.SymRef(), il.H_induceOSRAtCurrentPC) {
            return
        }
    }
    if n != nil {
        self.AddInstruction(pc, n.ByteCodeInfo())
    }
}

// AddInstruction records the shared slots live at pc for every frame of the
// inlined call chain bci belongs to, innermost first.
func (self *CompilationData) AddInstruction(pc int32, bci il.ByteCodeInfo) {
    log := self.comp.Log()
    trace := self.comp.Tracing("osr")

    /* negative PCs are not real instructions */
    if pc < 0 {
        if trace {
            log.Debug("instruction rejected: negative PC", "pc", pc)
        }
        return
    }

    /* walk outwards through the callers */
    for {
        if int(bci.CallerIndex) + 1 >= len(self.methods) {
            if trace {
                log.Debug("instruction rejected: caller index out of range", "pc", pc, "caller", bci.CallerIndex, "size", len(self.methods))
            }
            break
        }

        /* frames without OSR blocks have nothing to restore */
        md := self.methods[bci.CallerIndex + 1]
        if md == nil || md.OSRCodeBlock() == nil {
            if trace {
                log.Debug("instruction rejected: no OSR method data", "pc", pc, "caller", bci.CallerIndex)
            }
            break
        }

        /* nothing shares a slot in the whole compilation */
        if self.shared == 0 {
            if trace {
                log.Debug("instruction rejected: no slot-sharing symbols", "pc", pc)
            }
            break
        }

        /* add for this frame, then move to the caller */
        md.AddInstruction(pc, bci.ByteCodeIndex)
        if bci.CallerIndex == -1 {
            break
        }
        bci = self.comp.InlinedCallSite(bci.CallerIndex).ByteCodeInfo
    }
}

// CompressInstruction2SharedSlotMap merges consecutive mappings with equal
// payloads, keeping the lowest PC of each run.
func (self *CompilationData) CompressInstruction2SharedSlotMap() int {
    return self.slotmap.Compress()
}

// BuildSymRefOrderMap numbers the slot-sharing symbols of every frame with
// OSR blocks by their position in the slot.
func (self *CompilationData) BuildSymRefOrderMap() {
    for _, md := range self.methods {
        if md == nil || md.OSRCodeBlock() == nil {
            continue
        }
        self.buildSymRefOrderMap(md.method, md.method.PendingPushSymRefs())
        self.buildSymRefOrderMap(md.method, md.method.AutoSymRefs())
    }
}

func (self *CompilationData) buildSymRefOrderMap(method *il.MethodSymbol, tab [][]*il.SymbolReference) {
    for _, refs := range tab {
        for i, ref := range refs {
            if method.SharesStackSlot(ref) {
                self.orders[ref.Number()] = int32(i)
            }
        }
    }
}

// SymRefOrder returns the position of a symbol within its shared slot, or -1.
func (self *CompilationData) SymRefOrder(symRefNum int32) int32 {
    if v, ok := self.orders[symRefNum]; ok {
        return v
    } else {
        return -1
    }
}

func (self *CompilationData) String() string {
    var buf []string
    for i, md := range self.methods {
        if md != nil && md.OSRCodeBlock() != nil && !md.IsEmpty() {
            buf = append(buf, fmt.Sprintf("callerIdx:%d -> %s", i - 1, md))
        }
    }
    ret := "{"
    if len(buf) != 0 {
        ret += "osrMethodDataArray: [\n" + strings.Join(buf, ",\n") + "]\n"
    }
    if self.slotmap.Len() != 0 {
        entries := self.slotmap.Entries()
        lines := make([]string, len(entries))
        for i, p := range entries {
            lines[i] = p.String()
        }
        ret += fmt.Sprintf(", Instr2SharedSlotMetaData: %d[\n%s]", len(entries), strings.Join(lines, ",\n"))
    }
    return ret + "}\n"
}
