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

// GenOSRHelperCall fills the OSR code block of md with the prepareForOSR
// helper call, passing the vm thread, the inlined site index and a
// (value, symref number, symref order) triple for every interpreter-visible
// symbol of the frame. The root frame then jumps to the OSR return address,
// an inlined frame continues with the code block of its caller.
func (self *CompilationData) GenOSRHelperCall(md *MethodData) {
    bb := md.OSRCodeBlock()
    if bb == nil || !bb.IsEmpty() {
        return
    }

    /* the call, located in this frame */
    comp := self.comp
    tab := comp.SymRefTab()
    bci := il.ByteCodeInfo { CallerIndex: md.site }
    call := comp.NewSymNode(il.OP_call, tab.Helper(il.H_prepareForOSR))
    call.SetByteCodeInfo(bci)
    call.AddChild(comp.NewLoad(tab.Helper(il.H_vmThread)))
    call.AddChild(comp.NewIntConst(md.site))

    /* one triple per symbol */
    add := func(ref *il.SymbolReference) {
        order := int32(-1)
        if md.method.SharesStackSlot(ref) {
            order = symRefOrderIn(md.method, ref)
        }
        call.AddChild(comp.NewLoad(ref))
        call.AddChild(comp.NewIntConst(ref.Number()))
        call.AddChild(comp.NewIntConst(order))
    }

    /* pending pushes, then autos and parameters below the JIT temps */
    sync := md.method.SyncObjectTemp()
    for _, refs := range md.method.PendingPushSymRefs() {
        for _, ref := range refs {
            add(ref)
        }
    }
    for slot, refs := range md.method.AutoSymRefs() {
        if int32(slot) >= md.method.FirstJitTempIndex {
            break
        }
        for _, ref := range refs {
            if ref != sync {
                add(ref)
            }
        }
    }

    /* the sync object goes last */
    if sync != nil {
        add(sync)
    }

    /* emit the call */
    bb.Append(il.NewTreeTop(comp.NewTreeTopNode(call)))
    self.genOSRExit(md, bb)
}

func (self *CompilationData) genOSRExit(md *MethodData, bb *il.Block) {
    comp := self.comp
    cfg := comp.FlowGraph()

    /* inlined frames resume in the caller */
    if md.site != -1 {
        if caller := self.FindCallerOSRMethodData(md); caller != nil {
            next := caller.FindOrCreateOSRCodeBlock(bb.Entry().Node())
            node := comp.NewNode(il.OP_Goto)
            node.SetTarget(next.Entry())
            bb.Append(il.NewTreeTop(node))
            cfg.AddEdge(bb, next)
            md.SetLinkedToCaller(true)
            return
        }
    }

    /* the root frame jumps into the interpreter */
    ret := comp.NewLoad(comp.SymRefTab().Helper(il.H_osrReturnAddress))
    bb.Append(il.NewTreeTop(comp.NewNode(il.OP_igoto, ret)))
    cfg.AddEdge(bb, cfg.End())
}

// GenOSRHelperCalls generates the helper calls of every frame with OSR blocks.
func (self *CompilationData) GenOSRHelperCalls() {
    for _, md := range self.methods {
        if md != nil && md.OSRCodeBlock() != nil {
            self.GenOSRHelperCall(md)
        }
    }
}

// AddOSRTransitionEdge makes the OSR catch block of md an exception successor
// of bb, so that a transition requested within bb reaches it.
func (self *MethodData) AddOSRTransitionEdge(bb *il.Block) {
    if catch := self.OSRCatchBlock(); catch != nil {
        self.owner.comp.FlowGraph().AddExceptionEdge(bb, catch)
    }
}
