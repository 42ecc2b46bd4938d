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
    `errors`
    `testing`

    `github.com/bits-and-blooms/bitset`
    `github.com/brianvoe/gofakeit/v6`
    `github.com/cloudwego/treejit`
    `github.com/cloudwego/treejit/internal/abi`
    `github.com/cloudwego/treejit/internal/il`
    `github.com/cloudwego/treejit/internal/opts`
    `github.com/cloudwego/treejit/internal/rt`
    `github.com/stretchr/testify/require`
)

type inlineFixture struct {
    comp  *il.Compilation
    cd    *CompilationData
    outer *il.MethodSymbol
    inner *il.MethodSymbol
    a     *il.SymbolReference
    b     *il.SymbolReference
    pp    *il.SymbolReference
    site  int32
}

// newInlineFixture builds a root method that inlines a method with two autos
// sharing slot 0 and one pending push.
func newInlineFixture(o *opts.Options) *inlineFixture {
    tgt := abi.AMD64
    ret := new(inlineFixture)
    ret.outer = il.NewMethodSymbol("outer", 1, 1)
    ret.inner = il.NewMethodSymbol("inner", 0, 2)
    ret.comp = il.NewCompilation(ret.outer, o, &tgt, nil)
    ret.site = ret.comp.AddInlinedCallSite(ret.inner, il.ByteCodeInfo { CallerIndex: -1, ByteCodeIndex: 5 })
    ret.a = ret.comp.NewAuto(ret.inner, "a", il.Int32, 0)
    ret.b = ret.comp.NewAuto(ret.inner, "b", il.Int32, 0)
    ret.pp = ret.comp.NewAuto(ret.inner, "pp", il.Int32, -1)
    ret.cd = NewCompilationData(ret.comp)

    /* OSR blocks of both frames */
    root := ret.cd.FindOrCreateOSRMethodData(-1, ret.outer)
    leaf := ret.cd.FindOrCreateOSRMethodData(ret.site, ret.inner)
    root.FindOrCreateOSRCodeBlock(ret.comp.NewIntConst(0))
    leaf.FindOrCreateOSRCatchBlock(ret.comp.NewIntConst(0))
    return ret
}

func (self *inlineFixture) prepare() {
    self.cd.RecordSharedSlots(il.ByteCodeInfo { CallerIndex: self.site, ByteCodeIndex: 3 }, []*il.SymbolReference { self.a })
    self.cd.AssignScratchBufferOffsets()
    self.cd.GenOSRHelperCalls()
    self.cd.BuildDefiningMap()
}

func newSet(v ...uint) *bitset.BitSet {
    ret := bitset.New(0)
    for _, i := range v {
        ret.Set(i)
    }
    return ret
}

func TestSlotSharing_OverlapSymmetric(t *testing.T) {
    var x, y SlotSharingInfo
    x.AddSlotInfo(1, 10, 0, 8, true)
    x.AddSlotInfo(2, 11, 0, 4, false)
    y.AddSlotInfo(2, 11, 0, 4, false)
    y.AddSlotInfo(1, 10, 0, 8, true)
    exp := []SlotInfo {{ Slot: 1, SymRefNum: -1, SymRefOrder: -1, SymSize: 8, TakesTwoSlots: true }}
    require.Equal(t, exp, x.SlotInfos())
    require.Equal(t, exp, y.SlotInfos())
    require.True(t, x.SlotInfos()[0].IsZeroed())
}

func TestSlotSharing_WiderSymbolTakesTheEntry(t *testing.T) {
    var x SlotSharingInfo
    x.AddSlotInfo(3, 10, 0, 4, false)
    x.AddSlotInfo(2, 11, 1, 8, true)
    require.Equal(t, []SlotInfo {{ Slot: 2, SymRefNum: -1, SymRefOrder: -1, SymSize: 8, TakesTwoSlots: true }}, x.SlotInfos())

    /* a narrower symbol leaves it alone */
    x.AddSlotInfo(3, 12, 2, 4, false)
    require.Equal(t, []SlotInfo {{ Slot: 2, SymRefNum: -1, SymRefOrder: -1, SymSize: 8, TakesTwoSlots: true }}, x.SlotInfos())
}

func TestSlotSharing_Idempotent(t *testing.T) {
    var x SlotSharingInfo
    x.AddSlotInfo(3, 10, 1, 4, false)
    x.AddSlotInfo(3, 10, 1, 4, false)
    require.Len(t, x.SlotInfos(), 1)
    x.AddSlotInfo(-1, 12, 0, 4, false)
    require.Len(t, x.SlotInfos(), 2)
    require.False(t, x.SlotInfos()[0].IsZeroed())
    require.Panics(t, func() { x.AddSlotInfo(3, 10, 2, 4, false) })
}

func TestMethodData_SlotIndex2OSRBufferIndex(t *testing.T) {
    fx := newInlineFixture(nil)
    root := fx.cd.MethodDataAt(-1)
    leaf := fx.cd.MethodDataAt(fx.site)
    require.Equal(t, int32(16 + 8), root.SlotIndex2OSRBufferIndex(0, 4, false))
    require.Equal(t, int32(16), root.SlotIndex2OSRBufferIndex(1, 4, false))
    require.Equal(t, int32(16), leaf.SlotIndex2OSRBufferIndex(-1, 4, false))
    require.Equal(t, int32(32), leaf.SlotIndex2OSRBufferIndex(0, 4, false))
    require.Equal(t, int32(24), leaf.SlotIndex2OSRBufferIndex(0, 8, true))
    require.Equal(t, int32(16 + 3 * 8), leaf.TotalDataSize())

    /* same inputs, same outputs */
    fk := gofakeit.New(1)
    for i := 0; i < 100; i++ {
        slot := int32(fk.Number(-1, 1))
        two := fk.Bool()
        require.Equal(t, leaf.SlotIndex2OSRBufferIndex(slot, 8, two), leaf.SlotIndex2OSRBufferIndex(slot, 8, two))
    }
}

func TestSlotMap_OrderAndCompress(t *testing.T) {
    fk := gofakeit.New(42)
    sm := newSlotMap()
    payloads := []ScratchBufferInfos {
        {{ InlinedSiteIndex: -1, OSRBufferOffset: 16, ScratchBufferOffset: 0, SymSize: 4 }},
        {{ InlinedSiteIndex: 0, OSRBufferOffset: 24, ScratchBufferOffset: 8, SymSize: 8 }},
    }

    /* random PCs with runs of equal payloads */
    want := make(map[int32]ScratchBufferInfos)
    for len(want) < 200 {
        pc := int32(fk.Number(0, 100000))
        if _, ok := want[pc]; !ok {
            want[pc] = payloads[(pc / 1000) % 2]
            sm.Add(pc, want[pc])
        }
    }

    /* ascending order */
    entries := sm.Entries()
    require.Len(t, entries, len(want))
    for i := 1; i < len(entries); i++ {
        require.Less(t, entries[i - 1].InstructionPC, entries[i].InstructionPC)
    }

    /* compression keeps every lookup */
    require.NotZero(t, sm.Compress())
    for pc, v := range want {
        p := sm.Lookup(pc)
        require.NotNil(t, p)
        require.True(t, v.Equal(p.Infos), "pc %x", pc)
    }
    for i, p := range sm.Entries()[1:] {
        require.False(t, sm.Entries()[i].Infos.Equal(p.Infos))
    }
}

func TestSlotMap_AddAppends(t *testing.T) {
    sm := newSlotMap()
    sm.Add(8, ScratchBufferInfos {{ InlinedSiteIndex: 0 }})
    sm.Add(8, ScratchBufferInfos {{ InlinedSiteIndex: -1 }})
    require.Equal(t, 1, sm.Len())
    require.Len(t, sm.Lookup(100).Infos, 2)
    require.Nil(t, sm.Lookup(7))
}

func TestDefiningMap_Merge(t *testing.T) {
    a := DefiningMap { 2: newSet(3) }
    b := DefiningMap { 1: newSet(2) }
    c := DefiningMap { 0: newSet(1) }

    /* x -> y -> z */
    ab := MergeDefiningMaps(a, b)
    require.Equal(t, newSet(3).String(), ab[1].String())
    require.Equal(t, newSet(3).String(), ab[2].String())
    require.Equal(t, newSet(2).String(), b[1].String())

    /* three levels, either grouping */
    left := MergeDefiningMaps(ab, c)
    right := MergeDefiningMaps(a, MergeDefiningMaps(b, c))
    require.Equal(t, left.String(), right.String())
    require.Equal(t, newSet(3).String(), left[0].String())

    /* unknown symbols resolve to themselves */
    require.Equal(t, newSet(3, 7).String(), a.Resolve(newSet(2, 7)).String())
}

func TestCompilationData_Scenario1(t *testing.T) {
    fx := newInlineFixture(nil)
    fx.prepare()
    leaf := fx.cd.MethodDataAt(fx.site)
    root := fx.cd.MethodDataAt(-1)
    require.Equal(t, int32(2), leaf.NumOfSymsThatShareSlot())
    require.Equal(t, int32(0), root.NumOfSymsThatShareSlot())
    require.Equal(t, uint32(16), fx.cd.MaxScratchBufferSize())

    /* the helper call of the inlinee resumes in the caller */
    require.True(t, leaf.IsLinkedToCaller())
    require.True(t, leaf.OSRCodeBlock().HasSuccessor(root.OSRCodeBlock()))
    require.True(t, root.OSRCodeBlock().HasSuccessor(fx.comp.FlowGraph().End()))
    call := leaf.OSRCodeBlock().FirstRealTreeTop().Node().FirstChild()
    require.Equal(t, il.OP_call, call.Op())
    require.Equal(t, 2 + 3 * 3, call.NumChildren())
    require.Equal(t, fx.a.Number(), call.Child(6).Int())
    require.Equal(t, int32(0), call.Child(7).Int())
    require.Equal(t, int32(-1), call.Child(4).Int())

    /* every argument defines itself */
    defs := leaf.DefiningMap()
    require.Len(t, defs, 3)
    require.Equal(t, newSet(uint(fx.b.Number())).String(), defs[fx.b.Number()].String())

    /* one OSR point of the inlinee */
    fx.cd.AddInstruction(0x40, il.ByteCodeInfo { CallerIndex: fx.site, ByteCodeIndex: 3 })
    fx.cd.AddInstruction(-1, il.ByteCodeInfo { CallerIndex: fx.site, ByteCodeIndex: 3 })
    fx.cd.AddInstruction(0x44, il.ByteCodeInfo { CallerIndex: fx.site, ByteCodeIndex: 4 })
    root.OSRCatchBlock().StartPC = 0x100
    leaf.OSRCatchBlock().StartPC = 0x180

    /* serialize */
    buf := make([]byte, fx.cd.SizeOfMetaData())
    require.Equal(t, uint32(36 + 16), fx.cd.WriteMetaData(buf))
    exp := []uint32 { 36, 16, 1, 0x40, 1, uint32(fx.site), 32, 0, 4, 16, 2, 0x100, 0x180 }
    for i, v := range exp {
        require.Equal(t, v, binary.LittleEndian.Uint32(buf[i * 4:]), "word %d", i)
    }
}

func TestCompilationData_Scenario2(t *testing.T) {
    o := opts.GetDefaultOptions()
    o.DisableOSRSharedSlots = true
    fx := newInlineFixture(&o)
    fx.prepare()
    fx.cd.AddInstruction(0x40, il.ByteCodeInfo { CallerIndex: fx.site, ByteCodeIndex: 3 })
    require.Equal(t, int32(0), fx.cd.NumOfSymsThatShareSlot())
    require.Equal(t, 0, fx.cd.SlotMap().Len())
    require.Equal(t, 4 + fx.cd.SizeOfCallerIndex2OSRCatchBlockMap(), fx.cd.SizeOfMetaData())
    buf := make([]byte, fx.cd.SizeOfMetaData())
    fx.cd.WriteMetaData(buf)
    require.Equal(t, uint32(4), binary.LittleEndian.Uint32(buf))
    require.Equal(t, fx.cd.SizeOfCallerIndex2OSRCatchBlockMap(), binary.LittleEndian.Uint32(buf[4:]))
}

func TestCompilationData_VoluntaryMode(t *testing.T) {
    o := opts.GetDefaultOptions()
    o.OSRMode = opts.VoluntaryOSR
    fx := newInlineFixture(&o)
    fx.prepare()
    bci := il.ByteCodeInfo { CallerIndex: fx.site, ByteCodeIndex: 3 }

    /* ordinary nodes never transition */
    n := fx.comp.NewLoad(fx.a)
    n.SetByteCodeInfo(bci)
    fx.cd.AddInstructionForNode(0x10, n)
    require.Equal(t, 0, fx.cd.SlotMap().Len())

    /* the induce OSR helper does */
    n = fx.comp.NewSymNode(il.OP_call, fx.comp.SymRefTab().Helper(il.H_induceOSRAtCurrentPC))
    n.SetByteCodeInfo(bci)
    fx.cd.AddInstructionForNode(0x20, n)
    require.Equal(t, 1, fx.cd.SlotMap().Len())
    require.Equal(t, int32(0x20), fx.cd.SlotMap().Entries()[0].InstructionPC)
}

func TestCompilationData_RemovedBlocks(t *testing.T) {
    fx := newInlineFixture(nil)
    fx.prepare()
    leaf := fx.cd.MethodDataAt(fx.site)
    fx.comp.FlowGraph().RemoveNode(leaf.OSRCatchBlock())
    require.Nil(t, leaf.OSRCatchBlock())
    require.NotNil(t, leaf.OSRCodeBlock())

    /* section 1 reports no catch block for the frame */
    buf := make([]byte, fx.cd.SizeOfMetaData())
    fx.cd.WriteMetaData(buf)
    require.Equal(t, uint32(0), binary.LittleEndian.Uint32(buf[len(buf) - 4:]))
}

func TestCompilationData_ArraySize(t *testing.T) {
    fx := newInlineFixture(nil)
    fx.cd.SetOSRMethodDataArraySize(1)
    require.Len(t, fx.cd.Methods(), 1)
    require.Nil(t, fx.cd.MethodDataAt(fx.site))
    require.Equal(t, uint32(12), fx.cd.SizeOfCallerIndex2OSRCatchBlockMap())
    require.Panics(t, func() {
        md := fx.cd.FindOrCreateOSRMethodData(fx.site, fx.inner)
        md.catch = il.NewBlock(fx.comp, il.ByteCodeInfo {})
        md.FindOrCreateOSRCodeBlock(fx.comp.NewIntConst(0))
    })
}

func TestCompilationData_CheckOSRLimits(t *testing.T) {
    fx := newInlineFixture(nil)
    fx.prepare()

    /* enough room */
    pool := rt.NewBufferPool(fx.comp.Target, rt.Limits {})
    require.NoError(t, fx.cd.CheckOSRLimits(pool, 64))
    frame, scratch, stack := pool.Sizes()
    require.Equal(t, uint32(72), frame)
    require.Equal(t, uint32(16), scratch)
    require.Equal(t, uint32(88), stack)

    /* the runtime refuses */
    var ce treejit.CompilationError
    err := fx.cd.CheckOSRLimits(rt.NewBufferPool(fx.comp.Target, rt.Limits { MaxScratchBufferSize: 8 }), 64)
    require.Error(t, err)
    require.True(t, errors.As(err, &ce))
    require.Equal(t, "outer", ce.Method)
}

func TestCompilationData_DefiningMapThroughCatchBlock(t *testing.T) {
    fx := newInlineFixture(nil)
    leaf := fx.cd.MethodDataAt(fx.site)
    fx.cd.AssignScratchBufferOffsets()
    fx.cd.GenOSRHelperCalls()

    /* a = pp; b = a + 1 in the catch block */
    cb := leaf.OSRCatchBlock()
    cb.Append(il.NewTreeTop(fx.comp.NewStore(fx.a, fx.comp.NewLoad(fx.pp))))
    cb.Append(il.NewTreeTop(fx.comp.NewStore(fx.b, fx.comp.NewNode(il.OP_iadd, fx.comp.NewLoad(fx.a), fx.comp.NewIntConst(1)))))
    fx.cd.BuildDefiningMap()

    /* both resolve to the pending push */
    pp := uint(fx.pp.Number())
    defs := leaf.DefiningMap()
    require.Equal(t, newSet(pp).String(), defs[fx.a.Number()].String())
    require.Equal(t, newSet(pp).String(), defs[fx.b.Number()].String())
    require.Equal(t, newSet(pp).String(), leaf.LiveSymbols(newSet(uint(fx.a.Number()), 1000)).String())
}

func TestCompilationData_DefiningMapThroughCodeBlock(t *testing.T) {
    fx := newInlineFixture(nil)
    leaf := fx.cd.MethodDataAt(fx.site)
    fx.cd.AssignScratchBufferOffsets()
    fx.cd.GenOSRHelperCalls()

    /* a = pp; pp = b; then the helper call */
    cb := leaf.OSRCodeBlock()
    cb.Prepend(il.NewTreeTop(fx.comp.NewStore(fx.pp, fx.comp.NewLoad(fx.b))))
    cb.Prepend(il.NewTreeTop(fx.comp.NewStore(fx.a, fx.comp.NewLoad(fx.pp))))
    fx.cd.BuildDefiningMap()

    /* the stores of the code block apply once */
    defs := leaf.DefiningMap()
    require.Equal(t, newSet(uint(fx.pp.Number())).String(), defs[fx.a.Number()].String())
    require.Equal(t, newSet(uint(fx.b.Number())).String(), defs[fx.pp.Number()].String())
    require.Equal(t, newSet(uint(fx.b.Number())).String(), defs[fx.b.Number()].String())
}
