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

package compile

import (
    `context`
    `testing`

    `github.com/cloudwego/treejit`
    `github.com/cloudwego/treejit/internal/abi`
    `github.com/cloudwego/treejit/internal/codegen`
    `github.com/cloudwego/treejit/internal/il`
    `github.com/cloudwego/treejit/internal/opts`
    `github.com/cloudwego/treejit/internal/osr`
    `github.com/cloudwego/treejit/internal/rt`
    `github.com/davecgh/go-spew/spew`
    `github.com/pkg/errors`
    `github.com/stretchr/testify/require`
)

var osrPoint = il.ByteCodeInfo { CallerIndex: -1, ByteCodeIndex: 3 }

type loopFixture struct {
    cd *osr.CompilationData
    md *osr.MethodData
    a  *il.SymbolReference
    b1 *il.Block
}

// newLoopFixture builds
//
//     b0: a = p
//     b1: a = a + 1; if a < 10 goto b1
//     b2: return a
//
// where a shares its slot with b, and b1 is an OSR point.
func newLoopFixture(name string) *loopFixture {
    tgt := abi.AMD64
    o := treejit.NewOptions(treejit.WithOSRMode(treejit.InvoluntaryOSR), treejit.WithSharedSlots(true), treejit.WithOSR(true))
    m := il.NewMethodSymbol(name, 1, 2)
    c := il.NewCompilation(m, &o, &tgt, nil)
    b := il.NewBuilder(c)
    p := c.NewParm(m, "p", il.Int32, 0)
    a := c.NewAuto(m, "a", il.Int32, 1)
    c.NewAuto(m, "b", il.Int32, 1)

    /* the trees */
    b0 := b.Block()
    b.Store(a, c.NewLoad(p))
    b1 := b.Block()
    b.Edge(b0, b1)
    b.Store(a, c.NewNode(il.OP_iadd, c.NewLoad(a), c.NewIntConst(1)))
    b.If(il.OP_ificmplt, c.NewLoad(a), c.NewIntConst(10), b1)
    b2 := b.Block()
    b.Edge(b1, b2)
    b.Return(c.NewLoad(a))
    il.ForEachNode(c, func(_ *il.TreeTop, n *il.Node) { n.SetByteCodeInfo(osrPoint) })

    /* OSR blocks of the root frame */
    cd := osr.NewCompilationData(c)
    md := cd.FindOrCreateOSRMethodData(-1, m)
    md.FindOrCreateOSRCodeBlock(b1.Entry().Node())
    md.AddOSRTransitionEdge(b1)
    cd.RecordSharedSlots(osrPoint, []*il.SymbolReference { a })
    return &loopFixture { cd: cd, md: md, a: a, b1: b1 }
}

func newPool(limits rt.Limits) *rt.BufferPool {
    tgt := abi.AMD64
    return rt.NewBufferPool(&tgt, limits)
}

func TestCompiler_Compile(t *testing.T) {
    fx := newLoopFixture("loop")
    res, err := NewCompiler(newPool(rt.Limits {}), nil).Compile(context.Background(), fx.cd)
    require.NoError(t, err)
    require.Equal(t, "loop", res.Method)
    require.Equal(t, uint32(32), res.Binary.FrameSize)

    /* the loop survives */
    require.True(t, fx.b1.HasSuccessor(fx.b1))
    require.Equal(t, uint32(16), fx.cd.MaxScratchBufferSize())

    /* decode what was written */
    md, err := treejit.DecodeMetaData(res.MetaData)
    require.NoError(t, err, spew.Sdump(res.MetaData))
    require.Equal(t, uint32(16), md.ScratchBufferSize)
    require.Len(t, md.Mappings, 1, md.String())
    require.Equal(t, res.Binary.Instructions[1].PC, md.Mappings[0].PC)
    require.Equal(t, []treejit.SharedSlot {{
        InlinedSiteIndex    : -1,
        OSRBufferOffset     : 24,
        ScratchBufferOffset : 0,
        SymSize             : 4,
    }}, md.Mappings[0].Slots)

    /* every instruction of the body maps to the same slots */
    require.Equal(t, md.Mappings[0], *md.Lookup(fx.b1.StartPC))

    /* the transition stub follows the body */
    pc, ok := md.CatchBlockPC(-1)
    require.True(t, ok)
    require.Equal(t, fx.md.OSRCatchBlock().StartPC, pc)
    require.Less(t, int(pc), len(res.Binary.Code))
    last := res.Binary.Instructions[len(res.Binary.Instructions) - 1]
    require.Equal(t, len(res.Binary.Code), int(last.PC) + last.Len)
    require.Nil(t, last.Node)
}

func TestCompiler_LimitsAbort(t *testing.T) {
    var ce treejit.CompilationError
    fx := newLoopFixture("big")
    _, err := NewCompiler(newPool(rt.Limits { MaxScratchBufferSize: 8 }), nil).Compile(context.Background(), fx.cd)
    require.Error(t, err)
    require.True(t, errors.As(err, &ce))
    require.Equal(t, "big", ce.Method)
}

func TestCompiler_WithoutOSR(t *testing.T) {
    tgt := abi.AMD64
    o := opts.GetDefaultOptions()
    o.EnableOSR = false
    m := il.NewMethodSymbol("plain", 0, 1)
    c := il.NewCompilation(m, &o, &tgt, nil)
    b := il.NewBuilder(c)
    b.Block()
    b.Return(c.NewIntConst(1))
    res, err := NewCompiler(newPool(rt.Limits {}), codegen.TreeGen{}).Compile(context.Background(), osr.NewCompilationData(c))
    require.NoError(t, err)
    md, err := treejit.DecodeMetaData(res.MetaData)
    require.NoError(t, err)
    require.Empty(t, md.Mappings)
    require.Empty(t, md.CatchBlockPCs)
}

func TestCompiler_Cancelled(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    _, err := NewCompiler(newPool(rt.Limits {}), nil).Compile(ctx, newLoopFixture("loop").cd)
    require.ErrorIs(t, err, context.Canceled)
}

func TestCompiler_Batch(t *testing.T) {
    var jobs []*osr.CompilationData
    for _, v := range []string { "m0", "m1", "m2", "m3" } {
        jobs = append(jobs, newLoopFixture(v).cd)
    }

    /* everything compiles */
    pool := newPool(rt.Limits {})
    ret, err := NewCompiler(pool, nil).Batch(context.Background(), jobs, 2)
    require.NoError(t, err)
    require.Len(t, ret, 4)
    for i, v := range ret {
        require.NoError(t, v.Err)
        require.Equal(t, jobs[i].Compilation().Method().Name, v.Result.Method)
    }
    _, scratch, _ := pool.Sizes()
    require.Equal(t, uint32(16), scratch)
}

func TestCompiler_BatchAbandons(t *testing.T) {
    jobs := []*osr.CompilationData { newLoopFixture("m0").cd, newLoopFixture("m1").cd }
    ret, err := NewCompiler(newPool(rt.Limits { MaxScratchBufferSize: 8 }), nil).Batch(context.Background(), jobs, 0)
    require.NoError(t, err)
    for _, v := range ret {
        var ce treejit.CompilationError
        require.Nil(t, v.Result)
        require.True(t, errors.As(v.Err, &ce))
    }
}

func TestCompiler_BatchCancelled(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    _, err := NewCompiler(newPool(rt.Limits {}), nil).Batch(ctx, []*osr.CompilationData { newLoopFixture("m0").cd }, 1)
    require.ErrorIs(t, err, context.Canceled)
}
