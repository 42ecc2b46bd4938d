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

package opt

import (
    `context`
    `testing`

    `github.com/cloudwego/treejit/internal/il`
    `github.com/cloudwego/treejit/internal/opts`
    `github.com/stretchr/testify/require`
)

func newTestCompilation(o *opts.Options) (*il.Compilation, *il.Builder) {
    m := il.NewMethodSymbol("test", 2, 4)
    c := il.NewCompilation(m, o, nil, nil)
    return c, il.NewBuilder(c)
}

func treesOf(bb *il.Block) []*il.Node {
    var ret []*il.Node
    bb.ForEachTree(func(tt *il.TreeTop) { ret = append(ret, tt.Node()) })
    return ret
}

func TestDeadTrees_SingleReference(t *testing.T) {
    c, b := newTestCompilation(nil)
    a := c.NewAuto(c.Method(), "a", il.Int32, 0)
    bb := b.Block()
    ld := c.NewLoad(a)
    add := c.NewNode(il.OP_iadd, ld, c.NewIntConst(1))
    b.Anchor(add)
    ret := b.Return(nil)
    require.NotZero(t, DeadTrees{}.Perform(NewManager(c, nil)))
    require.Equal(t, []*il.Node { ret.Node() }, treesOf(bb))
    live := il.LiveNodes(c)
    require.False(t, live.Contains(add))
    require.False(t, live.Contains(ld))
    require.Equal(t, int32(0), ld.RefCount())
}

func TestDeadTrees_AnchorsCommonedChildrenInOrder(t *testing.T) {
    c, b := newTestCompilation(nil)
    x := c.NewAuto(c.Method(), "x", il.Int32, 0)
    y := c.NewAuto(c.Method(), "y", il.Int32, 1)
    z := c.NewAuto(c.Method(), "z", il.Int32, 2)
    bb := b.Block()
    l1 := c.NewLoad(x)
    l2 := c.NewLoad(x)
    b.Anchor(c.NewNode(il.OP_iadd, l1, l2))
    kill := b.Store(x, c.NewIntConst(5))
    st1 := b.Store(y, l1)
    st2 := b.Store(z, l2)
    b.Return(nil)
    DeadTrees{}.Perform(NewManager(c, nil))
    trees := treesOf(bb)
    require.Len(t, trees, 6)
    require.Equal(t, il.OP_treetop, trees[0].Op())
    require.Equal(t, l1, trees[0].FirstChild())
    require.Equal(t, il.OP_treetop, trees[1].Op())
    require.Equal(t, l2, trees[1].FirstChild())
    require.Equal(t, kill.Node(), trees[2])
    require.Equal(t, st1.Node(), trees[3])
    require.Equal(t, st2.Node(), trees[4])
    require.Equal(t, int32(2), l1.RefCount())
    require.Equal(t, int32(2), l2.RefCount())
}

func TestDeadTrees_MovesAnchorToNextReference(t *testing.T) {
    c, b := newTestCompilation(nil)
    x := c.NewAuto(c.Method(), "x", il.Int32, 0)
    y := c.NewAuto(c.Method(), "y", il.Int32, 1)
    bb := b.Block()
    ld := c.NewLoad(x)
    b.Anchor(c.NewNode(il.OP_iadd, ld, c.NewIntConst(1)))
    b.Store(y, c.NewIntConst(5))
    st := b.Store(y, ld)
    b.Return(nil)
    DeadTrees{}.Perform(NewManager(c, nil))
    trees := treesOf(bb)
    require.Len(t, trees, 3)
    require.Equal(t, st.Node(), trees[1])
    require.Equal(t, int32(1), ld.RefCount())
}

func TestDeadTrees_GlRegDeps(t *testing.T) {
    c, b := newTestCompilation(nil)
    x := c.NewAuto(c.Method(), "x", il.Int32, 0)
    b1 := b.Block()
    b.Store(x, c.NewIntConst(1))
    pt := c.NewNode(il.OP_PassThrough, c.NewLoad(x))
    pt.SetGlobalRegister(5)
    b1.Exit().Node().AddChild(c.NewNode(il.OP_GlRegDeps, pt))
    b2 := b.Block()
    b.Edge(b1, b2)
    rl := c.NewNode(il.OP_iRegLoad)
    rl.SetGlobalRegister(5)
    b2.Entry().Node().AddChild(c.NewNode(il.OP_GlRegDeps, rl))
    b.Return(nil)
    m := NewManager(c, nil)
    DeadTrees{}.Perform(m)
    require.Equal(t, 0, b1.Exit().Node().NumChildren())
    require.Equal(t, 0, b2.Entry().Node().NumChildren())
    require.Equal(t, int32(0), pt.RefCount())
    require.Equal(t, int32(0), rl.RefCount())
    require.True(t, m.Requested(DeadTreesElimination))
    require.Equal(t, []*il.Block { b1 }, m.RequestedBlocks(DeadTreesElimination))
}

func TestDeadTrees_KeepsGlRegDepsWhenDisabled(t *testing.T) {
    o := opts.GetDefaultOptions()
    o.DisableGlRegDepElimination = true
    c, b := newTestCompilation(&o)
    bb := b.Block()
    rl := c.NewNode(il.OP_iRegLoad)
    rl.SetGlobalRegister(1)
    deps := c.NewNode(il.OP_GlRegDeps, rl)
    bb.Entry().Node().AddChild(deps)
    b.Return(nil)
    DeadTrees{}.Perform(NewManager(c, nil))
    require.Equal(t, 1, deps.NumChildren())
}

func TestDeadTrees_MovesRegStoreToBlockEnd(t *testing.T) {
    c, b := newTestCompilation(nil)
    a := c.NewAuto(c.Method(), "a", il.Int32, 0)
    y := c.NewAuto(c.Method(), "y", il.Int32, 1)
    b1 := b.Block()
    v := c.NewNode(il.OP_iadd, c.NewLoad(a), c.NewIntConst(1))
    rs := c.NewNode(il.OP_iRegStore, v)
    rs.SetGlobalRegister(3)
    b.Tree(rs)
    st := b.Store(y, v)
    b2 := b.Block()
    b.Return(nil)
    b.SetCurrent(b1)
    jmp := b.Goto(b2)
    DeadTrees{}.Perform(NewManager(c, nil))
    require.Equal(t, []*il.Node { st.Node(), rs, jmp.Node() }, treesOf(b1))
    require.Equal(t, int32(2), v.RefCount())
}

func TestDeadTrees_RemovesCheckOfPureCall(t *testing.T) {
    c, b := newTestCompilation(nil)
    callee := il.NewMethodSymbol("pure", 0, 0)
    callee.SetSideEffectFree(true)
    bb := b.Block()
    call := c.NewSymNode(il.OP_call, c.NewMethodRef(callee))
    b.Tree(c.NewNode(il.OP_NULLCHK, call))
    ret := b.Return(nil)
    DeadTrees{}.Perform(NewManager(c, nil))
    require.Equal(t, []*il.Node { ret.Node() }, treesOf(bb))
    require.Equal(t, int32(0), call.RefCount())
}

func TestDeadTrees_KeepsImpureCall(t *testing.T) {
    c, b := newTestCompilation(nil)
    callee := il.NewMethodSymbol("impure", 0, 0)
    bb := b.Block()
    call := c.NewSymNode(il.OP_call, c.NewMethodRef(callee))
    b.Anchor(call)
    b.Return(nil)
    require.Equal(t, 0, DeadTrees{}.Perform(NewManager(c, nil)))
    require.Len(t, treesOf(bb), 2)
}

// loop builds
//
//     b0: i = 0
//     b1: body..., i = i + 1, if i < bound goto b1
//     b2: exit...
func loop(c *il.Compilation, b *il.Builder, i *il.SymbolReference, bound int32, body func()) (*il.Block, *il.Block, *il.Block) {
    b0 := b.Block()
    b.Store(i, c.NewIntConst(0))
    b1 := b.Block()
    b.Edge(b0, b1)
    body()
    b.Store(i, c.NewNode(il.OP_iadd, c.NewLoad(i), c.NewIntConst(1)))
    b.If(il.OP_ificmplt, c.NewLoad(i), c.NewIntConst(bound), b1)
    b2 := b.Block()
    b.Edge(b1, b2)
    return b0, b1, b2
}

func TestIsolatedStores_Cycle(t *testing.T) {
    c, b := newTestCompilation(nil)
    m := c.Method()
    i := c.NewAuto(m, "i", il.Int32, 0)
    x := c.NewAuto(m, "a", il.Int32, 1)
    y := c.NewAuto(m, "b", il.Int32, 2)
    var sa, sb *il.Node
    loop(c, b, i, 10, func() {
        sa = b.Store(x, c.NewNode(il.OP_iadd, c.NewLoad(y), c.NewIntConst(1))).Node()
        sb = b.Store(y, c.NewNode(il.OP_iadd, c.NewLoad(x), c.NewIntConst(1))).Node()
    })
    b.Return(c.NewLoad(i))
    mgr := NewManager(c, nil)
    mgr.BuildUseDefInfo()
    require.Equal(t, 2, IsolatedStores{}.Perform(mgr))
    for _, v := range []*il.Node { sa, sb } {
        require.Equal(t, il.OP_treetop, v.Op())
        require.Equal(t, il.OP_iconst, v.FirstChild().Op())
        require.Equal(t, int32(_DeadValueMarker), v.FirstChild().Int())
    }
    require.Nil(t, mgr.UseDefInfo())
    require.True(t, mgr.Requested(DeadTreesElimination))
    require.True(t, mgr.Requested(CatchBlockRemoval))
}

func TestIsolatedStores_CycleUsedAfterLoop(t *testing.T) {
    c, b := newTestCompilation(nil)
    m := c.Method()
    i := c.NewAuto(m, "i", il.Int32, 0)
    x := c.NewAuto(m, "a", il.Int32, 1)
    y := c.NewAuto(m, "b", il.Int32, 2)
    var sa, sb *il.Node
    loop(c, b, i, 10, func() {
        sa = b.Store(x, c.NewNode(il.OP_iadd, c.NewLoad(y), c.NewIntConst(1))).Node()
        sb = b.Store(y, c.NewNode(il.OP_iadd, c.NewLoad(x), c.NewIntConst(1))).Node()
    })
    b.Return(c.NewLoad(x))
    mgr := NewManager(c, nil)
    mgr.BuildUseDefInfo()
    require.Equal(t, 0, IsolatedStores{}.Perform(mgr))
    require.Equal(t, il.OP_istore, sa.Op())
    require.Equal(t, il.OP_istore, sb.Op())
    require.NotNil(t, mgr.UseDefInfo())
}

func TestIsolatedStores_TrivialWithoutUseDef(t *testing.T) {
    c, b := newTestCompilation(nil)
    x := c.NewAuto(c.Method(), "x", il.Int32, 0)
    b.Block()
    st := b.Store(x, c.NewLoad(x)).Node()
    b.Return(nil)
    mgr := NewManager(c, nil)
    require.Equal(t, 1, IsolatedStores{}.Perform(mgr))
    require.Equal(t, il.OP_treetop, st.Op())
    require.Nil(t, st.SymRef())
    require.True(t, mgr.Requested(DeadTreesElimination))
}

func TestIsolatedStores_LoadedLocalWithoutUseDef(t *testing.T) {
    c, b := newTestCompilation(nil)
    x := c.NewAuto(c.Method(), "x", il.Int32, 0)
    b.Block()
    st := b.Store(x, c.NewIntConst(1)).Node()
    b.Return(c.NewLoad(x))
    require.Equal(t, 0, IsolatedStores{}.Perform(NewManager(c, nil)))
    require.Equal(t, il.OP_istore, st.Op())
}

func TestIsolatedStores_VolatileStoreIsKept(t *testing.T) {
    c, b := newTestCompilation(nil)
    x := c.NewAuto(c.Method(), "x", il.Int32, 0)
    x.Symbol().Flags |= il.SF_Volatile
    b.Block()
    st := b.Store(x, c.NewIntConst(1)).Node()
    b.Return(nil)
    mgr := NewManager(c, nil)
    mgr.BuildUseDefInfo()
    require.Equal(t, 0, IsolatedStores{}.Perform(mgr))
    require.Equal(t, il.OP_istore, st.Op())
}

func TestIsolatedStores_RedundantSpill(t *testing.T) {
    c, b := newTestCompilation(nil)
    x := c.NewAuto(c.Method(), "x", il.Int32, 0)
    b.Block()
    rs := c.NewSymNode(il.OP_iRegStore, x, c.NewLoad(x))
    rs.SetGlobalRegister(2)
    b.Tree(rs)
    rl := c.NewSymNode(il.OP_iRegLoad, x)
    rl.SetGlobalRegister(2)
    st := b.Store(x, rl).Node()
    b.Return(c.NewLoad(x))
    mgr := NewManager(c, nil)
    mgr.BuildUseDefInfo()
    require.Equal(t, 1, IsolatedStores{}.Perform(mgr))
    require.Equal(t, il.OP_treetop, st.Op())
    require.Equal(t, rl, st.FirstChild())
}

func TestIsolatedStores_DeadLoop(t *testing.T) {
    c, b := newTestCompilation(nil)
    i := c.NewAuto(c.Method(), "i", il.Int32, 0)
    _, b1, b2 := loop(c, b, i, 10, func() {})
    b.Return(nil)
    mgr := NewManager(c, nil)
    mgr.BuildUseDefInfo()
    require.Equal(t, 1, IsolatedStores{}.Perform(mgr))
    require.True(t, b1.IsEmpty())
    require.False(t, b1.HasSuccessor(b1))
    require.True(t, b1.HasSuccessor(b2))
    require.Len(t, b1.Successors(), 1)
}

func TestIsolatedStores_LoopWithResultIsKept(t *testing.T) {
    c, b := newTestCompilation(nil)
    i := c.NewAuto(c.Method(), "i", il.Int32, 0)
    _, b1, _ := loop(c, b, i, 10, func() {})
    b.Return(c.NewLoad(i))
    mgr := NewManager(c, nil)
    mgr.BuildUseDefInfo()
    require.Equal(t, 0, IsolatedStores{}.Perform(mgr))
    require.True(t, b1.HasSuccessor(b1))
}

func TestIsolatedStores_FoldLoopToggles(t *testing.T) {
    o := opts.GetDefaultOptions()
    o.FoldLoopToggles = true
    c, b := newTestCompilation(&o)
    i := c.NewAuto(c.Method(), "i", il.Int32, 0)
    x := c.NewAuto(c.Method(), "x", il.Int32, 1)
    var toggle *il.Node
    b0, b1, _ := loop(c, b, i, 8, func() {
        toggle = b.Store(x, c.NewNode(il.OP_ixor, c.NewLoad(x), c.NewIntConst(1))).Node()
    })
    b.Return(c.NewLoad(x))
    mgr := NewManager(c, nil)
    mgr.BuildUseDefInfo()
    require.Equal(t, 1, IsolatedStores{}.Perform(mgr))
    require.Equal(t, toggle, b0.LastRealTreeTop().Node())
    require.Equal(t, int32(0), toggle.FirstChild().SecondChild().Int())
    for _, v := range treesOf(b1) {
        require.NotEqual(t, toggle, v)
    }
}

func TestCatchBlocks_RemovesUnreachableHandler(t *testing.T) {
    c, b := newTestCompilation(nil)
    x := c.NewAuto(c.Method(), "x", il.Int32, 0)
    b0 := b.Block()
    b.Store(x, c.NewIntConst(1))
    b.Return(nil)
    h := b.Block()
    b.Return(nil)
    c.FlowGraph().AddExceptionEdge(b0, h)
    mgr := NewManager(c, nil)
    require.Equal(t, 2, CatchBlocks{}.Perform(mgr))
    require.True(t, h.IsRemoved())
    require.Empty(t, b0.ExceptionSuccessors())
}

func TestCatchBlocks_KeepsHandlerOfRaisingBlock(t *testing.T) {
    c, b := newTestCompilation(nil)
    x := c.NewAuto(c.Method(), "x", il.Int32, 0)
    b0 := b.Block()
    b.Store(x, c.NewNode(il.OP_idiv, c.NewLoad(x), c.NewLoad(x)))
    b.Return(nil)
    h := b.Block()
    b.Return(nil)
    c.FlowGraph().AddExceptionEdge(b0, h)
    require.Equal(t, 0, CatchBlocks{}.Perform(NewManager(c, nil)))
    require.False(t, h.IsRemoved())
}

func TestStructure_NaturalLoop(t *testing.T) {
    c, b := newTestCompilation(nil)
    x := c.NewAuto(c.Method(), "x", il.Int32, 0)
    b0 := b.Block()
    b.Store(x, c.NewIntConst(0))
    b1 := b.Block()
    b.Edge(b0, b1)
    b.Store(x, c.NewNode(il.OP_iadd, c.NewLoad(x), c.NewIntConst(1)))
    b2 := b.Block()
    b.Edge(b1, b2)
    b.If(il.OP_ificmplt, c.NewLoad(x), c.NewIntConst(10), b1)
    b3 := b.Block()
    b.Edge(b2, b3)
    b.Return(nil)
    st := AnalyzeStructure(c)
    require.True(t, st.Dominates(b1, b2))
    require.False(t, st.Dominates(b2, b1))
    require.Len(t, st.Loops(), 1)
    l := st.Loops()[0]
    require.Equal(t, b1, l.Header)
    require.Equal(t, []*il.Block { b1, b2 }, l.Blocks())
    require.Equal(t, b0, l.Preheader())
    require.Len(t, l.ExitEdges(), 1)
    require.Equal(t, b3, l.ExitEdges()[0].To)
    require.True(t, mayHaveLoops(c))
}

func TestStructure_Acyclic(t *testing.T) {
    c, b := newTestCompilation(nil)
    b.Block()
    b.Return(nil)
    require.Empty(t, AnalyzeStructure(c).Loops())
    require.False(t, mayHaveLoops(c))
}

func TestUseDefInfo_ReachingDefs(t *testing.T) {
    c, b := newTestCompilation(nil)
    m := c.Method()
    p := c.NewParm(m, "p", il.Int32, 0)
    x := c.NewAuto(m, "x", il.Int32, 1)
    b0 := b.Block()
    st := b.Store(x, c.NewLoad(p)).Node()
    b1 := b.Block()
    b.Edge(b0, b1)
    ld := c.NewLoad(x)
    inc := b.Store(x, c.NewNode(il.OP_iadd, ld, c.NewIntConst(1))).Node()
    b.If(il.OP_ificmplt, c.NewLoad(x), c.NewIntConst(10), b1)
    b2 := b.Block()
    b.Edge(b1, b2)
    b.Return(nil)
    ud := BuildUseDefInfo(c)
    defs := ud.UseDef(ld.UseDefIndex())
    require.NotNil(t, defs)
    require.Equal(t, uint(2), defs.Count())
    require.True(t, defs.Test(uint(st.UseDefIndex())))
    require.True(t, defs.Test(uint(inc.UseDefIndex())))
    pd := ud.UseDef(st.FirstChild().UseDefIndex())
    require.Equal(t, uint(1), pd.Count())
    first, ok := pd.NextSet(0)
    require.True(t, ok)
    require.Less(t, int32(first), ud.FirstRealDefIndex())
    require.Nil(t, ud.Node(int32(first)))
    uses := ud.UsesFromDef(inc.UseDefIndex())
    require.Equal(t, uint(2), uses.Count())
}

func TestManager_FollowOnRequests(t *testing.T) {
    c, b := newTestCompilation(nil)
    x := c.NewAuto(c.Method(), "x", il.Int32, 0)
    bb := b.Block()
    b.Store(x, c.NewNode(il.OP_iadd, c.NewIntConst(1), c.NewIntConst(2)))
    ret := b.Return(nil)
    mgr := NewManager(c, nil)
    require.NoError(t, mgr.Optimize(context.Background()))
    require.Equal(t, []*il.Node { ret.Node() }, treesOf(bb))
    require.Equal(t, 1, mgr.Stats().Performed[IsolatedStoreElimination])
    require.NotZero(t, mgr.Stats().Performed[DeadTreesElimination])
}

func TestManager_Cancelled(t *testing.T) {
    c, b := newTestCompilation(nil)
    b.Block()
    b.Return(nil)
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    require.ErrorIs(t, NewManager(c, nil).Optimize(ctx), context.Canceled)
}

func TestKind_String(t *testing.T) {
    require.Equal(t, "deadTrees", DeadTreesElimination.String())
    require.Equal(t, "Kind(9)", Kind(9).String())
}
