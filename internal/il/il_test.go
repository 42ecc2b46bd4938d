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

package il

import (
    `testing`

    `github.com/stretchr/testify/require`
)

func newTestCompilation(t *testing.T) (*Compilation, *Builder) {
    m := NewMethodSymbol("test", 2, 2)
    c := NewCompilation(m, nil, nil, nil)
    return c, NewBuilder(c)
}

func TestNode_RefCounts(t *testing.T) {
    c, _ := newTestCompilation(t)
    x := c.NewAuto(c.Method(), "x", Int32, 2)
    ld := c.NewLoad(x)
    add := c.NewNode(OP_iadd, ld, c.NewIntConst(1))
    mul := c.NewNode(OP_imul, add, add)
    require.Equal(t, int32(2), add.RefCount())
    require.Equal(t, int32(1), ld.RefCount())
    mul.SetRefCount(1)
    mul.RecursivelyDecRefCount()
    require.Equal(t, int32(0), mul.RefCount())
    require.Equal(t, int32(0), add.RefCount())
    require.Equal(t, int32(0), ld.RefCount())
}

func TestNode_Recreate(t *testing.T) {
    c, _ := newTestCompilation(t)
    x := c.NewAuto(c.Method(), "x", Int32, 2)
    st := c.NewStore(x, c.NewIntConst(3))
    st.SetUseDefIndex(4)
    st.Recreate(OP_treetop)
    require.Nil(t, st.SymRef())
    require.Equal(t, int32(-1), st.UseDefIndex())
    require.Equal(t, 1, st.NumChildren())
}

func TestMethod_SharesStackSlot(t *testing.T) {
    c, _ := newTestCompilation(t)
    m := c.Method()
    a := c.NewAuto(m, "a", Int32, 0)
    b := c.NewAuto(m, "b", Address, 0)
    l := c.NewAuto(m, "l", Int64, 1)
    d := c.NewAuto(m, "d", Int32, 2)
    p := c.NewAuto(m, "p", Int32, -1)
    j := c.NewAuto(m, "j", Int32, 4)
    require.True(t, m.SharesStackSlot(a))
    require.True(t, m.SharesStackSlot(b))
    require.True(t, m.SharesStackSlot(l))
    require.True(t, m.SharesStackSlot(d))
    require.False(t, m.SharesStackSlot(p))
    require.False(t, m.SharesStackSlot(j))
    require.True(t, m.SharesStackSlots())
    require.Len(t, m.SymRefsInSlot(0), 2)
}

func TestCompilation_VisitCount(t *testing.T) {
    c, _ := newTestCompilation(t)
    n := c.NewIntConst(1)
    v, err := c.IncVisitCount()
    require.NoError(t, err)
    n.SetVisitCount(v)
    c.SetVisitCount(MaxVisitCount)
    _, err = c.IncVisitCount()
    require.ErrorIs(t, err, ErrVisitCountExhausted)
    require.Equal(t, VisitCount(1), c.IncOrResetVisitCount())
    require.Equal(t, VisitCount(0), n.VisitCount())
}

func TestCFG_RemoveUnreachableBlocks(t *testing.T) {
    c, b := newTestCompilation(t)
    x := c.NewAuto(c.Method(), "x", Int32, 2)
    b0 := b.Block()
    b.Store(x, c.NewIntConst(1))
    b1 := b.Block()
    ld := c.NewLoad(x)
    b.Store(x, c.NewNode(OP_iadd, ld, ld))
    b2 := b.Block()
    b.Return(c.NewLoad(x))
    b.SetCurrent(b0)
    b.Goto(b2)
    cfg := c.FlowGraph()
    require.Equal(t, 5, cfg.NumberOfNodes())
    require.Equal(t, []*Block { b0, b1, b2 }, cfg.LayoutOrder())
    require.Equal(t, 1, cfg.RemoveUnreachableBlocks())
    require.True(t, b1.IsRemoved())
    require.False(t, cfg.Contains(b1))
    require.Equal(t, int32(0), ld.RefCount())
    require.Equal(t, []*Block { b0, b2 }, cfg.LayoutOrder())
    require.Equal(t, b2, b0.NextBlock())
}

func TestBlock_ExtendedBlockExit(t *testing.T) {
    c, b := newTestCompilation(t)
    b0 := b.Block()
    b.Anchor(c.NewIntConst(1))
    b1 := b.Extend()
    b2 := b.Block()
    require.Equal(t, b1.Exit(), b0.ExtendedBlockExit())
    require.Equal(t, b2.Exit(), b2.ExtendedBlockExit())
    require.True(t, b.Current().IsEmpty())
}

func TestDump(t *testing.T) {
    c, b := newTestCompilation(t)
    x := c.NewAuto(c.Method(), "x", Int32, 2)
    b.Block()
    ld := c.NewLoad(x)
    b.Anchor(ld)
    b.Store(x, ld)
    out := DumpString(c)
    require.Contains(t, out, "treetop")
    require.Contains(t, out, "==>iload")
    require.Contains(t, out, "istore")
}
