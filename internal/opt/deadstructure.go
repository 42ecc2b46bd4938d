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
    `github.com/bits-and-blooms/bitset`
    `github.com/cloudwego/treejit/internal/il`
)

const (
    _MaxTotalNodes = 50000
    _MaxCFGSize    = 5000
)

type deadStructures struct {
    m      *Manager
    comp   *il.Compilation
    oracle Oracle
    ud     *UseDefInfo
}

// removeDeadStructures removes loops that compute nothing used outside of
// them, and folds the loops toggling a local on every iteration.
func removeDeadStructures(m *Manager, ud *UseDefInfo) int {
    n := 0
    self := &deadStructures { m: m, comp: m.comp, oracle: m.oracle, ud: ud }

    /* too large to be worth it */
    if ud.TotalNodes() > _MaxTotalNodes || self.comp.FlowGraph().NumberOfNodes() > _MaxCFGSize {
        return 0
    }

    /* inner loops first */
    st := AnalyzeStructure(self.comp)
    for _, l := range st.Loops() {
        if l.Header.IsRemoved() {
            continue
        }

        /* the loop still runs after folding */
        if self.comp.Options.FoldLoopToggles && l.Size() == 1 {
            if k := self.foldToggles(l); k != 0 {
                n += k
                continue
            }
        }

        /* the structure is stale once the flow graph changes */
        if self.removeLoop(l) {
            n++
            break
        }
    }
    return n
}

func (self *deadStructures) trace(msg string, args ...any) {
    self.m.trace(IsolatedStoreElimination, msg, args...)
}

func (self *deadStructures) exitTarget(l *Loop) *il.Block {
    var targets []*il.Block
    for _, e := range l.ExitEdges() {
        if len(targets) == 0 || (len(targets) == 1 && targets[0] != e.To) {
            targets = append(targets, e.To)
        } else if targets[0] != e.To && targets[1] != e.To {
            return nil
        }
    }

    /* a goto block to the other exit counts as the same exit */
    switch len(targets) {
        case 1  : return targets[0]
        case 2  : return gotoPair(targets[0], targets[1])
        default : return nil
    }
}

func gotoPair(a *il.Block, b *il.Block) *il.Block {
    if !a.IsArtificial() && a.IsGotoBlock() && a.HasSuccessor(b) {
        return b
    } else if !b.IsArtificial() && b.IsGotoBlock() && b.HasSuccessor(a) {
        return a
    } else {
        return nil
    }
}

// markNodes records the use-def carrying nodes and the defs under n, and
// reports any effect visible outside of the loop.
func (self *deadStructures) markNodes(n *il.Node, vc il.VisitCount, nodes *bitset.BitSet, defs *bitset.BitSet) bool {
    if n.VisitCount() == vc {
        return false
    }

    /* mark as visited */
    ret := false
    op, sym := n.Op(), n.Symbol()
    n.SetVisitCount(vc)

    /* anything observable */
    volatile := op.HasSymbolReference() && sym != nil && sym.IsVolatile()
    global := op.IsStore() && sym != nil && (sym.IsShadow() || sym.IsStatic())
    effect := op.IsCall() && self.oracle.HasSideEffect(n)

    /* check the node itself */
    if self.oracle.ExceptionsRaised(n) || effect || op.IsReturn() || op.IsLoadReg() || op.IsStoreReg() || volatile || global {
        ret = true
    } else if n.UseDefIndex() >= 0 {
        nodes.Set(uint(n.Index()))
    }

    /* stores whose value is irrelevant have no uses to check */
    if op.IsStore() && n.UseDefIndex() >= 0 && !(op.IsStoreDirect() && sym.IsAutoOrParm() && n.StoredValueIsIrrelevant()) {
        defs.Set(uint(n.UseDefIndex()))
    }

    /* check the children */
    for _, v := range n.Children() {
        if v != nil && self.markNodes(v, vc, nodes, defs) {
            ret = true
        }
    }
    return ret
}

func (self *deadStructures) hasSideEffects(l *Loop, nodes *bitset.BitSet, defs *bitset.BitSet) bool {
    vc := self.comp.IncOrResetVisitCount()
    for _, bb := range l.Blocks() {
        if len(bb.ExceptionSuccessors()) != 0 || len(bb.ExceptionPredecessors()) != 0 {
            return true
        }
        for tt := bb.Entry(); tt != bb.Exit(); tt = tt.Next() {
            if self.markNodes(tt.Node(), vc, nodes, defs) {
                return true
            }
        }
    }
    return false
}

func (self *deadStructures) usedOutside(nodes *bitset.BitSet, defs *bitset.BitSet) bool {
    for d, ok := defs.NextSet(0); ok; d, ok = defs.NextSet(d + 1) {
        uses := self.ud.UsesFromDef(int32(d))
        if uses == nil {
            continue
        }
        for u, ok := uses.NextSet(0); ok; u, ok = uses.NextSet(u + 1) {
            if n := self.ud.Node(int32(u) + self.ud.FirstUseIndex()); n != nil && n.RefCount() > 0 && !nodes.Test(uint(n.Index())) {
                self.trace("def used outside of loop", "def", d, "use", n)
                return true
            }
        }
    }
    return false
}

// loopTest finds the compare of the back edges, and whether the loop counts up.
func loopTest(l *Loop, pre *il.Block) (test *il.Node, up bool) {
    for _, e := range l.Header.Predecessors() {
        if e.From == pre || !l.Contains(e.From) {
            continue
        }

        /* must end with a compare */
        last := e.From.LastRealTreeTop().Node()
        if !last.Op().IsIf() {
            break
        }

        /* only ordered compares */
        switch op := last.Op(); {
            case op.IsCompareLess()    : test, up = last, true
            case op.IsCompareGreater() : test, up = last, false
        }
    }
    return
}

// inductionSymbol strips conversions and constant offsets from the value being compared.
func inductionSymbol(n *il.Node) *il.Symbol {
    for n.Op().IsConversion() || n.Op().IsAdd() || n.Op().IsSub() {
        if n.Op().IsConversion() || n.SecondChild().Op().IsLoadConst() {
            n = n.FirstChild()
        } else {
            break
        }
    }

    /* must be a local */
    if sym := n.Symbol(); n.Op().HasSymbolReference() && sym != nil && sym.IsAutoOrParm() {
        return sym
    } else {
        return nil
    }
}

// inductionStep returns the constant added to sym on every iteration, if
// sym is stored exactly once in the loop as sym = sym +/- c.
func inductionStep(l *Loop, sym *il.Symbol) (int64, bool) {
    var ok bool
    var step int64

    /* find the only store */
    for _, bb := range l.Blocks() {
        for tt := bb.FirstRealTreeTop(); tt != bb.Exit(); tt = tt.Next() {
            n := tt.Node()
            if !n.Op().IsStoreDirect() || n.Symbol() != sym {
                continue
            }
            if ok {
                return 0, false
            }
            if step, ok = stepOf(n, sym); !ok {
                return 0, false
            }
        }
    }
    return step, ok
}

func stepOf(store *il.Node, sym *il.Symbol) (int64, bool) {
    v := store.FirstChild()
    if !v.Op().IsAdd() && !v.Op().IsSub() {
        return 0, false
    }

    /* sym +/- const */
    x, c := v.FirstChild(), v.SecondChild()
    if !x.Op().IsLoadVarDirect() || x.Symbol() != sym || !c.Op().IsLoadConst() {
        return 0, false
    }

    /* the signed step */
    if v.Op().IsAdd() {
        return c.Long(), true
    } else {
        return -c.Long(), true
    }
}

func (self *deadStructures) removeLoop(l *Loop) bool {
    target := self.exitTarget(l)
    if target == nil || target.IsArtificial() {
        return false
    }

    /* nothing computed may be observed */
    nodes := bitset.New(uint(self.comp.NodeCount()))
    defs := bitset.New(uint(self.ud.NumDefOnlyNodes()))
    if self.hasSideEffects(l, nodes, defs) || self.usedOutside(nodes, defs) {
        return false
    }

    /* must be entered from a single block */
    pre := l.Preheader()
    if pre == nil || pre.IsArtificial() {
        return false
    }

    /* and must terminate */
    test, up := loopTest(l, pre)
    if test == nil {
        return false
    }
    sym := inductionSymbol(test.FirstChild())
    if sym == nil || (sym.Type != il.Int32 && sym.Type != il.Int64) {
        return false
    }

    /* counting towards the bound */
    step, ok := inductionStep(l, sym)
    if !ok || (up && step <= 0) || (!up && step >= 0) {
        return false
    }

    /* empty the header, everything else becomes unreachable */
    self.trace("remove dead loop", "header", l.Header, "blocks", l.Size(), "exit", target)
    self.redirect(l.Header, target)
    return true
}

func (self *deadStructures) redirect(bb *il.Block, target *il.Block) {
    cfg := self.comp.FlowGraph()
    for tt := bb.FirstRealTreeTop(); tt != bb.Exit(); {
        next := tt.Next()
        il.RemoveTree(self.comp, tt)
        tt = next
    }

    /* jump to the exit unless it follows */
    if target.Entry() != bb.Exit().Next() {
        n := self.comp.NewNode(il.OP_Goto)
        n.SetTarget(target.Entry())
        bb.Append(il.NewTreeTop(n))
    }

    /* the header now only flows to the exit */
    edge := cfg.AddEdge(bb, target)
    for _, e := range append([]*il.Edge(nil), bb.Successors()...) {
        if e != edge {
            cfg.RemoveEdge(e)
        }
    }

    /* drop the rest of the loop */
    cfg.RemoveUnreachableBlocks()
}

// foldToggles moves the stores of x = x ^ 1 out of a single block loop with
// a constant trip count, toggling x once if the count is odd.
func (self *deadStructures) foldToggles(l *Loop) int {
    bb := l.Header
    last := bb.LastRealTreeTop().Node()

    /* signed int compares against a constant bound */
    switch last.Op() {
        case il.OP_ificmplt, il.OP_ificmple, il.OP_ificmpgt, il.OP_ificmpge: break
        default: return 0
    }

    /* find the induction variable */
    iv, bound := last.FirstChild(), last.SecondChild()
    if !bound.Op().IsLoadConst() {
        return 0
    }
    sym := iv.Symbol()
    if !iv.Op().HasSymbolReference() && iv.NumChildren() > 0 && iv.FirstChild().Op().HasSymbolReference() {
        sym = iv.FirstChild().Symbol()
    }
    if sym == nil || !sym.IsAutoOrParm() {
        return 0
    }

    /* the preheader must be the only other predecessor */
    pre := l.Preheader()
    if pre == nil || pre.IsArtificial() || len(bb.Predecessors()) != 2 || len(pre.Successors()) != 1 {
        return 0
    }

    /* stepping by one */
    down := last.Op() == il.OP_ificmpgt || last.Op() == il.OP_ificmpge
    step, ok := inductionStep(l, sym)
    if !ok || (!down && step != 1) || (down && step != -1) {
        return 0
    }

    /* the initial value must be known */
    init, ok := initialValue(pre, sym)
    if !ok {
        return 0
    }

    /* the body runs at least once */
    k := int64(bound.Int()) - init
    if down {
        k = -k
    }
    if last.Op() == il.OP_ificmple || last.Op() == il.OP_ificmpge {
        k++
    }
    if k < 1 {
        k = 1
    }

    /* insert before the branch of the preheader */
    n := 0
    at := pre.LastRealTreeTop()
    if at.Node().Op().IsBranch() {
        at = at.Prev()
    }

    /* move the toggles */
    for tt := bb.FirstRealTreeTop(); tt != bb.Exit(); {
        next := tt.Next()
        if x := tt.Node(); isToggle(x) && self.accessCount(bb, x.Symbol()) == 2 {
            self.trace("fold loop toggle", "node", x, "iterations", k)
            old := x.FirstChild().SecondChild()
            x.FirstChild().SetAndIncChild(1, self.comp.NewIntConst(int32(k & 1)))
            old.RecursivelyDecRefCount()
            tt.Unlink()
            at.InsertAfter(tt)
            at = tt
            n++
        }
        tt = next
    }
    return n
}

func isToggle(n *il.Node) bool {
    if !n.Op().IsStoreDirect() || !n.Symbol().IsAutoOrParm() {
        return false
    }

    /* x = ixor(x, 1) */
    v := n.FirstChild()
    if v.Op() != il.OP_ixor || v.RefCount() != 1 {
        return false
    }
    x, c := v.FirstChild(), v.SecondChild()
    return c.Op().IsLoadConst() && c.Int() == 1 && x.RefCount() == 1 && x.Op().IsLoadVarDirect() && x.Symbol() == n.Symbol()
}

func initialValue(bb *il.Block, sym *il.Symbol) (int64, bool) {
    for tt := bb.LastRealTreeTop(); tt != bb.Entry(); tt = tt.Prev() {
        if n := tt.Node(); n.Op().IsStoreDirect() && n.Symbol() == sym {
            if v := n.FirstChild(); v.Op().IsLoadConst() {
                return v.Long(), true
            } else {
                return 0, false
            }
        }
    }
    return 0, false
}

func (self *deadStructures) accessCount(bb *il.Block, sym *il.Symbol) int {
    ret := 0
    seen := il.NewNodeChecklist(self.comp)

    /* count the distinct nodes naming sym */
    for tt := bb.FirstRealTreeTop(); tt != bb.Exit(); tt = tt.Next() {
        ret += countAccesses(tt.Node(), sym, seen)
    }
    return ret
}

func countAccesses(n *il.Node, sym *il.Symbol, seen *il.NodeChecklist) int {
    ret := 0
    if !seen.Add(n) {
        return 0
    }

    /* check the children */
    for _, v := range n.Children() {
        if v != nil {
            ret += countAccesses(v, sym, seen)
        }
    }

    /* and the node itself */
    if n.Op().HasSymbolReference() && n.Symbol() == sym {
        ret++
    }
    return ret
}
