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
    `math`

    `github.com/bits-and-blooms/bitset`
    `github.com/cloudwego/treejit/internal/il`
)

const (
    _MaxAllowedHeight = 50
    _NodeCountLimit   = 3 * math.MaxUint16 / 4
)

// DeadTrees removes trees whose only purpose is to anchor a value that is no
// longer needed at that point, re-anchoring the commoned subexpressions it
// still has to evaluate.
type DeadTrees struct{}

func (DeadTrees) Perform(m *Manager) int {
    self := newDeadTrees(m)
    self.prepare()
    return self.process(m.comp.StartTree(), nil)
}

func (DeadTrees) PerformOnBlocks(m *Manager, blocks []*il.Block) int {
    n := 0
    self := newDeadTrees(m)
    self.prepare()

    /* one extended block at a time */
    for _, bb := range blocks {
        if !bb.IsRemoved() && !bb.IsArtificial() {
            n += self.PerformOnBlock(bb)
        }
    }
    return n
}

type compressedRefsAnchor struct {
    tree  *il.TreeTop
    block *il.Block
}

type deadTrees struct {
    m          *Manager
    comp       *il.Compilation
    oracle     Oracle
    alias      *aliases
    delayed    bool
    noMore     bool
    heights    map[*il.TreeTop]int32
    longest    map[*il.Node]int32
    anchors    []compressedRefsAnchor
    removed    int
}

func newDeadTrees(m *Manager) *deadTrees {
    return &deadTrees {
        m      : m,
        comp   : m.comp,
        oracle : m.oracle,
        alias  : newAliases(m.comp),
    }
}

func (self *deadTrees) trace(msg string, args ...any) {
    self.m.trace(DeadTreesElimination, msg, args...)
}

// PerformOnBlock processes the extended block starting at bb.
func (self *deadTrees) PerformOnBlock(bb *il.Block) int {
    return self.process(bb.Entry(), bb.ExtendedBlockExit())
}

func (self *deadTrees) removeTree(tt *il.TreeTop) {
    if self.m.usedef != nil {
        self.m.InvalidateUseDefInfo()
    }
    il.RemoveTree(self.comp, tt)
    self.removed++
}

// prepare removes the trivially dead trees, then strips the global register
// dependencies whose only remaining reference is the dependency itself.
func (self *deadTrees) prepare() {
    self.noMore = false
    self.delayed = false
    self.heights = make(map[*il.TreeTop]int32)

    /* Phase 1: treetops of already evaluated nodes, and checks of side-effect free calls */
    vc := self.comp.IncOrResetVisitCount()
    for tt := self.comp.StartTree(); tt != nil; tt = tt.Next() {
        removed := false
        node := tt.Node()
        prev, next := tt.Prev(), tt.Next()

        /* check for trivial trees */
        if node.Op().IsTreeTop() && node.FirstChild().VisitCount() == vc {
            self.trace("remove trivial dead tree", "node", node)
            self.removeTree(tt)
            removed = true
        } else if node.Op().IsCheck() && node.NumChildren() != 0 && self.isDeadCall(node.FirstChild()) {
            self.trace("remove dead check of side-effect free call", "node", node)
            self.removeTree(tt)
            removed = true
        }

        /* the block may now be a single goto */
        if removed {
            if next.Node().Op().IsGoto() && prev.IsBlockStart() && !prev.Node().Block().IsExtensionOfPreviousBlock() {
                self.m.RequestOpt(RedundantGotoElimination, prev.Node().Block())
            }
            tt = prev
            continue
        }

        /* mark as evaluated */
        if node.VisitCount() < vc {
            il.RecursivelySetVisitCount(node, vc)
        }
    }

    /* Phase 2: dead register dependencies */
    if !self.comp.Options.DisableGlRegDepElimination {
        for self.removeDeadGlRegDeps() {}
    }
}

func (self *deadTrees) isDeadCall(n *il.Node) bool {
    return n.Op().IsCall() && n.RefCount() == 1 && self.oracle.IsSideEffectFree(n)
}

func (self *deadTrees) removeDeadGlRegDeps() bool {
    done := false
    strict := self.comp.Target.JavaFloatSemantics

    /* scan every block entry */
    for _, bb := range self.comp.FlowGraph().LayoutOrder() {
        start := bb.Entry().Node()
        if start.NumChildren() == 0 {
            continue
        }

        /* the dependencies of the entry */
        deps := start.FirstChild()
        if deps.Op() != il.OP_GlRegDeps {
            panic("opt: expected GlRegDeps under BBStart")
        }

        /* a dependency referenced by nothing else is dead */
        for i := deps.NumChildren() - 1; i >= 0; i-- {
            dep := deps.Child(i)
            if dep.RefCount() != 1 || (dep.Op().IsFloatingPoint() && !strict) {
                continue
            }

            /* remove it, along with the matching exit dependencies */
            self.trace("remove GlRegDep", "block", bb, "node", dep)
            reg := dep.GlobalRegister()
            deps.RemoveChild(i)
            done = true
            self.removeFromPredecessors(bb, reg)
        }

        /* drop the list once it's empty */
        if deps.NumChildren() == 0 {
            start.RemoveChild(0)
        }
    }
    return done
}

func (self *deadTrees) removeFromPredecessors(bb *il.Block, reg int32) {
    for _, e := range bb.Predecessors() {
        pred := e.From
        if pred.IsArtificial() {
            continue
        }

        /* exits that carry no dependencies */
        parent := pred.LastRealTreeTop().Node()
        op := parent.Op()
        if op.IsReturn() || op.IsJumpWithMultipleTargets() || isIndirectCallTree(parent) {
            continue
        }

        /* falling through uses the dependencies of BBEnd */
        if pred.NextBlock() == bb || pred.IsEmpty() {
            parent = pred.Exit().Node()
        }
        self.removeGlRegDep(parent, reg, pred)
    }
}

func isIndirectCallTree(n *il.Node) bool {
    return n.Op().IsTreeTop() && n.FirstChild().Op().IsCallIndirect()
}

func (self *deadTrees) removeGlRegDep(parent *il.Node, reg int32, bb *il.Block) {
    if parent.NumChildren() == 0 {
        return
    }

    /* could have been removed already */
    deps := parent.LastChild()
    if deps.Op() != il.OP_GlRegDeps {
        return
    }

    /* remove the dependency on reg */
    for i := deps.NumChildren() - 1; i >= 0; i-- {
        if v := deps.Child(i); v.GlobalRegister() == reg {
            self.trace("remove GlRegDep", "block", bb, "node", v)
            deps.RemoveChild(i)

            /* only the register store is left, which may now die too */
            if v.RefCount() <= 1 {
                self.m.RequestOpt(DeadTreesElimination, bb)
            }
            break
        }
    }

    /* drop the list once it's empty */
    if deps.NumChildren() == 0 {
        parent.RemoveChild(parent.NumChildren() - 1)
    }
}

func initializeFutureUseCounts(n *il.Node, vc il.VisitCount) {
    n.SetFutureUseCount(n.RefCount())
    if n.VisitCount() == vc {
        return
    }
    n.SetVisitCount(vc)
    for _, v := range n.Children() {
        if v != nil {
            initializeFutureUseCounts(v, vc)
        }
    }
}

// recursivelyDecFutureUseCount only guides heuristics, the counts it leaves
// behind are not exact.
func recursivelyDecFutureUseCount(n *il.Node) int32 {
    n.DecFutureUseCount()
    if n.RefCount() == 0 {
        for i := n.NumChildren() - 1; i >= 0; i-- {
            if v := n.Child(i); v != nil {
                recursivelyDecFutureUseCount(v)
            }
        }
    }
    return n.FutureUseCount()
}

func (self *deadTrees) process(start *il.TreeTop, end *il.TreeTop) int {
    var bb *il.Block
    self.anchors = self.anchors[:0]
    self.longest = make(map[*il.Node]int32)

    /* Phase 1: reset the future use counts */
    vc := self.comp.IncOrResetVisitCount()
    for tt := start; tt != end; tt = tt.Next() {
        initializeFutureUseCounts(tt.Node(), vc)
    }

    /* Phase 2: scan the trees */
    delayed := self.delayed
    vc = self.comp.IncOrResetVisitCount()
    for tt := start; tt != end; tt = tt.Next() {
        node := tt.Node()
        op := node.Op()

        /* longest paths are only valid within an extended block */
        if op == il.OP_BBStart {
            if bb = node.Block(); !bb.IsExtensionOfPreviousBlock() {
                self.longest = make(map[*il.Node]int32)
            }
        }

        /* stop before the visit counts run out */
        if limit := il.MaxVisitCount - 3; self.comp.VisitCount() > limit {
            self.comp.Log().Info("dead trees elimination stopped, visit count exhausted", "limit", limit)
            return self.removed
        }

        /* only anchors can go away */
        if !op.IsTreeTop() &&
           (!op.IsAnchor() || node.FirstChild().RefCount() != 1) &&
           (!op.IsStoreReg() || node.FirstChild().RefCount() != 1) &&
           (delayed || tt == bb.LastRealTreeTop() || !op.IsStoreReg() || node.VisitCount() == vc) {
            if op.IsAnchor() && node.FirstChild().Op().IsLoadIndirect() {
                self.anchors = append(self.anchors, compressedRefsAnchor { tree: tt, block: bb })
            }
            il.RecursivelySetVisitCount(node, vc)
            continue
        }

        /* register stores may be moved instead */
        if op.IsStoreReg() {
            self.delayed = true
        }

        /* look through pass-throughs */
        child := node.FirstChild()
        if child.Op() == il.OP_PassThrough {
            nc := child.FirstChild()
            node.SetAndIncChild(0, nc)
            nc.IncFutureUseCount()
            child.RecursivelyDecRefCount()
            recursivelyDecFutureUseCount(child)
            child = nc
        }

        /* check if the tree can go */
        ok, stop := self.canEliminate(tt, child, vc)
        if stop {
            return self.removed
        }

        /* keep it */
        if !ok {
            il.RecursivelySetVisitCount(node, vc)
            continue
        }

        /* remove the tree, or move the register store to the end of the block */
        if prev := tt.Prev(); !op.IsStoreReg() || child.RefCount() == 1 {
            self.eliminate(tt, node, child, bb)
            tt = prev
        } else {
            self.moveToEnd(tt, node, bb, vc)
            tt = prev
        }
    }

    /* Phase 3: loads anchored for compressed references */
    for _, v := range self.anchors {
        self.lowerCompressedRefs(v)
    }
    return self.removed
}

func (self *deadTrees) canEliminate(tt *il.TreeTop, child *il.Node, vc il.VisitCount) (ok bool, stop bool) {
    cond := false
    strict := self.comp.Target.JavaFloatSemantics

    /* already evaluated above, the anchor is redundant */
    if child.VisitCount() == vc {
        return true, false
    }

    /* check the child itself */
    if self.oracle.IsSideEffectFree(child) {
        ok = true
    } else if !neverEliminated(child) {
        safe := false

        /* a single reference means nobody else evaluates it */
        if child.RefCount() == 1 {
            safe = !child.Op().IsPackedExponentiation()
            ok = child.Op() == il.OP_loadaddr
        } else if !self.noMore {
            safe = self.isSafeToReplaceNode(child, tt, vc, &cond)
        }

        /* only some of the symbol referencing nodes */
        if safe {
            ok = !child.Op().HasSymbolReference() || child.Symbol().IsAutoOrParm() || canDropSymbolNode(child)
        }
    }

    /* converting a floating-point value must not move below a branch */
    if ok && cond && !strict && (child.Op().IsConversion() || child.Op().IsBooleanCompare()) {
        if child.FirstChild().Op().IsFloatingPoint() && !child.Op().IsFloatingPoint() {
            ok = false
        }
    }

    /* anchor the children that are still needed */
    if ok {
        fp, over := self.fixUpChildren(tt, child, vc)
        if over {
            self.comp.Log().Info("dead trees elimination stopped, node count limit exceeded", "limit", _NodeCountLimit)
            return false, true
        }
        if cond && fp && !strict {
            ok = false
        }
    }
    return ok, false
}

func neverEliminated(n *il.Node) bool {
    switch op := n.Op(); {
        case op.IsCall()                                    : return true
        case op.IsStore()                                   : return true
        case op == il.OP_multianewarray                     : return true
        case op == il.OP_checkcast                          : return true
        case op == il.OP_Prefetch                           : return true
        case op == il.OP_iu2l                               : return true
        case (op.IsDiv() || op.IsRem()) && n.NumChildren() == 3 : return true
        case isNewObject(op)                                : return n.RefCount() > 1
        default                                             : return false
    }
}

func isNewObject(op il.OpCode) bool {
    return op == il.OP_New || op == il.OP_newarray || op == il.OP_anewarray
}

func canDropSymbolNode(n *il.Node) bool {
    switch op := n.Op(); {
        case op.IsLoad()              : return true
        case op == il.OP_loadaddr     : return true
        case op == il.OP_instanceof   : return true
        case isNewObject(op)          : return n.IsAllocationCanBeRemoved()
        default                       : return false
    }
}

func (self *deadTrees) eliminate(tt *il.TreeTop, node *il.Node, child *il.Node, bb *il.Block) {
    prev, next := tt.Prev(), tt.Next()
    self.trace("remove tree", "node", node, "child", child, "op", child.Op())

    /* unlink and release */
    tt.Unlink()
    if self.m.usedef != nil {
        self.m.InvalidateUseDefInfo()
    }
    node.RecursivelyDecRefCount()
    recursivelyDecFutureUseCount(child)
    self.removed++

    /* a single reference left may simplify its parent */
    if child.RefCount() == 1 {
        self.m.RequestOpt(TreeSimplification, bb)
    }

    /* the block may now be a single goto */
    if next.Node().Op().IsGoto() && prev.IsBlockStart() && !prev.Node().Block().IsExtensionOfPreviousBlock() {
        self.m.RequestOpt(RedundantGotoElimination, prev.Node().Block())
    }
}

func (self *deadTrees) moveToEnd(tt *il.TreeTop, node *il.Node, bb *il.Block, vc il.VisitCount) {
    next := tt.Next()
    self.trace("move tree to end of block", "node", node, "block", bb)

    /* take it out */
    tt.Unlink()
    node.SetVisitCount(vc)
    last := bb.LastRealTreeTop()
    prevLast := last.Prev()

    /* a later store to the same register must stay after this one */
    for cur := next; cur != nil && cur != last && cur != bb.Exit(); cur = cur.Next() {
        if n := cur.Node(); n.Op().IsStoreReg() && n.GlobalRegister() == node.GlobalRegister() {
            last = cur
            prevLast = last.Prev()
            break
        }
    }

    /* the block is empty now */
    if last.IsBlockStart() {
        prevLast = last
        last = bb.Exit()
    }

    /* keep the store ahead of a branch comparing the stored value */
    ln, pn := last.Node(), prevLast.Node()
    if ln.Op().IsIf() && pn.Op().IsStoreReg() && (pn.FirstChild() == ln.FirstChild() || pn.FirstChild() == ln.SecondChild()) {
        last = prevLast
    }

    /* link it back */
    last.InsertBefore(tt)
    self.m.RequestOpt(TreeSimplification, bb)
}

// fixUpChildren anchors every child of n that is referenced elsewhere and not
// yet evaluated, right after tt in evaluation order.
func (self *deadTrees) fixUpChildren(tt *il.TreeTop, n *il.Node, vc il.VisitCount) (fp bool, over bool) {
    pos := tt
    seen := il.NewNodeChecklist(self.comp)

    /* anchor the children */
    for _, v := range n.Children() {
        f, o := self.fixUpTree(v, &pos, seen, vc)
        fp = fp || f
        if o {
            return fp, true
        }
    }
    return fp, false
}

func (self *deadTrees) fixUpTree(n *il.Node, pos **il.TreeTop, seen *il.NodeChecklist, vc il.VisitCount) (fp bool, over bool) {
    if n == nil || n.VisitCount() == vc || !seen.Add(n) {
        return false, false
    }

    /* recurse into the subtree if this node dies here */
    if n.RefCount() <= 1 || n.Op().IsLoadConst() {
        for _, v := range n.Children() {
            f, o := self.fixUpTree(v, pos, seen, vc)
            fp = fp || f
            if o {
                return fp, true
            }
        }
        return fp, false
    }

    /* anchor it, unless the method grew too big */
    if !self.comp.Options.ProcessHugeMethods && self.comp.NodeCount() > _NodeCountLimit {
        return false, true
    }

    /* insert after the previous anchor */
    n.IncFutureUseCount()
    anchor := self.comp.NewTreeTopNode(n)
    anchor.SetFutureUseCount(0)
    (*pos).InsertAfter(il.NewTreeTop(anchor))
    *pos = (*pos).Next()
    return n.Op().IsFloatingPoint(), false
}

func longestPathOf(n *il.Node, memo map[*il.Node]int32) int32 {
    if n.NumChildren() == 0 {
        return 0
    }

    /* memoized */
    if v, ok := memo[n]; ok {
        return v
    }

    /* the longest child path */
    ret := int32(0)
    memo[n] = 0
    for _, v := range n.Children() {
        if v != nil {
            if h := longestPathOf(v, memo); h > ret {
                ret = h
            }
        }
    }

    /* plus this node */
    memo[n] = ret + 1
    return ret + 1
}

type collectState struct {
    syms      *bitset.BitSet
    dead      int
    internal  bool
    cantMove  bool
}

func (self *deadTrees) collectSymbolReferences(n *il.Node, vc il.VisitCount, st *collectState) {
    if v := n.VisitCount(); v == vc || v == self.comp.VisitCount() {
        return
    }

    /* mark as visited */
    n.SetVisitCount(self.comp.VisitCount())
    for i := n.NumChildren() - 1; i >= 0; i-- {
        v := n.Child(i)
        if v == nil {
            continue
        }
        if v.FutureUseCount() == 1 && v.RefCount() > 1 && !v.Op().IsLoadConst() {
            st.dead++
        }
        self.collectSymbolReferences(v, vc, st)
    }

    /* loads that must not move under a branch */
    if (n.Op().IsLoadVarDirect() || n.Op().IsLoadReg()) && n.IsDontMoveUnderBranch() {
        st.cantMove = true
    }

    /* internal pointers */
    if n.IsInternalPointer() && n.RefCount() > 1 {
        st.internal = true
    }

    /* record the symbol reference */
    if n.Op().HasSymbolReference() && n.SymRef() != nil {
        st.syms.Set(uint(n.SymRef().Number()))
    }
}

func (self *deadTrees) containsNode(c *il.Node, n *il.Node, vc il.VisitCount, h *int32, maxh *int32, volatileOK *bool) bool {
    if c == n {
        return true
    }

    /* already visited */
    if v := c.VisitCount(); v == vc || v == self.comp.VisitCount() {
        return false
    }

    /* volatile accesses must not move across field or static accesses */
    c.SetVisitCount(self.comp.VisitCount())
    if c.Op().HasSymbolReference() && c.Symbol() != nil && (c.Symbol().IsShadow() || c.Symbol().IsStatic()) {
        *volatileOK = false
    }

    /* track the height */
    if *h++; *h > *maxh {
        *maxh = *h
    }

    /* search the children */
    for _, v := range c.Children() {
        if v != nil && self.containsNode(v, n, vc, h, maxh, volatileOK) {
            return true
        }
    }

    /* not found */
    *h--
    return false
}

// isSafeToReplaceNode scans forward from tt to the next reference of cur and
// checks that evaluating cur there yields the same value.
func (self *deadTrees) isSafeToReplaceNode(cur *il.Node, tt *il.TreeTop, vc il.VisitCount, cond *bool) bool {
    st := collectState { syms: bitset.New(uint(self.comp.SymRefTab().Size())) }
    self.comp.IncOrResetVisitCount()
    curMax := longestPathOf(cur, self.longest)
    self.collectSymbolReferences(cur, vc, &st)

    /* too many values kept alive for the registers at hand */
    if st.dead > 1 && self.comp.Target.ScarceGPRs {
        return false
    }

    /* the commoning depth budget */
    curHeight := self.heights[tt]
    if curHeight + curMax > _MaxAllowedHeight {
        self.noMore = true
        return false
    }

    /* unresolved references stay where they are */
    if cur.HasUnresolvedSymbolReference() {
        return false
    }

    /* scan forward to the next reference */
    volatile := cur.MightHaveVolatileSymbolReference()
    self.comp.IncOrResetVisitCount()
    for next := tt.Next(); next != nil; next = next.Next() {
        node := next.Node()
        if node.Op().IsTreeTop() {
            node = node.FirstChild()
        }

        /* the end of the extended block */
        if node.Op() == il.OP_BBStart && !node.Block().IsExtensionOfPreviousBlock() {
            return true
        }

        /* branches and GC points */
        if st.cantMove && (node.Op().IsBranch() || node.Op().IsJumpWithMultipleTargets()) {
            return false
        }
        if st.internal && self.oracle.CanGCandReturn(node) {
            return false
        }

        /* found the next reference */
        h, maxh, volatileOK := int32(0), int32(0), true
        if self.containsNode(node, cur, vc, &h, &maxh, &volatileOK) {
            height := self.heights[next]
            if maxh < curMax {
                maxh = curMax
            }
            if height < curHeight {
                height = curHeight
            }
            if height++; height + maxh > _MaxAllowedHeight {
                self.noMore = true
                return false
            }
            self.heights[next] = height
            return true
        }

        /* volatile accesses */
        if volatile && !volatileOK {
            return false
        }

        /* conditional branches */
        if op := node.Op(); (op.IsBranch() && !op.IsGoto()) || (op.IsJumpWithMultipleTargets() && op.HasBranchChildren()) {
            *cond = true
        }

        /* look through the checks */
        if op := node.Op(); op.IsTreeTop() || op.IsNullCheck() || op.IsResolveCheck() || op.IsArrayStoreCheck() || op.IsSpineCheck() {
            node = node.FirstChild()
        }

        /* a store kills its own symbol reference */
        if node.Op().IsStore() && node.SymRef() != nil && st.syms.Test(uint(node.SymRef().Number())) {
            return false
        }

        /* and may kill its aliases */
        if self.alias.mayKillAny(node, self.oracle, st.syms) {
            return false
        }
    }
    return true
}

func (self *deadTrees) lowerCompressedRefs(v compressedRefsAnchor) {
    anchor := v.tree.Node()
    load := anchor.Child(0)
    if load.RefCount() > 1 {
        return
    }

    /* evaluate the base object only */
    base := anchor.Child(1)
    anchor.Recreate(il.OP_treetop)
    anchor.SetAndIncChild(0, load.FirstChild())
    anchor.SetChild(1, nil)
    anchor.SetNumChildren(1)

    /* the heap base is still anchored */
    if !base.Op().IsLoadConst() {
        v.tree.InsertAfter(il.NewTreeTop(self.comp.NewTreeTopNode(base)))
    }

    /* release the load */
    load.RecursivelyDecRefCount()
    base.RecursivelyDecRefCount()
    self.removed++
    self.m.RequestOpt(DeadTreesElimination, v.block)
}
