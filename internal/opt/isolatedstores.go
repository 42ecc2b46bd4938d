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
    `github.com/oleiade/lane`
)

const (
    _DeadValueMarker = 0xbad1
)

type defStatus uint8

const (
    notVisited defStatus = iota
    inTransit
    toBeRemoved
    notToBeRemoved
    doNotExamine
)

// IsolatedStores removes stores to locals whose values are never used,
// including groups of stores that only feed each other.
type IsolatedStores struct{}

func (IsolatedStores) Perform(m *Manager) int {
    var n int
    self := &isolatedStores { m: m, comp: m.comp }

    /* use-def info finds the store groups, the trees alone only the trivial cases */
    if ud := m.UseDefInfo(); ud != nil {
        n = self.performWithUseDefInfo(ud)
    } else {
        n = self.performWithoutUseDefInfo()
    }

    /* the values are now anchored by treetops */
    if n != 0 {
        m.RequestOpt(DeadTreesElimination, nil)
        m.RequestOpt(CatchBlockRemoval, nil)
    }
    return n
}

type isolatedStores struct {
    m       *Manager
    comp    *il.Compilation
    status  []defStatus
    parents []int32
    trivial *bitset.BitSet
    groups  []*bitset.BitSet
    removed int
}

func (self *isolatedStores) trace(msg string, args ...any) {
    self.m.trace(IsolatedStoreElimination, msg, args...)
}

func canRemoveStoreNode(n *il.Node) bool {
    return !n.Symbol().IsVolatile() && !n.DontEliminateStores()
}

func (self *isolatedStores) performWithUseDefInfo(ud *UseDefInfo) int {
    self.removeRedundantSpills(ud)
    self.findGroups(ud)

    /* Phase 1: loads reached by the dead stores are not safe to evaluate anymore */
    usr := newUnsafeSubexpressions(self.comp)
    for _, g := range self.groups {
        for d, ok := g.NextSet(0); ok; d, ok = g.NextSet(d + 1) {
            uses := ud.UsesFromDef(int32(d))
            if uses == nil {
                continue
            }
            for u, ok := uses.NextSet(0); ok; u, ok = uses.NextSet(u + 1) {
                usr.recordDeadUse(ud.Node(int32(u) + ud.FirstUseIndex()))
            }
        }
    }

    /* Phase 2: remove the groups */
    for i, g := range self.groups {
        self.trace("remove store group", "group", i, "defs", g.String())
        for d, ok := g.NextSet(0); ok; d, ok = g.NextSet(d + 1) {
            self.trivial.Clear(d)
            self.removeGroupStore(ud, usr, int32(d))
        }
    }

    /* Phase 3: trivial self assignments */
    for d, ok := self.trivial.NextSet(0); ok; d, ok = self.trivial.NextSet(d + 1) {
        self.removeTrivialDef(ud, int32(d))
    }

    /* Phase 4: loops computing nothing */
    if !hasExtendedBlocks(self.comp) && mayHaveLoops(self.comp) {
        self.removed += removeDeadStructures(self.m, ud)
    }

    /* the trees changed under the info */
    if self.removed != 0 {
        self.m.InvalidateUseDefInfo()
    }
    return self.removed
}

func hasExtendedBlocks(comp *il.Compilation) bool {
    for _, bb := range comp.FlowGraph().LayoutOrder() {
        if bb.IsExtensionOfPreviousBlock() {
            return true
        }
    }
    return false
}

// removeRedundantSpills removes stores of a register back into the local it
// was loaded from, when every def of the register is that load.
func (self *isolatedStores) removeRedundantSpills(ud *UseDefInfo) {
    for tt := self.comp.StartTree(); tt != nil; tt = tt.Next() {
        node := tt.Node()
        if !node.Op().IsStoreDirect() || !node.FirstChild().Op().IsLoadReg() {
            continue
        }

        /* must spill the same local */
        child := node.FirstChild()
        if child.Symbol() != node.Symbol() || !ud.IsUseIndex(child.UseDefIndex()) {
            continue
        }

        /* every reaching def must load the local itself */
        defs := ud.UseDef(child.UseDefIndex())
        if defs == nil || !self.isReloadOnly(ud, defs, node.Symbol()) {
            continue
        }

        /* the local already holds the value */
        self.trace("remove redundant spill", "node", node)
        if udi := node.UseDefIndex(); udi >= 0 {
            ud.ClearNode(udi)
        }
        node.Recreate(il.OP_treetop)
        node.ClearFlags()
        self.removed++
    }
}

func (self *isolatedStores) isReloadOnly(ud *UseDefInfo, defs *bitset.BitSet, sym *il.Symbol) bool {
    for d, ok := defs.NextSet(0); ok; d, ok = defs.NextSet(d + 1) {
        if int32(d) < ud.FirstRealDefIndex() {
            return false
        }
        n := ud.Node(int32(d))
        if n == nil || !n.Op().IsStoreReg() || !n.FirstChild().Op().IsLoadVarDirect() || n.FirstChild().Symbol() != sym {
            return false
        }
    }
    return true
}

func (self *isolatedStores) findGroups(ud *UseDefInfo) {
    nd := ud.NumDefOnlyNodes()
    self.status = make([]defStatus, nd)
    self.parents = make([]int32, ud.NumUseNodes())
    self.trivial = bitset.New(uint(nd))
    self.groups = self.groups[:0]

    /* no parent yet */
    for i := range self.parents {
        self.parents[i] = -1
    }

    /* Phase 1: record the store each use feeds */
    for i := nd - 1; i >= 0; i-- {
        node := ud.Node(i)
        if node == nil || !node.Op().IsStore() || !node.Symbol().IsAutoOrParm() {
            self.status[i] = doNotExamine
            continue
        }

        /* collect the uses under this store */
        self.collectDefParentInfo(ud, i, node)
        child := node.FirstChild()

        /* storing a local into itself */
        if child.Op().IsLoadVarDirect() && child.RefCount() == 1 && child.Symbol() == node.Symbol() {
            self.trace("found trivial def", "node", node, "udi", i)
            self.trivial.Set(uint(i))
        }
    }

    /* Phase 2: group the stores from the last one */
    cur := bitset.New(uint(nd))
    for i := nd - 1; i >= 0; i-- {
        if self.status[i] != notVisited {
            continue
        }

        /* mark the whole group */
        cur.ClearAll()
        found := self.groupIsolatedStores(ud, i, cur)
        for d, ok := cur.NextSet(0); ok; d, ok = cur.NextSet(d + 1) {
            if found {
                self.status[d] = toBeRemoved
            } else {
                self.status[d] = notToBeRemoved
            }
        }

        /* keep the removable ones */
        if found {
            self.groups = append(self.groups, cur.Clone())
        }
    }
}

func (self *isolatedStores) collectDefParentInfo(ud *UseDefInfo, def int32, n *il.Node) {
    if n.RefCount() > 1 {
        return
    }
    for _, v := range n.Children() {
        if v.RefCount() == 1 && v.Op().IsLoadVar() && ud.IsUseIndex(v.UseDefIndex()) {
            self.parents[v.UseDefIndex() - ud.FirstUseIndex()] = def
        }
        self.collectDefParentInfo(ud, def, v)
    }
}

// groupIsolatedStores collects into cur every store reachable from def by
// following its uses to the stores they feed. The group is removable only if
// every use found that way feeds another removable store.
func (self *isolatedStores) groupIsolatedStores(ud *UseDefInfo, def int32, cur *bitset.BitSet) bool {
    st := lane.NewStack()
    st.Push(def)

    /* walk the def-use chains */
    for !st.Empty() {
        d := st.Pop().(int32)
        switch self.status[d] {
            case inTransit, toBeRemoved   : continue
            case notToBeRemoved           : return false
            case doNotExamine             : return false
        }

        /* add to the current group */
        cur.Set(uint(d))
        self.status[d] = inTransit

        /* the store itself must be removable */
        if !canRemoveStoreNode(ud.Node(d)) {
            self.trace("store cannot be removed", "def", d)
            return false
        }

        /* no uses at all */
        uses := ud.UsesFromDef(d)
        if uses == nil {
            continue
        }

        /* every use must feed another store */
        for u, ok := uses.NextSet(0); ok; u, ok = uses.NextSet(u + 1) {
            if self.parents[u] < 0 {
                self.trace("use has no def parent", "def", d, "use", u)
                return false
            }
        }

        /* follow them */
        for u, ok := uses.NextSet(0); ok; u, ok = uses.NextSet(u + 1) {
            st.Push(self.parents[u])
        }
    }
    return true
}

func (self *isolatedStores) removeGroupStore(ud *UseDefInfo, usr *unsafeSubexpressions, d int32) {
    node := ud.Node(d)
    tt := ud.TreeTop(d)
    self.trace("remove isolated store", "node", node, "sym", node.Symbol())

    /* anchor every child but the value */
    for i := 1; i < node.NumChildren(); i++ {
        v := node.Child(i)
        usr.anchorIfSafe(v, tt)
        v.RecursivelyDecRefCount()
    }

    /* only the value is left */
    ud.ClearNode(d)
    node.SetNumChildren(1)

    /* spine checks keep a constant in place of the store */
    if top := tt.Node(); top.Op().IsSpineCheck() && top.FirstChild() == node {
        v := node.FirstChild()
        usr.anchorIfSafe(v, tt)
        v.RecursivelyDecRefCount()
        node.Recreate(il.ConstOpFor(node.Symbol().Type))
        node.ClearFlags()
        node.SetNumChildren(0)
        self.removed++
        return
    }

    /* a value depending on a removed store must not be evaluated */
    v := node.FirstChild()
    usr.anchorSafeChildrenOfUnsafeNodes(v, tt)
    if usr.isUnsafe(v) {
        v.RecursivelyDecRefCount()
        dummy := node.SetAndIncChild(0, self.comp.NewIntConst(_DeadValueMarker))
        self.trace("replace unsafe child", "child", v, "dummy", dummy)
    }

    /* becomes a no-op */
    if node.RefCount() >= 1 {
        node.Recreate(il.OP_PassThrough)
    } else {
        node.Recreate(il.OP_treetop)
    }
    node.ClearFlags()
    self.removed++
}

func (self *isolatedStores) removeTrivialDef(ud *UseDefInfo, d int32) {
    node := ud.Node(d)
    if node == nil {
        return
    }

    /* the uses of the def are now reached by the defs of its value */
    self.trace("remove trivial def", "node", node, "udi", d)
    defs, uses := ud.UseDef(node.FirstChild().UseDefIndex()), ud.UsesFromDef(d)
    if defs != nil && uses != nil {
        uses = uses.Clone()
        for x, ok := defs.NextSet(0); ok; x, ok = defs.NextSet(x + 1) {
            for u, ok := uses.NextSet(0); ok; u, ok = uses.NextSet(u + 1) {
                use := int32(u) + ud.FirstUseIndex()
                ud.ResetUseDef(use, d)
                ud.SetUseDef(use, int32(x))
            }
        }
    }

    /* becomes a no-op */
    ud.ClearNode(d)
    if node.RefCount() < 1 {
        node.Recreate(il.OP_treetop)
    } else {
        node.Recreate(il.OP_PassThrough)
    }
    node.ClearFlags()
    self.removed++
}

// performWithoutUseDefInfo removes the stores to locals that are never
// loaded anywhere in the method, except by the store itself.
func (self *isolatedStores) performWithoutUseDefInfo() int {
    var stores []*il.Node
    used := make(map[*il.Symbol]bool)

    /* Phase 1: record the loaded locals and the stores that precede every load */
    vc := self.comp.IncOrResetVisitCount()
    for tt := self.comp.StartTree(); tt != nil; tt = tt.Next() {
        self.examineNode(tt, tt.Node(), vc, false, used, &stores)
    }

    /* Phase 2: remove the stores to locals that are never loaded */
    for i := len(stores) - 1; i >= 0; i-- {
        node := stores[i]
        if used[node.Symbol()] {
            continue
        }

        /* becomes a no-op */
        self.trace("remove isolated store", "node", node, "sym", node.Symbol())
        if node.RefCount() < 1 {
            node.Recreate(il.OP_treetop)
        } else {
            node.Recreate(il.OP_PassThrough)
        }
        node.ClearFlags()
        self.removed++
    }
    return self.removed
}

func (self *isolatedStores) examineNode(tt *il.TreeTop, n *il.Node, vc il.VisitCount, multi bool, used map[*il.Symbol]bool, stores *[]*il.Node) {
    if n.VisitCount() == vc {
        return
    }

    /* mark as visited */
    n.SetVisitCount(vc)
    multi = multi || n.RefCount() > 1

    /* children first */
    for i := n.NumChildren() - 1; i >= 0; i-- {
        if v := n.Child(i); v != nil {
            self.examineNode(tt, v, vc, multi, used, stores)
        }
    }

    /* only locals */
    sym := n.Symbol()
    if !n.Op().HasSymbolReference() || sym == nil || !sym.IsAutoOrParm() {
        return
    }

    /* a store to a local not loaded so far */
    if n.Op().IsStore() {
        if !used[sym] && canRemoveStoreNode(n) {
            *stores = append(*stores, n)
        }
        return
    }

    /* loads feeding a store to the same local don't count */
    if top := tt.Node(); multi || !top.Op().IsStore() || top.Symbol() != sym {
        used[sym] = true
    }
}

// unsafeSubexpressions tracks the nodes that must not be evaluated once
// the stores they depend on are gone: the dead loads, and every node with an
// unsafe child.
type unsafeSubexpressions struct {
    comp    *il.Compilation
    visited *bitset.BitSet
    unsafe  *bitset.BitSet
}

func newUnsafeSubexpressions(comp *il.Compilation) *unsafeSubexpressions {
    return &unsafeSubexpressions {
        comp    : comp,
        visited : bitset.New(uint(comp.NodeCount())),
        unsafe  : bitset.New(uint(comp.NodeCount())),
    }
}

func (self *unsafeSubexpressions) isVisited(n *il.Node) bool {
    return self.visited.Test(uint(n.Index()))
}

func (self *unsafeSubexpressions) isUnsafe(n *il.Node) bool {
    return self.unsafe.Test(uint(n.Index()))
}

func (self *unsafeSubexpressions) recordDeadUse(n *il.Node) {
    if n != nil {
        self.visited.Set(uint(n.Index()))
        self.unsafe.Set(uint(n.Index()))
    }
}

func (self *unsafeSubexpressions) anchor(n *il.Node, at *il.TreeTop) {
    if !n.Op().IsLoadConst() {
        at.InsertBefore(il.NewTreeTop(self.comp.NewTreeTopNode(n)))
    }
}

func (self *unsafeSubexpressions) anchorIfSafe(n *il.Node, at *il.TreeTop) {
    if self.anchorSafeChildrenOfUnsafeNodes(n, at); !self.isUnsafe(n) {
        self.anchor(n, at)
    }
}

func (self *unsafeSubexpressions) anchorSafeChildrenOfUnsafeNodes(n *il.Node, at *il.TreeTop) {
    if self.isVisited(n) {
        return
    }

    /* check the children */
    safe := true
    self.visited.Set(uint(n.Index()))
    for _, v := range n.Children() {
        if v != nil {
            self.anchorSafeChildrenOfUnsafeNodes(v, at)
            safe = safe && !self.isUnsafe(v)
        }
    }

    /* keep the safe parts of an unsafe node evaluated */
    if !safe {
        for _, v := range n.Children() {
            if v != nil && !self.isUnsafe(v) {
                self.anchor(v, at)
            }
        }
        self.unsafe.Set(uint(n.Index()))
    }
}
