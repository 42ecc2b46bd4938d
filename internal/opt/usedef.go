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
    `fmt`
    `strings`

    `github.com/bits-and-blooms/bitset`
    `github.com/cloudwego/treejit/internal/il`
    `github.com/oleiade/lane`
)

// variable is what a def or use refers to: the memory of a local symbol, or
// the global register caching it.
type variable struct {
    sym *il.Symbol
    reg bool
}

type event struct {
    node *il.Node
    tree *il.TreeTop
    vidx int32
    def  bool
}

// UseDefInfo numbers the defs and uses of the local symbols of a method and
// records which defs reach every use. Indices are laid out as one entry def
// per variable, then the real defs, then the uses.
type UseDefInfo struct {
    comp    *il.Compilation
    nodes   []*il.Node
    trees   []*il.TreeTop
    vars    []variable
    entries int32
    defs    int32
    uses    int32
    useDef  []*bitset.BitSet
    defUse  []*bitset.BitSet
}

func isCandidate(sym *il.Symbol) bool {
    return sym != nil && sym.IsAutoOrParm() && !sym.IsAddressTaken()
}

// variableOf classifies n as a def or a use of a candidate variable.
func variableOf(n *il.Node) (v variable, def bool, ok bool) {
    op := n.Op()
    sym := n.Symbol()

    /* only locals that are never addressed */
    if !isCandidate(sym) {
        return variable{}, false, false
    }

    /* memory and register accesses */
    switch {
        case op.IsStoreDirect()   : return variable { sym: sym }, true, true
        case op.IsLoadVarDirect() : return variable { sym: sym }, false, true
        case op.IsStoreReg()      : return variable { sym: sym, reg: true }, true, true
        case op.IsLoadReg()       : return variable { sym: sym, reg: true }, false, true
        default                   : return variable{}, false, false
    }
}

// BuildUseDefInfo numbers every def and use in the trees of comp and solves
// reaching definitions over the flow graph.
func BuildUseDefInfo(comp *il.Compilation) *UseDefInfo {
    ret := &UseDefInfo { comp: comp }
    ret.build()
    return ret
}

func (self *UseDefInfo) build() {
    cfg := self.comp.FlowGraph()
    seen := il.NewNodeChecklist(self.comp)
    vars := make(map[variable]int32)
    evts := make(map[*il.Block][]event)
    order := cfg.LayoutOrder()

    /* Phase 1: collect the events of every block, in evaluation order */
    for _, bb := range order {
        var list []event
        bb.ForEachTree(func(tt *il.TreeTop) {
            self.collect(tt, tt.Node(), seen, vars, &list)
        })
        evts[bb] = list
    }

    /* Phase 2: number them, entry defs first */
    self.entries = int32(len(self.vars))
    self.defs, self.uses = 0, 0
    for _, bb := range order {
        for _, e := range evts[bb] {
            if e.def {
                self.defs++
            } else {
                self.uses++
            }
        }
    }

    /* allocate the index space */
    total := self.entries + self.defs + self.uses
    self.nodes = make([]*il.Node, total)
    self.trees = make([]*il.TreeTop, total)
    di, ui := self.entries, self.entries + self.defs
    vdefs := make([]*bitset.BitSet, len(self.vars))

    /* every variable is defined on entry */
    for i := range vdefs {
        vdefs[i] = bitset.New(uint(self.NumDefOnlyNodes()))
        vdefs[i].Set(uint(i))
    }

    /* assign the indices */
    for _, bb := range order {
        for i := range evts[bb] {
            e := &evts[bb][i]
            idx := &ui
            if e.def {
                idx = &di
                vdefs[e.vidx].Set(uint(di))
            }
            self.nodes[*idx] = e.node
            self.trees[*idx] = e.tree
            e.node.SetUseDefIndex(*idx)
            *idx++
        }
    }

    /* Phase 3: reaching definitions */
    in := self.solve(order, evts, vdefs)

    /* Phase 4: resolve every use */
    self.useDef = make([]*bitset.BitSet, self.uses)
    for _, bb := range order {
        last := make(map[int32]int32)
        for _, e := range evts[bb] {
            if e.def {
                last[e.vidx] = e.node.UseDefIndex()
                continue
            }

            /* a def earlier in the block hides the incoming ones */
            set := bitset.New(uint(self.NumDefOnlyNodes()))
            if d, ok := last[e.vidx]; ok {
                set.Set(uint(d))
            } else if v := in[bb]; v != nil {
                set = v.Intersection(vdefs[e.vidx])
            }
            self.useDef[e.node.UseDefIndex() - self.FirstUseIndex()] = set
        }
    }

    /* Phase 5: invert into def-use */
    self.buildDefUseInfo()
}

func (self *UseDefInfo) collect(tt *il.TreeTop, n *il.Node, seen *il.NodeChecklist, vars map[variable]int32, list *[]event) {
    if !seen.Add(n) {
        return
    }

    /* children are evaluated first */
    n.SetUseDefIndex(-1)
    for _, v := range n.Children() {
        if v != nil {
            self.collect(tt, v, seen, vars, list)
        }
    }

    /* check for defs and uses */
    v, def, ok := variableOf(n)
    if !ok {
        return
    }

    /* number the variable on first sight */
    idx, ok := vars[v]
    if !ok {
        idx = int32(len(self.vars))
        vars[v] = idx
        self.vars = append(self.vars, v)
    }

    /* record the event */
    *list = append(*list, event {
        node : n,
        tree : tt,
        vidx : idx,
        def  : def,
    })
}

func (self *UseDefInfo) solve(order []*il.Block, evts map[*il.Block][]event, vdefs []*bitset.BitSet) map[*il.Block]*bitset.BitSet {
    size := uint(self.NumDefOnlyNodes())
    gen := make(map[*il.Block]*bitset.BitSet, len(order))
    kill := make(map[*il.Block]*bitset.BitSet, len(order))
    all := make(map[*il.Block]*bitset.BitSet, len(order))

    /* local sets of every block */
    for _, bb := range order {
        last := make(map[int32]int32)
        gen[bb], kill[bb], all[bb] = bitset.New(size), bitset.New(size), bitset.New(size)

        /* the last def of a variable survives the block */
        for _, e := range evts[bb] {
            if e.def {
                last[e.vidx] = e.node.UseDefIndex()
                all[bb].Set(uint(e.node.UseDefIndex()))
            }
        }

        /* every other def of it is killed */
        for v, d := range last {
            gen[bb].Set(uint(d))
            kill[bb].InPlaceUnion(vdefs[v])
        }
    }

    /* entry defs flow out of the start block */
    in := make(map[*il.Block]*bitset.BitSet, len(order))
    out := make(map[*il.Block]*bitset.BitSet, len(order) + 1)
    start := self.comp.FlowGraph().Start()
    out[start] = bitset.New(size)
    for i := int32(0); i < self.entries; i++ {
        out[start].Set(uint(i))
    }

    /* iterate to a fixed point */
    q := lane.NewQueue()
    queued := make(map[*il.Block]bool, len(order))
    for _, bb := range order {
        q.Enqueue(bb)
        queued[bb] = true
    }

    /* the worklist */
    for !q.Empty() {
        bb := q.Dequeue().(*il.Block)
        queued[bb] = false
        set := bitset.New(size)

        /* normal predecessors contribute what flows out of them */
        for _, e := range bb.Predecessors() {
            if v := out[e.From]; v != nil {
                set.InPlaceUnion(v)
            }
        }

        /* handlers may be entered from anywhere inside the block */
        for _, e := range bb.ExceptionPredecessors() {
            if v := in[e.From]; v != nil {
                set.InPlaceUnion(v)
            }
            if v := all[e.From]; v != nil {
                set.InPlaceUnion(v)
            }
        }

        /* transfer through the block */
        res := set.Difference(kill[bb])
        res.InPlaceUnion(gen[bb])

        /* check for changes */
        changed := in[bb] == nil || in[bb].SymmetricDifferenceCardinality(set) != 0
        changed = changed || out[bb] == nil || out[bb].SymmetricDifferenceCardinality(res) != 0
        in[bb], out[bb] = set, res

        /* propagate to the successors */
        if changed {
            for _, list := range [2][]*il.Edge { bb.Successors(), bb.ExceptionSuccessors() } {
                for _, e := range list {
                    if !e.To.IsArtificial() && !queued[e.To] {
                        q.Enqueue(e.To)
                        queued[e.To] = true
                    }
                }
            }
        }
    }
    return in
}

func (self *UseDefInfo) buildDefUseInfo() {
    self.defUse = make([]*bitset.BitSet, self.NumDefOnlyNodes())
    for i := range self.defUse {
        self.defUse[i] = bitset.New(uint(self.uses))
    }

    /* invert the use-def sets */
    for u, set := range self.useDef {
        for d, ok := set.NextSet(0); ok; d, ok = set.NextSet(d + 1) {
            self.defUse[d].Set(uint(u))
        }
    }
}

func (self *UseDefInfo) invalidate() {
    for _, n := range self.nodes {
        if n != nil {
            n.SetUseDefIndex(-1)
        }
    }
}

func (self *UseDefInfo) FirstDefIndex() int32     { return 0 }
func (self *UseDefInfo) FirstRealDefIndex() int32 { return self.entries }
func (self *UseDefInfo) FirstUseIndex() int32     { return self.entries + self.defs }
func (self *UseDefInfo) NumDefOnlyNodes() int32   { return self.entries + self.defs }
func (self *UseDefInfo) NumUseNodes() int32       { return self.uses }
func (self *UseDefInfo) TotalNodes() int32        { return self.entries + self.defs + self.uses }

func (self *UseDefInfo) IsDefIndex(i int32) bool {
    return i >= 0 && i < self.FirstUseIndex()
}

func (self *UseDefInfo) IsUseIndex(i int32) bool {
    return i >= self.FirstUseIndex() && i < self.TotalNodes()
}

// Node returns the node with the given index, nil for entry defs and cleared nodes.
func (self *UseDefInfo) Node(i int32) *il.Node {
    return self.nodes[i]
}

func (self *UseDefInfo) TreeTop(i int32) *il.TreeTop {
    return self.trees[i]
}

// UseDef returns the defs reaching the use with the given index, nil if there are none.
func (self *UseDefInfo) UseDef(use int32) *bitset.BitSet {
    if !self.IsUseIndex(use) {
        return nil
    } else if set := self.useDef[use - self.FirstUseIndex()]; set.None() {
        return nil
    } else {
        return set
    }
}

// UsesFromDef returns the uses reached by the def with the given index, as
// offsets from FirstUseIndex, nil if there are none.
func (self *UseDefInfo) UsesFromDef(def int32) *bitset.BitSet {
    if !self.IsDefIndex(def) {
        return nil
    } else if set := self.defUse[def]; set.None() {
        return nil
    } else {
        return set
    }
}

func (self *UseDefInfo) SetUseDef(use int32, def int32) {
    self.useDef[use - self.FirstUseIndex()].Set(uint(def))
    self.defUse[def].Set(uint(use - self.FirstUseIndex()))
}

func (self *UseDefInfo) ResetUseDef(use int32, def int32) {
    self.useDef[use - self.FirstUseIndex()].Clear(uint(def))
    self.defUse[def].Clear(uint(use - self.FirstUseIndex()))
}

// ClearNode forgets the node with the given index. Its def-use edges are kept.
func (self *UseDefInfo) ClearNode(i int32) {
    if n := self.nodes[i]; n != nil {
        n.SetUseDefIndex(-1)
        self.nodes[i] = nil
    }
}

func (self *UseDefInfo) String() string {
    sb := strings.Builder{}
    fmt.Fprintf(&sb, "UseDefInfo(entries=%d, defs=%d, uses=%d)", self.entries, self.defs, self.uses)

    /* one line per use */
    for u, set := range self.useDef {
        idx := int32(u) + self.FirstUseIndex()
        if n := self.nodes[idx]; n != nil {
            fmt.Fprintf(&sb, "\n    %d %s %s <- %s", idx, n.Op(), n, set)
        }
    }
    return sb.String()
}
