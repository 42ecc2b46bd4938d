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
    `golang.org/x/exp/slices`
    `gonum.org/v1/gonum/graph/flow`
    `gonum.org/v1/gonum/graph/simple`
    `gonum.org/v1/gonum/graph/topo`

    `github.com/cloudwego/treejit/internal/il`
)

// Loop is a natural loop: a header dominating every block of the body, and
// the back edges into it. Loops sharing a header are merged.
type Loop struct {
    Header *il.Block
    blocks map[*il.Block]struct{}
}

func (self *Loop) Contains(bb *il.Block) bool {
    _, ok := self.blocks[bb]
    return ok
}

func (self *Loop) Size() int {
    return len(self.blocks)
}

// Blocks returns the body of the loop in block number order.
func (self *Loop) Blocks() []*il.Block {
    ret := make([]*il.Block, 0, len(self.blocks))
    for bb := range self.blocks {
        ret = append(ret, bb)
    }
    slices.SortFunc(ret, func(a *il.Block, b *il.Block) bool {
        return a.Number < b.Number
    })
    return ret
}

// ExitEdges returns the normal edges leaving the loop.
func (self *Loop) ExitEdges() []*il.Edge {
    var ret []*il.Edge
    for _, bb := range self.Blocks() {
        for _, e := range bb.Successors() {
            if !self.Contains(e.To) {
                ret = append(ret, e)
            }
        }
    }
    return ret
}

// Preheader returns the only block entering the loop from outside, if there is exactly one.
func (self *Loop) Preheader() *il.Block {
    var ret *il.Block
    for _, e := range self.Header.Predecessors() {
        if self.Contains(e.From) {
            continue
        }
        if ret != nil {
            return nil
        }
        ret = e.From
    }
    return ret
}

// Structure is the loop structure of a flow graph.
type Structure struct {
    cfg    *il.CFG
    g      *simple.DirectedGraph
    doms   flow.DominatorTree
    cycles map[*il.Block]bool
    loops  []*Loop
}

func buildGraph(cfg *il.CFG) (*simple.DirectedGraph, map[int64]*il.Block, map[*il.Block]bool) {
    g := simple.NewDirectedGraph()
    ids := make(map[int64]*il.Block)
    cycles := make(map[*il.Block]bool)

    /* one node per block */
    for _, bb := range cfg.Blocks() {
        ids[int64(bb.Number)] = bb
        g.AddNode(simple.Node(bb.Number))
    }

    /* normal edges only, the graph has no self edges */
    for _, bb := range cfg.Blocks() {
        for _, e := range bb.Successors() {
            if e.To == bb {
                cycles[bb] = true
            } else if _, ok := ids[int64(e.To.Number)]; ok {
                g.SetEdge(g.NewEdge(simple.Node(bb.Number), simple.Node(e.To.Number)))
            }
        }
    }
    return g, ids, cycles
}

// AnalyzeStructure computes the dominators and natural loops of the method.
func AnalyzeStructure(comp *il.Compilation) *Structure {
    cfg := comp.FlowGraph()
    g, _, cycles := buildGraph(cfg)

    /* build the dominator tree */
    ret := &Structure {
        cfg    : cfg,
        g      : g,
        cycles : cycles,
        doms   : flow.Dominators(simple.Node(cfg.Start().Number), g),
    }

    /* find the loops */
    ret.findLoops()
    return ret
}

// Dominates checks if every path from the entry to b passes through a.
func (self *Structure) Dominates(a *il.Block, b *il.Block) bool {
    for id := int64(b.Number); ; {
        if id == int64(a.Number) {
            return true
        }
        p := self.doms.DominatorOf(id)
        if p == nil {
            return false
        }
        id = p.ID()
    }
}

// Loops returns the natural loops, smallest first, so inner loops precede the loops containing them.
func (self *Structure) Loops() []*Loop {
    return self.loops
}

func (self *Structure) findLoops() {
    byHeader := make(map[*il.Block]*Loop)

    /* self loops */
    for bb := range self.cycles {
        self.loopOf(byHeader, bb)
    }

    /* back edges are edges into a dominator */
    for _, bb := range self.cfg.Blocks() {
        for _, e := range bb.Successors() {
            if e.To != bb && self.doms.DominatorOf(int64(bb.Number)) != nil && self.Dominates(e.To, bb) {
                self.addBody(self.loopOf(byHeader, e.To), bb)
            }
        }
    }

    /* innermost first */
    for _, l := range byHeader {
        self.loops = append(self.loops, l)
    }
    slices.SortFunc(self.loops, func(a *Loop, b *Loop) bool {
        if a.Size() != b.Size() {
            return a.Size() < b.Size()
        } else {
            return a.Header.Number < b.Header.Number
        }
    })
}

func (self *Structure) loopOf(byHeader map[*il.Block]*Loop, h *il.Block) *Loop {
    if l, ok := byHeader[h]; ok {
        return l
    }
    l := &Loop {
        Header : h,
        blocks : map[*il.Block]struct{} { h: {} },
    }
    byHeader[h] = l
    return l
}

// addBody adds every block reaching the latch without passing through the header.
func (self *Structure) addBody(l *Loop, latch *il.Block) {
    var work []*il.Block
    if !l.Contains(latch) {
        l.blocks[latch] = struct{}{}
        work = append(work, latch)
    }

    /* walk the predecessors */
    for len(work) != 0 {
        bb := work[len(work) - 1]
        work = work[:len(work) - 1]
        for _, e := range bb.Predecessors() {
            if !l.Contains(e.From) && !e.From.IsArtificial() {
                l.blocks[e.From] = struct{}{}
                work = append(work, e.From)
            }
        }
    }
}

// mayHaveLoops checks for cycles in the flow graph.
func mayHaveLoops(comp *il.Compilation) bool {
    g, _, cycles := buildGraph(comp.FlowGraph())
    if len(cycles) != 0 {
        return true
    }
    for _, scc := range topo.TarjanSCC(g) {
        if len(scc) > 1 {
            return true
        }
    }
    return false
}
