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
    `github.com/oleiade/lane`
    `golang.org/x/exp/slices`
)

// CFG is the control flow graph of a method. Start and End are artificial
// blocks without trees that stand for method entry and exit.
type CFG struct {
    comp   *Compilation
    start  *Block
    end    *Block
    nextid int
    blocks map[*Block]struct{}
}

func newCFG(comp *Compilation) *CFG {
    ret := &CFG {
        comp   : comp,
        start  : &Block { StartPC: -1 },
        end    : &Block { StartPC: -1 },
        blocks : make(map[*Block]struct{}),
    }
    ret.AddNode(ret.start)
    ret.AddNode(ret.end)
    return ret
}

func (self *CFG) Start() *Block { return self.start }
func (self *CFG) End() *Block   { return self.end }

// NumberOfNodes returns the number of blocks in the graph, including Start and End.
func (self *CFG) NumberOfNodes() int {
    return len(self.blocks)
}

// MaxBlockNumber is an exclusive bound on the numbers of the blocks ever added.
func (self *CFG) MaxBlockNumber() int {
    return self.nextid
}

// AddNode adds bb to the graph and numbers it.
func (self *CFG) AddNode(bb *Block) {
    bb.Number = self.nextid
    bb.setFlag(BF_Removed, false)
    self.nextid++
    self.blocks[bb] = struct{}{}
}

func (self *CFG) Contains(bb *Block) bool {
    _, ok := self.blocks[bb]
    return ok
}

// Blocks returns every block of the graph, ordered by block number.
func (self *CFG) Blocks() []*Block {
    ret := make([]*Block, 0, len(self.blocks))
    for bb := range self.blocks {
        ret = append(ret, bb)
    }
    slices.SortFunc(ret, func(a *Block, b *Block) bool {
        return a.Number < b.Number
    })
    return ret
}

// AddEdge adds a normal edge, unless one already exists.
func (self *CFG) AddEdge(from *Block, to *Block) *Edge {
    for _, e := range from.succ {
        if e.To == to {
            return e
        }
    }
    e := &Edge { From: from, To: to }
    from.succ = append(from.succ, e)
    to.pred = append(to.pred, e)
    return e
}

// AddExceptionEdge adds an exception edge, unless one already exists.
func (self *CFG) AddExceptionEdge(from *Block, to *Block) *Edge {
    for _, e := range from.excSucc {
        if e.To == to {
            return e
        }
    }
    e := &Edge { From: from, To: to, Exception: true }
    from.excSucc = append(from.excSucc, e)
    to.excPred = append(to.excPred, e)
    return e
}

func dropEdge(list []*Edge, e *Edge) []*Edge {
    for i, v := range list {
        if v == e {
            return append(list[:i], list[i + 1:]...)
        }
    }
    return list
}

func (self *CFG) RemoveEdge(e *Edge) {
    if e.Exception {
        e.From.excSucc = dropEdge(e.From.excSucc, e)
        e.To.excPred = dropEdge(e.To.excPred, e)
    } else {
        e.From.succ = dropEdge(e.From.succ, e)
        e.To.pred = dropEdge(e.To.pred, e)
    }
}

// FindEdge returns the normal edge between two blocks, if any.
func (self *CFG) FindEdge(from *Block, to *Block) *Edge {
    for _, e := range from.succ {
        if e.To == to {
            return e
        }
    }
    return nil
}

// RemoveNode detaches bb from the graph. Its trees are unlinked from the
// method and the references they hold are released.
func (self *CFG) RemoveNode(bb *Block) {
    if !self.Contains(bb) || bb == self.start || bb == self.end {
        return
    }

    /* remove all the edges */
    for _, list := range [4][]*Edge { bb.succ, bb.pred, bb.excSucc, bb.excPred } {
        for _, e := range append([]*Edge(nil), list...) {
            self.RemoveEdge(e)
        }
    }

    /* release the trees */
    if !bb.IsArtificial() {
        bb.ForEachTree(func(tt *TreeTop) {
            tt.node.RecursivelyDecRefCount()
        })
        if m := self.comp.Method(); m.first == bb.entry {
            m.first = bb.exit.next
        }
        Join(bb.entry.prev, bb.exit.next)
        bb.entry.prev = nil
        bb.exit.next = nil
        Join(bb.entry, bb.exit)
    }

    /* mark as removed */
    delete(self.blocks, bb)
    bb.setFlag(BF_Removed, true)
}

// Reachable returns the set of blocks reachable from Start through normal and exception edges.
func (self *CFG) Reachable() map[*Block]struct{} {
    q := lane.NewQueue()
    ret := map[*Block]struct{} { self.start: {} }

    /* breadth-first from the entry */
    for q.Enqueue(self.start); !q.Empty(); {
        bb := q.Dequeue().(*Block)
        for _, list := range [2][]*Edge { bb.succ, bb.excSucc } {
            for _, e := range list {
                if _, ok := ret[e.To]; !ok {
                    ret[e.To] = struct{}{}
                    q.Enqueue(e.To)
                }
            }
        }
    }
    return ret
}

// RemoveUnreachableBlocks removes every block that can no longer be reached
// from Start, returning the number of blocks removed. End is always kept.
func (self *CFG) RemoveUnreachableBlocks() int {
    n := 0
    live := self.Reachable()

    /* drop the unreachable ones */
    for _, bb := range self.Blocks() {
        if _, ok := live[bb]; !ok && bb != self.end {
            self.RemoveNode(bb)
            n++
        }
    }
    return n
}

// LayoutOrder returns the blocks that own trees, in the order they appear in the method.
func (self *CFG) LayoutOrder() []*Block {
    var ret []*Block
    for tt := self.comp.Method().first; tt != nil; tt = tt.next {
        if tt.node.op == OP_BBStart && self.Contains(tt.node.block) {
            ret = append(ret, tt.node.block)
        }
    }
    return ret
}
