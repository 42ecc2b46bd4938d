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

// Builder appends blocks and trees to a method in layout order.
type Builder struct {
    comp *Compilation
    last *Block
    cur  *Block
}

func NewBuilder(comp *Compilation) *Builder {
    return &Builder { comp: comp }
}

func (self *Builder) Compilation() *Compilation { return self.comp }
func (self *Builder) Current() *Block           { return self.cur }

// Block starts a new block of the root method.
func (self *Builder) Block() *Block {
    return self.BlockAt(ByteCodeInfo { CallerIndex: -1 })
}

// BlockAt starts a new block, laid out after every block created so far.
// The first block becomes the successor of the CFG entry.
func (self *Builder) BlockAt(bci ByteCodeInfo) *Block {
    cfg := self.comp.FlowGraph()
    bb := NewBlock(self.comp, bci)
    cfg.AddNode(bb)

    /* link the trees */
    if self.last == nil {
        self.comp.method.first = bb.entry
        cfg.AddEdge(cfg.start, bb)
    } else {
        Join(bb.exit, self.last.exit.next)
        Join(self.last.exit, bb.entry)
    }

    /* make it current */
    self.last = bb
    self.cur = bb
    return bb
}

// Extend starts a new block that extends the current one.
func (self *Builder) Extend() *Block {
    prev := self.cur
    bb := self.Block()
    bb.SetIsExtensionOfPreviousBlock(true)
    self.comp.FlowGraph().AddEdge(prev, bb)
    return bb
}

// SetCurrent selects the block further trees are appended to.
func (self *Builder) SetCurrent(bb *Block) {
    self.cur = bb
}

// Tree appends a tree rooted at n to the current block.
func (self *Builder) Tree(n *Node) *TreeTop {
    return self.cur.Append(NewTreeTop(n))
}

// Anchor appends treetop(n) to the current block.
func (self *Builder) Anchor(n *Node) *TreeTop {
    return self.Tree(self.comp.NewTreeTopNode(n))
}

// Store appends a direct store of v into ref.
func (self *Builder) Store(ref *SymbolReference, v *Node) *TreeTop {
    return self.Tree(self.comp.NewStore(ref, v))
}

// Goto ends the current block with a jump to bb.
func (self *Builder) Goto(bb *Block) *TreeTop {
    n := self.comp.NewNode(OP_Goto)
    n.target = bb.entry
    self.comp.FlowGraph().AddEdge(self.cur, bb)
    return self.Tree(n)
}

// If ends the current block with a conditional jump to bb. The fall-through
// edge is added by Edge.
func (self *Builder) If(op OpCode, a *Node, b *Node, bb *Block) *TreeTop {
    n := self.comp.NewNode(op, a, b)
    n.target = bb.entry
    self.comp.FlowGraph().AddEdge(self.cur, bb)
    return self.Tree(n)
}

// Return ends the current block with a return of v, which may be nil.
func (self *Builder) Return(v *Node) *TreeTop {
    var n *Node
    if v == nil {
        n = self.comp.NewNode(OP_Return)
    } else {
        n = self.comp.NewNode(OP_ireturn, v)
    }
    self.comp.FlowGraph().AddEdge(self.cur, self.comp.FlowGraph().end)
    return self.Tree(n)
}

// Edge adds a normal edge between two blocks.
func (self *Builder) Edge(from *Block, to *Block) *Edge {
    return self.comp.FlowGraph().AddEdge(from, to)
}
