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

// TreeTop anchors the root of a tree in the doubly-linked list that fixes the
// evaluation order of the method.
type TreeTop struct {
    node *Node
    prev *TreeTop
    next *TreeTop
}

func NewTreeTop(node *Node) *TreeTop {
    return &TreeTop { node: node }
}

func (self *TreeTop) Node() *Node        { return self.node }
func (self *TreeTop) SetNode(v *Node)    { self.node = v }
func (self *TreeTop) Prev() *TreeTop     { return self.prev }
func (self *TreeTop) Next() *TreeTop     { return self.next }

// Join links self and next, either of which may be nil.
func Join(prev *TreeTop, next *TreeTop) {
    if prev != nil {
        prev.next = next
    }
    if next != nil {
        next.prev = prev
    }
}

// InsertBefore links tt immediately before self.
func (self *TreeTop) InsertBefore(tt *TreeTop) {
    Join(self.prev, tt)
    Join(tt, self)
}

// InsertAfter links tt immediately after self.
func (self *TreeTop) InsertAfter(tt *TreeTop) {
    Join(tt, self.next)
    Join(self, tt)
}

// Unlink removes self from the list, joining its neighbours.
func (self *TreeTop) Unlink() {
    Join(self.prev, self.next)
    self.prev = nil
    self.next = nil
}

// EnclosingBlock walks backwards to the BBStart of the block containing this tree.
func (self *TreeTop) EnclosingBlock() *Block {
    for tt := self; tt != nil; tt = tt.prev {
        if tt.node.op == OP_BBStart {
            return tt.node.block
        }
    }
    return nil
}

// IsBlockStart reports whether this tree is the BBStart of a block.
func (self *TreeTop) IsBlockStart() bool {
    return self.node.op == OP_BBStart
}

func (self *TreeTop) IsBlockEnd() bool {
    return self.node.op == OP_BBEnd
}
