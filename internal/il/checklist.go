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
    `github.com/bits-and-blooms/bitset`
)

// NodeChecklist is a set of nodes keyed by node index.
type NodeChecklist struct {
    set *bitset.BitSet
}

func NewNodeChecklist(comp *Compilation) *NodeChecklist {
    return &NodeChecklist { set: bitset.New(uint(comp.NodeCount())) }
}

func (self *NodeChecklist) Contains(n *Node) bool {
    return self.set.Test(uint(n.index))
}

// Add inserts n, returning false if it was already present.
func (self *NodeChecklist) Add(n *Node) bool {
    if self.set.Test(uint(n.index)) {
        return false
    }
    self.set.Set(uint(n.index))
    return true
}

func (self *NodeChecklist) Remove(n *Node) {
    self.set.Clear(uint(n.index))
}

func (self *NodeChecklist) Len() int {
    return int(self.set.Count())
}
