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

// RemoveTree unlinks tt from the method and releases the references held by its node.
func RemoveTree(comp *Compilation, tt *TreeTop) {
    if comp.method.first == tt {
        comp.method.first = tt.next
    }
    tt.Unlink()
    tt.node.RecursivelyDecRefCount()
}

// RecursivelySetVisitCount marks every node of the subtree as visited with vc.
func RecursivelySetVisitCount(n *Node, vc VisitCount) {
    if n.visit == vc {
        return
    }
    n.visit = vc
    for _, v := range n.children {
        if v != nil {
            RecursivelySetVisitCount(v, vc)
        }
    }
}

// ForEachNode calls fn once for every distinct node reachable from the trees
// of the method, children before parents.
func ForEachNode(comp *Compilation, fn func(tt *TreeTop, n *Node)) {
    seen := NewNodeChecklist(comp)
    for tt := comp.method.first; tt != nil; tt = tt.next {
        forEachNodeIn(tt, tt.node, seen, fn)
    }
}

func forEachNodeIn(tt *TreeTop, n *Node, seen *NodeChecklist, fn func(tt *TreeTop, n *Node)) {
    if !seen.Add(n) {
        return
    }
    for _, v := range n.children {
        if v != nil {
            forEachNodeIn(tt, v, seen, fn)
        }
    }
    fn(tt, n)
}

// LiveNodes returns the set of nodes reachable from the trees of the method.
func LiveNodes(comp *Compilation) *NodeChecklist {
    ret := NewNodeChecklist(comp)
    ForEachNode(comp, func(_ *TreeTop, n *Node) { ret.Add(n) })
    return ret
}
