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
    `github.com/cloudwego/treejit/internal/il`
)

// CatchBlocks removes the exception edges of blocks that cannot raise, then
// the handlers no longer reachable.
type CatchBlocks struct{}

func (CatchBlocks) Perform(m *Manager) int {
    n := 0
    cfg := m.comp.FlowGraph()

    /* blocks that cannot raise don't reach their handlers */
    for _, bb := range cfg.LayoutOrder() {
        if len(bb.ExceptionSuccessors()) == 0 || canRaise(m, bb) {
            continue
        }
        for _, e := range append([]*il.Edge(nil), bb.ExceptionSuccessors()...) {
            if e.To.IsOSRCatchBlock() {
                continue
            }
            m.trace(CatchBlockRemoval, "remove exception edge", "edge", e)
            cfg.RemoveEdge(e)
            n++
        }
    }

    /* drop the handlers */
    if n != 0 {
        n += cfg.RemoveUnreachableBlocks()
        m.InvalidateUseDefInfo()
    }
    return n
}

func canRaise(m *Manager, bb *il.Block) bool {
    ret := false
    seen := il.NewNodeChecklist(m.comp)

    /* check every node of the block */
    bb.ForEachTree(func(tt *il.TreeTop) {
        if !ret {
            ret = raises(m.oracle, tt.Node(), seen)
        }
    })
    return ret
}

func raises(oracle Oracle, n *il.Node, seen *il.NodeChecklist) bool {
    if !seen.Add(n) {
        return false
    }
    if oracle.ExceptionsRaised(n) {
        return true
    }
    for _, v := range n.Children() {
        if v != nil && raises(oracle, v, seen) {
            return true
        }
    }
    return false
}
