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
    `fmt`
    `io`
    `strings`
)

// Dump writes the trees of the method in a readable form. Nodes already
// printed are shown as references to their first occurrence.
func Dump(w io.Writer, comp *Compilation) {
    seen := NewNodeChecklist(comp)
    for tt := comp.method.first; tt != nil; tt = tt.next {
        dumpNode(w, tt.node, 0, seen)
    }
}

// DumpString is like Dump, but returns a string.
func DumpString(comp *Compilation) string {
    buf := new(strings.Builder)
    Dump(buf, comp)
    return buf.String()
}

func dumpNode(w io.Writer, n *Node, depth int, seen *NodeChecklist) {
    pad := strings.Repeat("  ", depth)

    /* commoned node */
    if !seen.Add(n) {
        fmt.Fprintf(w, "%s==>%s %s\n", pad, n.op, n)
        return
    }

    /* node header */
    fmt.Fprintf(w, "%s%s %s", pad, n, n.op)
    switch {
        case n.op == OP_BBStart || n.op == OP_BBEnd : fmt.Fprintf(w, " <%s>", n.block)
        case n.op.IsLoadConst()                     : fmt.Fprintf(w, " %d", n.value)
        case n.symref != nil                        : fmt.Fprintf(w, " %s", n.symref)
        case n.regno >= 0                           : fmt.Fprintf(w, " r%d", n.regno)
    }

    /* reference counts and branch targets */
    if n.target != nil {
        fmt.Fprintf(w, " -> %s", n.target.node.block)
    }
    fmt.Fprintf(w, " [refs=%d]\n", n.refs)

    /* children */
    for _, v := range n.children {
        if v != nil {
            dumpNode(w, v, depth + 1, seen)
        }
    }
}
