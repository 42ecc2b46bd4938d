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

package codegen

import (
    `fmt`

    `github.com/chenzhuoyu/iasm/x86_64`
    `github.com/cloudwego/treejit/internal/il`
)

const (
    PtrSize    = 8
    StackAlign = 16
)

// Generator turns the trees of a compilation into machine code.
type Generator interface {
    Generate(comp *il.Compilation) (*Binary, error)
}

// FrameSize returns the size of the native frame of m, which keeps every
// interpreter slot in a stack slot of its own.
func FrameSize(m *il.MethodSymbol) uint32 {
    n := m.NumPendingPushSlots() + m.NumTemps + m.NumSyncSlots() + m.NumParameterSlots
    return uint32((n * PtrSize + StackAlign - 1) / StackAlign * StackAlign)
}

// SlotOffset returns the offset of an interpreter slot from the stack pointer.
// Pending pushes come first.
func SlotOffset(m *il.MethodSymbol, slot int32) int32 {
    if slot < 0 {
        return (-slot - 1) * PtrSize
    } else {
        return (m.NumPendingPushSlots() + slot) * PtrSize
    }
}

// TreeGen emits a straight-line rendition of the trees: one marker per tree
// carrying the node index, real control transfers for branches and returns.
// OSR catch blocks are left out, they are laid out as transition stubs after
// the method body.
type TreeGen struct{}

type _TreeMark struct {
    ref  *x86_64.Label
    node *il.Node
}

func isBodyBlock(bb *il.Block) bool {
    return !bb.IsArtificial() && !bb.IsOSRCatchBlock()
}

func (TreeGen) Generate(comp *il.Compilation) (ret *Binary, err error) {
    var marks []_TreeMark
    p := x86_64.DefaultArch.CreateProgram()
    refs := make(map[*il.Block]*x86_64.Label)
    defer p.Free()

    /* assembling errors are reported as panics */
    defer func() {
        if v := recover(); v != nil {
            ret, err = nil, fmt.Errorf("codegen: cannot assemble %s: %v", comp.Method().Name, v)
        }
    }()

    /* create the block labels */
    order := comp.FlowGraph().LayoutOrder()
    for _, bb := range order {
        if isBodyBlock(bb) {
            refs[bb] = x86_64.CreateLabel(bb.String())
        }
    }

    /* program prologue */
    size := FrameSize(comp.Method())
    p.SUBQ(int64(size), x86_64.RSP)

    /* translate every tree */
    for _, bb := range order {
        if ref := refs[bb]; ref != nil {
            p.Link(ref)
            bb.ForEachTree(func(tt *il.TreeTop) {
                mark := x86_64.CreateLabel(fmt.Sprintf("_n%d", tt.Node().Index()))
                p.Link(mark)
                translate(p, tt.Node(), size, refs)
                marks = append(marks, _TreeMark { ref: mark, node: tt.Node() })
            })
        }
    }

    /* assemble the program */
    ret = &Binary { Code: p.Assemble(0), FrameSize: size }

    /* blocks now know where they start */
    for bb, ref := range refs {
        bb.StartPC = evaluate(ref)
    }

    /* decode the listing */
    if ret.Instructions, err = Disassemble(ret.Code); err != nil {
        return nil, err
    }

    /* every instruction belongs to the tree it was emitted for */
    for i, j := 0, 0; i < len(ret.Instructions); i++ {
        for j + 1 < len(marks) && evaluate(marks[j + 1].ref) <= ret.Instructions[i].PC {
            j++
        }
        if j < len(marks) && evaluate(marks[j].ref) <= ret.Instructions[i].PC {
            ret.Instructions[i].Node = marks[j].node
        }
    }
    return ret, nil
}

func evaluate(p *x86_64.Label) int32 {
    if v, err := p.Evaluate(); err != nil {
        panic(err)
    } else {
        return int32(v)
    }
}

func translate(p *x86_64.Program, n *il.Node, size uint32, refs map[*il.Block]*x86_64.Label) {
    var to *x86_64.Label
    op := n.Op()

    /* find the branch target, if it is laid out in the body */
    if t := n.Target(); t != nil {
        to = refs[t.Node().Block()]
    }

    /* control transfers */
    switch {
        case op.IsReturn():
            p.ADDQ(int64(size), x86_64.RSP)
            p.RET()
        case op.IsGoto() && to != nil:
            p.JMP(to)
        case op.IsIf() && to != nil:
            p.TESTL(x86_64.EAX, x86_64.EAX)
            p.JNE(to)
        default:
            p.MOVL(int64(n.Index()), x86_64.EAX)
    }
}
