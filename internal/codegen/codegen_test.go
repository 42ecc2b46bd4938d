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
    `strings`
    `testing`

    `github.com/cloudwego/treejit/internal/il`
    `github.com/stretchr/testify/require`
    `golang.org/x/arch/x86/x86asm`
)

func TestEmitOSRTransition(t *testing.T) {
    code := EmitOSRTransition([]Move {
        { From: 8, To: 16, Size: 4 },
        { From: 16, To: 24, Size: 8 },
    })
    ins, err := Disassemble(code)
    require.NoError(t, err)
    require.Len(t, ins, 5)
    require.Contains(t, ins[0].Text, "%rsp")
    require.Contains(t, ins[0].Text, "%eax")
    require.Contains(t, ins[1].Text, "%rdi")
    require.Contains(t, ins[2].Text, "%rax")
    require.True(t, strings.HasPrefix(ins[4].Text, "ret"), ins[4].Text)
    require.Equal(t, int32(len(code)), ins[4].PC + int32(ins[4].Len))
}

func TestDisassemble_Truncated(t *testing.T) {
    _, err := Disassemble([]byte { 0x0f })
    require.ErrorIs(t, err, x86asm.ErrTruncated)
    _, err = Disassemble(append(EmitOSRTransition([]Move {{ From: 0, To: 8, Size: 8 }}), 0x48, 0x8b))
    require.ErrorIs(t, err, x86asm.ErrTruncated)
}

func TestBinary_Append(t *testing.T) {
    bin := &Binary { Code: EmitOSRTransition(nil) }
    require.Len(t, bin.Code, 1)
    pc, err := bin.Append(EmitOSRTransition([]Move {{ From: 0, To: 8, Size: 8 }}))
    require.NoError(t, err)
    require.Equal(t, int32(1), pc)
    require.Len(t, bin.Instructions, 3)
    require.Equal(t, pc, bin.Instructions[0].PC)
    require.NotEmpty(t, bin.String())
}

func TestTreeGen_Generate(t *testing.T) {
    m := il.NewMethodSymbol("test", 2, 4)
    c := il.NewCompilation(m, nil, nil, nil)
    b := il.NewBuilder(c)
    x := c.NewAuto(m, "x", il.Int32, 0)
    b0 := b.Block()
    st := b.Store(x, c.NewIntConst(1)).Node()
    b1 := b.Block()
    b.Edge(b0, b1)
    br := b.If(il.OP_ificmplt, c.NewLoad(x), c.NewIntConst(2), b1).Node()
    b2 := b.Block()
    b.Edge(b1, b2)
    ret := b.Return(nil).Node()
    cb := b.Block()
    cb.SetIsOSRCatchBlock(true)
    b.Return(nil)

    /* generate */
    bin, err := TreeGen{}.Generate(c)
    require.NoError(t, err)
    require.Equal(t, uint32(48), bin.FrameSize)
    require.Equal(t, FrameSize(m), bin.FrameSize)
    require.Nil(t, bin.Instructions[0].Node)

    /* the listing follows the trees */
    var nodes []*il.Node
    for _, v := range bin.Instructions[1:] {
        require.NotNil(t, v.Node)
        if len(nodes) == 0 || nodes[len(nodes) - 1] != v.Node {
            nodes = append(nodes, v.Node)
        }
    }
    require.Equal(t, []*il.Node { st, br, ret }, nodes)

    /* blocks know where they start */
    require.Equal(t, bin.Instructions[1].PC, b0.StartPC)
    require.Equal(t, bin.Instructions[2].PC, b1.StartPC)
    require.Equal(t, bin.Instructions[4].PC, b2.StartPC)
    require.Equal(t, int32(-1), cb.StartPC)
    require.True(t, strings.HasPrefix(bin.Instructions[len(bin.Instructions) - 1].Text, "ret"))
}

func TestSlotOffset(t *testing.T) {
    m := il.NewMethodSymbol("test", 1, 2)
    require.Equal(t, int32(0), SlotOffset(m, 0))
    require.Equal(t, int32(16), SlotOffset(m, 2))
    require.Equal(t, int32(8), SlotOffset(m, -2))
}
