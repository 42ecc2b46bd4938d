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
    `strings`

    `github.com/cloudwego/treejit/internal/il`
    `github.com/pkg/errors`
    `golang.org/x/arch/x86/x86asm`
)

const (
    _MaxByte = 10
)

// Instruction is one decoded machine instruction of a Binary.
type Instruction struct {
    PC   int32
    Len  int
    Text string
    Node *il.Node
}

// Binary is the machine code of a compiled method along with its listing.
type Binary struct {
    Code         []byte
    Instructions []Instruction
    FrameSize    uint32
}

// Disassemble splits code into its instructions. PCs are offsets into code.
func Disassemble(code []byte) ([]Instruction, error) {
    var pc int
    var ret []Instruction

    /* decode one by one */
    for pc < len(code) {
        ins, err := x86asm.Decode(code[pc:], 64)
        if err != nil {
            return nil, errors.Wrapf(err, "codegen: cannot decode instruction at %#x", pc)
        }

        /* the decoder reports a lone byte when the instruction is cut short */
        if ins.Op == 0 || ins.Len == 0 || pc + ins.Len > len(code) {
            return nil, errors.Wrapf(x86asm.ErrTruncated, "codegen: cannot decode instruction at %#x", pc)
        }
        ret = append(ret, Instruction {
            PC   : int32(pc),
            Len  : ins.Len,
            Text : x86asm.GNUSyntax(ins, uint64(pc), nil),
        })
        pc += ins.Len
    }
    return ret, nil
}

// Append adds code after the end of the binary, returning the PC it starts at.
func (self *Binary) Append(code []byte) (int32, error) {
    pc := int32(len(self.Code))
    ins, err := Disassemble(code)

    /* relocate the listing */
    if err != nil {
        return -1, err
    }
    for i := range ins {
        ins[i].PC += pc
    }

    /* add to the binary */
    self.Code = append(self.Code, code...)
    self.Instructions = append(self.Instructions, ins...)
    return pc, nil
}

// String renders the listing the way objdump does.
func (self *Binary) String() string {
    sb := strings.Builder{}
    for _, v := range self.Instructions {
        fmt.Fprintf(&sb, "0x%08x :", v.PC)
        for x := 0; x < v.Len && x < _MaxByte; x++ {
            fmt.Fprintf(&sb, " %02x", self.Code[int(v.PC) + x])
        }
        if v.Len < _MaxByte {
            sb.WriteString(strings.Repeat("   ", _MaxByte - v.Len))
        }
        if sb.WriteString("    "); v.Node != nil {
            fmt.Fprintf(&sb, "%-32s ; n%d %s\n", v.Text, v.Node.Index(), v.Node.Op())
        } else {
            fmt.Fprintf(&sb, "%s\n", v.Text)
        }
    }
    return sb.String()
}
