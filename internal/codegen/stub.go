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
    `github.com/chenzhuoyu/iasm/x86_64`
)

// Move copies a value of Size bytes from the native frame at From to the OSR
// frame buffer at To.
type Move struct {
    From int32
    To   int32
    Size int32
}

// EmitOSRTransition emits the stub an OSR catch block starts with. On entry
// RSP points to the native frame and RDI to the OSR frame buffer of the
// method. The stub copies every slot into the buffer and returns to the
// runtime, which completes the transition.
func EmitOSRTransition(moves []Move) []byte {
    p := x86_64.DefaultArch.CreateProgram()
    defer p.Free()

    /* copy the slots through RAX */
    for _, v := range moves {
        if v.Size <= 4 {
            p.MOVL(x86_64.Ptr(x86_64.RSP, v.From), x86_64.EAX)
            p.MOVL(x86_64.EAX, x86_64.Ptr(x86_64.RDI, v.To))
        } else {
            p.MOVQ(x86_64.Ptr(x86_64.RSP, v.From), x86_64.RAX)
            p.MOVQ(x86_64.RAX, x86_64.Ptr(x86_64.RDI, v.To))
        }
    }

    /* back to the runtime */
    p.RET()
    return p.Assemble(0)
}
