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

package osr

import (
    `math`

    `github.com/cloudwego/treejit`
    `github.com/cloudwego/treejit/internal/rt`
)

func addSaturated(a uint32, b uint32) uint32 {
    if a > math.MaxUint32 - b {
        return math.MaxUint32
    } else {
        return a + b
    }
}

// OSRStackFrameSize returns the stack space the OSR helper needs for the frame
// at the given array index, or 0 if the frame has no method data.
func (self *CompilationData) OSRStackFrameSize(idx int) uint32 {
    if idx < 0 || idx >= len(self.methods) || self.methods[idx] == nil {
        return 0
    } else {
        return uint32(1 + self.methods[idx].method.NumParameterSlots) * uint32(self.comp.Target.ReferenceSize)
    }
}

// CheckOSRLimits asks the runtime to grow its OSR buffers for the deepest
// inlined call chain of the compilation. frameSize is the native frame size
// of the generated code. The compilation must be abandoned on failure.
func (self *CompilationData) CheckOSRLimits(runtime rt.Runtime, frameSize uint32) error {
    nb := self.comp.NumInlinedCallSites()
    rootFrame := runtime.OSRFrameSizeInBytes(self.comp.Method())
    rootStack := self.OSRStackFrameSize(0)

    /* per call site sizes, accumulated along the caller chain */
    done := make([]bool, nb)
    frames := make([]uint32, nb)
    stacks := make([]uint32, nb)

    /* callers may be numbered after their callees */
    var visit func(i int32)
    visit = func(i int32) {
        if done[i] {
            return
        }
        done[i] = true
        site := self.comp.InlinedCallSite(i)
        frame := runtime.OSRFrameSizeInBytes(site.Method)
        stack := self.OSRStackFrameSize(int(i) + 1)

        /* add the sizes of the caller */
        if caller := site.ByteCodeInfo.CallerIndex; caller == -1 {
            frames[i] = addSaturated(frame, rootFrame)
            stacks[i] = addSaturated(stack, rootStack)
        } else {
            visit(caller)
            frames[i] = addSaturated(frame, frames[caller])
            stacks[i] = addSaturated(stack, stacks[caller])
        }
    }

    /* find the maximum */
    maxFrame := rootFrame
    maxStack := rootStack
    for i := 0; i < nb; i++ {
        visit(int32(i))
        maxFrame = max(maxFrame, frames[i])
        maxStack = max(maxStack, stacks[i])
    }

    /* the native frame is only known after code generation */
    maxStack = addSaturated(maxStack, frameSize)
    if runtime.EnsureOSRBufferSize(maxFrame, self.scratch, maxStack) {
        return nil
    }

    /* the runtime refused */
    self.comp.Log().Warn("OSR compile abort: buffer sizes not accommodated by the runtime",
        "frame", maxFrame,
        "scratch", self.scratch,
        "stack", maxStack,
    )
    return treejit.CompilationError {
        Method: self.comp.Method().Name,
        Reason: "OSR buffers could not be enlarged to accommodate compiled method",
    }
}
