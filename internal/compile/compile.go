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

package compile

import (
    `context`

    `github.com/cloudwego/treejit/internal/codegen`
    `github.com/cloudwego/treejit/internal/il`
    `github.com/cloudwego/treejit/internal/opt`
    `github.com/cloudwego/treejit/internal/osr`
    `github.com/cloudwego/treejit/internal/rt`
    `github.com/pkg/errors`
)

// Result is a compiled method.
type Result struct {
    Method   string
    Binary   *codegen.Binary
    MetaData []byte
    Stats    opt.Stats
}

// Compiler drives a compilation from the optimized trees to the OSR metadata.
type Compiler struct {
    rt  rt.Runtime
    gen codegen.Generator
}

// NewCompiler creates a compiler that negotiates the OSR buffers with runtime.
// A nil gen selects codegen.TreeGen.
func NewCompiler(runtime rt.Runtime, gen codegen.Generator) *Compiler {
    if gen == nil {
        gen = codegen.TreeGen{}
    }
    return &Compiler {
        rt  : runtime,
        gen : gen,
    }
}

// Compile optimizes the compilation cd belongs to, generates its code and
// writes its OSR metadata. The OSR blocks and points must already be recorded
// in cd. A treejit.CompilationError means the method is left to the interpreter.
func (self *Compiler) Compile(ctx context.Context, cd *osr.CompilationData) (*Result, error) {
    comp := cd.Compilation()
    name := comp.Method().Name
    mgr := opt.NewManager(comp, nil)

    /* optimize the trees */
    if err := mgr.Optimize(ctx); err != nil {
        return nil, errors.Wrapf(err, "optimize %s", name)
    }

    /* the OSR blocks get their contents once the trees are final */
    if comp.Options.EnableOSR {
        cd.AssignScratchBufferOffsets()
        cd.GenOSRHelperCalls()
        cd.BuildDefiningMap()
    }

    /* generate the code */
    bin, err := self.gen.Generate(comp)
    if err != nil {
        return nil, errors.Wrapf(err, "generate %s", name)
    }

    /* OSR metadata */
    if comp.Options.EnableOSR {
        if err = self.prepareMetaData(cd, bin); err != nil {
            AbandonedCount.Add(1)
            return nil, errors.Wrapf(err, "compile %s", name)
        }
    }

    /* serialize the metadata */
    buf := make([]byte, cd.SizeOfMetaData())
    cd.WriteMetaData(buf)
    comp.Log().Info("method compiled",
        "code", len(bin.Code),
        "metadata", len(buf),
        "mappings", cd.SlotMap().Len(),
        "frame", bin.FrameSize,
    )

    /* all done */
    ret := &Result {
        Method   : name,
        Binary   : bin,
        MetaData : buf,
        Stats    : mgr.Stats(),
    }
    recordResult(ret)
    return ret, nil
}

func (self *Compiler) prepareMetaData(cd *osr.CompilationData, bin *codegen.Binary) error {
    for _, ins := range bin.Instructions {
        if ins.Node != nil {
            cd.AddInstructionForNode(ins.PC, ins.Node)
        }
    }

    /* the transition stubs follow the method body */
    for _, md := range cd.Methods() {
        if md == nil || md.OSRCatchBlock() == nil {
            continue
        }
        pc, err := bin.Append(codegen.EmitOSRTransition(transitionMoves(md)))
        if err != nil {
            return err
        }
        md.OSRCatchBlock().StartPC = pc
    }

    /* merge the mappings, then ask the runtime for room */
    cd.CompressInstruction2SharedSlotMap()
    return cd.CheckOSRLimits(self.rt, bin.FrameSize)
}

// transitionMoves lists the interpreter slots held by a single symbol. Shared
// slots are restored from the scratch buffer by the runtime instead.
func transitionMoves(md *osr.MethodData) []codegen.Move {
    var ret []codegen.Move
    m := md.Method()

    /* pending pushes, then autos and parameters */
    for _, tab := range [2][][]*il.SymbolReference { m.PendingPushSymRefs(), m.AutoSymRefs() } {
        for _, refs := range tab {
            for _, ref := range refs {
                sym := ref.Symbol()
                if sym.Slot >= m.FirstJitTempIndex || m.SharesStackSlot(ref) {
                    continue
                }
                ret = append(ret, codegen.Move {
                    From : codegen.SlotOffset(m, sym.Slot),
                    To   : md.SlotIndex2OSRBufferIndex(sym.Slot, sym.Size(), sym.TakesTwoSlots()),
                    Size : sym.Size(),
                })
            }
        }
    }
    return ret
}
