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
    `errors`
    `log/slog`

    `github.com/cloudwego/treejit/internal/abi`
    `github.com/cloudwego/treejit/internal/opts`
    `github.com/google/uuid`
)

// ErrVisitCountExhausted is returned when a compilation runs out of visit counts.
var ErrVisitCountExhausted = errors.New("il: visit count exhausted")

// Compilation holds the state shared by every pass working on one method.
type Compilation struct {
    ID      uuid.UUID
    Options *opts.Options
    Target  *abi.Target
    log     *slog.Logger
    method  *MethodSymbol
    symrefs *SymbolReferenceTable
    nodes   []*Node
    sites   []InlinedCallSite
    visit   VisitCount
}

// NewCompilation creates the compilation of method, along with its empty flow graph.
func NewCompilation(method *MethodSymbol, options *opts.Options, target *abi.Target, logger *slog.Logger) *Compilation {
    if options == nil {
        o := opts.GetDefaultOptions()
        options = &o
    }
    if target == nil {
        target = abi.Host()
    }
    if logger == nil {
        logger = slog.Default()
    }
    ret := &Compilation {
        ID      : uuid.New(),
        Options : options,
        Target  : target,
        method  : method,
        symrefs : NewSymbolReferenceTable(),
    }
    ret.log = logger.With("method", method.Name, "compilation", ret.ID.String())
    method.cfg = newCFG(ret)
    return ret
}

func (self *Compilation) Method() *MethodSymbol              { return self.method }
func (self *Compilation) FlowGraph() *CFG                    { return self.method.cfg }
func (self *Compilation) SymRefTab() *SymbolReferenceTable   { return self.symrefs }
func (self *Compilation) Log() *slog.Logger                  { return self.log }
func (self *Compilation) StartTree() *TreeTop                { return self.method.first }

// Tracing checks if tracing is enabled for the named component.
func (self *Compilation) Tracing(component string) bool {
    return self.Options.Tracing(component)
}

// NodeCount is an exclusive bound on the indices of every node ever created.
func (self *Compilation) NodeCount() int32 {
    return int32(len(self.nodes))
}

// Node returns the node with the given index.
func (self *Compilation) Node(idx int32) *Node {
    return self.nodes[idx]
}

func (self *Compilation) NumInlinedCallSites() int {
    return len(self.sites)
}

func (self *Compilation) InlinedCallSite(i int32) InlinedCallSite {
    return self.sites[i]
}

// AddInlinedCallSite records an inlined method and returns its site index.
func (self *Compilation) AddInlinedCallSite(method *MethodSymbol, bci ByteCodeInfo) int32 {
    self.sites = append(self.sites, InlinedCallSite { Method: method, ByteCodeInfo: bci })
    if method.cfg == nil {
        method.cfg = self.method.cfg
    }
    return int32(len(self.sites) - 1)
}

// MethodOf returns the method a node with the given bytecode info belongs to.
func (self *Compilation) MethodOf(bci ByteCodeInfo) *MethodSymbol {
    if bci.CallerIndex < 0 {
        return self.method
    } else {
        return self.sites[bci.CallerIndex].Method
    }
}

// InlineDepth returns the number of call sites between the site and the root method.
func (self *Compilation) InlineDepth(site int32) int {
    n := 0
    for site >= 0 {
        n++
        site = self.sites[site].ByteCodeInfo.CallerIndex
    }
    return n
}

func (self *Compilation) VisitCount() VisitCount {
    return self.visit
}

// SetVisitCount forces the current visit count.
func (self *Compilation) SetVisitCount(v VisitCount) {
    self.visit = v
}

// IncVisitCount hands out a fresh visit count, failing once the counter is exhausted.
func (self *Compilation) IncVisitCount() (VisitCount, error) {
    if self.visit >= MaxVisitCount {
        return self.visit, ErrVisitCountExhausted
    }
    self.visit++
    return self.visit, nil
}

// IncOrResetVisitCount hands out a fresh visit count, resetting every node when exhausted.
func (self *Compilation) IncOrResetVisitCount() VisitCount {
    if self.visit >= MaxVisitCount {
        self.ResetVisitCounts(0)
    }
    self.visit++
    return self.visit
}

// ResetVisitCounts sets the visit count of every node, and of the compilation, to v.
func (self *Compilation) ResetVisitCounts(v VisitCount) {
    for _, n := range self.nodes {
        n.visit = v
    }
    self.visit = v
}

// NewNode creates a node with the given children, increasing their reference counts.
func (self *Compilation) NewNode(op OpCode, children ...*Node) *Node {
    ret := &Node {
        op    : op,
        index : int32(len(self.nodes)),
        udi   : -1,
        regno : -1,
    }
    for _, v := range children {
        ret.AddChild(v)
    }
    self.nodes = append(self.nodes, ret)
    return ret
}

// NewSymNode creates a node referencing ref.
func (self *Compilation) NewSymNode(op OpCode, ref *SymbolReference, children ...*Node) *Node {
    ret := self.NewNode(op, children...)
    ret.symref = ref
    return ret
}

// NewConst creates an integral or address constant of the given type.
func (self *Compilation) NewConst(dt DataType, v int64) *Node {
    ret := self.NewNode(ConstOpFor(dt))
    ret.value = v
    ret.fvalue = float64(v)
    return ret
}

func (self *Compilation) NewIntConst(v int32) *Node {
    return self.NewConst(Int32, int64(v))
}

// NewLoad creates a direct load of the symbol ref names.
func (self *Compilation) NewLoad(ref *SymbolReference) *Node {
    return self.NewSymNode(LoadOpFor(ref.sym.Type), ref)
}

// NewStore creates a direct store of v into the symbol ref names.
func (self *Compilation) NewStore(ref *SymbolReference, v *Node) *Node {
    return self.NewSymNode(StoreOpFor(ref.sym.Type), ref, v)
}

// NewTreeTopNode wraps v into a treetop node.
func (self *Compilation) NewTreeTopNode(v *Node) *Node {
    return self.NewNode(OP_treetop, v)
}

// NewAuto creates an auto symbol in the given slot of method and registers a reference to it.
func (self *Compilation) NewAuto(method *MethodSymbol, name string, dt DataType, slot int32) *SymbolReference {
    ref := self.symrefs.Create(&Symbol { Name: name, Kind: S_auto, Type: dt, Slot: slot }, method)
    method.AddAutoSymRef(ref)
    return ref
}

// NewParm creates a parameter symbol in the given slot of method.
func (self *Compilation) NewParm(method *MethodSymbol, name string, dt DataType, slot int32) *SymbolReference {
    ref := self.symrefs.Create(&Symbol { Name: name, Kind: S_parm, Type: dt, Slot: slot }, method)
    method.AddAutoSymRef(ref)
    return ref
}

// NewStatic creates a static field symbol.
func (self *Compilation) NewStatic(name string, dt DataType) *SymbolReference {
    return self.symrefs.Create(&Symbol { Name: name, Kind: S_static, Type: dt }, nil)
}

// NewShadow creates an instance field symbol accessed through indirect loads and stores.
func (self *Compilation) NewShadow(name string, dt DataType) *SymbolReference {
    return self.symrefs.Create(&Symbol { Name: name, Kind: S_shadow, Type: dt }, nil)
}

// NewMethodRef creates a reference to a callee.
func (self *Compilation) NewMethodRef(callee *MethodSymbol) *SymbolReference {
    return self.symrefs.Create(callee.sym, nil)
}
