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
    `context`
    `fmt`

    `github.com/cloudwego/treejit/internal/il`
    `github.com/cloudwego/treejit/internal/vp`
)

type Kind uint8

const (
    DeadTreesElimination Kind = iota
    IsolatedStoreElimination
    TreeSimplification
    RedundantGotoElimination
    CatchBlockRemoval
    _K_max
)

// NumKinds is the number of pass kinds.
const NumKinds = int(_K_max)

var _KindNames = [...]string {
    DeadTreesElimination     : "deadTrees",
    IsolatedStoreElimination : "isolatedStores",
    TreeSimplification       : "treeSimplification",
    RedundantGotoElimination : "redundantGoto",
    CatchBlockRemoval        : "catchBlockRemoval",
}

func (self Kind) String() string {
    if self < _K_max {
        return _KindNames[self]
    } else {
        return fmt.Sprintf("Kind(%d)", self)
    }
}

// Oracle answers the effect queries both elimination passes depend on.
type Oracle interface {
    IsSideEffectFree(call *il.Node) bool
    HasSideEffect(n *il.Node) bool
    ExceptionsRaised(n *il.Node) bool
    CanGCandReturn(n *il.Node) bool
}

// Pass is a single optimization. Perform returns the number of transformations.
type Pass interface {
    Perform(m *Manager) int
}

// BlockPass is a pass that can also run incrementally, on the extended
// blocks starting at the given blocks.
type BlockPass interface {
    Pass
    PerformOnBlocks(m *Manager, blocks []*il.Block) int
}

type PassDescriptor struct {
    Pass   Pass
    Name   string
    Kind   Kind
    UseDef bool
}

var Passes = [...]PassDescriptor {
    { Name: "Dead Trees Elimination"     , Kind: DeadTreesElimination     , Pass: DeadTrees{} },
    { Name: "Isolated Store Elimination" , Kind: IsolatedStoreElimination , Pass: IsolatedStores{}, UseDef: true },
    { Name: "Catch Block Removal"        , Kind: CatchBlockRemoval        , Pass: CatchBlocks{} },
    { Name: "Dead Trees Elimination"     , Kind: DeadTreesElimination     , Pass: DeadTrees{} },
}

// maxFollowOnRounds bounds how many times requested passes are re-run after the main list.
const maxFollowOnRounds = 4

type request struct {
    method bool
    blocks map[*il.Block]struct{}
}

// Stats counts what the passes did and asked for during one compilation.
type Stats struct {
    Performed [_K_max]int
    Requested [_K_max]int
}

// Manager runs passes over one compilation and keeps the state they share:
// the effect oracle, the use-def info and the follow-on requests.
type Manager struct {
    comp   *il.Compilation
    oracle Oracle
    usedef *UseDefInfo
    reqs   [_K_max]request
    stats  Stats
}

// NewManager creates a manager for comp. A nil oracle selects the default per-opcode oracle.
func NewManager(comp *il.Compilation, oracle Oracle) *Manager {
    if oracle == nil {
        oracle = vp.Oracle{}
    }
    return &Manager {
        comp   : comp,
        oracle : oracle,
    }
}

func (self *Manager) Compilation() *il.Compilation { return self.comp }
func (self *Manager) Oracle() Oracle               { return self.oracle }
func (self *Manager) UseDefInfo() *UseDefInfo      { return self.usedef }
func (self *Manager) Stats() Stats                 { return self.stats }

// BuildUseDefInfo computes the use-def info for the current trees, replacing any previous one.
func (self *Manager) BuildUseDefInfo() *UseDefInfo {
    self.usedef = BuildUseDefInfo(self.comp)
    return self.usedef
}

// canBuildUseDefInfo refuses huge methods, passes fall back to their local analyses.
func (self *Manager) canBuildUseDefInfo() bool {
    return self.comp.Options.ProcessHugeMethods || self.comp.NodeCount() <= _NodeCountLimit
}

func (self *Manager) InvalidateUseDefInfo() {
    if self.usedef != nil {
        self.usedef.invalidate()
        self.usedef = nil
    }
}

// RequestOpt asks for kind to run again, on bb only, or on the whole method if bb is nil.
func (self *Manager) RequestOpt(kind Kind, bb *il.Block) {
    r := &self.reqs[kind]
    self.stats.Requested[kind]++

    /* whole method requests cover every block */
    if bb == nil {
        r.method = true
        return
    }

    /* record the block */
    if r.blocks == nil {
        r.blocks = make(map[*il.Block]struct{})
    }
    r.blocks[bb] = struct{}{}
}

// Requested checks for a pending request of kind.
func (self *Manager) Requested(kind Kind) bool {
    r := &self.reqs[kind]
    return r.method || len(r.blocks) != 0
}

// RequestedBlocks returns the blocks with a pending request of kind, in layout order.
func (self *Manager) RequestedBlocks(kind Kind) []*il.Block {
    return self.inLayoutOrder(self.reqs[kind].blocks)
}

func (self *Manager) inLayoutOrder(blocks map[*il.Block]struct{}) []*il.Block {
    var ret []*il.Block
    for _, bb := range self.comp.FlowGraph().LayoutOrder() {
        if _, ok := blocks[bb]; ok {
            ret = append(ret, bb)
        }
    }
    return ret
}

func (self *Manager) clearRequest(kind Kind) request {
    r := self.reqs[kind]
    self.reqs[kind] = request{}
    return r
}

func (self *Manager) tracing(kind Kind) bool {
    return self.comp.Tracing(kind.String())
}

func (self *Manager) trace(kind Kind, msg string, args ...any) {
    if self.tracing(kind) {
        self.comp.Log().Debug(msg, append([]any { "opt", kind.String() }, args...)...)
    }
}

// Perform runs the pass described by d once, over the whole method.
func (self *Manager) Perform(d PassDescriptor) int {
    return self.perform(d, request { method: true })
}

func (self *Manager) perform(d PassDescriptor, r request) int {
    var n int
    var blocks []*il.Block

    /* requests for this pass are satisfied by running it */
    self.clearRequest(d.Kind)
    if d.UseDef && self.usedef == nil && self.canBuildUseDefInfo() {
        self.BuildUseDefInfo()
    }

    /* run incrementally if only some blocks asked for it */
    if bp, ok := d.Pass.(BlockPass); ok && !r.method {
        blocks = self.inLayoutOrder(r.blocks)
        n = bp.PerformOnBlocks(self, blocks)
    } else {
        n = d.Pass.Perform(self)
    }

    /* update the stats */
    self.stats.Performed[d.Kind] += n
    self.trace(d.Kind, "pass done", "name", d.Name, "blocks", len(blocks), "transformations", n)
    return n
}

// Optimize runs every pass of the list, then keeps running the requested
// follow-on passes until nothing more is requested.
func (self *Manager) Optimize(ctx context.Context) error {
    for _, p := range Passes {
        if err := ctx.Err(); err != nil {
            return err
        }
        self.Perform(p)
    }

    /* follow-on requests */
    for i := 0; i < maxFollowOnRounds; i++ {
        done := true
        for _, p := range Passes {
            if !self.Requested(p.Kind) {
                continue
            }
            if err := ctx.Err(); err != nil {
                return err
            }
            done = false
            self.perform(p, self.reqs[p.Kind])
        }
        if done {
            break
        }
    }
    return nil
}
