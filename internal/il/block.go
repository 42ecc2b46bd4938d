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
)

type BlockFlags uint16

const (
    BF_Cold BlockFlags = 1 << iota
    BF_Extension
    BF_OSRCodeBlock
    BF_OSRCatchBlock
    BF_CanCatchOSR
    BF_DoNotProfile
    BF_Removed
)

// Block is a basic block: a BBStart tree, a sequence of real trees and a BBEnd tree.
// The artificial entry and exit blocks of a CFG carry no trees at all.
type Block struct {
    Number  int
    StartPC int32
    flags   BlockFlags
    entry   *TreeTop
    exit    *TreeTop
    succ    []*Edge
    pred    []*Edge
    excSucc []*Edge
    excPred []*Edge
}

// Edge connects two blocks, either by normal control flow or by an exception.
type Edge struct {
    From      *Block
    To        *Block
    Exception bool
}

func (self *Edge) String() string {
    return fmt.Sprintf("bb_%d -> bb_%d", self.From.Number, self.To.Number)
}

// NewBlock creates a block with its BBStart and BBEnd trees linked together.
func NewBlock(comp *Compilation, bci ByteCodeInfo) *Block {
    ret := &Block { StartPC: -1 }
    start := comp.NewNode(OP_BBStart)
    end := comp.NewNode(OP_BBEnd)

    /* link the fences */
    start.block, end.block = ret, ret
    start.bci, end.bci = bci, bci
    ret.entry, ret.exit = NewTreeTop(start), NewTreeTop(end)
    Join(ret.entry, ret.exit)
    return ret
}

func (self *Block) Entry() *TreeTop                { return self.entry }
func (self *Block) Exit() *TreeTop                 { return self.exit }
func (self *Block) Successors() []*Edge            { return self.succ }
func (self *Block) Predecessors() []*Edge          { return self.pred }
func (self *Block) ExceptionSuccessors() []*Edge   { return self.excSucc }
func (self *Block) ExceptionPredecessors() []*Edge { return self.excPred }

func (self *Block) hasFlag(f BlockFlags) bool { return self.flags & f != 0 }
func (self *Block) setFlag(f BlockFlags, v bool) {
    if v {
        self.flags |= f
    } else {
        self.flags &^= f
    }
}

func (self *Block) IsCold() bool                          { return self.hasFlag(BF_Cold) }
func (self *Block) IsExtensionOfPreviousBlock() bool      { return self.hasFlag(BF_Extension) }
func (self *Block) IsOSRCodeBlock() bool                  { return self.hasFlag(BF_OSRCodeBlock) }
func (self *Block) IsOSRCatchBlock() bool                 { return self.hasFlag(BF_OSRCatchBlock) }
func (self *Block) CanCatchOSR() bool                     { return self.hasFlag(BF_CanCatchOSR) }
func (self *Block) IsDoNotProfile() bool                  { return self.hasFlag(BF_DoNotProfile) }
func (self *Block) IsRemoved() bool                       { return self.hasFlag(BF_Removed) }
func (self *Block) SetIsCold(v bool)                      { self.setFlag(BF_Cold, v) }
func (self *Block) SetIsExtensionOfPreviousBlock(v bool)  { self.setFlag(BF_Extension, v) }
func (self *Block) SetIsOSRCodeBlock(v bool)              { self.setFlag(BF_OSRCodeBlock, v) }
func (self *Block) SetIsOSRCatchBlock(v bool)             { self.setFlag(BF_OSRCatchBlock, v) }
func (self *Block) SetCanCatchOSR(v bool)                 { self.setFlag(BF_CanCatchOSR, v) }
func (self *Block) SetDoNotProfile(v bool)                { self.setFlag(BF_DoNotProfile, v) }

// IsArtificial reports the entry and exit blocks of the CFG, which own no trees.
func (self *Block) IsArtificial() bool {
    return self.entry == nil
}

// FirstRealTreeTop returns the first tree after BBStart, which is the BBEnd for empty blocks.
func (self *Block) FirstRealTreeTop() *TreeTop {
    return self.entry.next
}

// LastRealTreeTop returns the last tree before BBEnd, which is the BBStart for empty blocks.
func (self *Block) LastRealTreeTop() *TreeTop {
    return self.exit.prev
}

// IsEmpty reports blocks with nothing between BBStart and BBEnd.
func (self *Block) IsEmpty() bool {
    return self.entry.next == self.exit
}

// NextBlock returns the block laid out immediately after this one, if any.
func (self *Block) NextBlock() *Block {
    if self.exit == nil || self.exit.next == nil {
        return nil
    } else {
        return self.exit.next.node.block
    }
}

// ExtendedBlockExit returns the BBEnd tree of the last block that extends this one.
func (self *Block) ExtendedBlockExit() *TreeTop {
    bb := self
    for next := bb.NextBlock(); next != nil && next.IsExtensionOfPreviousBlock(); next = bb.NextBlock() {
        bb = next
    }
    return bb.exit
}

// Append inserts tt right before the BBEnd of the block.
func (self *Block) Append(tt *TreeTop) *TreeTop {
    self.exit.InsertBefore(tt)
    return tt
}

// Prepend inserts tt right after the BBStart of the block.
func (self *Block) Prepend(tt *TreeTop) *TreeTop {
    self.entry.InsertAfter(tt)
    return tt
}

// IsGotoBlock reports blocks consisting of a single goto.
func (self *Block) IsGotoBlock() bool {
    return !self.IsArtificial() && !self.IsEmpty() && self.FirstRealTreeTop() == self.LastRealTreeTop() && self.FirstRealTreeTop().node.op == OP_Goto
}

// HasSuccessor checks for a normal edge to bb.
func (self *Block) HasSuccessor(bb *Block) bool {
    for _, e := range self.succ {
        if e.To == bb {
            return true
        }
    }
    return false
}

// ForEachTree calls fn for every real tree of the block, allowing fn to remove the tree it is given.
func (self *Block) ForEachTree(fn func(tt *TreeTop)) {
    if self.IsArtificial() {
        return
    }
    for tt := self.entry.next; tt != nil && tt != self.exit; {
        next := tt.next
        fn(tt)
        tt = next
    }
}

func (self *Block) String() string {
    return fmt.Sprintf("bb_%d", self.Number)
}
