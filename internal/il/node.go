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
    `math`
)

type VisitCount uint32

// MaxVisitCount is the largest visit count a compilation can hand out before
// every node must be reset.
const MaxVisitCount VisitCount = math.MaxUint16

type NodeFlags uint16

const (
    NF_DontMoveUnderBranch NodeFlags = 1 << iota
    NF_InternalPointer
    NF_DontEliminateStores
    NF_StoredValueIsIrrelevant
    NF_AllocationCanBeRemoved
)

// Node is a single operation in an expression tree. Nodes may be referenced by
// more than one parent (commoning), which is tracked by the reference count.
type Node struct {
    op       OpCode
    flags    NodeFlags
    index    int32
    refs     int32
    future   int32
    visit    VisitCount
    udi      int32
    regno    int32
    value    int64
    fvalue   float64
    bci      ByteCodeInfo
    symref   *SymbolReference
    block    *Block
    target   *TreeTop
    children []*Node
}

func (self *Node) Op() OpCode                 { return self.op }
func (self *Node) Index() int32               { return self.index }
func (self *Node) DataType() DataType         { return self.op.DataType() }
func (self *Node) RefCount() int32            { return self.refs }
func (self *Node) SetRefCount(v int32)        { self.refs = v }
func (self *Node) IncRefCount() int32         { self.refs++; return self.refs }
func (self *Node) FutureUseCount() int32      { return self.future }
func (self *Node) SetFutureUseCount(v int32)  { self.future = v }
func (self *Node) IncFutureUseCount() int32   { self.future++; return self.future }
func (self *Node) VisitCount() VisitCount     { return self.visit }
func (self *Node) SetVisitCount(v VisitCount) { self.visit = v }
func (self *Node) SymRef() *SymbolReference   { return self.symref }
func (self *Node) SetSymRef(v *SymbolReference) { self.symref = v }
func (self *Node) Block() *Block              { return self.block }
func (self *Node) SetBlock(v *Block)          { self.block = v }
func (self *Node) Target() *TreeTop           { return self.target }
func (self *Node) SetTarget(v *TreeTop)       { self.target = v }
func (self *Node) GlobalRegister() int32      { return self.regno }
func (self *Node) SetGlobalRegister(v int32)  { self.regno = v }
func (self *Node) ByteCodeInfo() ByteCodeInfo { return self.bci }
func (self *Node) SetByteCodeInfo(v ByteCodeInfo) { self.bci = v }

// DecRefCount decreases the reference count, never below zero.
func (self *Node) DecRefCount() int32 {
    if self.refs > 0 {
        self.refs--
    }
    return self.refs
}

// DecFutureUseCount decreases the future use count, never below zero.
func (self *Node) DecFutureUseCount() int32 {
    if self.future > 0 {
        self.future--
    }
    return self.future
}

// UseDefIndex returns the index of this node in the use/def numbering, or -1.
func (self *Node) UseDefIndex() int32 {
    return self.udi
}

func (self *Node) SetUseDefIndex(v int32) {
    self.udi = v
}

// Symbol returns the symbol the node references, if any.
func (self *Node) Symbol() *Symbol {
    if self.symref == nil {
        return nil
    } else {
        return self.symref.sym
    }
}

func (self *Node) Int() int32           { return int32(self.value) }
func (self *Node) Long() int64          { return self.value }
func (self *Node) Double() float64      { return self.fvalue }
func (self *Node) SetLong(v int64)      { self.value = v }
func (self *Node) SetDouble(v float64)  { self.fvalue = v }

func (self *Node) NumChildren() int       { return len(self.children) }
func (self *Node) Child(i int) *Node      { return self.children[i] }
func (self *Node) Children() []*Node      { return self.children }
func (self *Node) FirstChild() *Node      { return self.children[0] }
func (self *Node) SecondChild() *Node     { return self.children[1] }
func (self *Node) LastChild() *Node       { return self.children[len(self.children) - 1] }

// SetChild replaces the i-th child without touching any reference count.
func (self *Node) SetChild(i int, v *Node) {
    self.children[i] = v
}

// SetAndIncChild replaces the i-th child and increases the new child's reference count.
func (self *Node) SetAndIncChild(i int, v *Node) *Node {
    v.IncRefCount()
    self.children[i] = v
    return v
}

// AddChild appends v as the last child, increasing its reference count.
func (self *Node) AddChild(v *Node) {
    v.IncRefCount()
    self.children = append(self.children, v)
}

// RemoveChild detaches the i-th child and recursively decreases its reference count.
func (self *Node) RemoveChild(i int) {
    v := self.children[i]
    self.children = append(self.children[:i], self.children[i + 1:]...)
    v.RecursivelyDecRefCount()
}

// SetNumChildren truncates or extends the child list. New entries are nil.
func (self *Node) SetNumChildren(n int) {
    for len(self.children) < n {
        self.children = append(self.children, nil)
    }
    self.children = self.children[:n]
}

// RecursivelyDecRefCount decreases the reference count, and releases the
// references held by the children once the count drops to zero.
func (self *Node) RecursivelyDecRefCount() {
    if self.DecRefCount() == 0 {
        for _, v := range self.children {
            if v != nil {
                v.RecursivelyDecRefCount()
            }
        }
    }
}

// Recreate changes the opcode in place, keeping the children. The symbol
// reference is dropped if the new opcode has none.
func (self *Node) Recreate(op OpCode) {
    self.op = op
    self.udi = -1
    if !op.HasSymbolReference() {
        self.symref = nil
    }
}

func (self *Node) hasFlag(f NodeFlags) bool { return self.flags & f != 0 }
func (self *Node) setFlag(f NodeFlags, v bool) {
    if v {
        self.flags |= f
    } else {
        self.flags &^= f
    }
}

func (self *Node) IsDontMoveUnderBranch() bool          { return self.hasFlag(NF_DontMoveUnderBranch) }
func (self *Node) IsInternalPointer() bool              { return self.hasFlag(NF_InternalPointer) }
func (self *Node) DontEliminateStores() bool            { return self.hasFlag(NF_DontEliminateStores) }
func (self *Node) StoredValueIsIrrelevant() bool        { return self.hasFlag(NF_StoredValueIsIrrelevant) }
func (self *Node) IsAllocationCanBeRemoved() bool       { return self.hasFlag(NF_AllocationCanBeRemoved) }
func (self *Node) SetDontMoveUnderBranch(v bool)        { self.setFlag(NF_DontMoveUnderBranch, v) }
func (self *Node) SetInternalPointer(v bool)            { self.setFlag(NF_InternalPointer, v) }
func (self *Node) SetDontEliminateStores(v bool)        { self.setFlag(NF_DontEliminateStores, v) }
func (self *Node) SetStoredValueIsIrrelevant(v bool)    { self.setFlag(NF_StoredValueIsIrrelevant, v) }
func (self *Node) SetAllocationCanBeRemoved(v bool)     { self.setFlag(NF_AllocationCanBeRemoved, v) }
func (self *Node) ClearFlags()                          { self.flags = 0 }

// HasUnresolvedSymbolReference reports nodes that need runtime resolution before they execute.
func (self *Node) HasUnresolvedSymbolReference() bool {
    return self.symref != nil && self.symref.unresolved
}

// MightHaveVolatileSymbolReference reports nodes that access a volatile location.
func (self *Node) MightHaveVolatileSymbolReference() bool {
    return self.op.HasSymbolReference() && self.symref != nil && self.symref.sym.IsVolatile()
}

// ContainsNode reports whether v appears in the subtree rooted at this node.
// Subtrees already visited with vc are skipped.
func (self *Node) ContainsNode(v *Node, vc VisitCount) bool {
    if self == v {
        return true
    }
    if self.visit == vc {
        return false
    }
    self.visit = vc
    for _, ch := range self.children {
        if ch != nil && ch.ContainsNode(v, vc) {
            return true
        }
    }
    return false
}

func (self *Node) String() string {
    return fmt.Sprintf("n%dn", self.index)
}
