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

type SymbolKind uint8

const (
    S_auto SymbolKind = iota
    S_parm
    S_static
    S_shadow
    S_method
    S_label
)

type SymbolFlags uint8

const (
    SF_Volatile SymbolFlags = 1 << iota
    SF_AddressTaken
    SF_SideEffectFree
    SF_InternalPointer
)

// Symbol is the storage location or callee a symbol reference names.
//
// For autos and parameters, Slot is the interpreter slot index. Pending push
// temporaries are autos with negative slot numbers.
type Symbol struct {
    Name   string
    Kind   SymbolKind
    Type   DataType
    Flags  SymbolFlags
    Slot   int32
    Offset int32
    Method *MethodSymbol
}

func (self *Symbol) IsAuto() bool        { return self.Kind == S_auto }
func (self *Symbol) IsParm() bool        { return self.Kind == S_parm }
func (self *Symbol) IsAutoOrParm() bool  { return self.Kind == S_auto || self.Kind == S_parm }
func (self *Symbol) IsStatic() bool      { return self.Kind == S_static }
func (self *Symbol) IsShadow() bool      { return self.Kind == S_shadow }
func (self *Symbol) IsMethod() bool      { return self.Kind == S_method }
func (self *Symbol) IsPendingPush() bool { return self.Kind == S_auto && self.Slot < 0 }
func (self *Symbol) IsVolatile() bool    { return self.Flags & SF_Volatile != 0 }
func (self *Symbol) IsAddressTaken() bool { return self.Flags & SF_AddressTaken != 0 }

// IsSideEffectFree reports method symbols whose calls can be dropped when the result is unused.
func (self *Symbol) IsSideEffectFree() bool {
    return self.Kind == S_method && self.Flags & SF_SideEffectFree != 0
}

// Size returns the number of bytes the symbol occupies in the frame.
func (self *Symbol) Size() int32 {
    return self.Type.Size()
}

func (self *Symbol) TakesTwoSlots() bool {
    return self.Type.TakesTwoSlots()
}

func (self *Symbol) String() string {
    switch self.Kind {
        case S_auto   : return fmt.Sprintf("<auto %s slot=%d %s>", self.Name, self.Slot, self.Type)
        case S_parm   : return fmt.Sprintf("<parm %s slot=%d %s>", self.Name, self.Slot, self.Type)
        case S_static : return fmt.Sprintf("<static %s %s>", self.Name, self.Type)
        case S_shadow : return fmt.Sprintf("<shadow %s %s>", self.Name, self.Type)
        case S_method : return fmt.Sprintf("<method %s>", self.Name)
        default       : return fmt.Sprintf("<label %s>", self.Name)
    }
}

// SymbolReference is a numbered use of a symbol within one compilation.
type SymbolReference struct {
    num        int32
    sym        *Symbol
    owner      *MethodSymbol
    unresolved bool
}

func (self *SymbolReference) Number() int32 { return self.num }
func (self *SymbolReference) Symbol() *Symbol { return self.sym }
func (self *SymbolReference) Owner() *MethodSymbol { return self.owner }
func (self *SymbolReference) IsUnresolved() bool { return self.unresolved }
func (self *SymbolReference) SetUnresolved(v bool) { self.unresolved = v }

func (self *SymbolReference) String() string {
    return fmt.Sprintf("#%d%s", self.num, self.sym)
}

type Helper int32

const (
    H_prepareForOSR Helper = iota
    H_induceOSRAtCurrentPC
    H_osrReturnAddress
    H_vmThread
    _H_max
)

var _HelperNames = [...]string {
    H_prepareForOSR        : "prepareForOSR",
    H_induceOSRAtCurrentPC : "induceOSRAtCurrentPC",
    H_osrReturnAddress     : "osrReturnAddress",
    H_vmThread             : "vmThread",
}

func (self Helper) String() string {
    return _HelperNames[self]
}

// SymbolReferenceTable owns every symbol reference of a compilation. The first
// entries are reserved for runtime helpers so that their numbers are fixed.
type SymbolReferenceTable struct {
    refs []*SymbolReference
}

func NewSymbolReferenceTable() *SymbolReferenceTable {
    ret := new(SymbolReferenceTable)
    ret.refs = make([]*SymbolReference, 0, 64)

    /* reserve the helpers */
    for h := Helper(0); h < _H_max; h++ {
        switch h {
            case H_osrReturnAddress : ret.Create(&Symbol { Name: h.String(), Kind: S_static, Type: Address }, nil)
            case H_vmThread         : ret.Create(&Symbol { Name: h.String(), Kind: S_static, Type: Address }, nil)
            default                 : ret.Create(&Symbol { Name: h.String(), Kind: S_method, Type: NoType }, nil)
        }
    }
    return ret
}

// Create allocates a new reference to sym, owned by method (which may be nil for globals).
func (self *SymbolReferenceTable) Create(sym *Symbol, method *MethodSymbol) *SymbolReference {
    ref := &SymbolReference {
        num   : int32(len(self.refs)),
        sym   : sym,
        owner : method,
    }
    self.refs = append(self.refs, ref)
    return ref
}

func (self *SymbolReferenceTable) Helper(h Helper) *SymbolReference {
    return self.refs[h]
}

func (self *SymbolReferenceTable) IsHelper(ref *SymbolReference, h Helper) bool {
    return ref != nil && ref.num == int32(h)
}

func (self *SymbolReferenceTable) Get(num int32) *SymbolReference {
    if num < 0 || int(num) >= len(self.refs) {
        return nil
    } else {
        return self.refs[num]
    }
}

func (self *SymbolReferenceTable) Size() int {
    return len(self.refs)
}

// ForEach iterates over every non-helper reference in creation order.
func (self *SymbolReferenceTable) ForEach(fn func(ref *SymbolReference)) {
    for _, ref := range self.refs[_H_max:] {
        fn(ref)
    }
}
