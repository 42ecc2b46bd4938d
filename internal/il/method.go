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

// MethodSymbol describes a method being compiled, either the root method or an inlinee.
type MethodSymbol struct {
    Name              string
    NumParameterSlots int32
    NumTemps          int32
    FirstJitTempIndex int32
    sym               *Symbol
    cfg               *CFG
    first             *TreeTop
    sync              *SymbolReference
    autos             [][]*SymbolReference
    pps               [][]*SymbolReference
}

// NewMethodSymbol creates a method with the given number of parameter and
// interpreter temp slots. Slots at or above the first JIT temp index only
// exist in compiled code.
func NewMethodSymbol(name string, params int32, temps int32) *MethodSymbol {
    ret := &MethodSymbol {
        Name              : name,
        NumParameterSlots : params,
        NumTemps          : temps,
        FirstJitTempIndex : params + temps,
    }
    ret.sym = &Symbol { Name: name, Kind: S_method, Method: ret }
    return ret
}

func (self *MethodSymbol) Symbol() *Symbol           { return self.sym }
func (self *MethodSymbol) FlowGraph() *CFG           { return self.cfg }
func (self *MethodSymbol) FirstTreeTop() *TreeTop    { return self.first }
func (self *MethodSymbol) SetFirstTreeTop(tt *TreeTop) { self.first = tt }
func (self *MethodSymbol) SyncObjectTemp() *SymbolReference { return self.sync }

func (self *MethodSymbol) SetSideEffectFree(v bool) {
    if v {
        self.sym.Flags |= SF_SideEffectFree
    } else {
        self.sym.Flags &^= SF_SideEffectFree
    }
}

func (self *MethodSymbol) SetSyncObjectTemp(ref *SymbolReference) {
    self.sync = ref
}

// NumSyncSlots is 1 for synchronized methods that keep the monitor object in a temp.
func (self *MethodSymbol) NumSyncSlots() int32 {
    if self.sync != nil {
        return 1
    } else {
        return 0
    }
}

func (self *MethodSymbol) NumPendingPushSlots() int32 {
    return int32(len(self.pps))
}

// AddAutoSymRef registers ref under its slot. Negative slots are pending pushes.
func (self *MethodSymbol) AddAutoSymRef(ref *SymbolReference) {
    if slot := ref.sym.Slot; slot < 0 {
        self.pps = appendSlot(self.pps, int(-slot - 1), ref)
    } else {
        self.autos = appendSlot(self.autos, int(slot), ref)
    }
}

func appendSlot(tab [][]*SymbolReference, idx int, ref *SymbolReference) [][]*SymbolReference {
    for len(tab) <= idx {
        tab = append(tab, nil)
    }
    tab[idx] = append(tab[idx], ref)
    return tab
}

// AutoSymRefs returns the slot lists of autos and parameters, indexed by slot.
func (self *MethodSymbol) AutoSymRefs() [][]*SymbolReference {
    return self.autos
}

// PendingPushSymRefs returns the slot lists of pending pushes, indexed by -slot-1.
func (self *MethodSymbol) PendingPushSymRefs() [][]*SymbolReference {
    return self.pps
}

func (self *MethodSymbol) slotList(slot int32) ([][]*SymbolReference, int) {
    if slot < 0 {
        return self.pps, int(-slot - 1)
    } else {
        return self.autos, int(slot)
    }
}

// SymRefsInSlot returns every reference sharing the slot.
func (self *MethodSymbol) SymRefsInSlot(slot int32) []*SymbolReference {
    if tab, idx := self.slotList(slot); idx < len(tab) {
        return tab[idx]
    } else {
        return nil
    }
}

// SharesStackSlot reports whether ref may overlap with another symbol in the
// interpreter frame, either directly or through a neighbouring two-slot value.
func (self *MethodSymbol) SharesStackSlot(ref *SymbolReference) bool {
    slot := ref.sym.Slot
    tab, idx := self.slotList(slot)

    /* JIT temps have no interpreter counterpart */
    if slot >= self.FirstJitTempIndex || idx >= len(tab) {
        return false
    }

    /* more than one symbol in the same slot */
    if len(tab[idx]) > 1 {
        return true
    }

    /* a two-slot value in the previous slot spills into this one */
    if idx > 0 {
        for _, v := range tab[idx - 1] {
            if v.sym.TakesTwoSlots() {
                return true
            }
        }
    }

    /* this value spills into the next slot */
    return ref.sym.TakesTwoSlots() && idx + 1 < len(tab) && len(tab[idx + 1]) != 0
}

// SharesStackSlots reports whether any symbol of the method shares a slot.
func (self *MethodSymbol) SharesStackSlots() bool {
    for _, tab := range [2][][]*SymbolReference { self.pps, self.autos } {
        for _, refs := range tab {
            for _, ref := range refs {
                if self.SharesStackSlot(ref) {
                    return true
                }
            }
        }
    }
    return false
}

func (self *MethodSymbol) String() string {
    return fmt.Sprintf("%s(params=%d,temps=%d)", self.Name, self.NumParameterSlots, self.NumTemps)
}

// ByteCodeInfo locates a node in the bytecode of the method it was generated from.
// CallerIndex is -1 for the root method, otherwise the inlined call site index.
type ByteCodeInfo struct {
    CallerIndex   int32
    ByteCodeIndex int32
}

func (self ByteCodeInfo) String() string {
    return fmt.Sprintf("<%d,%d>", self.CallerIndex, self.ByteCodeIndex)
}

// InlinedCallSite records an inlined method and the location of its call in the caller.
type InlinedCallSite struct {
    Method       *MethodSymbol
    ByteCodeInfo ByteCodeInfo
}
