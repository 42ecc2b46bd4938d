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

package vp

import (
    `github.com/cloudwego/treejit/internal/il`
)

type Effects uint8

const (
    E_SideEffect Effects = 1 << iota
    E_RaisesException
    E_CanGCandReturn
)

type _Rule func(n *il.Node) Effects

var _Rules [il.OpCount]_Rule

func rule(fn _Rule, ops ...il.OpCode) {
    for _, op := range ops {
        _Rules[op] = fn
    }
}

func always(e Effects) _Rule {
    return func(*il.Node) Effects { return e }
}

func init() {
    for op := il.OpCode(0); int(op) < il.OpCount; op++ {
        switch {
            case op.IsCall()            : rule(callEffects, op)
            case op.IsNew()             : rule(always(E_RaisesException | E_CanGCandReturn), op)
            case op.IsStore()           : rule(storeEffects, op)
            case op.IsStoreReg()        : rule(always(E_SideEffect), op)
            case op.IsLoadVar()         : rule(resolveEffects, op)
            case op.IsDiv(), op.IsRem() : rule(divEffects, op)
            case op.IsReturn()          : rule(always(E_SideEffect), op)
            case op.IsThrow()           : rule(always(E_SideEffect | E_RaisesException), op)
            case op.IsCheck()           : rule(always(E_RaisesException), op)
        }
    }

    /* special cases */
    rule(always(E_RaisesException | E_CanGCandReturn), il.OP_asynccheck, il.OP_ResolveCHK, il.OP_ResolveAndNULLCHK)
    rule(always(E_RaisesException | E_CanGCandReturn), il.OP_checkcast, il.OP_instanceof)
    rule(always(E_SideEffect), il.OP_Prefetch, il.OP_igoto)
}

func callEffects(n *il.Node) Effects {
    if sym := n.Symbol(); sym != nil && sym.IsSideEffectFree() && !n.HasUnresolvedSymbolReference() {
        return E_CanGCandReturn
    } else {
        return E_SideEffect | E_RaisesException | E_CanGCandReturn
    }
}

func storeEffects(n *il.Node) Effects {
    if n.HasUnresolvedSymbolReference() {
        return E_SideEffect | E_RaisesException | E_CanGCandReturn
    } else {
        return E_SideEffect
    }
}

func resolveEffects(n *il.Node) Effects {
    if n.HasUnresolvedSymbolReference() {
        return E_RaisesException | E_CanGCandReturn
    } else {
        return 0
    }
}

func divEffects(n *il.Node) Effects {
    if n.DataType().IsFloatingPoint() {
        return 0
    }

    /* constant non-zero divisors never trap */
    if d := n.SecondChild(); d.Op().IsLoadConst() && d.Long() != 0 {
        return 0
    } else {
        return E_RaisesException
    }
}

// Oracle answers effect queries from the per-opcode rules.
type Oracle struct{}

// EffectsOf returns the effects of evaluating n itself, not counting its children.
func (Oracle) EffectsOf(n *il.Node) Effects {
    if fn := _Rules[n.Op()]; fn == nil {
        return 0
    } else {
        return fn(n)
    }
}

// IsSideEffectFree reports calls whose result may be discarded along with the call.
func (self Oracle) IsSideEffectFree(call *il.Node) bool {
    return call.Op().IsCall() && self.EffectsOf(call) & E_SideEffect == 0
}

func (self Oracle) HasSideEffect(n *il.Node) bool {
    return self.EffectsOf(n) & E_SideEffect != 0
}

func (self Oracle) ExceptionsRaised(n *il.Node) bool {
    return self.EffectsOf(n) & E_RaisesException != 0
}

func (self Oracle) CanGCandReturn(n *il.Node) bool {
    return self.EffectsOf(n) & E_CanGCandReturn != 0
}
