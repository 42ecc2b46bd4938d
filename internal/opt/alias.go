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
    `github.com/bits-and-blooms/bitset`
    `github.com/cloudwego/treejit/internal/il`
)

// aliases caches, per symbol, the numbers of every symbol reference naming it.
type aliases struct {
    comp    *il.Compilation
    bysym   map[*il.Symbol]*bitset.BitSet
    escaped *bitset.BitSet
}

func newAliases(comp *il.Compilation) *aliases {
    ret := &aliases {
        comp    : comp,
        bysym   : make(map[*il.Symbol]*bitset.BitSet),
        escaped : bitset.New(uint(comp.SymRefTab().Size())),
    }

    /* group the references by symbol */
    comp.SymRefTab().ForEach(func(ref *il.SymbolReference) {
        sym := ref.Symbol()
        set := ret.bysym[sym]

        /* one set per symbol */
        if set == nil {
            set = bitset.New(uint(comp.SymRefTab().Size()))
            ret.bysym[sym] = set
        }

        /* statics, fields and address-taken locals are visible to callees */
        set.Set(uint(ref.Number()))
        if sym.IsStatic() || sym.IsShadow() || (sym.IsAutoOrParm() && sym.IsAddressTaken()) {
            ret.escaped.Set(uint(ref.Number()))
        }
    })
    return ret
}

// MayKill returns the numbers of the symbol references whose value may
// change when n is evaluated. Only n itself is considered, not its children.
func (self *aliases) MayKill(n *il.Node, oracle Oracle) *bitset.BitSet {
    op := n.Op()
    switch {
        case op.IsStore() && n.Symbol() != nil: return self.bysym[n.Symbol()]
        case op.IsCall() && oracle.HasSideEffect(n): return self.escaped
        default: return nil
    }
}

// mayKillAny checks if evaluating n may change any of the references in syms.
func (self *aliases) mayKillAny(n *il.Node, oracle Oracle, syms *bitset.BitSet) bool {
    if set := self.MayKill(n, oracle); set == nil {
        return false
    } else {
        return set.IntersectionCardinality(syms) != 0
    }
}
