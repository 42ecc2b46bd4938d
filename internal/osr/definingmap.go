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
    `fmt`
    `strings`

    `github.com/bits-and-blooms/bitset`
    `github.com/cloudwego/treejit/internal/il`
    `github.com/oleiade/lane`
    `golang.org/x/exp/maps`
    `golang.org/x/exp/slices`
)

// DefiningMap maps a symbol reference number to the set of symbol reference
// numbers currently holding its value.
type DefiningMap map[int32]*bitset.BitSet

// Clone returns a deep copy of the map.
func (self DefiningMap) Clone() DefiningMap {
    ret := make(DefiningMap, len(self))
    for k, v := range self {
        ret[k] = v.Clone()
    }
    return ret
}

// Resolve replaces every symbol of syms that has an entry in the map by the
// symbols defining it. The result is a new set.
func (self DefiningMap) Resolve(syms *bitset.BitSet) *bitset.BitSet {
    ret := bitset.New(syms.Len())
    for i, ok := syms.NextSet(0); ok; i, ok = syms.NextSet(i + 1) {
        if defs, found := self[int32(i)]; found {
            ret.InPlaceUnion(defs)
        } else {
            ret.Set(i)
        }
    }
    return ret
}

// MergeDefiningMaps returns a new map holding the entries of first, plus the
// entries of second resolved through first. second describes code that runs
// after the code first describes.
func MergeDefiningMaps(first DefiningMap, second DefiningMap) DefiningMap {
    ret := first.Clone()
    for k, v := range second {
        ret[k] = first.Resolve(v)
    }
    return ret
}

func (self DefiningMap) String() string {
    keys := maps.Keys(self)
    slices.Sort(keys)
    buf := make([]string, len(keys))
    for i, k := range keys {
        buf[i] = fmt.Sprintf("#%d -> %s", k, self[k])
    }
    return "{" + strings.Join(buf, ", ") + "}"
}

// collectSubTreeSymRefs adds the auto and parameter symbols loaded anywhere in the subtree of n.
func collectSubTreeSymRefs(n *il.Node, syms *bitset.BitSet, seen *il.NodeChecklist) {
    if !seen.Add(n) {
        return
    }
    if n.Op().IsLoadVarDirect() && n.Symbol().IsAutoOrParm() {
        syms.Set(uint(n.SymRef().Number()))
    }
    for _, v := range n.Children() {
        if v != nil {
            collectSubTreeSymRefs(v, syms, seen)
        }
    }
}

func storeOf(n *il.Node) *il.Node {
    if n.Op().IsTreeTop() || n.Op().IsCheck() {
        if n.NumChildren() == 0 {
            return nil
        }
        n = n.FirstChild()
    }
    if n.Op().IsStoreDirect() && n.Symbol().IsAutoOrParm() {
        return n
    } else {
        return nil
    }
}

// buildBlockDefiningMap records, for every store to an auto or parameter in
// the block, the symbols its value was computed from.
func (self *MethodData) buildBlockDefiningMap(bb *il.Block, defs DefiningMap) {
    bb.ForEachTree(func(tt *il.TreeTop) {
        if st := storeOf(tt.Node()); st != nil {
            syms := bitset.New(0)
            collectSubTreeSymRefs(st.FirstChild(), syms, il.NewNodeChecklist(self.owner.comp))
            defs[st.SymRef().Number()] = defs.Resolve(syms)
        }
    })
}

// buildCodeBlockDefiningMap is like buildBlockDefiningMap for the OSR code
// block, and also records the symbols defining each load passed to the
// prepareForOSR helper call.
func (self *MethodData) buildCodeBlockDefiningMap(bb *il.Block, defs DefiningMap, prepare DefiningMap) {
    tab := self.owner.comp.SymRefTab()

    /* scan every tree of the block */
    bb.ForEachTree(func(tt *il.TreeTop) {
        n := tt.Node()
        if st := storeOf(n); st != nil {
            syms := bitset.New(0)
            collectSubTreeSymRefs(st.FirstChild(), syms, il.NewNodeChecklist(self.owner.comp))
            defs[st.SymRef().Number()] = defs.Resolve(syms)
            return
        }

        /* find the helper call */
        if n.Op().IsTreeTop() && n.NumChildren() != 0 {
            n = n.FirstChild()
        }
        if !n.Op().IsCall() || !tab.IsHelper(n.SymRef(), il.H_prepareForOSR) {
            return
        }

        /* every load passed to the helper */
        for _, v := range n.Children() {
            if v.Op().IsLoadVarDirect() && v.Symbol().IsAutoOrParm() {
                syms := bitset.New(0)
                collectSubTreeSymRefs(v, syms, il.NewNodeChecklist(self.owner.comp))
                prepare[v.SymRef().Number()] = defs.Resolve(syms)
            }
        }
    })
}

// BuildDefiningMap builds the defining map of every frame that still has
// both of its OSR blocks, composing the maps of the frame and of all its
// callers. Frames are processed from the innermost inlinee outwards.
func (self *CompilationData) BuildDefiningMap() {
    nb := len(self.methods)
    catches := make([]DefiningMap, nb)
    codes := make([]DefiningMap, nb)
    prepares := make([]DefiningMap, nb)

    /* block scoped maps */
    for i, md := range self.methods {
        if md == nil || md.OSRCodeBlock() == nil || md.OSRCatchBlock() == nil {
            continue
        }
        catches[i] = make(DefiningMap)
        codes[i] = make(DefiningMap)
        prepares[i] = make(DefiningMap)
        md.buildBlockDefiningMap(md.OSRCatchBlock(), catches[i])
        md.buildCodeBlockDefiningMap(md.OSRCodeBlock(), codes[i], prepares[i])
    }

    /* compose along the caller chain, leaves first */
    for _, i := range self.leafToRoot() {
        if catches[i] != nil {
            md := self.methods[i]
            md.defs = self.buildFinalMap(int32(i) - 1, catches[i], codes, prepares)
            if self.comp.Tracing("osr") {
                self.comp.Log().Debug("final defining map", "site", md.site, "map", md.defs.String())
            }
        }
    }
}

// buildFinalMap walks from site to the root method. The working map carries
// the definitions made before the code block of the current frame. The
// prepareForOSR arguments of a frame are already resolved through its own code
// block, so they are resolved through the working map before that code block
// is merged into it.
func (self *CompilationData) buildFinalMap(site int32, working DefiningMap, codes []DefiningMap, prepares []DefiningMap) DefiningMap {
    final := make(DefiningMap)
    for {
        idx := site + 1
        if int(idx) < len(prepares) && prepares[idx] != nil {
            for k, v := range prepares[idx] {
                final[k] = working.Resolve(v)
            }
        }
        if int(idx) < len(codes) && codes[idx] != nil {
            working = MergeDefiningMaps(working, codes[idx])
        }
        if site == -1 {
            return final
        }
        site = self.comp.InlinedCallSite(site).ByteCodeInfo.CallerIndex
    }
}

// leafToRoot orders the array indices of the frames so that every inlinee
// comes before the frame that inlined it.
func (self *CompilationData) leafToRoot() []int {
    nb := self.comp.NumInlinedCallSites()
    callees := make(map[int32][]int32, nb)
    for i := 0; i < nb; i++ {
        caller := self.comp.InlinedCallSite(int32(i)).ByteCodeInfo.CallerIndex
        callees[caller] = append(callees[caller], int32(i))
    }

    /* breadth-first from the root method */
    q := lane.NewQueue()
    ret := make([]int, 0, nb + 1)
    for q.Enqueue(int32(-1)); !q.Empty(); {
        site := q.Dequeue().(int32)
        if idx := int(site) + 1; idx < len(self.methods) {
            ret = append(ret, idx)
        }
        for _, v := range callees[site] {
            q.Enqueue(v)
        }
    }

    /* reverse it */
    for i, j := 0, len(ret) - 1; i < j; i, j = i + 1, j - 1 {
        ret[i], ret[j] = ret[j], ret[i]
    }
    return ret
}

// LiveSymbols resolves the symbols live at a transition of this frame through
// the final defining map. Symbols the map knows nothing about are not passed
// to the transition and contribute nothing.
func (self *MethodData) LiveSymbols(live *bitset.BitSet) *bitset.BitSet {
    ret := bitset.New(live.Len())
    for i, ok := live.NextSet(0); ok; i, ok = live.NextSet(i + 1) {
        if defs, found := self.defs[int32(i)]; found {
            ret.InPlaceUnion(defs)
        }
    }
    return ret
}
