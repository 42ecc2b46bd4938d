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
)

// SlotInfo describes one live symbol in a shared slot at an OSR point.
// SymRefNum and SymRefOrder are both -1 for slots that must be zeroed.
type SlotInfo struct {
    Slot          int32
    SymRefNum     int32
    SymRefOrder   int32
    SymSize       int32
    TakesTwoSlots bool
}

// IsZeroed reports the sentinel written when two overlapping symbols are live at once.
func (self SlotInfo) IsZeroed() bool {
    return self.SymRefNum == -1
}

func (self SlotInfo) String() string {
    if self.TakesTwoSlots {
        return fmt.Sprintf("{%d, %d, %d, %d, two slots}", self.Slot, self.SymRefNum, self.SymRefOrder, self.SymSize)
    } else {
        return fmt.Sprintf("{%d, %d, %d, %d, one slot}", self.Slot, self.SymRefNum, self.SymRefOrder, self.SymSize)
    }
}

// SlotSharingInfo is the ordered list of live shared-slot symbols at one bytecode index.
type SlotSharingInfo struct {
    infos []SlotInfo
}

func (self *SlotSharingInfo) SlotInfos() []SlotInfo {
    return self.infos
}

// slotRange returns the first and last slot a value occupies. Pending push
// slots count downwards from -1, so their magnitude is used.
func slotRange(slot int32, twoSlots bool) (int32, int32) {
    if slot < 0 {
        slot = -slot
    }
    if twoSlots {
        return slot, slot + 1
    } else {
        return slot, slot
    }
}

// AddSlotInfo records that symRefNum is live in slot. A symbol overlapping an
// already recorded one turns that entry into a zeroed slot, keeping the
// larger of the two sizes.
func (self *SlotSharingInfo) AddSlotInfo(slot int32, symRefNum int32, symRefOrder int32, symSize int32, twoSlots bool) {
    found := false
    start1, end1 := slotRange(slot, twoSlots)

    /* check against every recorded symbol */
    for i := range self.infos {
        p := &self.infos[i]

        /* the very same symbol, nothing to add */
        if p.SymRefNum != -1 && p.Slot == slot && p.SymRefNum == symRefNum {
            if p.SymRefOrder != symRefOrder || p.SymSize != symSize {
                panic(fmt.Sprintf("osr: symref #%d recorded with order %d size %d, now order %d size %d", symRefNum, p.SymRefOrder, p.SymSize, symRefOrder, symSize))
            }
            found = true
        }

        /* pending pushes and locals never overlap each other */
        if p.SymRefNum == symRefNum || (slot < 0) != (p.Slot < 0) {
            continue
        }

        /* overlapping symbols, the slot must be zeroed */
        if start2, end2 := slotRange(p.Slot, p.TakesTwoSlots); start1 <= end2 && start2 <= end1 {
            found = true
            p.SymRefNum = -1
            p.SymRefOrder = -1
            /* slot, size and width stay those of one symbol, the OSR buffer offset depends on all three */
            if symSize > p.SymSize {
                p.Slot = slot
                p.SymSize = symSize
                p.TakesTwoSlots = twoSlots
            }
        }
    }

    /* not seen before */
    if !found {
        self.infos = append(self.infos, SlotInfo {
            Slot          : slot,
            SymRefNum     : symRefNum,
            SymRefOrder   : symRefOrder,
            SymSize       : symSize,
            TakesTwoSlots : twoSlots,
        })
    }
}

func (self *SlotSharingInfo) String() string {
    buf := make([]string, len(self.infos))
    for i, v := range self.infos {
        buf[i] = v.String()
    }
    return "{slotInfos: [" + strings.Join(buf, ", ") + "]}"
}
