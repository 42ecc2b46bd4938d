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

type DataType uint8

const (
    NoType DataType = iota
    Int8
    Int16
    Int32
    Int64
    Float
    Double
    Address
    PackedDecimal
)

var _TypeNames = [...]string {
    NoType        : "notype",
    Int8          : "int8",
    Int16         : "int16",
    Int32         : "int32",
    Int64         : "int64",
    Float         : "float",
    Double        : "double",
    Address       : "address",
    PackedDecimal : "packed",
}

var _TypeSizes = [...]int32 {
    NoType        : 0,
    Int8          : 1,
    Int16         : 2,
    Int32         : 4,
    Int64         : 8,
    Float         : 4,
    Double        : 8,
    Address       : 8,
    PackedDecimal : 16,
}

// Size returns the in-frame size of a value of this type.
func (self DataType) Size() int32 {
    if int(self) < len(_TypeSizes) {
        return _TypeSizes[self]
    } else {
        panic("il: invalid data type: " + self.String())
    }
}

// TakesTwoSlots reports whether a value of this type occupies two interpreter slots.
func (self DataType) TakesTwoSlots() bool {
    return self == Int64 || self == Double
}

func (self DataType) IsFloatingPoint() bool {
    return self == Float || self == Double
}

func (self DataType) IsIntegral() bool {
    return self >= Int8 && self <= Int64
}

func (self DataType) String() string {
    if int(self) < len(_TypeNames) {
        return _TypeNames[self]
    } else {
        return fmt.Sprintf("DataType(%d)", self)
    }
}
