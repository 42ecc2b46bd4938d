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

type OpFlags uint64

const (
    F_TreeTop OpFlags = 1 << iota
    F_Fence
    F_Load
    F_LoadVar
    F_LoadConst
    F_LoadAddr
    F_LoadReg
    F_Store
    F_StoreReg
    F_Indirect
    F_SymRef
    F_Call
    F_New
    F_Branch
    F_If
    F_MultiJump
    F_BranchChildren
    F_Case
    F_Return
    F_Throw
    F_Check
    F_NullCheck
    F_ResolveCheck
    F_SpineCheck
    F_ArrayStoreCheck
    F_Anchor
    F_Conversion
    F_BooleanCompare
    F_Add
    F_Sub
    F_Mul
    F_Div
    F_Rem
    F_Neg
    F_Xor
    F_PackedExp
    F_CmpEQ
    F_CmpNE
    F_CmpLT
    F_CmpLE
    F_CmpGT
    F_CmpGE
)

type OpCode uint16

const (
    OP_bad OpCode = iota
    OP_BBStart
    OP_BBEnd
    OP_treetop
    OP_PassThrough
    OP_GlRegDeps
    OP_compressedRefs
    OP_iconst
    OP_lconst
    OP_fconst
    OP_dconst
    OP_aconst
    OP_pdconst
    OP_bload
    OP_sload
    OP_iload
    OP_lload
    OP_fload
    OP_dload
    OP_aload
    OP_pdload
    OP_iloadi
    OP_lloadi
    OP_aloadi
    OP_bstore
    OP_sstore
    OP_istore
    OP_lstore
    OP_fstore
    OP_dstore
    OP_astore
    OP_pdstore
    OP_istorei
    OP_lstorei
    OP_astorei
    OP_iRegLoad
    OP_lRegLoad
    OP_fRegLoad
    OP_dRegLoad
    OP_aRegLoad
    OP_iRegStore
    OP_lRegStore
    OP_fRegStore
    OP_dRegStore
    OP_aRegStore
    OP_loadaddr
    OP_iadd
    OP_isub
    OP_imul
    OP_idiv
    OP_irem
    OP_ineg
    OP_iand
    OP_ior
    OP_ixor
    OP_ladd
    OP_lsub
    OP_lmul
    OP_ldiv
    OP_lrem
    OP_lxor
    OP_fadd
    OP_fmul
    OP_dadd
    OP_dmul
    OP_ddiv
    OP_aiadd
    OP_pdadd
    OP_pdexp
    OP_i2l
    OP_l2i
    OP_iu2l
    OP_i2f
    OP_i2d
    OP_f2i
    OP_d2i
    OP_f2d
    OP_d2f
    OP_icmpeq
    OP_icmpne
    OP_icmplt
    OP_icmpgt
    OP_fcmpl
    OP_dcmpl
    OP_dcmpeq
    OP_call
    OP_icall
    OP_lcall
    OP_dcall
    OP_acall
    OP_calli
    OP_acalli
    OP_New
    OP_newarray
    OP_anewarray
    OP_multianewarray
    OP_instanceof
    OP_checkcast
    OP_arraylength
    OP_Prefetch
    OP_NULLCHK
    OP_ResolveCHK
    OP_ResolveAndNULLCHK
    OP_BNDCHK
    OP_SpineCHK
    OP_ArrayStoreCHK
    OP_asynccheck
    OP_Goto
    OP_ificmpeq
    OP_ificmpne
    OP_ificmplt
    OP_ificmple
    OP_ificmpgt
    OP_ificmpge
    OP_iflcmplt
    OP_iflcmple
    OP_iflcmpgt
    OP_iflcmpge
    OP_ifacmpeq
    OP_ifacmpne
    OP_lookup
    OP_table
    OP_case
    OP_igoto
    OP_Return
    OP_ireturn
    OP_lreturn
    OP_areturn
    OP_athrow
    _OP_max
)

// OpCount is the number of defined opcodes, including OP_bad.
const OpCount = int(_OP_max)

type OpInfo struct {
    Name  string
    Type  DataType
    Flags OpFlags
}

var _OpTab = [...]OpInfo {
    OP_bad               : { "bad",               NoType,         0 },
    OP_BBStart           : { "BBStart",           NoType,         F_Fence },
    OP_BBEnd             : { "BBEnd",             NoType,         F_Fence },
    OP_treetop           : { "treetop",           NoType,         F_TreeTop },
    OP_PassThrough       : { "PassThrough",       NoType,         0 },
    OP_GlRegDeps         : { "GlRegDeps",         NoType,         0 },
    OP_compressedRefs    : { "compressedRefs",    NoType,         F_Anchor },
    OP_iconst            : { "iconst",            Int32,          F_LoadConst },
    OP_lconst            : { "lconst",            Int64,          F_LoadConst },
    OP_fconst            : { "fconst",            Float,          F_LoadConst },
    OP_dconst            : { "dconst",            Double,         F_LoadConst },
    OP_aconst            : { "aconst",            Address,        F_LoadConst },
    OP_pdconst           : { "pdconst",           PackedDecimal,  F_LoadConst },
    OP_bload             : { "bload",             Int8,           F_Load|F_LoadVar|F_SymRef },
    OP_sload             : { "sload",             Int16,          F_Load|F_LoadVar|F_SymRef },
    OP_iload             : { "iload",             Int32,          F_Load|F_LoadVar|F_SymRef },
    OP_lload             : { "lload",             Int64,          F_Load|F_LoadVar|F_SymRef },
    OP_fload             : { "fload",             Float,          F_Load|F_LoadVar|F_SymRef },
    OP_dload             : { "dload",             Double,         F_Load|F_LoadVar|F_SymRef },
    OP_aload             : { "aload",             Address,        F_Load|F_LoadVar|F_SymRef },
    OP_pdload            : { "pdload",            PackedDecimal,  F_Load|F_LoadVar|F_SymRef },
    OP_iloadi            : { "iloadi",            Int32,          F_Load|F_LoadVar|F_Indirect|F_SymRef },
    OP_lloadi            : { "lloadi",            Int64,          F_Load|F_LoadVar|F_Indirect|F_SymRef },
    OP_aloadi            : { "aloadi",            Address,        F_Load|F_LoadVar|F_Indirect|F_SymRef },
    OP_bstore            : { "bstore",            Int8,           F_Store|F_SymRef|F_TreeTop },
    OP_sstore            : { "sstore",            Int16,          F_Store|F_SymRef|F_TreeTop },
    OP_istore            : { "istore",            Int32,          F_Store|F_SymRef|F_TreeTop },
    OP_lstore            : { "lstore",            Int64,          F_Store|F_SymRef|F_TreeTop },
    OP_fstore            : { "fstore",            Float,          F_Store|F_SymRef|F_TreeTop },
    OP_dstore            : { "dstore",            Double,         F_Store|F_SymRef|F_TreeTop },
    OP_astore            : { "astore",            Address,        F_Store|F_SymRef|F_TreeTop },
    OP_pdstore           : { "pdstore",           PackedDecimal,  F_Store|F_SymRef|F_TreeTop },
    OP_istorei           : { "istorei",           Int32,          F_Store|F_Indirect|F_SymRef|F_TreeTop },
    OP_lstorei           : { "lstorei",           Int64,          F_Store|F_Indirect|F_SymRef|F_TreeTop },
    OP_astorei           : { "astorei",           Address,        F_Store|F_Indirect|F_SymRef|F_TreeTop },
    OP_iRegLoad          : { "iRegLoad",          Int32,          F_LoadReg },
    OP_lRegLoad          : { "lRegLoad",          Int64,          F_LoadReg },
    OP_fRegLoad          : { "fRegLoad",          Float,          F_LoadReg },
    OP_dRegLoad          : { "dRegLoad",          Double,         F_LoadReg },
    OP_aRegLoad          : { "aRegLoad",          Address,        F_LoadReg },
    OP_iRegStore         : { "iRegStore",         Int32,          F_StoreReg|F_TreeTop },
    OP_lRegStore         : { "lRegStore",         Int64,          F_StoreReg|F_TreeTop },
    OP_fRegStore         : { "fRegStore",         Float,          F_StoreReg|F_TreeTop },
    OP_dRegStore         : { "dRegStore",         Double,         F_StoreReg|F_TreeTop },
    OP_aRegStore         : { "aRegStore",         Address,        F_StoreReg|F_TreeTop },
    OP_loadaddr          : { "loadaddr",          Address,        F_LoadAddr|F_SymRef },
    OP_iadd              : { "iadd",              Int32,          F_Add },
    OP_isub              : { "isub",              Int32,          F_Sub },
    OP_imul              : { "imul",              Int32,          F_Mul },
    OP_idiv              : { "idiv",              Int32,          F_Div },
    OP_irem              : { "irem",              Int32,          F_Rem },
    OP_ineg              : { "ineg",              Int32,          F_Neg },
    OP_iand              : { "iand",              Int32,          0 },
    OP_ior               : { "ior",               Int32,          0 },
    OP_ixor              : { "ixor",              Int32,          F_Xor },
    OP_ladd              : { "ladd",              Int64,          F_Add },
    OP_lsub              : { "lsub",              Int64,          F_Sub },
    OP_lmul              : { "lmul",              Int64,          F_Mul },
    OP_ldiv              : { "ldiv",              Int64,          F_Div },
    OP_lrem              : { "lrem",              Int64,          F_Rem },
    OP_lxor              : { "lxor",              Int64,          F_Xor },
    OP_fadd              : { "fadd",              Float,          F_Add },
    OP_fmul              : { "fmul",              Float,          F_Mul },
    OP_dadd              : { "dadd",              Double,         F_Add },
    OP_dmul              : { "dmul",              Double,         F_Mul },
    OP_ddiv              : { "ddiv",              Double,         F_Div },
    OP_aiadd             : { "aiadd",             Address,        F_Add },
    OP_pdadd             : { "pdadd",             PackedDecimal,  F_Add },
    OP_pdexp             : { "pdexp",             PackedDecimal,  F_PackedExp },
    OP_i2l               : { "i2l",               Int64,          F_Conversion },
    OP_l2i               : { "l2i",               Int32,          F_Conversion },
    OP_iu2l              : { "iu2l",              Int64,          F_Conversion },
    OP_i2f               : { "i2f",               Float,          F_Conversion },
    OP_i2d               : { "i2d",               Double,         F_Conversion },
    OP_f2i               : { "f2i",               Int32,          F_Conversion },
    OP_d2i               : { "d2i",               Int32,          F_Conversion },
    OP_f2d               : { "f2d",               Double,         F_Conversion },
    OP_d2f               : { "d2f",               Float,          F_Conversion },
    OP_icmpeq            : { "icmpeq",            Int32,          F_BooleanCompare|F_CmpEQ },
    OP_icmpne            : { "icmpne",            Int32,          F_BooleanCompare|F_CmpNE },
    OP_icmplt            : { "icmplt",            Int32,          F_BooleanCompare|F_CmpLT },
    OP_icmpgt            : { "icmpgt",            Int32,          F_BooleanCompare|F_CmpGT },
    OP_fcmpl             : { "fcmpl",             Int32,          F_BooleanCompare|F_CmpLT },
    OP_dcmpl             : { "dcmpl",             Int32,          F_BooleanCompare|F_CmpLT },
    OP_dcmpeq            : { "dcmpeq",            Int32,          F_BooleanCompare|F_CmpEQ },
    OP_call              : { "call",              NoType,         F_Call|F_SymRef },
    OP_icall             : { "icall",             Int32,          F_Call|F_SymRef },
    OP_lcall             : { "lcall",             Int64,          F_Call|F_SymRef },
    OP_dcall             : { "dcall",             Double,         F_Call|F_SymRef },
    OP_acall             : { "acall",             Address,        F_Call|F_SymRef },
    OP_calli             : { "calli",             NoType,         F_Call|F_Indirect|F_SymRef },
    OP_acalli            : { "acalli",            Address,        F_Call|F_Indirect|F_SymRef },
    OP_New               : { "New",               Address,        F_New|F_SymRef },
    OP_newarray          : { "newarray",          Address,        F_New|F_SymRef },
    OP_anewarray         : { "anewarray",         Address,        F_New|F_SymRef },
    OP_multianewarray    : { "multianewarray",    Address,        F_New|F_SymRef },
    OP_instanceof        : { "instanceof",        Int32,          F_SymRef },
    OP_checkcast         : { "checkcast",         NoType,         F_Check|F_SymRef|F_TreeTop },
    OP_arraylength       : { "arraylength",       Int32,          0 },
    OP_Prefetch          : { "Prefetch",          NoType,         F_TreeTop },
    OP_NULLCHK           : { "NULLCHK",           NoType,         F_Check|F_NullCheck|F_SymRef|F_TreeTop },
    OP_ResolveCHK        : { "ResolveCHK",        NoType,         F_Check|F_ResolveCheck|F_SymRef|F_TreeTop },
    OP_ResolveAndNULLCHK : { "ResolveAndNULLCHK", NoType,         F_Check|F_NullCheck|F_ResolveCheck|F_SymRef|F_TreeTop },
    OP_BNDCHK            : { "BNDCHK",            NoType,         F_Check|F_SymRef|F_TreeTop },
    OP_SpineCHK          : { "SpineCHK",          NoType,         F_Check|F_SpineCheck|F_TreeTop },
    OP_ArrayStoreCHK     : { "ArrayStoreCHK",     NoType,         F_Check|F_ArrayStoreCheck|F_SymRef|F_TreeTop },
    OP_asynccheck        : { "asynccheck",        NoType,         F_Check|F_SymRef|F_TreeTop },
    OP_Goto              : { "Goto",              NoType,         F_Branch|F_TreeTop },
    OP_ificmpeq          : { "ificmpeq",          NoType,         F_Branch|F_If|F_CmpEQ|F_TreeTop },
    OP_ificmpne          : { "ificmpne",          NoType,         F_Branch|F_If|F_CmpNE|F_TreeTop },
    OP_ificmplt          : { "ificmplt",          NoType,         F_Branch|F_If|F_CmpLT|F_TreeTop },
    OP_ificmple          : { "ificmple",          NoType,         F_Branch|F_If|F_CmpLE|F_TreeTop },
    OP_ificmpgt          : { "ificmpgt",          NoType,         F_Branch|F_If|F_CmpGT|F_TreeTop },
    OP_ificmpge          : { "ificmpge",          NoType,         F_Branch|F_If|F_CmpGE|F_TreeTop },
    OP_iflcmplt          : { "iflcmplt",          NoType,         F_Branch|F_If|F_CmpLT|F_TreeTop },
    OP_iflcmple          : { "iflcmple",          NoType,         F_Branch|F_If|F_CmpLE|F_TreeTop },
    OP_iflcmpgt          : { "iflcmpgt",          NoType,         F_Branch|F_If|F_CmpGT|F_TreeTop },
    OP_iflcmpge          : { "iflcmpge",          NoType,         F_Branch|F_If|F_CmpGE|F_TreeTop },
    OP_ifacmpeq          : { "ifacmpeq",          NoType,         F_Branch|F_If|F_CmpEQ|F_TreeTop },
    OP_ifacmpne          : { "ifacmpne",          NoType,         F_Branch|F_If|F_CmpNE|F_TreeTop },
    OP_lookup            : { "lookup",            NoType,         F_MultiJump|F_BranchChildren|F_TreeTop },
    OP_table             : { "table",             NoType,         F_MultiJump|F_BranchChildren|F_TreeTop },
    OP_case              : { "case",              NoType,         F_Case },
    OP_igoto             : { "igoto",             NoType,         F_MultiJump|F_TreeTop },
    OP_Return            : { "Return",            NoType,         F_Return|F_TreeTop },
    OP_ireturn           : { "ireturn",           Int32,          F_Return|F_TreeTop },
    OP_lreturn           : { "lreturn",           Int64,          F_Return|F_TreeTop },
    OP_areturn           : { "areturn",           Address,        F_Return|F_TreeTop },
    OP_athrow            : { "athrow",            NoType,         F_Throw|F_TreeTop },
}

func (self OpCode) Info() *OpInfo {
    if self < _OP_max {
        return &_OpTab[self]
    } else {
        panic(fmt.Sprintf("il: invalid opcode: %d", self))
    }
}

func (self OpCode) String() string {
    if self < _OP_max {
        return _OpTab[self].Name
    } else {
        return fmt.Sprintf("OpCode(%d)", self)
    }
}

func (self OpCode) is(f OpFlags) bool       { return self.Info().Flags & f != 0 }
func (self OpCode) DataType() DataType      { return self.Info().Type }
func (self OpCode) IsTreeTop() bool         { return self == OP_treetop }
func (self OpCode) IsFence() bool           { return self.is(F_Fence) }
func (self OpCode) IsLoad() bool            { return self.is(F_Load) }
func (self OpCode) IsLoadVar() bool         { return self.is(F_LoadVar) }
func (self OpCode) IsLoadVarDirect() bool   { return self.is(F_LoadVar) && !self.is(F_Indirect) }
func (self OpCode) IsLoadIndirect() bool    { return self.is(F_Load) && self.is(F_Indirect) }
func (self OpCode) IsLoadConst() bool       { return self.is(F_LoadConst) }
func (self OpCode) IsLoadAddr() bool        { return self.is(F_LoadAddr) }
func (self OpCode) IsLoadReg() bool         { return self.is(F_LoadReg) }
func (self OpCode) IsStore() bool           { return self.is(F_Store) }
func (self OpCode) IsStoreDirect() bool     { return self.is(F_Store) && !self.is(F_Indirect) }
func (self OpCode) IsStoreIndirect() bool   { return self.is(F_Store) && self.is(F_Indirect) }
func (self OpCode) IsStoreReg() bool        { return self.is(F_StoreReg) }
func (self OpCode) IsIndirect() bool        { return self.is(F_Indirect) }
func (self OpCode) HasSymbolReference() bool { return self.is(F_SymRef) }
func (self OpCode) IsCall() bool            { return self.is(F_Call) }
func (self OpCode) IsCallIndirect() bool    { return self.is(F_Call) && self.is(F_Indirect) }
func (self OpCode) IsNew() bool             { return self.is(F_New) }
func (self OpCode) IsBranch() bool          { return self.is(F_Branch) }
func (self OpCode) IsIf() bool              { return self.is(F_If) }
func (self OpCode) IsGoto() bool            { return self == OP_Goto }
func (self OpCode) IsJumpWithMultipleTargets() bool { return self.is(F_MultiJump) }
func (self OpCode) HasBranchChildren() bool { return self.is(F_BranchChildren) }
func (self OpCode) IsSwitch() bool          { return self == OP_lookup || self == OP_table }
func (self OpCode) IsCase() bool            { return self.is(F_Case) }
func (self OpCode) IsReturn() bool          { return self.is(F_Return) }
func (self OpCode) IsThrow() bool           { return self.is(F_Throw) }
func (self OpCode) IsCheck() bool           { return self.is(F_Check) }
func (self OpCode) IsNullCheck() bool       { return self.is(F_NullCheck) }
func (self OpCode) IsResolveCheck() bool    { return self.is(F_ResolveCheck) }
func (self OpCode) IsSpineCheck() bool      { return self.is(F_SpineCheck) }
func (self OpCode) IsArrayStoreCheck() bool { return self.is(F_ArrayStoreCheck) }
func (self OpCode) IsAnchor() bool          { return self.is(F_Anchor) }
func (self OpCode) IsConversion() bool      { return self.is(F_Conversion) }
func (self OpCode) IsBooleanCompare() bool  { return self.is(F_BooleanCompare) }
func (self OpCode) IsAdd() bool             { return self.is(F_Add) }
func (self OpCode) IsSub() bool             { return self.is(F_Sub) }
func (self OpCode) IsDiv() bool             { return self.is(F_Div) }
func (self OpCode) IsRem() bool             { return self.is(F_Rem) }
func (self OpCode) IsXor() bool             { return self.is(F_Xor) }
func (self OpCode) IsPackedExponentiation() bool { return self.is(F_PackedExp) }
func (self OpCode) IsFloatingPoint() bool   { return self.DataType().IsFloatingPoint() }
func (self OpCode) IsCompareLess() bool     { return self.is(F_CmpLT | F_CmpLE) }
func (self OpCode) IsCompareGreater() bool  { return self.is(F_CmpGT | F_CmpGE) }
func (self OpCode) IsCompareOrEqual() bool  { return self.is(F_CmpLE | F_CmpGE | F_CmpEQ) }

// IsStoreOrRegStore reports nodes that write a value into a symbol or a global register.
func (self OpCode) IsStoreOrRegStore() bool {
    return self.is(F_Store | F_StoreReg)
}

var (
    _ConstOps = [...]OpCode { Int8: OP_iconst, Int16: OP_iconst, Int32: OP_iconst, Int64: OP_lconst, Float: OP_fconst, Double: OP_dconst, Address: OP_aconst, PackedDecimal: OP_pdconst }
    _LoadOps  = [...]OpCode { Int8: OP_bload, Int16: OP_sload, Int32: OP_iload, Int64: OP_lload, Float: OP_fload, Double: OP_dload, Address: OP_aload, PackedDecimal: OP_pdload }
    _StoreOps = [...]OpCode { Int8: OP_bstore, Int16: OP_sstore, Int32: OP_istore, Int64: OP_lstore, Float: OP_fstore, Double: OP_dstore, Address: OP_astore, PackedDecimal: OP_pdstore }
)

func ConstOpFor(dt DataType) OpCode { return pickOp(_ConstOps[:], dt) }
func LoadOpFor(dt DataType) OpCode  { return pickOp(_LoadOps[:], dt) }
func StoreOpFor(dt DataType) OpCode { return pickOp(_StoreOps[:], dt) }

func pickOp(tab []OpCode, dt DataType) OpCode {
    if int(dt) >= len(tab) || tab[dt] == OP_bad {
        panic("il: no opcode for type " + dt.String())
    } else {
        return tab[dt]
    }
}
