// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btf

// magic identifies a BTF blob. The kernel accepts only the
// native-endian value, so a correctly produced blob always starts with
// it in the byte order of the target object.
const magic = 0xeB9F

const version = 1

// btfHeader is struct btf_header from include/uapi/linux/btf.h.
type btfHeader struct {
	Magic   uint16
	Version uint8
	Flags   uint8
	HdrLen  uint32

	// Offsets are relative to the end of this header; lengths are
	// in bytes.
	TypeOff uint32
	TypeLen uint32
	StrOff  uint32
	StrLen  uint32
}

const btfHeaderLen = 24

// A TypeID names a type within a BTF blob. IDs are assigned densely
// starting at 1; ID 0 is reserved for void.
type TypeID uint32

// A Kind is a BTF type kind, the BTF_KIND_* enum from
// include/uapi/linux/btf.h.
type Kind uint32

//go:generate stringer -type=Kind

const (
	KindUnknown Kind = iota
	KindInt
	KindPtr
	KindArray
	KindStruct
	KindUnion
	KindEnum
	KindFwd
	KindTypedef
	KindVolatile
	KindConst
	KindRestrict
	KindFunc
	KindFuncProto
	KindVar
	KindDatasec
)

// btfType is struct btf_type. Info packs vlen (bits 0-15), kind (bits
// 24-28) and kind_flag (bit 31). SizeOrType holds the byte size for
// INT, STRUCT, UNION, ENUM and DATASEC, and a referenced TypeID for
// the other kinds.
type btfType struct {
	NameOff    uint32
	Info       uint32
	SizeOrType uint32
}

const (
	btfTypeLen    = 12
	btfInfoVLen   = 0x0000ffff
	btfInfoKFlag  = 1 << 31
	btfMaxVLen    = btfInfoVLen
	btfKindShift  = 24
	btfKFlagShift = 31
)

func typeInfo(kind Kind, vlen int, kindFlag bool) uint32 {
	info := uint32(vlen)&btfInfoVLen | uint32(kind)<<btfKindShift
	if kindFlag {
		info |= btfInfoKFlag
	}
	return info
}

// IntEncoding describes the interpretation of a BTF INT, the
// BTF_INT_ENCODING bits of the metadata word following the btf_type.
type IntEncoding uint8

const (
	IntSigned IntEncoding = 1 << iota
	IntChar
	IntBool
)

// intBits packs the INT metadata word: encoding in bits 24-27, offset
// in bits 16-23, nr_bits in bits 0-7.
func intBits(encoding IntEncoding, bits uint8) uint32 {
	return uint32(encoding)<<24 | uint32(bits)
}

// btfArray is struct btf_array, following an ARRAY btf_type.
type btfArray struct {
	Type      TypeID
	IndexType TypeID
	NElems    uint32
}

// btfMember is struct btf_member, one per STRUCT/UNION member. When
// the containing type has kind_flag set, Offset packs the bitfield
// size in bits 24-31 and the bit offset in bits 0-23.
type btfMember struct {
	NameOff uint32
	Type    TypeID
	Offset  uint32
}

const btfMemberBitOffsetMask = 0x00ffffff

func memberOffset(bitfieldSize uint8, bitOffset uint32) uint32 {
	return uint32(bitfieldSize)<<24 | bitOffset&btfMemberBitOffsetMask
}

// btfEnum is struct btf_enum, one per enumerator.
type btfEnum struct {
	NameOff uint32
	Val     int32
}

// btfParam is struct btf_param, one per FUNC_PROTO parameter.
type btfParam struct {
	NameOff uint32
	Type    TypeID
}

// VarLinkage is the linkage word of a VAR type.
type VarLinkage uint32

const (
	VarStatic VarLinkage = iota
	VarGlobalAllocated
)

// btfVarSecinfo is struct btf_var_secinfo, one per DATASEC entry.
type btfVarSecinfo struct {
	Type   TypeID
	Offset uint32
	Size   uint32
}

// maxNameLen bounds a BTF identifier, including its terminating NUL
// in the C representation.
const maxNameLen = 128
