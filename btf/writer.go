// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package btf assembles BPF Type Format blobs. A Writer accumulates
// type records and an interned string section, and serializes them in
// the layout defined by include/uapi/linux/btf.h.
package btf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/btfkit/go-btf/dwarfcu"
)

// PerCPUSectionName is the ELF section holding per-CPU variables.
const PerCPUSectionName = ".data..percpu"

// A Writer accumulates the type and string sections of one BTF blob.
type Writer struct {
	// Filename is the object the blob describes.
	Filename string

	enc  bufEncoder
	strs *stringTable

	base TypeID // ID space starts at base+1
	nr   TypeID

	// Byte offset of the most recent STRUCT/UNION/ENUM header,
	// for vlen and kind_flag patching. -1 when the last record is
	// of another kind.
	lastHdr int

	secinfos []btfVarSecinfo

	percpu    *PerCPUSection
	hasSymtab bool
}

// PerCPUSection describes the location of the object's per-CPU data
// section.
type PerCPUSection struct {
	Index elf.SectionIndex
	Addr  uint64
	Size  uint64
}

// NewWriter returns a Writer for the given object. IDs of emitted
// types start at baseID+1, so a caller appending to an already
// encoded base BTF passes that blob's type count. f may be nil when
// the blob is assembled without an object, in which case the per-CPU
// section and symbol table are reported absent and the byte order is
// little-endian.
func NewWriter(filename string, f *elf.File, baseID TypeID) *Writer {
	w := &Writer{
		Filename: filename,
		enc:      bufEncoder{order: binary.LittleEndian},
		strs:     newStringTable(),
		base:     baseID,
		lastHdr:  -1,
	}
	if f == nil {
		return w
	}
	w.enc.order = f.ByteOrder
	for i, sec := range f.Sections {
		switch {
		case sec.Name == PerCPUSectionName:
			w.percpu = &PerCPUSection{
				Index: elf.SectionIndex(i),
				Addr:  sec.Addr,
				Size:  sec.Size,
			}
		case sec.Type == elf.SHT_SYMTAB:
			w.hasSymtab = true
		}
	}
	return w
}

// TypeCount returns the number of types in the blob's ID space,
// including any base BTF seed. The next emitted type gets ID
// TypeCount()+1.
func (w *Writer) TypeCount() TypeID {
	return w.base + w.nr
}

// PerCPU returns the object's per-CPU section, or nil if it has none.
func (w *Writer) PerCPU() *PerCPUSection {
	return w.percpu
}

// HasSymtab reports whether the object carries a symbol table.
func (w *Writer) HasSymtab() bool {
	return w.hasSymtab
}

func (w *Writer) addType(t btfType) TypeID {
	w.lastHdr = -1
	w.enc.btfType(t)
	w.nr++
	return w.base + w.nr
}

// AddBaseType emits an INT type.
func (w *Writer) AddBaseType(name string, byteSize uint32, bits uint8, enc IntEncoding) (TypeID, error) {
	id := w.addType(btfType{
		NameOff:    w.strs.add(name),
		Info:       typeInfo(KindInt, 0, false),
		SizeOrType: byteSize,
	})
	w.enc.u32(intBits(enc, bits))
	return id, nil
}

// AddRefType emits one of the reference kinds: CONST, PTR, RESTRICT,
// VOLATILE, TYPEDEF, FWD or FUNC. isUnion applies to FWD only and
// sets its kind_flag.
func (w *Writer) AddRefType(kind Kind, ref TypeID, name string, isUnion bool) (TypeID, error) {
	switch kind {
	case KindConst, KindPtr, KindRestrict, KindVolatile, KindTypedef, KindFwd, KindFunc:
	default:
		return 0, errors.Errorf("%v is not a reference kind", kind)
	}
	return w.addType(btfType{
		NameOff:    w.strs.add(name),
		Info:       typeInfo(kind, 0, isUnion),
		SizeOrType: uint32(ref),
	}), nil
}

// AddStruct emits a STRUCT or UNION header. Its members must be
// added with AddMember before any other type is emitted.
func (w *Writer) AddStruct(kind Kind, name string, byteSize uint32) (TypeID, error) {
	if kind != KindStruct && kind != KindUnion {
		return 0, errors.Errorf("%v is not a composite kind", kind)
	}
	id := w.addType(btfType{
		NameOff:    w.strs.add(name),
		Info:       typeInfo(kind, 0, false),
		SizeOrType: byteSize,
	})
	w.lastHdr = w.enc.len() - btfTypeLen
	return id, nil
}

// AddMember appends a member to the composite started by the last
// AddStruct. The first bitfield member switches the composite to the
// kind_flag member-offset encoding; plain members encode identically
// either way.
func (w *Writer) AddMember(name string, ref TypeID, bitfieldSize uint8, bitOffset uint32) error {
	if w.lastHdr < 0 {
		return errors.New("no open composite to add a member to")
	}
	hdr := w.lastHdr
	info := w.enc.readU32(hdr + 4)
	vlen := info & btfInfoVLen
	if vlen == btfMaxVLen {
		return errors.New("too many members")
	}
	info = info&^btfInfoVLen | (vlen + 1)
	if bitfieldSize != 0 {
		info |= btfInfoKFlag
	}
	w.enc.patchU32(hdr+4, info)

	w.enc.u32(w.strs.add(name))
	w.enc.u32(uint32(ref))
	w.enc.u32(memberOffset(bitfieldSize, bitOffset))
	return nil
}

// AddEnum emits an ENUM header. Its values must be added with
// AddEnumVal before any other type is emitted.
func (w *Writer) AddEnum(name string, byteSize uint32) (TypeID, error) {
	id := w.addType(btfType{
		NameOff:    w.strs.add(name),
		Info:       typeInfo(KindEnum, 0, false),
		SizeOrType: byteSize,
	})
	w.lastHdr = w.enc.len() - btfTypeLen
	return id, nil
}

// AddEnumVal appends an enumerator to the enum started by the last
// AddEnum.
func (w *Writer) AddEnumVal(name string, value int32) error {
	if w.lastHdr < 0 {
		return errors.New("no open enum to add a value to")
	}
	hdr := w.lastHdr
	info := w.enc.readU32(hdr + 4)
	vlen := info & btfInfoVLen
	if vlen == btfMaxVLen {
		return errors.New("too many enumerators")
	}
	w.enc.patchU32(hdr+4, info&^btfInfoVLen|(vlen+1))

	w.enc.u32(w.strs.add(name))
	w.enc.i32(value)
	return nil
}

// AddArray emits an ARRAY type.
func (w *Writer) AddArray(elem, index TypeID, nelems uint32) (TypeID, error) {
	id := w.addType(btfType{
		Info: typeInfo(KindArray, 0, false),
	})
	w.enc.u32(uint32(elem))
	w.enc.u32(uint32(index))
	w.enc.u32(nelems)
	return id, nil
}

// AddFuncProto emits a FUNC_PROTO for the given prototype, mapping
// its core IDs into the blob's ID space by adding typeIDOff to every
// non-void reference. A variadic prototype gets the conventional
// trailing anonymous void parameter.
func (w *Writer) AddFuncProto(proto *dwarfcu.FuncProto, typeIDOff TypeID) (TypeID, error) {
	nparams := len(proto.Params)
	if proto.Variadic {
		nparams++
	}
	if nparams > btfMaxVLen {
		return 0, errors.New("too many parameters")
	}
	id := w.addType(btfType{
		Info:       typeInfo(KindFuncProto, nparams, false),
		SizeOrType: uint32(mapID(proto.Ret, typeIDOff)),
	})
	for _, p := range proto.Params {
		w.enc.u32(w.strs.add(p.Name))
		w.enc.u32(uint32(mapID(p.Type, typeIDOff)))
	}
	if proto.Variadic {
		w.enc.u32(0)
		w.enc.u32(0)
	}
	return id, nil
}

// mapID translates a core ID into the blob's ID space. Void stays
// void.
func mapID(id dwarfcu.CoreID, typeIDOff TypeID) TypeID {
	if id == 0 {
		return 0
	}
	return typeIDOff + TypeID(id)
}

// AddVar emits a VAR type.
func (w *Writer) AddVar(ref TypeID, name string, linkage VarLinkage) (TypeID, error) {
	id := w.addType(btfType{
		NameOff:    w.strs.add(name),
		Info:       typeInfo(KindVar, 0, false),
		SizeOrType: uint32(ref),
	})
	w.enc.u32(uint32(linkage))
	return id, nil
}

// AddVarSecinfo records a variable's placement for the blob's
// DATASEC. The records accumulate until AddDatasec consumes them.
func (w *Writer) AddVarSecinfo(id TypeID, offset, size uint32) error {
	w.secinfos = append(w.secinfos, btfVarSecinfo{id, offset, size})
	return nil
}

// SecinfoCount returns the number of accumulated section-info
// records.
func (w *Writer) SecinfoCount() int {
	return len(w.secinfos)
}

// AddDatasec emits a DATASEC covering the accumulated section-info
// records, sorted by section offset.
func (w *Writer) AddDatasec(name string) error {
	if len(w.secinfos) > btfMaxVLen {
		return errors.New("too many variables in section")
	}
	var size uint32
	if w.percpu != nil {
		size = uint32(w.percpu.Size)
	}
	sort.Slice(w.secinfos, func(i, j int) bool {
		return w.secinfos[i].Offset < w.secinfos[j].Offset
	})
	w.addType(btfType{
		NameOff:    w.strs.add(name),
		Info:       typeInfo(KindDatasec, len(w.secinfos), false),
		SizeOrType: size,
	})
	for _, si := range w.secinfos {
		w.enc.u32(uint32(si.Type))
		w.enc.u32(si.Offset)
		w.enc.u32(si.Size)
	}
	return nil
}

// Encode serializes the accumulated sections into a BTF blob.
func (w *Writer) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	err := binary.Write(buf, w.enc.order, &btfHeader{
		Magic:   magic,
		Version: version,
		HdrLen:  btfHeaderLen,
		TypeOff: 0,
		TypeLen: uint32(w.enc.len()),
		StrOff:  uint32(w.enc.len()),
		StrLen:  uint32(w.strs.size()),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encoding BTF header")
	}
	buf.Write(w.enc.buf)
	buf.Write(w.strs.buf)
	return buf.Bytes(), nil
}
