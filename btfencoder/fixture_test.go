// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btfencoder

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"gotest.tools/v3/assert"
)

// testSec and testSym describe the pieces of an in-memory ELF image
// assembled by buildELF for symbol-table driven tests.
type testSec struct {
	name string
	typ  elf.SectionType
	addr uint64
	data []byte
}

type testSym struct {
	name  string
	value uint64
	size  uint64
	typ   elf.SymType
	shndx elf.SectionIndex
}

// buildELF assembles a minimal 64-bit little-endian image holding the
// given sections and symbols. User sections get indices 1..len(secs);
// .symtab, .strtab and .shstrtab follow.
func buildELF(t *testing.T, secs []testSec, syms []testSym) *elf.File {
	t.Helper()
	order := binary.LittleEndian

	strtab := []byte{0}
	symNameOff := make([]uint32, len(syms))
	for i, s := range syms {
		symNameOff[i] = uint32(len(strtab))
		strtab = append(strtab, s.name...)
		strtab = append(strtab, 0)
	}

	symtab := new(bytes.Buffer)
	assert.NilError(t, binary.Write(symtab, order, elf.Sym64{}))
	for i, s := range syms {
		assert.NilError(t, binary.Write(symtab, order, elf.Sym64{
			Name:  symNameOff[i],
			Info:  elf.ST_INFO(elf.STB_GLOBAL, s.typ),
			Shndx: uint16(s.shndx),
			Value: s.value,
			Size:  s.size,
		}))
	}

	names := make([]string, 0, len(secs)+3)
	for _, s := range secs {
		names = append(names, s.name)
	}
	names = append(names, ".symtab", ".strtab", ".shstrtab")
	shstrtab := []byte{0}
	nameOffs := make([]uint32, len(names))
	for i, n := range names {
		nameOffs[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, n...)
		shstrtab = append(shstrtab, 0)
	}

	buf := new(bytes.Buffer)
	buf.Write(make([]byte, 64))

	shdrs := []elf.Section64{{}}
	addSec := func(nameOff uint32, typ elf.SectionType, addr uint64, data []byte, link uint32, entsize uint64) {
		shdrs = append(shdrs, elf.Section64{
			Name:    nameOff,
			Type:    uint32(typ),
			Addr:    addr,
			Off:     uint64(buf.Len()),
			Size:    uint64(len(data)),
			Link:    link,
			Entsize: entsize,
		})
		buf.Write(data)
	}

	for i, s := range secs {
		addSec(nameOffs[i], s.typ, s.addr, s.data, 0, 0)
	}
	strtabIdx := uint32(len(secs) + 2)
	addSec(nameOffs[len(secs)], elf.SHT_SYMTAB, 0, symtab.Bytes(), strtabIdx, 24)
	addSec(nameOffs[len(secs)+1], elf.SHT_STRTAB, 0, strtab, 0, 0)
	addSec(nameOffs[len(secs)+2], elf.SHT_STRTAB, 0, shstrtab, 0, 0)

	for buf.Len()%8 != 0 {
		buf.WriteByte(0)
	}
	shoff := uint64(buf.Len())
	assert.NilError(t, binary.Write(buf, order, shdrs))

	out := buf.Bytes()
	hdr := elf.Header64{
		Ident:     [16]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), 1},
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   1,
		Shoff:     shoff,
		Ehsize:    64,
		Shentsize: 64,
		Shnum:     uint16(len(shdrs)),
		Shstrndx:  uint16(len(shdrs) - 1),
	}
	hb := new(bytes.Buffer)
	assert.NilError(t, binary.Write(hb, order, &hdr))
	copy(out, hb.Bytes())

	f, err := elf.NewFile(bytes.NewReader(out))
	assert.NilError(t, err)
	return f
}

// le64 encodes addresses the way an mcount table stores them.
func le64(addrs ...uint64) []byte {
	out := make([]byte, 8*len(addrs))
	for i, a := range addrs {
		binary.LittleEndian.PutUint64(out[i*8:], a)
	}
	return out
}

// rawType is one decoded record of an encoded blob, for asserting on
// encoder output without going through any BTF reader.
type rawType struct {
	name     string
	kind     uint32
	vlen     int
	kindFlag bool
	size     uint32 // byte size or referenced type ID
	extra    []uint32
}

const (
	kindInt      = 1
	kindPtr      = 2
	kindArray    = 3
	kindStruct   = 4
	kindUnion    = 5
	kindEnum     = 6
	kindFwd      = 7
	kindTypedef  = 8
	kindVolatile = 9
	kindConst    = 10
	kindRestrict = 11
	kindFunc     = 12
	kindProto    = 13
	kindVar      = 14
	kindDatasec  = 15
)

// parseBTF decodes a blob's type records. The returned lookup
// resolves string offsets, for member and parameter names.
func parseBTF(t *testing.T, blob []byte) ([]rawType, func(uint32) string) {
	t.Helper()
	order := binary.LittleEndian
	assert.Assert(t, len(blob) >= 24)
	assert.Equal(t, order.Uint16(blob), uint16(0xeB9F))
	hdrLen := order.Uint32(blob[4:])
	typeOff := order.Uint32(blob[8:])
	typeLen := order.Uint32(blob[12:])
	strOff := order.Uint32(blob[16:])
	strLen := order.Uint32(blob[20:])
	types := blob[hdrLen+typeOff : hdrLen+typeOff+typeLen]
	strs := blob[hdrLen+strOff : hdrLen+strOff+strLen]

	str := func(off uint32) string {
		s := strs[off:]
		return string(s[:bytes.IndexByte(s, 0)])
	}

	var out []rawType
	for len(types) > 0 {
		info := order.Uint32(types[4:])
		rt := rawType{
			name:     str(order.Uint32(types)),
			kind:     info >> 24 & 0x1f,
			vlen:     int(info & 0xffff),
			kindFlag: info>>31 != 0,
			size:     order.Uint32(types[8:]),
		}
		types = types[12:]
		var extras int
		switch rt.kind {
		case kindInt, kindVar:
			extras = 1
		case kindArray:
			extras = 3
		case kindStruct, kindUnion, kindDatasec:
			extras = 3 * rt.vlen
		case kindEnum, kindProto:
			extras = 2 * rt.vlen
		}
		for i := 0; i < extras; i++ {
			rt.extra = append(rt.extra, order.Uint32(types))
			types = types[4:]
		}
		out = append(out, rt)
	}
	return out, str
}
