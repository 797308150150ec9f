// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfwriter

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

// writeFixture creates a minimal 64-bit object with a .text section
// and returns its path.
func writeFixture(t *testing.T) string {
	t.Helper()
	order := binary.LittleEndian

	text := []byte{0xc3}
	shstrtab := []byte("\x00.text\x00.shstrtab\x00")

	buf := new(bytes.Buffer)
	buf.Write(make([]byte, 64))

	textOff := uint64(buf.Len())
	buf.Write(text)
	strOff := uint64(buf.Len())
	buf.Write(shstrtab)
	for buf.Len()%8 != 0 {
		buf.WriteByte(0)
	}
	shoff := uint64(buf.Len())

	shdrs := []elf.Section64{
		{},
		{Name: 1, Type: uint32(elf.SHT_PROGBITS), Addr: 0x1000, Off: textOff, Size: uint64(len(text))},
		{Name: 7, Type: uint32(elf.SHT_STRTAB), Off: strOff, Size: uint64(len(shstrtab))},
	}
	assert.NilError(t, binary.Write(buf, order, shdrs))

	out := buf.Bytes()
	hdr := elf.Header64{
		Ident:     [16]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), 1},
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_X86_64),
		Version:   1,
		Shoff:     shoff,
		Ehsize:    64,
		Shentsize: 64,
		Shnum:     3,
		Shstrndx:  2,
	}
	hb := new(bytes.Buffer)
	assert.NilError(t, binary.Write(hb, order, &hdr))
	copy(out, hb.Bytes())

	path := filepath.Join(t.TempDir(), "fixture.o")
	assert.NilError(t, os.WriteFile(path, out, 0666))
	return path
}

func TestAddSection(t *testing.T) {
	path := writeFixture(t)
	blob := []byte{0x9f, 0xeb, 1, 0, 24, 0, 0, 0}
	assert.NilError(t, AddSection(path, ".BTF", blob))

	f, err := elf.Open(path)
	assert.NilError(t, err)
	defer f.Close()

	sec := f.Section(".BTF")
	assert.Assert(t, sec != nil)
	data, err := sec.Data()
	assert.NilError(t, err)
	assert.DeepEqual(t, data, blob)

	// The original sections survive untouched.
	text := f.Section(".text")
	assert.Assert(t, text != nil)
	data, err = text.Data()
	assert.NilError(t, err)
	assert.DeepEqual(t, data, []byte{0xc3})
}

func TestAddSectionTwice(t *testing.T) {
	path := writeFixture(t)
	assert.NilError(t, AddSection(path, ".BTF", []byte{1}))
	assert.ErrorContains(t, AddSection(path, ".BTF", []byte{2}), "already has")
}

func TestAddSectionRejectsNonELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.o")
	assert.NilError(t, os.WriteFile(path, bytes.Repeat([]byte{0x42}, 128), 0666))
	assert.ErrorContains(t, AddSection(path, ".BTF", []byte{1}), "not an ELF file")
}
