// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elfwriter appends sections to existing ELF objects. The
// original file contents are never moved: the section data, an
// extended section name table and a rebuilt section header table are
// appended at the end of the file, and the ELF header is patched to
// point at the new table.
package elfwriter

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

const hdr64Size = 64
const sh64Size = 64

// AddSection rewrites the named object with a PROGBITS section
// appended. The object must be 64-bit; a section with the same name
// must not already exist.
func AddSection(path, name string, data []byte) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	st, err := os.Stat(path)
	if err != nil {
		return err
	}

	if len(raw) < hdr64Size || string(raw[:4]) != elf.ELFMAG {
		return errors.Errorf("%s is not an ELF file", path)
	}
	if elf.Class(raw[elf.EI_CLASS]) != elf.ELFCLASS64 {
		return errors.Errorf("%s: only 64-bit objects are supported", path)
	}
	var order binary.ByteOrder
	switch elf.Data(raw[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		order = binary.BigEndian
	default:
		return errors.Errorf("%s: unknown ELF data encoding", path)
	}

	var hdr elf.Header64
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return errors.Wrapf(err, "reading ELF header of %s", path)
	}
	if hdr.Shoff == 0 || hdr.Shnum == 0 {
		return errors.Errorf("%s has no section header table", path)
	}
	if int(hdr.Shstrndx) >= int(hdr.Shnum) {
		return errors.Errorf("%s: bad section name table index %d", path, hdr.Shstrndx)
	}

	shs := make([]elf.Section64, hdr.Shnum)
	shr := bytes.NewReader(raw[hdr.Shoff:])
	if err := binary.Read(shr, order, shs); err != nil {
		return errors.Wrapf(err, "reading section headers of %s", path)
	}

	shstr := shs[hdr.Shstrndx]
	if shstr.Off+shstr.Size > uint64(len(raw)) {
		return errors.Errorf("%s: section name table out of range", path)
	}
	strtab := raw[shstr.Off : shstr.Off+shstr.Size]
	for _, sh := range shs {
		if sectionName(strtab, sh.Name) == name {
			return errors.Errorf("%s already has a %s section", path, name)
		}
	}

	// Extend the name table and lay out the appended pieces.
	newStrtab := make([]byte, len(strtab), len(strtab)+len(name)+1)
	copy(newStrtab, strtab)
	nameOff := uint32(len(newStrtab))
	newStrtab = append(newStrtab, name...)
	newStrtab = append(newStrtab, 0)

	out := make([]byte, len(raw), len(raw)+len(data)+len(newStrtab)+int(hdr.Shnum+1)*sh64Size+16)
	copy(out, raw)

	out = pad(out, 4)
	dataOff := uint64(len(out))
	out = append(out, data...)

	strtabOff := uint64(len(out))
	out = append(out, newStrtab...)

	out = pad(out, 8)
	shoff := uint64(len(out))

	shs[hdr.Shstrndx].Off = strtabOff
	shs[hdr.Shstrndx].Size = uint64(len(newStrtab))
	shs = append(shs, elf.Section64{
		Name:      nameOff,
		Type:      uint32(elf.SHT_PROGBITS),
		Off:       dataOff,
		Size:      uint64(len(data)),
		Addralign: 4,
	})

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, order, shs); err != nil {
		return errors.Wrap(err, "encoding section headers")
	}
	out = append(out, buf.Bytes()...)

	hdr.Shoff = shoff
	hdr.Shnum++
	buf.Reset()
	if err := binary.Write(buf, order, &hdr); err != nil {
		return errors.Wrap(err, "encoding ELF header")
	}
	copy(out, buf.Bytes())

	return os.WriteFile(path, out, st.Mode().Perm())
}

func sectionName(strtab []byte, off uint32) string {
	if int(off) >= len(strtab) {
		return ""
	}
	s := strtab[off:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}

func pad(b []byte, align int) []byte {
	for len(b)%align != 0 {
		b = append(b, 0)
	}
	return b
}
