// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarfcu

import (
	"debug/dwarf"
	"debug/elf"

	"github.com/pkg/errors"
)

// A Loader walks the DWARF info of one object file and materializes
// its compilation units one at a time, in file order.
type Loader struct {
	path string
	f    *elf.File
	r    *dwarf.Reader
}

// Load opens the named object and prepares its DWARF info for
// iteration. The caller must keep the loader open until it is done
// with every CU it produced.
func Load(path string) (*Loader, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading ELF file %s", path)
	}
	d, err := f.DWARF()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "loading DWARF from %s", path)
	}
	return &Loader{path: path, f: f, r: d.Reader()}, nil
}

// ELF returns the loader's object handle.
func (l *Loader) ELF() *elf.File {
	return l.f
}

// Close releases the underlying object. CUs produced by the loader
// must not be used afterwards.
func (l *Loader) Close() error {
	return l.f.Close()
}

// Next returns the next compilation unit, or nil at the end of the
// DWARF info.
func (l *Loader) Next() (*CU, error) {
	for {
		ent, err := l.r.Next()
		if err != nil {
			return nil, errors.Wrapf(err, "reading DWARF from %s", l.path)
		}
		if ent == nil {
			return nil, nil
		}
		if ent.Tag != dwarf.TagCompileUnit {
			l.r.SkipChildren()
			continue
		}
		return l.loadCU(ent)
	}
}

// die is one buffered DWARF entry plus the index of its parent within
// the same CU (-1 for immediate children of the CU).
type die struct {
	ent    *dwarf.Entry
	parent int
}

func (l *Loader) loadCU(cuEnt *dwarf.Entry) (*CU, error) {
	cu := &CU{Filename: l.path, ELF: l.f}
	if !cuEnt.Children {
		return cu, nil
	}

	// Buffer the CU's subtree. The reader is flat; a nil-tag entry
	// closes the most recently opened children list.
	var dies []die
	stack := []int{-1}
	for len(stack) > 0 {
		ent, err := l.r.Next()
		if err != nil {
			return nil, errors.Wrapf(err, "reading DWARF from %s", l.path)
		}
		if ent == nil {
			break
		}
		if ent.Tag == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		dies = append(dies, die{ent, stack[len(stack)-1]})
		if ent.Children {
			stack = append(stack, len(dies)-1)
		}
	}

	children := make([][]int, len(dies))
	for i, d := range dies {
		if d.parent >= 0 {
			children[d.parent] = append(children[d.parent], i)
		}
	}

	// First pass: assign dense core IDs to the type tags in entry
	// order, so references can be resolved before their targets
	// have been built.
	ids := make(map[dwarf.Offset]CoreID)
	for _, d := range dies {
		if isTypeTag(d.ent.Tag) {
			ids[d.ent.Offset] = CoreID(len(ids) + 1)
		}
	}

	vars := make(map[dwarf.Offset]*Variable)
	for i, d := range dies {
		ent := d.ent
		switch ent.Tag {
		case dwarf.TagBaseType:
			cu.Types = append(cu.Types, loadBaseType(ent))
		case dwarf.TagConstType:
			cu.Types = append(cu.Types, &Modifier{ModifierConst, refID(ent, ids)})
		case dwarf.TagPointerType:
			cu.Types = append(cu.Types, &Modifier{ModifierPointer, refID(ent, ids)})
		case dwarf.TagRestrictType:
			cu.Types = append(cu.Types, &Modifier{ModifierRestrict, refID(ent, ids)})
		case dwarf.TagVolatileType:
			cu.Types = append(cu.Types, &Modifier{ModifierVolatile, refID(ent, ids)})
		case dwarf.TagTypedef:
			cu.Types = append(cu.Types, &Typedef{name(ent), refID(ent, ids)})
		case dwarf.TagStructType:
			cu.Types = append(cu.Types, loadComposite(ent, CompositeStruct, dies, children[i], ids))
		case dwarf.TagUnionType:
			cu.Types = append(cu.Types, loadComposite(ent, CompositeUnion, dies, children[i], ids))
		case dwarf.TagClassType:
			cu.Types = append(cu.Types, loadComposite(ent, CompositeClass, dies, children[i], ids))
		case dwarf.TagArrayType:
			cu.Types = append(cu.Types, loadArray(ent, dies, children[i], ids))
		case dwarf.TagEnumerationType:
			cu.Types = append(cu.Types, loadEnum(ent, dies, children[i], ids))
		case dwarf.TagSubroutineType:
			proto := loadProto(ent, dies, children[i], ids)
			cu.Types = append(cu.Types, &proto)
		case dwarf.TagSubprogram:
			if name(ent) == "" {
				continue
			}
			proto := loadProto(ent, dies, children[i], ids)
			cu.Functions = append(cu.Functions, &Function{
				Name:        name(ent),
				Declaration: boolAttr(ent, dwarf.AttrDeclaration),
				External:    boolAttr(ent, dwarf.AttrExternal),
				Proto:       proto,
			})
		case dwarf.TagVariable:
			v := &Variable{
				Name:        name(ent),
				Type:        refID(ent, ids),
				Address:     l.location(ent),
				External:    boolAttr(ent, dwarf.AttrExternal),
				Declaration: boolAttr(ent, dwarf.AttrDeclaration),
			}
			vars[ent.Offset] = v
			cu.Variables = append(cu.Variables, v)
		}
	}

	// Resolve declaration→definition pairings.
	for _, d := range dies {
		if d.ent.Tag != dwarf.TagVariable {
			continue
		}
		spec, ok := d.ent.Val(dwarf.AttrSpecification).(dwarf.Offset)
		if !ok {
			continue
		}
		if target := vars[spec]; target != nil {
			vars[d.ent.Offset].Spec = target
		}
	}

	return cu, nil
}

func isTypeTag(tag dwarf.Tag) bool {
	switch tag {
	case dwarf.TagBaseType, dwarf.TagConstType, dwarf.TagPointerType,
		dwarf.TagRestrictType, dwarf.TagVolatileType, dwarf.TagTypedef,
		dwarf.TagStructType, dwarf.TagUnionType, dwarf.TagClassType,
		dwarf.TagArrayType, dwarf.TagEnumerationType, dwarf.TagSubroutineType:
		return true
	}
	return false
}

func name(ent *dwarf.Entry) string {
	s, _ := ent.Val(dwarf.AttrName).(string)
	return s
}

func boolAttr(ent *dwarf.Entry, attr dwarf.Attr) bool {
	b, _ := ent.Val(attr).(bool)
	return b
}

func intAttr(ent *dwarf.Entry, attr dwarf.Attr) (int64, bool) {
	v, ok := ent.Val(attr).(int64)
	return v, ok
}

// refID resolves the entry's type attribute to a core ID. A missing
// attribute, or a reference to a DIE kind the type table does not
// carry, is void.
func refID(ent *dwarf.Entry, ids map[dwarf.Offset]CoreID) CoreID {
	off, ok := ent.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return 0
	}
	return ids[off]
}

func loadBaseType(ent *dwarf.Entry) *BaseType {
	bt := &BaseType{Name: name(ent)}
	if sz, ok := intAttr(ent, dwarf.AttrByteSize); ok {
		bt.ByteSize = uint32(sz)
		bt.Bits = uint8(sz * 8)
	}
	if bits, ok := intAttr(ent, dwarf.AttrBitSize); ok {
		bt.Bits = uint8(bits)
	}
	if enc, ok := intAttr(ent, dwarf.AttrEncoding); ok {
		switch enc {
		case ateSigned:
			bt.Encoding = EncodingSigned
		case ateSignedChar:
			bt.Encoding = EncodingSignedChar
		case ateUnsignedChar:
			bt.Encoding = EncodingUnsignedChar
		case ateBoolean:
			bt.Encoding = EncodingBool
		}
	}
	return bt
}

func loadComposite(ent *dwarf.Entry, kind CompositeKind, dies []die, kids []int, ids map[dwarf.Offset]CoreID) *Composite {
	c := &Composite{
		Kind:        kind,
		Name:        name(ent),
		Declaration: boolAttr(ent, dwarf.AttrDeclaration),
	}
	if sz, ok := intAttr(ent, dwarf.AttrByteSize); ok {
		c.ByteSize = uint32(sz)
	}
	for _, ki := range kids {
		m := dies[ki].ent
		if m.Tag != dwarf.TagMember {
			continue
		}
		member := Member{
			Name: name(m),
			Type: refID(m, ids),
		}
		// DWARF 4 bit offsets carry over to BTF unmodified.
		if off, ok := intAttr(m, dwarf.AttrDataBitOffset); ok {
			member.BitOffset = uint32(off)
		} else if off, ok := intAttr(m, dwarf.AttrDataMemberLoc); ok {
			member.BitOffset = uint32(off * 8)
		}
		if bits, ok := intAttr(m, dwarf.AttrBitSize); ok {
			member.BitfieldSize = uint8(bits)
		}
		c.Members = append(c.Members, member)
	}
	return c
}

func loadArray(ent *dwarf.Entry, dies []die, kids []int, ids map[dwarf.Offset]CoreID) *Array {
	a := &Array{Type: refID(ent, ids)}
	for _, ki := range kids {
		s := dies[ki].ent
		if s.Tag != dwarf.TagSubrangeType {
			continue
		}
		if n, ok := intAttr(s, dwarf.AttrCount); ok {
			a.Dims = append(a.Dims, uint32(n))
		} else if ub, ok := intAttr(s, dwarf.AttrUpperBound); ok {
			a.Dims = append(a.Dims, uint32(ub+1))
		} else {
			a.Dims = append(a.Dims, 0)
		}
	}
	return a
}

func loadEnum(ent *dwarf.Entry, dies []die, kids []int, ids map[dwarf.Offset]CoreID) *Enum {
	e := &Enum{Name: name(ent)}
	if sz, ok := intAttr(ent, dwarf.AttrByteSize); ok {
		e.ByteSize = uint32(sz)
	}
	for _, ki := range kids {
		v := dies[ki].ent
		if v.Tag != dwarf.TagEnumerator {
			continue
		}
		val, _ := intAttr(v, dwarf.AttrConstValue)
		e.Enumerators = append(e.Enumerators, Enumerator{name(v), int32(val)})
	}
	return e
}

func loadProto(ent *dwarf.Entry, dies []die, kids []int, ids map[dwarf.Offset]CoreID) FuncProto {
	p := FuncProto{Ret: refID(ent, ids)}
	for _, ki := range kids {
		c := dies[ki].ent
		switch c.Tag {
		case dwarf.TagFormalParameter:
			p.Params = append(p.Params, Param{name(c), refID(c, ids)})
		case dwarf.TagUnspecifiedParameters:
			p.Variadic = true
		}
	}
	return p
}

// location extracts the address of a statically allocated variable
// from its location expression. Anything but a plain address
// expression yields 0.
func (l *Loader) location(ent *dwarf.Entry) uint64 {
	loc, ok := ent.Val(dwarf.AttrLocation).([]byte)
	if !ok || len(loc) == 0 || loc[0] != opAddr {
		return 0
	}
	switch len(loc) {
	case 9:
		return l.f.ByteOrder.Uint64(loc[1:])
	case 5:
		return uint64(l.f.ByteOrder.Uint32(loc[1:]))
	}
	return 0
}
