// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarfcu

import "debug/elf"

// A CU is the debug information of one compilation unit: a dense,
// 1-based type table plus the functions and variables declared in the
// unit. The ELF handle is shared by every CU of the same object and
// stays open for as long as the loader is.
type CU struct {
	// Filename is the path of the object this unit was loaded
	// from. All CUs of one object carry the same Filename.
	Filename string

	// ELF is the containing object.
	ELF *elf.File

	// Types holds the unit's type tags. The tag at Types[i] has
	// core ID i+1.
	Types []Tag

	Functions []*Function
	Variables []*Variable
}

// Type returns the tag with the given core ID, or nil for 0 or an
// out-of-range ID.
func (cu *CU) Type(id CoreID) Tag {
	if id == 0 || int(id) > len(cu.Types) {
		return nil
	}
	return cu.Types[id-1]
}

// FindBaseTypeByName returns the core ID of the first base type with
// the given name, or 0 if the unit declares none.
func (cu *CU) FindBaseTypeByName(name string) CoreID {
	for i, t := range cu.Types {
		if bt, ok := t.(*BaseType); ok && bt.Name == name {
			return CoreID(i + 1)
		}
	}
	return 0
}

// Function is a subprogram declared in a CU.
type Function struct {
	Name        string
	Declaration bool
	External    bool
	Proto       FuncProto
}

// HasUnnamedParams reports whether any formal parameter of the
// function lacks a name.
func (f *Function) HasUnnamedParams() bool {
	for _, p := range f.Proto.Params {
		if p.Name == "" {
			return true
		}
	}
	return false
}

// Variable is a data object declared in a CU. Spec, when non-nil,
// links a definition back to the variable DIE it completes.
type Variable struct {
	Name        string
	Type        CoreID
	Address     uint64
	External    bool
	Declaration bool
	Spec        *Variable
}
