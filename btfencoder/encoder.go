// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package btfencoder translates the debug information of a compiled
// object into a BTF blob. An Encoder is driven with one compilation
// unit at a time and keys its session on the unit's filename: the
// first unit of an object opens a btf.Writer and collects the
// object's symbol table, subsequent units of the same object append
// to it, and a unit from a different object (or Finalize) commits the
// accumulated blob.
package btfencoder

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/btfkit/go-btf/btf"
	"github.com/btfkit/go-btf/dwarfcu"
)

var log = logrus.WithField("component", "btfencoder")

// syntheticIndexName names the 32-bit base type synthesized for array
// index references in units that declare no int of their own.
const syntheticIndexName = "__ARRAY_SIZE_TYPE__"

// An Encoder is one encoding session over a stream of compilation
// units. The zero value is ready to use after setting Emit; the
// exported fields must not change while a session is active.
type Encoder struct {
	// Verbose enables per-symbol diagnostics.
	Verbose bool

	// Force downgrades invalid per-CPU names and void-typed
	// per-CPU variables from fatal errors to skips.
	Force bool

	// SkipVars disables per-CPU variable collection and emission.
	SkipVars bool

	// BaseID seeds the type ID space, for appending to an already
	// encoded base BTF. Emitted IDs start at BaseID+1.
	BaseID btf.TypeID

	// Emit receives the finished blob for each object file.
	Emit func(filename string, blob []byte) error

	w        *btf.Writer
	filename string

	funcs  []elfFunction
	percpu []percpuVar
	layout funcsLayout

	arrayIndexID  btf.TypeID
	hasIndexType  bool
	needIndexType bool
}

// EncodeCU encodes one compilation unit. A fatal error tears down
// the active session; no partial blob is ever committed.
func (e *Encoder) EncodeCU(cu *dwarfcu.CU) error {
	if e.w != nil && e.filename != cu.Filename {
		if err := e.flush(); err != nil {
			e.teardown()
			return err
		}
	}
	if e.w == nil {
		e.w = btf.NewWriter(cu.Filename, cu.ELF, e.BaseID)
		e.filename = cu.Filename
		e.hasIndexType = false
		e.needIndexType = false
		e.arrayIndexID = 0
		if cu.ELF != nil {
			if err := e.collectSymbols(cu.ELF, !e.SkipVars); err != nil {
				e.teardown()
				return err
			}
		}
	}

	typeIDOff := e.w.TypeCount()

	if !e.hasIndexType {
		if id := cu.FindBaseTypeByName("int"); id != 0 {
			e.arrayIndexID = typeIDOff + btf.TypeID(id)
			e.hasIndexType = true
		} else {
			// Reserve the slot just past the unit's last type
			// for a synthetic index type. An int declared later
			// in the unit is deliberately not reconsidered:
			// doing so would shift IDs already handed out.
			e.arrayIndexID = typeIDOff + btf.TypeID(len(cu.Types)) + 1
		}
	}

	for i, tag := range cu.Types {
		if err := e.encodeTag(dwarfcu.CoreID(i+1), tag, typeIDOff); err != nil {
			e.teardown()
			return err
		}
	}

	// The synthetic index type goes after the whole type table so
	// the dense core ID numbering above stays intact.
	if e.needIndexType && !e.hasIndexType {
		if _, err := e.w.AddBaseType(syntheticIndexName, 4, 32, 0); err != nil {
			e.teardown()
			return errors.Wrap(err, "encoding array index type")
		}
		e.hasIndexType = true
	}

	if err := e.encodeFunctions(cu, typeIDOff); err != nil {
		e.teardown()
		return err
	}
	if err := e.encodeVariables(cu, typeIDOff); err != nil {
		e.teardown()
		return err
	}
	return nil
}

// Finalize commits the active session, if any.
func (e *Encoder) Finalize() error {
	err := e.flush()
	e.teardown()
	return err
}

// flush emits the per-CPU DATASEC, serializes the blob and hands it
// to Emit, then ends the session.
func (e *Encoder) flush() error {
	if e.w == nil {
		return nil
	}
	if e.w.SecinfoCount() > 0 {
		if err := e.w.AddDatasec(btf.PerCPUSectionName); err != nil {
			return errors.Wrap(err, "encoding per-CPU section")
		}
	}
	blob, err := e.w.Encode()
	if err != nil {
		return err
	}
	if e.Emit != nil {
		if err := e.Emit(e.w.Filename, blob); err != nil {
			return errors.Wrapf(err, "writing BTF for %s", e.w.Filename)
		}
	}
	e.teardown()
	return nil
}

func (e *Encoder) teardown() {
	e.w = nil
	e.filename = ""
	e.funcs = nil
	e.percpu = nil
	e.layout = funcsLayout{}
	e.arrayIndexID = 0
	e.hasIndexType = false
	e.needIndexType = false
}

// encodeTag emits the BTF record for one type tag and verifies that
// the writer assigned the ID the dense numbering demands.
func (e *Encoder) encodeTag(coreID dwarfcu.CoreID, tag dwarfcu.Tag, typeIDOff btf.TypeID) error {
	var (
		id  btf.TypeID
		err error
	)
	switch t := tag.(type) {
	case *dwarfcu.BaseType:
		id, err = e.w.AddBaseType(t.Name, t.ByteSize, t.Bits, intEncoding(t.Encoding))
	case *dwarfcu.Modifier:
		id, err = e.w.AddRefType(modifierKind(t.Kind), refID(t.Type, typeIDOff), "", false)
	case *dwarfcu.Typedef:
		id, err = e.w.AddRefType(btf.KindTypedef, refID(t.Type, typeIDOff), t.Name, false)
	case *dwarfcu.Composite:
		if t.Declaration {
			id, err = e.w.AddRefType(btf.KindFwd, 0, t.Name, t.Kind == dwarfcu.CompositeUnion)
		} else {
			id, err = e.encodeComposite(t, typeIDOff)
		}
	case *dwarfcu.Array:
		e.needIndexType = true
		id, err = e.w.AddArray(refID(t.Type, typeIDOff), e.arrayIndexID, t.NElems())
	case *dwarfcu.Enum:
		id, err = e.encodeEnum(t)
	case *dwarfcu.FuncProto:
		id, err = e.w.AddFuncProto(t, typeIDOff)
	default:
		return errors.Errorf("unsupported tag %T", tag)
	}
	if err != nil {
		return errors.Wrapf(err, "encoding %s", tagName(tag))
	}
	if want := typeIDOff + btf.TypeID(coreID); id != want {
		return errors.Errorf("unexpected type ID %d (expected %d) for %s", id, want, tagName(tag))
	}
	return nil
}

func (e *Encoder) encodeComposite(t *dwarfcu.Composite, typeIDOff btf.TypeID) (btf.TypeID, error) {
	kind := btf.KindStruct
	if t.Kind == dwarfcu.CompositeUnion {
		kind = btf.KindUnion
	}
	id, err := e.w.AddStruct(kind, t.Name, t.ByteSize)
	if err != nil {
		return 0, err
	}
	for _, m := range t.Members {
		// The member's DWARF bit offset is already in BTF's
		// convention.
		if err := e.w.AddMember(m.Name, refID(m.Type, typeIDOff), m.BitfieldSize, m.BitOffset); err != nil {
			return 0, errors.Wrapf(err, "member %s", m.Name)
		}
	}
	return id, nil
}

func (e *Encoder) encodeEnum(t *dwarfcu.Enum) (btf.TypeID, error) {
	id, err := e.w.AddEnum(t.Name, t.ByteSize)
	if err != nil {
		return 0, err
	}
	for _, v := range t.Enumerators {
		if err := e.w.AddEnumVal(v.Name, v.Value); err != nil {
			return 0, errors.Wrapf(err, "enumerator %s", v.Name)
		}
	}
	return id, nil
}

// encodeFunctions walks the unit's subprograms. With a populated
// function table (a kernel image), eligibility comes from the table:
// fully named parameters, a surviving table entry, and no prior
// emission of the same name. Without one, external definitions from
// the debug info are taken as-is.
func (e *Encoder) encodeFunctions(cu *dwarfcu.CU, typeIDOff btf.TypeID) error {
	for _, fn := range cu.Functions {
		if len(e.funcs) > 0 {
			if fn.HasUnnamedParams() {
				continue
			}
			entry := e.findFunc(fn.Name)
			if entry == nil || entry.generated {
				continue
			}
			entry.generated = true
		} else if fn.Declaration || !fn.External {
			continue
		}

		protoID, err := e.w.AddFuncProto(&fn.Proto, typeIDOff)
		if err != nil {
			return errors.Wrapf(err, "encoding prototype of %s", fn.Name)
		}
		if _, err := e.w.AddRefType(btf.KindFunc, protoID, fn.Name, false); err != nil {
			return errors.Wrapf(err, "encoding function %s", fn.Name)
		}
		if e.Verbose {
			log.Debugf("encoded function %s", fn.Name)
		}
	}
	return nil
}

// encodeVariables emits a VAR plus section-info record for every
// unit variable that resolves to a per-CPU symbol.
func (e *Encoder) encodeVariables(cu *dwarfcu.CU, typeIDOff btf.TypeID) error {
	if e.SkipVars {
		return nil
	}
	percpu := e.w.PerCPU()
	if percpu == nil || !e.w.HasSymtab() {
		return nil
	}

	for _, v := range cu.Variables {
		if v.Declaration && v.Spec == nil {
			continue
		}
		// Per-CPU variables always have global scope.
		if !v.External && v.Spec == nil {
			continue
		}
		addr := v.Address
		if v.Spec != nil {
			v = v.Spec
		}
		pv := e.findPerCPU(addr)
		if pv == nil {
			continue
		}
		if v.Type == 0 {
			if !e.Force {
				return errors.Errorf("per-CPU variable %s has void type", pv.name)
			}
			log.Warnf("ignoring void-typed per-CPU variable %s", pv.name)
			continue
		}

		linkage := btf.VarStatic
		if v.External {
			linkage = btf.VarGlobalAllocated
		}
		id, err := e.w.AddVar(typeIDOff+btf.TypeID(v.Type), pv.name, linkage)
		if err != nil {
			return errors.Wrapf(err, "encoding variable %s", pv.name)
		}
		if err := e.w.AddVarSecinfo(id, uint32(addr-percpu.Addr), pv.size); err != nil {
			return errors.Wrapf(err, "recording variable %s", pv.name)
		}
		if e.Verbose {
			log.Debugf("encoded per-CPU variable %s at offset %#x", pv.name, addr-percpu.Addr)
		}
	}
	return nil
}

// refID maps a core ID into the blob's ID space. Void stays void.
func refID(id dwarfcu.CoreID, typeIDOff btf.TypeID) btf.TypeID {
	if id == 0 {
		return 0
	}
	return typeIDOff + btf.TypeID(id)
}

func intEncoding(enc dwarfcu.BaseEncoding) btf.IntEncoding {
	switch enc {
	case dwarfcu.EncodingSigned:
		return btf.IntSigned
	case dwarfcu.EncodingSignedChar:
		return btf.IntSigned | btf.IntChar
	case dwarfcu.EncodingUnsignedChar:
		return btf.IntChar
	case dwarfcu.EncodingBool:
		return btf.IntBool
	}
	return 0
}

func modifierKind(kind dwarfcu.ModifierKind) btf.Kind {
	switch kind {
	case dwarfcu.ModifierConst:
		return btf.KindConst
	case dwarfcu.ModifierPointer:
		return btf.KindPtr
	case dwarfcu.ModifierRestrict:
		return btf.KindRestrict
	}
	return btf.KindVolatile
}

func tagName(tag dwarfcu.Tag) string {
	switch t := tag.(type) {
	case *dwarfcu.BaseType:
		return t.Name
	case *dwarfcu.Typedef:
		return t.Name
	case *dwarfcu.Composite:
		return t.Name
	case *dwarfcu.Enum:
		return t.Name
	}
	return fmt.Sprintf("%T", tag)
}
