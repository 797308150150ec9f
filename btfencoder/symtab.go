// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btfencoder

import (
	"debug/elf"
	"sort"

	"github.com/ianlancetaylor/demangle"
	"github.com/pkg/errors"
)

// elfFunction is one FUNC symbol collected from the object. The
// generated flag marks names whose BTF has already been emitted.
type elfFunction struct {
	name      string
	addr      uint64
	generated bool
}

// percpuVar locates one variable within the per-CPU section.
type percpuVar struct {
	addr uint64
	size uint32
	name string
}

const (
	// maxPerCPUVars bounds the per-CPU table. Exceeding it is a
	// fatal collection error.
	maxPerCPUVars = 4096

	// funcTableCap reproduces the function table's allocation
	// pattern on large kernels: start at 1000 entries, grow by
	// half (see appendFunc).
	funcTableCap = 1000
)

func appendFunc(funcs []elfFunction, fn elfFunction) []elfFunction {
	if len(funcs) == cap(funcs) {
		grown := make([]elfFunction, len(funcs), cap(funcs)+cap(funcs)/2)
		copy(grown, funcs)
		funcs = grown
	}
	return append(funcs, fn)
}

// funcsLayout holds the six symbol-table anchors that delimit the
// ftrace mcount table and the init sections. Function filtering
// activates only when all six are present.
type funcsLayout struct {
	mcountStart, mcountStop    uint64
	initBegin, initEnd         uint64
	preserveBegin, preserveEnd uint64
	mcountSecIdx               elf.SectionIndex
}

func (l *funcsLayout) complete() bool {
	return l.mcountStart != 0 && l.mcountStop != 0 &&
		l.initBegin != 0 && l.initEnd != 0 &&
		l.preserveBegin != 0 && l.preserveEnd != 0
}

// collectSymbols makes one pass over the object's symbol table,
// populating the function table, the per-CPU table and the layout
// anchors. An object without a symbol table leaves every table
// empty, which downstream passes treat as "select functions from the
// debug info instead".
func (e *Encoder) collectSymbols(f *elf.File, collectPercpu bool) error {
	syms, err := f.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return nil
		}
		return errors.Wrap(err, "reading symbol table")
	}

	percpu := e.w.PerCPU()
	e.funcs = make([]elfFunction, 0, funcTableCap)
	for _, sym := range syms {
		symType := elf.ST_TYPE(sym.Info)

		if symType == elf.STT_FUNC && sym.Value != 0 {
			e.funcs = appendFunc(e.funcs, elfFunction{name: sym.Name, addr: sym.Value})
		}

		if collectPercpu && percpu != nil && sym.Section == percpu.Index &&
			symType == elf.STT_OBJECT && sym.Value != 0 && sym.Size != 0 {
			if !validTypeName(sym.Name) {
				if !e.Force {
					return errors.Errorf("invalid per-CPU variable name %q", sym.Name)
				}
				log.Warnf("ignoring per-CPU variable with invalid name %q", sym.Name)
			} else {
				if len(e.percpu) >= maxPerCPUVars {
					return errors.Errorf("too many per-CPU variables (max %d)", maxPerCPUVars)
				}
				e.percpu = append(e.percpu, percpuVar{
					addr: sym.Value,
					size: uint32(sym.Size),
					name: sym.Name,
				})
			}
		}

		switch sym.Name {
		case "__start_mcount_loc":
			if e.layout.mcountStart == 0 {
				e.layout.mcountStart = sym.Value
				e.layout.mcountSecIdx = sym.Section
			}
		case "__stop_mcount_loc":
			if e.layout.mcountStop == 0 {
				e.layout.mcountStop = sym.Value
			}
		case "__init_begin":
			if e.layout.initBegin == 0 {
				e.layout.initBegin = sym.Value
			}
		case "__init_end":
			if e.layout.initEnd == 0 {
				e.layout.initEnd = sym.Value
			}
		case "__init_bpf_preserve_type_begin":
			if e.layout.preserveBegin == 0 {
				e.layout.preserveBegin = sym.Value
			}
		case "__init_bpf_preserve_type_end":
			if e.layout.preserveEnd == 0 {
				e.layout.preserveEnd = sym.Value
			}
		}
	}

	sort.Slice(e.funcs, func(i, j int) bool { return e.funcs[i].name < e.funcs[j].name })
	sort.Slice(e.percpu, func(i, j int) bool { return e.percpu[i].addr < e.percpu[j].addr })

	if !e.layout.complete() || len(e.funcs) == 0 {
		e.funcs = nil
		return nil
	}
	return e.filterFunctions(f)
}

// filterFunctions drops every collected function that the kernel's
// function tracer cannot attach to: init-section functions outside
// the bpf-preserve-type range, and functions without an entry in the
// mcount address table.
func (e *Encoder) filterFunctions(f *elf.File) error {
	l := &e.layout
	if int(l.mcountSecIdx) >= len(f.Sections) {
		return errors.Errorf("mcount section index %d out of range", l.mcountSecIdx)
	}
	sec := f.Sections[l.mcountSecIdx]
	data, err := sec.Data()
	if err != nil {
		return errors.Wrapf(err, "reading section %s", sec.Name)
	}

	entSize := 8
	if f.Class == elf.ELFCLASS32 {
		entSize = 4
	}
	start := l.mcountStart - sec.Addr
	n := int(l.mcountStop-l.mcountStart) / entSize
	if l.mcountStart < sec.Addr || start+uint64(n*entSize) > uint64(len(data)) {
		return errors.Errorf("mcount table [%#x,%#x) outside section %s", l.mcountStart, l.mcountStop, sec.Name)
	}

	mcount := make([]uint64, n)
	for i := range mcount {
		off := int(start) + i*entSize
		if entSize == 8 {
			mcount[i] = f.ByteOrder.Uint64(data[off:])
		} else {
			mcount[i] = uint64(f.ByteOrder.Uint32(data[off:]))
		}
	}
	sort.Slice(mcount, func(i, j int) bool { return mcount[i] < mcount[j] })

	kept := e.funcs[:0]
	for _, fn := range e.funcs {
		if !e.traceable(fn.addr, mcount) {
			if e.Verbose {
				log.Debugf("skipping non-traceable function %s", demangle.Filter(fn.name))
			}
			continue
		}
		kept = append(kept, fn)
	}
	e.funcs = kept
	return nil
}

func (e *Encoder) traceable(addr uint64, mcount []uint64) bool {
	l := &e.layout
	if addr >= l.initBegin && addr < l.initEnd &&
		!(addr >= l.preserveBegin && addr < l.preserveEnd) {
		return false
	}
	i := sort.Search(len(mcount), func(i int) bool { return mcount[i] >= addr })
	return i < len(mcount) && mcount[i] == addr
}

// findFunc looks up a collected function by name.
func (e *Encoder) findFunc(name string) *elfFunction {
	i := sort.Search(len(e.funcs), func(i int) bool { return e.funcs[i].name >= name })
	if i < len(e.funcs) && e.funcs[i].name == name {
		return &e.funcs[i]
	}
	return nil
}

// findPerCPU looks up a per-CPU variable by address.
func (e *Encoder) findPerCPU(addr uint64) *percpuVar {
	i := sort.Search(len(e.percpu), func(i int) bool { return e.percpu[i].addr >= addr })
	if i < len(e.percpu) && e.percpu[i].addr == addr {
		return &e.percpu[i]
	}
	return nil
}
