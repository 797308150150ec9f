// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btf

// stringTable interns NUL-terminated strings and hands out their
// offsets. Offset 0 is the empty string, as the BTF string section
// must begin with a NUL byte.
type stringTable struct {
	buf     []byte
	offsets map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{
		buf:     []byte{0},
		offsets: map[string]uint32{"": 0},
	}
}

// add returns the offset of s, appending it if it has not been seen
// before.
func (st *stringTable) add(s string) uint32 {
	if off, ok := st.offsets[s]; ok {
		return off
	}
	off := uint32(len(st.buf))
	st.buf = append(st.buf, s...)
	st.buf = append(st.buf, 0)
	st.offsets[s] = off
	return off
}

func (st *stringTable) size() int {
	return len(st.buf)
}
