// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btf

import "encoding/binary"

// bufEncoder appends fixed-width values to a growing buffer in the
// target object's byte order.
type bufEncoder struct {
	buf   []byte
	order binary.ByteOrder
}

func (b *bufEncoder) len() int {
	return len(b.buf)
}

func (b *bufEncoder) u32(x uint32) {
	var tmp [4]byte
	b.order.PutUint32(tmp[:], x)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *bufEncoder) i32(x int32) {
	var tmp [4]byte
	b.order.PutUint32(tmp[:], uint32(x))
	b.buf = append(b.buf, tmp[:]...)
}

// patchU32 overwrites a previously encoded u32 at byte offset off.
func (b *bufEncoder) patchU32(off int, x uint32) {
	b.order.PutUint32(b.buf[off:], x)
}

func (b *bufEncoder) readU32(off int) uint32 {
	return b.order.Uint32(b.buf[off:])
}

func (b *bufEncoder) btfType(t btfType) int {
	off := b.len()
	b.u32(t.NameOff)
	b.u32(t.Info)
	b.u32(t.SizeOrType)
	return off
}
