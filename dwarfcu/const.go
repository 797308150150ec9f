// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarfcu

// Base type attribute encodings
const (
	ateAddress      = 0x01
	ateBoolean      = 0x02
	ateFloat        = 0x04
	ateSigned       = 0x05
	ateSignedChar   = 0x06
	ateUnsigned     = 0x07
	ateUnsignedChar = 0x08

	// DWARF 3
	ateImaginaryFloat = 0x09
	atePackedDecimal  = 0x0a
	ateNumericString  = 0x0b
	ateEdited         = 0x0c
	ateSignedFixed    = 0x0d
	ateUnsignedFixed  = 0x0e
	ateDecimalFloat   = 0x0f

	// DWARF 4
	ateUTF = 0x10
)

// Location expression opcodes
const (
	opAddr = 0x03
)
