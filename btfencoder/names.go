// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btfencoder

// maxNameLen is the size of the window a BTF consumer scans for a
// name's terminating NUL, so a valid name holds at most maxNameLen-1
// characters.
const maxNameLen = 128

// validTypeName reports whether name is a legal BTF identifier: a
// letter, underscore or dot, followed by letters, digits, underscores
// or dots.
func validTypeName(name string) bool {
	if name == "" || len(name) > maxNameLen-1 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_' || c == '.':
		case 'A' <= c && c <= 'Z':
		case 'a' <= c && c <= 'z':
		case '0' <= c && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
