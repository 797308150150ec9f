// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btfencoder

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func TestValidTypeName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"", false},
		{"x", true},
		{"_x", true},
		{".hidden", true},
		{"current_task", true},
		{"irq_stack.union", true},
		{"9lives", false},
		{"x9", true},
		{"has-dash", false},
		{"has space", false},
		{"tab\tname", false},
		{"ünïcode", false},
		{strings.Repeat("a", 127), true},
		{strings.Repeat("a", 128), false},
		{"_" + strings.Repeat("0", 126), true},
	}
	for _, tt := range tests {
		assert.Equal(t, validTypeName(tt.name), tt.valid, "name %q", tt.name)
	}
}
