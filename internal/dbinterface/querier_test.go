// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkSize(t *testing.T) {
	tests := []struct {
		name         string
		paramsPerRow int
		expected     int
	}{
		{name: "single_param_rows", paramsPerRow: 1, expected: 900},
		{name: "ten_param_rows", paramsPerRow: 10, expected: 90},
		{name: "wide_rows", paramsPerRow: 1000, expected: 1},
		{name: "zero_guard", paramsPerRow: 0, expected: 900},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ChunkSize(tt.paramsPerRow))
		})
	}
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "(?)", Placeholders(1, 1))
	assert.Equal(t, "(?,?),(?,?)", Placeholders(2, 2))
	assert.Equal(t, "(?,?,?)", Placeholders(1, 3))
}

func TestInClause(t *testing.T) {
	clause, args := InClause([]string{"a", "b", "c"})
	assert.Equal(t, "?,?,?", clause)
	assert.Equal(t, []any{"a", "b", "c"}, args)
}
