// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"database/sql"
	"strings"
)

// SQLite has a SQLITE_MAX_VARIABLE_NUMBER limit (default 999, but can be higher)
// Modern SQLite often supports 32766, but we stay conservative at 900
const maxParams = 900

// Querier is the common query surface shared by *sql.DB and *sql.Tx.
// Stores take this so callers can run them inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner additionally exposes transaction creation. *sql.DB satisfies it.
type TxBeginner interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// ChunkSize returns how many rows fit in a single statement when each row
// consumes paramsPerRow bound parameters.
func ChunkSize(paramsPerRow int) int {
	if paramsPerRow <= 0 {
		return maxParams
	}
	n := maxParams / paramsPerRow
	if n < 1 {
		n = 1
	}
	return n
}

// Placeholders builds a "(?,?,…),(?,?,…)" VALUES fragment for rows×cols
// bound parameters.
func Placeholders(rows, cols int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?,", cols), ",") + ")"
	var sb strings.Builder
	for i := 0; i < rows; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(row)
	}
	return sb.String()
}

// InClause builds a "?,?,…" fragment plus the boxed args for an IN (...) match.
func InClause(values []string) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(values)), ","), args
}
