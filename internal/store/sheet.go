// Package store holds the household ledger: committed records, their
// persistence in a row-oriented sheet, and the single critical section
// through which every mutation passes.
package store

import (
	"context"
	"fmt"
	"sync"
)

// Sheet is the tabular persistence medium. Rows are addressed by absolute
// 0-based index; row 0 is the header. Cells are plain strings.
type Sheet interface {
	ReadAll(ctx context.Context) ([][]string, error)
	AppendRow(ctx context.Context, row []string) error
	UpdateCell(ctx context.Context, row, col int, value string) error
}

// CellUpdate is one cell write
type CellUpdate struct {
	Row   int
	Col   int
	Value string
}

// BatchUpdater is implemented by sheets that can apply several cell writes
// in one round trip. The record store prefers it when available.
type BatchUpdater interface {
	UpdateCells(ctx context.Context, updates []CellUpdate) error
}

// MemorySheet is a Sheet kept entirely in memory. It backs tests and dry runs.
type MemorySheet struct {
	mu   sync.Mutex
	rows [][]string
}

// NewMemorySheet creates a sheet holding a copy of rows
func NewMemorySheet(rows ...[]string) *MemorySheet {
	return &MemorySheet{rows: copyRows(rows)}
}

func (m *MemorySheet) ReadAll(ctx context.Context) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRows(m.rows), nil
}

func (m *MemorySheet) AppendRow(ctx context.Context, row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, append([]string(nil), row...))
	return nil
}

func (m *MemorySheet) UpdateCell(ctx context.Context, row, col int, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return setCell(m.rows, row, col, value)
}

func setCell(rows [][]string, row, col int, value string) error {
	if row < 0 || row >= len(rows) {
		return fmt.Errorf("row %d out of range (sheet has %d rows)", row, len(rows))
	}
	if col < 0 {
		return fmt.Errorf("invalid column %d", col)
	}
	for len(rows[row]) <= col {
		rows[row] = append(rows[row], "")
	}
	rows[row][col] = value
	return nil
}

func copyRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}
	return out
}
