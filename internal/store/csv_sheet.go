package store

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"

	"hsa-reconciliation-service/internal/parsers"
	"hsa-reconciliation-service/pkg/errors"
)

// CSVSheet persists the ledger as a CSV file. Appends write in place;
// cell updates rewrite the file through a temporary file and a rename.
type CSVSheet struct {
	path string
	mu   sync.Mutex
}

// NewCSVSheet returns a sheet backed by path. The file is created on first write.
func NewCSVSheet(path string) *CSVSheet {
	return &CSVSheet{path: path}
}

// Path returns the backing file path
func (s *CSVSheet) Path() string {
	return s.path
}

func (s *CSVSheet) ReadAll(ctx context.Context) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll(ctx)
}

func (s *CSVSheet) readAll(ctx context.Context) ([][]string, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil, nil
	}
	return parsers.ReadRows(ctx, s.path)
}

func (s *CSVSheet) AppendRow(ctx context.Context, row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.FileError(errors.CodeDirectoryError, s.path, err)
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, s.path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(row); err != nil {
		return errors.StorageError(errors.CodeStorageWrite, "append_row", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return errors.StorageError(errors.CodeStorageWrite, "append_row", err)
	}
	return nil
}

func (s *CSVSheet) UpdateCell(ctx context.Context, row, col int, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readAll(ctx)
	if err != nil {
		return err
	}
	if err := setCell(rows, row, col, value); err != nil {
		return errors.StorageError(errors.CodeStorageWrite, "update_cell", err)
	}
	return s.rewrite(rows)
}

// UpdateCells applies every update and rewrites the file once
func (s *CSVSheet) UpdateCells(ctx context.Context, updates []CellUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readAll(ctx)
	if err != nil {
		return err
	}
	for _, u := range updates {
		if err := setCell(rows, u.Row, u.Col, u.Value); err != nil {
			return errors.StorageError(errors.CodeStorageWrite, "update_cells", err)
		}
	}
	return s.rewrite(rows)
}

func (s *CSVSheet) rewrite(rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, s.path, err)
	}
	defer os.Remove(tmp.Name())

	writer := csv.NewWriter(tmp)
	if err := writer.WriteAll(rows); err != nil {
		tmp.Close()
		return errors.StorageError(errors.CodeStorageWrite, "rewrite_sheet", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.StorageError(errors.CodeStorageWrite, "rewrite_sheet", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.StorageError(errors.CodeStorageWrite, "rewrite_sheet", err)
	}
	return nil
}
