package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"hsa-reconciliation-service/pkg/errors"
)

// SQLiteSheet stores sheet rows in a SQLite table, one JSON-encoded row of
// cells per row index. Use ":memory:" for a throwaway database.
type SQLiteSheet struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteSheet opens (and migrates) the database at dbPath
func NewSQLiteSheet(dbPath string) (*SQLiteSheet, error) {
	dsn := dbPath + "?_journal_mode=WAL"
	if dbPath == ":memory:" {
		dsn = dbPath
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageRead, "open_sqlite", err)
	}
	// a :memory: database lives and dies with its connection
	db.SetMaxOpenConns(1)

	sheet := &SQLiteSheet{db: db}
	if err := sheet.migrate(); err != nil {
		db.Close()
		return nil, errors.StorageError(errors.CodeStorageWrite, "migrate_sqlite", err)
	}
	return sheet, nil
}

// Close closes the database connection.
func (s *SQLiteSheet) Close() error {
	return s.db.Close()
}

func (s *SQLiteSheet) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sheet_rows (
		row_index INTEGER PRIMARY KEY,
		cells TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteSheet) ReadAll(ctx context.Context) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT row_index, cells FROM sheet_rows ORDER BY row_index`)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageRead, "read_rows", err)
	}
	defer rows.Close()

	var result [][]string
	for rows.Next() {
		var index int
		var cellsJSON string
		if err := rows.Scan(&index, &cellsJSON); err != nil {
			return nil, errors.StorageError(errors.CodeStorageRead, "read_rows", err)
		}
		if index != len(result) {
			return nil, errors.StorageError(errors.CodeStorageRead, "read_rows",
				fmt.Errorf("row index %d found where %d was expected", index, len(result)))
		}

		var cells []string
		if err := json.Unmarshal([]byte(cellsJSON), &cells); err != nil {
			return nil, errors.StorageError(errors.CodeStorageRead, "read_rows",
				fmt.Errorf("row %d: %w", index, err))
		}
		result = append(result, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStorageRead, "read_rows", err)
	}
	return result, nil
}

func (s *SQLiteSheet) AppendRow(ctx context.Context, row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cellsJSON, err := json.Marshal(row)
	if err != nil {
		return errors.StorageError(errors.CodeStorageWrite, "append_row", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sheet_rows (row_index, cells)
		SELECT COALESCE(MAX(row_index) + 1, 0), ? FROM sheet_rows`, string(cellsJSON))
	if err != nil {
		return errors.StorageError(errors.CodeStorageWrite, "append_row", err)
	}
	return nil
}

func (s *SQLiteSheet) UpdateCell(ctx context.Context, row, col int, value string) error {
	return s.UpdateCells(ctx, []CellUpdate{{Row: row, Col: col, Value: value}})
}

// UpdateCells applies every update in a single transaction
func (s *SQLiteSheet) UpdateCells(ctx context.Context, updates []CellUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError(errors.CodeStorageWrite, "update_cells", err)
	}
	defer tx.Rollback()

	changed := make(map[int][]string)
	for _, u := range updates {
		cells, ok := changed[u.Row]
		if !ok {
			var cellsJSON string
			err := tx.QueryRowContext(ctx, `SELECT cells FROM sheet_rows WHERE row_index = ?`, u.Row).Scan(&cellsJSON)
			if err == sql.ErrNoRows {
				return errors.StorageError(errors.CodeStorageWrite, "update_cells",
					fmt.Errorf("row %d does not exist", u.Row))
			}
			if err != nil {
				return errors.StorageError(errors.CodeStorageRead, "update_cells", err)
			}
			if err := json.Unmarshal([]byte(cellsJSON), &cells); err != nil {
				return errors.StorageError(errors.CodeStorageRead, "update_cells", err)
			}
		}

		rows := [][]string{cells}
		if err := setCell(rows, 0, u.Col, u.Value); err != nil {
			return errors.StorageError(errors.CodeStorageWrite, "update_cells", err)
		}
		changed[u.Row] = rows[0]
	}

	for index, cells := range changed {
		cellsJSON, err := json.Marshal(cells)
		if err != nil {
			return errors.StorageError(errors.CodeStorageWrite, "update_cells", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE sheet_rows SET cells = ?, updated_at = CURRENT_TIMESTAMP WHERE row_index = ?`,
			string(cellsJSON), index)
		if err != nil {
			return errors.StorageError(errors.CodeStorageWrite, "update_cells", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError(errors.CodeStorageWrite, "update_cells", err)
	}
	return nil
}
