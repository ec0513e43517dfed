package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"hsa-reconciliation-service/internal/authority"
	"hsa-reconciliation-service/internal/matcher"
	"hsa-reconciliation-service/internal/models"
	"hsa-reconciliation-service/pkg/errors"
	"hsa-reconciliation-service/pkg/logger"
)

// maxRowErrors bounds how many unreadable ledger rows are reported at once
const maxRowErrors = 20

// RecordStore is the authoritative in-process view of the ledger. Every
// mutation runs inside Update, which holds the store lock from detection
// through persistence, so two concurrent commits can never both miss each
// other. Readers receive copies.
type RecordStore struct {
	mu     sync.RWMutex
	sheet  Sheet
	layout *Layout
	logger logger.Logger
	now    func() time.Time

	records []*models.Record
	byID    map[int]*models.Record
	index   *matcher.RecordIndex
	rowOf   map[int]int
	rows    [][]string
	nextID  int
}

// Option configures a RecordStore
type Option func(*RecordStore)

// WithClock overrides the clock used to stamp DateAdded
func WithClock(now func() time.Time) Option {
	return func(s *RecordStore) { s.now = now }
}

// WithLogger sets the store logger
func WithLogger(log logger.Logger) Option {
	return func(s *RecordStore) { s.logger = log }
}

// Open loads the ledger from sheet. An empty sheet is initialised with the
// default header row.
func Open(ctx context.Context, sheet Sheet, opts ...Option) (*RecordStore, error) {
	s := &RecordStore{
		sheet:  sheet,
		logger: logger.GetGlobalLogger().WithComponent("store"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload discards the in-memory view and reads the sheet again
func (s *RecordStore) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *RecordStore) load(ctx context.Context) error {
	rows, err := s.sheet.ReadAll(ctx)
	if err != nil {
		return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageRead, "failed to read ledger")
	}

	if len(rows) == 0 {
		if err := s.sheet.AppendRow(ctx, Columns); err != nil {
			return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageWrite, "failed to write ledger header")
		}
		rows = [][]string{append([]string(nil), Columns...)}
	}

	layout, err := NewLayout(rows[0])
	if err != nil {
		return err
	}

	records := make([]*models.Record, 0, len(rows)-1)
	byID := make(map[int]*models.Record, len(rows)-1)
	rowOf := make(map[int]int, len(rows)-1)
	maxID := 0

	collector := errors.NewParseErrorCollector(maxRowErrors)
	for i := 1; i < len(rows); i++ {
		if isBlank(rows[i]) {
			continue
		}
		rec, err := layout.Decode(rows[i], i)
		if err != nil {
			rowErr, ok := err.(*errors.RowError)
			if !ok {
				return err
			}
			if !collector.Add(rowErr) {
				break
			}
			continue
		}
		if _, dup := byID[rec.ID]; dup {
			return errors.StorageError(errors.CodeStorageRead, "load_ledger",
				fmt.Errorf("record id %d appears on more than one row", rec.ID)).WithContext("row", i)
		}
		records = append(records, rec)
		byID[rec.ID] = rec
		rowOf[rec.ID] = i
		if rec.ID > maxID {
			maxID = rec.ID
		}
	}

	if collector.HasErrors() {
		for _, rowErr := range collector.Errors() {
			s.logger.WithError(rowErr).Warn("Unreadable ledger row")
		}
		summary := collector.Summary()
		return errors.StorageError(errors.CodeStorageRead, "load_ledger", summary).
			WithContext("invalid_rows", summary.Total).
			WithSuggestion("fix the listed ledger cells; every row must decode before the ledger can be used")
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	s.layout = layout
	s.records = records
	s.byID = byID
	s.rowOf = rowOf
	s.rows = rows
	s.nextID = maxID + 1
	s.index = matcher.NewRecordIndex(records)

	for _, missing := range missingColumns(layout) {
		s.logger.WithField("column", missing).Warn("Ledger header lacks a column; its values will not be persisted")
	}

	s.logger.WithFields(logger.Fields{
		"records": len(records),
		"next_id": s.nextID,
	}).Debug("Loaded ledger")
	return nil
}

// Tx is the view of the store handed to an Update callback. Records it
// returns are live and must not be retained after the callback returns.
type Tx struct {
	store    *RecordStore
	undo     map[int]models.Record
	touched  []int
	inserted []*models.Record
}

// Records returns every committed record, including ones committed earlier
// in this transaction, ordered by id.
func (tx *Tx) Records() []*models.Record {
	return tx.store.records
}

// Index returns the lookup index over Records
func (tx *Tx) Index() *matcher.RecordIndex {
	return tx.store.index
}

// Get returns the live record with the given id
func (tx *Tx) Get(id int) (*models.Record, error) {
	rec, ok := tx.store.byID[id]
	if !ok {
		return nil, errors.NotFoundError(id)
	}
	return rec, nil
}

// Modify returns the live record with the given id for mutation. Changes
// are persisted when the transaction commits and rolled back if it fails.
func (tx *Tx) Modify(id int) (*models.Record, error) {
	rec, err := tx.Get(id)
	if err != nil {
		return nil, err
	}
	tx.touch(rec)
	return rec, nil
}

func (tx *Tx) touch(rec *models.Record) {
	if _, seen := tx.undo[rec.ID]; seen {
		return
	}
	for _, ins := range tx.inserted {
		if ins == rec {
			return
		}
	}
	saved := *rec.Clone()
	tx.undo[rec.ID] = saved
	tx.touched = append(tx.touched, rec.ID)
}

// Commit assigns the next id to rec and adds it to the ledger. rec is
// consumed: the store keeps it and returns it as the live record.
func (tx *Tx) Commit(rec *models.Record) (*models.Record, error) {
	s := tx.store
	for _, id := range rec.LinkedRecordIDs.IDs() {
		if _, ok := s.byID[id]; !ok {
			return nil, errors.LinkIntegrityError(s.nextID, id)
		}
	}

	rec.ID = s.nextID
	s.nextID++
	if rec.DateAdded.IsZero() {
		rec.DateAdded = civil.DateOf(s.now())
	}
	authority.Enforce(rec)

	s.records = append(s.records, rec)
	s.byID[rec.ID] = rec
	s.index.Add(rec)
	tx.inserted = append(tx.inserted, rec)
	return rec, nil
}

// Link records a relationship between two committed records and re-derives
// both authority flags. It reports whether anything changed.
func (tx *Tx) Link(sourceID, targetID int, rel authority.Relationship) (bool, error) {
	source, ok := tx.store.byID[sourceID]
	if !ok {
		return false, errors.NotFoundError(sourceID)
	}
	target, ok := tx.store.byID[targetID]
	if !ok {
		return false, errors.LinkIntegrityError(sourceID, targetID)
	}

	before := map[int]models.Record{sourceID: *source.Clone(), targetID: *target.Clone()}
	changed, err := authority.Link(source, target, rel)
	if err != nil || !changed {
		return changed, err
	}

	for id, saved := range before {
		if _, seen := tx.undo[id]; !seen && !tx.isInserted(id) {
			tx.undo[id] = saved
			tx.touched = append(tx.touched, id)
		}
	}
	return true, nil
}

// AddSourceReference notes another source document for an existing record
func (tx *Tx) AddSourceReference(id int, source string) (bool, error) {
	rec, err := tx.Get(id)
	if err != nil {
		return false, err
	}
	if containsString(rec.SourceFiles, strings.TrimSpace(source)) {
		return false, nil
	}
	tx.touch(rec)
	return rec.AddSourceFile(source), nil
}

func (tx *Tx) isInserted(id int) bool {
	for _, rec := range tx.inserted {
		if rec.ID == id {
			return true
		}
	}
	return false
}

func (tx *Tx) rollback() {
	s := tx.store
	for id, saved := range tx.undo {
		*s.byID[id] = saved
	}
	if len(tx.inserted) > 0 {
		for _, rec := range tx.inserted {
			delete(s.byID, rec.ID)
		}
		s.records = s.records[:len(s.records)-len(tx.inserted)]
		s.nextID = tx.inserted[0].ID
		s.index = matcher.NewRecordIndex(s.records)
	}
}

// Update runs fn inside the store's critical section and persists what it
// changed. If fn fails nothing is written and the in-memory state is
// restored.
func (s *RecordStore) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "store_update", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{store: s, undo: make(map[int]models.Record)}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}

	if err := s.persist(ctx, tx); err != nil {
		s.logger.WithError(err).Error("Failed to persist ledger changes; reloading from sheet")
		if reloadErr := s.load(ctx); reloadErr != nil {
			s.logger.WithError(reloadErr).Error("Failed to reload ledger")
		}
		return err
	}
	return nil
}

func (s *RecordStore) persist(ctx context.Context, tx *Tx) error {
	for _, rec := range tx.inserted {
		row := s.layout.Encode(rec)
		if err := s.sheet.AppendRow(ctx, row); err != nil {
			return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageWrite,
				fmt.Sprintf("failed to append record %d", rec.ID))
		}
		s.rowOf[rec.ID] = len(s.rows)
		s.rows = append(s.rows, row)
	}

	var updates []CellUpdate
	for _, id := range tx.touched {
		row := s.rowOf[id]
		for name, value := range encodeFields(s.byID[id]) {
			col, ok := s.layout.Col(name)
			if !ok {
				continue
			}
			if col < len(s.rows[row]) && s.rows[row][col] == value {
				continue
			}
			updates = append(updates, CellUpdate{Row: row, Col: col, Value: value})
		}
	}
	if len(updates) == 0 {
		return nil
	}

	sort.Slice(updates, func(i, j int) bool {
		if updates[i].Row != updates[j].Row {
			return updates[i].Row < updates[j].Row
		}
		return updates[i].Col < updates[j].Col
	})

	if batch, ok := s.sheet.(BatchUpdater); ok {
		if err := batch.UpdateCells(ctx, updates); err != nil {
			return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageWrite, "failed to update ledger cells")
		}
	} else {
		for _, u := range updates {
			if err := s.sheet.UpdateCell(ctx, u.Row, u.Col, u.Value); err != nil {
				return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageWrite, "failed to update ledger cell")
			}
		}
	}

	for _, u := range updates {
		_ = setCell(s.rows, u.Row, u.Col, u.Value)
	}
	return nil
}

// LinkRecords links two committed records in a single transaction
func (s *RecordStore) LinkRecords(ctx context.Context, sourceID, targetID int, rel authority.Relationship) (bool, error) {
	var changed bool
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		changed, err = tx.Link(sourceID, targetID, rel)
		return err
	})
	return changed, err
}

// Correction is an operator fix to a committed record. Nil fields are left alone.
type Correction struct {
	Authority             *models.Authority
	PatientResponsibility *decimal.Decimal
	Note                  string
}

// CorrectRecord applies an operator correction. The authority invariants
// still hold afterwards: an EOB stays "Yes" and a linked non-EOB stays "No".
func (s *RecordStore) CorrectRecord(ctx context.Context, id int, c Correction) (*models.Record, error) {
	if c.PatientResponsibility != nil && c.PatientResponsibility.IsNegative() {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, "patient_responsibility", c.PatientResponsibility.String(), nil)
	}

	var result *models.Record
	err := s.Update(ctx, func(tx *Tx) error {
		rec, err := tx.Modify(id)
		if err != nil {
			return err
		}
		if c.Authority != nil {
			rec.Authority = *c.Authority
		}
		if c.PatientResponsibility != nil {
			rec.PatientResponsibility = *c.PatientResponsibility
		}
		if c.Note != "" {
			rec.Notes = appendNote(rec.Notes, c.Note)
		}
		authority.Enforce(rec)
		result = rec.Clone()
		return nil
	})
	return result, err
}

// MarkReimbursed records an HSA reimbursement against a record. A zero
// date means today.
func (s *RecordStore) MarkReimbursed(ctx context.Context, id int, amount decimal.Decimal, date civil.Date) (*models.Record, error) {
	if !amount.IsPositive() {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, "reimbursement_amount", amount.String(), nil).
			WithSuggestion("reimbursement amount must be greater than zero")
	}
	if !date.IsZero() && !date.IsValid() {
		return nil, errors.ValidationError(errors.CodeInvalidDate, "reimbursement_date", date.String(), nil)
	}

	var result *models.Record
	err := s.Update(ctx, func(tx *Tx) error {
		rec, err := tx.Modify(id)
		if err != nil {
			return err
		}
		if date.IsZero() {
			date = civil.DateOf(s.now())
		}
		rec.Reimbursed = true
		rec.ReimbursementAmount = amount
		rec.ReimbursementDate = date
		result = rec.Clone()
		return nil
	})
	return result, err
}

// LookupByID returns a copy of one record
func (s *RecordStore) LookupByID(ctx context.Context, id int) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFoundError(id)
	}
	return rec.Clone(), nil
}

// Snapshot returns copies of every record ordered by id
func (s *RecordStore) Snapshot(ctx context.Context) []*models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Record, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Clone()
	}
	return out
}

// Filter selects records in Query. Zero fields match everything.
type Filter struct {
	Year         int
	Patient      string
	DocumentType models.DocumentType
	Category     models.Category
	// Authority, when set, selects one flag value; Standalone selects
	// records whose flag is empty
	Authority *models.Authority
}

// Matches reports whether rec passes the filter
func (f Filter) Matches(rec *models.Record) bool {
	if f.Year != 0 && rec.Year() != f.Year {
		return false
	}
	if f.Patient != "" && !strings.EqualFold(rec.Patient, f.Patient) {
		return false
	}
	if f.DocumentType != "" && rec.DocumentType != f.DocumentType {
		return false
	}
	if f.Category != "" && rec.Category != f.Category {
		return false
	}
	if f.Authority != nil && rec.Authority != *f.Authority {
		return false
	}
	return true
}

// Query returns copies of matching records ordered by id
func (s *RecordStore) Query(ctx context.Context, f Filter) []*models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Record
	for _, rec := range s.records {
		if f.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Fork returns an independent store over an in-memory copy of the ledger.
// Writes to the fork never reach the original sheet.
func (s *RecordStore) Fork(ctx context.Context) (*RecordStore, error) {
	s.mu.RLock()
	sheet := NewMemorySheet(s.rows...)
	s.mu.RUnlock()

	return Open(ctx, sheet, WithClock(s.now), WithLogger(s.logger))
}

// Len returns the number of committed records
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func missingColumns(l *Layout) []string {
	var missing []string
	for _, name := range Columns {
		if _, ok := l.Col(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "; " + note
}
