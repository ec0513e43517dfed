package matcher

import (
	"sort"

	"cloud.google.com/go/civil"

	"hsa-reconciliation-service/internal/models"
)

// patientDateKey buckets records of one patient on one service date. Records
// without a date share the zero-date bucket of their patient.
type patientDateKey struct {
	patient string
	date    civil.Date
}

// RecordIndex provides efficient lookups over a set of ledger records for
// duplicate detection and link suggestion. It holds the pointers it was given
// and never mutates the records.
type RecordIndex struct {
	// PatientDateIndex maps (patient, date) to records
	PatientDateIndex map[patientDateKey][]*models.Record

	// PatientIndex maps patient names to records
	PatientIndex map[string][]*models.Record

	// YearIndex maps service years to records. Undated records are under 0.
	YearIndex map[int][]*models.Record

	// IDIndex maps committed ids to records
	IDIndex map[int]*models.Record

	// AllRecords holds all indexed records in insertion order
	AllRecords []*models.Record
}

// IndexStats provides statistics about the index
type IndexStats struct {
	TotalRecords   int `json:"total_records"`
	UniquePatients int `json:"unique_patients"`
	UniqueDates    int `json:"unique_dates"`
	UndatedRecords int `json:"undated_records"`
}

// NewRecordIndex creates a new record index from a slice of records
func NewRecordIndex(records []*models.Record) *RecordIndex {
	index := &RecordIndex{
		PatientDateIndex: make(map[patientDateKey][]*models.Record),
		PatientIndex:     make(map[string][]*models.Record),
		YearIndex:        make(map[int][]*models.Record),
		IDIndex:          make(map[int]*models.Record),
		AllRecords:       make([]*models.Record, 0, len(records)),
	}

	for _, r := range records {
		index.Add(r)
	}
	return index
}

// Add indexes one more record
func (ri *RecordIndex) Add(r *models.Record) {
	if r == nil {
		return
	}

	key := patientDateKey{patient: r.Patient, date: r.DateOfService}
	ri.PatientDateIndex[key] = append(ri.PatientDateIndex[key], r)
	ri.PatientIndex[r.Patient] = append(ri.PatientIndex[r.Patient], r)
	ri.YearIndex[r.Year()] = append(ri.YearIndex[r.Year()], r)
	if r.ID > 0 {
		ri.IDIndex[r.ID] = r
	}
	ri.AllRecords = append(ri.AllRecords, r)
}

// GetByID returns the record with the given committed id
func (ri *RecordIndex) GetByID(id int) (*models.Record, bool) {
	r, ok := ri.IDIndex[id]
	return r, ok
}

// GetByPatientDate returns records of a patient on exactly the given date
func (ri *RecordIndex) GetByPatientDate(patient string, date civil.Date) []*models.Record {
	return ri.PatientDateIndex[patientDateKey{patient: patient, date: date}]
}

// GetByPatientWithin returns dated records of a patient whose service date
// lies within days of date (inclusive), ordered by id.
func (ri *RecordIndex) GetByPatientWithin(patient string, date civil.Date, days int) []*models.Record {
	if date.IsZero() {
		return nil
	}

	var result []*models.Record
	for offset := -days; offset <= days; offset++ {
		result = append(result, ri.GetByPatientDate(patient, date.AddDays(offset))...)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// GetByPatient returns all records of a patient
func (ri *RecordIndex) GetByPatient(patient string) []*models.Record {
	return ri.PatientIndex[patient]
}

// GetByYear returns records whose service date falls in year
func (ri *RecordIndex) GetByYear(year int) []*models.Record {
	return ri.YearIndex[year]
}

// Len returns the number of indexed records
func (ri *RecordIndex) Len() int {
	return len(ri.AllRecords)
}

// GetIndexStats returns statistics about the record index
func (ri *RecordIndex) GetIndexStats() IndexStats {
	dates := make(map[civil.Date]bool)
	for key := range ri.PatientDateIndex {
		if !key.date.IsZero() {
			dates[key.date] = true
		}
	}

	return IndexStats{
		TotalRecords:   len(ri.AllRecords),
		UniquePatients: len(ri.PatientIndex),
		UniqueDates:    len(dates),
		UndatedRecords: len(ri.YearIndex[0]),
	}
}
