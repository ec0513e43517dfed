package models

import (
	"encoding/json"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"hsa-reconciliation-service/pkg/errors"
)

func testFamily(t *testing.T) *Family {
	t.Helper()
	f, err := NewFamily(DefaultFamilyMembers())
	if err != nil {
		t.Fatalf("NewFamily() error = %v", err)
	}
	return f
}

func validRecord() *Record {
	return &Record{
		DateOfService:         civil.Date{Year: 2026, Month: 3, Day: 10},
		Patient:               "Alice",
		ProviderName:          "Sutter Health",
		Category:              CategoryMedical,
		DocumentType:          DocumentStatement,
		BilledAmount:          decimal.RequireFromString("250.00"),
		InsurancePaid:         decimal.RequireFromString("205.00"),
		PatientResponsibility: decimal.RequireFromString("45.00"),
		HSAEligible:           true,
		Confidence:            0.9,
	}
}

func TestCategory_IsValid(t *testing.T) {
	tests := []struct {
		category Category
		valid    bool
	}{
		{CategoryMedical, true},
		{CategoryDental, true},
		{CategoryVision, true},
		{CategoryPharmacy, true},
		{"chiropractic", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			if got := tt.category.IsValid(); got != tt.valid {
				t.Errorf("Category.IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestParseDocumentType(t *testing.T) {
	tests := []struct {
		input   string
		want    DocumentType
		wantErr bool
	}{
		{"eob", DocumentEOB, false},
		{" EOB ", DocumentEOB, false},
		{"Receipt", DocumentReceipt, false},
		{"statement", DocumentStatement, false},
		{"prescription", DocumentPrescription, false},
		{"invoice", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDocumentType(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDocumentType() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.HasCode(err, errors.CodeUnknownDocument) {
				t.Errorf("expected unknown document code, got %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseDocumentType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthority_RoundTrip(t *testing.T) {
	tests := []struct {
		input   string
		want    Authority
		wantErr bool
	}{
		{"", AuthorityStandalone, false},
		{"Yes", AuthorityAuthoritative, false},
		{"yes", AuthorityAuthoritative, false},
		{" No ", AuthoritySubordinate, false},
		{"Maybe", AuthorityStandalone, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAuthority(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAuthority() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAuthority() = %v, want %v", got, tt.want)
			}
			if !tt.wantErr {
				again, err := ParseAuthority(got.String())
				if err != nil || again != got {
					t.Errorf("round trip of %q produced %v, %v", got.String(), again, err)
				}
			}
		})
	}
}

func TestLinkSet(t *testing.T) {
	s := NewLinkSet(3, 1, 3)
	if s.Len() != 2 {
		t.Fatalf("expected 2 ids, got %d", s.Len())
	}
	if s.Add(1) {
		t.Error("adding an existing id should report false")
	}
	if !s.Add(7) {
		t.Error("adding a new id should report true")
	}
	if got := s.String(); got != "3|1|7" {
		t.Errorf("String() = %q, want %q", got, "3|1|7")
	}

	ids := s.IDs()
	ids[0] = 99
	if s.Contains(99) {
		t.Error("IDs() must return a copy")
	}
}

func TestParseLinkSet(t *testing.T) {
	tests := []struct {
		cell    string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"4", "4", false},
		{"4|9", "4|9", false},
		{"4||9|", "4|9", false},
		{" 4 | 4 | 9 ", "4|9", false},
		{"4,9", "", true},
		{"0", "", true},
		{"-2", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.cell, func(t *testing.T) {
			got, err := ParseLinkSet(tt.cell)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLinkSet(%q) error = %v, wantErr %v", tt.cell, err, tt.wantErr)
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("ParseLinkSet(%q) = %q, want %q", tt.cell, got.String(), tt.want)
			}
		})
	}
}

func TestFamily_Normalize(t *testing.T) {
	family := testFamily(t)

	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"Alice", "Alice", true},
		{"alice", "Alice", true},
		{"BOB", "Bob", true},
		{"ALICE SMITH", "Alice", true},
		{"Smith, Charlie", "Charlie", true},
		{"Alicia", "", false},
		{"", "", false},
		{"Dana", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := family.Normalize(tt.input)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Normalize(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestNewFamily_Errors(t *testing.T) {
	if _, err := NewFamily(nil); err == nil {
		t.Error("expected error for empty family")
	}
	if _, err := NewFamily([]string{"Alice", "alice"}); err == nil {
		t.Error("expected error for duplicate member")
	}
	if _, err := NewFamily([]string{"Alice", " "}); err == nil {
		t.Error("expected error for blank member")
	}
}

func TestRecord_Validate(t *testing.T) {
	family := testFamily(t)

	tests := []struct {
		name     string
		mutate   func(r *Record)
		wantCode errors.ErrorCode
	}{
		{"valid", func(r *Record) {}, ""},
		{"missing patient", func(r *Record) { r.Patient = "" }, errors.CodeMissingField},
		{"unknown patient", func(r *Record) { r.Patient = "Dana" }, errors.CodeUnknownPatient},
		{"missing provider", func(r *Record) { r.ProviderName = " " }, errors.CodeMissingField},
		{"unknown category", func(r *Record) { r.Category = "spa" }, errors.CodeUnknownCategory},
		{"unknown document", func(r *Record) { r.DocumentType = "invoice" }, errors.CodeUnknownDocument},
		{"negative billed", func(r *Record) { r.BilledAmount = decimal.NewFromInt(-1) }, errors.CodeInvalidAmount},
		{"negative cost", func(r *Record) { r.PatientResponsibility = decimal.RequireFromString("-0.01") }, errors.CodeInvalidAmount},
		{"confidence above one", func(r *Record) { r.Confidence = 1.2 }, errors.CodeOutOfRange},
		{"receipt without date", func(r *Record) {
			r.DocumentType = DocumentReceipt
			r.DateOfService = civil.Date{}
		}, ""},
		{"eob without date", func(r *Record) {
			r.DocumentType = DocumentEOB
			r.DateOfService = civil.Date{}
		}, errors.CodeMissingField},
		{"impossible date", func(r *Record) { r.DateOfService = civil.Date{Year: 2026, Month: 2, Day: 30} }, errors.CodeInvalidDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(r)
			err := r.Validate(family)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error = %v", err)
				}
				return
			}
			if !errors.HasCode(err, tt.wantCode) {
				t.Errorf("Validate() error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	r := validRecord()
	r.LinkedRecordIDs = NewLinkSet(2)
	r.AddSourceFile("a.pdf")

	c := r.Clone()
	c.LinkedRecordIDs.Add(5)
	c.AddSourceFile("b.pdf")
	c.Patient = "Bob"

	if r.LinkedRecordIDs.Contains(5) {
		t.Error("clone shares linked ids with original")
	}
	if len(r.SourceFiles) != 1 {
		t.Errorf("clone shares source files with original: %v", r.SourceFiles)
	}
	if r.Patient != "Alice" {
		t.Error("clone shares scalar fields with original")
	}
}

func TestRecord_AddSourceFile(t *testing.T) {
	r := validRecord()
	if !r.AddSourceFile("eob_march.pdf") {
		t.Error("first reference should be added")
	}
	if r.AddSourceFile("eob_march.pdf") {
		t.Error("repeated reference should be ignored")
	}
	if r.AddSourceFile("  ") {
		t.Error("blank reference should be ignored")
	}
	if len(r.SourceFiles) != 1 {
		t.Errorf("expected one source file, got %v", r.SourceFiles)
	}
}

func TestRecord_JSON(t *testing.T) {
	input := `{
		"date_of_service": "03/10/2026",
		"patient": "Alice",
		"provider_name": "Sutter Health",
		"category": "medical",
		"document_type": "eob",
		"billed_amount": 250,
		"insurance_paid": "205.00",
		"patient_responsibility": 45,
		"is_authoritative": "Yes",
		"linked_record_ids": [4, 9],
		"confidence": 0.92
	}`

	var r Record
	if err := json.Unmarshal([]byte(input), &r); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if r.DateOfService != (civil.Date{Year: 2026, Month: 3, Day: 10}) {
		t.Errorf("date_of_service = %v", r.DateOfService)
	}
	if !r.PatientResponsibility.Equal(decimal.NewFromInt(45)) {
		t.Errorf("patient_responsibility = %s", r.PatientResponsibility)
	}
	if r.Authority != AuthorityAuthoritative {
		t.Errorf("authority = %v", r.Authority)
	}
	if r.LinkedRecordIDs.String() != "4|9" {
		t.Errorf("linked ids = %s", r.LinkedRecordIDs)
	}
	if !r.ReimbursementDate.IsZero() {
		t.Error("missing reimbursement_date should stay zero")
	}

	out, err := json.Marshal(&r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, want := range []string{`"date_of_service":"2026-03-10"`, `"patient_responsibility":"45.00"`, `"reimbursement_date":""`} {
		if !strings.Contains(string(out), want) {
			t.Errorf("marshalled record missing %s: %s", want, out)
		}
	}
}

func TestDocument_EarliestDate(t *testing.T) {
	doc := &Document{
		SourceFile: "eob.pdf",
		Lines: []*Record{
			{DateOfService: civil.Date{Year: 2026, Month: 3, Day: 12}},
			{},
			{DateOfService: civil.Date{Year: 2026, Month: 3, Day: 9}},
		},
	}

	got, ok := doc.EarliestDate()
	if !ok || got != (civil.Date{Year: 2026, Month: 3, Day: 9}) {
		t.Errorf("EarliestDate() = %v, %v", got, ok)
	}
	if doc.LinesWithDate() != 2 {
		t.Errorf("LinesWithDate() = %d, want 2", doc.LinesWithDate())
	}

	empty := &Document{Lines: []*Record{{}, {}}}
	if _, ok := empty.EarliestDate(); ok {
		t.Error("EarliestDate() should report false when no line has a date")
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"45.00", "45", false},
		{"$1,234.56", "1234.56", false},
		{"", "0", false},
		{" $ 7 ", "7", false},
		{"abc", "0", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	want := civil.Date{Year: 2026, Month: 1, Day: 5}
	for _, input := range []string{"2026-01-05", "01/05/2026", "1/5/2026", "2026/01/05", "Jan 5, 2026"} {
		t.Run(input, func(t *testing.T) {
			got, err := ParseDate(input)
			if err != nil {
				t.Fatalf("ParseDate(%q) error = %v", input, err)
			}
			if got != want {
				t.Errorf("ParseDate(%q) = %v, want %v", input, got, want)
			}
		})
	}

	if d, err := ParseDate(""); err != nil || !d.IsZero() {
		t.Errorf("ParseDate(\"\") = %v, %v; want zero date", d, err)
	}
	if _, err := ParseDate("next tuesday"); err == nil {
		t.Error("expected error for unparseable date")
	}
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		amount string
		want   string
	}{
		{"0", "$0.00"},
		{"45", "$45.00"},
		{"1234.5", "$1,234.50"},
		{"6000", "$6,000.00"},
		{"1234567.891", "$1,234,567.89"},
		{"-2.5", "-$2.50"},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			if got := FormatMoney(decimal.RequireFromString(tt.amount)); got != tt.want {
				t.Errorf("FormatMoney(%s) = %s, want %s", tt.amount, got, tt.want)
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	if got := NormalizeName("  Sutter   HEALTH "); got != "sutter health" {
		t.Errorf("NormalizeName() = %q", got)
	}
}
