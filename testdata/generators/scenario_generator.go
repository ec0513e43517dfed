package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

// ScenarioGenerator writes candidate files shaped like extraction output
type ScenarioGenerator struct {
	Seed      int64
	OutputDir string
}

type candidateDocument struct {
	SourceFile   string          `json:"source_file"`
	DocumentType string          `json:"document_type"`
	Lines        []candidateLine `json:"lines"`
}

type candidateLine struct {
	ProviderName          string          `json:"provider_name"`
	ServiceDate           *string         `json:"service_date"`
	PatientName           string          `json:"patient_name"`
	BilledAmount          decimal.Decimal `json:"billed_amount"`
	InsurancePaid         decimal.Decimal `json:"insurance_paid"`
	PatientResponsibility decimal.Decimal `json:"patient_responsibility"`
	ConfidenceScore       float64         `json:"confidence_score"`
}

func main() {
	var (
		outputDir = flag.String("output-dir", "testdata/scenarios", "Output directory for scenario files")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "Random seed for the bulk scenario")
		scenario  = flag.String("scenario", "all", "Scenario to generate: all, household, duplicates, pre-hsa, bulk")
		count     = flag.Int("count", 500, "Number of statements in the bulk scenario")
	)
	flag.Parse()

	decimal.MarshalJSONWithoutQuotes = true

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	generator := &ScenarioGenerator{
		Seed:      *seed,
		OutputDir: *outputDir,
	}

	switch *scenario {
	case "household":
		generator.GenerateHouseholdScenario()
	case "duplicates":
		generator.GenerateDuplicateScenario()
	case "pre-hsa":
		generator.GeneratePreHSAScenario()
	case "bulk":
		generator.GenerateBulkScenario(*count)
	case "all":
		generator.GenerateHouseholdScenario()
		generator.GenerateDuplicateScenario()
		generator.GeneratePreHSAScenario()
	default:
		log.Fatalf("Unknown scenario: %s", *scenario)
	}

	fmt.Printf("Generated scenarios in %s\n", *outputDir)
}

// GenerateHouseholdScenario writes two statement/EOB pairs: one on the same
// day that links at ingest and one two days apart left for suggestions.
func (sg *ScenarioGenerator) GenerateHouseholdScenario() {
	fmt.Println("Generating household scenario...")

	docs := []candidateDocument{
		document("sutter-statement.pdf", "statement",
			line("Sutter Health", "2026-03-10", "Alice", "120.00", "72.50", "47.50", 0.95)),
		document("aetna-eob.pdf", "eob",
			line("Sutter Health", "2026-03-10", "Alice", "120.00", "75.00", "45.00", 0.98)),
		document("stanford-statement.pdf", "statement",
			line("Stanford Health Care", "2026-04-02", "Bob", "300.00", "200.00", "100.00", 0.95)),
		document("stanford-eob.pdf", "eob",
			line("Stanford Health Care", "2026-04-04", "Bob", "300.00", "220.00", "80.00", 0.97)),
	}

	sg.writeJSON("household_2026.json", docs)
	sg.writeCSV("household_2026.csv", docs)
}

// GenerateDuplicateScenario writes a statement extracted twice from two
// files, plus a multi-claim EOB with one undated line
func (sg *ScenarioGenerator) GenerateDuplicateScenario() {
	fmt.Println("Generating duplicate scenario...")

	undated := line("CVS Pharmacy", "", "Charlie", "18.00", "6.00", "12.00", 0.81)
	undated.ServiceDate = nil

	docs := []candidateDocument{
		document("kaiser-statement-march.pdf", "statement",
			line("Kaiser Permanente", "2026-03-02", "Charlie", "210.00", "180.00", "30.00", 0.92)),
		document("kaiser-statement-march-rescan.pdf", "statement",
			line("Kaiser Permanente Medical Group", "2026-03-02", "charlie", "210.00", "180.00", "30.00", 0.88)),
		document("bcbs-eob-q1.pdf", "eob",
			line("Kaiser Permanente", "2026-03-02", "Charlie", "210.00", "180.00", "30.00", 0.97),
			line("CVS Pharmacy", "2026-03-05", "Charlie", "18.00", "6.00", "12.00", 0.93),
			undated),
	}

	sg.writeJSON("duplicates_2026.json", docs)
}

// GeneratePreHSAScenario writes claims on both sides of a January 1st HSA
// start date
func (sg *ScenarioGenerator) GeneratePreHSAScenario() {
	fmt.Println("Generating pre-HSA scenario...")

	docs := []candidateDocument{
		document("december-eob.pdf", "eob",
			line("Sutter Health", "2025-12-30", "Bob", "90.00", "60.00", "30.00", 0.96),
			line("Sutter Health", "2026-01-02", "Bob", "90.00", "60.00", "30.00", 0.96)),
		document("december-receipt.jpg", "receipt",
			line("Walgreens", "2025-12-28", "Alice", "9.99", "0.00", "9.99", 0.74)),
	}

	sg.writeJSON("pre_hsa.json", docs)
}

// GenerateBulkScenario writes count statements and an EOB for most of them,
// with dates jittered so every suggestion tier appears
func (sg *ScenarioGenerator) GenerateBulkScenario(count int) {
	fmt.Printf("Generating bulk scenario with %d statements...\n", count)
	rng := rand.New(rand.NewSource(sg.Seed))

	patients := []string{"Alice", "Bob", "Charlie"}
	providers := []string{"Sutter Health", "Stanford Health Care", "Kaiser Permanente", "One Medical", "Bay Dental"}
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	var docs []candidateDocument
	for i := 0; i < count; i++ {
		patient := patients[rng.Intn(len(patients))]
		provider := providers[rng.Intn(len(providers))]
		service := start.AddDate(0, 0, rng.Intn(330))
		billed := decimal.NewFromInt(int64(50 + rng.Intn(950)))
		cost := billed.Mul(decimal.NewFromFloat(0.2)).Round(2)

		docs = append(docs, document(fmt.Sprintf("statement-%04d.pdf", i+1), "statement",
			lineOf(provider, service, patient, billed, billed.Sub(cost), cost, 0.9)))

		if rng.Float64() < 0.8 {
			shift := rng.Intn(9)
			eobCost := cost
			if rng.Float64() < 0.25 {
				eobCost = cost.Sub(decimal.NewFromInt(int64(1 + rng.Intn(10))))
			}
			docs = append(docs, document(fmt.Sprintf("eob-%04d.pdf", i+1), "eob",
				lineOf(provider, service.AddDate(0, 0, shift), patient, billed, billed.Sub(eobCost), eobCost, 0.97)))
		}
	}

	sg.writeJSON(fmt.Sprintf("bulk_%d.json", count), docs)
	fmt.Printf("Seed used: %d\n", sg.Seed)
}

func document(source, kind string, lines ...candidateLine) candidateDocument {
	return candidateDocument{SourceFile: source, DocumentType: kind, Lines: lines}
}

func line(provider, date, patient, billed, paid, cost string, confidence float64) candidateLine {
	return candidateLine{
		ProviderName:          provider,
		ServiceDate:           &date,
		PatientName:           patient,
		BilledAmount:          decimal.RequireFromString(billed),
		InsurancePaid:         decimal.RequireFromString(paid),
		PatientResponsibility: decimal.RequireFromString(cost),
		ConfidenceScore:       confidence,
	}
}

func lineOf(provider string, date time.Time, patient string, billed, paid, cost decimal.Decimal, confidence float64) candidateLine {
	day := date.Format("2006-01-02")
	return candidateLine{
		ProviderName:          provider,
		ServiceDate:           &day,
		PatientName:           patient,
		BilledAmount:          billed,
		InsurancePaid:         paid,
		PatientResponsibility: cost,
		ConfidenceScore:       confidence,
	}
}

func (sg *ScenarioGenerator) writeJSON(filename string, docs []candidateDocument) {
	path := filepath.Join(sg.OutputDir, filename)

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		log.Printf("Failed to encode %s: %v", path, err)
		return
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		log.Printf("Failed to write %s: %v", path, err)
		return
	}

	fmt.Printf("  Created %s with %d documents\n", filename, len(docs))
}

// writeCSV flattens docs into one candidate row per claim line
func (sg *ScenarioGenerator) writeCSV(filename string, docs []candidateDocument) {
	path := filepath.Join(sg.OutputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		log.Printf("Failed to create %s: %v", path, err)
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"source_file", "document_type", "date_of_service", "patient", "provider_name",
		"billed_amount", "insurance_paid", "patient_responsibility", "confidence"}
	if err := writer.Write(header); err != nil {
		log.Printf("Failed to write header to %s: %v", path, err)
		return
	}

	rows := 0
	for _, doc := range docs {
		for _, l := range doc.Lines {
			date := ""
			if l.ServiceDate != nil {
				date = *l.ServiceDate
			}
			record := []string{doc.SourceFile, doc.DocumentType, date, l.PatientName, l.ProviderName,
				l.BilledAmount.StringFixed(2), l.InsurancePaid.StringFixed(2), l.PatientResponsibility.StringFixed(2),
				fmt.Sprintf("%.2f", l.ConfidenceScore)}
			if err := writer.Write(record); err != nil {
				log.Printf("Failed to write record to %s: %v", path, err)
				return
			}
			rows++
		}
	}

	fmt.Printf("  Created %s with %d records\n", filename, rows)
}
