package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ParseContext locates a parse failure inside an input file
type ParseContext struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   string `json:"column"`
	Value    string `json:"value"`
	Expected string `json:"expected,omitempty"`
}

// RowError is a parse failure tied to one row of a candidate or ledger file.
type RowError struct {
	*ReconcilerError
	Location    *ParseContext `json:"location"`
	Recoverable bool          `json:"recoverable"`
	Examples    []string      `json:"examples,omitempty"`
}

// Error implements the error interface with the file location appended
func (e *RowError) Error() string {
	parts := []string{e.ReconcilerError.Error()}

	if e.Location != nil {
		location := fmt.Sprintf("at %s", filepath.Base(e.Location.File))
		if e.Location.Line > 0 {
			location += fmt.Sprintf(":%d", e.Location.Line)
		}
		if e.Location.Column != "" {
			location += fmt.Sprintf(" column '%s'", e.Location.Column)
		}
		parts = append(parts, location)
	}

	return strings.Join(parts, " ")
}

// Unwrap exposes the categorised error to AsReconcilerError and HasCode
func (e *RowError) Unwrap() error {
	return e.ReconcilerError
}

// Detailed returns a multi-line description suitable for the CLI
func (e *RowError) Detailed() string {
	lines := []string{fmt.Sprintf("ERROR: %s", e.Message)}

	if e.Location != nil {
		lines = append(lines, fmt.Sprintf("  File: %s", e.Location.File))
		if e.Location.Line > 0 {
			lines = append(lines, fmt.Sprintf("  Line: %d", e.Location.Line))
		}
		if e.Location.Column != "" {
			lines = append(lines, fmt.Sprintf("  Column: %s", e.Location.Column))
		}
		if e.Location.Value != "" {
			lines = append(lines, fmt.Sprintf("  Value: '%s'", e.Location.Value))
		}
		if e.Location.Expected != "" {
			lines = append(lines, fmt.Sprintf("  Expected: %s", e.Location.Expected))
		}
	}
	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  Suggestion: %s", e.Suggestion))
	}
	if len(e.Examples) > 0 {
		lines = append(lines, fmt.Sprintf("  Examples: %s", strings.Join(e.Examples, ", ")))
	}

	return strings.Join(lines, "\n")
}

// NewRowError creates a row-level parse error
func NewRowError(code ErrorCode, location *ParseContext, message string, cause error) *RowError {
	base := build(CategoryParse, code, message, cause)
	if location != nil {
		base.WithContext("file", location.File).
			WithContext("line", location.Line).
			WithContext("column", location.Column).
			WithContext("value", location.Value)
	}

	return &RowError{
		ReconcilerError: base,
		Location:        location,
		Recoverable:     true,
	}
}

// InvalidAmountError creates an error for an unparseable amount cell
func InvalidAmountError(file string, line int, column string, value string) *RowError {
	err := NewRowError(CodeInvalidAmount, &ParseContext{
		File: file, Line: line, Column: column, Value: value,
		Expected: "non-negative decimal number",
	}, "invalid amount format", nil)
	err.Examples = []string{"12.34", "$1,250.50", "0"}
	err.WithSuggestion("use a plain decimal amount; currency symbols and thousands separators are stripped")
	return err
}

// InvalidDateError creates an error for an unparseable date cell
func InvalidDateError(file string, line int, column string, value string) *RowError {
	err := NewRowError(CodeInvalidDate, &ParseContext{
		File: file, Line: line, Column: column, Value: value,
		Expected: "date in YYYY-MM-DD format",
	}, "invalid date format", nil)
	err.Examples = []string{"2026-03-10", "03/10/2026"}
	err.WithSuggestion("use YYYY-MM-DD, or leave the cell empty when the date is unknown")
	return err
}

// MissingColumnError creates an error for a header row lacking required columns
func MissingColumnError(file string, expected, actual []string) *RowError {
	missing := findMissingColumns(expected, actual)
	err := NewRowError(CodeMissingColumn, &ParseContext{
		File:     file,
		Line:     1,
		Expected: fmt.Sprintf("columns: %s", strings.Join(expected, ", ")),
	}, fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")), nil)
	err.Recoverable = false
	err.WithSuggestion("add the missing columns to the header row")
	return err
}

// EmptyValueError creates an error for an empty required cell
func EmptyValueError(file string, line int, column string) *RowError {
	err := NewRowError(CodeMissingField, &ParseContext{
		File: file, Line: line, Column: column,
		Expected: "non-empty value",
	}, "required field is empty", nil)
	err.WithSuggestion("provide a value for this required field")
	return err
}

// ParseErrorCollector collects row errors while a file is processed
type ParseErrorCollector struct {
	errors    []*RowError
	maxErrors int
}

// NewParseErrorCollector creates a collector that stops accepting work after maxErrors
func NewParseErrorCollector(maxErrors int) *ParseErrorCollector {
	return &ParseErrorCollector{maxErrors: maxErrors}
}

// Add records err and reports whether processing should continue
func (c *ParseErrorCollector) Add(err *RowError) bool {
	if err == nil {
		return true
	}
	c.errors = append(c.errors, err)
	if c.maxErrors > 0 && len(c.errors) >= c.maxErrors {
		return false
	}
	return err.Recoverable
}

// HasErrors returns true if any errors have been collected
func (c *ParseErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all collected errors
func (c *ParseErrorCollector) Errors() []*RowError {
	return c.errors
}

// Summary returns an error summary for all collected errors
func (c *ParseErrorCollector) Summary() *ErrorSummary {
	result := make([]*ReconcilerError, len(c.errors))
	for i, err := range c.errors {
		result[i] = err.ReconcilerError
	}
	return NewErrorSummary(result)
}

func findMissingColumns(expected, actual []string) []string {
	actualSet := make(map[string]bool)
	for _, col := range actual {
		actualSet[strings.ToLower(strings.TrimSpace(col))] = true
	}

	var missing []string
	for _, col := range expected {
		if !actualSet[strings.ToLower(strings.TrimSpace(col))] {
			missing = append(missing, col)
		}
	}

	return missing
}
