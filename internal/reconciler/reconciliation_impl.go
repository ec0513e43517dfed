package reconciler

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"hsa-reconciliation-service/internal/authority"
	"hsa-reconciliation-service/internal/matcher"
	"hsa-reconciliation-service/internal/models"
	"hsa-reconciliation-service/internal/store"
	"hsa-reconciliation-service/pkg/errors"
	"hsa-reconciliation-service/pkg/logger"
)

// IngestRecord commits a single candidate. Validation failures are returned
// before the ledger is touched; an exact duplicate is reported through the
// result status, not as an error.
func (s *Service) IngestRecord(ctx context.Context, candidate *models.Record) (*CommitResult, error) {
	return s.ingest(ctx, candidate, nil)
}

// IngestDocument commits every claim line of doc. Lines without a date take
// the earliest date among their siblings; a multi-line document (or an EOB)
// in which no line has a date is rejected as a whole. Each line is committed
// in its own critical section, so one bad line never blocks the others.
func (s *Service) IngestDocument(ctx context.Context, doc *models.Document) (*DocumentResult, error) {
	if doc == nil || len(doc.Lines) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "lines", nil, nil).
			WithSuggestion("a document must carry at least one claim line")
	}

	result := &DocumentResult{SourceFile: doc.SourceFile}
	log := s.logger.WithFields(logger.Fields{
		"source_file": doc.SourceFile,
		"lines":       len(doc.Lines),
	})

	lines, err := resolveLineDates(doc)
	if err != nil {
		log.WithError(err).Warn("Rejected document without any date of service")
		result.Err = err
		return result, err
	}

	siblings := make(map[int]bool)
	ignore := func(r *models.Record) bool { return siblings[r.ID] }

	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(lines); j++ {
				result.Lines = append(result.Lines, LineResult{Index: j, Err: err})
			}
			break
		}

		commit, err := s.ingest(ctx, line, ignore)
		if err != nil {
			log.WithError(err).WithField("line", i+1).Warn("Claim line rejected")
			result.Lines = append(result.Lines, LineResult{Index: i, Err: err})
			continue
		}
		if commit.Status == StatusInserted {
			siblings[commit.RecordID] = true
		}
		result.Lines = append(result.Lines, LineResult{Index: i, Result: commit})
	}

	log.WithFields(logger.Fields{
		"inserted":   result.Count(StatusInserted),
		"duplicates": result.Count(StatusDuplicateRejected),
		"skipped":    result.Count(StatusSkippedPreHSA),
		"failed":     len(result.Failed()),
	}).Info("Ingested document")
	return result, nil
}

// IngestDocuments ingests documents one after another. A rejected document
// is recorded in its result and does not stop the batch. onDone, if not
// nil, is called after each document.
func (s *Service) IngestDocuments(ctx context.Context, docs []*models.Document, onDone func(*DocumentResult)) ([]*DocumentResult, error) {
	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "ingest_documents",
		Total:     int64(len(docs)),
		Logger:    s.logger,
	})

	results := make([]*DocumentResult, 0, len(docs))
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			tracker.Complete()
			return results, errors.InternalError(errors.CodeUnexpectedError, "ingest_documents", err)
		}

		result, err := s.IngestDocument(ctx, doc)
		if result == nil {
			result = &DocumentResult{Err: err}
			if doc != nil {
				result.SourceFile = doc.SourceFile
			}
		}
		results = append(results, result)
		tracker.Increment(result.Err != nil || len(result.Failed()) > 0)
		if onDone != nil {
			onDone(result)
		}
	}

	stats := tracker.Complete()
	s.logger.WithField("progress", stats.String()).Debug("Batch ingestion finished")
	return results, nil
}

// resolveLineDates returns copies of the document lines with the date
// fallback applied and the document's type and source filled in.
func resolveLineDates(doc *models.Document) ([]*models.Record, error) {
	earliest, found := doc.EarliestDate()

	lines := make([]*models.Record, len(doc.Lines))
	eob := doc.DocumentType == models.DocumentEOB
	for i, line := range doc.Lines {
		if line == nil {
			line = &models.Record{}
		}
		c := line.Clone()
		if c.DocumentType == "" {
			c.DocumentType = doc.DocumentType
		}
		if c.IsEOB() {
			eob = true
		}
		c.AddSourceFile(doc.SourceFile)
		if !c.HasDate() && found {
			c.DateOfService = earliest
		}
		lines[i] = c
	}

	if !found && (len(lines) > 1 || eob) {
		return nil, errors.AmbiguousDateError(doc.SourceFile, len(lines))
	}
	return lines, nil
}

// ingest runs one candidate through preprocessing, the HSA date filter,
// duplicate detection and authority resolution. Detection and commit share
// one critical section.
func (s *Service) ingest(ctx context.Context, candidate *models.Record, ignore func(*models.Record) bool) (*CommitResult, error) {
	rec, err := s.preprocessor.Prepare(candidate)
	if err != nil {
		return nil, err
	}

	if !rec.EligibilitySet {
		rec.HSAEligible = true
	}
	if rec.HasDate() && rec.DateOfService.Before(s.config.HSAStartDate) {
		if rec.IsEOB() {
			s.logger.WithFields(logger.Fields{
				"patient": rec.Patient,
				"date":    models.FormatDate(rec.DateOfService),
			}).Debug("Skipping EOB claim line dated before the HSA start")
			return &CommitResult{
				Status: StatusSkippedPreHSA,
				Reason: fmt.Sprintf("service date %s is before the HSA start date %s",
					models.FormatDate(rec.DateOfService), models.FormatDate(s.config.HSAStartDate)),
			}, nil
		}
		rec.HSAEligible = false
	}

	var result *CommitResult
	err = s.store.Update(ctx, func(tx *store.Tx) error {
		detection := s.detector.Detect(rec, tx.Index(), ignore)

		if detection.Kind == matcher.ExactDuplicate {
			dup := detection.Duplicate
			for _, source := range rec.SourceFiles {
				if _, err := tx.AddSourceReference(dup.ID, source); err != nil {
					return err
				}
			}
			result = &CommitResult{
				Status:    StatusDuplicateRejected,
				RecordID:  dup.ID,
				Record:    dup.Clone(),
				Authority: dup.Authority,
				Reason:    fmt.Sprintf("exact duplicate of record %d", dup.ID),
			}
			return nil
		}

		decision := s.resolver.Resolve(rec, detection)
		rec.Authority = decision.Authority
		committed, err := tx.Commit(rec)
		if err != nil {
			return err
		}

		result = &CommitResult{
			Status:      StatusInserted,
			RecordID:    committed.ID,
			Confidence:  s.config.ClassifyConfidence(committed.Confidence),
			NeedsReview: s.config.NeedsReview(committed),
			Reason:      decision.Reason,
		}
		if decision.Target != nil {
			if _, err := tx.Link(committed.ID, decision.Target.ID, decision.Relationship); err != nil {
				return err
			}
			result.LinkedTo = decision.Target.ID
			result.Relationship = decision.Relationship
			result.DemotedTarget = decision.DemotesTarget
		}
		result.Authority = committed.Authority
		result.Record = committed.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"status":    result.Status,
		"record_id": result.RecordID,
		"linked_to": result.LinkedTo,
		"authority": result.Authority.String(),
	}).Debug("Candidate ingested")
	return result, nil
}

// Suggest runs the auto-suggest matcher over a snapshot of the ledger
func (s *Service) Suggest(ctx context.Context, year int) *matcher.SuggestionResult {
	return s.suggester.Suggest(s.store.Snapshot(ctx), year)
}

// AppliedLink is one suggestion turned into a link
type AppliedLink struct {
	Suggestion matcher.Suggestion `json:"suggestion"`
	Changed    bool               `json:"changed"`
}

// ApplySuggestions links every unmatched EOB of year to its best statement
// when that suggestion has at least minStars. It stops at the first failure;
// links applied before it stay in place.
func (s *Service) ApplySuggestions(ctx context.Context, year int, minStars matcher.Stars) ([]AppliedLink, error) {
	op := logger.NewOperationLogger("apply_suggestions", s.logger).
		WithField("year", year).
		WithField("min_stars", int(minStars))

	var applied []AppliedLink
	for _, suggestion := range s.Suggest(ctx, year).Best(minStars) {
		changed, err := s.store.LinkRecords(ctx, suggestion.EOBID, suggestion.StatementID, authority.RelationshipCovers)
		if err != nil {
			op.Error(err, "Failed to apply suggestion")
			return applied, err
		}
		applied = append(applied, AppliedLink{Suggestion: suggestion, Changed: changed})
	}

	op.WithField("applied", len(applied)).Success("Applied suggestions")
	return applied, nil
}

// LinkRecords links source to target. relationship may be empty to let the
// record kinds decide.
func (s *Service) LinkRecords(ctx context.Context, sourceID, targetID int, relationship string) (bool, error) {
	rel, err := authority.ParseRelationship(relationship)
	if err != nil {
		return false, err
	}

	changed, err := s.store.LinkRecords(ctx, sourceID, targetID, rel)
	if err != nil {
		return false, err
	}

	s.logger.WithFields(logger.Fields{
		"source_id": sourceID,
		"target_id": targetID,
		"changed":   changed,
	}).Info("Linked records")
	return changed, nil
}

// MarkReimbursed records an HSA reimbursement against a committed record
func (s *Service) MarkReimbursed(ctx context.Context, id int, amount decimal.Decimal, date civil.Date) (*models.Record, error) {
	rec, err := s.store.MarkReimbursed(ctx, id, amount, date)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"record_id": id,
		"amount":    amount.StringFixed(2),
	}).Info("Marked record reimbursed")
	return rec, nil
}

// withStore returns a service identical to s but writing to st
func (s *Service) withStore(st *store.RecordStore) *Service {
	clone := *s
	clone.store = st
	return &clone
}
