// Package pipeline orchestrates one submission end to end: normalize the
// extracted fields, evaluate the rule chain, and finalize exactly one
// immutable verdict per document in the status store. Everything downstream
// (notifications, analytics) hangs off the store's insertion feed, so the
// pipeline itself stays a straight line.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fiscus/internal/domain"
	"fiscus/internal/normalize"
	"fiscus/internal/pipeline/metrics"
	"fiscus/internal/status"
	"fiscus/internal/validate"
)

var tracer = otel.Tracer("fiscus/pipeline")

// Result reports how a submission was finalized. Duplicate means the
// document already had a verdict; Record is then the stored one, which may
// differ from what this submission would have produced.
type Result struct {
	Record    domain.StatusRecord
	Duplicate bool
}

// Service runs submissions through normalization, validation, and the
// status store. Timestamps come from the engine (EvaluatedAt) and the store
// (StoredAt), so the service itself carries no clock.
type Service struct {
	engine  *validate.Engine
	store   status.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(engine *validate.Engine, store status.Store, opts ...Option) *Service {
	s := &Service{
		engine: engine,
		store:  store,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process finalizes one submission. Structurally malformed input still
// produces a stored FAIL verdict when the envelope names a document id;
// without one there is nothing to key the verdict on, so Process returns
// the malformed error and stores nothing. Resubmissions of an already
// finalized document are absorbed: the stored record comes back with
// Duplicate set and nothing is modified or emitted.
func (s *Service) Process(ctx context.Context, sub domain.Submission) (Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.Process",
		trace.WithAttributes(attribute.String("document.id", sub.DocumentID)))
	defer span.End()

	s.metrics.IncrementSubmission(sourceLabel(sub.Source))

	var (
		fields  domain.ExtractedFields
		verdict domain.Verdict
	)
	fields, err := normalize.Normalize(sub.Fields)
	switch {
	case err == nil:
		if sub.DocumentID != "" {
			fields.DocumentID = sub.DocumentID
		}
		if fields.DocumentID == "" {
			s.metrics.IncrementMalformed()
			return Result{}, fmt.Errorf("process submission: %w",
				&normalize.MalformedInputError{Reason: "submission carries no document id"})
		}
		fields.LineItems = normalize.NormalizeLineItems(sub.LineItems)
		verdict = s.engine.Evaluate(fields)

	case normalize.IsMalformed(err):
		s.metrics.IncrementMalformed()
		if !sub.HasDocumentID() {
			return Result{}, fmt.Errorf("process submission: %w", err)
		}
		verdict, fields = s.malformedVerdict(sub, err)

	default:
		return Result{}, fmt.Errorf("normalize submission: %w", err)
	}

	rec := domain.NewStatusRecord(verdict, fields, sub)
	res, err := s.store.RecordIfAbsent(ctx, rec)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("record status: %w", err)
	}

	span.SetAttributes(
		attribute.String("verdict.outcome", string(res.Record.Outcome)),
		attribute.Bool("verdict.duplicate", !res.Inserted),
	)
	s.metrics.ObserveProcessLatency(time.Since(start))

	if res.Inserted {
		s.metrics.IncrementOutcome(string(res.Record.Outcome))
		if s.logger != nil {
			s.logger.InfoContext(ctx, "document finalized",
				"document_id", res.Record.DocumentID,
				"outcome", string(res.Record.Outcome),
				"violations", len(res.Record.Violations),
				"source", sourceLabel(sub.Source),
			)
		}
	} else {
		s.metrics.IncrementDuplicate()
		if s.logger != nil {
			s.logger.InfoContext(ctx, "duplicate submission absorbed",
				"document_id", res.Record.DocumentID,
				"stored_outcome", string(res.Record.Outcome),
				"source", sourceLabel(sub.Source),
			)
		}
	}

	return Result{Record: res.Record, Duplicate: !res.Inserted}, nil
}

// Status returns the finalized record for a document, or
// sentinel.ErrNotFound when no verdict exists yet.
func (s *Service) Status(ctx context.Context, documentID string) (domain.StatusRecord, error) {
	return s.store.Find(ctx, documentID)
}

// malformedVerdict finalizes a keyed submission whose field map was too
// broken to normalize. The engine still runs on the near-empty record so the
// verdict carries MISSING_FIELD coverage alongside the structural violation.
func (s *Service) malformedVerdict(sub domain.Submission, cause error) (domain.Verdict, domain.ExtractedFields) {
	fields := domain.ExtractedFields{DocumentID: sub.DocumentID}
	verdict := s.engine.Evaluate(fields)
	verdict.Outcome = domain.OutcomeFail
	verdict.Violations = append([]domain.Violation{{
		Code:    domain.ViolationMalformedInput,
		Message: cause.Error(),
	}}, verdict.Violations...)
	return verdict, fields
}

func sourceLabel(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}
