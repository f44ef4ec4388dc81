// Package submission drives CDMS submission attempts for SUBMITTED cases.
// Each attempt is a read-modify-write on the submission record: the attempt
// count only moves through here and only ever increases. Retries back off per
// policy; exhaustion parks the case in FAILED for manual follow-up.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kyc-engine/internal/kyc/engine"
	"kyc-engine/internal/kyc/gateway"
	"kyc-engine/internal/kyc/metrics"
	"kyc-engine/internal/kyc/models"
	"kyc-engine/internal/kyc/notify"
	"kyc-engine/internal/kyc/policy"
	"kyc-engine/internal/kyc/store"
	"kyc-engine/pkg/platform/sentinel"
)

// Lifecycle is the slice of the engine the submitter drives case-state
// changes through, so every status change passes the same guard chain.
type Lifecycle interface {
	Snapshot(ctx context.Context, caseRef string) (models.CaseSnapshot, error)
	RequestTransition(ctx context.Context, caseRef string, event engine.Event, actorID string) (models.KycCase, error)
}

// Submitter processes due submissions against the CDMS gateway.
type Submitter struct {
	store       store.SubmissionStore
	gateway     gateway.SubmissionGateway
	lifecycle   Lifecycle
	dispatcher  *notify.Dispatcher
	metrics     *metrics.Metrics
	backoff     policy.Backoff
	maxAttempts int
	clock       models.Clock
	logger      *slog.Logger
	tracer      trace.Tracer
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithClock sets the clock function for testability.
func WithClock(clock models.Clock) Option {
	return func(s *Submitter) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the submitter's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Submitter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches submission metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Submitter) {
		s.metrics = m
	}
}

// WithDispatcher attaches the notification dispatcher.
func WithDispatcher(d *notify.Dispatcher) Option {
	return func(s *Submitter) {
		s.dispatcher = d
	}
}

// NewSubmitter builds a submitter. maxAttempts bounds total gateway calls per
// submission cycle; zero or negative defaults to 3.
func NewSubmitter(st store.SubmissionStore, gw gateway.SubmissionGateway, lc Lifecycle, backoff policy.Backoff, maxAttempts int, opts ...Option) *Submitter {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	s := &Submitter{
		store:       st,
		gateway:     gw,
		lifecycle:   lc,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		clock:       time.Now,
		logger:      slog.Default(),
		tracer:      otel.Tracer("kyc-engine/submission"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit queues the case's CDMS submission and fires the first attempt in the
// same call, so a case entering SUBMITTED reaches the gateway without waiting
// for a sweep. A record left over from an earlier retry cycle is replaced
// under a fresh submission ref; attempt counts never move backwards within a
// record.
func (s *Submitter) Submit(ctx context.Context, caseRef string) error {
	sub, err := s.queue(ctx, caseRef)
	if err != nil {
		return err
	}
	return s.Process(ctx, sub)
}

// queue returns the case's live PENDING record, creating or replacing one as
// needed.
func (s *Submitter) queue(ctx context.Context, caseRef string) (models.CdmsSubmission, error) {
	now := s.clock()
	fresh := models.CdmsSubmission{
		Ref:         uuid.NewString(),
		CaseRef:     caseRef,
		Status:      models.SubmissionPending,
		NextRetryAt: &now,
	}

	sub, err := s.store.GetSubmission(ctx, caseRef)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		if err := s.store.CreateSubmission(ctx, fresh); err != nil {
			return models.CdmsSubmission{}, fmt.Errorf("queue submission for case %s: %w", caseRef, err)
		}
		return s.store.GetSubmission(ctx, caseRef)
	case err != nil:
		return models.CdmsSubmission{}, fmt.Errorf("load submission for case %s: %w", caseRef, err)
	}
	if sub.Status == models.SubmissionPending {
		return sub, nil
	}

	// The previous cycle is settled; a re-submitted case starts a new one.
	replaced, err := s.store.PutSubmission(ctx, fresh, sub.Version)
	if err != nil {
		return models.CdmsSubmission{}, fmt.Errorf("requeue submission for case %s: %w", caseRef, err)
	}
	return replaced, nil
}

// Process runs one attempt cycle for a due submission. A version conflict on
// the submission record means another worker won the record; the outcome of
// this worker's read is discarded without error.
func (s *Submitter) Process(ctx context.Context, sub models.CdmsSubmission) error {
	ctx, span := s.tracer.Start(ctx, "submission.Process", trace.WithAttributes(
		attribute.String("kyc.case_ref", sub.CaseRef),
		attribute.Int("kyc.attempts", sub.Attempts),
	))
	defer span.End()

	if sub.Status.IsTerminal() {
		return nil
	}

	snapshot, err := s.lifecycle.Snapshot(ctx, sub.CaseRef)
	if err != nil {
		return fmt.Errorf("snapshot case %s: %w", sub.CaseRef, err)
	}
	kc := snapshot.Case

	// The case may have been closed between queueing and this attempt.
	if kc.Status != models.StatusSubmitted {
		if kc.Status.IsTerminal() {
			sub.Status = models.SubmissionFailed
			sub.ResponseMessage = fmt.Sprintf("case closed (%s) before submission", kc.Status)
			sub.NextRetryAt = nil
			_, err := s.put(ctx, sub)
			return err
		}
		return nil
	}

	// Exhaustion check happens before the gateway call so a due record at
	// the attempt limit never produces another attempt.
	if sub.Attempts >= s.maxAttempts {
		return s.exhaust(ctx, sub, snapshot)
	}

	outcome, err := s.gateway.Submit(ctx, snapshot)
	s.metrics.RecordSubmissionAttempt()
	if err != nil {
		// Gateway contract is to fold transport failures into Transient;
		// treat a stray error the same way.
		s.logger.Warn("gateway returned error", "case", sub.CaseRef, "error", err)
		outcome = gateway.Outcome{Disposition: gateway.Transient, Message: err.Error()}
	}

	now := s.clock()
	sub.Attempts++
	sub.LastAttemptAt = &now
	sub.ResponseCode = outcome.Code
	sub.ResponseMessage = outcome.Message

	switch outcome.Disposition {
	case gateway.Accepted:
		s.metrics.RecordSubmissionOutcome("accepted")
		sub.Status = models.SubmissionSuccess
		sub.SubmittedAt = &now
		sub.NextRetryAt = nil
		sub.CdmsCustomerID = outcome.CdmsCustomerID
		stored, err := s.put(ctx, sub)
		if err != nil || !stored {
			return err
		}
		if _, err := s.lifecycle.RequestTransition(ctx, kc.Ref, engine.EventApprove, engine.SystemActor); err != nil {
			return fmt.Errorf("approve case %s: %w", kc.Ref, err)
		}
		s.notify(ctx, snapshot, models.NotifySubmissionSuccess,
			fmt.Sprintf("Your registration %s was approved.", kc.Ref))
		return nil

	case gateway.Rejected:
		s.metrics.RecordSubmissionOutcome("rejected")
		sub.Status = models.SubmissionFailed
		sub.NextRetryAt = nil
		stored, err := s.put(ctx, sub)
		if err != nil || !stored {
			return err
		}
		if _, err := s.lifecycle.RequestTransition(ctx, kc.Ref, engine.EventReject, engine.SystemActor); err != nil {
			return fmt.Errorf("reject case %s: %w", kc.Ref, err)
		}
		s.notify(ctx, snapshot, models.NotifySubmissionFailed,
			fmt.Sprintf("Your registration %s was rejected: %s", kc.Ref, outcome.Message))
		return nil

	default:
		if sub.Attempts >= s.maxAttempts {
			return s.exhaust(ctx, sub, snapshot)
		}
		s.metrics.RecordSubmissionOutcome("transient")
		next := now.Add(s.backoff.Delay(sub.Attempts))
		sub.NextRetryAt = &next
		s.logger.Info("submission attempt failed, will retry",
			"case", sub.CaseRef, "attempts", sub.Attempts, "next_retry_at", next)
		_, err := s.put(ctx, sub)
		return err
	}
}

/// exhaust closes the retry cycle: the submission becomes RETRY_EXHAUSTED and
// the case parks in FAILED awaiting manual resume.
func (s *Submitter) exhaust(ctx context.Context, sub models.CdmsSubmission, snapshot models.CaseSnapshot) error {
	s.metrics.RecordSubmissionOutcome("exhausted")
	sub.Status = models.SubmissionRetryExhausted
	sub.NextRetryAt = nil
	stored, err := s.put(ctx, sub)
	if err != nil || !stored {
		return err
	}
	if _, err := s.lifecycle.RequestTransition(ctx, sub.CaseRef, engine.EventFail, engine.SystemActor); err != nil {
		return fmt.Errorf("fail case %s: %w", sub.CaseRef, err)
	}
	s.notify(ctx, snapshot, models.NotifySubmissionFailed,
		fmt.Sprintf("We could not complete your registration %s. An agent will contact you.", sub.CaseRef))
	return nil
}

// put persists the submission record. A lost compare-and-swap means another
// worker owns this cycle; it is swallowed and reported as not stored so the
// caller skips its side effects.
func (s *Submitter) put(ctx context.Context, sub models.CdmsSubmission) (bool, error) {
	if _, err := s.store.PutSubmission(ctx, sub, sub.Version); err != nil {
		if errors.Is(err, sentinel.ErrVersionConflict) {
			s.logger.Info("submission record taken by concurrent worker", "case", sub.CaseRef)
			return false, nil
		}
		return false, fmt.Errorf("persist submission for case %s: %w", sub.CaseRef, err)
	}
	return true, nil
}

func (s *Submitter) notify(ctx context.Context, snapshot models.CaseSnapshot, ntype models.NotificationType, message string) {
	if s.dispatcher == nil {
		return
	}
	recipient := notify.Recipient(snapshot.Case.Channel, snapshot.Identifiers)
	s.dispatcher.Dispatch(ctx, snapshot.Case.Ref, snapshot.Case.Channel, recipient, ntype, message)
}
