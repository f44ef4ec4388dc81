// Package sweep runs the periodic background pass over the case store: due
// submission retries, hard case expiry, document expiry, idle timeouts, grace
// escalation and inactivity warnings. Passes are single-flight per process
// and, with Redis configured, single-flight across instances. Every record is
// handled independently so one bad row never stops a pass.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"kyc-engine/internal/kyc/engine"
	"kyc-engine/internal/kyc/metrics"
	"kyc-engine/internal/kyc/models"
	"kyc-engine/internal/kyc/notify"
	"kyc-engine/internal/kyc/policy"
	"kyc-engine/internal/kyc/store"
	"kyc-engine/internal/kyc/submission"
	"kyc-engine/pkg/domainerrors"
	"kyc-engine/pkg/platform/sentinel"
)

// Lifecycle is the slice of the engine the sweeper applies transitions
// through.
type Lifecycle interface {
	RequestTransition(ctx context.Context, caseRef string, event engine.Event, actorID string) (models.KycCase, error)
}

// Sweeper owns the background pass. Construct with NewSweeper.
type Sweeper struct {
	store      store.Store
	lifecycle  Lifecycle
	submitter  *submission.Submitter
	dispatcher *notify.Dispatcher
	metrics    *metrics.Metrics
	expiry     policy.Expiry
	lock       Lock

	interval    time.Duration
	concurrency int
	batchSize   int

	clock   models.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
	running atomic.Bool
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock sets the clock function for testability.
func WithClock(clock models.Clock) Option {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the sweeper's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches sweep metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// WithDispatcher attaches the notification dispatcher for warnings.
func WithDispatcher(d *notify.Dispatcher) Option {
	return func(s *Sweeper) {
		s.dispatcher = d
	}
}

// WithLock sets the cross-instance lock. Defaults to NoopLock.
func WithLock(lock Lock) Option {
	return func(s *Sweeper) {
		if lock != nil {
			s.lock = lock
		}
	}
}

// WithInterval sets the pass cadence.
func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithConcurrency bounds parallel record handling within a pass.
func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithBatchSize bounds how many records each query pulls per pass.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewSweeper builds a sweeper over the given store, lifecycle and submitter.
func NewSweeper(st store.Store, lc Lifecycle, sub *submission.Submitter, expiry policy.Expiry, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:       st,
		lifecycle:   lc,
		submitter:   sub,
		expiry:      expiry,
		lock:        NoopLock{},
		interval:    time.Minute,
		concurrency: 8,
		batchSize:   100,
		clock:       time.Now,
		logger:      slog.Default(),
		tracer:      otel.Tracer("kyc-engine/sweep"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one full pass. Overlapping invocations collapse: if a pass is
// already running in this process, or another instance holds the lock, the
// call returns immediately.
func (s *Sweeper) Sweep(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	defer s.running.Store(false)

	held, err := s.lock.Acquire(ctx)
	if err != nil {
		s.logger.Warn("sweep lock unavailable", "error", err)
		return
	}
	if !held {
		return
	}
	defer s.lock.Release(ctx)

	ctx, span := s.tracer.Start(ctx, "sweep.Sweep")
	defer span.End()

	start := s.clock()
	s.dueSubmissions(ctx)
	s.expiredCases(ctx)
	s.expiredDocuments(ctx)
	s.idleCases(ctx)
	s.openCasePass(ctx)
	s.metrics.ObserveSweep(s.clock().Sub(start))
}

// dueSubmissions hands every PENDING submission past its nextRetryAt to the
// submitter.
func (s *Sweeper) dueSubmissions(ctx context.Context) {
	subs, err := s.store.DueSubmissions(ctx, s.clock(), s.batchSize)
	if err != nil {
		s.logger.Error("failed to load due submissions", "error", err)
		return
	}
	s.each(ctx, len(subs), "submission", func(i int) error {
		if err := s.submitter.Process(ctx, subs[i]); err != nil {
			return fmt.Errorf("case %s: %w", subs[i].CaseRef, err)
		}
		return nil
	})
}

// expiredCases hard-closes every non-terminal case past its TTL.
func (s *Sweeper) expiredCases(ctx context.Context) {
	cases, err := s.store.ExpiredCases(ctx, s.clock(), s.batchSize)
	if err != nil {
		s.logger.Error("failed to load expired cases", "error", err)
		return
	}
	s.each(ctx, len(cases), "case_expired", func(i int) error {
		return s.expire(ctx, cases[i].Ref)
	})
}

// expiredDocuments soft-deletes lapsed documents and demotes their cases back
// to AWAITING_DOCUMENTS where the table allows it.
func (s *Sweeper) expiredDocuments(ctx context.Context) {
	docs, err := s.store.ExpiringDocuments(ctx, s.clock(), s.batchSize)
	if err != nil {
		s.logger.Error("failed to load expiring documents", "error", err)
		return
	}
	s.each(ctx, len(docs), "document_expired", func(i int) error {
		doc := docs[i]
		now := s.clock()
		doc.Deleted = true
		doc.DeletedAt = &now
		if _, err := s.store.PutDocument(ctx, doc, doc.Version); err != nil {
			if errors.Is(err, sentinel.ErrVersionConflict) {
				return nil
			}
			return fmt.Errorf("soft-delete document %s: %w", doc.ID, err)
		}
		_, err := s.lifecycle.RequestTransition(ctx, doc.CaseRef, engine.EventDocumentsLapsed, engine.SystemActor)
		if err != nil && !domainerrors.Is(err, domainerrors.CodeInvalidTransition) {
			return fmt.Errorf("demote case %s: %w", doc.CaseRef, err)
		}
		return nil
	})
}

// idleCases soft-times-out cases with no activity inside the idle window.
// SUBMITTED cases are skipped: a pending submission is engine activity.
func (s *Sweeper) idleCases(ctx context.Context) {
	cases, err := s.store.IdleCases(ctx, s.expiry.IdleSince(s.clock()), s.batchSize)
	if err != nil {
		s.logger.Error("failed to load idle cases", "error", err)
		return
	}
	s.each(ctx, len(cases), "case_timeout", func(i int) error {
		kc := cases[i]
		if kc.Status == models.StatusSubmitted {
			return nil
		}
		if _, err := s.lifecycle.RequestTransition(ctx, kc.Ref, engine.EventTimeout, engine.SystemActor); err != nil {
			return fmt.Errorf("time out case %s: %w", kc.Ref, err)
		}
		return nil
	})
}

// openCasePass walks open cases for grace escalation and inactivity warnings.
func (s *Sweeper) openCasePass(ctx context.Context) {
	cases, err := s.store.OpenCases(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("failed to load open cases", "error", err)
		return
	}
	now := s.clock()
	s.each(ctx, len(cases), "case_checked", func(i int) error {
		kc := cases[i]
		if kc.Status == models.StatusTimeout {
			if kc.TimedOutAt != nil && now.After(s.expiry.GraceDeadline(*kc.TimedOutAt)) {
				return s.expire(ctx, kc.Ref)
			}
			return nil
		}
		if s.expiry.ActivityTimeout > 0 && kc.Status == models.StatusInProgress &&
			kc.LastActivityAt.Before(s.expiry.StaleSince(now)) {
			if err := s.staleInProgress(ctx, kc, now); err != nil {
				return err
			}
		}
		if now.Before(s.expiry.WarningAt(kc.StartedAt, kc.ExpiresAt)) {
			return nil
		}
		return s.warn(ctx, kc)
	})
}

// staleInProgress demotes a stalled IN_PROGRESS case back to document
// collection when its requirements are still unmet.
func (s *Sweeper) staleInProgress(ctx context.Context, kc models.KycCase, now time.Time) error {
	customer, err := s.store.GetCustomer(ctx, kc.CustomerRef)
	if err != nil {
		return fmt.Errorf("load customer for case %s: %w", kc.Ref, err)
	}
	docs, err := s.store.ListDocuments(ctx, kc.Ref)
	if err != nil {
		return fmt.Errorf("list documents for case %s: %w", kc.Ref, err)
	}
	if len(policy.Missing(customer.Type, kc.Channel, docs, now)) == 0 {
		return nil
	}
	_, err = s.lifecycle.RequestTransition(ctx, kc.Ref, engine.EventRequestDocuments, engine.SystemActor)
	if err != nil && !domainerrors.Is(err, domainerrors.CodeInvalidTransition) {
		return fmt.Errorf("demote stalled case %s: %w", kc.Ref, err)
	}
	return nil
}

// expire escalates one case to EXPIRED. Already-terminal cases are fine.
func (s *Sweeper) expire(ctx context.Context, caseRef string) error {
	_, err := s.lifecycle.RequestTransition(ctx, caseRef, engine.EventExpire, engine.SystemActor)
	if err != nil {
		if domainerrors.Is(err, domainerrors.CodeInvalidTransition) {
			return nil
		}
		return fmt.Errorf("expire case %s: %w", caseRef, err)
	}
	s.metrics.RecordCaseExpired()
	return nil
}

// warn sends the TIMEOUT_WARNING once per case.
func (s *Sweeper) warn(ctx context.Context, kc models.KycCase) error {
	if s.dispatcher == nil {
		return nil
	}
	sent, err := s.dispatcher.AlreadySent(ctx, kc.Ref, models.NotifyTimeoutWarning)
	if err != nil {
		return fmt.Errorf("check warnings for case %s: %w", kc.Ref, err)
	}
	if sent {
		return nil
	}
	identifiers, err := s.store.ListIdentifiers(ctx, kc.CustomerRef)
	if err != nil {
		return fmt.Errorf("resolve recipient for case %s: %w", kc.Ref, err)
	}
	recipient := notify.Recipient(kc.Channel, identifiers)
	s.dispatcher.Dispatch(ctx, kc.Ref, kc.Channel, recipient, models.NotifyTimeoutWarning,
		fmt.Sprintf("Your registration %s expires on %s. Please complete it soon.",
			kc.Ref, kc.ExpiresAt.Format("2006-01-02")))
	return nil
}

// each fans records out over the worker pool. Failures are logged per record;
// the pass continues.
func (s *Sweeper) each(_ context.Context, n int, kind string, fn func(i int) error) {
	if n == 0 {
		return
	}
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i := range n {
		g.Go(func() error {
			s.metrics.RecordSweepRecord(kind)
			if err := fn(i); err != nil {
				s.logger.Error("sweep record failed", "kind", kind, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
