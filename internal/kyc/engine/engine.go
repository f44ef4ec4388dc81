// Package engine drives the KYC case lifecycle: intake, consent, documents,
// and the guarded state machine every status change goes through. All writes
// use the store's compare-and-swap; a lost race is retried once against fresh
// state before surfacing as a concurrent-modification error.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kyc-engine/internal/kyc/events"
	"kyc-engine/internal/kyc/metrics"
	"kyc-engine/internal/kyc/models"
	"kyc-engine/internal/kyc/notify"
	"kyc-engine/internal/kyc/policy"
	"kyc-engine/internal/kyc/store"
	"kyc-engine/pkg/domainerrors"
	"kyc-engine/pkg/platform/sentinel"
)

// SystemActor is the actor id recorded on transitions the engine or sweeper
// applies on its own.
const SystemActor = "system"

const (
	caseRefAttempts         = 3
	defaultDocumentValidity = 365 * 24 * time.Hour
)

// Submitter hands a case entering SUBMITTED to the CDMS submission pipeline,
// which fires the first gateway attempt in the same call.
type Submitter interface {
	Submit(ctx context.Context, caseRef string) error
}

// Engine is the lifecycle service. Construct with NewEngine.
type Engine struct {
	store      store.Store
	dispatcher *notify.Dispatcher
	emitter    *events.Emitter
	metrics    *metrics.Metrics
	submitter  Submitter
	expiry     policy.Expiry
	clock      models.Clock
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock function for testability.
func WithClock(clock models.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics attaches engine metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithDispatcher attaches the notification dispatcher.
func WithDispatcher(d *notify.Dispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithEmitter attaches the lifecycle event emitter.
func WithEmitter(em *events.Emitter) Option {
	return func(e *Engine) {
		e.emitter = em
	}
}

// SetSubmitter wires the submission pipeline. Set after construction: the
// submitter drives approvals and failures back through the engine.
func (e *Engine) SetSubmitter(s Submitter) {
	e.submitter = s
}

// NewEngine builds the lifecycle service over the given store.
func NewEngine(st store.Store, expiry policy.Expiry, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		expiry: expiry,
		clock:  time.Now,
		logger: slog.Default(),
		tracer: otel.Tracer("kyc-engine/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterCustomer creates a customer and their initial identifiers.
func (e *Engine) RegisterCustomer(ctx context.Context, customer models.Customer, identifiers []models.CustomerIdentifier) (models.Customer, error) {
	ctx, span := e.tracer.Start(ctx, "engine.RegisterCustomer")
	defer span.End()

	now := e.clock()
	if customer.Ref == "" {
		customer.Ref = uuid.NewString()
	}
	if customer.Type == "" {
		customer.Type = models.CustomerIndividual
	}
	if customer.FullName == "" {
		return models.Customer{}, domainerrors.New(domainerrors.CodeBadRequest, "customer full name is required")
	}
	customer.CreatedAt = now
	customer.UpdatedAt = now

	if err := e.store.CreateCustomer(ctx, customer); err != nil {
		return models.Customer{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "create customer")
	}
	for _, id := range identifiers {
		id.ID = uuid.NewString()
		id.CustomerRef = customer.Ref
		id.CreatedAt = now
		if err := e.store.AddIdentifier(ctx, id); err != nil {
			return models.Customer{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "add customer identifier")
		}
	}
	return customer, nil
}

// StartCase opens a new case for the customer on the given channel and sends
// the welcome notification. The case ref is regenerated on collision.
func (e *Engine) StartCase(ctx context.Context, customerRef string, channel models.ChannelType) (models.KycCase, error) {
	ctx, span := e.tracer.Start(ctx, "engine.StartCase",
		trace.WithAttributes(attribute.String("kyc.customer_ref", customerRef)))
	defer span.End()

	customer, err := e.store.GetCustomer(ctx, customerRef)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.KycCase{}, domainerrors.Newf(domainerrors.CodeNotFound, "customer %s not found", customerRef)
		}
		return models.KycCase{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load customer")
	}

	now := e.clock()
	kc := models.KycCase{
		CustomerRef:    customer.Ref,
		Status:         models.StatusStarted,
		Channel:        channel,
		StartedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(e.expiry.CaseTTL),
	}

	for attempt := 0; ; attempt++ {
		kc.Ref = models.NewCaseRef(now)
		err = e.store.CreateCase(ctx, kc)
		if err == nil {
			break
		}
		if errors.Is(err, sentinel.ErrConflict) && attempt < caseRefAttempts-1 {
			continue
		}
		return models.KycCase{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "create case")
	}
	kc.Version = 1

	e.emit(ctx, events.CaseEvent{
		CaseRef: kc.Ref,
		Action:  "case_started",
		To:      models.StatusStarted,
		ActorID: SystemActor,
	})
	e.notifyCase(ctx, kc, models.NotifyWelcome,
		fmt.Sprintf("Welcome to FGR gold registration. Your case reference is %s.", kc.Ref))
	return kc, nil
}

// GetCase loads one case.
func (e *Engine) GetCase(ctx context.Context, caseRef string) (models.KycCase, error) {
	kc, err := e.store.GetCase(ctx, caseRef)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.KycCase{}, domainerrors.Newf(domainerrors.CodeNotFound, "case %s not found", caseRef)
		}
		return models.KycCase{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load case")
	}
	return kc, nil
}

// Snapshot assembles the full read-only view of a case: customer, identifiers,
// consent (nil when not yet captured) and documents.
func (e *Engine) Snapshot(ctx context.Context, caseRef string) (models.CaseSnapshot, error) {
	kc, err := e.GetCase(ctx, caseRef)
	if err != nil {
		return models.CaseSnapshot{}, err
	}
	customer, err := e.store.GetCustomer(ctx, kc.CustomerRef)
	if err != nil {
		return models.CaseSnapshot{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load customer")
	}
	identifiers, err := e.store.ListIdentifiers(ctx, kc.CustomerRef)
	if err != nil {
		return models.CaseSnapshot{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "list identifiers")
	}
	docs, err := e.store.ListDocuments(ctx, kc.Ref)
	if err != nil {
		return models.CaseSnapshot{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "list documents")
	}

	snapshot := models.CaseSnapshot{
		Case:        kc,
		Customer:    customer,
		Identifiers: identifiers,
		Documents:   docs,
	}
	consent, err := e.store.GetConsent(ctx, kc.Ref)
	switch {
	case err == nil:
		snapshot.Consent = &consent
	case errors.Is(err, sentinel.ErrNotFound):
		// no consent yet
	default:
		return models.CaseSnapshot{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load consent")
	}
	return snapshot, nil
}

// ConsentInput carries the consent capture details from the intake surface.
type ConsentInput struct {
	Text      string
	Version   string
	Consented bool
	IPAddress string
	UserAgent string
}

// RecordConsent stores the immutable consent record and activates the case.
// Declined consent is not recorded; the case stays in STARTED.
func (e *Engine) RecordConsent(ctx context.Context, caseRef string, in ConsentInput, actorID string) (models.KycCase, error) {
	ctx, span := e.tracer.Start(ctx, "engine.RecordConsent",
		trace.WithAttributes(attribute.String("kyc.case_ref", caseRef)))
	defer span.End()

	if !in.Consented {
		return models.KycCase{}, domainerrors.New(domainerrors.CodeBadRequest, "consent was not granted")
	}
	kc, err := e.GetCase(ctx, caseRef)
	if err != nil {
		return models.KycCase{}, err
	}
	if kc.Status != models.StatusStarted {
		e.metrics.RecordRejectedTransition("consent_wrong_state")
		return models.KycCase{}, domainerrors.Newf(domainerrors.CodeInvalidTransition,
			"consent can only be recorded on a STARTED case, not %s", kc.Status)
	}

	consent := models.KycConsent{
		CaseRef:     kc.Ref,
		Text:        in.Text,
		Version:     in.Version,
		Consented:   true,
		ConsentedAt: e.clock(),
		Channel:     kc.Channel,
		IPAddress:   in.IPAddress,
		UserAgent:   in.UserAgent,
		Device:      deviceSummary(in.UserAgent),
	}
	if err := e.store.CreateConsent(ctx, consent); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return models.KycCase{}, domainerrors.New(domainerrors.CodeBadRequest, "consent already recorded for this case")
		}
		return models.KycCase{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "create consent")
	}

	return e.RequestTransition(ctx, caseRef, EventConsent, actorID)
}

// DocumentInput carries an uploaded artifact's details. Content, when present,
// is hashed for the stored checksum; the bytes themselves live in object
// storage behind StoragePath.
type DocumentInput struct {
	Type        models.DocumentType
	FileName    string
	MimeType    string
	StoragePath string
	FileSize    int64
	Content     []byte
	ExpiresAt   time.Time
	Metadata    map[string]string
}

// AttachDocument stores a document against a non-terminal case, refreshes the
// case's validation errors and activity, and confirms receipt to the customer.
func (e *Engine) AttachDocument(ctx context.Context, caseRef string, in DocumentInput, actorID string) (models.KycDocument, error) {
	ctx, span := e.tracer.Start(ctx, "engine.AttachDocument",
		trace.WithAttributes(attribute.String("kyc.case_ref", caseRef)))
	defer span.End()

	kc, err := e.GetCase(ctx, caseRef)
	if err != nil {
		return models.KycDocument{}, err
	}
	if kc.Status.IsTerminal() {
		return models.KycDocument{}, domainerrors.Newf(domainerrors.CodeInvalidTransition,
			"case %s is closed (%s)", kc.Ref, kc.Status)
	}
	if in.Type == "" {
		return models.KycDocument{}, domainerrors.New(domainerrors.CodeBadRequest, "document type is required")
	}

	now := e.clock()
	doc := models.KycDocument{
		ID:          uuid.NewString(),
		CaseRef:     kc.Ref,
		Type:        in.Type,
		FileName:    in.FileName,
		MimeType:    in.MimeType,
		StoragePath: in.StoragePath,
		FileSize:    in.FileSize,
		UploadedAt:  now,
		ExpiresAt:   in.ExpiresAt,
		Metadata:    in.Metadata,
	}
	if len(in.Content) > 0 {
		doc.Checksum = models.DocumentChecksum(in.Content)
		doc.FileSize = int64(len(in.Content))
	}
	if doc.ExpiresAt.IsZero() {
		doc.ExpiresAt = now.Add(defaultDocumentValidity)
	}
	if err := e.store.AddDocument(ctx, doc); err != nil {
		return models.KycDocument{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "add document")
	}

	// Refresh the outstanding-document list and activity on the case.
	customer, err := e.store.GetCustomer(ctx, kc.CustomerRef)
	if err != nil {
		return models.KycDocument{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load customer")
	}
	docs, err := e.store.ListDocuments(ctx, kc.Ref)
	if err != nil {
		return models.KycDocument{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "list documents")
	}
	missing := policy.Missing(customer.Type, kc.Channel, docs, now)
	kc.ValidationErrors = missing
	kc.LastActivityAt = now
	if _, err := e.store.PutCase(ctx, kc, kc.Version); err != nil && !errors.Is(err, sentinel.ErrVersionConflict) {
		e.logger.Warn("failed to refresh case after document upload", "case", kc.Ref, "error", err)
	}
	if len(missing) == 0 && kc.Status == models.StatusAwaitingDocuments {
		if _, err := e.RequestTransition(ctx, kc.Ref, EventDocumentsReceived, actorID); err != nil {
			e.logger.Warn("failed to reactivate case after document upload", "case", kc.Ref, "error", err)
		}
	}

	e.emit(ctx, events.CaseEvent{
		CaseRef: kc.Ref,
		Action:  "document_attached",
		From:    kc.Status,
		To:      kc.Status,
		ActorID: actorID,
		Detail:  string(doc.Type),
	})
	e.notifyCase(ctx, kc, models.NotifyDocumentReceived,
		fmt.Sprintf("We received your %s document for case %s.", doc.Type, kc.Ref))
	return doc, nil
}

// RequestHelp records a help request from the customer and bumps activity so
// the case is not timed out while an agent responds.
func (e *Engine) RequestHelp(ctx context.Context, caseRef, message string) error {
	kc, err := e.GetCase(ctx, caseRef)
	if err != nil {
		return err
	}
	if kc.Status.IsTerminal() {
		return domainerrors.Newf(domainerrors.CodeInvalidTransition, "case %s is closed (%s)", kc.Ref, kc.Status)
	}
	kc.LastActivityAt = e.clock()
	if _, err := e.store.PutCase(ctx, kc, kc.Version); err != nil && !errors.Is(err, sentinel.ErrVersionConflict) {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "record help request")
	}
	e.notifyCase(ctx, kc, models.NotifyHelpRequest, message)
	return nil
}

// RequestTransition applies one lifecycle event to the case. A version
// conflict on persist is retried once against re-read state; a second loss
// surfaces as concurrent_modification.
func (e *Engine) RequestTransition(ctx context.Context, caseRef string, event Event, actorID string) (models.KycCase, error) {
	ctx, span := e.tracer.Start(ctx, "engine.RequestTransition", trace.WithAttributes(
		attribute.String("kyc.case_ref", caseRef),
		attribute.String("kyc.event", string(event)),
	))
	defer span.End()

	if actorID == "" {
		actorID = SystemActor
	}
	for attempt := 0; attempt < 2; attempt++ {
		kc, err := e.GetCase(ctx, caseRef)
		if err != nil {
			return models.KycCase{}, err
		}
		updated, err := e.apply(ctx, kc, event, actorID)
		if errors.Is(err, sentinel.ErrVersionConflict) {
			continue
		}
		return updated, err
	}
	e.metrics.RecordRejectedTransition("concurrent_modification")
	return models.KycCase{}, domainerrors.Newf(domainerrors.CodeConcurrentModification,
		"case %s was modified concurrently", caseRef)
}

// apply runs the guard chain, mutates and persists the case, then fires the
// post-commit effects. Returns sentinel.ErrVersionConflict unwrapped so the
// caller can retry.
func (e *Engine) apply(ctx context.Context, kc models.KycCase, event Event, actorID string) (models.KycCase, error) {
	target, known := Target(event)
	if !known {
		return models.KycCase{}, domainerrors.Newf(domainerrors.CodeBadRequest, "unknown event %q", event)
	}
	if kc.Status == target {
		return kc, nil
	}
	if kc.Status.IsTerminal() {
		e.metrics.RecordRejectedTransition("terminal")
		return models.KycCase{}, domainerrors.Newf(domainerrors.CodeInvalidTransition,
			"case %s is closed (%s)", kc.Ref, kc.Status)
	}
	if _, ok := Next(kc.Status, event); !ok {
		e.metrics.RecordRejectedTransition("table")
		return models.KycCase{}, domainerrors.Newf(domainerrors.CodeInvalidTransition,
			"event %s is not allowed from %s", event, kc.Status)
	}

	now := e.clock()
	from := kc.Status

	switch event {
	case EventDocumentsComplete:
		missing, err := e.missingDocuments(ctx, kc, now)
		if err != nil {
			return models.KycCase{}, err
		}
		if len(missing) > 0 {
			// A premature submit parks the case in AWAITING_DOCUMENTS with the
			// outstanding list attached.
			kc.ValidationErrors = missing
			kc.LastActivityAt = now
			if kc.Status == models.StatusInProgress {
				kc.Status = models.StatusAwaitingDocuments
			}
			if _, putErr := e.store.PutCase(ctx, kc, kc.Version); putErr != nil && !errors.Is(putErr, sentinel.ErrVersionConflict) {
				e.logger.Warn("failed to store validation errors", "case", kc.Ref, "error", putErr)
			}
			if kc.Status != from {
				e.metrics.RecordTransition(string(from), string(kc.Status))
				e.emit(ctx, events.CaseEvent{
					CaseRef: kc.Ref,
					Action:  string(EventRequestDocuments),
					From:    from,
					To:      kc.Status,
					ActorID: actorID,
				})
			}
			e.metrics.RecordRejectedTransition("incomplete_documents")
			e.notifyCase(ctx, kc, models.NotifyValidationError,
				fmt.Sprintf("Case %s is missing documents: %s.", kc.Ref, strings.Join(missing, ", ")))
			return models.KycCase{}, domainerrors.Newf(domainerrors.CodeIncompleteDocuments,
				"case %s is missing required documents", kc.Ref).WithDetails(missing...)
		}
		kc.ValidationErrors = nil
	case EventRequestDocuments:
		missing, err := e.missingDocuments(ctx, kc, now)
		if err != nil {
			return models.KycCase{}, err
		}
		kc.ValidationErrors = missing
	case EventDocumentsReceived:
		missing, err := e.missingDocuments(ctx, kc, now)
		if err != nil {
			return models.KycCase{}, err
		}
		if len(missing) > 0 {
			e.metrics.RecordRejectedTransition("incomplete_documents")
			return models.KycCase{}, domainerrors.Newf(domainerrors.CodeIncompleteDocuments,
				"case %s still has outstanding documents", kc.Ref).WithDetails(missing...)
		}
		kc.ValidationErrors = nil
	case EventResume:
		if kc.Status == models.StatusTimeout && kc.TimedOutAt != nil &&
			now.After(e.expiry.GraceDeadline(*kc.TimedOutAt)) {
			e.metrics.RecordRejectedTransition("grace_elapsed")
			return models.KycCase{}, domainerrors.Newf(domainerrors.CodeInvalidTransition,
				"case %s can no longer be resumed", kc.Ref)
		}
		// A resumed case with outstanding documents goes straight back to
		// collecting them.
		missing, err := e.missingDocuments(ctx, kc, now)
		if err != nil {
			return models.KycCase{}, err
		}
		if len(missing) > 0 {
			target = models.StatusAwaitingDocuments
			kc.ValidationErrors = missing
		}
		kc.TimedOutAt = nil
	case EventTimeout:
		kc.TimedOutAt = &now
	}

	kc.Status = target
	kc.LastActivityAt = now
	if target.CompletesCase() {
		kc.CompletedAt = &now
	}

	updated, err := e.store.PutCase(ctx, kc, kc.Version)
	if err != nil {
		if errors.Is(err, sentinel.ErrVersionConflict) {
			return models.KycCase{}, err
		}
		return models.KycCase{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "persist case")
	}

	e.metrics.RecordTransition(string(from), string(target))
	e.emit(ctx, events.CaseEvent{
		CaseRef: updated.Ref,
		Action:  string(event),
		From:    from,
		To:      target,
		ActorID: actorID,
	})
	if target == models.StatusSubmitted {
		if err := e.queueSubmission(ctx, updated.Ref); err != nil {
			e.logger.Error("failed to queue CDMS submission", "case", updated.Ref, "error", err)
		}
	}
	e.logger.Info("case transition", "case", updated.Ref, "from", from, "to", target, "event", event, "actor", actorID)
	return updated, nil
}

func (e *Engine) missingDocuments(ctx context.Context, kc models.KycCase, now time.Time) ([]string, error) {
	customer, err := e.store.GetCustomer(ctx, kc.CustomerRef)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load customer")
	}
	docs, err := e.store.ListDocuments(ctx, kc.Ref)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "list documents")
	}
	return policy.Missing(customer.Type, kc.Channel, docs, now), nil
}

// queueSubmission hands the case to the submission pipeline, which makes the
// first CDMS attempt before returning. Without a submitter wired the engine
// still persists the pending record so a sweep picks it up.
func (e *Engine) queueSubmission(ctx context.Context, caseRef string) error {
	if e.submitter != nil {
		return e.submitter.Submit(ctx, caseRef)
	}
	now := e.clock()
	err := e.store.CreateSubmission(ctx, models.CdmsSubmission{
		Ref:         uuid.NewString(),
		CaseRef:     caseRef,
		Status:      models.SubmissionPending,
		NextRetryAt: &now,
	})
	if errors.Is(err, sentinel.ErrConflict) {
		return nil
	}
	return err
}

// notifyCase resolves the recipient from the customer's identifiers and
// dispatches on the case's channel. Best-effort.
func (e *Engine) notifyCase(ctx context.Context, kc models.KycCase, ntype models.NotificationType, message string) {
	if e.dispatcher == nil {
		return
	}
	identifiers, err := e.store.ListIdentifiers(ctx, kc.CustomerRef)
	if err != nil {
		e.logger.Warn("failed to resolve notification recipient", "case", kc.Ref, "error", err)
		return
	}
	recipient := notify.Recipient(kc.Channel, identifiers)
	e.dispatcher.Dispatch(ctx, kc.Ref, kc.Channel, recipient, ntype, message)
}

func (e *Engine) emit(ctx context.Context, event events.CaseEvent) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(ctx, event)
}

// deviceSummary condenses a raw User-Agent header into a short browser/OS
// label for the consent audit trail.
func deviceSummary(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return ""
	}
	summary := name
	if version != "" {
		if i := strings.Index(version, "."); i > 0 {
			version = version[:i]
		}
		summary += " " + version
	}
	if os := ua.OS(); os != "" {
		summary += " on " + os
	}
	if ua.Mobile() {
		summary += " (mobile)"
	}
	return summary
}
