// Package store is the engine's durable-state boundary. Stores own every
// record; the engine treats them as exclusively held for one read-modify-write
// and never caches across invocations. Mutating puts carry the version the
// caller read so concurrent writers surface as sentinel.ErrVersionConflict.
package store

import (
	"context"
	"time"

	"kyc-engine/internal/kyc/models"
)

// CustomerStore persists customers and their channel-scoped identifiers.
type CustomerStore interface {
	CreateCustomer(ctx context.Context, customer models.Customer) error
	GetCustomer(ctx context.Context, ref string) (models.Customer, error)
	PutCustomer(ctx context.Context, customer models.Customer) error
	AddIdentifier(ctx context.Context, identifier models.CustomerIdentifier) error
	ListIdentifiers(ctx context.Context, customerRef string) ([]models.CustomerIdentifier, error)
	PutIdentifier(ctx context.Context, identifier models.CustomerIdentifier) error
}

// CaseStore persists KYC cases. PutCase compares expectedVersion against the
// stored record and returns the bumped record on success.
type CaseStore interface {
	CreateCase(ctx context.Context, kycCase models.KycCase) error
	GetCase(ctx context.Context, ref string) (models.KycCase, error)
	PutCase(ctx context.Context, kycCase models.KycCase, expectedVersion int64) (models.KycCase, error)

	// ExpiredCases returns non-terminal cases whose hard expiry has passed.
	ExpiredCases(ctx context.Context, now time.Time, limit int) ([]models.KycCase, error)
	// IdleCases returns non-terminal, non-TIMEOUT cases with no activity
	// since before.
	IdleCases(ctx context.Context, before time.Time, limit int) ([]models.KycCase, error)
	// OpenCases returns non-terminal cases, oldest activity first, for
	// warning evaluation.
	OpenCases(ctx context.Context, limit int) ([]models.KycCase, error)
}

// ConsentStore persists the single immutable consent record per case.
type ConsentStore interface {
	CreateConsent(ctx context.Context, consent models.KycConsent) error
	GetConsent(ctx context.Context, caseRef string) (models.KycConsent, error)
}

// DocumentStore persists uploaded artifacts. Documents are soft-deleted only.
type DocumentStore interface {
	AddDocument(ctx context.Context, doc models.KycDocument) error
	GetDocument(ctx context.Context, id string) (models.KycDocument, error)
	ListDocuments(ctx context.Context, caseRef string) ([]models.KycDocument, error)
	PutDocument(ctx context.Context, doc models.KycDocument, expectedVersion int64) (models.KycDocument, error)
	// ExpiringDocuments returns non-deleted documents whose expiresAt has passed.
	ExpiringDocuments(ctx context.Context, now time.Time, limit int) ([]models.KycDocument, error)
}

// SubmissionStore persists CDMS submission records, one per case.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, sub models.CdmsSubmission) error
	GetSubmission(ctx context.Context, caseRef string) (models.CdmsSubmission, error)
	PutSubmission(ctx context.Context, sub models.CdmsSubmission, expectedVersion int64) (models.CdmsSubmission, error)
	// DueSubmissions returns PENDING submissions whose nextRetryAt has passed.
	DueSubmissions(ctx context.Context, now time.Time, limit int) ([]models.CdmsSubmission, error)
}

// NotificationStore appends dispatch records and sets their delivery outcome once.
type NotificationStore interface {
	AppendNotification(ctx context.Context, n models.KycNotification) error
	PutNotification(ctx context.Context, n models.KycNotification) error
	ListNotifications(ctx context.Context, caseRef string) ([]models.KycNotification, error)
}

// Store is the full case-store surface the engine and sweeper depend on.
type Store interface {
	CustomerStore
	CaseStore
	ConsentStore
	DocumentStore
	SubmissionStore
	NotificationStore
}
