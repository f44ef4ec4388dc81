package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kyc-engine/internal/kyc/models"
	"kyc-engine/pkg/platform/sentinel"
)

// PostgresStore implements Store on PostgreSQL. Optimistic concurrency is a
// versioned UPDATE: zero rows affected with the row present means a concurrent
// writer won.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed case store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema when missing. Intended for development and
// integration tests; production deployments run migrations out of band.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS customers (
	ref                 TEXT PRIMARY KEY,
	customer_type       TEXT NOT NULL,
	full_name           TEXT NOT NULL,
	date_of_birth       DATE,
	id_number           TEXT,
	registration_number TEXT,
	address             TEXT,
	phone_number        TEXT,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS customer_identifiers (
	id              TEXT PRIMARY KEY,
	customer_ref    TEXT NOT NULL REFERENCES customers(ref),
	identifier_type TEXT NOT NULL,
	identifier_value TEXT NOT NULL,
	channel         TEXT NOT NULL,
	verified        BOOLEAN NOT NULL DEFAULT FALSE,
	is_primary      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	verified_at     TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS kyc_cases (
	ref               TEXT PRIMARY KEY,
	customer_ref      TEXT NOT NULL REFERENCES customers(ref),
	status            TEXT NOT NULL,
	channel           TEXT NOT NULL,
	started_at        TIMESTAMPTZ NOT NULL,
	last_activity_at  TIMESTAMPTZ NOT NULL,
	completed_at      TIMESTAMPTZ,
	expires_at        TIMESTAMPTZ,
	timed_out_at      TIMESTAMPTZ,
	validation_errors TEXT[],
	internal_notes    TEXT,
	version           BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kyc_cases_expiry ON kyc_cases (expires_at) WHERE completed_at IS NULL;
CREATE TABLE IF NOT EXISTS kyc_consents (
	case_ref        TEXT PRIMARY KEY REFERENCES kyc_cases(ref),
	consent_text    TEXT NOT NULL,
	consent_version TEXT NOT NULL,
	consented       BOOLEAN NOT NULL,
	consented_at    TIMESTAMPTZ NOT NULL,
	channel         TEXT NOT NULL,
	ip_address      TEXT,
	user_agent      TEXT,
	device          TEXT
);
CREATE TABLE IF NOT EXISTS kyc_documents (
	id            TEXT PRIMARY KEY,
	case_ref      TEXT NOT NULL REFERENCES kyc_cases(ref),
	document_type TEXT NOT NULL,
	file_name     TEXT NOT NULL,
	mime_type     TEXT,
	storage_path  TEXT,
	file_size     BIGINT,
	checksum      TEXT,
	uploaded_at   TIMESTAMPTZ NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL,
	deleted       BOOLEAN NOT NULL DEFAULT FALSE,
	deleted_at    TIMESTAMPTZ,
	metadata      JSONB,
	version       BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kyc_documents_expiry ON kyc_documents (expires_at) WHERE NOT deleted;
CREATE TABLE IF NOT EXISTS cdms_submissions (
	case_ref         TEXT PRIMARY KEY REFERENCES kyc_cases(ref),
	submission_ref   TEXT NOT NULL UNIQUE,
	status           TEXT NOT NULL,
	response_code    TEXT,
	response_message TEXT,
	attempts         INT NOT NULL DEFAULT 0,
	submitted_at     TIMESTAMPTZ,
	last_attempt_at  TIMESTAMPTZ,
	next_retry_at    TIMESTAMPTZ,
	cdms_customer_id TEXT,
	version          BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cdms_submissions_retry ON cdms_submissions (next_retry_at) WHERE status = 'PENDING';
CREATE TABLE IF NOT EXISTS kyc_notifications (
	id                TEXT PRIMARY KEY,
	case_ref          TEXT NOT NULL REFERENCES kyc_cases(ref),
	notification_type TEXT NOT NULL,
	message           TEXT NOT NULL,
	sent_at           TIMESTAMPTZ NOT NULL,
	delivered         BOOLEAN NOT NULL DEFAULT FALSE,
	delivered_at      TIMESTAMPTZ,
	error_message     TEXT
);`
	_, err := s.db.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) CreateCustomer(ctx context.Context, c models.Customer) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO customers (ref, customer_type, full_name, date_of_birth, id_number, registration_number, address, phone_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (ref) DO NOTHING`,
		c.Ref, c.Type, c.FullName, c.DateOfBirth, c.IDNumber, c.RegistrationNumber, c.Address, c.PhoneNumber, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) GetCustomer(ctx context.Context, ref string) (models.Customer, error) {
	var c models.Customer
	err := s.db.QueryRow(ctx, `
		SELECT ref, customer_type, full_name, date_of_birth, id_number, registration_number, address, phone_number, created_at, updated_at
		FROM customers WHERE ref = $1`, ref).
		Scan(&c.Ref, &c.Type, &c.FullName, &c.DateOfBirth, &c.IDNumber, &c.RegistrationNumber, &c.Address, &c.PhoneNumber, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Customer{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.Customer{}, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) PutCustomer(ctx context.Context, c models.Customer) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE customers SET customer_type = $2, full_name = $3, date_of_birth = $4, id_number = $5,
			registration_number = $6, address = $7, phone_number = $8, updated_at = $9
		WHERE ref = $1`,
		c.Ref, c.Type, c.FullName, c.DateOfBirth, c.IDNumber, c.RegistrationNumber, c.Address, c.PhoneNumber, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddIdentifier(ctx context.Context, id models.CustomerIdentifier) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO customer_identifiers (id, customer_ref, identifier_type, identifier_value, channel, verified, is_primary, created_at, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id.ID, id.CustomerRef, id.Type, id.Value, id.Channel, id.Verified, id.Primary, id.CreatedAt, id.VerifiedAt)
	if err != nil {
		return fmt.Errorf("add identifier: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListIdentifiers(ctx context.Context, customerRef string) ([]models.CustomerIdentifier, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, customer_ref, identifier_type, identifier_value, channel, verified, is_primary, created_at, verified_at
		FROM customer_identifiers WHERE customer_ref = $1 ORDER BY created_at`, customerRef)
	if err != nil {
		return nil, fmt.Errorf("list identifiers: %w", err)
	}
	defer rows.Close()

	var out []models.CustomerIdentifier
	for rows.Next() {
		var id models.CustomerIdentifier
		if err := rows.Scan(&id.ID, &id.CustomerRef, &id.Type, &id.Value, &id.Channel, &id.Verified, &id.Primary, &id.CreatedAt, &id.VerifiedAt); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutIdentifier(ctx context.Context, id models.CustomerIdentifier) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE customer_identifiers SET verified = $2, is_primary = $3, verified_at = $4
		WHERE id = $1`, id.ID, id.Verified, id.Primary, id.VerifiedAt)
	if err != nil {
		return fmt.Errorf("put identifier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateCase(ctx context.Context, c models.KycCase) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO kyc_cases (ref, customer_ref, status, channel, started_at, last_activity_at, completed_at, expires_at, timed_out_at, validation_errors, internal_notes, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
		ON CONFLICT (ref) DO NOTHING`,
		c.Ref, c.CustomerRef, c.Status, c.Channel, c.StartedAt, c.LastActivityAt, c.CompletedAt, c.ExpiresAt, c.TimedOutAt, c.ValidationErrors, c.InternalNotes)
	if err != nil {
		return fmt.Errorf("create case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

const caseColumns = `ref, customer_ref, status, channel, started_at, last_activity_at, completed_at, expires_at, timed_out_at, validation_errors, internal_notes, version`

func scanCase(row pgx.Row) (models.KycCase, error) {
	var c models.KycCase
	err := row.Scan(&c.Ref, &c.CustomerRef, &c.Status, &c.Channel, &c.StartedAt, &c.LastActivityAt, &c.CompletedAt, &c.ExpiresAt, &c.TimedOutAt, &c.ValidationErrors, &c.InternalNotes, &c.Version)
	return c, err
}

func (s *PostgresStore) GetCase(ctx context.Context, ref string) (models.KycCase, error) {
	c, err := scanCase(s.db.QueryRow(ctx, `SELECT `+caseColumns+` FROM kyc_cases WHERE ref = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.KycCase{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.KycCase{}, fmt.Errorf("get case: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) PutCase(ctx context.Context, c models.KycCase, expectedVersion int64) (models.KycCase, error) {
	updated, err := scanCase(s.db.QueryRow(ctx, `
		UPDATE kyc_cases SET status = $3, last_activity_at = $4, completed_at = $5, expires_at = $6,
			timed_out_at = $7, validation_errors = $8, internal_notes = $9, version = version + 1
		WHERE ref = $1 AND version = $2
		RETURNING `+caseColumns,
		c.Ref, expectedVersion, c.Status, c.LastActivityAt, c.CompletedAt, c.ExpiresAt, c.TimedOutAt, c.ValidationErrors, c.InternalNotes))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.KycCase{}, s.classifyCaseConflict(ctx, c.Ref)
	}
	if err != nil {
		return models.KycCase{}, fmt.Errorf("put case: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) classifyCaseConflict(ctx context.Context, ref string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM kyc_cases WHERE ref = $1)`, ref).Scan(&exists); err != nil {
		return fmt.Errorf("classify case conflict: %w", err)
	}
	if exists {
		return sentinel.ErrVersionConflict
	}
	return sentinel.ErrNotFound
}

func (s *PostgresStore) queryCases(ctx context.Context, query string, args ...any) ([]models.KycCase, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.KycCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var terminalStatuses = []string{string(models.StatusApproved), string(models.StatusRejected), string(models.StatusExpired)}

func (s *PostgresStore) ExpiredCases(ctx context.Context, now time.Time, limit int) ([]models.KycCase, error) {
	return s.queryCases(ctx, `
		SELECT `+caseColumns+` FROM kyc_cases
		WHERE status != ALL($1) AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY last_activity_at LIMIT $3`, terminalStatuses, now, limit)
}

func (s *PostgresStore) IdleCases(ctx context.Context, before time.Time, limit int) ([]models.KycCase, error) {
	return s.queryCases(ctx, `
		SELECT `+caseColumns+` FROM kyc_cases
		WHERE status != ALL($1) AND status != $2 AND last_activity_at <= $3
		ORDER BY last_activity_at LIMIT $4`, terminalStatuses, string(models.StatusTimeout), before, limit)
}

func (s *PostgresStore) OpenCases(ctx context.Context, limit int) ([]models.KycCase, error) {
	return s.queryCases(ctx, `
		SELECT `+caseColumns+` FROM kyc_cases
		WHERE status != ALL($1)
		ORDER BY last_activity_at LIMIT $2`, terminalStatuses, limit)
}

func (s *PostgresStore) CreateConsent(ctx context.Context, consent models.KycConsent) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO kyc_consents (case_ref, consent_text, consent_version, consented, consented_at, channel, ip_address, user_agent, device)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (case_ref) DO NOTHING`,
		consent.CaseRef, consent.Text, consent.Version, consent.Consented, consent.ConsentedAt, consent.Channel, consent.IPAddress, consent.UserAgent, consent.Device)
	if err != nil {
		return fmt.Errorf("create consent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) GetConsent(ctx context.Context, caseRef string) (models.KycConsent, error) {
	var consent models.KycConsent
	err := s.db.QueryRow(ctx, `
		SELECT case_ref, consent_text, consent_version, consented, consented_at, channel, ip_address, user_agent, device
		FROM kyc_consents WHERE case_ref = $1`, caseRef).
		Scan(&consent.CaseRef, &consent.Text, &consent.Version, &consent.Consented, &consent.ConsentedAt, &consent.Channel, &consent.IPAddress, &consent.UserAgent, &consent.Device)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.KycConsent{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.KycConsent{}, fmt.Errorf("get consent: %w", err)
	}
	return consent, nil
}

func (s *PostgresStore) AddDocument(ctx context.Context, doc models.KycDocument) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO kyc_documents (id, case_ref, document_type, file_name, mime_type, storage_path, file_size, checksum, uploaded_at, expires_at, deleted, deleted_at, metadata, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)`,
		doc.ID, doc.CaseRef, doc.Type, doc.FileName, doc.MimeType, doc.StoragePath, doc.FileSize, doc.Checksum, doc.UploadedAt, doc.ExpiresAt, doc.Deleted, doc.DeletedAt, meta)
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

const documentColumns = `id, case_ref, document_type, file_name, mime_type, storage_path, file_size, checksum, uploaded_at, expires_at, deleted, deleted_at, metadata, version`

func scanDocument(row pgx.Row) (models.KycDocument, error) {
	var doc models.KycDocument
	var meta []byte
	err := row.Scan(&doc.ID, &doc.CaseRef, &doc.Type, &doc.FileName, &doc.MimeType, &doc.StoragePath, &doc.FileSize, &doc.Checksum, &doc.UploadedAt, &doc.ExpiresAt, &doc.Deleted, &doc.DeletedAt, &meta, &doc.Version)
	if err != nil {
		return models.KycDocument{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return models.KycDocument{}, fmt.Errorf("unmarshal document metadata: %w", err)
		}
	}
	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (models.KycDocument, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM kyc_documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.KycDocument{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.KycDocument{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, caseRef string) ([]models.KycDocument, error) {
	rows, err := s.db.Query(ctx, `SELECT `+documentColumns+` FROM kyc_documents WHERE case_ref = $1 ORDER BY uploaded_at`, caseRef)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []models.KycDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutDocument(ctx context.Context, doc models.KycDocument, expectedVersion int64) (models.KycDocument, error) {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return models.KycDocument{}, fmt.Errorf("marshal document metadata: %w", err)
	}
	updated, err := scanDocument(s.db.QueryRow(ctx, `
		UPDATE kyc_documents SET expires_at = $3, deleted = $4, deleted_at = $5, metadata = $6, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+documentColumns,
		doc.ID, expectedVersion, doc.ExpiresAt, doc.Deleted, doc.DeletedAt, meta))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM kyc_documents WHERE id = $1)`, doc.ID).Scan(&exists); err != nil {
			return models.KycDocument{}, err
		}
		if exists {
			return models.KycDocument{}, sentinel.ErrVersionConflict
		}
		return models.KycDocument{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.KycDocument{}, fmt.Errorf("put document: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) ExpiringDocuments(ctx context.Context, now time.Time, limit int) ([]models.KycDocument, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+documentColumns+` FROM kyc_documents
		WHERE NOT deleted AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("expiring documents: %w", err)
	}
	defer rows.Close()

	var out []models.KycDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub models.CdmsSubmission) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO cdms_submissions (case_ref, submission_ref, status, response_code, response_message, attempts, submitted_at, last_attempt_at, next_retry_at, cdms_customer_id, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		ON CONFLICT (case_ref) DO NOTHING`,
		sub.CaseRef, sub.Ref, sub.Status, sub.ResponseCode, sub.ResponseMessage, sub.Attempts, sub.SubmittedAt, sub.LastAttemptAt, sub.NextRetryAt, sub.CdmsCustomerID)
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

const submissionColumns = `case_ref, submission_ref, status, response_code, response_message, attempts, submitted_at, last_attempt_at, next_retry_at, cdms_customer_id, version`

func scanSubmission(row pgx.Row) (models.CdmsSubmission, error) {
	var sub models.CdmsSubmission
	err := row.Scan(&sub.CaseRef, &sub.Ref, &sub.Status, &sub.ResponseCode, &sub.ResponseMessage, &sub.Attempts, &sub.SubmittedAt, &sub.LastAttemptAt, &sub.NextRetryAt, &sub.CdmsCustomerID, &sub.Version)
	return sub, err
}

func (s *PostgresStore) GetSubmission(ctx context.Context, caseRef string) (models.CdmsSubmission, error) {
	sub, err := scanSubmission(s.db.QueryRow(ctx, `SELECT `+submissionColumns+` FROM cdms_submissions WHERE case_ref = $1`, caseRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CdmsSubmission{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.CdmsSubmission{}, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) PutSubmission(ctx context.Context, sub models.CdmsSubmission, expectedVersion int64) (models.CdmsSubmission, error) {
	updated, err := scanSubmission(s.db.QueryRow(ctx, `
		UPDATE cdms_submissions SET submission_ref = $3, status = $4, response_code = $5, response_message = $6, attempts = $7,
			submitted_at = $8, last_attempt_at = $9, next_retry_at = $10, cdms_customer_id = $11, version = version + 1
		WHERE case_ref = $1 AND version = $2
		RETURNING `+submissionColumns,
		sub.CaseRef, expectedVersion, sub.Ref, sub.Status, sub.ResponseCode, sub.ResponseMessage, sub.Attempts, sub.SubmittedAt, sub.LastAttemptAt, sub.NextRetryAt, sub.CdmsCustomerID))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cdms_submissions WHERE case_ref = $1)`, sub.CaseRef).Scan(&exists); err != nil {
			return models.CdmsSubmission{}, err
		}
		if exists {
			return models.CdmsSubmission{}, sentinel.ErrVersionConflict
		}
		return models.CdmsSubmission{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.CdmsSubmission{}, fmt.Errorf("put submission: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DueSubmissions(ctx context.Context, now time.Time, limit int) ([]models.CdmsSubmission, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+submissionColumns+` FROM cdms_submissions
		WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= $2
		ORDER BY next_retry_at LIMIT $3`, string(models.SubmissionPending), now, limit)
	if err != nil {
		return nil, fmt.Errorf("due submissions: %w", err)
	}
	defer rows.Close()

	var out []models.CdmsSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendNotification(ctx context.Context, n models.KycNotification) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO kyc_notifications (id, case_ref, notification_type, message, sent_at, delivered, delivered_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.CaseRef, n.Type, n.Message, n.SentAt, n.Delivered, n.DeliveredAt, n.ErrorMessage)
	if err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) PutNotification(ctx context.Context, n models.KycNotification) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE kyc_notifications SET delivered = $2, delivered_at = $3, error_message = $4
		WHERE id = $1`, n.ID, n.Delivered, n.DeliveredAt, n.ErrorMessage)
	if err != nil {
		return fmt.Errorf("put notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, caseRef string) ([]models.KycNotification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, case_ref, notification_type, message, sent_at, delivered, delivered_at, error_message
		FROM kyc_notifications WHERE case_ref = $1 ORDER BY sent_at`, caseRef)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []models.KycNotification
	for rows.Next() {
		var n models.KycNotification
		if err := rows.Scan(&n.ID, &n.CaseRef, &n.Type, &n.Message, &n.SentAt, &n.Delivered, &n.DeliveredAt, &n.ErrorMessage); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
