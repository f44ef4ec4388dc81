package models

import "time"

// Clock supplies current time. Injected so engine, sweeper and stores stay
// deterministic under test.
type Clock func() time.Time

// Customer is the identity record owning identifiers and cases. Ref is
// immutable once assigned; customers are never hard-deleted while a case
// references them.
type Customer struct {
	Ref                string
	Type               CustomerType
	FullName           string
	DateOfBirth        *time.Time
	IDNumber           string
	RegistrationNumber string
	Address            string
	PhoneNumber        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CustomerIdentifier is a channel-scoped identifier belonging to exactly one
// customer. Verification is monotonic: once verified with a VerifiedAt, the
// engine never reverts it.
type CustomerIdentifier struct {
	ID          string
	CustomerRef string
	Type        IdentifierType
	Value       string
	Channel     ChannelType
	Verified    bool
	Primary     bool
	CreatedAt   time.Time
	VerifiedAt  *time.Time
}

// KycCase is the central workflow entity. Version backs the store's
// compare-and-swap; LastActivityAt is bumped on every mutation.
type KycCase struct {
	Ref              string
	CustomerRef      string
	Status           KycStatus
	Channel          ChannelType
	StartedAt        time.Time
	LastActivityAt   time.Time
	CompletedAt      *time.Time
	ExpiresAt        time.Time
	TimedOutAt       *time.Time
	ValidationErrors []string
	InternalNotes    string
	Version          int64
}

// KycConsent is the one immutable consent record per case. Append-only proof:
// never mutated after capture.
type KycConsent struct {
	CaseRef     string
	Text        string
	Version     string
	Consented   bool
	ConsentedAt time.Time
	Channel     ChannelType
	IPAddress   string
	UserAgent   string
	// Device is a normalized browser/OS summary derived from UserAgent at
	// capture time, kept for the audit trail.
	Device string
}

// KycDocument is an uploaded artifact. The engine soft-deletes (never removes)
// documents that expire or are superseded.
type KycDocument struct {
	ID          string
	CaseRef     string
	Type        DocumentType
	FileName    string
	MimeType    string
	StoragePath string
	FileSize    int64
	Checksum    string
	UploadedAt  time.Time
	ExpiresAt   time.Time
	Deleted     bool
	DeletedAt   *time.Time
	Metadata    map[string]string
	Version     int64
}

// Usable reports whether the document counts toward completeness.
func (d KycDocument) Usable(now time.Time) bool {
	return !d.Deleted && now.Before(d.ExpiresAt)
}

// CdmsSubmission is the retry-tracked external-submission record, one-to-one
// with its case. Attempts only ever increase, and only through the submission
// subsystem.
type CdmsSubmission struct {
	Ref             string
	CaseRef         string
	Status          SubmissionStatus
	ResponseCode    string
	ResponseMessage string
	Attempts        int
	SubmittedAt     *time.Time
	LastAttemptAt   *time.Time
	NextRetryAt     *time.Time
	CdmsCustomerID  string
	Version         int64
}

// KycNotification is one outbound message record per dispatch attempt. The
// delivery outcome is set once; the record is otherwise append-only.
type KycNotification struct {
	ID           string
	CaseRef      string
	Type         NotificationType
	Message      string
	SentAt       time.Time
	Delivered    bool
	DeliveredAt  *time.Time
	ErrorMessage string
}

// CaseSnapshot bundles everything the submission gateway needs in one
// read-only view of a case at submission time.
type CaseSnapshot struct {
	Case        KycCase
	Customer    Customer
	Identifiers []CustomerIdentifier
	Consent     *KycConsent
	Documents   []KycDocument
}
