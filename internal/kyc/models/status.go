package models

// KycStatus is the case state machine's state set. STARTED is the initial
// state; APPROVED, REJECTED and EXPIRED are terminal. FAILED and TIMEOUT are
// side exits that still permit manual re-entry.
type KycStatus string

const (
	StatusStarted           KycStatus = "STARTED"
	StatusInProgress        KycStatus = "IN_PROGRESS"
	StatusAwaitingDocuments KycStatus = "AWAITING_DOCUMENTS"
	StatusSubmitted         KycStatus = "SUBMITTED"
	StatusApproved          KycStatus = "APPROVED"
	StatusRejected          KycStatus = "REJECTED"
	StatusFailed            KycStatus = "FAILED"
	StatusExpired           KycStatus = "EXPIRED"
	StatusTimeout           KycStatus = "TIMEOUT"
)

// IsTerminal reports whether no further automatic transition may occur.
// FAILED and TIMEOUT are deliberately non-terminal: FAILED cases accept a
// manual resume after retry exhaustion, TIMEOUT cases accept a resume within
// the grace window before the sweeper escalates them to EXPIRED.
func (s KycStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// CompletesCase reports whether reaching s sets completedAt.
func (s KycStatus) CompletesCase() bool {
	return s.IsTerminal()
}

// SubmissionStatus is the CdmsSubmission state machine's state set.
type SubmissionStatus string

const (
	SubmissionPending        SubmissionStatus = "PENDING"
	SubmissionSuccess        SubmissionStatus = "SUCCESS"
	SubmissionFailed         SubmissionStatus = "FAILED"
	SubmissionRetryExhausted SubmissionStatus = "RETRY_EXHAUSTED"
)

// IsTerminal reports whether the submission accepts no further attempts.
func (s SubmissionStatus) IsTerminal() bool {
	return s != SubmissionPending
}

// CustomerType distinguishes individual miners/agents from companies.
type CustomerType string

const (
	CustomerIndividual CustomerType = "INDIVIDUAL"
	CustomerCompany    CustomerType = "COMPANY"
)

// ChannelType is the intake channel a case or identifier belongs to.
type ChannelType string

const (
	ChannelWeb      ChannelType = "WEB"
	ChannelWhatsApp ChannelType = "WHATSAPP"
	ChannelSMS      ChannelType = "SMS"
	ChannelUSSD     ChannelType = "USSD"
)

// IdentifierType classifies a channel-scoped customer identifier.
type IdentifierType string

const (
	IdentifierPhoneNumber         IdentifierType = "PHONE_NUMBER"
	IdentifierEmail               IdentifierType = "EMAIL"
	IdentifierUsername            IdentifierType = "USERNAME"
	IdentifierNationalID          IdentifierType = "NATIONAL_ID"
	IdentifierPassport            IdentifierType = "PASSPORT"
	IdentifierCompanyRegistration IdentifierType = "COMPANY_REGISTRATION"
)

// DocumentType classifies an uploaded KYC artifact.
type DocumentType string

const (
	DocumentNationalID          DocumentType = "NATIONAL_ID"
	DocumentPassport            DocumentType = "PASSPORT"
	DocumentCompanyRegistration DocumentType = "COMPANY_REGISTRATION"
	DocumentMineLicense         DocumentType = "MINE_LICENSE"
	DocumentProofOfAddress      DocumentType = "PROOF_OF_ADDRESS"
	DocumentSelfie              DocumentType = "SELFIE"
	DocumentOther               DocumentType = "OTHER"
)

// NotificationType labels outbound messages tied to case lifecycle moments.
type NotificationType string

const (
	NotifyWelcome           NotificationType = "WELCOME"
	NotifyDocumentReceived  NotificationType = "DOCUMENT_RECEIVED"
	NotifySubmissionSuccess NotificationType = "SUBMISSION_SUCCESS"
	NotifySubmissionFailed  NotificationType = "SUBMISSION_FAILED"
	NotifyValidationError   NotificationType = "VALIDATION_ERROR"
	NotifyTimeoutWarning    NotificationType = "TIMEOUT_WARNING"
	NotifyHelpRequest       NotificationType = "HELP_REQUEST"
)
