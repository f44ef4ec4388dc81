package engine

import "kyc-engine/internal/kyc/models"

// Event names a lifecycle action requested against a case. Events map to at
// most one target status; whether the event is legal depends on the case's
// current status and, for some events, on guard checks the Engine performs.
type Event string

const (
	// EventConsent records captured consent and activates the case.
	EventConsent Event = "consent"
	// EventRequestDocuments asks the customer for the required document set.
	EventRequestDocuments Event = "request_documents"
	// EventDocumentsReceived returns a document-complete case to IN_PROGRESS.
	EventDocumentsReceived Event = "documents_received"
	// EventDocumentsComplete submits a document-complete case to CDMS.
	EventDocumentsComplete Event = "documents_complete"
	// EventApprove closes the case after CDMS accepted the submission.
	EventApprove Event = "approve"
	// EventReject closes the case after a non-retryable CDMS rejection.
	EventReject Event = "reject"
	// EventFail parks the case after retry exhaustion or operator cancel.
	EventFail Event = "fail"
	// EventDocumentsLapsed demotes a case whose documents expired.
	EventDocumentsLapsed Event = "documents_lapsed"
	// EventTimeout soft-times-out an idle case; resumable within grace.
	EventTimeout Event = "timeout"
	// EventResume reactivates a TIMEOUT or FAILED case.
	EventResume Event = "resume"
	// EventExpire hard-closes a case past its TTL or grace window.
	EventExpire Event = "expire"
)

type rule struct {
	from []models.KycStatus
	to   models.KycStatus
}

func (r rule) allows(s models.KycStatus) bool {
	for _, f := range r.from {
		if f == s {
			return true
		}
	}
	return false
}

// rules is the full transition table. EventExpire accepts every non-terminal
// origin; the others enumerate theirs. SUBMITTED is deliberately absent from
// EventTimeout's origins: a pending submission is engine activity, not
// customer inactivity.
var rules = map[Event]rule{
	EventConsent: {
		from: []models.KycStatus{models.StatusStarted},
		to:   models.StatusInProgress,
	},
	EventRequestDocuments: {
		from: []models.KycStatus{models.StatusInProgress},
		to:   models.StatusAwaitingDocuments,
	},
	EventDocumentsReceived: {
		from: []models.KycStatus{models.StatusAwaitingDocuments},
		to:   models.StatusInProgress,
	},
	EventDocumentsComplete: {
		from: []models.KycStatus{models.StatusInProgress, models.StatusAwaitingDocuments},
		to:   models.StatusSubmitted,
	},
	EventApprove: {
		from: []models.KycStatus{models.StatusSubmitted},
		to:   models.StatusApproved,
	},
	EventReject: {
		from: []models.KycStatus{models.StatusSubmitted},
		to:   models.StatusRejected,
	},
	EventFail: {
		from: []models.KycStatus{models.StatusSubmitted},
		to:   models.StatusFailed,
	},
	EventDocumentsLapsed: {
		from: []models.KycStatus{models.StatusInProgress, models.StatusSubmitted, models.StatusFailed},
		to:   models.StatusAwaitingDocuments,
	},
	EventTimeout: {
		from: []models.KycStatus{models.StatusStarted, models.StatusInProgress, models.StatusAwaitingDocuments, models.StatusFailed},
		to:   models.StatusTimeout,
	},
	EventResume: {
		from: []models.KycStatus{models.StatusTimeout, models.StatusFailed},
		to:   models.StatusInProgress,
	},
	EventExpire: {
		from: []models.KycStatus{
			models.StatusStarted, models.StatusInProgress, models.StatusAwaitingDocuments,
			models.StatusSubmitted, models.StatusFailed, models.StatusTimeout,
		},
		to: models.StatusExpired,
	},
}

// Next returns the status reached by applying event from current, and whether
// the transition is allowed by the table. Guard checks are the caller's job.
func Next(current models.KycStatus, event Event) (models.KycStatus, bool) {
	r, ok := rules[event]
	if !ok || !r.allows(current) {
		return current, false
	}
	return r.to, true
}

// Target returns the status an event leads to regardless of origin. Used for
// idempotent no-op detection when the case already sits at the target.
func Target(event Event) (models.KycStatus, bool) {
	r, ok := rules[event]
	return r.to, ok
}
