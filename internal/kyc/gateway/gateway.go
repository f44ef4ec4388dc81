// Package gateway is the client boundary to the external compliance system
// (CDMS). The engine only sees the three-way outcome: accepted, permanently
// rejected, or transiently failed and worth retrying.
package gateway

import (
	"context"

	"kyc-engine/internal/kyc/models"
)

// Disposition classifies a submission attempt's result.
type Disposition int

const (
	// Accepted means CDMS took the customer; the case is approved.
	Accepted Disposition = iota
	// Rejected is a non-retryable business rejection.
	Rejected
	// Transient covers network errors, timeouts and 5xx responses; the
	// submission stays pending and backs off.
	Transient
)

// Outcome is the result of one submission attempt.
type Outcome struct {
	Disposition    Disposition
	CdmsCustomerID string
	Code           string
	Message        string
}

// SubmissionGateway attempts a remote submission for a case snapshot. The
// call must respect ctx's deadline; implementations translate their own
// timeouts into a Transient outcome rather than an error.
type SubmissionGateway interface {
	Submit(ctx context.Context, snapshot models.CaseSnapshot) (Outcome, error)
}
