package handler

import (
	"time"

	"kyc-engine/internal/kyc/models"
)

type customerResponse struct {
	Ref       string    `json:"ref"`
	Type      string    `json:"type"`
	FullName  string    `json:"fullName"`
	CreatedAt time.Time `json:"createdAt"`
}

func fromCustomer(c models.Customer) customerResponse {
	return customerResponse{
		Ref:       c.Ref,
		Type:      string(c.Type),
		FullName:  c.FullName,
		CreatedAt: c.CreatedAt,
	}
}

type caseResponse struct {
	Ref              string     `json:"ref"`
	CustomerRef      string     `json:"customerRef"`
	Status           string     `json:"status"`
	Channel          string     `json:"channel"`
	StartedAt        time.Time  `json:"startedAt"`
	LastActivityAt   time.Time  `json:"lastActivityAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	ExpiresAt        time.Time  `json:"expiresAt"`
	TimedOutAt       *time.Time `json:"timedOutAt,omitempty"`
	ValidationErrors []string   `json:"validationErrors,omitempty"`
}

func fromCase(kc models.KycCase) caseResponse {
	return caseResponse{
		Ref:              kc.Ref,
		CustomerRef:      kc.CustomerRef,
		Status:           string(kc.Status),
		Channel:          string(kc.Channel),
		StartedAt:        kc.StartedAt,
		LastActivityAt:   kc.LastActivityAt,
		CompletedAt:      kc.CompletedAt,
		ExpiresAt:        kc.ExpiresAt,
		TimedOutAt:       kc.TimedOutAt,
		ValidationErrors: kc.ValidationErrors,
	}
}

type documentResponse struct {
	ID         string    `json:"id"`
	CaseRef    string    `json:"caseRef"`
	Type       string    `json:"type"`
	FileName   string    `json:"fileName,omitempty"`
	Checksum   string    `json:"checksum,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func fromDocument(d models.KycDocument) documentResponse {
	return documentResponse{
		ID:         d.ID,
		CaseRef:    d.CaseRef,
		Type:       string(d.Type),
		FileName:   d.FileName,
		Checksum:   d.Checksum,
		UploadedAt: d.UploadedAt,
		ExpiresAt:  d.ExpiresAt,
	}
}

type snapshotResponse struct {
	Case        caseResponse       `json:"case"`
	Customer    customerResponse   `json:"customer"`
	Consented   bool               `json:"consented"`
	Documents   []documentResponse `json:"documents"`
	Submission  *submissionView    `json:"submission,omitempty"`
	Notifiables int                `json:"identifierCount"`
}

type submissionView struct {
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
}

func fromSnapshot(s models.CaseSnapshot, sub *models.CdmsSubmission) snapshotResponse {
	resp := snapshotResponse{
		Case:        fromCase(s.Case),
		Customer:    fromCustomer(s.Customer),
		Consented:   s.Consent != nil && s.Consent.Consented,
		Documents:   make([]documentResponse, 0, len(s.Documents)),
		Notifiables: len(s.Identifiers),
	}
	for _, d := range s.Documents {
		resp.Documents = append(resp.Documents, fromDocument(d))
	}
	if sub != nil {
		resp.Submission = &submissionView{
			Status:      string(sub.Status),
			Attempts:    sub.Attempts,
			NextRetryAt: sub.NextRetryAt,
			SubmittedAt: sub.SubmittedAt,
		}
	}
	return resp
}
