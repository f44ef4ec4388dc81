package handler

import (
	"time"

	"kyc-engine/internal/kyc/engine"
	"kyc-engine/internal/kyc/models"
	"kyc-engine/pkg/domainerrors"
)

type registerCustomerRequest struct {
	Type               string              `json:"type"`
	FullName           string              `json:"fullName"`
	DateOfBirth        string              `json:"dateOfBirth,omitempty"`
	IDNumber           string              `json:"idNumber,omitempty"`
	RegistrationNumber string              `json:"registrationNumber,omitempty"`
	Address            string              `json:"address,omitempty"`
	PhoneNumber        string              `json:"phoneNumber,omitempty"`
	Identifiers        []identifierRequest `json:"identifiers,omitempty"`
}

type identifierRequest struct {
	Type    string `json:"type"`
	Value   string `json:"value"`
	Channel string `json:"channel"`
	Primary bool   `json:"primary"`
}

func (r registerCustomerRequest) toModel() (models.Customer, []models.CustomerIdentifier, error) {
	customer := models.Customer{
		Type:               models.CustomerType(r.Type),
		FullName:           r.FullName,
		IDNumber:           r.IDNumber,
		RegistrationNumber: r.RegistrationNumber,
		Address:            r.Address,
		PhoneNumber:        r.PhoneNumber,
	}
	if r.DateOfBirth != "" {
		dob, err := time.Parse("2006-01-02", r.DateOfBirth)
		if err != nil {
			return models.Customer{}, nil, domainerrors.New(domainerrors.CodeBadRequest, "dateOfBirth must be YYYY-MM-DD")
		}
		customer.DateOfBirth = &dob
	}
	identifiers := make([]models.CustomerIdentifier, 0, len(r.Identifiers))
	for _, id := range r.Identifiers {
		if id.Value == "" {
			return models.Customer{}, nil, domainerrors.New(domainerrors.CodeBadRequest, "identifier value is required")
		}
		identifiers = append(identifiers, models.CustomerIdentifier{
			Type:    models.IdentifierType(id.Type),
			Value:   id.Value,
			Channel: models.ChannelType(id.Channel),
			Primary: id.Primary,
		})
	}
	return customer, identifiers, nil
}

type startCaseRequest struct {
	CustomerRef string `json:"customerRef"`
	Channel     string `json:"channel"`
}

type consentRequest struct {
	Text      string `json:"text"`
	Version   string `json:"version"`
	Consented bool   `json:"consented"`
}

func (r consentRequest) toInput(ip, userAgent string) engine.ConsentInput {
	return engine.ConsentInput{
		Text:      r.Text,
		Version:   r.Version,
		Consented: r.Consented,
		IPAddress: ip,
		UserAgent: userAgent,
	}
}

type attachDocumentRequest struct {
	Type        string            `json:"type"`
	FileName    string            `json:"fileName,omitempty"`
	MimeType    string            `json:"mimeType,omitempty"`
	StoragePath string            `json:"storagePath,omitempty"`
	FileSize    int64             `json:"fileSize,omitempty"`
	Content     []byte            `json:"content,omitempty"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (r attachDocumentRequest) toInput() engine.DocumentInput {
	in := engine.DocumentInput{
		Type:        models.DocumentType(r.Type),
		FileName:    r.FileName,
		MimeType:    r.MimeType,
		StoragePath: r.StoragePath,
		FileSize:    r.FileSize,
		Content:     r.Content,
		Metadata:    r.Metadata,
	}
	if r.ExpiresAt != nil {
		in.ExpiresAt = *r.ExpiresAt
	}
	return in
}

type transitionRequest struct {
	Event   string `json:"event"`
	ActorID string `json:"actorId,omitempty"`
}

type helpRequest struct {
	Message string `json:"message"`
}
