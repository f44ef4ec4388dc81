package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"kyc-engine/internal/kyc/models"
)

// HTTPClient submits cases to the CDMS REST endpoint. 2xx with an accepted
// body maps to Accepted, 4xx to Rejected, everything else (network errors,
// timeouts, 5xx) to Transient.
type HTTPClient struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

// NewHTTPClient builds a CDMS client with the given per-call timeout.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	KycRef       string            `json:"kycRef"`
	CustomerRef  string            `json:"customerRef"`
	CustomerType string            `json:"customerType"`
	FullName     string            `json:"fullName"`
	IDNumber     string            `json:"idNumber,omitempty"`
	RegNumber    string            `json:"registrationNumber,omitempty"`
	Channel      string            `json:"channel"`
	Identifiers  map[string]string `json:"identifiers,omitempty"`
	Documents    []submitDocument  `json:"documents"`
	ConsentAt    time.Time         `json:"consentedAt"`
}

type submitDocument struct {
	Type     string `json:"type"`
	FileName string `json:"fileName"`
	Checksum string `json:"checksum,omitempty"`
}

type submitResponse struct {
	CustomerID string `json:"customerId"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Submit posts the case snapshot to CDMS and classifies the response.
func (c *HTTPClient) Submit(ctx context.Context, snapshot models.CaseSnapshot) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(buildRequest(snapshot))
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Network failures and timeouts are retryable, not hard errors.
		return Outcome{Disposition: Transient, Code: "NETWORK", Message: err.Error()}, nil
	}
	defer resp.Body.Close()

	var parsed submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		parsed = submitResponse{Code: fmt.Sprintf("HTTP_%d", resp.StatusCode)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Outcome{
			Disposition:    Accepted,
			CdmsCustomerID: parsed.CustomerID,
			Code:           parsed.Code,
			Message:        parsed.Message,
		}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Outcome{Disposition: Rejected, Code: parsed.Code, Message: parsed.Message}, nil
	default:
		return Outcome{Disposition: Transient, Code: parsed.Code, Message: parsed.Message}, nil
	}
}

func buildRequest(snapshot models.CaseSnapshot) submitRequest {
	req := submitRequest{
		KycRef:       snapshot.Case.Ref,
		CustomerRef:  snapshot.Customer.Ref,
		CustomerType: string(snapshot.Customer.Type),
		FullName:     snapshot.Customer.FullName,
		IDNumber:     snapshot.Customer.IDNumber,
		RegNumber:    snapshot.Customer.RegistrationNumber,
		Channel:      string(snapshot.Case.Channel),
	}
	if snapshot.Consent != nil {
		req.ConsentAt = snapshot.Consent.ConsentedAt
	}
	if len(snapshot.Identifiers) > 0 {
		req.Identifiers = make(map[string]string, len(snapshot.Identifiers))
		for _, id := range snapshot.Identifiers {
			req.Identifiers[string(id.Type)] = id.Value
		}
	}
	for _, doc := range snapshot.Documents {
		if doc.Deleted {
			continue
		}
		req.Documents = append(req.Documents, submitDocument{
			Type:     string(doc.Type),
			FileName: doc.FileName,
			Checksum: doc.Checksum,
		})
	}
	return req
}
