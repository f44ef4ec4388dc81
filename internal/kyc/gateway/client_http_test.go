package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyc-engine/internal/kyc/models"
)

func snapshot() models.CaseSnapshot {
	return models.CaseSnapshot{
		Case:     models.KycCase{Ref: "FGR20260320-001", Channel: models.ChannelSMS},
		Customer: models.Customer{Ref: "cust-1", Type: models.CustomerIndividual, FullName: "Destin Mabiala"},
		Documents: []models.KycDocument{
			{Type: models.DocumentNationalID, FileName: "id.png", Checksum: "abc"},
			{Type: models.DocumentProofOfAddress, FileName: "bill.pdf", Deleted: true},
		},
	}
}

func TestSubmitClassifiesResponses(t *testing.T) {
	t.Run("2xx is accepted", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"customerId":"CDMS-42","code":"OK","message":"created"}`))
		}))
		defer srv.Close()

		client := NewHTTPClient(srv.URL, 2*time.Second)
		outcome, err := client.Submit(context.Background(), snapshot())
		require.NoError(t, err)
		assert.Equal(t, Accepted, outcome.Disposition)
		assert.Equal(t, "CDMS-42", outcome.CdmsCustomerID)
	})

	t.Run("4xx is a permanent rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"code":"DUPLICATE","message":"already registered"}`))
		}))
		defer srv.Close()

		client := NewHTTPClient(srv.URL, 2*time.Second)
		outcome, err := client.Submit(context.Background(), snapshot())
		require.NoError(t, err)
		assert.Equal(t, Rejected, outcome.Disposition)
		assert.Equal(t, "DUPLICATE", outcome.Code)
	})

	t.Run("5xx is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		client := NewHTTPClient(srv.URL, 2*time.Second)
		outcome, err := client.Submit(context.Background(), snapshot())
		require.NoError(t, err)
		assert.Equal(t, Transient, outcome.Disposition)
		assert.Equal(t, "HTTP_502", outcome.Code)
	})

	t.Run("network failure is transient, not an error", func(t *testing.T) {
		client := NewHTTPClient("http://127.0.0.1:1", time.Second)
		outcome, err := client.Submit(context.Background(), snapshot())
		require.NoError(t, err)
		assert.Equal(t, Transient, outcome.Disposition)
		assert.Equal(t, "NETWORK", outcome.Code)
	})
}

func TestBuildRequestSkipsDeletedDocuments(t *testing.T) {
	req := buildRequest(snapshot())
	require.Len(t, req.Documents, 1)
	assert.Equal(t, "NATIONAL_ID", req.Documents[0].Type)
	assert.Equal(t, "FGR20260320-001", req.KycRef)
}
