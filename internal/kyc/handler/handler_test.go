package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kyc-engine/internal/kyc/engine"
	"kyc-engine/internal/kyc/notify"
	"kyc-engine/internal/kyc/policy"
	"kyc-engine/internal/kyc/store"
	"kyc-engine/internal/platform/logger"
)

type HandlerSuite struct {
	suite.Suite
	store  *store.InMemoryStore
	router http.Handler
}

func (s *HandlerSuite) SetupTest() {
	s.store = store.NewInMemoryStore()
	log := logger.Discard()
	dispatcher := notify.NewDispatcher(s.store, notify.NewLoggerNotifier(log), notify.WithLogger(log))

	expiry := policy.Expiry{CaseTTL: 7 * 24 * time.Hour, IdleTimeout: 72 * time.Hour, TimeoutGrace: 24 * time.Hour, WarningFraction: 0.8}
	eng := engine.NewEngine(s.store, expiry,
		engine.WithLogger(log),
		engine.WithDispatcher(dispatcher),
	)
	s.router = New(eng, s.store, log).Router()
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlerSuite) decode(w *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.NewDecoder(w.Body).Decode(v))
}

func (s *HandlerSuite) registerCustomer() string {
	w := s.do(http.MethodPost, "/v1/customers", map[string]any{
		"type":     "INDIVIDUAL",
		"fullName": "Elodie Samba",
		"identifiers": []map[string]any{
			{"type": "PHONE_NUMBER", "value": "+242068883333", "channel": "SMS", "primary": true},
		},
	})
	s.Require().Equal(http.StatusCreated, w.Code)
	var resp struct {
		Ref string `json:"ref"`
	}
	s.decode(w, &resp)
	s.Require().NotEmpty(resp.Ref)
	return resp.Ref
}

func (s *HandlerSuite) startCase(customerRef string) string {
	w := s.do(http.MethodPost, "/v1/cases", map[string]any{
		"customerRef": customerRef,
		"channel":     "SMS",
	})
	s.Require().Equal(http.StatusCreated, w.Code)
	var resp struct {
		Ref    string `json:"ref"`
		Status string `json:"status"`
	}
	s.decode(w, &resp)
	s.Require().Equal("STARTED", resp.Status)
	return resp.Ref
}

func (s *HandlerSuite) TestIntakeFlow() {
	customerRef := s.registerCustomer()
	caseRef := s.startCase(customerRef)

	s.Run("consent activates the case", func() {
		w := s.do(http.MethodPost, "/v1/cases/"+caseRef+"/consent", map[string]any{
			"text":      "I agree",
			"version":   "v1",
			"consented": true,
		})
		s.Require().Equal(http.StatusOK, w.Code)
		var resp struct {
			Status string `json:"status"`
		}
		s.decode(w, &resp)
		s.Equal("IN_PROGRESS", resp.Status)
	})

	s.Run("document upload is acknowledged", func() {
		w := s.do(http.MethodPost, "/v1/cases/"+caseRef+"/documents", map[string]any{
			"type":     "PASSPORT",
			"fileName": "passport.png",
			"content":  []byte("scan"),
		})
		s.Require().Equal(http.StatusCreated, w.Code)
		var resp struct {
			ID       string `json:"id"`
			Checksum string `json:"checksum"`
		}
		s.decode(w, &resp)
		s.NotEmpty(resp.ID)
		s.NotEmpty(resp.Checksum)
	})

	s.Run("snapshot reports progress", func() {
		w := s.do(http.MethodGet, "/v1/cases/"+caseRef+"/", nil)
		s.Require().Equal(http.StatusOK, w.Code)
		var resp struct {
			Case struct {
				Status string `json:"status"`
			} `json:"case"`
			Consented bool `json:"consented"`
			Documents []struct {
				Type string `json:"type"`
			} `json:"documents"`
		}
		s.decode(w, &resp)
		s.Equal("IN_PROGRESS", resp.Case.Status)
		s.True(resp.Consented)
		s.Len(resp.Documents, 1)
	})
}

func (s *HandlerSuite) TestValidationFailures() {
	s.Run("malformed body is a bad request", func() {
		req := httptest.NewRequest(http.MethodPost, "/v1/customers", bytes.NewBufferString("{not json"))
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("missing customerRef is rejected", func() {
		w := s.do(http.MethodPost, "/v1/cases", map[string]any{"channel": "SMS"})
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("unknown case is not found", func() {
		w := s.do(http.MethodGet, "/v1/cases/FGR20260101-000/", nil)
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("incomplete documents surface details", func() {
		caseRef := s.startCase(s.registerCustomer())
		s.do(http.MethodPost, "/v1/cases/"+caseRef+"/consent", map[string]any{"consented": true})

		w := s.do(http.MethodPost, "/v1/cases/"+caseRef+"/transition", map[string]any{"event": "documents_complete"})
		s.Require().Equal(http.StatusBadRequest, w.Code)
		var resp struct {
			Error   string   `json:"error"`
			Details []string `json:"details"`
		}
		s.decode(w, &resp)
		s.Equal("incomplete_documents", resp.Error)
		s.NotEmpty(resp.Details)
	})

	s.Run("illegal transition conflicts", func() {
		caseRef := s.startCase(s.registerCustomer())
		w := s.do(http.MethodPost, "/v1/cases/"+caseRef+"/transition", map[string]any{"event": "approve"})
		s.Equal(http.StatusConflict, w.Code)
	})
}

func (s *HandlerSuite) TestHealth() {
	s.Run("healthy without checks", func() {
		w := s.do(http.MethodGet, "/healthz", nil)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("degraded when a dependency fails", func() {
		log := logger.Discard()
		expiry := policy.Expiry{CaseTTL: 7 * 24 * time.Hour}
		eng := engine.NewEngine(s.store, expiry, engine.WithLogger(log))
		failing := New(eng, s.store, log, func(context.Context) error { return errors.New("down") }).Router()

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		w := httptest.NewRecorder()
		failing.ServeHTTP(w, req)
		s.Equal(http.StatusServiceUnavailable, w.Code)
	})
}
