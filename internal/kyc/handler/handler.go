// Package handler wires the intake HTTP surface to the lifecycle engine.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kyc-engine/internal/kyc/engine"
	"kyc-engine/internal/kyc/models"
	"kyc-engine/internal/kyc/store"
	"kyc-engine/pkg/domainerrors"
	"kyc-engine/pkg/platform/httputil"
	"kyc-engine/pkg/platform/sentinel"
)

// Service is the slice of the engine the handler depends on.
type Service interface {
	RegisterCustomer(ctx context.Context, customer models.Customer, identifiers []models.CustomerIdentifier) (models.Customer, error)
	StartCase(ctx context.Context, customerRef string, channel models.ChannelType) (models.KycCase, error)
	Snapshot(ctx context.Context, caseRef string) (models.CaseSnapshot, error)
	RecordConsent(ctx context.Context, caseRef string, in engine.ConsentInput, actorID string) (models.KycCase, error)
	AttachDocument(ctx context.Context, caseRef string, in engine.DocumentInput, actorID string) (models.KycDocument, error)
	RequestTransition(ctx context.Context, caseRef string, event engine.Event, actorID string) (models.KycCase, error)
	RequestHelp(ctx context.Context, caseRef, message string) error
}

// Health reports readiness of a backing dependency.
type Health func(ctx context.Context) error

// Handler wires KYC endpoints to the engine.
type Handler struct {
	service     Service
	submissions store.SubmissionStore
	logger      *slog.Logger
	health      []Health
}

// New constructs the handler with its dependencies. Health checks run on
// /healthz; pass one per backing service that must be up.
func New(service Service, submissions store.SubmissionStore, logger *slog.Logger, health ...Health) *Handler {
	return &Handler{
		service:     service,
		submissions: submissions,
		logger:      logger,
		health:      health,
	}
}

// Router builds the full HTTP surface, including health and metrics.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/customers", h.handleRegisterCustomer)
		r.Post("/cases", h.handleStartCase)
		r.Route("/cases/{ref}", func(r chi.Router) {
			r.Get("/", h.handleGetCase)
			r.Post("/consent", h.handleConsent)
			r.Post("/documents", h.handleAttachDocument)
			r.Post("/transition", h.handleTransition)
			r.Post("/help", h.handleHelp)
		})
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	for _, check := range h.health {
		if err := check(ctx); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleRegisterCustomer(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[registerCustomerRequest](w, r, h.logger)
	if !ok {
		return
	}
	customer, identifiers, err := req.toModel()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	created, err := h.service.RegisterCustomer(r.Context(), customer, identifiers)
	if err != nil {
		h.fail(r, "register customer", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fromCustomer(created))
}

func (h *Handler) handleStartCase(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[startCaseRequest](w, r, h.logger)
	if !ok {
		return
	}
	if req.CustomerRef == "" {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "customerRef is required"))
		return
	}
	kc, err := h.service.StartCase(r.Context(), req.CustomerRef, models.ChannelType(req.Channel))
	if err != nil {
		h.fail(r, "start case", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fromCase(kc))
}

func (h *Handler) handleGetCase(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	snapshot, err := h.service.Snapshot(r.Context(), ref)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var sub *models.CdmsSubmission
	if s, err := h.submissions.GetSubmission(r.Context(), ref); err == nil {
		sub = &s
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		h.fail(r, "load submission", err)
	}
	httputil.WriteJSON(w, http.StatusOK, fromSnapshot(snapshot, sub))
}

func (h *Handler) handleConsent(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	req, ok := decode[consentRequest](w, r, h.logger)
	if !ok {
		return
	}
	in := req.toInput(clientIP(r), r.UserAgent())
	kc, err := h.service.RecordConsent(r.Context(), ref, in, actorFrom(r))
	if err != nil {
		h.fail(r, "record consent", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromCase(kc))
}

func (h *Handler) handleAttachDocument(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	req, ok := decode[attachDocumentRequest](w, r, h.logger)
	if !ok {
		return
	}
	doc, err := h.service.AttachDocument(r.Context(), ref, req.toInput(), actorFrom(r))
	if err != nil {
		h.fail(r, "attach document", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fromDocument(doc))
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	req, ok := decode[transitionRequest](w, r, h.logger)
	if !ok {
		return
	}
	actor := req.ActorID
	if actor == "" {
		actor = actorFrom(r)
	}
	kc, err := h.service.RequestTransition(r.Context(), ref, engine.Event(req.Event), actor)
	if err != nil {
		h.fail(r, "transition", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromCase(kc))
}

func (h *Handler) handleHelp(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	req, ok := decode[helpRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.RequestHelp(r.Context(), ref, req.Message); err != nil {
		h.fail(r, "help request", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) fail(r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), op+" failed",
		"request_id", middleware.GetReqID(r.Context()),
		"path", r.URL.Path,
		"error", err,
	)
}

// decode reads the JSON body into T, writing a bad_request on failure.
func decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (T, bool) {
	var v T
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&v); err != nil {
		logger.WarnContext(r.Context(), "bad request body", "path", r.URL.Path, "error", err)
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return v, false
	}
	return v, true
}

// actorFrom identifies the caller for the event trail. Upstream auth sets
// X-Actor-Id; absent that the request IP stands in.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor-Id"); actor != "" {
		return actor
	}
	return clientIP(r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
