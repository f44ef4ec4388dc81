// Package httputil holds the JSON response helpers shared by HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"kyc-engine/pkg/domainerrors"
)

// ErrorResponse is the wire shape for failed requests. Details carries
// structured context such as the missing-document list.
type ErrorResponse struct {
	Error            string   `json:"error"`
	ErrorDescription string   `json:"error_description,omitempty"`
	Details          []string `json:"details,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps a domain error to its HTTP status and writes the error
// body. Internal errors omit the description so storage details never leak.
func WriteError(w http.ResponseWriter, err error) {
	code := domainerrors.CodeOf(err)
	resp := ErrorResponse{Error: string(code)}
	if code != domainerrors.CodeInternal {
		var de *domainerrors.Error
		if errors.As(err, &de) {
			resp.ErrorDescription = de.Message
			resp.Details = de.Details
		} else {
			resp.ErrorDescription = err.Error()
		}
	}
	WriteJSON(w, statusFor(code), resp)
}

func statusFor(code domainerrors.Code) int {
	switch code {
	case domainerrors.CodeNotFound:
		return http.StatusNotFound
	case domainerrors.CodeBadRequest, domainerrors.CodeIncompleteDocuments:
		return http.StatusBadRequest
	case domainerrors.CodeInvalidTransition, domainerrors.CodeConcurrentModification:
		return http.StatusConflict
	case domainerrors.CodeGatewayRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
