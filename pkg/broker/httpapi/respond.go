package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/trenner1/bazel-auth-broker/pkg/brokererrors"
	"github.com/trenner1/bazel-auth-broker/pkg/logger"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnw("failed to encode json response", "error", err)
	}
}

// writeError converts err into the broker's closed wire error taxonomy
// at the HTTP boundary. Anything not already a *brokererrors.Error is
// classified INTERNAL; the original error is logged, never echoed to the
// client.
func writeError(w http.ResponseWriter, err error) {
	var be *brokererrors.Error
	if !errors.As(err, &be) {
		be = brokererrors.NewInternalError("unclassified internal error", err)
	}
	logger.Errorw("request failed", "kind", be.Type, "error", be.Error())
	writeJSON(w, be.StatusCode(), errorResponse{Error: string(be.Type), Message: be.Message})
}

// writeBadRequest renders a plain 400 for request-shape failures that
// never reach the state machine (malformed JSON, oversized metadata
// fields). They carry no brokererrors kind; the error field is the fixed
// value INVALID_REQUEST.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "INVALID_REQUEST", Message: message})
}
