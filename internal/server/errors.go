package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/thatsimo/yet-another-chatbot/internal/extract"
	"github.com/thatsimo/yet-another-chatbot/internal/logging"
	"github.com/thatsimo/yet-another-chatbot/internal/qa"
	"github.com/thatsimo/yet-another-chatbot/internal/rag"
	"github.com/thatsimo/yet-another-chatbot/internal/store"
)

// Outcome labels for the query and ingest counters.
const (
	outcomeOK            = "ok"
	outcomeNoDocuments   = "no_documents"
	outcomeBadRequest    = "bad_request"
	outcomeUnprocessable = "unprocessable"
	outcomeNotFound      = "not_found"
	outcomeTimeout       = "timeout"
	outcomeProviderErr   = "provider_error"
	outcomeInternalErr   = "error"
)

// classify maps an error to its HTTP status, the message shown to the
// client and its metrics outcome. Provider details stay in the logs.
func classify(err error) (status int, msg, outcome string) {
	switch {
	case err == nil:
		return http.StatusOK, "", outcomeOK
	case errors.Is(err, extract.ErrUnsupportedFormat), errors.Is(err, qa.ErrEmptyQuestion):
		return http.StatusBadRequest, trimPackage(err.Error()), outcomeBadRequest
	case errors.Is(err, extract.ErrExtraction):
		return http.StatusUnprocessableEntity, trimPackage(err.Error()), outcomeUnprocessable
	case errors.Is(err, store.ErrUnknownSession):
		return http.StatusNotFound, "session not found", outcomeNotFound
	case errors.Is(err, rag.ErrProviderTimeout):
		return http.StatusGatewayTimeout, "the model provider timed out, please retry", outcomeTimeout
	case errors.Is(err, rag.ErrGeneration):
		return http.StatusBadGateway, "answer generation failed", outcomeProviderErr
	default:
		return http.StatusInternalServerError, "internal error", outcomeInternalErr
	}
}

// trimPackage drops the "pkg: " prefixes added while wrapping.
func trimPackage(msg string) string {
	for _, p := range []string{"ingestion: ", "qa: "} {
		msg = strings.TrimPrefix(msg, p)
	}
	return msg
}

func outcomeOf(err error) string {
	_, _, outcome := classify(err)
	return outcome
}

// writeError logs err and writes its mapped status and JSON body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg, _ := classify(err)
	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Int("status", status), slog.Any("error", err))
	} else {
		log.Warn("request rejected", slog.Int("status", status), slog.Any("error", err))
	}
	writeJSONError(w, msg, status)
}

// writeJSONError writes {"error": msg} with the given status.
func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}
