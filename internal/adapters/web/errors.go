package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"commodity-desk/internal/core"
	"commodity-desk/internal/lock"
	"commodity-desk/internal/logger"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorMapping struct {
	target error
	code   string
	status int
}

var errorMappings = []errorMapping{
	{core.ErrProductNotFound, "PRODUCT_NOT_FOUND", http.StatusNotFound},
	{core.ErrCalculationNotFound, "CALCULATION_NOT_FOUND", http.StatusNotFound},
	{core.ErrSnapshotNotFound, "SNAPSHOT_NOT_FOUND", http.StatusNotFound},
	{core.ErrMissingExchangeRate, "MISSING_EXCHANGE_RATE", http.StatusUnprocessableEntity},
	{core.ErrMissingFreight, "MISSING_FREIGHT", http.StatusUnprocessableEntity},
	{core.ErrNotCurrent, "NOT_CURRENT", http.StatusConflict},
	{core.ErrConcurrencyConflict, "CONCURRENCY_CONFLICT", http.StatusConflict},
	{core.ErrSnapshotAlreadyLinked, "SNAPSHOT_ALREADY_LINKED", http.StatusConflict},
	{core.ErrValidation, "VALIDATION_ERROR", http.StatusBadRequest},
	{lock.ErrNotObtained, "PRODUCT_BUSY", http.StatusServiceUnavailable},
}

// writeServiceError maps a service error onto the JSON envelope. Unknown errors are
// logged and reported as 500 without their text.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, funcName string, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			writeError(w, r, err.Error(), m.code, m.status)
			return
		}
	}
	logger.LogError(h.log, "web", funcName, "unhandled service error",
		map[string]any{"path": r.URL.Path, "request_id": requestIDFromContext(r.Context())}, err)
	writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
}
