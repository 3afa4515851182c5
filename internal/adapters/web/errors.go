package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"medsupply/internal/core"
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
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeCoreError maps a core ledger error onto an HTTP status and error code.
// Unrecognized errors become opaque 500s.
func writeCoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrItemNotFound),
		errors.Is(err, core.ErrLocationNotFound),
		errors.Is(err, core.ErrStockRecordNotFound):
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, core.ErrInsufficientStock):
		writeError(w, r, err.Error(), "INSUFFICIENT_STOCK", http.StatusConflict)
	case errors.Is(err, core.ErrDuplicateTransaction),
		errors.Is(err, core.ErrConcurrencyConflict),
		errors.Is(err, core.ErrItemExists),
		errors.Is(err, core.ErrLocationExists):
		writeError(w, r, err.Error(), "CONFLICT", http.StatusConflict)
	case errors.Is(err, core.ErrInvalidQuantity),
		errors.Is(err, core.ErrInvalidType),
		errors.Is(err, core.ErrMissingLocation),
		errors.Is(err, core.ErrSameLocationTransfer),
		errors.Is(err, core.ErrReasonRequired),
		errors.Is(err, core.ErrActorRequired),
		errors.Is(err, core.ErrLotRequired),
		errors.Is(err, core.ErrSerialRequired),
		errors.Is(err, core.ErrNothingToAdjust),
		errors.Is(err, core.ErrInsufficientReservation),
		errors.Is(err, core.ErrCodeRequired),
		errors.Is(err, core.ErrLocationInactive):
		writeError(w, r, err.Error(), "INVALID_INPUT", http.StatusUnprocessableEntity)
	default:
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}
