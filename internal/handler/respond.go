// Package handler adapts the payment operations to HTTP. Every response body is a
// JSON object carrying a success flag; failures also carry an error message.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AlexZinkM/paygate/internal/backup"
	"github.com/AlexZinkM/paygate/internal/dispatch"
	"github.com/AlexZinkM/paygate/internal/integrity"
	"github.com/AlexZinkM/paygate/internal/model"
	"github.com/AlexZinkM/paygate/internal/provider"
	"github.com/AlexZinkM/paygate/internal/retry"
	"github.com/AlexZinkM/paygate/internal/storage"
	"github.com/AlexZinkM/paygate/internal/wallet"
	"github.com/AlexZinkM/paygate/payments"
)

// maxBodyBytes bounds request bodies; backup uploads are the largest.
const maxBodyBytes = 16 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "error", err.Error(), "code", code)
	}
	writeJSON(w, status, model.ErrorResponse{Success: false, Error: err.Error(), Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Success: false, Error: msg, Code: "invalid_request"})
}

// classify maps an error to an HTTP status and a stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, dispatch.ErrUnrecorded):
		return http.StatusInternalServerError, "unrecorded"
	case errors.Is(err, payments.ErrInvalidRequest),
		errors.Is(err, dispatch.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, payments.ErrUnsupported):
		return http.StatusBadRequest, "unsupported"
	case errors.Is(err, integrity.ErrUnknownFile),
		errors.Is(err, backup.ErrUnknownFile):
		return http.StatusBadRequest, "unknown_file"
	case errors.Is(err, wallet.ErrAddressNotFound):
		return http.StatusNotFound, "address_not_found"
	case errors.Is(err, backup.ErrBackupNotFound):
		return http.StatusNotFound, "backup_not_found"
	case errors.Is(err, payments.ErrPaymentRejected):
		return http.StatusConflict, "payment_rejected"
	case errors.Is(err, dispatch.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, payments.ErrNothingToRelease):
		return http.StatusUnprocessableEntity, "nothing_to_release"
	case errors.Is(err, backup.ErrBackupInvalid):
		return http.StatusUnprocessableEntity, "backup_invalid"
	case errors.Is(err, backup.ErrNoValidBackup):
		return http.StatusUnprocessableEntity, "no_valid_backup"
	case errors.Is(err, provider.ErrNoProviderAvailable), errors.Is(err, retry.ErrNoProvider):
		return http.StatusServiceUnavailable, "no_provider"
	case errors.Is(err, wallet.ErrNoZeroBalanceAddressFound):
		return http.StatusServiceUnavailable, "no_free_address"
	case errors.Is(err, retry.ErrBudgetExhausted):
		return http.StatusBadGateway, "send_failed"
	case errors.Is(err, storage.ErrCorrupt), errors.Is(err, storage.ErrEmpty):
		return http.StatusServiceUnavailable, "storage_damaged"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
