package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AlexZinkM/paygate/internal/logging"
	"github.com/AlexZinkM/paygate/internal/model"
	"github.com/AlexZinkM/paygate/payments"
)

// PaymentService is the part of the payments service used by merchant-facing routes.
type PaymentService interface {
	AllocateAddress(ctx context.Context, req model.AllocateRequest) (*model.AllocateResponse, error)
	RecordPayment(ctx context.Context, req model.RecordPaymentRequest) (*model.RecordPaymentResponse, error)
	DetectPayment(ctx context.Context, address string) (*model.RecordPaymentResponse, error)
	PaymentStatus(address string) (*model.PaymentAddress, error)
}

// PaymentsHandler serves /api/payments.
type PaymentsHandler struct {
	svc PaymentService
	log *slog.Logger
}

// NewPaymentsHandler creates a PaymentsHandler.
func NewPaymentsHandler(svc PaymentService, log *slog.Logger) *PaymentsHandler {
	if log == nil {
		log = logging.Discard()
	}
	return &PaymentsHandler{svc: svc, log: log}
}

// Allocate handles POST /api/payments/address
// @Summary      Allocate payment address
// @Description  Assigns a fresh HD-derived address to an order. Give amount, or fiatAmount with fiatCurrency to convert at the current rate.
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        request  body      model.AllocateRequest  true  "Order data"
// @Success      200      {object}  model.AllocateResponse
// @Failure      400      {object}  model.ErrorResponse
// @Failure      503      {object}  model.ErrorResponse
// @Router       /api/payments/address [post]
func (h *PaymentsHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req model.AllocateRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.svc.AllocateAddress(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Record handles POST /api/payments/record
// @Summary      Record received payment
// @Description  Matches the received amount against the expected amount. A wrong amount expires the address; expired or settled addresses are rejected with isExpired.
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        request  body      model.RecordPaymentRequest  true  "Payment data"
// @Success      200      {object}  model.RecordPaymentResponse
// @Failure      400      {object}  model.ErrorResponse
// @Failure      404      {object}  model.ErrorResponse
// @Failure      409      {object}  model.RecordPaymentResponse
// @Router       /api/payments/record [post]
func (h *PaymentsHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req model.RecordPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.svc.RecordPayment(r.Context(), req)
	if errors.Is(err, payments.ErrPaymentRejected) && resp != nil {
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Status handles GET /api/payments/{address}
// @Summary      Payment address status
// @Tags         payments
// @Produce      json
// @Param        address  path      string  true  "Payment address"
// @Success      200      {object}  model.PaymentStatusResponse
// @Failure      404      {object}  model.ErrorResponse
// @Router       /api/payments/{address} [get]
func (h *PaymentsHandler) Status(w http.ResponseWriter, r *http.Request) {
	pa, err := h.svc.PaymentStatus(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, model.PaymentStatusResponse{Success: true, Payment: pa})
}

// Detect handles POST /api/payments/{address}/detect
// @Summary      Detect payment on chain
// @Description  Reads the address balance through the provider pool and records a nonzero balance as the received amount.
// @Tags         payments
// @Produce      json
// @Param        address  path      string  true  "Payment address"
// @Success      200      {object}  model.RecordPaymentResponse
// @Failure      404      {object}  model.ErrorResponse
// @Failure      503      {object}  model.ErrorResponse
// @Router       /api/payments/{address}/detect [post]
func (h *PaymentsHandler) Detect(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.DetectPayment(r.Context(), chi.URLParam(r, "address"))
	if errors.Is(err, payments.ErrPaymentRejected) && resp != nil {
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
