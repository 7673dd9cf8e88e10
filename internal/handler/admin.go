package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AlexZinkM/paygate/internal/logging"
	"github.com/AlexZinkM/paygate/internal/model"
)

// AdminService is the part of the payments service used by operator routes.
type AdminService interface {
	ReleaseFunds(ctx context.Context, req model.ReleaseRequest) (*model.ReleaseResponse, error)
	ConfirmRelease(ctx context.Context, txHash string) (*model.ConfirmResponse, error)
	TotalExposure(ctx context.Context) (*model.ExposureResponse, error)
	Transactions(filter model.TransactionFilter) (*model.TransactionsResponse, error)
	RemoveAddress(address string) (*model.PaymentAddress, error)

	DatabaseStatus(force bool) *model.DatabaseStatusResponse
	CreateBackup(file string) (*model.BackupResponse, error)
	ListBackups() (*model.BackupListResponse, error)
	VerifyBackup(name string) (*model.VerifyResponse, error)
	RestoreBackup(name string, force bool) (*model.RestoreResponse, error)
	AutoRecover() *model.RestoreResponse
	UploadBackup(sourceFile, content string) (*model.BackupResponse, error)
	CleanupBackups() (*model.CleanupResponse, error)
}

// AdminHandler serves /api/admin.
type AdminHandler struct {
	svc AdminService
	log *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc AdminService, log *slog.Logger) *AdminHandler {
	if log == nil {
		log = logging.Discard()
	}
	return &AdminHandler{svc: svc, log: log}
}

// Release handles POST /api/admin/release
// @Summary      Release funds to the merchant
// @Description  Sends ETH from a payment address. Without source, the confirmed address with the highest balance is used (highest_balance policy). Without amount, the whole balance minus the fee is sent.
// @Tags         admin
// @Accept       json
// @Produce      json
// @Param        request  body      model.ReleaseRequest  true  "Release data"
// @Success      200      {object}  model.ReleaseResponse
// @Failure      400      {object}  model.ErrorResponse
// @Failure      422      {object}  model.ErrorResponse
// @Failure      502      {object}  model.ErrorResponse
// @Security     AdminToken
// @Router       /api/admin/release [post]
func (h *AdminHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req model.ReleaseRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.svc.ReleaseFunds(r.Context(), req)
	if err != nil && resp != nil {
		status, _ := classify(err)
		h.log.Error("release submitted but not recorded", "tx_hash", resp.TxHash, "error", err.Error())
		writeJSON(w, status, resp)
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ConfirmRelease handles GET /api/admin/release/{txHash}
// @Summary      Confirm release
// @Description  Polls for the release receipt. pending and not_found are normal results that can be polled again.
// @Tags         admin
// @Produce      json
// @Param        txHash  path      string  true  "Transaction hash"
// @Success      200     {object}  model.ConfirmResponse
// @Failure      400     {object}  model.ErrorResponse
// @Security     AdminToken
// @Router       /api/admin/release/{txHash} [get]
func (h *AdminHandler) ConfirmRelease(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.ConfirmRelease(r.Context(), chi.URLParam(r, "txHash"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Exposure handles GET /api/admin/exposure
// @Summary      Total exposure
// @Description  Sums the balances of every known address. Addresses whose balance could not be read count as zero and are listed in failed.
// @Tags         admin
// @Produce      json
// @Success      200  {object}  model.ExposureResponse
// @Security     AdminToken
// @Router       /api/admin/exposure [get]
func (h *AdminHandler) Exposure(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.TotalExposure(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Transactions handles GET /api/admin/transactions
// @Summary      Ledger transactions
// @Description  Lists ledger entries, newest first, with received and released totals.
// @Tags         admin
// @Produce      json
// @Param        type        query     string  false  "payment or release"
// @Param        status      query     string  false  "pending, confirmed, failed, wrong or release"
// @Param        txId        query     string  false  "Transaction ID or hash"
// @Param        address     query     string  false  "Sender or recipient address"
// @Param        cryptoType  query     string  false  "ETH or SOL"
// @Param        from        query     string  false  "Start date (YYYY-MM-DD)"
// @Param        to          query     string  false  "End date (YYYY-MM-DD)"
// @Param        minAmount   query     string  false  "Minimum amount"
// @Param        maxAmount   query     string  false  "Maximum amount"
// @Success      200         {object}  model.TransactionsResponse
// @Failure      400         {object}  model.ErrorResponse
// @Security     AdminToken
// @Router       /api/admin/transactions [get]
func (h *AdminHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	var f model.TransactionFilter
	q := r.URL.Query()

	const dateLayout = "2006-01-02"
	if fromStr := q.Get("from"); fromStr != "" {
		t, err := time.Parse(dateLayout, fromStr)
		if err != nil {
			badRequest(w, "invalid from date: use YYYY-MM-DD (e.g. 2006-01-02)")
			return
		}
		f.From = &t
	}
	if toStr := q.Get("to"); toStr != "" {
		t, err := time.Parse(dateLayout, toStr)
		if err != nil {
			badRequest(w, "invalid to date: use YYYY-MM-DD (e.g. 2006-01-02)")
			return
		}
		// End of day so filter is inclusive
		t = t.Add(24*time.Hour - time.Nanosecond)
		f.To = &t
	}
	if v := q.Get("type"); v != "" {
		typ := model.EntryType(v)
		f.Type = &typ
	}
	if v := q.Get("status"); v != "" {
		status := model.EntryStatus(v)
		f.Status = &status
	}
	if v := q.Get("cryptoType"); v != "" {
		crypto := model.CryptoType(v)
		f.CryptoType = &crypto
	}
	for key, dst := range map[string]**string{
		"txId": &f.TxID, "address": &f.Address, "minAmount": &f.MinAmount, "maxAmount": &f.MaxAmount,
	} {
		if v := q.Get(key); v != "" {
			*dst = &v
		}
	}

	resp, err := h.svc.Transactions(f)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RemoveAddress handles DELETE /api/admin/addresses/{address}
// @Summary      Remove payment address
// @Description  Abandons the address and deletes it from the address book.
// @Tags         admin
// @Produce      json
// @Param        address  path      string  true  "Payment address"
// @Success      200      {object}  model.PaymentStatusResponse
// @Failure      404      {object}  model.ErrorResponse
// @Security     AdminToken
// @Router       /api/admin/addresses/{address} [delete]
func (h *AdminHandler) RemoveAddress(w http.ResponseWriter, r *http.Request) {
	pa, err := h.svc.RemoveAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, model.PaymentStatusResponse{Success: true, Payment: pa})
}

// DatabaseStatus handles GET /api/admin/database/status
// @Summary      Critical file integrity
// @Description  Classifies each critical file as healthy, missing, empty or corrupted. Results are cached briefly unless force=true.
// @Tags         database
// @Produce      json
// @Param        force  query     bool  false  "Bypass the status cache"
// @Success      200    {object}  model.DatabaseStatusResponse
// @Security     AdminToken
// @Router       /api/admin/database/status [get]
func (h *AdminHandler) DatabaseStatus(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	writeJSON(w, http.StatusOK, h.svc.DatabaseStatus(force))
}

// CreateBackup handles POST /api/admin/database/backup
// @Summary      Create backup
// @Description  Backs up one critical file, or every healthy one when file is omitted.
// @Tags         database
// @Accept       json
// @Produce      json
// @Param        request  body      model.BackupRequest  false  "File to back up"
// @Success      200      {object}  model.BackupResponse
// @Failure      400      {object}  model.ErrorResponse
// @Security     AdminToken
// @Router       /api/admin/database/backup [post]
func (h *AdminHandler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	var req model.BackupRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	resp, err := h.svc.CreateBackup(req.File)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// ListBackups handles GET /api/admin/database/backups
// @Summary      List backups
// @Tags         database
// @Produce      json
// @Success      200  {object}  model.BackupListResponse
// @Security     AdminToken
// @Router       /api/admin/database/backups [get]
func (h *AdminHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.ListBackups()
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// VerifyBackup handles POST /api/admin/database/backups/verify
// @Summary      Verify backup
// @Description  Checks a backup against its file's schema without restoring it.
// @Tags         database
// @Accept       json
// @Produce      json
// @Param        request  body      model.VerifyRequest  true  "Backup name"
// @Success      200      {object}  model.VerifyResponse
// @Failure      404      {object}  model.ErrorResponse
// @Security     AdminToken
// @Router       /api/admin/database/backups/verify [post]
func (h *AdminHandler) VerifyBackup(w http.ResponseWriter, r *http.Request) {
	var req model.VerifyRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.svc.VerifyBackup(req.FileName)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Restore handles POST /api/admin/database/restore
// @Summary      Restore backup
// @Description  Overwrites a critical file with a backup. The backup must verify unless force is set; the current file is kept as a pre-restore backup.
// @Tags         database
// @Accept       json
// @Produce      json
// @Param        request  body      model.RestoreRequest  true  "Backup name"
// @Success      200      {object}  model.RestoreResponse
// @Failure      404      {object}  model.ErrorResponse
// @Failure      422      {object}  model.ErrorResponse
// @Security     AdminToken
// @Router       /api/admin/database/restore [post]
func (h *AdminHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req model.RestoreRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.svc.RestoreBackup(req.FileName, req.Force)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Recover handles POST /api/admin/database/recover
// @Summary      Auto-recover damaged files
// @Description  Restores every damaged required file from its newest valid backup. Per-file outcomes are listed.
// @Tags         database
// @Produce      json
// @Success      200  {object}  model.RestoreResponse
// @Failure      500  {object}  model.RestoreResponse
// @Security     AdminToken
// @Router       /api/admin/database/recover [post]
func (h *AdminHandler) Recover(w http.ResponseWriter, r *http.Request) {
	resp := h.svc.AutoRecover()
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// Upload handles POST /api/admin/database/backups/upload
// @Summary      Upload backup
// @Description  Stores operator-supplied content as an uploaded backup after schema verification.
// @Tags         database
// @Accept       json
// @Produce      json
// @Param        request  body      model.UploadRequest  true  "Backup content"
// @Success      200      {object}  model.BackupResponse
// @Failure      400      {object}  model.ErrorResponse
// @Failure      422      {object}  model.ErrorResponse
// @Security     AdminToken
// @Router       /api/admin/database/backups/upload [post]
func (h *AdminHandler) Upload(w http.ResponseWriter, r *http.Request) {
	var req model.UploadRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.svc.UploadBackup(req.SourceFile, req.Content)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Cleanup handles POST /api/admin/database/backups/cleanup
// @Summary      Remove old backups
// @Description  Deletes backups older than the retention age, keeping the newest backup of each file.
// @Tags         database
// @Produce      json
// @Success      200  {object}  model.CleanupResponse
// @Security     AdminToken
// @Router       /api/admin/database/backups/cleanup [post]
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.CleanupBackups()
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
