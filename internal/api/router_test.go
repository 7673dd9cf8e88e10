package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexZinkM/paygate/internal/metrics"
	"github.com/AlexZinkM/paygate/internal/model"
)

type stubService struct {
	healthy bool
}

func (s *stubService) AllocateAddress(context.Context, model.AllocateRequest) (*model.AllocateResponse, error) {
	return &model.AllocateResponse{Success: true}, nil
}

func (s *stubService) RecordPayment(context.Context, model.RecordPaymentRequest) (*model.RecordPaymentResponse, error) {
	return &model.RecordPaymentResponse{Success: true}, nil
}

func (s *stubService) DetectPayment(context.Context, string) (*model.RecordPaymentResponse, error) {
	return &model.RecordPaymentResponse{Success: true}, nil
}

func (s *stubService) PaymentStatus(address string) (*model.PaymentAddress, error) {
	return &model.PaymentAddress{Address: address}, nil
}

func (s *stubService) ReleaseFunds(context.Context, model.ReleaseRequest) (*model.ReleaseResponse, error) {
	return &model.ReleaseResponse{Success: true}, nil
}

func (s *stubService) ConfirmRelease(_ context.Context, txHash string) (*model.ConfirmResponse, error) {
	return &model.ConfirmResponse{Success: true, TxHash: txHash}, nil
}

func (s *stubService) TotalExposure(context.Context) (*model.ExposureResponse, error) {
	return &model.ExposureResponse{Success: true}, nil
}

func (s *stubService) Transactions(model.TransactionFilter) (*model.TransactionsResponse, error) {
	return &model.TransactionsResponse{Success: true}, nil
}

func (s *stubService) RemoveAddress(address string) (*model.PaymentAddress, error) {
	return &model.PaymentAddress{Address: address}, nil
}

func (s *stubService) DatabaseStatus(bool) *model.DatabaseStatusResponse {
	return &model.DatabaseStatusResponse{Success: true, Healthy: s.healthy}
}

func (s *stubService) CreateBackup(string) (*model.BackupResponse, error) {
	return &model.BackupResponse{Success: true}, nil
}

func (s *stubService) ListBackups() (*model.BackupListResponse, error) {
	return &model.BackupListResponse{Success: true}, nil
}

func (s *stubService) VerifyBackup(string) (*model.VerifyResponse, error) {
	return &model.VerifyResponse{Success: true, Valid: true}, nil
}

func (s *stubService) RestoreBackup(string, bool) (*model.RestoreResponse, error) {
	return &model.RestoreResponse{Success: true}, nil
}

func (s *stubService) AutoRecover() *model.RestoreResponse {
	return &model.RestoreResponse{Success: true}
}

func (s *stubService) UploadBackup(string, string) (*model.BackupResponse, error) {
	return &model.BackupResponse{Success: true}, nil
}

func (s *stubService) CleanupBackups() (*model.CleanupResponse, error) {
	return &model.CleanupResponse{Success: true}, nil
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminRoutesRequireToken(t *testing.T) {
	h := SetupRouter(&stubService{healthy: true}, Options{AdminToken: "s3cret", RateLimitPerMin: 60})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/admin/exposure", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/exposure", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/database/backups", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/payments/0xabc", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPaymentRoutesAreRateLimited(t *testing.T) {
	h := SetupRouter(&stubService{healthy: true}, Options{RateLimitPerMin: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/payments/record", strings.NewReader(`{"address":"0xabc"}`))
		req.RemoteAddr = "203.0.113.7:5000"
		codes = append(codes, serve(h, req).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodPost, "/api/payments/record", strings.NewReader(`{"address":"0xabc"}`))
	req.RemoteAddr = "203.0.113.8:5000"
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
}

func TestHealthzReflectsIntegrity(t *testing.T) {
	svc := &stubService{healthy: false}
	h := SetupRouter(svc, Options{RateLimitPerMin: 60})
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)

	svc.healthy = true
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func TestMetricsEndpointExposesRequestLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := SetupRouter(&stubService{healthy: true}, Options{RateLimitPerMin: 60, Gatherer: reg, Metrics: metrics.New(reg)})

	serve(h, httptest.NewRequest(http.MethodGet, "/api/payments/0xabc", nil))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/payments/{address}"`)
}

func TestClientIDPrefersForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", clientID(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.2, 10.0.0.1")
	assert.Equal(t, "198.51.100.2", clientID(req))

	req.Header.Set("X-Real-IP", "198.51.100.9")
	assert.Equal(t, "198.51.100.9", clientID(req))
}
