package payments

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"github.com/AlexZinkM/paygate/internal/matcher"
	"github.com/AlexZinkM/paygate/internal/model"
	"github.com/AlexZinkM/paygate/internal/wallet"
)

// AllocateAddress assigns a fresh address to an order. When only a fiat amount is
// given the expected amount is converted at the current rate.
func (s *Service) AllocateAddress(ctx context.Context, req model.AllocateRequest) (*model.AllocateResponse, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return nil, fmt.Errorf("%w: orderId is required", ErrInvalidRequest)
	}
	crypto, err := model.ParseCryptoType(string(req.CryptoType))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var (
		expected decimal.Decimal
		rate     decimal.Decimal
	)
	switch {
	case req.Amount != "":
		expected, err = decimal.NewFromString(strings.TrimSpace(req.Amount))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid amount", ErrInvalidRequest)
		}
	case req.FiatAmount != "":
		fiat, err := decimal.NewFromString(strings.TrimSpace(req.FiatAmount))
		if err != nil || !fiat.IsPositive() {
			return nil, fmt.Errorf("%w: invalid fiatAmount", ErrInvalidRequest)
		}
		if req.FiatCurrency == "" {
			return nil, fmt.Errorf("%w: fiatCurrency is required with fiatAmount", ErrInvalidRequest)
		}
		if s.Rates == nil {
			return nil, fmt.Errorf("%w: no rate source configured", ErrUnsupported)
		}
		rate, err = s.Rates.GetRate(ctx, crypto, req.FiatCurrency)
		if err != nil {
			return nil, fmt.Errorf("failed to get rate: %w", err)
		}
		expected = fiat.Div(rate).Round(matcher.Precision)
	default:
		return nil, fmt.Errorf("%w: amount or fiatAmount is required", ErrInvalidRequest)
	}
	if !matcher.Payable(expected) {
		return nil, fmt.Errorf("%w: amount must be at least 0.000001", ErrInvalidRequest)
	}

	pa, err := s.Allocator.Allocate(ctx, wallet.Request{
		OrderID:        req.OrderID,
		ExpectedAmount: expected,
		CryptoType:     crypto,
		FiatAmount:     req.FiatAmount,
		FiatCurrency:   strings.ToUpper(req.FiatCurrency),
	})
	if err != nil {
		return nil, err
	}

	qr, err := generateQRCode(paymentURI(pa))
	if err != nil {
		s.Log.Warn("failed to render payment QR code", "address", pa.Address, "error", err.Error())
	}
	resp := &model.AllocateResponse{
		Success: true,
		Message: "payment address allocated",
		Payment: pa,
		QR:      qr,
	}
	if !rate.IsZero() {
		resp.Rate = rate.String()
	}
	return resp, nil
}

// paymentURI is what wallets scan: EIP-681 for ETH, Solana Pay for SOL.
func paymentURI(pa *model.PaymentAddress) string {
	if pa.CryptoType == model.CryptoSOL {
		return fmt.Sprintf("solana:%s?amount=%s", pa.Address, pa.ExpectedAmount)
	}
	return "ethereum:" + pa.Address
}

// generateQRCode renders content as a base64 PNG.
func generateQRCode(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate PNG: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
