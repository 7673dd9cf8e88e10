package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	units "github.com/AlexZinkM/paygate/internal/common"
	"github.com/AlexZinkM/paygate/internal/dispatch"
	"github.com/AlexZinkM/paygate/internal/ledger"
	"github.com/AlexZinkM/paygate/internal/logging"
	"github.com/AlexZinkM/paygate/internal/matcher"
	"github.com/AlexZinkM/paygate/internal/model"
)

// RecordPayment matches a received amount against the address's expected amount and
// persists the outcome: ledger first, then the address. A mismatch marks the address
// wrong and expired for good.
//
// A rejection returns the response explaining it together with ErrPaymentRejected.
func (s *Service) RecordPayment(ctx context.Context, req model.RecordPaymentRequest) (*model.RecordPaymentResponse, error) {
	if strings.TrimSpace(req.Address) == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidRequest)
	}

	s.record.Lock()
	defer s.record.Unlock()

	pa, err := s.Book.Get(req.Address)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if pa.Status == model.PaymentConfirmed {
		if req.TxHash != "" && strings.EqualFold(req.TxHash, pa.TxHash) {
			return &model.RecordPaymentResponse{
				Success: true, Status: pa.Status, IsCorrect: true, Payment: pa,
			}, nil
		}
		return s.reject(pa, "address already received its payment")
	}
	if !pa.Live(now) {
		if pa.Status == model.PaymentPending {
			if pa, err = s.expire(pa.Address); err != nil {
				return nil, err
			}
		}
		return s.reject(pa, "payment address is expired")
	}

	amount, from := req.Amount, req.From
	if s.cfg.VerifyOnChain && pa.CryptoType == model.CryptoETH && req.TxHash != "" {
		t, err := s.verifyTransfer(ctx, pa, req.TxHash)
		if err != nil {
			return nil, err
		}
		switch t.Status {
		case dispatch.StatusPending:
			entry, err := s.Ledger.Upsert(ledger.Key{TxHash: req.TxHash}, paymentPatch(pa, t.From, units.WeiToETH(t.Value), model.EntryPending))
			if err != nil {
				return nil, err
			}
			return &model.RecordPaymentResponse{
				Success: true, Status: model.PaymentPending, Payment: pa, Entry: &entry,
			}, nil
		case dispatch.StatusFailed:
			return nil, fmt.Errorf("%w: transaction %s failed on chain", ErrInvalidRequest, req.TxHash)
		}
		amount, from = units.WeiToETH(t.Value), t.From
	}

	actual, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount", ErrInvalidRequest)
	}
	expected, err := decimal.NewFromString(pa.ExpectedAmount)
	if err != nil {
		return nil, fmt.Errorf("stored expected amount is invalid: %w", err)
	}

	result := matcher.Check(expected, actual)
	entryStatus := model.EntryConfirmed
	if !result.Correct {
		entryStatus = model.EntryWrong
	}

	key := ledger.Key{TxHash: req.TxHash}
	if req.TxHash == "" {
		key = ledger.Key{Address: pa.Address, Timestamp: now}
	}
	patch := paymentPatch(pa, from, actual.String(), entryStatus)
	entry, err := s.Ledger.Upsert(key, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	pa, err = s.Book.Update(pa.Address, func(p *model.PaymentAddress) error {
		p.ReceivedAmount = actual.String()
		p.TxHash = req.TxHash
		if result.Correct {
			p.Status = model.PaymentConfirmed
			confirmedAt := now
			p.ConfirmedAt = &confirmedAt
			return nil
		}
		p.Status = model.PaymentWrong
		p.IsExpired = true
		return nil
	})
	if err != nil {
		s.Log.Error("payment recorded in ledger but address update failed", logging.Flagged(),
			"address", req.Address, "tx_id", entry.TxID, "error", err.Error())
		return nil, fmt.Errorf("failed to update payment address: %w", err)
	}

	outcome := "confirmed"
	if !result.Correct {
		outcome = "wrong"
	}
	s.Metrics.PaymentRecorded(string(pa.CryptoType), outcome)
	s.Log.Info("payment recorded", "address", pa.Address, "order_id", pa.OrderID, "outcome", outcome,
		"expected", pa.ExpectedAmount, "received", actual.String(), "criterion", string(result.Criterion))

	resp := &model.RecordPaymentResponse{
		Success:   result.Correct,
		Status:    pa.Status,
		IsExpired: pa.IsExpired,
		IsCorrect: result.Correct,
		Criterion: string(result.Criterion),
		Payment:   pa,
		Entry:     &entry,
	}
	if !result.Correct {
		resp.Error = fmt.Sprintf("received %s, expected %s", actual.String(), pa.ExpectedAmount)
	}
	return resp, nil
}

func paymentPatch(pa *model.PaymentAddress, from, amount string, status model.EntryStatus) ledger.Patch {
	typ := model.EntryPayment
	crypto := pa.CryptoType
	return ledger.Patch{
		From:       &from,
		To:         &pa.Address,
		Amount:     &amount,
		CryptoType: &crypto,
		Status:     &status,
		Type:       &typ,
		OrderID:    &pa.OrderID,
	}
}

func (s *Service) reject(pa *model.PaymentAddress, reason string) (*model.RecordPaymentResponse, error) {
	s.Metrics.PaymentRecorded(string(pa.CryptoType), "rejected")
	s.Log.Warn("payment rejected", "address", pa.Address, "status", string(pa.Status), "reason", reason)
	return &model.RecordPaymentResponse{
		Success:   false,
		Error:     reason,
		Status:    pa.Status,
		IsExpired: pa.IsExpired || pa.Status != model.PaymentConfirmed,
		Payment:   pa,
	}, ErrPaymentRejected
}

// verifyTransfer checks that txHash is a transfer into pa's address.
func (s *Service) verifyTransfer(ctx context.Context, pa *model.PaymentAddress, txHash string) (*dispatch.Transfer, error) {
	if !isTxHash(txHash) {
		return nil, fmt.Errorf("%w: invalid transaction hash", ErrInvalidRequest)
	}
	t, err := s.Dispatcher.Lookup(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, dispatch.ErrTxNotFound) {
			return nil, fmt.Errorf("%w: transaction %s not found on chain", ErrInvalidRequest, txHash)
		}
		return nil, err
	}
	if !strings.EqualFold(t.To, pa.Address) {
		return nil, fmt.Errorf("%w: transaction %s does not pay %s", ErrInvalidRequest, txHash, pa.Address)
	}
	return t, nil
}

// DetectPayment reads the address's on-chain balance and records a nonzero one as
// the received amount.
func (s *Service) DetectPayment(ctx context.Context, address string) (*model.RecordPaymentResponse, error) {
	pa, err := s.PaymentStatus(address)
	if err != nil {
		return nil, err
	}
	if !pa.Live(s.now()) {
		return &model.RecordPaymentResponse{
			Success: pa.Status == model.PaymentConfirmed, Status: pa.Status, IsExpired: pa.IsExpired,
			IsCorrect: pa.Status == model.PaymentConfirmed, Payment: pa,
		}, nil
	}
	bal, err := s.Balances.Balance(ctx, pa.CryptoType, pa.Address)
	if err != nil {
		return nil, err
	}
	if bal.Sign() == 0 {
		return &model.RecordPaymentResponse{Success: true, Status: pa.Status, Payment: pa}, nil
	}
	return s.RecordPayment(ctx, model.RecordPaymentRequest{
		Address: pa.Address,
		Amount:  units.FormatUnits(bal, pa.CryptoType.Decimals()),
	})
}

// PaymentStatus returns the address, marking it expired once past its expiry.
func (s *Service) PaymentStatus(address string) (*model.PaymentAddress, error) {
	pa, err := s.Book.Get(address)
	if err != nil {
		return nil, err
	}
	if pa.Status == model.PaymentPending && !s.now().Before(pa.ExpiresAt) {
		return s.expire(pa.Address)
	}
	return pa, nil
}

func (s *Service) expire(address string) (*model.PaymentAddress, error) {
	return s.Book.Update(address, func(p *model.PaymentAddress) error {
		if p.Status == model.PaymentPending {
			p.Status = model.PaymentExpired
		}
		p.IsExpired = true
		return nil
	})
}

// ExpireStale marks every pending address past its expiry as expired.
func (s *Service) ExpireStale(now time.Time) (int, error) {
	n, err := s.Book.UpdateAll(func(p *model.PaymentAddress) bool {
		if p.Status != model.PaymentPending || now.Before(p.ExpiresAt) {
			return false
		}
		p.Status = model.PaymentExpired
		p.IsExpired = true
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("failed to expire addresses: %w", err)
	}
	if n > 0 {
		s.Log.Info("stale payment addresses expired", "count", n)
	}
	return n, nil
}

// RemoveAddress abandons an address and deletes it from the book.
func (s *Service) RemoveAddress(address string) (*model.PaymentAddress, error) {
	if _, err := s.Book.Update(address, func(p *model.PaymentAddress) error {
		p.Status = model.PaymentAbandoned
		p.IsExpired = true
		return nil
	}); err != nil {
		return nil, err
	}
	removed, err := s.Book.Remove(address)
	if err != nil {
		return nil, err
	}
	s.Log.Warn("payment address removed by operator", "address", removed.Address, "order_id", removed.OrderID,
		"index", removed.DerivationIndex)
	return removed, nil
}

func isTxHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}
