package payments

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/AlexZinkM/paygate/internal/client"
	units "github.com/AlexZinkM/paygate/internal/common"
	"github.com/AlexZinkM/paygate/internal/dispatch"
	"github.com/AlexZinkM/paygate/internal/model"
)

// Source selection policies echoed in release responses.
const (
	PolicyExplicit       = "explicit"
	PolicyHighestBalance = "highest_balance"
)

// ReleaseFunds moves ETH from a payment address to the merchant. Without an explicit
// source the confirmed address holding the highest balance is used. Without an
// amount the whole balance minus the fee is sent.
func (s *Service) ReleaseFunds(ctx context.Context, req model.ReleaseRequest) (*model.ReleaseResponse, error) {
	to := strings.TrimSpace(req.ToAddress)
	if to == "" {
		to = s.cfg.MerchantAddress
	}
	if client.IsValidSolanaAddress(to) {
		return nil, fmt.Errorf("%w: only ETH releases are supported", ErrUnsupported)
	}
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("%w: invalid destination address %q", ErrInvalidRequest, to)
	}

	var (
		source  string
		balance *big.Int
		policy  = PolicyExplicit
	)
	if req.Source != "" {
		if client.IsValidSolanaAddress(req.Source) {
			return nil, fmt.Errorf("%w: only ETH releases are supported", ErrUnsupported)
		}
		if !common.IsHexAddress(req.Source) {
			return nil, fmt.Errorf("%w: invalid source address %q", ErrInvalidRequest, req.Source)
		}
		source = req.Source
	} else {
		policy = PolicyHighestBalance
		src, bal, err := s.highestBalance(ctx)
		if err != nil {
			return nil, err
		}
		source, balance = src, bal
		s.Log.Info("release source selected by policy", "policy", policy, "source", source,
			"balance", units.WeiToETH(bal))
	}

	w, err := s.Allocator.FindSigningKeyFor(ctx, model.CryptoETH, source)
	if err != nil {
		return nil, err
	}
	key, err := ethcrypto.ToECDSA(w.PrivateKey)
	clear(w.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	gasPrice, err := s.Dispatcher.QuoteGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	fee := dispatch.Fee(gasPrice)
	if balance == nil {
		if balance, err = s.Balances.Balance(ctx, model.CryptoETH, source); err != nil {
			return nil, err
		}
	}

	var amount *big.Int
	if req.Amount != "" {
		if amount, err = units.ETHToWei(req.Amount); err != nil || amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: invalid amount", ErrInvalidRequest)
		}
	} else {
		amount = new(big.Int).Sub(balance, fee)
	}
	if amount.Sign() <= 0 || new(big.Int).Add(amount, fee).Cmp(balance) > 0 {
		return nil, fmt.Errorf("%w: balance %s ETH cannot cover amount plus fee %s ETH",
			dispatch.ErrInsufficientFunds, units.WeiToETH(balance), units.WeiToETH(fee))
	}

	var orderID string
	if pa, err := s.Book.Get(source); err == nil {
		orderID = pa.OrderID
	}
	sent, err := s.Dispatcher.Send(ctx, dispatch.SendRequest{
		Key:      key,
		To:       common.HexToAddress(to),
		Amount:   amount,
		GasPrice: gasPrice,
		OrderID:  orderID,
	})
	if err != nil && !(errors.Is(err, dispatch.ErrUnrecorded) && sent != nil) {
		return nil, err
	}

	resp := &model.ReleaseResponse{
		Success:      true,
		TxHash:       sent.TxHash.Hex(),
		From:         sent.From.Hex(),
		To:           sent.To.Hex(),
		Amount:       units.WeiToETH(sent.Amount),
		Status:       string(dispatch.StatusPending),
		Attempts:     sent.Attempts,
		Duplicate:    sent.Duplicate,
		SourcePolicy: policy,
	}
	if err != nil {
		// Broadcast but not in the ledger: report the hash so the operator can reconcile.
		resp.Success = false
		resp.Error = err.Error()
		return resp, err
	}
	if sent.Duplicate {
		return resp, nil
	}

	conf, err := s.Dispatcher.Confirm(ctx, sent.TxHash)
	if err != nil {
		return nil, err
	}
	resp.Status = string(conf.Status)
	if conf.Status == dispatch.StatusConfirmed {
		s.markReleased(sent.From.Hex(), resp.TxHash)
	}
	return resp, nil
}

// highestBalance returns the confirmed ETH address with the largest balance.
func (s *Service) highestBalance(ctx context.Context) (string, *big.Int, error) {
	all, err := s.Book.All()
	if err != nil {
		return "", nil, err
	}
	var candidates []*model.PaymentAddress
	for _, pa := range all {
		if pa.CryptoType == model.CryptoETH && pa.Status == model.PaymentConfirmed {
			candidates = append(candidates, pa)
		}
	}

	balances := make([]*big.Int, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, pa := range candidates {
		i, pa := i, pa
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, s.cfg.BalanceTimeout)
			defer cancel()
			bal, err := s.Balances.Balance(cctx, model.CryptoETH, pa.Address)
			if err != nil {
				s.Log.Warn("balance unavailable for release candidate", "address", pa.Address, "error", err.Error())
				return nil
			}
			balances[i] = bal
			return nil
		})
	}
	_ = g.Wait()

	best := -1
	for i, bal := range balances {
		if bal == nil || bal.Sign() <= 0 {
			continue
		}
		if best < 0 || bal.Cmp(balances[best]) > 0 {
			best = i
		}
	}
	if best < 0 {
		return "", nil, ErrNothingToRelease
	}
	return candidates[best].Address, balances[best], nil
}

// ConfirmRelease polls for the release's receipt. Pending and not_found are normal
// results; a confirmed release marks the source's payments released.
func (s *Service) ConfirmRelease(ctx context.Context, txHash string) (*model.ConfirmResponse, error) {
	if !isTxHash(txHash) {
		return nil, fmt.Errorf("%w: invalid transaction hash", ErrInvalidRequest)
	}
	conf, err := s.Dispatcher.Confirm(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, err
	}
	if conf.Status == dispatch.StatusConfirmed {
		entries, err := s.Ledger.All()
		if err == nil {
			for _, e := range entries {
				if e.Type == model.EntryRelease && strings.EqualFold(e.TxHash, txHash) {
					s.markReleased(e.From, e.TxHash)
					break
				}
			}
		}
	}
	return &model.ConfirmResponse{
		Success:     true,
		TxHash:      conf.TxHash.Hex(),
		Status:      string(conf.Status),
		BlockNumber: conf.BlockNumber,
		GasUsed:     conf.GasUsed,
	}, nil
}

func (s *Service) markReleased(from, txHash string) {
	n, err := s.Ledger.MarkReleased(from, txHash)
	if err != nil {
		s.Log.Error("failed to mark payments released", "address", from, "tx_hash", txHash, "error", err.Error())
		return
	}
	s.Log.Info("release confirmed", "address", from, "tx_hash", txHash, "payments", n)
}
