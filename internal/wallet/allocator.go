// Package wallet allocates HD-derived payment addresses and recovers their signing keys.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AlexZinkM/paygate/internal/logging"
	"github.com/AlexZinkM/paygate/internal/matcher"
	"github.com/AlexZinkM/paygate/internal/model"
)

var (
	// ErrNoZeroBalanceAddressFound is returned when the scan horizon holds no unused address.
	ErrNoZeroBalanceAddressFound = errors.New("no zero-balance address found within scan horizon")
	// ErrAddressNotDerivable is returned when an address is not derived from the seed
	// within the recovery horizon.
	ErrAddressNotDerivable = errors.New("address not derivable from seed within recovery horizon")
)

// KeyVault unseals the mnemonic and derives child wallets from it.
type KeyVault interface {
	Decrypt(sealed string) ([]byte, error)
	DeriveWallet(mnemonic []byte, crypto model.CryptoType, index uint32) (*model.DerivedWallet, error)
}

// BalanceChecker reads on-chain balances in base units.
type BalanceChecker interface {
	Balance(ctx context.Context, crypto model.CryptoType, address string) (*big.Int, error)
}

// Request describes the order an address is allocated for.
type Request struct {
	OrderID        string
	ExpectedAmount decimal.Decimal
	CryptoType     model.CryptoType
	FiatAmount     string
	FiatCurrency   string
}

// Allocator hands out fresh payment addresses. Allocations are serialized so two
// orders never receive the same index.
type Allocator struct {
	book           *AddressBook
	index          *IndexMap
	vault          KeyVault
	balances       BalanceChecker
	scanHorizon    uint32
	recoverHorizon uint32
	ttl            time.Duration
	now            func() time.Time
	log            *slog.Logger

	mu sync.Mutex
}

// Config holds allocator limits.
type Config struct {
	ScanHorizon    uint32
	RecoverHorizon uint32
	PaymentTTL     time.Duration
}

// NewAllocator wires an allocator. Zero limits fall back to 1000 / 200 / 30m.
func NewAllocator(book *AddressBook, index *IndexMap, vault KeyVault, balances BalanceChecker, cfg Config, log *slog.Logger) *Allocator {
	if cfg.ScanHorizon == 0 {
		cfg.ScanHorizon = 1000
	}
	if cfg.RecoverHorizon == 0 {
		cfg.RecoverHorizon = 200
	}
	if cfg.PaymentTTL <= 0 {
		cfg.PaymentTTL = 30 * time.Minute
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Allocator{
		book:           book,
		index:          index,
		vault:          vault,
		balances:       balances,
		scanHorizon:    cfg.ScanHorizon,
		recoverHorizon: cfg.RecoverHorizon,
		ttl:            cfg.PaymentTTL,
		now:            time.Now,
		log:            log,
	}
}

// SetClock overrides the time source.
func (a *Allocator) SetClock(now func() time.Time) { a.now = now }

// Allocate derives candidates past the highest recorded index and assigns the first
// whose on-chain balance is exactly zero.
func (a *Allocator) Allocate(ctx context.Context, req Request) (*model.PaymentAddress, error) {
	if !req.CryptoType.Valid() {
		return nil, fmt.Errorf("unsupported crypto type %q", req.CryptoType)
	}
	if !matcher.Payable(req.ExpectedAmount) {
		return nil, errors.New("expected amount must be positive at 6 decimals")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	mnemonic, err := a.mnemonic()
	if err != nil {
		return nil, err
	}
	defer clear(mnemonic)

	start := uint32(0)
	if highest, found, err := a.book.MaxIndex(req.CryptoType); err != nil {
		return nil, err
	} else if found {
		start = highest + 1
	}

	for offset := uint32(0); offset < a.scanHorizon; offset++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("address scan interrupted at index %d: %w", start+offset, err)
		}
		i := start + offset
		w, err := a.vault.DeriveWallet(mnemonic, req.CryptoType, i)
		if err != nil {
			return nil, fmt.Errorf("failed to derive index %d: %w", i, err)
		}
		if _, err := a.book.Get(w.Address); err == nil {
			continue
		}

		bal, err := a.balances.Balance(ctx, req.CryptoType, w.Address)
		clear(w.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check balance of index %d: %w", i, err)
		}
		if bal.Sign() != 0 {
			a.log.Info("skipping used address", "crypto", req.CryptoType, "index", i, "address", w.Address)
			continue
		}

		now := a.now().UTC()
		pa := &model.PaymentAddress{
			Address:         w.Address,
			DerivationIndex: i,
			ExpectedAmount:  req.ExpectedAmount.Round(matcher.Precision).String(),
			CryptoType:      req.CryptoType,
			CreatedAt:       now,
			ExpiresAt:       now.Add(a.ttl),
			Status:          model.PaymentPending,
			OrderID:         req.OrderID,
			FiatAmount:      req.FiatAmount,
			FiatCurrency:    req.FiatCurrency,
		}
		if err := a.book.Put(pa); err != nil {
			return nil, fmt.Errorf("failed to persist payment address: %w", err)
		}
		if err := a.index.Remember(req.CryptoType, w.Address, i); err != nil {
			a.log.Warn("failed to cache derivation index", "address", w.Address, "error", err.Error())
		}
		a.log.Info("payment address allocated", "crypto", req.CryptoType, "index", i, "order_id", req.OrderID)
		return pa, nil
	}
	return nil, fmt.Errorf("%w (indices %d-%d)", ErrNoZeroBalanceAddressFound, start, start+a.scanHorizon-1)
}

// FindSigningKeyFor returns the wallet that controls address: from the index cache,
// then the address book, then by re-deriving up to the recovery horizon. A brute-force
// hit repopulates the cache.
func (a *Allocator) FindSigningKeyFor(ctx context.Context, crypto model.CryptoType, address string) (*model.DerivedWallet, error) {
	mnemonic, err := a.mnemonic()
	if err != nil {
		return nil, err
	}
	defer clear(mnemonic)

	target := Normalize(address)
	tryIndex := func(i uint32) (*model.DerivedWallet, bool, error) {
		w, err := a.vault.DeriveWallet(mnemonic, crypto, i)
		if err != nil {
			return nil, false, fmt.Errorf("failed to derive index %d: %w", i, err)
		}
		if Normalize(w.Address) == target {
			return w, true, nil
		}
		clear(w.PrivateKey)
		return nil, false, nil
	}

	if i, ok, err := a.index.Lookup(crypto, address); err == nil && ok {
		if w, hit, err := tryIndex(i); err != nil {
			return nil, err
		} else if hit {
			return w, nil
		}
		a.log.Warn("stale derivation index cache entry", "address", address, "index", i)
	}

	if pa, err := a.book.Get(address); err == nil && pa.CryptoType == crypto {
		if w, hit, err := tryIndex(pa.DerivationIndex); err != nil {
			return nil, err
		} else if hit {
			a.remember(crypto, w)
			return w, nil
		}
	}

	for i := uint32(0); i < a.recoverHorizon; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w, hit, err := tryIndex(i)
		if err != nil {
			return nil, err
		}
		if hit {
			a.remember(crypto, w)
			return w, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAddressNotDerivable, address)
}

func (a *Allocator) remember(crypto model.CryptoType, w *model.DerivedWallet) {
	if err := a.index.Remember(crypto, w.Address, w.Index); err != nil {
		a.log.Warn("failed to cache derivation index", "address", w.Address, "error", err.Error())
	}
}

func (a *Allocator) mnemonic() ([]byte, error) {
	sealed, err := a.book.SealedMnemonic()
	if err != nil {
		return nil, err
	}
	m, err := a.vault.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal mnemonic: %w", err)
	}
	return m, nil
}
