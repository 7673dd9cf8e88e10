// Package payments implements the gateway's operations: address allocation, payment
// recording, fund release, exposure reporting and database maintenance.
package payments

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/AlexZinkM/paygate/internal/backup"
	"github.com/AlexZinkM/paygate/internal/dispatch"
	"github.com/AlexZinkM/paygate/internal/integrity"
	"github.com/AlexZinkM/paygate/internal/ledger"
	"github.com/AlexZinkM/paygate/internal/logging"
	"github.com/AlexZinkM/paygate/internal/metrics"
	"github.com/AlexZinkM/paygate/internal/model"
	"github.com/AlexZinkM/paygate/internal/wallet"
)

var (
	// ErrInvalidRequest marks malformed input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPaymentRejected is returned when an address no longer accepts payments.
	// The accompanying response says why.
	ErrPaymentRejected = errors.New("payment rejected")
	// ErrNothingToRelease is returned when no address holds funds to release.
	ErrNothingToRelease = errors.New("no funded address to release from")
	// ErrUnsupported is returned for operations a chain does not support.
	ErrUnsupported = errors.New("operation not supported")
)

// Allocator hands out payment addresses and recovers their keys.
type Allocator interface {
	Allocate(ctx context.Context, req wallet.Request) (*model.PaymentAddress, error)
	FindSigningKeyFor(ctx context.Context, crypto model.CryptoType, address string) (*model.DerivedWallet, error)
}

// Dispatcher sends and confirms ETH transfers.
type Dispatcher interface {
	QuoteGasPrice(ctx context.Context) (*big.Int, error)
	Send(ctx context.Context, req dispatch.SendRequest) (*dispatch.SendResult, error)
	Confirm(ctx context.Context, hash common.Hash) (*dispatch.Confirmation, error)
	Lookup(ctx context.Context, hash common.Hash) (*dispatch.Transfer, error)
}

// BalanceReader reads balances; Cached may serve a recent value.
type BalanceReader interface {
	wallet.BalanceChecker
	Cached(ctx context.Context, crypto model.CryptoType, address string) (*big.Int, error)
}

// RateSource converts fiat amounts.
type RateSource interface {
	GetRate(ctx context.Context, crypto model.CryptoType, fiat string) (decimal.Decimal, error)
}

// Config holds operation settings.
type Config struct {
	MerchantAddress string
	VerifyOnChain   bool
	BackupMaxAge    time.Duration
	// BalanceTimeout bounds each balance call during exposure aggregation.
	BalanceTimeout time.Duration
	// Concurrency bounds parallel balance calls.
	Concurrency int
}

// Deps are the service's collaborators.
type Deps struct {
	Book       *wallet.AddressBook
	Allocator  Allocator
	Ledger     *ledger.Store
	Dispatcher Dispatcher
	Balances   BalanceReader
	Rates      RateSource
	Integrity  *integrity.Monitor
	Backups    *backup.Manager
	Log        *slog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Service runs the operations.
type Service struct {
	Deps
	cfg Config

	// record serializes payment recording so two reports for one address cannot
	// both observe it as live.
	record sync.Mutex
}

// New creates the service.
func New(deps Deps, cfg Config) *Service {
	if deps.Log == nil {
		deps.Log = logging.Discard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.BackupMaxAge <= 0 {
		cfg.BackupMaxAge = 7 * 24 * time.Hour
	}
	if cfg.BalanceTimeout <= 0 {
		cfg.BalanceTimeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Service{Deps: deps, cfg: cfg}
}

func (s *Service) now() time.Time { return s.Now().UTC() }
