// Package dispatch builds, signs, submits and confirms native ETH transfers over an
// unreliable pool of JSON-RPC providers.
package dispatch

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/AlexZinkM/paygate/internal/client"
	"github.com/AlexZinkM/paygate/internal/ledger"
	"github.com/AlexZinkM/paygate/internal/logging"
	"github.com/AlexZinkM/paygate/internal/metrics"
	"github.com/AlexZinkM/paygate/internal/model"
	"github.com/AlexZinkM/paygate/internal/provider"
	"github.com/AlexZinkM/paygate/internal/retry"
)

// GasLimitTransfer is the gas a plain value transfer consumes.
const GasLimitTransfer = 21000

var (
	// ErrInsufficientFunds is returned when the balance cannot cover amount plus fee.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidRequest is returned for a malformed send request.
	ErrInvalidRequest = errors.New("invalid send request")
	// ErrUnrecorded is returned together with a result when a transfer was broadcast
	// but its ledger entry could not be written. Further sends for the same pair are
	// held back until the entry is stored.
	ErrUnrecorded = errors.New("transfer submitted but not recorded in ledger")
)

// recordAttempts bounds ledger writes for a broadcast transfer.
const recordAttempts = 3

// Ledger is the part of the ledger store the dispatcher writes to.
type Ledger interface {
	FindPendingRelease(from, to string) (*model.LedgerEntry, error)
	Append(entry model.LedgerEntry) (model.LedgerEntry, error)
	Update(key ledger.Key, patch ledger.Patch) (model.LedgerEntry, error)
}

// SendRequest describes one transfer.
type SendRequest struct {
	Key    *ecdsa.PrivateKey
	To     common.Address
	Amount *big.Int
	// GasPrice pins the price; nil resolves it from the network.
	GasPrice *big.Int
	OrderID  string
}

// SendResult is the outcome of a submitted transfer.
type SendResult struct {
	TxHash   common.Hash
	From     common.Address
	To       common.Address
	Amount   *big.Int
	Nonce    uint64
	GasPrice *big.Int
	Attempts int
	// Duplicate is set when an earlier transfer for the same pair is still pending and
	// nothing new was sent. TxHash is then the earlier transaction.
	Duplicate bool
}

// SendError carries the attempt count of a failed send.
type SendError struct {
	Attempts int
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Dispatcher is the single path through which transfers are priced, signed and sent.
type Dispatcher struct {
	pool     provider.Acquirer[client.EVM]
	ledger   Ledger
	policy   retry.Policy
	gasFloor *big.Int

	confirmAttempts int
	confirmBase     time.Duration
	confirmMax      time.Duration
	sleep           func(ctx context.Context, d time.Duration) error

	log     *slog.Logger
	metrics *metrics.Metrics

	// unrecorded holds broadcast transfers whose ledger entry is not stored yet,
	// keyed by pair.
	umu        sync.Mutex
	unrecorded map[string]model.LedgerEntry
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetryPolicy sets the submission retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithGasFloor sets the minimum gas price in wei.
func WithGasFloor(floor *big.Int) Option {
	return func(d *Dispatcher) {
		if floor != nil {
			d.gasFloor = new(big.Int).Set(floor)
		}
	}
}

// WithConfirmPolicy sets the confirmation poll budget and its wait schedule.
func WithConfirmPolicy(attempts int, base, maxDelay time.Duration) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.confirmAttempts = attempts
		}
		d.confirmBase, d.confirmMax = base, maxDelay
	}
}

// WithSleep overrides how the dispatcher waits between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) {
		d.sleep = sleep
		d.policy.Sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a dispatcher.
func New(pool provider.Acquirer[client.EVM], l Ledger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:            pool,
		ledger:          l,
		policy:          retry.Default(),
		gasFloor:        big.NewInt(1_000_000_000),
		confirmAttempts: 10,
		confirmBase:     2 * time.Second,
		confirmMax:      30 * time.Second,
		log:             logging.Discard(),
		unrecorded:      make(map[string]model.LedgerEntry),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.sleep != nil && d.policy.Sleep == nil {
		d.policy.Sleep = d.sleep
	}
	return d
}

// ResolveNonce returns max(pending, confirmed) nonce for account, so a stale pending
// view on one provider cannot make us reuse a mined nonce.
func (d *Dispatcher) ResolveNonce(ctx context.Context, conn client.EVM, account common.Address) (uint64, error) {
	pending, err := conn.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	confirmed, err := conn.NonceAt(ctx, account, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get confirmed nonce: %w", err)
	}
	return max(pending, confirmed), nil
}

// GasPrice returns max(network price, floor) * 1.2.
func (d *Dispatcher) GasPrice(ctx context.Context, conn client.EVM) (*big.Int, error) {
	suggested, err := conn.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	price := new(big.Int).Set(suggested)
	if price.Cmp(d.gasFloor) < 0 {
		price.Set(d.gasFloor)
	}
	price.Mul(price, big.NewInt(12))
	return price.Div(price, big.NewInt(10)), nil
}

// QuoteGasPrice resolves the gas price on a pooled connection.
func (d *Dispatcher) QuoteGasPrice(ctx context.Context) (*big.Int, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return d.GasPrice(ctx, conn)
}

// Fee returns the cost of a plain transfer at gasPrice.
func Fee(gasPrice *big.Int) *big.Int {
	return new(big.Int).Mul(gasPrice, big.NewInt(GasLimitTransfer))
}

// Send submits a transfer. A pending release for the same (from, to) pair is
// reconciled first; if it is still pending nothing is sent and the result is marked
// Duplicate. Only transient errors are retried.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.Key == nil {
		return nil, fmt.Errorf("%w: signing key is required", ErrInvalidRequest)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	from := ethcrypto.PubkeyToAddress(req.Key.PublicKey)

	if dup, err := d.reconcilePending(ctx, from, req.To); err != nil {
		return nil, err
	} else if dup != nil {
		return dup, nil
	}

	var (
		conn     client.EVM
		signed   *types.Transaction
		nonce    uint64
		gasPrice *big.Int
	)
	policy := d.policy
	policy.OnRetry = func(attempt int, err error) {
		d.metrics.DispatchAttempt("retry")
		d.log.Warn("transfer submission failed, retrying", "attempt", attempt, "from", from.Hex(), "error", err.Error())
		if retry.IsProviderError(err) {
			conn = nil
		}
	}

	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if conn == nil {
			c, err := d.pool.Acquire(ctx)
			if err != nil {
				return err
			}
			conn = c
		}
		if signed == nil {
			tx, n, price, err := d.sign(ctx, conn, req, from)
			if err != nil {
				return err
			}
			signed, nonce, gasPrice = tx, n, price
		}

		err := conn.SendTransaction(ctx, signed)
		switch {
		case err == nil:
			return nil
		case retry.IsAlreadyKnown(err):
			d.log.Info("transaction already known to node", "tx_hash", signed.Hash().Hex())
			return nil
		case retry.IsNonceTooLow(err):
			if d.known(ctx, conn, signed.Hash()) {
				return nil
			}
			signed = nil
		}
		return err
	})
	if err != nil {
		d.metrics.DispatchAttempt("failed")
		if isInsufficientFunds(err) {
			err = fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
		return nil, &SendError{Attempts: attempts, Err: err}
	}
	d.metrics.DispatchAttempt("ok")

	res := &SendResult{
		TxHash:   signed.Hash(),
		From:     from,
		To:       req.To,
		Amount:   new(big.Int).Set(req.Amount),
		Nonce:    nonce,
		GasPrice: gasPrice,
		Attempts: attempts,
	}
	d.log.Info("transfer submitted", "tx_hash", res.TxHash.Hex(), "from", from.Hex(), "to", req.To.Hex(),
		"nonce", nonce, "gas_price", gasPrice.String(), "attempts", attempts)

	entry := model.LedgerEntry{
		TxHash:     res.TxHash.Hex(),
		From:       from.Hex(),
		To:         req.To.Hex(),
		Amount:     weiToETH(req.Amount),
		CryptoType: model.CryptoETH,
		Status:     model.EntryPending,
		Type:       model.EntryRelease,
		OrderID:    req.OrderID,
		Nonce:      &nonce,
		GasPrice:   gasPrice.String(),
	}
	if err := d.record(ctx, entry); err != nil {
		d.hold(entry)
		d.log.Error("failed to record submitted transfer", logging.Flagged(), "tx_hash", res.TxHash.Hex(), "error", err.Error())
		return res, fmt.Errorf("%w: %s: %v", ErrUnrecorded, res.TxHash.Hex(), err)
	}
	return res, nil
}

// record appends entry, retrying any failure. It runs to completion even if the
// request was cancelled: the transfer is already on the wire.
func (d *Dispatcher) record(ctx context.Context, entry model.LedgerEntry) error {
	policy := retry.Policy{
		Attempts:  recordAttempts,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  time.Second,
		Transient: func(error) bool { return true },
		Sleep:     d.sleep,
	}
	_, err := policy.Do(context.WithoutCancel(ctx), func(context.Context, int) error {
		_, err := d.ledger.Append(entry)
		return err
	})
	return err
}

func pairKey(from, to string) string {
	return strings.ToLower(from) + ">" + strings.ToLower(to)
}

func (d *Dispatcher) hold(entry model.LedgerEntry) {
	d.umu.Lock()
	defer d.umu.Unlock()
	d.unrecorded[pairKey(entry.From, entry.To)] = entry
}

func (d *Dispatcher) held(from, to common.Address) (model.LedgerEntry, bool) {
	d.umu.Lock()
	defer d.umu.Unlock()
	e, ok := d.unrecorded[pairKey(from.Hex(), to.Hex())]
	return e, ok
}

func (d *Dispatcher) unhold(from, to common.Address) {
	d.umu.Lock()
	defer d.umu.Unlock()
	delete(d.unrecorded, pairKey(from.Hex(), to.Hex()))
}

func (d *Dispatcher) sign(ctx context.Context, conn client.EVM, req SendRequest, from common.Address) (*types.Transaction, uint64, *big.Int, error) {
	chainID, err := conn.ChainID(ctx)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	nonce, err := d.ResolveNonce(ctx, conn, from)
	if err != nil {
		return nil, 0, nil, err
	}
	gasPrice := req.GasPrice
	if gasPrice == nil {
		if gasPrice, err = d.GasPrice(ctx, conn); err != nil {
			return nil, 0, nil, err
		}
	}

	to := req.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      GasLimitTransfer,
		To:       &to,
		Value:    req.Amount,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), req.Key)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nonce, gasPrice, nil
}

// known reports whether the node has seen hash, pending or mined.
func (d *Dispatcher) known(ctx context.Context, conn client.EVM, hash common.Hash) bool {
	_, _, err := conn.TransactionByHash(ctx, hash)
	return err == nil
}

// reconcilePending re-checks an existing pending release for the pair once. A mined
// one is settled and a vanished one marked failed; a still pending one blocks the send.
// A transfer still held in memory is written to the ledger first; while that keeps
// failing the pair stays blocked.
func (d *Dispatcher) reconcilePending(ctx context.Context, from, to common.Address) (*SendResult, error) {
	if entry, ok := d.held(from, to); ok {
		if err := d.record(ctx, entry); err != nil {
			d.log.Warn("unrecorded transfer for pair still not stored, not sending again",
				logging.Flagged(), "tx_hash", entry.TxHash, "error", err.Error())
			return duplicateOf(entry, from, to), nil
		}
		d.unhold(from, to)
		d.log.Info("unrecorded transfer stored in ledger", "tx_hash", entry.TxHash)
	}

	pending, err := d.ledger.FindPendingRelease(from.Hex(), to.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to check pending releases: %w", err)
	}
	if pending == nil || pending.TxHash == "" {
		return nil, nil
	}

	hash := common.HexToHash(pending.TxHash)
	conf := d.confirm(ctx, hash, 1)
	switch conf.Status {
	case StatusConfirmed, StatusFailed:
		return nil, nil
	case StatusNotFound:
		failed := model.EntryFailed
		if _, err := d.ledger.Update(ledger.Key{TxHash: pending.TxHash}, ledger.Patch{Status: &failed, Note: "not found on chain"}); err != nil {
			return nil, fmt.Errorf("failed to mark dropped transfer: %w", err)
		}
		d.log.Warn("pending transfer vanished from chain, marked failed", "tx_hash", pending.TxHash)
		return nil, nil
	}

	d.log.Info("transfer for pair still pending, not sending again", "tx_hash", pending.TxHash,
		"from", from.Hex(), "to", to.Hex())
	return duplicateOf(*pending, from, to), nil
}

func duplicateOf(e model.LedgerEntry, from, to common.Address) *SendResult {
	amount, _ := ethToWei(e.Amount)
	res := &SendResult{TxHash: common.HexToHash(e.TxHash), From: from, To: to, Amount: amount, Duplicate: true}
	if e.Nonce != nil {
		res.Nonce = *e.Nonce
	}
	if price, ok := new(big.Int).SetString(e.GasPrice, 10); ok {
		res.GasPrice = price
	}
	return res
}

func isInsufficientFunds(err error) bool {
	return err != nil && containsFold(err.Error(), "insufficient funds")
}
