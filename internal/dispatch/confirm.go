package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AlexZinkM/paygate/internal/client"
	units "github.com/AlexZinkM/paygate/internal/common"
	"github.com/AlexZinkM/paygate/internal/ledger"
	"github.com/AlexZinkM/paygate/internal/model"
	"github.com/AlexZinkM/paygate/internal/retry"
)

// Status is the observed state of a transaction.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusPending   Status = "pending"
	StatusNotFound  Status = "not_found"
)

// ErrTxNotFound is returned by Lookup when no provider knows the transaction.
var ErrTxNotFound = errors.New("transaction not found")

// Confirmation is the result of polling for a receipt. Pending and NotFound are
// resumable states, not failures.
type Confirmation struct {
	TxHash      common.Hash
	Status      Status
	BlockNumber uint64
	GasUsed     uint64
	Polls       int
}

// Transfer is an on-chain value transfer as seen by a provider.
type Transfer struct {
	Hash   common.Hash
	From   string
	To     string
	Value  *big.Int
	Status Status
}

// Confirm polls for a receipt with increasing waits. When the budget or ctx runs out
// it returns Pending, or NotFound if no provider ever knew the transaction. A final
// receipt is written to the ledger.
func (d *Dispatcher) Confirm(ctx context.Context, hash common.Hash) (*Confirmation, error) {
	if hash == (common.Hash{}) {
		return nil, fmt.Errorf("%w: empty transaction hash", ErrInvalidRequest)
	}
	return d.confirm(ctx, hash, d.confirmAttempts), nil
}

func (d *Dispatcher) confirm(ctx context.Context, hash common.Hash, attempts int) *Confirmation {
	conf := &Confirmation{TxHash: hash, Status: StatusPending}
	unknownEverywhere := true
	schedule := retry.Policy{BaseDelay: d.confirmBase, MaxDelay: d.confirmMax}

	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			unknownEverywhere = false
			break
		}
		conf.Polls++

		status, receipt, err := d.poll(ctx, hash)
		switch {
		case err != nil:
			unknownEverywhere = false
			d.log.Warn("receipt poll failed", "tx_hash", hash.Hex(), "attempt", attempt, "error", err.Error())
		case status == StatusConfirmed || status == StatusFailed:
			conf.Status = status
			if receipt.BlockNumber != nil {
				conf.BlockNumber = receipt.BlockNumber.Uint64()
			}
			conf.GasUsed = receipt.GasUsed
			d.settle(conf)
			d.metrics.Confirmation(string(status))
			return conf
		case status == StatusPending:
			unknownEverywhere = false
		}

		if attempt == attempts {
			break
		}
		if err := d.wait(ctx, schedule.Delay(attempt)); err != nil {
			unknownEverywhere = false
			break
		}
	}

	if unknownEverywhere && conf.Polls > 0 {
		conf.Status = StatusNotFound
	}
	d.metrics.Confirmation(string(conf.Status))
	return conf
}

func (d *Dispatcher) poll(ctx context.Context, hash common.Hash) (Status, *types.Receipt, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return "", nil, err
	}
	receipt, err := conn.TransactionReceipt(ctx, hash)
	if err == nil && receipt != nil {
		if receipt.Status == types.ReceiptStatusSuccessful {
			return StatusConfirmed, receipt, nil
		}
		return StatusFailed, receipt, nil
	}
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		return "", nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	_, _, err = conn.TransactionByHash(ctx, hash)
	switch {
	case err == nil:
		return StatusPending, nil, nil
	case errors.Is(err, ethereum.NotFound):
		return StatusNotFound, nil, nil
	default:
		return "", nil, fmt.Errorf("failed to get transaction: %w", err)
	}
}

func (d *Dispatcher) settle(conf *Confirmation) {
	status := model.EntryConfirmed
	if conf.Status == StatusFailed {
		status = model.EntryFailed
	}
	block, gas := conf.BlockNumber, conf.GasUsed
	_, err := d.ledger.Update(ledger.Key{TxHash: conf.TxHash.Hex()}, ledger.Patch{
		Status:      &status,
		BlockNumber: &block,
		GasUsed:     &gas,
	})
	if err != nil && !errors.Is(err, ledger.ErrEntryNotFound) {
		d.log.Error("failed to record receipt", "tx_hash", conf.TxHash.Hex(), "error", err.Error())
	}
}

// Lookup fetches a transfer by hash for on-chain payment verification.
func (d *Dispatcher) Lookup(ctx context.Context, hash common.Hash) (*Transfer, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	tx, isPending, err := conn.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrTxNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	t := &Transfer{Hash: hash, Value: tx.Value(), Status: StatusPending}
	if to := tx.To(); to != nil {
		t.To = to.Hex()
	}
	if chainID, err := conn.ChainID(ctx); err == nil {
		if from, err := types.Sender(types.LatestSignerForChainID(chainID), tx); err == nil {
			t.From = from.Hex()
		}
	}
	if isPending {
		return t, nil
	}

	receipt, err := conn.TransactionReceipt(ctx, hash)
	switch {
	case err == nil && receipt != nil:
		t.Status = StatusFailed
		if receipt.Status == types.ReceiptStatusSuccessful {
			t.Status = StatusConfirmed
		}
	case err != nil && !errors.Is(err, ethereum.NotFound):
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return t, nil
}

func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) error {
	if d.sleep != nil {
		return d.sleep(ctx, delay)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ client.EVM = (*client.EVMClient)(nil)

func weiToETH(wei *big.Int) string { return units.WeiToETH(wei) }

func ethToWei(eth string) (*big.Int, error) { return units.ETHToWei(eth) }

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
