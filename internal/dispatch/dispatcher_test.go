package dispatch

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexZinkM/paygate/internal/client"
	"github.com/AlexZinkM/paygate/internal/ledger"
	"github.com/AlexZinkM/paygate/internal/model"
	"github.com/AlexZinkM/paygate/internal/retry"
)

// stubEVM is a function-field fake; nil fields fall back to benign defaults.
type stubEVM struct {
	mu sync.Mutex

	pendingNonce   uint64
	confirmedNonce uint64
	gasPrice       *big.Int

	SendFn    func(tx *types.Transaction) error
	ReceiptFn func(hash common.Hash) (*types.Receipt, error)
	ByHashFn  func(hash common.Hash) (*types.Transaction, bool, error)
	sent      []*types.Transaction
	sendCalls int
}

func (s *stubEVM) BlockNumber(context.Context) (uint64, error) { return 1, nil }
func (s *stubEVM) NetworkID(context.Context) (string, error) {
	return "11155111", nil
}
func (s *stubEVM) Balance(context.Context, string) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (s *stubEVM) Close() {}
func (s *stubEVM) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(11155111), nil
}
func (s *stubEVM) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingNonce, nil
}
func (s *stubEVM) NonceAt(context.Context, common.Address, *big.Int) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmedNonce, nil
}
func (s *stubEVM) SuggestGasPrice(context.Context) (*big.Int, error) {
	if s.gasPrice == nil {
		return big.NewInt(2_000_000_000), nil
	}
	return s.gasPrice, nil
}
func (s *stubEVM) SendTransaction(_ context.Context, tx *types.Transaction) error {
	s.mu.Lock()
	s.sendCalls++
	s.sent = append(s.sent, tx)
	fn := s.SendFn
	s.mu.Unlock()
	if fn != nil {
		return fn(tx)
	}
	return nil
}
func (s *stubEVM) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if s.ReceiptFn != nil {
		return s.ReceiptFn(hash)
	}
	return nil, ethereum.NotFound
}
func (s *stubEVM) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if s.ByHashFn != nil {
		return s.ByHashFn(hash)
	}
	return nil, false, ethereum.NotFound
}

type stubPool struct {
	conn     client.EVM
	acquires int
	err      error
}

func (p *stubPool) Acquire(context.Context) (client.EVM, error) {
	p.acquires++
	if p.err != nil {
		return nil, p.err
	}
	return p.conn, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func setup(t *testing.T, conn *stubEVM) (*Dispatcher, *stubPool, *ledger.Store, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	store := ledger.New(filepath.Join(t.TempDir(), "transactions.json"), nil)
	pool := &stubPool{conn: conn}
	d := New(pool, store,
		WithRetryPolicy(retry.Policy{Attempts: 5}),
		WithConfirmPolicy(3, time.Millisecond, time.Millisecond),
		WithSleep(noSleep))
	return d, pool, store, key
}

var merchant = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func sendReq(key *ecdsa.PrivateKey) SendRequest {
	return SendRequest{Key: key, To: merchant, Amount: big.NewInt(1_000_000_000_000_000)}
}

func TestInsufficientFundsAbortsAfterOneAttempt(t *testing.T) {
	conn := &stubEVM{SendFn: func(*types.Transaction) error {
		return errors.New("insufficient funds for gas * price + value")
	}}
	d, _, store, key := setup(t, conn)

	_, err := d.Send(context.Background(), sendReq(key))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, 1, sendErr.Attempts)
	assert.Equal(t, 1, conn.sendCalls)

	all, err := store.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTransientProviderErrorReacquires(t *testing.T) {
	conn := &stubEVM{}
	conn.SendFn = func(*types.Transaction) error {
		if conn.sendCalls == 1 {
			return errors.New("read tcp 10.0.0.1:443: connection reset by peer")
		}
		return nil
	}
	d, pool, store, key := setup(t, conn)

	res, err := d.Send(context.Background(), sendReq(key))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, pool.acquires)
	assert.Equal(t, conn.sent[0].Hash(), conn.sent[1].Hash(), "same signed tx is resubmitted")

	all, err := store.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.EntryRelease, all[0].Type)
	assert.Equal(t, model.EntryPending, all[0].Status)
	assert.Equal(t, res.TxHash.Hex(), all[0].TxHash)
	assert.Equal(t, "0.001000000000000000", all[0].Amount)
}

func TestAlreadyKnownCountsAsSubmitted(t *testing.T) {
	conn := &stubEVM{SendFn: func(*types.Transaction) error { return errors.New("already known") }}
	d, _, _, key := setup(t, conn)

	res, err := d.Send(context.Background(), sendReq(key))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
}

func TestNonceTooLowResignsWithFreshNonce(t *testing.T) {
	conn := &stubEVM{pendingNonce: 3}
	conn.SendFn = func(tx *types.Transaction) error {
		if conn.sendCalls == 1 {
			conn.mu.Lock()
			conn.pendingNonce = 4
			conn.mu.Unlock()
			return errors.New("nonce too low")
		}
		return nil
	}
	d, _, _, key := setup(t, conn)

	res, err := d.Send(context.Background(), sendReq(key))
	require.NoError(t, err)
	require.Len(t, conn.sent, 2)
	assert.Equal(t, uint64(3), conn.sent[0].Nonce())
	assert.Equal(t, uint64(4), conn.sent[1].Nonce())
	assert.Equal(t, uint64(4), res.Nonce)
}

func TestRetryBudgetExhausted(t *testing.T) {
	conn := &stubEVM{SendFn: func(*types.Transaction) error { return errors.New("503 Service Unavailable") }}
	d, _, _, key := setup(t, conn)

	_, err := d.Send(context.Background(), sendReq(key))
	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, 5, sendErr.Attempts)
	assert.ErrorIs(t, err, retry.ErrBudgetExhausted)
}

func TestNonceAndGasResolution(t *testing.T) {
	conn := &stubEVM{pendingNonce: 5, confirmedNonce: 7, gasPrice: big.NewInt(500_000_000)}
	d, _, _, key := setup(t, conn)

	n, err := d.ResolveNonce(context.Background(), conn, ethcrypto.PubkeyToAddress(key.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	price, err := d.GasPrice(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "1200000000", price.String(), "floor 1 gwei * 1.2")

	conn.gasPrice = big.NewInt(10_000_000_000)
	price, err = d.GasPrice(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "12000000000", price.String())

	assert.Equal(t, "25200000000000", Fee(big.NewInt(1_200_000_000)).String())
}

func TestSignedTransactionShape(t *testing.T) {
	conn := &stubEVM{pendingNonce: 9}
	d, _, _, key := setup(t, conn)
	req := sendReq(key)
	req.GasPrice = big.NewInt(3_000_000_000)

	_, err := d.Send(context.Background(), req)
	require.NoError(t, err)
	tx := conn.sent[0]
	assert.Equal(t, uint64(GasLimitTransfer), tx.Gas())
	assert.Equal(t, uint64(9), tx.Nonce())
	assert.Equal(t, req.GasPrice.String(), tx.GasPrice().String())
	assert.Equal(t, merchant, *tx.To())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(11155111)), tx)
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey), from)
}

func TestPendingReleaseShortCircuits(t *testing.T) {
	conn := &stubEVM{ByHashFn: func(common.Hash) (*types.Transaction, bool, error) {
		return types.NewTx(&types.LegacyTx{}), true, nil
	}}
	d, _, store, key := setup(t, conn)
	from := ethcrypto.PubkeyToAddress(key.PublicKey)
	_, err := store.Append(model.LedgerEntry{
		TxHash: "0x01", From: from.Hex(), To: merchant.Hex(), Amount: "0.001",
		Type: model.EntryRelease, Status: model.EntryPending,
	})
	require.NoError(t, err)

	res, err := d.Send(context.Background(), sendReq(key))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, common.HexToHash("0x01"), res.TxHash)
	assert.Zero(t, conn.sendCalls)
}

func TestDroppedPendingReleaseIsFailedThenResent(t *testing.T) {
	conn := &stubEVM{}
	d, _, store, key := setup(t, conn)
	from := ethcrypto.PubkeyToAddress(key.PublicKey)
	_, err := store.Append(model.LedgerEntry{
		TxHash: "0x02", From: from.Hex(), To: merchant.Hex(),
		Type: model.EntryRelease, Status: model.EntryPending,
	})
	require.NoError(t, err)

	res, err := d.Send(context.Background(), sendReq(key))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 1, conn.sendCalls)

	all, err := store.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.EntryFailed, all[0].Status)
}

type flakyLedger struct {
	*ledger.Store

	mu      sync.Mutex
	failing bool
	appends int
}

func (l *flakyLedger) Append(e model.LedgerEntry) (model.LedgerEntry, error) {
	l.mu.Lock()
	l.appends++
	failing := l.failing
	l.mu.Unlock()
	if failing {
		return model.LedgerEntry{}, errors.New("write transactions.json: no space left on device")
	}
	return l.Store.Append(e)
}

func (l *flakyLedger) setFailing(v bool) {
	l.mu.Lock()
	l.failing = v
	l.mu.Unlock()
}

func TestUnrecordedTransferBlocksResend(t *testing.T) {
	conn := &stubEVM{ByHashFn: func(common.Hash) (*types.Transaction, bool, error) {
		return types.NewTx(&types.LegacyTx{}), true, nil
	}}
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	store := &flakyLedger{Store: ledger.New(filepath.Join(t.TempDir(), "transactions.json"), nil), failing: true}
	d := New(&stubPool{conn: conn}, store,
		WithRetryPolicy(retry.Policy{Attempts: 5}),
		WithConfirmPolicy(3, time.Millisecond, time.Millisecond),
		WithSleep(noSleep))

	first, err := d.Send(context.Background(), sendReq(key))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnrecorded)
	require.NotNil(t, first, "the broadcast hash is still reported")
	assert.Equal(t, recordAttempts, store.appends)
	assert.Equal(t, 1, conn.sendCalls)

	again, err := d.Send(context.Background(), sendReq(key))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.TxHash, again.TxHash)
	assert.Equal(t, 1, conn.sendCalls)

	store.setFailing(false)
	third, err := d.Send(context.Background(), sendReq(key))
	require.NoError(t, err)
	assert.True(t, third.Duplicate)
	assert.Equal(t, 1, conn.sendCalls)

	all, err := store.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, first.TxHash.Hex(), all[0].TxHash)
	assert.Equal(t, model.EntryPending, all[0].Status)
}

func TestConfirmPendingAfterBudget(t *testing.T) {
	conn := &stubEVM{ByHashFn: func(common.Hash) (*types.Transaction, bool, error) {
		return types.NewTx(&types.LegacyTx{}), true, nil
	}}
	d, _, _, _ := setup(t, conn)

	conf, err := d.Confirm(context.Background(), common.HexToHash("0xabc"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, conf.Status)
	assert.Equal(t, 3, conf.Polls)
}

func TestConfirmNotFound(t *testing.T) {
	d, _, _, _ := setup(t, &stubEVM{})
	conf, err := d.Confirm(context.Background(), common.HexToHash("0xabc"))
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, conf.Status)
}

func TestConfirmProviderOutageIsPending(t *testing.T) {
	d, pool, _, _ := setup(t, &stubEVM{})
	pool.err = retry.ErrNoProvider

	conf, err := d.Confirm(context.Background(), common.HexToHash("0xabc"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, conf.Status)
}

func TestConfirmDeadlineIsPending(t *testing.T) {
	d, _, _, _ := setup(t, &stubEVM{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conf, err := d.Confirm(ctx, common.HexToHash("0xabc"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, conf.Status)
	assert.Zero(t, conf.Polls)
}

func TestConfirmReceiptSettlesLedger(t *testing.T) {
	var polls int
	conn := &stubEVM{}
	conn.ReceiptFn = func(h common.Hash) (*types.Receipt, error) {
		polls++
		if polls < 2 {
			return nil, ethereum.NotFound
		}
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(77), GasUsed: 21000, TxHash: h}, nil
	}
	conn.ByHashFn = func(common.Hash) (*types.Transaction, bool, error) {
		return types.NewTx(&types.LegacyTx{}), true, nil
	}
	d, _, store, _ := setup(t, conn)
	hash := common.HexToHash("0xfeed")
	_, err := store.Append(model.LedgerEntry{TxHash: hash.Hex(), Type: model.EntryRelease, Status: model.EntryPending})
	require.NoError(t, err)

	conf, err := d.Confirm(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, conf.Status)
	assert.Equal(t, uint64(77), conf.BlockNumber)

	all, err := store.All()
	require.NoError(t, err)
	assert.Equal(t, model.EntryConfirmed, all[0].Status)
	assert.Equal(t, uint64(21000), all[0].GasUsed)
	assert.Len(t, all[0].StatusHistory, 2)
}

func TestSendValidatesRequest(t *testing.T) {
	d, _, _, key := setup(t, &stubEVM{})
	_, err := d.Send(context.Background(), SendRequest{Key: key, To: merchant, Amount: big.NewInt(0)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = d.Send(context.Background(), SendRequest{To: merchant, Amount: big.NewInt(1)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestLookupTransfer(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := types.LatestSignerForChainID(big.NewInt(11155111))
	to := merchant
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{To: &to, Value: big.NewInt(42), Gas: 21000, GasPrice: big.NewInt(1)}), signer, key)
	require.NoError(t, err)

	conn := &stubEVM{
		ByHashFn: func(common.Hash) (*types.Transaction, bool, error) { return tx, false, nil },
		ReceiptFn: func(common.Hash) (*types.Receipt, error) {
			return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
		},
	}
	d, _, _, _ := setup(t, conn)

	got, err := d.Lookup(context.Background(), tx.Hash())
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, merchant.Hex(), got.To)
	assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey).Hex(), got.From)
	assert.Equal(t, int64(42), got.Value.Int64())

	_, err = New(&stubPool{conn: &stubEVM{}}, nil).Lookup(context.Background(), tx.Hash())
	assert.ErrorIs(t, err, ErrTxNotFound)
}

func TestQuoteGasPrice(t *testing.T) {
	d, pool, _, _ := setup(t, &stubEVM{gasPrice: big.NewInt(5_000_000_000)})
	price, err := d.QuoteGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "6000000000", price.String())

	pool.err = retry.ErrNoProvider
	_, err = d.QuoteGasPrice(context.Background())
	assert.ErrorIs(t, err, retry.ErrNoProvider)
}
