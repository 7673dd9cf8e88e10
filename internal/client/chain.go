package client

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Chain is the subset of a JSON-RPC connection every network supports.
type Chain interface {
	// BlockNumber returns the current height (slot on Solana). Used as the liveness check.
	BlockNumber(ctx context.Context) (uint64, error)
	// NetworkID identifies the network: chain id on EVM, genesis hash on Solana.
	NetworkID(ctx context.Context) (string, error)
	// Balance returns the native balance of address in base units.
	Balance(ctx context.Context, address string) (*big.Int, error)
	Close()
}

// EVM is a Chain that can also build, submit and look up Ethereum transactions.
type EVM interface {
	Chain
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}
