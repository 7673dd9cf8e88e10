package client

import (
	"context"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SolanaClient is a client for working with Solana RPC
type SolanaClient struct {
	rpcClient *rpc.Client
	rpcURL    string
}

// DialSolana creates a Solana client for rpcURL. The rpc client connects lazily, so
// reachability is established by the pool's health check.
func DialSolana(_ context.Context, rpcURL string) (Chain, error) {
	return &SolanaClient{
		rpcClient: rpc.New(rpcURL),
		rpcURL:    rpcURL,
	}, nil
}

// URL returns the endpoint the client is connected to.
func (c *SolanaClient) URL() string { return c.rpcURL }

// BlockNumber returns the latest confirmed slot.
func (c *SolanaClient) BlockNumber(ctx context.Context) (uint64, error) {
	slot, err := c.rpcClient.GetSlot(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get slot: %w", err)
	}
	return slot, nil
}

// NetworkID returns the genesis hash, which differs between mainnet, devnet and testnet.
func (c *SolanaClient) NetworkID(ctx context.Context) (string, error) {
	hash, err := c.rpcClient.GetGenesisHash(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get genesis hash: %w", err)
	}
	return hash.String(), nil
}

// Balance gets SOL balance in lamports
func (c *SolanaClient) Balance(ctx context.Context, address string) (*big.Int, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid Solana address: %w", err)
	}

	balance, err := c.rpcClient.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to get SOL balance: %w", err)
	}
	return new(big.Int).SetUint64(balance.Value), nil
}

// Close releases the underlying HTTP transport.
func (c *SolanaClient) Close() {
	_ = c.rpcClient.Close()
}

// IsValidSolanaAddress reports whether address is a valid base58 public key.
func IsValidSolanaAddress(address string) bool {
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}
