package client

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EVMClient is a client for working with an Ethereum JSON-RPC endpoint
type EVMClient struct {
	*ethclient.Client
	rpcURL string
}

// DialEVM connects to an Ethereum JSON-RPC endpoint.
func DialEVM(ctx context.Context, rpcURL string) (EVM, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return &EVMClient{Client: c, rpcURL: rpcURL}, nil
}

// URL returns the endpoint the client is connected to.
func (c *EVMClient) URL() string { return c.rpcURL }

// NetworkID returns the chain id as a decimal string.
func (c *EVMClient) NetworkID(ctx context.Context) (string, error) {
	id, err := c.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain id: %w", err)
	}
	return id.String(), nil
}

// Balance gets the latest balance of address in wei.
func (c *EVMClient) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	bal, err := c.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get ETH balance: %w", err)
	}
	return bal, nil
}
