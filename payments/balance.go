package payments

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/AlexZinkM/paygate/internal/client"
	units "github.com/AlexZinkM/paygate/internal/common"
	"github.com/AlexZinkM/paygate/internal/model"
	"github.com/AlexZinkM/paygate/internal/provider"
)

// Balances reads native balances through the per-network provider pools.
type Balances struct {
	eth   provider.Acquirer[client.EVM]
	sol   provider.Acquirer[client.Chain]
	cache *cache.Cache
}

// NewBalances creates a reader. Cached values live for ttl; zero disables caching.
func NewBalances(eth provider.Acquirer[client.EVM], sol provider.Acquirer[client.Chain], ttl time.Duration) *Balances {
	b := &Balances{eth: eth, sol: sol}
	if ttl > 0 {
		b.cache = cache.New(ttl, 2*ttl)
	}
	return b
}

// Balance reads the current balance of address in base units.
func (b *Balances) Balance(ctx context.Context, crypto model.CryptoType, address string) (*big.Int, error) {
	var (
		conn client.Chain
		err  error
	)
	switch crypto {
	case model.CryptoETH:
		if b.eth == nil {
			return nil, fmt.Errorf("%w: no ETH providers configured", ErrUnsupported)
		}
		conn, err = b.eth.Acquire(ctx)
	case model.CryptoSOL:
		if b.sol == nil {
			return nil, fmt.Errorf("%w: no SOL providers configured", ErrUnsupported)
		}
		conn, err = b.sol.Acquire(ctx)
	default:
		return nil, fmt.Errorf("%w: unsupported crypto type %q", ErrInvalidRequest, crypto)
	}
	if err != nil {
		return nil, err
	}
	bal, err := conn.Balance(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	if b.cache != nil {
		b.cache.SetDefault(cacheKey(crypto, address), new(big.Int).Set(bal))
	}
	return bal, nil
}

// Cached returns a recent balance when one is cached, else reads it.
func (b *Balances) Cached(ctx context.Context, crypto model.CryptoType, address string) (*big.Int, error) {
	if b.cache != nil {
		if v, ok := b.cache.Get(cacheKey(crypto, address)); ok {
			return new(big.Int).Set(v.(*big.Int)), nil
		}
	}
	return b.Balance(ctx, crypto, address)
}

func cacheKey(crypto model.CryptoType, address string) string {
	return string(crypto) + ":" + address
}

// TotalExposure sums the balances of every known address. Calls fan out in parallel,
// each under its own timeout; a failed call counts as zero and is listed in Failed.
func (s *Service) TotalExposure(ctx context.Context) (*model.ExposureResponse, error) {
	addresses, err := s.Book.All()
	if err != nil {
		return nil, err
	}
	sort.Slice(addresses, func(i, j int) bool { return addresses[i].CreatedAt.Before(addresses[j].CreatedAt) })

	results := make([]model.AddressBalance, len(addresses))
	raw := make([]*big.Int, len(addresses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, pa := range addresses {
		i, pa := i, pa
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, s.cfg.BalanceTimeout)
			defer cancel()
			results[i] = model.AddressBalance{Address: pa.Address, CryptoType: pa.CryptoType}
			bal, err := s.Balances.Cached(cctx, pa.CryptoType, pa.Address)
			if err != nil {
				results[i].Error = err.Error()
				bal = new(big.Int)
			}
			raw[i] = bal
			results[i].Balance = units.FormatUnits(bal, pa.CryptoType.Decimals())
			return nil
		})
	}
	_ = g.Wait()

	sums := map[model.CryptoType]*big.Int{
		model.CryptoETH: new(big.Int),
		model.CryptoSOL: new(big.Int),
	}
	resp := &model.ExposureResponse{Success: true, Totals: map[model.CryptoType]string{}, Addresses: results}
	for i, r := range results {
		if r.Error != "" {
			resp.Failed = append(resp.Failed, r.Address)
			s.Log.Warn("balance unavailable, counted as zero", "address", r.Address, "error", r.Error)
		}
		if sum, ok := sums[r.CryptoType]; ok {
			sum.Add(sum, raw[i])
		}
	}
	for crypto, sum := range sums {
		resp.Totals[crypto] = units.FormatUnits(sum, crypto.Decimals())
	}
	return resp, nil
}
