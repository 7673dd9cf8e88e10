package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AlexZinkM/paygate/internal/model"
)

const (
	coingeckoAPI = "https://api.coingecko.com/api/v3"
)

var coingeckoIDs = map[model.CryptoType]string{
	model.CryptoETH: "ethereum",
	model.CryptoSOL: "solana",
}

// CoinGeckoClient client for CoinGecko API
type CoinGeckoClient struct {
	baseURL string
	client  *http.Client
}

// NewCoinGeckoClient creates a new CoinGecko client. An empty baseURL uses the public API.
func NewCoinGeckoClient(baseURL string) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = coingeckoAPI
	}
	return &CoinGeckoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetRate gets the price of one unit of crypto in the fiat currency.
func (c *CoinGeckoClient) GetRate(ctx context.Context, crypto model.CryptoType, fiat string) (decimal.Decimal, error) {
	id, ok := coingeckoIDs[crypto]
	if !ok {
		return decimal.Zero, fmt.Errorf("unsupported crypto type %q", crypto)
	}
	fiat = strings.ToLower(strings.TrimSpace(fiat))
	if fiat == "" {
		return decimal.Zero, fmt.Errorf("fiat currency is required")
	}

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s", c.baseURL, id, fiat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build rate request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("failed to get rate: status %d", resp.StatusCode)
	}

	var priceResp map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&priceResp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode rate: %w", err)
	}

	raw, ok := priceResp[id][fiat]
	if !ok {
		return decimal.Zero, fmt.Errorf("rate for %s/%s not found", id, fiat)
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid rate %q for %s/%s", raw, id, fiat)
	}
	return rate, nil
}
