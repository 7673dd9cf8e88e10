package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/term"

	"github.com/AlexZinkM/paygate/internal/provider"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", "/var/lib/paygate")
	t.Setenv("ETH_CUSTOM_RPC_URLS", "https://a.example,https://b.example")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, 30*time.Minute, c.PaymentTTL)
	assert.Equal(t, 6*time.Hour, c.BackupInterval)
	assert.Equal(t, uint32(1000), c.ScanHorizon)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.EthCustomRPCURLs)
	assert.Equal(t, "/var/lib/paygate/transactions.json", c.LedgerPath())
	assert.Equal(t, "/var/lib/paygate/wallet.json", c.AddressBookPath())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("SEND_ATTEMPTS", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestInitAndGet(t *testing.T) {
	require.NoError(t, Init())
	assert.NotNil(t, Get())
}

func TestInitReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MERCHANT_ADDRESS=0x00000000000000000000000000000000000000aa\n"), 0o600))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("MERCHANT_ADDRESS", "")
	require.NoError(t, os.Unsetenv("MERCHANT_ADDRESS"))

	require.NoError(t, Init())
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", Get().MerchantAddress)
}

func TestLoadProvidersMergesEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
networks:
  ethereum:
    networkId: "1"
    timeout: 3s
    custom: ["https://custom.example"]
    primary: ["https://primary.example", "https://env.example"]
    fallback: ["https://fallback.example"]
`), 0o600))

	p, err := LoadProviders(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, p.Timeout(NetworkEthereum, time.Second))
	assert.Equal(t, time.Second, p.Timeout(NetworkSolana, time.Second))

	eps, id := p.Network(NetworkEthereum, []string{"https://mine.example"}, "https://env.example", "11155111")
	assert.Equal(t, "11155111", id)
	assert.Equal(t, []provider.Endpoint{
		{URL: "https://mine.example", Tier: provider.TierCustom},
		{URL: "https://custom.example", Tier: provider.TierCustom},
		{URL: "https://env.example", Tier: provider.TierPrimary},
		{URL: "https://primary.example", Tier: provider.TierPrimary},
		{URL: "https://fallback.example", Tier: provider.TierFallback},
	}, eps)
}

func TestLoadProvidersMissingFileUsesPublicFallbacks(t *testing.T) {
	p, err := LoadProviders(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	eps, id := p.Network(NetworkSolana, nil, "", "genesis")
	assert.Equal(t, "genesis", id)
	require.Len(t, eps, 1)
	assert.Equal(t, provider.TierFallback, eps[0].Tier)
}

func TestLoadProvidersRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("networks:\n  solana:\n    timeout: soon\n"), 0o600))
	_, err := LoadProviders(path)
	assert.Error(t, err)
}

func TestPasswordFromEnvironment(t *testing.T) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		t.Skip("stdin is a terminal")
	}
	t.Setenv("MASTER_PASSWORD", "correct horse")
	defer WipePassword()

	require.NoError(t, PromptForPassword())
	pw, err := PasswordBytes()
	require.NoError(t, err)
	assert.Equal(t, "correct horse", string(pw))
	_, set := os.LookupEnv("MASTER_PASSWORD")
	assert.False(t, set)
}
