package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/term"
)

// Config contains all configuration parameters for the application.
// The master password is never part of it: use PromptForPassword and PasswordBytes.
type Config struct {
	Port string `envconfig:"PORT" default:"8080"`
	Env  string `envconfig:"ENV" default:"development"`

	DataDir         string `envconfig:"DATA_DIR" default:"./data"`
	LedgerFile      string `envconfig:"LEDGER_FILE" default:"transactions.json"`
	AddressBookFile string `envconfig:"ADDRESS_BOOK_FILE" default:"wallet.json"`
	IndexMapFile    string `envconfig:"INDEX_MAP_FILE" default:"index-map.json"`

	BackupDir      string        `envconfig:"BACKUP_DIR" default:"./data/backups"`
	BackupInterval time.Duration `envconfig:"BACKUP_INTERVAL" default:"6h"`
	BackupMaxAge   time.Duration `envconfig:"BACKUP_MAX_AGE" default:"168h"`
	StatusCacheTTL time.Duration `envconfig:"STATUS_CACHE_TTL" default:"60s"`

	ProvidersFile     string        `envconfig:"PROVIDERS_FILE" default:"providers.yaml"`
	EthRPCURL         string        `envconfig:"ETH_RPC_URL"`
	EthCustomRPCURLs  []string      `envconfig:"ETH_CUSTOM_RPC_URLS"`
	EthChainID        string        `envconfig:"ETH_CHAIN_ID" default:"11155111"`
	SolRPCURL         string        `envconfig:"SOL_RPC_URL" default:"https://api.devnet.solana.com"`
	SolGenesisHash    string        `envconfig:"SOL_GENESIS_HASH" default:"EtWTRABZaYq6iMfeYKouRu166VU2xqa1wcaWoxPkrZBG"`
	ProviderTimeout   time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"5s"`
	ProviderFreshness time.Duration `envconfig:"PROVIDER_FRESHNESS" default:"1h"`
	CoinGeckoURL      string        `envconfig:"COINGECKO_URL" default:"https://api.coingecko.com/api/v3"`

	MerchantAddress  string        `envconfig:"MERCHANT_ADDRESS"`
	PaymentTTL       time.Duration `envconfig:"PAYMENT_TTL" default:"30m"`
	ScanHorizon      uint32        `envconfig:"SCAN_HORIZON" default:"1000"`
	RecoverHorizon   uint32        `envconfig:"RECOVER_HORIZON" default:"200"`
	GasPriceFloor    int64         `envconfig:"GAS_PRICE_FLOOR_GWEI" default:"1"`
	SendAttempts     int           `envconfig:"SEND_ATTEMPTS" default:"5"`
	ConfirmAttempts  int           `envconfig:"CONFIRM_ATTEMPTS" default:"10"`
	VerifyOnChain    bool          `envconfig:"VERIFY_ONCHAIN" default:"false"`
	BalanceCacheTTL  time.Duration `envconfig:"BALANCE_CACHE_TTL" default:"30s"`
	ExposureTimeout  time.Duration `envconfig:"EXPOSURE_TIMEOUT" default:"5s"`
	AdminToken       string        `envconfig:"ADMIN_TOKEN"`
	RateLimitPerMin  int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`
	LogFile          string        `envconfig:"LOG_FILE"`
	ShutdownDeadline time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LedgerPath returns the ledger file path inside DataDir.
func (c *Config) LedgerPath() string { return c.inData(c.LedgerFile) }

// AddressBookPath returns the address book file path inside DataDir.
func (c *Config) AddressBookPath() string { return c.inData(c.AddressBookFile) }

// IndexMapPath returns the index map file path inside DataDir.
func (c *Config) IndexMapPath() string { return c.inData(c.IndexMapFile) }

func (c *Config) inData(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

// Validate checks settings envconfig cannot express.
func (c *Config) Validate() error {
	if c.PaymentTTL <= 0 {
		return errors.New("PAYMENT_TTL must be positive")
	}
	if c.ScanHorizon == 0 || c.RecoverHorizon == 0 {
		return errors.New("SCAN_HORIZON and RECOVER_HORIZON must be positive")
	}
	if c.SendAttempts < 1 || c.ConfirmAttempts < 1 {
		return errors.New("SEND_ATTEMPTS and CONFIRM_ATTEMPTS must be at least 1")
	}
	if c.RateLimitPerMin < 1 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be at least 1")
	}
	return nil
}

// cfg is the global configuration instance
var cfg *Config

// Init loads configuration from environment variables. A .env file in the working
// directory, when present, fills variables that are not already set.
func Init() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	c, err := Load()
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

// Load reads a Config from the environment without touching the global instance.
func Load() (*Config, error) {
	c := &Config{}
	if err := envconfig.Process("", c); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Get returns the global configuration instance.
// Panics if Init() was not called.
func Get() *Config {
	if cfg == nil {
		panic("config not initialized, call Init() first")
	}
	return cfg
}

var passwordBytes []byte

// PromptForPassword reads the master password without echo when stdin is a terminal,
// and from MASTER_PASSWORD otherwise. The environment variable is cleared once read.
func PromptForPassword() error {
	var raw []byte
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Enter master password: ")
		var err error
		raw, err = term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
	} else {
		raw = []byte(os.Getenv("MASTER_PASSWORD"))
		_ = os.Unsetenv("MASTER_PASSWORD")
		if len(raw) == 0 {
			return errors.New("stdin is not a terminal and MASTER_PASSWORD is not set")
		}
	}
	return setPassword(raw)
}

func setPassword(raw []byte) error {
	if len(raw) == 0 {
		return errors.New("password cannot be empty")
	}
	passwordBytes = make([]byte, len(raw))
	copy(passwordBytes, raw)
	clear(raw)
	return nil
}

// PasswordBytes returns a copy of the password stored by PromptForPassword.
// Caller must zero the returned slice after use.
func PasswordBytes() ([]byte, error) {
	if len(passwordBytes) == 0 {
		return nil, errors.New("password not set: call PromptForPassword at startup")
	}
	out := make([]byte, len(passwordBytes))
	copy(out, passwordBytes)
	return out, nil
}

// WipePassword zeroes the stored password.
func WipePassword() {
	clear(passwordBytes)
	passwordBytes = nil
}
