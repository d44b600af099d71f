// Package config defines the settlement engine configuration: built-in
// defaults, an optional TOML file, a .env file and ENGINE_* environment
// overrides, applied in that order.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/fredfun/settlement-engine/internal/fee"
	"github.com/fredfun/settlement-engine/internal/history"
	"github.com/fredfun/settlement-engine/internal/swap"
)

var ErrInvalid = errors.New("config: invalid configuration")

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Wallet   WalletConfig   `toml:"wallet"`
	Token    TokenConfig    `toml:"token"`
	Fees     FeeConfig      `toml:"fees"`
	Prices   PriceConfig    `toml:"prices"`
	Swap     SwapConfig     `toml:"swap"`
	History  HistoryConfig  `toml:"history"`
	LogLevel string         `toml:"log_level"`
}

type ServerConfig struct {
	Port         string   `toml:"port"`
	CORSOrigin   string   `toml:"cors_origin"`
	WriteTimeout duration `toml:"write_timeout"`
}

// DatabaseConfig selects the record store. An empty URL keeps records in
// memory.
type DatabaseConfig struct {
	URL           string `toml:"url"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig enables the settlement read-through cache and the shared
// price cache when URL is set.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL duration `toml:"cache_ttl"`
}

// LedgerConfig selects the chain backend. Mode is "rpc" or "memory".
type LedgerConfig struct {
	Mode         string   `toml:"mode"`
	RPCURL       string   `toml:"rpc_url"`
	Attempts     int      `toml:"retry_attempts"`
	RetryStep    duration `toml:"retry_step"`
	PollInterval duration `toml:"poll_interval"`
}

// WalletConfig holds the signing key of the service wallet. Exactly one of
// PrivateKey (base58) or KeyPath (solana-keygen JSON) is expected.
type WalletConfig struct {
	PrivateKey string `toml:"private_key"`
	KeyPath    string `toml:"key_path"`
}

type TokenConfig struct {
	Mint          string          `toml:"mint"`
	Decimals      int32           `toml:"decimals"`
	FeeCollector  string          `toml:"fee_collector"`
	BootstrapRent decimal.Decimal `toml:"bootstrap_rent"`
	Reserve       decimal.Decimal `toml:"reserve"`
}

// FeeConfig holds the three named fee policies.
type FeeConfig struct {
	Transfer      fee.Policy `toml:"transfer"`
	TokenTransfer fee.Policy `toml:"token_transfer"`
	Swap          fee.Policy `toml:"swap"`
}

type PriceConfig struct {
	CoinGeckoURL   string   `toml:"coingecko_url"`
	CoinID         string   `toml:"coin_id"`
	DexScreenerURL string   `toml:"dexscreener_url"`
	CacheTTL       duration `toml:"cache_ttl"`
	RefreshSpec    string   `toml:"refresh_spec"` // cron spec; empty disables the refresher
}

type SwapConfig struct {
	JupiterURL  string `toml:"jupiter_url"`
	SlippageBps int    `toml:"slippage_bps"`
}

type HistoryConfig struct {
	DustThreshold     decimal.Decimal `toml:"dust_threshold"`
	FlagTokenActivity bool            `toml:"flag_token_activity"`
	DefaultLimit      int             `toml:"default_limit"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         "8080",
			CORSOrigin:   "*",
			WriteTimeout: duration{90 * time.Second},
		},
		Redis: RedisConfig{CacheTTL: duration{30 * time.Second}},
		Ledger: LedgerConfig{
			Mode:         "rpc",
			RPCURL:       "https://api.mainnet-beta.solana.com",
			Attempts:     3,
			RetryStep:    duration{time.Second},
			PollInterval: duration{time.Second},
		},
		Token: TokenConfig{
			Decimals:      9,
			BootstrapRent: decimal.RequireFromString("0.00203928"),
		},
		Fees: FeeConfig{
			Transfer:      fee.TransferFeePolicy(),
			TokenTransfer: fee.TokenTransferFeePolicy(),
			Swap:          fee.SwapFeePolicy(),
		},
		Prices: PriceConfig{
			CoinGeckoURL:   "https://api.coingecko.com/api/v3",
			CoinID:         "solana",
			DexScreenerURL: "https://api.dexscreener.com/latest/dex",
			CacheTTL:       duration{60 * time.Second},
			RefreshSpec:    "@every 30s",
		},
		Swap: SwapConfig{
			JupiterURL:  swap.DefaultJupiterURL,
			SlippageBps: 50,
		},
		History: HistoryConfig{
			DustThreshold:     history.DefaultDustThreshold,
			FlagTokenActivity: true,
			DefaultLimit:      5,
		},
		LogLevel: "info",
	}
}

// Validate checks the fields the engine cannot start without.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	switch c.Ledger.Mode {
	case "rpc":
		if c.Ledger.RPCURL == "" {
			errs = append(errs, errors.New("ledger.rpc_url is required in rpc mode"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("ledger.mode %q must be rpc or memory", c.Ledger.Mode))
	}
	if c.Ledger.Attempts < 1 {
		errs = append(errs, errors.New("ledger.retry_attempts must be at least 1"))
	}

	if _, err := solana.PublicKeyFromBase58(c.Token.FeeCollector); err != nil {
		errs = append(errs, fmt.Errorf("token.fee_collector: %v", err))
	}
	if _, err := solana.PublicKeyFromBase58(c.Token.Mint); err != nil {
		errs = append(errs, fmt.Errorf("token.mint: %v", err))
	}
	if c.Token.Decimals < 0 || c.Token.Decimals > 18 {
		errs = append(errs, fmt.Errorf("token.decimals %d out of range", c.Token.Decimals))
	}
	if c.Token.Reserve.IsNegative() || c.Token.BootstrapRent.IsNegative() {
		errs = append(errs, errors.New("token.reserve and token.bootstrap_rent must not be negative"))
	}

	for _, p := range []fee.Policy{c.Fees.Transfer, c.Fees.TokenTransfer, c.Fees.Swap} {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Swap.SlippageBps < 0 || c.Swap.SlippageBps > 10_000 {
		errs = append(errs, fmt.Errorf("swap.slippage_bps %d out of range", c.Swap.SlippageBps))
	}
	if c.History.DustThreshold.IsNegative() {
		errs = append(errs, errors.New("history.dust_threshold must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// duration lets TOML carry values such as "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
