package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// PathEnv names the variable holding the optional TOML file path.
const PathEnv = "ENGINE_CONFIG"

// Load merges, on top of Defaults, the TOML file at path (skipped when
// path is empty), a .env file if present, and the environment overrides.
// The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// FromEnv loads using the path in ENGINE_CONFIG.
func FromEnv() (*Config, error) {
	_ = godotenv.Load()
	return Load(os.Getenv(PathEnv))
}

func applyEnvOverrides(cfg *Config) {
	// Historic variable names of the service come first so ENGINE_* wins.
	setStr(&cfg.Server.Port, "PORT")
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")

	// ── Server ──
	setStr(&cfg.Server.Port, "ENGINE_PORT")
	setStr(&cfg.Server.CORSOrigin, "ENGINE_CORS_ORIGIN")
	setDuration(&cfg.Server.WriteTimeout, "ENGINE_WRITE_TIMEOUT")

	// ── Storage ──
	setStr(&cfg.Database.URL, "ENGINE_DATABASE_URL")
	setBool(&cfg.Database.RunMigrations, "ENGINE_RUN_MIGRATIONS")
	setStr(&cfg.Redis.URL, "ENGINE_REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "ENGINE_REDIS_CACHE_TTL")

	// ── Ledger ──
	setStr(&cfg.Ledger.Mode, "ENGINE_LEDGER_MODE")
	setStr(&cfg.Ledger.RPCURL, "ENGINE_RPC_URL")
	setInt(&cfg.Ledger.Attempts, "ENGINE_RETRY_ATTEMPTS")
	setDuration(&cfg.Ledger.RetryStep, "ENGINE_RETRY_STEP")
	setDuration(&cfg.Ledger.PollInterval, "ENGINE_POLL_INTERVAL")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "ENGINE_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.KeyPath, "ENGINE_WALLET_KEY_PATH")

	// ── Token ──
	setStr(&cfg.Token.Mint, "ENGINE_TOKEN_MINT")
	setInt32(&cfg.Token.Decimals, "ENGINE_TOKEN_DECIMALS")
	setStr(&cfg.Token.FeeCollector, "ENGINE_FEE_COLLECTOR")
	setDecimal(&cfg.Token.BootstrapRent, "ENGINE_BOOTSTRAP_RENT")
	setDecimal(&cfg.Token.Reserve, "ENGINE_RESERVE")

	// ── Fees ──
	setDecimal(&cfg.Fees.Transfer.Percentage, "ENGINE_FEE_TRANSFER_PERCENTAGE")
	setDecimal(&cfg.Fees.Transfer.Floor, "ENGINE_FEE_TRANSFER_FLOOR")
	setDecimal(&cfg.Fees.Transfer.MinAmount, "ENGINE_FEE_TRANSFER_MIN_AMOUNT")
	setDecimal(&cfg.Fees.TokenTransfer.Percentage, "ENGINE_FEE_TOKEN_PERCENTAGE")
	setDecimal(&cfg.Fees.TokenTransfer.Floor, "ENGINE_FEE_TOKEN_FLOOR")
	setDecimal(&cfg.Fees.Swap.Percentage, "ENGINE_FEE_SWAP_PERCENTAGE")
	setDecimal(&cfg.Fees.Swap.Floor, "ENGINE_FEE_SWAP_FLOOR")

	// ── Prices ──
	setStr(&cfg.Prices.CoinGeckoURL, "ENGINE_COINGECKO_URL")
	setStr(&cfg.Prices.DexScreenerURL, "ENGINE_DEXSCREENER_URL")
	setDuration(&cfg.Prices.CacheTTL, "ENGINE_PRICE_CACHE_TTL")
	setStr(&cfg.Prices.RefreshSpec, "ENGINE_PRICE_REFRESH")

	// ── Swap ──
	setStr(&cfg.Swap.JupiterURL, "ENGINE_JUPITER_URL")
	setInt(&cfg.Swap.SlippageBps, "ENGINE_SLIPPAGE_BPS")

	// ── History ──
	setDecimal(&cfg.History.DustThreshold, "ENGINE_DUST_THRESHOLD")
	setBool(&cfg.History.FlagTokenActivity, "ENGINE_FLAG_TOKEN_ACTIVITY")
	setInt(&cfg.History.DefaultLimit, "ENGINE_HISTORY_LIMIT")

	setStr(&cfg.LogLevel, "ENGINE_LOG_LEVEL")
}

// Each helper only mutates the target when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}
