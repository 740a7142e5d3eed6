package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvConfigPath names the variable holding the optional TOML file path
const EnvConfigPath = "ROUNDLEDGER_CONFIG"

// Load builds the configuration: defaults, then the TOML file named by
// ROUNDLEDGER_CONFIG (if any), then ROUNDLEDGER_* environment overrides.
// A .env file in the working directory is loaded first when present.
// The result is not validated.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFile(os.Getenv(EnvConfigPath))
}

// LoadFile is Load with an explicit TOML path; empty skips the file
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	setStr(&cfg.LogLevel, "ROUNDLEDGER_LOG_LEVEL")

	setStr(&cfg.Postgres.DSN, "ROUNDLEDGER_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxOpenConns, "ROUNDLEDGER_POSTGRES_MAX_OPEN_CONNS")
	setStr(&cfg.Postgres.MigrationsDir, "ROUNDLEDGER_MIGRATIONS_DIR")
	setBool(&cfg.Postgres.RunMigrations, "ROUNDLEDGER_RUN_MIGRATIONS")

	setBool(&cfg.NATS.Enabled, "ROUNDLEDGER_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "ROUNDLEDGER_NATS_URL")

	setBool(&cfg.Redis.Enabled, "ROUNDLEDGER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ROUNDLEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ROUNDLEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ROUNDLEDGER_REDIS_DB")

	setUint64(&cfg.Engine.MaxBet, "ROUNDLEDGER_MAX_BET")
	setInt(&cfg.Engine.MaxFeeBps, "ROUNDLEDGER_MAX_FEE_BPS")
	setDuration(&cfg.Engine.BetMaxPriceAge, "ROUNDLEDGER_BET_MAX_PRICE_AGE")
	setDuration(&cfg.Engine.ResolveMaxPriceAge, "ROUNDLEDGER_RESOLVE_MAX_PRICE_AGE")
	setDuration(&cfg.Engine.OracleTimeout, "ROUNDLEDGER_ORACLE_TIMEOUT")
	setInt(&cfg.Engine.PriceDecimals, "ROUNDLEDGER_PRICE_DECIMALS")

	setInt(&cfg.Persistence.BatchSize, "ROUNDLEDGER_PERSIST_BATCH_SIZE")
	setDuration(&cfg.Persistence.SnapshotInterval, "ROUNDLEDGER_SNAPSHOT_INTERVAL")

	setStr(&cfg.Server.GRPCAddr, "ROUNDLEDGER_GRPC_ADDR")
	setStr(&cfg.Server.HTTPAddr, "ROUNDLEDGER_HTTP_ADDR")
	setStr(&cfg.Server.MetricsAddr, "ROUNDLEDGER_METRICS_ADDR")
	if v := os.Getenv("ROUNDLEDGER_OPERATOR_TOKENS"); v != "" {
		ops, err := parseOperators(v)
		if err != nil {
			return err
		}
		cfg.Server.Operators = ops
	}

	setBool(&cfg.Keeper.Enabled, "ROUNDLEDGER_KEEPER_ENABLED")
	setDuration(&cfg.Keeper.Interval, "ROUNDLEDGER_KEEPER_INTERVAL")
	setStringSlice(&cfg.Keeper.Markets, "ROUNDLEDGER_KEEPER_MARKETS")
	setStr(&cfg.Keeper.Principal, "ROUNDLEDGER_KEEPER_PRINCIPAL")
	setInt(&cfg.Keeper.FeeBps, "ROUNDLEDGER_KEEPER_FEE_BPS")
	return nil
}

// parseOperators reads "principal:token,principal:token"
func parseOperators(v string) ([]Operator, error) {
	var ops []Operator
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		principal, token, ok := strings.Cut(pair, ":")
		if !ok || principal == "" || token == "" {
			return nil, fmt.Errorf("ROUNDLEDGER_OPERATOR_TOKENS: malformed entry %q", pair)
		}
		ops = append(ops, Operator{Principal: principal, Token: token})
	}
	return ops, nil
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		*dst = cleaned
	}
}
