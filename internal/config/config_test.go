package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"RoundLedger/internal/config"
)

func TestDefaults_Validate(t *testing.T) {
	cfg := config.Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadFile_TOMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundledger.toml")
	err := os.WriteFile(path, []byte(`
log_level = "debug"

[engine]
max_bet = 5000
bet_max_price_age = "10s"

[keeper]
markets = ["BTC/USD"]
fee_bps = 250

[[server.operators]]
principal = "ops"
token = "file-token"
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv("ROUNDLEDGER_MAX_BET", "7000")
	t.Setenv("ROUNDLEDGER_KEEPER_MARKETS", "BTC/USD, ETH/USD")

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("log_level: %q", cfg.LogLevel)
	}
	if cfg.Engine.BetMaxPriceAge.Duration != 10*time.Second {
		t.Errorf("bet_max_price_age: %v", cfg.Engine.BetMaxPriceAge.Duration)
	}
	if cfg.Engine.ResolveMaxPriceAge.Duration != 30*time.Second {
		t.Errorf("unset field lost its default: %v", cfg.Engine.ResolveMaxPriceAge.Duration)
	}
	if cfg.Engine.MaxBet != 7000 {
		t.Errorf("env override: max_bet = %d", cfg.Engine.MaxBet)
	}
	if got := strings.Join(cfg.Keeper.Markets, "|"); got != "BTC/USD|ETH/USD" {
		t.Errorf("markets: %q", got)
	}
	if len(cfg.Server.Operators) != 1 || cfg.Server.Operators[0].Token != "file-token" {
		t.Errorf("operators: %+v", cfg.Server.Operators)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile_OperatorTokensFromEnv(t *testing.T) {
	t.Setenv("ROUNDLEDGER_OPERATOR_TOKENS", "ops:abc, admin:def")
	cfg, err := config.LoadFile("")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Server.Operators) != 2 || cfg.Server.Operators[1].Principal != "admin" {
		t.Errorf("operators: %+v", cfg.Server.Operators)
	}

	t.Setenv("ROUNDLEDGER_OPERATOR_TOKENS", "no-separator")
	if _, err := config.LoadFile(""); err == nil {
		t.Error("malformed operator tokens accepted")
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	if _, err := config.LoadFile(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogLevel = "loud"
	cfg.Engine.MaxFeeBps = 20_000
	cfg.Persistence.BatchSize = 0
	cfg.Server.Operators = []config.Operator{{Principal: "ops", Token: "t"}, {Principal: "other", Token: "t"}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"log_level", "max_fee_bps", "batch_size", "reuses a token"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestOperatorPrincipals(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Operators = []config.Operator{{Principal: "ops", Token: "a"}, {Principal: "ops", Token: "b"}}
	cfg.Keeper.Markets = []string{"BTC/USD"}

	got := cfg.OperatorPrincipals()
	if strings.Join(got, ",") != "ops,keeper" {
		t.Errorf("principals: %v", got)
	}
}
