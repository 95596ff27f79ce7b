package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"forwardnet/crypto"
)

var testAddr = func() string {
	var addr [20]byte
	addr[0] = 0x42
	addr[len(addr)-1] = 0x24
	return crypto.NewAddress(crypto.FWDPrefix, addr[:]).String()
}()

func writeConfig(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefaultWithKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8080" {
		t.Fatalf("unexpected RPC address %q", cfg.RPCAddress)
	}
	if cfg.NetworkName != "forward-local" {
		t.Fatalf("unexpected network name %q", cfg.NetworkName)
	}
	if _, err := os.Stat(cfg.OperatorKeystorePath); err != nil {
		t.Fatalf("keystore not materialized: %v", err)
	}
	key, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, "")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	operator := key.PubKey().Address().String()
	if cfg.Genesis.Owner != operator {
		t.Fatalf("genesis owner %q does not match keystore %q", cfg.Genesis.Owner, operator)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	// The default file must round trip.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Genesis.Owner != cfg.Genesis.Owner {
		t.Fatalf("owner mismatch after reload: %q vs %q", reloaded.Genesis.Owner, cfg.Genesis.Owner)
	}
	if len(reloaded.Genesis.Assets) != 2 {
		t.Fatalf("expected 2 default assets, got %d", len(reloaded.Genesis.Assets))
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	dir := t.TempDir()
	keystorePath := filepath.Join(dir, "operator.keystore")
	contents := fmt.Sprintf(`RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
NetworkName = "forward-testnet"
Environment = "staging"
OperatorKeystorePath = "%s"

[genesis]
Owner = "%s"
Guardian = "%s"
Treasury = "%s"
ProvisioningCost = "25"
OracleSources = ["%s"]

[[genesis.assets]]
ID = "fwd"
Symbol = "FWD"
Name = "Forward"
Decimals = 18

[[genesis.grants]]
Asset = "fwd"
Account = "%s"
Amount = "1000000000000000000"

[[genesis.pairs]]
Underlying = "FWD"
Quote = "USDQ"
TwapWindowSecs = 120
MaxStalenessSecs = 300
MaxDeviationBps = 500

[telemetry]
Enabled = true
Endpoint = "collector:4318"
Insecure = true
`, keystorePath, testAddr, testAddr, testAddr, testAddr, testAddr)
	path := writeConfig(t, dir, contents)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected RPC address %q", cfg.RPCAddress)
	}
	if cfg.Environment != "staging" {
		t.Fatalf("unexpected environment %q", cfg.Environment)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "collector:4318" {
		t.Fatalf("telemetry section not decoded: %+v", cfg.Telemetry)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := os.Stat(keystorePath); err != nil {
		t.Fatalf("keystore not materialized: %v", err)
	}

	gen, err := cfg.Genesis.RuntimeGenesis()
	if err != nil {
		t.Fatalf("runtime genesis: %v", err)
	}
	if gen.ProvisioningCost.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("unexpected provisioning cost %s", gen.ProvisioningCost)
	}
	if len(gen.Grants) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(gen.Grants))
	}
	want, _ := new(big.Int).SetString("1000000000000000000", 10)
	if gen.Grants[0].Amount.Cmp(want) != 0 {
		t.Fatalf("unexpected grant amount %s", gen.Grants[0].Amount)
	}
	if len(gen.OraclePairs) != 1 || gen.OraclePairs[0].MaxStaleness != 300 {
		t.Fatalf("unexpected oracle pairs %+v", gen.OraclePairs)
	}
}

func TestLoadPersistsGeneratedKeystorePath(t *testing.T) {
	dir := t.TempDir()
	contents := fmt.Sprintf(`RPCAddress = ":8080"
DataDir = "./data"

[genesis]
Owner = "%s"
Guardian = "%s"
Treasury = "%s"
`, testAddr, testAddr, testAddr)
	path := writeConfig(t, dir, contents)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OperatorKeystorePath == "" {
		t.Fatal("keystore path not filled in")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(raw), "OperatorKeystorePath") {
		t.Fatal("generated keystore path was not persisted")
	}
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	base := func() *Config {
		return &Config{
			RPCAddress: ":8080",
			DataDir:    "./data",
			Genesis:    defaultGenesis(testAddr),
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty rpc address", func(c *Config) { c.RPCAddress = " " }, "RPCAddress"},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "DataDir"},
		{"bad owner", func(c *Config) { c.Genesis.Owner = "nope" }, "Owner"},
		{"missing guardian", func(c *Config) { c.Genesis.Guardian = "" }, "Guardian"},
		{"duplicate asset", func(c *Config) {
			c.Genesis.Assets = append(c.Genesis.Assets, c.Genesis.Assets[0])
		}, "duplicate asset"},
		{"grant unknown asset", func(c *Config) {
			c.Genesis.Grants = []GrantConfig{{Asset: "ghost", Account: testAddr, Amount: "1"}}
		}, "unknown asset"},
		{"negative grant", func(c *Config) {
			c.Genesis.Grants = []GrantConfig{{Asset: "fwd", Account: testAddr, Amount: "-5"}}
		}, "negative"},
		{"zero staleness pair", func(c *Config) {
			c.Genesis.Pairs[0].MaxStalenessSecs = 0
		}, "staleness"},
		{"deviation too large", func(c *Config) {
			c.Genesis.Pairs[0].MaxDeviationBps = 10_001
		}, "deviation"},
		{"telemetry without endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
		}, "endpoint"},
		{"bad provisioning cost", func(c *Config) {
			c.Genesis.ProvisioningCost = "ten"
		}, "provisioning cost"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
