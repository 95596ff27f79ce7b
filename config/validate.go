package config

import (
	"fmt"
	"strings"

	"forwardnet/crypto"
)

// Validate rejects configurations the daemon could not start from. It does
// not touch the filesystem, so callers can validate before Load persists
// anything.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("config: telemetry enabled without an endpoint")
	}
	return c.Genesis.validate()
}

func (g GenesisConfig) validate() error {
	for _, field := range []struct {
		name  string
		value string
	}{
		{"Owner", g.Owner},
		{"Guardian", g.Guardian},
		{"Treasury", g.Treasury},
	} {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("config: genesis %s must not be empty", field.name)
		}
		if _, err := crypto.DecodeAddress(strings.TrimSpace(field.value)); err != nil {
			return fmt.Errorf("config: genesis %s: %w", field.name, err)
		}
	}
	for i, source := range g.OracleSources {
		if _, err := crypto.DecodeAddress(strings.TrimSpace(source)); err != nil {
			return fmt.Errorf("config: oracle source %d: %w", i, err)
		}
	}

	seen := make(map[string]struct{}, len(g.Assets))
	for i, asset := range g.Assets {
		id := strings.TrimSpace(asset.ID)
		if id == "" {
			return fmt.Errorf("config: asset %d has no ID", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("config: duplicate asset %q", id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(asset.Symbol) == "" {
			return fmt.Errorf("config: asset %q has no symbol", id)
		}
		if asset.Decimals > 36 {
			return fmt.Errorf("config: asset %q decimals %d out of range", id, asset.Decimals)
		}
	}

	for i, grant := range g.Grants {
		if _, ok := seen[strings.TrimSpace(grant.Asset)]; !ok {
			return fmt.Errorf("config: grant %d references unknown asset %q", i, grant.Asset)
		}
		if _, err := crypto.DecodeAddress(strings.TrimSpace(grant.Account)); err != nil {
			return fmt.Errorf("config: grant %d account: %w", i, err)
		}
		if _, err := parseAmount(grant.Amount); err != nil {
			return fmt.Errorf("config: grant %d: %w", i, err)
		}
	}

	for i, pair := range g.Pairs {
		if strings.TrimSpace(pair.Underlying) == "" || strings.TrimSpace(pair.Quote) == "" {
			return fmt.Errorf("config: pair %d is missing a symbol", i)
		}
		if pair.MaxStalenessSecs <= 0 {
			return fmt.Errorf("config: pair %d staleness must be positive", i)
		}
		if pair.TwapWindowSecs < 0 {
			return fmt.Errorf("config: pair %d TWAP window must not be negative", i)
		}
		if pair.MaxDeviationBps > 10_000 {
			return fmt.Errorf("config: pair %d deviation above 10000 bps", i)
		}
	}

	if _, err := parseAmount(g.ProvisioningCost); err != nil {
		return fmt.Errorf("config: provisioning cost: %w", err)
	}

	return nil
}
