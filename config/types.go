package config

import (
	"fmt"
	"math/big"
	"strings"

	"forwardnet/runtime"
)

// AssetConfig declares one fungible ledger created at bootstrap.
type AssetConfig struct {
	ID       string `toml:"ID"`
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

// GrantConfig seeds an account balance at bootstrap. Amount is a base-10
// integer in the asset's smallest unit.
type GrantConfig struct {
	Asset   string `toml:"Asset"`
	Account string `toml:"Account"`
	Amount  string `toml:"Amount"`
}

// PairConfig declares one oracle pair. Windows are in seconds.
type PairConfig struct {
	Underlying       string `toml:"Underlying"`
	Quote            string `toml:"Quote"`
	TwapWindowSecs   int64  `toml:"TwapWindowSecs"`
	MaxStalenessSecs int64  `toml:"MaxStalenessSecs"`
	MaxDeviationBps  uint32 `toml:"MaxDeviationBps"`
}

// GenesisConfig describes the instances created on the first start. It is
// ignored once the data directory has been bootstrapped.
type GenesisConfig struct {
	Owner            string        `toml:"Owner"`
	Guardian         string        `toml:"Guardian"`
	Treasury         string        `toml:"Treasury"`
	ProvisioningCost string        `toml:"ProvisioningCost"`
	OracleSources    []string      `toml:"OracleSources"`
	Assets           []AssetConfig `toml:"assets"`
	Grants           []GrantConfig `toml:"grants"`
	Pairs            []PairConfig  `toml:"pairs"`
}

// TelemetryConfig controls the OTLP exporters. Disabled by default.
type TelemetryConfig struct {
	Enabled  bool              `toml:"Enabled"`
	Endpoint string            `toml:"Endpoint"`
	Insecure bool              `toml:"Insecure"`
	Headers  map[string]string `toml:"Headers,omitempty"`
}

func defaultGenesis(operator string) GenesisConfig {
	return GenesisConfig{
		Owner:            operator,
		Guardian:         operator,
		Treasury:         operator,
		ProvisioningCost: "10",
		OracleSources:    []string{operator},
		Assets: []AssetConfig{
			{ID: "fwd", Symbol: "FWD", Name: "Forward", Decimals: 18},
			{ID: "usdq", Symbol: "USDQ", Name: "Quote Dollar", Decimals: 18},
		},
		Pairs: []PairConfig{
			{Underlying: "FWD", Quote: "USDQ", TwapWindowSecs: 300, MaxStalenessSecs: 600, MaxDeviationBps: 1000},
		},
	}
}

// RuntimeGenesis converts the on-disk genesis section into the form the
// runtime bootstraps from. Amounts are parsed here so a typo fails the
// daemon at startup rather than mid-bootstrap.
func (g GenesisConfig) RuntimeGenesis() (runtime.Genesis, error) {
	out := runtime.Genesis{
		Owner:         strings.TrimSpace(g.Owner),
		Guardian:      strings.TrimSpace(g.Guardian),
		Treasury:      strings.TrimSpace(g.Treasury),
		OracleSources: append([]string{}, g.OracleSources...),
	}

	cost, err := parseAmount(g.ProvisioningCost)
	if err != nil {
		return runtime.Genesis{}, fmt.Errorf("config: genesis provisioning cost: %w", err)
	}
	out.ProvisioningCost = cost

	for _, asset := range g.Assets {
		out.Assets = append(out.Assets, runtime.AssetGenesis{
			ID:       strings.TrimSpace(asset.ID),
			Symbol:   strings.TrimSpace(asset.Symbol),
			Name:     asset.Name,
			Decimals: asset.Decimals,
		})
	}
	for i, grant := range g.Grants {
		amount, err := parseAmount(grant.Amount)
		if err != nil {
			return runtime.Genesis{}, fmt.Errorf("config: genesis grant %d: %w", i, err)
		}
		out.Grants = append(out.Grants, runtime.Grant{
			Asset:   strings.TrimSpace(grant.Asset),
			Account: strings.TrimSpace(grant.Account),
			Amount:  amount,
		})
	}
	for _, pair := range g.Pairs {
		out.OraclePairs = append(out.OraclePairs, runtime.PairGenesis{
			Underlying:      strings.TrimSpace(pair.Underlying),
			Quote:           strings.TrimSpace(pair.Quote),
			TwapWindow:      pair.TwapWindowSecs,
			MaxStaleness:    pair.MaxStalenessSecs,
			MaxDeviationBps: pair.MaxDeviationBps,
		})
	}

	return out, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", raw)
	}
	return amount, nil
}
