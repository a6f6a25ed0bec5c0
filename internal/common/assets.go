package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/davidopascual/coinlist/internal/chain"

	"gopkg.in/yaml.v2"
)

// AssetConfig describes one payment asset: the contract address it lives
// at, and the decimal precision used to scale display prices into base
// units. The native asset is addressed by the zero sentinel.
type AssetConfig struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals int32  `yaml:"decimals"`
	Native   bool   `yaml:"native"`
}

type assetsFile struct {
	Assets []AssetConfig `yaml:"assets"`
}

// AssetRegistry resolves asset addresses to their configuration. The
// native asset (18 decimals) is always present; token entries come from
// assets.yaml.
type AssetRegistry struct {
	byAddress map[chain.Address]AssetConfig
}

// nativeAsset is the built-in registry entry for the chain's native asset.
var nativeAsset = AssetConfig{
	Address:  chain.ZeroAddress.Hex(),
	Symbol:   "ETH",
	Decimals: 18,
	Native:   true,
}

// LoadAssetRegistry reads the assets file and builds the registry. A
// missing file yields a registry with just the native asset.
func LoadAssetRegistry(path string) (*AssetRegistry, error) {
	registry := &AssetRegistry{
		byAddress: map[chain.Address]AssetConfig{chain.ZeroAddress: nativeAsset},
	}
	if path == "" {
		return registry, nil
	}

	assetsPath := path
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		assetsPath = filepath.Join(wd, path)
	}

	data, err := os.ReadFile(assetsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return registry, nil
		}
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}

	var parsed assetsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}

	for i, asset := range parsed.Assets {
		if asset.Symbol == "" {
			return nil, fmt.Errorf("asset at index %d missing symbol", i)
		}
		if asset.Decimals < 0 {
			return nil, fmt.Errorf("asset %s has negative decimals", asset.Symbol)
		}
		addr := chain.ZeroAddress
		if !asset.Native {
			addr, err = chain.ParseAddress(asset.Address)
			if err != nil {
				return nil, fmt.Errorf("asset %s: %w", asset.Symbol, err)
			}
			if addr.IsZero() {
				return nil, fmt.Errorf("asset %s uses the native sentinel address without native: true", asset.Symbol)
			}
		}
		registry.byAddress[addr] = asset
	}

	return registry, nil
}

// Lookup resolves an asset address to its configuration.
func (r *AssetRegistry) Lookup(asset chain.Address) (AssetConfig, error) {
	cfg, ok := r.byAddress[asset]
	if !ok {
		return AssetConfig{}, fmt.Errorf("unknown payment asset %s", asset.Hex())
	}
	return cfg, nil
}

// Decimals returns the base-unit scaling exponent for an asset.
func (r *AssetRegistry) Decimals(asset chain.Address) (int32, error) {
	cfg, err := r.Lookup(asset)
	if err != nil {
		return 0, err
	}
	return cfg.Decimals, nil
}
