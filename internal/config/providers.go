package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AlexZinkM/paygate/internal/provider"
)

// Network names used as keys in the provider registry.
const (
	NetworkEthereum = "ethereum"
	NetworkSolana   = "solana"
)

// Duration is a time.Duration read from YAML strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// NetworkProviders is one network's entry in the registry.
type NetworkProviders struct {
	NetworkID string   `yaml:"networkId"`
	Timeout   Duration `yaml:"timeout"`
	Custom    []string `yaml:"custom"`
	Primary   []string `yaml:"primary"`
	Fallback  []string `yaml:"fallback"`
}

// Providers is the YAML provider registry.
type Providers struct {
	Networks map[string]NetworkProviders `yaml:"networks"`
}

// publicFallbacks are used when the registry lists no fallback for a network.
var publicFallbacks = map[string][]string{
	NetworkEthereum: {
		"https://ethereum-sepolia-rpc.publicnode.com",
		"https://rpc.sepolia.org",
	},
	NetworkSolana: {
		"https://api.devnet.solana.com",
	},
}

// LoadProviders reads the registry at path. A missing file yields an empty registry.
func LoadProviders(path string) (*Providers, error) {
	p := &Providers{Networks: map[string]NetworkProviders{}}
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}
		return nil, fmt.Errorf("failed to read provider registry: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse provider registry %s: %w", path, err)
	}
	if p.Networks == nil {
		p.Networks = map[string]NetworkProviders{}
	}
	return p, nil
}

// Network returns the entry for name merged with the environment: env custom URLs go
// before the registry's, and the env primary URL before the registry's primaries.
// Duplicates keep their first, highest-priority position.
func (p *Providers) Network(name string, envCustom []string, envPrimary, envNetworkID string) ([]provider.Endpoint, string) {
	n := p.Networks[name]
	networkID := n.NetworkID
	if envNetworkID != "" {
		networkID = envNetworkID
	}

	fallback := n.Fallback
	if len(fallback) == 0 {
		fallback = publicFallbacks[name]
	}
	var primary []string
	if envPrimary != "" {
		primary = append(primary, envPrimary)
	}
	primary = append(primary, n.Primary...)

	seen := make(map[string]bool)
	var out []provider.Endpoint
	add := func(urls []string, tier provider.Tier) {
		for _, u := range urls {
			u = strings.TrimSpace(u)
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, provider.Endpoint{URL: u, Tier: tier})
		}
	}
	add(envCustom, provider.TierCustom)
	add(n.Custom, provider.TierCustom)
	add(primary, provider.TierPrimary)
	add(fallback, provider.TierFallback)
	return out, networkID
}

// Timeout returns the per-endpoint timeout for name, or def when unset.
func (p *Providers) Timeout(name string, def time.Duration) time.Duration {
	if t := p.Networks[name].Timeout.Std(); t > 0 {
		return t
	}
	return def
}
