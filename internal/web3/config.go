package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Chain is the catalogue entry for a network the dashboard knows about.
type Chain struct {
	ID       uint64 `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	RPCURL   string `yaml:"rpc_url" json:"rpc"`
	WSURL    string `yaml:"ws_url" json:"-"`
	Explorer string `yaml:"explorer" json:"explorer"`
	Logo     string `yaml:"logo" json:"logo"`
}

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]Chain `yaml:"chains"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata. An
// empty path yields the built-in catalogue.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultChainDefinitions(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]Chain{}
	}
	for key, chain := range defs.Chains {
		if chain.ID == 0 {
			return ChainDefinitions{}, fmt.Errorf("链 %s 缺少 id", key)
		}
		if chain.Name == "" {
			chain.Name = key
			defs.Chains[key] = chain
		}
	}
	return defs, nil
}

// List returns the chains ordered by chain id.
func (d ChainDefinitions) List() []Chain {
	chains := make([]Chain, 0, len(d.Chains))
	for _, chain := range d.Chains {
		chains = append(chains, chain)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].ID < chains[j].ID })
	return chains
}

// DefaultChainDefinitions is the catalogue used when no chains.yaml is given.
func DefaultChainDefinitions() ChainDefinitions {
	return ChainDefinitions{Chains: map[string]Chain{
		"ethereum":  {ID: 1, Name: "Ethereum", Symbol: "ETH", RPCURL: "https://eth.llamarpc.com", Explorer: "https://etherscan.io", Logo: "🇪"},
		"polygon":   {ID: 137, Name: "Polygon", Symbol: "MATIC", RPCURL: "https://polygon-rpc.com", Explorer: "https://polygonscan.com", Logo: "🟣"},
		"arbitrum":  {ID: 42161, Name: "Arbitrum", Symbol: "ETH", RPCURL: "https://arb1.arbitrum.io/rpc", Explorer: "https://arbiscan.io", Logo: "🔵"},
		"base":      {ID: 8453, Name: "Base", Symbol: "ETH", RPCURL: "https://mainnet.base.org", Explorer: "https://basescan.org", Logo: "🔷"},
		"optimism":  {ID: 10, Name: "Optimism", Symbol: "ETH", RPCURL: "https://mainnet.optimism.io", Explorer: "https://optimistic.etherscan.io", Logo: "🔴"},
		"rootstock": {ID: 30, Name: "Rootstock", Symbol: "RBTC", RPCURL: "https://public-node.rsk.co", Explorer: "https://explorer.rsk.co", Logo: "🟠"},
		"hedera":    {ID: 295, Name: "Hedera", Symbol: "HBAR", RPCURL: "https://mainnet-public.mirrornode.hedera.com", Explorer: "https://hashscan.io/mainnet", Logo: "⚡"},
	}}
}
