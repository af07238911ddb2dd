package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"CoinKeep/internal/config"
	"CoinKeep/internal/web3"
	"CoinKeep/internal/web3/ethereum"
	"CoinKeep/pkg/logger"
)

// Provider kinds accepted in web3.provider.
const (
	KindNone  = "none"
	KindLocal = "local"
)

// UnknownNetwork is the display name for chain ids missing from the catalogue.
const UnknownNetwork = "Unknown Network"

// Registry is the chain catalogue keyed by chain id.
type Registry struct {
	chains map[uint64]web3.Chain
	order  []web3.Chain
}

// NewRegistry indexes the given chain definitions.
func NewRegistry(defs web3.ChainDefinitions) (*Registry, error) {
	list := defs.List()
	if len(list) == 0 {
		return nil, errors.New("链目录为空")
	}
	chains := make(map[uint64]web3.Chain, len(list))
	for _, chain := range list {
		if _, dup := chains[chain.ID]; dup {
			return nil, fmt.Errorf("链 id %d 重复定义", chain.ID)
		}
		chains[chain.ID] = chain
	}
	return &Registry{chains: chains, order: list}, nil
}

// Chain returns the catalogue entry for id.
func (r *Registry) Chain(id uint64) (web3.Chain, bool) {
	if r == nil {
		return web3.Chain{}, false
	}
	chain, ok := r.chains[id]
	return chain, ok
}

// Name returns the chain name for id or UnknownNetwork.
func (r *Registry) Name(id uint64) string {
	if chain, ok := r.Chain(id); ok && chain.Name != "" {
		return chain.Name
	}
	return UnknownNetwork
}

// Chains returns the catalogue ordered by chain id.
func (r *Registry) Chains() []web3.Chain {
	if r == nil {
		return nil
	}
	out := make([]web3.Chain, len(r.order))
	copy(out, r.order)
	return out
}

// Handle bundles what Open produced. Provider is nil when no wallet is
// configured, which the session store reports as ProviderUnavailable.
type Handle struct {
	Chains   *Registry
	Provider web3.Provider
	Wallet   *ethereum.Wallet
	cancel   context.CancelFunc
}

// Close stops the chain watcher and releases RPC connections.
func (h *Handle) Close() {
	if h == nil {
		return
	}
	if h.cancel != nil {
		h.cancel()
	}
	if h.Wallet != nil {
		h.Wallet.Close()
	}
}

// Open loads the chain catalogue and builds the configured wallet provider.
func Open(ctx context.Context, cfg config.Web3Config) (*Handle, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	registry, err := NewRegistry(defs)
	if err != nil {
		return nil, err
	}

	handle := &Handle{Chains: registry}
	kind := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch kind {
	case "", KindNone:
		logger.Named("web3").Info("未配置钱包 provider")
		return handle, nil
	case KindLocal:
		wallet, err := ethereum.NewWallet(ethereum.Config{
			Chains:      registry.Chains(),
			ChainID:     cfg.DefaultChainID,
			PrivateKeys: cfg.PrivateKeys,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化本地钱包失败: %w", err)
		}
		handle.Wallet = wallet
		handle.Provider = wallet
		if cfg.PollIntervalSeconds > 0 {
			watchCtx, cancel := context.WithCancel(ctx)
			handle.cancel = cancel
			go wallet.Watch(watchCtx, time.Duration(cfg.PollIntervalSeconds)*time.Second)
		}
		return handle, nil
	default:
		return nil, fmt.Errorf("不支持的钱包 provider: %s", cfg.Provider)
	}
}
