package ethereum

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"CoinKeep/internal/web3"
	"CoinKeep/pkg/logger"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct a local signing wallet.
type Config struct {
	// Chains is the catalogue the wallet may switch between.
	Chains []web3.Chain
	// ChainID selects the initial chain. Zero picks the lowest id.
	ChainID uint64
	// PrivateKeys are hex encoded secp256k1 keys, with or without 0x.
	PrivateKeys []string
}

type account struct {
	address common.Address
	key     *ecdsa.PrivateKey
}

// Wallet is a web3.Provider backed by local keys. Wallet specific methods are
// answered in process, everything else is forwarded to the JSON-RPC endpoint
// of the selected chain.
type Wallet struct {
	mu         sync.Mutex
	chains     map[uint64]web3.Chain
	chainID    uint64
	accounts   []account
	authorized bool
	clients    map[string]*gethrpc.Client

	listenerMu sync.Mutex
	listeners  map[web3.Event]map[int]web3.Listener
	nextID     int

	log *slog.Logger
}

// NewWallet validates the configuration and returns a wallet. RPC endpoints are
// dialled lazily on first use.
func NewWallet(cfg Config) (*Wallet, error) {
	if len(cfg.Chains) == 0 {
		return nil, errors.New("钱包未配置任何链")
	}
	chains := make(map[uint64]web3.Chain, len(cfg.Chains))
	lowest := uint64(0)
	for _, chain := range cfg.Chains {
		if chain.ID == 0 {
			return nil, fmt.Errorf("链 %s 缺少 id", chain.Name)
		}
		chains[chain.ID] = chain
		if lowest == 0 || chain.ID < lowest {
			lowest = chain.ID
		}
	}
	chainID := cfg.ChainID
	if chainID == 0 {
		chainID = lowest
	}
	if _, ok := chains[chainID]; !ok {
		return nil, fmt.Errorf("默认链 %d 未在链配置中找到", chainID)
	}

	w := &Wallet{
		chains:    chains,
		chainID:   chainID,
		clients:   make(map[string]*gethrpc.Client),
		listeners: make(map[web3.Event]map[int]web3.Listener),
		log:       logger.Named("wallet-provider"),
	}
	for _, raw := range cfg.PrivateKeys {
		if _, err := w.addKey(raw); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Request implements web3.Provider.
func (w *Wallet) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	switch method {
	case web3.MethodRequestAccounts:
		w.mu.Lock()
		w.authorized = true
		addrs := w.addressesLocked()
		w.mu.Unlock()
		return encode(addrs)
	case web3.MethodAccounts:
		w.mu.Lock()
		addrs := []string{}
		if w.authorized {
			addrs = w.addressesLocked()
		}
		w.mu.Unlock()
		return encode(addrs)
	case web3.MethodChainID:
		w.mu.Lock()
		id := w.chainID
		w.mu.Unlock()
		return encode(web3.FormatChainID(id))
	case web3.MethodSwitchChain:
		return w.switchChain(params)
	case web3.MethodPersonalSign:
		return w.personalSign(params)
	case web3.MethodRevokePermissions:
		w.mu.Lock()
		was := w.authorized
		w.authorized = false
		w.mu.Unlock()
		if was {
			w.emit(web3.Notification{Event: web3.EventAccountsChanged, Accounts: []string{}})
		}
		return encode(nil)
	default:
		return w.forward(ctx, method, params)
	}
}

// On implements web3.Provider.
func (w *Wallet) On(event web3.Event, listener web3.Listener) func() {
	w.listenerMu.Lock()
	defer w.listenerMu.Unlock()
	if w.listeners[event] == nil {
		w.listeners[event] = make(map[int]web3.Listener)
	}
	id := w.nextID
	w.nextID++
	w.listeners[event][id] = listener
	return func() {
		w.listenerMu.Lock()
		defer w.listenerMu.Unlock()
		delete(w.listeners[event], id)
	}
}

// ImportKey adds a signing key and announces the new account list to
// authorized listeners.
func (w *Wallet) ImportKey(raw string) (string, error) {
	addr, err := w.addKey(raw)
	if err != nil {
		return "", err
	}
	w.announceAccounts()
	return addr, nil
}

// RemoveAccount drops the key for address. It reports whether a key was removed.
func (w *Wallet) RemoveAccount(address string) bool {
	w.mu.Lock()
	removed := false
	kept := w.accounts[:0]
	for _, acc := range w.accounts {
		if strings.EqualFold(acc.address.Hex(), address) {
			removed = true
			continue
		}
		kept = append(kept, acc)
	}
	w.accounts = kept
	w.mu.Unlock()
	if removed {
		w.announceAccounts()
	}
	return removed
}

// Watch polls the node behind the selected chain and emits chainChanged when
// it reports another chain id. It returns when ctx is done.
func (w *Wallet) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 4 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Wallet) poll(ctx context.Context) {
	w.mu.Lock()
	current := w.chainID
	w.mu.Unlock()

	client, err := w.client(ctx, current)
	if err != nil {
		return
	}
	reported, err := ethclient.NewClient(client).ChainID(ctx)
	if err != nil {
		w.log.Debug("查询节点链 ID 失败", "chain_id", current, "error", err)
		return
	}
	if !reported.IsUint64() || reported.Uint64() == current {
		return
	}

	w.mu.Lock()
	if w.chainID != current {
		w.mu.Unlock()
		return
	}
	next := reported.Uint64()
	if _, known := w.chains[next]; !known {
		// 节点切换到了目录外的网络，沿用当前端点
		w.chains[next] = web3.Chain{ID: next, RPCURL: w.chains[current].RPCURL}
	}
	w.chainID = next
	w.mu.Unlock()
	w.log.Warn("节点报告的链 ID 已变化", "from", current, "to", reported.Uint64())
	w.emit(web3.Notification{Event: web3.EventChainChanged, ChainID: web3.FormatChainID(reported.Uint64())})
}

// Close releases RPC connections.
func (w *Wallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for url, client := range w.clients {
		client.Close()
		delete(w.clients, url)
	}
}

func (w *Wallet) switchChain(params []any) (json.RawMessage, error) {
	if len(params) == 0 {
		return nil, web3.NewRPCError(-32602, "missing chainId parameter")
	}
	var req web3.SwitchChainParams
	if err := remarshal(params[0], &req); err != nil {
		return nil, web3.NewRPCError(-32602, "invalid chainId parameter")
	}
	id, err := web3.ParseChainID(req.ChainID)
	if err != nil {
		return nil, web3.NewRPCError(-32602, err.Error())
	}

	w.mu.Lock()
	if _, ok := w.chains[id]; !ok {
		w.mu.Unlock()
		return nil, web3.NewRPCError(web3.CodeUnrecognizedChain, fmt.Sprintf("Unrecognized chain ID %q", req.ChainID))
	}
	changed := w.chainID != id
	w.chainID = id
	w.mu.Unlock()

	if changed {
		w.emit(web3.Notification{Event: web3.EventChainChanged, ChainID: web3.FormatChainID(id)})
	}
	return encode(nil)
}

// personalSign follows the MetaMask parameter order: [message, address]. Hex
// messages are decoded to bytes, anything else is signed as UTF-8 text.
func (w *Wallet) personalSign(params []any) (json.RawMessage, error) {
	if len(params) < 2 {
		return nil, web3.NewRPCError(-32602, "personal_sign expects message and address")
	}
	message, ok1 := params[0].(string)
	address, ok2 := params[1].(string)
	if !ok1 || !ok2 {
		return nil, web3.NewRPCError(-32602, "personal_sign parameters must be strings")
	}

	w.mu.Lock()
	authorized := w.authorized
	var key *ecdsa.PrivateKey
	for _, acc := range w.accounts {
		if strings.EqualFold(acc.address.Hex(), address) {
			key = acc.key
			break
		}
	}
	w.mu.Unlock()

	if !authorized || key == nil {
		return nil, web3.NewRPCError(web3.CodeUnauthorized, "account not authorized")
	}

	payload := []byte(message)
	if decoded, err := hexutil.Decode(message); err == nil {
		payload = decoded
	}
	sig, err := crypto.Sign(accounts.TextHash(payload), key)
	if err != nil {
		return nil, fmt.Errorf("签名失败: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return encode(hexutil.Encode(sig))
}

func (w *Wallet) forward(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	w.mu.Lock()
	id := w.chainID
	w.mu.Unlock()

	client, err := w.client(ctx, id)
	if err != nil {
		return nil, err
	}
	var result json.RawMessage
	if err := client.CallContext(ctx, &result, method, params...); err != nil {
		return nil, err
	}
	return result, nil
}

func (w *Wallet) client(ctx context.Context, chainID uint64) (*gethrpc.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	url := strings.TrimSpace(w.chains[chainID].RPCURL)
	if client, ok := w.clients[url]; ok && url != "" {
		return client, nil
	}
	if url == "" {
		return nil, web3.NewRPCError(web3.CodeChainDisconnected, fmt.Sprintf("chain %d has no rpc endpoint", chainID))
	}
	client, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, web3.NewRPCError(web3.CodeChainDisconnected, fmt.Sprintf("dial %s: %v", url, err))
	}
	w.clients[url] = client
	return client, nil
}

func (w *Wallet) addKey(raw string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return "", fmt.Errorf("解析私钥失败: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, acc := range w.accounts {
		if acc.address == addr {
			return strings.ToLower(addr.Hex()), nil
		}
	}
	w.accounts = append(w.accounts, account{address: addr, key: key})
	return strings.ToLower(addr.Hex()), nil
}

func (w *Wallet) announceAccounts() {
	w.mu.Lock()
	if !w.authorized {
		w.mu.Unlock()
		return
	}
	addrs := w.addressesLocked()
	w.mu.Unlock()
	w.emit(web3.Notification{Event: web3.EventAccountsChanged, Accounts: addrs})
}

// addressesLocked returns lowercase addresses like injected wallets do.
func (w *Wallet) addressesLocked() []string {
	addrs := make([]string, 0, len(w.accounts))
	for _, acc := range w.accounts {
		addrs = append(addrs, strings.ToLower(acc.address.Hex()))
	}
	return addrs
}

func (w *Wallet) emit(n web3.Notification) {
	w.listenerMu.Lock()
	targets := make([]web3.Listener, 0, len(w.listeners[n.Event]))
	for _, listener := range w.listeners[n.Event] {
		targets = append(targets, listener)
	}
	w.listenerMu.Unlock()
	for _, listener := range targets {
		listener(n)
	}
}

func encode(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
