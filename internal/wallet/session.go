package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	xerrors "CoinKeep/internal/errors"
	"CoinKeep/internal/web3"
	"CoinKeep/pkg/logger"
)

// State is a snapshot of the session. An empty Address and a zero ChainID
// mean absent.
type State struct {
	Address      string `json:"address,omitempty"`
	ChainID      uint64 `json:"chainId,omitempty"`
	IsConnected  bool   `json:"isConnected"`
	IsConnecting bool   `json:"isConnecting"`
}

// Status names the state machine position: disconnected, connecting or
// connected.
func (s State) Status() string {
	switch {
	case s.IsConnecting:
		return "connecting"
	case s.IsConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// fallbackChainID is used when accounts arrive before any chain id is known.
const fallbackChainID = 1

// Observer is called with the new state after every transition.
type Observer func(State)

// Session tracks one wallet provider. A nil provider means no wallet is
// installed.
type Session struct {
	provider web3.Provider

	mu    sync.Mutex
	state State

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int

	log *slog.Logger
}

// NewSession returns a disconnected session.
func NewSession(provider web3.Provider) *Session {
	return &Session{
		provider:  provider,
		observers: make(map[int]Observer),
		log:       logger.Named("wallet"),
	}
}

// State returns a copy of the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports the connected address, if any.
func (s *Session) Connected() (string, bool) {
	st := s.State()
	if !st.IsConnected || st.Address == "" {
		return "", false
	}
	return st.Address, true
}

// Connect asks the provider for accounts and the active chain. On failure
// only IsConnecting is cleared; the error is returned to the caller.
func (s *Session) Connect(ctx context.Context) (State, error) {
	if s.provider == nil {
		return s.State(), xerrors.New(CodeProviderUnavailable, "")
	}

	s.apply(func(st *State) { st.IsConnecting = true })

	address, chainID, err := s.requestAccount(ctx)
	if err != nil {
		s.apply(func(st *State) { st.IsConnecting = false })
		s.log.Warn("钱包连接失败", "error", err)
		return s.State(), err
	}

	next := s.apply(func(st *State) {
		*st = State{Address: address, ChainID: chainID, IsConnected: true}
	})
	logger.Audit().Info("wallet connected", "address", address, "chain_id", chainID)
	return next, nil
}

func (s *Session) requestAccount(ctx context.Context) (string, uint64, error) {
	var accounts []string
	if err := web3.RequestInto(ctx, s.provider, &accounts, web3.MethodRequestAccounts); err != nil {
		return "", 0, classify(err, "请求钱包账户失败")
	}
	if len(accounts) == 0 {
		return "", 0, xerrors.New(CodeProviderRejected, "wallet returned no accounts")
	}

	var rawChain string
	if err := web3.RequestInto(ctx, s.provider, &rawChain, web3.MethodChainID); err != nil {
		return "", 0, classify(err, "读取链 ID 失败")
	}
	chainID, err := web3.ParseChainID(rawChain)
	if err != nil {
		return "", 0, xerrors.Wrap(CodeProviderRejected, err, "链 ID 格式错误")
	}
	return accounts[0], chainID, nil
}

// Disconnect resets the session to its initial state.
func (s *Session) Disconnect() State {
	next := s.apply(func(st *State) { *st = State{} })
	logger.Audit().Info("wallet disconnected")
	return next
}

// SwitchChain asks the provider to change network. Only ChainID changes on
// success.
func (s *Session) SwitchChain(ctx context.Context, chainID uint64) (State, error) {
	if s.provider == nil {
		return s.State(), xerrors.New(CodeProviderUnavailable, "")
	}
	params := web3.SwitchChainParams{ChainID: web3.FormatChainID(chainID)}
	if _, err := s.provider.Request(ctx, web3.MethodSwitchChain, params); err != nil {
		if code, ok := web3.ErrorCode(err); ok && code == web3.CodeUnrecognizedChain {
			return s.State(), xerrors.Wrap(CodeChainNotRegistered, err, "",
				xerrors.WithMetadata("chain_id", fmt.Sprint(chainID)))
		}
		return s.State(), classify(err, "切换网络失败")
	}
	return s.apply(func(st *State) { st.ChainID = chainID }), nil
}

// Attach subscribes to provider notifications. The returned function removes
// the subscriptions.
func (s *Session) Attach() func() {
	if s.provider == nil {
		return func() {}
	}
	offAccounts := s.provider.On(web3.EventAccountsChanged, func(n web3.Notification) {
		s.HandleAccountsChanged(n.Accounts)
	})
	offChain := s.provider.On(web3.EventChainChanged, func(n web3.Notification) {
		s.HandleChainChanged(n.ChainID)
	})
	return func() {
		offAccounts()
		offChain()
	}
}

// HandleAccountsChanged applies an accountsChanged notification.
func (s *Session) HandleAccountsChanged(accounts []string) {
	if len(accounts) == 0 {
		s.apply(func(st *State) { *st = State{} })
		s.log.Info("钱包账户已清空，会话重置")
		return
	}
	s.apply(func(st *State) {
		chainID := st.ChainID
		if chainID == 0 {
			chainID = fallbackChainID
		}
		*st = State{Address: accounts[0], ChainID: chainID, IsConnected: true}
	})
}

// HandleChainChanged applies a chainChanged notification. Malformed ids are
// logged and ignored.
func (s *Session) HandleChainChanged(raw string) {
	chainID, err := web3.ParseChainID(raw)
	if err != nil {
		s.log.Warn("忽略无法解析的链 ID", "chain_id", raw, "error", err)
		return
	}
	s.apply(func(st *State) { st.ChainID = chainID })
}

// Watch registers an observer and returns the function that removes it.
func (s *Session) Watch(fn Observer) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

// apply runs mutate under the lock and notifies observers outside it.
func (s *Session) apply(mutate func(*State)) State {
	s.mu.Lock()
	mutate(&s.state)
	next := s.state
	s.mu.Unlock()

	s.obsMu.Lock()
	targets := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		targets = append(targets, fn)
	}
	s.obsMu.Unlock()
	for _, fn := range targets {
		fn(next)
	}
	return next
}
