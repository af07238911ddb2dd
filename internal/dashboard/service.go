package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	xerrors "CoinKeep/internal/errors"
	"CoinKeep/internal/events"
	"CoinKeep/internal/notify"
	"CoinKeep/internal/observability/metrics"
	"CoinKeep/internal/registry"
	"CoinKeep/internal/wallet"
	"CoinKeep/internal/web3"
	"CoinKeep/internal/web3/provider"
	"CoinKeep/pkg/logger"
)

// Notifier receives the toasts produced by dashboard actions.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// Registration is the agent registration form.
type Registration struct {
	TelegramHandle string `json:"telegramHandle"`
	AgentName      string `json:"agentName"`
	Description    string `json:"description"`
	AgentAddress   string `json:"agentAddress"`
}

// Service ties the wallet session to the agent registry.
type Service struct {
	session  *wallet.Session
	agents   *registry.Store
	chains   *provider.Registry
	feed     *events.Feed
	notifier Notifier
	log      *slog.Logger
	unwatch  func()

	// merchantMu 让白名单的检查与写入成为一步，避免并发请求写入重复商户。
	merchantMu sync.Mutex
}

// New builds the dashboard. feed and notifier may be nil.
func New(session *wallet.Session, agents *registry.Store, chains *provider.Registry, feed *events.Feed, notifier Notifier) *Service {
	s := &Service{
		session:  session,
		agents:   agents,
		chains:   chains,
		feed:     feed,
		notifier: notifier,
		log:      logger.Named("dashboard"),
	}
	s.unwatch = session.Watch(func(st wallet.State) {
		metrics.ObserveWalletTransition(st.Status())
	})
	return s
}

// Close detaches the session observer.
func (s *Service) Close() {
	if s.unwatch != nil {
		s.unwatch()
	}
}

// Wallet returns the session state.
func (s *Service) Wallet() wallet.State {
	return s.session.State()
}

// ConnectWallet connects the session. Failures are also surfaced as
// notifications.
func (s *Service) ConnectWallet(ctx context.Context) (wallet.State, error) {
	st, err := s.session.Connect(ctx)
	if err != nil {
		return st, s.fail(ctx, err)
	}
	s.toast(ctx, notify.Info(fmt.Sprintf("Connected %s", web3.ShortAddress(st.Address))))
	return st, nil
}

// DisconnectWallet resets the session.
func (s *Service) DisconnectWallet(ctx context.Context) wallet.State {
	st := s.session.Disconnect()
	s.toast(ctx, notify.Info("Wallet disconnected"))
	return st
}

// SwitchChain asks the wallet to change network.
func (s *Service) SwitchChain(ctx context.Context, chainID uint64) (wallet.State, error) {
	st, err := s.session.SwitchChain(ctx, chainID)
	if err != nil {
		return st, s.fail(ctx, err)
	}
	s.toast(ctx, notify.Success(fmt.Sprintf("Switched to %s", s.chains.Name(chainID))))
	return st, nil
}

// CurrentChain returns catalogue data for the session chain. Unknown ids get
// the UnknownNetwork name and ok=false.
func (s *Service) CurrentChain() (web3.Chain, bool) {
	id := s.session.State().ChainID
	if chain, ok := s.chains.Chain(id); ok {
		return chain, true
	}
	return web3.Chain{ID: id, Name: provider.UnknownNetwork}, false
}

// Chains returns the supported networks.
func (s *Service) Chains() []web3.Chain {
	return s.chains.Chains()
}

// RegisterAgent validates the form and registers an active agent owned by the
// connected wallet.
func (s *Service) RegisterAgent(ctx context.Context, form Registration) (registry.Agent, error) {
	owner, err := s.requireWallet()
	if err != nil {
		return registry.Agent{}, s.fail(ctx, err)
	}
	form.TelegramHandle = strings.TrimSpace(form.TelegramHandle)
	form.AgentName = strings.TrimSpace(form.AgentName)
	form.AgentAddress = strings.TrimSpace(form.AgentAddress)

	switch {
	case form.TelegramHandle == "" || form.AgentName == "" || form.AgentAddress == "":
		return registry.Agent{}, s.fail(ctx, invalid(msgRequiredFields))
	case !strings.HasPrefix(form.TelegramHandle, "@"):
		return registry.Agent{}, s.fail(ctx, invalid(msgHandlePrefix))
	case !web3.IsAddress(form.AgentAddress):
		return registry.Agent{}, s.fail(ctx, invalid(msgInvalidAgentAddr))
	}

	agent, err := s.agents.AddAgent(ctx, registry.Draft{
		Owner:          owner,
		TelegramHandle: form.TelegramHandle,
		AgentName:      form.AgentName,
		Description:    form.Description,
		AgentAddress:   form.AgentAddress,
		IsActive:       true,
	})
	if err != nil {
		s.log.Error("注册智能体失败", "owner", owner, "error", err)
		s.toast(ctx, notify.Error(msgRegistrationFailed))
		return registry.Agent{}, err
	}
	s.feed.Announce(ctx, events.New(events.TypeAgentRegistered, agent.ID, agent.Owner, ""))
	s.toast(ctx, notify.Success(msgRegistered))
	return agent, nil
}

// UpdateAgent edits the descriptive fields of an owned agent. Owner and the
// merchant list cannot be changed through it.
func (s *Service) UpdateAgent(ctx context.Context, id string, update registry.Update) (registry.Agent, error) {
	if _, err := s.ownedAgent(ctx, id); err != nil {
		return registry.Agent{}, s.fail(ctx, err)
	}
	if update.Owner != nil || update.WhitelistedMerchants != nil {
		return registry.Agent{}, s.fail(ctx, invalid(msgImmutableFields))
	}
	if update.TelegramHandle != nil && !strings.HasPrefix(*update.TelegramHandle, "@") {
		return registry.Agent{}, s.fail(ctx, invalid(msgHandlePrefix))
	}
	if update.AgentName != nil && strings.TrimSpace(*update.AgentName) == "" {
		return registry.Agent{}, s.fail(ctx, invalid(msgRequiredFields))
	}
	if update.AgentAddress != nil && !web3.IsAddress(*update.AgentAddress) {
		return registry.Agent{}, s.fail(ctx, invalid(msgInvalidAgentAddr))
	}

	agent, found, err := s.agents.UpdateAgent(ctx, id, update)
	if err != nil {
		return registry.Agent{}, s.fail(ctx, err)
	}
	if !found {
		return registry.Agent{}, s.fail(ctx, xerrors.New(registry.CodeAgentNotFound, ""))
	}
	s.toast(ctx, notify.Success(msgUpdated))
	return agent, nil
}

// WhitelistMerchant appends a merchant to an owned agent. The address must be
// well formed and not already present (exact match).
func (s *Service) WhitelistMerchant(ctx context.Context, agentID, address string) (registry.Agent, error) {
	s.merchantMu.Lock()
	defer s.merchantMu.Unlock()

	agent, err := s.ownedAgent(ctx, agentID)
	if err != nil {
		return registry.Agent{}, s.fail(ctx, err)
	}
	address = strings.TrimSpace(address)
	if !web3.IsAddress(address) {
		return registry.Agent{}, s.fail(ctx, invalid(msgInvalidMerchant))
	}
	if agent.HasMerchant(address) {
		return registry.Agent{}, s.fail(ctx, invalid(msgDuplicateMerchant))
	}

	if _, err := s.agents.AddMerchantToAgent(ctx, agentID, address); err != nil {
		return registry.Agent{}, s.fail(ctx, err)
	}
	s.feed.Announce(ctx, events.New(events.TypeMerchantWhitelisted, agentID, agent.Owner, address))
	s.toast(ctx, notify.Success(msgWhitelisted))
	return s.agents.Agent(ctx, agentID)
}

// RemoveMerchant drops a merchant from an owned agent. Removing an address
// that is not whitelisted changes nothing and announces nothing.
func (s *Service) RemoveMerchant(ctx context.Context, agentID, address string) (registry.Agent, error) {
	s.merchantMu.Lock()
	defer s.merchantMu.Unlock()

	agent, err := s.ownedAgent(ctx, agentID)
	if err != nil {
		return registry.Agent{}, s.fail(ctx, err)
	}
	address = strings.TrimSpace(address)
	if !agent.HasMerchant(address) {
		return agent, nil
	}
	if _, err := s.agents.RemoveMerchantFromAgent(ctx, agentID, address); err != nil {
		return registry.Agent{}, s.fail(ctx, err)
	}
	s.feed.Announce(ctx, events.New(events.TypeMerchantRemoved, agentID, agent.Owner, address))
	s.toast(ctx, notify.Success(msgRemoved))
	return s.agents.Agent(ctx, agentID)
}

// MyAgents lists the agents of the connected wallet; empty when disconnected.
func (s *Service) MyAgents(ctx context.Context) ([]registry.Agent, error) {
	owner, ok := s.session.Connected()
	if !ok {
		return []registry.Agent{}, nil
	}
	return s.agents.AgentsByOwner(ctx, owner)
}

// Agent returns any agent by id.
func (s *Service) Agent(ctx context.Context, id string) (registry.Agent, error) {
	return s.agents.Agent(ctx, id)
}

func (s *Service) requireWallet() (string, error) {
	owner, ok := s.session.Connected()
	if !ok {
		return "", xerrors.New(wallet.CodeNotConnected, "")
	}
	return owner, nil
}

func (s *Service) ownedAgent(ctx context.Context, id string) (registry.Agent, error) {
	owner, err := s.requireWallet()
	if err != nil {
		return registry.Agent{}, err
	}
	agent, err := s.agents.Agent(ctx, id)
	if err != nil {
		return registry.Agent{}, err
	}
	if !web3.SameAddress(agent.Owner, owner) {
		return registry.Agent{}, xerrors.New(CodeNotOwned, "",
			xerrors.WithMetadata("agent_id", id))
	}
	return agent, nil
}

// fail surfaces err as an error toast and returns it unchanged.
func (s *Service) fail(ctx context.Context, err error) error {
	n := notify.FromError(err)
	if e, ok := xerrors.From(err); ok && e.Code() != CodeValidation {
		n.Message = xerrors.AttributesOf(e.Code()).Message
	}
	s.toast(ctx, n)
	return err
}

func (s *Service) toast(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warn("提示发送失败", "level", n.Level, "error", err)
	}
}
