package dashboard

import (
	"context"
	"strings"
	"sync"
	"testing"

	xerrors "CoinKeep/internal/errors"
	"CoinKeep/internal/events"
	"CoinKeep/internal/notify"
	"CoinKeep/internal/registry"
	"CoinKeep/internal/storage"
	"CoinKeep/internal/wallet"
	"CoinKeep/internal/web3"
	"CoinKeep/internal/web3/ethereum"
	"CoinKeep/internal/web3/provider"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	agentAddr = "0x742d35Cc6634C0532925a3b8D95A4b95aE824123"
	merchant  = "0xdef0000000000000000000000000000000000001"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, evt := range p.events {
		out[i] = evt.Type
	}
	return out
}

type fixture struct {
	svc      *Service
	wallet   *ethereum.Wallet
	session  *wallet.Session
	agents   *registry.Store
	recorder *notify.Recorder
	pub      *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	w, err := ethereum.NewWallet(ethereum.Config{
		Chains: []web3.Chain{
			{ID: 1, Name: "Ethereum"},
			{ID: 137, Name: "Polygon"},
			{ID: 31337, Name: "Hardhat"},
		},
		ChainID:     1,
		PrivateKeys: []string{hexutil.Encode(crypto.FromECDSA(key))},
	})
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	t.Cleanup(w.Close)

	chains, err := provider.NewRegistry(web3.DefaultChainDefinitions())
	if err != nil {
		t.Fatalf("chains: %v", err)
	}
	repo, err := registry.NewSnapshotRepository(context.Background(), storage.NewMemoryKV(), "coinkeep_agents")
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	agents := registry.NewStore(repo)
	session := wallet.NewSession(w)
	recorder := notify.NewRecorder(20)
	pub := &recordingPublisher{}

	svc := New(session, agents, chains, events.NewFeed(pub), notify.NewFanout(recorder))
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, wallet: w, session: session, agents: agents, recorder: recorder, pub: pub}
}

func (f *fixture) connect(t *testing.T) string {
	t.Helper()
	st, err := f.svc.ConnectWallet(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return st.Address
}

func (f *fixture) lastToast(t *testing.T) notify.Notification {
	t.Helper()
	recent := f.recorder.Recent(1)
	if len(recent) == 0 {
		t.Fatal("expected a notification")
	}
	return recent[0]
}

func validForm() Registration {
	return Registration{TelegramHandle: "@bot", AgentName: "Bot1", Description: "pays invoices", AgentAddress: agentAddr}
}

func TestRegisterAgentRequiresWallet(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RegisterAgent(context.Background(), validForm())
	if !xerrors.HasCode(err, wallet.CodeNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
	toast := f.lastToast(t)
	if toast.Level != notify.LevelError || toast.Message != "Please connect your wallet first" {
		t.Fatalf("unexpected toast %+v", toast)
	}
}

func TestRegisterAgentValidation(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	ctx := context.Background()

	cases := []struct {
		name string
		edit func(*Registration)
		msg  string
	}{
		{"missing handle", func(r *Registration) { r.TelegramHandle = "" }, msgRequiredFields},
		{"missing name", func(r *Registration) { r.AgentName = " " }, msgRequiredFields},
		{"missing address", func(r *Registration) { r.AgentAddress = "" }, msgRequiredFields},
		{"handle prefix", func(r *Registration) { r.TelegramHandle = "bot" }, msgHandlePrefix},
		{"bad address", func(r *Registration) { r.AgentAddress = "0x123" }, msgInvalidAgentAddr},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			form := validForm()
			tc.edit(&form)
			_, err := f.svc.RegisterAgent(ctx, form)
			if !xerrors.HasCode(err, CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := f.lastToast(t).Message; got != tc.msg {
				t.Fatalf("toast %q, want %q", got, tc.msg)
			}
		})
	}
	agents, _ := f.agents.Agents(ctx)
	if len(agents) != 0 {
		t.Fatalf("invalid forms must not register agents, got %d", len(agents))
	}
}

func TestMerchantScenario(t *testing.T) {
	f := newFixture(t)
	owner := f.connect(t)
	ctx := context.Background()

	agent, err := f.svc.RegisterAgent(ctx, validForm())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if agent.Owner != owner || !agent.IsActive || agent.AgentAddress != agentAddr || len(agent.WhitelistedMerchants) != 0 {
		t.Fatalf("unexpected agent %+v", agent)
	}
	if f.lastToast(t).Message != msgRegistered {
		t.Fatalf("unexpected toast %+v", f.lastToast(t))
	}

	agent, err = f.svc.WhitelistMerchant(ctx, agent.ID, merchant)
	if err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if len(agent.WhitelistedMerchants) != 1 || agent.WhitelistedMerchants[0] != merchant {
		t.Fatalf("unexpected merchants %v", agent.WhitelistedMerchants)
	}

	if _, err := f.svc.WhitelistMerchant(ctx, agent.ID, merchant); !xerrors.HasCode(err, CodeValidation) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if f.lastToast(t).Message != msgDuplicateMerchant {
		t.Fatalf("unexpected toast %+v", f.lastToast(t))
	}
	if _, err := f.svc.WhitelistMerchant(ctx, agent.ID, "nope"); !xerrors.HasCode(err, CodeValidation) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	if f.lastToast(t).Message != msgInvalidMerchant {
		t.Fatalf("unexpected toast %+v", f.lastToast(t))
	}

	agent, err = f.svc.RemoveMerchant(ctx, agent.ID, merchant)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(agent.WhitelistedMerchants) != 0 {
		t.Fatalf("expected empty merchants, got %v", agent.WhitelistedMerchants)
	}

	want := []events.Type{events.TypeAgentRegistered, events.TypeMerchantWhitelisted, events.TypeMerchantRemoved}
	got := f.pub.types()
	if len(got) != len(want) {
		t.Fatalf("unexpected events %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}

	mine, err := f.svc.MyAgents(ctx)
	if err != nil || len(mine) != 1 {
		t.Fatalf("unexpected agents %v %v", mine, err)
	}
}

func TestConcurrentWhitelistStoresMerchantOnce(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	ctx := context.Background()

	agent, err := f.svc.RegisterAgent(ctx, validForm())
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	const workers = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := f.svc.WhitelistMerchant(ctx, agent.ID, merchant); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if !xerrors.HasCode(err, CodeValidation) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("expected exactly one accepted whitelist, got %d", accepted)
	}
	stored, err := f.agents.Agent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	if len(stored.WhitelistedMerchants) != 1 || stored.WhitelistedMerchants[0] != merchant {
		t.Fatalf("expected a single whitelist entry, got %v", stored.WhitelistedMerchants)
	}
}

func TestRemoveMerchantTrimsAndIgnoresUnknown(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	ctx := context.Background()

	agent, err := f.svc.RegisterAgent(ctx, validForm())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.svc.WhitelistMerchant(ctx, agent.ID, merchant); err != nil {
		t.Fatalf("whitelist: %v", err)
	}

	other := "0xdef0000000000000000000000000000000000002"
	toastsBefore := len(f.recorder.Recent(0))
	eventsBefore := len(f.pub.types())
	agent, err = f.svc.RemoveMerchant(ctx, agent.ID, other)
	if err != nil {
		t.Fatalf("remove unknown: %v", err)
	}
	if len(agent.WhitelistedMerchants) != 1 {
		t.Fatalf("whitelist must be untouched, got %v", agent.WhitelistedMerchants)
	}
	if got := len(f.pub.types()); got != eventsBefore {
		t.Fatalf("unknown merchant must not be announced, events %v", f.pub.types())
	}
	if got := len(f.recorder.Recent(0)); got != toastsBefore {
		t.Fatalf("unknown merchant must not toast, got %d notifications", got)
	}

	agent, err = f.svc.RemoveMerchant(ctx, agent.ID, "  "+merchant+" ")
	if err != nil {
		t.Fatalf("remove padded: %v", err)
	}
	if len(agent.WhitelistedMerchants) != 0 {
		t.Fatalf("padded address must match the stored entry, got %v", agent.WhitelistedMerchants)
	}
	types := f.pub.types()
	if types[len(types)-1] != events.TypeMerchantRemoved {
		t.Fatalf("expected merchant.removed, got %v", types)
	}
	if f.lastToast(t).Message != msgRemoved {
		t.Fatalf("unexpected toast %+v", f.lastToast(t))
	}
}

func TestOwnershipChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	foreign, err := f.agents.AddAgent(ctx, registry.Draft{Owner: "0x9990000000000000000000000000000000000009", TelegramHandle: "@x", AgentName: "X"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	owner := f.connect(t)
	mine, err := f.agents.AddAgent(ctx, registry.Draft{Owner: strings.ToUpper(owner), TelegramHandle: "@m", AgentName: "M"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := f.svc.WhitelistMerchant(ctx, foreign.ID, merchant); !xerrors.HasCode(err, CodeNotOwned) {
		t.Fatalf("expected not owned, got %v", err)
	}
	if _, err := f.svc.RemoveMerchant(ctx, foreign.ID, merchant); !xerrors.HasCode(err, CodeNotOwned) {
		t.Fatalf("expected not owned, got %v", err)
	}
	if _, err := f.svc.WhitelistMerchant(ctx, "missing", merchant); !xerrors.HasCode(err, registry.CodeAgentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	// owner comparison ignores case
	if _, err := f.svc.WhitelistMerchant(ctx, mine.ID, merchant); err != nil {
		t.Fatalf("whitelist on own agent: %v", err)
	}

	list, _ := f.svc.MyAgents(ctx)
	if len(list) != 1 || list[0].ID != mine.ID {
		t.Fatalf("unexpected own agents %+v", list)
	}
}

func TestUpdateAgent(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	ctx := context.Background()
	agent, err := f.svc.RegisterAgent(ctx, validForm())
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	name := "Bot2"
	inactive := false
	updated, err := f.svc.UpdateAgent(ctx, agent.ID, registry.Update{AgentName: &name, IsActive: &inactive})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.AgentName != "Bot2" || updated.IsActive || updated.ID != agent.ID || updated.RegistrationTime != agent.RegistrationTime {
		t.Fatalf("unexpected update result %+v", updated)
	}

	handle := "nobot"
	if _, err := f.svc.UpdateAgent(ctx, agent.ID, registry.Update{TelegramHandle: &handle}); !xerrors.HasCode(err, CodeValidation) {
		t.Fatalf("expected handle validation, got %v", err)
	}
	other := "0x1"
	if _, err := f.svc.UpdateAgent(ctx, agent.ID, registry.Update{Owner: &other}); !xerrors.HasCode(err, CodeValidation) {
		t.Fatalf("expected owner change to be rejected, got %v", err)
	}
}

func TestMyAgentsWhenDisconnected(t *testing.T) {
	f := newFixture(t)
	list, err := f.svc.MyAgents(context.Background())
	if err != nil || list == nil || len(list) != 0 {
		t.Fatalf("expected empty non-nil list, got %v %v", list, err)
	}
}

func TestWalletActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chain, known := f.svc.CurrentChain()
	if known || chain.Name != provider.UnknownNetwork {
		t.Fatalf("disconnected session should map to unknown network, got %+v", chain)
	}

	f.connect(t)
	chain, known = f.svc.CurrentChain()
	if !known || chain.ID != 1 || chain.Name != "Ethereum" {
		t.Fatalf("unexpected chain %+v", chain)
	}

	st, err := f.svc.SwitchChain(ctx, 137)
	if err != nil || st.ChainID != 137 {
		t.Fatalf("switch: %+v %v", st, err)
	}
	if f.lastToast(t).Message != "Switched to Polygon" {
		t.Fatalf("unexpected toast %+v", f.lastToast(t))
	}

	if _, err := f.svc.SwitchChain(ctx, 8453); !xerrors.HasCode(err, wallet.CodeChainNotRegistered) {
		t.Fatalf("expected chain not registered, got %v", err)
	}
	if f.lastToast(t).Message != "Please add this network to MetaMask first" {
		t.Fatalf("unexpected toast %+v", f.lastToast(t))
	}

	// a chain the wallet knows but the catalogue does not
	if _, err := f.svc.SwitchChain(ctx, 31337); err != nil {
		t.Fatalf("switch to devnet: %v", err)
	}
	if chain, known := f.svc.CurrentChain(); known || chain.ID != 31337 || chain.Name != provider.UnknownNetwork {
		t.Fatalf("unexpected chain %+v", chain)
	}

	st = f.svc.DisconnectWallet(ctx)
	if st != (wallet.State{}) || f.svc.Wallet() != (wallet.State{}) {
		t.Fatalf("expected reset state, got %+v", st)
	}
}

func TestConnectWithoutProvider(t *testing.T) {
	chains, _ := provider.NewRegistry(web3.DefaultChainDefinitions())
	repo, _ := registry.NewSnapshotRepository(context.Background(), storage.NewMemoryKV(), "k")
	recorder := notify.NewRecorder(5)
	svc := New(wallet.NewSession(nil), registry.NewStore(repo), chains, nil, notify.NewFanout(recorder))
	defer svc.Close()

	if _, err := svc.ConnectWallet(context.Background()); !xerrors.HasCode(err, wallet.CodeProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
	recent := recorder.Recent(1)
	if len(recent) != 1 || recent[0].Message != "MetaMask is not installed" || recent[0].Code != wallet.CodeProviderUnavailable {
		t.Fatalf("unexpected toast %+v", recent)
	}
}
