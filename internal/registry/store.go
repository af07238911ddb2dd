package registry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	xerrors "CoinKeep/internal/errors"
	"CoinKeep/internal/observability/metrics"
	"CoinKeep/pkg/logger"

	"github.com/google/uuid"
)

// Store is the agent registry. It does no validation of its own: address
// format and duplicate checks belong to the caller.
type Store struct {
	repo  Repository
	now   func() time.Time
	newID func() string
	log   *slog.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the registration time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides agent id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewStore wraps repo.
func NewStore(repo Repository, opts ...Option) *Store {
	s := &Store{
		repo:  repo,
		now:   time.Now,
		newID: uuid.NewString,
		log:   logger.Named("registry"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if agents, err := repo.List(context.Background()); err == nil {
		metrics.SetAgents(len(agents))
	}
	return s
}

// AddAgent creates an agent with a fresh id, the current time and an empty
// merchant whitelist.
func (s *Store) AddAgent(ctx context.Context, draft Draft) (Agent, error) {
	agent := Agent{
		ID:                   s.newID(),
		Owner:                draft.Owner,
		TelegramHandle:       draft.TelegramHandle,
		AgentName:            draft.AgentName,
		Description:          draft.Description,
		AgentAddress:         draft.AgentAddress,
		IsActive:             draft.IsActive,
		RegistrationTime:     s.now().UnixMilli(),
		WhitelistedMerchants: []string{},
	}
	if err := s.repo.Insert(ctx, agent); err != nil {
		metrics.ObserveRegistryMutation("add_agent", metrics.OutcomeError)
		return Agent{}, err
	}
	metrics.ObserveRegistryMutation("add_agent", metrics.OutcomeOK)
	s.refreshGauge(ctx)
	logger.Audit().Info("agent registered", "agent_id", agent.ID, "owner", agent.Owner, "agent_name", agent.AgentName)
	return cloneAgent(agent), nil
}

// UpdateAgent merges update into the agent with id. An unknown id is a
// no-op: it returns false and no error.
func (s *Store) UpdateAgent(ctx context.Context, id string, update Update) (Agent, bool, error) {
	var updated Agent
	found, err := s.repo.UpdateByID(ctx, id, func(a *Agent) {
		update.apply(a)
		updated = cloneAgent(*a)
	})
	s.observe("update_agent", found, err)
	if err != nil || !found {
		return Agent{}, found, err
	}
	return updated, true, nil
}

// AddMerchantToAgent appends address to the whitelist without checking for
// duplicates.
func (s *Store) AddMerchantToAgent(ctx context.Context, id, address string) (bool, error) {
	found, err := s.repo.AppendToField(ctx, id, FieldWhitelistedMerchants, address)
	s.observe("add_merchant", found, err)
	return found, err
}

// RemoveMerchantFromAgent drops every whitelist entry equal to address.
func (s *Store) RemoveMerchantFromAgent(ctx context.Context, id, address string) (bool, error) {
	found, err := s.repo.UpdateByID(ctx, id, func(a *Agent) {
		kept := make([]string, 0, len(a.WhitelistedMerchants))
		for _, m := range a.WhitelistedMerchants {
			if m != address {
				kept = append(kept, m)
			}
		}
		a.WhitelistedMerchants = kept
	})
	s.observe("remove_merchant", found, err)
	return found, err
}

// AgentsByOwner returns the agents whose owner equals address ignoring case.
func (s *Store) AgentsByOwner(ctx context.Context, address string) ([]Agent, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	owned := make([]Agent, 0)
	for _, a := range all {
		if strings.EqualFold(a.Owner, address) {
			owned = append(owned, a)
		}
	}
	return owned, nil
}

// Agents returns the whole collection.
func (s *Store) Agents(ctx context.Context) ([]Agent, error) {
	return s.repo.List(ctx)
}

// Agent returns one agent or CodeAgentNotFound.
func (s *Store) Agent(ctx context.Context, id string) (Agent, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return Agent{}, err
	}
	for _, a := range all {
		if a.ID == id {
			return a, nil
		}
	}
	return Agent{}, xerrors.New(CodeAgentNotFound, "", xerrors.WithMetadata("agent_id", id))
}

func (s *Store) observe(operation string, found bool, err error) {
	switch {
	case err != nil:
		metrics.ObserveRegistryMutation(operation, metrics.OutcomeError)
		s.log.Error("智能体写入失败", "operation", operation, "error", err)
	case !found:
		metrics.ObserveRegistryMutation(operation, metrics.OutcomeNoop)
	default:
		metrics.ObserveRegistryMutation(operation, metrics.OutcomeOK)
	}
}

func (s *Store) refreshGauge(ctx context.Context) {
	if agents, err := s.repo.List(ctx); err == nil {
		metrics.SetAgents(len(agents))
	}
}
