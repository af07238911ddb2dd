package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	xerrors "CoinKeep/internal/errors"
	"CoinKeep/internal/storage"
	"CoinKeep/pkg/logger"
)

// Field names a list field that AppendToField can extend.
type Field string

// FieldWhitelistedMerchants is the merchant whitelist of an agent.
const FieldWhitelistedMerchants Field = "whitelistedMerchants"

// Repository persists the agent collection.
type Repository interface {
	List(ctx context.Context) ([]Agent, error)
	Insert(ctx context.Context, agent Agent) error
	// UpdateByID applies mutate to the agent with id. It reports false, and
	// writes nothing, when no agent matches.
	UpdateByID(ctx context.Context, id string, mutate func(*Agent)) (bool, error)
	AppendToField(ctx context.Context, id string, field Field, value string) (bool, error)
}

// SnapshotRepository keeps the collection in memory and rewrites the whole
// JSON array under one storage key on every mutation.
type SnapshotRepository struct {
	mu     sync.Mutex
	kv     storage.KV
	key    string
	agents []Agent
	log    *slog.Logger
}

// NewSnapshotRepository reads the stored snapshot once. Malformed JSON is
// logged and treated as an empty collection; a storage read error is returned.
func NewSnapshotRepository(ctx context.Context, kv storage.KV, key string) (*SnapshotRepository, error) {
	repo := &SnapshotRepository{kv: kv, key: key, agents: []Agent{}, log: logger.Named("registry")}

	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取智能体快照失败", xerrors.WithMetadata("key", key))
	}
	if !ok || raw == "" {
		return repo, nil
	}

	var restored []Agent
	if err := json.Unmarshal([]byte(raw), &restored); err != nil {
		parseErr := xerrors.Wrap(xerrors.CodeStorageParseFailure, err, "智能体快照无法解析，按空集合启动", xerrors.WithMetadata("key", key))
		repo.log.Warn(parseErr.Message(), "key", key, "error", parseErr)
		return repo, nil
	}
	for i := range restored {
		if restored[i].WhitelistedMerchants == nil {
			restored[i].WhitelistedMerchants = []string{}
		}
	}
	repo.agents = restored
	return repo, nil
}

// List returns a copy of the collection in insertion order.
func (r *SnapshotRepository) List(_ context.Context) ([]Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneAgents(r.agents), nil
}

// Insert appends agent.
func (r *SnapshotRepository) Insert(ctx context.Context, agent Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := append(cloneAgents(r.agents), cloneAgent(agent))
	return r.commitLocked(ctx, next)
}

// UpdateByID implements Repository.
func (r *SnapshotRepository) UpdateByID(ctx context.Context, id string, mutate func(*Agent)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return false, nil
	}
	next := cloneAgents(r.agents)
	mutate(&next[idx])
	if err := r.commitLocked(ctx, next); err != nil {
		return true, err
	}
	return true, nil
}

// AppendToField implements Repository.
func (r *SnapshotRepository) AppendToField(ctx context.Context, id string, field Field, value string) (bool, error) {
	if field != FieldWhitelistedMerchants {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "unsupported field "+string(field))
	}
	return r.UpdateByID(ctx, id, func(a *Agent) {
		a.WhitelistedMerchants = append(a.WhitelistedMerchants, value)
	})
}

func (r *SnapshotRepository) indexLocked(id string) int {
	for i, a := range r.agents {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// commitLocked writes next before swapping it in, so a failed write keeps
// the last good collection.
func (r *SnapshotRepository) commitLocked(ctx context.Context, next []Agent) error {
	encoded, err := json.Marshal(next)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化智能体失败")
	}
	if err := r.kv.Set(ctx, r.key, string(encoded)); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入智能体快照失败", xerrors.WithMetadata("key", r.key))
	}
	r.agents = next
	return nil
}
