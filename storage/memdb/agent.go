package inmemdb

import (
	"context"
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/agent"
)

type agentRepository struct {
	db *DB
}

var _ agent.Repository = (*agentRepository)(nil) // interface compliance check

func NewAgentRepository(db *DB) *agentRepository {
	return &agentRepository{db: db}
}

func (repo *agentRepository) CreateAgent(ctx context.Context, a agent.Agent) (agent.Agent, error) {
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return insert(txn, tableAgent, a)
	})
	return a, err
}

func (repo *agentRepository) GetAgent(ctx context.Context, id string) (agent.Agent, error) {
	return first[agent.Agent](repo.db.read(ctx), tableAgent, id, agent.ErrNotFound)
}

func (repo *agentRepository) QueryAgents(ctx context.Context, filter agent.QueryFilter, page core.Page) ([]agent.Agent, int, error) {
	agents, err := list[agent.Agent](repo.db.read(ctx), tableAgent, filter.Match)
	if err != nil {
		return nil, 0, err
	}
	sort.SliceStable(agents, func(i, j int) bool { return agents[i].CreatedAt.After(agents[j].CreatedAt) })
	agents, total := paginate(agents, &page)
	return agents, total, nil
}

func (repo *agentRepository) UpdateAgent(ctx context.Context, a agent.Agent) (agent.Agent, error) {
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return update(txn, tableAgent, a.ID, a, agent.ErrNotFound)
	})
	return a, err
}
