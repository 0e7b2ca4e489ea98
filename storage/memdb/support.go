package inmemdb

import (
	"context"
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/support"
)

type virtualAgentRepository struct {
	db *DB
}

var _ support.Repository = (*virtualAgentRepository)(nil) // interface compliance check

func NewVirtualAgentRepository(db *DB) *virtualAgentRepository {
	return &virtualAgentRepository{db: db}
}

func (repo *virtualAgentRepository) CreateVirtualAgent(ctx context.Context, va support.VirtualAgent) (support.VirtualAgent, error) {
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return insert(txn, tableVirtualAgent, va)
	})
	return va, err
}

func (repo *virtualAgentRepository) GetVirtualAgent(ctx context.Context, id string) (support.VirtualAgent, error) {
	return first[support.VirtualAgent](repo.db.read(ctx), tableVirtualAgent, id, support.ErrNotFound)
}

func (repo *virtualAgentRepository) GetVirtualAgentByAccount(ctx context.Context, account string) (support.VirtualAgent, error) {
	agents, err := list[support.VirtualAgent](repo.db.read(ctx), tableVirtualAgent, func(va support.VirtualAgent) bool {
		return va.Account == account
	})
	if err != nil {
		return support.VirtualAgent{}, err
	}
	if len(agents) == 0 {
		return support.VirtualAgent{}, support.ErrNotFound
	}
	return agents[0], nil
}

func (repo *virtualAgentRepository) QueryVirtualAgents(ctx context.Context, filter support.QueryFilter, page *core.Page) ([]support.VirtualAgent, int, error) {
	agents, err := list[support.VirtualAgent](repo.db.read(ctx), tableVirtualAgent, filter.Match)
	if err != nil {
		return nil, 0, err
	}
	sort.SliceStable(agents, func(i, j int) bool { return agents[i].CreatedAt.Before(agents[j].CreatedAt) })
	agents, total := paginate(agents, page)
	return agents, total, nil
}

func (repo *virtualAgentRepository) UpdateVirtualAgent(ctx context.Context, va support.VirtualAgent) (support.VirtualAgent, error) {
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return update(txn, tableVirtualAgent, va.ID, va, support.ErrNotFound)
	})
	return va, err
}
