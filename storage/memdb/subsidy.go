package inmemdb

import (
	"context"
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/subsidy"
)

type subsidyRepository struct {
	db *DB
}

var _ subsidy.Repository = (*subsidyRepository)(nil) // interface compliance check

func NewSubsidyRepository(db *DB) *subsidyRepository {
	return &subsidyRepository{db: db}
}

func (repo *subsidyRepository) CreatePool(ctx context.Context, p subsidy.Pool) (subsidy.Pool, error) {
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return insert(txn, tableSubsidyPool, p)
	})
	return p, err
}

func (repo *subsidyRepository) GetPool(ctx context.Context, studentID string) (subsidy.Pool, error) {
	return first[subsidy.Pool](repo.db.read(ctx), tableSubsidyPool, studentID, subsidy.ErrPoolNotFound)
}

func (repo *subsidyRepository) QueryPools(ctx context.Context, filter subsidy.QueryFilter, page *core.Page) ([]subsidy.Pool, int, error) {
	pools, err := list[subsidy.Pool](repo.db.read(ctx), tableSubsidyPool, filter.Match)
	if err != nil {
		return nil, 0, err
	}
	sort.SliceStable(pools, func(i, j int) bool { return pools[i].UpdatedAt.After(pools[j].UpdatedAt) })
	pools, total := paginate(pools, page)
	return pools, total, nil
}

func (repo *subsidyRepository) PoolTotals(ctx context.Context) (subsidy.Totals, error) {
	pools, err := list[subsidy.Pool](repo.db.read(ctx), tableSubsidyPool, nil)
	if err != nil {
		return subsidy.Totals{}, err
	}
	totals := subsidy.Totals{Students: len(pools)}
	for _, p := range pools {
		totals.TotalSubsidy = totals.TotalSubsidy.Add(p.TotalSubsidy)
	}
	return totals, nil
}

func (repo *subsidyRepository) UpdatePool(ctx context.Context, p subsidy.Pool) (subsidy.Pool, error) {
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return update(txn, tableSubsidyPool, p.StudentID, p, subsidy.ErrPoolNotFound)
	})
	return p, err
}

func (repo *subsidyRepository) DeletePool(ctx context.Context, studentID string) error {
	return repo.db.write(ctx, func(txn *memdb.Txn) error {
		if _, err := first[subsidy.Pool](txn, tableSubsidyPool, studentID, subsidy.ErrPoolNotFound); err != nil {
			return err
		}
		return remove(txn, tableSubsidyPool, studentID)
	})
}
