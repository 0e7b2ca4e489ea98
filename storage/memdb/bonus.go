package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/trezcool/taskpool/core/bonus"
)

type bonusRepository struct {
	db *DB
}

var _ bonus.Repository = (*bonusRepository)(nil) // interface compliance check

func NewBonusRepository(db *DB) *bonusRepository {
	return &bonusRepository{db: db}
}

func (repo *bonusRepository) GetAchievement(ctx context.Context, studentID string, date time.Time) (bonus.Achievement, error) {
	found, err := repo.QueryAchievements(ctx, bonus.AchievementFilter{StudentID: studentID, Date: date})
	if err != nil {
		return bonus.Achievement{}, err
	}
	if len(found) == 0 {
		return bonus.Achievement{}, bonus.ErrAchievementNotFound
	}
	return found[0], nil
}

func (repo *bonusRepository) SaveAchievement(ctx context.Context, a bonus.Achievement) (bonus.Achievement, error) {
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		// (student, date) is unique
		existing, err := list[bonus.Achievement](txn, tableAchievement, bonus.AchievementFilter{StudentID: a.StudentID, Date: a.Date}.Match)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			a.ID, a.CreatedAt = existing[0].ID, existing[0].CreatedAt
		}
		return insert(txn, tableAchievement, a)
	})
	return a, err
}

func (repo *bonusRepository) QueryAchievements(ctx context.Context, filter bonus.AchievementFilter) ([]bonus.Achievement, error) {
	found, err := list[bonus.Achievement](repo.db.read(ctx), tableAchievement, filter.Match)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(found, func(i, j int) bool {
		if !found[i].Date.Equal(found[j].Date) {
			return found[i].Date.After(found[j].Date)
		}
		return found[i].CompletedAmount.GreaterThan(found[j].CompletedAmount)
	})
	return found, nil
}

func (repo *bonusRepository) GetPool(ctx context.Context, date time.Time) (bonus.Pool, error) {
	pools, err := list[bonus.Pool](repo.db.read(ctx), tableBonusPool, func(p bonus.Pool) bool { return p.Date.Equal(date) })
	if err != nil {
		return bonus.Pool{}, err
	}
	if len(pools) == 0 {
		return bonus.Pool{}, bonus.ErrPoolNotFound
	}
	return pools[0], nil
}

func (repo *bonusRepository) SavePool(ctx context.Context, p bonus.Pool) (bonus.Pool, error) {
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		// date is unique
		existing, err := list[bonus.Pool](txn, tableBonusPool, func(e bonus.Pool) bool { return e.Date.Equal(p.Date) })
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			p.ID, p.CreatedAt = existing[0].ID, existing[0].CreatedAt
		}
		return insert(txn, tableBonusPool, p)
	})
	return p, err
}
