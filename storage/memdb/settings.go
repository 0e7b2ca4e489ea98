package inmemdb

import (
	"context"
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/trezcool/taskpool/core/settings"
)

type settingsRepository struct {
	db *DB
}

var _ settings.Repository = (*settingsRepository)(nil) // interface compliance check

func NewSettingsRepository(db *DB) *settingsRepository {
	return &settingsRepository{db: db}
}

func (repo *settingsRepository) ListSettings(ctx context.Context) ([]settings.Setting, error) {
	all, err := list[settings.Setting](repo.db.read(ctx), tableSetting, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })
	return all, nil
}

func (repo *settingsRepository) GetSetting(ctx context.Context, key string) (settings.Setting, error) {
	return first[settings.Setting](repo.db.read(ctx), tableSetting, key, settings.ErrNotFound)
}

func (repo *settingsRepository) SaveSetting(ctx context.Context, s settings.Setting) (settings.Setting, error) {
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return insert(txn, tableSetting, s)
	})
	return s, err
}
