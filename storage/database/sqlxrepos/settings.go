package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/core/settings"
)

type settingsRepository struct {
	repository
}

var _ settings.Repository = (*settingsRepository)(nil) // interface compliance check

func NewSettingsRepository(db *sqlx.DB) *settingsRepository {
	return &settingsRepository{repository{db: db}}
}

func (repo settingsRepository) ListSettings(ctx context.Context) ([]settings.Setting, error) {
	list := []settings.Setting{}
	if err := sqlx.SelectContext(ctx, repo.exec(ctx), &list, `SELECT key, value, type, description, updated_at FROM system_config ORDER BY key`); err != nil {
		return nil, errors.Wrap(err, "listing settings")
	}
	return list, nil
}

func (repo settingsRepository) GetSetting(ctx context.Context, key string) (settings.Setting, error) {
	exec := repo.exec(ctx)
	var s settings.Setting
	err := sqlx.GetContext(ctx, exec, &s, exec.Rebind(`SELECT key, value, type, description, updated_at FROM system_config WHERE key = ?`), key)
	if err != nil {
		return settings.Setting{}, trapNoRowsErr(err, settings.ErrNotFound, "getting setting")
	}
	return s, nil
}

func (repo settingsRepository) SaveSetting(ctx context.Context, s settings.Setting) (settings.Setting, error) {
	q := `INSERT INTO system_config (key, value, type, description, updated_at)
		VALUES (:key, :value, :type, :description, :updated_at)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, description = EXCLUDED.description, updated_at = EXCLUDED.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, s); err != nil {
		return settings.Setting{}, errors.Wrap(err, "saving setting")
	}
	return s, nil
}
