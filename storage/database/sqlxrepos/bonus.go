package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/core/bonus"
)

const (
	achievementColumns = `id, student_id, student_name, date, daily_target, completed_amount, is_achieved, created_at, updated_at`
	bonusPoolColumns   = `id, date, carry_forward_amount, new_expired_amount, total_amount, generated_amount,
	completed_amount, remaining_amount, created_at, updated_at`
)

func dateArg(d time.Time) string {
	return d.Format("2006-01-02")
}

type bonusRepository struct {
	repository
}

var _ bonus.Repository = (*bonusRepository)(nil) // interface compliance check

func NewBonusRepository(db *sqlx.DB) *bonusRepository {
	return &bonusRepository{repository{db: db}}
}

func (repo bonusRepository) GetAchievement(ctx context.Context, studentID string, date time.Time) (bonus.Achievement, error) {
	exec := repo.exec(ctx)
	var a bonus.Achievement
	q := exec.Rebind(`SELECT ` + achievementColumns + ` FROM daily_achievement WHERE student_id::text = ? AND date = ?::date`)
	if err := sqlx.GetContext(ctx, exec, &a, q, studentID, dateArg(date)); err != nil {
		return bonus.Achievement{}, trapNoRowsErr(err, bonus.ErrAchievementNotFound, "getting achievement")
	}
	return a, nil
}

func (repo bonusRepository) SaveAchievement(ctx context.Context, a bonus.Achievement) (bonus.Achievement, error) {
	q := `INSERT INTO daily_achievement (` + achievementColumns + `)
		VALUES (:id, :student_id, :student_name, :date, :daily_target, :completed_amount, :is_achieved, :created_at, :updated_at)
		ON CONFLICT (student_id, date) DO UPDATE SET student_name = EXCLUDED.student_name, daily_target = EXCLUDED.daily_target,
		completed_amount = EXCLUDED.completed_amount, is_achieved = EXCLUDED.is_achieved, updated_at = EXCLUDED.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, a); err != nil {
		return bonus.Achievement{}, errors.Wrap(err, "saving achievement")
	}
	return a, nil
}

func (repo bonusRepository) QueryAchievements(ctx context.Context, filter bonus.AchievementFilter) ([]bonus.Achievement, error) {
	var w where
	if !filter.Date.IsZero() {
		w.add("date = ?::date", dateArg(filter.Date))
	}
	if filter.StudentID != "" {
		w.add("student_id::text = ?", filter.StudentID)
	}
	if filter.Achieved != nil {
		w.add("is_achieved = ?", *filter.Achieved)
	}

	exec := repo.exec(ctx)
	q, args, err := w.build(exec, `SELECT `+achievementColumns+` FROM daily_achievement`, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	q += " ORDER BY date DESC, completed_amount DESC"
	list := []bonus.Achievement{}
	if err = sqlx.SelectContext(ctx, exec, &list, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying achievements")
	}
	return list, nil
}

func (repo bonusRepository) GetPool(ctx context.Context, date time.Time) (bonus.Pool, error) {
	exec := repo.exec(ctx)
	var p bonus.Pool
	q := exec.Rebind(`SELECT ` + bonusPoolColumns + ` FROM bonus_pool WHERE date = ?::date`)
	if err := sqlx.GetContext(ctx, exec, &p, q, dateArg(date)); err != nil {
		return bonus.Pool{}, trapNoRowsErr(err, bonus.ErrPoolNotFound, "getting bonus pool")
	}
	return p, nil
}

func (repo bonusRepository) SavePool(ctx context.Context, p bonus.Pool) (bonus.Pool, error) {
	q := `INSERT INTO bonus_pool (` + bonusPoolColumns + `)
		VALUES (:id, :date, :carry_forward_amount, :new_expired_amount, :total_amount, :generated_amount,
		:completed_amount, :remaining_amount, :created_at, :updated_at)
		ON CONFLICT (date) DO UPDATE SET carry_forward_amount = EXCLUDED.carry_forward_amount,
		new_expired_amount = EXCLUDED.new_expired_amount, total_amount = EXCLUDED.total_amount,
		generated_amount = EXCLUDED.generated_amount, completed_amount = EXCLUDED.completed_amount,
		remaining_amount = EXCLUDED.remaining_amount, updated_at = EXCLUDED.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, p); err != nil {
		return bonus.Pool{}, errors.Wrap(err, "saving bonus pool")
	}
	return p, nil
}
