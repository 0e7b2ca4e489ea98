package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/subsidy"
)

const poolColumns = `id, student_id, student_name, total_subsidy, remaining_amount, allocated_amount, completed_amount,
	bonus_completed_amount, bonus_income, status, import_batch, last_allocation_at, created_at, updated_at`

type subsidyRepository struct {
	repository
}

var _ subsidy.Repository = (*subsidyRepository)(nil) // interface compliance check

func NewSubsidyRepository(db *sqlx.DB) *subsidyRepository {
	return &subsidyRepository{repository{db: db}}
}

func (repo subsidyRepository) CreatePool(ctx context.Context, p subsidy.Pool) (subsidy.Pool, error) {
	q := `INSERT INTO subsidy_pool (` + poolColumns + `) VALUES (:id, :student_id, :student_name, :total_subsidy,
		:remaining_amount, :allocated_amount, :completed_amount, :bonus_completed_amount, :bonus_income, :status,
		:import_batch, :last_allocation_at, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, p); err != nil {
		return subsidy.Pool{}, errors.Wrap(err, "inserting subsidy pool")
	}
	return p, nil
}

func (repo subsidyRepository) GetPool(ctx context.Context, studentID string) (subsidy.Pool, error) {
	exec := repo.exec(ctx)
	var p subsidy.Pool
	q := exec.Rebind(`SELECT ` + poolColumns + ` FROM subsidy_pool WHERE student_id::text = ? FOR UPDATE`)
	if _, inTx := exec.(*sqlx.Tx); !inTx {
		q = exec.Rebind(`SELECT ` + poolColumns + ` FROM subsidy_pool WHERE student_id::text = ?`)
	}
	if err := sqlx.GetContext(ctx, exec, &p, q, studentID); err != nil {
		return subsidy.Pool{}, trapNoRowsErr(err, subsidy.ErrPoolNotFound, "getting subsidy pool")
	}
	return p, nil
}

func (repo subsidyRepository) QueryPools(ctx context.Context, filter subsidy.QueryFilter, page *core.Page) ([]subsidy.Pool, int, error) {
	var w where
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	if len(filter.StudentIDs) > 0 {
		w.add("student_id::text IN (?)", filter.StudentIDs)
	}

	exec := repo.exec(ctx)
	q, args, err := w.build(exec, `SELECT `+poolColumns+` FROM subsidy_pool`,
		[]core.DBOrdering{{Field: "updated_at"}}, map[string]bool{"updated_at": true}, page)
	if err != nil {
		return nil, 0, err
	}
	pools := []subsidy.Pool{}
	if err = sqlx.SelectContext(ctx, exec, &pools, q, args...); err != nil {
		return nil, 0, errors.Wrap(err, "querying subsidy pools")
	}

	total := len(pools)
	if page != nil {
		if total, err = w.count(ctx, exec, "subsidy_pool"); err != nil {
			return nil, 0, err
		}
	}
	return pools, total, nil
}

// PoolTotals binds the pool aggregates with sqlboiler.
func (repo subsidyRepository) PoolTotals(ctx context.Context) (subsidy.Totals, error) {
	var totals subsidy.Totals
	err := queries.Raw(`SELECT COUNT(*) AS students, COALESCE(SUM(total_subsidy), 0) AS total_subsidy FROM subsidy_pool`).
		Bind(ctx, repo.exec(ctx), &totals)
	if err != nil {
		return subsidy.Totals{}, errors.Wrap(err, "aggregating subsidy pools")
	}
	return totals, nil
}

func (repo subsidyRepository) UpdatePool(ctx context.Context, p subsidy.Pool) (subsidy.Pool, error) {
	q := `UPDATE subsidy_pool SET student_name = :student_name, total_subsidy = :total_subsidy,
		remaining_amount = :remaining_amount, allocated_amount = :allocated_amount, completed_amount = :completed_amount,
		bonus_completed_amount = :bonus_completed_amount, bonus_income = :bonus_income, status = :status,
		import_batch = :import_batch, last_allocation_at = :last_allocation_at, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, p)
	if err != nil {
		return subsidy.Pool{}, errors.Wrap(err, "updating subsidy pool")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return subsidy.Pool{}, subsidy.ErrPoolNotFound
	}
	return p, nil
}

func (repo subsidyRepository) DeletePool(ctx context.Context, studentID string) error {
	exec := repo.exec(ctx)
	res, err := exec.ExecContext(ctx, exec.Rebind(`DELETE FROM subsidy_pool WHERE student_id::text = ?`), studentID)
	if err != nil {
		return errors.Wrap(err, "deleting subsidy pool")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return subsidy.ErrPoolNotFound
	}
	return nil
}
