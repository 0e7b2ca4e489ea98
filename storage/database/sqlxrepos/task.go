package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/task"
)

const taskColumns = `id, order_number, summary, requirement, source, commission, status, end_date, delivery_date,
	founder, founder_id, is_virtual, target_student_id, is_bonus_pool, bonus_pool_date,
	accepted_by, accepted_at, submitted_at, completed_at, message, created_at, updated_at`

const taskValues = `:id, :order_number, :summary, :requirement, :source, :commission, :status, :end_date, :delivery_date,
	:founder, :founder_id, :is_virtual, :target_student_id, :is_bonus_pool, :bonus_pool_date,
	:accepted_by, :accepted_at, :submitted_at, :completed_at, :message, :created_at, :updated_at`

var taskOrderFields = map[string]bool{
	"created_at": true, "end_date": true, "submitted_at": true, "completed_at": true, "commission": true, "status": true,
}

type taskRepository struct {
	repository
}

var _ task.Repository = (*taskRepository)(nil) // interface compliance check

func NewTaskRepository(db *sqlx.DB) *taskRepository {
	return &taskRepository{repository{db: db}}
}

func taskWhere(filter task.QueryFilter) *where {
	var w where
	if len(filter.IDs) > 0 {
		w.add("id IN (?)", filter.IDs)
	}
	if filter.StudentID != "" {
		w.add("target_student_id::text = ?", filter.StudentID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]int, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, int(s))
		}
		w.add("status IN (?)", statuses)
	}
	if filter.IsVirtual != nil {
		w.add("is_virtual = ?", *filter.IsVirtual)
	}
	if filter.IsBonusPool != nil {
		w.add("is_bonus_pool = ?", *filter.IsBonusPool)
	}
	if filter.BonusPoolDate.Valid {
		w.add("bonus_pool_date = ?::date", filter.BonusPoolDate.Time.Format("2006-01-02"))
	}
	if filter.FounderID != "" {
		w.add("founder_id::text = ?", filter.FounderID)
	}
	if filter.AcceptedBy != "" {
		w.add("accepted_by::text = ?", filter.AcceptedBy)
	}
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		w.add("(summary ILIKE ? OR order_number LIKE ?)", val, val)
	}
	if !filter.CreatedFrom.IsZero() {
		w.add("created_at >= ?", filter.CreatedFrom.UTC())
	}
	if !filter.CreatedTo.IsZero() {
		w.add("created_at < ?", filter.CreatedTo.UTC())
	}
	if !filter.EndBefore.IsZero() {
		w.add("end_date <= ?", filter.EndBefore.UTC())
	}
	if !filter.SubmittedBefore.IsZero() {
		w.add("submitted_at <= ?", filter.SubmittedBefore.UTC())
	}
	if !filter.CompletedFrom.IsZero() {
		w.add("completed_at >= ?", filter.CompletedFrom.UTC())
	}
	if !filter.CompletedTo.IsZero() {
		w.add("completed_at < ?", filter.CompletedTo.UTC())
	}
	return &w
}

func (repo taskRepository) CreateTasks(ctx context.Context, tasks ...task.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	q := `INSERT INTO task (` + taskColumns + `) VALUES (` + taskValues + `)`
	if _, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, tasks); err != nil {
		return errors.Wrap(err, "inserting tasks")
	}
	return nil
}

func (repo taskRepository) GetTask(ctx context.Context, id string) (task.Task, error) {
	exec := repo.exec(ctx)
	var t task.Task
	err := sqlx.GetContext(ctx, exec, &t, exec.Rebind(`SELECT `+taskColumns+` FROM task WHERE id::text = ?`), id)
	if err != nil {
		return task.Task{}, trapNoRowsErr(err, task.ErrNotFound, "getting task")
	}
	return t, nil
}

func (repo taskRepository) QueryTasks(ctx context.Context, filter task.QueryFilter, ordering []core.DBOrdering, page *core.Page) ([]task.Task, int, error) {
	exec := repo.exec(ctx)
	w := taskWhere(filter)

	q, args, err := w.build(exec, `SELECT `+taskColumns+` FROM task`, ordering, taskOrderFields, page)
	if err != nil {
		return nil, 0, err
	}
	tasks := []task.Task{}
	if err = sqlx.SelectContext(ctx, exec, &tasks, q, args...); err != nil {
		return nil, 0, errors.Wrap(err, "querying tasks")
	}

	total := len(tasks)
	if page != nil {
		if total, err = w.count(ctx, exec, "task"); err != nil {
			return nil, 0, err
		}
	}
	return tasks, total, nil
}

// AggregateTasks binds the count and amount of the matching tasks with sqlboiler.
func (repo taskRepository) AggregateTasks(ctx context.Context, filter task.QueryFilter) (task.Aggregate, error) {
	exec := repo.exec(ctx)
	q, args, err := taskWhere(filter).build(exec, `SELECT COUNT(*) AS count, COALESCE(SUM(commission), 0) AS amount FROM task`, nil, nil, nil)
	if err != nil {
		return task.Aggregate{}, err
	}
	var agg task.Aggregate
	if err = queries.Raw(q, args...).Bind(ctx, exec, &agg); err != nil {
		return task.Aggregate{}, errors.Wrap(err, "aggregating tasks")
	}
	return agg, nil
}

func (repo taskRepository) UpdateTask(ctx context.Context, t task.Task) (task.Task, error) {
	q := `UPDATE task SET summary = :summary, requirement = :requirement, commission = :commission, status = :status,
		end_date = :end_date, founder = :founder, founder_id = :founder_id, accepted_by = :accepted_by,
		accepted_at = :accepted_at, submitted_at = :submitted_at, completed_at = :completed_at,
		message = :message, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, t)
	if err != nil {
		return task.Task{}, errors.Wrap(err, "updating task")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return task.Task{}, task.ErrNotFound
	}
	return t, nil
}

func (repo taskRepository) DeleteOpenTasks(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	exec := repo.exec(ctx)
	q, args, err := sqlx.In(`DELETE FROM task WHERE id IN (?) AND status = ?`, ids, task.StatusOpen)
	if err != nil {
		return 0, errors.Wrap(err, "expanding query")
	}
	res, err := exec.ExecContext(ctx, exec.Rebind(q), args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting tasks")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "counting deleted tasks")
}
