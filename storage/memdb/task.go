package inmemdb

import (
	"context"
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/task"
)

type taskRepository struct {
	db *DB
}

var _ task.Repository = (*taskRepository)(nil) // interface compliance check

func NewTaskRepository(db *DB) *taskRepository {
	return &taskRepository{db: db}
}

func (repo *taskRepository) CreateTasks(ctx context.Context, tasks ...task.Task) error {
	return repo.db.write(ctx, func(txn *memdb.Txn) error {
		for _, t := range tasks {
			if err := insert(txn, tableTask, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (repo *taskRepository) GetTask(ctx context.Context, id string) (task.Task, error) {
	return first[task.Task](repo.db.read(ctx), tableTask, id, task.ErrNotFound)
}

func taskLess(field string, a, b task.Task) bool {
	switch field {
	case "end_date":
		return a.EndDate.Before(b.EndDate)
	case "submitted_at":
		return a.SubmittedAt.Time.Before(b.SubmittedAt.Time)
	case "completed_at":
		return a.CompletedAt.Time.Before(b.CompletedAt.Time)
	case "commission":
		return a.Commission.LessThan(b.Commission)
	case "status":
		return a.Status < b.Status
	default:
		return a.CreatedAt.Before(b.CreatedAt)
	}
}

func (repo *taskRepository) QueryTasks(ctx context.Context, filter task.QueryFilter, ordering []core.DBOrdering, page *core.Page) ([]task.Task, int, error) {
	tasks, err := list[task.Task](repo.db.read(ctx), tableTask, filter.Match)
	if err != nil {
		return nil, 0, err
	}
	// ties keep the order number order so that results are stable
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].OrderNumber < tasks[j].OrderNumber })
	for i := len(ordering) - 1; i >= 0; i-- {
		ord := ordering[i]
		sort.SliceStable(tasks, func(a, b int) bool {
			if !ord.Ascending {
				a, b = b, a
			}
			return taskLess(ord.Field, tasks[a], tasks[b])
		})
	}
	tasks, total := paginate(tasks, page)
	return tasks, total, nil
}

func (repo *taskRepository) AggregateTasks(ctx context.Context, filter task.QueryFilter) (task.Aggregate, error) {
	tasks, err := list[task.Task](repo.db.read(ctx), tableTask, filter.Match)
	if err != nil {
		return task.Aggregate{}, err
	}
	return task.Aggregate{Count: len(tasks), Amount: task.Total(tasks)}, nil
}

func (repo *taskRepository) UpdateTask(ctx context.Context, t task.Task) (task.Task, error) {
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return update(txn, tableTask, t.ID, t, task.ErrNotFound)
	})
	return t, err
}

func (repo *taskRepository) DeleteOpenTasks(ctx context.Context, ids ...string) (int, error) {
	var n int
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		open, err := list[task.Task](txn, tableTask, task.QueryFilter{IDs: ids, Statuses: []task.Status{task.StatusOpen}}.Match)
		if err != nil {
			return err
		}
		n = len(open)
		return remove(txn, tableTask, task.IDs(open)...)
	})
	return n, err
}
