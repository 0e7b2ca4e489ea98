package subsidy

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/settings"
	"github.com/trezcool/taskpool/core/task"
	"github.com/trezcool/taskpool/core/user"
)

var (
	// errors
	ErrPoolNotFound      error = core.NotFoundError{Resource: "subsidy pool"}
	ErrNothingToAllocate       = core.NewBusinessError(http.StatusBadRequest, "no remaining amount to allocate")
	ErrNotSubsidyTask          = core.NewBusinessError(http.StatusBadRequest, "not a student subsidy task")
	ErrInvalidStatus           = core.NewConflictError("task status does not allow this operation")
	ErrTasksChanged            = core.NewConflictError("tasks changed while being recycled, retry")

	nowFunc = time.Now // mockable
)

type Repository interface {
	CreatePool(ctx context.Context, p Pool) (Pool, error)
	GetPool(ctx context.Context, studentID string) (Pool, error)
	// QueryPools returns the matching page and the total match count. A nil page returns everything.
	QueryPools(ctx context.Context, filter QueryFilter, page *core.Page) ([]Pool, int, error)
	PoolTotals(ctx context.Context) (Totals, error)
	UpdatePool(ctx context.Context, p Pool) (Pool, error)
	DeletePool(ctx context.Context, studentID string) error
}

type Service struct {
	tx       core.Transactor
	repo     Repository
	tasks    task.Repository
	users    *user.Service
	settings *settings.Service
	factory  *task.Factory
	events   core.EventPublisher
	logger   core.Logger
	loc      *time.Location
}

func NewService(
	tx core.Transactor,
	repo Repository,
	tasks task.Repository,
	users *user.Service,
	settingsSvc *settings.Service,
	factory *task.Factory,
	events core.EventPublisher,
	logger core.Logger,
	loc *time.Location,
) *Service {
	return &Service{
		tx:       tx,
		repo:     repo,
		tasks:    tasks,
		users:    users,
		settings: settingsSvc,
		factory:  factory,
		events:   events,
		logger:   logger,
		loc:      loc,
	}
}

// NewBatchID returns BATCH_YYYYMMDD_HHMMSS_<8 hex chars>.
func NewBatchID(now time.Time) string {
	return fmt.Sprintf("BATCH_%s_%s", now.Format("20060102_150405"), uuid.New().String()[:8])
}

// generate turns the remaining amount of p into open virtual tasks targeted at its student.
func (svc *Service) generate(ctx context.Context, p *Pool) (int, error) {
	if !p.RemainingAmount.IsPositive() {
		return 0, nil
	}
	tasks, err := svc.factory.Build(ctx, task.BatchRequest{
		Amount:    p.RemainingAmount,
		StudentID: p.StudentID,
		Expiry:    svc.settings.TaskExpiry(ctx),
	})
	if err != nil {
		return 0, errors.Wrap(err, "building tasks")
	}
	if err = svc.tasks.CreateTasks(ctx, tasks...); err != nil {
		return 0, errors.Wrap(err, "creating tasks")
	}
	p.allocate(task.Total(tasks))
	p.LastAllocationAt = null.TimeFrom(nowFunc().UTC())
	return len(tasks), nil
}

// Import credits each entry to the pool of the named student and, when enabled,
// splits the remaining amounts into virtual tasks. Rows are processed independently.
func (svc *Service) Import(ctx context.Context, entries []Entry) (ImportResult, error) {
	now := nowFunc().UTC()
	res := ImportResult{ImportBatch: NewBatchID(now.In(svc.loc)), Errors: []core.RowError{}, TotalAmount: decimal.Zero}
	generate := svc.settings.GenerationEnabled(ctx)

	for i, e := range entries {
		row := i + 1
		fail := func(msg string) {
			res.ErrorCount++
			res.Errors = append(res.Errors, core.RowError{Row: row, Message: msg})
		}

		name := core.CleanString(e.StudentName)
		if name == "" {
			fail("student name is required")
			continue
		}
		if e.Amount.IsNegative() {
			fail("amount must not be negative")
			continue
		}
		students, err := svc.users.StudentsByName(ctx, name)
		if err != nil {
			return res, errors.Wrap(err, "looking up students")
		}
		switch {
		case len(students) == 0:
			fail("student not found: " + name)
			continue
		case len(students) > 1:
			fail("ambiguous student name: " + name)
			continue
		}
		student := students[0]

		var created bool
		var generated int
		err = svc.tx.InTx(ctx, func(ctx context.Context) error {
			p, err := svc.repo.GetPool(ctx, student.ID)
			switch {
			case err == nil:
			case errors.Cause(err) == ErrPoolNotFound:
				created = true
				p = Pool{
					ID:          uuid.New().String(),
					StudentID:   student.ID,
					StudentName: student.Name,
					Status:      StatusActive,
					CreatedAt:   now,
				}
			default:
				return errors.Wrap(err, "getting pool")
			}

			p.add(e.Amount)
			p.ImportBatch = res.ImportBatch
			if generate {
				if generated, err = svc.generate(ctx, &p); err != nil {
					return err
				}
			}
			p.UpdatedAt = now
			if created {
				_, err = svc.repo.CreatePool(ctx, p)
			} else {
				_, err = svc.repo.UpdatePool(ctx, p)
			}
			return err
		})
		if err != nil {
			svc.logger.Error("subsidy.Import", "row", row, "error", err)
			fail(err.Error())
			continue
		}

		res.SuccessCount++
		res.TasksGenerated += generated
		res.TotalAmount = res.TotalAmount.Add(e.Amount)
		if created {
			res.PoolsCreated++
		} else {
			res.PoolsUpdated++
		}
	}

	svc.logger.Info("subsidy.Import", "batch", res.ImportBatch, "success", res.SuccessCount, "errors", res.ErrorCount, "tasks", res.TasksGenerated)
	if res.SuccessCount > 0 {
		svc.events.Publish(core.EventSubsidyImported, res)
	}
	return res, nil
}

func groupByStudent(tasks []task.Task) (map[string][]task.Task, []string) {
	groups := make(map[string][]task.Task)
	var order []string
	for _, t := range tasks {
		id := t.TargetStudentID.String
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], t)
	}
	sort.Strings(order)
	return groups, order
}

// Sweep deletes the open virtual tasks whose acceptance window passed and
// returns their amounts to the student pools, regenerating tasks when enabled.
// When expired amounts go to the bonus pool instead, the sweep leaves them alone.
func (svc *Service) Sweep(ctx context.Context) (SweepResult, error) {
	res := SweepResult{RecycledAmount: decimal.Zero}
	if svc.settings.RecycleTarget(ctx) != settings.RecycleToStudentPool {
		res.Skipped = true
		return res, nil
	}
	generate := svc.settings.GenerationEnabled(ctx)
	now := nowFunc().UTC()

	expiredFilter := task.QueryFilter{
		IsVirtual:   task.BoolPtr(true),
		IsBonusPool: task.BoolPtr(false),
		Statuses:    []task.Status{task.StatusOpen},
		EndBefore:   now,
	}
	expired, _, err := svc.tasks.QueryTasks(ctx, expiredFilter, nil, nil)
	if err != nil {
		return res, errors.Wrap(err, "querying expired tasks")
	}

	_, students := groupByStudent(expired)
	for _, studentID := range students {
		var (
			tasks       []task.Task
			amount      decimal.Decimal
			regenerated int
		)
		err := svc.tx.InTx(ctx, func(ctx context.Context) error {
			p, err := svc.repo.GetPool(ctx, studentID)
			hasPool := err == nil
			if err != nil && errors.Cause(err) != ErrPoolNotFound {
				return errors.Wrap(err, "getting pool")
			}

			// the tasks may have moved on since the first read
			filter := expiredFilter
			filter.StudentID = studentID
			if tasks, _, err = svc.tasks.QueryTasks(ctx, filter, nil, nil); err != nil {
				return errors.Wrap(err, "querying expired tasks")
			}
			if err = svc.deleteOpen(ctx, tasks); err != nil {
				return err
			}
			amount = task.Total(tasks)
			if !hasPool {
				svc.logger.Warn("subsidy.Sweep: expired tasks without pool", "student", studentID)
				return nil
			}

			p.release(amount)
			if generate {
				if regenerated, err = svc.generate(ctx, &p); err != nil {
					return err
				}
			}
			p.UpdatedAt = now
			_, err = svc.repo.UpdatePool(ctx, p)
			return err
		})
		if err != nil {
			svc.logger.Error("subsidy.Sweep", "student", studentID, "error", err)
			continue
		}
		res.ProcessedStudents++
		res.ExpiredTasks += len(tasks)
		res.RecycledAmount = res.RecycledAmount.Add(amount)
		res.RegeneratedTasks += regenerated
	}

	if res.ExpiredTasks > 0 {
		svc.logger.Info("subsidy.Sweep", "students", res.ProcessedStudents, "tasks", res.ExpiredTasks, "amount", res.RecycledAmount)
		svc.events.Publish(core.EventTasksExpired, res)
	}
	return res, nil
}

// deleteOpen removes tasks read as open. It fails, rolling the transaction back,
// when one of them was accepted or terminated in the meantime.
func (svc *Service) deleteOpen(ctx context.Context, tasks []task.Task) error {
	n, err := svc.tasks.DeleteOpenTasks(ctx, task.IDs(tasks)...)
	if err != nil {
		return errors.Wrap(err, "deleting open tasks")
	}
	if n != len(tasks) {
		return ErrTasksChanged
	}
	return nil
}

func (svc *Service) openTasks(ctx context.Context, studentID string) ([]task.Task, error) {
	tasks, _, err := svc.tasks.QueryTasks(ctx, task.QueryFilter{
		StudentID:   studentID,
		IsVirtual:   task.BoolPtr(true),
		IsBonusPool: task.BoolPtr(false),
		Statuses:    []task.Status{task.StatusOpen},
	}, nil, nil)
	return tasks, errors.Wrap(err, "querying open tasks")
}

// Reallocate replaces the open virtual tasks of a student with freshly split ones.
func (svc *Service) Reallocate(ctx context.Context, studentID string) (ReallocateResult, error) {
	res := ReallocateResult{StudentID: studentID}
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := svc.repo.GetPool(ctx, studentID)
		if err != nil {
			return err
		}
		open, err := svc.openTasks(ctx, studentID)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			if err = svc.deleteOpen(ctx, open); err != nil {
				return err
			}
			p.release(task.Total(open))
		}
		if !p.RemainingAmount.IsPositive() {
			return ErrNothingToAllocate
		}
		res.RecycledTasks = len(open)
		res.Amount = p.RemainingAmount
		if res.TasksGenerated, err = svc.generate(ctx, &p); err != nil {
			return err
		}
		p.UpdatedAt = nowFunc().UTC()
		_, err = svc.repo.UpdatePool(ctx, p)
		return err
	})
	return res, err
}

// CompleteTask confirms a submitted subsidy task and books its amount as completed.
// Confirming an already completed task is a no-op.
func (svc *Service) CompleteTask(ctx context.Context, id string) (task.Task, error) {
	var t task.Task
	var changed bool
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if t, err = svc.tasks.GetTask(ctx, id); err != nil {
			return err
		}
		if !t.IsVirtual || t.IsBonusPool {
			return ErrNotSubsidyTask
		}
		if t.Status == task.StatusCompleted {
			return nil
		}
		if t.Status != task.StatusSubmitted {
			return ErrInvalidStatus
		}

		now := nowFunc().UTC()
		t.Status = task.StatusCompleted
		t.CompletedAt = null.TimeFrom(now)
		t.UpdatedAt = now
		if t, err = svc.tasks.UpdateTask(ctx, t); err != nil {
			return errors.Wrap(err, "updating task")
		}

		p, err := svc.repo.GetPool(ctx, t.TargetStudentID.String)
		if err != nil {
			return errors.Wrap(err, "getting pool")
		}
		p.complete(t.Commission)
		p.UpdatedAt = now
		_, err = svc.repo.UpdatePool(ctx, p)
		changed = true
		return err
	})
	if err != nil {
		return task.Task{}, err
	}
	if changed {
		svc.events.Publish(core.EventTaskCompleted, t)
	}
	return t, nil
}

// TerminateTask ends an unfinished subsidy task and returns its amount to the pool.
func (svc *Service) TerminateTask(ctx context.Context, id, reason string) (task.Task, error) {
	var t task.Task
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if t, err = svc.tasks.GetTask(ctx, id); err != nil {
			return err
		}
		if !t.IsVirtual || t.IsBonusPool {
			return ErrNotSubsidyTask
		}
		if !t.HasStatus(task.ReassignableStatuses...) {
			return ErrInvalidStatus
		}
		now := nowFunc().UTC()
		t.Status = task.StatusTerminated
		t.Message = reason
		t.UpdatedAt = now
		if t, err = svc.tasks.UpdateTask(ctx, t); err != nil {
			return errors.Wrap(err, "updating task")
		}

		p, err := svc.repo.GetPool(ctx, t.TargetStudentID.String)
		if err != nil {
			if errors.Cause(err) == ErrPoolNotFound {
				return nil
			}
			return errors.Wrap(err, "getting pool")
		}
		p.release(t.Commission)
		p.UpdatedAt = now
		_, err = svc.repo.UpdatePool(ctx, p)
		return err
	})
	return t, err
}

// Sync rebuilds the completed and allocated amounts of every pool from its tasks.
func (svc *Service) Sync(ctx context.Context) (SyncResult, error) {
	res := SyncResult{TotalAmount: decimal.Zero}
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		pools, _, err := svc.repo.QueryPools(ctx, QueryFilter{}, nil)
		if err != nil {
			return errors.Wrap(err, "querying pools")
		}
		for _, p := range pools {
			tasks, _, err := svc.tasks.QueryTasks(ctx, task.QueryFilter{
				StudentID:   p.StudentID,
				IsVirtual:   task.BoolPtr(true),
				IsBonusPool: task.BoolPtr(false),
			}, nil, nil)
			if err != nil {
				return errors.Wrap(err, "querying tasks")
			}
			completed, allocated := decimal.Zero, decimal.Zero
			for _, t := range tasks {
				switch {
				case t.Status == task.StatusCompleted:
					completed = completed.Add(t.Commission)
					res.SyncedTasks++
				case t.HasStatus(task.LiveStatuses...):
					allocated = allocated.Add(t.Commission)
				}
			}
			res.TotalAmount = res.TotalAmount.Add(completed)
			if completed.Equal(p.CompletedAmount) && allocated.Equal(p.AllocatedAmount) {
				continue
			}
			p.CompletedAmount = completed
			p.AllocatedAmount = allocated
			p.RemainingAmount = core.NonNegative(p.TotalSubsidy.Sub(allocated).Sub(completed))
			p.refreshStatus()
			p.UpdatedAt = nowFunc().UTC()
			if _, err = svc.repo.UpdatePool(ctx, p); err != nil {
				return errors.Wrap(err, "updating pool")
			}
			res.AffectedStudents++
		}
		return nil
	})
	return res, err
}

// DeletePool drops the pool of a student along with their open virtual tasks.
func (svc *Service) DeletePool(ctx context.Context, studentID string) error {
	return svc.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := svc.repo.GetPool(ctx, studentID); err != nil {
			return err
		}
		open, err := svc.openTasks(ctx, studentID)
		if err != nil {
			return err
		}
		if err = svc.deleteOpen(ctx, open); err != nil {
			return err
		}
		return svc.repo.DeletePool(ctx, studentID)
	})
}

func (svc *Service) GetPool(ctx context.Context, studentID string) (Pool, error) {
	return svc.repo.GetPool(ctx, studentID)
}

func (svc *Service) Pools(ctx context.Context, filter QueryFilter, page core.Page) ([]Pool, int, error) {
	page = page.Normalize()
	return svc.repo.QueryPools(ctx, filter, &page)
}

func (svc *Service) Stats(ctx context.Context) (Stats, error) {
	totals, err := svc.repo.PoolTotals(ctx)
	if err != nil {
		return Stats{}, errors.Wrap(err, "pool totals")
	}
	virtual := task.QueryFilter{IsVirtual: task.BoolPtr(true), IsBonusPool: task.BoolPtr(false)}
	generated, err := svc.tasks.AggregateTasks(ctx, virtual)
	if err != nil {
		return Stats{}, errors.Wrap(err, "generated tasks")
	}
	virtual.Statuses = []task.Status{task.StatusCompleted}
	completed, err := svc.tasks.AggregateTasks(ctx, virtual)
	if err != nil {
		return Stats{}, errors.Wrap(err, "completed tasks")
	}

	st := Stats{
		TotalStudents:       totals.Students,
		TotalSubsidy:        totals.TotalSubsidy,
		TotalTasksGenerated: generated.Count,
		TotalTasksCompleted: completed.Count,
		CompletionRate:      decimal.Zero,
	}
	if generated.Count > 0 {
		st.CompletionRate = decimal.NewFromInt(int64(completed.Count)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(generated.Count))).
			Round(2)
	}
	return st, nil
}

// Income reports the completed subsidy tasks per student in [from, to).
func (svc *Service) Income(ctx context.Context, from, to time.Time, search string) (IncomeReport, error) {
	rep := IncomeReport{From: from, To: to, Students: []StudentIncome{}, TotalAmount: decimal.Zero}
	tasks, _, err := svc.tasks.QueryTasks(ctx, task.QueryFilter{
		IsVirtual:     task.BoolPtr(true),
		IsBonusPool:   task.BoolPtr(false),
		Statuses:      []task.Status{task.StatusCompleted},
		CompletedFrom: from,
		CompletedTo:   to,
	}, nil, nil)
	if err != nil {
		return rep, errors.Wrap(err, "querying completed tasks")
	}
	groups, students := groupByStudent(tasks)
	if len(students) == 0 {
		return rep, nil
	}

	pools, _, err := svc.repo.QueryPools(ctx, QueryFilter{StudentIDs: students}, nil)
	if err != nil {
		return rep, errors.Wrap(err, "querying pools")
	}
	byStudent := make(map[string]Pool, len(pools))
	for _, p := range pools {
		byStudent[p.StudentID] = p
	}

	search = strings.ToLower(core.CleanString(search))
	for _, id := range students {
		p := byStudent[id]
		if search != "" && !strings.Contains(strings.ToLower(p.StudentName), search) {
			continue
		}
		si := StudentIncome{
			StudentID:       id,
			StudentName:     p.StudentName,
			CompletedTasks:  len(groups[id]),
			IncomeAmount:    task.Total(groups[id]),
			TotalSubsidy:    p.TotalSubsidy,
			RemainingAmount: p.RemainingAmount,
		}
		rep.Students = append(rep.Students, si)
		rep.TotalTasks += si.CompletedTasks
		rep.TotalAmount = rep.TotalAmount.Add(si.IncomeAmount)
	}
	sort.SliceStable(rep.Students, func(i, j int) bool {
		return rep.Students[i].IncomeAmount.GreaterThan(rep.Students[j].IncomeAmount)
	})
	return rep, nil
}
