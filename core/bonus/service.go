package bonus

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/agent"
	"github.com/trezcool/taskpool/core/settings"
	"github.com/trezcool/taskpool/core/subsidy"
	"github.com/trezcool/taskpool/core/task"
	"github.com/trezcool/taskpool/core/user"
)

const expiredMessage = "expired, amount moved to the bonus pool"

var (
	// errors
	ErrPoolNotFound        error = core.NotFoundError{Resource: "bonus pool"}
	ErrAchievementNotFound error = core.NotFoundError{Resource: "achievement"}
	ErrNoQualifiedStudents       = core.NewConflictError("no student reached yesterday's target")
	ErrNotBonusTask              = core.NewBusinessError(http.StatusBadRequest, "not a bonus pool task")
	ErrInvalidStatus             = core.NewConflictError("task status does not allow this operation")

	nowFunc = time.Now // mockable
)

type Repository interface {
	GetAchievement(ctx context.Context, studentID string, date time.Time) (Achievement, error)
	SaveAchievement(ctx context.Context, a Achievement) (Achievement, error)
	QueryAchievements(ctx context.Context, filter AchievementFilter) ([]Achievement, error)
	GetPool(ctx context.Context, date time.Time) (Pool, error)
	SavePool(ctx context.Context, p Pool) (Pool, error)
}

type Service struct {
	tx        core.Transactor
	repo      Repository
	tasks     task.Repository
	subsidies subsidy.Repository
	users     *user.Service
	agents    *agent.Service
	settings  *settings.Service
	factory   *task.Factory
	events    core.EventPublisher
	logger    core.Logger
	loc       *time.Location
}

func NewService(
	tx core.Transactor,
	repo Repository,
	tasks task.Repository,
	subsidies subsidy.Repository,
	users *user.Service,
	agents *agent.Service,
	settingsSvc *settings.Service,
	factory *task.Factory,
	events core.EventPublisher,
	logger core.Logger,
	loc *time.Location,
) *Service {
	return &Service{
		tx:        tx,
		repo:      repo,
		tasks:     tasks,
		subsidies: subsidies,
		users:     users,
		agents:    agents,
		settings:  settingsSvc,
		factory:   factory,
		events:    events,
		logger:    logger,
		loc:       loc,
	}
}

// Today returns the current date in the service time zone.
func (svc *Service) Today() time.Time {
	return core.DateOf(nowFunc(), svc.loc)
}

// UpdateAchievements records, for every active student, the amount of their
// subsidy tasks completed on date and whether it reached the daily target.
// It returns the number of students who reached it.
func (svc *Service) UpdateAchievements(ctx context.Context, date time.Time) (int, error) {
	students, err := svc.users.Students(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "listing students")
	}
	target := svc.settings.DailyTarget(ctx)
	from, to := core.DayRange(date, svc.loc)
	now := nowFunc().UTC()

	var achieved int
	for _, st := range students {
		agg, err := svc.tasks.AggregateTasks(ctx, task.QueryFilter{
			StudentID:     st.ID,
			IsVirtual:     task.BoolPtr(true),
			Statuses:      []task.Status{task.StatusCompleted},
			CompletedFrom: from,
			CompletedTo:   to,
		})
		if err != nil {
			return achieved, errors.Wrap(err, "summing completed tasks")
		}

		a, err := svc.repo.GetAchievement(ctx, st.ID, date)
		if err != nil {
			if errors.Cause(err) != ErrAchievementNotFound {
				return achieved, errors.Wrap(err, "getting achievement")
			}
			a = Achievement{ID: uuid.New().String(), StudentID: st.ID, Date: date, CreatedAt: now}
		}
		a.StudentName = st.Name
		a.DailyTarget = target
		a.CompletedAmount = agg.Amount
		a.IsAchieved = agg.Amount.GreaterThanOrEqual(target)
		a.UpdatedAt = now
		if _, err = svc.repo.SaveAchievement(ctx, a); err != nil {
			return achieved, errors.Wrap(err, "saving achievement")
		}
		if a.IsAchieved {
			achieved++
		}
	}
	return achieved, nil
}

// HasAccess reports whether the student reached the target the day before day.
func (svc *Service) HasAccess(ctx context.Context, studentID string, day time.Time) (bool, error) {
	yesterday := core.DateOf(day, svc.loc).AddDate(0, 0, -1)
	a, err := svc.repo.GetAchievement(ctx, studentID, yesterday)
	if err != nil {
		if errors.Cause(err) == ErrAchievementNotFound {
			return false, nil
		}
		return false, err
	}
	return a.IsAchieved, nil
}

func (svc *Service) Achievements(ctx context.Context, filter AchievementFilter) ([]Achievement, error) {
	return svc.repo.QueryAchievements(ctx, filter)
}

func (svc *Service) qualified(ctx context.Context, date time.Time) (int, error) {
	achieved, err := svc.repo.QueryAchievements(ctx, AchievementFilter{Date: date.AddDate(0, 0, -1), Achieved: task.BoolPtr(true)})
	return len(achieved), err
}

// CollectExpired terminates the expired open tasks of date: subsidy tasks created
// that day (when expired amounts go to the bonus pool) and the bonus tasks of that day.
func (svc *Service) CollectExpired(ctx context.Context, date time.Time) (Collected, error) {
	res := Collected{Date: date, NormalAmount: decimal.Zero, BonusAmount: decimal.Zero}
	now := nowFunc().UTC()
	open := []task.Status{task.StatusOpen}

	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		var normal []task.Task
		if svc.settings.RecycleTarget(ctx) == settings.RecycleToBonusPool {
			from, to := core.DayRange(date, svc.loc)
			var err error
			normal, _, err = svc.tasks.QueryTasks(ctx, task.QueryFilter{
				IsVirtual:   task.BoolPtr(true),
				IsBonusPool: task.BoolPtr(false),
				Statuses:    open,
				CreatedFrom: from,
				CreatedTo:   to,
				EndBefore:   now,
			}, nil, nil)
			if err != nil {
				return errors.Wrap(err, "querying expired tasks")
			}
		}
		bonus, _, err := svc.tasks.QueryTasks(ctx, task.QueryFilter{
			IsBonusPool:   task.BoolPtr(true),
			BonusPoolDate: null.TimeFrom(date),
			Statuses:      open,
			EndBefore:     now,
		}, nil, nil)
		if err != nil {
			return errors.Wrap(err, "querying expired bonus tasks")
		}

		for _, t := range append(normal, bonus...) {
			t.Status = task.StatusTerminated
			t.Message = expiredMessage
			t.UpdatedAt = now
			if _, err = svc.tasks.UpdateTask(ctx, t); err != nil {
				return errors.Wrap(err, "terminating task")
			}
		}
		if err = svc.moveOut(ctx, normal); err != nil {
			return err
		}

		res.NormalTasks, res.NormalAmount = len(normal), task.Total(normal)
		res.BonusTasks, res.BonusAmount = len(bonus), task.Total(bonus)
		return nil
	})
	return res, err
}

// moveOut takes the amounts of expired subsidy tasks out of their student pools.
func (svc *Service) moveOut(ctx context.Context, tasks []task.Task) error {
	amounts := make(map[string]decimal.Decimal)
	for _, t := range tasks {
		amounts[t.TargetStudentID.String] = amounts[t.TargetStudentID.String].Add(t.Commission)
	}
	for studentID, amount := range amounts {
		p, err := svc.subsidies.GetPool(ctx, studentID)
		if err != nil {
			if errors.Cause(err) == subsidy.ErrPoolNotFound {
				continue
			}
			return errors.Wrap(err, "getting subsidy pool")
		}
		p.TotalSubsidy = core.NonNegative(p.TotalSubsidy.Sub(amount))
		p.AllocatedAmount = core.NonNegative(p.AllocatedAmount.Sub(amount))
		p.UpdatedAt = nowFunc().UTC()
		if _, err = svc.subsidies.UpdatePool(ctx, p); err != nil {
			return errors.Wrap(err, "updating subsidy pool")
		}
	}
	return nil
}

// OpenPool collects the expired tasks of the day before date into the pool of date.
func (svc *Service) OpenPool(ctx context.Context, date time.Time) (Pool, error) {
	var p Pool
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		col, err := svc.CollectExpired(ctx, date.AddDate(0, 0, -1))
		if err != nil {
			return err
		}
		now := nowFunc().UTC()
		p, err = svc.repo.GetPool(ctx, date)
		if err != nil {
			if errors.Cause(err) != ErrPoolNotFound {
				return errors.Wrap(err, "getting pool")
			}
			p = Pool{ID: uuid.New().String(), Date: date, CreatedAt: now}
		}
		p.NewExpiredAmount = p.NewExpiredAmount.Add(col.NormalAmount)
		p.CarryForwardAmount = p.CarryForwardAmount.Add(col.BonusAmount)
		p.TotalAmount = p.NewExpiredAmount.Add(p.CarryForwardAmount)
		p.RemainingAmount = core.NonNegative(p.TotalAmount.Sub(p.GeneratedAmount))
		p.UpdatedAt = now
		p, err = svc.repo.SavePool(ctx, p)
		return err
	})
	return p, err
}

// Generate splits the remaining amount of the pool of date into bonus tasks.
func (svc *Service) Generate(ctx context.Context, date time.Time) (GenerateResult, error) {
	res := GenerateResult{Date: date, TotalAmount: decimal.Zero}
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := svc.repo.GetPool(ctx, date)
		if err != nil {
			return err
		}
		if !p.RemainingAmount.IsPositive() {
			return nil
		}
		qualified, err := svc.qualified(ctx, date)
		if err != nil {
			return errors.Wrap(err, "counting qualified students")
		}
		if qualified == 0 {
			return ErrNoQualifiedStudents
		}

		tasks, err := svc.factory.Build(ctx, task.BatchRequest{
			Amount:        p.RemainingAmount,
			Bonus:         true,
			BonusPoolDate: date,
			Expiry:        svc.settings.TaskExpiry(ctx),
		})
		if err != nil {
			return errors.Wrap(err, "building tasks")
		}
		if err = svc.tasks.CreateTasks(ctx, tasks...); err != nil {
			return errors.Wrap(err, "creating tasks")
		}
		res.TasksGenerated = len(tasks)
		res.TotalAmount = task.Total(tasks)
		p.GeneratedAmount = p.GeneratedAmount.Add(res.TotalAmount)
		p.RemainingAmount = decimal.Zero
		p.UpdatedAt = nowFunc().UTC()
		_, err = svc.repo.SavePool(ctx, p)
		return err
	})
	if err == nil && res.TasksGenerated > 0 {
		svc.events.Publish(core.EventBonusGenerated, res)
	}
	return res, err
}

// RunDaily records yesterday's achievements then opens and fills today's pool.
func (svc *Service) RunDaily(ctx context.Context) (DailyResult, error) {
	today := svc.Today()
	res := DailyResult{Date: today}
	if !svc.settings.BonusPoolEnabled(ctx) {
		res.Skipped = true
		return res, nil
	}

	var err error
	if res.Qualified, err = svc.UpdateAchievements(ctx, today.AddDate(0, 0, -1)); err != nil {
		return res, errors.Wrap(err, "updating achievements")
	}
	p, err := svc.OpenPool(ctx, today)
	if err != nil {
		return res, errors.Wrap(err, "opening pool")
	}
	res.Pool = &p
	res.Generated, err = svc.Generate(ctx, today)
	if err != nil && errors.Cause(err) != ErrNoQualifiedStudents {
		return res, errors.Wrap(err, "generating tasks")
	}
	if errors.Cause(err) == ErrNoQualifiedStudents {
		svc.logger.Info("bonus.RunDaily: no qualified students", "date", today.Format("2006-01-02"))
	}
	return res, nil
}

// ProcessExpired recycles today's expired bonus tasks into today's pool and regenerates.
func (svc *Service) ProcessExpired(ctx context.Context) (ExpiredResult, error) {
	today := svc.Today()
	res := ExpiredResult{RecycledAmount: decimal.Zero}
	if !svc.settings.BonusPoolEnabled(ctx) {
		return res, nil
	}
	now := nowFunc().UTC()

	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := svc.repo.GetPool(ctx, today)
		if err != nil {
			return err
		}
		expired, _, err := svc.tasks.QueryTasks(ctx, task.QueryFilter{
			IsBonusPool:   task.BoolPtr(true),
			BonusPoolDate: null.TimeFrom(today),
			Statuses:      []task.Status{task.StatusOpen},
			EndBefore:     now,
		}, nil, nil)
		if err != nil {
			return errors.Wrap(err, "querying expired bonus tasks")
		}
		if len(expired) == 0 {
			return nil
		}
		for _, t := range expired {
			t.Status = task.StatusTerminated
			t.Message = expiredMessage
			t.UpdatedAt = now
			if _, err = svc.tasks.UpdateTask(ctx, t); err != nil {
				return errors.Wrap(err, "terminating task")
			}
		}
		res.ExpiredTasks = len(expired)
		res.RecycledAmount = task.Total(expired)
		p.GeneratedAmount = core.NonNegative(p.GeneratedAmount.Sub(res.RecycledAmount))
		p.RemainingAmount = p.RemainingAmount.Add(res.RecycledAmount)
		p.UpdatedAt = now
		_, err = svc.repo.SavePool(ctx, p)
		return err
	})
	if err != nil {
		if errors.Cause(err) == ErrPoolNotFound {
			return res, nil
		}
		return res, err
	}
	if res.ExpiredTasks == 0 {
		return res, nil
	}

	res.Generated, err = svc.Generate(ctx, today)
	if err != nil && errors.Cause(err) != ErrNoQualifiedStudents {
		return res, errors.Wrap(err, "regenerating tasks")
	}
	return res, nil
}

// CompleteTask confirms a bonus task. The student earns commission x rebate rate;
// when the task is from today, the leftover goes back to today's pool as new tasks.
func (svc *Service) CompleteTask(ctx context.Context, id string) (CompleteResult, error) {
	var res CompleteResult
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		t, err := svc.tasks.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if !t.IsBonusPool {
			return ErrNotBonusTask
		}
		if !t.HasStatus(task.StatusAccepted, task.StatusInProgress, task.StatusSubmitted) || !t.AcceptedBy.Valid {
			return ErrInvalidStatus
		}

		now := nowFunc().UTC()
		t.Status = task.StatusCompleted
		t.CompletedAt = null.TimeFrom(now)
		t.UpdatedAt = now
		if t, err = svc.tasks.UpdateTask(ctx, t); err != nil {
			return errors.Wrap(err, "updating task")
		}
		res.Task = t

		studentID := t.AcceptedBy.String
		student, err := svc.users.GetByID(ctx, studentID)
		if err != nil {
			return errors.Wrap(err, "getting student")
		}
		if res.RebateRate, err = svc.agents.RebateRate(ctx, student.AgentID); err != nil {
			return err
		}
		res.StudentIncome = core.Money(t.Commission.Mul(res.RebateRate))
		res.Leftover = core.NonNegative(t.Commission.Sub(res.StudentIncome))

		sp, err := svc.subsidies.GetPool(ctx, studentID)
		switch {
		case err == nil:
			sp.BonusCompletedAmount = sp.BonusCompletedAmount.Add(t.Commission)
			sp.BonusIncome = sp.BonusIncome.Add(res.StudentIncome)
			sp.UpdatedAt = now
			if _, err = svc.subsidies.UpdatePool(ctx, sp); err != nil {
				return errors.Wrap(err, "updating subsidy pool")
			}
		case errors.Cause(err) != subsidy.ErrPoolNotFound:
			return errors.Wrap(err, "getting subsidy pool")
		}

		if !t.BonusPoolDate.Valid {
			return nil
		}
		p, err := svc.repo.GetPool(ctx, t.BonusPoolDate.Time)
		if err != nil {
			if errors.Cause(err) == ErrPoolNotFound {
				return nil
			}
			return errors.Wrap(err, "getting bonus pool")
		}
		p.CompletedAmount = p.CompletedAmount.Add(t.Commission)
		today := svc.Today()
		if core.DateOf(t.CreatedAt, svc.loc).Equal(today) && p.Date.Equal(today) && res.Leftover.IsPositive() {
			p.RemainingAmount = p.RemainingAmount.Add(res.Leftover)
		} else {
			res.Leftover = decimal.Zero
		}
		p.UpdatedAt = now
		_, err = svc.repo.SavePool(ctx, p)
		return err
	})
	if err != nil {
		return res, err
	}

	svc.events.Publish(core.EventTaskCompleted, res.Task)
	if res.Leftover.IsPositive() {
		gen, err := svc.Generate(ctx, res.Task.BonusPoolDate.Time)
		if err != nil && errors.Cause(err) != ErrNoQualifiedStudents {
			svc.logger.Error("bonus.CompleteTask: regenerating leftover", "task", id, "error", err)
		}
		res.Regenerated = gen.TasksGenerated
	}
	return res, nil
}

// TerminateTask ends an unfinished bonus task and puts its amount back in its pool.
func (svc *Service) TerminateTask(ctx context.Context, id, reason string) (task.Task, error) {
	var t task.Task
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if t, err = svc.tasks.GetTask(ctx, id); err != nil {
			return err
		}
		if !t.IsBonusPool {
			return ErrNotBonusTask
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
		p, err := svc.repo.GetPool(ctx, t.BonusPoolDate.Time)
		if err != nil {
			if errors.Cause(err) == ErrPoolNotFound {
				return nil
			}
			return errors.Wrap(err, "getting bonus pool")
		}
		p.GeneratedAmount = core.NonNegative(p.GeneratedAmount.Sub(t.Commission))
		p.RemainingAmount = p.RemainingAmount.Add(t.Commission)
		p.UpdatedAt = now
		_, err = svc.repo.SavePool(ctx, p)
		return err
	})
	return t, err
}

// AutoConfirm completes the bonus tasks submitted more than interval_hours ago.
func (svc *Service) AutoConfirm(ctx context.Context) (AutoConfirmResult, error) {
	conf := svc.settings.AutoConfirm(ctx)
	res := AutoConfirmResult{Enabled: conf.Enabled, Failed: []ConfirmFailure{}}
	if !conf.Enabled {
		return res, nil
	}

	cutoff := nowFunc().UTC().Add(-time.Duration(conf.IntervalHours) * time.Hour)
	submitted, err := svc.submittedBefore(ctx, cutoff, conf.MaxBatchSize)
	if err != nil {
		return res, err
	}

	for _, t := range submitted {
		if _, err := svc.CompleteTask(ctx, t.ID); err != nil {
			res.FailedCount++
			res.Failed = append(res.Failed, ConfirmFailure{TaskID: t.ID, Error: err.Error()})
			svc.logger.Error("bonus.AutoConfirm", "task", t.ID, "error", err)
			continue
		}
		res.ConfirmedCount++
	}
	return res, nil
}

// submittedBefore reads up to limit bonus tasks submitted before cutoff, oldest first.
// All pages are read before any task is confirmed so the offsets stay valid.
func (svc *Service) submittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]task.Task, error) {
	filter := task.QueryFilter{
		IsBonusPool:     task.BoolPtr(true),
		Statuses:        []task.Status{task.StatusSubmitted},
		SubmittedBefore: cutoff,
	}
	ordering := []core.DBOrdering{{Field: "submitted_at", Ascending: true}}

	var submitted []task.Task
	for page := (core.Page{Page: 1, Size: core.MaxPageSize}); len(submitted) < limit; page.Page++ {
		tasks, total, err := svc.tasks.QueryTasks(ctx, filter, ordering, &page)
		if err != nil {
			return nil, errors.Wrap(err, "querying submitted bonus tasks")
		}
		submitted = append(submitted, tasks...)
		if len(tasks) == 0 || page.Offset()+len(tasks) >= total {
			break
		}
	}
	if len(submitted) > limit {
		submitted = submitted[:limit]
	}
	return submitted, nil
}

// Status summarises the pool of date.
func (svc *Service) Status(ctx context.Context, date time.Time) (Status, error) {
	st := Status{Date: date}
	p, err := svc.repo.GetPool(ctx, date)
	switch {
	case err == nil:
		st.Exists = true
		st.Pool = p
	case errors.Cause(err) == ErrPoolNotFound:
		st.Pool = Pool{Date: date}
	default:
		return st, err
	}

	tasks, _, err := svc.tasks.QueryTasks(ctx, task.QueryFilter{
		IsBonusPool:   task.BoolPtr(true),
		BonusPoolDate: null.TimeFrom(date),
	}, nil, nil)
	if err != nil {
		return st, errors.Wrap(err, "querying bonus tasks")
	}
	for _, t := range tasks {
		st.Tasks.Total++
		switch t.Status {
		case task.StatusOpen:
			st.Tasks.Pending++
		case task.StatusAccepted, task.StatusInProgress, task.StatusSubmitted:
			st.Tasks.Accepted++
		case task.StatusCompleted:
			st.Tasks.Completed++
		}
	}
	if st.QualifiedStudents, err = svc.qualified(ctx, date); err != nil {
		return st, errors.Wrap(err, "counting qualified students")
	}
	return st, nil
}
