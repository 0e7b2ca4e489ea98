package bonus_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/taskpool/core/bonus"
	"github.com/trezcool/taskpool/core/settings"
	"github.com/trezcool/taskpool/core/task"
	"github.com/trezcool/taskpool/core/user"
	"github.com/trezcool/taskpool/tests"
)

type fixture struct {
	env       *testutil.Env
	alice     user.User // reached yesterday's target
	bob       user.User
	today     time.Time
	yesterday time.Time
}

// setup completes 60 for alice yesterday and leaves 15 of expired bonus tasks
// plus 10 of expired subsidy tasks behind.
func setup(t *testing.T) fixture {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	f := fixture{
		env:   env,
		alice: testutil.CreateStudent(t, env.Repos.Users, "Alice", "alice"),
		bob:   testutil.CreateStudent(t, env.Repos.Users, "Bob", "bob"),
		today: env.Svcs.Bonus.Today(),
	}
	f.yesterday = f.today.AddDate(0, 0, -1)
	early := f.yesterday.Add(30 * time.Minute)

	done := testutil.CreateTask(t, env.Repos.Tasks, f.alice.ID, testutil.Dec("60"), task.StatusCompleted, early, time.Hour)
	done.AcceptedBy = null.StringFrom(f.alice.ID)
	done.CompletedAt = null.TimeFrom(f.yesterday.Add(12 * time.Hour))
	_, err := env.Repos.Tasks.UpdateTask(ctx, done)
	require.NoError(t, err)

	testutil.CreateTask(t, env.Repos.Tasks, "", testutil.Dec("15"), task.StatusOpen, early, time.Hour)
	testutil.CreateTask(t, env.Repos.Tasks, f.bob.ID, testutil.Dec("10"), task.StatusOpen, early, time.Hour)

	_, err = env.Svcs.Settings.Set(ctx, settings.KeyRecycleTarget, settings.UpdateSetting{Value: settings.RecycleToBonusPool})
	require.NoError(t, err)
	return f
}

func (f fixture) bonusTasks(t *testing.T, statuses ...task.Status) []task.Task {
	t.Helper()
	tasks, _, err := f.env.Repos.Tasks.QueryTasks(context.Background(), task.QueryFilter{
		IsBonusPool:   task.BoolPtr(true),
		BonusPoolDate: null.TimeFrom(f.today),
		Statuses:      statuses,
	}, nil, nil)
	require.NoError(t, err)
	return tasks
}

func TestService_RunDaily(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	svc := f.env.Svcs.Bonus

	res, err := svc.RunDaily(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Qualified)
	require.NotNil(t, res.Pool)
	assert.True(t, res.Pool.CarryForwardAmount.Equal(testutil.Dec("15")))
	assert.True(t, res.Pool.NewExpiredAmount.Equal(testutil.Dec("10")))
	assert.True(t, res.Pool.TotalAmount.Equal(testutil.Dec("25")))
	assert.True(t, res.Generated.TotalAmount.Equal(testutil.Dec("25")))

	st, err := svc.Status(ctx, f.today)
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.True(t, st.Pool.GeneratedAmount.Add(st.Pool.RemainingAmount).Equal(st.Pool.TotalAmount))
	assert.True(t, st.Pool.RemainingAmount.IsZero())
	assert.True(t, task.Total(f.bonusTasks(t, task.StatusOpen)).Equal(testutil.Dec("25")))

	achieved, err := svc.Achievements(ctx, bonus.AchievementFilter{Date: f.yesterday})
	require.NoError(t, err)
	assert.Len(t, achieved, 2)

	ok, err := svc.HasAccess(ctx, f.alice.ID, f.today)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.HasAccess(ctx, f.bob.ID, f.today)
	require.NoError(t, err)
	assert.False(t, ok)

	// a second run does not collect nor generate twice
	res, err = svc.RunDaily(ctx)
	require.NoError(t, err)
	assert.True(t, res.Pool.TotalAmount.Equal(testutil.Dec("25")))
	assert.Equal(t, 0, res.Generated.TasksGenerated)
	assert.True(t, task.Total(f.bonusTasks(t)).Equal(testutil.Dec("25")))
}

func TestService_UpdateAchievements_countsCompletionDay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	complete := func(usr user.User, amount string, createdAt, completedAt time.Time) {
		tk := testutil.CreateTask(t, f.env.Repos.Tasks, usr.ID, testutil.Dec(amount), task.StatusCompleted, createdAt, time.Hour)
		tk.AcceptedBy = null.StringFrom(usr.ID)
		tk.CompletedAt = null.TimeFrom(completedAt)
		_, err := f.env.Repos.Tasks.UpdateTask(ctx, tk)
		require.NoError(t, err)
	}
	// created the day before, completed yesterday: counts for yesterday
	complete(f.bob, "50", f.yesterday.AddDate(0, 0, -1).Add(time.Hour), f.yesterday.Add(2*time.Hour))
	// created yesterday, completed today: does not
	complete(f.alice, "20", f.yesterday.Add(time.Hour), f.today.Add(time.Hour))

	n, err := f.env.Svcs.Bonus.UpdateAchievements(ctx, f.yesterday)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, tt := range []struct {
		usr  user.User
		want string
	}{{f.alice, "60"}, {f.bob, "50"}} {
		achieved, err := f.env.Svcs.Bonus.Achievements(ctx, bonus.AchievementFilter{Date: f.yesterday, StudentID: tt.usr.ID})
		require.NoError(t, err)
		require.Len(t, achieved, 1)
		assert.True(t, achieved[0].CompletedAmount.Equal(testutil.Dec(tt.want)), tt.usr.Username)
		assert.True(t, achieved[0].IsAchieved)
	}
}

func TestService_RunDaily_disabled(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.env.Svcs.Settings.Set(ctx, settings.KeyBonusPoolEnabled, settings.UpdateSetting{Value: "false"})
	require.NoError(t, err)

	res, err := f.env.Svcs.Bonus.RunDaily(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, f.bonusTasks(t))
}

func TestService_Generate_noQualifiedStudents(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	svc := env.Svcs.Bonus
	today := svc.Today()
	testutil.CreateTask(t, env.Repos.Tasks, "", testutil.Dec("15"), task.StatusOpen, today.AddDate(0, 0, -1), time.Hour)

	p, err := svc.OpenPool(ctx, today)
	require.NoError(t, err)
	assert.True(t, p.RemainingAmount.Equal(testutil.Dec("15")))

	_, err = svc.Generate(ctx, today)
	assert.Equal(t, bonus.ErrNoQualifiedStudents, errors.Cause(err))

	// the daily run tolerates it
	res, err := svc.RunDaily(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Generated.TasksGenerated)
}

func TestService_CompleteTask(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	svc := f.env.Svcs.Bonus
	_, err := svc.RunDaily(ctx)
	require.NoError(t, err)

	open := f.bonusTasks(t, task.StatusOpen)
	require.NotEmpty(t, open)
	tk := open[0]

	_, err = f.env.Svcs.Tasks.Accept(ctx, tk.ID, f.bob.ID)
	assert.Equal(t, task.ErrNoBonusAccess, errors.Cause(err))

	_, err = svc.CompleteTask(ctx, tk.ID)
	assert.Equal(t, bonus.ErrInvalidStatus, errors.Cause(err))

	_, err = f.env.Svcs.Tasks.Accept(ctx, tk.ID, f.alice.ID)
	require.NoError(t, err)
	_, err = f.env.Svcs.Tasks.Submit(ctx, tk.ID, f.alice.ID)
	require.NoError(t, err)

	res, err := svc.CompleteTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, res.Task.Status)
	assert.True(t, res.RebateRate.Equal(decimal.RequireFromString("0.6")))
	assert.True(t, res.StudentIncome.Equal(tk.Commission.Mul(res.RebateRate).Round(2)))
	assert.True(t, res.StudentIncome.Add(res.Leftover).Equal(tk.Commission))

	st, err := svc.Status(ctx, f.today)
	require.NoError(t, err)
	assert.True(t, st.Pool.CompletedAmount.Equal(tk.Commission))

	// the leftover is split into new bonus tasks
	if res.Leftover.IsPositive() {
		assert.Positive(t, res.Regenerated)
	}

	// the subsidy pool is not required
	_, err = f.env.Svcs.Subsidies.GetPool(ctx, f.alice.ID)
	assert.Error(t, err)

	notBonus := testutil.CreateTask(t, f.env.Repos.Tasks, f.alice.ID, testutil.Dec("5"), task.StatusSubmitted, time.Now(), time.Hour)
	_, err = svc.CompleteTask(ctx, notBonus.ID)
	assert.Equal(t, bonus.ErrNotBonusTask, errors.Cause(err))
	assert.Equal(t, http.StatusBadRequest, bonus.ErrNotBonusTask.Code)
}

func TestService_ProcessExpired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	svc := f.env.Svcs.Bonus
	_, err := svc.RunDaily(ctx)
	require.NoError(t, err)

	open := f.bonusTasks(t, task.StatusOpen)
	require.NotEmpty(t, open)
	expired := open[0]
	expired.EndDate = time.Now().UTC().Add(-time.Minute)
	_, err = f.env.Repos.Tasks.UpdateTask(ctx, expired)
	require.NoError(t, err)

	res, err := svc.ProcessExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExpiredTasks)
	assert.True(t, res.RecycledAmount.Equal(expired.Commission))
	assert.True(t, res.Generated.TotalAmount.Equal(expired.Commission))

	// the open amount is back to the whole pool
	assert.True(t, task.Total(f.bonusTasks(t, task.StatusOpen)).Equal(testutil.Dec("25")))
	st, err := svc.Status(ctx, f.today)
	require.NoError(t, err)
	assert.True(t, st.Pool.GeneratedAmount.Equal(testutil.Dec("25")))
	assert.True(t, st.Pool.RemainingAmount.IsZero())
}

func TestService_AutoConfirm(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	svc := f.env.Svcs.Bonus
	_, err := svc.RunDaily(ctx)
	require.NoError(t, err)

	open := f.bonusTasks(t, task.StatusOpen)
	require.NotEmpty(t, open)
	tk := open[0]
	tk.Status = task.StatusSubmitted
	tk.AcceptedBy = null.StringFrom(f.alice.ID)
	tk.SubmittedAt = null.TimeFrom(time.Now().UTC().Add(-2 * time.Hour))
	_, err = f.env.Repos.Tasks.UpdateTask(ctx, tk)
	require.NoError(t, err)

	res, err := svc.AutoConfirm(ctx)
	require.NoError(t, err)
	assert.True(t, res.Enabled)
	assert.Equal(t, 1, res.ConfirmedCount)
	assert.Equal(t, 0, res.FailedCount)

	got, err := f.env.Svcs.Tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
}

func TestService_AutoConfirm_morePagesThanOne(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	alice := testutil.CreateStudent(t, env.Repos.Users, "Alice", "alice")
	_, err := env.Svcs.Settings.Set(ctx, settings.KeyBonusAutoConfirm, settings.UpdateSetting{
		Value: `{"enabled":true,"interval_hours":1,"max_batch_size":150}`,
	})
	require.NoError(t, err)

	created := time.Now().UTC().Add(-3 * time.Hour)
	for i := 0; i < 160; i++ {
		tk := testutil.CreateTask(t, env.Repos.Tasks, "", testutil.Dec("1"), task.StatusSubmitted, created, 24*time.Hour)
		tk.AcceptedBy = null.StringFrom(alice.ID)
		tk.SubmittedAt = null.TimeFrom(created.Add(time.Duration(i) * time.Second))
		_, err = env.Repos.Tasks.UpdateTask(ctx, tk)
		require.NoError(t, err, fmt.Sprint(i))
	}

	res, err := env.Svcs.Bonus.AutoConfirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 150, res.ConfirmedCount)
	assert.Equal(t, 0, res.FailedCount)

	left, _, err := env.Repos.Tasks.QueryTasks(ctx, task.QueryFilter{
		IsBonusPool: task.BoolPtr(true),
		Statuses:    []task.Status{task.StatusSubmitted},
	}, nil, nil)
	require.NoError(t, err)
	assert.Len(t, left, 10)
}
