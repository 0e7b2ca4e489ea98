package support_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/subsidy"
	"github.com/trezcool/taskpool/core/support"
	"github.com/trezcool/taskpool/core/task"
	"github.com/trezcool/taskpool/core/user"
	"github.com/trezcool/taskpool/tests"
)

func TestService_BatchCreate(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	svc := env.Svcs.Support
	testutil.CreateUser(t, env.Repos.Users, "Taken", "taken", "taken@test.cd", "", nil, true)

	res := svc.BatchCreate(ctx, []support.NewVirtualAgent{
		{Name: "Alice CS", Account: "Alice_CS"},
		{Name: "Dup", Account: "alice_cs"},
		{Name: "", Account: "noname"},
		{Name: "Taken", Account: "taken"},
		{Name: "Bob CS", Account: "bob_cs", Password: "s3cret!"},
	})
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 3, res.ErrorCount)
	assert.Equal(t, []core.RowError{
		{Row: 2, Message: "account: account already exists"},
		{Row: 3, Message: "name: required"},
		{Row: 4, Message: "account: account already exists"},
	}, res.Errors)

	// every agent logs in as a support user
	usr, err := env.Svcs.Users.GetByUsername(ctx, "alice_cs")
	require.NoError(t, err)
	assert.True(t, usr.IsSupport())
	assert.NoError(t, usr.CheckPassword(user.DefaultPassword))
	usr, err = env.Svcs.Users.GetByUsername(ctx, "bob_cs")
	require.NoError(t, err)
	assert.NoError(t, usr.CheckPassword("s3cret!"))

	list, total, err := svc.List(ctx, support.QueryFilter{}, core.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, list, 2)
}

func TestService_allocationAndDelete(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	svc := env.Svcs.Support

	alice, err := svc.Create(ctx, support.NewVirtualAgent{Name: "Alice CS", Account: "alice_cs"})
	require.NoError(t, err)
	bob, err := svc.Create(ctx, support.NewVirtualAgent{Name: "Bob CS", Account: "bob_cs"})
	require.NoError(t, err)
	paused, err := svc.Create(ctx, support.NewVirtualAgent{Name: "Paused CS", Account: "paused_cs"})
	require.NoError(t, err)
	_, err = svc.Update(ctx, paused.ID, support.UpdateVirtualAgent{Status: support.StatusInactive})
	require.NoError(t, err)

	student := testutil.CreateStudent(t, env.Repos.Users, "Student", "student")
	res, err := env.Svcs.Subsidies.Import(ctx, []subsidy.Entry{{StudentName: "Student", Amount: testutil.Dec("200")}})
	require.NoError(t, err)
	require.True(t, res.TasksGenerated >= 2)

	byFounder := func() map[string]int {
		tasks, _, err := env.Repos.Tasks.QueryTasks(ctx, task.QueryFilter{StudentID: student.ID}, nil, nil)
		require.NoError(t, err)
		counts := make(map[string]int)
		for _, tk := range tasks {
			counts[tk.FounderID.String]++
		}
		return counts
	}

	counts := byFounder()
	assert.Zero(t, counts[paused.ID])
	assert.Equal(t, res.TasksGenerated, counts[alice.ID]+counts[bob.ID])
	diff := counts[alice.ID] - counts[bob.ID]
	assert.True(t, diff >= -1 && diff <= 1, "unbalanced: %v", counts)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	if assert.Len(t, stats, 2) {
		assert.True(t, stats[0].IsNew)
		assert.Equal(t, res.TasksGenerated, stats[0].OpenTasks+stats[1].OpenTasks)
		assert.True(t, stats[0].Priority <= stats[1].Priority)
	}

	aliceTasks := counts[alice.ID]
	reassigned, err := svc.Delete(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, aliceTasks, reassigned)
	counts = byFounder()
	assert.Equal(t, res.TasksGenerated, counts[bob.ID])

	_, err = svc.Get(ctx, alice.ID)
	assert.Equal(t, support.ErrNotFound, errors.Cause(err))
	usr, err := env.Svcs.Users.GetByUsername(ctx, "alice_cs")
	require.NoError(t, err)
	assert.False(t, usr.Active())

	_, err = svc.Delete(ctx, alice.ID)
	assert.True(t, core.IsNotFound(err))
}
