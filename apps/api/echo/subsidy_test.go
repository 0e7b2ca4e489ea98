package echoapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/bonus"
	"github.com/trezcool/taskpool/core/subsidy"
	"github.com/trezcool/taskpool/core/task"
	"github.com/trezcool/taskpool/core/user"
	"github.com/trezcool/taskpool/tests"
)

func Test_subsidyApi_import(t *testing.T) {
	srv, env := newTestServer(t)
	ctx := context.Background()
	usrRepo := env.Repos.Users

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	alice := testutil.CreateStudent(t, usrRepo, "Alice", "alice")
	testutil.CreateStudent(t, usrRepo, "Twin", "twin1")
	testutil.CreateStudent(t, usrRepo, "Twin", "twin2")
	adminToken := getToken(t, srv, admin)

	runHTTPTests(t, srv, []httpTest{
		{name: "auth required", method: http.MethodPost, path: "/api/subsidies/import", wantCode: http.StatusUnauthorized},
		{
			name: "admin required", method: http.MethodPost, path: "/api/subsidies/import",
			token: getToken(t, srv, alice), wantCode: http.StatusForbidden,
		},
		{
			name: "no entries", method: http.MethodPost, path: "/api/subsidies/import", token: adminToken,
			body: []byte(`{"entries": []}`), wantCode: http.StatusBadRequest,
		},
	})

	body := []byte(`{"entries": [
		{"student_name": "Alice", "amount": "100"},
		{"student_name": "Bob", "amount": "10"},
		{"student_name": "Twin", "amount": "10"},
		{"student_name": "", "amount": "10"}
	]}`)
	req, rec := newAuthRequest(http.MethodPost, "/api/subsidies/import", adminToken, body)
	srv.ServeHTTP(rec, req)
	if !assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String()) {
		return
	}
	var res subsidy.ImportResult
	decode(t, rec, &res)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 3, res.ErrorCount)
	assert.Equal(t, 1, res.PoolsCreated)
	assert.Positive(t, res.TasksGenerated)
	assert.Regexp(t, `^BATCH_\d{8}_\d{6}_[0-9a-f]{8}$`, res.ImportBatch)
	if assert.Len(t, res.Errors, 3) {
		assert.Equal(t, 2, res.Errors[0].Row)
		assert.Equal(t, "student not found: Bob", res.Errors[0].Message)
		assert.Equal(t, "ambiguous student name: Twin", res.Errors[1].Message)
	}

	// the whole amount is allocated to open tasks
	p, err := env.Svcs.Subsidies.GetPool(ctx, alice.ID)
	if assert.NoError(t, err) {
		assert.True(t, p.Balanced())
		assert.True(t, p.TotalSubsidy.Equal(decimal.NewFromInt(100)))
		assert.True(t, p.AllocatedAmount.Equal(p.TotalSubsidy))
		assert.True(t, p.RemainingAmount.IsZero())
	}
	tasks, _, err := env.Svcs.Tasks.Query(ctx, task.QueryFilter{StudentID: alice.ID}, core.Page{Page: 1, Size: core.MaxPageSize})
	if assert.NoError(t, err) {
		assert.Len(t, tasks, res.TasksGenerated)
		assert.True(t, task.Total(tasks).Equal(decimal.NewFromInt(100)))
	}

	runHTTPTests(t, srv, []httpTest{
		{name: "pools", path: "/api/subsidies/pools", token: adminToken},
		{name: "pools: page 0", path: "/api/subsidies/pools?page=0", token: adminToken, wantCode: http.StatusBadRequest},
		{name: "pools: size too big", path: "/api/subsidies/pools?size=101", token: adminToken, wantCode: http.StatusBadRequest},
		{name: "stats", path: "/api/subsidies/stats", token: adminToken},
		{name: "income", path: "/api/subsidies/income?from=2020-01-01", token: adminToken},
		{name: "income: bad date", path: "/api/subsidies/income?from=lol", token: adminToken, wantCode: http.StatusBadRequest},
		{name: "income: to before from", path: "/api/subsidies/income?from=2020-01-02&to=2020-01-01", token: adminToken, wantCode: http.StatusBadRequest},
		{name: "reallocate: unknown pool", method: http.MethodPost, path: "/api/subsidies/pools/nope/reallocate", token: adminToken, wantCode: http.StatusNotFound},
		{name: "reallocate", method: http.MethodPost, path: "/api/subsidies/pools/" + alice.ID + "/reallocate", token: adminToken},
		{name: "sync", method: http.MethodPost, path: "/api/subsidies/sync", token: adminToken},
		{name: "delete pool", method: http.MethodDelete, path: "/api/subsidies/pools/" + alice.ID, token: adminToken, wantCode: http.StatusNoContent},
		{name: "delete pool: gone", method: http.MethodDelete, path: "/api/subsidies/pools/" + alice.ID, token: adminToken, wantCode: http.StatusNotFound},
	})

	var page pageResponse
	req, rec = newAuthRequest(http.MethodGet, "/api/subsidies/pools?page=1&size=5", adminToken)
	srv.ServeHTTP(rec, req)
	decode(t, rec, &page)
	assert.Equal(t, 0, page.Total)
	assert.Equal(t, 5, page.Size)
}

func Test_taskApi_lifecycle(t *testing.T) {
	srv, env := newTestServer(t)
	ctx := context.Background()
	usrRepo := env.Repos.Users

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	alice := testutil.CreateStudent(t, usrRepo, "Alice", "alice")
	bob := testutil.CreateStudent(t, usrRepo, "Bob", "bob")
	adminToken := getToken(t, srv, admin)
	aliceToken := getToken(t, srv, alice)
	bobToken := getToken(t, srv, bob)

	if _, err := env.Svcs.Subsidies.Import(ctx, []subsidy.Entry{{StudentName: "Alice", Amount: decimal.NewFromInt(30)}}); err != nil {
		t.Fatalf("Import(): %v", err)
	}

	req, rec := newAuthRequest(http.MethodGet, "/api/tasks", aliceToken)
	srv.ServeHTTP(rec, req)
	var mine task.StudentTasks
	decode(t, rec, &mine)
	if !assert.NotEmpty(t, mine.Tasks) {
		return
	}
	assert.NotNil(t, mine.BonusTasks)
	tk := mine.Tasks[0]
	other := mine.Tasks[len(mine.Tasks)-1]
	base := "/api/tasks/" + tk.ID

	runHTTPTests(t, srv, []httpTest{
		{name: "admin list", path: "/api/tasks?status=0&ordering=-created_at", token: adminToken},
		{name: "admin list: bad status", path: "/api/tasks?status=9", token: adminToken, wantCode: http.StatusBadRequest},
		{name: "other student: hidden", path: base, token: bobToken, wantCode: http.StatusNotFound},
		{name: "owner: visible", path: base, token: aliceToken},
		{name: "accept: admin cannot", method: http.MethodPost, path: base + "/accept", token: adminToken, wantCode: http.StatusForbidden},
		{name: "accept: not yours", method: http.MethodPost, path: base + "/accept", token: bobToken, wantCode: http.StatusForbidden},
		{name: "confirm: not submitted", method: http.MethodPost, path: base + "/confirm", token: adminToken, wantCode: http.StatusConflict},
		{name: "accept", method: http.MethodPost, path: base + "/accept", token: aliceToken},
		{name: "accept: twice", method: http.MethodPost, path: base + "/accept", token: aliceToken, wantCode: http.StatusConflict},
		{name: "start", method: http.MethodPost, path: base + "/start", token: aliceToken},
		{name: "submit", method: http.MethodPost, path: base + "/submit", token: aliceToken},
		{name: "confirm", method: http.MethodPost, path: base + "/confirm", token: adminToken},
		{name: "confirm: idempotent", method: http.MethodPost, path: base + "/confirm", token: adminToken},
		{name: "terminate: completed", method: http.MethodPost, path: base + "/terminate", token: adminToken, wantCode: http.StatusConflict},
		{name: "unknown task", method: http.MethodPost, path: "/api/tasks/nope/confirm", token: adminToken, wantCode: http.StatusNotFound},
	})

	p, err := env.Svcs.Subsidies.GetPool(ctx, alice.ID)
	if assert.NoError(t, err) {
		assert.True(t, p.Balanced())
		assert.True(t, p.CompletedAmount.Equal(tk.Commission))
	}

	if other.ID != tk.ID {
		tt := httpTest{
			name: "terminate", method: http.MethodPost, path: "/api/tasks/" + other.ID + "/terminate",
			token: adminToken, body: []byte(`{"reason": "duplicate"}`),
		}
		rec := do(srv, tt)
		checkCodeAndData(t, tt, rec)
		var res struct {
			Task task.Task `json:"task"`
		}
		decode(t, rec, &res)
		assert.Equal(t, task.StatusTerminated, res.Task.Status)
		assert.Equal(t, "duplicate", res.Task.Message)

		p, err = env.Svcs.Subsidies.GetPool(ctx, alice.ID)
		if assert.NoError(t, err) {
			assert.True(t, p.Balanced())
			assert.True(t, p.RemainingAmount.Equal(other.Commission))
		}
	}
}

func Test_taskApi_confirmBonus(t *testing.T) {
	srv, env := newTestServer(t)
	usrRepo := env.Repos.Users

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	alice := testutil.CreateStudent(t, usrRepo, "Alice", "alice")
	adminToken := getToken(t, srv, admin)

	now := time.Now().UTC()
	tk := testutil.CreateTask(t, env.Repos.Tasks, "", testutil.Dec("10"), task.StatusSubmitted, now, 24*time.Hour)
	tk.AcceptedBy.SetValid(alice.ID)
	if _, err := env.Repos.Tasks.UpdateTask(context.Background(), tk); err != nil {
		t.Fatalf("UpdateTask(): %v", err)
	}

	tt := httpTest{name: "confirm bonus", method: http.MethodPost, path: "/api/tasks/" + tk.ID + "/confirm", token: adminToken}
	rec := do(srv, tt)
	checkCodeAndData(t, tt, rec)

	var res bonus.CompleteResult
	decode(t, rec, &res)
	assert.Equal(t, task.StatusCompleted, res.Task.Status)
	assert.True(t, res.StudentIncome.Add(res.Leftover).Equal(testutil.Dec("10")))
}
