// Package testutil builds an in-memory service graph for tests.
package testutil

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/taskpool/apps/shared"
	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/task"
	"github.com/trezcool/taskpool/core/user"
	emailsvc "github.com/trezcool/taskpool/services/email"
	"github.com/trezcool/taskpool/storage"
)

// Env is a memdb-backed application.
type Env struct {
	Conf  *core.Config
	Repos *storage.Repositories
	Svcs  *shared.Services
}

func NewEnv(t *testing.T) *Env {
	t.Helper()
	conf := core.NewTestConfig()
	repos, err := storage.NewMemory()
	if err != nil {
		t.Fatalf("storage.NewMemory(): %v", err)
	}
	t.Cleanup(func() { _ = repos.Close() })

	svcs := shared.NewServices(shared.Deps{
		Conf:   conf,
		Repos:  repos,
		Logger: core.NopLogger{},
		Mail:   emailsvc.NewConsoleServiceMock(conf),
		Rand:   rand.New(rand.NewSource(1)),
	})
	return &Env{Conf: conf, Repos: repos, Svcs: svcs}
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser(): %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser(): %v", err)
	}
	return usr
}

// CreateStudent adds an active student.
func CreateStudent(t *testing.T, repo user.Repository, name, uname string) user.User {
	return CreateUser(t, repo, name, uname, uname+"@test.cd", "Pass1234!", []string{user.RoleStudent}, true)
}

// CreateTask stores a virtual task of amount for studentID (a bonus task when studentID is empty).
func CreateTask(t *testing.T, repo task.Repository, studentID string, amount decimal.Decimal, status task.Status, createdAt time.Time, expiry time.Duration) task.Task {
	t.Helper()
	tk := task.Task{
		ID:           uuid.New().String(),
		OrderNumber:  task.NewOrderNumber(),
		Summary:      "test task",
		Requirement:  "none",
		Source:       task.SourceGroup,
		Commission:   amount,
		Status:       status,
		EndDate:      createdAt.Add(expiry),
		DeliveryDate: createdAt.Add(task.DeliveryWindow),
		Founder:      task.FounderSystem,
		IsVirtual:    true,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	if studentID != "" {
		tk.TargetStudentID = null.StringFrom(studentID)
	} else {
		tk.IsBonusPool = true
		tk.Founder = task.FounderBonusPool
		tk.BonusPoolDate = null.TimeFrom(core.DateOf(createdAt, time.UTC))
	}
	if err := repo.CreateTasks(context.Background(), tk); err != nil {
		t.Fatalf("createTask(): %v", err)
	}
	return tk
}

func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
