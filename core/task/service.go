package task

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/taskpool/core"
)

var (
	// errors
	ErrNotFound      error = core.NotFoundError{Resource: "task"}
	ErrNotOpen             = core.NewConflictError("task is no longer open")
	ErrInvalidStatus       = core.NewConflictError("task status does not allow this operation")
	ErrNotYours            = core.NewBusinessError(http.StatusForbidden, "task belongs to another student")
	ErrNoBonusAccess       = core.NewBusinessError(http.StatusForbidden, "daily target not reached, no access to the bonus pool")

	nowFunc = time.Now // mockable
)

type Repository interface {
	CreateTasks(ctx context.Context, tasks ...Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	// QueryTasks returns the matching page and the total match count. A nil page returns everything.
	QueryTasks(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering, page *core.Page) ([]Task, int, error)
	AggregateTasks(ctx context.Context, filter QueryFilter) (Aggregate, error)
	UpdateTask(ctx context.Context, t Task) (Task, error)
	// DeleteOpenTasks deletes the listed tasks that are still open and returns how many it deleted.
	DeleteOpenTasks(ctx context.Context, ids ...string) (int, error)
}

// AccessChecker tells whether a student may take bonus pool tasks on day.
type AccessChecker interface {
	HasAccess(ctx context.Context, studentID string, day time.Time) (bool, error)
}

type Service struct {
	tx     core.Transactor
	repo   Repository
	access AccessChecker
	loc    *time.Location
}

func NewService(tx core.Transactor, repo Repository, access AccessChecker, loc *time.Location) *Service {
	return &Service{tx: tx, repo: repo, access: access, loc: loc}
}

func (svc *Service) Get(ctx context.Context, id string) (Task, error) {
	return svc.repo.GetTask(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter, page core.Page, ordering ...core.DBOrdering) ([]Task, int, error) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	page = page.Normalize()
	return svc.repo.QueryTasks(ctx, filter, ordering, &page)
}

// StudentTasks is what a student sees: the tasks targeted at them,
// plus today's open bonus tasks when they reached yesterday's target.
type StudentTasks struct {
	Tasks       []Task `json:"tasks"`
	Total       int    `json:"total"`
	BonusAccess bool   `json:"bonus_access"`
	BonusTasks  []Task `json:"bonus_tasks"`
}

func (svc *Service) ForStudent(ctx context.Context, studentID string, statuses []Status, page core.Page) (StudentTasks, error) {
	var res StudentTasks
	var err error
	res.Tasks, res.Total, err = svc.Query(ctx, QueryFilter{StudentID: studentID, Statuses: statuses}, page)
	if err != nil {
		return res, errors.Wrap(err, "querying student tasks")
	}

	now := nowFunc()
	if res.BonusAccess, err = svc.access.HasAccess(ctx, studentID, now); err != nil {
		return res, errors.Wrap(err, "checking bonus access")
	}
	if res.BonusAccess {
		res.BonusTasks, _, err = svc.repo.QueryTasks(ctx, QueryFilter{
			IsBonusPool:   BoolPtr(true),
			BonusPoolDate: null.TimeFrom(core.DateOf(now, svc.loc)),
			Statuses:      []Status{StatusOpen},
		}, []core.DBOrdering{{Field: "created_at"}}, nil)
		if err != nil {
			return res, errors.Wrap(err, "querying bonus tasks")
		}
	}
	return res, nil
}

// Accept hands an open task to a student.
func (svc *Service) Accept(ctx context.Context, id, studentID string) (Task, error) {
	var t Task
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if t, err = svc.repo.GetTask(ctx, id); err != nil {
			return err
		}
		now := nowFunc().UTC()
		if t.Status != StatusOpen || t.Expired(now) {
			return ErrNotOpen
		}
		if t.TargetStudentID.Valid && t.TargetStudentID.String != studentID {
			return ErrNotYours
		}
		if t.IsBonusPool {
			ok, err := svc.access.HasAccess(ctx, studentID, now)
			if err != nil {
				return errors.Wrap(err, "checking bonus access")
			}
			if !ok {
				return ErrNoBonusAccess
			}
		}
		t.Status = StatusAccepted
		t.AcceptedBy = null.StringFrom(studentID)
		t.AcceptedAt = null.TimeFrom(now)
		t.UpdatedAt = now
		t, err = svc.repo.UpdateTask(ctx, t)
		return err
	})
	return t, err
}

// Start moves an accepted task in progress.
func (svc *Service) Start(ctx context.Context, id, studentID string) (Task, error) {
	return svc.transition(ctx, id, studentID, StatusInProgress, StatusAccepted)
}

// Submit hands the work in for confirmation.
func (svc *Service) Submit(ctx context.Context, id, studentID string) (Task, error) {
	return svc.transition(ctx, id, studentID, StatusSubmitted, StatusAccepted, StatusInProgress)
}

func (svc *Service) transition(ctx context.Context, id, studentID string, to Status, from ...Status) (Task, error) {
	var t Task
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if t, err = svc.repo.GetTask(ctx, id); err != nil {
			return err
		}
		if t.AcceptedBy.String != studentID {
			return ErrNotYours
		}
		if !t.HasStatus(from...) {
			return ErrInvalidStatus
		}
		now := nowFunc().UTC()
		t.Status = to
		if to == StatusSubmitted {
			t.SubmittedAt = null.TimeFrom(now)
		}
		t.UpdatedAt = now
		t, err = svc.repo.UpdateTask(ctx, t)
		return err
	})
	return t, err
}
