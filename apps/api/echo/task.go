package echoapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/taskpool/apps/shared"
	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/bonus"
	"github.com/trezcool/taskpool/core/subsidy"
	"github.com/trezcool/taskpool/core/task"
)

type taskApi struct {
	svc       *task.Service
	subsidies *subsidy.Service
	bonus     *bonus.Service
	loc       *time.Location
}

func registerTaskAPI(g *echo.Group, jwt echo.MiddlewareFunc, svcs *shared.Services) {
	api := taskApi{svc: svcs.Tasks, subsidies: svcs.Subsidies, bonus: svcs.Bonus, loc: svcs.Conf.Location()}

	tg := g.Group("/tasks", jwt)
	tg.GET("", api.query)
	tg.GET("/:id", api.retrieve)
	tg.POST("/:id/accept", api.accept, studentMiddleware)
	tg.POST("/:id/start", api.start, studentMiddleware)
	tg.POST("/:id/submit", api.submit, studentMiddleware)
	tg.POST("/:id/confirm", api.confirm, adminMiddleware())
	tg.POST("/:id/terminate", api.terminate, adminMiddleware())
}

// bindStatuses reads the repeatable `status` param.
func bindStatuses(ctx echo.Context) ([]task.Status, error) {
	var statuses []task.Status
	for _, val := range ctx.QueryParams()["status"] {
		n, err := strconv.Atoi(val)
		if err != nil || n < int(task.StatusOpen) || n > int(task.StatusTerminated) {
			return nil, core.NewValidationError(err, core.FieldError{Field: "status", Error: "unknown status " + val})
		}
		statuses = append(statuses, task.Status(n))
	}
	return statuses, nil
}

func (api *taskApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	statuses, err := bindStatuses(ctx)
	if err != nil {
		return err
	}
	page, err := bindPage(ctx)
	if err != nil {
		return err
	}

	switch {
	case claims.IsAdmin:
		var filter task.QueryFilter
		if err = ctx.Bind(&filter); err != nil {
			return errors.Wrap(err, "binding to QueryFilter")
		}
		filter.Search = core.CleanString(filter.Search)
		filter.Statuses = statuses
		if d, err := bindDate(ctx, "bonus_pool_date", time.Time{}); err != nil {
			return err
		} else if !d.IsZero() {
			filter.BonusPoolDate = null.TimeFrom(d)
		}
		if d, err := bindDate(ctx, "created_from", time.Time{}); err != nil {
			return err
		} else if !d.IsZero() {
			filter.CreatedFrom, _ = core.DayRange(d, api.loc)
		}
		if d, err := bindDate(ctx, "created_to", time.Time{}); err != nil {
			return err
		} else if !d.IsZero() {
			_, filter.CreatedTo = core.DayRange(d, api.loc)
		}
		ordering := new(Ordering)
		ordering.Bind(ctx)

		tasks, total, err := api.svc.Query(ctx.Request().Context(), filter, page, ordering.Orderings...)
		if err != nil {
			return errors.Wrap(err, "querying tasks")
		}
		if tasks == nil {
			tasks = []task.Task{}
		}
		return ctx.JSON(http.StatusOK, newPageResponse(tasks, total, page))

	case claims.IsStudent:
		res, err := api.svc.ForStudent(ctx.Request().Context(), claims.Subject, statuses, page)
		if err != nil {
			return errors.Wrap(err, "querying student tasks")
		}
		if res.Tasks == nil {
			res.Tasks = []task.Task{}
		}
		if res.BonusTasks == nil {
			res.BonusTasks = []task.Task{}
		}
		return ctx.JSON(http.StatusOK, res)
	}
	return errHttpForbidden
}

func (api *taskApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	t, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting task")
	}
	if claims.IsAdmin {
		return ctx.JSON(http.StatusOK, t)
	}
	// students see their own tasks and the bonus pool
	if claims.IsStudent &&
		(t.TargetStudentID.String == claims.Subject || t.AcceptedBy.String == claims.Subject || t.IsBonusPool) {
		return ctx.JSON(http.StatusOK, t)
	}
	return errHttpNotFound
}

type transition func(ctx context.Context, id, studentID string) (task.Task, error)

func (api *taskApi) studentAction(ctx echo.Context, action transition) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	t, err := action(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *taskApi) accept(ctx echo.Context) error { return api.studentAction(ctx, api.svc.Accept) }
func (api *taskApi) start(ctx echo.Context) error  { return api.studentAction(ctx, api.svc.Start) }
func (api *taskApi) submit(ctx echo.Context) error { return api.studentAction(ctx, api.svc.Submit) }

// confirm completes a submitted task: bonus tasks pay the student's rebate, subsidy tasks move the pool ledger.
func (api *taskApi) confirm(ctx echo.Context) error {
	t, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting task")
	}
	if t.IsBonusPool {
		res, err := api.bonus.CompleteTask(ctx.Request().Context(), t.ID)
		if err != nil {
			return errors.Wrap(err, "completing bonus task")
		}
		return ctx.JSON(http.StatusOK, res)
	}
	if t, err = api.subsidies.CompleteTask(ctx.Request().Context(), t.ID); err != nil {
		return errors.Wrap(err, "completing task")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"task": t})
}

type terminateRequest struct {
	Reason string `json:"reason"`
}

func (api *taskApi) terminate(ctx echo.Context) error {
	var data terminateRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to terminateRequest")
	}
	reason := core.CleanString(data.Reason)
	if reason == "" {
		reason = "terminated by admin"
	}

	t, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting task")
	}
	if t.IsBonusPool {
		t, err = api.bonus.TerminateTask(ctx.Request().Context(), t.ID, reason)
	} else {
		t, err = api.subsidies.TerminateTask(ctx.Request().Context(), t.ID, reason)
	}
	if err != nil {
		return errors.Wrap(err, "terminating task")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"task": t})
}
