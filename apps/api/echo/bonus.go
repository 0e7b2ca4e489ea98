package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/apps/shared"
	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/bonus"
)

type bonusApi struct {
	svc *bonus.Service
}

func registerBonusAPI(g *echo.Group, jwt echo.MiddlewareFunc, svcs *shared.Services) {
	api := bonusApi{svc: svcs.Bonus}

	bg := g.Group("/bonus-pool", jwt)
	bg.GET("/access", api.access, studentMiddleware)

	ag := bg.Group("", adminMiddleware())
	ag.GET("/status", api.status)
	ag.GET("/achievements", api.achievements)
	ag.POST("/daily", api.daily)
	ag.POST("/generate", api.generate)
	ag.POST("/process-expired", api.processExpired)
	ag.POST("/auto-confirm", api.autoConfirm)
}

func (api *bonusApi) status(ctx echo.Context) error {
	date, err := bindDate(ctx, "date", api.svc.Today())
	if err != nil {
		return err
	}
	st, err := api.svc.Status(ctx.Request().Context(), date)
	if err != nil {
		return errors.Wrap(err, "getting bonus pool status")
	}
	return ctx.JSON(http.StatusOK, st)
}

// achievements lists the achievements of `date` (yesterday by default).
func (api *bonusApi) achievements(ctx echo.Context) error {
	date, err := bindDate(ctx, "date", api.svc.Today().AddDate(0, 0, -1))
	if err != nil {
		return err
	}
	filter := bonus.AchievementFilter{Date: date, StudentID: ctx.QueryParam("student_id")}
	if val := ctx.QueryParam("achieved"); val != "" {
		achieved, err := strconv.ParseBool(val)
		if err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "achieved", Error: "expected a boolean"})
		}
		filter.Achieved = &achieved
	}

	list, err := api.svc.Achievements(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying achievements")
	}
	if list == nil {
		list = []bonus.Achievement{}
	}
	return ctx.JSON(http.StatusOK, list)
}

func (api *bonusApi) access(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	today := api.svc.Today()
	ok, err := api.svc.HasAccess(ctx.Request().Context(), claims.Subject, today)
	if err != nil {
		return errors.Wrap(err, "checking access")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"date": today.Format("2006-01-02"), "has_access": ok})
}

func (api *bonusApi) daily(ctx echo.Context) error {
	res, err := api.svc.RunDaily(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "running daily bonus job")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *bonusApi) generate(ctx echo.Context) error {
	date, err := bindDate(ctx, "date", api.svc.Today())
	if err != nil {
		return err
	}
	res, err := api.svc.Generate(ctx.Request().Context(), date)
	if err != nil {
		return errors.Wrap(err, "generating bonus tasks")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *bonusApi) processExpired(ctx echo.Context) error {
	res, err := api.svc.ProcessExpired(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "processing expired bonus tasks")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *bonusApi) autoConfirm(ctx echo.Context) error {
	res, err := api.svc.AutoConfirm(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "auto confirming bonus tasks")
	}
	if res.Failed == nil {
		res.Failed = []bonus.ConfirmFailure{}
	}
	return ctx.JSON(http.StatusOK, res)
}
