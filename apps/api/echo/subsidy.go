package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/apps/shared"
	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/subsidy"
)

type subsidyApi struct {
	svc      *subsidy.Service
	validate *validator.Validate
	loc      *time.Location
}

func registerSubsidyAPI(g *echo.Group, jwt echo.MiddlewareFunc, svcs *shared.Services) {
	api := subsidyApi{svc: svcs.Subsidies, validate: svcs.Validate, loc: svcs.Conf.Location()}

	sg := g.Group("/subsidies", jwt, adminMiddleware())
	sg.POST("/import", api.importEntries)
	sg.GET("/pools", api.pools)
	sg.GET("/stats", api.stats)
	sg.GET("/income", api.income)
	sg.POST("/sync", api.sync)
	sg.POST("/sweep", api.sweep)
	sg.POST("/pools/:student_id/reallocate", api.reallocate)
	sg.DELETE("/pools/:student_id", api.deletePool)
}

func (api *subsidyApi) importEntries(ctx echo.Context) error {
	var data subsidy.ImportRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ImportRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	res, err := api.svc.Import(ctx.Request().Context(), data.Entries)
	if err != nil {
		return errors.Wrap(err, "importing subsidies")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *subsidyApi) pools(ctx echo.Context) error {
	var filter subsidy.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	page, err := bindPage(ctx)
	if err != nil {
		return err
	}
	pools, total, err := api.svc.Pools(ctx.Request().Context(), filter, page)
	if err != nil {
		return errors.Wrap(err, "listing pools")
	}
	if pools == nil {
		pools = []subsidy.Pool{}
	}
	return ctx.JSON(http.StatusOK, newPageResponse(pools, total, page))
}

func (api *subsidyApi) stats(ctx echo.Context) error {
	st, err := api.svc.Stats(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "computing stats")
	}
	return ctx.JSON(http.StatusOK, st)
}

// income reads the `from` & `to` dates (both inclusive; the last 30 days by default).
func (api *subsidyApi) income(ctx echo.Context) error {
	today := core.DateOf(time.Now(), api.loc)
	from, err := bindDate(ctx, "from", today.AddDate(0, 0, -29))
	if err != nil {
		return err
	}
	to, err := bindDate(ctx, "to", today)
	if err != nil {
		return err
	}
	if to.Before(from) {
		return core.NewValidationError(nil, core.FieldError{Field: "to", Error: "must not be before from"})
	}
	start, _ := core.DayRange(from, api.loc)
	_, end := core.DayRange(to, api.loc)

	rep, err := api.svc.Income(ctx.Request().Context(), start, end, ctx.QueryParam("search"))
	if err != nil {
		return errors.Wrap(err, "computing income")
	}
	return ctx.JSON(http.StatusOK, rep)
}

func (api *subsidyApi) sync(ctx echo.Context) error {
	res, err := api.svc.Sync(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "syncing pools")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *subsidyApi) sweep(ctx echo.Context) error {
	res, err := api.svc.Sweep(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "sweeping expired tasks")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *subsidyApi) reallocate(ctx echo.Context) error {
	res, err := api.svc.Reallocate(ctx.Request().Context(), ctx.Param("student_id"))
	if err != nil {
		return errors.Wrap(err, "reallocating")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *subsidyApi) deletePool(ctx echo.Context) error {
	if err := api.svc.DeletePool(ctx.Request().Context(), ctx.Param("student_id")); err != nil {
		return errors.Wrap(err, "deleting pool")
	}
	return ctx.NoContent(http.StatusNoContent)
}
