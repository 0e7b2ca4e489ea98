package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/apps/shared"
	"github.com/trezcool/taskpool/core/support"
)

type supportApi struct {
	svc      *support.Service
	validate *validator.Validate
}

func registerSupportAPI(g *echo.Group, jwt echo.MiddlewareFunc, svcs *shared.Services) {
	api := supportApi{svc: svcs.Support, validate: svcs.Validate}

	sg := g.Group("/support-agents", jwt, adminMiddleware())
	sg.GET("", api.query)
	sg.POST("", api.create)
	sg.POST("/batch", api.batchCreate)
	sg.GET("/stats", api.stats)
	sg.PUT("/:id", api.update)
	sg.DELETE("/:id", api.destroy)
}

func (api *supportApi) query(ctx echo.Context) error {
	var filter support.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	page, err := bindPage(ctx)
	if err != nil {
		return err
	}
	vas, total, err := api.svc.List(ctx.Request().Context(), filter, page)
	if err != nil {
		return errors.Wrap(err, "listing virtual agents")
	}
	if vas == nil {
		vas = []support.VirtualAgent{}
	}
	return ctx.JSON(http.StatusOK, newPageResponse(vas, total, page))
}

func (api *supportApi) create(ctx echo.Context) error {
	var data support.NewVirtualAgent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewVirtualAgent")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	va, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating virtual agent")
	}
	return ctx.JSON(http.StatusCreated, va)
}

type batchRequest struct {
	Agents []support.NewVirtualAgent `json:"agents" validate:"required,min=1"`
}

func (api *supportApi) batchCreate(ctx echo.Context) error {
	var data batchRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to batchRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, api.svc.BatchCreate(ctx.Request().Context(), data.Agents))
}

func (api *supportApi) stats(ctx echo.Context) error {
	stats, err := api.svc.Stats(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "computing stats")
	}
	if stats == nil {
		stats = []support.Stats{}
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *supportApi) update(ctx echo.Context) error {
	var data support.UpdateVirtualAgent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateVirtualAgent")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	va, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating virtual agent")
	}
	return ctx.JSON(http.StatusOK, va)
}

func (api *supportApi) destroy(ctx echo.Context) error {
	n, err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "deleting virtual agent")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"reassigned_tasks": n})
}
