package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/apps/shared"
	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/agent"
)

type agentApi struct {
	svc      *agent.Service
	validate *validator.Validate
}

func registerAgentAPI(g *echo.Group, jwt echo.MiddlewareFunc, svcs *shared.Services) {
	api := agentApi{svc: svcs.Agents, validate: svcs.Validate}

	ag := g.Group("/agents", jwt, adminMiddleware())
	ag.GET("", api.query)
	ag.POST("", api.create)
	ag.GET("/:id", api.retrieve)
	ag.PUT("/:id", api.update)
}

func (api *agentApi) query(ctx echo.Context) error {
	var filter agent.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	filter.Search = core.CleanString(filter.Search)
	page, err := bindPage(ctx)
	if err != nil {
		return err
	}

	agents, total, err := api.svc.Query(ctx.Request().Context(), filter, page)
	if err != nil {
		return errors.Wrap(err, "querying agents")
	}
	if agents == nil {
		agents = []agent.Agent{}
	}
	return ctx.JSON(http.StatusOK, newPageResponse(agents, total, page))
}

func (api *agentApi) create(ctx echo.Context) error {
	var data agent.NewAgent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAgent")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	a, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating agent")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *agentApi) retrieve(ctx echo.Context) error {
	a, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting agent")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *agentApi) update(ctx echo.Context) error {
	a, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting agent")
	}
	var data agent.UpdateAgent
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateAgent")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	if a, err = api.svc.Update(ctx.Request().Context(), a, data); err != nil {
		return errors.Wrap(err, "updating agent")
	}
	return ctx.JSON(http.StatusOK, a)
}
