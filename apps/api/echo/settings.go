package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/apps/shared"
	"github.com/trezcool/taskpool/core/settings"
)

type settingsApi struct {
	svc      *settings.Service
	validate *validator.Validate
}

func registerSettingsAPI(g *echo.Group, jwt echo.MiddlewareFunc, svcs *shared.Services) {
	api := settingsApi{svc: svcs.Settings, validate: svcs.Validate}

	sg := g.Group("/settings", jwt, adminMiddleware())
	sg.GET("", api.list)
	sg.GET("/:key", api.retrieve)
	sg.PUT("/:key", api.update)
}

func (api *settingsApi) list(ctx echo.Context) error {
	list, err := api.svc.List(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing settings")
	}
	return ctx.JSON(http.StatusOK, list)
}

func (api *settingsApi) retrieve(ctx echo.Context) error {
	s, err := api.svc.Get(ctx.Request().Context(), ctx.Param("key"))
	if err != nil {
		return errors.Wrap(err, "getting setting")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *settingsApi) update(ctx echo.Context) error {
	var data settings.UpdateSetting
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSetting")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	s, err := api.svc.Set(ctx.Request().Context(), ctx.Param("key"), data)
	if err != nil {
		return errors.Wrap(err, "saving setting")
	}
	return ctx.JSON(http.StatusOK, s)
}
