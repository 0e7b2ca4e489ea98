package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/apps/shared"
	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/resource"
	"github.com/trezcool/taskpool/core/user"
)

type resourceApi struct {
	svc      *resource.Service
	users    *user.Service
	validate *validator.Validate
	loc      *time.Location
}

func registerResourceAPI(g *echo.Group, jwt echo.MiddlewareFunc, svcs *shared.Services) {
	api := resourceApi{svc: svcs.Resources, users: svcs.Users, validate: svcs.Validate, loc: svcs.Conf.Location()}

	rg := g.Group("/resources", jwt, adminMiddleware())
	rg.GET("", api.images)
	rg.GET("/categories", api.categories)
	rg.POST("/categories", api.createCategory)
	rg.PUT("/categories/:id", api.updateCategory)
	rg.GET("/tags", api.tags)
	rg.POST("/register", api.register)
	rg.GET("/images", api.images)
	rg.POST("/images/batch-delete", api.batchDelete)
	rg.POST("/images/batch-move-category", api.batchMove)
	rg.GET("/images/:id", api.image)
	rg.PUT("/images/:id/status", api.updateStatus)
	rg.DELETE("/images/:id", api.destroy)
	rg.GET("/stats", api.stats)
	rg.GET("/category-stats", api.categoryStats)
	rg.GET("/usage-stats", api.usageStats)
	rg.GET("/available-image/:category_code", api.availableImage)
	rg.POST("/claim-image/:category_code", api.claimImage)
	rg.POST("/mark-used", api.markUsed)
}

func (api *resourceApi) categories(ctx echo.Context) error {
	cats, err := api.svc.Categories(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing categories")
	}
	return ctx.JSON(http.StatusOK, cats)
}

func (api *resourceApi) createCategory(ctx echo.Context) error {
	var data resource.NewCategory
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCategory")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	c, err := api.svc.CreateCategory(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating category")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *resourceApi) updateCategory(ctx echo.Context) error {
	var data resource.UpdateCategory
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCategory")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	c, err := api.svc.UpdateCategory(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating category")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *resourceApi) tags(ctx echo.Context) error {
	tags, err := api.svc.Tags(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing tags")
	}
	return ctx.JSON(http.StatusOK, tags)
}

func (api *resourceApi) register(ctx echo.Context) error {
	var data resource.RegisterRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RegisterRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	uploader, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	res, err := api.svc.Register(ctx.Request().Context(), data, uploader)
	if err != nil {
		return errors.Wrap(err, "registering images")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *resourceApi) images(ctx echo.Context) error {
	var filter resource.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	if filter.Status != "" && filter.Status != resource.StatusAvailable &&
		filter.Status != resource.StatusUsed && filter.Status != resource.StatusDisabled {
		return core.NewValidationError(nil, core.FieldError{Field: "status", Error: "must be one of available, used, disabled"})
	}
	page, err := bindPage(ctx)
	if err != nil {
		return err
	}
	from, err := bindDate(ctx, "start_date", time.Time{})
	if err != nil {
		return err
	}
	to, err := bindDate(ctx, "end_date", time.Time{})
	if err != nil {
		return err
	}
	if !from.IsZero() {
		filter.CreatedFrom, _ = core.DayRange(from, api.loc)
	}
	if !to.IsZero() {
		_, filter.CreatedTo = core.DayRange(to, api.loc)
	}

	images, total, err := api.svc.Images(ctx.Request().Context(), filter, page)
	if err != nil {
		return errors.Wrap(err, "listing images")
	}
	if images == nil {
		images = []resource.Image{}
	}
	return ctx.JSON(http.StatusOK, newPageResponse(images, total, page))
}

func (api *resourceApi) image(ctx echo.Context) error {
	img, err := api.svc.Image(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting image")
	}
	return ctx.JSON(http.StatusOK, img)
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=available used disabled"`
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

func (api *resourceApi) updateStatus(ctx echo.Context) error {
	var data statusRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to statusRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	res, err := api.svc.UpdateStatus(ctx.Request().Context(), ctx.Param("id"), data.Status, data.Reason)
	if err != nil {
		return errors.Wrap(err, "updating image status")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *resourceApi) destroy(ctx echo.Context) error {
	res, err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id"), core.CleanString(ctx.QueryParam("delete_reason")))
	if err != nil {
		return errors.Wrap(err, "deleting image")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *resourceApi) batchDelete(ctx echo.Context) error {
	var data resource.BatchDeleteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BatchDeleteRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	res, err := api.svc.BatchDelete(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "deleting images")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *resourceApi) batchMove(ctx echo.Context) error {
	var data resource.BatchMoveRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BatchMoveRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	res, err := api.svc.BatchMove(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "moving images")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *resourceApi) stats(ctx echo.Context) error {
	st, err := api.svc.Stats(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "computing stats")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *resourceApi) categoryStats(ctx echo.Context) error {
	st, err := api.svc.CategoryStats(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "computing category stats")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *resourceApi) usageStats(ctx echo.Context) error {
	st, err := api.svc.UsageStats(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "computing usage stats")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *resourceApi) availableImage(ctx echo.Context) error {
	res, err := api.svc.AvailableImage(ctx.Request().Context(), ctx.Param("category_code"))
	if err != nil {
		return errors.Wrap(err, "picking image")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *resourceApi) claimImage(ctx echo.Context) error {
	res, err := api.svc.ClaimImage(ctx.Request().Context(), ctx.Param("category_code"), ctx.QueryParam("task_id"))
	if err != nil {
		return errors.Wrap(err, "claiming image")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *resourceApi) markUsed(ctx echo.Context) error {
	var data resource.MarkUsedRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkUsedRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	res, err := api.svc.MarkUsed(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "marking image used")
	}
	return ctx.JSON(http.StatusOK, res)
}
