package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/taskpool/services/events"
)

func registerEventsAPI(g *echo.Group, jwt echo.MiddlewareFunc, hub *events.Hub) {
	g.GET("/events/ws", func(ctx echo.Context) error {
		return hub.Serve(ctx.Response(), ctx.Request())
	}, jwt, adminMiddleware())
}
