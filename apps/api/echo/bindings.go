package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

var errInvalidPage = core.NewValidationError(
	errors.New("invalid pagination"),
	core.FieldError{Field: "page", Error: "page must be >= 1 and size between 1 and 100"},
)

// bindPage reads `page` & `size`. Missing values get the defaults; out of range ones are rejected.
func bindPage(ctx echo.Context) (core.Page, error) {
	var page core.Page
	for name, dst := range map[string]*int{"page": &page.Page, "size": &page.Size} {
		val := ctx.QueryParam(name)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return page, errInvalidPage
		}
		*dst = n
	}
	if page.Size > core.MaxPageSize {
		return page, errInvalidPage
	}
	return page.Normalize(), nil
}

// bindDate reads a YYYY-MM-DD query param. def is returned when it is missing.
func bindDate(ctx echo.Context, name string, def time.Time) (time.Time, error) {
	val := ctx.QueryParam(name)
	if val == "" {
		return def, nil
	}
	d, err := time.Parse("2006-01-02", val)
	if err != nil {
		return def, core.NewValidationError(err, core.FieldError{Field: name, Error: "expected YYYY-MM-DD"})
	}
	return d, nil
}

type (
	pageResponse struct {
		Items interface{} `json:"items"`
		Total int         `json:"total"`
		Page  int         `json:"page"`
		Size  int         `json:"size"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func newPageResponse(items interface{}, total int, page core.Page) pageResponse {
	return pageResponse{Items: items, Total: total, Page: page.Page, Size: page.Size}
}
