package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/shule/core"
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
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// paramID parses a numeric path param. Anything else is a 404: no record has such an id.
func paramID(ctx echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errHttpNotFound
	}
	return id, nil
}

// queryID parses an optional numeric query param; absent or malformed values are 0.
func queryID(ctx echo.Context, name string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(ctx.QueryParam(name)), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
