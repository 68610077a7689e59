package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/azardenmark/dashboard-sub000/core"
)

const orderingParam = "ordering"

// parseOrdering reads `?ordering=name,-createdAt`; the param may repeat and "-" sorts descending.
func parseOrdering(ctx echo.Context) []core.DBOrdering {
	var orderings []core.DBOrdering
	for _, val := range ctx.QueryParams()[orderingParam] {
		for _, field := range strings.Split(val, ",") {
			field = strings.TrimSpace(field)
			ord := core.DBOrdering{
				Field:     strings.TrimPrefix(field, "-"),
				Ascending: !strings.HasPrefix(field, "-"),
			}
			if ord.Field != "" {
				orderings = append(orderings, ord)
			}
		}
	}
	return orderings
}
