package echoapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/azardenmark/dashboard-sub000/core"
)

func Test_parseOrdering(t *testing.T) {
	tests := []struct {
		query string
		want  []core.DBOrdering
	}{
		{query: "", want: nil},
		{query: "?ordering=", want: nil},
		{query: "?ordering=name", want: []core.DBOrdering{{Field: "name", Ascending: true}}},
		{
			query: "?ordering=name,-createdAt",
			want:  []core.DBOrdering{{Field: "name", Ascending: true}, {Field: "createdAt"}},
		},
		{
			query: "?ordering=-email&ordering=%20name%20,,-",
			want:  []core.DBOrdering{{Field: "email"}, {Field: "name", Ascending: true}},
		},
	}
	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/accounts"+tt.query, nil)
			ctx := e.NewContext(req, httptest.NewRecorder())
			assert.Equal(t, tt.want, parseOrdering(ctx))
		})
	}
}
