package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func parseQuery(query string) Params {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/api/transfers"+query, nil)
	return Parse(c)
}

func TestParse(t *testing.T) {
	tests := []struct {
		query string
		want  Params
	}{
		{"", Params{Page: 1, Limit: DefaultLimit}},
		{"?page=3&limit=50", Params{Page: 3, Limit: 50}},
		{"?page=0&limit=-4", Params{Page: 1, Limit: DefaultLimit}},
		{"?page=two&limit=many", Params{Page: 1, Limit: DefaultLimit}},
		{"?limit=1000", Params{Page: 1, Limit: MaxLimit}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, parseQuery(tt.query))
		})
	}
}

func TestWrap(t *testing.T) {
	page := Params{Page: 2, Limit: 10}.Wrap([]string{"a"}, 11)
	assert.Equal(t, int64(11), page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 10, page.Limit)
	assert.Equal(t, []string{"a"}, page.Items)
}
