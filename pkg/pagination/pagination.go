// Package pagination reads the page window of list endpoints.
package pagination

import (
	"strconv"

	"constructlink/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is the requested page window. Page is 1-based.
type Params struct {
	Page  int
	Limit int
}

// Parse reads ?page and ?limit. Missing, malformed or out-of-range values fall
// back to the first page of DefaultLimit items; limit is capped at MaxLimit.
func Parse(c *gin.Context) Params {
	p := Params{
		Page:  queryInt(c, "page", 1),
		Limit: queryInt(c, "limit", DefaultLimit),
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// Wrap builds the list envelope for one page of items.
func (p Params) Wrap(items interface{}, total int64) response.Page {
	return response.Page{Items: items, Total: total, Page: p.Page, Limit: p.Limit}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return v
}
