package api

import (
	"net/http"
	"strconv"

	"github.com/jmcleod/bankgate/history"
)

// History and the audit trail share the same page bounds.
const (
	defaultPageLimit = history.DefaultLimit
	maxPageLimit     = history.MaxLimit
)

// PaginationMeta is embedded in paginated list responses.
type PaginationMeta struct {
	TotalCount int  `json:"total_count"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
}

// parsePagination reads limit and offset. Unparsable or non-positive
// values fall back to the defaults; limit is capped at maxPageLimit.
func parsePagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = positiveInt(q.Get("limit"), defaultPageLimit)
	offset = positiveInt(q.Get("offset"), 0)
	return min(limit, maxPageLimit), offset
}

func positiveInt(v string, fallback int) int {
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return n
	}
	return fallback
}

// paginateSlice returns the bounds of the requested page within a
// collection of total items. An offset past the end yields an empty page.
func paginateSlice(total, limit, offset int) (start, end int, meta PaginationMeta) {
	start = min(offset, total)
	end = min(start+limit, total)
	return start, end, paginationMeta(total, limit, offset, end-start)
}

// paginationMeta describes a page of count items starting at offset.
func paginationMeta(total, limit, offset, count int) PaginationMeta {
	return PaginationMeta{
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
		HasMore:    offset+count < total,
	}
}
