package httpapi

import (
	"net/http"
	"strconv"

	"github.com/colmap/colmap/internal/infrastructure/storage"
)

func filterFromQuery(r *http.Request) storage.QueryFilter {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return storage.QueryFilter{
		BatchID:   q.Get("batch_id"),
		Status:    q.Get("status"),
		Search:    q.Get("search"),
		Expr:      q.Get("expr"),
		OrderBy:   q.Get("order_by"),
		OrderDesc: q.Get("order") == "desc",
		Offset:    offset,
		Limit:     limit,
	}
}
