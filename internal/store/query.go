package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/bitbeam/internal/domain"
)

// beamColumns is the column list shared by every SELECT.
const beamColumns = `id, status, checksum, size_bytes, content_type, created_at, updated_at, error_reason`

// dialect captures the differences between engines that the query builder needs.
type dialect struct {
	placeholder func(n int) string
	timeArg     func(t time.Time) any
}

var (
	postgresDialect = dialect{
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		timeArg:     func(t time.Time) any { return t },
	}
	sqliteDialect = dialect{
		placeholder: func(int) string { return "?" },
		timeArg:     func(t time.Time) any { return t.UnixMicro() },
	}
)

// buildListQuery renders a keyset page query ordered by (created_at, id).
func buildListQuery(d dialect, filter domain.ListFilter, after *domain.Cursor, limit int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}

	if filter.Status != nil {
		conds = append(conds, "status = "+next(string(*filter.Status)))
	}
	if after != nil {
		t := next(d.timeArg(after.CreatedAt))
		id := next(after.ID)
		conds = append(conds, fmt.Sprintf("(created_at, id) > (%s, %s)", t, id))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(beamColumns)
	b.WriteString(" FROM beams")
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at, id LIMIT ")
	b.WriteString(next(limit))
	return b.String(), args
}

// finishPage trims the one-extra row fetched to detect a following page.
func finishPage(items []*domain.BeamRecord, limit int) *domain.Page {
	page := &domain.Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.Next = domain.CursorAfter(page.Items[limit-1])
	}
	if page.Items == nil {
		page.Items = []*domain.BeamRecord{}
	}
	return page
}
