package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/bitbeam/internal/domain"
)

func TestBuildListQuery_NoFilter(t *testing.T) {
	query, args := buildListQuery(postgresDialect, domain.ListFilter{}, nil, 11)

	assert.NotContains(t, query, "WHERE")
	assert.Contains(t, query, "ORDER BY created_at, id LIMIT $1")
	assert.Equal(t, []any{11}, args)
}

func TestBuildListQuery_StatusAndCursorPostgres(t *testing.T) {
	st := domain.StatusFailed
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	query, args := buildListQuery(postgresDialect, domain.ListFilter{Status: &st}, &domain.Cursor{CreatedAt: ts, ID: "x"}, 5)

	assert.Contains(t, query, "WHERE status = $1 AND (created_at, id) > ($2, $3)")
	assert.Contains(t, query, "LIMIT $4")
	require.Len(t, args, 4)
	assert.Equal(t, "failed", args[0])
	assert.Equal(t, ts, args[1])
	assert.Equal(t, "x", args[2])
}

func TestBuildListQuery_SQLiteUsesMicros(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 6000, time.UTC)
	query, args := buildListQuery(sqliteDialect, domain.ListFilter{}, &domain.Cursor{CreatedAt: ts, ID: "x"}, 5)

	assert.Contains(t, query, "(created_at, id) > (?, ?)")
	assert.Equal(t, ts.UnixMicro(), args[0])
}

// pagedBackend serves fixed pages and counts round trips.
type pagedBackend struct {
	Backend
	records []*domain.BeamRecord
	calls   int
	failAt  int
}

func (p *pagedBackend) ListPage(_ context.Context, _ domain.ListFilter, after *domain.Cursor, limit int) (*domain.Page, error) {
	p.calls++
	if p.failAt > 0 && p.calls == p.failAt {
		return nil, domain.Unavailable("list beams", errors.New("timeout"))
	}
	start := 0
	if after != nil {
		for i, r := range p.records {
			if r.ID == after.ID {
				start = i + 1
			}
		}
	}
	end := min(start+limit+1, len(p.records))
	return finishPage(append([]*domain.BeamRecord(nil), p.records[start:end]...), limit), nil
}

func TestAll_LazyAndRestartable(t *testing.T) {
	pb := &pagedBackend{}
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		pb.records = append(pb.records, newTestBeam(id, i))
	}
	seq := All(context.Background(), pb, domain.ListFilter{}, 2)
	assert.Equal(t, 0, pb.calls, "no query before ranging")

	var got []string
	for rec, err := range seq {
		require.NoError(t, err)
		got = append(got, rec.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
	assert.Equal(t, 3, pb.calls)

	// Ranging again restarts from the first record.
	got = got[:0]
	for rec, err := range seq {
		require.NoError(t, err)
		got = append(got, rec.ID)
		if len(got) == 1 {
			break
		}
	}
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 4, pb.calls, "early break must not fetch further pages")
}

func TestAll_YieldsError(t *testing.T) {
	pb := &pagedBackend{failAt: 2}
	for i, id := range []string{"a", "b", "c"} {
		pb.records = append(pb.records, newTestBeam(id, i))
	}

	var (
		n       int
		lastErr error
	)
	for rec, err := range All(context.Background(), pb, domain.ListFilter{}, 2) {
		if err != nil {
			lastErr = err
			continue
		}
		require.NotNil(t, rec)
		n++
	}
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, lastErr, domain.ErrUnavailable)
}
