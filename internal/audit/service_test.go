package audit

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type stubRepo struct {
	rows    []TimelineRow
	filters TimelineFilters
	limit   int
	offset  int
}

func (s *stubRepo) Timeline(_ context.Context, f TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	s.filters, s.limit, s.offset = f, limit, offset
	if len(s.rows) > limit {
		return s.rows[:limit], nil
	}
	return s.rows, nil
}

func sampleRows(n int) []TimelineRow {
	base := time.Date(2024, 5, 19, 8, 0, 0, 0, time.UTC)
	out := make([]TimelineRow, n)
	for i := range out {
		out[i] = TimelineRow{
			ID: int64(n - i), At: base.Add(-time.Duration(i) * time.Hour),
			Actor: "NV1", Action: "invoice:confirm", Entity: "invoice", EntityID: "DH1",
		}
	}
	return out
}

func TestTimelinePaging(t *testing.T) {
	repo := &stubRepo{rows: sampleRows(3)}
	svc := NewService(repo)

	res, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2, Actor: " NV1 "})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	require.Equal(t, PagingInfo{Page: 1, PageSize: 2, HasNext: true, NextPage: 2}, res.Paging)
	require.Equal(t, 3, repo.limit)
	require.Equal(t, 0, repo.offset)
	require.Equal(t, "NV1", repo.filters.Actor)

	_, err = svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, 101, repo.limit)
	require.Equal(t, 200, repo.offset)

	repo.rows = nil
	res, err = svc.Timeline(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	require.NotNil(t, res.Rows)
	require.False(t, res.Paging.HasNext)
}

func TestExportUsesCap(t *testing.T) {
	repo := &stubRepo{rows: sampleRows(2)}
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{Entity: "delivery"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, MaxExportRows, repo.limit)

	_, err = NewService(nil).Export(context.Background(), TimelineFilters{})
	require.Error(t, err)
}

func TestTimelineWhere(t *testing.T) {
	where, args := timelineWhere(TimelineFilters{
		From:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Entity: "invoice",
		Action: "invoice:cancel",
	})
	require.Equal(t, "TRUE AND occurred_at >= $1 AND entity = $2 AND action = $3", where)
	require.Len(t, args, 3)
}

func newRouter(repo *stubRepo) http.Handler {
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), NewService(repo)).MountRoutes(r)
	return r
}

func TestHandlerFilters(t *testing.T) {
	repo := &stubRepo{rows: sampleRows(1)}
	router := newRouter(repo)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/?entity=invoice&entity_id=DH1&from=2024-05-01&to=2024-05-19", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"entity_id":"DH1"`)
	require.Equal(t, time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC), repo.filters.To)
	require.Equal(t, "DH1", repo.filters.EntityID)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/?from=yesterday", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/?from=2024-05-10&to=2024-05-01", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExportWorkbook(t *testing.T) {
	rows := sampleRows(2)
	rows[0].Meta = map[string]any{"shop_id": 885}
	router := newRouter(&stubRepo{rows: rows})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/export.xlsx", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Header().Get("Content-Disposition"), "audit.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	got, err := f.GetCellValue(exportSheet, "A1")
	require.NoError(t, err)
	require.Equal(t, "At", got)
	got, err = f.GetCellValue(exportSheet, "F2")
	require.NoError(t, err)
	require.Equal(t, `{"shop_id":885}`, got)
	got, err = f.GetCellValue(exportSheet, "E3")
	require.NoError(t, err)
	require.Equal(t, "DH1", got)
}
