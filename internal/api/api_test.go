package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/bitbeam/internal/blob"
	"github.com/punchamoorthee/bitbeam/internal/domain"
	"github.com/punchamoorthee/bitbeam/internal/logging"
	"github.com/punchamoorthee/bitbeam/internal/models"
	"github.com/punchamoorthee/bitbeam/internal/service"
	"github.com/punchamoorthee/bitbeam/internal/store"
)

type testServer struct {
	router  http.Handler
	backend store.Backend
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()

	backend, err := store.NewSQLiteBackend(ctx, filepath.Join(t.TempDir(), "api.db"), 2*time.Second, logger)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(backend, logger))
	t.Cleanup(func() { backend.Close() })

	blobs, err := blob.Open(ctx, blob.Options{URL: "mem://"})
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })

	ledger := service.NewLedger(backend, service.WithLogger(logger), service.WithCache(service.NewTerminalCache(64, time.Minute)))
	payloads := service.NewPayloadService(ledger, blobs, 1<<20, logger)
	return &testServer{router: NewRouter(NewHandler(ledger, payloads, logger), logger), backend: backend}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	return s.do(t, method, path, body)
}

func decodeBeam(t *testing.T, rr *httptest.ResponseRecorder) domain.BeamRecord {
	t.Helper()
	var rec domain.BeamRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec), rr.Body.String())
	return rec
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var e models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &e), rr.Body.String())
	assert.NotEmpty(t, e.Error)
	return e.Code
}

func submitBody(id, checksum string, size int64) map[string]any {
	return map[string]any{"id": id, "checksum": checksum, "size_bytes": size}
}

func TestSubmitBeam(t *testing.T) {
	s := newTestServer(t)

	rr := s.doJSON(t, http.MethodPost, "/api/v1/beams", submitBody("a1", "deadbeef", 1024))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "/api/v1/beams/a1", rr.Header().Get("Location"))
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	rec := decodeBeam(t, rr)
	assert.Equal(t, "a1", rec.ID)
	assert.Equal(t, domain.StatusSubmitted, rec.Status)
	assert.Equal(t, domain.DefaultContentType, rec.ContentType)

	rr = s.doJSON(t, http.MethodPost, "/api/v1/beams", submitBody("a1", "deadbeef", 1024))
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "conflict", errorCode(t, rr))
}

func TestSubmitBeam_AssignsID(t *testing.T) {
	s := newTestServer(t)

	rr := s.doJSON(t, http.MethodPost, "/api/v1/beams", map[string]any{"checksum": "deadbeef", "size_bytes": 1})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rec := decodeBeam(t, rr)
	_, err := uuid.Parse(rec.ID)
	assert.NoError(t, err)
}

func TestSubmitBeam_BadRequests(t *testing.T) {
	s := newTestServer(t)

	cases := map[string]string{
		"malformed":     `{"id":`,
		"unknown field": `{"id":"x","checksum":"c","size_bytes":1,"extra":true}`,
		"trailing data": `{"id":"x","checksum":"c","size_bytes":1}{}`,
		"empty id":      `{"id":"","checksum":"c","size_bytes":1}`,
		"slash in id":   `{"id":"a/b","checksum":"c","size_bytes":1}`,
		"no checksum":   `{"id":"x","size_bytes":1}`,
		"negative size": `{"id":"x","checksum":"c","size_bytes":-5}`,
		"long id":       fmt.Sprintf(`{"id":%q,"checksum":"c","size_bytes":1}`, strings.Repeat("x", 129)),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, "/api/v1/beams", strings.NewReader(body))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "bad_request", errorCode(t, rr))
		})
	}
}

func TestSubmitBeam_InvalidIDNeverReachesLedger(t *testing.T) {
	// No ledger behind the handler: only validation may answer.
	router := NewRouter(NewHandler(nil, nil, logging.Discard()), logging.Discard())

	for _, id := range []string{"", "a/b", "tab\there", strings.Repeat("z", 129)} {
		body, err := json.Marshal(submitBody(id, "c", 1))
		require.NoError(t, err)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/beams", bytes.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rr.Code, "id %q", id)
		assert.Equal(t, "bad_request", errorCode(t, rr))
	}
}

func TestBeamLifecycle(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusCreated, s.doJSON(t, http.MethodPost, "/api/v1/beams", submitBody("a1", "deadbeef", 1024)).Code)

	rr := s.doJSON(t, http.MethodPost, "/api/v1/beams/a1/begin", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.StatusInProgress, decodeBeam(t, rr).Status)

	rr = s.doJSON(t, http.MethodPost, "/api/v1/beams/a1/complete", map[string]string{"checksum": "deadbeef"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.StatusCompleted, decodeBeam(t, rr).Status)

	rr = s.do(t, http.MethodGet, "/api/v1/beams/a1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, domain.StatusCompleted, decodeBeam(t, rr).Status)

	rr = s.doJSON(t, http.MethodPost, "/api/v1/beams/a1/begin", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, rr))
}

func TestBeamChecksumMismatch(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusCreated, s.doJSON(t, http.MethodPost, "/api/v1/beams", submitBody("a2", "cafef00d", 10)).Code)
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodPost, "/api/v1/beams/a2/begin", nil).Code)

	rr := s.doJSON(t, http.MethodPost, "/api/v1/beams/a2/complete", map[string]string{"checksum": "00000000"})
	require.Equal(t, http.StatusOK, rr.Code)
	rec := decodeBeam(t, rr)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, domain.ReasonChecksumMismatch, rec.ErrorReason)
}

func TestFailBeam(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusCreated, s.doJSON(t, http.MethodPost, "/api/v1/beams", submitBody("f1", "c", 1)).Code)
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodPost, "/api/v1/beams/f1/begin", nil).Code)

	rr := s.doJSON(t, http.MethodPost, "/api/v1/beams/f1/fail", map[string]string{"reason": ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	for _, reason := range []string{"peer gone", "second"} {
		rr = s.doJSON(t, http.MethodPost, "/api/v1/beams/f1/fail", map[string]string{"reason": reason})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "peer gone", decodeBeam(t, rr).ErrorReason)
	}
}

func TestGetBeam_Errors(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/api/v1/beams/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", errorCode(t, rr))

	rr = s.do(t, http.MethodGet, "/api/v1/beams/"+strings.Repeat("y", 200), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodDelete, "/api/v1/beams/missing", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestListBeams(t *testing.T) {
	s := newTestServer(t)
	for i := range 5 {
		rr := s.doJSON(t, http.MethodPost, "/api/v1/beams", submitBody(fmt.Sprintf("l%d", i), "c", 1))
		require.Equal(t, http.StatusCreated, rr.Code)
	}
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodPost, "/api/v1/beams/l0/begin", nil).Code)

	var ids []string
	path := "/api/v1/beams?limit=2"
	for {
		rr := s.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var page models.ListResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
		for _, rec := range page.Items {
			ids = append(ids, rec.ID)
		}
		if page.NextCursor == "" {
			break
		}
		path = "/api/v1/beams?limit=2&cursor=" + page.NextCursor
	}
	assert.Len(t, ids, 5)
	assert.ElementsMatch(t, []string{"l0", "l1", "l2", "l3", "l4"}, ids)

	rr := s.do(t, http.MethodGet, "/api/v1/beams?status=in_progress", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page models.ListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "l0", page.Items[0].ID)
	assert.Empty(t, page.NextCursor)
}

func TestListBeams_EmptyIsArray(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/api/v1/beams", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"items":[]}`, rr.Body.String())
}

func TestListBeams_BadParams(t *testing.T) {
	s := newTestServer(t)
	for _, q := range []string{"limit=0", "limit=501", "limit=ten", "status=done", "cursor=!!!"} {
		rr := s.do(t, http.MethodGet, "/api/v1/beams?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	s := newTestServer(t)
	body := "payload bytes for the beam"
	sum := sha256.Sum256([]byte(body))
	checksum := hex.EncodeToString(sum[:])

	rr := s.doJSON(t, http.MethodPost, "/api/v1/beams", map[string]any{
		"id": "p1", "checksum": checksum, "size_bytes": len(body), "content_type": "text/plain",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/v1/beams/p1/payload", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = s.do(t, http.MethodPut, "/api/v1/beams/p1/payload", strings.NewReader(body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.StatusCompleted, decodeBeam(t, rr).Status)

	rr = s.do(t, http.MethodGet, "/api/v1/beams/p1/payload", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, body, rr.Body.String())
	assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))
	assert.Equal(t, fmt.Sprint(len(body)), rr.Header().Get("Content-Length"))
}

func TestPayloadTooLarge(t *testing.T) {
	s := newTestServer(t)
	rr := s.doJSON(t, http.MethodPost, "/api/v1/beams", submitBody("big", "c", 2<<20))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = s.do(t, http.MethodPut, "/api/v1/beams/big/payload", strings.NewReader("x"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, "payload_too_large", errorCode(t, rr))
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", nil).Code)

	require.NoError(t, s.backend.Close())
	rr := s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "unavailable", errorCode(t, rr))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/v1/beams/nope", nil)

	rr := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `bitbeam_http_requests_total{endpoint="/api/v1/beams/{id}",method="GET",status="404"}`)
}

func TestUnmatchedRoutesAreCounted(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/no/such/route", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", errorCode(t, rr))

	rr = s.do(t, http.MethodPatch, "/api/v1/beams", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	body := s.do(t, http.MethodGet, "/metrics", nil).Body.String()
	assert.Contains(t, body, `bitbeam_http_requests_total{endpoint="unmatched",method="GET",status="404"}`)
	assert.Contains(t, body, `bitbeam_http_requests_total{endpoint="unmatched",method="PATCH",status="405"}`)
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.BadRequestf("x"), http.StatusBadRequest, "bad_request"},
		{fmt.Errorf("wrap: %w", domain.ErrNotFound), http.StatusNotFound, "not_found"},
		{domain.ErrConflict, http.StatusConflict, "conflict"},
		{domain.InvalidTransition("a", domain.StatusFailed, domain.StatusCompleted), http.StatusUnprocessableEntity, "invalid_transition"},
		{domain.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "payload_too_large"},
		{domain.Unavailable("get", errors.New("timeout")), http.StatusServiceUnavailable, "unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := errorStatus(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
