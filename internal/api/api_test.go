package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standalone/internal/api"
	"standalone/internal/journal"
	"standalone/internal/metrics"
	"standalone/internal/service"
)

type fakeStatus struct{}

func (fakeStatus) State() service.State { return service.Running }
func (fakeStatus) Status() string       { return "Running - Web Port:8088  Database Port:3316" }

type brokenHistory struct{}

func (brokenHistory) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	return nil, errors.New("disk I/O error")
}

func setupRouter(history api.HistorySource, m http.Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api.NewServer(fakeStatus{}, history, m).Register(r)
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", path, nil)
	r.ServeHTTP(w, req)
	return w
}

// TestStatus 状态接口测试
func TestStatus(t *testing.T) {
	r := setupRouter(nil, nil)

	w := get(r, "/launcher/status")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp api.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Running", resp.State)
	assert.Contains(t, resp.Status, "Web Port:8088")

	// 未配置 metrics 时不注册路由
	assert.Equal(t, http.StatusNotFound, get(r, "/metrics").Code)
}

// TestHistory 历史接口测试
func TestHistory(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "standalone.db"))
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	require.NoError(t, j.Record(ctx, journal.Entry{From: "Stopped", To: "Starting"}))
	require.NoError(t, j.Record(ctx, journal.Entry{From: "Starting", To: "Running", WebPort: 8088, DBPort: 3316}))

	r := setupRouter(j, nil)

	w := get(r, "/launcher/history?limit=1")
	assert.Equal(t, http.StatusOK, w.Code)
	var resp api.HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "Running", resp.Entries[0].To)
	assert.Equal(t, 3316, resp.Entries[0].DBPort)

	assert.Equal(t, http.StatusBadRequest, get(r, "/launcher/history?limit=abc").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/launcher/history?limit=0").Code)
}

func TestHistoryEmptyAndErrors(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "standalone.db"))
	require.NoError(t, err)
	defer j.Close()

	w := get(setupRouter(j, nil), "/launcher/history")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"entries":[]}`, w.Body.String())

	assert.Equal(t, http.StatusServiceUnavailable, get(setupRouter(nil, nil), "/launcher/history").Code)
	assert.Equal(t, http.StatusInternalServerError, get(setupRouter(brokenHistory{}, nil), "/launcher/history").Code)
}

// TestMetricsRoute 指标接口测试
func TestMetricsRoute(t *testing.T) {
	m := metrics.NewPrometheus("standalone")
	m.Ports(8088, 3316)

	w := get(setupRouter(nil, m.Handler()), "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `standalone_port{service="web"} 8088`)
}
