package webapp

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type countingStopper struct{ stops int }

func (s *countingStopper) Stop() error {
	s.stops++
	return nil
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", path, nil)
	h.ServeHTTP(w, req)
	return w
}

// TestHealthCheck 健康检查接口
func TestHealthCheck(t *testing.T) {
	c := New("clinic", 0, Options{})
	w := get(t, c.Handler(), "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "UP")
	assert.Contains(t, w.Body.String(), "clinic")
}

func TestRootRedirectsToContext(t *testing.T) {
	c := New("/clinic/", 0, Options{})
	assert.Equal(t, "clinic", c.ContextName())

	w := get(t, c.Handler(), "/")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/clinic/", w.Header().Get("Location"))
}

func TestNotDeployedBeforeRun(t *testing.T) {
	c := New("clinic", 0, Options{})
	w := get(t, c.Handler(), "/clinic/index.html")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestExtraRoutes(t *testing.T) {
	c := New("clinic", 0, Options{Routes: func(r *gin.Engine) {
		r.GET("/launcher/ping", func(ctx *gin.Context) { ctx.String(http.StatusOK, "pong") })
	}})
	w := get(t, c.Handler(), "/launcher/ping")
	assert.Equal(t, "pong", w.Body.String())
}

// TestRunServesDirectoryAndStopCascades 目录应用可访问，Stop 级联停止数据库
func TestRunServesDirectoryAndStopCascades(t *testing.T) {
	webapps := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(webapps, "clinic"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(webapps, "clinic", "index.html"), []byte("hello clinic"), 0644))

	database := &countingStopper{}
	c := New("clinic", 0, Options{
		WebappsDir: webapps,
		WorkDir:    filepath.Join(t.TempDir(), "work"),
		Host:       "127.0.0.1",
		Database:   database,
	})

	require.NoError(t, c.Run(context.Background()))
	assert.True(t, c.Running())
	assert.ErrorIs(t, c.Run(context.Background()), ErrAlreadyRunning)

	resp, err := http.Get(fmt.Sprintf("http://%s/clinic/index.html", c.Addr()))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "hello clinic", string(body))

	assert.True(t, c.Stop())
	assert.False(t, c.Running())
	assert.Equal(t, 1, database.stops)

	// 未运行时 Stop 不再级联
	assert.True(t, c.Stop())
	assert.Equal(t, 1, database.stops)
}

func TestRunFailsOnBusyPort(t *testing.T) {
	busy := New("clinic", 0, Options{Host: "127.0.0.1"})
	require.NoError(t, busy.Run(context.Background()))
	defer busy.Stop()

	port := busy.Addr().(*net.TCPAddr).Port
	c := New("clinic", port, Options{Host: "127.0.0.1"})
	assert.Error(t, c.Run(context.Background()))
	assert.False(t, c.Running())
}

// TestRunUnpacksWar war 包解压到工作目录
func TestRunUnpacksWar(t *testing.T) {
	webapps := t.TempDir()
	out, err := os.Create(filepath.Join(webapps, "clinic.war"))
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	f, _ := zw.Create("index.html")
	f.Write([]byte("from war"))
	require.NoError(t, zw.Close())
	out.Close()

	work := filepath.Join(t.TempDir(), "work")
	require.NoError(t, os.MkdirAll(filepath.Join(work, "stale"), 0755))

	c := New("clinic", 0, Options{WebappsDir: webapps, WorkDir: work, Host: "127.0.0.1"})
	require.NoError(t, c.Run(context.Background()))
	defer c.Stop()

	assert.NoDirExists(t, filepath.Join(work, "stale"))
	w := get(t, c.Handler(), "/clinic/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "from war", w.Body.String())
}

// TestGitHandler 从仓库 HEAD 读取文件
func TestGitHandler(t *testing.T) {
	repoDir := filepath.Join(t.TempDir(), "clinic.git")
	repo, err := git.PlainInit(repoDir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "index.html"), []byte("<h1>git</h1>"), 0644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("index.html")
	require.NoError(t, err)
	_, err = wt.Commit("init", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	h := NewGitHandler(repoDir)
	w := get(t, h, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<h1>git</h1>", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	w = get(t, h, "/missing.js")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(t, NewGitHandler(filepath.Join(t.TempDir(), "none.git")), "/")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDiscoverContext(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "fallback", DiscoverContext(filepath.Join(dir, "missing"), "fallback"))
	assert.Equal(t, "fallback", DiscoverContext(dir, "fallback"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "clinic.war"), nil, 0644))
	assert.Equal(t, "clinic", DiscoverContext(dir, "fallback"))

	gitDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(gitDir, "portal.git"), 0755))
	assert.Equal(t, "portal", DiscoverContext(gitDir, "fallback"))
}
