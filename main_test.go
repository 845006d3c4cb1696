package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standalone/config"
	"standalone/internal/db"
	"standalone/internal/models"
)

type stubHandle struct {
	done chan struct{}
	once sync.Once
}

func (h *stubHandle) Pid() int              { return 4242 }
func (h *stubHandle) Done() <-chan struct{} { return h.done }
func (h *stubHandle) Stop()                 { h.once.Do(func() { close(h.done) }) }
func (h *stubHandle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

type stubEngine struct{}

func (stubEngine) Install(ctx context.Context, cfg db.EngineConfig) error { return nil }
func (stubEngine) Launch(ctx context.Context, cfg db.EngineConfig) (db.Handle, error) {
	return &stubHandle{done: make(chan struct{})}, nil
}
func (stubEngine) Import(ctx context.Context, cfg db.EngineConfig, user, password, schema, file string) error {
	return nil
}

type stubExec struct{}

func (stubExec) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}
func (stubExec) Close() error { return nil }

// restoreConfig 测试结束后恢复全局配置
func restoreConfig(t *testing.T) {
	t.Helper()
	home, propsFile, shutdownPort := config.Home, config.PropertiesFile, config.ShutdownPort
	signals := shutdownSignals
	t.Cleanup(func() {
		config.SetHome(home)
		config.PropertiesFile = propsFile
		config.ShutdownPort = shutdownPort
		shutdownSignals = signals
		databaseEngine = nil
		databaseDialer = nil
	})
}

// TestSignalRunsShutdownSequence SIGTERM 走与用户退出相同的停止流程，退出码为 0 且清理 pid 文件
func TestSignalRunsShutdownSequence(t *testing.T) {
	restoreConfig(t)
	home := t.TempDir()
	config.PropertiesFile = filepath.Join(home, "standalone-runtime.properties")
	config.ShutdownPort = 0
	databaseEngine = stubEngine{}
	databaseDialer = func(ctx context.Context, port int, user, password string) (db.Executor, error) {
		return stubExec{}, nil
	}
	sigCh := make(chan os.Signal, 1)
	shutdownSignals = func() (<-chan os.Signal, func()) { return sigCh, func() {} }

	codeCh := make(chan int, 1)
	go func() {
		codeCh <- runLauncher(runOptions{home: home, nonInteractive: true, mode: "nochanges"})
	}()

	runFile := filepath.Join(home, "run.yml")
	pidFile := filepath.Join(home, ".standalone.pid")
	require.Eventually(t, func() bool {
		rs, err := models.LoadRunState(runFile)
		return err == nil && rs.State == "Running"
	}, 10*time.Second, 20*time.Millisecond)
	assert.FileExists(t, pidFile)

	sigCh <- syscall.SIGTERM

	select {
	case code := <-codeCh:
		assert.Equal(t, 0, code)
	case <-time.After(10 * time.Second):
		t.Fatal("launcher did not exit after SIGTERM")
	}
	assert.NoFileExists(t, pidFile)
	assert.NoFileExists(t, runFile)
}

func TestHomeFromArgs(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{nil, ""},
		{[]string{"--non-interactive", "--home", "/srv/app"}, "/srv/app"},
		{[]string{"--home=/srv/app", "--web-port", "9090"}, "/srv/app"},
		{[]string{"--home"}, ""},
		{[]string{"--", "--home", "/ignored"}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, homeFromArgs(tt.args), "args %v", tt.args)
	}
}

// TestRuntimeArgumentsFollowHomeArgument 父进程按 --home 指定的目录读取 runtime_arguments
func TestRuntimeArgumentsFollowHomeArgument(t *testing.T) {
	restoreConfig(t)
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "standalone-runtime.properties"),
		[]byte("runtime_arguments=--memory-limit=1GiB --gc-percent=50\n"), 0600))

	config.PropertiesFile = ""
	config.SetHome(homeFromArgs([]string{"--non-interactive", "--home", home}))
	assert.Equal(t, "--memory-limit=1GiB --gc-percent=50", runtimeArguments())

	config.PropertiesFile = filepath.Join(t.TempDir(), "missing.properties")
	assert.Equal(t, config.DefaultRuntimeArgs, runtimeArguments())
}
