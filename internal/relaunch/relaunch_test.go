package relaunch

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standalone/internal/service"
)

const (
	helperEnv = "STANDALONE_RELAUNCH_HELPER"
	parentEnv = "STANDALONE_RELAUNCH_PARENT"
	markerEnv = "STANDALONE_RELAUNCH_MARKER"
)

// TestMain 在子进程模式下充当被重启的程序，在父进程模式下充当默认入口
func TestMain(m *testing.M) {
	switch {
	case os.Getenv(helperEnv) == "1":
		os.Exit(helper(os.Args[1:]))
	case os.Getenv(parentEnv) == "1":
		os.Exit(relaunchParent())
	}
	os.Exit(m.Run())
}

// relaunchParent 以 run 重启自身并返回子进程退出码
func relaunchParent() int {
	os.Unsetenv(parentEnv)
	os.Setenv(helperEnv, "1")
	code, err := Run(Options{Executable: os.Args[0], Args: []string{"graceful"}})
	if err != nil {
		return 99
	}
	return code
}

func helper(args []string) int {
	if len(args) == 0 || args[0] != RunCommand {
		fmt.Fprintln(os.Stderr, "missing run subcommand")
		return 2
	}
	switch args[len(args)-1] {
	case "streams":
		fmt.Fprintln(os.Stdout, "out 1")
		fmt.Fprintln(os.Stderr, "err 1")
		fmt.Fprintln(os.Stdout, "out 2")
		fmt.Fprintln(os.Stderr, "err 2")
		return 7
	case "echo":
		io.Copy(os.Stdout, os.Stdin)
		return 0
	case "graceful":
		// 收到信号后延迟完成关闭流程，再写标记文件
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		fmt.Println("ready")
		sig := <-sigCh
		time.Sleep(300 * time.Millisecond)
		if err := os.WriteFile(os.Getenv(markerEnv), []byte(sig.String()), 0644); err != nil {
			return 4
		}
		return 5
	case "args":
		fmt.Println(strings.Join(args, " "))
		fmt.Println(os.Getenv("GOMEMLIMIT"), os.Getenv("GOGC"))
		return 0
	}
	return 3
}

func runHelper(t *testing.T, limits Limits, stdin string, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv(helperEnv, "1")

	var stdout, stderr bytes.Buffer
	code, err := Run(Options{
		Executable: os.Args[0],
		Limits:     limits,
		Args:       args,
		Stdin:      strings.NewReader(stdin),
		Stdout:     &stdout,
		Stderr:     &stderr,
	})
	require.NoError(t, err)
	return code, stdout.String(), stderr.String()
}

// TestRelaunchStreamsAndExitCode 子进程的两路输出按各自顺序转发，退出码一致
func TestRelaunchStreamsAndExitCode(t *testing.T) {
	code, out, errOut := runHelper(t, Limits{}, "", "streams")
	assert.Equal(t, 7, code)
	assert.Equal(t, "out 1\nout 2\n", out)
	assert.Equal(t, "err 1\nerr 2\n", errOut)
}

// TestRelaunchStdin 父进程输入转发到子进程
func TestRelaunchStdin(t *testing.T) {
	code, out, _ := runHelper(t, Limits{}, "hello\nworld\n", "echo")
	assert.Equal(t, 0, code)
	assert.Equal(t, "hello\nworld\n", out)
}

// TestRelaunchInjectsLimits 限制参数位于用户参数之前，并通过环境变量传递
func TestRelaunchInjectsLimits(t *testing.T) {
	limits := Limits{MemoryLimit: 512 << 20, GCPercent: 80}
	code, out, _ := runHelper(t, limits, "", "--non-interactive", "--web-port", "9090", "args")
	assert.Equal(t, 0, code)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "run --memory-limit=512MiB --gc-percent=80 --non-interactive --web-port 9090 args", lines[0])
	assert.Equal(t, "536870912 80", lines[1])
}

// TestRelaunchSpawnFailure 启动失败时报告到错误流
func TestRelaunchSpawnFailure(t *testing.T) {
	var stderr bytes.Buffer
	code, err := Run(Options{
		Executable: "/nonexistent/standalone-binary",
		Stdin:      strings.NewReader(""),
		Stdout:     io.Discard,
		Stderr:     &stderr,
	})
	assert.Equal(t, -1, code)
	assert.ErrorIs(t, err, service.ErrProcessSpawn)
	assert.Contains(t, stderr.String(), "Failed to relaunch")
}

func TestParseLimits(t *testing.T) {
	l, err := ParseLimits("--memory-limit=1GiB --gc-percent=50 --verbose")
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<30), l.MemoryLimit)
	assert.Equal(t, 50, l.GCPercent)
	assert.Equal(t, []string{"--memory-limit=1.0GiB", "--gc-percent=50"}, l.Flags())
	assert.Equal(t, []string{"GOMEMLIMIT=1073741824", "GOGC=50"}, l.Env())

	l, err = ParseLimits("")
	require.NoError(t, err)
	assert.Empty(t, l.Flags())
	assert.Empty(t, l.Env())

	_, err = ParseLimits("--memory-limit=lots")
	assert.Error(t, err)
	_, err = ParseLimits("--gc-percent=x")
	assert.Error(t, err)
}
