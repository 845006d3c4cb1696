// Package relaunch re-executes the launcher with runtime limits that only take
// effect when a process starts.
package relaunch

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"

	"standalone/internal/keeper"
	"standalone/internal/service"
)

// RunCommand is the subcommand the child is started with.
const RunCommand = "run"

// Limits are the runtime size settings handed to the child.
type Limits struct {
	MemoryLimit uint64 // bytes, 0 = unlimited
	GCPercent   int    // 0 = runtime default
}

// ParseLimits reads "--memory-limit=512MiB --gc-percent=100" style arguments.
// Unknown words are ignored.
func ParseLimits(s string) (Limits, error) {
	var l Limits
	for _, f := range strings.Fields(s) {
		name, value, ok := strings.Cut(strings.TrimLeft(f, "-"), "=")
		if !ok {
			continue
		}
		switch name {
		case "memory-limit":
			n, err := humanize.ParseBytes(value)
			if err != nil {
				return l, fmt.Errorf("memory limit %q: %w", value, err)
			}
			l.MemoryLimit = n
		case "gc-percent":
			n, err := strconv.Atoi(value)
			if err != nil {
				return l, fmt.Errorf("gc percent %q: %w", value, err)
			}
			l.GCPercent = n
		}
	}
	return l, nil
}

// Flags returns the limits as command-line flags for the run subcommand.
func (l Limits) Flags() []string {
	var flags []string
	if l.MemoryLimit > 0 {
		flags = append(flags, "--memory-limit="+strings.ReplaceAll(humanize.IBytes(l.MemoryLimit), " ", ""))
	}
	if l.GCPercent != 0 {
		flags = append(flags, "--gc-percent="+strconv.Itoa(l.GCPercent))
	}
	return flags
}

// Env returns GOMEMLIMIT and GOGC so the runtime applies the limits before
// main runs.
func (l Limits) Env() []string {
	var env []string
	if l.MemoryLimit > 0 {
		env = append(env, "GOMEMLIMIT="+strconv.FormatUint(l.MemoryLimit, 10))
	}
	if l.GCPercent != 0 {
		env = append(env, "GOGC="+strconv.Itoa(l.GCPercent))
	}
	return env
}

// Apply sets the limits on the running process. Used when the run subcommand
// is started directly rather than through Run.
func (l Limits) Apply() {
	if l.MemoryLimit > 0 && os.Getenv("GOMEMLIMIT") == "" {
		debug.SetMemoryLimit(int64(l.MemoryLimit))
	}
	if l.GCPercent != 0 && os.Getenv("GOGC") == "" {
		debug.SetGCPercent(l.GCPercent)
	}
}

// Options configures Run.
type Options struct {
	// Executable defaults to the running binary.
	Executable string
	Limits     Limits
	// Args are passed after the run subcommand and the limit flags.
	Args []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Run starts the child, pumps the three standard streams and waits for it.
// It returns the child's exit code. The child is not tied to our lifetime:
// SIGTERM is forwarded and SIGINT is left to the child, which gets it from
// the terminal, so its shutdown runs to completion. On spawn failure the
// partial child is killed, the error is written to Stderr and -1 is returned.
func Run(opts Options) (int, error) {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	exe := opts.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return fail(opts.Stderr, nil, err)
		}
	}

	args := append([]string{RunCommand}, opts.Limits.Flags()...)
	args = append(args, opts.Args...)

	cmd := keeper.NewJobCmd(exe, args...)
	cmd.Detached = true
	cmd.Env = append(os.Environ(), opts.Limits.Env()...)

	// 先注册信号，启动前到达的信号也会转发
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(opts.Stderr, cmd, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail(opts.Stderr, cmd, err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fail(opts.Stderr, cmd, err)
	}

	if err := cmd.Start(); err != nil {
		return fail(opts.Stderr, cmd, err)
	}
	defer cmd.Release()
	log.Printf("Relaunched %s (pid %d) with %v", exe, cmd.Process.Pid, opts.Limits.Flags())

	exited := make(chan struct{})
	defer close(exited)
	go forwardSignals(cmd, sigCh, exited)

	// 输出泵必须在 Wait 之前读完
	var wg sync.WaitGroup
	wg.Add(2)
	go pump(&wg, opts.Stdout, stdout)
	go pump(&wg, opts.Stderr, stderr)

	// 输入泵随父进程 stdin 结束，不参与等待
	go func() {
		io.Copy(stdin, opts.Stdin)
		stdin.Close()
	}()

	wg.Wait()
	err = cmd.Wait()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return -1, err
	}
}

func forwardSignals(cmd *keeper.JobCmd, sigCh <-chan os.Signal, exited <-chan struct{}) {
	for {
		select {
		case <-exited:
			return
		case sig := <-sigCh:
			if sig == os.Interrupt {
				log.Println("Interrupt received, waiting for the launcher to shut down")
				continue
			}
			log.Printf("Forwarding %v to pid %d", sig, cmd.Process.Pid)
			if err := cmd.Process.Signal(sig); err != nil {
				log.Printf("Failed to forward %v: %v", sig, err)
			}
		}
	}
}

func pump(wg *sync.WaitGroup, dst io.Writer, src io.Reader) {
	defer wg.Done()
	io.Copy(dst, src)
}

func fail(stderr io.Writer, cmd *keeper.JobCmd, err error) (int, error) {
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
	err = fmt.Errorf("%w: %v", service.ErrProcessSpawn, err)
	fmt.Fprintf(stderr, "Failed to relaunch: %v\n", err)
	return -1, err
}
