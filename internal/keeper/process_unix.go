//go:build !windows

package keeper

import (
	"os/exec"
	"syscall"
)

// JobCmd wraps exec.Cmd so the child dies with the launcher
type JobCmd struct {
	*exec.Cmd

	// Group puts the child in its own process group so Terminate reaches
	// everything it spawned. Leave it off for children that share our terminal.
	Group bool

	// Detached lets the child outlive us so it can finish its own shutdown
	// when we are signalled.
	Detached bool
}

func NewJobCmd(name string, arg ...string) *JobCmd {
	return &JobCmd{
		Cmd: exec.Command(name, arg...),
	}
}

func (j *JobCmd) Start() error {
	if j.Cmd.SysProcAttr == nil {
		j.Cmd.SysProcAttr = &syscall.SysProcAttr{}
	}

	// Linux: 父进程退出时子进程收到 SIGKILL
	if !j.Detached {
		j.Cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL
	}
	j.Cmd.SysProcAttr.Setpgid = j.Group

	return j.Cmd.Start()
}

// Terminate asks the child (or its group) to exit with SIGTERM.
func (j *JobCmd) Terminate() error {
	if j.Cmd.Process == nil {
		return nil
	}
	if j.Group {
		return syscall.Kill(-j.Cmd.Process.Pid, syscall.SIGTERM)
	}
	return j.Cmd.Process.Signal(syscall.SIGTERM)
}

// Release is a no-op on unix.
func (j *JobCmd) Release() {}
