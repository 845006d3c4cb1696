//go:build windows

package keeper

import (
	"fmt"
	"os/exec"
	"syscall"
	"unsafe"
)

// JobCmd wraps exec.Cmd to ensure it runs in a Job Object
type JobCmd struct {
	*exec.Cmd

	// Group is accepted for parity with unix; the job object already covers
	// every descendant.
	Group bool

	// Detached skips the job object so the child is not killed when we exit.
	Detached bool

	jobHandle syscall.Handle
}

func NewJobCmd(name string, arg ...string) *JobCmd {
	return &JobCmd{
		Cmd: exec.Command(name, arg...),
	}
}

func (j *JobCmd) Start() error {
	if j.Detached {
		return j.Cmd.Start()
	}

	job, err := CreateJobObject(nil, nil)
	if err != nil {
		return fmt.Errorf("CreateJobObject failed: %w", err)
	}
	j.jobHandle = job

	// 关闭句柄时杀死作业内所有进程
	info := JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := SetInformationJobObject(job, JobObjectExtendedLimitInformation, uintptr(unsafe.Pointer(&info)), uint32(unsafe.Sizeof(info))); err != nil {
		syscall.CloseHandle(job)
		return fmt.Errorf("SetInformationJobObject failed: %w", err)
	}

	if err := j.Cmd.Start(); err != nil {
		syscall.CloseHandle(job)
		return err
	}

	// PROCESS_SET_QUOTA | PROCESS_TERMINATE
	processHandle, err := syscall.OpenProcess(0x100|0x1, false, uint32(j.Cmd.Process.Pid))
	if err != nil {
		j.Cmd.Process.Kill()
		syscall.CloseHandle(job)
		return fmt.Errorf("OpenProcess failed: %w", err)
	}
	defer syscall.CloseHandle(processHandle)

	// a child spawned before this call escapes the job; the engines we run
	// do not fork during startup
	if err := AssignProcessToJobObject(job, processHandle); err != nil {
		j.Cmd.Process.Kill()
		syscall.CloseHandle(job)
		return fmt.Errorf("AssignProcessToJobObject failed: %w", err)
	}

	return nil
}

// Terminate kills the process; Windows has no SIGTERM equivalent for
// console-less children.
func (j *JobCmd) Terminate() error {
	if j.Cmd.Process == nil {
		return nil
	}
	return j.Cmd.Process.Kill()
}

// Release closes the job handle, killing anything still inside it.
func (j *JobCmd) Release() {
	if j.jobHandle != 0 {
		syscall.CloseHandle(j.jobHandle)
		j.jobHandle = 0
	}
}

// Windows API definitions
var (
	modkernel32                  = syscall.NewLazyDLL("kernel32.dll")
	procCreateJobObjectW         = modkernel32.NewProc("CreateJobObjectW")
	procSetInformationJobObject  = modkernel32.NewProc("SetInformationJobObject")
	procAssignProcessToJobObject = modkernel32.NewProc("AssignProcessToJobObject")
)

func CreateJobObject(attr *syscall.SecurityAttributes, name *uint16) (syscall.Handle, error) {
	r1, _, err := procCreateJobObjectW.Call(
		uintptr(unsafe.Pointer(attr)),
		uintptr(unsafe.Pointer(name)),
	)
	if r1 == 0 {
		return 0, err
	}
	return syscall.Handle(r1), nil
}

func SetInformationJobObject(job syscall.Handle, infoType uint32, info uintptr, size uint32) (bool, error) {
	r1, _, err := procSetInformationJobObject.Call(
		uintptr(job),
		uintptr(infoType),
		info,
		uintptr(size),
	)
	if r1 == 0 {
		return false, err
	}
	return true, nil
}

func AssignProcessToJobObject(job syscall.Handle, process syscall.Handle) error {
	r1, _, err := procAssignProcessToJobObject.Call(
		uintptr(job),
		uintptr(process),
	)
	if r1 == 0 {
		return err
	}
	return nil
}

const (
	JobObjectExtendedLimitInformation  = 9
	JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE = 0x2000
)

type IO_COUNTERS struct {
	ReadOperationCount  uint64
	WriteOperationCount uint64
	OtherOperationCount uint64
	ReadTransferCount   uint64
	WriteTransferCount  uint64
	OtherTransferCount  uint64
}

type JOBOBJECT_BASIC_LIMIT_INFORMATION struct {
	PerProcessUserTimeLimit int64
	PerJobUserTimeLimit     int64
	LimitFlags              uint32
	MinimumWorkingSetSize   uintptr
	MaximumWorkingSetSize   uintptr
	ActiveProcessLimit      uint32
	Affinity                uintptr
	PriorityClass           uint32
	SchedulingClass         uint32
}

type JOBOBJECT_EXTENDED_LIMIT_INFORMATION struct {
	BasicLimitInformation JOBOBJECT_BASIC_LIMIT_INFORMATION
	IoInfo                IO_COUNTERS
	ProcessMemoryLimit    uintptr
	JobMemoryLimit        uintptr
	PeakProcessMemoryUsed uintptr
	PeakJobMemoryUsed     uintptr
}
