package keeper

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"sync"
)

// Process is a started child that is watched until it exits.
type Process struct {
	Name string
	cmd  *JobCmd

	done     chan struct{}
	waitErr  error
	stopOnce sync.Once
}

// Spawn starts cmd and begins watching it.
func Spawn(name string, cmd *JobCmd) (*Process, error) {
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	p := &Process{
		Name: name,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go p.watch()
	return p, nil
}

func (p *Process) watch() {
	p.waitErr = p.cmd.Wait()
	log.Printf("%s (pid %d) exited: %v", p.Name, p.Pid(), p.waitErr)
	p.cmd.Release()
	close(p.done)
}

// Pid returns the child process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once the child has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the wait error; only meaningful after Done is closed.
func (p *Process) Err() error {
	<-p.done
	return p.waitErr
}

// Exited reports whether the child is gone.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stop terminates the child and blocks until it has exited.
func (p *Process) Stop() {
	p.stopOnce.Do(func() {
		if p.Exited() {
			return
		}
		if err := p.cmd.Terminate(); err != nil {
			log.Printf("terminate %s: %v", p.Name, err)
			if p.cmd.Process != nil {
				p.cmd.Process.Kill()
			}
		}
	})
	<-p.done
}

// LogWriter returns a writer that forwards each line to the standard logger
// with a prefix.
func LogWriter(prefix string) io.Writer {
	return &lineLogger{prefix: prefix}
}

type lineLogger struct {
	mu     sync.Mutex
	prefix string
	buf    bytes.Buffer
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Write(p)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			// 不完整的行放回缓冲区
			l.buf.Reset()
			l.buf.WriteString(line)
			break
		}
		log.Printf("[%s] %s", l.prefix, line[:len(line)-1])
	}
	return len(p), nil
}
