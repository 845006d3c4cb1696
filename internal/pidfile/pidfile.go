// Package pidfile records the launcher pid for external tooling.
package pidfile

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// ErrLocked means another launcher holds the lock next to the pid file.
var ErrLocked = errors.New("pid file is locked by another instance")

// PidFile is a written pid file plus its lock.
type PidFile struct {
	path string
	lock *flock.Flock
}

// Write stores the current pid in path. The lock file path+".lock" is held
// until Remove; when another process holds it a warning is logged and
// ErrLocked is returned together with a usable PidFile.
func Write(path string) (*PidFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}

	p := &PidFile{path: path, lock: flock.New(path + ".lock")}
	locked, err := p.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock pid file: %w", err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		p.lock.Unlock()
		return nil, fmt.Errorf("write pid file: %w", err)
	}

	if !locked {
		log.Printf("Warning: another instance appears to be running (lock %s is held)", p.lock.Path())
		return p, ErrLocked
	}
	return p, nil
}

// Read returns the pid stored in path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file: %w", err)
	}
	return pid, nil
}

// Remove deletes the pid file and releases the lock. Safe on nil.
func (p *PidFile) Remove() {
	if p == nil {
		return
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to remove pid file: %v", err)
	}
	if p.lock.Locked() {
		p.lock.Unlock()
		os.Remove(p.lock.Path())
	}
}
