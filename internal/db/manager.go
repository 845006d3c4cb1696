// Package db supervises the single embedded database engine process.
package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

var (
	// ErrNotRunning is returned by accessors that need a live engine.
	ErrNotRunning = errors.New("database is not running")
	// ErrStartInProgress means another launcher holds the start lock.
	ErrStartInProgress = errors.New("another database start is in progress")
)

// Credential is a database account.
type Credential struct {
	Username string
	Password string
}

// Options configures a Manager.
type Options struct {
	Engine Engine
	Dialer Dialer

	// Schema is the application schema; its directory under the data dir
	// decides between a fresh install and reuse.
	Schema string

	// Admin is the engine superuser.
	Admin Credential

	// LockFile serialises starts across launcher processes; empty disables it.
	LockFile string
}

// Manager owns at most one engine process.
type Manager struct {
	opts Options

	mu     sync.Mutex
	handle Handle
	cfg    EngineConfig
}

// NewManager creates a manager; nothing is started.
func NewManager(opts Options) *Manager {
	if opts.Engine == nil {
		opts.Engine = &MariaDBEngine{}
	}
	if opts.Dialer == nil {
		opts.Dialer = DialMySQL
	}
	return &Manager{opts: opts}
}

// Start launches the engine on port unless one is already running. A data
// directory without the schema directory gets a fresh install first.
func (m *Manager) Start(ctx context.Context, port int, baseDir, dataDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle != nil && !m.handle.Exited() {
		log.Printf("Database already running (pid %d), start skipped", m.handle.Pid())
		return nil
	}
	m.handle = nil

	if m.opts.LockFile != "" {
		if err := os.MkdirAll(filepath.Dir(m.opts.LockFile), 0755); err != nil {
			return fmt.Errorf("create lock dir: %w", err)
		}
		fileLock := flock.New(m.opts.LockFile)
		locked, err := fileLock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire start lock: %w", err)
		}
		if !locked {
			return ErrStartInProgress
		}
		defer fileLock.Unlock()
	}

	cfg := EngineConfig{
		Port:    port,
		BaseDir: baseDir,
		DataDir: dataDir,
		Args:    DefaultArgs(),
	}

	if !m.schemaExists(dataDir) {
		if err := m.opts.Engine.Install(ctx, cfg); err != nil {
			return err
		}
	} else {
		log.Printf("Reusing database in %s", dataDir)
	}

	h, err := m.opts.Engine.Launch(ctx, cfg)
	if err != nil {
		return fmt.Errorf("launch database: %w", err)
	}
	m.handle = h
	m.cfg = cfg
	return nil
}

func (m *Manager) schemaExists(dataDir string) bool {
	info, err := os.Stat(filepath.Join(dataDir, m.opts.Schema))
	return err == nil && info.IsDir()
}

// Stop terminates the engine and discards the handle. Stopping a manager
// that was never started is not an error.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == nil {
		log.Println("Database has already been stopped")
		return nil
	}
	log.Printf("Stopping database (pid %d)", m.handle.Pid())
	m.handle.Stop()
	m.handle = nil
	return nil
}

// Handle returns the live engine, or nil.
func (m *Manager) Handle() Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil && m.handle.Exited() {
		return nil
	}
	return m.handle
}

// Running reports whether an engine is live.
func (m *Manager) Running() bool {
	return m.Handle() != nil
}

// Port returns the port of the live engine, or 0.
func (m *Manager) Port() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return 0
	}
	return m.cfg.Port
}

// Admin opens a superuser connection to the live engine.
func (m *Manager) Admin(ctx context.Context) (Executor, error) {
	m.mu.Lock()
	h, port := m.handle, m.cfg.Port
	m.mu.Unlock()

	if h == nil || h.Exited() {
		return nil, ErrNotRunning
	}
	return m.opts.Dialer(ctx, port, m.opts.Admin.Username, m.opts.Admin.Password)
}

// Bootstrap resets the admin account, creates the schema and makes sure the
// application account exists with the given password.
func (m *Manager) Bootstrap(ctx context.Context, app Credential, schema string) error {
	ex, err := m.Admin(ctx)
	if err != nil {
		return err
	}
	defer ex.Close()

	stmts := BootstrapStatements(m.opts.Admin.Username, m.opts.Admin.Password, app.Username, app.Password, schema)
	if err := Run(ctx, ex, stmts); err != nil {
		return fmt.Errorf("bootstrap accounts: %w", err)
	}
	log.Printf("Database account %s ready on schema %s", app.Username, schema)
	return nil
}

// Import sources a SQL file into schema as the admin account.
func (m *Manager) Import(ctx context.Context, schema, file string) error {
	m.mu.Lock()
	h, cfg := m.handle, m.cfg
	m.mu.Unlock()

	if h == nil || h.Exited() {
		return ErrNotRunning
	}
	return m.opts.Engine.Import(ctx, cfg, m.opts.Admin.Username, m.opts.Admin.Password, schema, file)
}
