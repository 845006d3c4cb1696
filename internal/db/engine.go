package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"standalone/internal/keeper"
)

// ErrEngineNotFound is returned when no server binary can be located.
var ErrEngineNotFound = errors.New("database engine binary not found")

// EngineConfig describes one engine instance.
type EngineConfig struct {
	Port    int
	BaseDir string
	DataDir string
	Args    []string
}

// DefaultArgs are passed to every engine instance.
func DefaultArgs() []string {
	return []string{
		"--max_allowed_packet=96M",
		"--collation-server=utf8_general_ci",
		"--character-set-server=utf8",
	}
}

// Handle is a live engine process.
type Handle interface {
	Pid() int
	Done() <-chan struct{}
	Exited() bool
	Stop()
}

// Engine installs, launches and feeds SQL files to a MySQL-compatible server.
type Engine interface {
	Install(ctx context.Context, cfg EngineConfig) error
	Launch(ctx context.Context, cfg EngineConfig) (Handle, error)
	Import(ctx context.Context, cfg EngineConfig, user, password, schema, file string) error
}

// MariaDBEngine runs MariaDB (or MySQL) binaries found under the base
// directory or on PATH.
type MariaDBEngine struct {
	// PollInterval controls the readiness probe; zero means 200ms.
	PollInterval time.Duration
}

var (
	installNames = []string{"mariadb-install-db", "mysql_install_db"}
	serverNames  = []string{"mariadbd", "mysqld"}
	clientNames  = []string{"mariadb", "mysql"}
)

// locate 先查 <base>/bin、<base>/scripts，再查 PATH
func locate(baseDir string, names []string) (string, bool, error) {
	ext := ""
	if runtime.GOOS == "windows" {
		ext = ".exe"
	}
	if baseDir != "" {
		for _, sub := range []string{"bin", "scripts"} {
			for _, n := range names {
				p := filepath.Join(baseDir, sub, n+ext)
				if info, err := os.Stat(p); err == nil && !info.IsDir() {
					return p, true, nil
				}
			}
		}
	}
	for _, n := range names {
		if p, err := exec.LookPath(n); err == nil {
			return p, false, nil
		}
	}
	return "", false, fmt.Errorf("%v: %w", names, ErrEngineNotFound)
}

func commonArgs(cfg EngineConfig, bundled bool) []string {
	args := []string{"--no-defaults"}
	if bundled {
		args = append(args, "--basedir="+cfg.BaseDir)
	}
	return append(args, "--datadir="+cfg.DataDir)
}

// Install initialises the system tables in an empty data directory.
func (e *MariaDBEngine) Install(ctx context.Context, cfg EngineConfig) error {
	bin, bundled, err := locate(cfg.BaseDir, installNames)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	// 系统表已存在时只缺应用 schema，由 bootstrap 创建
	if info, err := os.Stat(filepath.Join(cfg.DataDir, "mysql")); err == nil && info.IsDir() {
		log.Printf("System tables already present in %s, install skipped", cfg.DataDir)
		return nil
	}

	args := commonArgs(cfg, bundled)
	args = append(args, "--auth-root-authentication-method=normal", "--skip-test-db")
	if u := runAsUser(); u != "" {
		args = append(args, "--user="+u)
	}

	log.Printf("Installing database into %s", cfg.DataDir)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = keeper.LogWriter("db-install")
	cmd.Stderr = keeper.LogWriter("db-install")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("install database: %w", err)
	}
	return nil
}

// Launch starts the server and blocks until it accepts connections, exits, or
// ctx is cancelled.
func (e *MariaDBEngine) Launch(ctx context.Context, cfg EngineConfig) (Handle, error) {
	bin, bundled, err := locate(cfg.BaseDir, serverNames)
	if err != nil {
		return nil, err
	}

	args := commonArgs(cfg, bundled)
	args = append(args,
		"--port="+strconv.Itoa(cfg.Port),
		"--bind-address=127.0.0.1",
		"--pid-file="+filepath.Join(cfg.DataDir, "engine.pid"),
	)
	if runtime.GOOS != "windows" {
		args = append(args, "--socket="+filepath.Join(cfg.DataDir, "engine.sock"))
	}
	if u := runAsUser(); u != "" {
		args = append(args, "--user="+u)
	}
	args = append(args, cfg.Args...)

	cmd := keeper.NewJobCmd(bin, args...)
	cmd.Group = true
	cmd.Stdout = keeper.LogWriter("db")
	cmd.Stderr = keeper.LogWriter("db")

	proc, err := keeper.Spawn("database", cmd)
	if err != nil {
		return nil, err
	}
	log.Printf("Database process started (pid %d, port %d)", proc.Pid(), cfg.Port)

	if err := waitReady(ctx, cfg.Port, proc, e.PollInterval); err != nil {
		proc.Stop()
		return nil, err
	}
	return proc, nil
}

// Import feeds a SQL file to the schema through the command-line client.
func (e *MariaDBEngine) Import(ctx context.Context, cfg EngineConfig, user, password, schema, file string) error {
	bin, _, err := locate(cfg.BaseDir, clientNames)
	if err != nil {
		return err
	}
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	args := []string{
		"--no-defaults",
		"--protocol=tcp",
		"--host=127.0.0.1",
		"--port=" + strconv.Itoa(cfg.Port),
		"--user=" + user,
	}
	if password != "" {
		args = append(args, "--password="+password)
	}
	args = append(args, schema)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = f
	cmd.Stdout = keeper.LogWriter("db-import")
	cmd.Stderr = keeper.LogWriter("db-import")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("import %s: %w", filepath.Base(file), err)
	}
	return nil
}

func waitReady(ctx context.Context, port int, proc Handle, interval time.Duration) error {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", addr, interval)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-proc.Done():
			return errors.New("database process exited before accepting connections")
		case <-ticker.C:
		}
	}
}
