// Package service runs the database engine and the web container as one unit
// and owns the launcher state machine.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"standalone/internal/db"
	"standalone/internal/journal"
	"standalone/internal/metrics"
	"standalone/internal/models"
	"standalone/internal/ports"
	"standalone/internal/props"
	"standalone/internal/seed"
)

// Paths locates the files the orchestrator manages.
type Paths struct {
	DatabaseDir  string
	DataDir      string
	SentinelFile string
	RunFile      string
	// SeedArchive resolves a seed base name such as "demodatabase" to an
	// archive path.
	SeedArchive func(name string) string
}

// Options wires an Orchestrator.
type Options struct {
	Store        *props.Store
	Database     Database
	Rotator      Rotator
	NewContainer ContainerFactory
	FrontEnd     FrontEnd

	Paths     Paths
	Overrides props.Overrides
	Fallbacks props.Fallbacks

	// Baseline is the application account restored when a database mode is
	// applied.
	Baseline db.Credential

	// Interactive opens the browser once running; otherwise the shutdown
	// command socket is awaited and Exit follows.
	Interactive bool
	OpenBrowser func(url string) error
	// Exit ends the process after shutdown. Nil leaves the process running.
	Exit func(code int)

	Journal Recorder
	Metrics metrics.Collector
}

// Result is delivered once an operation has finished.
type Result struct {
	State State
	Err   error
}

// Orchestrator owns the service state. Blocking work runs on a background
// goroutine and at most one operation is in flight at a time.
type Orchestrator struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	// 单槽：有值表示有操作正在执行
	slot chan struct{}

	mu     sync.Mutex
	state  State
	status string
	cfg    props.RuntimeConfig
	web    WebContainer

	exitOnce sync.Once
	exitDone chan struct{}
	exitErr  error
}

// New creates an orchestrator in its initial state: NeedsConfiguration when
// the database directory is missing or the sentinel marker exists, Stopped
// otherwise. Nothing is started.
func New(opts Options) *Orchestrator {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoop()
	}
	if opts.FrontEnd == nil {
		opts.FrontEnd = nopFrontEnd{}
	}
	if opts.Paths.SeedArchive == nil {
		base := filepath.Dir(opts.Paths.DatabaseDir)
		opts.Paths.SeedArchive = func(name string) string {
			return filepath.Join(base, name+".zip")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		slot:     make(chan struct{}, 1),
		state:    initialState(opts.Paths),
		exitDone: make(chan struct{}),
	}
	o.cfg = opts.Store.Snapshot(opts.Overrides, opts.Fallbacks)
	return o
}

func initialState(p Paths) State {
	if _, err := os.Stat(p.DatabaseDir); err != nil {
		return NeedsConfiguration
	}
	if p.SentinelFile != "" {
		if _, err := os.Stat(p.SentinelFile); err == nil {
			return NeedsConfiguration
		}
	}
	return Stopped
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns the last reported status text.
func (o *Orchestrator) Status() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Config returns the runtime configuration of the last start.
func (o *Orchestrator) Config() props.RuntimeConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Boot asks the front-end for a database mode when configuration is needed
// and starts the services otherwise.
func (o *Orchestrator) Boot() <-chan Result {
	if o.State() == NeedsConfiguration {
		o.setStatus("Database needs configuration")
		o.opts.FrontEnd.PromptConfigurationChoice()
		return done(Result{State: NeedsConfiguration})
	}
	return o.Start()
}

// ApplyDatabaseMode prepares the database directory for mode and then starts
// the services. It is only legal while configuration is needed.
func (o *Orchestrator) ApplyDatabaseMode(mode models.DatabaseMode) <-chan Result {
	if !o.acquire() {
		return done(Result{State: o.State(), Err: ErrOperationInFlight})
	}
	if err := o.enter(Configuring, "Configuring database..."); err != nil {
		o.release()
		return done(Result{State: o.State(), Err: err})
	}

	return o.submit("configure", func(ctx context.Context) error {
		if err := o.configure(mode); err != nil {
			log.Printf("Configuration failed: %v", err)
			o.enter(NeedsConfiguration, err.Error())
			return err
		}
		return o.start(ctx)
	})
}

// Start negotiates ports, rotates the password when requested, then starts
// the database and the web container.
func (o *Orchestrator) Start() <-chan Result {
	if !o.acquire() {
		return done(Result{State: o.State(), Err: ErrOperationInFlight})
	}
	if s := o.State(); !CanTransition(s, Starting) {
		o.release()
		return done(Result{State: s, Err: fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, Starting)})
	}
	return o.submit("start", o.start)
}

// Stop stops both services. Outside Running it does nothing.
func (o *Orchestrator) Stop() <-chan Result {
	if !o.acquire() {
		return done(Result{State: o.State(), Err: ErrOperationInFlight})
	}
	if o.State() != Running {
		o.release()
		return done(Result{State: o.State()})
	}
	if err := o.enter(Stopping, "Stopping..."); err != nil {
		o.release()
		return done(Result{State: o.State(), Err: err})
	}

	return o.submit("stop", func(ctx context.Context) error {
		o.opts.FrontEnd.SetControlsEnabled(false)
		err := o.stopServices()
		o.enter(Stopped, "Stopped")
		o.opts.FrontEnd.SetControlsEnabled(true)
		return err
	})
}

// Exit waits for the in-flight operation, stops everything and calls the
// configured exit func. Repeated calls wait for the same shutdown.
func (o *Orchestrator) Exit() <-chan Result {
	o.exitOnce.Do(func() { go o.exit() })

	ch := make(chan Result, 1)
	go func() {
		<-o.exitDone
		ch <- Result{State: ShuttingDown, Err: o.exitErr}
	}()
	return ch
}

func (o *Orchestrator) exit() {
	defer close(o.exitDone)

	// 取消正在进行的启动，然后占住单槽，之后不再接受新操作
	o.cancel()
	o.slot <- struct{}{}

	begin := time.Now()
	o.enter(ShuttingDown, "Shutting down...")
	o.opts.FrontEnd.SetControlsEnabled(false)

	err := o.stopServices()
	if o.opts.Paths.RunFile != "" {
		if rmErr := os.Remove(o.opts.Paths.RunFile); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Printf("Warning: failed to remove run state: %v", rmErr)
		}
	}
	o.opts.Metrics.OperationDuration("exit", time.Since(begin), err)
	o.exitErr = err
	log.Println("Shutdown complete")

	if o.opts.Exit != nil {
		code := 0
		if err != nil {
			code = 1
		}
		o.opts.Exit(code)
	}
}

func (o *Orchestrator) configure(mode models.DatabaseMode) error {
	log.Printf("Applying database mode %s", mode)
	p := o.opts.Paths

	if mode != models.NoChanges {
		if err := os.RemoveAll(p.DatabaseDir); err != nil {
			return fmt.Errorf("remove database directory: %w", err)
		}
		if name := mode.SeedName(); name != "" {
			archive := p.SeedArchive(name)
			if err := seed.Extract(archive, p.DatabaseDir); err != nil {
				return fmt.Errorf("extract %s: %w", filepath.Base(archive), err)
			}
		}
		o.opts.Store.ResetCredentials(o.opts.Baseline.Username, o.opts.Baseline.Password)
		if _, err := o.opts.Store.Save(); err != nil {
			return fmt.Errorf("save runtime properties: %w", err)
		}
	}

	if p.SentinelFile != "" {
		if err := os.Remove(p.SentinelFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove configuration marker: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) start(ctx context.Context) error {
	if err := o.enter(Starting, "Starting..."); err != nil {
		return err
	}
	o.opts.FrontEnd.SetControlsEnabled(false)
	defer o.opts.FrontEnd.SetControlsEnabled(true)

	web, err := o.startServices(ctx)
	if err != nil {
		// 已完成的步骤不回滚，数据库可能仍在运行
		log.Printf("Start failed: %v", err)
		o.enter(Stopped, err.Error())
		return err
	}

	cfg := o.Config()
	o.enter(Running, fmt.Sprintf("Running - Web Port:%d  Database Port:%d", cfg.WebPort, cfg.DBPort))

	if o.opts.Interactive {
		if o.opts.OpenBrowser != nil {
			url := fmt.Sprintf("http://localhost:%d/%s/", cfg.WebPort, cfg.ContextName)
			if err := o.opts.OpenBrowser(url); err != nil {
				log.Printf("Failed to open browser: %v", err)
			}
		}
		return nil
	}
	go o.awaitShutdown(web)
	return nil
}

func (o *Orchestrator) startServices(ctx context.Context) (WebContainer, error) {
	store := o.opts.Store

	overrides := o.opts.Overrides
	webReq, dbReq := o.opts.FrontEnd.Ports()
	if webReq > 0 {
		overrides.WebPort = webReq
	}
	if dbReq > 0 {
		overrides.DBPort = dbReq
	}
	cfg := store.Snapshot(overrides, o.opts.Fallbacks)

	webPort, dbPort, err := ports.Negotiate(cfg.WebPort, cfg.DBPort, o.opts.Database.Running())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPortUnavailable, err)
	}
	if webPort != cfg.WebPort || dbPort != cfg.DBPort {
		log.Printf("Ports negotiated: web %d -> %d, database %d -> %d", cfg.WebPort, webPort, cfg.DBPort, dbPort)
	}
	store.SetPorts(dbPort, webPort)
	if _, err := store.Save(); err != nil {
		return nil, fmt.Errorf("save runtime properties: %w", err)
	}
	o.opts.Metrics.Ports(webPort, dbPort)

	rotated, err := o.opts.Rotator.RotateIfRequested(ctx, store, dbPort, cfg.DBBaseDir, cfg.DBDataDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentialBootstrap, err)
	}
	if rotated {
		o.opts.Metrics.CredentialRotated()
	}

	cfg = store.Snapshot(overrides, o.opts.Fallbacks).WithPorts(webPort, dbPort)
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()

	if err := o.opts.Database.Start(ctx, dbPort, cfg.DBBaseDir, cfg.DBDataDir); err != nil {
		return nil, fmt.Errorf("start database: %w", err)
	}
	app := db.Credential{Username: cfg.DBUsername, Password: cfg.DBPassword}
	if err := o.opts.Database.Bootstrap(ctx, app, cfg.Schema); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentialBootstrap, err)
	}
	n, err := seed.ImportPending(ctx, o.opts.Database, cfg.DBDataDir, cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("import seed data: %w", err)
	}
	if n > 0 {
		log.Printf("Imported %d seed file(s) into %s", n, cfg.Schema)
	}

	web := o.opts.NewContainer(cfg.ContextName, webPort)
	if err := web.Run(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContainerStart, err)
	}
	o.mu.Lock()
	o.web = web
	o.mu.Unlock()
	return web, nil
}

// stopServices is safe when nothing was started.
func (o *Orchestrator) stopServices() error {
	o.mu.Lock()
	web := o.web
	o.web = nil
	o.mu.Unlock()

	var errs []error
	if web != nil && !web.Stop() {
		errs = append(errs, errors.New("web container did not stop cleanly"))
	}
	// 容器停止时已级联停止数据库；容器启动失败时数据库仍需在这里停止
	if err := o.opts.Database.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop database: %w", err))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) awaitShutdown(web WebContainer) {
	err := web.Await(o.ctx)
	if o.ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Printf("Warning: shutdown listener stopped: %v; send a signal to stop", err)
		return
	}
	log.Println("Shutdown command received")
	o.Exit()
}

// enter moves to state to, sets the status and records the transition.
func (o *Orchestrator) enter(to State, status string) error {
	o.mu.Lock()
	from := o.state
	if !CanTransition(from, to) {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	o.state = to
	o.status = status
	cfg := o.cfg
	o.mu.Unlock()

	log.Printf("State %s -> %s", from, to)
	o.opts.FrontEnd.ReportStatus(status)
	o.opts.Metrics.StateTransition(from.String(), to.String())

	if o.opts.Journal != nil {
		e := journal.Entry{From: from.String(), To: to.String(), Status: status}
		if to == Running {
			e.WebPort, e.DBPort = cfg.WebPort, cfg.DBPort
		}
		if err := o.opts.Journal.Record(context.Background(), e); err != nil {
			log.Printf("Warning: failed to record transition: %v", err)
		}
	}
	if to != ShuttingDown {
		o.saveRunState(to, status, cfg)
	}
	return nil
}

func (o *Orchestrator) setStatus(status string) {
	o.mu.Lock()
	o.status = status
	o.mu.Unlock()
	o.opts.FrontEnd.ReportStatus(status)
}

func (o *Orchestrator) saveRunState(state State, status string, cfg props.RuntimeConfig) {
	if o.opts.Paths.RunFile == "" {
		return
	}
	rs := &models.RunState{State: state.String(), Status: status}
	rs.Runtime.Pid = os.Getpid()
	rs.Runtime.Context = cfg.ContextName
	if state == Running {
		rs.Runtime.WebPort = cfg.WebPort
		rs.Runtime.DBPort = cfg.DBPort
		rs.Runtime.StartTime = time.Now().Format(time.RFC3339)
	}
	if err := models.SaveRunState(o.opts.Paths.RunFile, rs); err != nil {
		log.Printf("Warning: failed to save run state: %v", err)
	}
}

func (o *Orchestrator) acquire() bool {
	select {
	case o.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) release() {
	<-o.slot
}

// submit runs fn on a goroutine that already holds the slot.
func (o *Orchestrator) submit(op string, fn func(ctx context.Context) error) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		begin := time.Now()
		err := fn(o.ctx)
		o.opts.Metrics.OperationDuration(op, time.Since(begin), err)
		r := Result{State: o.State(), Err: err}
		o.release()
		ch <- r
	}()
	return ch
}

func done(r Result) <-chan Result {
	ch := make(chan Result, 1)
	ch <- r
	return ch
}

type nopFrontEnd struct{}

func (nopFrontEnd) ReportStatus(string)       {}
func (nopFrontEnd) PromptConfigurationChoice() {}
func (nopFrontEnd) Ports() (int, int)          { return 0, 0 }
func (nopFrontEnd) SetControlsEnabled(bool)    {}
