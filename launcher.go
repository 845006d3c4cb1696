package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/pkg/browser"

	"standalone/config"
	"standalone/internal/api"
	"standalone/internal/console"
	"standalone/internal/credential"
	"standalone/internal/db"
	"standalone/internal/journal"
	"standalone/internal/metrics"
	"standalone/internal/models"
	"standalone/internal/pidfile"
	"standalone/internal/props"
	"standalone/internal/relaunch"
	"standalone/internal/service"
	"standalone/internal/webapp"
)

// 测试中替换为假引擎
var (
	databaseEngine db.Engine
	databaseDialer db.Dialer
)

// shutdownSignals 注册进程退出信号，返回信号通道和注销函数
var shutdownSignals = func() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

type runOptions struct {
	home           string
	commandLine    bool
	nonInteractive bool
	mode           string
	webPort        int
	dbPort         int
	contextName    string
	memoryLimit    string
	gcPercent      int
}

// runLauncher wires everything together and blocks until shutdown. It
// returns the process exit code.
func runLauncher(o runOptions) int {
	if o.home != "" {
		config.SetHome(o.home)
	}
	initDirectories()
	initLogging()
	applyLimits(o)
	gin.SetMode(gin.ReleaseMode)

	log.Println("Starting standalone launcher...")

	mode, err := models.ParseDatabaseMode(o.mode)
	if err != nil {
		log.Printf("Invalid --mode: %v", err)
		return 2
	}

	path := props.Locate(config.PropertiesFile, config.Home, config.AppName)
	store, err := props.Open(path, props.DefaultValues(
		config.DefaultSchema, config.DefaultAppUser, config.BaselinePassword,
		config.DefaultDBPort, config.DefaultWebPort))
	if err != nil {
		log.Printf("Failed to read runtime properties %s: %v", path, err)
		return 1
	}
	log.Printf("Runtime properties: %s", store.Path())

	overrides := props.Overrides{WebPort: o.webPort, DBPort: o.dbPort, ContextName: o.contextName}
	fallbacks := props.Fallbacks{
		WebPort:     config.DefaultWebPort,
		DBPort:      config.DefaultDBPort,
		Schema:      config.DefaultSchema,
		ContextName: webapp.DiscoverContext(config.WebappsDir, config.AppName),
		DBBaseDir:   config.EngineDir,
		DBDataDir:   config.DataDir,
		RuntimeArgs: config.DefaultRuntimeArgs,
	}
	cfg := store.Snapshot(overrides, fallbacks)

	interactive := !o.nonInteractive
	var pid *pidfile.PidFile
	if !interactive {
		pid, err = pidfile.Write(config.PidFile)
		if err != nil && !errors.Is(err, pidfile.ErrLocked) {
			log.Printf("Warning: %v", err)
		}
	}

	// 历史记录不可用时继续运行
	var recorder service.Recorder
	var history api.HistorySource
	j, err := journal.Open(config.JournalFile)
	if err != nil {
		log.Printf("Warning: lifecycle journal disabled: %v", err)
	} else {
		recorder, history = j, j
	}
	m := metrics.NewPrometheus(config.AppName)

	database := db.NewManager(db.Options{
		Engine:   databaseEngine,
		Dialer:   databaseDialer,
		Schema:   cfg.Schema,
		Admin:    db.Credential{Username: config.AdminUser, Password: config.AdminPassword},
		LockFile: filepath.Join(config.Home, ".database.lock"),
	})

	var frontEnd service.FrontEnd
	var cons *console.Console
	if interactive {
		cons = console.New(os.Stdin, os.Stdout)
		frontEnd = cons
	} else {
		frontEnd = &console.Headless{Mode: mode, WebPort: o.webPort, DBPort: o.dbPort}
	}

	var server *api.Server
	newContainer := func(contextName string, port int) service.WebContainer {
		return webapp.New(contextName, port, webapp.Options{
			WebappsDir:      config.WebappsDir,
			WorkDir:         config.WorkDir,
			Database:        database,
			Routes:          func(r *gin.Engine) { server.Register(r) },
			ShutdownAddress: config.ShutdownAddress,
			ShutdownPort:    config.ShutdownPort,
			ShutdownToken:   config.ShutdownToken,
		})
	}

	exitCode := make(chan int, 1)
	orch := service.New(service.Options{
		Store:        store,
		Database:     database,
		Rotator:      credential.NewRotator(database, props.KeyConnectionUsername, props.KeyConnectionPassword),
		NewContainer: newContainer,
		FrontEnd:     frontEnd,
		Paths: service.Paths{
			DatabaseDir:  config.DatabaseDir,
			DataDir:      config.DataDir,
			SentinelFile: config.SentinelFile,
			RunFile:      config.RunFile,
			SeedArchive:  config.SeedArchive,
		},
		Overrides:   overrides,
		Fallbacks:   fallbacks,
		Baseline:    db.Credential{Username: config.DefaultAppUser, Password: config.BaselinePassword},
		Interactive: interactive,
		OpenBrowser: browser.OpenURL,
		Exit:        func(code int) { exitCode <- code },
		Journal:     recorder,
		Metrics:     m,
	})
	server = api.NewServer(orch, history, m.Handler())

	// 信号与用户退出走同一条停止流程
	sigCh, stopSignals := shutdownSignals()
	go func() {
		sig := <-sigCh
		log.Printf("Received signal: %v. Shutting down...", sig)
		orch.Exit()
	}()

	var startErr error
	if interactive {
		cons.SetController(orch)
		go func() {
			if r := <-orch.Boot(); r.Err != nil {
				log.Printf("Start failed: %v", r.Err)
			}
		}()
		go cons.Run()
	} else {
		r := <-orch.Boot()
		if r.State == service.NeedsConfiguration && r.Err == nil {
			r = <-orch.ApplyDatabaseMode(mode)
		}
		if r.Err != nil {
			startErr = r.Err
			log.Printf("Start failed: %v", r.Err)
			orch.Exit()
		}
	}

	code := <-exitCode
	stopSignals()
	pid.Remove()
	if j != nil {
		j.Close()
	}
	if code == 0 && startErr != nil {
		code = 1
	}
	log.Println("Standalone launcher exit.")
	return code
}

// applyLimits 直接以 run 启动时按参数设置内存限制
func applyLimits(o runOptions) {
	var args []string
	if o.memoryLimit != "" {
		args = append(args, "--memory-limit="+o.memoryLimit)
	}
	if o.gcPercent != 0 {
		args = append(args, fmt.Sprintf("--gc-percent=%d", o.gcPercent))
	}
	limits, err := relaunch.ParseLimits(strings.Join(args, " "))
	if err != nil {
		log.Printf("Warning: ignoring runtime limits: %v", err)
		return
	}
	limits.Apply()
}
