// Package webapp hosts the packaged web application under a single context
// path and owns the out-of-band shutdown socket.
package webapp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"standalone/internal/seed"

	"github.com/gin-gonic/gin"
)

// ErrAlreadyRunning is returned by Run when the server is already serving.
var ErrAlreadyRunning = errors.New("web container already running")

// DatabaseStopper is stopped after the web server shuts down.
type DatabaseStopper interface {
	Stop() error
}

// Options configures a Container.
type Options struct {
	// WebappsDir holds <context>/, <context>.git or <context>.war.
	WebappsDir string
	// WorkDir is wiped before every start; packaged archives unpack here.
	WorkDir string
	// Host is the bind address; empty binds all interfaces.
	Host string
	// Database is stopped whenever Stop succeeds.
	Database DatabaseStopper
	// Routes registers extra launcher routes.
	Routes func(r *gin.Engine)

	ShutdownAddress string
	ShutdownPort    int
	ShutdownToken   string
}

// Container is one web application mounted under /<context>.
type Container struct {
	contextName string
	port        int
	opts        Options
	engine      *gin.Engine

	mu     sync.Mutex
	app    http.Handler
	srv    *http.Server
	addr   net.Addr
	served chan struct{}
}

// New mounts the application without starting anything.
func New(contextName string, port int, opts Options) *Container {
	c := &Container{
		contextName: strings.Trim(contextName, "/"),
		port:        port,
		opts:        opts,
	}
	c.engine = c.buildEngine()
	return c
}

func (c *Container) buildEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/health", c.healthHandler)
	r.GET("/", func(ctx *gin.Context) {
		ctx.Redirect(http.StatusFound, "/"+c.contextName+"/")
	})

	if c.contextName != "" {
		base := "/" + c.contextName
		r.GET(base, func(ctx *gin.Context) {
			ctx.Redirect(http.StatusMovedPermanently, base+"/")
		})
		r.Any(base+"/*path", c.appHandler)
	}

	if c.opts.Routes != nil {
		c.opts.Routes(r)
	}
	return r
}

func (c *Container) healthHandler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"service": "standalone",
		"context": c.contextName,
	})
}

func (c *Container) appHandler(ctx *gin.Context) {
	c.mu.Lock()
	app := c.app
	c.mu.Unlock()

	if app == nil {
		ctx.String(http.StatusServiceUnavailable, "application %s is not deployed", c.contextName)
		return
	}
	http.StripPrefix("/"+c.contextName, app).ServeHTTP(ctx.Writer, ctx.Request)
}

// Handler exposes the routing tree, mainly for tests.
func (c *Container) Handler() http.Handler {
	return c.engine
}

// ContextName returns the mount point without slashes.
func (c *Container) ContextName() string {
	return c.contextName
}

// Port returns the configured HTTP port.
func (c *Container) Port() int {
	return c.port
}

// Addr returns the bound address while running.
func (c *Container) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Running reports whether the HTTP server is serving.
func (c *Container) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.srv != nil
}

// Run deploys the application and starts serving. It returns once the port
// is bound; serving continues in the background until Stop.
func (c *Container) Run(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.srv != nil {
		return ErrAlreadyRunning
	}

	app, err := c.deploy()
	if err != nil {
		return err
	}
	c.app = app

	addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(c.port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: c.engine}
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("Web container server error: %v", err)
		}
	}()

	c.srv = srv
	c.addr = ln.Addr()
	c.served = served
	log.Printf("Web container listening on %s, application at /%s", ln.Addr(), c.contextName)
	return nil
}

// deploy 依次查找目录、裸仓库、war 包
func (c *Container) deploy() (http.Handler, error) {
	if c.opts.WorkDir != "" {
		if err := CleanWorkDir(c.opts.WorkDir); err != nil {
			log.Printf("Warning: failed to clean work dir: %v", err)
		}
	}
	if c.opts.WebappsDir == "" || c.contextName == "" {
		return nil, nil
	}

	dir := filepath.Join(c.opts.WebappsDir, c.contextName)
	if isDir(dir) {
		return http.FileServer(http.Dir(dir)), nil
	}

	repo := dir + ".git"
	if isDir(repo) {
		return NewGitHandler(repo), nil
	}

	war := dir + ".war"
	if _, err := os.Stat(war); err == nil {
		if c.opts.WorkDir == "" {
			return nil, fmt.Errorf("cannot unpack %s without a work directory", filepath.Base(war))
		}
		target := filepath.Join(c.opts.WorkDir, c.contextName)
		if err := seed.Extract(war, target); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", filepath.Base(war), err)
		}
		return http.FileServer(http.Dir(target)), nil
	}

	log.Printf("Warning: no application found for context %s in %s", c.contextName, c.opts.WebappsDir)
	return nil, nil
}

// Stop shuts the HTTP server down and, when that succeeds, stops the
// database. It never returns an error; false means the server could not be
// shut down cleanly.
func (c *Container) Stop() bool {
	c.mu.Lock()
	srv, served := c.srv, c.served
	c.srv = nil
	c.addr = nil
	c.served = nil
	c.mu.Unlock()

	if srv == nil {
		return true
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		log.Printf("Cannot stop web container: %v", err)
		srv.Close()
		return false
	}
	<-served
	log.Println("Web container stopped")

	if c.opts.Database != nil {
		if err := c.opts.Database.Stop(); err != nil {
			log.Printf("Failed to stop database: %v", err)
		}
	}
	return true
}

// Await blocks until the shutdown token arrives on the command socket or ctx
// is cancelled.
func (c *Container) Await(ctx context.Context) error {
	l := NewShutdownListener(c.opts.ShutdownAddress, c.opts.ShutdownPort, c.opts.ShutdownToken)
	if err := l.Listen(); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// CleanWorkDir removes and recreates the container scratch directory.
func CleanWorkDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// DiscoverContext returns the first deployable application name in
// webappsDir: a directory, a <name>.git repository or a <name>.war archive.
// fallback is returned when nothing is found.
func DiscoverContext(webappsDir, fallback string) string {
	entries, err := os.ReadDir(webappsDir)
	if err != nil {
		return fallback
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		switch {
		case e.IsDir() && strings.HasSuffix(name, ".git"):
			return strings.TrimSuffix(name, ".git")
		case e.IsDir():
			return name
		case strings.HasSuffix(strings.ToLower(name), ".war"):
			return name[:len(name)-len(".war")]
		}
	}
	return fallback
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
