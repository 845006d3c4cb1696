// Package console provides the textual front-end and the headless front-end
// used in non-interactive mode.
package console

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/pkg/browser"
	"github.com/spf13/pflag"

	"standalone/internal/models"
	"standalone/internal/props"
	"standalone/internal/service"
)

// Controller is the part of the orchestrator the console drives.
type Controller interface {
	Start() <-chan service.Result
	Stop() <-chan service.Result
	Exit() <-chan service.Result
	ApplyDatabaseMode(mode models.DatabaseMode) <-chan service.Result
	State() service.State
	Status() string
	Config() props.RuntimeConfig
}

// modes in menu order
var modes = []struct {
	mode models.DatabaseMode
	desc string
}{
	{models.DemoDatabase, "demo database with sample data"},
	{models.EmptyDatabase, "empty database"},
	{models.UseInitializationWizard, "set up through the initialization wizard"},
	{models.NoChanges, "keep the current database"},
}

// Console reads commands line by line and prints status updates.
type Console struct {
	ctl  Controller
	in   *bufio.Scanner
	out  io.Writer
	open func(url string) error

	mu          sync.Mutex
	webPort     int
	dbPort      int
	enabled     bool
	needsChoice bool
}

// New creates a console; SetController must be called before Run.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:      bufio.NewScanner(in),
		out:     out,
		open:    browser.OpenURL,
		enabled: true,
	}
}

// SetController attaches the orchestrator. The orchestrator needs the
// console as its front-end, so the two are wired after construction.
func (c *Console) SetController(ctl Controller) {
	c.ctl = ctl
}

// ReportStatus prints a status line.
func (c *Console) ReportStatus(status string) {
	c.printf("[status] %s\n", status)
}

// PromptConfigurationChoice prints the database mode menu; the next input
// line is read as the answer.
func (c *Console) PromptConfigurationChoice() {
	c.mu.Lock()
	c.needsChoice = true
	c.mu.Unlock()

	c.printf("The database needs to be configured:\n")
	for i, m := range modes {
		c.printf("  %d) %-10s %s\n", i+1, m.mode, m.desc)
	}
	c.printf("Choose [1-%d]: ", len(modes))
}

// Ports returns the ports given to the last start command.
func (c *Console) Ports() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webPort, c.dbPort
}

// SetControlsEnabled blocks start and stop while an operation runs.
func (c *Console) SetControlsEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
}

// Run processes commands until exit is confirmed or input ends. It returns
// the exit result.
func (c *Console) Run() service.Result {
	c.printf("Type 'help' for commands.\n")
	for c.in.Scan() {
		line := strings.TrimSpace(c.in.Text())

		c.mu.Lock()
		choosing := c.needsChoice
		c.mu.Unlock()
		if choosing {
			c.choose(line)
			continue
		}

		if line == "" {
			continue
		}
		if done, r := c.dispatch(line); done {
			return r
		}
	}
	// 输入结束视为退出
	return <-c.ctl.Exit()
}

func (c *Console) choose(line string) {
	mode, ok := parseChoice(line)
	if !ok {
		c.printf("Please enter a number between 1 and %d: ", len(modes))
		return
	}
	c.mu.Lock()
	c.needsChoice = false
	c.mu.Unlock()
	c.watch(c.ctl.ApplyDatabaseMode(mode))
}

func parseChoice(line string) (models.DatabaseMode, bool) {
	for i, m := range modes {
		if line == fmt.Sprint(i+1) {
			return m.mode, true
		}
	}
	mode, err := models.ParseDatabaseMode(line)
	if err != nil || line == "" {
		return 0, false
	}
	return mode, true
}

func (c *Console) dispatch(line string) (bool, service.Result) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "start":
		if !c.controlsEnabled() {
			c.printf("Busy, please wait.\n")
			return false, service.Result{}
		}
		if err := c.parseStart(fields[1:]); err != nil {
			c.printf("%v\nusage: start [--web-port N] [--db-port N]\n", err)
			return false, service.Result{}
		}
		c.watch(c.ctl.Start())
	case "stop":
		if !c.controlsEnabled() {
			c.printf("Busy, please wait.\n")
			return false, service.Result{}
		}
		c.watch(c.ctl.Stop())
	case "browse":
		c.browse()
	case "status":
		c.printf("%s: %s\n", c.ctl.State(), c.ctl.Status())
	case "exit", "quit":
		if !c.confirm("Are you sure you want to exit? (y/n): ") {
			return false, service.Result{}
		}
		return true, <-c.ctl.Exit()
	case "help":
		c.printf("Commands:\n" +
			"  start [--web-port N] [--db-port N]  start the services\n" +
			"  stop                                stop the services\n" +
			"  browse                              open the application in a browser\n" +
			"  status                              show the current state\n" +
			"  exit                                stop everything and quit\n")
	default:
		c.printf("Unknown command %q, type 'help'.\n", fields[0])
	}
	return false, service.Result{}
}

func (c *Console) parseStart(args []string) error {
	fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	web := fs.Int("web-port", 0, "web container port")
	db := fs.Int("db-port", 0, "database port")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c.mu.Lock()
	if *web > 0 {
		c.webPort = *web
	}
	if *db > 0 {
		c.dbPort = *db
	}
	c.mu.Unlock()
	return nil
}

func (c *Console) browse() {
	if c.ctl.State() != service.Running {
		c.printf("Services are not running.\n")
		return
	}
	cfg := c.ctl.Config()
	url := fmt.Sprintf("http://localhost:%d/%s/", cfg.WebPort, cfg.ContextName)
	if err := c.open(url); err != nil {
		c.printf("Cannot open a browser, visit %s\n", url)
	}
}

func (c *Console) confirm(question string) bool {
	c.printf("%s", question)
	if !c.in.Scan() {
		return true
	}
	answer := strings.ToLower(strings.TrimSpace(c.in.Text()))
	return answer == "y" || answer == "yes"
}

// watch reports an operation failure once it completes.
func (c *Console) watch(ch <-chan service.Result) {
	go func() {
		if r := <-ch; r.Err != nil {
			c.printf("Error: %v\n", r.Err)
		}
	}()
}

func (c *Console) controlsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// Headless is the front-end for non-interactive runs: status goes to the log
// and the ports come from the command line.
type Headless struct {
	Mode    models.DatabaseMode
	WebPort int
	DBPort  int
}

func (h *Headless) ReportStatus(status string) {
	log.Printf("Status: %s", status)
}

func (h *Headless) PromptConfigurationChoice() {
	log.Printf("Database needs configuration, using mode %s", h.Mode)
}

func (h *Headless) Ports() (int, int) {
	return h.WebPort, h.DBPort
}

func (h *Headless) SetControlsEnabled(bool) {}
