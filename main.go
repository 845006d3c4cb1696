package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"standalone/config"
	"standalone/internal/props"
	"standalone/internal/relaunch"
	"standalone/internal/webapp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "standalone [run flags]",
		Short: "Run the database engine and the web application as one local service",
		Long: "Without a subcommand the launcher starts itself again as 'standalone run' with the\n" +
			"runtime limits from runtime_arguments, forwarding every argument and the standard streams.",
		// 参数原样转交给子进程
		DisableFlagParsing: true,
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(relaunchSelf(args))
			return nil
		},
	}
	root.AddCommand(newRunCmd(), newStopCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:          "run",
		Short:        "Start the launcher in this process",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if code := runLauncher(o); code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.home, "home", "", "application home (default $STANDALONE_HOME or the working directory)")
	f.BoolVar(&o.commandLine, "commandline", true, "use the textual console")
	f.BoolVar(&o.nonInteractive, "non-interactive", false, "no console; wait for 'standalone stop' or a signal")
	f.StringVar(&o.mode, "mode", "demo", "database mode on first run: demo, empty, wizard or nochanges")
	f.IntVar(&o.webPort, "web-port", 0, "web container port")
	f.IntVar(&o.dbPort, "db-port", 0, "database port")
	f.StringVar(&o.contextName, "context", "", "application context name")
	f.StringVar(&o.memoryLimit, "memory-limit", "", "soft memory limit, e.g. 512MiB")
	f.IntVar(&o.gcPercent, "gc-percent", 0, "garbage collection target percentage")
	return cmd
}

func newStopCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:          "stop",
		Short:        "Ask a running non-interactive launcher to shut down",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := webapp.SendShutdown(config.ShutdownAddress, port, config.ShutdownToken); err != nil {
				return fmt.Errorf("send shutdown command: %w", err)
			}
			fmt.Println("Shutdown requested")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", config.ShutdownPort, "shutdown command port")
	return cmd
}

// relaunchSelf 以 run 子命令重新启动自身并返回子进程退出码
func relaunchSelf(args []string) int {
	if home := homeFromArgs(args); home != "" {
		config.SetHome(home)
	}
	limits, err := relaunch.ParseLimits(runtimeArguments())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ignoring invalid %s: %v\n", props.KeyRuntimeArguments, err)
		limits = relaunch.Limits{}
	}

	code, _ := relaunch.Run(relaunch.Options{Limits: limits, Args: args})
	if code < 0 {
		return 1
	}
	return code
}

// homeFromArgs 取出转交给 run 的 --home 参数，属性文件按它查找
func homeFromArgs(args []string) string {
	home := ""
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			break
		}
		switch {
		case a == "--home":
			if i+1 < len(args) {
				home = args[i+1]
				i++
			}
		case strings.HasPrefix(a, "--home="):
			home = strings.TrimPrefix(a, "--home=")
		}
	}
	return home
}

func runtimeArguments() string {
	path := props.Locate(config.PropertiesFile, config.Home, config.AppName)
	store, err := props.Open(path, nil)
	if err != nil {
		return config.DefaultRuntimeArgs
	}
	return store.Snapshot(props.Overrides{}, props.Fallbacks{RuntimeArgs: config.DefaultRuntimeArgs}).RuntimeArgs
}

func initDirectories() {
	// 数据库目录不在这里创建：它不存在表示需要首次配置
	dirs := []string{
		config.Home,
		config.WebappsDir,
	}
	if config.LogFile != "" {
		dirs = append(dirs, filepath.Dir(config.LogFile))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("Warning: failed to create directory %s: %v", dir, err)
		}
	}
}

func initLogging() {
	if config.LogFile == "" {
		return
	}

	logFile, err := os.OpenFile(config.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Printf("Warning: failed to open log file: %v, using stdout", err)
		return
	}

	log.SetOutput(logFile)
	gin.DefaultWriter = logFile
	gin.DefaultErrorWriter = logFile
}
