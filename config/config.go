package config

import (
	"os"
	"path/filepath"
	"strconv"
)

var (
	// 核心配置（环境变量）
	Home           string // 应用根目录
	PropertiesFile string // 运行时属性文件（可选，优先级最高）
	LogFile        string // 日志文件，空表示 stdout
	ShutdownPort   int    // 关闭命令端口
)

// 派生路径（基于 Home）
var (
	DatabaseDir  string // $HOME/database
	DataDir      string // $HOME/database/data
	EngineDir    string // $HOME/mariadb，内置数据库程序
	WebappsDir   string // $HOME/webapps
	WorkDir      string // $HOME/webcontainer/work
	SentinelFile string // $HOME/needsconfig.txt
	PidFile      string // $HOME/.standalone.pid
	RunFile      string // $HOME/run.yml
	JournalFile  string // $HOME/standalone.db
)

// 默认值
const (
	AppName            = "standalone"
	DefaultWebPort     = 8088
	DefaultDBPort      = 3316
	DefaultSchema      = "standalone"
	DefaultAppUser     = "standalone"
	BaselinePassword   = "test"
	AdminUser          = "root"
	AdminPassword      = ""
	ShutdownAddress    = "127.0.0.1"
	ShutdownToken      = "SHUTDOWN"
	DefaultRuntimeArgs = "--memory-limit=512MiB --gc-percent=100"
)

func init() {
	ShutdownPort = getEnvInt("STANDALONE_SHUTDOWN_PORT", 8005)
	LogFile = os.Getenv("STANDALONE_LOG_FILE")
	PropertiesFile = os.Getenv("STANDALONE_RUNTIME_PROPERTIES_FILE")
	SetHome(getEnv("STANDALONE_HOME", "."))
}

// SetHome 重新设置根目录并刷新派生路径
func SetHome(home string) {
	if abs, err := filepath.Abs(home); err == nil {
		home = abs
	}
	Home = home

	DatabaseDir = filepath.Join(Home, "database")
	DataDir = filepath.Join(DatabaseDir, "data")
	EngineDir = filepath.Join(Home, "mariadb")
	WebappsDir = filepath.Join(Home, "webapps")
	WorkDir = filepath.Join(Home, "webcontainer", "work")
	SentinelFile = filepath.Join(Home, "needsconfig.txt")
	PidFile = filepath.Join(Home, ".standalone.pid")
	RunFile = filepath.Join(Home, "run.yml")
	JournalFile = filepath.Join(Home, "standalone.db")
}

// SeedArchive 返回种子数据包路径，优先 .zip，其次 .7z
func SeedArchive(name string) string {
	zipPath := filepath.Join(Home, name+".zip")
	if _, err := os.Stat(zipPath); err == nil {
		return zipPath
	}
	sevenPath := filepath.Join(Home, name+".7z")
	if _, err := os.Stat(sevenPath); err == nil {
		return sevenPath
	}
	return zipPath
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
