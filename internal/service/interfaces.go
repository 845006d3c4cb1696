package service

import (
	"context"

	"standalone/internal/credential"
	"standalone/internal/db"
	"standalone/internal/journal"
)

// FrontEnd 定义前端能力接口（文本控制台或无界面模式）
type FrontEnd interface {
	// ReportStatus shows a one-line status.
	ReportStatus(status string)
	// PromptConfigurationChoice asks the user for a database mode; the answer
	// comes back through ApplyDatabaseMode.
	PromptConfigurationChoice()
	// Ports returns requested port overrides, 0 meaning none.
	Ports() (web, db int)
	// SetControlsEnabled toggles start/stop controls while work is running.
	SetControlsEnabled(enabled bool)
}

// Database 定义数据库管理接口
type Database interface {
	Start(ctx context.Context, port int, baseDir, dataDir string) error
	Stop() error
	Running() bool
	Bootstrap(ctx context.Context, app db.Credential, schema string) error
	Import(ctx context.Context, schema, file string) error
}

// WebContainer 定义 Web 容器接口
type WebContainer interface {
	Run(ctx context.Context) error
	Stop() bool
	Await(ctx context.Context) error
}

// ContainerFactory mounts the application under contextName on port.
type ContainerFactory func(contextName string, port int) WebContainer

// Rotator 定义密码轮换接口
type Rotator interface {
	RotateIfRequested(ctx context.Context, store credential.Store, port int, baseDir, dataDir string) (bool, error)
}

// Recorder 记录状态变更历史
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}
