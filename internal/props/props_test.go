package props

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

// TestOpenMissingUsesDefaults 文件不存在时使用默认值并在首次保存时创建
func TestOpenMissingUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "standalone-runtime.properties")

	s, err := Open(path, DefaultValues("standalone", "standalone", "test", 3316, 8088))
	require.NoError(t, err)
	assert.True(t, s.Dirty())
	assert.True(t, s.ResetRequested())

	written, err := s.Save()
	require.NoError(t, err)
	assert.True(t, written)
	assert.FileExists(t, path)

	again, err := Open(path, nil)
	require.NoError(t, err)
	assert.False(t, again.Dirty())
	assert.Equal(t, "standalone", again.Get(KeyConnectionUsername))
	assert.Equal(t, 3316, URLPort(again.Get(KeyConnectionURL)))
}

// TestSaveOnlyWhenChanged 值未变化时不重写文件
func TestSaveOnlyWhenChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rt.properties")
	writeFile(t, path, "connection.url=mysql://localhost:3316/standalone?autoReconnect=true\ntomcatport=8088\n")

	s, err := Open(path, nil)
	require.NoError(t, err)

	s.SetPorts(3316, 8088)
	written, err := s.Save()
	require.NoError(t, err)
	assert.False(t, written)

	data, _ := os.ReadFile(path)
	assert.NotContains(t, string(data), "Last updated")
}

// TestSetPortsRewritesURL 端口写入 URL 且保留未知键
func TestSetPortsRewritesURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rt.properties")
	writeFile(t, path, strings.Join([]string{
		"connection.url=mysql://localhost:3316/clinic?autoReconnect=true",
		"tomcatport=8088",
		"custom.key=keep me",
	}, "\n"))

	s, err := Open(path, nil)
	require.NoError(t, err)

	s.SetPorts(3317, 8089)
	written, err := s.Save()
	require.NoError(t, err)
	assert.True(t, written)

	reloaded, err := Open(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "mysql://localhost:3317/clinic?autoReconnect=true", reloaded.Get(KeyConnectionURL))
	assert.Equal(t, "8089", reloaded.Get(KeyWebPort))
	assert.Equal(t, "keep me", reloaded.Get("custom.key"))

	data, _ := os.ReadFile(path)
	assert.Contains(t, string(data), "#Last updated by the standalone launcher.")
}

// TestCommitPasswordConsumesFlag 新密码与标志删除在同一次写入中完成
func TestCommitPasswordConsumesFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rt.properties")
	writeFile(t, path, "connection.password=test\nreset_connection_password=true\n")

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.True(t, s.ResetRequested())

	s.CommitPassword("a.b|c~d@e^f&")
	_, err = s.Save()
	require.NoError(t, err)

	reloaded, err := Open(path, nil)
	require.NoError(t, err)
	assert.False(t, reloaded.ResetRequested())
	assert.Equal(t, "a.b|c~d@e^f&", reloaded.Get(KeyConnectionPassword))
	assert.NotContains(t, reloaded.Keys(), KeyResetPassword)

	reloaded.ResetCredentials("standalone", "test")
	assert.True(t, reloaded.ResetRequested())
}

// TestWindowsPathRoundTrip 反斜杠路径写回后保持不变
func TestWindowsPathRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rt.properties")
	writeFile(t, path, "connection.database.data_dir=C\\:\\\\standalone\\\\database\\\\data\nreset_connection_password=true\n")
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.Equal(t, `C:\standalone\database\data`, s.Get(KeyDBDataDir))

	s.CommitPassword("x")
	_, err = s.Save()
	require.NoError(t, err)

	reloaded, err := Open(path, nil)
	require.NoError(t, err)
	assert.Equal(t, `C:\standalone\database\data`, reloaded.Get(KeyDBDataDir))
}

func TestURLHelpers(t *testing.T) {
	url := "mysql://localhost:3316/standalone?autoReconnect=true"
	assert.Equal(t, 3316, URLPort(url))
	assert.Equal(t, "standalone", URLSchema(url))
	assert.Equal(t, 0, URLPort("jdbc:nothing"))
	assert.Equal(t, "", URLSchema("jdbc:nothing"))
}

// TestSnapshotPrecedence 命令行覆盖优先于文件，文件优先于默认值
func TestSnapshotPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rt.properties")
	writeFile(t, path, "connection.url=mysql://localhost:4000/clinic\ntomcatport=9000\nconnection.username=app\nreset_connection_password=TRUE\n")

	s, err := Open(path, nil)
	require.NoError(t, err)

	fb := Fallbacks{WebPort: 8088, DBPort: 3316, Schema: "standalone", DBDataDir: "/data", RuntimeArgs: "--memory-limit=512MiB"}

	c := s.Snapshot(Overrides{}, fb)
	assert.Equal(t, 9000, c.WebPort)
	assert.Equal(t, 4000, c.DBPort)
	assert.Equal(t, "clinic", c.Schema)
	assert.Equal(t, "/data", c.DBDataDir)
	assert.Equal(t, "app", c.DBUsername)
	assert.Equal(t, "--memory-limit=512MiB", c.RuntimeArgs)

	c = s.Snapshot(Overrides{WebPort: 7000, DBPort: 7001}, fb)
	assert.Equal(t, 7000, c.WebPort)
	assert.Equal(t, 7001, c.DBPort)

	moved := c.WithPorts(1, 2)
	assert.Equal(t, 7000, c.WebPort, "original snapshot must not change")
	assert.Equal(t, 1, moved.WebPort)
}
