package ports

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen 占用一个随机端口
func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestIsPortAvailableOutOfRange(t *testing.T) {
	assert.False(t, IsPortAvailable(0))
	assert.False(t, IsPortAvailable(-1))
	assert.False(t, IsPortAvailable(MaxPort+1))
	assert.False(t, IsPortAvailable(65535))
}

// TestIsPortAvailableListening 正在监听的端口不可用
func TestIsPortAvailableListening(t *testing.T) {
	_, port := listen(t)
	if port > MaxPort {
		t.Skipf("ephemeral port %d is outside the scanned range", port)
	}
	assert.False(t, IsPortAvailable(port))
}

// TestFindNextAvailablePortSkipsBusy 跳过被占用与保留的端口
func TestFindNextAvailablePortSkipsBusy(t *testing.T) {
	_, busy := listen(t)
	if busy >= MaxPort-2 {
		t.Skipf("ephemeral port %d too close to the range limit", busy)
	}

	p, err := FindNextAvailablePort(busy)
	require.NoError(t, err)
	assert.Greater(t, p, busy)
	assert.True(t, p <= MaxPort)

	q, err := FindNextAvailablePort(busy, p)
	require.NoError(t, err)
	assert.NotEqual(t, p, q)
	assert.NotEqual(t, busy, q)
}

func TestFindNextAvailablePortExhausted(t *testing.T) {
	_, err := FindNextAvailablePort(MaxPort+1)
	assert.ErrorIs(t, err, ErrPortUnavailable)

	_, err = FindNextAvailablePort(MaxPort, MaxPort)
	assert.ErrorIs(t, err, ErrPortUnavailable)
}

// TestNegotiateDistinctPorts 请求相同端口时，数据库与 Web 端口仍然不同
func TestNegotiateDistinctPorts(t *testing.T) {
	_, base := listen(t)
	if base >= MaxPort-10 {
		t.Skip("ephemeral port too high")
	}

	web, db, err := Negotiate(base, base, false)
	require.NoError(t, err)
	assert.NotEqual(t, web, db)
	assert.Greater(t, db, base)
	assert.Greater(t, web, base)
}

// TestNegotiateKeepsRunningDatabasePort 数据库已运行时保留其端口
func TestNegotiateKeepsRunningDatabasePort(t *testing.T) {
	_, dbPort := listen(t)
	if dbPort >= MaxPort-10 {
		t.Skip("ephemeral port too high")
	}

	web, db, err := Negotiate(dbPort, dbPort, true)
	require.NoError(t, err)
	assert.Equal(t, dbPort, db)
	assert.NotEqual(t, dbPort, web)
}

// TestNegotiateWebFirst Web 端口连续被占用时向上查找，数据库端口避开协商后的 Web 端口
func TestNegotiateWebFirst(t *testing.T) {
	start, err := FindNextAvailablePort(21000)
	require.NoError(t, err)

	for _, p := range []int{start, start + 1} {
		ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(p)))
		if err != nil {
			t.Skipf("cannot occupy port %d: %v", p, err)
		}
		t.Cleanup(func() { ln.Close() })
	}
	if !IsPortAvailable(start+2) || !IsPortAvailable(start+3) {
		t.Skip("neighbouring ports are busy")
	}

	web, db, err := Negotiate(start, start+1, false)
	require.NoError(t, err)
	assert.Equal(t, start+2, web)
	assert.Equal(t, start+3, db)
}
