// Package ports finds free, non-conflicting local ports for the database
// engine and the web container.
package ports

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"
)

const (
	// MinPort and MaxPort bound the usable range; dynamic ports are excluded.
	MinPort = 1
	MaxPort = 49151
)

// ErrPortUnavailable is returned when the scan reaches MaxPort.
var ErrPortUnavailable = errors.New("no available port")

var dialTimeout = 500 * time.Millisecond

// IsPortAvailable reports whether nothing is bound to or listening on port.
// Both TCP and UDP must be bindable and a local connect attempt must fail.
func IsPortAvailable(port int) bool {
	if port < MinPort || port > MaxPort {
		return false
	}
	addr := ":" + strconv.Itoa(port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	ln.Close()

	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return false
	}
	pc.Close()

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), dialTimeout)
	if err != nil {
		return true
	}
	conn.Close()
	return false
}

// FindNextAvailablePort scans upward from start, skipping reserved ports.
func FindNextAvailablePort(start int, reserved ...int) (int, error) {
	if start < MinPort {
		start = MinPort
	}
	for p := start; p <= MaxPort; p++ {
		if slices.Contains(reserved, p) {
			continue
		}
		if IsPortAvailable(p) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("scan from %d: %w", start, ErrPortUnavailable)
}

// Negotiate returns ports for the web container and the database. The web
// port is chosen first and the database scan never lands on it. The database
// port is kept as-is when dbRunning is true.
func Negotiate(webPort, dbPort int, dbRunning bool) (int, int, error) {
	web, err := FindNextAvailablePort(webPort, dbPort)
	if err != nil {
		return 0, 0, fmt.Errorf("web port: %w", err)
	}
	if dbRunning {
		return web, dbPort, nil
	}
	db, err := FindNextAvailablePort(dbPort, web)
	if err != nil {
		return 0, 0, fmt.Errorf("database port: %w", err)
	}
	return web, db, nil
}
