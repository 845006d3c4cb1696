package webapp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxCommand caps how much is read from one connection.
const maxCommand = 1024

var readTimeout = 10 * time.Second

// ShutdownListener accepts one connection at a time on the command socket
// and returns once a connection sends the shutdown token.
type ShutdownListener struct {
	address string
	port    int
	token   string

	mu sync.Mutex
	ln net.Listener
}

// NewShutdownListener creates a listener for address:port. Port 0 picks a
// free port, which tests use.
func NewShutdownListener(address string, port int, token string) *ShutdownListener {
	if address == "" {
		address = "127.0.0.1"
	}
	return &ShutdownListener{address: address, port: port, token: token}
}

// Listen binds the command socket.
func (s *ShutdownListener) Listen() error {
	addr := net.JoinHostPort(s.address, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("shutdown listener on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *ShutdownListener) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops the accept loop.
func (s *ShutdownListener) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// Serve runs the accept loop. It returns nil when the token is received and
// an error when the listener is closed or ctx is cancelled first.
func (s *ShutdownListener) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("shutdown listener not bound")
	}
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Printf("Shutdown listener accept: %v", err)
			continue
		}

		command := s.readCommand(conn)
		conn.Close()

		if command == s.token {
			log.Println("Shutdown command received")
			return nil
		}
		log.Printf("Shutdown listener: invalid command '%s' received", command)
	}
}

// readCommand 读取到控制字符或 EOF 为止
func (s *ShutdownListener) readCommand(conn net.Conn) string {
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	expected := maxCommand
	for expected < len(s.token) {
		expected += rand.IntN(maxCommand)
	}

	var sb strings.Builder
	r := bufio.NewReader(conn)
	for expected > 0 {
		ch, err := r.ReadByte()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Printf("Shutdown listener read: %v", err)
			}
			break
		}
		if ch < 32 {
			break
		}
		sb.WriteByte(ch)
		expected--
	}
	return sb.String()
}

// SendShutdown connects to a running launcher and sends the token.
func SendShutdown(address string, port int, token string) error {
	if address == "" {
		address = "127.0.0.1"
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect to shutdown port: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(token + "\n")); err != nil {
		return fmt.Errorf("send shutdown token: %w", err)
	}
	return nil
}
