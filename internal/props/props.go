// Package props reads and writes the flat key=value runtime properties file
// shared by the launcher and the hosted web application.
package props

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/magiconair/properties"
)

// Recognized keys.
const (
	KeyConnectionURL      = "connection.url"
	KeyConnectionUsername = "connection.username"
	KeyConnectionPassword = "connection.password"
	KeyResetPassword      = "reset_connection_password"
	KeyWebPort            = "tomcatport"
	KeyDBBaseDir          = "connection.database.base_dir"
	KeyDBDataDir          = "connection.database.data_dir"
	KeyRuntimeArguments   = "runtime_arguments"
)

// in a string like mysql://localhost:3316/standalone?autoReconnect=true
// this matches :3316/
var portPattern = regexp.MustCompile(`:[0-9]+/`)

// Store is the persisted runtime properties file. Mutations are tracked so the
// file is only rewritten when a value actually changed.
type Store struct {
	mu    sync.Mutex
	path  string
	p     *properties.Properties
	dirty bool
}

// Locate returns the properties file path: an explicit path wins, then
// <app>-runtime.properties in the home directory, then the per-user
// application data directory. When none exists the home location is returned.
func Locate(explicit, home, appName string) string {
	if explicit != "" {
		return explicit
	}
	name := appName + "-runtime.properties"
	candidates := []string{filepath.Join(home, name)}
	if userHome, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(userHome, "."+appName, name))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return candidates[0]
}

// Open loads the file at path. A missing file is not an error: defaults are
// used and the store is marked dirty so the first save creates it.
func Open(path string, defaults map[string]string) (*Store, error) {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		s.p = properties.NewProperties()
		s.p.DisableExpansion = true
		for _, k := range sortedKeys(defaults) {
			s.p.MustSet(k, defaults[k])
		}
		s.dirty = true
	}
	return s, nil
}

// DefaultValues returns the values written to a brand-new properties file.
func DefaultValues(schema, username, password string, dbPort, webPort int) map[string]string {
	return map[string]string{
		KeyConnectionURL:      fmt.Sprintf("mysql://localhost:%d/%s?autoReconnect=true&useUnicode=true&characterEncoding=UTF-8", dbPort, schema),
		KeyConnectionUsername: username,
		KeyConnectionPassword: password,
		KeyResetPassword:      "true",
		KeyWebPort:            strconv.Itoa(webPort),
	}
}

func (s *Store) load() error {
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadFile(s.path)
	if err != nil {
		if _, statErr := os.Stat(s.path); errors.Is(statErr, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", s.path, os.ErrNotExist)
		}
		return fmt.Errorf("load %s: %w", s.path, err)
	}
	p.DisableExpansion = true
	s.p = p
	s.dirty = false
	return nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value for key, or "" if absent.
func (s *Store) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.p.Get(key)
	return v
}

// Keys returns all keys in file order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Keys()
}

// Dirty reports whether there are unsaved changes.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Store) set(key, value string) {
	if cur, ok := s.p.Get(key); ok && cur == value {
		return
	}
	s.p.MustSet(key, value)
	s.dirty = true
}

func (s *Store) del(key string) {
	if _, ok := s.p.Get(key); !ok {
		return
	}
	s.p.Delete(key)
	s.dirty = true
}

// SetPorts rewrites the port segment of connection.url and the web port key.
// A zero port leaves the corresponding value untouched.
func (s *Store) SetPorts(dbPort, webPort int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dbPort > 0 {
		url, _ := s.p.Get(KeyConnectionURL)
		token := fmt.Sprintf(":%d/", dbPort)
		if url != "" && !strings.Contains(url, token) {
			s.set(KeyConnectionURL, portPattern.ReplaceAllLiteralString(url, token))
		}
	}
	if webPort > 0 {
		s.set(KeyWebPort, strconv.Itoa(webPort))
	}
}

// ResetCredentials puts the baseline account back and re-arms the one-shot
// password reset so the next start generates a fresh password.
func (s *Store) ResetCredentials(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(KeyConnectionUsername, username)
	s.set(KeyConnectionPassword, password)
	s.set(KeyResetPassword, "true")
}

// CommitPassword stores a rotated password and consumes the reset flag in the
// same change set.
func (s *Store) CommitPassword(password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(KeyConnectionPassword, password)
	s.del(KeyResetPassword)
}

// ResetRequested reports whether reset_connection_password is true.
func (s *Store) ResetRequested() bool {
	return strings.EqualFold(strings.TrimSpace(s.Get(KeyResetPassword)), "true")
}

// Save writes the file if anything changed. It reports whether a write happened.
func (s *Store) Save() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return false, nil
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "\n#Last updated by the standalone launcher.\n#%s\n", time.Now().Format(time.RFC1123))
	if _, err := s.p.Write(&buf, properties.UTF8); err != nil {
		return false, fmt.Errorf("encode properties: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return false, fmt.Errorf("create properties dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return false, fmt.Errorf("write properties: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("replace properties: %w", err)
	}
	s.dirty = false
	return true, nil
}

// URLPort extracts the port from a connection URL, or 0.
func URLPort(url string) int {
	m := portPattern.FindString(url)
	if m == "" {
		return 0
	}
	n, _ := strconv.Atoi(strings.Trim(m, ":/"))
	return n
}

// URLSchema extracts the schema name that follows the port segment.
func URLSchema(url string) string {
	loc := portPattern.FindStringIndex(url)
	if loc == nil {
		return ""
	}
	rest := url[loc[1]:]
	if i := strings.IndexAny(rest, "?;/"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
