//go:build !windows

package db

import (
	"os"
	"os/user"
)

// runAsUser returns the account mariadbd must be told to run as; it refuses
// to start as root without an explicit --user.
func runAsUser() string {
	if os.Geteuid() != 0 {
		return ""
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "root"
}
