//go:build windows

package db

func runAsUser() string {
	return ""
}
