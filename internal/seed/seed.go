// Package seed unpacks database seed archives and imports the SQL files they
// leave behind.
package seed

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bodgit/sevenzip"
)

// ImportedSuffix is appended to SQL files once they have been imported.
const ImportedSuffix = ".imported"

type entry struct {
	name string
	info fs.FileInfo
	open func() (io.ReadCloser, error)
}

// Extract unpacks a .zip or .7z archive into dest, creating parent
// directories and overwriting existing files.
func Extract(archive, dest string) error {
	switch strings.ToLower(filepath.Ext(archive)) {
	case ".7z":
		r, err := sevenzip.OpenReader(archive)
		if err != nil {
			return fmt.Errorf("open %s: %w", archive, err)
		}
		defer r.Close()

		entries := make([]entry, 0, len(r.File))
		for _, f := range r.File {
			entries = append(entries, entry{name: f.Name, info: f.FileInfo(), open: f.Open})
		}
		return extractEntries(entries, dest)
	default:
		r, err := zip.OpenReader(archive)
		if err != nil {
			return fmt.Errorf("open %s: %w", archive, err)
		}
		defer r.Close()

		entries := make([]entry, 0, len(r.File))
		for _, f := range r.File {
			entries = append(entries, entry{name: f.Name, info: f.FileInfo(), open: f.Open})
		}
		return extractEntries(entries, dest)
	}
}

func extractEntries(entries []entry, dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	base := filepath.Clean(dest)
	root := base + string(os.PathSeparator)

	for _, e := range entries {
		path := filepath.Join(dest, e.name)

		// "./" 目录项指向 dest 本身
		if path == base && e.info.IsDir() {
			continue
		}
		// 安全检查
		if !strings.HasPrefix(path, root) {
			return fmt.Errorf("illegal file path: %s", e.name)
		}

		if e.info.IsDir() {
			if err := os.MkdirAll(path, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := writeEntry(e, path); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(e entry, path string) error {
	mode := e.info.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	outFile, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer outFile.Close()

	rc, err := e.open()
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = io.Copy(outFile, rc)
	return err
}

// Importer sources one SQL file into a schema.
type Importer interface {
	Import(ctx context.Context, schema, file string) error
}

// Pending lists *.sql files at the top of dir that have not been imported.
func Pending(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ImportPending imports every pending SQL file in dir and renames each one
// after it succeeds, so a restart does not import it twice.
func ImportPending(ctx context.Context, imp Importer, dir, schema string) (int, error) {
	files, err := Pending(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range files {
		log.Printf("Importing %s into %s", filepath.Base(f), schema)
		if err := imp.Import(ctx, schema, f); err != nil {
			return n, err
		}
		if err := os.Rename(f, f+ImportedSuffix); err != nil {
			return n, fmt.Errorf("mark %s imported: %w", filepath.Base(f), err)
		}
		n++
	}
	return n, nil
}
