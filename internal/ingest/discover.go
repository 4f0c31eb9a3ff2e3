package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/eric-albuquer/invoice-etl/constants"
)

// ErrInputDirMissing means the input directory does not exist or is not a directory.
var ErrInputDirMissing = errors.New("input directory missing")

// DiscoverOptions control which files under the input directory are picked up.
type DiscoverOptions struct {
	SkipHidden bool // ignore dot-files and dot-directories
	Recursive  bool // descend into subdirectories; off means root only
}

// Discover returns every allowed document path under root, sorted.
func Discover(root string, opts DiscoverOptions) ([]string, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: no directory given", ErrInputDirMissing)
	}
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputDirMissing, root)
		}
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInputDirMissing, root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			// unreadable subdirectory; keep walking
			return nil
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			if !opts.Recursive || (opts.SkipHidden && IsHidden(path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if opts.SkipHidden && IsHidden(path) {
			return nil
		}
		if AllowedExt(filepath.Ext(path)) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// AllowedExt reports whether ext (with or without the dot, any case) is an input document type.
func AllowedExt(ext string) bool {
	return constants.IsAllowedExt(ext)
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
