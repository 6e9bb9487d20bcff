package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathGuard confines form lookups to one directory
type PathGuard struct {
	dir string
}

// NewPathGuard creates a guard for dir. The directory does not need to exist yet.
func NewPathGuard(dir string) (*PathGuard, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("forms directory cannot be empty")
	}
	return &PathGuard{dir: dir}, nil
}

// Dir returns the guarded directory
func (g *PathGuard) Dir() string {
	return g.dir
}

// Resolve turns path into an absolute path inside the guarded directory. Relative paths
// are taken relative to the directory; symlinks must not lead outside it.
func (g *PathGuard) Resolve(path string) (string, error) {
	path = strings.ReplaceAll(path, "\x00", "")
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.dir, path)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	absDir, err := filepath.Abs(g.dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve forms directory: %w", err)
	}

	if !within(absPath, absDir) {
		return "", fmt.Errorf("path is outside forms directory: %s", path)
	}

	realDir := absDir
	if resolved, err := filepath.EvalSymlinks(absDir); err == nil {
		realDir = resolved
	}
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil && !within(resolved, realDir) {
		return "", fmt.Errorf("path is outside forms directory: %s", path)
	}
	return absPath, nil
}

func within(path, dir string) bool {
	path = filepath.Clean(path)
	dir = filepath.Clean(dir)
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dir)
}

// ListForms returns the PDF files directly inside the guarded directory
func (g *PathGuard) ListForms() ([]string, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read forms directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}
