package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"chatd/pkg/types"
)

// ScanDir scans a models directory laid out as <root>/<owner>/<name>/ and
// builds a registry. The ID is "owner/name"; Path is the absolute model
// directory. Entries that are not two-level directories are ignored.
func ScanDir(root string) ([]types.Model, error) {
	base, err := expandHome(root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	owners, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read models dir: %w", err)
	}
	var models []types.Model
	for _, o := range owners {
		if !o.IsDir() {
			continue
		}
		names, err := os.ReadDir(filepath.Join(abs, o.Name()))
		if err != nil {
			continue
		}
		for _, n := range names {
			if !n.IsDir() {
				continue
			}
			dir := filepath.Join(abs, o.Name(), n.Name())
			models = append(models, types.Model{
				ID:     o.Name() + "/" + n.Name(),
				Name:   n.Name(),
				Path:   dir,
				SizeMB: dirSizeMB(dir),
			})
		}
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// dirSizeMB sums regular-file sizes directly inside dir.
func dirSizeMB(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}
	return int(total / (1024 * 1024))
}

// expandHome expands a leading '~' to the user's home directory.
func expandHome(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		if p == "~" {
			return home, nil
		}
		return filepath.Join(home, p[2:]), nil
	}
	return p, nil
}
