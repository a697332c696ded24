package course

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader reads module definitions from YAML files and publishes them into a Catalog.
type Loader struct {
	catalog Catalog
	log     *slog.Logger
}

func NewLoader(c Catalog, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{catalog: c, log: log}
}

// LoadFromDir loads every *.yaml / *.yml file in dir (one level of
// subdirectories included). Invalid files are logged and skipped.
func (l *Loader) LoadFromDir(ctx context.Context, dir string) (int, error) {
	if _, err := os.Stat(dir); err != nil {
		return 0, fmt.Errorf("modules dir: %w", err)
	}
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		for _, p := range []string{filepath.Join(dir, pattern), filepath.Join(dir, "*", pattern)} {
			matches, err := filepath.Glob(p)
			if err != nil {
				continue
			}
			files = append(files, matches...)
		}
	}

	loaded := 0
	for _, f := range files {
		if err := l.LoadFromFile(ctx, f); err != nil {
			l.log.Warn("failed to load module", "file", f, "error", err)
			continue
		}
		loaded++
	}
	l.log.Info("modules loaded", "dir", dir, "count", loaded, "total_files", len(files))
	return loaded, nil
}

func (l *Loader) LoadFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	m, err := ParseModuleYAML(data)
	if err != nil {
		return err
	}
	return l.catalog.PutModule(ctx, m)
}

// ParseModuleYAML decodes a single module definition. Status defaults to PUBLISHED.
func ParseModuleYAML(data []byte) (Module, error) {
	var m Module
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Module{}, fmt.Errorf("parse YAML: %w", err)
	}
	if m.Status == "" {
		m.Status = ModulePublished
	}
	if err := ValidateModule(m); err != nil {
		return Module{}, err
	}
	return m, nil
}
