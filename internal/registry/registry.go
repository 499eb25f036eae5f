// Package registry loads container definitions from disk and flattens their
// single inheritance into merged container models.
//
// Definitions are loaded lazily and memoized, so each id is read, parsed and
// merged exactly once per invocation. Custom YAML tags resolve into the
// action items of internal/container.
package registry

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/benkle-apps/sergio/internal/container"
)

// Registry resolves container ids to merged models.
type Registry struct {
	definitionsDir string
	deps           container.Deps
	logger         *zap.Logger

	containers map[string]*container.Container
	specs      map[string]container.Spec
	loading    map[string]bool
}

// New creates a registry over a definitions directory. The registry inserts
// itself into the deps it hands to every container it builds.
func New(definitionsDir string, deps container.Deps, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		definitionsDir: definitionsDir,
		deps:           deps,
		logger:         logger,
		containers:     map[string]*container.Container{},
		specs:          map[string]container.Spec{},
		loading:        map[string]bool{},
	}
	r.deps.Registry = r
	if r.deps.DefinitionsDir == "" {
		r.deps.DefinitionsDir = definitionsDir
	}
	return r
}

// Has reports whether a definition for id is memoized or present on disk.
func (r *Registry) Has(id string) bool {
	if _, ok := r.specs[id]; ok {
		return true
	}
	_, err := r.path(id)
	return err == nil
}

// Get returns the merged container for id, loading and flattening its
// definition chain on first use.
func (r *Registry) Get(id string) (*container.Container, error) {
	if c, ok := r.containers[id]; ok {
		return c, nil
	}
	spec, err := r.spec(id)
	if err != nil {
		return nil, err
	}
	c := container.New(spec, r.deps)
	r.containers[id] = c
	return c, nil
}

// List returns the ids of every definition file, sorted.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.definitionsDir)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		name = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		seen[name] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// path locates the definition file for id, preferring .yaml over .yml.
func (r *Registry) path(id string) (string, error) {
	for _, extension := range []string{".yaml", ".yml"} {
		candidate := filepath.Join(r.definitionsDir, id+extension)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", NotFoundError{ID: id}
}

// spec loads, decodes and merges the definition chain for id.
func (r *Registry) spec(id string) (container.Spec, error) {
	if spec, ok := r.specs[id]; ok {
		return spec, nil
	}
	if r.loading[id] {
		return container.Spec{}, ParseError{ID: id, Err: ErrExtendsCycle}
	}
	r.loading[id] = true
	defer delete(r.loading, id)

	path, err := r.path(id)
	if err != nil {
		return container.Spec{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return container.Spec{}, err
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return container.Spec{}, ParseError{ID: id, Err: err}
	}
	def := doc.Container
	if def == nil {
		return container.Spec{}, ParseError{ID: id, Err: ErrNoContainerKey}
	}

	parent := container.Spec{}
	if def.Extends != "" {
		if parent, err = r.spec(def.Extends); err != nil {
			return container.Spec{}, err
		}
	}
	spec := merge(id, parent, def)
	r.specs[id] = spec
	r.logger.Debug("definition loaded",
		zap.String("id", id),
		zap.String("path", path),
		zap.String("extends", def.Extends))
	return spec, nil
}
