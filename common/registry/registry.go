package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lyzr/planrunner/common/blockspec"
)

// SpecParseError wraps a failure to parse a Block Spec document (spec.md
// §4.1 "Errors").
type SpecParseError struct {
	Path string
	Err  error
}

func (e *SpecParseError) Error() string {
	return fmt.Sprintf("failed to parse block spec %s: %v", e.Path, e.Err)
}
func (e *SpecParseError) Unwrap() error { return e.Err }

// DuplicateVersionError reports two Specs sharing an id@version pair.
type DuplicateVersionError struct {
	ID      string
	Version string
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("duplicate block spec version: %s@%s", e.ID, e.Version)
}

// Registry discovers Block Specs, selects a version, and instantiates Block
// objects on demand (spec.md §4.1). The Registry exclusively owns the
// lifecycle of loaded Specs for the duration of the process.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]map[string]*entry // id -> version -> entry
	factories map[string]Factory           // entrypoint scheme -> Factory
}

// New creates an empty Registry. Register factories with RegisterFactory
// before calling LoadSpecs so every Spec's entrypoint can be constructed.
func New() *Registry {
	return &Registry{
		byID:      make(map[string]map[string]*entry),
		factories: make(map[string]Factory),
	}
}

// RegisterFactory binds a Factory to the entrypoint scheme it constructs
// (the portion of `entrypoint` before "://"), e.g. "builtin://constant" is
// scheme "builtin".
func (r *Registry) RegisterFactory(scheme string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[scheme] = f
}

// LoadSpecs recursively enumerates Spec documents under dir, parses them,
// and instantiates their Block objects via a registered Factory. Multiple
// Specs sharing an id are kept and indexed by version.
func (r *Registry) LoadSpecs(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".block.yaml") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return &SpecParseError{Path: path, Err: err}
		}
		spec, err := blockspec.Parse(data)
		if err != nil {
			return &SpecParseError{Path: path, Err: err}
		}
		return r.add(spec)
	})
}

func (r *Registry) add(spec *blockspec.Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.byID[spec.ID]
	if !ok {
		versions = make(map[string]*entry)
		r.byID[spec.ID] = versions
	}
	if _, exists := versions[spec.Version]; exists {
		return &DuplicateVersionError{ID: spec.ID, Version: spec.Version}
	}

	block, err := r.instantiate(spec)
	if err != nil {
		return fmt.Errorf("instantiating block %s@%s: %w", spec.ID, spec.Version, err)
	}

	versions[spec.Version] = &entry{spec: spec, block: block}
	return nil
}

// AddSpec registers an already-parsed Spec (used by built-in Blocks that
// ship compiled-in rather than as files on disk).
func (r *Registry) AddSpec(spec *blockspec.Spec) error {
	return r.add(spec)
}

func (r *Registry) instantiate(spec *blockspec.Spec) (Block, error) {
	scheme := spec.Entrypoint
	if i := strings.Index(scheme, "://"); i >= 0 {
		scheme = scheme[:i]
	}
	factory, ok := r.factories[scheme]
	if !ok {
		return nil, fmt.Errorf("no factory registered for entrypoint scheme %q", scheme)
	}
	return factory(spec)
}

// Get returns the matching Block instance. When version is empty, the
// highest semantic version present is selected (spec.md §4.1).
func (r *Registry) Get(id, version string) (Block, *blockspec.Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.byID[id]
	if !ok || len(versions) == 0 {
		return nil, nil, fmt.Errorf("block %q not found in registry", id)
	}

	if version != "" {
		e, ok := versions[version]
		if !ok {
			return nil, nil, fmt.Errorf("block %q has no version %q", id, version)
		}
		return e.block, e.spec, nil
	}

	var best *entry
	var bestVer semver
	for vs, e := range versions {
		v, err := parseSemver(vs)
		if err != nil {
			continue
		}
		if best == nil || higher(v, bestVer) {
			best, bestVer = e, v
		}
	}
	if best == nil {
		return nil, nil, fmt.Errorf("block %q: no parseable version found", id)
	}
	return best.block, best.spec, nil
}

// HasOutput reports whether spec declares an output named name (used by the
// Validator's "Registry binding" check, spec.md §4.5 item 2).
func HasOutput(spec *blockspec.Spec, name string) bool {
	_, ok := spec.Outputs[name]
	return ok
}

// HasInput reports whether spec declares an input named name.
func HasInput(spec *blockspec.Spec, name string) bool {
	_, ok := spec.Inputs[name]
	return ok
}

// Entry describes one (id, version, spec) triple for introspection.
type Entry struct {
	ID      string
	Version string
	Spec    *blockspec.Spec
}

// List iterates all (id, version, spec) triples for validator/introspection
// (spec.md §4.1).
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for id, versions := range r.byID {
		for v, e := range versions {
			out = append(out, Entry{ID: id, Version: v, Spec: e.spec})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Version < out[j].Version
	})
	return out
}
