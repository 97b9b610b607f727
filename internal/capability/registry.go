package capability

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/ctxrouter/internal/analyzer"
)

// ErrUnsupportedFormat reports a registry file with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported registry file format")

// Registry is an immutable snapshot of provider descriptors in registration
// order, plus the declared prerequisite edges between capability tags.
type Registry struct {
	descriptors []Descriptor
	byID        map[string]int
	// prerequisites[t] lists the tags whose providers must run before any
	// provider serving t.
	prerequisites map[analyzer.Capability][]analyzer.Capability
	version       string
}

// NewRegistry validates descriptors and builds a Registry. IDs must be unique.
func NewRegistry(descs []Descriptor, prerequisites map[analyzer.Capability][]analyzer.Capability) (*Registry, error) {
	r := &Registry{
		descriptors:   make([]Descriptor, 0, len(descs)),
		byID:          make(map[string]int, len(descs)),
		prerequisites: make(map[analyzer.Capability][]analyzer.Capability, len(prerequisites)),
	}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidDescriptor, d.ID)
		}
		d.Tags = slices.Clone(d.Tags)
		slices.Sort(d.Tags)
		d.Tags = slices.Compact(d.Tags)
		r.byID[d.ID] = len(r.descriptors)
		r.descriptors = append(r.descriptors, d)
	}
	for tag, reqs := range prerequisites {
		if slices.Contains(reqs, tag) {
			return nil, fmt.Errorf("%w: tag %q lists itself as a prerequisite", ErrInvalidDescriptor, tag)
		}
		r.prerequisites[tag] = slices.Clone(reqs)
	}
	r.version = r.hash()
	return r, nil
}

// Descriptors returns a copy of all descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.descriptors)
}

// Lookup returns the descriptor with id.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return r.descriptors[i], true
}

// Order returns the registration index of id, or -1.
func (r *Registry) Order(id string) int {
	if i, ok := r.byID[id]; ok {
		return i
	}
	return -1
}

// IsPrerequisite reports whether tag before must be served before tag after.
func (r *Registry) IsPrerequisite(before, after analyzer.Capability) bool {
	return slices.Contains(r.prerequisites[after], before)
}

// Version identifies the registry content. Equal versions mean equal
// descriptors, order and prerequisites.
func (r *Registry) Version() string {
	return r.version
}

// WithAvailability returns a copy of r with the availability of id changed.
func (r *Registry) WithAvailability(id string, available bool) *Registry {
	i, ok := r.byID[id]
	if !ok {
		return r
	}
	descs := r.Descriptors()
	descs[i].Available = available
	next := &Registry{
		descriptors:   descs,
		byID:          r.byID,
		prerequisites: r.prerequisites,
	}
	next.version = next.hash()
	return next
}

func (r *Registry) hash() string {
	h := sha256.New()
	for _, d := range r.descriptors {
		fmt.Fprintf(h, "%s;%v;%s;%t\n", d.ID, d.Tags, d.Cost, d.Available)
	}
	tags := make([]string, 0, len(r.prerequisites))
	for t := range r.prerequisites {
		tags = append(tags, string(t))
	}
	slices.Sort(tags)
	for _, t := range tags {
		fmt.Fprintf(h, "%s<%v\n", t, r.prerequisites[analyzer.Capability(t)])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// registryFile is the on-disk schema shared by the YAML and TOML loaders.
type registryFile struct {
	Providers     []providerEntry     `yaml:"providers" toml:"providers"`
	Prerequisites map[string][]string `yaml:"prerequisites" toml:"prerequisites"`
}

type providerEntry struct {
	ID   string   `yaml:"id" toml:"id"`
	Tags []string `yaml:"tags" toml:"tags"`
	Cost string   `yaml:"cost" toml:"cost"`
	// Available defaults to true when omitted.
	Available *bool `yaml:"available" toml:"available"`
}

// LoadFile reads a registry from a .yaml, .yml or .toml file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry %s: %w", path, err)
	}

	var f registryFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parsing registry %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, fmt.Errorf("parsing registry %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing registry %s: unknown keys %v", path, undecoded)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return f.registry()
}

func (f registryFile) registry() (*Registry, error) {
	descs := make([]Descriptor, 0, len(f.Providers))
	for _, p := range f.Providers {
		d := Descriptor{
			ID:        strings.TrimSpace(p.ID),
			Cost:      Cost(strings.ToLower(strings.TrimSpace(p.Cost))),
			Available: p.Available == nil || *p.Available,
		}
		if d.Cost == "" {
			d.Cost = CostStandard
		}
		for _, t := range p.Tags {
			d.Tags = append(d.Tags, analyzer.Capability(strings.ToLower(strings.TrimSpace(t))))
		}
		descs = append(descs, d)
	}
	prereqs := make(map[analyzer.Capability][]analyzer.Capability, len(f.Prerequisites))
	for tag, reqs := range f.Prerequisites {
		key := analyzer.Capability(strings.ToLower(tag))
		for _, r := range reqs {
			prereqs[key] = append(prereqs[key], analyzer.Capability(strings.ToLower(r)))
		}
	}
	return NewRegistry(descs, prereqs)
}

// DefaultRegistry returns the built-in provider set used when no registry
// file is configured.
func DefaultRegistry() *Registry {
	r, err := NewRegistry([]Descriptor{
		{ID: "architect", Tags: []analyzer.Capability{analyzer.CapArchitecture, analyzer.CapAnalysis}, Cost: CostIntensive, Available: true},
		{ID: "frontend", Tags: []analyzer.Capability{analyzer.CapFrontend, analyzer.CapGeneration}, Cost: CostStandard, Available: true},
		{ID: "backend", Tags: []analyzer.Capability{analyzer.CapBackend, analyzer.CapGeneration}, Cost: CostStandard, Available: true},
		{ID: "performance", Tags: []analyzer.Capability{analyzer.CapPerformance, analyzer.CapAnalysis}, Cost: CostStandard, Available: true},
		{ID: "security", Tags: []analyzer.Capability{analyzer.CapSecurity, analyzer.CapAnalysis}, Cost: CostStandard, Available: true},
		{ID: "qa", Tags: []analyzer.Capability{analyzer.CapTesting}, Cost: CostLight, Available: true},
		{ID: "refactorer", Tags: []analyzer.Capability{analyzer.CapRefactoring}, Cost: CostStandard, Available: true},
		{ID: "scribe", Tags: []analyzer.Capability{analyzer.CapDocumentation}, Cost: CostLight, Available: true},
	}, map[analyzer.Capability][]analyzer.Capability{
		analyzer.CapGeneration: {analyzer.CapArchitecture},
		analyzer.CapTesting:    {analyzer.CapGeneration},
	})
	if err != nil {
		panic("capability: invalid default registry: " + err.Error())
	}
	return r
}
