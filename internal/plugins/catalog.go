package plugins

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/logger"
)

const (
	// missTTL bounds how long an unknown URI lookup is remembered
	missTTL = 30 * time.Second

	uriPrefix = "urn:ingen:"
)

// ErrUnknownPlugin is returned when a URI resolves to no descriptor
var ErrUnknownPlugin = errors.New(nil).
	Component("plugins").
	Category(errors.CategoryNotFound).
	Context("resource", "plugin").
	Build()

// Catalog is the node factory: it resolves plugin URIs to descriptors and
// instantiates plugin bodies. Safe for concurrent use.
type Catalog struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
	lookups     *cache.Cache
	log         logger.Logger
}

// NewCatalog returns a catalog holding the built-in plugins
func NewCatalog(log logger.Logger) *Catalog {
	if log == nil {
		log = logger.Global().Module("plugins")
	}
	c := &Catalog{
		descriptors: make(map[string]*Descriptor),
		// No janitor goroutine: expired misses are dropped on access
		lookups: cache.New(cache.NoExpiration, 0),
		log:     log,
	}
	for _, d := range builtinDescriptors() {
		c.descriptors[d.URI] = d
	}
	return c
}

// Register adds a descriptor. The factory receives instantiation
// parameters and must return a fresh Instance.
func (c *Catalog) Register(d Descriptor, factory func(Params) Instance) error {
	if d.URI == "" || factory == nil {
		return errors.Newf("plugin descriptor requires a URI and factory").
			Component("plugins").
			Category(errors.CategoryValidation).
			Build()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.descriptors[d.URI]; exists {
		return errors.Newf("plugin %s already registered", d.URI).
			Component("plugins").
			Category(errors.CategoryConflict).
			Context("uri", d.URI).
			Build()
	}
	d.Ports = slices.Clone(d.Ports)
	d.factory = factory
	c.descriptors[d.URI] = &d
	// Earlier misses for this URI are no longer valid
	c.lookups.Flush()
	return nil
}

// Plugin resolves uri. Short names such as "gain" resolve to the built-in
// "urn:ingen:gain". Results, including misses, are cached.
func (c *Catalog) Plugin(uri string) (*Descriptor, bool) {
	if cached, found := c.lookups.Get(uri); found {
		d, _ := cached.(*Descriptor)
		return d, d != nil
	}

	c.mu.RLock()
	d, ok := c.descriptors[uri]
	if !ok && !strings.Contains(uri, ":") {
		d, ok = c.descriptors[uriPrefix+uri]
	}
	c.mu.RUnlock()

	if ok {
		c.lookups.Set(uri, d, cache.NoExpiration)
		return d, true
	}
	c.lookups.Set(uri, (*Descriptor)(nil), missTTL)
	c.log.Debug("plugin lookup missed", logger.String("uri", uri))
	return nil, false
}

// Plugins returns all descriptors sorted by URI
func (c *Catalog) Plugins() []*Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Descriptor, 0, len(c.descriptors))
	for _, d := range c.descriptors {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *Descriptor) int { return strings.Compare(a.URI, b.URI) })
	return out
}

// Instantiate creates a new plugin body for desc
func (c *Catalog) Instantiate(desc *Descriptor, name string, polyphony int, sampleRate, blockSize uint32) (Instance, error) {
	if desc == nil || desc.factory == nil {
		return nil, errors.New(ErrUnknownPlugin).
			Component("plugins").
			Context("name", name).
			Build()
	}
	if sampleRate == 0 || blockSize == 0 {
		return nil, errors.New(fmt.Errorf("invalid instantiation parameters: rate=%d block=%d", sampleRate, blockSize)).
			Component("plugins").
			Category(errors.CategoryPlugin).
			Context("uri", desc.URI).
			Build()
	}

	inst := desc.factory(Params{
		Name:       name,
		Polyphony:  max(polyphony, 1),
		SampleRate: sampleRate,
		BlockSize:  blockSize,
	})
	if inst == nil {
		return nil, errors.Newf("plugin %s failed to instantiate", desc.URI).
			Component("plugins").
			Category(errors.CategoryPlugin).
			Context("uri", desc.URI).
			Build()
	}
	return inst, nil
}
