// Package catalog provides the in-process capability catalog a worker
// declares at startup. The runtime builds its registration payload from
// the catalog, and request dispatch looks handlers up by capability id.
//
// Definitions are immutable values; the catalog itself is a thread-safe
// lookup so subsystems can consult it while registration is in flight.
package catalog

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/workmesh/workmesh/pkg/models"
)

// Catalog is a thread-safe set of capability definitions keyed by dotted id.
type Catalog struct {
	mu   sync.RWMutex
	caps map[string]models.CapabilityDefinition
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{caps: make(map[string]models.CapabilityDefinition)}
}

// Register adds or replaces a capability definition.
func (c *Catalog) Register(def models.CapabilityDefinition) {
	c.mu.Lock()
	c.caps[def.ID] = def
	c.mu.Unlock()

	log.Debug().
		Str("capability", def.ID).
		Str("version", def.Version.String()).
		Msg("capability declared")
}

// Lookup returns the definition for a dotted id.
func (c *Catalog) Lookup(id string) (models.CapabilityDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.caps[id]
	return def, ok
}

// List returns all definitions sorted by id.
func (c *Catalog) List() []models.CapabilityDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.CapabilityDefinition, 0, len(c.caps))
	for _, def := range c.caps {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Schemas converts every declared definition into its registry-side
// record, in id order.
func (c *Catalog) Schemas() []models.CapabilitySchema {
	defs := c.List()
	out := make([]models.CapabilitySchema, 0, len(defs))
	for _, def := range defs {
		out = append(out, models.SchemaFromDefinition(def))
	}
	return out
}

// Count returns the number of declared capabilities.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.caps)
}
