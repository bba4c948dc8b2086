// Package types contains the harvest data model shared by the harvest, dataset,
// syncer and pipeline packages.
package types

import (
	"time"

	"github.com/elliotchance/orderedmap/v2"
)

// EntityHandle identifies one harvestable entity and the opaque value that
// selects it in the rendered view.
type EntityHandle struct {
	Name           string
	SelectionValue string
}

// EntityCatalog is an ordered, read-only mapping of entity name to handle.
// Names keep the order in which the enumeration control listed them.
type EntityCatalog struct {
	entries *orderedmap.OrderedMap[string, EntityHandle]
}

// NewEntityCatalog builds a catalog from handles. A later handle with a name
// already present replaces the earlier value but keeps its position.
func NewEntityCatalog(handles []EntityHandle) *EntityCatalog {
	m := orderedmap.NewOrderedMap[string, EntityHandle]()
	for _, h := range handles {
		m.Set(h.Name, h)
	}
	return &EntityCatalog{entries: m}
}

// Len returns the number of entities in the catalog.
func (c *EntityCatalog) Len() int {
	if c == nil || c.entries == nil {
		return 0
	}
	return c.entries.Len()
}

// Get returns the handle for name.
func (c *EntityCatalog) Get(name string) (EntityHandle, bool) {
	if c == nil || c.entries == nil {
		return EntityHandle{}, false
	}
	return c.entries.Get(name)
}

// Names returns a fresh copy of the entity names in catalog order.
func (c *EntityCatalog) Names() []string {
	names := make([]string, 0, c.Len())
	if c.Len() == 0 {
		return names
	}
	for el := c.entries.Front(); el != nil; el = el.Next() {
		names = append(names, el.Key)
	}
	return names
}

// Handles returns a fresh copy of the handles in catalog order.
func (c *EntityCatalog) Handles() []EntityHandle {
	handles := make([]EntityHandle, 0, c.Len())
	if c.Len() == 0 {
		return handles
	}
	for el := c.entries.Front(); el != nil; el = el.Next() {
		handles = append(handles, el.Value)
	}
	return handles
}

// HarvestRecord is one normalized observation for an entity. Attribute values
// are scalars (string, float64, int64, bool) or nil for "no value".
type HarvestRecord struct {
	EntityKey  string
	Attributes map[string]interface{}
	CapturedAt time.Time
}

// PassResult is the outcome of one pass over the pending entities.
type PassResult struct {
	Pass      int
	Succeeded []HarvestRecord
	Failed    []string
}

// RunResult is the terminal artifact of the scheduler.
type RunResult struct {
	Records []HarvestRecord
	Failed  []string
	Passes  int
}

// SucceededEntities returns the entity keys that produced a record, in
// record order.
func (r *RunResult) SucceededEntities() []string {
	keys := make([]string, 0, len(r.Records))
	for _, rec := range r.Records {
		keys = append(keys, rec.EntityKey)
	}
	return keys
}
