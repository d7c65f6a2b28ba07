package device

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Catalog is the de-duplicated, discovery-ordered list of peripherals found in
// one scan pass. Entries are keyed by name; empty names are never admitted.
// Not safe for concurrent use: only the event loop touches it.
type Catalog struct {
	entries *orderedmap.OrderedMap[string, Record]
	frozen  bool
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: orderedmap.New[string, Record]()}
}

// Admit appends r unless its name is empty, already present, or the catalog is frozen.
func (c *Catalog) Admit(r Record) bool {
	if c.frozen || r.Name() == "" {
		return false
	}
	if _, present := c.entries.Get(r.Name()); present {
		return false
	}
	c.entries.Set(r.Name(), r)
	return true
}

// Reset empties the catalog and accepts new entries again.
func (c *Catalog) Reset() {
	c.entries = orderedmap.New[string, Record]()
	c.frozen = false
}

// Freeze stops further admissions until the next Reset.
func (c *Catalog) Freeze()      { c.frozen = true }
func (c *Catalog) Frozen() bool { return c.frozen }
func (c *Catalog) Len() int     { return c.entries.Len() }

// At returns the record at index i in discovery order.
func (c *Catalog) At(i int) (Record, error) {
	if i < 0 || i >= c.entries.Len() {
		return Record{}, fmt.Errorf("device index %d out of range [0,%d)", i, c.entries.Len())
	}
	pair := c.entries.Oldest()
	for ; i > 0; i-- {
		pair = pair.Next()
	}
	return pair.Value, nil
}

// Names returns the entry names in discovery order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, c.entries.Len())
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Records returns the entries in discovery order.
func (c *Catalog) Records() []Record {
	out := make([]Record, 0, c.entries.Len())
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
