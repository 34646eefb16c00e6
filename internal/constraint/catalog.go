package constraint

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ID names a constraint in the catalog.
type ID string

// Record is one analytical lens a council member is bound to.
type Record struct {
	ID        ID
	Framework string
	// Mandatory records are included in every run unless the caller passes
	// an explicit mandatory list.
	Mandatory bool
	// Keywords feed the relevance policy.
	Keywords []string
}

func (r Record) clone() Record {
	r.Keywords = append([]string(nil), r.Keywords...)
	return r
}

func (r Record) validate() error {
	if strings.TrimSpace(string(r.ID)) == "" {
		return fmt.Errorf("constraint: id is required")
	}
	if strings.TrimSpace(r.Framework) == "" {
		return fmt.Errorf("constraint: framework text is required for %s", r.ID)
	}
	return nil
}

// Catalog is an immutable, ordered set of constraint records. It is safe for
// concurrent use because nothing mutates it after construction.
type Catalog struct {
	records []Record
	index   map[ID]int
}

// NewCatalog validates the records and freezes them into a catalog.
func NewCatalog(records ...Record) (*Catalog, error) {
	c := &Catalog{
		records: make([]Record, 0, len(records)),
		index:   make(map[ID]int, len(records)),
	}
	for _, rec := range records {
		rec.ID = ID(strings.TrimSpace(string(rec.ID)))
		if err := rec.validate(); err != nil {
			return nil, err
		}
		if _, exists := c.index[rec.ID]; exists {
			return nil, fmt.Errorf("constraint: duplicate id %s", rec.ID)
		}
		c.index[rec.ID] = len(c.records)
		c.records = append(c.records, rec.clone())
	}
	return c, nil
}

// With returns a new catalog holding the receiver's records followed by extra.
func (c *Catalog) With(extra ...Record) (*Catalog, error) {
	all := make([]Record, 0, c.Len()+len(extra))
	all = append(all, c.Records()...)
	all = append(all, extra...)
	return NewCatalog(all...)
}

// Len reports the number of records.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.records)
}

// Lookup returns the record for id.
func (c *Catalog) Lookup(id ID) (Record, bool) {
	if c == nil {
		return Record{}, false
	}
	idx, ok := c.index[id]
	if !ok {
		return Record{}, false
	}
	return c.records[idx].clone(), true
}

// Records returns a copy of every record in catalog order.
func (c *Catalog) Records() []Record {
	if c == nil {
		return nil
	}
	out := make([]Record, len(c.records))
	for i, rec := range c.records {
		out[i] = rec.clone()
	}
	return out
}

// IDs returns the catalog ids sorted alphabetically.
func (c *Catalog) IDs() []ID {
	if c == nil {
		return nil
	}
	ids := make([]ID, 0, len(c.records))
	for _, rec := range c.records {
		ids = append(ids, rec.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DefaultMandatory lists the records flagged as mandatory, in catalog order.
func (c *Catalog) DefaultMandatory() []ID {
	if c == nil {
		return nil
	}
	var ids []ID
	for _, rec := range c.records {
		if rec.Mandatory {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

var (
	builtinOnce    sync.Once
	builtinCatalog *Catalog
)

// Builtin returns the process-wide catalog of built-in constraints.
func Builtin() *Catalog {
	builtinOnce.Do(func() {
		c, err := NewCatalog(builtinRecords...)
		if err != nil {
			panic(err)
		}
		builtinCatalog = c
	})
	return builtinCatalog
}
