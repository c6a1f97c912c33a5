package terminal

import (
	"sort"
	"sync"
)

type Merchant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Catalog is the merchant list offered on terminals.
type Catalog struct {
	mu        sync.RWMutex
	merchants map[string]Merchant
}

func NewCatalog(ms ...Merchant) *Catalog {
	c := &Catalog{merchants: make(map[string]Merchant, len(ms))}
	for _, m := range ms {
		c.merchants[m.ID] = m
	}
	return c
}

func DefaultCatalog() *Catalog {
	return NewCatalog(
		Merchant{ID: "M001", Name: "Supermarché Central", Category: "grocery"},
		Merchant{ID: "M002", Name: "Cafétéria Campus", Category: "food"},
		Merchant{ID: "M003", Name: "Pharmacie du Marché", Category: "health"},
		Merchant{ID: "M004", Name: "Station Transport Urbain", Category: "transport"},
		Merchant{ID: "M005", Name: "Librairie Universitaire", Category: "books"},
	)
}

func (c *Catalog) Get(id string) (Merchant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.merchants[id]
	return m, ok
}

func (c *Catalog) Add(m Merchant) {
	c.mu.Lock()
	c.merchants[m.ID] = m
	c.mu.Unlock()
}

// List returns merchants sorted by id.
func (c *Catalog) List() []Merchant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Merchant, 0, len(c.merchants))
	for _, m := range c.merchants {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
