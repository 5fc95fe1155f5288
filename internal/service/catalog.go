package service

import (
	"sort"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"
)

// Catalog is the in-memory index of listings loaded from the product's
// listings file. Read-mostly input; the engine never mutates it.
type Catalog struct {
	listings map[int64]*models.Listing
}

func NewCatalog(listings []models.Listing) *Catalog {
	m := make(map[int64]*models.Listing, len(listings))
	for i := range listings {
		m[listings[i].ID] = &listings[i]
	}
	return &Catalog{listings: m}
}

// Listing resolves a listing by id.
func (c *Catalog) Listing(id int64) (*models.Listing, bool) {
	l, ok := c.listings[id]
	return l, ok
}

// Active returns the active listings ordered by id.
func (c *Catalog) Active() []*models.Listing {
	var out []*models.Listing
	for _, l := range c.listings {
		if l.IsActive {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
