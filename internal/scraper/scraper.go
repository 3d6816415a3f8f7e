package scraper

import (
	"context"

	"melonbooks-monitor/internal/models"
)

// Source lists and fetches the products of one shop.
type Source interface {
	// SiteName is the key under which artists and products of this shop are stored.
	SiteName() string
	// ListCandidates returns the product urls found when searching for artist.
	// Without includeUnavailable the shop only lists products that can be bought.
	ListCandidates(ctx context.Context, artist string, includeUnavailable bool) ([]string, error)
	// FetchDetail loads a single product page, associating it with artist.
	FetchDetail(ctx context.Context, artist, url string) (*models.Product, error)
}

// Registry keeps one Source per site, in registration order.
type Registry struct {
	sources []Source
}

// NewRegistry creates a registry of the given sources.
func NewRegistry(sources ...Source) *Registry {
	return &Registry{sources: sources}
}

// Sources returns all registered sources.
func (r *Registry) Sources() []Source {
	return r.sources
}

// Get returns the source for site, or nil if no source handles it.
func (r *Registry) Get(site string) Source {
	for _, s := range r.sources {
		if s.SiteName() == site {
			return s
		}
	}
	return nil
}

// Sites returns the names of all registered sites.
func (r *Registry) Sites() []string {
	sites := make([]string, 0, len(r.sources))
	for _, s := range r.sources {
		sites = append(sites, s.SiteName())
	}
	return sites
}
