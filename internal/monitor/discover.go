package monitor

import (
	"context"
	"fmt"

	"melonbooks-monitor/internal/logger"
	"melonbooks-monitor/internal/models"
	"melonbooks-monitor/internal/scraper"
)

// Discover walks every watched artist of the source's site, stores products
// it has never seen and notices known unavailable products that came back.
//
// With includeUnavailable the listing also contains sold-out items and only
// new products are considered.
func (m *Monitor) Discover(ctx context.Context, src scraper.Source, includeUnavailable bool) error {
	site := src.SiteName()
	log := m.passLogger("discover", site)

	artists, err := m.repo.GetArtists(ctx, site)
	if err != nil {
		return fmt.Errorf("discover %s: %w", site, err)
	}

	for i, artist := range artists {
		log.Info("Searching artist",
			logger.String("artist", artist),
			logger.Int("index", i+1),
			logger.Int("total", len(artists)),
		)
		if err := m.discoverArtist(ctx, src, artist, includeUnavailable, log.With(logger.String("artist", artist))); err != nil {
			return fmt.Errorf("discover %s/%s: %w", site, artist, err)
		}
		m.pacer.afterArtist()
	}
	return nil
}

func (m *Monitor) discoverArtist(ctx context.Context, src scraper.Source, artist string, includeUnavailable bool, log logger.Logger) error {
	urls, err := src.ListCandidates(ctx, artist, includeUnavailable)
	if err != nil {
		return err
	}

	fresh, cameBack, err := m.partition(ctx, urls, artist, includeUnavailable)
	if err != nil {
		return err
	}
	log.Info("Search finished",
		logger.Int("found", len(urls)),
		logger.Int("new", len(fresh)),
		logger.Int("came_back", len(cameBack)),
	)

	added, err := m.addNew(ctx, src, artist, fresh, log)
	if err != nil {
		return err
	}
	if err := m.notifier.NotifyNew(ctx, artist, added); err != nil {
		return err
	}

	reruns, err := m.checkCameBack(ctx, src, artist, cameBack, log)
	if err != nil {
		return err
	}
	return m.notifier.NotifyReruns(ctx, artist, reruns)
}

// partition splits a listing into unknown urls and known unavailable ones.
// Urls skipped for this artist and duplicates are dropped.
func (m *Monitor) partition(ctx context.Context, urls []string, artist string, includeUnavailable bool) (fresh, cameBack []string, err error) {
	seen := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}

		skipped, err := m.repo.IsSkipped(ctx, url, artist)
		if err != nil {
			return nil, nil, err
		}
		if skipped {
			continue
		}

		known, err := m.repo.ContainsProduct(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		if !known {
			fresh = append(fresh, url)
			continue
		}
		if includeUnavailable {
			continue
		}

		unavailable, err := m.repo.IsUnavailable(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		if unavailable {
			cameBack = append(cameBack, url)
		}
	}
	return fresh, cameBack, nil
}

// addNew fetches unknown products. Products crediting the artist are stored,
// the others are skip-listed for this artist.
func (m *Monitor) addNew(ctx context.Context, src scraper.Source, artist string, urls []string, log logger.Logger) ([]models.Product, error) {
	var added []models.Product
	for i, url := range urls {
		log.Debug("Adding product", logger.String("url", url), logger.Int("index", i+1), logger.Int("total", len(urls)))

		p, err := src.FetchDetail(ctx, artist, url)
		if err != nil {
			if !scraper.IsNotFound(err) {
				return nil, err
			}
			log.Warn("Listed product not found, skipping", logger.String("url", url))
			m.pacer.afterRequest()
			continue
		}

		if p.CreditedTo(artist) {
			if err := m.repo.StoreProducts(ctx, src.SiteName(), []models.Product{*p}); err != nil {
				return nil, err
			}
			added = append(added, *p)
		} else {
			log.Info("Artist not credited, skipping product",
				logger.String("url", url),
				logger.Strings("credited", p.Artists),
			)
			if err := m.repo.AddSkip(ctx, url, artist); err != nil {
				return nil, err
			}
		}
		m.pacer.afterRequest()
	}
	return added, nil
}

// checkCameBack re-fetches known unavailable products and returns those that
// are orderable again and not filtered by a title skip sequence.
func (m *Monitor) checkCameBack(ctx context.Context, src scraper.Source, artist string, urls []string, log logger.Logger) ([]models.Product, error) {
	var reruns []models.Product
	for _, url := range urls {
		p, err := src.FetchDetail(ctx, artist, url)
		if err != nil {
			if !scraper.IsNotFound(err) {
				return nil, err
			}
			log.Info("Product was removed from the shop", logger.String("url", url))
			if _, err := m.repo.UpdateAvailability(ctx, url, models.Deleted); err != nil {
				return nil, err
			}
			m.pacer.afterRequest()
			continue
		}

		if p.Availability != models.NotAvailable {
			changed, err := m.repo.UpdateAvailability(ctx, url, p.Availability)
			if err != nil {
				return nil, err
			}
			if changed {
				filtered, err := m.repo.TitleMatchesSkipSequence(ctx, p.AssociatedArtist, src.SiteName(), p.Title)
				if err != nil {
					return nil, err
				}
				if filtered {
					log.Debug("Rerun filtered by title", logger.String("url", url), logger.String("title", p.Title))
				} else {
					reruns = append(reruns, *p)
				}
			}
		}
		m.pacer.afterRequest()
	}
	return reruns, nil
}
