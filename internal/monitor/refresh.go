package monitor

import (
	"context"
	"fmt"
	"slices"

	"melonbooks-monitor/internal/logger"
	"melonbooks-monitor/internal/models"
	"melonbooks-monitor/internal/scraper"
)

// Refresh re-fetches every stored product of the source's site whose
// availability is in tracked and persists the fetched availability.
// Products gone from the shop become Deleted. Any other failure aborts the pass.
func (m *Monitor) Refresh(ctx context.Context, src scraper.Source, tracked []models.Availability) error {
	site := src.SiteName()
	log := m.passLogger("refresh", site)

	stored, err := m.repo.GetProducts(ctx, site)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", site, err)
	}

	var selected []models.Product
	for _, p := range stored {
		if slices.Contains(tracked, p.Availability) {
			selected = append(selected, p)
		}
	}
	log.Info("Updating products", logger.Int("total", len(selected)))

	for i, p := range selected {
		log.Debug("Updating product", logger.String("url", p.URL), logger.Int("index", i+1), logger.Int("total", len(selected)))
		if err := m.refreshProduct(ctx, src, p, log); err != nil {
			return fmt.Errorf("refresh %s: %w", site, err)
		}
		m.pacer.afterRequest()

		if m.pacer.cooldownDue(i + 1) {
			log.Info("Cooling down", logger.Int("processed", i+1), logger.Duration("for", m.pacer.Cooldown))
			m.pacer.cooldown()
		}
	}
	log.Info("Updating products done")
	return nil
}

func (m *Monitor) refreshProduct(ctx context.Context, src scraper.Source, p models.Product, log logger.Logger) error {
	fetched, err := m.fetchWithRetry(ctx, src, p.AssociatedArtist, p.URL, log)
	switch {
	case err == nil:
		_, err = m.repo.UpdateAvailability(ctx, p.URL, fetched.Availability)
	case scraper.IsNotFound(err):
		log.Info("Product was removed from the shop", logger.String("url", p.URL))
		_, err = m.repo.UpdateAvailability(ctx, p.URL, models.Deleted)
	default:
		return fmt.Errorf("fetch %s: %w", p.URL, err)
	}
	return err
}
