package monitor

import (
	"context"
	"fmt"

	"melonbooks-monitor/internal/logger"
	"melonbooks-monitor/internal/models"
	"melonbooks-monitor/internal/scraper"

	"github.com/google/uuid"
)

// Repository is the persisted catalog the monitor reads and writes.
type Repository interface {
	GetArtists(ctx context.Context, site string) ([]string, error)
	ContainsProduct(ctx context.Context, url string) (bool, error)
	IsUnavailable(ctx context.Context, url string) (bool, error)
	GetProducts(ctx context.Context, site string) ([]models.Product, error)
	StoreProducts(ctx context.Context, site string, products []models.Product) error
	UpdateAvailability(ctx context.Context, url string, availability models.Availability) (bool, error)
	IsSkipped(ctx context.Context, url, artist string) (bool, error)
	AddSkip(ctx context.Context, url, artist string) error
	TitleMatchesSkipSequence(ctx context.Context, artist, site, title string) (bool, error)
}

// Notifier announces changed products of one artist.
type Notifier interface {
	NotifyNew(ctx context.Context, artist string, products []models.Product) error
	NotifyReruns(ctx context.Context, artist string, products []models.Product) error
}

// Monitor synchronizes the catalog with the shops in its registry.
// Passes are strictly sequential and a Monitor must not run two passes at once.
type Monitor struct {
	repo     Repository
	registry *scraper.Registry
	notifier Notifier
	pacer    Pacer
	log      logger.Logger
}

// New creates a monitor.
func New(repo Repository, registry *scraper.Registry, notifier Notifier, pacer Pacer, log logger.Logger) *Monitor {
	return &Monitor{
		repo:     repo,
		registry: registry,
		notifier: notifier,
		pacer:    pacer,
		log:      log,
	}
}

// Run is the default pass: refresh tracked products, then look for new ones.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.RefreshAll(ctx, models.DefaultTrackedTypes); err != nil {
		return err
	}
	return m.DiscoverAll(ctx, false)
}

// DiscoverAll runs Discover for every registered site.
func (m *Monitor) DiscoverAll(ctx context.Context, includeUnavailable bool) error {
	m.log.Info("Loading new products", logger.Bool("include_unavailable", includeUnavailable))
	for _, src := range m.registry.Sources() {
		if err := m.Discover(ctx, src, includeUnavailable); err != nil {
			return err
		}
	}
	m.log.Info("Loading new products done")
	return nil
}

// RefreshAll runs Refresh for every registered site.
func (m *Monitor) RefreshAll(ctx context.Context, tracked []models.Availability) error {
	for _, src := range m.registry.Sources() {
		if err := m.Refresh(ctx, src, tracked); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) passLogger(pass, site string) logger.Logger {
	return m.log.With(
		logger.String("pass", pass),
		logger.String("site", site),
		logger.String("run_id", uuid.NewString()),
	)
}

// fetchWithRetry fetches a product page, retrying exactly once right away on a timeout.
func (m *Monitor) fetchWithRetry(ctx context.Context, src scraper.Source, artist, url string, log logger.Logger) (*models.Product, error) {
	p, err := src.FetchDetail(ctx, artist, url)
	if err == nil || !scraper.IsTimeout(err) {
		return p, err
	}

	log.Warn("Timeout fetching product, retrying once", logger.String("url", url), logger.Error(err))
	p, err = src.FetchDetail(ctx, artist, url)
	if err != nil && scraper.IsTimeout(err) {
		return nil, fmt.Errorf("retry after timeout: %w", err)
	}
	return p, err
}
