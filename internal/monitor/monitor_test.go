package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"melonbooks-monitor/internal/database"
	"melonbooks-monitor/internal/logger"
	"melonbooks-monitor/internal/models"
	"melonbooks-monitor/internal/scraper"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const site = "melonbooks"

func productURL(id int) string {
	return fmt.Sprintf("https://www.melonbooks.co.jp/detail/detail.php?product_id=%d", id)
}

// memRepo mirrors the persisted semantics of database.DB in memory.
type memRepo struct {
	artists  map[string][]string
	products map[string]models.Product
	skips    map[string]bool
	seqs     map[string][]string
	failOp   string
}

func newMemRepo(artists ...string) *memRepo {
	return &memRepo{
		artists:  map[string][]string{site: artists},
		products: map[string]models.Product{},
		skips:    map[string]bool{},
		seqs:     map[string][]string{},
	}
}

func (r *memRepo) fail(op string) error {
	if r.failOp == op {
		return &database.StorageError{Op: op, Err: errors.New("disk I/O error")}
	}
	return nil
}

func (r *memRepo) put(p models.Product) { r.products[p.URL] = p }

func (r *memRepo) availability(url string) models.Availability { return r.products[url].Availability }

func (r *memRepo) GetArtists(_ context.Context, site string) ([]string, error) {
	if err := r.fail("get artists"); err != nil {
		return nil, err
	}
	return r.artists[site], nil
}

func (r *memRepo) ContainsProduct(_ context.Context, url string) (bool, error) {
	_, ok := r.products[url]
	return ok, r.fail("contains product")
}

func (r *memRepo) IsUnavailable(_ context.Context, url string) (bool, error) {
	p, ok := r.products[url]
	return ok && p.Availability.Unavailable(), r.fail("is unavailable")
}

func (r *memRepo) GetProducts(_ context.Context, _ string) ([]models.Product, error) {
	if err := r.fail("get products"); err != nil {
		return nil, err
	}
	out := make([]models.Product, 0, len(r.products))
	for i := 0; i < 1000; i++ {
		if p, ok := r.products[productURL(i)]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memRepo) StoreProducts(_ context.Context, _ string, products []models.Product) error {
	if err := r.fail("store products"); err != nil {
		return err
	}
	for _, p := range products {
		if _, ok := r.products[p.URL]; !ok {
			r.products[p.URL] = p
		}
	}
	return nil
}

func (r *memRepo) UpdateAvailability(_ context.Context, url string, a models.Availability) (bool, error) {
	if err := r.fail("update availability"); err != nil {
		return false, err
	}
	p, ok := r.products[url]
	if !ok || p.Availability == models.Deleted {
		return false, nil
	}
	p.Availability = a
	r.products[url] = p
	return true, nil
}

func (r *memRepo) IsSkipped(_ context.Context, url, artist string) (bool, error) {
	return r.skips[url+"|"+artist], r.fail("is skipped")
}

func (r *memRepo) AddSkip(_ context.Context, url, artist string) error {
	r.skips[url+"|"+artist] = true
	return r.fail("add skip")
}

func (r *memRepo) TitleMatchesSkipSequence(_ context.Context, artist, site, title string) (bool, error) {
	for _, seq := range r.seqs[artist+"|"+site] {
		if strings.Contains(title, seq) {
			return true, nil
		}
	}
	return false, nil
}

type fakeSource struct {
	listings map[string][]string
	pages    map[string]models.Product
	// errs are returned for a url before its page is served.
	errs    map[string][]error
	fetched []string
	listed  []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		listings: map[string][]string{},
		pages:    map[string]models.Product{},
		errs:     map[string][]error{},
	}
}

func (s *fakeSource) SiteName() string { return site }

func (s *fakeSource) ListCandidates(_ context.Context, artist string, _ bool) ([]string, error) {
	s.listed = append(s.listed, artist)
	return s.listings[artist], nil
}

func (s *fakeSource) FetchDetail(_ context.Context, artist, url string) (*models.Product, error) {
	s.fetched = append(s.fetched, url)
	if q := s.errs[url]; len(q) > 0 {
		s.errs[url] = q[1:]
		return nil, q[0]
	}
	p, ok := s.pages[url]
	if !ok {
		return nil, sourceErr(scraper.KindNotFound, url)
	}
	p.URL = url
	p.AssociatedArtist = artist
	return &p, nil
}

func (s *fakeSource) page(id int, title string, a models.Availability, artists ...string) {
	s.pages[productURL(id)] = models.Product{Title: title, Artists: artists, Availability: a}
}

func sourceErr(kind scraper.Kind, url string) error {
	return &scraper.SourceError{Kind: kind, Site: site, URL: url}
}

type batch struct {
	kind   string
	artist string
	urls   []string
}

type recordingNotifier struct {
	batches []batch
	err     error
}

func (n *recordingNotifier) record(kind, artist string, products []models.Product) error {
	if len(products) == 0 {
		return nil
	}
	b := batch{kind: kind, artist: artist}
	for _, p := range products {
		b.urls = append(b.urls, p.URL)
	}
	n.batches = append(n.batches, b)
	return n.err
}

func (n *recordingNotifier) NotifyNew(_ context.Context, artist string, products []models.Product) error {
	return n.record("new", artist, products)
}

func (n *recordingNotifier) NotifyReruns(_ context.Context, artist string, products []models.Product) error {
	return n.record("rerun", artist, products)
}

type sleepRecorder struct{ slept []time.Duration }

func (s *sleepRecorder) pacer() Pacer {
	return Pacer{
		RequestDelay:  time.Millisecond,
		ArtistDelay:   time.Second,
		Cooldown:      time.Minute,
		CooldownEvery: 64,
		Sleep:         func(d time.Duration) { s.slept = append(s.slept, d) },
	}
}

func (s *sleepRecorder) count(d time.Duration) int {
	n := 0
	for _, got := range s.slept {
		if got == d {
			n++
		}
	}
	return n
}

type fixture struct {
	repo   *memRepo
	src    *fakeSource
	notify *recordingNotifier
	sleeps *sleepRecorder
	m      *Monitor
}

func newFixture(artists ...string) *fixture {
	f := &fixture{
		repo:   newMemRepo(artists...),
		src:    newFakeSource(),
		notify: &recordingNotifier{},
		sleeps: &sleepRecorder{},
	}
	f.m = New(f.repo, scraper.NewRegistry(f.src), f.notify, f.sleeps.pacer(), logger.NewNop())
	return f
}

func TestDiscoverStoresCreditedAndSkipsOthers(t *testing.T) {
	f := newFixture("mafuyu")
	f.src.listings["mafuyu"] = []string{productURL(1), productURL(2)}
	f.src.page(1, "Tapestry", models.Available, "mafuyu", "kantoku")
	f.src.page(2, "Anthology", models.Preorder, "someone else")

	require.NoError(t, f.m.Discover(context.Background(), f.src, false))

	stored := f.repo.products[productURL(1)]
	assert.Equal(t, "mafuyu", stored.AssociatedArtist)
	assert.Equal(t, models.Available, stored.Availability)
	assert.NotContains(t, f.repo.products, productURL(2))
	assert.True(t, f.repo.skips[productURL(2)+"|mafuyu"])
	assert.Equal(t, []batch{{kind: "new", artist: "mafuyu", urls: []string{productURL(1)}}}, f.notify.batches)
	assert.Equal(t, 1, f.sleeps.count(time.Second))
}

func TestDiscoverPacesEveryFetch(t *testing.T) {
	f := newFixture("mafuyu", "nana")
	f.repo.skips[productURL(4)+"|mafuyu"] = true
	f.repo.put(models.Product{URL: productURL(5), AssociatedArtist: "mafuyu", Availability: models.NotAvailable})
	f.repo.put(models.Product{URL: productURL(6), AssociatedArtist: "mafuyu", Availability: models.NotAvailable})
	f.src.listings["mafuyu"] = []string{productURL(1), productURL(2), productURL(3), productURL(4), productURL(5), productURL(6)}
	f.src.page(1, "Tapestry", models.Available, "mafuyu")
	f.src.page(2, "Anthology", models.Available, "someone else")
	f.src.page(5, "Artbook", models.NotAvailable, "mafuyu")

	require.NoError(t, f.m.Discover(context.Background(), f.src, false))

	assert.Equal(t, []string{productURL(1), productURL(2), productURL(3), productURL(5), productURL(6)}, f.src.fetched)
	assert.Equal(t, len(f.src.fetched), f.sleeps.count(time.Millisecond))
	assert.Equal(t, 2, f.sleeps.count(time.Second))
	assert.Len(t, f.sleeps.slept, len(f.src.fetched)+2)
	assert.Equal(t, models.Deleted, f.repo.availability(productURL(6)))
}

func TestDiscoverIsIdempotent(t *testing.T) {
	f := newFixture("mafuyu")
	f.src.listings["mafuyu"] = []string{productURL(1), productURL(2)}
	f.src.page(1, "Tapestry", models.Available, "mafuyu")
	f.src.page(2, "Anthology", models.Available, "someone else")

	require.NoError(t, f.m.Discover(context.Background(), f.src, false))
	fetches := len(f.src.fetched)
	require.NoError(t, f.m.Discover(context.Background(), f.src, false))

	assert.Len(t, f.src.fetched, fetches)
	assert.Len(t, f.notify.batches, 1)
	assert.Len(t, f.repo.products, 1)
}

func TestDiscoverDropsDuplicateListings(t *testing.T) {
	f := newFixture("mafuyu")
	f.src.listings["mafuyu"] = []string{productURL(1), productURL(1)}
	f.src.page(1, "Tapestry", models.Available, "mafuyu")

	require.NoError(t, f.m.Discover(context.Background(), f.src, false))
	assert.Equal(t, []string{productURL(1)}, f.src.fetched)
}

func TestDiscoverSkipsMissingNewProduct(t *testing.T) {
	f := newFixture("mafuyu")
	f.src.listings["mafuyu"] = []string{productURL(1), productURL(2)}
	f.src.page(2, "Tapestry", models.Available, "mafuyu")

	require.NoError(t, f.m.Discover(context.Background(), f.src, false))
	assert.NotContains(t, f.repo.products, productURL(1))
	assert.Contains(t, f.repo.products, productURL(2))
}

func TestDiscoverAbortsOnParseError(t *testing.T) {
	f := newFixture("mafuyu", "nana")
	f.src.listings["mafuyu"] = []string{productURL(1)}
	f.src.errs[productURL(1)] = []error{sourceErr(scraper.KindParse, productURL(1))}

	err := f.m.Discover(context.Background(), f.src, false)
	require.Error(t, err)
	assert.True(t, scraper.IsParse(err))
	assert.Equal(t, []string{"mafuyu"}, f.src.listed)
}

func TestDiscoverNotifiesRerun(t *testing.T) {
	f := newFixture("mafuyu")
	f.repo.put(models.Product{URL: productURL(3), Title: "Tapestry", AssociatedArtist: "mafuyu", Availability: models.NotAvailable})
	f.src.listings["mafuyu"] = []string{productURL(3)}
	f.src.page(3, "Tapestry", models.Available, "mafuyu")

	require.NoError(t, f.m.Discover(context.Background(), f.src, false))

	assert.Equal(t, models.Available, f.repo.availability(productURL(3)))
	assert.Equal(t, []batch{{kind: "rerun", artist: "mafuyu", urls: []string{productURL(3)}}}, f.notify.batches)
}

func TestDiscoverRerunFilteredByTitle(t *testing.T) {
	f := newFixture("mafuyu")
	f.repo.seqs["mafuyu|"+site] = []string{"Acrylic"}
	f.repo.put(models.Product{URL: productURL(3), Title: "Acrylic Stand", AssociatedArtist: "mafuyu", Availability: models.NotAvailable})
	f.src.listings["mafuyu"] = []string{productURL(3)}
	f.src.page(3, "Acrylic Stand", models.Preorder, "mafuyu")

	require.NoError(t, f.m.Discover(context.Background(), f.src, false))

	assert.Equal(t, models.Preorder, f.repo.availability(productURL(3)))
	assert.Empty(t, f.notify.batches)
}

func TestDiscoverStillSoldOutIsNotRerun(t *testing.T) {
	f := newFixture("mafuyu")
	f.repo.put(models.Product{URL: productURL(3), AssociatedArtist: "mafuyu", Availability: models.NotAvailable})
	f.src.listings["mafuyu"] = []string{productURL(3)}
	f.src.page(3, "Tapestry", models.NotAvailable, "mafuyu")

	require.NoError(t, f.m.Discover(context.Background(), f.src, false))
	assert.Equal(t, models.NotAvailable, f.repo.availability(productURL(3)))
	assert.Empty(t, f.notify.batches)
}

func TestDiscoverDeletedIsTerminal(t *testing.T) {
	f := newFixture("mafuyu")
	f.repo.put(models.Product{URL: productURL(3), AssociatedArtist: "mafuyu", Availability: models.NotAvailable})
	f.src.listings["mafuyu"] = []string{productURL(3)}

	require.NoError(t, f.m.Discover(context.Background(), f.src, false))
	assert.Equal(t, models.Deleted, f.repo.availability(productURL(3)))

	f.src.page(3, "Tapestry", models.Available, "mafuyu")
	require.NoError(t, f.m.Discover(context.Background(), f.src, false))

	assert.Equal(t, models.Deleted, f.repo.availability(productURL(3)))
	assert.Empty(t, f.notify.batches)
}

func TestDiscoverIncludingUnavailableIgnoresKnown(t *testing.T) {
	f := newFixture("mafuyu")
	f.repo.put(models.Product{URL: productURL(3), AssociatedArtist: "mafuyu", Availability: models.NotAvailable})
	f.src.listings["mafuyu"] = []string{productURL(3), productURL(4)}
	f.src.page(3, "Tapestry", models.Available, "mafuyu")
	f.src.page(4, "Old book", models.NotAvailable, "mafuyu")

	require.NoError(t, f.m.Discover(context.Background(), f.src, true))

	assert.Equal(t, []string{productURL(4)}, f.src.fetched)
	assert.Equal(t, models.NotAvailable, f.repo.availability(productURL(4)))
	assert.Equal(t, models.NotAvailable, f.repo.availability(productURL(3)))
}

func TestDiscoverAbortsOnStorageError(t *testing.T) {
	f := newFixture("mafuyu")
	f.repo.failOp = "store products"
	f.src.listings["mafuyu"] = []string{productURL(1)}
	f.src.page(1, "Tapestry", models.Available, "mafuyu")

	err := f.m.Discover(context.Background(), f.src, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrStorage)
	assert.Empty(t, f.notify.batches)
}

func TestDiscoverFailsOnNotifyError(t *testing.T) {
	f := newFixture("mafuyu")
	f.notify.err = errors.New("telegram down")
	f.src.listings["mafuyu"] = []string{productURL(1)}
	f.src.page(1, "Tapestry", models.Available, "mafuyu")

	err := f.m.Discover(context.Background(), f.src, false)
	require.Error(t, err)
	assert.Contains(t, f.repo.products, productURL(1))
}

func TestRefreshUpdatesTrackedOnly(t *testing.T) {
	f := newFixture("mafuyu")
	f.repo.put(models.Product{URL: productURL(1), AssociatedArtist: "mafuyu", Availability: models.Available})
	f.repo.put(models.Product{URL: productURL(2), AssociatedArtist: "mafuyu", Availability: models.Preorder})
	f.repo.put(models.Product{URL: productURL(3), AssociatedArtist: "mafuyu", Availability: models.NotAvailable})
	f.repo.put(models.Product{URL: productURL(4), AssociatedArtist: "mafuyu", Availability: models.Deleted})
	f.src.page(1, "a", models.NotAvailable, "mafuyu")
	f.src.page(2, "b", models.Available, "mafuyu")

	require.NoError(t, f.m.Refresh(context.Background(), f.src, models.DefaultTrackedTypes))

	assert.Equal(t, []string{productURL(1), productURL(2)}, f.src.fetched)
	assert.Equal(t, models.NotAvailable, f.repo.availability(productURL(1)))
	assert.Equal(t, models.Available, f.repo.availability(productURL(2)))
	assert.Equal(t, models.NotAvailable, f.repo.availability(productURL(3)))
	assert.Equal(t, models.Deleted, f.repo.availability(productURL(4)))
	assert.Empty(t, f.notify.batches)
}

func TestRefreshRetriesTimeoutOnce(t *testing.T) {
	f := newFixture("mafuyu")
	f.repo.put(models.Product{URL: productURL(1), AssociatedArtist: "mafuyu", Availability: models.Available})
	f.src.page(1, "a", models.Preorder, "mafuyu")
	f.src.errs[productURL(1)] = []error{sourceErr(scraper.KindTimeout, productURL(1))}

	require.NoError(t, f.m.Refresh(context.Background(), f.src, models.DefaultTrackedTypes))

	assert.Equal(t, []string{productURL(1), productURL(1)}, f.src.fetched)
	assert.Equal(t, models.Preorder, f.repo.availability(productURL(1)))
	// the retry is immediate; only the per-product delay follows
	assert.Equal(t, []time.Duration{time.Millisecond}, f.sleeps.slept)
}

func TestRefreshAbortsAfterSecondTimeout(t *testing.T) {
	f := newFixture("mafuyu")
	f.repo.put(models.Product{URL: productURL(1), AssociatedArtist: "mafuyu", Availability: models.Available})
	f.repo.put(models.Product{URL: productURL(2), AssociatedArtist: "mafuyu", Availability: models.Available})
	f.src.page(1, "a", models.Available, "mafuyu")
	f.src.page(2, "b", models.NotAvailable, "mafuyu")
	f.src.errs[productURL(1)] = []error{
		sourceErr(scraper.KindTimeout, productURL(1)),
		sourceErr(scraper.KindTimeout, productURL(1)),
	}

	err := f.m.Refresh(context.Background(), f.src, models.DefaultTrackedTypes)
	require.Error(t, err)
	assert.True(t, scraper.IsTimeout(err))
	assert.Equal(t, []string{productURL(1), productURL(1)}, f.src.fetched)
	assert.Equal(t, models.Available, f.repo.availability(productURL(2)))
}

func TestRefreshMarksMissingDeleted(t *testing.T) {
	f := newFixture("mafuyu")
	f.repo.put(models.Product{URL: productURL(1), AssociatedArtist: "mafuyu", Availability: models.Available})
	f.repo.put(models.Product{URL: productURL(2), AssociatedArtist: "mafuyu", Availability: models.Preorder})
	f.src.page(2, "b", models.Available, "mafuyu")
	f.src.errs[productURL(2)] = []error{sourceErr(scraper.KindTimeout, productURL(2))}
	f.src.errs[productURL(1)] = []error{sourceErr(scraper.KindTimeout, productURL(1))}

	require.NoError(t, f.m.Refresh(context.Background(), f.src, models.DefaultTrackedTypes))

	assert.Equal(t, models.Deleted, f.repo.availability(productURL(1)))
	assert.Equal(t, models.Available, f.repo.availability(productURL(2)))
}

func TestRefreshAbortsOnStatusError(t *testing.T) {
	f := newFixture("mafuyu")
	f.repo.put(models.Product{URL: productURL(1), AssociatedArtist: "mafuyu", Availability: models.Available})
	f.src.errs[productURL(1)] = []error{sourceErr(scraper.KindStatus, productURL(1))}

	err := f.m.Refresh(context.Background(), f.src, models.DefaultTrackedTypes)
	require.Error(t, err)
	assert.Len(t, f.src.fetched, 1)
	assert.Equal(t, models.Available, f.repo.availability(productURL(1)))
}

func TestRefreshCoolsDownEvery64Products(t *testing.T) {
	f := newFixture("mafuyu")
	for i := 0; i < 130; i++ {
		f.repo.put(models.Product{URL: productURL(i), AssociatedArtist: "mafuyu", Availability: models.Available})
		f.src.page(i, "item", models.Available, "mafuyu")
	}

	require.NoError(t, f.m.Refresh(context.Background(), f.src, models.DefaultTrackedTypes))

	assert.Equal(t, 130, f.sleeps.count(time.Millisecond))
	assert.Equal(t, 2, f.sleeps.count(time.Minute))
}

func TestRunRefreshesBeforeDiscovering(t *testing.T) {
	f := newFixture("mafuyu")
	f.repo.put(models.Product{URL: productURL(1), AssociatedArtist: "mafuyu", Availability: models.Available})
	f.src.page(1, "a", models.Available, "mafuyu")
	f.src.page(2, "b", models.Available, "mafuyu")
	f.src.listings["mafuyu"] = []string{productURL(1), productURL(2)}

	require.NoError(t, f.m.Run(context.Background()))

	assert.Equal(t, []string{productURL(1), productURL(2)}, f.src.fetched)
	assert.Equal(t, []batch{{kind: "new", artist: "mafuyu", urls: []string{productURL(2)}}}, f.notify.batches)
}

func TestRunAgainstSQLite(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.AddArtists(ctx, site, []string{"mafuyu"}))

	src := newFakeSource()
	src.listings["mafuyu"] = []string{productURL(1), productURL(2)}
	src.page(1, "Tapestry", models.Available, "mafuyu", "kantoku")
	src.page(2, "Anthology", models.Available, "nana")

	notify := &recordingNotifier{}
	sleeps := &sleepRecorder{}
	m := New(db, scraper.NewRegistry(src), notify, sleeps.pacer(), logger.NewNop())

	require.NoError(t, m.Run(ctx))
	require.NoError(t, m.Run(ctx))

	products, err := db.GetProducts(ctx, site)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, productURL(1), products[0].URL)
	assert.Equal(t, []string{"kantoku", "mafuyu"}, products[0].Artists)

	skipped, err := db.IsSkipped(ctx, productURL(2), "mafuyu")
	require.NoError(t, err)
	assert.True(t, skipped)

	// Sold out on the next refresh, orderable again when discovered afterwards.
	src.page(1, "Tapestry", models.NotAvailable, "mafuyu", "kantoku")
	require.NoError(t, m.RefreshAll(ctx, models.DefaultTrackedTypes))
	src.page(1, "Tapestry", models.Available, "mafuyu", "kantoku")
	require.NoError(t, m.DiscoverAll(ctx, false))

	assert.Equal(t, []batch{
		{kind: "new", artist: "mafuyu", urls: []string{productURL(1)}},
		{kind: "rerun", artist: "mafuyu", urls: []string{productURL(1)}},
	}, notify.batches)
}
