package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"melonbooks-monitor/internal/models"

	"github.com/PuerkitoBio/goquery"
)

const (
	MelonbooksSite           = "melonbooks"
	melonbooksDefaultBaseURL = "https://www.melonbooks.co.jp"
	melonbooksPageSize       = 100
	melonbooksMaxPages       = 50
	defaultUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// Headers of the detail table rows that credit an artist.
var artistHeaders = []string{"作家名", "アーティスト", "著者"}

// Stock labels shown in .state-instock.
var stockLabels = map[string]models.Availability{
	"-":     models.NotAvailable,
	"好評受付中": models.Preorder,
	"残りわずか": models.Available,
	"在庫あり":  models.Available,
	"発売中":   models.Available,
}

// MelonbooksOptions configures the Melonbooks source.
type MelonbooksOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// MaxPages bounds the search pages read per artist.
	MaxPages int
}

// MelonbooksScraper implements Source for www.melonbooks.co.jp.
type MelonbooksScraper struct {
	client    *http.Client
	baseURL   *url.URL
	userAgent string
	maxPages  int
	now       func() time.Time
}

// NewMelonbooksScraper creates the Melonbooks source. Zero options fall back to defaults.
func NewMelonbooksScraper(opts MelonbooksOptions) (*MelonbooksScraper, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = melonbooksDefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = melonbooksMaxPages
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse melonbooks base url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	// age confirmation, otherwise adult items redirect to a gate page
	jar.SetCookies(base, []*http.Cookie{{Name: "AUTH_ADULT", Value: "1"}})

	return &MelonbooksScraper{
		client: &http.Client{
			Timeout: opts.Timeout,
			Jar:     jar,
		},
		baseURL:   base,
		userAgent: opts.UserAgent,
		maxPages:  opts.MaxPages,
		now:       time.Now,
	}, nil
}

// SiteName implements Source.
func (m *MelonbooksScraper) SiteName() string {
	return MelonbooksSite
}

func (m *MelonbooksScraper) searchURL(artist string, pageno int, includeUnavailable bool) string {
	q := url.Values{}
	q.Set("name", artist)
	q.Set("text_type", "author")
	q.Set("pageno", strconv.Itoa(pageno))
	if includeUnavailable {
		q.Set("is_end_of_sale[]", "1")
		q.Set("is_end_of_sale2", "1")
	}
	u := m.baseURL.ResolveReference(&url.URL{Path: "/search/search.php"})
	u.RawQuery = q.Encode()
	return u.String()
}

// ListCandidates implements Source. Search results come in pages of 100 items;
// paging stops at the first page that is not full. Reading more than maxPages
// full pages is reported as a parse error.
func (m *MelonbooksScraper) ListCandidates(ctx context.Context, artist string, includeUnavailable bool) ([]string, error) {
	urls := make([]string, 0, melonbooksPageSize)

	for pageno := 1; ; pageno++ {
		if pageno > m.maxPages {
			return nil, m.parseError(m.searchURL(artist, pageno, includeUnavailable),
				fmt.Sprintf("product_list: more than %d full pages", m.maxPages))
		}
		pageURL := m.searchURL(artist, pageno, includeUnavailable)
		doc, err := m.get(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		onPage, err := m.parseListing(pageURL, doc)
		if err != nil {
			return nil, err
		}
		urls = append(urls, onPage...)

		if len(onPage) < melonbooksPageSize {
			return urls, nil
		}
	}
}

func (m *MelonbooksScraper) parseListing(pageURL string, doc *goquery.Document) ([]string, error) {
	var urls []string
	var parseErr error

	doc.Find(".item-list li").EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if item.HasClass("item-list__placeholder") {
			return true
		}
		href, ok := item.Find(".product_title").First().Closest("a").Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			parseErr = m.parseError(pageURL, "product_list")
			return false
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			parseErr = m.parseError(pageURL, "product_list")
			return false
		}
		urls = append(urls, m.baseURL.ResolveReference(ref).String())
		return true
	})

	return urls, parseErr
}

// FetchDetail implements Source.
func (m *MelonbooksScraper) FetchDetail(ctx context.Context, artist, productURL string) (*models.Product, error) {
	doc, err := m.get(ctx, productURL)
	if err != nil {
		return nil, err
	}

	page := doc.Find(".item-page").First()
	if page.Length() == 0 {
		return nil, m.parseError(productURL, "product_main_part")
	}

	title := strings.TrimSpace(page.Find(".page-header").First().Text())
	if title == "" {
		return nil, m.parseError(productURL, "product_title")
	}

	imgURL, ok := page.Find(".item-img img").First().Attr("src")
	if !ok || imgURL == "" {
		return nil, m.parseError(productURL, "img_url")
	}
	if strings.HasPrefix(imgURL, "//") {
		imgURL = "https:" + imgURL
	}

	label := strings.TrimSpace(page.Find(".state-instock").First().Text())
	availability, ok := stockLabels[label]
	if !ok {
		return nil, m.parseError(productURL, "availability_type "+label)
	}

	artists := parseArtists(doc)
	if len(artists) == 0 {
		return nil, m.parseError(productURL, "artists")
	}

	now := m.now().UTC()
	return &models.Product{
		URL:              productURL,
		Title:            title,
		AssociatedArtist: artist,
		Artists:          artists,
		ImageURL:         imgURL,
		DateAdded:        time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		Availability:     availability,
	}, nil
}

// parseArtists collects the credited artists from the product information table.
func parseArtists(doc *goquery.Document) []string {
	var artists []string
	seen := map[string]bool{}
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name != "" && !seen[name] {
			seen[name] = true
			artists = append(artists, name)
		}
	}

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		header := strings.TrimSpace(row.Find("th").First().Text())
		if !slices.Contains(artistHeaders, header) {
			return
		}
		cell := row.Find("td").First()
		links := cell.Find("a")
		if links.Length() > 0 {
			links.Each(func(_ int, a *goquery.Selection) { add(a.Text()) })
			return
		}
		for _, name := range strings.FieldsFunc(cell.Text(), func(r rune) bool { return r == '、' || r == ',' }) {
			add(name)
		}
	})
	return artists
}

func (m *MelonbooksScraper) get(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &SourceError{Kind: KindNetwork, Site: MelonbooksSite, URL: pageURL, Err: err}
	}
	req.Header.Set("User-Agent", m.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ja,en-US;q=0.8,en;q=0.7")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, m.transportError(pageURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &SourceError{Kind: KindNotFound, Site: MelonbooksSite, URL: pageURL, Detail: resp.Status}
	case resp.StatusCode != http.StatusOK:
		return nil, &SourceError{Kind: KindStatus, Site: MelonbooksSite, URL: pageURL, Detail: resp.Status}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		if transient(err) {
			return nil, m.transportError(pageURL, err)
		}
		return nil, &SourceError{Kind: KindParse, Site: MelonbooksSite, URL: pageURL, Detail: "html", Err: err}
	}
	return doc, nil
}

func (m *MelonbooksScraper) transportError(pageURL string, err error) error {
	kind := KindNetwork
	if transient(err) {
		kind = KindTimeout
	}
	return &SourceError{Kind: kind, Site: MelonbooksSite, URL: pageURL, Err: err}
}

func (m *MelonbooksScraper) parseError(pageURL, element string) error {
	return &SourceError{Kind: KindParse, Site: MelonbooksSite, URL: pageURL, Detail: element}
}
