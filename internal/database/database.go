package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"melonbooks-monitor/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const dateLayout = "2006-01-02"

var (
	// ErrStorage matches every failure to read from or write to the catalog database.
	ErrStorage = errors.New("storage error")
	// ErrArtistNotFound is returned when removing an artist that is not tracked.
	ErrArtistNotFound = errors.New("artist not found")
)

// StorageError wraps a failed database operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// DB is the persisted catalog: artists, products, skip records and title filters.
type DB struct {
	conn *sqlx.DB
}

// New opens (or creates) the SQLite catalog at path and migrates its schema.
func New(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	conn, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}
	// sqlite allows a single writer; one connection keeps transactions from tripping over each other.
	conn.SetMaxOpenConns(1)

	if err := migrateUp(conn.DB); err != nil {
		conn.Close()
		return nil, storageErr("migrate", err)
	}
	return &DB{conn: conn}, nil
}

// NewWithDB wraps an already migrated connection.
func NewWithDB(conn *sqlx.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// artists ---------------------------------------------------------------------

// GetArtists returns the names of all artists tracked on site, ordered by name.
func (db *DB) GetArtists(ctx context.Context, site string) ([]string, error) {
	var names []string
	err := db.conn.SelectContext(ctx, &names, "SELECT name FROM artists WHERE site = ? ORDER BY name ASC", site)
	if err != nil {
		return nil, storageErr("get artists", err)
	}
	return names, nil
}

// AddArtists tracks the given artists on site. Skip records of those artists are
// cleared in the same transaction so their listings are evaluated again.
func (db *DB) AddArtists(ctx context.Context, site string, names []string) (err error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("add artists", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, name := range names {
		if _, err = tx.ExecContext(ctx, "INSERT OR IGNORE INTO artists (name, site) VALUES (?, ?)", name, site); err != nil {
			return storageErr("add artists", err)
		}
		if _, err = tx.ExecContext(ctx, "DELETE FROM skip_products WHERE artist = ?", name); err != nil {
			return storageErr("add artists", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return storageErr("add artists", err)
	}
	return nil
}

// RemoveArtist stops tracking an artist. Its products and title filters are removed with it.
func (db *DB) RemoveArtist(ctx context.Context, site, name string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM artists WHERE name = ? AND site = ?", name, site)
	if err != nil {
		return storageErr("remove artist", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("remove artist", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s on %s", ErrArtistNotFound, name, site)
	}
	return nil
}

// products --------------------------------------------------------------------

type productRow struct {
	URL          string `db:"url"`
	Title        string `db:"title"`
	Artist       string `db:"artist"`
	ImageURL     string `db:"img_url"`
	DateAdded    string `db:"date_added"`
	Availability string `db:"availability"`
}

type productArtistRow struct {
	URL    string `db:"url"`
	Artist string `db:"artist"`
}

// ContainsProduct reports whether url is already in the catalog.
func (db *DB) ContainsProduct(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := db.conn.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM products WHERE url = ?)", url)
	if err != nil {
		return false, storageErr("contains product", err)
	}
	return exists, nil
}

// IsUnavailable reports whether url is stored as NotAvailable or Deleted.
func (db *DB) IsUnavailable(ctx context.Context, url string) (bool, error) {
	var unavailable bool
	err := db.conn.GetContext(ctx, &unavailable,
		"SELECT EXISTS(SELECT 1 FROM products WHERE url = ? AND availability IN (?, ?))",
		url, models.NotAvailable.String(), models.Deleted.String())
	if err != nil {
		return false, storageErr("is unavailable", err)
	}
	return unavailable, nil
}

// GetProducts returns every product of site, newest first and then by artist.
func (db *DB) GetProducts(ctx context.Context, site string) ([]models.Product, error) {
	var rows []productRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT url, title, artist, img_url, date_added, availability
		FROM products WHERE site = ? ORDER BY date_added DESC, artist ASC`, site)
	if err != nil {
		return nil, storageErr("get products", err)
	}

	var credits []productArtistRow
	err = db.conn.SelectContext(ctx, &credits,
		`SELECT pa.url, pa.artist FROM product_artists pa
		JOIN products p ON p.url = pa.url WHERE p.site = ? ORDER BY pa.artist ASC`, site)
	if err != nil {
		return nil, storageErr("get products", err)
	}
	artistsByURL := make(map[string][]string, len(rows))
	for _, c := range credits {
		artistsByURL[c.URL] = append(artistsByURL[c.URL], c.Artist)
	}

	products := make([]models.Product, 0, len(rows))
	for _, r := range rows {
		availability, err := models.ParseAvailability(r.Availability)
		if err != nil {
			return nil, storageErr("get products", err)
		}
		dateAdded, err := time.Parse(dateLayout, r.DateAdded)
		if err != nil {
			return nil, storageErr("get products", fmt.Errorf("date_added of %s: %w", r.URL, err))
		}
		products = append(products, models.Product{
			URL:              r.URL,
			Title:            r.Title,
			AssociatedArtist: r.Artist,
			Artists:          artistsByURL[r.URL],
			ImageURL:         r.ImageURL,
			DateAdded:        dateAdded,
			Availability:     availability,
		})
	}
	return products, nil
}

// StoreProducts inserts products together with their credited artists in one transaction.
// Products already in the catalog are left untouched.
func (db *DB) StoreProducts(ctx context.Context, site string, products []models.Product) (err error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("store products", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, p := range products {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO products (url, title, artist, site, img_url, date_added, availability)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.URL, p.Title, p.AssociatedArtist, site, p.ImageURL, p.DateAdded.Format(dateLayout), p.Availability.String())
		if err != nil {
			return storageErr("store products", err)
		}
		for _, artist := range p.Artists {
			_, err = tx.ExecContext(ctx, "INSERT OR IGNORE INTO product_artists (url, artist) VALUES (?, ?)", p.URL, artist)
			if err != nil {
				return storageErr("store products", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return storageErr("store products", err)
	}
	return nil
}

// UpdateAvailability overwrites the stored state of url and reports whether a row changed.
// Deleted products are never rewritten.
func (db *DB) UpdateAvailability(ctx context.Context, url string, availability models.Availability) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE products SET availability = ? WHERE url = ? AND availability <> ?",
		availability.String(), url, models.Deleted.String())
	if err != nil {
		return false, storageErr("update availability", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("update availability", err)
	}
	return n > 0, nil
}

// skip records ----------------------------------------------------------------

// IsSkipped reports whether url was rejected for artist before.
func (db *DB) IsSkipped(ctx context.Context, url, artist string) (bool, error) {
	var skipped bool
	err := db.conn.GetContext(ctx, &skipped,
		"SELECT EXISTS(SELECT 1 FROM skip_products WHERE url = ? AND artist = ?)", url, artist)
	if err != nil {
		return false, storageErr("is skipped", err)
	}
	return skipped, nil
}

// AddSkip records that url must not be fetched for artist again.
func (db *DB) AddSkip(ctx context.Context, url, artist string) error {
	_, err := db.conn.ExecContext(ctx, "INSERT OR IGNORE INTO skip_products (url, artist) VALUES (?, ?)", url, artist)
	if err != nil {
		return storageErr("add skip", err)
	}
	return nil
}

// title filters ---------------------------------------------------------------

// AddTitleSkipSequence registers a title filter for an artist on site.
func (db *DB) AddTitleSkipSequence(ctx context.Context, artist, site, sequence string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR IGNORE INTO title_skip_sequences (artist, site, sequence) VALUES (?, ?, ?)",
		artist, site, sequence)
	if err != nil {
		return storageErr("add title skip sequence", err)
	}
	return nil
}

// ListTitleSkipSequences returns the title filters registered on site.
func (db *DB) ListTitleSkipSequences(ctx context.Context, site string) ([]models.TitleSkipSequence, error) {
	var seqs []models.TitleSkipSequence
	err := db.conn.SelectContext(ctx, &seqs,
		`SELECT artist, site, sequence FROM title_skip_sequences WHERE site = ? ORDER BY artist ASC, sequence ASC`, site)
	if err != nil {
		return nil, storageErr("list title skip sequences", err)
	}
	return seqs, nil
}

// TitleMatchesSkipSequence reports whether title contains any filter registered for artist on site.
func (db *DB) TitleMatchesSkipSequence(ctx context.Context, artist, site, title string) (bool, error) {
	var matches bool
	err := db.conn.GetContext(ctx, &matches,
		"SELECT EXISTS(SELECT 1 FROM title_skip_sequences WHERE artist = ? AND site = ? AND instr(?, sequence) > 0)",
		artist, site, title)
	if err != nil {
		return false, storageErr("title skip sequence", err)
	}
	return matches, nil
}
