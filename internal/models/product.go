package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Availability is the stock state of a product as reported by its shop.
type Availability string

const (
	Available    Availability = "Available"
	Preorder     Availability = "Preorder"
	NotAvailable Availability = "NotAvailable"
	// Deleted is only reached when the shop reports the product page as gone.
	Deleted Availability = "Deleted"
)

// ErrUnknownAvailability is returned when a stored or parsed state is not recognized.
var ErrUnknownAvailability = errors.New("unknown availability")

// DefaultTrackedTypes are the states a refresh run re-checks.
var DefaultTrackedTypes = []Availability{Available, Preorder}

// ParseAvailability converts the stored representation back into an Availability.
func ParseAvailability(s string) (Availability, error) {
	switch a := Availability(s); a {
	case Available, Preorder, NotAvailable, Deleted:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAvailability, s)
}

// Unavailable reports whether the product can currently not be bought.
func (a Availability) Unavailable() bool {
	return a == NotAvailable || a == Deleted
}

func (a Availability) String() string {
	return string(a)
}

// Product is a catalog entry found while searching for an artist.
type Product struct {
	URL   string
	Title string
	// AssociatedArtist is the artist whose search returned this product.
	AssociatedArtist string
	// Artists are all artists credited on the product page.
	Artists      []string
	ImageURL     string
	DateAdded    time.Time
	Availability Availability
}

// CreditedTo reports whether artist is among the credited artists.
func (p *Product) CreditedTo(artist string) bool {
	return slices.Contains(p.Artists, artist)
}

// Artist is a tracked artist on one site.
type Artist struct {
	Name string
	Site string
}

// SkipRecord marks a url as rejected for an artist after a credit mismatch.
type SkipRecord struct {
	URL    string
	Artist string
}

// TitleSkipSequence suppresses rerun notifications for titles containing Sequence.
type TitleSkipSequence struct {
	Artist   string
	Site     string
	Sequence string
}
