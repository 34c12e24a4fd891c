package services

import (
	"fmt"
	"strings"
	"unicode"

	"citypulse/config"
	"citypulse/models"
)

// quoteStripper removes quote characters from titles before they are used as
// identity keys.
var quoteStripper = strings.NewReplacer(
	`"`, "", "'", "", "“", "", "”", "", "‘", "", "’", "", "«", "", "»", "",
)

// Normalizer maps raw source records into canonical catalog records. All of
// its methods are total and side-effect-free: missing optional fields fall
// back to documented sentinels, and only a missing identity field is an
// error — that is an adapter bug, not a runtime condition.
type Normalizer struct {
	defaultVenue string
	defaultDate  string
	defaultDesc  string
}

// NewNormalizer builds a Normalizer with the configured event defaults.
func NewNormalizer(agenda config.AgendaConfig) *Normalizer {
	return &Normalizer{
		defaultVenue: agenda.DefaultVenue,
		defaultDate:  agenda.DefaultDateText,
		defaultDesc:  agenda.DefaultDescription,
	}
}

// Place converts one raw API result plus its optional detail into a catalog
// record. The detail may be nil; every field it would contribute then stays
// empty.
func (n *Normalizer) Place(raw models.RawPlace, detail *models.RawPlaceDetail, category string) (*models.Place, error) {
	placeID := strings.TrimSpace(raw.PlaceID)
	if placeID == "" {
		return nil, fmt.Errorf("normalize: raw place has no place_id (name %q)", raw.Name)
	}

	p := &models.Place{
		PlaceID:     placeID,
		Name:        strings.TrimSpace(raw.Name),
		Address:     strings.TrimSpace(raw.Vicinity),
		Lat:         raw.Geometry.Location.Lat,
		Lng:         raw.Geometry.Location.Lng,
		Category:    category,
		Types:       strings.Join(raw.Types, ","),
		Rating:      raw.Rating,
		RatingCount: raw.UserRatingsTotal,
		PriceLevel:  raw.PriceLevel,
	}

	if detail != nil {
		p.Phone = strings.TrimSpace(detail.Phone)
		p.Website = strings.TrimSpace(detail.Website)
		p.Hours = strings.Join(detail.OpeningHours.WeekdayText, "; ")
	}

	return p, nil
}

// Event converts one accepted agenda candidate into an event record. The
// cleaned title is the natural key; an empty one is an adapter bug.
func (n *Normalizer) Event(raw models.RawEvent) (*models.Event, error) {
	title := CleanTitle(raw.Title)
	if title == "" {
		return nil, fmt.Errorf("normalize: raw event from %s has no title", raw.SourceURL)
	}

	return &models.Event{
		Title:       title,
		Venue:       n.defaultVenue,
		DateText:    n.defaultDate,
		Description: n.defaultDesc,
		URL:         raw.URL,
	}, nil
}

// CleanTitle trims surrounding whitespace, strips quote characters and
// upper-cases the first rune, so the same announcement seen with cosmetic
// differences maps to the same identity key.
func CleanTitle(s string) string {
	s = strings.TrimSpace(quoteStripper.Replace(s))
	if s == "" {
		return ""
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
