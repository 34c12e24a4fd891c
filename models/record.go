package models

import "time"

// RawPlace is one result from the paginated places API, exactly as the
// upstream JSON shapes it. It is never stored directly.
type RawPlace struct {
	PlaceID  string   `json:"place_id"`
	Name     string   `json:"name"`
	Vicinity string   `json:"vicinity"`
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	Types            []string `json:"types"`
	Rating           float64  `json:"rating"`
	UserRatingsTotal int      `json:"user_ratings_total"`
	PriceLevel       *int     `json:"price_level"`
}

// RawPlaceDetail holds the supplementary contact fields fetched per place.
type RawPlaceDetail struct {
	Phone        string `json:"formatted_phone_number"`
	Website      string `json:"website"`
	OpeningHours struct {
		WeekdayText []string `json:"weekday_text"`
	} `json:"opening_hours"`
}

// RawEvent is a candidate extracted from an agenda source page before
// normalization.
type RawEvent struct {
	Title     string
	URL       string
	SourceURL string
}

// Place is the normalized catalog record ready for PostgreSQL storage.
// PlaceID is the natural key: exactly one row exists per PlaceID, and a
// re-sync replaces the mutable fields while preserving the key and CreatedAt.
type Place struct {
	ID         int64
	PlaceID    string
	Name       string
	Address    string
	Lat        float64
	Lng        float64
	Category   string
	Types      string
	Rating     float64
	RatingCount int
	PriceLevel *int
	Phone      string
	Website    string
	Hours      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Event is a normalized cultural-event record. Title is the natural key;
// URL is stored but not part of the identity, so a later sighting of the
// same title at a different URL overwrites the row.
type Event struct {
	ID          int64
	Title       string
	Venue       string
	DateText    string
	Description string
	URL         string
	LastSeenAt  time.Time
}

// RunAudit is one append-only row per completed sync cycle.
type RunAudit struct {
	ID           int64
	RunAt        time.Time
	TotalRecords int
}

// SyncReport aggregates the statistics of one orchestrator run.
type SyncReport struct {
	StartedAt    time.Time
	Duration     time.Duration
	TotalFound   int
	TotalNew     int
	TotalUpdated int
	Skipped      int
	ByCategory   map[string]int
	EventsFound  int
}

// NewSyncReport returns an empty report with the map initialised.
func NewSyncReport() *SyncReport {
	return &SyncReport{
		StartedAt:  time.Now(),
		ByCategory: make(map[string]int),
	}
}
