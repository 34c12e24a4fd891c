package storage

import (
	"context"
	"errors"

	"citypulse/models"
)

// UpsertResult reports whether an upsert inserted a new row or replaced an
// existing one.
type UpsertResult int

const (
	Inserted UpsertResult = iota
	Updated
)

func (r UpsertResult) String() string {
	if r == Inserted {
		return "inserted"
	}
	return "updated"
}

// ErrInvalidOrder is returned by ListPlaces when the requested sort column is
// not on the whitelist.
var ErrInvalidOrder = errors.New("storage: invalid order column")

// ListFilter narrows a ListPlaces query. An empty Category means all
// categories; Limit caps the result; Order names a whitelisted sort column.
type ListFilter struct {
	Category string
	Limit    int
	Order    string
}

// Catalog is the persistent keyed store the pipeline writes into and the
// façade reads from. Upserts are keyed by the natural key (place_id for
// places, title for events) and replace mutable fields without keeping
// history.
type Catalog interface {
	UpsertPlace(ctx context.Context, p *models.Place) (UpsertResult, error)
	UpsertEvent(ctx context.Context, e *models.Event) (UpsertResult, error)

	PlaceExists(ctx context.Context, placeID string) (bool, error)
	GetPlace(ctx context.Context, placeID string) (*models.Place, error)
	ListPlaces(ctx context.Context, filter ListFilter) ([]*models.Place, error)
	ListEvents(ctx context.Context, limit int) ([]*models.Event, error)

	CountPlaces(ctx context.Context) (int, error)
	CountEvents(ctx context.Context) (int, error)
	CountByCategory(ctx context.Context) (map[string]int, error)

	// AppendAudit writes one append-only row recording a completed cycle.
	AppendAudit(ctx context.Context, total int) error
	LastAudit(ctx context.Context) (*models.RunAudit, error)

	// WipeEvents clears the events table. Administrative; used only before a
	// fresh agenda pass.
	WipeEvents(ctx context.Context) error

	Close() error
}
