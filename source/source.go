// Package source defines the adapter boundary consumed by the sync
// orchestrator. Implementations may be swapped without touching the
// orchestrator.
package source

import (
	"context"

	"citypulse/models"
)

// PlaceSource is a paginated source of candidate place records.
//
// FetchPage returns one page of raw records plus an opaque continuation
// cursor; an empty cursor means the source is exhausted. Transport-level
// failures (timeout, bad status, malformed payload) are absorbed by the
// implementation and surface as an empty page with no cursor — callers treat
// that as "source exhausted for this cycle", never as fatal.
type PlaceSource interface {
	FetchPage(ctx context.Context, placeType, cursor string) ([]models.RawPlace, string, error)

	// FetchDetail fetches supplementary contact fields for one place.
	// A nil detail with nil error means the fields are unavailable.
	FetchDetail(ctx context.Context, placeID string) (*models.RawPlaceDetail, error)
}

// EventSource is a non-paginated source of candidate event records,
// fetched once per cycle.
type EventSource interface {
	FetchEvents(ctx context.Context) []models.RawEvent
}
