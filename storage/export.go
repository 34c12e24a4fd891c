package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"citypulse/models"
)

// SnapshotWriter republishes the catalog as static artifacts after each
// cycle: a CSV of places, a CSV of events and a JSON summary the front-end
// consumes. It is safe for concurrent use.
type SnapshotWriter struct {
	mu  sync.Mutex
	dir string
}

// NewSnapshotWriter creates the output directory if needed.
func NewSnapshotWriter(dir string) (*SnapshotWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("snapshot: create output dir: %w", err)
	}
	return &SnapshotWriter{dir: dir}, nil
}

type snapshotSummary struct {
	GeneratedAt  time.Time      `json:"generated_at"`
	TotalPlaces  int            `json:"total_places"`
	TotalEvents  int            `json:"total_events"`
	ByCategory   map[string]int `json:"by_category"`
	TotalFound   int            `json:"total_found"`
	TotalNew     int            `json:"total_new"`
	TotalUpdated int            `json:"total_updated"`
	Skipped      int            `json:"skipped"`
}

// Write renders the current catalog contents plus the run statistics into
// the output directory, truncating previous artifacts.
func (w *SnapshotWriter) Write(places []*models.Place, events []*models.Event, report *models.SyncReport) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writePlacesCSV(places); err != nil {
		return err
	}
	if err := w.writeEventsCSV(events); err != nil {
		return err
	}
	return w.writeSummary(places, events, report)
}

func (w *SnapshotWriter) writePlacesCSV(places []*models.Place) error {
	f, err := os.Create(filepath.Join(w.dir, "places.csv"))
	if err != nil {
		return fmt.Errorf("snapshot: create places.csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{
		"place_id", "name", "address", "lat", "lng", "category",
		"types", "rating", "rating_count", "phone", "website", "hours",
	}); err != nil {
		return fmt.Errorf("snapshot: write header: %w", err)
	}

	for _, p := range places {
		row := []string{
			p.PlaceID, p.Name, p.Address,
			strconv.FormatFloat(p.Lat, 'f', -1, 64),
			strconv.FormatFloat(p.Lng, 'f', -1, 64),
			p.Category, p.Types,
			strconv.FormatFloat(p.Rating, 'f', 2, 64),
			strconv.Itoa(p.RatingCount),
			p.Phone, p.Website, p.Hours,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("snapshot: write place row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func (w *SnapshotWriter) writeEventsCSV(events []*models.Event) error {
	f, err := os.Create(filepath.Join(w.dir, "events.csv"))
	if err != nil {
		return fmt.Errorf("snapshot: create events.csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"title", "venue", "date", "description", "url", "last_seen"}); err != nil {
		return fmt.Errorf("snapshot: write header: %w", err)
	}

	for _, e := range events {
		row := []string{
			e.Title, e.Venue, e.DateText, e.Description, e.URL,
			e.LastSeenAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("snapshot: write event row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func (w *SnapshotWriter) writeSummary(places []*models.Place, events []*models.Event, report *models.SyncReport) error {
	summary := snapshotSummary{
		GeneratedAt: time.Now(),
		TotalPlaces: len(places),
		TotalEvents: len(events),
		ByCategory:  make(map[string]int),
	}
	for _, p := range places {
		summary.ByCategory[p.Category]++
	}
	if report != nil {
		summary.TotalFound = report.TotalFound
		summary.TotalNew = report.TotalNew
		summary.TotalUpdated = report.TotalUpdated
		summary.Skipped = report.Skipped
	}

	b, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, "summary.json"), b, 0644); err != nil {
		return fmt.Errorf("snapshot: write summary.json: %w", err)
	}
	return nil
}
