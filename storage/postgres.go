package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"citypulse/models"
	"citypulse/utils"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresCatalog implements Catalog backed by PostgreSQL.
//
// Every mutating operation runs in its own scoped transaction: commit on
// success, rollback on any error, so no reader ever observes a
// partially-applied upsert or audit row.
type PostgresCatalog struct {
	db     *sql.DB
	logger *utils.Logger
}

// Compile-time check that PostgresCatalog implements Catalog.
var _ Catalog = (*PostgresCatalog)(nil)

// NewPostgres opens a connection to PostgreSQL, waits for it to become
// reachable, and runs any pending migrations. A failure here is fatal to the
// process: no cycle may run against an unmigrated store.
func NewPostgres(ctx context.Context, dsn string, logger *utils.Logger) (*PostgresCatalog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	retry := &utils.RetryConfig{MaxAttempts: 5, BaseDelay: 2 * time.Second, Logger: logger}
	if err := retry.Do(ctx, "postgres-ping", func() error { return db.PingContext(ctx) }); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return &PostgresCatalog{db: db, logger: logger}, nil
}

// newWithDB wraps an existing handle. Used by tests.
func newWithDB(db *sql.DB, logger *utils.Logger) *PostgresCatalog {
	return &PostgresCatalog{db: db, logger: logger}
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (c *PostgresCatalog) Close() error {
	return c.db.Close()
}

// withTx runs fn inside a transaction that commits on success and rolls back
// on any error.
func (c *PostgresCatalog) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Error("[storage] rollback failed: %v", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// UpsertPlace inserts or replaces the row keyed by place_id. A replace keeps
// the key and created_at and overwrites every mutable field.
func (c *PostgresCatalog) UpsertPlace(ctx context.Context, p *models.Place) (UpsertResult, error) {
	var inserted bool
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO places
				(place_id, name, address, lat, lng, category, types,
				 rating, rating_count, price_level, phone, website, hours, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW())
			ON CONFLICT (place_id) DO UPDATE SET
				name = EXCLUDED.name,
				address = EXCLUDED.address,
				lat = EXCLUDED.lat,
				lng = EXCLUDED.lng,
				category = EXCLUDED.category,
				types = EXCLUDED.types,
				rating = EXCLUDED.rating,
				rating_count = EXCLUDED.rating_count,
				price_level = EXCLUDED.price_level,
				phone = EXCLUDED.phone,
				website = EXCLUDED.website,
				hours = EXCLUDED.hours,
				updated_at = NOW()
			RETURNING (xmax = 0)
		`, p.PlaceID, p.Name, p.Address, p.Lat, p.Lng, p.Category, p.Types,
			p.Rating, p.RatingCount, nullableInt(p.PriceLevel), p.Phone, p.Website, p.Hours,
		).Scan(&inserted)
	})
	if err != nil {
		return Updated, fmt.Errorf("postgres: upsert place %s: %w", p.PlaceID, err)
	}
	if inserted {
		return Inserted, nil
	}
	return Updated, nil
}

// UpsertEvent inserts or replaces the row keyed by title. The URL is a plain
// field here: a later sighting of the same title at another URL overwrites
// the row instead of creating a second one.
func (c *PostgresCatalog) UpsertEvent(ctx context.Context, e *models.Event) (UpsertResult, error) {
	var inserted bool
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO events (title, venue, date_text, description, url, last_seen_at)
			VALUES ($1,$2,$3,$4,$5,NOW())
			ON CONFLICT (title) DO UPDATE SET
				venue = EXCLUDED.venue,
				date_text = EXCLUDED.date_text,
				description = EXCLUDED.description,
				url = EXCLUDED.url,
				last_seen_at = NOW()
			RETURNING (xmax = 0)
		`, e.Title, e.Venue, e.DateText, e.Description, e.URL,
		).Scan(&inserted)
	})
	if err != nil {
		return Updated, fmt.Errorf("postgres: upsert event %q: %w", e.Title, err)
	}
	if inserted {
		return Inserted, nil
	}
	return Updated, nil
}

// PlaceExists reports whether a place with the given natural key is stored.
func (c *PostgresCatalog) PlaceExists(ctx context.Context, placeID string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx,
		"SELECT 1 FROM places WHERE place_id = $1 LIMIT 1", placeID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: exists %s: %w", placeID, err)
	}
	return true, nil
}

const placeColumns = `id, place_id, name, address, lat, lng, category, types,
	rating, rating_count, price_level, phone, website, hours, created_at, updated_at`

// GetPlace fetches one place by its natural key; nil when absent.
func (c *PostgresCatalog) GetPlace(ctx context.Context, placeID string) (*models.Place, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT "+placeColumns+" FROM places WHERE place_id = $1", placeID)
	p, err := scanPlace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get place %s: %w", placeID, err)
	}
	return p, nil
}

// orderClauses whitelists the sort columns ListPlaces accepts.
var orderClauses = map[string]string{
	"":        "rating DESC",
	"rating":  "rating DESC",
	"name":    "name ASC",
	"updated": "updated_at DESC",
	"created": "created_at DESC",
}

// ListPlaces returns places ordered by a whitelisted column, optionally
// filtered by category. An unknown order column is a caller error.
func (c *PostgresCatalog) ListPlaces(ctx context.Context, filter ListFilter) ([]*models.Place, error) {
	clause, ok := orderClauses[filter.Order]
	if !ok {
		return nil, ErrInvalidOrder
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if filter.Category != "" {
		rows, err = c.db.QueryContext(ctx,
			"SELECT "+placeColumns+" FROM places WHERE category = $1 ORDER BY "+clause+" LIMIT $2",
			filter.Category, limit)
	} else {
		rows, err = c.db.QueryContext(ctx,
			"SELECT "+placeColumns+" FROM places ORDER BY "+clause+" LIMIT $1", limit)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: list places: %w", err)
	}
	defer rows.Close()

	var out []*models.Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan place: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListEvents returns the most recently seen events.
func (c *PostgresCatalog) ListEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, title, venue, date_text, description, url, last_seen_at
		FROM events ORDER BY last_seen_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		e := &models.Event{}
		if err := rows.Scan(&e.ID, &e.Title, &e.Venue, &e.DateText,
			&e.Description, &e.URL, &e.LastSeenAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountPlaces returns the number of stored places.
func (c *PostgresCatalog) CountPlaces(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM places").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count places: %w", err)
	}
	return n, nil
}

// CountEvents returns the number of stored events.
func (c *PostgresCatalog) CountEvents(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count events: %w", err)
	}
	return n, nil
}

// CountByCategory returns a category → place count mapping.
func (c *PostgresCatalog) CountByCategory(ctx context.Context) (map[string]int, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT category, COUNT(*) FROM places GROUP BY category")
	if err != nil {
		return nil, fmt.Errorf("postgres: count by category: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan category count: %w", err)
		}
		out[cat] = n
	}
	return out, rows.Err()
}

// AppendAudit records a completed cycle. Audit rows are never updated or
// deleted.
func (c *PostgresCatalog) AppendAudit(ctx context.Context, total int) error {
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO sync_audits (total_records) VALUES ($1)", total)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: append audit: %w", err)
	}
	return nil
}

// LastAudit returns the most recent audit row; nil when no cycle has
// completed yet.
func (c *PostgresCatalog) LastAudit(ctx context.Context) (*models.RunAudit, error) {
	a := &models.RunAudit{}
	err := c.db.QueryRowContext(ctx, `
		SELECT id, run_at, total_records
		FROM sync_audits ORDER BY id DESC LIMIT 1`).Scan(&a.ID, &a.RunAt, &a.TotalRecords)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: last audit: %w", err)
	}
	return a, nil
}

// WipeEvents clears the events table before a fresh agenda pass.
func (c *PostgresCatalog) WipeEvents(ctx context.Context) error {
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM events")
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: wipe events: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlace(row rowScanner) (*models.Place, error) {
	p := &models.Place{}
	var priceLevel sql.NullInt64
	err := row.Scan(
		&p.ID, &p.PlaceID, &p.Name, &p.Address, &p.Lat, &p.Lng,
		&p.Category, &p.Types, &p.Rating, &p.RatingCount, &priceLevel,
		&p.Phone, &p.Website, &p.Hours, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if priceLevel.Valid {
		v := int(priceLevel.Int64)
		p.PriceLevel = &v
	}
	return p, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
