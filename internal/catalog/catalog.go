// Package catalog records every generated dataset file in a SQLite
// database, including the frozen repositioning parameters, so derived
// files such as query workloads can be transformed exactly like the cloud
// they belong to.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/geosynth/internal/monitoring"
	"github.com/banshee-data/geosynth/internal/reposition"
	"github.com/banshee-data/geosynth/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no dataset is recorded for a path.
var ErrNotFound = errors.New("dataset not found in catalog")

// Kind classifies a dataset file.
type Kind string

const (
	KindCloud           Kind = "cloud"
	KindDistanceQueries Kind = "distance_queries"
	KindRangeQueries    Kind = "range_queries"
)

// Dataset is one generated file.
type Dataset struct {
	ID          uuid.UUID
	Kind        Kind
	Path        string
	Region      string
	Count       int64
	Seed        uint64
	Selectivity float64            // query files only
	Params      *reposition.Params // nil unless the file was repositioned
	Source      string             // file this one was derived from, if any
	CreatedAt   time.Time
}

// Catalog is a handle on the catalog database.
type Catalog struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens or creates the catalog at path and brings its schema up to
// date.
func Open(path string, clock timeutil.Clock) (*Catalog, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	// One connection: SQLite has a single writer, and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	c := &Catalog{db: db, clock: clock}
	if err := c.migrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(c.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}

	// m is not closed: that would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version.
func (c *Catalog) SchemaVersion(ctx context.Context) (uint, error) {
	var v uint
	err := c.db.QueryRowContext(ctx, `SELECT version FROM schema_migrations LIMIT 1`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// migrateLogger implements migrate.Logger on the progress log.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Record stores d, replacing any earlier entry for the same path. A zero
// ID or CreatedAt is filled in; the stored record is returned.
func (c *Catalog) Record(ctx context.Context, d Dataset) (Dataset, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = c.clock.Now().UTC()
	}

	var params sql.NullString
	if d.Params != nil {
		b, err := json.Marshal(d.Params)
		if err != nil {
			return Dataset{}, fmt.Errorf("encode params for %s: %w", d.Path, err)
		}
		params = sql.NullString{String: string(b), Valid: true}
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO datasets (
			id, kind, path, region, point_count, seed, selectivity, params, source, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), string(d.Kind), d.Path, d.Region, d.Count, int64(d.Seed),
		d.Selectivity, params, d.Source, d.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return Dataset{}, fmt.Errorf("record %s: %w", d.Path, err)
	}
	return d, nil
}

const selectColumns = `SELECT id, kind, path, region, point_count, seed, selectivity, params, source, created_at FROM datasets`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (Dataset, error) {
	var (
		d       Dataset
		id      string
		kind    string
		seed    int64
		params  sql.NullString
		created string
	)
	if err := row.Scan(&id, &kind, &d.Path, &d.Region, &d.Count, &seed, &d.Selectivity, &params, &d.Source, &created); err != nil {
		return Dataset{}, err
	}
	var err error
	if d.ID, err = uuid.Parse(id); err != nil {
		return Dataset{}, fmt.Errorf("bad dataset id %q: %w", id, err)
	}
	if d.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return Dataset{}, fmt.Errorf("bad created_at %q: %w", created, err)
	}
	d.Kind = Kind(kind)
	d.Seed = uint64(seed)
	if params.Valid {
		var p reposition.Params
		if err := json.Unmarshal([]byte(params.String), &p); err != nil {
			return Dataset{}, fmt.Errorf("decode params of %s: %w", d.Path, err)
		}
		d.Params = &p
	}
	return d, nil
}

// Lookup returns the entry for path.
func (c *Catalog) Lookup(ctx context.Context, path string) (Dataset, error) {
	d, err := scanDataset(c.db.QueryRowContext(ctx, selectColumns+` WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return Dataset{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("lookup %s: %w", path, err)
	}
	return d, nil
}

// Exists reports whether path is recorded.
func (c *Catalog) Exists(ctx context.Context, path string) (bool, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets WHERE path = ?`, path).Scan(&n); err != nil {
		return false, fmt.Errorf("check %s: %w", path, err)
	}
	return n > 0, nil
}

// List returns the recorded datasets of kind, or of every kind when kind
// is empty, oldest first.
func (c *Catalog) List(ctx context.Context, kind Kind) ([]Dataset, error) {
	query := selectColumns + ` ORDER BY created_at, path`
	var args []any
	if kind != "" {
		query = selectColumns + ` WHERE kind = ? ORDER BY created_at, path`
		args = append(args, string(kind))
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("list datasets: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LatestParams returns the parameters of the most recently recorded
// repositioned cloud for region.
func (c *Catalog) LatestParams(ctx context.Context, region string) (reposition.Params, error) {
	d, err := scanDataset(c.db.QueryRowContext(ctx,
		selectColumns+` WHERE region = ? AND kind = ? AND params IS NOT NULL ORDER BY created_at DESC, path DESC LIMIT 1`,
		region, string(KindCloud)))
	if errors.Is(err, sql.ErrNoRows) {
		return reposition.Params{}, fmt.Errorf("%w: no repositioned cloud for region %s", ErrNotFound, region)
	}
	if err != nil {
		return reposition.Params{}, fmt.Errorf("params for %s: %w", region, err)
	}
	return *d.Params, nil
}
