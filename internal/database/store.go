package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/crawlkit/internal/model"
)

// FileName is the database file created inside the data directory.
const FileName = "crawlkit.db"

var (
	// ErrNotFound is returned when a run or page does not exist.
	ErrNotFound = errors.New("database: not found")

	// ErrNoRun is returned by SavePage before BeginRun.
	ErrNoRun = errors.New("database: no run in progress")
)

// Store is the SQLite page store.
type Store struct {
	db     *sql.DB
	dbPath string

	mu      sync.Mutex
	current string
}

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the store in dbDir.
func Open(dbDir string, opts Options) (*Store, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s: %w", dbPath, ErrNotFound)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a missing file.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL,
		seeds TEXT NOT NULL,
		pages INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		counters TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		url TEXT NOT NULL,
		final_url TEXT,
		host TEXT NOT NULL,
		status_code INTEGER,
		content_type TEXT,
		title TEXT,
		depth INTEGER,
		size INTEGER,
		links INTEGER,
		hash TEXT,
		from_cache INTEGER,
		truncated INTEGER,
		error TEXT,
		tag TEXT,
		headers TEXT,
		fetched_at TEXT NOT NULL,
		UNIQUE(run_id, url)
	);

	CREATE INDEX IF NOT EXISTS idx_pages_run ON pages(run_id);
	CREATE INDEX IF NOT EXISTS idx_pages_host ON pages(host);
	`
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// runRunning marks a run that has not finished.
const runRunning = "running"

// BeginRun records a new run and makes it the target of SavePage.
func (s *Store) BeginRun(ctx context.Context, seeds []string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    runRunning,
		Seeds:     seeds,
	}
	if run.Seeds == nil {
		run.Seeds = []string{}
	}

	seedsJSON, err := json.Marshal(run.Seeds)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize seeds: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, status, seeds) VALUES (?, ?, ?, ?)`,
		run.ID, formatTimestamp(run.StartedAt), run.Status, string(seedsJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	s.mu.Lock()
	s.current = run.ID
	s.mu.Unlock()
	return run, nil
}

// FinishRun stores the final state of run and detaches it from SavePage.
// Pages and Failed are counted from the stored pages.
func (s *Store) FinishRun(ctx context.Context, run *model.Run, status string, counters map[string]int64) error {
	run.FinishedAt = time.Now().UTC()
	run.Status = status
	run.Counters = counters

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN error <> '' THEN 1 ELSE 0 END), 0) FROM pages WHERE run_id = ?`,
		run.ID).Scan(&run.Pages, &run.Failed)
	if err != nil {
		return fmt.Errorf("failed to count pages: %w", err)
	}

	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("failed to serialize counters: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, pages = ?, failed = ?, counters = ? WHERE id = ?`,
		formatTimestamp(run.FinishedAt), run.Status, run.Pages, run.Failed, string(countersJSON), run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}

	s.mu.Lock()
	if s.current == run.ID {
		s.current = ""
	}
	s.mu.Unlock()
	return nil
}

// SavePage inserts or updates a page of the current run.
func (s *Store) SavePage(ctx context.Context, p *model.Page) error {
	s.mu.Lock()
	runID := s.current
	s.mu.Unlock()
	if runID == "" {
		return ErrNoRun
	}

	headersJSON, err := json.Marshal(p.Headers)
	if err != nil {
		return fmt.Errorf("failed to serialize headers: %w", err)
	}
	fetchedAt := p.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	query := `
	INSERT INTO pages (run_id, url, final_url, host, status_code, content_type, title, depth, size, links,
		hash, from_cache, truncated, error, tag, headers, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, url) DO UPDATE SET
		final_url = excluded.final_url,
		status_code = excluded.status_code,
		content_type = excluded.content_type,
		title = excluded.title,
		depth = excluded.depth,
		size = excluded.size,
		links = excluded.links,
		hash = excluded.hash,
		from_cache = excluded.from_cache,
		truncated = excluded.truncated,
		error = excluded.error,
		tag = excluded.tag,
		headers = excluded.headers,
		fetched_at = excluded.fetched_at
	`
	_, err = s.db.ExecContext(ctx, query,
		runID, p.URL, p.FinalURL, p.Host, p.StatusCode, p.ContentType, p.Title, p.Depth, p.Size, p.Links,
		p.Hash, p.FromCache, p.Truncated, p.Error, p.Tag, string(headersJSON), formatTimestamp(fetchedAt))
	if err != nil {
		return fmt.Errorf("failed to insert page: %w", err)
	}
	return nil
}

const pageColumns = `url, final_url, host, status_code, content_type, title, depth, size, links,
	hash, from_cache, truncated, error, tag, headers, fetched_at`

// GetPage returns a stored page of a run.
func (s *Store) GetPage(ctx context.Context, runID, url string) (*model.Page, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE run_id = ? AND url = ?`, runID, url)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %s: %w", url, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return p, nil
}

// ListPages returns the pages of a run ordered by URL.
func (s *Store) ListPages(ctx context.Context, runID string) ([]*model.Page, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE run_id = ? ORDER BY url`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []*model.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, status, seeds, pages, failed, counters FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A positive limit caps the
// number of runs returned.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	query := `SELECT id, started_at, finished_at, status, seeds, pages, failed, counters
	FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPage(sc scanner) (*model.Page, error) {
	var (
		p           model.Page
		finalURL    sql.NullString
		contentType sql.NullString
		title       sql.NullString
		hash        sql.NullString
		errText     sql.NullString
		tag         sql.NullString
		headersJSON sql.NullString
		fetchedAt   string
	)
	err := sc.Scan(&p.URL, &finalURL, &p.Host, &p.StatusCode, &contentType, &title, &p.Depth, &p.Size, &p.Links,
		&hash, &p.FromCache, &p.Truncated, &errText, &tag, &headersJSON, &fetchedAt)
	if err != nil {
		return nil, err
	}
	p.FinalURL = finalURL.String
	p.ContentType = contentType.String
	p.Title = title.String
	p.Hash = hash.String
	p.Error = errText.String
	p.Tag = tag.String
	p.FetchedAt = parseTimestamp(fetchedAt)
	if headersJSON.Valid && headersJSON.String != "" && headersJSON.String != "null" {
		if err := json.Unmarshal([]byte(headersJSON.String), &p.Headers); err != nil {
			return nil, fmt.Errorf("failed to parse headers: %w", err)
		}
	}
	return &p, nil
}

func scanRun(sc scanner) (*model.Run, error) {
	var (
		run          model.Run
		startedAt    string
		finishedAt   sql.NullString
		seedsJSON    string
		countersJSON sql.NullString
	)
	err := sc.Scan(&run.ID, &startedAt, &finishedAt, &run.Status, &seedsJSON, &run.Pages, &run.Failed, &countersJSON)
	if err != nil {
		return nil, err
	}
	run.StartedAt = parseTimestamp(startedAt)
	if finishedAt.Valid {
		run.FinishedAt = parseTimestamp(finishedAt.String)
	}
	if err := json.Unmarshal([]byte(seedsJSON), &run.Seeds); err != nil {
		return nil, fmt.Errorf("failed to parse seeds: %w", err)
	}
	if countersJSON.Valid && countersJSON.String != "" {
		if err := json.Unmarshal([]byte(countersJSON.String), &run.Counters); err != nil {
			run.Counters = map[string]int64{}
		}
	}
	return &run, nil
}

// timestampLayout has a fixed width so stored values sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	timestampLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp tries each known format and returns the zero time when
// none matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
