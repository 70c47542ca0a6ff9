package services

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements RunStore with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sort_runs (
		run_id UUID PRIMARY KEY,
		transport VARCHAR(16) NOT NULL,
		requested BIGINT NOT NULL,
		padded BIGINT NOT NULL,
		units INTEGER NOT NULL,
		shard_len BIGINT NOT NULL,
		sorted BOOLEAN NOT NULL,
		first_error BIGINT NOT NULL DEFAULT 0,
		elapsed_ns BIGINT NOT NULL,
		started_at TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_sort_runs_started ON sort_runs(started_at);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveRun persists a run. Saving the same run twice overwrites it.
func (s *PostgresStore) SaveRun(ctx context.Context, run *RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
	INSERT INTO sort_runs
		(run_id, transport, requested, padded, units, shard_len, sorted, first_error, elapsed_ns, started_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (run_id) DO UPDATE SET
		transport = EXCLUDED.transport,
		sorted = EXCLUDED.sorted,
		first_error = EXCLUDED.first_error,
		elapsed_ns = EXCLUDED.elapsed_ns
	`

	_, err := s.db.ExecContext(ctx, query,
		run.RunID,
		run.Transport,
		run.Requested,
		run.Padded,
		run.Units,
		run.ShardLen,
		run.Sorted,
		run.FirstError,
		run.Elapsed.Nanoseconds(),
		run.StartedAt,
	)
	return err
}

// ListRuns returns the most recent runs first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := `
		SELECT run_id, transport, requested, padded, units, shard_len, sorted, first_error, elapsed_ns, started_at
		FROM sort_runs
		ORDER BY started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RunRecord
	for rows.Next() {
		var (
			run       RunRecord
			elapsedNs int64
		)
		if err := rows.Scan(&run.RunID, &run.Transport, &run.Requested, &run.Padded, &run.Units,
			&run.ShardLen, &run.Sorted, &run.FirstError, &elapsedNs, &run.StartedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		run.Elapsed = time.Duration(elapsedNs)
		result = append(result, &run)
	}

	return result, rows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InMemoryStore implements RunStore for testing without a database.
type InMemoryStore struct {
	mu   sync.Mutex
	runs map[string]*RunRecord
}

// NewInMemoryStore creates an in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs: make(map[string]*RunRecord),
	}
}

// SaveRun stores a copy of run in memory.
func (s *InMemoryStore) SaveRun(_ context.Context, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *run
	s.runs[run.RunID] = &cp
	return nil
}

// ListRuns returns stored runs, most recent first.
func (s *InMemoryStore) ListRuns(_ context.Context, limit int) ([]*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		cp := *run
		result = append(result, &cp)
	}
	slices.SortFunc(result, func(a, b *RunRecord) int {
		return b.StartedAt.Compare(a.StartedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
