// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linkforge/harvester/internal/credentials"
	"github.com/linkforge/harvester/internal/harvest"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store persists combinations, links, dorks, and credentials in Postgres.
// The schema (db/schema.sql) enforces the two uniqueness invariants:
// combinations carries UNIQUE (location_id, category_id, dork_id) and
// fetched_links carries UNIQUE (combination_id, canonical_url).
type Store struct {
	pool dbPool
}

// New creates a Store backed by a new pgx pool.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies connectivity before background execution starts.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const combinationColumns = `id, location_id, category_id, dork_id, dork_string, credential_id,
	total_fetched, last_start_index, next_start_index, max_allowed_results,
	status, error_message, last_run_at, completed_at, created_at, updated_at`

// CreateCombination inserts the record; a triple conflict is a silent no-op.
func (s *Store) CreateCombination(ctx context.Context, c harvest.Combination) (bool, error) {
	query := `
		INSERT INTO combinations (` + combinationColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (location_id, category_id, dork_id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		c.ID,
		c.Triple.LocationID,
		c.Triple.CategoryID,
		c.Triple.DorkID,
		c.DorkString,
		c.CredentialID,
		c.TotalFetched,
		c.LastStartIndex,
		c.NextStartIndex,
		c.MaxAllowedResults,
		c.Status,
		nullableString(c.ErrorMessage),
		c.LastRunAt,
		c.CompletedAt,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert combination: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetCombination loads one combination or returns harvest.ErrNotFound.
func (s *Store) GetCombination(ctx context.Context, id uuid.UUID) (harvest.Combination, error) {
	query := `SELECT ` + combinationColumns + ` FROM combinations WHERE id = $1`
	return s.scanCombination(s.pool.QueryRow(ctx, query, id))
}

// GetCombinationByTriple loads the combination for a unique triple.
func (s *Store) GetCombinationByTriple(ctx context.Context, t harvest.Triple) (harvest.Combination, error) {
	query := `SELECT ` + combinationColumns + `
		FROM combinations
		WHERE location_id = $1 AND category_id = $2 AND dork_id = $3`
	return s.scanCombination(s.pool.QueryRow(ctx, query, t.LocationID, t.CategoryID, t.DorkID))
}

func (s *Store) scanCombination(row pgx.Row) (harvest.Combination, error) {
	var c harvest.Combination
	var errMsg *string
	err := row.Scan(
		&c.ID,
		&c.Triple.LocationID,
		&c.Triple.CategoryID,
		&c.Triple.DorkID,
		&c.DorkString,
		&c.CredentialID,
		&c.TotalFetched,
		&c.LastStartIndex,
		&c.NextStartIndex,
		&c.MaxAllowedResults,
		&c.Status,
		&errMsg,
		&c.LastRunAt,
		&c.CompletedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.Combination{}, harvest.ErrNotFound
		}
		return harvest.Combination{}, fmt.Errorf("scan combination: %w", err)
	}
	if errMsg != nil {
		c.ErrorMessage = *errMsg
	}
	return c, nil
}

// UpdateCombination writes all mutable fields.
func (s *Store) UpdateCombination(ctx context.Context, c harvest.Combination) error {
	query := `
		UPDATE combinations
		SET total_fetched = $2,
			last_start_index = $3,
			next_start_index = $4,
			status = $5,
			error_message = $6,
			last_run_at = $7,
			completed_at = $8,
			updated_at = $9
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		c.ID,
		c.TotalFetched,
		c.LastStartIndex,
		c.NextStartIndex,
		c.Status,
		nullableString(c.ErrorMessage),
		c.LastRunAt,
		c.CompletedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update combination: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.ErrNotFound
	}
	return nil
}

// ResetCombination deletes the combination's links and writes the zeroed
// record in one transaction.
func (s *Store) ResetCombination(ctx context.Context, c harvest.Combination) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM fetched_links WHERE combination_id = $1`, c.ID); err != nil {
		return fmt.Errorf("delete links: %w", err)
	}
	query := `
		UPDATE combinations
		SET total_fetched = $2,
			last_start_index = $3,
			next_start_index = $4,
			status = $5,
			error_message = NULL,
			last_run_at = NULL,
			completed_at = NULL,
			updated_at = $6
		WHERE id = $1`
	tag, err := tx.Exec(ctx, query,
		c.ID, c.TotalFetched, c.LastStartIndex, c.NextStartIndex, c.Status, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("reset combination: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}

// InsertLinks bulk-inserts the batch. Duplicate canonical URLs are rejected
// row by row through the unique index, so the returned count reflects only
// the rows that actually landed.
func (s *Store) InsertLinks(ctx context.Context, links []harvest.Link) (int, error) {
	query := `
		INSERT INTO fetched_links (
			id, combination_id, url, canonical_url, title, snippet,
			display_link, formatted_url, rank, page_number, fetched_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (combination_id, canonical_url) DO NOTHING`
	inserted := 0
	for _, link := range links {
		tag, err := s.pool.Exec(ctx, query,
			link.ID,
			link.CombinationID,
			link.URL,
			link.CanonicalURL,
			link.Title,
			link.Snippet,
			link.DisplayLink,
			link.FormattedURL,
			link.Rank,
			link.PageNumber,
			link.FetchedAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert link: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListLinks returns all links for a combination ordered by rank.
func (s *Store) ListLinks(ctx context.Context, combinationID uuid.UUID) ([]harvest.Link, error) {
	query := `
		SELECT id, combination_id, url, canonical_url, title, snippet,
			display_link, formatted_url, rank, page_number, fetched_at
		FROM fetched_links
		WHERE combination_id = $1
		ORDER BY rank ASC`
	rows, err := s.pool.Query(ctx, query, combinationID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var links []harvest.Link
	for rows.Next() {
		var link harvest.Link
		err := rows.Scan(
			&link.ID,
			&link.CombinationID,
			&link.URL,
			&link.CanonicalURL,
			&link.Title,
			&link.Snippet,
			&link.DisplayLink,
			&link.FormattedURL,
			&link.Rank,
			&link.PageNumber,
			&link.FetchedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan link row: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate link rows: %w", err)
	}
	return links, nil
}

// GetDork resolves a dork reference or returns harvest.ErrNotFound.
func (s *Store) GetDork(ctx context.Context, id uuid.UUID) (harvest.Dork, error) {
	var d harvest.Dork
	err := s.pool.QueryRow(ctx, `SELECT id, text FROM dorks WHERE id = $1`, id).
		Scan(&d.ID, &d.Text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.Dork{}, harvest.ErrNotFound
		}
		return harvest.Dork{}, fmt.Errorf("get dork: %w", err)
	}
	return d, nil
}

// GetCredential loads an encrypted credential record.
func (s *Store) GetCredential(ctx context.Context, id uuid.UUID) (credentials.EncryptedCredential, error) {
	var rec credentials.EncryptedCredential
	query := `SELECT id, api_key_ciphertext, engine_id_ciphertext FROM credentials WHERE id = $1`
	err := s.pool.QueryRow(ctx, query, id).
		Scan(&rec.ID, &rec.APIKeyCiphertext, &rec.EngineIDCiphertext)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return credentials.EncryptedCredential{}, harvest.ErrNotFound
		}
		return credentials.EncryptedCredential{}, fmt.Errorf("get credential: %w", err)
	}
	return rec, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
