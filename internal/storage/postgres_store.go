package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"metaserver/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig describes how the Postgres store initialises its connection
// pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
}

// PostgresStore keeps every collection in a single documents table with the
// object serialised as JSONB. Query field paths translate to JSONB path
// extraction, so the same dotted-path grammar works against both drivers.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a Postgres-backed document store and provisions the
// schema on first run.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

var documentsSchema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		collection text NOT NULL,
		store_key text NOT NULL,
		doc jsonb NOT NULL,
		PRIMARY KEY (collection, store_key)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_domain_id_idx
		ON documents (collection, (doc ->> 'id'))`,
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	for _, statement := range documentsSchema {
		if _, err := s.pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("ensure documents schema: %w", err)
		}
	}
	return nil
}

// queryClause renders the query terms as JSONB path comparisons, appending
// the values to args. args already carries the collection parameter.
func queryClause(query Query, args []any) (string, []any) {
	var clause strings.Builder
	for field, want := range query {
		args = append(args, fieldPath(field))
		clause.WriteString(fmt.Sprintf(" AND doc #>> $%d::text[]", len(args)))
		args = append(args, want)
		clause.WriteString(fmt.Sprintf(" = $%d", len(args)))
	}
	return clause.String(), args
}

func scanObject(row pgx.Row) (models.Object, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, err
	}
	var obj models.Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return obj, nil
}

// FindOne returns the first object matching the query, or ErrNotFound.
func (s *PostgresStore) FindOne(ctx context.Context, collection string, query Query) (models.Object, error) {
	args := []any{collection}
	clause, args := queryClause(query, args)
	sql := "SELECT doc FROM documents WHERE collection = $1" + clause + " ORDER BY store_key LIMIT 1"
	obj, err := scanObject(s.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find one in %s: %w", collection, err)
	}
	return obj, nil
}

// Find returns every object matching the query, in stable store-key order.
func (s *PostgresStore) Find(ctx context.Context, collection string, query Query) ([]models.Object, error) {
	args := []any{collection}
	clause, args := queryClause(query, args)
	sql := "SELECT doc FROM documents WHERE collection = $1" + clause + " ORDER BY store_key"
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	defer rows.Close()
	var results []models.Object
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("find in %s: %w", collection, err)
		}
		results = append(results, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	return results, nil
}

// Distinct returns the sorted distinct string values at the field path
// across the collection.
func (s *PostgresStore) Distinct(ctx context.Context, collection, field string) ([]string, error) {
	sql := `SELECT DISTINCT doc #>> $2::text[] FROM documents
		WHERE collection = $1 AND doc #>> $2::text[] IS NOT NULL ORDER BY 1`
	rows, err := s.pool.Query(ctx, sql, collection, fieldPath(field))
	if err != nil {
		return nil, fmt.Errorf("distinct %s in %s: %w", field, collection, err)
	}
	defer rows.Close()
	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("distinct %s in %s: %w", field, collection, err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("distinct %s in %s: %w", field, collection, err)
	}
	return values, nil
}

// Save upserts the object by its internal store key, assigning one when the
// object has never been persisted.
func (s *PostgresStore) Save(ctx context.Context, collection string, obj models.Object) error {
	key := obj.StoreKey()
	if key == "" {
		generated, err := generateStoreKey()
		if err != nil {
			return err
		}
		key = generated
		obj[models.StoreKeyField] = key
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	sql := `INSERT INTO documents (collection, store_key, doc) VALUES ($1, $2, $3)
		ON CONFLICT (collection, store_key) DO UPDATE SET doc = EXCLUDED.doc`
	if _, err := s.pool.Exec(ctx, sql, collection, key, raw); err != nil {
		return fmt.Errorf("save in %s: %w", collection, err)
	}
	return nil
}

// Remove deletes every object matching the query.
func (s *PostgresStore) Remove(ctx context.Context, collection string, query Query) error {
	args := []any{collection}
	clause, args := queryClause(query, args)
	sql := "DELETE FROM documents WHERE collection = $1" + clause
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("remove in %s: %w", collection, err)
	}
	return nil
}

// Ping verifies connectivity to the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool, honouring the context deadline while connections
// drain.
func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

var _ DocumentStore = (*PostgresStore)(nil)
