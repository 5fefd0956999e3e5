package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/hyperjump/vidrag/internal/models"
)

// PostgresStore keeps each partition in a pgvector table with an HNSW cosine index.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, ensures the vector extension and the partition registry.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS vidrag_partitions (
			name TEXT PRIMARY KEY,
			table_name TEXT NOT NULL,
			dimensions INTEGER NOT NULL,
			metric TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create partition registry: %w", err)
	}
	return nil
}

// pgTableName maps a partition name to a fixed-length identifier. Postgres truncates
// identifiers past 63 bytes, so the name is hashed rather than encoded.
func pgTableName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return "vidrag_frames_" + hex.EncodeToString(sum[:16])
}

// pgIndexName names an index on table. Table names are 46 bytes, so the result
// stays within the identifier limit for every range field.
func pgIndexName(table, field string) string {
	return "idx_" + strings.TrimPrefix(table, "vidrag_") + "_" + field
}

func (s *PostgresStore) lookup(ctx context.Context, name string) (string, int, error) {
	var table string
	var dims int
	err := s.pool.QueryRow(ctx,
		"SELECT table_name, dimensions FROM vidrag_partitions WHERE name = $1", name,
	).Scan(&table, &dims)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
	}
	if err != nil {
		return "", 0, fmt.Errorf("error looking up partition: %w", err)
	}
	return table, dims, nil
}

// PartitionExists reports whether name is registered.
func (s *PostgresStore) PartitionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM vidrag_partitions WHERE name = $1)", name).Scan(&exists)
	return exists, err
}

// CreatePartition registers name and creates its table and vector index in one transaction.
func (s *PostgresStore) CreatePartition(ctx context.Context, name string, spec PartitionSpec) error {
	if spec.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	if spec.Metric == "" {
		spec.Metric = MetricCosine
	}
	table := pgTableName(name)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO vidrag_partitions (name, table_name, dimensions, metric)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (name) DO NOTHING`,
		name, table, spec.Dimensions, string(spec.Metric))
	if err != nil {
		return fmt.Errorf("failed to register partition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPartitionExists
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			id UUID PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			camera_id TEXT NOT NULL,
			video_id TEXT,
			timestamp_str TEXT,
			timestamp_sortable DOUBLE PRECISION NOT NULL DEFAULT 0,
			relative_offset DOUBLE PRECISION NOT NULL DEFAULT 0,
			clock_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			description TEXT,
			video_path TEXT,
			frame_id TEXT
		);
		CREATE INDEX IF NOT EXISTS %q ON %q USING hnsw (embedding vector_cosine_ops);`,
		table, spec.Dimensions, pgIndexName(table, "embedding"), table))
	if err != nil {
		return fmt.Errorf("failed to create partition table: %w", err)
	}
	return tx.Commit(ctx)
}

// CreateRangeIndex creates a B-tree index on field.
func (s *PostgresStore) CreateRangeIndex(ctx context.Context, name, field string) error {
	if !isRangeField(field) {
		return fmt.Errorf("field %q is not range-indexable", field)
	}
	table, _, err := s.lookup(ctx, name)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (%s)`,
		pgIndexName(table, field), table, field))
	return err
}

// Upsert sends all points as one batch inside a transaction.
func (s *PostgresStore) Upsert(ctx context.Context, name string, points []Point) error {
	table, dims, err := s.lookup(ctx, name)
	if err != nil {
		return err
	}
	for _, pt := range points {
		if len(pt.Vector) != dims {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(pt.Vector), dims)
		}
	}
	if err := checkPointIDs(points); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %q (id, embedding, camera_id, video_id, timestamp_str, timestamp_sortable,
			relative_offset, clock_time_seconds, description, video_path, frame_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			camera_id = EXCLUDED.camera_id,
			video_id = EXCLUDED.video_id,
			timestamp_str = EXCLUDED.timestamp_str,
			timestamp_sortable = EXCLUDED.timestamp_sortable,
			relative_offset = EXCLUDED.relative_offset,
			clock_time_seconds = EXCLUDED.clock_time_seconds,
			description = EXCLUDED.description,
			video_path = EXCLUDED.video_path,
			frame_id = EXCLUDED.frame_id`, table)

	batch := &pgx.Batch{}
	for _, pt := range points {
		p := pt.Payload
		batch.Queue(query, pt.ID, pgvector.NewVector(pt.Vector), p.CameraID, p.VideoID, p.TimestampStr,
			p.TimestampSortable, p.RelativeOffset, p.ClockTimeSeconds, p.Description, p.VideoPath, p.FrameID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return tx.Commit(ctx)
}

// Query orders rows by cosine distance and returns similarity as 1 - distance.
func (s *PostgresStore) Query(ctx context.Context, name string, vector []float32, filter Filter, limit int) ([]models.Hit, error) {
	table, dims, err := s.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(vector) != dims {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), dims)
	}
	if limit <= 0 {
		return []models.Hit{}, nil
	}

	// $1 is the query vector; filter arguments follow.
	where, fargs, err := sqlWhere(filter, func(n int) string { return fmt.Sprintf("$%d", n+1) })
	if err != nil {
		return nil, err
	}
	args := append([]any{pgvector.NewVector(vector)}, fargs...)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id::text, camera_id, COALESCE(video_id, ''), COALESCE(timestamp_str, ''), timestamp_sortable,
			relative_offset, clock_time_seconds, COALESCE(description, ''), COALESCE(video_path, ''),
			COALESCE(frame_id, ''), 1 - (embedding <=> $1) AS similarity
		FROM %q%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, table, where, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search partition: %w", err)
	}
	defer rows.Close()

	hits := make([]models.Hit, 0)
	for rows.Next() {
		var h models.Hit
		p := &h.Payload
		if err := rows.Scan(&h.ID, &p.CameraID, &p.VideoID, &p.TimestampStr, &p.TimestampSortable,
			&p.RelativeOffset, &p.ClockTimeSeconds, &p.Description, &p.VideoPath, &p.FrameID, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ListPartitions returns registered partition names in sorted order.
func (s *PostgresStore) ListPartitions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT name FROM vidrag_partitions ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Count returns the number of points in the partition.
func (s *PostgresStore) Count(ctx context.Context, name string) (int, error) {
	table, _, err := s.lookup(ctx, name)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %q", table)).Scan(&n)
	return n, err
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
