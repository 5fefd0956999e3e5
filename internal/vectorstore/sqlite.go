package vectorstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/vidrag/internal/models"
)

// SQLiteStore keeps each partition in its own table. Embeddings are stored as
// little-endian float32 blobs; range filters run in SQL and scoring runs in Go.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the registry.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and writers serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initRegistry(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initRegistry(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS partitions (
		name TEXT PRIMARY KEY,
		table_name TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		metric TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`)
	return err
}

// tableName maps a partition name onto a safe SQL identifier.
func tableName(name string) string {
	return "frames_" + hex.EncodeToString([]byte(name))
}

func (s *SQLiteStore) lookup(ctx context.Context, name string) (string, int, error) {
	var table string
	var dims int
	err := s.db.QueryRowContext(ctx,
		`SELECT table_name, dimensions FROM partitions WHERE name = ?`, name,
	).Scan(&table, &dims)
	if err == sql.ErrNoRows {
		return "", 0, fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
	}
	if err != nil {
		return "", 0, err
	}
	return table, dims, nil
}

// PartitionExists reports whether name is registered.
func (s *SQLiteStore) PartitionExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM partitions WHERE name = ?`, name).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreatePartition registers name and creates its table in one transaction.
func (s *SQLiteStore) CreatePartition(ctx context.Context, name string, spec PartitionSpec) error {
	if spec.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	if spec.Metric == "" {
		spec.Metric = MetricCosine
	}
	table := tableName(name)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO partitions (name, table_name, dimensions, metric) VALUES (?, ?, ?, ?)`,
		name, table, spec.Dimensions, string(spec.Metric),
	)
	if err != nil {
		return fmt.Errorf("failed to register partition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPartitionExists
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %q (
		id TEXT PRIMARY KEY,
		embedding BLOB NOT NULL,
		camera_id TEXT NOT NULL,
		video_id TEXT,
		timestamp_str TEXT,
		timestamp_sortable REAL NOT NULL DEFAULT 0,
		relative_offset REAL NOT NULL DEFAULT 0,
		clock_time_seconds REAL NOT NULL DEFAULT 0,
		description TEXT,
		video_path TEXT,
		frame_id TEXT
	)`, table))
	if err != nil {
		return fmt.Errorf("failed to create partition table: %w", err)
	}
	return tx.Commit()
}

// CreateRangeIndex creates a B-tree index on field.
func (s *SQLiteStore) CreateRangeIndex(ctx context.Context, name, field string) error {
	if !isRangeField(field) {
		return fmt.Errorf("field %q is not range-indexable", field)
	}
	table, _, err := s.lookup(ctx, name)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q(%s)`,
		"idx_"+table+"_"+field, table, field))
	return err
}

// Upsert writes all points in one transaction using a prepared statement.
func (s *SQLiteStore) Upsert(ctx context.Context, name string, points []Point) error {
	table, dims, err := s.lookup(ctx, name)
	if err != nil {
		return err
	}
	for _, pt := range points {
		if len(pt.Vector) != dims {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(pt.Vector), dims)
		}
	}
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %q (id, embedding, camera_id, video_id, timestamp_str, timestamp_sortable,
			relative_offset, clock_time_seconds, description, video_path, frame_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			embedding = excluded.embedding,
			camera_id = excluded.camera_id,
			video_id = excluded.video_id,
			timestamp_str = excluded.timestamp_str,
			timestamp_sortable = excluded.timestamp_sortable,
			relative_offset = excluded.relative_offset,
			clock_time_seconds = excluded.clock_time_seconds,
			description = excluded.description,
			video_path = excluded.video_path,
			frame_id = excluded.frame_id`, table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, pt := range points {
		p := pt.Payload
		if _, err := stmt.ExecContext(ctx,
			pt.ID, float32SliceToBytes(pt.Vector), p.CameraID, p.VideoID, p.TimestampStr,
			p.TimestampSortable, p.RelativeOffset, p.ClockTimeSeconds, p.Description, p.VideoPath, p.FrameID,
		); err != nil {
			return fmt.Errorf("failed to upsert point %s: %w", pt.ID, err)
		}
	}
	return tx.Commit()
}

// Query selects rows matching filter in SQL, scores them by cosine and returns the top limit.
func (s *SQLiteStore) Query(ctx context.Context, name string, vector []float32, filter Filter, limit int) ([]models.Hit, error) {
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

	where, args, err := sqlWhere(filter, func(int) string { return "?" })
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, embedding, camera_id, video_id, timestamp_str, timestamp_sortable,
			relative_offset, clock_time_seconds, description, video_path, frame_id
		FROM %q%s ORDER BY rowid`, table, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := make([]models.Hit, 0)
	for rows.Next() {
		var h models.Hit
		var blob []byte
		var videoID, tsStr, desc, videoPath, frameID sql.NullString
		p := &h.Payload
		if err := rows.Scan(&h.ID, &blob, &p.CameraID, &videoID, &tsStr, &p.TimestampSortable,
			&p.RelativeOffset, &p.ClockTimeSeconds, &desc, &videoPath, &frameID); err != nil {
			return nil, err
		}
		p.VideoID, p.TimestampStr, p.Description = videoID.String, tsStr.String, desc.String
		p.VideoPath, p.FrameID = videoPath.String, frameID.String
		h.Score = CosineSimilarity(vector, bytesToFloat32Slice(blob))
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// sqlWhere renders filter as a WHERE clause. placeholder returns the bind marker for
// the n-th argument (1-based) so the same code serves SQLite and Postgres.
func sqlWhere(filter Filter, placeholder func(n int) string) (string, []any, error) {
	if filter.IsEmpty() {
		return "", nil, nil
	}
	var conds []string
	var args []any
	for _, r := range filter.Must {
		if !isRangeField(r.Field) {
			return "", nil, fmt.Errorf("field %q is not range-indexable", r.Field)
		}
		if r.Gte != nil {
			args = append(args, *r.Gte)
			conds = append(conds, fmt.Sprintf("%s >= %s", r.Field, placeholder(len(args))))
		}
		if r.Lte != nil {
			args = append(args, *r.Lte)
			conds = append(conds, fmt.Sprintf("%s <= %s", r.Field, placeholder(len(args))))
		}
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// ListPartitions returns registered partition names in sorted order.
func (s *SQLiteStore) ListPartitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM partitions ORDER BY name`)
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
func (s *SQLiteStore) Count(ctx context.Context, name string) (int, error) {
	table, _, err := s.lookup(ctx, name)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
