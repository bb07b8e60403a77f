package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bitriver-live/internal/models"
)

// postgresRepository backs Repository with a Postgres connection pool,
// the production choice for multi-instance gateway deployments. It holds
// no business-rule logic beyond what the schema's constraints enforce;
// every invariant MemoryRepository honors in Go, this type honors in SQL.
type postgresRepository struct {
	pool         *pgxpool.Pool
	artifactRoot string
	timeout      time.Duration
}

const defaultPostgresOperationTimeout = 5 * time.Second

// NewPostgresRepository opens a Postgres connection pool per cfg and
// returns a Repository backed by it. Callers are expected to have applied
// the migrations under deploy/migrations before first use.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage: postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
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
	if cfg.ApplicationName != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres pool: %w", err)
	}

	if err := os.MkdirAll(cfg.ArtifactRoot, 0o755); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: prepare artifact root: %w", err)
	}

	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = defaultPostgresOperationTimeout
	}
	return &postgresRepository{
		pool:         pool,
		artifactRoot: cfg.ArtifactRoot,
		timeout:      timeout,
	}, nil
}

func (r *postgresRepository) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

// withConn acquires a pooled connection, runs fn against it, and always
// releases it back to the pool regardless of fn's outcome.
func (r *postgresRepository) withConn(ctx context.Context, fn func(conn *pgxpool.Conn) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("storage: acquire connection: %w", err)
	}
	defer conn.Release()
	return fn(conn)
}

// rollbackTx rolls back tx, swallowing the error pgx returns when the
// transaction was already committed by the caller.
func rollbackTx(ctx context.Context, tx pgx.Tx) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		_ = err
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Ping verifies the pool can still reach Postgres, per the PostgresSessionStore
// convention in internal/auth/postgres_store.go.
func (r *postgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// --- devices ---

func (r *postgresRepository) CreateDevice(device models.Device) (models.Device, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
INSERT INTO devices (id, name, rtsp_url, location, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, rtsp_url = EXCLUDED.rtsp_url,
    location = EXCLUDED.location, updated_at = EXCLUDED.updated_at
`, device.ID, device.Name, device.RTSPURL, device.Location, device.CreatedAt, device.UpdatedAt)
	if err != nil {
		return models.Device{}, fmt.Errorf("storage: create device: %w", err)
	}
	return device, nil
}

func (r *postgresRepository) GetDevice(deviceID string) (models.Device, bool, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	row := r.pool.QueryRow(ctx, `
SELECT id, name, rtsp_url, location, created_at, updated_at FROM devices WHERE id = $1
`, deviceID)
	var d models.Device
	if err := row.Scan(&d.ID, &d.Name, &d.RTSPURL, &d.Location, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if isNoRows(err) {
			return models.Device{}, false, nil
		}
		return models.Device{}, false, fmt.Errorf("storage: get device: %w", err)
	}
	return d, true, nil
}

func (r *postgresRepository) ListDevices() ([]models.Device, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT id, name, rtsp_url, location, created_at, updated_at FROM devices ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("storage: list devices: %w", err)
	}
	defer rows.Close()
	var out []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.ID, &d.Name, &d.RTSPURL, &d.Location, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *postgresRepository) DeleteDevice(deviceID string) error {
	ctx, cancel := r.ctx()
	defer cancel()
	_, err := r.pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, deviceID)
	if err != nil {
		return fmt.Errorf("storage: delete device: %w", err)
	}
	return nil
}

// --- streams ---

func (r *postgresRepository) SaveStream(stream models.Stream) error {
	ctx, cancel := r.ctx()
	defer cancel()
	stream.UpdatedAt = time.Now().UTC()
	codec, err := json.Marshal(stream.Codec)
	if err != nil {
		return fmt.Errorf("storage: marshal codec: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO streams (id, device_id, state, codec, producer_ref, assigned_port, captured_ssrc,
    last_error, retry_count, started_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET device_id = EXCLUDED.device_id, state = EXCLUDED.state,
    codec = EXCLUDED.codec, producer_ref = EXCLUDED.producer_ref,
    assigned_port = EXCLUDED.assigned_port, captured_ssrc = EXCLUDED.captured_ssrc,
    last_error = EXCLUDED.last_error, retry_count = EXCLUDED.retry_count,
    updated_at = EXCLUDED.updated_at
`, stream.ID, stream.DeviceID, string(stream.State), codec, stream.ProducerRef,
		stream.AssignedPort, stream.CapturedSSRC, stream.LastError, stream.RetryCount,
		stream.StartedAt, stream.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: save stream: %w", err)
	}
	return nil
}

func scanStream(row pgx.Row) (models.Stream, error) {
	var s models.Stream
	var state string
	var codec []byte
	if err := row.Scan(&s.ID, &s.DeviceID, &state, &codec, &s.ProducerRef, &s.AssignedPort,
		&s.CapturedSSRC, &s.LastError, &s.RetryCount, &s.StartedAt, &s.UpdatedAt); err != nil {
		return models.Stream{}, err
	}
	s.State = models.StreamState(state)
	if len(codec) > 0 {
		if err := json.Unmarshal(codec, &s.Codec); err != nil {
			return models.Stream{}, fmt.Errorf("storage: unmarshal codec: %w", err)
		}
	}
	return s, nil
}

const streamColumns = `id, device_id, state, codec, producer_ref, assigned_port, captured_ssrc,
    last_error, retry_count, started_at, updated_at`

func (r *postgresRepository) GetStream(streamID string) (models.Stream, bool, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = $1`, streamID)
	s, err := scanStream(row)
	if err != nil {
		if isNoRows(err) {
			return models.Stream{}, false, nil
		}
		return models.Stream{}, false, fmt.Errorf("storage: get stream: %w", err)
	}
	return s, true, nil
}

func (r *postgresRepository) ListStreams() ([]models.Stream, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+streamColumns+` FROM streams ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("storage: list streams: %w", err)
	}
	defer rows.Close()
	var out []models.Stream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan stream: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FindActiveStreamByDevice returns the most recently started non-terminal
// stream for deviceID, matching the at-most-one-non-terminal-stream
// invariant spec.md §3 describes.
func (r *postgresRepository) FindActiveStreamByDevice(deviceID string) (models.Stream, bool, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	row := r.pool.QueryRow(ctx, `
SELECT `+streamColumns+` FROM streams
WHERE device_id = $1 AND state IN ($2, $3, $4, $5)
ORDER BY started_at DESC LIMIT 1
`, deviceID, string(models.StreamInitializing), string(models.StreamReady),
		string(models.StreamLive), string(models.StreamError))
	s, err := scanStream(row)
	if err != nil {
		if isNoRows(err) {
			return models.Stream{}, false, nil
		}
		return models.Stream{}, false, fmt.Errorf("storage: find active stream: %w", err)
	}
	return s, true, nil
}

// --- producers ---

func (r *postgresRepository) SaveProducer(producer models.Producer) error {
	ctx, cancel := r.ctx()
	defer cancel()
	_, err := r.pool.Exec(ctx, `
INSERT INTO producers (id, stream_id, sfu_id, ssrc, state)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (stream_id) DO UPDATE SET id = EXCLUDED.id, sfu_id = EXCLUDED.sfu_id,
    ssrc = EXCLUDED.ssrc, state = EXCLUDED.state
`, producer.ID, producer.StreamID, producer.SFUID, producer.SSRC, producer.State)
	if err != nil {
		return fmt.Errorf("storage: save producer: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetProducerByStream(streamID string) (models.Producer, bool, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT id, stream_id, sfu_id, ssrc, state FROM producers WHERE stream_id = $1`, streamID)
	var p models.Producer
	if err := row.Scan(&p.ID, &p.StreamID, &p.SFUID, &p.SSRC, &p.State); err != nil {
		if isNoRows(err) {
			return models.Producer{}, false, nil
		}
		return models.Producer{}, false, fmt.Errorf("storage: get producer: %w", err)
	}
	return p, true, nil
}

func (r *postgresRepository) ClearProducer(streamID string) error {
	ctx, cancel := r.ctx()
	defer cancel()
	_, err := r.pool.Exec(ctx, `DELETE FROM producers WHERE stream_id = $1`, streamID)
	if err != nil {
		return fmt.Errorf("storage: clear producer: %w", err)
	}
	return nil
}

// --- snapshots ---

func (r *postgresRepository) CreateSnapshot(snapshot models.Snapshot) error {
	ctx, cancel := r.ctx()
	defer cancel()
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}
	metadata, err := json.Marshal(snapshot.Metadata)
	if err != nil {
		return fmt.Errorf("storage: marshal snapshot metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO snapshots (id, stream_id, timestamp, source, status, image_path, error, metadata, created_at, tombstone)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`, snapshot.ID, snapshot.StreamID, snapshot.Timestamp, string(snapshot.Source),
		string(snapshot.Status), snapshot.ImagePath, snapshot.Error, metadata, snapshot.CreatedAt, snapshot.Tombstone)
	if err != nil {
		return fmt.Errorf("storage: create snapshot: %w", err)
	}
	return nil
}

func scanSnapshot(row pgx.Row) (models.Snapshot, error) {
	var s models.Snapshot
	var source, status string
	var metadata []byte
	if err := row.Scan(&s.ID, &s.StreamID, &s.Timestamp, &source, &status, &s.ImagePath,
		&s.Error, &metadata, &s.CreatedAt, &s.Tombstone); err != nil {
		return models.Snapshot{}, err
	}
	s.Source = models.ExtractionSource(source)
	s.Status = models.JobStatus(status)
	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return models.Snapshot{}, fmt.Errorf("storage: unmarshal snapshot metadata: %w", err)
		}
	}
	return s, nil
}

const snapshotColumns = `id, stream_id, timestamp, source, status, image_path, error, metadata, created_at, tombstone`

func (r *postgresRepository) GetSnapshot(id string) (models.Snapshot, bool, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1 AND NOT tombstone`, id)
	s, err := scanSnapshot(row)
	if err != nil {
		if isNoRows(err) {
			return models.Snapshot{}, false, nil
		}
		return models.Snapshot{}, false, fmt.Errorf("storage: get snapshot: %w", err)
	}
	return s, true, nil
}

func (r *postgresRepository) ListSnapshotsByStream(streamID string) ([]models.Snapshot, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE stream_id = $1 AND NOT tombstone ORDER BY created_at`, streamID)
	if err != nil {
		return nil, fmt.Errorf("storage: list snapshots: %w", err)
	}
	defer rows.Close()
	var out []models.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *postgresRepository) ListSnapshots() ([]models.Snapshot, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE NOT tombstone ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("storage: list snapshots: %w", err)
	}
	defer rows.Close()
	var out []models.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *postgresRepository) SnapshotTombstoned(id string) (bool, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	var tombstone bool
	row := r.pool.QueryRow(ctx, `SELECT tombstone FROM snapshots WHERE id = $1`, id)
	if err := row.Scan(&tombstone); err != nil {
		if isNoRows(err) {
			return true, nil
		}
		return false, fmt.Errorf("storage: snapshot tombstoned: %w", err)
	}
	return tombstone, nil
}

func (r *postgresRepository) CompleteSnapshot(id string, imagePath string) error {
	ctx, cancel := r.ctx()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `UPDATE snapshots SET status = $2, image_path = $3 WHERE id = $1`,
		id, string(models.JobReady), imagePath)
	if err != nil {
		return fmt.Errorf("storage: complete snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) FailSnapshot(id string, errMsg string) error {
	ctx, cancel := r.ctx()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `UPDATE snapshots SET status = $2, error = $3 WHERE id = $1`,
		id, string(models.JobFailed), errMsg)
	if err != nil {
		return fmt.Errorf("storage: fail snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) DeleteSnapshotArtifact(id string) error {
	path := SnapshotArtifactPath(r.artifactRoot, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete snapshot artifact: %w", err)
	}
	return nil
}

// --- bookmarks ---

func (r *postgresRepository) CreateBookmark(bookmark models.Bookmark) error {
	ctx, cancel := r.ctx()
	defer cancel()
	if bookmark.CreatedAt.IsZero() {
		bookmark.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO bookmarks (id, stream_id, center_timestamp, start_time, end_time, duration_seconds,
    source, label, event_type, confidence, tags, status, video_path, thumbnail_path, error,
    truncated, created_at, tombstone)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (id) DO UPDATE SET stream_id = EXCLUDED.stream_id, center_timestamp = EXCLUDED.center_timestamp,
    start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time, duration_seconds = EXCLUDED.duration_seconds,
    source = EXCLUDED.source, label = EXCLUDED.label, event_type = EXCLUDED.event_type,
    confidence = EXCLUDED.confidence, tags = EXCLUDED.tags, status = EXCLUDED.status,
    video_path = EXCLUDED.video_path, thumbnail_path = EXCLUDED.thumbnail_path, error = EXCLUDED.error,
    truncated = EXCLUDED.truncated, tombstone = EXCLUDED.tombstone
`, bookmark.ID, bookmark.StreamID, bookmark.CenterTimestamp, bookmark.StartTime, bookmark.EndTime,
		bookmark.DurationSeconds, string(bookmark.Source), bookmark.Label, bookmark.EventType,
		bookmark.Confidence, bookmark.Tags, string(bookmark.Status), bookmark.VideoPath,
		bookmark.ThumbnailPath, bookmark.Error, bookmark.Truncated, bookmark.CreatedAt, bookmark.Tombstone)
	if err != nil {
		return fmt.Errorf("storage: create bookmark: %w", err)
	}
	return nil
}

func scanBookmark(row pgx.Row) (models.Bookmark, error) {
	var b models.Bookmark
	var source, status string
	if err := row.Scan(&b.ID, &b.StreamID, &b.CenterTimestamp, &b.StartTime, &b.EndTime,
		&b.DurationSeconds, &source, &b.Label, &b.EventType, &b.Confidence, &b.Tags, &status,
		&b.VideoPath, &b.ThumbnailPath, &b.Error, &b.Truncated, &b.CreatedAt, &b.Tombstone); err != nil {
		return models.Bookmark{}, err
	}
	b.Source = models.ExtractionSource(source)
	b.Status = models.JobStatus(status)
	return b, nil
}

const bookmarkColumns = `id, stream_id, center_timestamp, start_time, end_time, duration_seconds,
    source, label, event_type, confidence, tags, status, video_path, thumbnail_path, error,
    truncated, created_at, tombstone`

func (r *postgresRepository) GetBookmark(id string) (models.Bookmark, bool, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+bookmarkColumns+` FROM bookmarks WHERE id = $1 AND NOT tombstone`, id)
	b, err := scanBookmark(row)
	if err != nil {
		if isNoRows(err) {
			return models.Bookmark{}, false, nil
		}
		return models.Bookmark{}, false, fmt.Errorf("storage: get bookmark: %w", err)
	}
	return b, true, nil
}

func (r *postgresRepository) ListBookmarksByStream(streamID string) ([]models.Bookmark, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+bookmarkColumns+` FROM bookmarks WHERE stream_id = $1 AND NOT tombstone ORDER BY created_at`, streamID)
	if err != nil {
		return nil, fmt.Errorf("storage: list bookmarks: %w", err)
	}
	defer rows.Close()
	var out []models.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan bookmark: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *postgresRepository) ListBookmarks() ([]models.Bookmark, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+bookmarkColumns+` FROM bookmarks WHERE NOT tombstone ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("storage: list bookmarks: %w", err)
	}
	defer rows.Close()
	var out []models.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan bookmark: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *postgresRepository) BookmarkTombstoned(id string) (bool, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	var tombstone bool
	row := r.pool.QueryRow(ctx, `SELECT tombstone FROM bookmarks WHERE id = $1`, id)
	if err := row.Scan(&tombstone); err != nil {
		if isNoRows(err) {
			return true, nil
		}
		return false, fmt.Errorf("storage: bookmark tombstoned: %w", err)
	}
	return tombstone, nil
}

func (r *postgresRepository) CompleteBookmark(id, videoPath, thumbnailPath string, startTime time.Time, durationSeconds float64, truncated bool) error {
	ctx, cancel := r.ctx()
	defer cancel()

	query := `
UPDATE bookmarks SET status = $2, video_path = $3, thumbnail_path = $4, duration_seconds = $5, truncated = $6
WHERE id = $1
`
	args := []any{id, string(models.JobReady), videoPath, thumbnailPath, durationSeconds, truncated}
	if truncated {
		endTime := startTime.Add(time.Duration(durationSeconds * float64(time.Second)))
		query = `
UPDATE bookmarks SET status = $2, video_path = $3, thumbnail_path = $4, duration_seconds = $5, truncated = $6,
       start_time = $7, end_time = $8
WHERE id = $1
`
		args = append(args, startTime, endTime)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("storage: complete bookmark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) FailBookmark(id string, errMsg string) error {
	ctx, cancel := r.ctx()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `UPDATE bookmarks SET status = $2, error = $3 WHERE id = $1`,
		id, string(models.JobFailed), errMsg)
	if err != nil {
		return fmt.Errorf("storage: fail bookmark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) DeleteBookmarkArtifact(id string) error {
	for _, path := range []string{BookmarkVideoPath(r.artifactRoot, id), BookmarkThumbnailPath(r.artifactRoot, id)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("storage: delete bookmark artifact: %w", err)
		}
	}
	return nil
}

// --- clients ---

func (r *postgresRepository) CreateClient(client models.Client) (models.Client, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO clients (client_id, hashed_secret, scopes, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (client_id) DO UPDATE SET hashed_secret = EXCLUDED.hashed_secret, scopes = EXCLUDED.scopes
`, client.ClientID, client.HashedSecret, client.Scopes, client.CreatedAt)
	if err != nil {
		return models.Client{}, fmt.Errorf("storage: create client: %w", err)
	}
	return client, nil
}

func (r *postgresRepository) GetClient(clientID string) (models.Client, bool, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT client_id, hashed_secret, scopes, created_at FROM clients WHERE client_id = $1`, clientID)
	var c models.Client
	if err := row.Scan(&c.ClientID, &c.HashedSecret, &c.Scopes, &c.CreatedAt); err != nil {
		if isNoRows(err) {
			return models.Client{}, false, nil
		}
		return models.Client{}, false, fmt.Errorf("storage: get client: %w", err)
	}
	return c, true, nil
}

func (r *postgresRepository) ListClients() ([]models.Client, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT client_id, hashed_secret, scopes, created_at FROM clients ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("storage: list clients: %w", err)
	}
	defer rows.Close()
	var out []models.Client
	for rows.Next() {
		var c models.Client
		if err := rows.Scan(&c.ClientID, &c.HashedSecret, &c.Scopes, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
