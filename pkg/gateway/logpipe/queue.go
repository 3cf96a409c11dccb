package logpipe

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	_ "modernc.org/sqlite"
)

// Queue is the outbound message queue. Enqueue failure is logged by
// the pipeline and not retried; delivery is at most once.
type Queue interface {
	Enqueue(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// redisStreamMaxLen bounds each stream; old entries are trimmed
// approximately.
const redisStreamMaxLen = 100_000

// RedisQueue publishes records onto Redis streams, one stream per
// topic.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue wraps an existing client; the caller owns its
// lifecycle when sharing it with the cache.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// Enqueue appends the payload to the topic's stream.
func (q *RedisQueue) Enqueue(ctx context.Context, topic string, payload []byte) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream:       topic,
		MaxLenApprox: redisStreamMaxLen,
		Values:       map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue on stream %s: %w", topic, err)
	}
	return nil
}

func (q *RedisQueue) Close() error { return nil }

// SQLiteQueue spools records into a local SQLite database, for
// deployments without Redis. An external forwarder ships and deletes
// spooled rows.
type SQLiteQueue struct {
	db *sql.DB
}

// NewSQLiteQueue opens (and if needed initializes) the spool at path.
func NewSQLiteQueue(path string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log spool: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS log_spool (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	topic      TEXT    NOT NULL,
	payload    BLOB    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_log_spool_topic ON log_spool (topic, id);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize log spool schema: %w", err)
	}
	return &SQLiteQueue{db: db}, nil
}

// Enqueue inserts one spool row.
func (q *SQLiteQueue) Enqueue(ctx context.Context, topic string, payload []byte) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO log_spool (topic, payload, created_at) VALUES (?, ?, ?)`,
		topic, payload, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to spool record: %w", err)
	}
	return nil
}

// Pending reports how many rows are spooled for a topic. Used by the
// health endpoint and tests.
func (q *SQLiteQueue) Pending(ctx context.Context, topic string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM log_spool WHERE topic = ?`, topic,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count spooled records: %w", err)
	}
	return n, nil
}

func (q *SQLiteQueue) Close() error { return q.db.Close() }
