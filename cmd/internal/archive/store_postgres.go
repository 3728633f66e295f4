package archive

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the schema used when WithSchema is not given.
const DefaultSchema = "teamly"

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Writes take a per-channel transactional advisory lock, so seq allocation
//   is gap-free and a message is inserted at most once.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "teamly").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("archive: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("archive: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("archive: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Migrate creates the archive tables when they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrNilStore
	}
	if _, err := s.pool.Exec(ctx, schemaSQL(s.schema)); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// SaveMessage inserts a message on first sight and overwrites its content afterwards.
func (s *PostgresStore) SaveMessage(ctx context.Context, in SaveInput) (SaveResult, error) {
	if s == nil || s.pool == nil {
		return SaveResult{}, ErrNilStore
	}
	if err := in.validate(); err != nil {
		return SaveResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return SaveResult{}, err
	}
	now := nowOr(in.Now)
	created := in.CreatedAt
	if created.IsZero() {
		created = now
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return SaveResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cursors := pgIdent(s.schema, "channel_cursors")
	messages := pgIdent(s.schema, "messages")

	if err := lockChannel(ctx, tx, in.ChannelID); err != nil {
		return SaveResult{}, err
	}

	updated, err := scanRecord(tx.QueryRow(ctx,
		`UPDATE `+messages+`
		    SET content    = $3,
		        payload    = $4,
		        edited_at  = COALESCE($5, edited_at),
		        team_id    = COALESCE(NULLIF(team_id, ''), $6),
		        revision   = revision + 1,
		        updated_at = $7
		  WHERE channel_id = $1 AND message_id = $2
		RETURNING `+recordColumns,
		in.ChannelID, in.MessageID, in.Content, nullJSON(in.Payload), nullTime(in.EditedAt), in.TeamID, now,
	))
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return SaveResult{}, err
		}
		return SaveResult{Stored: updated}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return SaveResult{}, fmt.Errorf("update message: %w", err)
	}

	// Cursor row ensures monotonic seq allocation.
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (channel_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (channel_id) DO NOTHING`,
		in.ChannelID,
	); err != nil {
		return SaveResult{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE channel_id = $1
		RETURNING (next_seq - 1)`,
		in.ChannelID,
	).Scan(&seq); err != nil {
		return SaveResult{}, err
	}

	stored, err := scanRecord(tx.QueryRow(ctx,
		`INSERT INTO `+messages+` (
		     channel_id, message_id, seq, team_id, author_id, content, payload, created_at, edited_at, revision, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10)
		RETURNING `+recordColumns,
		in.ChannelID, in.MessageID, seq, in.TeamID, in.AuthorID, in.Content,
		nullJSON(in.Payload), created.UTC(), nullTime(in.EditedAt), now,
	))
	if err != nil {
		return SaveResult{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return SaveResult{}, err
	}
	return SaveResult{Stored: stored, Created: true}, nil
}

// MarkDeleted sets the tombstone on an archived message. Deleting twice keeps the first timestamp.
func (s *PostgresStore) MarkDeleted(ctx context.Context, in DeleteInput) (DeleteResult, error) {
	if s == nil || s.pool == nil {
		return DeleteResult{}, ErrNilStore
	}
	if err := in.validate(); err != nil {
		return DeleteResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return DeleteResult{}, err
	}
	now := nowOr(in.Now)

	messages := pgIdent(s.schema, "messages")

	// revision only moves on the first delete.
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`UPDATE `+messages+`
		    SET revision   = CASE WHEN deleted_at IS NULL THEN revision + 1 ELSE revision END,
		        deleted_at = COALESCE(deleted_at, $3),
		        updated_at = $3
		  WHERE channel_id = $1 AND message_id = $2
		RETURNING `+recordColumns,
		in.ChannelID, in.MessageID, now,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return DeleteResult{}, nil
	}
	if err != nil {
		return DeleteResult{}, fmt.Errorf("tombstone message: %w", err)
	}
	return DeleteResult{Stored: r, Found: true}, nil
}

// FetchHistory returns records ordered by seq ASC, with optional paging by AfterSeq.
func (s *PostgresStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	if s == nil || s.pool == nil {
		return FetchHistoryResult{}, ErrNilStore
	}
	if in.ChannelID == "" {
		return FetchHistoryResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	limit := clampLimit(in.Limit)
	fetch := limit + 1

	after := int64(0)
	if in.AfterSeq != nil {
		after = *in.AfterSeq
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+`
		   FROM `+messages+`
		  WHERE channel_id = $1 AND seq > $2 AND ($3 OR deleted_at IS NULL)
		  ORDER BY seq ASC
		  LIMIT $4`,
		in.ChannelID, after, in.IncludeDeleted, fetch,
	)
	if err != nil {
		return FetchHistoryResult{}, err
	}
	defer rows.Close()

	recs := make([]Record, 0, fetch)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return FetchHistoryResult{}, err
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	hasMore := len(recs) > limit
	if hasMore {
		recs = recs[:limit]
	}
	return FetchHistoryResult{Records: recs, HasMore: hasMore}, nil
}

func lockChannel(ctx context.Context, tx pgx.Tx, channelID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, channelID); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

const recordColumns = `team_id, channel_id, message_id, seq, author_id, content, payload, created_at, edited_at, deleted_at, revision`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r        Record
		payload  []byte
		editedAt *time.Time
		deleted  *time.Time
	)
	err := row.Scan(
		&r.TeamID,
		&r.ChannelID,
		&r.MessageID,
		&r.Seq,
		&r.AuthorID,
		&r.Content,
		&payload,
		&r.CreatedAt,
		&editedAt,
		&deleted,
		&r.Revision,
	)
	if err != nil {
		return Record{}, err
	}
	r.Payload = payload
	r.CreatedAt = r.CreatedAt.UTC()
	if editedAt != nil {
		r.EditedAt = editedAt.UTC()
	}
	if deleted != nil {
		r.DeletedAt = deleted.UTC()
	}
	return r, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func schemaSQL(schema string) string {
	cursors := pgIdent(schema, "channel_cursors")
	messages := pgIdent(schema, "messages")

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  channel_id TEXT PRIMARY KEY,
  next_seq   BIGINT NOT NULL DEFAULT 1,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  channel_id TEXT NOT NULL,
  message_id TEXT NOT NULL,
  seq        BIGINT NOT NULL,
  team_id    TEXT NOT NULL DEFAULT '',
  author_id  TEXT NOT NULL DEFAULT '',
  content    TEXT NOT NULL DEFAULT '',
  payload    JSONB,
  created_at TIMESTAMPTZ NOT NULL,
  edited_at  TIMESTAMPTZ,
  deleted_at TIMESTAMPTZ,
  revision   BIGINT NOT NULL DEFAULT 1,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (channel_id, seq),
  CONSTRAINT uq_messages_channel_message UNIQUE (channel_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_team
  ON %s (team_id);
`, pgx.Identifier{schema}.Sanitize(), cursors, messages, messages)
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
