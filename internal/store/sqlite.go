package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gwi.com/chatvec/internal/engine"
	"gwi.com/chatvec/internal/errortypes"
	"gwi.com/chatvec/internal/vector"
)

const (
	timestampLayout = "2006-01-02T15:04:05"
	createdAtLayout = "2006-01-02T15:04:05.000000Z"

	DefaultDimension = 768
)

// Options configures Open.
type Options struct {
	Driver    string
	Path      string
	Dimension int
}

type SQLiteStore struct {
	db  *sql.DB
	dim int
	vec bool
	now func() time.Time
}

// Open opens the database described by opts and initializes the schema.
func Open(ctx context.Context, opts Options) (*SQLiteStore, error) {
	db, err := engine.Open(ctx, opts.Driver, opts.Path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStore(ctx, db, opts.Dimension)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database. The vec0 index is maintained when
// the sqlite-vec extension is loaded on db.
func NewSQLiteStore(ctx context.Context, db *sql.DB, dimension int) (*SQLiteStore, error) {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	s := &SQLiteStore{db: db, dim: dimension, now: time.Now}
	if _, err := engine.VecVersion(ctx, db); err == nil {
		s.vec = true
	}
	if err := s.InitSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Dimension is the embedding length every stored vector must have.
func (s *SQLiteStore) Dimension() int { return s.dim }

// HasVectorIndex reports whether the vec0 index is maintained.
func (s *SQLiteStore) HasVectorIndex() bool { return s.vec }

// InitSchema creates the tables and indexes if they do not exist. It is safe
// to call repeatedly.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS store_meta (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        message_count INTEGER NOT NULL DEFAULT 0,
        created_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        chat_id TEXT NOT NULL,
        timestamp TEXT NOT NULL,
        sender TEXT NOT NULL,
        message TEXT NOT NULL,
        sentiment REAL CHECK (sentiment IS NULL OR (sentiment >= -1 AND sentiment <= 1)),
        cluster_x REAL,
        cluster_y REAL,
        created_at TEXT NOT NULL,
        CHECK ((cluster_x IS NULL) = (cluster_y IS NULL)),
        FOREIGN KEY (chat_id) REFERENCES chats (id)
    );

    CREATE TABLE IF NOT EXISTS message_embeddings (
        message_id INTEGER PRIMARY KEY,
        embedding BLOB NOT NULL,
        zero_norm INTEGER NOT NULL DEFAULT 0,
        FOREIGN KEY (message_id) REFERENCES messages (id)
    );

    CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages (chat_id);
    CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages (timestamp);
    CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages (sender);
    `
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errortypes.StoreError(err, "failed to initialize schema")
	}
	if err := s.checkDimension(ctx); err != nil {
		return err
	}
	if s.vec {
		return s.initVectorIndex(ctx)
	}
	return nil
}

// checkDimension records the embedding dimension on first use and rejects
// reopening the database with a different one.
func (s *SQLiteStore) checkDimension(ctx context.Context) error {
	want := strconv.Itoa(s.dim)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO store_meta (key, value) VALUES ('embedding_dimension', ?) ON CONFLICT(key) DO NOTHING", want)
	if err != nil {
		return errortypes.StoreError(err, "failed to record embedding dimension")
	}
	var got string
	err = s.db.QueryRowContext(ctx, "SELECT value FROM store_meta WHERE key = 'embedding_dimension'").Scan(&got)
	if err != nil {
		return errortypes.StoreError(err, "failed to read embedding dimension")
	}
	if got != want {
		return errortypes.ConfigError(
			fmt.Errorf("database uses dimension %s, configured %s", got, want),
			"embedding dimension mismatch",
		)
	}
	return nil
}

// StoreMessages replaces the contents of chatID with records in a single
// transaction and returns the assigned message ids in record order. The chat
// is named "Chat <id>".
func (s *SQLiteStore) StoreMessages(ctx context.Context, chatID string, records []Record) ([]int64, error) {
	return s.StoreChat(ctx, chatID, "", records)
}

// StoreChat is StoreMessages with an explicit display name. An empty name
// falls back to "Chat <id>".
func (s *SQLiteStore) StoreChat(ctx context.Context, chatID, name string, records []Record) ([]int64, error) {
	if err := s.validateRecords(chatID, records); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = "Chat " + chatID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errortypes.StoreError(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.clearChat(ctx, tx, chatID); err != nil {
		return nil, err
	}

	now := s.now().UTC().Format(createdAtLayout)
	_, err = tx.ExecContext(ctx, `
        INSERT INTO chats (id, name, message_count, created_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            message_count = excluded.message_count,
            created_at = excluded.created_at`,
		chatID, name, len(records), now)
	if err != nil {
		return nil, errortypes.StoreError(err, "failed to upsert chat").WithField("chat_id", chatID)
	}

	msgStmt, err := tx.PrepareContext(ctx, `
        INSERT INTO messages (chat_id, timestamp, sender, message, sentiment, cluster_x, cluster_y, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, errortypes.StoreError(err, "failed to prepare message insert")
	}
	defer msgStmt.Close()

	embStmt, err := tx.PrepareContext(ctx, "INSERT INTO message_embeddings (message_id, embedding, zero_norm) VALUES (?, ?, ?)")
	if err != nil {
		return nil, errortypes.StoreError(err, "failed to prepare embedding insert")
	}
	defer embStmt.Close()

	var vecStmt *sql.Stmt
	if s.vec {
		vecStmt, err = tx.PrepareContext(ctx, insertVecSQL)
		if err != nil {
			return nil, errortypes.StoreError(err, "failed to prepare vector index insert")
		}
		defer vecStmt.Close()
	}

	ids := make([]int64, 0, len(records))
	for i, rec := range records {
		cx, cy := clusterArgs(rec.Cluster)
		res, err := msgStmt.ExecContext(ctx,
			chatID, rec.Timestamp.UTC().Format(timestampLayout), rec.Sender, rec.Text,
			nullFloat(rec.Sentiment), cx, cy, now)
		if err != nil {
			return nil, errortypes.StoreError(err, "failed to insert message").WithField("index", i)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, errortypes.StoreError(err, "failed to read message id").WithField("index", i)
		}

		blob := vector.Encode(rec.Embedding)
		zero := isZeroNorm(rec.Embedding)
		if _, err := embStmt.ExecContext(ctx, id, blob, zero); err != nil {
			return nil, errortypes.StoreError(err, "failed to insert embedding").WithField("index", i)
		}
		// cosine distance is undefined for zero vectors, they stay out of the index
		if vecStmt != nil && !zero {
			if _, err := vecStmt.ExecContext(ctx, id, chatID, blob); err != nil {
				return nil, errortypes.StoreError(err, "failed to index embedding").WithField("index", i)
			}
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, errortypes.StoreError(err, "failed to commit messages").WithField("chat_id", chatID)
	}
	return ids, nil
}

func (s *SQLiteStore) clearChat(ctx context.Context, tx *sql.Tx, chatID string) error {
	stmts := []string{
		"DELETE FROM message_embeddings WHERE message_id IN (SELECT id FROM messages WHERE chat_id = ?)",
		"DELETE FROM messages WHERE chat_id = ?",
	}
	if s.vec {
		stmts = append([]string{deleteChatVecSQL}, stmts...)
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, chatID); err != nil {
			return errortypes.StoreError(err, "failed to clear previous chat contents").WithField("chat_id", chatID)
		}
	}
	return nil
}

func (s *SQLiteStore) validateRecords(chatID string, records []Record) error {
	if strings.TrimSpace(chatID) == "" {
		return errortypes.ValidationError(errors.New("chat id is empty"), "invalid chat")
	}
	for i, rec := range records {
		if err := s.validateEmbedding(rec.Embedding); err != nil {
			return err.WithField("index", i)
		}
		if err := validateSentiment(rec.Sentiment); err != nil {
			return err.WithField("index", i)
		}
	}
	return nil
}

func (s *SQLiteStore) validateEmbedding(v []float32) *errortypes.AppError {
	if len(v) != s.dim {
		return errortypes.ValidationError(
			fmt.Errorf("embedding has %d dimensions, want %d", len(v), s.dim),
			"invalid embedding",
		)
	}
	return nil
}

func validateSentiment(v *float64) *errortypes.AppError {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || *v < -1 || *v > 1 {
		return errortypes.ValidationError(
			fmt.Errorf("sentiment %v outside [-1, 1]", *v),
			"invalid sentiment",
		)
	}
	return nil
}

// UpdateClusterCoordinates sets the projection of several messages of
// chatID at once. A message that is not part of the chat fails the whole
// call.
func (s *SQLiteStore) UpdateClusterCoordinates(ctx context.Context, chatID string, updates []CoordinateUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errortypes.StoreError(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "UPDATE messages SET cluster_x = ?, cluster_y = ? WHERE id = ? AND chat_id = ?")
	if err != nil {
		return errortypes.StoreError(err, "failed to prepare coordinate update")
	}
	defer stmt.Close()

	for _, u := range updates {
		res, err := stmt.ExecContext(ctx, u.X, u.Y, u.MessageID, chatID)
		if err != nil {
			return errortypes.StoreError(err, "failed to update coordinates").WithField("message_id", u.MessageID)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errortypes.NotFoundError(
				fmt.Errorf("message %d not in chat %s", u.MessageID, chatID),
				"message not found",
			)
		}
	}

	if err := tx.Commit(); err != nil {
		return errortypes.StoreError(err, "failed to commit coordinates")
	}
	return nil
}

// UpdateMessageEmbedding overwrites the embedding, sentiment and projection
// of an existing message.
func (s *SQLiteStore) UpdateMessageEmbedding(ctx context.Context, messageID int64, u EmbeddingUpdate) error {
	return s.UpdateMessageEmbeddings(ctx, []MessageEmbeddingUpdate{{MessageID: messageID, EmbeddingUpdate: u}})
}

// UpdateMessageEmbeddings applies several embedding updates in one
// transaction. Any invalid update or unknown message leaves every message
// unchanged.
func (s *SQLiteStore) UpdateMessageEmbeddings(ctx context.Context, updates []MessageEmbeddingUpdate) error {
	for _, u := range updates {
		if err := s.validateEmbedding(u.Embedding); err != nil {
			return err.WithField("message_id", u.MessageID)
		}
		if err := validateSentiment(u.Sentiment); err != nil {
			return err.WithField("message_id", u.MessageID)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errortypes.StoreError(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range updates {
		if err := s.updateEmbedding(ctx, tx, u); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errortypes.StoreError(err, "failed to commit embedding update")
	}
	return nil
}

func (s *SQLiteStore) updateEmbedding(ctx context.Context, tx *sql.Tx, u MessageEmbeddingUpdate) error {
	var chatID string
	err := tx.QueryRowContext(ctx, "SELECT chat_id FROM messages WHERE id = ?", u.MessageID).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return errortypes.NotFoundError(fmt.Errorf("message %d", u.MessageID), "message not found")
	}
	if err != nil {
		return errortypes.StoreError(err, "failed to look up message").WithField("message_id", u.MessageID)
	}

	cx, cy := clusterArgs(u.Cluster)
	_, err = tx.ExecContext(ctx, "UPDATE messages SET sentiment = ?, cluster_x = ?, cluster_y = ? WHERE id = ?",
		nullFloat(u.Sentiment), cx, cy, u.MessageID)
	if err != nil {
		return errortypes.StoreError(err, "failed to update message").WithField("message_id", u.MessageID)
	}

	blob := vector.Encode(u.Embedding)
	zero := isZeroNorm(u.Embedding)
	_, err = tx.ExecContext(ctx, `
        INSERT INTO message_embeddings (message_id, embedding, zero_norm) VALUES (?, ?, ?)
        ON CONFLICT(message_id) DO UPDATE SET embedding = excluded.embedding, zero_norm = excluded.zero_norm`,
		u.MessageID, blob, zero)
	if err != nil {
		return errortypes.StoreError(err, "failed to upsert embedding").WithField("message_id", u.MessageID)
	}
	if s.vec {
		return s.replaceVecRow(ctx, tx, u.MessageID, chatID, blob, !zero)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func clusterArgs(p *Point) (sql.NullFloat64, sql.NullFloat64) {
	if p == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: p.X, Valid: true}, sql.NullFloat64{Float64: p.Y, Valid: true}
}

func isZeroNorm(v []float32) bool {
	return vector.Norm(v) == 0
}
