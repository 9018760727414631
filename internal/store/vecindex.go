package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gwi.com/chatvec/internal/errortypes"
	"gwi.com/chatvec/internal/vector"
)

// MaxKNN is the largest k the vec0 module accepts.
const MaxKNN = 4096

const (
	insertVecSQL     = "INSERT INTO vec_messages (message_id, chat_id, embedding) VALUES (?, ?, ?)"
	deleteChatVecSQL = "DELETE FROM vec_messages WHERE message_id IN (SELECT id FROM messages WHERE chat_id = ?)"
)

// ErrIndexUnavailable is returned by NearestByIndex when sqlite-vec is not
// loaded.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// initVectorIndex creates the vec0 table partitioned by chat and rebuilds it
// when it is out of step with message_embeddings, which happens after the
// database was written through a driver without sqlite-vec.
func (s *SQLiteStore) initVectorIndex(ctx context.Context) error {
	ddl := fmt.Sprintf(`
    CREATE VIRTUAL TABLE IF NOT EXISTS vec_messages USING vec0(
        message_id INTEGER PRIMARY KEY,
        chat_id TEXT PARTITION KEY,
        embedding FLOAT[%d] distance_metric=cosine
    )`, s.dim)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return errortypes.StoreError(err, "failed to create vector index")
	}

	var indexed, stored int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vec_messages").Scan(&indexed); err != nil {
		return errortypes.StoreError(err, "failed to count vector index rows")
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM message_embeddings WHERE zero_norm = 0").Scan(&stored); err != nil {
		return errortypes.StoreError(err, "failed to count embeddings")
	}
	if indexed == stored {
		return nil
	}
	return s.RebuildVectorIndex(ctx)
}

// RebuildVectorIndex repopulates vec_messages from the non-zero rows of
// message_embeddings.
func (s *SQLiteStore) RebuildVectorIndex(ctx context.Context) error {
	if !s.vec {
		return ErrIndexUnavailable
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errortypes.StoreError(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM vec_messages"); err != nil {
		return errortypes.StoreError(err, "failed to clear vector index")
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO vec_messages (message_id, chat_id, embedding)
        SELECT e.message_id, m.chat_id, e.embedding
        FROM message_embeddings e
        JOIN messages m ON m.id = e.message_id
        WHERE e.zero_norm = 0`)
	if err != nil {
		return errortypes.StoreError(err, "failed to backfill vector index")
	}
	if err := tx.Commit(); err != nil {
		return errortypes.StoreError(err, "failed to commit vector index")
	}
	return nil
}

func (s *SQLiteStore) replaceVecRow(ctx context.Context, tx *sql.Tx, messageID int64, chatID string, blob []byte, indexed bool) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM vec_messages WHERE message_id = ?", messageID); err != nil {
		return errortypes.StoreError(err, "failed to remove indexed embedding").WithField("message_id", messageID)
	}
	if !indexed {
		return nil
	}
	if _, err := tx.ExecContext(ctx, insertVecSQL, messageID, chatID, blob); err != nil {
		return errortypes.StoreError(err, "failed to index embedding").WithField("message_id", messageID)
	}
	return nil
}

// NearestByIndex returns up to k messages of chatID closest to query by
// cosine distance according to the vec0 index, nearest first.
func (s *SQLiteStore) NearestByIndex(ctx context.Context, chatID string, query []float32, k int) ([]EmbeddedMessage, error) {
	if !s.vec {
		return nil, ErrIndexUnavailable
	}
	if k <= 0 {
		return []EmbeddedMessage{}, nil
	}
	if k > MaxKNN {
		k = MaxKNN
	}
	if err := s.validateEmbedding(query); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
        WITH knn AS (
            SELECT message_id, distance
            FROM vec_messages
            WHERE embedding MATCH ? AND k = ? AND chat_id = ?
        )
        SELECT m.id, m.timestamp, m.sender, m.message, e.embedding
        FROM knn
        JOIN messages m ON m.id = knn.message_id
        JOIN message_embeddings e ON e.message_id = knn.message_id
        ORDER BY knn.distance, m.id`,
		vector.Encode(query), k, chatID)
	if err != nil {
		return nil, errortypes.StoreError(err, "vector index query failed").WithField("chat_id", chatID)
	}
	defer rows.Close()

	out := []EmbeddedMessage{}
	for rows.Next() {
		em, err := scanEmbeddedMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, em)
	}
	if err := rows.Err(); err != nil {
		return nil, errortypes.StoreError(err, "vector index query failed").WithField("chat_id", chatID)
	}
	return out, nil
}

// ZeroNormEmbeddings returns the messages of chatID whose embedding is the
// zero vector, in id order. They are kept out of vec_messages.
func (s *SQLiteStore) ZeroNormEmbeddings(ctx context.Context, chatID string) ([]EmbeddedMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT m.id, m.timestamp, m.sender, m.message, e.embedding
        FROM messages m
        JOIN message_embeddings e ON e.message_id = m.id
        WHERE m.chat_id = ? AND e.zero_norm = 1
        ORDER BY m.id`, chatID)
	if err != nil {
		return nil, errortypes.StoreError(err, "failed to query zero embeddings").WithField("chat_id", chatID)
	}
	defer rows.Close()

	out := []EmbeddedMessage{}
	for rows.Next() {
		em, err := scanEmbeddedMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, em)
	}
	if err := rows.Err(); err != nil {
		return nil, errortypes.StoreError(err, "failed to iterate zero embeddings").WithField("chat_id", chatID)
	}
	return out, nil
}
