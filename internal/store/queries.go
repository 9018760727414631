package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gwi.com/chatvec/internal/errortypes"
	"gwi.com/chatvec/internal/vector"
)

const messageColumns = "id, chat_id, timestamp, sender, message, sentiment, cluster_x, cluster_y, created_at"

// GetChats lists every chat, newest first.
func (s *SQLiteStore) GetChats(ctx context.Context) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, message_count, created_at FROM chats ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, errortypes.StoreError(err, "failed to query chats")
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *chat)
	}
	if err := rows.Err(); err != nil {
		return nil, errortypes.StoreError(err, "failed to iterate chats")
	}
	return chats, nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, message_count, created_at FROM chats WHERE id = ?", chatID)
	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errortypes.NotFoundError(fmt.Errorf("chat %q", chatID), "chat not found")
	}
	return chat, err
}

// GetMessages returns the messages of chatID in chronological order. A
// limit of zero or less returns all of them.
func (s *SQLiteStore) GetMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE chat_id = ? ORDER BY timestamp ASC, id ASC"
	args := []any{chatID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errortypes.StoreError(err, "failed to query messages").WithField("chat_id", chatID)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errortypes.StoreError(err, "failed to iterate messages").WithField("chat_id", chatID)
	}
	return messages, nil
}

// GetChatStats aggregates message counts per sender and the covered time
// range. Senders with equal counts keep the order in which they first
// appeared in the chat.
func (s *SQLiteStore) GetChatStats(ctx context.Context, chatID string) (*ChatStats, error) {
	// both queries read the same snapshot
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, errortypes.StoreError(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
        SELECT sender, COUNT(*) AS n
        FROM messages
        WHERE chat_id = ?
        GROUP BY sender
        ORDER BY n DESC, MIN(id) ASC`, chatID)
	if err != nil {
		return nil, errortypes.StoreError(err, "failed to query sender counts").WithField("chat_id", chatID)
	}
	defer rows.Close()

	stats := &ChatStats{SenderCounts: []SenderCount{}}
	for rows.Next() {
		var sc SenderCount
		if err := rows.Scan(&sc.Sender, &sc.Count); err != nil {
			return nil, errortypes.StoreError(err, "failed to scan sender count")
		}
		stats.SenderCounts = append(stats.SenderCounts, sc)
		stats.TotalMessages += sc.Count
	}
	if err := rows.Err(); err != nil {
		return nil, errortypes.StoreError(err, "failed to iterate sender counts")
	}
	rows.Close()

	var first, last sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT MIN(timestamp), MAX(timestamp) FROM messages WHERE chat_id = ?", chatID).Scan(&first, &last)
	if err != nil {
		return nil, errortypes.StoreError(err, "failed to query date range").WithField("chat_id", chatID)
	}
	if first.Valid && last.Valid {
		start, err := parseTimestamp(first.String)
		if err != nil {
			return nil, err
		}
		end, err := parseTimestamp(last.String)
		if err != nil {
			return nil, err
		}
		stats.DateRange = DateRange{Start: &start, End: &end}
	}
	return stats, nil
}

// GetClusterCoordinates returns the messages of chatID that have a
// projection, in chronological order.
func (s *SQLiteStore) GetClusterCoordinates(ctx context.Context, chatID string) ([]ClusterPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, timestamp, sender, message, cluster_x, cluster_y, sentiment
        FROM messages
        WHERE chat_id = ? AND cluster_x IS NOT NULL AND cluster_y IS NOT NULL
        ORDER BY timestamp ASC, id ASC`, chatID)
	if err != nil {
		return nil, errortypes.StoreError(err, "failed to query cluster coordinates").WithField("chat_id", chatID)
	}
	defer rows.Close()

	points := []ClusterPoint{}
	for rows.Next() {
		var (
			p         ClusterPoint
			ts        string
			sentiment sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &ts, &p.Sender, &p.Text, &p.X, &p.Y, &sentiment); err != nil {
			return nil, errortypes.StoreError(err, "failed to scan cluster point")
		}
		if p.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
		p.Sentiment = floatPtr(sentiment)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errortypes.StoreError(err, "failed to iterate cluster coordinates")
	}
	return points, nil
}

// GetEmbedding returns the stored embedding of messageID.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, messageID int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM message_embeddings WHERE message_id = ?", messageID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errortypes.NotFoundError(fmt.Errorf("message %d", messageID), "embedding not found")
	}
	if err != nil {
		return nil, errortypes.StoreError(err, "failed to query embedding").WithField("message_id", messageID)
	}
	return vector.Decode(blob)
}

// ChatEmbeddings calls fn for every message of chatID that has an
// embedding, in id order. Iteration stops at the first error from fn.
func (s *SQLiteStore) ChatEmbeddings(ctx context.Context, chatID string, fn func(EmbeddedMessage) error) error {
	rows, err := s.db.QueryContext(ctx, `
        SELECT m.id, m.timestamp, m.sender, m.message, e.embedding
        FROM messages m
        JOIN message_embeddings e ON e.message_id = m.id
        WHERE m.chat_id = ?
        ORDER BY m.id`, chatID)
	if err != nil {
		return errortypes.StoreError(err, "failed to query embeddings").WithField("chat_id", chatID)
	}
	defer rows.Close()

	for rows.Next() {
		em, err := scanEmbeddedMessage(rows)
		if err != nil {
			return err
		}
		if err := fn(em); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errortypes.StoreError(err, "failed to iterate embeddings").WithField("chat_id", chatID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChat(row scanner) (*Chat, error) {
	var (
		chat    Chat
		created string
	)
	if err := row.Scan(&chat.ID, &chat.Name, &chat.MessageCount, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errortypes.StoreError(err, "failed to scan chat")
	}
	t, err := time.Parse(createdAtLayout, created)
	if err != nil {
		return nil, errortypes.FormatError(err, "invalid chat created_at")
	}
	chat.CreatedAt = t
	return &chat, nil
}

func scanMessage(row scanner) (*Message, error) {
	var (
		msg               Message
		ts, created       string
		sentiment, cx, cy sql.NullFloat64
	)
	err := row.Scan(&msg.ID, &msg.ChatID, &ts, &msg.Sender, &msg.Text, &sentiment, &cx, &cy, &created)
	if err != nil {
		return nil, errortypes.StoreError(err, "failed to scan message")
	}
	if msg.Timestamp, err = parseTimestamp(ts); err != nil {
		return nil, err
	}
	if msg.CreatedAt, err = time.Parse(createdAtLayout, created); err != nil {
		return nil, errortypes.FormatError(err, "invalid message created_at")
	}
	msg.Sentiment = floatPtr(sentiment)
	if cx.Valid && cy.Valid {
		msg.Cluster = &Point{X: cx.Float64, Y: cy.Float64}
	}
	return &msg, nil
}

func scanEmbeddedMessage(row scanner) (EmbeddedMessage, error) {
	var (
		em   EmbeddedMessage
		ts   string
		blob []byte
	)
	if err := row.Scan(&em.ID, &ts, &em.Sender, &em.Text, &blob); err != nil {
		return em, errortypes.StoreError(err, "failed to scan embedding row")
	}
	var err error
	if em.Timestamp, err = parseTimestamp(ts); err != nil {
		return em, err
	}
	if em.Embedding, err = vector.Decode(blob); err != nil {
		return em, err
	}
	return em, nil
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, errortypes.FormatError(err, "invalid message timestamp")
	}
	return t, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
