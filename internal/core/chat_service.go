package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"gwi.com/chatvec/internal/errortypes"
	"gwi.com/chatvec/internal/ingest"
	"gwi.com/chatvec/internal/language"
	"gwi.com/chatvec/internal/search"
	"gwi.com/chatvec/internal/store"
)

const DefaultSearchLimit = 10

type ChatService struct {
	store        *store.SQLiteStore
	searcher     search.Searcher
	model        language.Model
	clusterCount int
	logger       *slog.Logger
}

func NewChatService(s *store.SQLiteStore, searcher search.Searcher, model language.Model, clusterCount int, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		store:        s,
		searcher:     searcher,
		model:        model,
		clusterCount: clusterCount,
		logger:       logger,
	}
}

// IngestResult describes a stored chat.
type IngestResult struct {
	ChatID       string      `json:"chat_id"`
	MessageCount int         `json:"message_count"`
	Chat         *store.Chat `json:"chat"`
}

// IngestExport parses an exported chat log and stores it.
func (cs *ChatService) IngestExport(ctx context.Context, chatID, name string, r io.Reader) (*IngestResult, error) {
	lines, err := ingest.Parse(r)
	if err != nil {
		return nil, err
	}
	return cs.IngestChat(ctx, chatID, name, lines)
}

// IngestChat embeds, scores and projects lines and stores them as chatID,
// replacing any previous contents. A missing chat id gets a fresh UUID.
func (cs *ChatService) IngestChat(ctx context.Context, chatID, name string, lines []ingest.Line) (*IngestResult, error) {
	if len(lines) == 0 {
		return nil, errortypes.ValidationError(errors.New("no messages"), "chat export contains no messages")
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		chatID = uuid.NewString()
	}

	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}

	start := time.Now()
	derived, err := cs.analyze(ctx, texts)
	if err != nil {
		return nil, err
	}
	cs.logger.Info("analyzed chat", "chat_id", chatID, "messages", len(lines), "took", time.Since(start))

	records := make([]store.Record, len(lines))
	for i, l := range lines {
		records[i] = store.Record{
			Timestamp: l.Timestamp,
			Sender:    l.Sender,
			Text:      l.Text,
			Embedding: derived.embeddings[i],
			Sentiment: &derived.sentiments[i],
			Cluster:   derived.point(i),
		}
	}

	if _, err := cs.store.StoreChat(ctx, chatID, name, records); err != nil {
		return nil, err
	}
	chat, err := cs.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	cs.logger.Info("stored chat", "chat_id", chatID, "messages", chat.MessageCount)
	return &IngestResult{ChatID: chatID, MessageCount: chat.MessageCount, Chat: chat}, nil
}

// ReprocessChat recomputes embeddings, sentiment and projections for the
// stored messages of chatID and returns how many were updated.
func (cs *ChatService) ReprocessChat(ctx context.Context, chatID string) (int, error) {
	if _, err := cs.store.GetChat(ctx, chatID); err != nil {
		return 0, err
	}
	messages, err := cs.store.GetMessages(ctx, chatID, 0)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	texts := make([]string, len(messages))
	for i, m := range messages {
		texts[i] = m.Text
	}
	derived, err := cs.analyze(ctx, texts)
	if err != nil {
		return 0, err
	}

	updates := make([]store.MessageEmbeddingUpdate, len(messages))
	for i, m := range messages {
		updates[i] = store.MessageEmbeddingUpdate{
			MessageID: m.ID,
			EmbeddingUpdate: store.EmbeddingUpdate{
				Embedding: derived.embeddings[i],
				Sentiment: &derived.sentiments[i],
				Cluster:   derived.point(i),
			},
		}
	}
	if err := cs.store.UpdateMessageEmbeddings(ctx, updates); err != nil {
		return 0, err
	}
	cs.logger.Info("reprocessed chat", "chat_id", chatID, "messages", len(messages))
	return len(messages), nil
}

type analysis struct {
	embeddings  [][]float32
	sentiments  []float64
	projections []language.Projection
}

func (a *analysis) point(i int) *store.Point {
	if i >= len(a.projections) {
		return nil
	}
	return &store.Point{X: a.projections[i].X, Y: a.projections[i].Y}
}

func (cs *ChatService) analyze(ctx context.Context, texts []string) (*analysis, error) {
	embeddings, err := cs.model.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(texts) {
		return nil, errortypes.ExternalError(errors.New("embedding count mismatch"), "language model returned too few embeddings")
	}
	sentiments, err := cs.model.Sentiment(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(sentiments) != len(texts) {
		return nil, errortypes.ExternalError(errors.New("sentiment count mismatch"), "language model returned too few scores")
	}
	projections, err := cs.model.Project(ctx, embeddings, cs.clusterCount)
	if err != nil {
		return nil, err
	}
	if len(projections) != 0 && len(projections) != len(texts) {
		return nil, errortypes.ExternalError(errors.New("projection count mismatch"), "language model returned a partial projection")
	}
	return &analysis{embeddings: embeddings, sentiments: sentiments, projections: projections}, nil
}

// SearchText embeds query and returns the k most similar messages of chatID.
func (cs *ChatService) SearchText(ctx context.Context, chatID, query string, k int) ([]store.SearchResult, error) {
	if strings.TrimSpace(chatID) == "" || strings.TrimSpace(query) == "" {
		return nil, errortypes.ValidationError(errors.New("chat id and query are required"), "invalid search")
	}
	vectors, err := cs.model.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, errortypes.ExternalError(errors.New("no embedding for query"), "language model returned no embedding")
	}
	return cs.searcher.SearchByVector(ctx, chatID, vectors[0], k)
}

// SearchSimilar returns the k messages of chatID most similar to messageID.
func (cs *ChatService) SearchSimilar(ctx context.Context, chatID string, messageID int64, k int) ([]store.SearchResult, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, errortypes.ValidationError(errors.New("chat id is required"), "invalid search")
	}
	return cs.searcher.SearchByMessageID(ctx, chatID, messageID, k)
}

func (cs *ChatService) GetChats(ctx context.Context) ([]store.Chat, error) {
	return cs.store.GetChats(ctx)
}

func (cs *ChatService) GetMessages(ctx context.Context, chatID string, limit int) ([]store.Message, error) {
	return cs.store.GetMessages(ctx, chatID, limit)
}

func (cs *ChatService) GetChatStats(ctx context.Context, chatID string) (*store.ChatStats, error) {
	return cs.store.GetChatStats(ctx, chatID)
}

func (cs *ChatService) GetClusters(ctx context.Context, chatID string) ([]store.ClusterPoint, error) {
	return cs.store.GetClusterCoordinates(ctx, chatID)
}
