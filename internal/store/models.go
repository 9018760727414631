package store

import "time"

type Chat struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Point is a 2-D projection coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Message struct {
	ID        int64     `json:"id"`
	ChatID    string    `json:"chat_id"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Text      string    `json:"message"`
	Sentiment *float64  `json:"sentiment"`
	Cluster   *Point    `json:"cluster,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is one message to be written by StoreMessages.
type Record struct {
	Timestamp time.Time
	Sender    string
	Text      string
	Embedding []float32
	Sentiment *float64
	Cluster   *Point
}

// EmbeddingUpdate replaces the derived data of an existing message.
type EmbeddingUpdate struct {
	Embedding []float32
	Sentiment *float64
	Cluster   *Point
}

// MessageEmbeddingUpdate addresses an EmbeddingUpdate to one message.
type MessageEmbeddingUpdate struct {
	MessageID int64
	EmbeddingUpdate
}

type CoordinateUpdate struct {
	MessageID int64
	Point
}

type SenderCount struct {
	Sender string `json:"sender"`
	Count  int    `json:"count"`
}

type DateRange struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

type ChatStats struct {
	TotalMessages int           `json:"total_messages"`
	SenderCounts  []SenderCount `json:"sender_stats"`
	DateRange     DateRange     `json:"date_range"`
}

type ClusterPoint struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Text      string    `json:"message"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Sentiment *float64  `json:"sentiment"`
}

// EmbeddedMessage is a message paired with its stored embedding.
type EmbeddedMessage struct {
	ID        int64
	Timestamp time.Time
	Sender    string
	Text      string
	Embedding []float32
}

type SearchResult struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Sender     string    `json:"sender"`
	Text       string    `json:"message"`
	Distance   float64   `json:"distance"`
	Similarity float64   `json:"similarity"`
}
