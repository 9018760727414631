package language

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"gwi.com/chatvec/internal/errortypes"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures the OpenAI-compatible embeddings client. Ollama
// and other servers exposing /embeddings work as well.
type OpenAIConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	Timeout   time.Duration
	BatchSize int
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dim        int
	batchSize  int
	client     *http.Client
	maxRetries int
}

func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	return &OpenAIEmbedder{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dim:        cfg.Dimension,
		batchSize:  cfg.BatchSize,
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: 5,
	}
}

func (c *OpenAIEmbedder) Dimension() int { return c.dim }

func (c *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, errortypes.ExternalError(err, "openai embedding request failed").WithField("offset", start)
		}
		out = append(out, vectors...)
	}
	if err := checkDimensions(out, c.dim); err != nil {
		return nil, err
	}
	return out, nil
}

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	// Ollama native shape
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: texts, Model: c.model, Dimensions: c.dim})
	if err != nil {
		return nil, err
	}
	url := c.baseURL + "/embeddings"

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if err := sleep(ctx, retryDelay(attempt)); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		payload, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if attempt < c.maxRetries {
				wait := retryDelay(attempt)
				if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
					wait = time.Duration(secs) * time.Second
				}
				if err := sleep(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("embeddings endpoint returned %s", resp.Status)
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("embeddings endpoint returned %s", resp.Status)
		}
		if readErr != nil {
			return nil, readErr
		}
		return decodeEmbeddings(payload, len(texts))
	}
}

func decodeEmbeddings(payload []byte, n int) ([][]float32, error) {
	var out embeddingResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	if len(out.Data) > 0 {
		sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
		vectors := make([][]float32, len(out.Data))
		for i, d := range out.Data {
			vectors[i] = d.Embedding
		}
		out.Embeddings = vectors
	}
	if len(out.Embeddings) != n {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(out.Embeddings), n)
	}
	for _, v := range out.Embeddings {
		if len(v) == 0 {
			return nil, errors.New("empty embedding returned")
		}
	}
	return out.Embeddings, nil
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
