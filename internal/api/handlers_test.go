package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/chatvec/internal/auth"
	"gwi.com/chatvec/internal/core"
	"gwi.com/chatvec/internal/engine"
	"gwi.com/chatvec/internal/ingest"
	"gwi.com/chatvec/internal/language"
	"gwi.com/chatvec/internal/search"
	"gwi.com/chatvec/internal/store"
)

const testDim = 256

const ingestBody = `{
  "chat_id": "trip",
  "name": "Road trip",
  "messages": [
    {"timestamp": "2024-06-01T18:00:00Z", "sender": "Ana", "message": "who books the hotel"},
    {"timestamp": "2024-06-01T18:01:00Z", "sender": "Ben", "message": "I can book the hotel tonight"},
    {"timestamp": "2024-06-01T18:02:00Z", "sender": "Ana", "message": "great, thanks"}
  ]
}`

func newTestRouter(t *testing.T, secret string) http.Handler {
	t.Helper()
	return newTestRouterWithLimit(t, secret, 1<<20)
}

func newTestRouterWithLimit(t *testing.T, secret string, maxUploadBytes int64) http.Handler {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{
		Driver:    engine.DriverPure,
		Path:      filepath.Join(t.TempDir(), "api.db"),
		Dimension: testDim,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	model := language.NewService(language.NewHashEmbedder(testDim))
	cs := core.NewChatService(st, search.NewBruteForce(st), model, 2, nil)
	h := NewAPIHandler(cs, auth.NewAuthenticator(secret), maxUploadBytes, nil)
	return NewRouter(h, []string{"*"})
}

func do(t *testing.T, router http.Handler, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, "")
	rr := do(t, router, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["status"])
}

func TestIngestJSONAndRead(t *testing.T) {
	router := newTestRouter(t, "")

	rr := do(t, router, http.MethodPost, "/api/messages", "application/json", []byte(ingestBody))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var res core.IngestResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "trip", res.ChatID)
	assert.Equal(t, 3, res.MessageCount)

	rr = do(t, router, http.MethodGet, "/api/messages/chats", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var chats []store.Chat
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, "Road trip", chats[0].Name)

	rr = do(t, router, http.MethodGet, "/api/messages/trip?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var messages []store.Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "who books the hotel", messages[0].Text)

	rr = do(t, router, http.MethodGet, "/api/messages/trip?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodGet, "/api/messages/trip/stats", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats store.ChatStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.TotalMessages)
	assert.Equal(t, "Ana", stats.SenderCounts[0].Sender)

	rr = do(t, router, http.MethodGet, "/api/embeddings/trip/clusters", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var points []store.ClusterPoint
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &points))
	assert.Len(t, points, 3)
}

func TestIngestMultipart(t *testing.T) {
	router := newTestRouter(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("chat_id", "upload"))
	fw, err := mw.CreateFormFile("file", "export.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("[01/06/2024, 18:00:00] Ana: hello there\n[01/06/2024, 18:01:00] Ben: hello Ana\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rr := do(t, router, http.MethodPost, "/api/messages", mw.FormDataContentType(), buf.Bytes())
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var res core.IngestResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "upload", res.ChatID)
	assert.Equal(t, 2, res.MessageCount)
}

func TestIngestJSONZonelessTimestamps(t *testing.T) {
	router := newTestRouter(t, "")

	body := `{"chat_id": "plain", "messages": [
		{"timestamp": "2024-06-01T18:00:00", "sender": "Ana", "message": "no zone here"},
		{"timestamp": "2024-06-01T18:05:00", "sender": "Ben", "message": "none here either"}
	]}`
	rr := do(t, router, http.MethodPost, "/api/messages", "application/json", []byte(body))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, router, http.MethodGet, "/api/messages/plain", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var messages []store.Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
	assert.True(t, time.Date(2024, time.June, 1, 18, 0, 0, 0, time.UTC).Equal(messages[0].Timestamp))

	rr = do(t, router, http.MethodPost, "/api/messages", "application/json",
		[]byte(`{"chat_id": "bad", "messages": [{"timestamp": "soon", "sender": "Ana", "message": "x"}]}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestIngestOversizeUpload(t *testing.T) {
	router := newTestRouterWithLimit(t, "", 512)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "export.txt")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte("[01/06/2024, 18:00:00] Ana: hello there\n"), 32))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rr := do(t, router, http.MethodPost, "/api/messages", mw.FormDataContentType(), buf.Bytes())
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code, rr.Body.String())

	req := IngestRequest{ChatID: "big"}
	for i := 0; i < 32; i++ {
		req.Messages = append(req.Messages, ingest.Line{
			Timestamp: time.Date(2024, time.June, 1, 18, i, 0, 0, time.UTC),
			Sender:    "Ana",
			Text:      "hello there",
		})
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	rr = do(t, router, http.MethodPost, "/api/messages", "application/json", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code, rr.Body.String())
}

func TestIngestRejects(t *testing.T) {
	router := newTestRouter(t, "")

	rr := do(t, router, http.MethodPost, "/api/messages", "text/plain", []byte("hi"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/messages", "application/json", []byte(`{"chat_id":"x","messages":[]}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/messages", "application/json", []byte(`{`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSearch(t *testing.T) {
	router := newTestRouter(t, "")
	rr := do(t, router, http.MethodPost, "/api/messages", "application/json", []byte(ingestBody))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/embeddings/search", "application/json",
		[]byte(`{"chat_id":"trip","query":"book the hotel","limit":1}`))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var results []store.SearchResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "I can book the hotel tonight", results[0].Text)

	rr = do(t, router, http.MethodPost, "/api/embeddings/search", "application/json",
		[]byte(`{"chat_id":"trip","message_id":1}`))
	require.Equal(t, http.StatusOK, rr.Code)
	results = nil
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &results))
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, int64(1), r.ID)
	}

	rr = do(t, router, http.MethodPost, "/api/embeddings/search", "application/json", []byte(`{"query":"hotel"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/embeddings/search", "application/json", []byte(`{"chat_id":"trip"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReprocess(t *testing.T) {
	router := newTestRouter(t, "")
	rr := do(t, router, http.MethodPost, "/api/messages", "application/json", []byte(ingestBody))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/embeddings/trip/process", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Success        bool `json:"success"`
		ProcessedCount int  `json:"processed_count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 3, body.ProcessedCount)

	rr = do(t, router, http.MethodPost, "/api/embeddings/missing/process", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestJWTAuth(t *testing.T) {
	router := newTestRouter(t, "s3cret")

	rr := do(t, router, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, router, http.MethodGet, "/api/messages/chats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := auth.NewAuthenticator("s3cret").GenerateJWT("analyst")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/messages/chats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/messages/chats", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
