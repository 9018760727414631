package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"gwi.com/chatvec/internal/auth"
	"gwi.com/chatvec/internal/core"
	"gwi.com/chatvec/internal/errortypes"
	"gwi.com/chatvec/internal/ingest"
)

type contextKey string

const subjectKey contextKey = "subject"

type APIHandler struct {
	chatService    *core.ChatService
	auth           *auth.Authenticator
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewAPIHandler(cs *core.ChatService, authenticator *auth.Authenticator, maxUploadBytes int64, logger *slog.Logger) *APIHandler {
	if authenticator == nil {
		authenticator = auth.NewAuthenticator("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{
		chatService:    cs,
		auth:           authenticator,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// JWTAuthMiddleware requires a valid bearer token when a secret is
// configured and passes every request through otherwise.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		subject, err := h.auth.ValidateJWT(tokenString)
		if err != nil {
			h.logger.Debug("rejected token", "error", err)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "OK",
		"message": "chat embedding service is running",
	})
}

type IngestRequest struct {
	ChatID   string        `json:"chat_id"`
	Name     string        `json:"name"`
	Messages []ingest.Line `json:"messages"`
}

// IngestHandler stores a chat either from a multipart export upload (field
// "file") or from a JSON body of already parsed messages.
func (h *APIHandler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		res *core.IngestResult
		err error
	)
	switch mediaType {
	case "application/json":
		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "Upload exceeds the size limit", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		res, err = h.chatService.IngestChat(r.Context(), req.ChatID, req.Name, req.Messages)
	case "multipart/form-data":
		file, _, ferr := r.FormFile("file")
		if ferr != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(ferr, &tooLarge) {
				http.Error(w, "Upload exceeds the size limit", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "A chat export must be uploaded in the \"file\" field", http.StatusBadRequest)
			return
		}
		defer file.Close()
		res, err = h.chatService.IngestExport(r.Context(), r.FormValue("chat_id"), r.FormValue("name"), file)
	default:
		http.Error(w, "Content-Type must be multipart/form-data or application/json", http.StatusUnsupportedMediaType)
		return
	}
	if err != nil {
		h.writeError(w, err, "Failed to ingest chat")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chatService.GetChats(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to list chats")
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *APIHandler) GetMessagesHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	messages, err := h.chatService.GetMessages(r.Context(), chatID, limit)
	if err != nil {
		h.writeError(w, err, "Failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *APIHandler) ChatStatsHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	stats, err := h.chatService.GetChatStats(r.Context(), chatID)
	if err != nil {
		h.writeError(w, err, "Failed to get chat stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *APIHandler) ClustersHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	points, err := h.chatService.GetClusters(r.Context(), chatID)
	if err != nil {
		h.writeError(w, err, "Failed to get clusters")
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *APIHandler) ReprocessHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	n, err := h.chatService.ReprocessChat(r.Context(), chatID)
	if err != nil {
		h.writeError(w, err, "Failed to process embeddings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"processed_count": n,
	})
}

type SearchRequest struct {
	ChatID    string `json:"chat_id"`
	Query     string `json:"query"`
	MessageID *int64 `json:"message_id"`
	Limit     int    `json:"limit"`
}

func (h *APIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ChatID == "" {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}
	if req.Query == "" && req.MessageID == nil {
		http.Error(w, "Either query or message_id is required", http.StatusBadRequest)
		return
	}
	if req.Limit <= 0 {
		req.Limit = core.DefaultSearchLimit
	}

	var err error
	var results any
	if req.MessageID != nil {
		results, err = h.chatService.SearchSimilar(r.Context(), req.ChatID, *req.MessageID, req.Limit)
	} else {
		results, err = h.chatService.SearchText(r.Context(), req.ChatID, req.Query, req.Limit)
	}
	if err != nil {
		h.writeError(w, err, "Search failed")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// writeError maps the error type onto an HTTP status. Client errors carry
// their own message, everything else gets fallback.
func (h *APIHandler) writeError(w http.ResponseWriter, err error, fallback string) {
	status := http.StatusInternalServerError
	switch errortypes.TypeOf(err) {
	case errortypes.ErrorTypeValidation:
		status = http.StatusBadRequest
	case errortypes.ErrorTypeNotFound:
		status = http.StatusNotFound
	case errortypes.ErrorTypeExternal:
		status = http.StatusBadGateway
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
	}

	msg := fallback
	if status < http.StatusInternalServerError {
		var appErr *errortypes.AppError
		if errors.As(err, &appErr) && appErr.Message != "" {
			msg = appErr.Message
		} else {
			msg = err.Error()
		}
	}
	if status >= http.StatusInternalServerError {
		errortypes.LogError(h.logger, err)
	}
	http.Error(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
