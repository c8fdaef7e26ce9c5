package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cinder/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/cinder/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/cinder/backend/internal/stats"
	"github.com/MarcoPoloResearchLab/cinder/backend/internal/token"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDContextKey = "cinder_request_id"
	requestIDHeader     = "X-Request-ID"

	statsRecordTimeout = 5 * time.Second
)

var (
	errMissingNotesService = errors.New("notes service dependency required")
	errMissingChatService  = errors.New("chat service dependency required")
	errMissingStatsService = errors.New("stats service dependency required")
)

// Dependencies wires the stores into the HTTP front end.
type Dependencies struct {
	Notes  *notes.Service
	Chats  *chat.Service
	Stats  *stats.Service
	Tokens token.Provider
	Logger *zap.Logger
}

// NewHTTPHandler builds the API router. The front end owns path parsing, CORS
// and status mapping; every lifecycle rule lives in the stores it calls.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Notes == nil {
		return nil, errMissingNotesService
	}
	if deps.Chats == nil {
		return nil, errMissingChatService
	}
	if deps.Stats == nil {
		return nil, errMissingStatsService
	}

	tokens := deps.Tokens
	if tokens == nil {
		tokens = token.NewRandomProvider()
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger(logger))

	handler := &httpHandler{
		notes:  deps.Notes,
		chats:  deps.Chats,
		stats:  deps.Stats,
		tokens: tokens,
		logger: logger,
	}

	api := router.Group("/api")
	api.POST("/note", handler.handleNoteCreate)
	api.GET("/note/:id", handler.handleNoteRetrieve)
	api.POST("/chat", handler.handleChatCreate)
	api.GET("/chat/:id", handler.handleChatGet)
	api.POST("/chat/:id/message", handler.handleChatMessage)
	api.DELETE("/chat/:id", handler.handleChatDestroy)
	api.GET("/stats", handler.handleStats)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

// requestLogger attaches a request identifier and logs one line per request.
// Tokens and session identifiers travel in query strings on some routes, so
// only the path is logged, never the raw query.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDContextKey, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		startedAt := time.Now()
		c.Next()

		logger.Info("request handled",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(startedAt)))
	}
}

type httpHandler struct {
	notes  *notes.Service
	chats  *chat.Service
	stats  *stats.Service
	tokens token.Provider
	logger *zap.Logger
}

type failurePayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func failure(message string) failurePayload {
	return failurePayload{Success: false, Error: message}
}

type noteCreatePayload struct {
	Ciphertext string `json:"ciphertext"`
	TTLSeconds *int64 `json:"ttl_seconds"`
}

func (h *httpHandler) handleNoteCreate(c *gin.Context) {
	var request noteCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Ciphertext) == "" {
		c.JSON(http.StatusBadRequest, failure("Ciphertext required"))
		return
	}

	id, err := h.tokens.NewID()
	if err != nil {
		h.logger.Error("note id generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, failure("Internal error"))
		return
	}

	if err := h.notes.Store(c.Request.Context(), id, request.Ciphertext, request.TTLSeconds); err != nil {
		h.logger.Error("note store failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, failure("Internal error"))
		return
	}

	h.recordAsync(h.stats.RecordNote)

	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *httpHandler) handleNoteRetrieve(c *gin.Context) {
	ciphertext, err := h.notes.Retrieve(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, notes.ErrNotFound):
		c.JSON(http.StatusOK, failure("Note not found or already read"))
	case errors.Is(err, notes.ErrExpired):
		c.JSON(http.StatusOK, failure("Note has expired"))
	case err != nil:
		h.logger.Error("note retrieve failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, failure("Internal error"))
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "ciphertext": ciphertext})
	}
}

type chatCreatePayload struct {
	SessionID  string `json:"sessionId"`
	TTLSeconds *int64 `json:"ttl_seconds"`
	Ciphertext string `json:"ciphertext"`
}

func (h *httpHandler) handleChatCreate(c *gin.Context) {
	var request chatCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, failure("Invalid request"))
		return
	}

	id, err := h.tokens.NewID()
	if err != nil {
		h.logger.Error("chat id generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, failure("Internal error"))
		return
	}
	creatorToken, err := h.tokens.NewToken()
	if err != nil {
		h.logger.Error("creator token generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, failure("Internal error"))
		return
	}
	recipientToken, err := h.tokens.NewToken()
	if err != nil {
		h.logger.Error("recipient token generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, failure("Internal error"))
		return
	}

	result, err := h.chats.Create(c.Request.Context(), chat.CreateParams{
		ID:               id,
		CreatorToken:     creatorToken,
		RecipientToken:   recipientToken,
		CreatorSessionID: request.SessionID,
		TTLSeconds:       request.TTLSeconds,
		InitialMessage:   request.Ciphertext,
	})
	if err != nil {
		h.logger.Error("chat create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, failure("Internal error"))
		return
	}

	h.recordAsync(h.stats.RecordChat)

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"id":             result.ID,
		"creatorToken":   creatorToken,
		"recipientToken": recipientToken,
		"expiresAt":      result.ExpiresAtMillis,
	})
}

type chatViewPayload struct {
	Success     bool    `json:"success"`
	Role        string  `json:"role"`
	ExpiresAt   int64   `json:"expiresAt"`
	HasMessage  bool    `json:"hasMessage"`
	IsMyMessage bool    `json:"isMyMessage"`
	MessageRead bool    `json:"messageRead"`
	Ciphertext  *string `json:"ciphertext"`
	MessageAt   *int64  `json:"messageAt"`
}

func (h *httpHandler) handleChatGet(c *gin.Context) {
	presentedToken := c.Query("token")
	sessionID := c.Query("sessionId")
	if presentedToken == "" {
		c.JSON(http.StatusUnauthorized, failure("Token required"))
		return
	}
	if sessionID == "" {
		c.JSON(http.StatusUnauthorized, failure("Session ID required"))
		return
	}

	view, err := h.chats.Get(c.Request.Context(), c.Param("id"), presentedToken, sessionID)
	if err != nil {
		h.writeChatError(c, err)
		return
	}

	payload := chatViewPayload{
		Success:     true,
		Role:        string(view.Role),
		ExpiresAt:   view.ExpiresAtMillis,
		HasMessage:  view.HasMessage,
		IsMyMessage: view.IsMyMessage,
		MessageRead: view.MessageRead,
	}
	if view.HasMessage {
		payload.Ciphertext = &view.Ciphertext
		payload.MessageAt = &view.MessageAtMillis
	}
	c.JSON(http.StatusOK, payload)
}

type chatMessagePayload struct {
	Token      string `json:"token"`
	SessionID  string `json:"sessionId"`
	Ciphertext string `json:"ciphertext"`
}

func (h *httpHandler) handleChatMessage(c *gin.Context) {
	var request chatMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, failure("Invalid request"))
		return
	}
	if request.Token == "" {
		c.JSON(http.StatusUnauthorized, failure("Token required"))
		return
	}
	if request.SessionID == "" {
		c.JSON(http.StatusUnauthorized, failure("Session ID required"))
		return
	}
	if strings.TrimSpace(request.Ciphertext) == "" {
		c.JSON(http.StatusBadRequest, failure("Message required"))
		return
	}

	messageAt, err := h.chats.Message(c.Request.Context(), c.Param("id"), request.Token, request.SessionID, request.Ciphertext)
	if err != nil {
		h.writeChatError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "messageAt": messageAt})
}

func (h *httpHandler) handleChatDestroy(c *gin.Context) {
	presentedToken := c.Query("token")
	if presentedToken == "" {
		c.JSON(http.StatusUnauthorized, failure("Token required"))
		return
	}

	if err := h.chats.Destroy(c.Request.Context(), c.Param("id"), presentedToken, c.Query("sessionId")); err != nil {
		h.writeChatError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) writeChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusOK, failure("Chat not found or expired"))
	case errors.Is(err, chat.ErrExpired):
		c.JSON(http.StatusOK, failure("Chat has expired"))
	case errors.Is(err, chat.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, failure("Invalid token"))
	case errors.Is(err, chat.ErrSessionMismatch):
		c.JSON(http.StatusForbidden, failure("Session mismatch - this chat is bound to another browser"))
	default:
		h.logger.Error("chat operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, failure("Internal error"))
	}
}

type statsWindowsPayload struct {
	Last24h  int64 `json:"last_24h"`
	Last7d   int64 `json:"last_7d"`
	Last30d  int64 `json:"last_30d"`
	Last365d int64 `json:"last_365d"`
	AllTime  int64 `json:"all_time"`
}

type statsDailyPayload struct {
	Date      string `json:"date"`
	NoteCount int64  `json:"note_count"`
	ChatCount int64  `json:"chat_count"`
}

type statsReportPayload struct {
	Notes       statsWindowsPayload `json:"notes"`
	Chats       statsWindowsPayload `json:"chats"`
	Daily       []statsDailyPayload `json:"daily"`
	GeneratedAt string              `json:"generated_at"`
}

func (h *httpHandler) handleStats(c *gin.Context) {
	report, err := h.stats.Report(c.Request.Context())
	if err != nil {
		h.logger.Error("stats report failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, failure("Internal error"))
		return
	}

	payload := statsReportPayload{
		Notes:       toWindowsPayload(report.Notes),
		Chats:       toWindowsPayload(report.Chats),
		Daily:       make([]statsDailyPayload, 0, len(report.Daily)),
		GeneratedAt: report.GeneratedAt.Format(time.RFC3339),
	}
	for _, day := range report.Daily {
		payload.Daily = append(payload.Daily, statsDailyPayload{
			Date:      day.Date,
			NoteCount: day.NoteCount,
			ChatCount: day.ChatCount,
		})
	}
	c.JSON(http.StatusOK, payload)
}

func toWindowsPayload(windows stats.Windows) statsWindowsPayload {
	return statsWindowsPayload{
		Last24h:  windows.Last24h,
		Last7d:   windows.Last7d,
		Last30d:  windows.Last30d,
		Last365d: windows.Last365d,
		AllTime:  windows.AllTime,
	}
}

// recordAsync dispatches a stats recording without making the caller wait and
// without letting its failure affect the primary response.
func (h *httpHandler) recordAsync(record func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), statsRecordTimeout)
		defer cancel()
		if err := record(ctx); err != nil {
			h.logger.Warn("stats recording failed", zap.Error(err))
		}
	}()
}
