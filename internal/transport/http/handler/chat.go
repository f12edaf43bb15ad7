package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ai-chatbot/internal/app"
	"ai-chatbot/internal/model"
	"ai-chatbot/internal/transport/http/middleware"
	"ai-chatbot/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type CreateSessionRequest struct {
	Title string `json:"title" binding:"max=128"`
}

type SendMessageRequest struct {
	Content    string `json:"content" binding:"required"`
	SenderType string `json:"sender_type" binding:"omitempty,oneof=user bot"`
}

type streamFrame struct {
	ID         uint   `json:"id"`
	Content    string `json:"content"`
	SenderType string `json:"sender_type"`
	CreatedAt  string `json:"created_at"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "invalid token")
		return
	}

	sessions, err := h.chatService.ListSessions(user.ID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to fetch chat sessions")
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "invalid token")
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request payload")
		return
	}

	session, err := h.chatService.CreateSession(c.Request.Context(), user.ID, req.Title)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, "failed to create chat session")
		}
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "invalid token")
		return
	}

	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	messages, err := h.chatService.GetMessages(c.Request.Context(), user.ID, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, err.Error())
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, "failed to fetch messages")
		}
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "invalid token")
		return
	}

	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request payload")
		return
	}

	botMessage, err := h.chatService.SendMessage(c.Request.Context(), user.ID, sessionID, req.Content, false)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, err.Error())
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrMessageEmpty):
			response.Error(c, http.StatusBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, "failed to send message")
		}
		return
	}
	c.JSON(http.StatusOK, botMessage)
}

// StreamMessage runs the same turn with a streamed provider call and
// delivers the accumulated reply as a single SSE data frame followed by
// the [DONE] marker.
func (h *ChatHandler) StreamMessage(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "invalid token")
		return
	}

	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request payload")
		return
	}

	// The ownership check runs before any stream headers go out so a
	// foreign session still gets a clean 404.
	botMessage, err := h.chatService.SendMessage(c.Request.Context(), user.ID, sessionID, req.Content, true)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, err.Error())
			return
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrMessageEmpty):
			response.Error(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, "stream not supported")
		return
	}

	if err != nil {
		writeSSE(c, flusher, gin.H{"error": "Failed to generate response"})
		return
	}

	writeSSE(c, flusher, streamFrame{
		ID:         botMessage.ID,
		Content:    botMessage.Content,
		SenderType: botMessage.SenderType,
		CreatedAt:  botMessage.CreatedAt.Format(time.RFC3339),
	})
	if _, writeErr := c.Writer.Write([]byte("data: [DONE]\n\n")); writeErr == nil {
		flusher.Flush()
	}
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "invalid token")
		return
	}

	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	if err := h.chatService.DeleteSession(c.Request.Context(), user.ID, sessionID); err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, err.Error())
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, "failed to delete chat session")
		}
		return
	}

	response.OK(c, "Chat session deleted successfully", nil)
}

func sessionIDParam(c *gin.Context) (uint, bool) {
	sessionID64, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || sessionID64 == 0 {
		response.Error(c, http.StatusBadRequest, "invalid session id")
		return 0, false
	}
	return uint(sessionID64), true
}
func writeSSE(c *gin.Context, flusher http.Flusher, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if _, writeErr := c.Writer.Write([]byte("data: " + string(data) + "\n\n")); writeErr == nil {
		flusher.Flush()
	}
}
