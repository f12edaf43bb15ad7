package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"ai-chatbot/internal/ai"
	"ai-chatbot/internal/app"
	"ai-chatbot/internal/model"
	"ai-chatbot/internal/repository"
	"ai-chatbot/internal/transport/http/middleware"
)

const testSecret = "handler-test-secret"

type stubCompletion struct {
	reply string
	title ai.TitleOutcome
}

func (s *stubCompletion) GenerateResponse(_ context.Context, _ []ai.ChatMessage, _ bool) string {
	if s.reply == "" {
		return "stub reply"
	}
	return s.reply
}

func (s *stubCompletion) GenerateTitle(_ context.Context, _ string) ai.TitleOutcome {
	if s.title.Title == "" {
		return ai.TitleOutcome{Title: "New Chat", FromProvider: false}
	}
	return s.title
}

func newTestRouter(t *testing.T, completion app.CompletionClient) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Session{}, &model.Message{}, &model.Event{}))

	authService := app.NewAuthService(repository.NewUserRepository(db), testSecret, "HS256", 30*time.Minute)
	chatService := app.NewChatService(
		repository.NewSessionRepository(db),
		repository.NewMessageRepository(db),
		completion,
		nil,
		nil,
		nil,
	)

	authHandler := NewAuthHandler(authService)
	chatHandler := NewChatHandler(chatService)

	router := gin.New()
	authGroup := router.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.Auth(testSecret, authService), authHandler.Me)

	chatGroup := router.Group("/chat")
	chatGroup.Use(middleware.Auth(testSecret, authService))
	chatGroup.GET("/sessions", chatHandler.ListSessions)
	chatGroup.POST("/sessions", chatHandler.CreateSession)
	chatGroup.GET("/sessions/:id/messages", chatHandler.GetMessages)
	chatGroup.POST("/sessions/:id/messages", chatHandler.SendMessage)
	chatGroup.POST("/sessions/:id/messages/stream", chatHandler.StreamMessage)
	chatGroup.DELETE("/sessions/:id", chatHandler.DeleteSession)

	return router
}

func doJSON(router *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func registerAndLogin(t *testing.T, router *gin.Engine, email string) string {
	t.Helper()

	rec := doJSON(router, http.MethodPost, "/auth/register", "",
		fmt.Sprintf(`{"email":%q,"name":"Test User","password":"secret123"}`, email))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(router, http.MethodPost, "/auth/login", "",
		fmt.Sprintf(`{"email":%q,"password":"secret123"}`, email))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var login struct {
		Token struct {
			AccessToken string `json:"access_token"`
			TokenType   string `json:"token_type"`
		} `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.Equal(t, "bearer", login.Token.TokenType)
	require.NotEmpty(t, login.Token.AccessToken)
	return login.Token.AccessToken
}

func TestRegister_DuplicateEmail(t *testing.T) {
	router := newTestRouter(t, &stubCompletion{})

	body := `{"email":"a@x.com","name":"A","password":"secret123"}`
	rec := doJSON(router, http.MethodPost, "/auth/register", "", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(router, http.MethodPost, "/auth/register", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "email already registered")
}

func TestLogin_BadCredentials(t *testing.T) {
	router := newTestRouter(t, &stubCompletion{})
	registerAndLogin(t, router, "a@x.com")

	rec := doJSON(router, http.MethodPost, "/auth/login", "", `{"email":"a@x.com","password":"wrong-pass"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(router, http.MethodPost, "/auth/login", "", `{"email":"nobody@x.com","password":"secret123"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe_RequiresValidToken(t *testing.T) {
	router := newTestRouter(t, &stubCompletion{})
	token := registerAndLogin(t, router, "a@x.com")

	rec := doJSON(router, http.MethodGet, "/auth/me", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"a@x.com"`)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = doJSON(router, http.MethodGet, "/auth/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(router, http.MethodGet, "/auth/me", "bogus-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatFlow_FirstMessageRenamesSession(t *testing.T) {
	stub := &stubCompletion{
		reply: "Hello! How can I help?",
		title: ai.TitleOutcome{Title: "Quick Greeting", FromProvider: true},
	}
	router := newTestRouter(t, stub)
	token := registerAndLogin(t, router, "a@x.com")

	rec := doJSON(router, http.MethodPost, "/chat/sessions", token, `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var session model.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "New Chat", session.Title)

	rec = doJSON(router, http.MethodPost, fmt.Sprintf("/chat/sessions/%d/messages", session.ID), token,
		`{"content":"Hi","sender_type":"user"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var botMessage model.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &botMessage))
	assert.Equal(t, model.SenderBot, botMessage.SenderType)
	assert.Equal(t, "Hello! How can I help?", botMessage.Content)

	rec = doJSON(router, http.MethodGet, "/chat/sessions", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []model.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "Quick Greeting", sessions[0].Title)

	rec = doJSON(router, http.MethodGet, fmt.Sprintf("/chat/sessions/%d/messages", session.ID), token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var messages []model.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	assert.Len(t, messages, 2)
}

func TestChat_OwnershipYieldsNotFound(t *testing.T) {
	router := newTestRouter(t, &stubCompletion{})
	ownerToken := registerAndLogin(t, router, "a@x.com")
	otherToken := registerAndLogin(t, router, "b@x.com")

	rec := doJSON(router, http.MethodPost, "/chat/sessions", ownerToken, `{"title":"private"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var session model.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	// Another user's listing never includes it.
	rec = doJSON(router, http.MethodGet, "/chat/sessions", otherToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	// And direct access is a plain 404, not a 403.
	path := fmt.Sprintf("/chat/sessions/%d/messages", session.ID)
	rec = doJSON(router, http.MethodGet, path, otherToken, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(router, http.MethodPost, path, otherToken, `{"content":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(router, http.MethodDelete, fmt.Sprintf("/chat/sessions/%d", session.ID), otherToken, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamMessage_EmitsFrameAndDone(t *testing.T) {
	stub := &stubCompletion{reply: "Hello"}
	router := newTestRouter(t, stub)
	token := registerAndLogin(t, router, "a@x.com")

	rec := doJSON(router, http.MethodPost, "/chat/sessions", token, `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var session model.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	rec = doJSON(router, http.MethodPost, fmt.Sprintf("/chat/sessions/%d/messages/stream", session.ID), token,
		`{"content":"Hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `"content":"Hello"`)
	assert.Contains(t, body, `"sender_type":"bot"`)
	assert.Contains(t, body, "data: [DONE]")

	// The accumulated reply was persisted as a single bot message.
	rec = doJSON(router, http.MethodGet, fmt.Sprintf("/chat/sessions/%d/messages", session.ID), token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var messages []model.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
}

func TestDeleteSession_RemovesMessages(t *testing.T) {
	router := newTestRouter(t, &stubCompletion{})
	token := registerAndLogin(t, router, "a@x.com")

	rec := doJSON(router, http.MethodPost, "/chat/sessions", token, `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var session model.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	rec = doJSON(router, http.MethodPost, fmt.Sprintf("/chat/sessions/%d/messages", session.ID), token,
		`{"content":"Hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(router, http.MethodDelete, fmt.Sprintf("/chat/sessions/%d", session.ID), token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deleted successfully")

	rec = doJSON(router, http.MethodGet, fmt.Sprintf("/chat/sessions/%d/messages", session.ID), token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
