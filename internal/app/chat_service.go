package app

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"ai-chatbot/internal/ai"
	"ai-chatbot/internal/model"
	"ai-chatbot/internal/repository"
)

var (
	ErrSessionNotFound = errors.New("chat session not found")
	ErrMessageEmpty    = errors.New("message content is empty")
)

// CompletionClient is what ChatService needs from the provider client.
// Both methods degrade internally and never fail the request.
type CompletionClient interface {
	GenerateResponse(ctx context.Context, messages []ai.ChatMessage, stream bool) string
	GenerateTitle(ctx context.Context, firstMessage string) ai.TitleOutcome
}

// EventPublisher enqueues audit events. Nil disables the pipeline.
type EventPublisher interface {
	Publish(ctx context.Context, event model.Event) error
}

// HistoryCache fronts message-history reads. Nil disables caching.
type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, sessionID uint, messages []model.Message) error
	DeleteHistory(ctx context.Context, sessionID uint) error
	MarkDirty(ctx context.Context, sessionID uint) error
	IsDirty(ctx context.Context, sessionID uint) (bool, error)
}

type ChatService struct {
	sessionRepo  *repository.SessionRepository
	messageRepo  *repository.MessageRepository
	completion   CompletionClient
	publisher    EventPublisher
	historyCache HistoryCache
	logger       *zap.Logger
}

func NewChatService(
	sessionRepo *repository.SessionRepository,
	messageRepo *repository.MessageRepository,
	completion CompletionClient,
	publisher EventPublisher,
	historyCache HistoryCache,
	logger *zap.Logger,
) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
		completion:   completion,
		publisher:    publisher,
		historyCache: historyCache,
		logger:       logger,
	}
}

func (s *ChatService) CreateSession(ctx context.Context, userID uint, title string) (*model.Session, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Chat"
	}

	session := &model.Session{
		UserID: userID,
		Title:  title,
	}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, model.EventSessionCreated, userID, session.ID)
	return session, nil
}

func (s *ChatService) ListSessions(userID uint) ([]model.Session, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.sessionRepo.ListByUserID(userID)
}

// GetMessages returns a session's messages oldest-first. A session owned
// by someone else is reported as not found, same as a missing one.
func (s *ChatService) GetMessages(ctx context.Context, userID, sessionID uint) ([]model.Message, error) {
	if userID == 0 || sessionID == 0 {
		return nil, ErrInvalidInput
	}

	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if s.historyCache != nil {
		dirty, dirtyErr := s.historyCache.IsDirty(ctx, sessionID)
		if dirtyErr == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, sessionID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	messages, err := s.messageRepo.ListBySessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, sessionID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, sessionID, messages)
		}
	}
	return messages, nil
}

// SendMessage appends the user's turn, obtains the generated reply
// (blocking or streamed, always accumulated into one text), appends it as
// a bot message and returns that message. Provider failures never surface
// here: the degraded apologetic reply is persisted like any other.
func (s *ChatService) SendMessage(ctx context.Context, userID, sessionID uint, content string, stream bool) (*model.Message, error) {
	if userID == 0 || sessionID == 0 {
		return nil, ErrInvalidInput
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrMessageEmpty
	}

	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	s.invalidateHistory(ctx, sessionID)

	userMessage := &model.Message{
		SessionID:  sessionID,
		Content:    content,
		SenderType: model.SenderUser,
	}
	if err := s.messageRepo.Create(userMessage); err != nil {
		return nil, err
	}
	if err := s.sessionRepo.Touch(sessionID); err != nil {
		return nil, err
	}
	s.publishEvent(ctx, model.EventMessageAppended, userID, sessionID)

	history, err := s.messageRepo.ListBySessionID(sessionID)
	if err != nil {
		return nil, err
	}

	s.maybeGenerateTitle(ctx, sessionID, content)

	reply := s.completion.GenerateResponse(ctx, ai.FormatMessages(history), stream)

	botMessage := &model.Message{
		SessionID:  sessionID,
		Content:    reply,
		SenderType: model.SenderBot,
	}
	if err := s.messageRepo.Create(botMessage); err != nil {
		return nil, err
	}
	if err := s.sessionRepo.Touch(sessionID); err != nil {
		return nil, err
	}
	s.invalidateHistory(ctx, sessionID)
	s.publishEvent(ctx, model.EventMessageAppended, userID, sessionID)

	return botMessage, nil
}

func (s *ChatService) DeleteSession(ctx context.Context, userID, sessionID uint) error {
	if userID == 0 || sessionID == 0 {
		return ErrInvalidInput
	}

	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}

	if err := s.messageRepo.DeleteBySessionID(sessionID); err != nil {
		return err
	}
	if err := s.sessionRepo.DeleteByIDAndUserID(sessionID, userID); err != nil {
		return err
	}
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(ctx, sessionID)
	}
	s.publishEvent(ctx, model.EventSessionDeleted, userID, sessionID)
	return nil
}

// maybeGenerateTitle renames the session after its first user message.
// A secondary concern: whatever happens, the send itself proceeds.
func (s *ChatService) maybeGenerateTitle(ctx context.Context, sessionID uint, firstMessage string) {
	userCount, err := s.messageRepo.CountBySessionIDAndSender(sessionID, model.SenderUser)
	if err != nil {
		s.logger.Warn("count user messages failed", zap.Uint("session_id", sessionID), zap.Error(err))
		return
	}
	if userCount != 1 {
		return
	}

	outcome := s.completion.GenerateTitle(ctx, firstMessage)
	if err := s.sessionRepo.UpdateTitle(sessionID, outcome.Title); err != nil {
		s.logger.Warn("update session title failed", zap.Uint("session_id", sessionID), zap.Error(err))
		return
	}
	s.logger.Info("session title updated",
		zap.Uint("session_id", sessionID),
		zap.String("title", outcome.Title),
		zap.Bool("from_provider", outcome.FromProvider),
	)
}

func (s *ChatService) invalidateHistory(ctx context.Context, sessionID uint) {
	if s.historyCache == nil {
		return
	}
	_ = s.historyCache.MarkDirty(ctx, sessionID)
	_ = s.historyCache.DeleteHistory(ctx, sessionID)
}

func (s *ChatService) publishEvent(ctx context.Context, eventType string, userID, sessionID uint) {
	if s.publisher == nil {
		return
	}
	event := model.Event{
		Type:      eventType,
		UserID:    userID,
		SessionID: sessionID,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", zap.String("type", eventType), zap.Error(err))
	}
}
