package http

import (
	"time"

	"github.com/gin-gonic/gin"

	appsvc "ai-chatbot/internal/app"
	"ai-chatbot/internal/bootstrap"
	"ai-chatbot/internal/cache"
	"ai-chatbot/internal/platform/rabbitmq"
	"ai-chatbot/internal/repository"
	"ai-chatbot/internal/transport/http/handler"
	"ai-chatbot/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(middleware.CORS(app.Config.CORS.Origins()))

	userRepo := repository.NewUserRepository(app.DB)
	sessionRepo := repository.NewSessionRepository(app.DB)
	messageRepo := repository.NewMessageRepository(app.DB)

	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		app.Config.Auth.JWTAlgorithm,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)

	var historyCache appsvc.HistoryCache
	if app.Redis != nil {
		historyCache = cache.NewHistoryCache(
			app.Redis,
			time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
			time.Duration(app.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
		)
	}
	var publisher appsvc.EventPublisher
	if app.MQConn != nil {
		publisher = rabbitmq.NewEventPublisher(app.MQConn, app.Config.RabbitMQ.EventQueue)
	}

	chatService := appsvc.NewChatService(
		sessionRepo,
		messageRepo,
		app.Completion,
		publisher,
		historyCache,
		app.Logger,
	)

	authHandler := handler.NewAuthHandler(authService)
	chatHandler := handler.NewChatHandler(chatService)
	healthHandler := handler.NewHealthHandler(app)

	router.GET("/", healthHandler.Root)
	router.GET("/healthz", healthHandler.Check)

	authGroup := router.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.Auth(app.Config.Auth.JWTSecret, authService), authHandler.Me)

	chatGroup := router.Group("/chat")
	chatGroup.Use(middleware.Auth(app.Config.Auth.JWTSecret, authService))
	chatGroup.GET("/sessions", chatHandler.ListSessions)
	chatGroup.POST("/sessions", chatHandler.CreateSession)
	chatGroup.GET("/sessions/:id/messages", chatHandler.GetMessages)
	chatGroup.POST("/sessions/:id/messages", chatHandler.SendMessage)
	chatGroup.POST("/sessions/:id/messages/stream", chatHandler.StreamMessage)
	chatGroup.DELETE("/sessions/:id", chatHandler.DeleteSession)

	return router
}
