package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ai-chatbot/internal/ai"
	"ai-chatbot/internal/config"
	"ai-chatbot/internal/logging"
	"ai-chatbot/internal/model"
	"ai-chatbot/internal/platform/database"
	rabbitmqClient "ai-chatbot/internal/platform/rabbitmq"
	"ai-chatbot/internal/platform/redisconn"
	"ai-chatbot/internal/repository"
	"ai-chatbot/internal/worker"
)

type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	DB          *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	Completion  *ai.Client
	EventWorker *worker.EventPersistWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logger, err := logging.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	db, err := database.New(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.User{}, &model.Session{}, &model.Message{}, &model.Event{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	// Redis and RabbitMQ are optional: a blank addr/url runs the service
	// with caching and the event pipeline disabled.
	var redisCli *redis.Client
	if cfg.Redis.Addr != "" {
		redisCli, err = redisconn.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Info("redis disabled, history cache off")
	}

	var (
		mqConn      *amqp.Connection
		eventWorker *worker.EventPersistWorker
	)
	if cfg.RabbitMQ.URL != "" {
		mqConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			return nil, err
		}

		eventRepo := repository.NewEventRepository(db)
		eventWorker = worker.NewEventPersistWorker(mqConn, eventRepo, cfg.RabbitMQ.EventQueue, logger)
		if err := eventWorker.Start(ctx); err != nil {
			return nil, fmt.Errorf("start event worker failed: %w", err)
		}
	} else {
		logger.Info("rabbitmq disabled, event pipeline off")
	}

	completion := ai.NewClient(ai.Config{
		APIKey:  cfg.OpenRouter.APIKey,
		Model:   cfg.OpenRouter.Model,
		BaseURL: cfg.OpenRouter.BaseURL,
		SiteURL: cfg.OpenRouter.SiteURL,
	}, logger)

	return &App{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		Redis:       redisCli,
		MQConn:      mqConn,
		Completion:  completion,
		EventWorker: eventWorker,
		StartedAt:   time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.EventWorker != nil {
		a.EventWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}
