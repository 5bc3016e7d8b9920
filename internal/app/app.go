package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/linemk/reseller-shop/internal/cache"
	"github.com/linemk/reseller-shop/internal/config"
	"github.com/linemk/reseller-shop/internal/email"
	"github.com/linemk/reseller-shop/internal/kafka"
	"github.com/redis/go-redis/v9"
)

// имя источника в конвертах событий
const eventSource = "reseller-shop"

type App struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *sql.DB
	Redis  *redis.Client
	// Events и Mailer равны nil, если соответствующий канал не настроен
	Events *kafka.Producer
	Mailer *email.Sender
}

// NewApp создаёт новый экземпляр App
func NewApp(ctx context.Context, log *slog.Logger, cfg *config.Config) (*App, error) {
	// реализуем подключение к БД через DSN
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rdb, err := cache.NewRedisClient(pingCtx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		db.Close()
		return nil, err
	}

	app := &App{
		Config: cfg,
		Logger: log,
		DB:     db,
		Redis:  rdb,
	}

	if len(cfg.Kafka.Brokers) > 0 {
		app.Events = kafka.NewProducer(log, cfg.Kafka.Brokers, cfg.Kafka.OrderEventsTopic, eventSource, cfg.Kafka.Buffer)
	} else {
		log.Warn("kafka brokers are not configured, order events stream disabled")
	}

	if cfg.SMTP.Host != "" {
		mailer, err := email.NewSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, cfg.SMTP.Timeout)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to create smtp client: %w", err)
		}
		app.Mailer = mailer
	} else {
		log.Warn("smtp host is not configured, payment emails disabled")
	}

	return app, nil
}

// Close освобождает внешние подключения. Продюсер закрывается первым, чтобы дописать буфер.
func (a *App) Close() {
	if a.Events != nil {
		a.Events.Close()
	}
	if err := a.Redis.Close(); err != nil {
		a.Logger.Error("failed to close redis", slog.Any("error", err))
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("failed to close database", slog.Any("error", err))
	}
}
