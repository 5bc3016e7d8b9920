package main

import (
	"context"

	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linemk/reseller-shop/internal/app"
	"github.com/linemk/reseller-shop/internal/app/handlers"
	"github.com/linemk/reseller-shop/internal/cache"
	"github.com/linemk/reseller-shop/internal/config"
	"github.com/linemk/reseller-shop/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/reseller-shop/internal/lib/logger"
	"github.com/linemk/reseller-shop/internal/lib/logger/handlers/urllog"
	"github.com/linemk/reseller-shop/internal/realtime"
	"github.com/linemk/reseller-shop/internal/service"
	"github.com/linemk/reseller-shop/internal/storage"
	"github.com/pkg/errors"
)

func main() {
	// загрузка конфигурации
	cfg := config.MustLoad()

	// инициализация логгера, зависит от настройки окружения
	log := logger.SetupLogger(cfg.Env)
	log.Info("starting app", slog.String("env", cfg.Env))

	// фоновые задачи живут до сигнала остановки
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// загружаем объект приложения: конфиг, БД, redis, kafka, smtp
	application, err := app.NewApp(bgCtx, log, cfg)
	if err != nil {
		log.Error("failed to initialize app", slog.Any("error", err))
		panic(errors.Wrap(err, "failed to initialize app"))
	}
	defer application.Close()

	router := chi.NewRouter()
	// настройка middleware
	router.Use(middleware.RequestID)
	router.Use(urllog.CustomLoggerMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)
	router.Use(middleware.Timeout(cfg.HTTPServer.Timeout))

	// реализация слоев по работе с БД по каждому направлению
	userRepo := storage.NewUserRepository(application.DB)
	catalogRepo := storage.NewCatalogRepository(application.DB)
	orderRepo := storage.NewOrderRepository(application.DB)
	notificationRepo := storage.NewNotificationRepository(application.DB)

	// резерв остатков и возврат зависших резервов
	engine := service.NewReservationEngine(application.Logger, catalogRepo)
	go engine.RunSweeper(bgCtx, cfg.Reservations.SweepInterval, cfg.Reservations.StaleAfter)

	// получатели побочных эффектов: выключенные каналы остаются nil
	deps := service.DispatcherDeps{
		Notifications: notificationRepo,
		Users:         userRepo,
		Realtime:      realtime.NewEmitter(application.Logger, application.Redis),
	}
	if application.Mailer != nil {
		deps.Email = application.Mailer
	}
	if application.Events != nil {
		application.Events.Start()
		deps.Publisher = application.Events
	}
	dispatcher := service.NewEventDispatcher(application.Logger, cfg.Dispatcher.Workers, cfg.Dispatcher.QueueSize, deps)
	// принятые события дорабатываются и после сигнала, поэтому контекст не отменяется
	dispatcher.Start(context.Background())

	orderCache := cache.NewOrderCache(application.Redis, cfg.Redis.OrderCacheTTL)

	authService := service.NewAuthService(application.Logger, userRepo, time.Duration(application.Config.JWT.TokenTTL)*time.Minute)
	orderService := service.NewOrderService(application.Logger, orderRepo, userRepo, engine, orderCache, dispatcher)
	notificationService := service.NewNotificationService(application.Logger, notificationRepo)

	// эндпоинт для аутентификации
	router.Post("/api/auth", handlers.AuthHandler(application.Logger, authService))

	router.Group(func(r chi.Router) {
		jwtMW := jwtmiddleware.NewJWTMiddleware()
		r.Use(jwtMW)

		r.Route("/api/orders", func(r chi.Router) {
			r.Post("/", handlers.CreateOrderHandler(application.Logger, orderService))
			r.Get("/", handlers.ListOrdersHandler(application.Logger, orderService))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handlers.GetOrderHandler(application.Logger, orderService))
				r.Post("/payment-proof", handlers.UploadPaymentProofHandler(application.Logger, orderService))
				r.Post("/verify-payment", handlers.VerifyPaymentHandler(application.Logger, orderService))
				r.Post("/shipping-method", handlers.SelectShippingMethodHandler(application.Logger, orderService))
				r.Put("/shipping-fee", handlers.UpdateShippingFeeHandler(application.Logger, orderService))
				r.Post("/ship", handlers.MarkShippedHandler(application.Logger, orderService))
				r.Post("/deliver", handlers.MarkDeliveredHandler(application.Logger, orderService))
			})
		})

		// уведомления текущего пользователя
		r.Get("/api/notifications", handlers.NotificationsHandler(application.Logger, notificationService))
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.Any("error", err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	stopSign := <-stop
	log.Info("received shutdown signal", slog.String("signal", stopSign.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", slog.Any("error", err))
	}
	// новых запросов нет: останавливаем sweeper и дорабатываем очередь событий до закрытия продюсера
	bgCancel()
	dispatcher.Stop()
	log.Info("server gracefully stopped")
}
