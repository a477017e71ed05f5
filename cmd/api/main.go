package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/brightdesk/brightdesk-api/internal/config"
	"github.com/brightdesk/brightdesk-api/internal/database"
	"github.com/brightdesk/brightdesk-api/internal/handler"
	"github.com/brightdesk/brightdesk-api/internal/middleware"
	"github.com/brightdesk/brightdesk-api/internal/models"
	"github.com/brightdesk/brightdesk-api/internal/repository"
	"github.com/brightdesk/brightdesk-api/internal/router"
	"github.com/brightdesk/brightdesk-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.User{}, &models.Chat{}, &models.ChatMessage{}, &models.Notification{}, &models.NotificationPreference{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	messageRepo := repository.NewMessageRepository(db)
	chatRepo := repository.NewChatRepository(db)
	userRepo := repository.NewUserRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	typingService := service.NewTypingService(redisClient, cfg.EventChannelBase, cfg.TypingStale, logger)
	presenceService := service.NewPresenceService(redisClient, cfg.EventChannelBase, cfg.PresenceStale, logger)
	directoryService := service.NewDirectoryService(chatRepo, redisClient, cfg.EventChannelBase, cfg.GroupChatName, logger)
	notificationService := service.NewNotificationService(notificationRepo, redisClient, cfg.EventChannelBase, natsConn, validate, logger)
	userService := service.NewUserService(userRepo, logger)
	chatService := service.NewChatService(service.ChatServiceDeps{
		Messages:  messageRepo,
		Chats:     chatRepo,
		Users:     userRepo,
		Typing:    typingService,
		Directory: directoryService,
		Notifier:  notificationService,
		Redis:     redisClient,
		NATS:      natsConn,
		Validate:  validate,
		Logger:    logger,
	}, cfg.EventChannelBase, cfg.MessageReplay)

	runCtx, stopConsumers := context.WithCancel(context.Background())
	defer stopConsumers()

	typingService.Start(runCtx)
	presenceService.Start(runCtx)
	directoryService.Start(runCtx)
	notificationService.Start(runCtx)
	chatService.Start(runCtx)

	// The workspace-wide group chat exists before the first request.
	if _, err := directoryService.EnsureGroupChat(runCtx); err != nil {
		log.Fatalf("failed to ensure group chat: %v", err)
	}

	chatHandler := handler.NewChatHandler(chatService, typingService, validate, logger)
	directoryHandler := handler.NewDirectoryHandler(directoryService, userService, validate, logger, cfg.SSEKeepAlive)
	presenceHandler := handler.NewPresenceHandler(presenceService, validate, logger, cfg.SSEKeepAlive)
	notificationHandler := handler.NewNotificationHandler(notificationService, validate, logger, cfg.SSEKeepAlive)
	adminMonitorHandler := handler.NewAdminMonitorHandler(directoryService, chatService, validate, logger, cfg.SSEKeepAlive)
	userHandler := handler.NewUserHandler(userService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:         chatHandler,
		DirectoryHandler:    directoryHandler,
		PresenceHandler:     presenceHandler,
		NotificationHandler: notificationHandler,
		AdminMonitorHandler: adminMonitorHandler,
		UserHandler:         userHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, stopConsumers)
}

func waitForShutdown(app *fiber.App, stopConsumers context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	stopConsumers()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
