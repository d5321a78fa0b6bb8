package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inkwell/internal/usertoken"
	"inkwell/internal/util"
	"inkwell/services/book/internal/app"
	"inkwell/services/book/internal/config"
	"inkwell/services/book/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	jwtLeeway, err := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	debounce, err := config.ParseDuration("autosaveDebounce", cfg.AutosaveDebounce)
	if err != nil {
		log.Fatalf("failed to parse autosave debounce: %v", err)
	}
	saveTimeout, err := config.ParseDuration("saveTimeout", cfg.SaveTimeout)
	if err != nil {
		log.Fatalf("failed to parse save timeout: %v", err)
	}

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   jwtLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:        cfg.DatabaseURL,
		RedisAddr:          cfg.RedisAddr,
		RedisPassword:      cfg.RedisPassword,
		MinioEndpoint:      cfg.MinioEndpoint,
		MinioAccessKey:     cfg.MinioAccessKey,
		MinioSecretKey:     cfg.MinioSecretKey,
		MinioBucket:        cfg.MinioBucket,
		MinioUseSSL:        cfg.MinioUseSSL,
		MinioPublicBaseURL: cfg.MinioPublicBaseURL,
		AMQPURL:            cfg.AMQPURL,
		AMQPExchange:       cfg.AMQPExchange,
		ChatBaseURL:        cfg.ChatBaseURL,
		ChatAPIKey:         cfg.ChatAPIKey,
		ChatModel:          cfg.ChatModel,
		SuggestionsPerHour: cfg.SuggestionsPerHour,
		CleanupWorkers:     cfg.CleanupWorkers,
		Debounce:           debounce,
		SaveTimeout:        saveTimeout,
		Logger:             logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	appCore.Start(ctx)

	httpServer, err := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		TrustedProxies: cfg.TrustedProxyCIDRs,
		CORSOrigins:    cfg.CORSOrigins,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("book server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	// Open sessions are torn down here; pending autosaves are abandoned.
	if err := appCore.Close(); err != nil {
		logger.Error("app shutdown", "err", err)
	}
}
