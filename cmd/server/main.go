package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"account-service/internal/auth"
	"account-service/internal/config"
	apphttp "account-service/internal/http"
	"account-service/internal/repository"
	"account-service/internal/repository/memory"
	"account-service/internal/repository/mongodb"
	"account-service/internal/repository/sqlite"
	"account-service/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if level, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		logger.Warnf("invalid log level %q, using info", cfg.Log.Level)
	} else {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accounts, err := buildRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup repository: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := accounts.Close(closeCtx); err != nil {
			logger.Warnf("close repository: %v", err)
		}
	}()

	initCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout)
	err = accounts.Init(initCtx)
	cancel()
	if err != nil {
		logger.Fatalf("init account repository: %v", err)
	}

	issuer, err := auth.NewJWTIssuer(cfg.Auth.JWTSecret)
	if err != nil {
		logger.Fatalf("setup token issuer: %v", err)
	}
	accountService := service.NewAccountService(
		accounts,
		auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		issuer,
		cfg.Auth.SignupTTL,
		logger,
	)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler, err := apphttp.NewHandler(accountService, logger)
	if err != nil {
		logger.Fatalf("setup http handler: %v", err)
	}
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func buildRepository(ctx context.Context, cfg config.Config, logger *logrus.Logger) (repository.AccountRepository, error) {
	switch cfg.Database.Driver {
	case config.DriverMongo:
		client, err := mongodb.Connect(ctx, cfg.Database.URI, cfg.Database.Timeout, logger)
		if err != nil {
			return nil, err
		}
		logger.Infof("using mongodb database %s (collection %s)", cfg.Database.Name, cfg.Database.Collection)
		return mongodb.NewAccountRepository(client, cfg.Database.Name, cfg.Database.Collection), nil
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		logger.Infof("using sqlite database %s", cfg.Database.Path)
		return sqlite.NewAccountRepository(db), nil
	case config.DriverMemory:
		logger.Warn("using in-memory account store; accounts are lost on restart")
		return memory.NewAccountRepository(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
