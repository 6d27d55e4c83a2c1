package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"textrpg-server/internal/api"
	authapp "textrpg-server/internal/app/auth"
	charapp "textrpg-server/internal/app/character"
	userapp "textrpg-server/internal/app/user"
	"textrpg-server/internal/domain/character"
	"textrpg-server/internal/domain/user"
	"textrpg-server/internal/platform/cache"
	"textrpg-server/internal/platform/config"
	"textrpg-server/internal/platform/docstore"
	"textrpg-server/internal/platform/mq"
	"textrpg-server/internal/platform/observability"
	"textrpg-server/internal/platform/password"
	"textrpg-server/internal/platform/session"
	"textrpg-server/internal/platform/storage"
)

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := observability.NewLogger(cfg.Mode)

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("store connection failed")
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("store close failed")
		}
	}()

	userModel := user.Schema(cfg.ValidationSingleError)
	charModel := character.Schema(cfg.CharacterClasses, cfg.ValidationSingleError)
	users := docstore.NewCollection(store, user.Collection, docstore.WithSchema(userModel))
	chars := docstore.NewCollection(store, character.Collection, docstore.WithSchema(charModel))
	if err := ensureIndexes(ctx, users, chars); err != nil {
		logger.Fatal().Err(err).Msg("index creation failed")
	}

	var sessionStore session.Store
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable; keeping sessions in memory")
		sessionStore = session.NewMemoryStore()
	} else {
		defer redisClient.Close()
		sessionStore = session.NewRedisStore(redisClient, "rpg:session:")
	}

	publisher, err := mq.NewPublisher(cfg.NATSURL, "textrpg-server")
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable; using noop publisher")
		publisher = mq.NewNoopPublisher()
	}
	defer publisher.Close()

	hasher := password.NewHasher(cfg.PasswordPepper, password.Params{Time: cfg.PasswordTime, MemoryKiB: cfg.PasswordMemoryKiB})
	userSvc := userapp.NewService(users, chars, userModel, hasher, publisher, logger)
	charSvc := charapp.NewService(chars, publisher, logger)
	authSvc := authapp.NewService(userSvc, charSvc, hasher, publisher, logger)

	handler := api.NewHandler(api.Deps{
		Logger: logger,
		Sessions: session.NewManager(sessionStore, session.Options{
			CookieName: cfg.CookieName,
			Secret:     cfg.CookieSecret,
			TTL:        cfg.SessionTTL,
			Secure:     cfg.CookieSecure,
		}, logger),
		Auth:           authSvc,
		Users:          userSvc,
		Characters:     charSvc,
		UserModel:      userModel,
		CharacterModel: charModel,
		Store:          store,
		CorsOrigin:     cfg.CorsOrigin,
		MaxBodySize:    cfg.MaxRequestBody,
		RequestTimeout: cfg.RequestTimeout,
	})
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("mode", cfg.Mode).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

func ensureIndexes(ctx context.Context, users, chars *docstore.Collection) error {
	indexes := []struct {
		coll *docstore.Collection
		keys bson.D
		opts docstore.IndexOptions
	}{
		{users, bson.D{{Key: "email", Value: 1}}, docstore.IndexOptions{Unique: true}},
		{users, bson.D{{Key: "alias", Value: 1}}, docstore.IndexOptions{Unique: true}},
		{chars, bson.D{{Key: "userId", Value: 1}}, docstore.IndexOptions{}},
	}
	for _, ix := range indexes {
		if _, err := ix.coll.CreateIndex(ctx, ix.keys, ix.opts); err != nil {
			return err
		}
	}
	return nil
}
