package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/music-vote-rooms/internal/auth"
	"github.com/music-vote-rooms/internal/config"
	"github.com/music-vote-rooms/internal/room"
	"github.com/music-vote-rooms/internal/spotify"
	"github.com/music-vote-rooms/internal/ws"
	"github.com/music-vote-rooms/pkg/events"
	"github.com/music-vote-rooms/pkg/jwt"
	"github.com/music-vote-rooms/pkg/redis"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	jwt.Configure(cfg.JWTSecret, cfg.JWTTTL)

	db, err := openDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       0,
	})
	defer redisClient.Close()
	tokenStore := redis.NewTokenStore(redisClient, redis.DefaultRetention)

	spotifyClient := spotify.NewClient(
		cfg.Spotify.ClientID,
		cfg.Spotify.ClientSecret,
		cfg.Spotify.RedirectURI,
	).WithBaseURLs(cfg.Spotify.AccountsURL, cfg.Spotify.APIURL)

	opts := []room.Option{
		room.WithTokenStore(tokenStore),
		room.WithArchive(db),
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaClient := events.NewKafkaClient(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaClient.Close()
		opts = append(opts, room.WithEvents(kafkaClient))
	} else {
		logger.Info("KAFKA_BROKERS not set, room events are not published")
	}

	roomService := room.NewService(spotifyClient, room.Settings{
		TickInterval:         cfg.TickInterval,
		PlaylistRefreshTicks: cfg.PlaylistRefreshTicks,
		TokenRefreshTicks:    cfg.TokenRefreshTicks,
		SweepTicks:           cfg.SweepTicks,
		HostGrace:            cfg.HostGrace,
	}, logger, opts...)

	authHandler := auth.NewHandler(spotifyClient, tokenStore, db, cfg.FrontendURL, cfg.Production(), logger)
	roomHandler := room.NewHandler(roomService, authHandler, db, logger)
	wsHandler := ws.NewHandler(roomService, cfg.CORSOrigins, logger)

	router := newRouter(cfg, tokenStore, authHandler, roomHandler, wsHandler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		roomService.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", zap.Int("open_rooms", roomService.Registry().Len()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	<-janitorDone
	return nil
}

func newRouter(cfg *config.Config, tokens *redis.TokenStore, authHandler *auth.Handler, roomHandler *room.Handler, wsHandler *ws.Handler) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	router.GET("/health", func(c *gin.Context) {
		if err := tokens.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Redirect legacy Spotify OAuth callback to the API route
	router.GET("/auth/callback", func(c *gin.Context) {
		dest := "/api/v1/auth/callback"
		if raw := c.Request.URL.RawQuery; raw != "" {
			dest += "?" + raw
		}
		c.Redirect(http.StatusTemporaryRedirect, dest)
	})

	v1 := router.Group("/api/v1")
	authHandler.RegisterRoutes(v1)
	roomHandler.RegisterRoutes(v1, authHandler.AuthMiddleware(), auth.Session())
	v1.GET("/ws/:roomId", auth.OptionalSession(), wsHandler.HandleWebSocket)

	// Serve frontend static files and SPA fallback
	router.NoRoute(func(c *gin.Context) {
		filePath := filepath.Join("frontend/dist", filepath.Clean(c.Request.URL.Path))
		if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
			c.File(filePath)
			return
		}
		c.File("frontend/dist/index.html")
	})

	return router
}
