package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "constructlink/api/swagger"
	"constructlink/internal/config"
	"constructlink/internal/database"
	"constructlink/internal/handler"
	"constructlink/internal/metrics"
	"constructlink/internal/middleware"
	"constructlink/internal/repository"
	"constructlink/internal/scheduler"
	"constructlink/internal/service"
	"constructlink/internal/websocket"
	"constructlink/internal/workflow"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func serveCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket hub and overdue sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(*envFile)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

// app holds the wired dependencies shared by the server and the maintenance commands.
type app struct {
	db        *gorm.DB
	auth      *middleware.Authenticator
	roles     *workflow.RoleResolver
	metrics   *metrics.Metrics
	hub       *websocket.Hub
	transfers service.TransferService
	users     service.UserService
	audit     service.AuditService
	projects  repository.ProjectRepository
	assets    repository.AssetRepository
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := database.NewConnection(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return wire(db, cfg, logger), nil
}

func wire(db *gorm.DB, cfg *config.Config, logger *zap.Logger) *app {
	// Repository -> Service
	userRepo := repository.NewUserRepository(db)
	transferRepo := repository.NewTransferRepository(db)
	assetRepo := repository.NewAssetRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	txManager := repository.NewTransactionManager(db)

	roles := workflow.NewRoleResolver(nil)
	auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, userRepo)
	m := metrics.New()
	hub := websocket.NewHub(logger.Named("ws"))

	return &app{
		db:      db,
		auth:    auth,
		roles:   roles,
		metrics: m,
		hub:     hub,
		transfers: service.NewTransferService(transferRepo, assetRepo, projectRepo, auditRepo, txManager, roles,
			service.WithNotifier(hub),
			service.WithRecorder(m),
			service.WithLogger(logger.Named("transfers")),
		),
		users:    service.NewUserService(userRepo, auth),
		audit:    service.NewAuditService(auditRepo),
		projects: projectRepo,
		assets:   assetRepo,
	}
}

func (a *app) router(cfg *config.Config, logger *zap.Logger) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger.Named("http"), a.metrics))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.ExposeHeaders = []string{"Content-Disposition", "X-Request-ID"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(a.hub, c, func(token string) (workflow.Actor, error) {
			return a.auth.Resolve(c.Request.Context(), token)
		})
	})

	api := router.Group("")
	handler.NewUserHandler(a.users, a.auth, cfg.Release(), logger.Named("users")).RegisterRoutes(api)
	handler.NewTransferHandler(a.transfers, a.auth, a.roles, logger.Named("transfers")).RegisterRoutes(api)
	handler.NewAuditHandler(a.audit, a.auth, logger.Named("audit")).RegisterRoutes(api)
	return router
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	go a.hub.Run(ctx)

	sweeper, err := scheduler.NewOverdueSweeper(cfg.Scheduler.OverdueCron, a.transfers, a.hub, a.metrics, logger.Named("overdue"))
	if err != nil {
		return err
	}
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           a.router(cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr), zap.String("driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
