// Package server exposes the HTTP API for operating the monitor: accounts,
// posts, settings, session management and sweep control.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventscout/internal/store"
	"eventscout/pkg/auth"
	"eventscout/pkg/config"
	"eventscout/pkg/logger"
	"eventscout/pkg/models"
	"eventscout/pkg/monitor"
)

// Storage is the persistence surface the API handlers use
type Storage interface {
	CreateAccount(ctx context.Context, username, name, classificationMode string) (*models.Account, error)
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	UpdateAccount(ctx context.Context, id int64, name *string, active *bool, classificationMode *string) (*models.Account, error)
	DeleteAccount(ctx context.Context, id int64) error
	GetPost(ctx context.Context, id int64) (*models.Post, error)
	ListPosts(ctx context.Context, filter store.PostFilter) ([]models.Post, error)
	ClassifyPost(ctx context.Context, id int64, isEventPoster bool, confidence *float64) (*models.Post, error)
	LoadSettings(ctx context.Context) (*models.Settings, error)
	SaveSettings(ctx context.Context, settings *models.Settings) error
}

// Sweeper is the slice of the orchestrator the API needs
type Sweeper interface {
	SweepLatest(ctx context.Context, label string, postCount int) (models.SweepStats, error)
	Status() monitor.StatusSnapshot
	SetDirectSource(direct monitor.SourceAdapter)
}

// SessionManager stores Instagram sessions
type SessionManager interface {
	Store(session *auth.Session) error
	Delete(username string) error
}

// Server wires the HTTP routes
type Server struct {
	cfg      *config.Config
	db       Storage
	sweeper  Sweeper
	sessions SessionManager
	engine   *gin.Engine
	logger   logger.Logger
}

// New builds the server and registers all routes
func New(cfg *config.Config, db Storage, sweeper Sweeper, sessions SessionManager, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:      cfg,
		db:       db,
		sweeper:  sweeper,
		sessions: sessions,
		engine:   gin.New(),
		logger:   log,
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

// Handler returns the underlying HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the listener and shuts down cleanly on context cancellation
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.InfoWithFields("HTTP server listening", map[string]interface{}{
		"addr": s.cfg.Server.ListenAddr,
	})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// requestLogger tags every request with an id and logs its outcome
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		s.logger.DebugWithFields("request handled", map[string]interface{}{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start),
		})
	}
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.cfg.Images.Directory != "" {
		s.engine.Static("/images", s.cfg.Images.Directory)
	}

	api := s.engine.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.POST("/sweep", s.handleSweep)
		api.POST("/monitor/start", s.handleMonitorStart)
		api.POST("/monitor/stop", s.handleMonitorStop)

		api.GET("/accounts", s.handleListAccounts)
		api.POST("/accounts", s.handleCreateAccount)
		api.PATCH("/accounts/:id", s.handleUpdateAccount)
		api.DELETE("/accounts/:id", s.handleDeleteAccount)

		api.GET("/posts", s.handleListPosts)
		api.GET("/posts/:id", s.handleGetPost)
		api.POST("/posts/:id/classify", s.handleClassifyPost)

		api.GET("/settings", s.handleGetSettings)
		api.PUT("/settings", s.handleUpdateSettings)

		api.POST("/session", s.handleUploadSession)
		api.DELETE("/session", s.handleRemoveSession)
	}
}
