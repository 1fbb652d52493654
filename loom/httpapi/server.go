// Package httpapi exposes the chat and task surfaces over HTTP. Handlers
// translate between wire shapes and the runtime/store collaborators; all
// domain decisions, including the closed error vocabulary, live below
// this layer.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/taskloom/taskloom/loom/agent"
	"github.com/taskloom/taskloom/loom/agent/adapters"
	"github.com/taskloom/taskloom/loom/config"
	"github.com/taskloom/taskloom/loom/tasks"
)

// Server is the TaskLoom HTTP server.
type Server struct {
	cfg     *config.Config
	runtime *agent.Runtime
	store   *tasks.Store
	history *adapters.LibSQLConversationStore
	db      *sql.DB
	logger  zerolog.Logger
	router  *gin.Engine
}

// NewServer wires the router over an already-constructed runtime and
// task store. The db handle is used for the health probe only.
func NewServer(cfg *config.Config, runtime *agent.Runtime, store *tasks.Store, db *sql.DB, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		cfg:     cfg,
		runtime: runtime,
		store:   store,
		history: adapters.NewLibSQLConversationStore(db),
		db:      db,
		logger:  logger,
		router:  router,
	}

	router.Use(requestID(), requestLogger(logger), measure(), gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/chat", s.handleChat)
		api.GET("/conversations/:id/history", s.handleHistory)

		api.GET("/tasks", s.handleListTasks)
		api.POST("/tasks", s.handleCreateTask)
		api.PATCH("/tasks/:id", s.handleUpdateTask)
		api.POST("/tasks/:id/complete", s.handleCompleteTask)
		api.DELETE("/tasks/:id", s.handleDeleteTask)

		api.GET("/tasks/:id/subtasks", s.handleListSubtasks)
		api.POST("/tasks/:id/subtasks", s.handleCreateSubtask)
		api.PATCH("/subtasks/:id", s.handleUpdateSubtask)
		api.DELETE("/subtasks/:id", s.handleDeleteSubtask)
	}

	return s
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully within
// the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.db.PingContext(c.Request.Context()); err != nil {
		s.logger.Error().Err(err).Msg("health probe failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
