package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	DB "docindex/internal/db"
	"docindex/pkg/logger"
)

type Server struct {
	router  *gin.Engine
	db      *DB.DB
	timeout time.Duration
}

// New creates a new server instance
func New(db *DB.DB) *Server {
	s := &Server{
		db:      db,
		router:  gin.New(),
		timeout: db.Config().RequestTimeout,
	}
	s.router.Use(recovery(), accessLog(), deadline(s.timeout))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleHealthCheck())
	s.router.GET("/health", s.handleHealthCheck())

	s.router.POST("/v1/indexes", s.handleCreateIndex())
	s.router.GET("/v1/indexes", s.handleListIndexes())
	s.router.DELETE("/v1/indexes/:name", s.handleDeleteIndex())

	s.router.POST("/v1/indexes/:name/documents", s.handleAddDocuments())
	s.router.GET("/v1/indexes/:name/documents", s.handleListDocuments())
	s.router.GET("/v1/indexes/:name/documents/:id", s.handleGetDocument())

	s.router.POST("/v1/search", s.handleSearch())
	s.router.POST("/v1/embeddings", s.handleGetEmbeddings())
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
