package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"repotrack/internal/config"
	"repotrack/internal/database"
	"repotrack/internal/store"
)

// Server is the HTTP transport over the repository store. It owns no
// business rules: it binds requests, calls the store, and translates the
// error taxonomy to status codes.
type Server struct {
	router     *gin.Engine
	config     *config.Config
	db         *database.Database
	store      *store.Store
	logger     zerolog.Logger
	httpServer *http.Server
}

// NewServer creates the HTTP server with routing, CORS and logging set up.
func NewServer(cfg *config.Config, db *database.Database, repoStore *store.Store, logger zerolog.Logger) (*Server, error) {
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	corsConfig := cors.DefaultConfig()
	if len(cfg.HTTP.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.HTTP.AllowOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	server := &Server{
		router: router,
		config: cfg,
		db:     db,
		store:  repoStore,
		logger: logger,
	}

	server.setupRoutes()

	return server, nil
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.healthHandler)

	// Swagger documentation
	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		repos := v1.Group("/repositories")
		{
			repos.GET("", s.listRepositoriesHandler)
			repos.POST("", s.createRepositoryHandler)

			single := repos.Group("/:owner/:repo")
			{
				single.GET("", s.getRepositoryHandler)
				single.PATCH("", s.updateRepositoryHandler)
				single.DELETE("", s.deleteRepositoryHandler)

				single.GET("/comments", s.listCommentsHandler)
				single.POST("/comments", s.addCommentHandler)

				single.GET("/versions", s.listVersionSnapshotsHandler)
				single.POST("/versions", s.addVersionSnapshotHandler)

				single.GET("/history", s.listHistoryHandler)
			}
		}
	}
}

// Router exposes the gin engine (for tests).
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start begins serving HTTP on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	s.logger.Info().Str("address", addr).Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports process and database health.
// @Summary Health check
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if s.db != nil {
		if err := s.db.Health(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{"status": status})
}
