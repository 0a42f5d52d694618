// Package server exposes the recognition service over HTTP. The
// public API carries the matching flows; /admin adds a session-guarded
// CRUD surface for catalog maintenance.
package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	anerkennung "github.com/jonathanglasmeyer/haw-modul-anerkennung"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/logging"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/matching"
)

// Server wires the service facade into a gin router.
type Server struct {
	svc      *anerkennung.Service
	cfg      anerkennung.ServerConfig
	log      *logging.Logger
	sessions *sessionStore
	engine   *gin.Engine
}

// New builds the router. The returned Server serves via Handler().
func New(svc *anerkennung.Service, cfg anerkennung.ServerConfig, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	s := &Server{
		svc:      svc,
		cfg:      cfg,
		log:      log.With("component", "http"),
		sessions: newSessionStore(),
	}
	s.engine = s.buildRouter()
	return s
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	corsCfg := cors.DefaultConfig()
	if len(s.cfg.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = s.cfg.CORSOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "X-API-Key", "Authorization")
	r.Use(cors.New(corsCfg))

	r.GET("/health", s.handleHealth)

	api := r.Group("/", s.requireAPIKey())
	{
		api.POST("/match", s.handleMatch)
		api.POST("/parse", s.handleParse)
		api.POST("/compare", s.handleCompare)
		api.POST("/compare-multiple", s.handleCompareMultiple)
		api.POST("/match-and-compare", s.handleMatchAndCompare)
		api.POST("/extract", s.handleExtract)
		api.POST("/sync", s.handleSync)
	}

	admin := r.Group("/admin")
	admin.POST("/login", s.handleLogin)
	authed := admin.Group("/", s.requireSession())
	{
		authed.POST("/logout", s.handleLogout)

		authed.GET("/units", s.handleListUnits)
		authed.GET("/units/:id", s.handleGetUnit)
		authed.POST("/units", s.handleCreateUnit)
		authed.PUT("/units/:id", s.handleUpdateUnit)
		authed.DELETE("/units/:id", s.handleDeleteUnit)

		authed.GET("/modules", s.handleListModules)
		authed.GET("/modules/:id", s.handleGetModule)
		authed.POST("/modules", s.handleCreateModule)
		authed.PUT("/modules/:id", s.handleUpdateModule)
		authed.DELETE("/modules/:id", s.handleDeleteModule)

		authed.GET("/persons", s.handleListPersons)
		authed.POST("/persons", s.handleCreatePerson)
		authed.PUT("/persons/:id", s.handleUpdatePerson)
		authed.DELETE("/persons/:id", s.handleDeletePerson)
	}

	return r
}

// requireAPIKey guards the public API with a static key. An empty
// configured key disables the check.
func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.APIKey == "" {
			c.Next()
			return
		}
		supplied := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.cfg.APIKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}
		c.Next()
	}
}

// requireSession guards the admin surface with a Bearer session token.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if !s.sessions.valid(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return ""
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Request.URL.Path == "/health" {
			return
		}
		s.log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
		)
	}
}

// fail maps service errors onto HTTP statuses.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, matching.ErrEmptyQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, matching.ErrUnitNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, matching.ErrSchemaViolation):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
