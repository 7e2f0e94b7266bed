// Package httpserver is the ambient ops HTTP surface: process liveness
// and read-only per-session state, grounded on api/node.go's gin route
// group plus swaggo wiring and cmd/master/main.go's router setup.
package httpserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// SessionInfo is one row of the /v1/sessions listing.
type SessionInfo struct {
	Exchange     string    `json:"exchange"`
	Symbol       string    `json:"symbol"`
	State        string    `json:"state"`
	LastUpdateAt time.Time `json:"last_update_at"`
}

// TransitionInfo is one row of a session's recorded state-transition
// history.
type TransitionInfo struct {
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	At        time.Time `json:"at"`
}

// SessionProvider is the subset of the engine the HTTP surface needs.
// Kept as an interface so this package never imports internal/session.
type SessionProvider interface {
	Sessions() []SessionInfo
	SessionTransitions(exchangeID, symbol string) ([]TransitionInfo, error)
}

// Server is the ops HTTP surface.
type Server struct {
	router   *gin.Engine
	provider SessionProvider
	logger   zerolog.Logger
}

// New builds the router with /healthz, /v1/sessions, and /swagger/*any.
func New(provider SessionProvider, logger zerolog.Logger) *Server {
	s := &Server{provider: provider, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.healthz)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/v1")
	v1.GET("/sessions", s.listSessions)
	v1.GET("/sessions/:exchange/:symbol/transitions", s.sessionTransitions)

	s.router = router
	return s
}

// Run blocks serving on addr.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// @Summary Liveness probe
// @Description Always returns 200 once the process is accepting requests
// @Produce json
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary List session states
// @Description Per-(exchange,symbol) lifecycle state and freshness, for operators
// @Produce json
// @Success 200 {array} SessionInfo
// @Router /v1/sessions [get]
func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.provider.Sessions())
}

// @Summary Session state-transition history
// @Description Chronological audit-trail rows for one (exchange,symbol) session
// @Produce json
// @Success 200 {array} TransitionInfo
// @Failure 404 {object} map[string]string
// @Router /v1/sessions/{exchange}/{symbol}/transitions [get]
func (s *Server) sessionTransitions(c *gin.Context) {
	transitions, err := s.provider.SessionTransitions(c.Param("exchange"), c.Param("symbol"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, transitions)
}
