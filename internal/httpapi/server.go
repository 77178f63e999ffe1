package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/relay"
	"github.com/BrandonDHaskell/Argus/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/internal/auth"
)

type Dependencies struct {
	Logger         *log.Logger
	Addr           string
	ExamService    *service.ExamService
	Relay          *relay.Relay
	Validator      *auth.Validator
	RateLimiter    *RateLimiter // optional
	AllowedOrigins []string     // websocket origins; empty allows any
}

type Server struct {
	httpServer  *http.Server
	logger      *log.Logger
	mux         *http.ServeMux
	examService *service.ExamService
	relay       *relay.Relay
	validator   *auth.Validator
	monitor     *monitorHub
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		logger:      logger,
		mux:         mux,
		examService: d.ExamService,
		relay:       d.Relay,
		validator:   d.Validator,
	}
	s.monitor = newMonitorHub(s, d.AllowedOrigins)

	student := []types.Role{types.RoleStudent}
	admin := []types.Role{types.RoleAdmin}
	reporter := []types.Role{types.RoleStudent, types.RoleAdmin}

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Examinee
	mux.Handle("POST /exam/start", s.require(s.handleStart, student...))
	mux.Handle("GET /exam/{id}", s.require(s.handleGet, reporter...))
	mux.Handle("POST /exam/{id}/answer", s.require(s.handleAnswer, student...))
	mux.Handle("POST /exam/{id}/complete", s.require(s.handleComplete, student...))
	mux.Handle("POST /exam/{id}/violations", s.require(s.handleViolation, reporter...))
	mux.Handle("POST /exam/{id}/proctor", s.require(s.handleLegacyProctor, student...))

	// Monitoring
	mux.Handle("GET /exam/active", s.require(s.handleListActive, admin...))
	mux.Handle("GET /exam/flagged", s.require(s.handleListFlagged, admin...))
	mux.Handle("POST /exam/{id}/terminate", s.require(s.handleTerminate, admin...))
	mux.Handle("POST /exam/{id}/clear-flag", s.require(s.handleClearFlag, admin...))
	mux.Handle("GET /exam/monitor", s.require(s.monitor.serve, admin...))

	var handler http.Handler = mux
	if d.RateLimiter != nil {
		handler = d.RateLimiter.Middleware(handler)
	}
	handler = loggingMiddleware(logger, handler)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests and closes open monitor sockets.
func (s *Server) Shutdown(ctx context.Context) error {
	s.monitor.closeAll()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) require(h http.HandlerFunc, roles ...types.Role) http.Handler {
	return auth.Require(s.validator, s.writeServiceError, roles...)(h)
}

// caller is only called behind require, which guarantees a caller.
func caller(r *http.Request) types.Caller {
	c, _ := auth.CallerFrom(r.Context())
	return c
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "time": time.Now().UTC()})
}
