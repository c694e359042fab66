package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ambilio/workspace-console/internal/keepalive"
	"github.com/ambilio/workspace-console/internal/metrics"
	"github.com/ambilio/workspace-console/internal/model"
	"github.com/ambilio/workspace-console/internal/session"
)

// SessionManager is the slice of the session manager the console pages
// need.
type SessionManager interface {
	Login(ctx context.Context, email, password string) (string, error)
	Signup(ctx context.Context, email, password string) (string, error)
	Logout()
	IsAuthenticated() bool
	Identity() (session.Identity, bool)
}

// Lifecycle is the instance client surface consumed by the dashboard.
type Lifecycle interface {
	List(ctx context.Context) ([]model.Instance, error)
	Create(ctx context.Context, typ model.WorkspaceType, ttlHours int) (model.Instance, error)
	Start(ctx context.Context, id string, typ model.WorkspaceType) (model.Instance, error)
	Stop(ctx context.Context, id string, typ model.WorkspaceType) (model.Instance, error)
	Heartbeat(ctx context.Context, id string) bool
	Snapshot() []model.Instance
}

type Server struct {
	routing   model.Routing
	session   SessionManager
	lifecycle Lifecycle
	tracker   *keepalive.Tracker
	now       func() time.Time

	// banner holds the most recent operation error. It stays visible
	// until a later operation succeeds or supersedes it.
	mu     sync.Mutex
	banner string
}

func NewServer(routing model.Routing, sess SessionManager, lc Lifecycle, tracker *keepalive.Tracker) *Server {
	return &Server{
		routing:   routing,
		session:   sess,
		lifecycle: lc,
		tracker:   tracker,
		now:       time.Now,
	}
}

func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/metrics", metrics.Default().Handler().ServeHTTP)

	r.Get("/", s.handleLanding)
	r.Get("/login", s.handleLoginForm)
	r.Post("/login", s.handleLogin)
	r.Get("/signup", s.handleSignupForm)
	r.Post("/signup", s.handleSignup)
	r.Post("/logout", s.handleLogout)

	r.Route("/dashboard", func(d chi.Router) {
		d.Use(s.requireSession)
		d.Get("/", s.handleDashboard)
		d.Post("/create", s.handleCreate)
		d.Post("/instances/{id}/start", s.handleStart)
		d.Post("/instances/{id}/stop", s.handleStop)
		d.Post("/instances/{id}/open", s.handleOpen)
		d.Post("/instances/{id}/heartbeat", s.handleHeartbeat)
	})

	return r
}

// requireSession gates the dashboard on token presence. Whether the
// token is still valid only surfaces on the next control-plane call.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.session.IsAuthenticated() {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) setBanner(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banner = msg
}

func (s *Server) currentBanner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banner
}
