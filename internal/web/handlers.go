package web

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ambilio/workspace-console/internal/lifecycle"
	"github.com/ambilio/workspace-console/internal/metrics"
	"github.com/ambilio/workspace-console/internal/model"
)

const defaultTTLHours = 12

type authFormData struct {
	Error   string
	Message string
	Email   string
}

type typeOption struct {
	Value string
	Label string
}

type instanceCard struct {
	ID           string
	Type         string
	Label        string
	Status       string
	Running      bool
	Remaining    string
	Expiring     bool
	DeadlineUnix int64
	OpenURL      string
	HasURL       bool
}

type dashboardData struct {
	Email  string
	Banner string
	Types  []typeOption
	Cards  []instanceCard
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	if s.session.IsAuthenticated() {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	metrics.Default().IncCounter("console_page_requests_total", map[string]string{"page": "landing", "status": "ok"})
	render(w, http.StatusOK, "landing", nil)
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	if s.session.IsAuthenticated() {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	render(w, http.StatusOK, "login", authFormData{})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	password := r.FormValue("password")

	if _, err := s.session.Login(r.Context(), email, password); err != nil {
		metrics.Default().IncCounter("console_page_requests_total", map[string]string{"page": "login", "status": "error"})
		render(w, http.StatusUnauthorized, "login", authFormData{Error: err.Error(), Email: email})
		return
	}
	metrics.Default().IncCounter("console_page_requests_total", map[string]string{"page": "login", "status": "ok"})
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *Server) handleSignupForm(w http.ResponseWriter, r *http.Request) {
	render(w, http.StatusOK, "signup", authFormData{})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	password := r.FormValue("password")

	msg, err := s.session.Signup(r.Context(), email, password)
	if err != nil {
		render(w, http.StatusBadRequest, "signup", authFormData{Error: err.Error(), Email: email})
		return
	}
	// Signup does not log the account in; hand the user to the login form.
	render(w, http.StatusOK, "login", authFormData{Message: msg, Email: email})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.session.Logout()
	s.setBanner("")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	instances, err := s.lifecycle.List(r.Context())
	if err != nil {
		if s.redirectOnAuthFailure(w, err) {
			return
		}
		// Render the cached view with the failure in the banner; the
		// user re-triggers the refresh.
		s.setBanner(err.Error())
		instances = s.lifecycle.Snapshot()
	} else {
		s.setBanner("")
	}

	metrics.Default().IncCounter("console_page_requests_total", map[string]string{"page": "dashboard", "status": "ok"})
	render(w, http.StatusOK, "dashboard", s.dashboardData(instances))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	typ, _ := model.ParseWorkspaceType(r.FormValue("type"))
	ttl := defaultTTLHours
	if raw := r.FormValue("ttl_hours"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			ttl = n
		}
	}

	if _, err := s.lifecycle.Create(r.Context(), typ, ttl); err != nil {
		s.finishAction(w, r, err)
		return
	}
	// The created record may still be pending; re-list for the
	// authoritative state before rendering.
	s.reconcile(r)
	s.finishAction(w, r, nil)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	typ := model.WorkspaceType(r.FormValue("type"))

	if _, err := s.lifecycle.Start(r.Context(), id, typ); err != nil {
		s.finishAction(w, r, err)
		return
	}
	s.reconcile(r)
	s.finishAction(w, r, nil)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	typ := model.WorkspaceType(r.FormValue("type"))

	if _, err := s.lifecycle.Stop(r.Context(), id, typ); err != nil {
		s.finishAction(w, r, err)
		return
	}
	s.reconcile(r)
	s.finishAction(w, r, nil)
}

// handleOpen resolves the workspace URL, registers the instance with
// the keepalive tracker, and hands the browser over to the workspace.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var target string
	for _, inst := range s.lifecycle.Snapshot() {
		if inst.ID != id {
			continue
		}
		if url, ok := model.WorkspaceURL(s.routing, inst); ok {
			target = url
		}
		break
	}
	if target == "" {
		s.setBanner("workspace is not reachable yet")
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	s.tracker.MarkOpened(id)
	s.lifecycle.Heartbeat(r.Context(), id)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok := s.lifecycle.Heartbeat(r.Context(), id)
	if ok {
		s.tracker.MarkOpened(id)
	}
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"ok":false}`))
		return
	}
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// finishAction is the shared tail of every mutating dashboard handler:
// authorization failures route to login, everything else lands in the
// banner, success clears it.
func (s *Server) finishAction(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		s.setBanner("")
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	if s.redirectOnAuthFailure(w, err) {
		return
	}
	s.setBanner(err.Error())
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// redirectOnAuthFailure renders the session-expired interstitial. The
// page carries a short refresh delay so the message stays readable
// before the browser lands on the login form.
func (s *Server) redirectOnAuthFailure(w http.ResponseWriter, err error) bool {
	if !errors.Is(err, lifecycle.ErrUnauthorized) {
		return false
	}
	log.Printf("web session_expired redirecting=login")
	s.setBanner("")
	render(w, http.StatusUnauthorized, "authexpired", struct{ Message string }{Message: err.Error()})
	return true
}

// reconcile refreshes the cached view after a mutation. The mutation
// response alone is never trusted as the new state.
func (s *Server) reconcile(r *http.Request) {
	if _, err := s.lifecycle.List(r.Context()); err != nil {
		log.Printf("web reconcile_list_failed err=%v", err)
	}
}

func (s *Server) dashboardData(instances []model.Instance) dashboardData {
	now := s.now()

	data := dashboardData{Banner: s.currentBanner()}
	if id, ok := s.session.Identity(); ok {
		data.Email = id.Email
	}
	for _, typ := range model.WorkspaceTypes() {
		data.Types = append(data.Types, typeOption{Value: string(typ), Label: typ.Label()})
	}
	for _, inst := range instances {
		card := instanceCard{
			ID:      inst.ID,
			Type:    string(inst.Type),
			Label:   inst.Type.Label(),
			Status:  string(inst.Status),
			Running: inst.Status == model.StatusRunning,
		}
		if card.Running {
			card.Remaining = model.FormatRemaining(inst.Remaining(now))
			card.Expiring = inst.ExpiringSoon(now)
			card.DeadlineUnix = inst.Deadline().Unix()
			if url, ok := model.WorkspaceURL(s.routing, inst); ok {
				card.OpenURL = url
				card.HasURL = true
			}
		}
		data.Cards = append(data.Cards, card)
	}
	return data
}
