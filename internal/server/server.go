package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/choreboard/internal/account"
	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/handler"
	"github.com/dukerupert/choreboard/internal/invite"
	"github.com/dukerupert/choreboard/internal/metrics"
	"github.com/dukerupert/choreboard/internal/middleware"
	"github.com/dukerupert/choreboard/internal/onboarding"
	"github.com/dukerupert/choreboard/internal/store"
	ws "github.com/dukerupert/choreboard/internal/websocket"
)

// Config carries the settings the server needs beyond the database.
type Config struct {
	InviteValidity  time.Duration
	CleanupInterval time.Duration
	// Mailer sends confirmation emails; nil disables delivery.
	Mailer auth.Mailer
	// AuthOptions are passed to the identity service, e.g. a lower hash cost
	// in tests.
	AuthOptions []auth.Option
}

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	authSvc     *auth.Service
	invites     *invite.Manager
	metrics     *metrics.Registry
	rateLimiter *middleware.RateLimiter
	cleaner     *Cleaner
	authH       *handler.AuthHandler
	onboardingH *handler.OnboardingHandler
	householdH  *handler.HouseholdHandler
	choreH      *handler.ChoreHandler
	logger      *slog.Logger
}

func New(db *sql.DB, cfg Config, reg *metrics.Registry, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	identityStore := store.NewIdentityStore(db)
	sessionStore := store.NewSessionStore(db)
	confirmationStore := store.NewEmailConfirmationStore(db)
	householdStore := store.NewHouseholdStore(db)
	choreStore := store.NewChoreStore(db)
	inviteStore := store.NewInviteCodeStore(db)

	authSvc := auth.NewService(userStore, identityStore, sessionStore, confirmationStore, householdStore, cfg.Mailer, logger, cfg.AuthOptions...)

	inviteOpts := []invite.Option{invite.WithLogger(logger), invite.WithMetrics(reg.Invites)}
	if cfg.InviteValidity > 0 {
		inviteOpts = append(inviteOpts, invite.WithValidity(cfg.InviteValidity))
	}
	invites := invite.NewManager(inviteStore, inviteOpts...)

	onboardingSvc := onboarding.NewService(householdStore, userStore, choreStore, invites, logger)
	upgrader := account.NewUpgrader(authSvc, userStore, logger)
	limiter := middleware.NewRateLimiter()

	return &Server{
		db:          db,
		hub:         hub,
		authSvc:     authSvc,
		invites:     invites,
		metrics:     reg,
		rateLimiter: limiter,
		cleaner:     NewCleaner(invites, sessionStore, confirmationStore, limiter, cfg.CleanupInterval, logger),
		authH:       handler.NewAuthHandler(authSvc, upgrader, logger.With("component", "auth_handler")),
		onboardingH: handler.NewOnboardingHandler(authSvc, onboardingSvc, invites, hub, logger.With("component", "onboarding_handler")),
		householdH:  handler.NewHouseholdHandler(householdStore, invites, hub, logger.With("component", "household_handler")),
		choreH:      handler.NewChoreHandler(choreStore, householdStore, hub, logger.With("component", "chore_handler")),
		logger:      logger,
	}
}

// Cleaner returns the expiry sweeper; the caller starts and stops it.
func (s *Server) Cleaner() *Cleaner {
	return s.cleaner
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes (no auth required)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.Handle("POST /api/auth/anonymous", s.rateLimited(10, s.authH.Anonymous))
	mux.Handle("POST /api/auth/signup", s.rateLimited(10, s.authH.SignUp))
	mux.Handle("POST /api/auth/signin", s.rateLimited(10, s.authH.SignIn))
	mux.HandleFunc("GET /api/auth/confirm", s.authH.Confirm)
	mux.Handle("POST /api/onboarding/create", s.rateLimited(10, s.onboardingH.Create))
	mux.Handle("POST /api/onboarding/join", s.rateLimited(10, s.onboardingH.Join))
	mux.Handle("GET /api/invite-codes/{code}", s.rateLimited(30, s.onboardingH.PreviewInvite))

	// Signed in, household optional
	mux.Handle("POST /api/auth/upgrade", s.authed(http.HandlerFunc(s.authH.Upgrade)))
	mux.Handle("POST /api/auth/profile", s.authed(http.HandlerFunc(s.authH.Profile)))
	mux.Handle("POST /api/auth/refresh", s.authed(http.HandlerFunc(s.authH.Refresh)))
	mux.Handle("POST /api/auth/signout", s.authed(http.HandlerFunc(s.authH.SignOut)))
	mux.Handle("GET /api/me", s.authed(http.HandlerFunc(s.authH.Me)))

	// Household members
	mux.Handle("GET /api/household", s.member(s.householdH.Get))
	mux.Handle("GET /api/household/members", s.member(s.householdH.Members))
	mux.Handle("GET /api/chores", s.member(s.choreH.List))
	mux.Handle("POST /api/chores/{id}/log", s.member(s.choreH.Log))
	mux.Handle("GET /api/chore-logs", s.member(s.choreH.Logs))
	mux.Handle("DELETE /api/chore-logs/{id}", s.member(s.choreH.DeleteLog))
	mux.Handle("GET /api/rankings", s.member(s.choreH.Rankings))
	mux.Handle("GET /api/dashboard", s.member(s.choreH.Dashboard))
	mux.Handle("GET /ws", s.member(s.hub.HandleWebSocket))

	// Household admins
	mux.Handle("PUT /api/household", s.admin(s.householdH.Update))
	mux.Handle("PUT /api/household/members/{id}/role", s.admin(s.householdH.UpdateMemberRole))
	mux.Handle("DELETE /api/household/members/{id}", s.admin(s.householdH.RemoveMember))
	mux.Handle("GET /api/household/invite", s.admin(s.householdH.ActiveInvite))
	mux.Handle("POST /api/household/invite", s.admin(s.householdH.CreateInvite))
	mux.Handle("POST /api/chores", s.admin(s.choreH.Create))
	mux.Handle("PUT /api/chores/{id}", s.admin(s.choreH.Update))
	mux.Handle("DELETE /api/chores/{id}", s.admin(s.choreH.Delete))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) authed(h http.Handler) http.Handler {
	return middleware.RequireAuth(s.authSvc, s.logger.With("component", "auth_middleware"))(h)
}

func (s *Server) member(h http.HandlerFunc) http.Handler {
	return s.authed(middleware.RequireHousehold(h))
}

func (s *Server) admin(h http.HandlerFunc) http.Handler {
	return s.authed(middleware.RequireHousehold(middleware.RequireAdmin(h)))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// rateLimited limits h to limit requests per minute per route and client IP.
func (s *Server) rateLimited(limit int, h http.HandlerFunc) http.Handler {
	rule := middleware.Rule{Limit: limit, Window: time.Minute}
	return middleware.RateLimit(s.rateLimiter, rule, middleware.RouteClientKey)(h)
}
