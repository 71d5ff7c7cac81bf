// internal/api/api.go
// HTTP surface: authentication endpoints, the hub upgrade path and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/erilali/chathub/internal/auth"
	"github.com/erilali/chathub/internal/hub"
	"github.com/erilali/chathub/internal/identity"
	"github.com/erilali/chathub/internal/logger"
)

const (
	version           = "1.0.0"
	maxRequestBody    = 1 << 16
	readHeaderTimeout = 10 * time.Second
)

// TokenIssuer mints access tokens from a credential pair.
type TokenIssuer interface {
	IssueToken(ctx context.Context, username, password string) (string, error)
}

// Server wires the HTTP routes to the issuer, the identity store and the hub.
type Server struct {
	issuer  TokenIssuer
	store   identity.Store
	hub     *hub.Hub
	origins *OriginPolicy
	logger  *logger.Logger
	router  *mux.Router
}

func NewServer(issuer TokenIssuer, store identity.Store, h *hub.Hub, origins *OriginPolicy, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		issuer:  issuer,
		store:   store,
		hub:     h,
		origins: origins,
		logger:  log,
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.origins.Middleware)

	api := s.router.PathPrefix("/api/authentication").Subrouter()
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost, http.MethodOptions)

	s.router.HandleFunc("/chatHub", s.hub.ServeWs).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down within grace.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Server started at %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type resultResponse struct {
	Result string   `json:"result"`
	Errors []string `json:"errors,omitempty"`
}

func (s *Server) decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var creds credentials
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, resultResponse{Result: "Invalid request body"})
		return creds, false
	}
	return creds, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.decodeCredentials(w, r)
	if !ok {
		return
	}
	s.logger.Infof("User attempting to login: %s", creds.Username)

	token, err := s.issuer.IssueToken(r.Context(), creds.Username, creds.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, resultResponse{Result: "Invalid username or password"})
		return
	case err != nil:
		s.logger.Err(err).Errorf("Login failed for %s", creds.Username)
		writeJSON(w, http.StatusInternalServerError, resultResponse{Result: "Login failed"})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.decodeCredentials(w, r)
	if !ok {
		return
	}
	s.logger.Infof("Registering user: %s", creds.Username)

	err := s.store.CreateUser(r.Context(), creds.Username, creds.Password)
	var verr *identity.ValidationError
	switch {
	case err == nil:
		s.logger.LogEvent("info", "user_registered", creds.Username, "")
		writeJSON(w, http.StatusOK, resultResponse{Result: "Registration successful"})
	case errors.As(err, &verr):
		s.logger.LogEvent("warn", "registration_failed", creds.Username, verr.Error())
		writeJSON(w, http.StatusBadRequest, resultResponse{Result: "Registration failed", Errors: verr.Reasons})
	default:
		s.logger.Err(err).Errorf("Registration failed for %s", creds.Username)
		writeJSON(w, http.StatusInternalServerError, resultResponse{Result: "Registration failed"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":      "ok",
		"version":     version,
		"connections": s.hub.Connections(),
		"relay":       s.hub.RelayName(),
	}
	if !s.hub.RelayConnected() {
		health["status"] = "degraded"
	}
	if pinger, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		storeStatus := "ok"
		if err := pinger.Ping(r.Context()); err != nil {
			storeStatus = "unavailable"
			health["status"] = "degraded"
		}
		health["identity_store"] = storeStatus
	}
	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
