package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rashoti/backend/internal/auth"
	"rashoti/backend/internal/config"
	"rashoti/backend/internal/model"
	"rashoti/backend/internal/moodle"
	"rashoti/backend/internal/ratelimit"
	"rashoti/backend/internal/service"
)

type Server struct {
	cfg     config.Config
	auth    *service.AuthService
	courses *moodle.Client
	limiter *ratelimit.LoginLimiter
}

// NewServer wires the HTTP surface. limiter may be nil (throttle disabled).
func NewServer(cfg config.Config, authService *service.AuthService, courses *moodle.Client, limiter *ratelimit.LoginLimiter) *Server {
	return &Server{
		cfg:     cfg,
		auth:    authService,
		courses: courses,
		limiter: limiter,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "rashoti-backend"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)
	r.With(s.authMiddleware).Get("/api/auth/me", s.handleGetMe)
	r.With(s.authMiddleware).Get("/api/courses", s.handleGetCourses)

	return r
}

// Auth

type claimsKey struct{}

// authMiddleware is the request gate: it rejects before any handler runs
// and attaches verified claims to the request context. The token error
// class is logged, never returned.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			log.Printf("auth: rejected token (%s)", auth.ClassifyTokenError(err))
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// Handlers

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"user_type"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

// userResponse is the public user view; the password hash never leaves the
// service boundary.
type userResponse struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	Name         string  `json:"name"`
	Role         string  `json:"user_type"`
	ProfileImage *string `json:"profile_image,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func mapUserResponse(user *model.User) userResponse {
	return userResponse{
		ID:           user.ID,
		Email:        user.Email,
		Name:         user.Name,
		Role:         user.Role,
		ProfileImage: user.ProfileImage,
		CreatedAt:    user.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_email")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password_too_short")
		return
	}
	if utf8.RuneCountInString(req.Name) < 2 {
		writeError(w, http.StatusBadRequest, "name_too_short")
		return
	}

	user, err := s.auth.Register(r.Context(), service.RegisterParams{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     req.Role,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRole):
			writeError(w, http.StatusBadRequest, "invalid_role")
		case errors.Is(err, service.ErrEmailTaken):
			writeError(w, http.StatusBadRequest, "user_exists")
		default:
			log.Printf("register failed: %v", err)
			writeError(w, http.StatusInternalServerError, "server_error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, mapUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	ip := clientIP(r)
	if s.limiter != nil && !s.limiter.Allow(r.Context(), req.Email, ip) {
		writeError(w, http.StatusTooManyRequests, "too_many_attempts")
		return
	}

	token, user, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			if s.limiter != nil {
				s.limiter.RecordFailure(r.Context(), req.Email, ip)
			}
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		log.Printf("login failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	if s.limiter != nil {
		s.limiter.Reset(r.Context(), req.Email, ip)
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: token,
		User:  mapUserResponse(user),
	})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	user, err := s.auth.GetByID(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		log.Printf("me lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, mapUserResponse(user))
}

func (s *Server) handleGetCourses(w http.ResponseWriter, r *http.Request) {
	if s.courses == nil || !s.courses.Configured() {
		writeError(w, http.StatusServiceUnavailable, "courses_unavailable")
		return
	}

	courses, err := s.courses.Courses(r.Context())
	if err != nil {
		log.Printf("courses fetch failed: %v", err)
		writeError(w, http.StatusBadGateway, "courses_fetch_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"courses": courses})
}

// Helpers

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return ""
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]interface{}{"error": code, "status": status})
}
