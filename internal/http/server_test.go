package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"rashoti/backend/internal/auth"
	"rashoti/backend/internal/config"
	"rashoti/backend/internal/model"
	"rashoti/backend/internal/moodle"
	"rashoti/backend/internal/ratelimit"
	"rashoti/backend/internal/repository"
	"rashoti/backend/internal/service"
)

type memoryDirectory struct {
	byEmail map[string]*model.User
	byID    map[string]*model.User
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{
		byEmail: map[string]*model.User{},
		byID:    map[string]*model.User{},
	}
}

func (m *memoryDirectory) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return m.byEmail[strings.ToLower(email)], nil
}

func (m *memoryDirectory) GetUserByID(_ context.Context, userID string) (*model.User, error) {
	return m.byID[userID], nil
}

func (m *memoryDirectory) CreateUserWithProfile(_ context.Context, user model.User) error {
	if _, ok := m.byEmail[user.Email]; ok {
		return repository.ErrEmailTaken
	}
	stored := user
	m.byEmail[user.Email] = &stored
	m.byID[user.ID] = &stored
	return nil
}

func testConfig() config.Config {
	return config.Config{
		HTTPAddr:       ":0",
		JWTSecret:      "test-secret",
		JWTIssuer:      "test-issuer",
		AccessTokenTTL: 15 * time.Minute,
	}
}

func newTestApp(t *testing.T, limiter *ratelimit.LoginLimiter, courses *moodle.Client) *httptest.Server {
	t.Helper()
	cfg := testConfig()
	svc, err := service.NewAuthService(newMemoryDirectory(), cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL)
	if err != nil {
		t.Fatalf("service init error: %v", err)
	}
	app := httptest.NewServer(NewServer(cfg, svc, courses, limiter).Router())
	t.Cleanup(app.Close)
	return app
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal error: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do error: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return payload
}

func TestRegisterLoginMeFlow(t *testing.T) {
	app := newTestApp(t, nil, nil)

	resp := doReq(t, http.MethodPost, app.URL+"/api/auth/register", "", map[string]string{
		"email":     "a@x.com",
		"password":  "password1",
		"name":      "Ann",
		"user_type": "student",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	registered := decodeBody(t, resp)
	if registered["email"] != "a@x.com" || registered["user_type"] != "student" {
		t.Fatalf("unexpected register response: %v", registered)
	}
	for key := range registered {
		if strings.Contains(key, "password") || strings.Contains(key, "hash") {
			t.Fatalf("response leaks credential field %q", key)
		}
	}

	resp = doReq(t, http.MethodPost, app.URL+"/api/auth/login", "", map[string]string{
		"email":    "a@x.com",
		"password": "password1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	loggedIn := decodeBody(t, resp)
	token, _ := loggedIn["token"].(string)
	if token == "" {
		t.Fatalf("expected token in login response")
	}

	claims, err := auth.ParseToken("test-secret", "test-issuer", token)
	if err != nil {
		t.Fatalf("token parse error: %v", err)
	}
	if claims.Role != "student" || claims.Email != "a@x.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	resp = doReq(t, http.MethodGet, app.URL+"/api/auth/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	me := decodeBody(t, resp)
	if me["name"] != "Ann" || me["id"] != registered["id"] {
		t.Fatalf("unexpected me response: %v", me)
	}

	resp = doReq(t, http.MethodGet, app.URL+"/api/auth/me", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", resp.StatusCode)
	}
}

func TestMeRejectsExpiredToken(t *testing.T) {
	app := newTestApp(t, nil, nil)

	expired, err := auth.NewAccessToken("test-secret", "test-issuer", -time.Minute, auth.Claims{
		Email:            "a@x.com",
		Role:             "student",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	resp := doReq(t, http.MethodGet, app.URL+"/api/auth/me", expired, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", resp.StatusCode)
	}
}

func TestMeRejectsTamperedToken(t *testing.T) {
	app := newTestApp(t, nil, nil)

	token, err := auth.NewAccessToken("test-secret", "test-issuer", time.Minute, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[5] == 'A' {
		sig[5] = 'B'
	} else {
		sig[5] = 'A'
	}

	resp := doReq(t, http.MethodGet, app.URL+"/api/auth/me", parts[0]+"."+parts[1]+"."+string(sig), nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered token, got %d", resp.StatusCode)
	}
}

func TestRegisterValidation(t *testing.T) {
	app := newTestApp(t, nil, nil)

	cases := []struct {
		name string
		body map[string]string
		code string
	}{
		{"bad email", map[string]string{"email": "not-an-email", "password": "password1", "name": "Ann", "user_type": "student"}, "invalid_email"},
		{"short password", map[string]string{"email": "a@x.com", "password": "short", "name": "Ann", "user_type": "student"}, "password_too_short"},
		{"short name", map[string]string{"email": "a@x.com", "password": "password1", "name": "A", "user_type": "student"}, "name_too_short"},
		{"bad role", map[string]string{"email": "a@x.com", "password": "password1", "name": "Ann", "user_type": "admin"}, "invalid_role"},
	}
	for _, tc := range cases {
		resp := doReq(t, http.MethodPost, app.URL+"/api/auth/register", "", tc.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, resp.StatusCode)
		}
		payload := decodeBody(t, resp)
		if payload["error"] != tc.code {
			t.Fatalf("%s: expected error %q, got %v", tc.name, tc.code, payload["error"])
		}
		if payload["status"] != float64(http.StatusBadRequest) {
			t.Fatalf("%s: expected status field in envelope, got %v", tc.name, payload["status"])
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	app := newTestApp(t, nil, nil)

	body := map[string]string{"email": "a@x.com", "password": "password1", "name": "Ann", "user_type": "teacher"}
	if resp := doReq(t, http.MethodPost, app.URL+"/api/auth/register", "", body); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp := doReq(t, http.MethodPost, app.URL+"/api/auth/register", "", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate, got %d", resp.StatusCode)
	}
	if payload := decodeBody(t, resp); payload["error"] != "user_exists" {
		t.Fatalf("expected user_exists, got %v", payload["error"])
	}
}

func TestLoginFailuresShareOneShape(t *testing.T) {
	app := newTestApp(t, nil, nil)

	body := map[string]string{"email": "a@x.com", "password": "password1", "name": "Ann", "user_type": "parent"}
	if resp := doReq(t, http.MethodPost, app.URL+"/api/auth/register", "", body); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	wrongPassword := doReq(t, http.MethodPost, app.URL+"/api/auth/login", "", map[string]string{"email": "a@x.com", "password": "wrong-password"})
	unknownEmail := doReq(t, http.MethodPost, app.URL+"/api/auth/login", "", map[string]string{"email": "nobody@x.com", "password": "password1"})

	if wrongPassword.StatusCode != http.StatusUnauthorized || unknownEmail.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", wrongPassword.StatusCode, unknownEmail.StatusCode)
	}
	first := decodeBody(t, wrongPassword)
	second := decodeBody(t, unknownEmail)
	if first["error"] != second["error"] {
		t.Fatalf("expected identical error bodies, got %v vs %v", first["error"], second["error"])
	}
}

func TestLoginThrottle(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.NewLoginLimiter(client, 2, time.Minute)
	app := newTestApp(t, limiter, nil)

	body := map[string]string{"email": "a@x.com", "password": "wrong-password"}
	for i := 0; i < 2; i++ {
		if resp := doReq(t, http.MethodPost, app.URL+"/api/auth/login", "", body); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 on attempt %d, got %d", i, resp.StatusCode)
		}
	}
	resp := doReq(t, http.MethodPost, app.URL+"/api/auth/login", "", body)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", resp.StatusCode)
	}
}

func TestCoursesEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"shortname":"mathP1","fullname":"KCSE Mathematics","summary":""}]`))
	}))
	defer upstream.Close()

	app := newTestApp(t, nil, moodle.NewClient(upstream.URL, "tok"))

	token, err := auth.NewAccessToken("test-secret", "test-issuer", time.Minute, auth.Claims{
		Email:            "a@x.com",
		Role:             "student",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	if resp := doReq(t, http.MethodGet, app.URL+"/api/courses", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp := doReq(t, http.MethodGet, app.URL+"/api/courses", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	payload := decodeBody(t, resp)
	if _, ok := payload["courses"]; !ok {
		t.Fatalf("expected courses key, got %v", payload)
	}
}

func TestCoursesUnconfigured(t *testing.T) {
	app := newTestApp(t, nil, moodle.NewClient("", ""))

	token, err := auth.NewAccessToken("test-secret", "test-issuer", time.Minute, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	resp := doReq(t, http.MethodGet, app.URL+"/api/courses", token, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, nil, nil)
	resp := doReq(t, http.MethodGet, app.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	payload := decodeBody(t, resp)
	if payload["status"] != "healthy" {
		t.Fatalf("unexpected health payload: %v", payload)
	}
}
