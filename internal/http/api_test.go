package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"account-service/internal/auth"
	"account-service/internal/domain"
	"account-service/internal/repository/memory"
	"account-service/internal/service"
)

const password32 = "0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	repo   *memory.AccountRepository
	issuer *auth.JWTIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	issuer, err := auth.NewJWTIssuer("test-secret")
	require.NoError(t, err)
	logger, _ := logtest.NewNullLogger()

	repo := memory.NewAccountRepository()
	svc := service.NewAccountService(repo, auth.NewBcryptHasher(bcrypt.MinCost), issuer, 24*time.Hour, logger)

	router := gin.New()
	handler, err := NewHandler(svc, logger)
	require.NoError(t, err)
	handler.RegisterRoutes(router)
	return &testServer{router: router, repo: repo, issuer: issuer}
}

func (s *testServer) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()

	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func aliceBody() map[string]any {
	return map[string]any{
		"userName": "alice",
		"passWord": password32,
		"email":    "a@x.com",
		"phone":    "+15551234567",
	}
}

func TestSignup_SuccessThenConflict(t *testing.T) {
	s := newTestServer(t)

	code, body := s.post(t, "/signup", aliceBody())
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["status"])
	assert.Equal(t, "signup succeeded", body["msg"])
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	claims, err := s.issuer.Parse(token)
	require.NoError(t, err)
	stored, err := s.repo.GetByUserName(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, stored.ID, claims.User.ID)

	code, body = s.post(t, "/signup", aliceBody())
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, map[string]any{"status": float64(400), "msg": "username already registered"}, body)
	assert.Equal(t, 1, s.repo.Len())
}

func TestSignup_EmailAndPhoneConflicts(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.post(t, "/signup", aliceBody())
	require.Equal(t, http.StatusOK, code)

	other := aliceBody()
	other["userName"] = "bob"
	_, body := s.post(t, "/signup", other)
	assert.Equal(t, "email already registered", body["msg"])

	other["email"] = "b@x.com"
	_, body = s.post(t, "/signup", other)
	assert.Equal(t, "phone already registered", body["msg"])
}

func TestSignup_IgnoresLevel(t *testing.T) {
	s := newTestServer(t)

	in := aliceBody()
	in["level"] = 99
	code, _ := s.post(t, "/signup", in)
	require.Equal(t, http.StatusOK, code)

	stored, err := s.repo.GetByUserName(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultLevel, stored.Level)
}

func TestSignup_ValidationListsEveryField(t *testing.T) {
	s := newTestServer(t)

	code, body := s.post(t, "/signup", map[string]any{
		"userName": "",
		"passWord": "short",
		"email":    "not-an-email",
		"phone":    "phone",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.EqualValues(t, 400, body["status"])
	assert.Equal(t, "signup failed", body["msg"])

	items, ok := body["error"].([]any)
	require.True(t, ok)
	params := map[string]string{}
	for _, item := range items {
		m := item.(map[string]any)
		params[m["param"].(string)] = m["msg"].(string)
		assert.Equal(t, "body", m["location"])
	}
	assert.Equal(t, map[string]string{
		"userName": "invalid username format",
		"passWord": "invalid password format",
		"email":    "invalid email format",
		"phone":    "invalid phone format",
	}, params)
	assert.Equal(t, 0, s.repo.Len())
}

func TestSignup_EmptyAndMalformedBody(t *testing.T) {
	s := newTestServer(t)

	code, body := s.post(t, "/signup", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Len(t, body["error"], 4)

	code, body = s.post(t, "/signup", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "signup failed", body["msg"])
	assert.Len(t, body["error"], 1)
}

func TestLogin_Success(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.post(t, "/signup", aliceBody())
	require.Equal(t, http.StatusOK, code)
	before, err := s.repo.GetByUserName(context.Background(), "alice")
	require.NoError(t, err)

	code, body := s.post(t, "/login", map[string]any{
		"userName":     "alice",
		"passWord":     password32,
		"validityTime": "3600",
	})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["status"])
	assert.Equal(t, "login succeeded", body["msg"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "alice", data["userName"])
	gap := data["loginTimeGap"].(float64)
	assert.GreaterOrEqual(t, gap, float64(0))
	assert.LessOrEqual(t, gap, float64(5))

	claims, err := s.issuer.Parse(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, before.ID, claims.User.ID)

	after, err := s.repo.GetByUserName(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, after.LastLoginDate.Before(before.LastLoginDate))
}

func TestLogin_Rejections(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.post(t, "/signup", aliceBody())
	require.Equal(t, http.StatusOK, code)

	tests := []struct {
		name string
		body map[string]any
		msg  string
	}{
		{name: "unknown user", body: map[string]any{"userName": "bob", "passWord": password32, "validityTime": "60"}, msg: "user does not exist"},
		{name: "wrong password", body: map[string]any{"userName": "alice", "passWord": strings.Repeat("x", 32), "validityTime": "60"}, msg: "incorrect password"},
		{name: "bad validity", body: map[string]any{"userName": "alice", "passWord": password32, "validityTime": "abc"}, msg: "invalid validity time format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := s.post(t, "/login", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, map[string]any{"status": float64(400), "msg": tt.msg}, body)
		})
	}
}

func TestLogin_Validation(t *testing.T) {
	s := newTestServer(t)

	code, body := s.post(t, "/login", map[string]any{"userName": "alice", "passWord": "short"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "login failed", body["msg"])

	items := body["error"].([]any)
	params := make([]string, 0, len(items))
	for _, item := range items {
		params = append(params, item.(map[string]any)["param"].(string))
	}
	assert.ElementsMatch(t, []string{"passWord", "validityTime"}, params)
}

func TestServiceErrorsAre500(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	router := gin.New()
	handler, err := NewHandler(failingService{err: errors.New("db down")}, logger)
	require.NoError(t, err)
	handler.RegisterRoutes(router)
	s := &testServer{router: router}

	code, body := s.post(t, "/signup", aliceBody())
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, map[string]any{"status": float64(500), "msg": "signup service error", "error": "db down"}, body)

	code, body = s.post(t, "/login", map[string]any{"userName": "alice", "passWord": password32, "validityTime": "1"})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, map[string]any{"status": float64(500), "msg": "login service error", "error": "db down"}, body)

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Message == "login failed" {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestRequestIDAndHealth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRegisterValidators(t *testing.T) {
	require.NoError(t, registerValidators())
	require.NoError(t, registerValidators())

	s := newTestServer(t)
	in := aliceBody()
	in["phone"] = "555-123-4567"
	code, body := s.post(t, "/signup", in)
	assert.Equal(t, http.StatusBadRequest, code)

	items := body["error"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "phone", item["param"])
	assert.Equal(t, "invalid phone format", item["msg"])
}

func TestMobilePattern(t *testing.T) {
	for _, phone := range []string{"+15551234567", "13800138000", "+8613800138000"} {
		assert.True(t, mobilePattern.MatchString(phone), phone)
	}
	for _, phone := range []string{"", "123", "+0123456789", "555-123-4567", "phone"} {
		assert.False(t, mobilePattern.MatchString(phone), phone)
	}
}

type failingService struct{ err error }

func (s failingService) Signup(context.Context, service.SignupInput) (*service.SignupResult, error) {
	return nil, s.err
}

func (s failingService) Login(context.Context, service.LoginInput) (*service.LoginResult, error) {
	return nil, s.err
}
