package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/configledger/internal/auth"
	"github.com/MarcoPoloResearchLab/configledger/internal/configs"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubSessionValidator struct {
	claims      auth.OperatorClaims
	validateErr error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.OperatorClaims, error) {
	return s.claims, s.validateErr
}

func newAuthContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/v1/configs/smtp", http.NoBody)
	request.Header.Set("Authorization", "Bearer some-token")
	ctx.Request = request
	return ctx, recorder
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	ctx, recorder := newAuthContext(t)
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{validateErr: auth.ErrExpiredSessionToken},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	ctx, recorder := newAuthContext(t)
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{validateErr: errors.New("signature mismatch")},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entries[0].Level)
	}
}

func TestAuthorizeRequestStoresActorFromClaims(t *testing.T) {
	ctx, recorder := newAuthContext(t)
	handler := &httpHandler{
		sessions: stubSessionValidator{claims: auth.OperatorClaims{Email: "ops@example.com", RegisteredClaims: jwt.RegisteredClaims{Subject: "operator-7"}}},
		logger:   zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusOK)
	}
	actor := actorFromContext(ctx)
	expected := configs.Actor{ID: "operator-7", Email: "ops@example.com"}
	if actor != expected {
		t.Fatalf("unexpected actor: got %+v, want %+v", actor, expected)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	fixture := newRouterFixture(t)
	request := httptest.NewRequest(http.MethodGet, "/api/v1/stats", http.NoBody)
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, recorder.Code)
	}

	cookieRequest := httptest.NewRequest(http.MethodGet, "/api/v1/stats", http.NoBody)
	cookieRequest.AddCookie(&http.Cookie{Name: testCookieName, Value: fixture.token})
	cookieRecorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(cookieRecorder, cookieRequest)
	if cookieRecorder.Code != http.StatusOK {
		t.Fatalf("expected cookie session to be accepted, got %d: %s", cookieRecorder.Code, cookieRecorder.Body.String())
	}
}

func TestHealthAndMetricsAreUnauthenticated(t *testing.T) {
	fixture := newRouterFixture(t)
	for _, path := range []string{"/healthz", "/metrics"} {
		recorder := httptest.NewRecorder()
		fixture.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected %s to answer %d, got %d", path, http.StatusOK, recorder.Code)
		}
	}
}
