package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/configledger/internal/auth"
	"github.com/MarcoPoloResearchLab/configledger/internal/configs"
	"github.com/MarcoPoloResearchLab/configledger/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "server-test-signing-secret"
	testCookieName    = "configledger_session"
)

type routerFixture struct {
	handler  http.Handler
	service  *configs.Service
	realtime *RealtimeDispatcher
	metrics  *metrics.Metrics
	token    string
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := configs.NewRegistry([]string{"feature_flags"})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	collectors := metrics.New()
	dispatcher := NewRealtimeDispatcher(collectors)
	service, err := configs.NewService(configs.ServiceConfig{
		Store:      configs.NewMemoryStore(),
		Registry:   registry,
		Masker:     configs.NewSecretMasker(nil),
		IDProvider: configs.NewUUIDProvider(),
		Publisher:  dispatcher,
		Recorder:   collectors,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}
	handler, err := NewHTTPHandler(Dependencies{
		Service:          service,
		SessionValidator: validator,
		Realtime:         dispatcher,
		Metrics:          collectors,
		Logger:           zap.NewNop(),
		AllowedOrigins:   []string{"*"},
		FeedHeartbeat:    50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to build http handler: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	token, _, err := issuer.IssueSessionToken(context.Background(), auth.OperatorIdentity{
		ID:    "operator-1",
		Email: "ops@example.com",
	})
	if err != nil {
		t.Fatalf("failed to issue session token: %v", err)
	}

	return routerFixture{handler: handler, service: service, realtime: dispatcher, metrics: collectors, token: token}
}

// do issues an authenticated request and decodes a JSON response into out
// when out is non-nil.
func (f routerFixture) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Authorization", "Bearer "+f.token)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	if out != nil {
		if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
			t.Fatalf("failed to decode %s %s response %q: %v", method, path, recorder.Body.String(), err)
		}
	}
	return recorder
}

type snapshotResponse struct {
	ID         string         `json:"id"`
	Category   string         `json:"category"`
	Version    string         `json:"version"`
	Fields     map[string]any `json:"fields"`
	Author     string         `json:"author"`
	IsCurrent  bool           `json:"is_current"`
	IsStable   bool           `json:"is_stable"`
	ChangeType string         `json:"change_type"`
	SourceID   string         `json:"source_id"`
}

type previewResponse struct {
	Category string `json:"category"`
	Entries  []struct {
		Field      string  `json:"field"`
		ChangeKind string  `json:"change_kind"`
		OldValue   *string `json:"old_value"`
		NewValue   *string `json:"new_value"`
		Secret     bool    `json:"secret"`
	} `json:"entries"`
	Summary struct {
		Added    int `json:"added"`
		Removed  int `json:"removed"`
		Modified int `json:"modified"`
		Total    int `json:"total"`
	} `json:"summary"`
}

type updateResponse struct {
	Changed  bool             `json:"changed"`
	Snapshot snapshotResponse `json:"snapshot"`
	Preview  previewResponse  `json:"preview"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f routerFixture) update(t *testing.T, category string, fields map[string]any) updateResponse {
	t.Helper()
	var response updateResponse
	recorder := f.do(t, http.MethodPost, "/api/v1/configs/"+category, map[string]any{"fields": fields}, &response)
	if recorder.Code != http.StatusOK {
		t.Fatalf("update %s: unexpected status %d: %s", category, recorder.Code, recorder.Body.String())
	}
	if !response.Changed {
		t.Fatalf("update %s: expected a change", category)
	}
	return response
}
