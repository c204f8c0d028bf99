package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chaseline/internal/config"
	"chaseline/internal/db"
	"chaseline/internal/domain"
	"chaseline/internal/engine"
	"chaseline/internal/migrate"
	"chaseline/internal/repo"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2026, 6, 9, 10, 0, 0, 0, time.UTC) }
	o := engine.NewOrchestrator(e, nil)
	handler, err := New(Config{Engine: e, Orchestrator: o, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func createTestClient(t *testing.T, srv *testServer) ClientResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/clients", map[string]any{
		"name":  "Jane Doe",
		"email": "jane@example.com",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create client status %d: %s", res.StatusCode, string(data))
	}
	var c ClientResponse
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal client: %v", err)
	}
	return c
}

func createTestChase(t *testing.T, srv *testServer, body map[string]any) ChaseResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/chases", body, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create chase status %d: %s", res.StatusCode, string(data))
	}
	var ch ChaseResponse
	if err := json.Unmarshal(data, &ch); err != nil {
		t.Fatalf("unmarshal chase: %v", err)
	}
	return ch
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestChaseLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	client := createTestClient(t, srv)

	chase := createTestChase(t, srv, map[string]any{
		"client_id":   client.ID,
		"type":        "loa",
		"provider_id": "aviva",
		"priority":    "high",
	})
	if chase.Status != "pending" || chase.TargetKind != "provider" {
		t.Fatalf("chase = %+v", chase)
	}

	// Run it through the scheduler once: pending becomes sent.
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/chases/"+chase.ID+"/process", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("process status %d: %s", res.StatusCode, string(data))
	}
	var processed ChaseResponse
	_ = json.Unmarshal(data, &processed)
	if processed.Status != "sent" || processed.Attempts != 1 {
		t.Fatalf("processed = %+v", processed)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/chases/"+chase.ID+"/activities", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activities status %d: %s", res.StatusCode, string(data))
	}
	var acts []ActivityResponse
	_ = json.Unmarshal(data, &acts)
	if len(acts) < 2 || acts[0].Action != "chase_registered" {
		t.Fatalf("activities = %+v", acts)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/chases/"+chase.ID+"/complete", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var completed ChaseResponse
	_ = json.Unmarshal(data, &completed)
	if completed.Status != "completed" || completed.ResolvedAt == nil {
		t.Fatalf("completed = %+v", completed)
	}
}

func TestTickEndpoint(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	client := createTestClient(t, srv)
	createTestChase(t, srv, map[string]any{"client_id": client.ID, "type": "document"})

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tick", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("tick status %d: %s", res.StatusCode, string(data))
	}
	var stats engine.TickStats
	_ = json.Unmarshal(data, &stats)
	if stats.Due != 1 || stats.Processed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRiskEndpoint(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	client := createTestClient(t, srv)
	chase := createTestChase(t, srv, map[string]any{
		"client_id":   client.ID,
		"type":        "loa",
		"provider_id": "prudential",
	})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/chases/"+chase.ID+"/risk", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("risk status %d: %s", res.StatusCode, string(data))
	}
	var risk RiskResponse
	_ = json.Unmarshal(data, &risk)
	if risk.ItemID != chase.ID || risk.Band == "" {
		t.Fatalf("risk = %+v", risk)
	}
	if risk.ExpectedDays != 20 {
		t.Fatalf("expected days = %.0f, want the prudential catalog latency", risk.ExpectedDays)
	}
}

func TestErrorEnvelopes(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	client := createTestClient(t, srv)
	chase := createTestChase(t, srv, map[string]any{"client_id": client.ID, "type": "document"})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/chases/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("status %d body %s", res.StatusCode, string(data))
	}

	// Receiving a chase that was never sent is an invalid transition.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/chases/"+chase.ID+"/receive", nil, nil)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_transition" {
		t.Fatalf("status %d body %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/chases/"+chase.ID+"/fail", map[string]any{}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("fail without reason: status %d body %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/chases", map[string]any{
		"client_id": client.ID,
		"type":      "loa",
	}, nil)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "bad_request" {
		t.Fatalf("loa without provider: status %d body %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	secret := "test-secret"
	srv := newTestServer(t, AuthConfig{JWTSecret: secret})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/clients", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("status %d body %s", res.StatusCode, string(data))
	}

	// Health stays open.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/clients", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("status %d body %s", res.StatusCode, string(data))
	}

	token := signToken(t, secret, "advisor-1")
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/clients", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authorized status %d body %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: "test-secret"})
	rawKey := "raw-test-key"
	if err := srv.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID:      "key-1",
		ActorID: "advisor-1",
		Name:    "ci",
		KeyHash: repo.HashAPIKey(rawKey),
	}); err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/clients", nil, map[string]string{
		"X-Api-Key": rawKey,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key status %d body %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/clients", nil, map[string]string{
		"X-Api-Key": "wrong-key",
	})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("status %d body %s", res.StatusCode, string(data))
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	client := createTestClient(t, srv)
	createTestChase(t, srv, map[string]any{"client_id": client.ID, "type": "document"})
	createTestChase(t, srv, map[string]any{"client_id": client.ID, "type": "loa", "provider_id": "zurich"})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/analytics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("analytics status %d: %s", res.StatusCode, string(data))
	}
	var snap struct {
		TotalItems int            `json:"total_items"`
		ByStatus   map[string]int `json:"by_status"`
	}
	_ = json.Unmarshal(data, &snap)
	if snap.TotalItems != 2 || snap.ByStatus["pending"] != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
