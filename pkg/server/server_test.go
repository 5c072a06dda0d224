package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/seoagent/governor/pkg/policy"
	"github.com/seoagent/governor/pkg/stores"
	"github.com/seoagent/governor/pkg/telemetry"
)

type testServer struct {
	URL    string
	Store  *stores.SQLiteStore
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.New(nil).Level(zerolog.Disabled)

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"}, logger)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	telCfg := telemetry.DefaultConfig()
	telCfg.Logging.Level = "error"
	telCfg.Events.EnableAsync = false
	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		t.Fatalf("telemetry: %v", err)
	}

	engine, err := policy.NewEngine(logger, store, store, store, policy.WithDecisionRecorder(store))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	cfg := Config{
		Engine:    engine,
		Approvals: store,
		Leases:    store,
		Health:    store,
		Telemetry: tel,
		BasePath:  "/v1",
		Logger:    logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	handler, err := New(cfg)
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
		Store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			_ = tel.Shutdown(context.Background())
			store.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
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

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, data)
	}
	return env.Error
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
	if !strings.Contains(string(data), `"ok"`) {
		t.Errorf("unexpected health body: %s", data)
	}
}

func TestValidate_Decisions(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()
	client := srv.Client()

	if err := srv.Store.AddSite(ctx, "user-1", "https://shop.example.com", false); err != nil {
		t.Fatalf("add site: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/validate", map[string]any{
		"action_id":   "act-1",
		"user_token":  "user-1",
		"site_url":    "https://unknown.example.com",
		"action_type": "technical_seo_crawl",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, data)
	}
	var denied ValidateResponse
	if err := json.Unmarshal(data, &denied); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if denied.Allowed || denied.Code != policy.CodePermissionDenied || !denied.ApprovalRequired {
		t.Errorf("unknown site decision = %+v", denied.ValidationResult)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/validate", map[string]any{
		"action_id":   "act-2",
		"user_token":  "user-1",
		"site_url":    "https://shop.example.com",
		"action_type": "technical_seo_crawl",
		"policy":      map[string]any{"max_pages": 100000},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, data)
	}
	var allowed ValidateResponse
	if err := json.Unmarshal(data, &allowed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !allowed.Allowed || allowed.AdjustedPolicy == nil {
		t.Fatalf("owned site decision = %+v", allowed.ValidationResult)
	}
	if allowed.AdjustedPolicy.MaxPages != 500 {
		t.Errorf("looser max_pages honored: %d", allowed.AdjustedPolicy.MaxPages)
	}
	if len(allowed.Clamped) != 1 || allowed.Clamped[0] != "max_pages" {
		t.Errorf("Clamped = %v", allowed.Clamped)
	}

	// both decisions were audited
	recs, err := srv.Store.ListDecisions(ctx, "", 10)
	if err != nil {
		t.Fatalf("list decisions: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("audited %d decisions, want 2", len(recs))
	}
}

func TestValidate_MissingFields(t *testing.T) {
	srv := newTestServer(t, nil)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/actions/validate", map[string]any{
		"action_id": "act-1",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, data)
	}
	if body := decodeError(t, data); body.Code != "bad_request" {
		t.Errorf("error code = %s", body.Code)
	}
}

func TestApprovalFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()
	client := srv.Client()

	_ = srv.Store.AddSite(ctx, "user-1", "https://shop.example.com", true)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/validate", map[string]any{
		"action_id":   "act-9",
		"user_token":  "user-1",
		"site_url":    "https://shop.example.com",
		"action_type": "cms_publishing",
		"policy":      map[string]any{"requires_approval": true},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, data)
	}
	var decision ValidateResponse
	_ = json.Unmarshal(data, &decision)
	if !decision.Allowed || !decision.ApprovalRequired || decision.ApprovalID == "" {
		t.Fatalf("decision = %+v", decision.ValidationResult)
	}
	id := decision.ApprovalID

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/approvals/"+id, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get approval status %d: %s", res.StatusCode, data)
	}
	var pending policy.ApprovalRequest
	_ = json.Unmarshal(data, &pending)
	if pending.Status != policy.ApprovalPending || pending.Policy.Environment != policy.EnvironmentProduction {
		t.Errorf("approval = %+v", pending)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/approvals/"+id+"/decision", map[string]any{
		"approve": true,
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without decided_by, got %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/approvals/"+id+"/decision", map[string]any{
		"approve":    true,
		"decided_by": "ops@example.com",
		"note":       "ship it",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("decide status %d: %s", res.StatusCode, data)
	}
	var decided policy.ApprovalRequest
	_ = json.Unmarshal(data, &decided)
	if decided.Status != policy.ApprovalApproved || decided.DecidedBy != "ops@example.com" {
		t.Errorf("decided = %+v", decided)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/approvals/"+id+"/decision", map[string]any{
		"approve":    false,
		"decided_by": "ops@example.com",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second decision, got %d %s", res.StatusCode, data)
	}
	if body := decodeError(t, data); body.Code != "approval_decided" {
		t.Errorf("error code = %s", body.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/approvals?status=approved", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var list ApprovalList
	_ = json.Unmarshal(data, &list)
	if len(list.Items) != 1 || list.Items[0].ID != id {
		t.Errorf("list = %+v", list)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/approvals/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, data)
	}
	if body := decodeError(t, data); body.Code != "not_found" {
		t.Errorf("error code = %s", body.Code)
	}
}

func TestLeaseConflict(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()

	claim1, body1 := doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/act-1/claim", map[string]any{"owner": "worker-a"}, nil)
	if claim1.StatusCode != http.StatusOK {
		t.Fatalf("first claim: %d %s", claim1.StatusCode, body1)
	}

	claim2, body2 := doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/act-1/claim", map[string]any{"owner": "worker-b"}, nil)
	if claim2.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", claim2.StatusCode, body2)
	}
	if body := decodeError(t, body2); body.Code != "lease_conflict" {
		t.Errorf("error code = %s", body.Code)
	}

	rel, relBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/act-1/release", map[string]any{"owner": "worker-b"}, nil)
	if rel.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict releasing foreign lease, got %d %s", rel.StatusCode, relBody)
	}

	rel, relBody = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/act-1/release", map[string]any{"owner": "worker-a"}, nil)
	if rel.StatusCode != http.StatusNoContent {
		t.Fatalf("release: %d %s", rel.StatusCode, relBody)
	}

	claim3, body3 := doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/act-1/claim", map[string]any{"owner": "worker-b"}, nil)
	if claim3.StatusCode != http.StatusOK {
		t.Fatalf("claim after release: %d %s", claim3.StatusCode, body3)
	}
}

func TestValidate_ClaimReleasedOnDenial(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/validate", map[string]any{
		"action_id":   "act-5",
		"user_token":  "user-1",
		"site_url":    "https://unknown.example.com",
		"action_type": "technical_seo_crawl",
		"claim":       true,
		"owner":       "worker-a",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, data)
	}
	var resp ValidateResponse
	_ = json.Unmarshal(data, &resp)
	if resp.Allowed || resp.Lease != nil {
		t.Errorf("denied action kept its lease: %+v", resp)
	}

	claim, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/act-5/claim", map[string]any{"owner": "worker-b"}, nil)
	if claim.StatusCode != http.StatusOK {
		t.Fatalf("lease of denied action still held: %d %s", claim.StatusCode, body)
	}
}

func TestLimitsAndMetrics(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()

	p := policy.DefaultCatalog().DefaultFor(policy.ActionTechnicalSEOFix)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/limits", map[string]any{
		"action_id": "act-3",
		"policy":    p,
		"stats":     policy.RuntimeStats{PagesProcessed: p.MaxPages},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("limits status %d: %s", res.StatusCode, data)
	}
	var check policy.LimitCheck
	_ = json.Unmarshal(data, &check)
	if !check.ShouldStop || check.Limit != policy.LimitPages {
		t.Errorf("check = %+v", check)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), `governor_runtime_stops_total{limit="pages"} 1`) {
		t.Errorf("runtime stop not counted:\n%s", data)
	}
}

func TestPolicies(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/policies/catalog", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("catalog status %d: %s", res.StatusCode, data)
	}
	var catalog CatalogResponse
	_ = json.Unmarshal(data, &catalog)
	if catalog.Fallback != policy.ActionContentGeneration {
		t.Errorf("fallback = %s", catalog.Fallback)
	}
	if _, ok := catalog.Entries[policy.ActionRobotsModification]; !ok {
		t.Error("catalog missing robots_modification")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/policies/new-site", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("new-site status %d: %s", res.StatusCode, data)
	}
	var p policy.Policy
	_ = json.Unmarshal(data, &p)
	if p.Environment != policy.EnvironmentDryRun || !p.RequiresApproval {
		t.Errorf("new site policy = %+v", p)
	}
}

func TestAuth(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	srv := newTestServer(t, func(cfg *Config) {
		cfg.Auth = AuthConfig{JWTSecret: secret}
	})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/policies/new-site", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, data)
	}
	if body := decodeError(t, data); body.Code != "unauthorized" {
		t.Errorf("error code = %s", body.Code)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/policies/new-site", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}

	token, err := IssueToken(secret, "worker-a", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	authz := map[string]string{"Authorization": "Bearer " + token}

	// owner defaults to the token subject
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/act-1/claim", map[string]any{}, authz)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, data)
	}
	if !strings.Contains(string(data), `"owner":"worker-a"`) {
		t.Errorf("claim body = %s", data)
	}
}

func TestAuth_LeaseOwnerIsSubject(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	srv := newTestServer(t, func(cfg *Config) {
		cfg.Auth = AuthConfig{JWTSecret: secret}
	})
	client := srv.Client()

	bearer := func(subject string) map[string]string {
		token, err := IssueToken(secret, subject, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		return map[string]string{"Authorization": "Bearer " + token}
	}
	alice, bob := bearer("alice"), bearer("bob")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/act-1/claim", map[string]any{}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("alice claim: %d %s", res.StatusCode, data)
	}

	// naming alice in the body does not let bob act as her
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/act-1/release", map[string]any{"owner": "alice"}, bob)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("bob release as alice: expected 409, got %d %s", res.StatusCode, data)
	}
	if body := decodeError(t, data); body.Code != "lease_not_held" {
		t.Errorf("error code = %s", body.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/act-1/claim", map[string]any{"owner": "alice"}, bob)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("bob claim as alice: expected 409, got %d %s", res.StatusCode, data)
	}
	if body := decodeError(t, data); body.Code != "lease_conflict" {
		t.Errorf("error code = %s", body.Code)
	}

	// body owner is ignored for the holder too
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/act-1/release", map[string]any{"owner": "bob"}, alice)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("alice release: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/act-1/claim", map[string]any{}, bob)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bob claim after release: %d %s", res.StatusCode, data)
	}
	if !strings.Contains(string(data), `"owner":"bob"`) {
		t.Errorf("claim body = %s", data)
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, func(cfg *Config) {
		cfg.RateLimit = RateLimit{RPS: 0.001, Burst: 1}
	})
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first request status %d", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %s", res.StatusCode, data)
	}
	if body := decodeError(t, data); body.Code != "rate_limited" {
		t.Errorf("error code = %s", body.Code)
	}
}
