package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/larlab/bellcore/internal/audit"
	"github.com/larlab/bellcore/internal/guard"
	"github.com/larlab/bellcore/internal/infrastructure/config"
	"github.com/larlab/bellcore/internal/infrastructure/logging"
	"github.com/larlab/bellcore/internal/lab"
	"github.com/larlab/bellcore/internal/override"
	"github.com/larlab/bellcore/internal/presence"
	"github.com/larlab/bellcore/internal/ring"
	"github.com/larlab/bellcore/internal/session"
)

const testAdminSecret = "test-admin-secret"

// fakeBus records publishes and optionally fails them.
type fakeBus struct {
	published int
	failWith  error
}

func (f *fakeBus) Publish(string, []byte, byte, bool) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.published++
	return nil
}

// fakeAudit is an audit repository that can be told to fail.
type fakeAudit struct {
	entries  []audit.Entry
	failWith error
}

func (f *fakeAudit) Create(_ context.Context, e *audit.Entry) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAudit) List(_ context.Context, _ audit.Filter) (*audit.ListResult, error) {
	return &audit.ListResult{Entries: f.entries, Total: len(f.entries)}, nil
}

// fixture bundles the server under test with its collaborators.
type fixture struct {
	server   *Server
	handler  http.Handler
	bus      *fakeBus
	audit    *fakeAudit
	tracker  *presence.Tracker
	sessions *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := lab.NewRegistry("LAPADA,LAB01", nil)
	tracker := presence.NewTracker(registry)
	overrides := override.NewStore(filepath.Join(t.TempDir(), "overrides.json"))
	overrides.Load()
	sessions := session.NewManager()
	rateLimiter := guard.NewRateLimiter(10*time.Second, 8)
	cooldown := guard.NewCooldown(3 * time.Second)
	bus := &fakeBus{}
	auditRepo := &fakeAudit{}

	server, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		Security: config.SecurityConfig{
			AdminSecret: testAdminSecret,
		},
		Logger:          logging.Default(),
		Registry:        registry,
		Presence:        tracker,
		Overrides:       overrides,
		Sessions:        sessions,
		RateLimiter:     rateLimiter,
		Cooldown:        cooldown,
		Dispatcher:      ring.NewDispatcher(registry, sessions, cooldown, bus),
		Audit:           auditRepo,
		OnlineThreshold: 25 * time.Second,
		Version:         "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &fixture{
		server:   server,
		handler:  server.buildRouter(),
		bus:      bus,
		audit:    auditRepo,
		tracker:  tracker,
		sessions: sessions,
	}
}

// doJSON performs a request with an optional JSON body and decodes the
// JSON response into out (when non-nil).
func (f *fixture) doJSON(t *testing.T, method, path, body string, out any) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
		}
	}
	return rec
}

// bootstrap runs GET /api/bootstrap and returns the issued token.
func (f *fixture) bootstrap(t *testing.T) BootstrapResponse {
	t.Helper()
	var resp BootstrapResponse
	rec := f.doJSON(t, http.MethodGet, "/api/bootstrap", "", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("bootstrap status = %d: %s", rec.Code, rec.Body.String())
	}
	return resp
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t)
	f.tracker.RecordHeartbeat("LAPADA", time.Now())

	resp := f.bootstrap(t)

	if resp.Token == "" {
		t.Error("bootstrap issued no token")
	}
	if len(resp.Labs) != 2 {
		t.Fatalf("expected 2 labs, got %d", len(resp.Labs))
	}
	// Sorted by id.
	if resp.Labs[0].ID != "LAB01" || resp.Labs[1].ID != "LAPADA" {
		t.Errorf("labs not sorted: %s, %s", resp.Labs[0].ID, resp.Labs[1].ID)
	}

	lapada := resp.Labs[1]
	if !lapada.Online || !lapada.AutoOnline || lapada.Overridden {
		t.Errorf("LAPADA with fresh heartbeat: %+v", lapada)
	}
	if lapada.Name != "Lapada" || lapada.Asset != "assets/labs/lapada.svg" {
		t.Errorf("derived fields: name=%q asset=%q", lapada.Name, lapada.Asset)
	}

	lab01 := resp.Labs[0]
	if lab01.Online || lab01.AutoOnline {
		t.Errorf("LAB01 with no heartbeat reported online: %+v", lab01)
	}
}

func TestRingHappyPath(t *testing.T) {
	f := newFixture(t)
	token := f.bootstrap(t).Token

	var resp RingResponse
	rec := f.doJSON(t, http.MethodPost, "/api/ring", `{"lab":"lapada","token":"`+token+`"}`, &resp)

	if rec.Code != http.StatusOK {
		t.Fatalf("ring status = %d: %s", rec.Code, rec.Body.String())
	}
	if !resp.OK || resp.Lab != "LAPADA" || resp.Topic != "lab/LAPADA/ring" || resp.Payload != "ms=3000" {
		t.Errorf("ring response: %+v", resp)
	}
	if f.bus.published != 1 {
		t.Errorf("published %d messages, want 1", f.bus.published)
	}

	// The attempt landed in the audit trail.
	if len(f.audit.entries) == 0 {
		t.Fatal("no audit entry recorded")
	}
	last := f.audit.entries[len(f.audit.entries)-1]
	if last.Action != audit.ActionRing || last.Outcome != audit.OutcomeOK || last.LabID != "LAPADA" {
		t.Errorf("audit entry: %+v", last)
	}
}

func TestRingInvalidLab(t *testing.T) {
	f := newFixture(t)
	token := f.bootstrap(t).Token

	for _, raw := range []string{"GHOST", "not a lab!", ""} {
		var errResp Error
		rec := f.doJSON(t, http.MethodPost, "/api/ring", `{"lab":"`+raw+`","token":"`+token+`"}`, &errResp)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("ring %q status = %d, want 400", raw, rec.Code)
		}
		if errResp.Code != ErrCodeInvalidLab {
			t.Errorf("ring %q code = %q, want %q", raw, errResp.Code, ErrCodeInvalidLab)
		}
	}

	if f.bus.published != 0 {
		t.Error("publish happened for invalid labs")
	}
}

func TestRingBadToken(t *testing.T) {
	f := newFixture(t)

	var errResp Error
	rec := f.doJSON(t, http.MethodPost, "/api/ring", `{"lab":"LAPADA","token":"bogus"}`, &errResp)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if f.bus.published != 0 {
		t.Error("publish happened with a bad token")
	}
}

func TestRingTokenBoundToAddress(t *testing.T) {
	f := newFixture(t)
	token := f.bootstrap(t).Token // issued to httptest's default RemoteAddr

	req := httptest.NewRequest(http.MethodPost, "/api/ring", strings.NewReader(`{"lab":"LAPADA","token":"`+token+`"}`))
	req.RemoteAddr = "203.0.113.9:4433" // different client presents the stolen token
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestRingCooldown(t *testing.T) {
	f := newFixture(t)
	token := f.bootstrap(t).Token

	rec := f.doJSON(t, http.MethodPost, "/api/ring", `{"lab":"LAPADA","token":"`+token+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first ring = %d: %s", rec.Code, rec.Body.String())
	}

	var errResp Error
	rec = f.doJSON(t, http.MethodPost, "/api/ring", `{"lab":"LAPADA","token":"`+token+`"}`, &errResp)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second ring = %d, want 429", rec.Code)
	}
	if errResp.Code != ErrCodeCooldown {
		t.Errorf("code = %q, want %q", errResp.Code, ErrCodeCooldown)
	}
	if errResp.RetryAfterMs <= 0 || errResp.RetryAfterMs > 3000 {
		t.Errorf("retry_after_ms = %d, want within (0, 3000]", errResp.RetryAfterMs)
	}

	// Other labs are unaffected by LAPADA's cooldown.
	rec = f.doJSON(t, http.MethodPost, "/api/ring", `{"lab":"LAB01","token":"`+token+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("ring to other lab = %d, want 200", rec.Code)
	}
}

func TestRingRateLimit(t *testing.T) {
	f := newFixture(t)
	token := f.bootstrap(t).Token

	// The budget is 8 per window; attempts rejected by the cooldown
	// still consume it. The ninth attempt trips the limiter.
	for i := 0; i < 8; i++ {
		rec := f.doJSON(t, http.MethodPost, "/api/ring", `{"lab":"LAPADA","token":"`+token+`"}`, nil)
		if rec.Code == http.StatusTooManyRequests {
			var e Error
			if err := json.Unmarshal(rec.Body.Bytes(), &e); err == nil && e.Code == ErrCodeRateLimited {
				t.Fatalf("rate limited on request %d, want only from request 9", i+1)
			}
		}
	}

	var errResp Error
	rec := f.doJSON(t, http.MethodPost, "/api/ring", `{"lab":"LAPADA","token":"`+token+`"}`, &errResp)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("ninth request = %d, want 429", rec.Code)
	}
	if errResp.Code != ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", errResp.Code, ErrCodeRateLimited)
	}
	if errResp.RetryAfterMs <= 0 {
		t.Errorf("retry_after_ms = %d, want positive", errResp.RetryAfterMs)
	}
}

func TestRingMalformedBodiesConsumeRateBudget(t *testing.T) {
	f := newFixture(t)
	token := f.bootstrap(t).Token

	// A flood of unparseable bodies must burn the sender's budget, not
	// get a free pass into the JSON decoder every time.
	for i := 0; i < 8; i++ {
		rec := f.doJSON(t, http.MethodPost, "/api/ring", `{{{`, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("malformed request %d = %d, want 400", i+1, rec.Code)
		}
	}

	var errResp Error
	rec := f.doJSON(t, http.MethodPost, "/api/ring", `{"lab":"LAPADA","token":"`+token+`"}`, &errResp)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("request after malformed flood = %d, want 429", rec.Code)
	}
	if errResp.Code != ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", errResp.Code, ErrCodeRateLimited)
	}
}

func TestRingPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.bus.failWith = errors.New("broker unreachable")
	token := f.bootstrap(t).Token

	var errResp Error
	rec := f.doJSON(t, http.MethodPost, "/api/ring", `{"lab":"LAPADA","token":"`+token+`"}`, &errResp)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	// No cooldown was started: a retry goes straight back to publish.
	f.bus.failWith = nil
	rec = f.doJSON(t, http.MethodPost, "/api/ring", `{"lab":"LAPADA","token":"`+token+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("retry after publish failure = %d, want 200", rec.Code)
	}
}

func TestRingAuditFailureDoesNotChangeResponse(t *testing.T) {
	f := newFixture(t)
	f.audit.failWith = errors.New("database gone")
	token := f.bootstrap(t).Token

	rec := f.doJSON(t, http.MethodPost, "/api/ring", `{"lab":"LAPADA","token":"`+token+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("ring with failing audit = %d, want 200", rec.Code)
	}
}

func TestSetLabStatusRequiresSecret(t *testing.T) {
	f := newFixture(t)

	for _, pwd := range []string{"", "wrong", testAdminSecret + "x"} {
		rec := f.doJSON(t, http.MethodPost, "/api/lab-status",
			`{"lab":"LAPADA","status":"offline","adminPwd":"`+pwd+`"}`, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("pwd %q status = %d, want 401", pwd, rec.Code)
		}
	}

	// Failed attempts changed nothing.
	if _, ok := f.server.overrides.Get("LAPADA"); ok {
		t.Error("override set despite bad admin secret")
	}
}

func TestOverrideWinsOverPresence(t *testing.T) {
	f := newFixture(t)
	f.tracker.RecordHeartbeat("LAPADA", time.Now())

	var resp LabStatusResponse
	rec := f.doJSON(t, http.MethodPost, "/api/lab-status",
		`{"lab":"lapada","status":"offline","adminPwd":"`+testAdminSecret+`"}`, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d: %s", rec.Code, rec.Body.String())
	}
	if !resp.OK || !resp.Overridden || resp.OverrideValue != "offline" {
		t.Errorf("set response: %+v", resp)
	}

	// Despite a fresh heartbeat, the lab now reads offline.
	boot := f.bootstrap(t)
	for _, l := range boot.Labs {
		if l.ID == "LAPADA" {
			if l.Online || !l.Overridden || l.OverrideValue != "offline" {
				t.Errorf("overridden lab in bootstrap: %+v", l)
			}
			if !l.AutoOnline {
				t.Error("raw auto presence hidden by override")
			}
		}
	}
}

func TestClearOverrideIsIdempotent(t *testing.T) {
	f := newFixture(t)

	body := `{"lab":"LAPADA","action":"clear","adminPwd":"` + testAdminSecret + `"}`

	var resp LabStatusResponse
	rec := f.doJSON(t, http.MethodPost, "/api/lab-status", body, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear with no override = %d", rec.Code)
	}
	if resp.Overridden || resp.Note == "" {
		t.Errorf("clear of absent override: %+v", resp)
	}

	// Set then clear: no note this time.
	f.doJSON(t, http.MethodPost, "/api/lab-status",
		`{"lab":"LAPADA","status":"online","adminPwd":"`+testAdminSecret+`"}`, nil)

	resp = LabStatusResponse{}
	rec = f.doJSON(t, http.MethodPost, "/api/lab-status", body, &resp)
	if rec.Code != http.StatusOK || resp.Overridden || resp.Note != "" {
		t.Errorf("clear of present override: code=%d %+v", rec.Code, resp)
	}
}

func TestSetLabStatusRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "unknown lab", body: `{"lab":"GHOST","status":"offline","adminPwd":"` + testAdminSecret + `"}`},
		{name: "bad status", body: `{"lab":"LAPADA","status":"sideways","adminPwd":"` + testAdminSecret + `"}`},
		{name: "no status or action", body: `{"lab":"LAPADA","adminPwd":"` + testAdminSecret + `"}`},
		{name: "not json", body: `{{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.doJSON(t, http.MethodPost, "/api/lab-status", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestListLabStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.doJSON(t, http.MethodGet, "/api/lab-status?adminPwd=wrong", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret = %d, want 401", rec.Code)
	}

	f.doJSON(t, http.MethodPost, "/api/lab-status",
		`{"lab":"LAPADA","status":"offline","adminPwd":"`+testAdminSecret+`"}`, nil)

	var resp struct {
		OK        bool              `json:"ok"`
		Overrides map[string]string `json:"overrides"`
	}
	rec = f.doJSON(t, http.MethodGet, "/api/lab-status?adminPwd="+testAdminSecret, "", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	if !resp.OK || resp.Overrides["LAPADA"] != "offline" {
		t.Errorf("list response: %+v", resp)
	}
}

func TestAuditEndpoint(t *testing.T) {
	f := newFixture(t)
	token := f.bootstrap(t).Token
	f.doJSON(t, http.MethodPost, "/api/ring", `{"lab":"LAPADA","token":"`+token+`"}`, nil)

	rec := f.doJSON(t, http.MethodGet, "/api/audit", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("audit without secret = %d, want 401", rec.Code)
	}

	var result audit.ListResult
	rec = f.doJSON(t, http.MethodGet, "/api/audit?adminPwd="+testAdminSecret, "", &result)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit = %d", rec.Code)
	}
	if result.Total == 0 {
		t.Error("audit trail empty after a ring")
	}
}

func TestRetiredLabsEndpoint(t *testing.T) {
	f := newFixture(t)

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		rec := f.doJSON(t, method, "/api/labs", "", nil)
		if rec.Code != http.StatusGone {
			t.Errorf("%s /api/labs = %d, want 410", method, rec.Code)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	var health map[string]any
	rec := f.doJSON(t, http.MethodGet, "/api/health", "", &health)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	if health["version"] != "test" {
		t.Errorf("health version = %v", health["version"])
	}

	var metrics SystemMetrics
	rec = f.doJSON(t, http.MethodGet, "/api/metrics", "", &metrics)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if metrics.Labs.Registered != 2 {
		t.Errorf("metrics registered labs = %d, want 2", metrics.Labs.Registered)
	}
	if metrics.Runtime.Goroutines <= 0 {
		t.Error("metrics runtime section empty")
	}
}

func TestStatusTransitionBroadcast(t *testing.T) {
	f := newFixture(t)
	f.server.hub = NewHub(logging.Default())

	now := time.Now()

	// First evaluation seeds the cache silently.
	f.server.publishStatusIfChanged("LAPADA", now)

	// An override flip counts as a transition even with zero clients;
	// the cache must track it so the next check is a no-op.
	if err := f.server.overrides.Set("LAPADA", override.StatusOnline); err != nil {
		t.Fatalf("Set: %v", err)
	}
	f.server.publishStatusIfChanged("LAPADA", now)

	f.server.statusMu.Lock()
	state := f.server.statusCache["LAPADA"]
	f.server.statusMu.Unlock()

	if !state.online || !state.overridden {
		t.Errorf("status cache after override: %+v", state)
	}
}
