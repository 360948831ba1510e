package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	agentdomain "github.com/andora/tokenledger/internal/agentconfig/domain"
	eventdomain "github.com/andora/tokenledger/internal/eventcache/domain"
	monitoringdomain "github.com/andora/tokenledger/internal/monitoring/domain"
	reportingdomain "github.com/andora/tokenledger/internal/reporting/domain"
	usagedomain "github.com/andora/tokenledger/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type fakeUsageService struct {
	calls   int
	lastReq usagedomain.RecordRequest
	result  usagedomain.RecordResult
}

func (f *fakeUsageService) Record(ctx context.Context, req usagedomain.RecordRequest) usagedomain.RecordResult {
	_ = ctx
	f.calls++
	f.lastReq = req
	return f.result
}

type fakeAgentService struct {
	config      *agentdomain.AgentConfiguration
	prompt      *agentdomain.AgentPrompt
	updateErr   error
	clearCalls  int
	trackCalls  int
	lastUpdates map[string]any
}

func (f *fakeAgentService) GetConfig(ctx context.Context, agentName string, useCache bool) (*agentdomain.AgentConfiguration, error) {
	_ = ctx
	_ = useCache
	if f.config != nil && f.config.AgentName == agentName {
		return f.config, nil
	}
	return nil, nil
}

func (f *fakeAgentService) UpdateConfig(ctx context.Context, agentName string, updates map[string]any) (*agentdomain.AgentConfiguration, error) {
	_ = ctx
	_ = agentName
	f.lastUpdates = updates
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return f.config, nil
}

func (f *fakeAgentService) GetAllConfigs(ctx context.Context) ([]agentdomain.AgentConfiguration, error) {
	_ = ctx
	if f.config == nil {
		return nil, nil
	}
	return []agentdomain.AgentConfiguration{*f.config}, nil
}

func (f *fakeAgentService) GetPrompts(ctx context.Context, agentName string) ([]agentdomain.AgentPrompt, error) {
	_ = ctx
	_ = agentName
	return nil, nil
}

func (f *fakeAgentService) GetPrompt(ctx context.Context, agentName, promptKey string) (*agentdomain.AgentPrompt, error) {
	_ = ctx
	if f.prompt != nil && f.prompt.AgentName == agentName && f.prompt.PromptKey == promptKey {
		return f.prompt, nil
	}
	return nil, nil
}

func (f *fakeAgentService) UpsertPrompt(ctx context.Context, req agentdomain.UpsertPromptRequest) (int, error) {
	_ = ctx
	_ = req
	return 1, nil
}

func (f *fakeAgentService) TrackPerformance(ctx context.Context, req agentdomain.TrackPerformanceRequest) {
	_ = ctx
	_ = req
	f.trackCalls++
}

func (f *fakeAgentService) GetPerformanceAnalytics(ctx context.Context, agentName string, daysBack int) (agentdomain.PerformanceAnalytics, error) {
	_ = ctx
	return agentdomain.PerformanceAnalytics{AgentName: agentName, DaysBack: daysBack}, nil
}

func (f *fakeAgentService) ClearCaches() {
	f.clearCalls++
}

type fakeMonitoringService struct {
	alerts []monitoringdomain.Alert
}

func (f *fakeMonitoringService) MonitorDeduction(ctx context.Context, userID snowflake.ID, amountDeducted int64, taskType string, succeeded bool) {
	_ = ctx
	_ = userID
	_ = amountDeducted
	_ = taskType
	_ = succeeded
}

func (f *fakeMonitoringService) AnalyzeUserPattern(ctx context.Context, userID snowflake.ID) (monitoringdomain.PatternReport, error) {
	_ = ctx
	return monitoringdomain.PatternReport{UserID: userID, WindowDays: 7}, nil
}

func (f *fakeMonitoringService) GetAlerts(userID snowflake.ID) []monitoringdomain.Alert {
	if userID == 0 {
		return f.alerts
	}
	filtered := make([]monitoringdomain.Alert, 0, len(f.alerts))
	for _, alert := range f.alerts {
		if alert.UserID == userID {
			filtered = append(filtered, alert)
		}
	}
	return filtered
}

func (f *fakeMonitoringService) GetSystemStats(ctx context.Context) (monitoringdomain.SystemStats, error) {
	_ = ctx
	return monitoringdomain.SystemStats{TotalUsers: 2}, nil
}

type fakeEventCacheService struct {
	entry  *eventdomain.EventCacheEntry
	putErr error
}

func (f *fakeEventCacheService) Put(ctx context.Context, req eventdomain.PutRequest) (*eventdomain.EventCacheEntry, error) {
	_ = ctx
	_ = req
	if f.putErr != nil {
		return nil, f.putErr
	}
	return f.entry, nil
}

func (f *fakeEventCacheService) Get(ctx context.Context, brandID snowflake.ID, cacheKey string) (*eventdomain.EventCacheEntry, error) {
	_ = ctx
	_ = brandID
	_ = cacheKey
	return f.entry, nil
}

func (f *fakeEventCacheService) PurgeExpired(ctx context.Context) (int64, error) {
	_ = ctx
	return 3, nil
}

type fakeReportingService struct{}

func (f *fakeReportingService) GetMonthlySummary(ctx context.Context, brandID snowflake.ID, month, year int) (reportingdomain.MonthlySummary, error) {
	_ = ctx
	if month < 1 || month > 12 {
		return reportingdomain.MonthlySummary{}, reportingdomain.ErrInvalidMonth
	}
	return reportingdomain.MonthlySummary{BrandID: brandID, Month: month, Year: year}, nil
}

func (f *fakeReportingService) GetUserUsageBreakdown(ctx context.Context, userID snowflake.ID, days int) (reportingdomain.UsageBreakdown, error) {
	_ = ctx
	return reportingdomain.UsageBreakdown{UserID: userID, Days: days}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeUsageService, *fakeAgentService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	usageSvc := &fakeUsageService{result: usagedomain.RecordResult{Applied: true}}
	agentSvc := &fakeAgentService{}

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine:        engine,
		usageSvc:      usageSvc,
		monitoringSvc: &fakeMonitoringService{},
		agentSvc:      agentSvc,
		eventCacheSvc: &fakeEventCacheService{},
		reportingSvc:  &fakeReportingService{},
	}
	srv.registerAPIRoutes()

	return srv, usageSvc, agentSvc
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)
	return rec
}

func TestRecordUsageAcceptsAndDelegates(t *testing.T) {
	srv, usageSvc, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/usage/record", map[string]any{
		"brand_id":    "1234567890",
		"task_type":   "chat_response",
		"tokens_used": 42.0,
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if usageSvc.calls != 1 {
		t.Fatalf("record calls = %d, want 1", usageSvc.calls)
	}
	if usageSvc.lastReq.TaskType != "chat_response" {
		t.Fatalf("task type = %q", usageSvc.lastReq.TaskType)
	}
}

func TestRecordUsageAcceptsSkippedEvents(t *testing.T) {
	srv, usageSvc, _ := newTestServer(t)
	usageSvc.result = usagedomain.RecordResult{Applied: false, SkipReason: usagedomain.SkipReasonEmptyBrand}

	rec := doJSON(t, srv, http.MethodPost, "/v1/usage/record", map[string]any{
		"brand_id":    "",
		"task_type":   "chat_response",
		"tokens_used": 42.0,
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}

	var resp struct {
		Status  string `json:"status"`
		Applied bool   `json:"applied"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "accepted" || resp.Applied {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestRecordUsageRejectsMalformedBody(t *testing.T) {
	srv, usageSvc, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/usage/record", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if usageSvc.calls != 0 {
		t.Fatalf("record calls = %d, want 0", usageSvc.calls)
	}
}

func TestGetAgentConfigMissingIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/v1/agents/ghost/config", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetAgentConfigFound(t *testing.T) {
	srv, _, agentSvc := newTestServer(t)
	agentSvc.config = &agentdomain.AgentConfiguration{
		AgentName:    "planner",
		DisplayName:  "Planner",
		DefaultModel: "gpt-4o",
		Temperature:  0.7,
		MaxTokens:    2048,
	}

	rec := doJSON(t, srv, http.MethodGet, "/v1/agents/planner/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var cfg agentdomain.AgentConfiguration
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if cfg.AgentName != "planner" || cfg.MaxTokens != 2048 {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestUpdateAgentConfigEmptyUpdateIs400(t *testing.T) {
	srv, _, agentSvc := newTestServer(t)
	agentSvc.updateErr = agentdomain.ErrEmptyUpdate

	rec := doJSON(t, srv, http.MethodPatch, "/v1/agents/planner/config", map[string]any{
		"unknown_field": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error.Type != "validation_error" {
		t.Fatalf("error type = %q", resp.Error.Type)
	}
}

func TestRenderPromptInlineTemplate(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/prompts/render", map[string]any{
		"template":  "Hello {{name}}, you have {{count}} alerts.",
		"variables": map[string]any{"name": "Ada", "count": 3},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Rendered string `json:"rendered"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Rendered != "Hello Ada, you have 3 alerts." {
		t.Fatalf("rendered = %q", resp.Rendered)
	}
}

func TestRenderPromptStoredTemplate(t *testing.T) {
	srv, _, agentSvc := newTestServer(t)
	agentSvc.prompt = &agentdomain.AgentPrompt{
		AgentName: "planner",
		PromptKey: "greeting",
		Template:  "Hi {{name}}",
	}

	rec := doJSON(t, srv, http.MethodPost, "/v1/prompts/render", map[string]any{
		"agent_name": "planner",
		"prompt_key": "greeting",
		"variables":  map[string]any{"name": "Ada"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Rendered string `json:"rendered"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Rendered != "Hi Ada" {
		t.Fatalf("rendered = %q", resp.Rendered)
	}
}

func TestGetAlertsRejectsBadUserID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/v1/monitoring/alerts?user_id=not-a-number", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetAlertsFiltersByUser(t *testing.T) {
	srv, _, _ := newTestServer(t)
	monitoring := srv.monitoringSvc.(*fakeMonitoringService)
	monitoring.alerts = []monitoringdomain.Alert{
		{ID: "a", UserID: snowflake.ID(7), Type: monitoringdomain.AlertLowBalance, CreatedAt: time.Now()},
		{ID: "b", UserID: snowflake.ID(8), Type: monitoringdomain.AlertHighUsage, CreatedAt: time.Now()},
	}

	rec := doJSON(t, srv, http.MethodGet, "/v1/monitoring/alerts?user_id=7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Alerts []monitoringdomain.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Alerts) != 1 || resp.Alerts[0].ID != "a" {
		t.Fatalf("alerts = %+v", resp.Alerts)
	}
}

func TestGetMonthlySummaryRejectsBadMonth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/v1/brands/42/usage/monthly?month=13&year=2026", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetEventCalendarMissingIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/v1/brands/42/calendar/march", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRecordRateLimitDisabledPassesThrough(t *testing.T) {
	srv, usageSvc, _ := newTestServer(t)

	// recordLimiter is nil so the middleware must be a no-op.
	rec := doJSON(t, srv, http.MethodPost, "/v1/usage/record", map[string]any{
		"brand_id":    "1234567890",
		"task_type":   "chat_response",
		"tokens_used": 10.0,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if usageSvc.calls != 1 {
		t.Fatalf("record calls = %d, want 1", usageSvc.calls)
	}
}

func TestClassifyErrorForLog(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantType string
		wantCode string
	}{
		{"validation", agentdomain.ErrInvalidAgentName, "validation", "invalid_agent_name"},
		{"not found", ErrNotFound, "not_found", "not_found"},
		{"rate limited", ErrRateLimited, "rate_limited", "rate_limited"},
		{"unavailable", ErrServiceUnavailable, "unavailable", "service_unavailable"},
		{"unknown", context.DeadlineExceeded, "internal", "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotType, gotCode := classifyErrorForLog(tc.err)
			if gotType != tc.wantType || gotCode != tc.wantCode {
				t.Fatalf("classify(%v) = (%q, %q), want (%q, %q)", tc.err, gotType, gotCode, tc.wantType, tc.wantCode)
			}
		})
	}
}
