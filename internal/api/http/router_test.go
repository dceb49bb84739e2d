package http

import (
	"bytes"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/civicworks/civic-issues/internal/api/http/handlers"
	"github.com/civicworks/civic-issues/internal/auth"
	"github.com/civicworks/civic-issues/internal/config"
	"github.com/civicworks/civic-issues/internal/domain"
	"github.com/civicworks/civic-issues/internal/events"
	"github.com/civicworks/civic-issues/internal/observability"
	"github.com/civicworks/civic-issues/internal/repository"
	"github.com/civicworks/civic-issues/internal/service"
)

type testServer struct {
	app    *fiber.App
	tokens map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	users := repository.NewMemoryUserRepository(
		domain.User{ID: "citizen-1", Name: "Citizen", Email: "c1@example.com", Role: domain.RoleCitizen, Active: true},
		domain.User{ID: "citizen-2", Name: "Other", Email: "c2@example.com", Role: domain.RoleCitizen, Active: true},
		domain.User{ID: "off-A", Name: "Officer", Email: "offa@city.gov", Role: domain.RoleOfficer, Active: true},
		domain.User{ID: "sup-1", Name: "Supervisor", Email: "sup@city.gov", Role: domain.RoleSupervisor, Active: true},
	)
	departments, categories := repository.DefaultCatalog()
	catalog := repository.NewMemoryCatalog(departments, categories)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	authService := service.NewAuthService(config.AuthConfig{JWTSecret: "test", AccessTokenTTLMinutes: 5, BcryptCost: 4},
		service.AuthDependencies{UserRepo: users})
	issueService := service.NewIssueService(service.IssueDependencies{
		IssueRepo:  repository.NewMemoryIssueRepository(),
		Catalog:    catalog,
		UserRepo:   users,
		Dispatcher: events.NewInMemoryDispatcher(),
		Metrics:    metrics,
	})

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	RegisterMiddlewares(app, zap.NewNop(), metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("civic-issues", "test", nil, nil, nil),
		Auth:           handlers.NewAuthHandler(authService),
		Issues:         handlers.NewIssuesHandler(issueService, catalog),
		AdminIssues:    handlers.NewAdminIssuesHandler(issueService),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), users),
		Gatherer:       reg,
	})

	tokens := map[string]string{}
	for _, u := range []struct {
		id   string
		role domain.Role
	}{
		{"citizen-1", domain.RoleCitizen},
		{"citizen-2", domain.RoleCitizen},
		{"off-A", domain.RoleOfficer},
		{"sup-1", domain.RoleSupervisor},
	} {
		token, _, err := authService.TokenManager().GenerateToken(u.id, u.role)
		if err != nil {
			t.Fatalf("GenerateToken: %v", err)
		}
		tokens[u.id] = token
	}
	return &testServer{app: app, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[userID])
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func dataField(body map[string]any, key string) string {
	data, _ := body["data"].(map[string]any)
	v, _ := data[key].(string)
	return v
}

func TestIssueWorkflowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodPost, "/issues", "citizen-1", map[string]any{
		"title":       "Pothole near school",
		"category_id": "cat-pothole",
	})
	if status != nethttp.StatusCreated {
		t.Fatalf("create status = %d body = %v", status, body)
	}
	issueID := dataField(body, "id")
	ticketNo := dataField(body, "ticket_no")

	status, body = s.do(t, nethttp.MethodGet, "/issues/"+strings.ToLower(ticketNo), "citizen-1", nil)
	if status != nethttp.StatusOK || dataField(body, "id") != issueID {
		t.Errorf("get by ticket = %d %v", status, body)
	}
	status, body = s.do(t, nethttp.MethodGet, "/issues/"+issueID, "citizen-2", nil)
	if status != nethttp.StatusNotFound || errorCode(body) != "NOT_FOUND" {
		t.Errorf("foreign citizen get = %d %v", status, body)
	}

	tests := []struct {
		name       string
		method     string
		path       string
		userID     string
		body       any
		wantStatus int
		wantCode   string
	}{
		{name: "unauthenticated", method: nethttp.MethodPatch, path: "/admin/issues/" + issueID + "/status", body: map[string]any{"status": "TRIAGED"}, wantStatus: nethttp.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "citizen on admin route", method: nethttp.MethodPatch, path: "/admin/issues/" + issueID + "/status", userID: "citizen-1", body: map[string]any{"status": "TRIAGED"}, wantStatus: nethttp.StatusForbidden, wantCode: "FORBIDDEN"},
		{name: "officer cannot triage", method: nethttp.MethodPatch, path: "/admin/issues/" + issueID + "/status", userID: "off-A", body: map[string]any{"status": "TRIAGED"}, wantStatus: nethttp.StatusForbidden, wantCode: "FORBIDDEN"},
		{name: "reject without reason", method: nethttp.MethodPatch, path: "/admin/issues/" + issueID + "/status", userID: "sup-1", body: map[string]any{"status": "REJECTED"}, wantStatus: nethttp.StatusBadRequest, wantCode: "MISSING_FIELD"},
		{name: "skip ahead", method: nethttp.MethodPatch, path: "/admin/issues/" + issueID + "/status", userID: "sup-1", body: map[string]any{"status": "RESOLVED"}, wantStatus: nethttp.StatusBadRequest, wantCode: "INVALID_TRANSITION"},
		{name: "triage", method: nethttp.MethodPatch, path: "/admin/issues/" + issueID + "/status", userID: "sup-1", body: map[string]any{"status": "TRIAGED"}, wantStatus: nethttp.StatusOK},
		{name: "officer cannot assign", method: nethttp.MethodPatch, path: "/admin/issues/" + issueID + "/assign", userID: "off-A", body: map[string]any{"assignee_id": "off-A"}, wantStatus: nethttp.StatusForbidden, wantCode: "FORBIDDEN"},
		{name: "assign", method: nethttp.MethodPatch, path: "/admin/issues/" + issueID + "/assign", userID: "sup-1", body: map[string]any{"assignee_id": "off-A"}, wantStatus: nethttp.StatusOK},
		{name: "comment", method: nethttp.MethodPost, path: "/issues/" + issueID + "/comments", userID: "citizen-1", body: map[string]any{"body": "thanks"}, wantStatus: nethttp.StatusCreated},
		{name: "events", method: nethttp.MethodGet, path: "/issues/" + issueID + "/events", userID: "off-A", wantStatus: nethttp.StatusOK},
		{name: "missing issue", method: nethttp.MethodGet, path: "/issues/does-not-exist", userID: "sup-1", wantStatus: nethttp.StatusNotFound, wantCode: "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, tt.method, tt.path, tt.userID, tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %v)", status, tt.wantStatus, body)
			}
			if tt.wantCode != "" && errorCode(body) != tt.wantCode {
				t.Errorf("code = %q, want %q", errorCode(body), tt.wantCode)
			}
		})
	}

	status, body = s.do(t, nethttp.MethodGet, "/issues/"+issueID, "off-A", nil)
	if status != nethttp.StatusOK || dataField(body, "status") != "ASSIGNED" || dataField(body, "assignee_id") != "off-A" {
		t.Errorf("final issue = %d %v", status, body)
	}
}

func TestPublicEndpoints(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodPost, "/auth/register", "", map[string]any{
		"name":     "New Citizen",
		"email":    "new@example.com",
		"password": "long-enough",
	})
	if status != nethttp.StatusCreated {
		t.Fatalf("register = %d %v", status, body)
	}
	status, body = s.do(t, nethttp.MethodPost, "/auth/register", "", map[string]any{
		"name":     "Again",
		"email":    "NEW@example.com",
		"password": "long-enough",
	})
	if status != nethttp.StatusConflict || errorCode(body) != "CONFLICT" {
		t.Errorf("duplicate register = %d %v", status, body)
	}

	status, _ = s.do(t, nethttp.MethodGet, "/health/live", "", nil)
	if status != nethttp.StatusOK {
		t.Errorf("live = %d", status)
	}
	status, body = s.do(t, nethttp.MethodGet, "/health/ready", "", nil)
	if status != nethttp.StatusOK || body["status"] != "ready" {
		t.Errorf("ready with in-memory storage = %d %v", status, body)
	}

	req := httptest.NewRequest(nethttp.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != nethttp.StatusOK || !strings.Contains(string(raw), "http_requests_total") {
		t.Errorf("metrics = %d, body lacks request counter", resp.StatusCode)
	}
}

func TestListingEndpoints(t *testing.T) {
	s := newTestServer(t)
	for _, c := range []struct{ user, title string }{
		{"citizen-1", "Pothole near school"},
		{"citizen-1", "Broken bench"},
		{"citizen-2", "Blocked drain"},
	} {
		status, body := s.do(t, nethttp.MethodPost, "/issues", c.user, map[string]any{"title": c.title, "category_id": "cat-pothole"})
		if status != nethttp.StatusCreated {
			t.Fatalf("create %q = %d %v", c.title, status, body)
		}
	}

	tests := []struct {
		name       string
		path       string
		userID     string
		wantStatus int
		wantCode   string
		wantCount  int
	}{
		{name: "own issues", path: "/issues/mine", userID: "citizen-1", wantStatus: nethttp.StatusOK, wantCount: 2},
		{name: "own issues by status", path: "/issues/mine?status=resolved", userID: "citizen-1", wantStatus: nethttp.StatusOK, wantCount: 0},
		{name: "own issues paged", path: "/issues/mine?limit=1", userID: "citizen-1", wantStatus: nethttp.StatusOK, wantCount: 1},
		{name: "unknown status", path: "/issues/mine?status=OPEN", userID: "citizen-1", wantStatus: nethttp.StatusBadRequest, wantCode: "VALIDATION_FAILED"},
		{name: "staff queue", path: "/admin/issues?status=SUBMITTED", userID: "off-A", wantStatus: nethttp.StatusOK, wantCount: 3},
		{name: "staff queue search", path: "/admin/issues?q=drain", userID: "sup-1", wantStatus: nethttp.StatusOK, wantCount: 1},
		{name: "staff queue by reporter", path: "/admin/issues?reporter_id=citizen-1", userID: "sup-1", wantStatus: nethttp.StatusOK, wantCount: 2},
		{name: "citizen denied staff queue", path: "/admin/issues", userID: "citizen-2", wantStatus: nethttp.StatusForbidden, wantCode: "FORBIDDEN"},
		{name: "assignee picker", path: "/admin/users?role=officer&active=true", userID: "sup-1", wantStatus: nethttp.StatusOK, wantCount: 1},
		{name: "officer denied user list", path: "/admin/users", userID: "off-A", wantStatus: nethttp.StatusForbidden, wantCode: "FORBIDDEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, nethttp.MethodGet, tt.path, tt.userID, nil)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %v)", status, tt.wantStatus, body)
			}
			if tt.wantCode != "" {
				if errorCode(body) != tt.wantCode {
					t.Errorf("code = %q, want %q", errorCode(body), tt.wantCode)
				}
				return
			}
			items, _ := body["data"].([]any)
			if len(items) != tt.wantCount {
				t.Errorf("items = %d, want %d", len(items), tt.wantCount)
			}
		})
	}
}
