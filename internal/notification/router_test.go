package notification

import (
	"testing"
	"time"

	"github.com/civicworks/civic-issues/internal/domain"
)

func strPtr(s string) *string { return &s }

func statusEvent(actorID string, from, to domain.IssueStatus) domain.IssueEvent {
	return domain.IssueEvent{
		IssueID:   "I1",
		ActorID:   actorID,
		Type:      domain.EventTypeStatusChange,
		Payload:   domain.StatusChangePayload(from, to, ""),
		CreatedAt: time.Now(),
	}
}

func findUser(deliveries []Delivery, userID string) []Delivery {
	var out []Delivery
	for _, d := range deliveries {
		if !d.Target.IsRole() && d.Target.UserID == userID {
			out = append(out, d)
		}
	}
	return out
}

func findRole(deliveries []Delivery, role domain.Role) []Delivery {
	var out []Delivery
	for _, d := range deliveries {
		if d.Target.IsRole() && d.Target.Role == role {
			out = append(out, d)
		}
	}
	return out
}

func TestRoute_StatusChangeWithoutAssignee(t *testing.T) {
	issue := domain.Issue{ID: "I1", TicketNo: "CR-2026-000001", Title: "Pothole", ReporterID: "citizen-1", Status: domain.IssueStatusTriaged}
	deliveries := NewRouter().Route(statusEvent("sup-1", domain.IssueStatusSubmitted, domain.IssueStatusTriaged), issue)

	reporter := findUser(deliveries, "citizen-1")
	if len(reporter) != 1 || reporter[0].Payload.Type != TypeIssueUpdated {
		t.Fatalf("reporter deliveries = %+v", reporter)
	}
	if reporter[0].Payload.Data == nil || reporter[0].Payload.Data.Status != domain.IssueStatusTriaged || reporter[0].Payload.Data.TicketNo != "CR-2026-000001" {
		t.Errorf("summary = %+v", reporter[0].Payload.Data)
	}
	for _, role := range []domain.Role{domain.RoleSupervisor, domain.RoleAdmin} {
		got := findRole(deliveries, role)
		if len(got) != 1 || got[0].Payload.Type != TypeIssueStatusChange {
			t.Errorf("%s deliveries = %+v", role, got)
		}
	}
	if got := findRole(deliveries, domain.RoleOfficer); len(got) != 0 {
		t.Errorf("officer deliveries = %+v", got)
	}
	if len(deliveries) != 3 {
		t.Errorf("deliveries = %d, want 3", len(deliveries))
	}
}

func TestRoute_StatusChangeNotifiesAssigneeUnlessActor(t *testing.T) {
	issue := domain.Issue{ID: "I1", Title: "Leak", ReporterID: "citizen-1", AssigneeID: strPtr("off-A"), Status: domain.IssueStatusInProgress}

	deliveries := NewRouter().Route(statusEvent("sup-1", domain.IssueStatusAssigned, domain.IssueStatusInProgress), issue)
	if got := findUser(deliveries, "off-A"); len(got) != 1 || got[0].Payload.Type != TypeIssueAssigned {
		t.Errorf("assignee deliveries = %+v", got)
	}

	deliveries = NewRouter().Route(statusEvent("off-A", domain.IssueStatusAssigned, domain.IssueStatusInProgress), issue)
	if got := findUser(deliveries, "off-A"); len(got) != 0 {
		t.Errorf("self-notification delivered: %+v", got)
	}
	if got := findUser(deliveries, "citizen-1"); len(got) != 1 {
		t.Errorf("reporter deliveries = %+v", got)
	}
}

func TestRoute_AssignTemplatesDiffer(t *testing.T) {
	issue := domain.Issue{ID: "I2", Title: "Broken bench", ReporterID: "citizen-2", AssigneeID: strPtr("off-B"), Status: domain.IssueStatusAssigned}
	event := domain.IssueEvent{
		IssueID: "I2",
		ActorID: "admin-1",
		Type:    domain.EventTypeAssign,
		Payload: map[string]any{"assigneeId": "off-B", "previousAssigneeId": "off-A"},
	}
	deliveries := NewRouter().Route(event, issue)

	assignee := findUser(deliveries, "off-B")
	reporter := findUser(deliveries, "citizen-2")
	if len(assignee) != 1 || len(reporter) != 1 {
		t.Fatalf("deliveries = %+v", deliveries)
	}
	if assignee[0].Payload.Type != TypeIssueAssigned || reporter[0].Payload.Type != TypeIssueAssigned {
		t.Errorf("types = %s / %s", assignee[0].Payload.Type, reporter[0].Payload.Type)
	}
	if assignee[0].Payload.Message == reporter[0].Payload.Message {
		t.Errorf("assignee and reporter share message %q", assignee[0].Payload.Message)
	}
	if got := findUser(deliveries, "off-A"); len(got) != 0 {
		t.Errorf("previous assignee notified: %+v", got)
	}
}

func TestRouteAll_CollapsesForcedAssignment(t *testing.T) {
	issue := domain.Issue{ID: "I3", Title: "Fallen tree", ReporterID: "citizen-3", AssigneeID: strPtr("off-B"), Status: domain.IssueStatusAssigned}
	events := []domain.IssueEvent{
		{IssueID: "I3", ActorID: "sup-1", Type: domain.EventTypeAssign, Payload: map[string]any{"assigneeId": "off-B"}},
		statusEvent("sup-1", domain.IssueStatusTriaged, domain.IssueStatusAssigned),
	}
	deliveries := NewRouter().RouteAll(events, issue)

	reporter := findUser(deliveries, "citizen-3")
	if len(reporter) != 1 || reporter[0].Payload.Type != TypeIssueAssigned {
		t.Errorf("reporter deliveries = %+v", reporter)
	}
	assignee := findUser(deliveries, "off-B")
	if len(assignee) != 1 || assignee[0].Payload.Message != `New issue "Fallen tree" has been assigned to you` {
		t.Errorf("assignee deliveries = %+v", assignee)
	}
	for _, d := range findRole(deliveries, domain.RoleSupervisor) {
		if len(d.Exclude) != 2 || d.Exclude[0] != "citizen-3" || d.Exclude[1] != "off-B" {
			t.Errorf("exclude = %v", d.Exclude)
		}
	}
	if got := findRole(deliveries, domain.RoleSupervisor); len(got) != 1 {
		t.Errorf("supervisor broadcasts = %d, want 1", len(got))
	}
}

func TestRoute_ReporterIsAssigneeKeepsMostSpecific(t *testing.T) {
	issue := domain.Issue{ID: "I4", Title: "Graffiti", ReporterID: "off-C", AssigneeID: strPtr("off-C"), Status: domain.IssueStatusPendingUserInfo}
	deliveries := NewRouter().Route(statusEvent("sup-1", domain.IssueStatusInProgress, domain.IssueStatusPendingUserInfo), issue)

	got := findUser(deliveries, "off-C")
	if len(got) != 1 || got[0].Payload.Type != TypeIssueAssigned {
		t.Errorf("deliveries = %+v", got)
	}
}

func TestRoute_NoPushForComments(t *testing.T) {
	issue := domain.Issue{ID: "I1", ReporterID: "citizen-1", Status: domain.IssueStatusSubmitted}
	for _, eventType := range []domain.IssueEventType{domain.EventTypeComment, domain.EventTypeEscalate, domain.EventTypeMergeDuplicate} {
		event := domain.IssueEvent{IssueID: "I1", ActorID: "off-1", Type: eventType}
		if got := NewRouter().Route(event, issue); len(got) != 0 {
			t.Errorf("Route(%s) = %+v, want none", eventType, got)
		}
	}
}

func TestRouteCreated(t *testing.T) {
	issue := domain.Issue{ID: "I5", Title: "Water outage", ReporterID: "citizen-5", Status: domain.IssueStatusSubmitted}
	deliveries := NewRouter().RouteCreated(issue)

	if len(deliveries) != 3 {
		t.Fatalf("deliveries = %d, want 3", len(deliveries))
	}
	for i, role := range []domain.Role{domain.RoleOfficer, domain.RoleSupervisor, domain.RoleAdmin} {
		if deliveries[i].Target.Role != role || deliveries[i].Payload.Type != TypeNewIssue {
			t.Errorf("deliveries[%d] = %+v", i, deliveries[i])
		}
	}
	if deliveries[0].Payload.Message != "New issue reported: Water outage" {
		t.Errorf("message = %q", deliveries[0].Payload.Message)
	}
}
