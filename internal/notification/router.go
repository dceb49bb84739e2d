package notification

import (
	"fmt"
	"sort"

	"github.com/civicworks/civic-issues/internal/domain"
)

// Target addresses either one user or every live channel of a role.
type Target struct {
	UserID string
	Role   domain.Role
}

// IsRole reports whether the target is a role broadcast.
func (t Target) IsRole() bool {
	return t.UserID == "" && t.Role != ""
}

// Delivery pairs a target with the payload it should receive. Exclude lists
// users already reached directly by the same fanout; role broadcasts skip them.
type Delivery struct {
	Target  Target
	Payload Payload
	Exclude []string

	specificity int
}

const (
	specificityStatus = iota + 1
	specificityReporterAssign
	specificityAssigneeAssign
)

// Router maps lifecycle events to deliveries. It holds no state.
type Router struct{}

// NewRouter constructs a router.
func NewRouter() *Router {
	return &Router{}
}

// RouteCreated fans a new issue out to every staff role.
func (r *Router) RouteCreated(issue domain.Issue) []Delivery {
	payload := Payload{
		Type:    TypeNewIssue,
		Data:    Summarize(issue),
		Message: fmt.Sprintf("New issue reported: %s", issue.Title),
	}
	roles := []domain.Role{domain.RoleOfficer, domain.RoleSupervisor, domain.RoleAdmin}
	out := make([]Delivery, 0, len(roles))
	for _, role := range roles {
		out = append(out, Delivery{Target: Target{Role: role}, Payload: payload})
	}
	return out
}

// Route maps a single event.
func (r *Router) Route(event domain.IssueEvent, issue domain.Issue) []Delivery {
	return r.RouteAll([]domain.IssueEvent{event}, issue)
}

// RouteAll maps the events of one operation, collapsing duplicates so each
// user receives at most one payload, the most specific one.
func (r *Router) RouteAll(events []domain.IssueEvent, issue domain.Issue) []Delivery {
	var candidates []Delivery
	for _, event := range events {
		for _, d := range r.routeEvent(event, issue) {
			if !d.Target.IsRole() && d.Target.UserID == event.ActorID {
				continue
			}
			candidates = append(candidates, d)
		}
	}
	return collapse(candidates)
}

func (r *Router) routeEvent(event domain.IssueEvent, issue domain.Issue) []Delivery {
	summary := Summarize(issue)
	switch event.Type {
	case domain.EventTypeStatusChange:
		oldStatus, newStatus := event.StatusChange()
		out := []Delivery{{
			Target: Target{UserID: issue.ReporterID},
			Payload: Payload{
				Type:    TypeIssueUpdated,
				Data:    summary,
				Message: fmt.Sprintf("Your issue %q status changed from %s to %s", issue.Title, oldStatus, newStatus),
			},
			specificity: specificityStatus,
		}}
		if issue.HasAssignee() {
			message := fmt.Sprintf("Issue %q assigned to you is now %s", issue.Title, newStatus)
			if newStatus == domain.IssueStatusAssigned {
				message = fmt.Sprintf("Issue %q has been assigned to you", issue.Title)
			}
			out = append(out, Delivery{
				Target:      Target{UserID: *issue.AssigneeID},
				Payload:     Payload{Type: TypeIssueAssigned, Data: summary, Message: message},
				specificity: specificityAssigneeAssign,
			})
		}
		broadcast := Payload{
			Type:    TypeIssueStatusChange,
			Data:    summary,
			Message: fmt.Sprintf("Issue %q status changed to %s", issue.Title, newStatus),
		}
		out = append(out,
			Delivery{Target: Target{Role: domain.RoleSupervisor}, Payload: broadcast},
			Delivery{Target: Target{Role: domain.RoleAdmin}, Payload: broadcast},
		)
		return out
	case domain.EventTypeAssign:
		assigneeID := event.AssigneeID()
		if assigneeID == "" && issue.HasAssignee() {
			assigneeID = *issue.AssigneeID
		}
		out := []Delivery{}
		if assigneeID != "" {
			out = append(out, Delivery{
				Target: Target{UserID: assigneeID},
				Payload: Payload{
					Type:    TypeIssueAssigned,
					Data:    summary,
					Message: fmt.Sprintf("New issue %q has been assigned to you", issue.Title),
				},
				specificity: specificityAssigneeAssign,
			})
		}
		out = append(out, Delivery{
			Target: Target{UserID: issue.ReporterID},
			Payload: Payload{
				Type:    TypeIssueAssigned,
				Data:    summary,
				Message: fmt.Sprintf("Your issue %q has been assigned for resolution", issue.Title),
			},
			specificity: specificityReporterAssign,
		})
		return out
	default:
		return nil
	}
}

func collapse(candidates []Delivery) []Delivery {
	out := make([]Delivery, 0, len(candidates))
	userIndex := map[string]int{}
	roleSeen := map[domain.Role]bool{}

	for _, d := range candidates {
		if d.Target.IsRole() {
			if roleSeen[d.Target.Role] {
				continue
			}
			roleSeen[d.Target.Role] = true
			out = append(out, d)
			continue
		}
		if d.Target.UserID == "" {
			continue
		}
		if idx, ok := userIndex[d.Target.UserID]; ok {
			if d.specificity > out[idx].specificity {
				out[idx] = d
			}
			continue
		}
		userIndex[d.Target.UserID] = len(out)
		out = append(out, d)
	}

	if len(userIndex) == 0 {
		return out
	}
	direct := make([]string, 0, len(userIndex))
	for userID := range userIndex {
		direct = append(direct, userID)
	}
	sort.Strings(direct)
	for i := range out {
		if out[i].Target.IsRole() {
			out[i].Exclude = direct
		}
	}
	return out
}
