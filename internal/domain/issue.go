package domain

import "time"

// IssueStatus enumerates lifecycle states for issues.
type IssueStatus string

const (
	IssueStatusDraft           IssueStatus = "DRAFT"
	IssueStatusSubmitted       IssueStatus = "SUBMITTED"
	IssueStatusTriaged         IssueStatus = "TRIAGED"
	IssueStatusAssigned        IssueStatus = "ASSIGNED"
	IssueStatusInProgress      IssueStatus = "IN_PROGRESS"
	IssueStatusPendingUserInfo IssueStatus = "PENDING_USER_INFO"
	IssueStatusResolved        IssueStatus = "RESOLVED"
	IssueStatusRejected        IssueStatus = "REJECTED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []IssueStatus{
	IssueStatusDraft,
	IssueStatusSubmitted,
	IssueStatusTriaged,
	IssueStatusAssigned,
	IssueStatusInProgress,
	IssueStatusPendingUserInfo,
	IssueStatusResolved,
	IssueStatusRejected,
}

// Valid reports whether s is a known status.
func (s IssueStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves the status.
func (s IssueStatus) Terminal() bool {
	return s == IssueStatusResolved || s == IssueStatusRejected
}

// IssuePriority is independent of status and may change at any time.
type IssuePriority string

const (
	IssuePriorityLow      IssuePriority = "LOW"
	IssuePriorityMedium   IssuePriority = "MEDIUM"
	IssuePriorityHigh     IssuePriority = "HIGH"
	IssuePriorityCritical IssuePriority = "CRITICAL"
)

var priorityRank = map[IssuePriority]int{
	IssuePriorityLow:      1,
	IssuePriorityMedium:   2,
	IssuePriorityHigh:     3,
	IssuePriorityCritical: 4,
}

// Valid reports whether p is a known priority.
func (p IssuePriority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Above reports whether p is strictly more urgent than other.
func (p IssuePriority) Above(other IssuePriority) bool {
	return priorityRank[p] > priorityRank[other]
}

// Issue is the aggregate for a reported civic problem.
type Issue struct {
	ID                 string
	TicketNo           string
	Title              string
	Description        string
	CategoryID         string
	WardID             *string
	DepartmentID       *string
	ReporterID         string
	AssigneeID         *string
	DuplicateOfIssueID *string
	Status             IssueStatus
	Priority           IssuePriority
	RejectedReason     string
	ResolvedAt         *time.Time
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasAssignee reports whether the issue carries an assignee.
func (i *Issue) HasAssignee() bool {
	return i.AssigneeID != nil && *i.AssigneeID != ""
}

// Clone returns a copy that shares no pointers with i.
func (i Issue) Clone() Issue {
	out := i
	out.WardID = clonePtr(i.WardID)
	out.DepartmentID = clonePtr(i.DepartmentID)
	out.AssigneeID = clonePtr(i.AssigneeID)
	out.DuplicateOfIssueID = clonePtr(i.DuplicateOfIssueID)
	out.ResolvedAt = clonePtr(i.ResolvedAt)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
