package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicworks/civic-issues/internal/domain"
	"github.com/civicworks/civic-issues/internal/events"
	"github.com/civicworks/civic-issues/internal/lifecycle"
	"github.com/civicworks/civic-issues/internal/observability"
	"github.com/civicworks/civic-issues/internal/repository"
	apperrors "github.com/civicworks/civic-issues/pkg/util/errorutil"
)

const (
	maxTitleLength   = 200
	maxCommentLength = 4000
)

// IssueService orchestrates issue workflows: it loads the issue, lets the
// lifecycle decide, persists the outcome atomically and publishes it.
type IssueService struct {
	issues     repository.IssueRepository
	catalog    repository.CategoryLookup
	users      repository.UserRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// IssueDependencies bundles collaborators for the issue service.
type IssueDependencies struct {
	IssueRepo  repository.IssueRepository
	Catalog    repository.CategoryLookup
	UserRepo   repository.UserRepository
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Clock      func() time.Time
}

// NewIssueService constructs the service.
func NewIssueService(deps IssueDependencies) *IssueService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &IssueService{
		issues:     deps.IssueRepo,
		catalog:    deps.Catalog,
		users:      deps.UserRepo,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		metrics:    deps.Metrics,
		now:        clock,
	}
}

// CreateIssueInput describes a new report.
type CreateIssueInput struct {
	Title       string
	Description string
	CategoryID  string
	WardID      *string
	Priority    domain.IssuePriority
}

// TransitionExtra carries the fields some target statuses require.
type TransitionExtra struct {
	RejectedReason string
	AssigneeID     *string
}

// CreateIssue files a report. The issue is submitted immediately, so no
// DRAFT row is ever visible.
func (s *IssueService) CreateIssue(ctx context.Context, actor domain.Actor, input CreateIssueInput) (*domain.Issue, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewMissingField("title", "title is required")
	}
	if len(title) > maxTitleLength {
		return nil, apperrors.NewValidationError("title too long", map[string]any{"max_length": maxTitleLength})
	}
	categoryID := strings.TrimSpace(input.CategoryID)
	if categoryID == "" {
		return nil, apperrors.NewMissingField("category_id", "category_id is required")
	}
	if input.Priority != "" && !input.Priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": input.Priority})
	}

	departmentID, err := s.catalog.DepartmentFor(ctx, categoryID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return nil, apperrors.NewValidationError("unknown category", map[string]any{"category_id": categoryID})
		}
		return nil, err
	}

	draft := domain.Issue{
		Title:        title,
		Description:  strings.TrimSpace(input.Description),
		CategoryID:   categoryID,
		WardID:       input.WardID,
		DepartmentID: &departmentID,
		Status:       domain.IssueStatusDraft,
		Priority:     input.Priority,
	}
	issue, audit, err := lifecycle.Submit(draft, actor, s.now())
	if err != nil {
		return nil, err
	}

	err = s.issues.RunInTx(ctx, func(tx repository.IssueRepository) error {
		if err := tx.CreateDraft(ctx, &issue); err != nil {
			return err
		}
		audit.IssueID = issue.ID
		return tx.AppendEvent(ctx, &audit)
	})
	s.metrics.RecordOperation("create", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("issue created",
		zap.String("issue_id", issue.ID),
		zap.String("ticket_no", issue.TicketNo),
		zap.String("reporter_id", issue.ReporterID))
	s.publish(ctx, events.EventIssueCreated, actor, issue, []domain.IssueEvent{audit})
	return &issue, nil
}

// RequestTransition moves an issue to target. The write is conditioned on
// the version read here; a concurrent change yields CONFLICT and nothing is
// retried.
func (s *IssueService) RequestTransition(ctx context.Context, issueID string, actor domain.Actor, target domain.IssueStatus, extra TransitionExtra) (*domain.Issue, error) {
	current, err := s.issues.Get(ctx, issueID)
	if err != nil {
		return nil, err
	}

	next, audit, err := lifecycle.Apply(*current, domain.TransitionRequest{
		IssueID:        issueID,
		Actor:          actor,
		TargetStatus:   target,
		RejectedReason: extra.RejectedReason,
		AssigneeID:     extra.AssigneeID,
	}, s.now())
	if err != nil {
		s.metrics.RecordOperation("transition", err)
		return nil, err
	}
	if next.HasAssignee() && (current.AssigneeID == nil || *current.AssigneeID != *next.AssigneeID) {
		if err := s.checkAssignee(ctx, *next.AssigneeID); err != nil {
			return nil, err
		}
	}

	return s.commit(ctx, "transition", events.EventIssueStatusChanged, actor, current.Version, next, []domain.IssueEvent{audit})
}

// AssignIssue sets the assignee, moving a TRIAGED issue to ASSIGNED.
func (s *IssueService) AssignIssue(ctx context.Context, issueID, assigneeID string, actor domain.Actor) (*domain.Issue, error) {
	current, err := s.issues.Get(ctx, issueID)
	if err != nil {
		return nil, err
	}

	next, audit, err := lifecycle.Assign(*current, assigneeID, actor, s.now())
	if err != nil {
		s.metrics.RecordOperation("assign", err)
		return nil, err
	}
	if err := s.checkAssignee(ctx, *next.AssigneeID); err != nil {
		return nil, err
	}

	return s.commit(ctx, "assign", events.EventIssueAssigned, actor, current.Version, next, audit)
}

// EscalateIssue raises the priority of an open issue.
func (s *IssueService) EscalateIssue(ctx context.Context, issueID string, priority domain.IssuePriority, actor domain.Actor) (*domain.Issue, error) {
	current, err := s.issues.Get(ctx, issueID)
	if err != nil {
		return nil, err
	}

	next, audit, err := lifecycle.Escalate(*current, priority, actor, s.now())
	if err != nil {
		s.metrics.RecordOperation("escalate", err)
		return nil, err
	}
	return s.commit(ctx, "escalate", events.EventIssueEscalated, actor, current.Version, next, []domain.IssueEvent{audit})
}

// MarkDuplicate rejects issueID as a duplicate of originalID.
func (s *IssueService) MarkDuplicate(ctx context.Context, issueID, originalID string, actor domain.Actor) (*domain.Issue, error) {
	current, err := s.issues.Get(ctx, issueID)
	if err != nil {
		return nil, err
	}
	original, err := s.issues.Get(ctx, originalID)
	if err != nil {
		return nil, err
	}

	next, audit, err := lifecycle.MarkDuplicate(*current, *original, actor, s.now())
	if err != nil {
		s.metrics.RecordOperation("duplicate", err)
		return nil, err
	}
	return s.commit(ctx, "duplicate", events.EventIssueMarkedDuplicate, actor, current.Version, next, audit)
}

// AddComment posts on an issue thread. Citizens may only comment on their
// own reports. Comments are audited but not pushed.
func (s *IssueService) AddComment(ctx context.Context, issueID string, actor domain.Actor, body string) (*domain.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewMissingField("body", "comment body is required")
	}
	if len(body) > maxCommentLength {
		return nil, apperrors.NewValidationError("comment too long", map[string]any{"max_length": maxCommentLength})
	}

	issue, err := s.issues.Get(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if err := canView(actor, issue); err != nil {
		return nil, err
	}

	now := s.now()
	comment := domain.Comment{IssueID: issue.ID, AuthorID: actor.ID, Body: body, CreatedAt: now}
	var audit domain.IssueEvent
	err = s.issues.RunInTx(ctx, func(tx repository.IssueRepository) error {
		if err := tx.CreateComment(ctx, &comment); err != nil {
			return err
		}
		audit = domain.IssueEvent{
			IssueID:   issue.ID,
			ActorID:   actor.ID,
			Type:      domain.EventTypeComment,
			Payload:   map[string]any{"commentId": comment.ID},
			CreatedAt: now,
		}
		return tx.AppendEvent(ctx, &audit)
	})
	s.metrics.RecordOperation("comment", err)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventIssueCommented, actor, *issue, []domain.IssueEvent{audit})
	return &comment, nil
}

// GetIssue loads an issue by id.
func (s *IssueService) GetIssue(ctx context.Context, issueID string, actor domain.Actor) (*domain.Issue, error) {
	issue, err := s.issues.Get(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if err := canView(actor, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// GetIssueByTicketNo loads an issue by its ticket number.
func (s *IssueService) GetIssueByTicketNo(ctx context.Context, ticketNo string, actor domain.Actor) (*domain.Issue, error) {
	issue, err := s.issues.GetByTicketNo(ctx, strings.TrimSpace(ticketNo))
	if err != nil {
		return nil, err
	}
	if err := canView(actor, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// ListMyIssues pages through the issues actor reported.
func (s *IssueService) ListMyIssues(ctx context.Context, actor domain.Actor, statuses []domain.IssueStatus, limit, offset int) ([]domain.Issue, error) {
	if err := validateStatuses(statuses); err != nil {
		return nil, err
	}
	return s.issues.ListByReporter(ctx, actor.ID, statuses, limit, offset)
}

// ListIssues searches issues. Citizens only ever see their own reports,
// whatever the filter asks for.
func (s *IssueService) ListIssues(ctx context.Context, actor domain.Actor, filter repository.IssueFilter) ([]domain.Issue, error) {
	if err := validateStatuses(filter.Statuses); err != nil {
		return nil, err
	}
	if !actor.Role.Staff() {
		reporterID := actor.ID
		filter.ReporterID = &reporterID
	}
	return s.issues.ListWithFilter(ctx, filter)
}

func validateStatuses(statuses []domain.IssueStatus) error {
	for _, status := range statuses {
		if !status.Valid() {
			return apperrors.NewValidationError("unknown status", map[string]any{"status": status})
		}
	}
	return nil
}

// ListEvents returns the audit trail of an issue, oldest first.
func (s *IssueService) ListEvents(ctx context.Context, issueID string, actor domain.Actor) ([]domain.IssueEvent, error) {
	if _, err := s.GetIssue(ctx, issueID, actor); err != nil {
		return nil, err
	}
	return s.issues.ListEvents(ctx, issueID)
}

func (s *IssueService) commit(ctx context.Context, operation string, eventType events.EventType, actor domain.Actor, expectedVersion int64, next domain.Issue, audit []domain.IssueEvent) (*domain.Issue, error) {
	err := s.issues.RunInTx(ctx, func(tx repository.IssueRepository) error {
		if err := tx.ConditionalUpdate(ctx, &next, expectedVersion); err != nil {
			return err
		}
		for i := range audit {
			if err := tx.AppendEvent(ctx, &audit[i]); err != nil {
				return err
			}
		}
		return nil
	})
	s.metrics.RecordOperation(operation, err)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeConflict) {
			s.logger.Info("concurrent update rejected",
				zap.String("issue_id", next.ID),
				zap.String("operation", operation),
				zap.Int64("expected_version", expectedVersion))
		}
		return nil, err
	}

	s.logger.Info("issue updated",
		zap.String("issue_id", next.ID),
		zap.String("operation", operation),
		zap.String("status", string(next.Status)),
		zap.String("actor_id", actor.ID))
	s.publish(ctx, eventType, actor, next, audit)
	return &next, nil
}

// publish hands the committed change to subscribers. Failures are logged;
// the write has already succeeded.
func (s *IssueService) publish(ctx context.Context, eventType events.EventType, actor domain.Actor, issue domain.Issue, audit []domain.IssueEvent) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		IssueID:   issue.ID,
		Actor:     actor,
		Timestamp: s.now(),
		Payload:   events.IssuePayload{Issue: issue.Clone(), AuditEvents: audit},
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handlers failed",
			zap.String("event_type", string(eventType)),
			zap.String("issue_id", issue.ID),
			zap.Error(err))
	}
}

func (s *IssueService) checkAssignee(ctx context.Context, assigneeID string) error {
	if s.users == nil {
		return nil
	}
	user, err := s.users.GetByID(ctx, assigneeID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return apperrors.NewValidationError("assignee does not exist", map[string]any{"assignee_id": assigneeID})
		}
		return err
	}
	if !user.Active || !user.Role.Staff() {
		return apperrors.NewValidationError("assignee must be active staff", map[string]any{
			"assignee_id": assigneeID,
			"role":        user.Role,
		})
	}
	return nil
}

// canView hides other people's reports from citizens.
func canView(actor domain.Actor, issue *domain.Issue) error {
	if actor.Role == domain.RoleCitizen && issue.ReporterID != actor.ID {
		return apperrors.NewNotFound("issue", nil)
	}
	return nil
}
