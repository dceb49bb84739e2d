package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/civicworks/civic-issues/internal/domain"
	apperrors "github.com/civicworks/civic-issues/pkg/util/errorutil"
)

var _ IssueRepository = (*MemoryIssueRepository)(nil)

// MemoryIssueRepository keeps issues in process memory. Transactions are
// serialized and staged, so a failed RunInTx leaves no trace.
type MemoryIssueRepository struct {
	txMu sync.Mutex

	mu       sync.RWMutex
	issues   map[string]domain.Issue
	byTicket map[string]string
	events   []domain.IssueEvent
	comments []domain.Comment
}

// NewMemoryIssueRepository returns an empty store.
func NewMemoryIssueRepository() *MemoryIssueRepository {
	return &MemoryIssueRepository{
		issues:   make(map[string]domain.Issue),
		byTicket: make(map[string]string),
	}
}

func (m *MemoryIssueRepository) Get(ctx context.Context, id string) (*domain.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	issue, ok := m.issues[id]
	if !ok {
		return nil, apperrors.NewNotFound("issue", map[string]any{"key": id})
	}
	out := issue.Clone()
	return &out, nil
}

func (m *MemoryIssueRepository) GetByTicketNo(ctx context.Context, ticketNo string) (*domain.Issue, error) {
	m.mu.RLock()
	id, ok := m.byTicket[ticketNo]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFound("issue", map[string]any{"key": ticketNo})
	}
	return m.Get(ctx, id)
}

func (m *MemoryIssueRepository) CreateDraft(ctx context.Context, issue *domain.Issue) error {
	return m.RunInTx(ctx, func(tx IssueRepository) error { return tx.CreateDraft(ctx, issue) })
}

func (m *MemoryIssueRepository) ConditionalUpdate(ctx context.Context, issue *domain.Issue, expectedVersion int64) error {
	return m.RunInTx(ctx, func(tx IssueRepository) error { return tx.ConditionalUpdate(ctx, issue, expectedVersion) })
}

func (m *MemoryIssueRepository) AppendEvent(ctx context.Context, event *domain.IssueEvent) error {
	return m.RunInTx(ctx, func(tx IssueRepository) error { return tx.AppendEvent(ctx, event) })
}

func (m *MemoryIssueRepository) CreateComment(ctx context.Context, comment *domain.Comment) error {
	return m.RunInTx(ctx, func(tx IssueRepository) error { return tx.CreateComment(ctx, comment) })
}

func (m *MemoryIssueRepository) ListEvents(ctx context.Context, issueID string) ([]domain.IssueEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.IssueEvent
	for _, event := range m.events {
		if event.IssueID == issueID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (m *MemoryIssueRepository) ListByReporter(ctx context.Context, reporterID string, statuses []domain.IssueStatus, limit, offset int) ([]domain.Issue, error) {
	return m.ListWithFilter(ctx, IssueFilter{ReporterID: &reporterID, Statuses: statuses, Limit: limit, Offset: offset})
}

func (m *MemoryIssueRepository) ListWithFilter(ctx context.Context, filter IssueFilter) ([]domain.Issue, error) {
	m.mu.RLock()
	all := make([]domain.Issue, 0, len(m.issues))
	for _, issue := range m.issues {
		all = append(all, issue.Clone())
	}
	m.mu.RUnlock()
	return filterIssues(all, filter), nil
}

func filterIssues(all []domain.Issue, filter IssueFilter) []domain.Issue {
	term := filter.search()
	matched := all[:0]
	for _, issue := range all {
		if !sameValue(filter.ReporterID, &issue.ReporterID) ||
			!sameValue(filter.AssigneeID, issue.AssigneeID) ||
			!sameValue(filter.CategoryID, &issue.CategoryID) ||
			!sameValue(filter.WardID, issue.WardID) ||
			!sameValue(filter.DepartmentID, issue.DepartmentID) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, issue.Status) {
			continue
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(issue.Title), term) &&
			!strings.Contains(strings.ToLower(issue.Description), term) &&
			!strings.Contains(strings.ToLower(issue.TicketNo), term) {
			continue
		}
		matched = append(matched, issue)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	limit, offset := filter.Page()
	if offset >= len(matched) {
		return []domain.Issue{}
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end]
}

// sameValue reports whether got satisfies the optional filter value want.
func sameValue(want, got *string) bool {
	if want == nil {
		return true
	}
	return got != nil && *got == *want
}

func containsStatus(statuses []domain.IssueStatus, status domain.IssueStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Comments returns the comments posted on issueID.
func (m *MemoryIssueRepository) Comments(issueID string) []domain.Comment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Comment
	for _, comment := range m.comments {
		if comment.IssueID == issueID {
			out = append(out, comment)
		}
	}
	return out
}

func (m *MemoryIssueRepository) RunInTx(ctx context.Context, fn func(IssueRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memoryTx{base: m, issues: make(map[string]domain.Issue)}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, issue := range tx.issues {
		m.issues[id] = issue
		m.byTicket[issue.TicketNo] = id
	}
	m.events = append(m.events, tx.events...)
	m.comments = append(m.comments, tx.comments...)
	return nil
}

// memoryTx stages writes until RunInTx commits them.
type memoryTx struct {
	base     *MemoryIssueRepository
	issues   map[string]domain.Issue
	events   []domain.IssueEvent
	comments []domain.Comment
}

func (t *memoryTx) lookup(id string) (domain.Issue, bool) {
	if issue, ok := t.issues[id]; ok {
		return issue, true
	}
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()
	issue, ok := t.base.issues[id]
	return issue, ok
}

func (t *memoryTx) Get(ctx context.Context, id string) (*domain.Issue, error) {
	issue, ok := t.lookup(id)
	if !ok {
		return nil, apperrors.NewNotFound("issue", map[string]any{"key": id})
	}
	out := issue.Clone()
	return &out, nil
}

func (t *memoryTx) GetByTicketNo(ctx context.Context, ticketNo string) (*domain.Issue, error) {
	for id, issue := range t.issues {
		if issue.TicketNo == ticketNo {
			return t.Get(ctx, id)
		}
	}
	return t.base.GetByTicketNo(ctx, ticketNo)
}

func (t *memoryTx) ListByReporter(ctx context.Context, reporterID string, statuses []domain.IssueStatus, limit, offset int) ([]domain.Issue, error) {
	return t.ListWithFilter(ctx, IssueFilter{ReporterID: &reporterID, Statuses: statuses, Limit: limit, Offset: offset})
}

func (t *memoryTx) ListWithFilter(ctx context.Context, filter IssueFilter) ([]domain.Issue, error) {
	t.base.mu.RLock()
	merged := make(map[string]domain.Issue, len(t.base.issues)+len(t.issues))
	for id, issue := range t.base.issues {
		merged[id] = issue
	}
	t.base.mu.RUnlock()
	for id, issue := range t.issues {
		merged[id] = issue
	}

	all := make([]domain.Issue, 0, len(merged))
	for _, issue := range merged {
		all = append(all, issue.Clone())
	}
	return filterIssues(all, filter), nil
}

func (t *memoryTx) CreateDraft(ctx context.Context, issue *domain.Issue) error {
	var ticketNo string
	for attempt := 0; attempt < ticketNoAttempts; attempt++ {
		candidate := NewTicketNo(issue.CreatedAt)
		if _, err := t.GetByTicketNo(ctx, candidate); err != nil {
			ticketNo = candidate
			break
		}
	}
	if ticketNo == "" {
		return apperrors.NewConflict("could not allocate a ticket number", nil)
	}

	issue.ID = uuid.NewString()
	issue.TicketNo = ticketNo
	issue.Version = 1
	issue.UpdatedAt = issue.CreatedAt
	t.issues[issue.ID] = issue.Clone()
	return nil
}

func (t *memoryTx) ConditionalUpdate(ctx context.Context, issue *domain.Issue, expectedVersion int64) error {
	current, ok := t.lookup(issue.ID)
	if !ok {
		return apperrors.NewNotFound("issue", map[string]any{"id": issue.ID})
	}
	if current.Version != expectedVersion {
		return conflictError(issue.ID, expectedVersion)
	}

	src := issue.Clone()
	next := current.Clone()
	next.AssigneeID = src.AssigneeID
	next.DuplicateOfIssueID = src.DuplicateOfIssueID
	next.Status = src.Status
	next.Priority = src.Priority
	next.RejectedReason = src.RejectedReason
	next.ResolvedAt = src.ResolvedAt
	next.UpdatedAt = src.UpdatedAt
	next.Version = current.Version + 1
	t.issues[issue.ID] = next

	issue.Version = next.Version
	return nil
}

func (t *memoryTx) AppendEvent(ctx context.Context, event *domain.IssueEvent) error {
	if _, ok := t.lookup(event.IssueID); !ok {
		return apperrors.NewNotFound("issue", map[string]any{"id": event.IssueID})
	}
	event.ID = uuid.NewString()
	t.events = append(t.events, *event)
	return nil
}

func (t *memoryTx) ListEvents(ctx context.Context, issueID string) ([]domain.IssueEvent, error) {
	events, _ := t.base.ListEvents(ctx, issueID)
	for _, event := range t.events {
		if event.IssueID == issueID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (t *memoryTx) CreateComment(ctx context.Context, comment *domain.Comment) error {
	if _, ok := t.lookup(comment.IssueID); !ok {
		return apperrors.NewNotFound("issue", map[string]any{"id": comment.IssueID})
	}
	comment.ID = uuid.NewString()
	t.comments = append(t.comments, *comment)
	return nil
}

func (t *memoryTx) RunInTx(ctx context.Context, fn func(IssueRepository) error) error {
	return fn(t)
}
