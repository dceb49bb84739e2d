package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicworks/civic-issues/internal/domain"
	apperrors "github.com/civicworks/civic-issues/pkg/util/errorutil"
)

// IssueFilter captures listing parameters. Nil fields and empty slices
// match every issue.
type IssueFilter struct {
	ReporterID   *string
	AssigneeID   *string
	CategoryID   *string
	WardID       *string
	DepartmentID *string
	Statuses     []domain.IssueStatus
	SearchTerm   *string
	Limit        int
	Offset       int
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Page returns the effective limit and offset.
func (f IssueFilter) Page() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset = f.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (f IssueFilter) search() string {
	if f.SearchTerm == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*f.SearchTerm))
}

// IssueRepository is the durable store of issues and their audit trail.
type IssueRepository interface {
	Get(ctx context.Context, id string) (*domain.Issue, error)
	GetByTicketNo(ctx context.Context, ticketNo string) (*domain.Issue, error)
	// ListByReporter pages through the issues reported by reporterID,
	// most recently updated first.
	ListByReporter(ctx context.Context, reporterID string, statuses []domain.IssueStatus, limit, offset int) ([]domain.Issue, error)
	ListWithFilter(ctx context.Context, filter IssueFilter) ([]domain.Issue, error)
	// CreateDraft persists a freshly submitted issue, assigning its ID,
	// ticket number and initial version.
	CreateDraft(ctx context.Context, issue *domain.Issue) error
	// ConditionalUpdate writes issue only if the stored version still equals
	// expectedVersion, failing with CONFLICT otherwise. On success
	// issue.Version holds the new version.
	ConditionalUpdate(ctx context.Context, issue *domain.Issue, expectedVersion int64) error
	AppendEvent(ctx context.Context, event *domain.IssueEvent) error
	ListEvents(ctx context.Context, issueID string) ([]domain.IssueEvent, error)
	CreateComment(ctx context.Context, comment *domain.Comment) error
	// RunInTx runs fn against a repository bound to a single transaction.
	RunInTx(ctx context.Context, fn func(IssueRepository) error) error
}

// NewTicketNo formats a human-readable ticket number.
func NewTicketNo(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("CR-%d-%s", now.Year(), strings.ToUpper(suffix))
}

const ticketNoAttempts = 3

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type issueRepository struct {
	db querier
}

// NewIssueRepository returns a Postgres-backed implementation.
func NewIssueRepository(pool *pgxpool.Pool) IssueRepository {
	return &issueRepository{db: pool}
}

const issueColumns = `id, ticket_no, title, description, category_id, ward_id, department_id,
               reporter_id, assignee_id, duplicate_of_issue_id, status, priority,
               rejected_reason, resolved_at, version, created_at, updated_at`

func (r *issueRepository) Get(ctx context.Context, id string) (*domain.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *issueRepository) GetByTicketNo(ctx context.Context, ticketNo string) (*domain.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE ticket_no=$1`
	return r.fetchSingle(ctx, query, ticketNo)
}

func (r *issueRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Issue, error) {
	issue, err := scanIssue(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("issue", map[string]any{"key": arg})
		}
		return nil, err
	}
	return &issue, nil
}

func scanIssue(row pgx.Row) (domain.Issue, error) {
	var issue domain.Issue
	var rejectedReason *string
	if err := row.Scan(
		&issue.ID,
		&issue.TicketNo,
		&issue.Title,
		&issue.Description,
		&issue.CategoryID,
		&issue.WardID,
		&issue.DepartmentID,
		&issue.ReporterID,
		&issue.AssigneeID,
		&issue.DuplicateOfIssueID,
		&issue.Status,
		&issue.Priority,
		&rejectedReason,
		&issue.ResolvedAt,
		&issue.Version,
		&issue.CreatedAt,
		&issue.UpdatedAt,
	); err != nil {
		return domain.Issue{}, err
	}
	if rejectedReason != nil {
		issue.RejectedReason = *rejectedReason
	}
	return issue, nil
}

func (r *issueRepository) ListByReporter(ctx context.Context, reporterID string, statuses []domain.IssueStatus, limit, offset int) ([]domain.Issue, error) {
	return r.ListWithFilter(ctx, IssueFilter{
		ReporterID: &reporterID,
		Statuses:   statuses,
		Limit:      limit,
		Offset:     offset,
	})
}

func (r *issueRepository) ListWithFilter(ctx context.Context, filter IssueFilter) ([]domain.Issue, error) {
	clauses := []string{"1=1"}
	args := []any{}

	eq := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		clauses = append(clauses, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	eq("reporter_id", filter.ReporterID)
	eq("assignee_id", filter.AssigneeID)
	eq("category_id", filter.CategoryID)
	eq("ward_id", filter.WardID)
	eq("department_id", filter.DepartmentID)

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if term := filter.search(); term != "" {
		args = append(args, "%"+term+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %[1]s OR LOWER(description) LIKE %[1]s OR LOWER(ticket_no) LIKE %[1]s)", placeholder))
	}

	limit, offset := filter.Page()
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE %s ORDER BY updated_at DESC, id ASC LIMIT %d OFFSET %d`,
		issueColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []domain.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (r *issueRepository) CreateDraft(ctx context.Context, issue *domain.Issue) error {
	const query = `
        INSERT INTO issues (ticket_no, title, description, category_id, ward_id, department_id,
            reporter_id, status, priority, version, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1,$10,$10)
        RETURNING id, version`

	var lastErr error
	for attempt := 0; attempt < ticketNoAttempts; attempt++ {
		ticketNo := NewTicketNo(issue.CreatedAt)
		// Each attempt gets its own savepoint (or transaction on the pool):
		// a unique violation aborts it and would poison the enclosing tx.
		err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			return tx.QueryRow(ctx, query,
				ticketNo,
				issue.Title,
				issue.Description,
				issue.CategoryID,
				issue.WardID,
				issue.DepartmentID,
				issue.ReporterID,
				issue.Status,
				issue.Priority,
				issue.CreatedAt,
			).Scan(&issue.ID, &issue.Version)
		})
		if err == nil {
			issue.TicketNo = ticketNo
			issue.UpdatedAt = issue.CreatedAt
			return nil
		}
		if !isUniqueViolation(err, "issues_ticket_no_key") {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("allocate ticket number: %w", lastErr)
}

func (r *issueRepository) ConditionalUpdate(ctx context.Context, issue *domain.Issue, expectedVersion int64) error {
	const query = `
        UPDATE issues SET assignee_id=$1, duplicate_of_issue_id=$2, status=$3, priority=$4,
            rejected_reason=$5, resolved_at=$6, updated_at=$7, version=version+1
        WHERE id=$8 AND version=$9
        RETURNING version`

	var rejectedReason *string
	if issue.RejectedReason != "" {
		rejectedReason = &issue.RejectedReason
	}
	var version int64
	err := r.db.QueryRow(ctx, query,
		issue.AssigneeID,
		issue.DuplicateOfIssueID,
		issue.Status,
		issue.Priority,
		rejectedReason,
		issue.ResolvedAt,
		issue.UpdatedAt,
		issue.ID,
		expectedVersion,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM issues WHERE id=$1)`, issue.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperrors.NewNotFound("issue", map[string]any{"id": issue.ID})
		}
		return conflictError(issue.ID, expectedVersion)
	}
	if err != nil {
		return err
	}
	issue.Version = version
	return nil
}

func (r *issueRepository) AppendEvent(ctx context.Context, event *domain.IssueEvent) error {
	const query = `
        INSERT INTO issue_events (issue_id, actor_id, type, payload, created_at)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id`
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return r.db.QueryRow(ctx, query,
		event.IssueID,
		event.ActorID,
		event.Type,
		payload,
		event.CreatedAt,
	).Scan(&event.ID)
}

func (r *issueRepository) ListEvents(ctx context.Context, issueID string) ([]domain.IssueEvent, error) {
	const query = `
        SELECT id, issue_id, actor_id, type, payload, created_at
        FROM issue_events WHERE issue_id=$1
        ORDER BY seq ASC`
	rows, err := r.db.Query(ctx, query, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.IssueEvent
	for rows.Next() {
		var event domain.IssueEvent
		if err := rows.Scan(
			&event.ID,
			&event.IssueID,
			&event.ActorID,
			&event.Type,
			&event.Payload,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *issueRepository) CreateComment(ctx context.Context, comment *domain.Comment) error {
	const query = `
        INSERT INTO comments (issue_id, author_id, body, created_at)
        VALUES ($1,$2,$3,$4)
        RETURNING id`
	return r.db.QueryRow(ctx, query,
		comment.IssueID,
		comment.AuthorID,
		comment.Body,
		comment.CreatedAt,
	).Scan(&comment.ID)
}

func (r *issueRepository) RunInTx(ctx context.Context, fn func(IssueRepository) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&issueRepository{db: tx})
	})
}

func conflictError(issueID string, expectedVersion int64) error {
	return apperrors.NewConflict("issue was modified concurrently; reload and retry", map[string]any{
		"issue_id":         issueID,
		"expected_version": expectedVersion,
	})
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}
