package repository

import (
	"context"
	"testing"
	"time"

	"github.com/civicworks/civic-issues/internal/domain"
)

func seedIssues(t *testing.T, repo *MemoryIssueRepository) map[string]domain.Issue {
	t.Helper()
	ward7, ward9 := "ward-7", "ward-9"
	roads, water := "dept-roads", "dept-water"
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	seeds := []domain.Issue{
		{Title: "Pothole on Main", CategoryID: "cat-pothole", ReporterID: "citizen-1", WardID: &ward7, DepartmentID: &roads, Status: domain.IssueStatusSubmitted},
		{Title: "Burst pipe", Description: "water everywhere", CategoryID: "cat-water", ReporterID: "citizen-2", WardID: &ward9, DepartmentID: &water, Status: domain.IssueStatusSubmitted},
		{Title: "Cracked kerb", CategoryID: "cat-pothole", ReporterID: "citizen-1", WardID: &ward9, DepartmentID: &roads, Status: domain.IssueStatusTriaged},
		{Title: "Low pressure", CategoryID: "cat-water", ReporterID: "citizen-1", WardID: &ward7, DepartmentID: &water, Status: domain.IssueStatusResolved},
	}
	out := map[string]domain.Issue{}
	for i := range seeds {
		issue := seeds[i]
		issue.Priority = domain.IssuePriorityMedium
		issue.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := repo.CreateDraft(context.Background(), &issue); err != nil {
			t.Fatalf("CreateDraft: %v", err)
		}
		out[issue.Title] = issue
	}
	return out
}

func titles(list []domain.Issue) []string {
	out := make([]string, 0, len(list))
	for _, issue := range list {
		out = append(out, issue.Title)
	}
	return out
}

func TestMemoryListWithFilter(t *testing.T) {
	repo := NewMemoryIssueRepository()
	seeded := seedIssues(t, repo)
	citizen1 := "citizen-1"
	ward9 := "ward-9"
	roads := "dept-roads"
	water := "cat-water"
	pipe := "  PIPE "
	ticket := seeded["Cracked kerb"].TicketNo

	tests := []struct {
		name   string
		filter IssueFilter
		want   []string
	}{
		{name: "everything newest first", filter: IssueFilter{}, want: []string{"Low pressure", "Cracked kerb", "Burst pipe", "Pothole on Main"}},
		{name: "reporter", filter: IssueFilter{ReporterID: &citizen1}, want: []string{"Low pressure", "Cracked kerb", "Pothole on Main"}},
		{name: "statuses", filter: IssueFilter{Statuses: []domain.IssueStatus{domain.IssueStatusSubmitted, domain.IssueStatusTriaged}}, want: []string{"Cracked kerb", "Burst pipe", "Pothole on Main"}},
		{name: "ward", filter: IssueFilter{WardID: &ward9}, want: []string{"Cracked kerb", "Burst pipe"}},
		{name: "department and status", filter: IssueFilter{DepartmentID: &roads, Statuses: []domain.IssueStatus{domain.IssueStatusSubmitted}}, want: []string{"Pothole on Main"}},
		{name: "category", filter: IssueFilter{CategoryID: &water}, want: []string{"Low pressure", "Burst pipe"}},
		{name: "search title case-insensitive", filter: IssueFilter{SearchTerm: &pipe}, want: []string{"Burst pipe"}},
		{name: "search ticket number", filter: IssueFilter{SearchTerm: &ticket}, want: []string{"Cracked kerb"}},
		{name: "page", filter: IssueFilter{Limit: 2, Offset: 1}, want: []string{"Cracked kerb", "Burst pipe"}},
		{name: "offset past end", filter: IssueFilter{Offset: 10}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ListWithFilter(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("ListWithFilter() error = %v", err)
			}
			names := titles(got)
			if len(names) != len(tt.want) {
				t.Fatalf("ListWithFilter() = %v, want %v", names, tt.want)
			}
			for i := range tt.want {
				if names[i] != tt.want[i] {
					t.Fatalf("ListWithFilter() = %v, want %v", names, tt.want)
				}
			}
		})
	}
}

func TestMemoryListByReporter(t *testing.T) {
	repo := NewMemoryIssueRepository()
	seedIssues(t, repo)

	got, err := repo.ListByReporter(context.Background(), "citizen-1", []domain.IssueStatus{domain.IssueStatusResolved}, 0, 0)
	if err != nil {
		t.Fatalf("ListByReporter() error = %v", err)
	}
	if names := titles(got); len(names) != 1 || names[0] != "Low pressure" {
		t.Errorf("ListByReporter() = %v", names)
	}

	got, _ = repo.ListByReporter(context.Background(), "citizen-3", nil, 0, 0)
	if len(got) != 0 {
		t.Errorf("ListByReporter(unknown) = %v", titles(got))
	}
}

func TestIssueFilterPage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, defaultListLimit, 0},
		{5, 10, 5, 10},
		{500, -3, maxListLimit, 0},
	}
	for _, tt := range tests {
		limit, offset := IssueFilter{Limit: tt.limit, Offset: tt.offset}.Page()
		if limit != tt.wantLimit || offset != tt.wantOffset {
			t.Errorf("Page(%d, %d) = %d, %d, want %d, %d", tt.limit, tt.offset, limit, offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestMemoryUserList(t *testing.T) {
	ward7 := "ward-7"
	repo := NewMemoryUserRepository(
		domain.User{ID: "u1", Name: "Zed", Role: domain.RoleOfficer, Active: true, WardID: &ward7},
		domain.User{ID: "u2", Name: "Ann", Role: domain.RoleOfficer, Active: true},
		domain.User{ID: "u3", Name: "Bob", Role: domain.RoleOfficer, Active: false},
		domain.User{ID: "u4", Name: "Cat", Role: domain.RoleCitizen, Active: true},
		domain.User{ID: "u5", Name: "Dee", Role: domain.RoleSupervisor, Active: true},
	)

	tests := []struct {
		name   string
		filter UserFilter
		want   []string
	}{
		{name: "all by name", filter: UserFilter{}, want: []string{"u2", "u3", "u4", "u5", "u1"}},
		{name: "active staff", filter: UserFilter{Roles: []domain.Role{domain.RoleOfficer, domain.RoleSupervisor}, ActiveOnly: true}, want: []string{"u2", "u5", "u1"}},
		{name: "ward", filter: UserFilter{WardID: &ward7}, want: []string{"u1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List() = %d users, want %v", len(got), tt.want)
			}
			for i, user := range got {
				if user.ID != tt.want[i] {
					t.Errorf("List()[%d] = %s, want %s", i, user.ID, tt.want[i])
				}
			}
		})
	}
}
