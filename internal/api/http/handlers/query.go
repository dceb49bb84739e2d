package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/civicworks/civic-issues/internal/domain"
	"github.com/civicworks/civic-issues/internal/repository"
)

// queryList splits a comma separated query parameter, dropping blanks.
func queryList(c *fiber.Ctx, key string) []string {
	var out []string
	for _, part := range strings.Split(c.Query(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func queryOptional(c *fiber.Ctx, key string) *string {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return nil
	}
	return &value
}

func queryStatuses(c *fiber.Ctx) []domain.IssueStatus {
	var out []domain.IssueStatus
	for _, v := range queryList(c, "status") {
		out = append(out, domain.IssueStatus(strings.ToUpper(v)))
	}
	return out
}

// pageFromQuery reads limit and offset, normalized the way the repository
// applies them.
func pageFromQuery(c *fiber.Ctx) (limit, offset int) {
	return repository.IssueFilter{
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	}.Page()
}
