package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicworks/civic-issues/internal/domain"
	apperrors "github.com/civicworks/civic-issues/pkg/util/errorutil"
)

// CategoryLookup resolves the department owning a category.
type CategoryLookup interface {
	DepartmentFor(ctx context.Context, categoryID string) (string, error)
}

// CatalogRepository exposes the department and category reference data.
type CatalogRepository interface {
	CategoryLookup
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListDepartments(ctx context.Context) ([]domain.Department, error)
}

type catalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository builds the repository.
func NewCatalogRepository(pool *pgxpool.Pool) CatalogRepository {
	return &catalogRepository{pool: pool}
}

func (r *catalogRepository) DepartmentFor(ctx context.Context, categoryID string) (string, error) {
	const query = `SELECT department_id FROM categories WHERE id=$1`
	var departmentID string
	if err := r.pool.QueryRow(ctx, query, categoryID).Scan(&departmentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.NewNotFound("category", map[string]any{"id": categoryID})
		}
		return "", err
	}
	return departmentID, nil
}

func (r *catalogRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	const query = `
        SELECT id, name, code, sla_hours, department_id, created_at
        FROM categories ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Code, &c.SLAHours, &c.DepartmentID, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *catalogRepository) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	const query = `
        SELECT id, name, code, email, created_at
        FROM departments ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Department
	for rows.Next() {
		var d domain.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Code, &d.Email, &d.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// MemoryCatalog is an in-process CatalogRepository.
type MemoryCatalog struct {
	mu          sync.RWMutex
	departments map[string]domain.Department
	categories  map[string]domain.Category
}

// NewMemoryCatalog returns a catalog holding the given reference data.
func NewMemoryCatalog(departments []domain.Department, categories []domain.Category) *MemoryCatalog {
	c := &MemoryCatalog{
		departments: make(map[string]domain.Department),
		categories:  make(map[string]domain.Category),
	}
	for _, d := range departments {
		c.departments[d.ID] = d
	}
	for _, cat := range categories {
		c.categories[cat.ID] = cat
	}
	return c
}

func (c *MemoryCatalog) DepartmentFor(ctx context.Context, categoryID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cat, ok := c.categories[categoryID]
	if !ok {
		return "", apperrors.NewNotFound("category", map[string]any{"id": categoryID})
	}
	return cat.DepartmentID, nil
}

func (c *MemoryCatalog) ListCategories(ctx context.Context) ([]domain.Category, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Category, 0, len(c.categories))
	for _, cat := range c.categories {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *MemoryCatalog) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Department, 0, len(c.departments))
	for _, d := range c.departments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DefaultCatalog mirrors the reference data seeded by the migrations.
func DefaultCatalog() ([]domain.Department, []domain.Category) {
	departments := []domain.Department{
		{ID: "dept-pwd", Name: "Public Works", Code: "PWD", Email: "pwd@city.gov"},
		{ID: "dept-eb", Name: "Electricity Board", Code: "EB", Email: "electricity@city.gov"},
		{ID: "dept-wd", Name: "Water Department", Code: "WD", Email: "water@city.gov"},
		{ID: "dept-san", Name: "Sanitation", Code: "SAN", Email: "sanitation@city.gov"},
		{ID: "dept-pr", Name: "Parks & Recreation", Code: "PR", Email: "parks@city.gov"},
	}
	categories := []domain.Category{
		{ID: "cat-pothole", Name: "Pothole", Code: "pothole", SLAHours: 168, DepartmentID: "dept-pwd"},
		{ID: "cat-streetlight", Name: "Street Light Out", Code: "streetlight", SLAHours: 72, DepartmentID: "dept-eb"},
		{ID: "cat-garbage", Name: "Garbage Overflow", Code: "garbage", SLAHours: 24, DepartmentID: "dept-san"},
		{ID: "cat-water", Name: "Water Leakage", Code: "water", SLAHours: 48, DepartmentID: "dept-wd"},
		{ID: "cat-traffic", Name: "Traffic Light Issue", Code: "traffic", SLAHours: 12, DepartmentID: "dept-pwd"},
		{ID: "cat-tree", Name: "Tree Fall", Code: "tree", SLAHours: 24, DepartmentID: "dept-pr"},
		{ID: "cat-road", Name: "Road Damage", Code: "road", SLAHours: 120, DepartmentID: "dept-pwd"},
		{ID: "cat-drainage", Name: "Drainage Block", Code: "drainage", SLAHours: 48, DepartmentID: "dept-san"},
		{ID: "cat-dumping", Name: "Illegal Dumping", Code: "dumping", SLAHours: 72, DepartmentID: "dept-san"},
		{ID: "cat-park", Name: "Park Maintenance", Code: "park", SLAHours: 168, DepartmentID: "dept-pr"},
	}
	return departments, categories
}
