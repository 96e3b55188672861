package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/stockalert/internal/models"
)

type sqlTenantRepo struct {
	conn
}

func (r *sqlTenantRepo) Create(ctx context.Context, t *models.Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := r.exec(ctx,
		"INSERT INTO tenants (id, name, active, created_at) VALUES (?, ?, ?, ?)",
		t.ID, t.Name, boolToInt(t.Active), t.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (r *sqlTenantRepo) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	t, err := scanTenant(r.queryRow(ctx,
		"SELECT id, name, active, created_at FROM tenants WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	return t, nil
}

func (r *sqlTenantRepo) ListActive(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := r.query(ctx,
		"SELECT id, name, active, created_at FROM tenants WHERE active = ? ORDER BY id", 1)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func scanTenant(s scanner) (*models.Tenant, error) {
	t := &models.Tenant{}
	var active int
	if err := s.Scan(&t.ID, &t.Name, &active, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Active = active != 0
	return t, nil
}

type sqlProductRepo struct {
	conn
}

func (r *sqlProductRepo) Create(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (id, tenant_id, code, name, category_id, current_stock, min_stock, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.exec(ctx, query,
		p.ID, p.TenantID, p.Code, p.Name, nullString(p.CategoryID),
		p.CurrentStock, nullFloat(p.MinStock), boolToInt(p.Active),
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *sqlProductRepo) ListOutOfStock(ctx context.Context, tenantID string, productIDs, categoryIDs []string) ([]*models.Product, error) {
	return r.list(ctx, "current_stock = 0", tenantID, productIDs, categoryIDs)
}

func (r *sqlProductRepo) ListLowStock(ctx context.Context, tenantID string, productIDs, categoryIDs []string) ([]*models.Product, error) {
	return r.list(ctx, "current_stock > 0 AND min_stock IS NOT NULL AND current_stock <= min_stock", tenantID, productIDs, categoryIDs)
}

func (r *sqlProductRepo) list(ctx context.Context, predicate, tenantID string, productIDs, categoryIDs []string) ([]*models.Product, error) {
	where := []string{"tenant_id = ?", "active = ?", predicate}
	args := []interface{}{tenantID, 1}

	if clause, in := inClause("id", productIDs); clause != "" {
		where = append(where, clause)
		args = append(args, in...)
	}
	if clause, in := inClause("category_id", categoryIDs); clause != "" {
		where = append(where, clause)
		args = append(args, in...)
	}

	query := `
		SELECT id, tenant_id, code, name, category_id, current_stock, min_stock, active
		FROM products WHERE ` + strings.Join(where, " AND ") + ` ORDER BY name, id`

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p := &models.Product{}
		var category sql.NullString
		var minStock sql.NullFloat64
		var active int
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Code, &p.Name, &category,
			&p.CurrentStock, &minStock, &active); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.CategoryID = category.String
		if minStock.Valid {
			v := minStock.Float64
			p.MinStock = &v
		}
		p.Active = active != 0
		products = append(products, p)
	}
	return products, rows.Err()
}

type sqlSaleRepo struct {
	conn
}

func (r *sqlSaleRepo) Create(ctx context.Context, s *models.Sale) error {
	query := `
		INSERT INTO sales (id, tenant_id, product_id, sale_date, quantity, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.exec(ctx, query,
		s.ID, s.TenantID, nullString(s.ProductID), s.SaleDate.UTC(), s.Quantity, string(s.Status),
	)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (r *sqlSaleRepo) CompletionStats(ctx context.Context, tenantID string, since time.Time) (models.CompletionStats, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM sales WHERE tenant_id = ? AND sale_date >= ?
	`
	var stats models.CompletionStats
	err := r.queryRow(ctx, query, string(models.SaleDelivered), tenantID, since.UTC()).
		Scan(&stats.Total, &stats.Delivered)
	if err != nil {
		return models.CompletionStats{}, fmt.Errorf("query completion stats: %w", err)
	}
	return stats, nil
}
