// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/stockalert/internal/models"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Repository accessors
	Tenants() TenantRepository
	Rules() RuleRepository
	Products() ProductRepository
	Sales() SaleRepository
	AlertEvents() AlertEventRepository
}

// TenantRepository defines operations on tenants.
type TenantRepository interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	ListActive(ctx context.Context) ([]*models.Tenant, error)
}

// RuleRepository defines read access to alert rules. Lookups are tenant-scoped.
type RuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, tenantID, id string) (*models.AlertRule, error)
	ListActiveByTenant(ctx context.Context, tenantID string) ([]*models.AlertRule, error)
}

// ProductRepository answers the stock queries used by rule evaluation.
// Empty productIDs or categoryIDs do not narrow the result.
type ProductRepository interface {
	Create(ctx context.Context, product *models.Product) error
	ListOutOfStock(ctx context.Context, tenantID string, productIDs, categoryIDs []string) ([]*models.Product, error)
	ListLowStock(ctx context.Context, tenantID string, productIDs, categoryIDs []string) ([]*models.Product, error)
}

// SaleRepository answers the service-level query.
type SaleRepository interface {
	Create(ctx context.Context, sale *models.Sale) error
	CompletionStats(ctx context.Context, tenantID string, since time.Time) (models.CompletionStats, error)
}

// AlertEventRepository defines operations for the alert audit trail.
type AlertEventRepository interface {
	Create(ctx context.Context, event *models.AlertEvent) error
	// LatestForRule returns the most recent event fired at or after since, or nil.
	LatestForRule(ctx context.Context, tenantID, ruleID string, since time.Time) (*models.AlertEvent, error)
	UpdateDelivery(ctx context.Context, tenantID, id string, delivery models.Delivery) error
	ListByRule(ctx context.Context, tenantID, ruleID string, limit int) ([]*models.AlertEvent, error)
}
