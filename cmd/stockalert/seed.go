package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/stockalert/internal/alerting"
	"github.com/good-yellow-bee/stockalert/internal/models"
	"github.com/good-yellow-bee/stockalert/internal/storage"
)

// Fixture is a YAML document describing tenants and their inventory.
type Fixture struct {
	Tenants []TenantFixture `yaml:"tenants"`
}

// TenantFixture describes one tenant.
type TenantFixture struct {
	ID       string               `yaml:"id"`
	Name     string               `yaml:"name"`
	Active   *bool                `yaml:"active"`
	Products []ProductFixture     `yaml:"products"`
	Sales    []SaleFixture        `yaml:"sales"`
	Rules    []*alerting.RuleSpec `yaml:"rules"`
}

// ProductFixture describes one product.
type ProductFixture struct {
	ID       string   `yaml:"id"`
	Code     string   `yaml:"code"`
	Name     string   `yaml:"name"`
	Category string   `yaml:"category"`
	Stock    float64  `yaml:"stock"`
	MinStock *float64 `yaml:"min_stock"`
}

// SaleFixture describes one sale, dated relative to the load time.
type SaleFixture struct {
	Product  string  `yaml:"product"` // product code
	DaysAgo  int     `yaml:"days_ago"`
	Quantity float64 `yaml:"quantity"`
	Status   string  `yaml:"status"` // delivered, pending or cancelled
}

// SeedCounts reports how many rows a fixture created.
type SeedCounts struct {
	Tenants  int
	Products int
	Sales    int
	Rules    int
}

// LoadFixture reads and validates a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("validate fixture: %w", err)
	}
	return &f, nil
}

// Validate checks names, product codes, sale statuses and rule specs.
func (f *Fixture) Validate() error {
	for i, t := range f.Tenants {
		if t.Name == "" {
			return fmt.Errorf("tenant at index %d: name is required", i)
		}
		codes := make(map[string]bool, len(t.Products))
		for _, p := range t.Products {
			if p.Code == "" {
				return fmt.Errorf("tenant %s: product code is required", t.Name)
			}
			if codes[p.Code] {
				return fmt.Errorf("tenant %s: duplicate product code %s", t.Name, p.Code)
			}
			codes[p.Code] = true
		}
		for _, s := range t.Sales {
			if s.Product != "" && !codes[s.Product] {
				return fmt.Errorf("tenant %s: sale references unknown product %s", t.Name, s.Product)
			}
			if _, err := parseSaleStatus(s.Status); err != nil {
				return fmt.Errorf("tenant %s: %w", t.Name, err)
			}
		}
		if err := alerting.ValidateRules(t.Rules); err != nil {
			return fmt.Errorf("tenant %s: %w", t.Name, err)
		}
	}
	return nil
}

// Apply inserts the fixture into store. Sale dates are computed from now.
func (f *Fixture) Apply(ctx context.Context, store storage.Storage, now time.Time) (SeedCounts, error) {
	var counts SeedCounts
	for _, tf := range f.Tenants {
		tenant := &models.Tenant{
			ID:        orNewID(tf.ID),
			Name:      tf.Name,
			Active:    tf.Active == nil || *tf.Active,
			CreatedAt: now,
		}
		if err := store.Tenants().Create(ctx, tenant); err != nil {
			return counts, fmt.Errorf("create tenant %s: %w", tf.Name, err)
		}
		counts.Tenants++

		productIDs := make(map[string]string, len(tf.Products))
		for _, pf := range tf.Products {
			product := &models.Product{
				ID:           orNewID(pf.ID),
				TenantID:     tenant.ID,
				Code:         pf.Code,
				Name:         pf.Name,
				CategoryID:   pf.Category,
				CurrentStock: pf.Stock,
				MinStock:     pf.MinStock,
				Active:       true,
			}
			if product.Name == "" {
				product.Name = pf.Code
			}
			if err := store.Products().Create(ctx, product); err != nil {
				return counts, fmt.Errorf("create product %s: %w", pf.Code, err)
			}
			productIDs[pf.Code] = product.ID
			counts.Products++
		}

		for _, sf := range tf.Sales {
			status, _ := parseSaleStatus(sf.Status)
			sale := &models.Sale{
				ID:        uuid.New().String(),
				TenantID:  tenant.ID,
				ProductID: productIDs[sf.Product],
				SaleDate:  now.AddDate(0, 0, -sf.DaysAgo),
				Quantity:  sf.Quantity,
				Status:    status,
			}
			if err := store.Sales().Create(ctx, sale); err != nil {
				return counts, fmt.Errorf("create sale: %w", err)
			}
			counts.Sales++
		}

		for _, spec := range tf.Rules {
			rule := spec.ToRule(tenant.ID)
			rule.CreatedAt = now
			rule.UpdatedAt = now
			if err := store.Rules().Create(ctx, rule); err != nil {
				return counts, fmt.Errorf("create rule %s: %w", spec.Name, err)
			}
			counts.Rules++
		}
	}
	return counts, nil
}

func parseSaleStatus(s string) (models.SaleStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "delivered":
		return models.SaleDelivered, nil
	case "pending":
		return models.SalePending, nil
	case "cancelled", "canceled":
		return models.SaleCancelled, nil
	default:
		return "", fmt.Errorf("unknown sale status %q", s)
	}
}

func orNewID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}
