package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/stockalert/internal/models"
)

func setupTestDB(t *testing.T) (*SQLStorage, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "stockalert-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	store := NewSQLiteStorage(filepath.Join(tmpDir, "test.db"))
	if err := store.Open(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open database: %v", err)
	}

	if err := store.Migrate(); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("migrate database: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

func createTenant(t *testing.T, store *SQLStorage, active bool) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{ID: uuid.New().String(), Name: "acme", Active: active}
	if err := store.Tenants().Create(context.Background(), tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return tenant
}

func floatPtr(f float64) *float64 { return &f }

func TestSQLStorage_OpenClose(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	if store.db == nil {
		t.Fatal("database should be open")
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestSQLStorage_Migrate(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	tables := []string{"tenants", "products", "sales", "alert_rules", "alert_events", "schema_migrations"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s should exist: %v", table, err)
		}
	}

	// Running again is a no-op.
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("schema version = %d, want %d", v, len(migrations))
	}
}

func TestTenantRepository_ListActive(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	active := createTenant(t, store, true)
	createTenant(t, store, false)

	tenants, err := store.Tenants().ListActive(ctx)
	if err != nil {
		t.Fatalf("list active tenants: %v", err)
	}
	if len(tenants) != 1 || tenants[0].ID != active.ID {
		t.Errorf("ListActive() = %v, want only %s", tenants, active.ID)
	}

	got, err := store.Tenants().GetByID(ctx, "missing")
	if err != nil || got != nil {
		t.Errorf("GetByID(missing) = %v, %v; want nil, nil", got, err)
	}
}

func TestRuleRepository_TenantScoped(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	tenant := createTenant(t, store, true)
	other := createTenant(t, store, true)

	rule := models.NewAlertRule(tenant.ID, "outage", models.KindStockOutage)
	rule.ID = uuid.New().String()
	rule.Conditions.CategoryIDs = []string{"cat-1"}
	rule.Routing.Enable(models.ChannelWhatsApp, "+33600000000")
	if err := store.Rules().Create(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	inactive := models.NewAlertRule(tenant.ID, "off", models.KindLowStock)
	inactive.ID = uuid.New().String()
	inactive.Active = false
	if err := store.Rules().Create(ctx, inactive); err != nil {
		t.Fatalf("create inactive rule: %v", err)
	}

	got, err := store.Rules().GetByID(ctx, tenant.ID, rule.ID)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if got == nil {
		t.Fatal("rule should exist")
	}
	if got.Kind != models.KindStockOutage {
		t.Errorf("kind = %v, want %v", got.Kind, models.KindStockOutage)
	}
	if len(got.Conditions.CategoryIDs) != 1 {
		t.Errorf("category ids = %v", got.Conditions.CategoryIDs)
	}
	if !got.Routing.Enabled(models.ChannelWhatsApp) {
		t.Error("whatsapp should be enabled")
	}

	// Another tenant cannot see the rule.
	got, err = store.Rules().GetByID(ctx, other.ID, rule.ID)
	if err != nil || got != nil {
		t.Errorf("cross-tenant GetByID = %v, %v; want nil, nil", got, err)
	}

	rules, err := store.Rules().ListActiveByTenant(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(rules) != 1 {
		t.Errorf("active rules = %d, want 1", len(rules))
	}
}

func TestRuleRepository_LegacyRoutingRow(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	tenant := createTenant(t, store, true)
	now := time.Now().UTC()
	_, err := store.db.ExecContext(ctx, `
		INSERT INTO alert_rules (id, tenant_id, name, kind, conditions_json, channels_json,
			recipients_json, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"legacy-1", tenant.ID, "old rule", "RUPTURE_STOCK", `{"threshold": 85}`,
		`["whatsapp","email"]`, `["+33611111111","boss@example.com"]`, 1, now, now,
	)
	if err != nil {
		t.Fatalf("insert legacy rule: %v", err)
	}

	rule, err := store.Rules().GetByID(ctx, tenant.ID, "legacy-1")
	if err != nil {
		t.Fatalf("get legacy rule: %v", err)
	}
	if rule.Kind != models.KindStockOutage {
		t.Errorf("kind = %v, want STOCK_OUTAGE", rule.Kind)
	}
	if !rule.Routing.Legacy {
		t.Error("routing should be flagged legacy")
	}
	if got := rule.Routing.RecipientsFor(models.ChannelEmail); len(got) != 1 || got[0] != "boss@example.com" {
		t.Errorf("email recipients = %v", got)
	}
	if rule.Conditions.Threshold == nil || *rule.Conditions.Threshold != 85 {
		t.Errorf("threshold = %v, want 85", rule.Conditions.Threshold)
	}
}

func TestProductRepository_StockQueries(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	tenant := createTenant(t, store, true)
	other := createTenant(t, store, true)

	products := []*models.Product{
		{ID: "p1", TenantID: tenant.ID, Code: "A", Name: "Apple", CategoryID: "fruit", CurrentStock: 0, MinStock: floatPtr(5), Active: true},
		{ID: "p2", TenantID: tenant.ID, Code: "B", Name: "Banana", CategoryID: "fruit", CurrentStock: 3, MinStock: floatPtr(5), Active: true},
		{ID: "p3", TenantID: tenant.ID, Code: "C", Name: "Carrot", CategoryID: "veg", CurrentStock: 0, Active: true},
		{ID: "p4", TenantID: tenant.ID, Code: "D", Name: "Date", CategoryID: "fruit", CurrentStock: 0, Active: false},
		{ID: "p5", TenantID: tenant.ID, Code: "E", Name: "Eggplant", CategoryID: "veg", CurrentStock: 9, MinStock: floatPtr(5), Active: true},
		{ID: "p6", TenantID: other.ID, Code: "F", Name: "Fig", CurrentStock: 0, Active: true},
	}
	for _, p := range products {
		if err := store.Products().Create(ctx, p); err != nil {
			t.Fatalf("create product %s: %v", p.ID, err)
		}
	}

	tests := []struct {
		name        string
		low         bool
		productIDs  []string
		categoryIDs []string
		want        []string
	}{
		{name: "all out of stock", want: []string{"p1", "p3"}},
		{name: "out of stock by category", categoryIDs: []string{"veg"}, want: []string{"p3"}},
		{name: "out of stock by product", productIDs: []string{"p1", "p2"}, want: []string{"p1"}},
		{name: "low stock", low: true, want: []string{"p2"}},
		{name: "low stock filtered away", low: true, categoryIDs: []string{"veg"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []*models.Product
			var err error
			if tt.low {
				got, err = store.Products().ListLowStock(ctx, tenant.ID, tt.productIDs, tt.categoryIDs)
			} else {
				got, err = store.Products().ListOutOfStock(ctx, tenant.ID, tt.productIDs, tt.categoryIDs)
			}
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d products, want %d", len(got), len(tt.want))
			}
			for i, p := range got {
				if p.ID != tt.want[i] {
					t.Errorf("product[%d] = %s, want %s", i, p.ID, tt.want[i])
				}
			}
		})
	}
}

func TestSaleRepository_CompletionStats(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	tenant := createTenant(t, store, true)
	now := time.Now().UTC()

	sales := []struct {
		age    time.Duration
		status models.SaleStatus
	}{
		{time.Hour, models.SaleDelivered},
		{2 * time.Hour, models.SaleDelivered},
		{3 * time.Hour, models.SalePending},
		{4 * time.Hour, models.SaleCancelled},
		{10 * 24 * time.Hour, models.SaleDelivered}, // outside the window
	}
	for _, s := range sales {
		err := store.Sales().Create(ctx, &models.Sale{
			ID: uuid.New().String(), TenantID: tenant.ID, SaleDate: now.Add(-s.age), Quantity: 1, Status: s.status,
		})
		if err != nil {
			t.Fatalf("create sale: %v", err)
		}
	}

	stats, err := store.Sales().CompletionStats(ctx, tenant.ID, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("completion stats: %v", err)
	}
	if stats.Total != 4 || stats.Delivered != 2 {
		t.Errorf("stats = %+v, want total 4 delivered 2", stats)
	}

	empty, err := store.Sales().CompletionStats(ctx, "nobody", now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("completion stats for empty tenant: %v", err)
	}
	if empty.Total != 0 || empty.Delivered != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}

func TestAlertEventRepository_LatestAndDelivery(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	older := &models.AlertEvent{
		ID: "e1", TenantID: "t1", RuleID: "r1", RuleName: "outage", FiredAt: now.Add(-20 * time.Minute),
		Kind: models.KindStockOutage, Severity: models.SeverityHigh, Message: "old",
		Details: models.Details{ProductIDs: []string{"p1"}},
	}
	newer := &models.AlertEvent{
		ID: "e2", TenantID: "t1", RuleID: "r1", RuleName: "outage", FiredAt: now.Add(-5 * time.Minute),
		Kind: models.KindStockOutage, Severity: models.SeverityCritical, Message: "new",
		Details: models.Details{ProductIDs: []string{"p1", "p2"}, ProductCount: 2},
	}
	for _, e := range []*models.AlertEvent{older, newer} {
		if err := store.AlertEvents().Create(ctx, e); err != nil {
			t.Fatalf("create event: %v", err)
		}
	}

	got, err := store.AlertEvents().LatestForRule(ctx, "t1", "r1", now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("latest for rule: %v", err)
	}
	if got == nil || got.ID != "e2" {
		t.Fatalf("LatestForRule() = %v, want e2", got)
	}
	if len(got.Details.ProductIDs) != 2 {
		t.Errorf("product ids = %v", got.Details.ProductIDs)
	}
	if got.Severity != models.SeverityCritical {
		t.Errorf("severity = %v", got.Severity)
	}

	got, err = store.AlertEvents().LatestForRule(ctx, "t1", "r1", now.Add(-time.Minute))
	if err != nil || got != nil {
		t.Errorf("LatestForRule(outside window) = %v, %v; want nil, nil", got, err)
	}

	got, err = store.AlertEvents().LatestForRule(ctx, "t2", "r1", now.Add(-time.Hour))
	if err != nil || got != nil {
		t.Errorf("LatestForRule(other tenant) = %v, %v; want nil, nil", got, err)
	}

	if err := store.AlertEvents().UpdateDelivery(ctx, "t1", "e2", models.Delivery{WhatsApp: true}); err != nil {
		t.Fatalf("update delivery: %v", err)
	}
	events, err := store.AlertEvents().ListByRule(ctx, "t1", "r1", 10)
	if err != nil {
		t.Fatalf("list by rule: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if !events[0].Delivery.WhatsApp || events[0].Delivery.Email {
		t.Errorf("delivery = %+v, want whatsapp only", events[0].Delivery)
	}
	if events[1].Delivery.WhatsApp {
		t.Error("older event delivery should be untouched")
	}

	err = store.AlertEvents().UpdateDelivery(ctx, "t1", "missing", models.Delivery{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateDelivery(missing) error = %v, want ErrNotFound", err)
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	err := store.Products().Create(context.Background(), &models.Product{
		ID: "orphan", TenantID: "no-such-tenant", Code: "X", Name: "X", Active: true,
	})
	if err == nil {
		t.Error("expected foreign key violation for unknown tenant")
	}
}
