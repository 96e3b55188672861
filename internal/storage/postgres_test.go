package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/good-yellow-bee/stockalert/internal/models"
)

func newMockStore(t *testing.T) (*SQLStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db, DriverPostgres), mock
}

func TestConn_Rebind(t *testing.T) {
	tests := []struct {
		driver Driver
		in     string
		want   string
	}{
		{DriverSQLite, "a = ? AND b = ?", "a = ? AND b = ?"},
		{DriverPostgres, "a = ? AND b = ?", "a = $1 AND b = $2"},
		{DriverPostgres, "no placeholders", "no placeholders"},
	}
	for _, tt := range tests {
		c := conn{driver: tt.driver}
		if got := c.rebind(tt.in); got != tt.want {
			t.Errorf("rebind(%q) [%s] = %q, want %q", tt.in, tt.driver, got, tt.want)
		}
	}
}

func TestParseDriver(t *testing.T) {
	tests := []struct {
		in      string
		want    Driver
		wantErr bool
	}{
		{"", DriverSQLite, false},
		{"sqlite", DriverSQLite, false},
		{"postgresql", DriverPostgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDriver(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDriver(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDriver(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPostgres_LatestForRule(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	since := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fired := since.Add(10 * time.Minute)

	tests := []struct {
		name      string
		setupMock func()
		wantNil   bool
		wantErr   bool
	}{
		{
			name: "found",
			setupMock: func() {
				rows := sqlmock.NewRows([]string{"id", "tenant_id", "rule_id", "rule_name", "fired_at", "kind",
					"severity", "message", "details_json", "sent_whatsapp", "sent_email", "sent_slack"}).
					AddRow("e1", "t1", "r1", "outage", fired, "STOCK_OUTAGE", "HIGH", "msg",
						`{"product_ids":["p1","p2"]}`, 1, 0, 0)
				mock.ExpectQuery(regexp.QuoteMeta("WHERE tenant_id = $1 AND rule_id = $2 AND fired_at >= $3")).
					WithArgs("t1", "r1", since).
					WillReturnRows(rows)
			},
		},
		{
			name: "none in window",
			setupMock: func() {
				mock.ExpectQuery(regexp.QuoteMeta("FROM alert_events")).
					WithArgs("t1", "r1", since).
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			wantNil: true,
		},
		{
			name: "query error",
			setupMock: func() {
				mock.ExpectQuery(regexp.QuoteMeta("FROM alert_events")).
					WithArgs("t1", "r1", since).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setupMock()
			got, err := store.AlertEvents().LatestForRule(ctx, "t1", "r1", since)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LatestForRule() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (got == nil) != tt.wantNil {
				t.Fatalf("LatestForRule() = %v, wantNil %v", got, tt.wantNil)
			}
			if got != nil {
				if len(got.Details.ProductIDs) != 2 || !got.Delivery.WhatsApp {
					t.Errorf("unexpected event: %+v", got)
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPostgres_CompletionStats(t *testing.T) {
	store, mock := newMockStore(t)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE tenant_id = $2 AND sale_date >= $3")).
		WithArgs("DELIVERED", "t1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count", "delivered"}).AddRow(10, 7))

	stats, err := store.Sales().CompletionStats(context.Background(), "t1", since)
	if err != nil {
		t.Fatalf("CompletionStats() error = %v", err)
	}
	if stats != (models.CompletionStats{Total: 10, Delivered: 7}) {
		t.Errorf("stats = %+v", stats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgres_ListOutOfStockFilters(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("id IN ($3, $4) AND category_id IN ($5)")).
		WithArgs("t1", 1, "p1", "p2", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "code", "name", "category_id",
			"current_stock", "min_stock", "active"}).
			AddRow("p1", "t1", "A", "Apple", "c1", 0.0, nil, 1))

	got, err := store.Products().ListOutOfStock(context.Background(), "t1", []string{"p1", "p2"}, []string{"c1"})
	if err != nil {
		t.Fatalf("ListOutOfStock() error = %v", err)
	}
	if len(got) != 1 || got[0].MinStock != nil {
		t.Errorf("ListOutOfStock() = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgres_UpdateDeliveryNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE alert_events SET sent_whatsapp = $1, sent_email = $2, sent_slack = $3 WHERE tenant_id = $4 AND id = $5")).
		WithArgs(0, 1, 0, "t1", "e1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.AlertEvents().UpdateDelivery(context.Background(), "t1", "e1", models.Delivery{Email: true})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateDelivery() error = %v, want ErrNotFound", err)
	}
}
