package models

import "time"

// Tenant is an isolated customer account.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Product is a stocked item owned by a tenant.
type Product struct {
	ID           string   `json:"id"`
	TenantID     string   `json:"tenant_id"`
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	CategoryID   string   `json:"category_id,omitempty"`
	CurrentStock float64  `json:"current_stock"`
	MinStock     *float64 `json:"min_stock,omitempty"`
	Active       bool     `json:"active"`
}

// OutOfStock reports whether the product has no stock left.
func (p *Product) OutOfStock() bool {
	return p.CurrentStock == 0
}

// LowStock reports whether stock is positive but at or below the minimum.
func (p *Product) LowStock() bool {
	return p.MinStock != nil && p.CurrentStock > 0 && p.CurrentStock <= *p.MinStock
}

// SaleStatus is the fulfilment state of a sale.
type SaleStatus string

const (
	SaleDelivered SaleStatus = "DELIVERED"
	SalePending   SaleStatus = "PENDING"
	SaleCancelled SaleStatus = "CANCELLED"
)

// Sale is a customer order line.
type Sale struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	ProductID string     `json:"product_id,omitempty"`
	SaleDate  time.Time  `json:"sale_date"`
	Quantity  float64    `json:"quantity"`
	Status    SaleStatus `json:"status"`
}

// CompletionStats counts sales in a window.
type CompletionStats struct {
	Total     int `json:"total"`
	Delivered int `json:"delivered"`
}
