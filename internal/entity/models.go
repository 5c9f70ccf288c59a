package entity

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Item is a sellable product with a stock counter.
type Item struct {
	ID        int64           `json:"id"`
	ItemName  string          `json:"item_name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	CreatedAt time.Time       `json:"created_at"`
}

// Validate checks the field constraints shared by create and replace.
func (i Item) Validate() error {
	if strings.TrimSpace(i.ItemName) == "" {
		return &InvalidInputError{Field: "item_name", Reason: "must not be empty"}
	}
	if i.Price.IsNegative() {
		return &InvalidInputError{Field: "price", Reason: "must not be negative"}
	}
	if i.Stock < 0 {
		return &InvalidInputError{Field: "stock", Reason: "must not be negative"}
	}
	return nil
}

// ItemPatch is a partial update. Nil fields are left untouched.
// Patches write stock directly and do not go through the stock ledger.
type ItemPatch struct {
	ItemName  *string          `json:"item_name,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Stock     *int             `json:"stock,omitempty"`
	CreatedAt *time.Time       `json:"created_at,omitempty"`
}

// IsEmpty reports whether the patch carries no fields.
func (p ItemPatch) IsEmpty() bool {
	return p.ItemName == nil && p.Price == nil && p.Stock == nil && p.CreatedAt == nil
}

func (p ItemPatch) Validate() error {
	if p.IsEmpty() {
		return &InvalidInputError{Field: "body", Reason: "no fields to update"}
	}
	if p.ItemName != nil && strings.TrimSpace(*p.ItemName) == "" {
		return &InvalidInputError{Field: "item_name", Reason: "must not be empty"}
	}
	if p.Price != nil && p.Price.IsNegative() {
		return &InvalidInputError{Field: "price", Reason: "must not be negative"}
	}
	if p.Stock != nil && *p.Stock < 0 {
		return &InvalidInputError{Field: "stock", Reason: "must not be negative"}
	}
	return nil
}

// Apply copies the set fields of the patch onto item.
func (p ItemPatch) Apply(item *Item) {
	if p.ItemName != nil {
		item.ItemName = *p.ItemName
	}
	if p.Price != nil {
		item.Price = *p.Price
	}
	if p.Stock != nil {
		item.Stock = *p.Stock
	}
	if p.CreatedAt != nil {
		item.CreatedAt = *p.CreatedAt
	}
}

// ItemFilter selects items by name substring and inclusive price/stock bounds.
// The zero value matches every item.
type ItemFilter struct {
	Name     string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	MinStock *int
	MaxStock *int
}

func (f ItemFilter) Match(item Item) bool {
	if f.Name != "" && !strings.Contains(item.ItemName, f.Name) {
		return false
	}
	if f.MinPrice != nil && item.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && item.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.MinStock != nil && item.Stock < *f.MinStock {
		return false
	}
	if f.MaxStock != nil && item.Stock > *f.MaxStock {
		return false
	}
	return true
}

// User is a customer placing orders.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (u User) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return &InvalidInputError{Field: "username", Reason: "must not be empty"}
	}
	return nil
}

// Order is a single order line: one user buying StockNumber units of one item.
type Order struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	ItemID      int64     `json:"item_id"`
	StockNumber int       `json:"stock_number"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReservedItem is the item as it was before a reservation was applied.
type ReservedItem struct {
	ID        int64           `json:"id"`
	ItemName  string          `json:"item_name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Remaining int             `json:"remaining"`
}

// --- Commands ---

// OrderLine is one (item, quantity) pair of an order request.
type OrderLine struct {
	ItemID int64 `json:"item_id"`
	Count  int   `json:"count"`
}

// PlaceOrder is a request to order one or more items for a user.
type PlaceOrder struct {
	UserID int64       `json:"user_id"`
	Lines  []OrderLine `json:"items"`
}

// --- Results ---

// OrderLineResult describes one created order.
type OrderLineResult struct {
	OrderID     int64  `json:"order_id"`
	ItemID      int64  `json:"item_id"`
	ItemName    string `json:"item_name"`
	StockNumber int    `json:"stock_number"`
}

// OrderResult is the response of a successful order placement.
type OrderResult struct {
	User   User              `json:"user"`
	Orders []OrderLineResult `json:"orders"`
}
