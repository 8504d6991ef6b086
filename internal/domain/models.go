package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is embedded in its stall. A nil StockCount means stock is not tracked.
type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	StockCount *int            `json:"stock_count"`
}

func (p Product) TracksStock() bool {
	return p.StockCount != nil
}

// Stall is the aggregate root. Version is bumped by the store on every write.
type Stall struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SellerPIN *string   `json:"seller_pin"`
	Products  []Product `json:"products"`
	Version   int64     `json:"-"`
}

// Clone returns a deep copy so callers can mutate products without aliasing store state.
func (s Stall) Clone() Stall {
	out := s
	if s.SellerPIN != nil {
		pin := *s.SellerPIN
		out.SellerPIN = &pin
	}
	out.Products = make([]Product, len(s.Products))
	for i, p := range s.Products {
		out.Products[i] = p.clone()
	}
	return out
}

func (s Stall) ProductIndex(productID string) int {
	for i, p := range s.Products {
		if p.ID == productID {
			return i
		}
	}
	return -1
}

func (p Product) clone() Product {
	out := p
	if p.StockCount != nil {
		stock := *p.StockCount
		out.StockCount = &stock
	}
	return out
}

// Sale is an immutable ledger row for one product line of a transaction.
type Sale struct {
	ID            string          `json:"id"`
	StallID       string          `json:"stall_id"`
	ProductID     string          `json:"product_id"`
	TransactionID string          `json:"transaction_id"`
	Quantity      int             `json:"quantity"`
	PricePerItem  decimal.Decimal `json:"price_per_item"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

type StallCreateRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

type StallUpdateRequest struct {
	Name *string `json:"name,omitempty" validate:"omitempty,max=120"`
}

type SellerPINRequest struct {
	PIN string `json:"pin" validate:"omitempty,len=4,number"`
}

type ProductCreateRequest struct {
	Name       string           `json:"name" validate:"required,max=120"`
	Price      *decimal.Decimal `json:"price"`
	StockCount *int             `json:"stock_count,omitempty" validate:"omitempty,min=0"`
}

type ProductUpdateRequest struct {
	Name       *string          `json:"name,omitempty" validate:"omitempty,max=120"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	StockCount *int             `json:"stock_count,omitempty" validate:"omitempty,min=0"`
	ClearStock bool             `json:"clear_stock,omitempty"`
}

type StockUpdateRequest struct {
	StockCount *int `json:"stock_count" validate:"required,min=0"`
}

type TransactionItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type RecordTransactionRequest struct {
	Items         []TransactionItem `json:"items" validate:"required,min=1,dive"`
	PaymentMethod string            `json:"payment_method" validate:"required,max=32"`
}

type RecordSaleRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type TransactionReceipt struct {
	TransactionID string          `json:"transaction_id"`
	StallID       string          `json:"stall_id"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Total         decimal.Decimal `json:"total"`
	Sales         []Sale          `json:"sales"`
}

type StallSalesResponse struct {
	StallID     string          `json:"stall_id"`
	TotalRaised decimal.Decimal `json:"total_raised"`
	Sales       []Sale          `json:"sales"`
}

type StallSummary struct {
	StallID     string          `json:"stall_id"`
	Name        string          `json:"name"`
	TotalRaised decimal.Decimal `json:"total_raised"`
	SaleCount   int             `json:"sale_count"`
}

type SalesSummary struct {
	Stalls      []StallSummary  `json:"stalls"`
	TotalRaised decimal.Decimal `json:"total_raised"`
	SaleCount   int             `json:"sale_count"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SellerLoginRequest struct {
	PIN string `json:"pin"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	StallID     string `json:"stall_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
	StallID  string
}

// UserAccount is an internal persistence model for admin credentials.
type UserAccount struct {
	Email     string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
)
