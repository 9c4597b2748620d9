package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	MailAddress string `json:"mail_address"`
	PINHash     string `json:"-"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Admin       bool   `json:"admin"`
}

type Product struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Available bool            `json:"available"`
	Price     decimal.Decimal `json:"price"`
	Discount  decimal.Decimal `json:"discount"`
	Quantity  int             `json:"quantity"`
	SiteID    string          `json:"site_id"`
}

// LinePrice is the amount charged for qty units at the product's current
// price and discount: (1 - discount) * price * qty.
func (p Product) LinePrice(qty int) decimal.Decimal {
	return decimal.NewFromInt(1).
		Sub(p.Discount).
		Mul(p.Price).
		Mul(decimal.NewFromInt(int64(qty)))
}

type Purchase struct {
	Code         string         `json:"code"`
	CustomerMail string         `json:"customer_mail_address"`
	CreatedAt    time.Time      `json:"created_at"`
	Gifted       bool           `json:"gifted"`
	Items        []PurchaseItem `json:"items"`
}

// Total sums the snapshotted item prices.
func (p Purchase) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range p.Items {
		total = total.Add(item.Price)
	}
	return total
}

// PurchaseItem.Price is frozen when the item is created and is never
// derived from the catalog again.
type PurchaseItem struct {
	ID           string          `json:"id"`
	PurchaseCode string          `json:"purchase_code"`
	ProductCode  string          `json:"product_code"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
}

type PurchaseLine struct {
	ProductCode string `json:"product_code"`
	Quantity    int    `json:"purchase_quantity"`
}

type PurchaseRequest struct {
	CustomerMail string         `json:"customer_mail_address"`
	Lines        []PurchaseLine `json:"purchase_details"`
}

type PurchaseReceiptItem struct {
	ProductCode string          `json:"product_code"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

type PurchaseReceipt struct {
	Code         string                `json:"code"`
	CustomerMail string                `json:"customer_mail_address"`
	CreatedAt    string                `json:"created_at"`
	Items        []PurchaseReceiptItem `json:"items"`
	Total        decimal.Decimal       `json:"total"`
}

type GiftRequest struct {
	RecipientMail string `json:"customer_mail_address"`
}

type RecentPurchaseItem struct {
	ProductName string          `json:"product"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

type RecentPurchase struct {
	Code      string               `json:"code"`
	FirstName string               `json:"first_name"`
	LastName  string               `json:"last_name"`
	CreatedAt string               `json:"created_at"`
	Products  []RecentPurchaseItem `json:"product"`
}

type RecentPurchaseListResponse struct {
	Purchases []RecentPurchase `json:"purchases"`
}

type LoginRequest struct {
	MailAddress string `json:"mail_address"`
	PIN         string `json:"pin"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Admin       bool   `json:"admin"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	MailAddress string
	Admin       bool
}
