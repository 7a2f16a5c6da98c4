package backend

import "github.com/shopspring/decimal"

// User mirrors the backend's user record.
type User struct {
	TelegramID string `json:"telegram_id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	CreatedAt  string `json:"created_at"`
}

// Product is a catalog entry. Image is a path relative to the bot's image directory.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
	Image string          `json:"image,omitempty"`
}

// CartItem is one line of a user's cart.
type CartItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// LineTotal returns unit price times quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the backend's view of a user's cart. Total is whatever the backend reports.
type Cart struct {
	Items []CartItem
	Total decimal.Decimal
}

// Empty reports whether the cart has no lines.
func (c *Cart) Empty() bool {
	return c == nil || len(c.Items) == 0
}

// OrderStatus is the backend's order lifecycle state.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusConfirmed  OrderStatus = "CONFIRMED"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusShipped    OrderStatus = "SHIPPED"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

// Glyph maps a status to its display emoji. Unknown statuses get a question mark.
func (s OrderStatus) Glyph() string {
	switch s {
	case StatusPending:
		return "⏳"
	case StatusConfirmed:
		return "✅"
	case StatusProcessing:
		return "⚙️"
	case StatusShipped:
		return "🚚"
	case StatusDelivered:
		return "📦"
	case StatusCancelled:
		return "❌"
	default:
		return "❓"
	}
}

// Terminal reports whether the order can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Order mirrors an order record. CreatedAt is kept as the backend's ISO-8601 string.
type Order struct {
	OrderID         string          `json:"order_id"`
	Total           decimal.Decimal `json:"total"`
	Status          OrderStatus     `json:"status"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	CreatedAt       string          `json:"created_at"`
}

type registerRequest struct {
	TelegramID string `json:"telegram_id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
}

type cartAddRequest struct {
	TelegramID string `json:"telegram_id"`
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
}

type cartRemoveRequest struct {
	TelegramID string `json:"telegram_id"`
	ProductID  string `json:"product_id"`
}

type createOrderRequest struct {
	TelegramID      string `json:"telegram_id"`
	DeliveryAddress string `json:"delivery_address"`
	PaymentMethod   string `json:"payment_method"`
}

// envelope covers every response shape the backend returns; unused fields stay zero.
type envelope struct {
	Success  *bool           `json:"success"`
	Error    string          `json:"error"`
	Message  string          `json:"message"`
	User     *User           `json:"user"`
	Products []Product       `json:"products"`
	Cart     []CartItem      `json:"cart"`
	Total    decimal.Decimal `json:"total"`
	Order    *Order          `json:"order"`
	Orders   []*Order        `json:"orders"`
	Status   string          `json:"status"`
}

func (e *envelope) failed() bool {
	return e.Success != nil && !*e.Success
}
