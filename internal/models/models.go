package models

import (
	"time"

	"github.com/shopspring/decimal"

	"spotex/internal/money"
)

// Order sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order statuses. Transitions are one-way: an order leaves StatusOpen for
// StatusFilled or StatusCancelled and never comes back.
const (
	StatusOpen      = 1
	StatusFilled    = 2
	StatusCancelled = 3
)

// Symbols is the tradeable asset whitelist. The quote currency is USD.
var Symbols = []string{"BTC", "ETH"}

// ValidSymbol reports whether s is a tradeable symbol.
func ValidSymbol(s string) bool {
	for _, sym := range Symbols {
		if s == sym {
			return true
		}
	}
	return false
}

// StatusLabel returns the human-readable name of an order status.
func StatusLabel(status int) string {
	switch status {
	case StatusOpen:
		return "open"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// User represents a registered user and their USD cash balance.
// Balance never goes negative.
type User struct {
	ID           int
	Name         string
	Email        string
	PasswordHash string
	Balance      decimal.Decimal
	CreatedAt    time.Time
}

// Asset is a user's holding of one symbol. LockedAmount is the portion
// reserved by open sell orders; Amount >= LockedAmount >= 0 always holds.
type Asset struct {
	ID           int
	UserID       int
	Symbol       string
	Amount       decimal.Decimal
	LockedAmount decimal.Decimal
	CreatedAt    time.Time
}

// Available returns the portion of the holding not reserved by open orders.
func (a *Asset) Available() decimal.Decimal {
	return a.Amount.Sub(a.LockedAmount)
}

// Order is a plain limit order. LockedUSD is the cash reserved by an open
// buy order (price*amount); it is zero for sell orders and zeroed again
// when the order leaves StatusOpen.
type Order struct {
	ID        int
	UserID    int
	Symbol    string
	Side      string
	Price     decimal.Decimal
	Amount    decimal.Decimal
	LockedUSD decimal.Decimal
	Status    int
	CreatedAt time.Time
}

func (o *Order) IsOpen() bool { return o.Status == StatusOpen }
func (o *Order) IsBuy() bool  { return o.Side == SideBuy }
func (o *Order) IsSell() bool { return o.Side == SideSell }

// Total returns price*amount truncated to 8 decimal digits.
func (o *Order) Total() decimal.Decimal {
	return money.Mul(o.Price, o.Amount)
}

// Trade is the immutable record of one executed match.
type Trade struct {
	ID          int
	BuyOrderID  int
	SellOrderID int
	BuyerID     int
	SellerID    int
	Symbol      string
	Price       decimal.Decimal
	Amount      decimal.Decimal
	Total       decimal.Decimal
	Commission  decimal.Decimal
	CreatedAt   time.Time
}

// OrderSnapshot is the wire representation of an order.
type OrderSnapshot struct {
	ID          int             `json:"id"`
	UserID      int             `json:"user_id"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	Total       decimal.Decimal `json:"total"`
	Status      int             `json:"status"`
	StatusLabel string          `json:"status_label"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Snapshot formats the order for API responses and match notifications.
func (o *Order) Snapshot() OrderSnapshot {
	return OrderSnapshot{
		ID:          o.ID,
		UserID:      o.UserID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Price:       o.Price,
		Amount:      o.Amount,
		Total:       o.Total(),
		Status:      o.Status,
		StatusLabel: StatusLabel(o.Status),
		CreatedAt:   o.CreatedAt,
	}
}

// TradeSnapshot is the wire representation of a trade.
type TradeSnapshot struct {
	ID         int             `json:"id"`
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Amount     decimal.Decimal `json:"amount"`
	Total      decimal.Decimal `json:"total"`
	Commission decimal.Decimal `json:"commission"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Snapshot formats the trade for API responses and match notifications.
func (t *Trade) Snapshot() TradeSnapshot {
	return TradeSnapshot{
		ID:         t.ID,
		Symbol:     t.Symbol,
		Price:      t.Price,
		Amount:     t.Amount,
		Total:      t.Total,
		Commission: t.Commission,
		CreatedAt:  t.CreatedAt,
	}
}

// AssetSnapshot is the wire representation of one holding.
type AssetSnapshot struct {
	Symbol       string          `json:"symbol"`
	Amount       decimal.Decimal `json:"amount"`
	LockedAmount decimal.Decimal `json:"locked_amount"`
}

// WalletSnapshot is a user's cash balance plus all holdings.
type WalletSnapshot struct {
	Balance decimal.Decimal `json:"balance"`
	Assets  []AssetSnapshot `json:"assets"`
}

// NewWalletSnapshot builds a wallet view from a balance and asset rows.
func NewWalletSnapshot(balance decimal.Decimal, assets []Asset) WalletSnapshot {
	w := WalletSnapshot{Balance: balance, Assets: make([]AssetSnapshot, 0, len(assets))}
	for _, a := range assets {
		w.Assets = append(w.Assets, AssetSnapshot{
			Symbol:       a.Symbol,
			Amount:       a.Amount,
			LockedAmount: a.LockedAmount,
		})
	}
	return w
}
