package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"spotex/internal/models"
)

// Store opens atomic units of work against the shared exchange state
// (user balances, asset rows, orders, trades).
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one transaction. Each ForUpdate method acquires an exclusive row
// lock held until Commit or Rollback; callers must follow the fixed lock
// order (own user row, own asset row, candidate order row, counterparty
// user and asset rows) to stay deadlock-free across concurrent requests.
// Rollback after Commit is a no-op, so it is safe to defer.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// GetUserForUpdate locks and returns a user row.
	GetUserForUpdate(ctx context.Context, userID int) (*models.User, error)
	// UpdateUserBalance writes a user's cash balance.
	UpdateUserBalance(ctx context.Context, userID int, balance decimal.Decimal) error

	// GetOrCreateAssetForUpdate locks and returns the (user, symbol) asset
	// row, creating it with zero amounts on first touch.
	GetOrCreateAssetForUpdate(ctx context.Context, userID int, symbol string) (*models.Asset, error)
	// UpdateAsset writes an asset row's amount and locked amount.
	UpdateAsset(ctx context.Context, assetID int, amount, lockedAmount decimal.Decimal) error
	// UserAssets returns all asset rows of a user, ordered by symbol.
	UserAssets(ctx context.Context, userID int) ([]models.Asset, error)

	// CreateOrder inserts an order and returns it with id and created_at set.
	CreateOrder(ctx context.Context, o *models.Order) (*models.Order, error)
	// GetUserOrderForUpdate locks and returns an order owned by userID.
	GetUserOrderForUpdate(ctx context.Context, orderID, userID int) (*models.Order, error)
	// FindCounterOrderForUpdate locks and returns the best open counter-order
	// for taker: same symbol, opposite side, different owner, compatible
	// price, exactly equal amount. Best means lowest price for a buy taker,
	// highest for a sell taker, ties broken by earliest creation. Returns
	// (nil, nil) when no candidate exists.
	FindCounterOrderForUpdate(ctx context.Context, taker *models.Order) (*models.Order, error)
	// UpdateOrder writes an order's status and locked USD.
	UpdateOrder(ctx context.Context, orderID, status int, lockedUSD decimal.Decimal) error

	// CreateTrade appends an immutable trade record.
	CreateTrade(ctx context.Context, t *models.Trade) (*models.Trade, error)
}
