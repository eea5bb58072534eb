// Package engine implements order intake, matching and settlement. Every
// operation runs inside one Store transaction: funds or holdings are
// reserved first, then exactly one counter-order of identical size may be
// matched and settled. Partial fills are not supported.
package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spotex/internal/models"
	"spotex/internal/money"
)

// commissionRate is charged on the trade total, buyer side only.
var commissionRate = decimal.RequireFromString("0.015")

// MatchEvent is the payload published to each party of a trade.
type MatchEvent struct {
	Trade  models.TradeSnapshot  `json:"trade"`
	Wallet models.WalletSnapshot `json:"wallet"`
	Order  models.OrderSnapshot  `json:"order"`
}

// Notifier delivers match events to a user's private channel. Delivery is
// an external concern; implementations must not block the caller for long.
type Notifier interface {
	NotifyMatch(userID int, event MatchEvent)
}

// OrderResult is the outcome of order intake: the created order, whether it
// matched immediately, and the trade if it did.
type OrderResult struct {
	Order   models.OrderSnapshot  `json:"order"`
	Matched bool                  `json:"matched"`
	Trade   *models.TradeSnapshot `json:"trade"`
}

// Engine is the matching and settlement engine.
type Engine struct {
	store    Store
	notifier Notifier
	log      *zap.Logger
}

// New creates an engine over a store. notifier may be nil, in which case
// match events are dropped.
func New(store Store, notifier Notifier, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, notifier: notifier, log: log}
}

// CreateOrder validates and reserves a new limit order, then attempts one
// synchronous match against the book. The reservation and the match commit
// or roll back as a unit; if no counter-order exists the order rests open
// with its reservation intact.
func (e *Engine) CreateOrder(ctx context.Context, userID int, symbol, side string, price, amount decimal.Decimal) (*OrderResult, error) {
	if !models.ValidSymbol(symbol) {
		return nil, validationErrf(fmt.Sprintf("unsupported symbol %q", symbol))
	}
	if side != models.SideBuy && side != models.SideSell {
		return nil, validationErrf("side must be 'buy' or 'sell'")
	}
	price = money.Truncate(price)
	amount = money.Truncate(amount)
	if !price.IsPositive() {
		return nil, validationErrf("price must be positive")
	}
	if !amount.IsPositive() {
		return nil, validationErrf("amount must be positive")
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	user, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		UserID: userID,
		Symbol: symbol,
		Side:   side,
		Price:  price,
		Amount: amount,
		Status: models.StatusOpen,
	}

	if side == models.SideBuy {
		total := money.Mul(price, amount)
		if user.Balance.LessThan(total) {
			return nil, fmt.Errorf("%w: required %s, available %s",
				ErrInsufficientFunds, total, user.Balance)
		}
		if err := tx.UpdateUserBalance(ctx, userID, user.Balance.Sub(total)); err != nil {
			return nil, err
		}
		order.LockedUSD = total
	} else {
		asset, err := tx.GetOrCreateAssetForUpdate(ctx, userID, symbol)
		if err != nil {
			return nil, err
		}
		if asset.Available().LessThan(amount) {
			return nil, fmt.Errorf("%w: required %s %s, available %s",
				ErrInsufficientAsset, amount, symbol, asset.Available())
		}
		if err := tx.UpdateAsset(ctx, asset.ID, asset.Amount, asset.LockedAmount.Add(amount)); err != nil {
			return nil, err
		}
		order.LockedUSD = decimal.Zero
	}

	order, err = tx.CreateOrder(ctx, order)
	if err != nil {
		return nil, err
	}

	counter, err := tx.FindCounterOrderForUpdate(ctx, order)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		e.log.Info("order resting",
			zap.Int("order_id", order.ID),
			zap.Int("user_id", userID),
			zap.String("symbol", symbol),
			zap.String("side", side))
		return &OrderResult{Order: order.Snapshot(), Matched: false}, nil
	}

	buyOrder, sellOrder := order, counter
	if side == models.SideSell {
		buyOrder, sellOrder = counter, order
	}

	trade, events, err := e.settle(ctx, tx, buyOrder, sellOrder)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	e.log.Info("order matched",
		zap.Int("trade_id", trade.ID),
		zap.Int("buy_order_id", buyOrder.ID),
		zap.Int("sell_order_id", sellOrder.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("price", trade.Price.String()),
		zap.String("amount", trade.Amount.String()))

	if e.notifier != nil {
		for uid, ev := range events {
			e.notifier.NotifyMatch(uid, ev)
		}
	}

	snap := trade.Snapshot()
	return &OrderResult{Order: order.Snapshot(), Matched: true, Trade: &snap}, nil
}

// settle executes a paired match. The execution price is always the sell
// order's price; commission is charged to the buyer only. Returns the trade
// and the per-party match events to publish after commit.
func (e *Engine) settle(ctx context.Context, tx Tx, buyOrder, sellOrder *models.Order) (*models.Trade, map[int]MatchEvent, error) {
	execPrice := sellOrder.Price
	amount := sellOrder.Amount
	total := money.Mul(execPrice, amount)
	commission := money.Mul(total, commissionRate)

	buyer, err := tx.GetUserForUpdate(ctx, buyOrder.UserID)
	if err != nil {
		return nil, nil, err
	}
	seller, err := tx.GetUserForUpdate(ctx, sellOrder.UserID)
	if err != nil {
		return nil, nil, err
	}
	buyerAsset, err := tx.GetOrCreateAssetForUpdate(ctx, buyer.ID, buyOrder.Symbol)
	if err != nil {
		return nil, nil, err
	}
	sellerAsset, err := tx.GetOrCreateAssetForUpdate(ctx, seller.ID, sellOrder.Symbol)
	if err != nil {
		return nil, nil, err
	}

	// The buyer reserved price*amount at their own limit price. Execution at
	// a better (lower) price leaves a surplus to return. The refund can only
	// add funds back: when commission pushes the actual cost above the
	// reserved amount the shortfall is absorbed, not clawed back. See
	// DESIGN.md on the commission shortfall.
	buyerLocked := money.Mul(buyOrder.Price, buyOrder.Amount)
	refund := buyerLocked.Sub(total.Add(commission))
	buyerBalance := buyer.Balance
	if refund.IsPositive() {
		buyerBalance = buyerBalance.Add(refund)
		if err := tx.UpdateUserBalance(ctx, buyer.ID, buyerBalance); err != nil {
			return nil, nil, err
		}
	}

	sellerBalance := seller.Balance.Add(total)
	if err := tx.UpdateUserBalance(ctx, seller.ID, sellerBalance); err != nil {
		return nil, nil, err
	}

	if err := tx.UpdateAsset(ctx, sellerAsset.ID,
		sellerAsset.Amount.Sub(amount), sellerAsset.LockedAmount.Sub(amount)); err != nil {
		return nil, nil, err
	}
	// The buyer's new holding is never locked by the transfer.
	if err := tx.UpdateAsset(ctx, buyerAsset.ID,
		buyerAsset.Amount.Add(amount), buyerAsset.LockedAmount); err != nil {
		return nil, nil, err
	}

	if err := tx.UpdateOrder(ctx, buyOrder.ID, models.StatusFilled, decimal.Zero); err != nil {
		return nil, nil, err
	}
	buyOrder.Status = models.StatusFilled
	buyOrder.LockedUSD = decimal.Zero
	if err := tx.UpdateOrder(ctx, sellOrder.ID, models.StatusFilled, decimal.Zero); err != nil {
		return nil, nil, err
	}
	sellOrder.Status = models.StatusFilled

	trade, err := tx.CreateTrade(ctx, &models.Trade{
		BuyOrderID:  buyOrder.ID,
		SellOrderID: sellOrder.ID,
		BuyerID:     buyer.ID,
		SellerID:    seller.ID,
		Symbol:      buyOrder.Symbol,
		Price:       execPrice,
		Amount:      amount,
		Total:       total,
		Commission:  commission,
	})
	if err != nil {
		return nil, nil, err
	}

	buyerAssets, err := tx.UserAssets(ctx, buyer.ID)
	if err != nil {
		return nil, nil, err
	}
	sellerAssets, err := tx.UserAssets(ctx, seller.ID)
	if err != nil {
		return nil, nil, err
	}

	events := map[int]MatchEvent{
		buyer.ID: {
			Trade:  trade.Snapshot(),
			Wallet: models.NewWalletSnapshot(buyerBalance, buyerAssets),
			Order:  buyOrder.Snapshot(),
		},
		seller.ID: {
			Trade:  trade.Snapshot(),
			Wallet: models.NewWalletSnapshot(sellerBalance, sellerAssets),
			Order:  sellOrder.Snapshot(),
		},
	}
	return trade, events, nil
}

// CancelOrder cancels an open order owned by userID, returning its locked
// funds or holdings. Cancelling anything but an open order fails with
// ErrOrderNotOpen and changes nothing; cancellation is terminal.
func (e *Engine) CancelOrder(ctx context.Context, userID, orderID int) (*models.OrderSnapshot, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	user, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	order, err := tx.GetUserOrderForUpdate(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if !order.IsOpen() {
		return nil, fmt.Errorf("%w: order %d is %s", ErrOrderNotOpen, order.ID, models.StatusLabel(order.Status))
	}

	if order.IsBuy() {
		if err := tx.UpdateUserBalance(ctx, userID, user.Balance.Add(order.LockedUSD)); err != nil {
			return nil, err
		}
	} else {
		asset, err := tx.GetOrCreateAssetForUpdate(ctx, userID, order.Symbol)
		if err != nil {
			return nil, err
		}
		if err := tx.UpdateAsset(ctx, asset.ID, asset.Amount, asset.LockedAmount.Sub(order.Amount)); err != nil {
			return nil, err
		}
	}

	if err := tx.UpdateOrder(ctx, order.ID, models.StatusCancelled, decimal.Zero); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	order.Status = models.StatusCancelled
	order.LockedUSD = decimal.Zero
	e.log.Info("order cancelled", zap.Int("order_id", order.ID), zap.Int("user_id", userID))
	snap := order.Snapshot()
	return &snap, nil
}
