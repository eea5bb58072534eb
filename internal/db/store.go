package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"spotex/internal/engine"
	"spotex/internal/models"
)

// Store is the transactional engine.Store implementation over pgx. Rows
// returned by the ForUpdate methods are locked with SELECT ... FOR UPDATE
// until the transaction ends.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store sharing the DB's connection pool.
func NewStore(db *DB) *Store {
	return &Store{pool: db.Pool}
}

// Begin opens a transaction.
func (s *Store) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &storeTx{tx: tx}, nil
}

type storeTx struct {
	tx pgx.Tx
}

func (t *storeTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return mapPgErr(err)
	}
	return nil
}

func (t *storeTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func (t *storeTx) GetUserForUpdate(ctx context.Context, userID int) (*models.User, error) {
	user := &models.User{}
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, email, password_hash, balance, created_at
		 FROM users WHERE id = $1 FOR UPDATE`,
		userID).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Balance, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %d not found", userID)
		}
		return nil, mapPgErr(err)
	}
	return user, nil
}

func (t *storeTx) UpdateUserBalance(ctx context.Context, userID int, balance decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, "UPDATE users SET balance = $1 WHERE id = $2", balance, userID)
	if err != nil {
		return mapPgErr(err)
	}
	return nil
}

func (t *storeTx) GetOrCreateAssetForUpdate(ctx context.Context, userID int, symbol string) (*models.Asset, error) {
	// Insert-if-absent first so the subsequent lock always has a row to take.
	_, err := t.tx.Exec(ctx,
		`INSERT INTO assets (user_id, symbol, amount, locked_amount) VALUES ($1, $2, 0, 0)
		 ON CONFLICT (user_id, symbol) DO NOTHING`,
		userID, symbol)
	if err != nil {
		return nil, mapPgErr(err)
	}

	asset := &models.Asset{}
	err = t.tx.QueryRow(ctx,
		`SELECT id, user_id, symbol, amount, locked_amount, created_at
		 FROM assets WHERE user_id = $1 AND symbol = $2 FOR UPDATE`,
		userID, symbol).Scan(&asset.ID, &asset.UserID, &asset.Symbol, &asset.Amount, &asset.LockedAmount, &asset.CreatedAt)
	if err != nil {
		return nil, mapPgErr(err)
	}
	return asset, nil
}

func (t *storeTx) UpdateAsset(ctx context.Context, assetID int, amount, lockedAmount decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		"UPDATE assets SET amount = $1, locked_amount = $2 WHERE id = $3",
		amount, lockedAmount, assetID)
	if err != nil {
		return mapPgErr(err)
	}
	return nil
}

func (t *storeTx) UserAssets(ctx context.Context, userID int) ([]models.Asset, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, user_id, symbol, amount, locked_amount, created_at
		 FROM assets WHERE user_id = $1 ORDER BY symbol`,
		userID)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(&a.ID, &a.UserID, &a.Symbol, &a.Amount, &a.LockedAmount, &a.CreatedAt); err != nil {
			return nil, mapPgErr(err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (t *storeTx) CreateOrder(ctx context.Context, o *models.Order) (*models.Order, error) {
	created := *o
	err := t.tx.QueryRow(ctx,
		`INSERT INTO orders (user_id, symbol, side, price, amount, locked_usd, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		o.UserID, o.Symbol, o.Side, o.Price, o.Amount, o.LockedUSD, o.Status).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		return nil, mapPgErr(err)
	}
	return &created, nil
}

func (t *storeTx) GetUserOrderForUpdate(ctx context.Context, orderID, userID int) (*models.Order, error) {
	o := &models.Order{}
	err := t.tx.QueryRow(ctx,
		`SELECT id, user_id, symbol, side, price, amount, locked_usd, status, created_at
		 FROM orders WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		orderID, userID).Scan(&o.ID, &o.UserID, &o.Symbol, &o.Side, &o.Price, &o.Amount, &o.LockedUSD, &o.Status, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %d", engine.ErrNotFound, orderID)
		}
		return nil, mapPgErr(err)
	}
	return o, nil
}

func (t *storeTx) FindCounterOrderForUpdate(ctx context.Context, taker *models.Order) (*models.Order, error) {
	counterSide := models.SideSell
	priceCond := "price <= $4"
	priceOrder := "price ASC"
	if taker.IsSell() {
		counterSide = models.SideBuy
		priceCond = "price >= $4"
		priceOrder = "price DESC"
	}

	o := &models.Order{}
	err := t.tx.QueryRow(ctx,
		`SELECT id, user_id, symbol, side, price, amount, locked_usd, status, created_at
		 FROM orders
		 WHERE symbol = $1 AND side = $2 AND status = $3 AND `+priceCond+`
		   AND amount = $5 AND user_id != $6
		 ORDER BY `+priceOrder+`, created_at ASC
		 LIMIT 1
		 FOR UPDATE`,
		taker.Symbol, counterSide, models.StatusOpen, taker.Price, taker.Amount, taker.UserID).Scan(
		&o.ID, &o.UserID, &o.Symbol, &o.Side, &o.Price, &o.Amount, &o.LockedUSD, &o.Status, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapPgErr(err)
	}
	return o, nil
}

func (t *storeTx) UpdateOrder(ctx context.Context, orderID, status int, lockedUSD decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		"UPDATE orders SET status = $1, locked_usd = $2 WHERE id = $3",
		status, lockedUSD, orderID)
	if err != nil {
		return mapPgErr(err)
	}
	return nil
}

func (t *storeTx) CreateTrade(ctx context.Context, tr *models.Trade) (*models.Trade, error) {
	created := *tr
	err := t.tx.QueryRow(ctx,
		`INSERT INTO trades (buy_order_id, sell_order_id, buyer_id, seller_id, symbol, price, amount, total, commission)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		tr.BuyOrderID, tr.SellOrderID, tr.BuyerID, tr.SellerID, tr.Symbol,
		tr.Price, tr.Amount, tr.Total, tr.Commission).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		return nil, mapPgErr(err)
	}
	return &created, nil
}

// Postgres error codes surfaced as engine.ErrConcurrency. A detected
// deadlock or serialization failure is fatal to the request; the engine
// does not retry.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%w: %s", engine.ErrConcurrency, pgErr.Message)
		}
	}
	return err
}
