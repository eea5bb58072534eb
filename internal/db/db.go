package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"spotex/internal/models"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user with a starting balance
func (db *DB) CreateUser(ctx context.Context, name, email, passwordHash string, balance decimal.Decimal) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO users (name, email, password_hash, balance) VALUES ($1, $2, $3, $4)
		 RETURNING id, name, email, password_hash, balance, created_at`,
		name, email, passwordHash, balance).Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Balance, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, name, email, password_hash, balance, created_at FROM users WHERE email = $1",
		email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Balance, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by id
func (db *DB) GetUserByID(ctx context.Context, userID int) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, name, email, password_hash, balance, created_at FROM users WHERE id = $1",
		userID).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Balance, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GrantAsset credits amount of symbol to a user's holding, creating the
// asset row if it does not exist yet. Used by registration and seeding.
func (db *DB) GrantAsset(ctx context.Context, userID int, symbol string, amount decimal.Decimal) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO assets (user_id, symbol, amount, locked_amount) VALUES ($1, $2, $3, 0)
		 ON CONFLICT (user_id, symbol) DO UPDATE SET amount = assets.amount + EXCLUDED.amount`,
		userID, symbol, amount)
	if err != nil {
		return fmt.Errorf("failed to grant asset: %w", err)
	}
	return nil
}

// GetUserAssets retrieves all asset rows of a user
func (db *DB) GetUserAssets(ctx context.Context, userID int) ([]models.Asset, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, symbol, amount, locked_amount, created_at
		 FROM assets WHERE user_id = $1 ORDER BY symbol`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user assets: %w", err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(&a.ID, &a.UserID, &a.Symbol, &a.Amount, &a.LockedAmount, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// GetOpenOrders retrieves all open orders, optionally filtered by symbol,
// newest first
func (db *DB) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	query := `SELECT id, user_id, symbol, side, price, amount, locked_usd, status, created_at
		FROM orders WHERE status = $1`
	args := []any{models.StatusOpen}
	if symbol != "" {
		query += " AND symbol = $2"
		args = append(args, symbol)
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// OrderFilter narrows GetUserOrders. Zero values mean no filtering.
type OrderFilter struct {
	Symbol string
	Side   string
	Status int
}

// GetUserOrders retrieves a user's orders, newest first
func (db *DB) GetUserOrders(ctx context.Context, userID int, filter OrderFilter) ([]models.Order, error) {
	query := `SELECT id, user_id, symbol, side, price, amount, locked_usd, status, created_at
		FROM orders WHERE user_id = $1`
	args := []any{userID}
	if filter.Symbol != "" {
		args = append(args, filter.Symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	if filter.Side != "" {
		args = append(args, filter.Side)
		query += fmt.Sprintf(" AND side = $%d", len(args))
	}
	if filter.Status != 0 {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// GetUserTrades retrieves all trades where the user was buyer or seller,
// newest first
func (db *DB) GetUserTrades(ctx context.Context, userID int) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, buy_order_id, sell_order_id, buyer_id, seller_id, symbol,
		        price, amount, total, commission, created_at
		 FROM trades WHERE buyer_id = $1 OR seller_id = $1
		 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.BuyOrderID, &t.SellOrderID, &t.BuyerID, &t.SellerID,
			&t.Symbol, &t.Price, &t.Amount, &t.Total, &t.Commission, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanOrders(rows rowScanner) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Symbol, &o.Side, &o.Price, &o.Amount,
			&o.LockedUSD, &o.Status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
