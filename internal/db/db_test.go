package db

import (
	"context"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotex/internal/engine"
	"spotex/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// openTestDB connects to the database named by SPOTEX_TEST_DATABASE_URL,
// applies the migration and truncates all tables. Tests are skipped when
// the variable is unset.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	connString := os.Getenv("SPOTEX_TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("SPOTEX_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	database, err := NewDB(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(ctx) })

	migration, err := os.ReadFile("../../migrations/001_init.sql")
	require.NoError(t, err)
	_, err = database.Pool.Exec(ctx, string(migration))
	require.NoError(t, err)

	_, err = database.Pool.Exec(ctx, "TRUNCATE users, assets, orders, trades RESTART IDENTITY CASCADE")
	require.NoError(t, err)
	return database
}

func TestCreateUserAndGetByEmail(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	user, err := database.CreateUser(ctx, "Alice", "alice@example.com", "hash", d("10000"))
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(d("10000")))

	got, err := database.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	// Duplicate email violates the unique constraint.
	_, err = database.CreateUser(ctx, "Alice Again", "alice@example.com", "hash", d("0"))
	assert.Error(t, err)
}

func TestGrantAssetUpsert(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	user, err := database.CreateUser(ctx, "Bob", "bob@example.com", "hash", d("0"))
	require.NoError(t, err)

	require.NoError(t, database.GrantAsset(ctx, user.ID, "BTC", d("1")))
	require.NoError(t, database.GrantAsset(ctx, user.ID, "BTC", d("0.5")))

	assets, err := database.GetUserAssets(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.True(t, assets[0].Amount.Equal(d("1.5")))
	assert.True(t, assets[0].LockedAmount.IsZero())
}

// Full engine flow over the real transactional store: reserve, match,
// settle, and read back the persisted rows.
func TestStoreMatchFlow(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	buyer, err := database.CreateUser(ctx, "Buyer", "buyer@example.com", "hash", d("10000"))
	require.NoError(t, err)
	seller, err := database.CreateUser(ctx, "Seller", "seller@example.com", "hash", d("10000"))
	require.NoError(t, err)
	require.NoError(t, database.GrantAsset(ctx, seller.ID, "BTC", d("1")))

	eng := engine.New(NewStore(database), nil, nil)

	buyRes, err := eng.CreateOrder(ctx, buyer.ID, "BTC", "buy", d("110"), d("1"))
	require.NoError(t, err)
	assert.False(t, buyRes.Matched)

	sellRes, err := eng.CreateOrder(ctx, seller.ID, "BTC", "sell", d("100"), d("1"))
	require.NoError(t, err)
	require.True(t, sellRes.Matched)
	require.NotNil(t, sellRes.Trade)
	assert.True(t, sellRes.Trade.Price.Equal(d("100")))
	assert.True(t, sellRes.Trade.Commission.Equal(d("1.5")))

	// Buyer: 10000 - 110 + refund 8.5.
	gotBuyer, err := database.GetUserByID(ctx, buyer.ID)
	require.NoError(t, err)
	assert.True(t, gotBuyer.Balance.Equal(d("9898.5")), "buyer balance %s", gotBuyer.Balance)

	gotSeller, err := database.GetUserByID(ctx, seller.ID)
	require.NoError(t, err)
	assert.True(t, gotSeller.Balance.Equal(d("10100")))

	buyerAssets, err := database.GetUserAssets(ctx, buyer.ID)
	require.NoError(t, err)
	require.Len(t, buyerAssets, 1)
	assert.True(t, buyerAssets[0].Amount.Equal(d("1")))
	assert.True(t, buyerAssets[0].LockedAmount.IsZero())

	trades, err := database.GetUserTrades(ctx, buyer.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, buyer.ID, trades[0].BuyerID)
	assert.Equal(t, seller.ID, trades[0].SellerID)

	orders, err := database.GetUserOrders(ctx, buyer.ID, OrderFilter{Status: models.StatusFilled})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].LockedUSD.IsZero())
}

func TestStoreCancelFlow(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	user, err := database.CreateUser(ctx, "Carol", "carol@example.com", "hash", d("1000"))
	require.NoError(t, err)

	eng := engine.New(NewStore(database), nil, nil)

	res, err := eng.CreateOrder(ctx, user.ID, "ETH", "buy", d("100"), d("2"))
	require.NoError(t, err)

	got, err := database.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(d("800")))

	_, err = eng.CancelOrder(ctx, user.ID, res.Order.ID)
	require.NoError(t, err)

	got, err = database.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(d("1000")))

	_, err = eng.CancelOrder(ctx, user.ID, res.Order.ID)
	assert.ErrorIs(t, err, engine.ErrOrderNotOpen)

	_, err = eng.CancelOrder(ctx, user.ID, 9999)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestGetOpenOrdersSymbolFilter(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	user, err := database.CreateUser(ctx, "Dave", "dave@example.com", "hash", d("10000"))
	require.NoError(t, err)

	eng := engine.New(NewStore(database), nil, nil)
	_, err = eng.CreateOrder(ctx, user.ID, "BTC", "buy", d("100"), d("1"))
	require.NoError(t, err)
	_, err = eng.CreateOrder(ctx, user.ID, "ETH", "buy", d("10"), d("1"))
	require.NoError(t, err)

	all, err := database.GetOpenOrders(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	btc, err := database.GetOpenOrders(ctx, "BTC")
	require.NoError(t, err)
	require.Len(t, btc, 1)
	assert.Equal(t, "BTC", btc[0].Symbol)
}
