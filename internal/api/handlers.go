package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spotex/internal/auth"
	"spotex/internal/db"
	"spotex/internal/engine"
	"spotex/internal/models"
)

type ctxKey string

const userIDKey ctxKey = "user_id"

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	Engine      *engine.Engine
	AuthService *auth.AuthService
	Log         *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(db *db.DB, eng *engine.Engine, authService *auth.AuthService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{DB: db, Engine: eng, AuthService: authService, Log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// writeEngineError maps engine failure kinds to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrInsufficientAsset),
		errors.Is(err, engine.ErrOrderNotOpen):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, engine.ErrConcurrency):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func userView(u *models.User) map[string]any {
	return map[string]any{
		"id":      u.ID,
		"name":    u.Name,
		"email":   u.Email,
		"balance": u.Balance,
	}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	token, _, err := h.AuthService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Registration successful",
		"user":    userView(user),
		"token":   token,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, user, err := h.AuthService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "The provided credentials are incorrect")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"user":    userView(user),
		"token":   token,
	})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerID(r *http.Request) (int, bool) {
	userID, ok := r.Context().Value(userIDKey).(int)
	return userID, ok
}

// CurrentUser returns the authenticated user
func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.DB.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": userView(user)})
}

// Profile returns the caller's wallet: balance plus all holdings
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.DB.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve user")
		return
	}
	assets, err := h.DB.GetUserAssets(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve assets")
		return
	}

	assetViews := make([]map[string]any, 0, len(assets))
	for _, a := range assets {
		assetViews = append(assetViews, map[string]any{
			"symbol":        a.Symbol,
			"amount":        a.Amount,
			"locked_amount": a.LockedAmount,
			"available":     a.Available(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
		},
		"balance": user.Balance,
		"assets":  assetViews,
	})
}

// PlaceOrder handles order placement and matching
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Symbol string          `json:"symbol"`
		Side   string          `json:"side"`
		Price  decimal.Decimal `json:"price"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.Engine.CreateOrder(r.Context(), userID, req.Symbol, req.Side, req.Price, req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	message := "Order placed successfully"
	if result.Matched {
		message = "Order matched successfully"
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": message,
		"order":   result.Order,
		"matched": result.Matched,
		"trade":   result.Trade,
	})
}

// CancelOrder cancels an open order owned by the caller
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orderID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := h.Engine.CancelOrder(r.Context(), userID, orderID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Order cancelled successfully",
		"order":   order,
	})
}

// GetOrderBook returns open orders grouped by side: buys sorted by price
// descending, sells ascending. Accepts an optional symbol filter.
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol != "" && !models.ValidSymbol(symbol) {
		writeError(w, http.StatusBadRequest, "Unsupported symbol")
		return
	}

	orders, err := h.DB.GetOpenOrders(r.Context(), symbol)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve order book")
		return
	}

	var buys, sells []models.OrderSnapshot
	for i := range orders {
		snap := orders[i].Snapshot()
		if orders[i].IsBuy() {
			buys = append(buys, snap)
		} else {
			sells = append(sells, snap)
		}
	}
	sort.SliceStable(buys, func(i, j int) bool {
		return buys[i].Price.GreaterThan(buys[j].Price)
	})
	sort.SliceStable(sells, func(i, j int) bool {
		return sells[i].Price.LessThan(sells[j].Price)
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"buy_orders":  buys,
		"sell_orders": sells,
	})
}

// GetUserOrders retrieves the caller's orders, optionally filtered by
// symbol, side and status
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var filter db.OrderFilter
	q := r.URL.Query()
	if symbol := q.Get("symbol"); symbol != "" {
		if !models.ValidSymbol(symbol) {
			writeError(w, http.StatusBadRequest, "Unsupported symbol")
			return
		}
		filter.Symbol = symbol
	}
	if side := q.Get("side"); side != "" {
		if side != models.SideBuy && side != models.SideSell {
			writeError(w, http.StatusBadRequest, "Side must be 'buy' or 'sell'")
			return
		}
		filter.Side = side
	}
	if statusStr := q.Get("status"); statusStr != "" {
		status, err := strconv.Atoi(statusStr)
		if err != nil || status < models.StatusOpen || status > models.StatusCancelled {
			writeError(w, http.StatusBadRequest, "Invalid status")
			return
		}
		filter.Status = status
	}

	orders, err := h.DB.GetUserOrders(r.Context(), userID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve orders")
		return
	}

	snaps := make([]models.OrderSnapshot, 0, len(orders))
	for i := range orders {
		snaps = append(snaps, orders[i].Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": snaps})
}

// GetUserTrades retrieves the caller's trade history
func (h *Handler) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	trades, err := h.DB.GetUserTrades(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve trades")
		return
	}

	snaps := make([]models.TradeSnapshot, 0, len(trades))
	for i := range trades {
		snaps = append(snaps, trades[i].Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": snaps})
}
