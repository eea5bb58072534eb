package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"spotex/internal/api"
	"spotex/internal/auth"
	"spotex/internal/config"
	"spotex/internal/db"
	"spotex/internal/engine"
	"spotex/internal/ws"
)

// Main entry point: sets up database, matching engine, and HTTP server
func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()
	ctx := context.Background()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(ctx)

	// Per-user websocket channels for match notifications
	hub := ws.NewHub(logger)

	// Matching engine over the transactional store
	eng := engine.New(db.NewStore(database), hub, logger)

	authService := auth.NewAuthService(database, cfg.JWTSecret)
	handler := api.NewHandler(database, eng, authService, logger)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket endpoint, authenticated by token query parameter
	r.Get("/ws", hub.Handler(func(req *http.Request) (int, error) {
		return authService.GetUserFromToken(req.URL.Query().Get("token"))
	}))

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Get("/orderbook", handler.GetOrderBook)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Get("/user", handler.CurrentUser)
		r.Get("/profile", handler.Profile)
		r.Post("/orders", handler.PlaceOrder)
		r.Get("/orders", handler.GetUserOrders)
		r.Delete("/orders/{id}", handler.CancelOrder)
		r.Get("/trades", handler.GetUserTrades)
	})

	logger.Info("starting server", zap.String("addr", cfg.ListenAddr))
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
