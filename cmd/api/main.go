package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/auth"
	"github.com/ariefcatur/go-grocery-orders/internal/catalog"
	"github.com/ariefcatur/go-grocery-orders/internal/config"
	"github.com/ariefcatur/go-grocery-orders/internal/httpx"
	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-grocery-orders/internal/kafka"
	"github.com/ariefcatur/go-grocery-orders/internal/memstore"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/ariefcatur/go-grocery-orders/internal/postgres"
	"github.com/ariefcatur/go-grocery-orders/internal/redisx"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("service", cfg.ServiceName)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	var uow orders.UnitOfWork
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		uow = demoStore()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("db connect", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db, cfg.PaymentStatus); err != nil {
			log.Error("db migrate", "err", err)
			os.Exit(1)
		}
		uow = &postgres.Store{DB: db, PaymentStatusColumn: cfg.PaymentStatus}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	// Services & handlers
	ordersSvc := &orders.Service{
		UoW:                 uow,
		Events:              prod,
		Log:                 log,
		ServiceName:         cfg.ServiceName,
		PaymentStatusColumn: cfg.PaymentStatus,
	}
	catalogSvc := &catalog.Service{UoW: uow, Cache: redisx.ProductCache{RDB: rdb}, Log: log}
	tokens := &auth.Tokens{Secret: []byte(cfg.JWTSecret), TTL: cfg.JWTTTL, Issuer: cfg.ServiceName}
	flag := redisx.StoreFlag{RDB: rdb}
	validate := validator.New()

	limiter := httpx.NewIPLimiter(cfg.OrderRateRPS, cfg.OrderRateBurst)
	go limiter.RunCleanup(ctx, 5*time.Minute)

	router := httpx.NewRouter(log)
	authn := httpx.RequireAuth(tokens)
	oh := &httpx.OrdersHandler{
		Orders:   ordersSvc,
		Store:    flag,
		Status:   redisx.StatusCache{RDB: rdb},
		Listing:  redisx.ProductCache{RDB: rdb},
		Validate: validate,
		Log:      log,
	}
	oh.Register(router, authn, limiter)
	ch := &httpx.CatalogHandler{Catalog: catalogSvc, Store: flag, Validate: validate, Log: log}
	ch.Register(router, authn)

	if cfg.StoreDriver == "memory" {
		for _, u := range []struct {
			id   string
			role orders.Role
		}{{"demo-customer", orders.RoleCustomer}, {"demo-admin", orders.RoleAdmin}} {
			if tok, err := tokens.Issue(u.id, u.role); err == nil {
				log.Info("demo token", "user_id", u.id, "role", u.role, "token", tok)
			}
		}
	}

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // stop accepting, flush buffered events
	prod.WaitClosed() // drain
	cancel()
}

func demoStore() *memstore.Store {
	s := memstore.New()
	s.AddCustomer(orders.Customer{ID: "demo-customer", Name: "Demo Customer", Email: "customer@example.com", Role: orders.RoleCustomer})
	s.AddCustomer(orders.Customer{ID: "demo-admin", Name: "Demo Admin", Email: "admin@example.com", Role: orders.RoleAdmin})
	for _, p := range []inventory.Product{
		{ID: "milk-1l", Name: "Toned Milk 1L", Price: decimal.RequireFromString("62.50"), Stock: 40},
		{ID: "atta-5kg", Name: "Whole Wheat Atta 5kg", Price: decimal.RequireFromString("245"), Stock: 15},
		{ID: "eggs-12", Name: "Eggs (12)", Price: decimal.RequireFromString("84"), Stock: 30},
		{ID: "rice-5kg", Name: "Basmati Rice 5kg", Price: decimal.RequireFromString("650"), Stock: 8},
	} {
		s.AddProduct(p)
	}
	return s
}
