package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/cartcheckout/internal/cache"
	"github.com/fjod/cartcheckout/internal/config"
	"github.com/fjod/cartcheckout/internal/consumer"
	"github.com/fjod/cartcheckout/internal/domain"
	h "github.com/fjod/cartcheckout/internal/http"
	"github.com/fjod/cartcheckout/internal/ledger"
	"github.com/fjod/cartcheckout/internal/payment"
	"github.com/fjod/cartcheckout/internal/publisher"
	"github.com/fjod/cartcheckout/internal/repository"
	"github.com/fjod/cartcheckout/internal/service"
	"github.com/fjod/cartcheckout/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// stores is the set of repositories the services run on.
type stores struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	orders   repository.OrderRepository
	coupons  repository.CouponRepository
	outbox   repository.OutboxRepository
	tx       repository.Transactor
	close    func(ctx context.Context) error
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	appLog := logger.New("cartcheckout", cfg.LogLevel)
	slog.SetDefault(appLog)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	log.Printf("Using %s store", cfg.StoreBackend)

	cartCache := cache.CartCache(cache.NoopCache{})
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Redis connection failed: %v", err)
		}
		cartCache = cache.NewRedisCache(redisClient)
		log.Printf("Redis cache at %s", cfg.RedisAddr)
	}

	gateway := payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, nil, appLog)

	carts := service.NewCartService(st.carts, st.products, service.NewCouponResolver(st.coupons), cartCache, appLog)
	checkout := service.NewCheckoutService(service.CheckoutDeps{
		Carts:    st.carts,
		Products: st.products,
		Orders:   st.orders,
		Outbox:   st.outbox,
		Tx:       st.tx,
		Gateway:  gateway,
		Cache:    cartCache,
	}, service.CheckoutConfig{
		Timeout:       cfg.Checkout.Timeout,
		MaxAttempts:   cfg.Checkout.MaxAttempts,
		BaseBackoff:   cfg.Checkout.BaseBackoff,
		TaxPrice:      cfg.Checkout.TaxPrice,
		ShippingPrice: cfg.Checkout.ShippingPrice,
		Currency:      cfg.Currency,
		SuccessURL:    cfg.PublicBaseURL + "/orders",
		CancelURL:     cfg.PublicBaseURL + "/cart",
	}, appLog)
	orders := service.NewOrderService(st.orders, st.outbox, st.tx, appLog)

	var wg sync.WaitGroup

	var sales h.SalesReader
	if cfg.Ledger.Enabled() {
		creds := &ledger.Credentials{
			Host:              cfg.Ledger.Host,
			Port:              cfg.Ledger.Port,
			User:              cfg.Ledger.User,
			Password:          cfg.Ledger.Password,
			DBName:            cfg.Ledger.DBName,
			MigrationsDirPath: cfg.Ledger.MigrationsDirPath,
		}
		ledgerRepo, err := ledger.NewRepository(creds)
		if err != nil {
			log.Fatalf("Failed to connect to ledger database: %v", err)
		}
		defer ledgerRepo.Close()
		if err := ledgerRepo.RunMigrations(creds); err != nil {
			log.Fatalf("Failed to run ledger migrations: %v", err)
		}
		log.Println("Ledger migrations completed")
		sales = ledgerRepo

		if len(cfg.KafkaBrokers) > 0 {
			ledgerConsumer := consumer.NewLedgerConsumer(ledgerRepo, appLog, cfg.KafkaTopic, cfg.KafkaGroupID, cfg.KafkaBrokers...)
			defer ledgerConsumer.Close()
			wg.Add(1)
			go func() {
				defer wg.Done()
				ledgerConsumer.Run(ctx)
			}()
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		poller := publisher.NewOutboxPoller(st.outbox, appLog, cfg.KafkaTopic, cfg.KafkaBrokers...)
		defer poller.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
		log.Printf("Publishing order events to %s on %v", cfg.KafkaTopic, cfg.KafkaBrokers)
	}

	router := h.NewRouter(h.RouterDeps{
		Carts:          carts,
		Checkout:       checkout,
		Orders:         orders,
		Sales:          sales,
		JWTSecret:      []byte(cfg.JWTSecret),
		RequestTimeout: cfg.RequestTimeout,
		MaxBodySize:    cfg.MaxRequestBodySize,
		Log:            appLog,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Cart & checkout service starting on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}
	wg.Wait()

	if err := st.close(shutdownCtx); err != nil {
		log.Printf("failed to close store: %v", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Printf("failed to shut down tracer provider: %v", err)
	}

	log.Println("server exited")
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreBackend == config.StoreMemory {
		mem := repository.NewMemoryStore()
		seedDemoCatalog(mem)
		return &stores{
			carts:    mem,
			products: mem,
			orders:   mem,
			coupons:  mem,
			outbox:   mem,
			tx:       mem,
			close:    func(context.Context) error { return mem.Close() },
		}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := repository.ConnectMongoDB(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	mongoStore := repository.NewMongoStore(db)
	if err := mongoStore.CreateIndexes(connectCtx); err != nil {
		_ = db.Client().Disconnect(ctx)
		return nil, err
	}
	log.Printf("Connected to MongoDB database %s", cfg.MongoDatabase)

	return &stores{
		carts:    mongoStore.Carts,
		products: mongoStore.Products,
		orders:   mongoStore.Orders,
		coupons:  mongoStore.Coupons,
		outbox:   mongoStore.Outbox,
		tx:       mongoStore.Tx,
		close:    db.Client().Disconnect,
	}, nil
}

// seedDemoCatalog fills an in-memory store so the API is usable without a
// database.
func seedDemoCatalog(mem *repository.MemoryStore) {
	mem.SetProduct(&domain.Product{ID: "mug", Name: "Coffee Mug", Price: 12.5, Quantity: 100})
	mem.SetProduct(&domain.Product{ID: "tee", Name: "T-Shirt", Price: 19.99, Quantity: 40, Variants: []domain.Variant{
		{Color: "black", Quantity: 25},
		{Color: "white", Quantity: 15},
	}})
	mem.SetProduct(&domain.Product{ID: "poster", Name: "Poster", Price: 7, Quantity: 3})
	mem.SetCoupon(&domain.Coupon{ID: "welcome", Name: "WELCOME10", Discount: 10, ExpireAt: time.Now().AddDate(1, 0, 0)})
}
