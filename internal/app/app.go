package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-orders/internal/dedup"
	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/domain/user"
	"github.com/xenking/kart-orders/internal/handler"
	"github.com/xenking/kart-orders/internal/jwtauth"
	"github.com/xenking/kart-orders/internal/kafka"
	"github.com/xenking/kart-orders/internal/notify"
	"github.com/xenking/kart-orders/internal/payment"
	"github.com/xenking/kart-orders/internal/storage/memory"
	"github.com/xenking/kart-orders/internal/storage/postgres"
	"github.com/xenking/kart-orders/pkg/health"
	"github.com/xenking/kart-orders/pkg/httpmiddleware"
)

type stores struct {
	products product.Repository
	users    user.Repository
	carts    cart.Repository
	orders   order.Repository
	pinger   health.Pinger
}

func openStores(ctx context.Context, cfg *Config) (*stores, func(), error) {
	if cfg.Storage == StorageMemory {
		st := memory.New()
		return &stores{
			products: st.Products(),
			users:    st.Users(),
			carts:    st.Carts(),
			orders:   st.Orders(),
			pinger:   st,
		}, func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "run migrations")
	}
	return &stores{
		products: postgres.NewProductRepository(pool),
		users:    postgres.NewUserRepository(pool),
		carts:    postgres.NewCartRepository(pool),
		orders:   postgres.NewOrderRepository(pool),
		pinger:   pool,
	}, pool.Close, nil
}

// actorKey rate limits authenticated callers per user and everyone else per IP.
func actorKey(r *http.Request) string {
	if a, ok := auth.ActorFrom(r.Context()); ok {
		return "user:" + a.UserID
	}
	return "ip:" + httpmiddleware.RemoteIP(r)
}

// Run creates all dependencies, starts the HTTP server and the payment event
// consumer, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
		zap.String("notifier", cfg.Notifier),
	)

	st, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	probes := health.New()
	probes.Register(health.Probe{
		Name:    cfg.Storage,
		Kind:    health.Readiness,
		Timeout: 5 * time.Second,
		Check:   health.PingCheck(st.pinger),
	})
	probes.Register(health.Probe{
		Name:  "goroutines",
		Kind:  health.Liveness,
		Check: health.GoroutineCheck(10000),
	})

	// Webhook deduplication.
	var guard dedup.Guard = dedup.NewMemory(dedup.DefaultTTL)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		guard = dedup.NewRedis(rdb, "kart-orders", dedup.DefaultTTL)
		probes.Register(health.Probe{
			Name:    "redis",
			Kind:    health.Readiness,
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
	}

	// Order notifications. The producer outlives the HTTP server so that
	// orders placed during the drain are still published.
	var sink notify.Sink = notify.LogSink{}
	switch cfg.Notifier {
	case NotifierKafka:
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.OrderTopic, cfg.Kafka.Buffer, lg.Named("producer"))
		producerCtx, stopProducer := context.WithCancel(context.WithoutCancel(ctx))
		producerDone := make(chan error, 1)
		go func() { producerDone <- producer.Run(producerCtx) }()
		defer func() {
			stopProducer()
			if err := <-producerDone; err != nil {
				lg.Error("Kafka producer close", zap.Error(err))
			}
		}()
		sink = notify.NewKafkaSink(producer)
	case NotifierAMQP:
		conn, err := amqp.Dial(cfg.AMQP.URL)
		if err != nil {
			return errors.Wrap(err, "dial amqp")
		}
		defer func() { _ = conn.Close() }()
		ch, err := conn.Channel()
		if err != nil {
			return errors.Wrap(err, "open amqp channel")
		}
		amqpSink, err := notify.NewAMQPSink(ch, cfg.AMQP.Queue)
		if err != nil {
			return err
		}
		sink = amqpSink
	}

	// Domain services.
	orderService, err := order.NewService(st.orders, notify.New(sink),
		order.WithTelemetry(m.MeterProvider(), m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	cartService := cart.NewService(st.products, st.carts)
	processor := payment.NewProcessor(orderService, guard)

	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:     cfg.RateLimit.Max,
		Window:  cfg.RateLimit.Window,
		KeyFunc: actorKey,
	})

	h := handler.NewHandler(
		handler.Config{
			WebhookSecret:        []byte(cfg.Webhook.Secret),
			DefaultShippingCost:  cfg.ShippingCost(),
			PlaceOrderMiddleware: []func(http.Handler) http.Handler{limiter.Middleware()},
		},
		st.products,
		st.users,
		cartService,
		orderService,
		processor,
		jwtauth.NewIssuer([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL),
	)

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.RealIP, httpmiddleware.LogRequests())
	router.Get("/livez", probes.LiveHandler)
	router.Get("/readyz", probes.ReadyHandler)
	router.Mount("/", h.Router())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(
			httpmiddleware.Wrap(router,
				httpmiddleware.InjectLogger(zctx.From(ctx)),
				httpmiddleware.Recovery(),
				httpmiddleware.CORS(httpmiddleware.CORSConfig{
					AllowOrigins:     cfg.CORS.AllowOrigins,
					AllowCredentials: cfg.CORS.AllowCredentials,
					MaxAge:           cfg.CORS.MaxAge,
				}),
			),
			"kart-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return probes.Run(gctx, 10*time.Second)
	})
	g.Go(func() error {
		return limiter.Run(gctx)
	})
	if len(cfg.Kafka.Brokers) > 0 {
		consumer := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topic:   cfg.Kafka.PaymentTopic,
			Workers: cfg.Kafka.Workers,
		}, lg.Named("consumer"))
		consumerLg := lg.Named("payments")
		g.Go(func() error {
			return consumer.Run(gctx, func(ctx context.Context, msg kafkago.Message) error {
				return processor.ProcessMessage(zctx.Base(ctx, consumerLg), msg.Value)
			})
		})
	}

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		probes.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	g.Go(func() error {
		probes.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
