// Package app assembles the checkout engine from configuration. The API binary and
// the standalone sweeper share it so both see the same ledger and hold store.
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptrace/bun"

	"ms-checkout/internal/categories"
	catdb "ms-checkout/internal/categories/db"
	"ms-checkout/internal/clock"
	"ms-checkout/internal/config"
	"ms-checkout/internal/database"
	"ms-checkout/internal/database/migrations"
	"ms-checkout/internal/holds"
	"ms-checkout/internal/holds/dbstore"
	"ms-checkout/internal/holds/redisstore"
	"ms-checkout/internal/inventory"
	invdb "ms-checkout/internal/inventory/db"
	"ms-checkout/internal/kafka"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/metrics"
	"ms-checkout/internal/order"
	orderdb "ms-checkout/internal/order/db"
	"ms-checkout/internal/sse"
	ticketdb "ms-checkout/internal/tickets/db"
	"ms-checkout/internal/tickets/qr"
	tickets "ms-checkout/internal/tickets/service"
)

type App struct {
	Config *config.Config
	Log    *logger.Logger
	Clock  clock.Clock

	DB        *bun.DB
	Redis     *redis.Client
	Producer  *kafka.Producer
	Publisher *kafka.Publisher

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Emitter  *sse.AvailabilityEmitter

	Ledger  *invdb.Ledger
	Mapper  *categories.Mapper
	Holds   *holds.Manager
	Orders  *order.OrderService
	Tickets *tickets.TicketService
}

// New connects every backing store and wires the services. Close releases them.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Clock: clock.NewSystem()}

	db, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a.DB = db

	if cfg.Database.AutoMigrate {
		if err := a.migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	var store holds.Store
	switch cfg.Holds.Store {
	case "redis":
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connection error: %w", err)
		}
		log.Info("REDIS", fmt.Sprintf("Connected to %s (DB: %d)", cfg.Redis.Addr, cfg.Redis.DB))
		log.Warn("HOLD", "Redis hold store commits before the database; the sweep reclaims units of holds lost in between")
		store = redisstore.New(a.Redis, cfg.Holds.AuditTail)
	case "db", "":
		store = dbstore.New(db)
	default:
		a.Close()
		return nil, fmt.Errorf("unsupported hold store %q", cfg.Holds.Store)
	}

	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		a.Producer = kafka.NewProducer(cfg.Kafka.Brokers)
		a.Publisher = kafka.NewPublisher(a.Producer, cfg.Kafka.Topics, log)
		log.Info("KAFKA", fmt.Sprintf("Producer ready for %v", cfg.Kafka.Brokers))
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)
	a.Emitter = sse.NewAvailabilityEmitter()

	notifiers := []inventory.Notifier{a.Emitter, a.Metrics}
	if a.Publisher != nil {
		notifiers = append(notifiers, a.Publisher)
	}
	a.Ledger = invdb.NewLedger(db, a.Clock, log, inventory.Fanout(notifiers...))

	categoryStore := &catdb.DB{Bun: db}
	a.Mapper = categories.NewMapper(categoryStore, a.Clock, log)

	a.Holds = holds.NewManager(db, store, a.Ledger, categoryStore, a.Mapper, a.Clock, log,
		holds.WithTTL(cfg.Holds.DefaultTTL, cfg.Holds.MaxTTL),
		holds.WithAuditTail(cfg.Holds.AuditTail),
		holds.WithSweepBatch(cfg.Holds.SweepBatch),
		holds.WithObserver(a.Metrics),
	)

	if cfg.Tickets.SigningSecret == "" {
		log.Warn("CONFIG", "TICKET_SIGNING_SECRET not set, ticket signatures use an empty key")
	}
	a.Tickets = tickets.NewTicketService(db, &ticketdb.DB{Bun: db},
		qr.NewQRGenerator(cfg.Tickets.SigningSecret, cfg.Tickets.QRSize), a.Clock, log)
	a.Tickets.SetObserver(a.Metrics)

	opts := []order.Option{order.WithObserver(a.Metrics)}
	if a.Publisher != nil {
		opts = append(opts, order.WithPublisher(a.Publisher))
	}
	if cfg.Stripe.SecretKey != "" {
		opts = append(opts, order.WithRefunder(order.NewStripeRefunder(cfg.Stripe.SecretKey, log)))
	} else {
		log.Warn("CONFIG", "STRIPE_SECRET_KEY not set, refunds are recorded without a gateway call")
	}
	a.Orders = order.NewOrderService(db, &orderdb.DB{Bun: db}, a.Holds, a.Tickets, a.Ledger, a.Clock, log, opts...)

	return a, nil
}

func (a *App) migrate(ctx context.Context) error {
	if a.Config.Database.Driver == "sqlite" {
		if err := database.CreateSchema(ctx, a.DB); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		a.Log.Info("DATABASE", "Schema created")
		return nil
	}
	runner := migrations.NewRunner(a.DB, a.Log)
	if err := runner.MigrateUp(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Consumers subscribes the payment signal and chart topics. Nil when Kafka is off.
func (a *App) Consumers() []*Subscription {
	if !a.Config.Kafka.Enabled {
		return nil
	}
	k := a.Config.Kafka
	return []*Subscription{
		{
			Consumer: kafka.NewConsumer(k.Brokers, k.Topics.PaymentSignals, k.GroupID, a.Log),
			Handler:  kafka.PaymentSignalHandler(a.Orders, a.Log),
		},
		{
			Consumer: kafka.NewConsumer(k.Brokers, k.Topics.ChartPublished, k.GroupID, a.Log),
			Handler:  kafka.ChartPublishedHandler(a.Mapper, a.Log),
		},
	}
}

// Subscription pairs a topic consumer with its handler.
type Subscription struct {
	Consumer *kafka.Consumer
	Handler  kafka.Handler
}

func (a *App) Close() {
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			a.Log.Error("KAFKA", fmt.Sprintf("Failed to close producer: %v", err))
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
