package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ticket-ledger/internal/api"
	"ticket-ledger/internal/batch"
	"ticket-ledger/internal/clock"
	"ticket-ledger/internal/config"
	"ticket-ledger/internal/database/migrations"
	"ticket-ledger/internal/identity"
	"ticket-ledger/internal/instance"
	"ticket-ledger/internal/kafka"
	"ticket-ledger/internal/logger"
	"ticket-ledger/internal/redemption"
	"ticket-ledger/internal/transfer"
)

const janitorInterval = 30 * time.Second

func openDatabase(cfg *config.Config, log *logger.Logger) *bun.DB {
	sqldb, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("failed to open postgres: %v", err))
	}
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("failed to connect to postgres: %v", err))
	}
	log.Info("DATABASE", "postgres connection successful")

	return bun.NewDB(sqldb, pgdialect.New())
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	bunDB := openDatabase(cfg, log)
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("migrations failed: %v", err))
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("failed to connect to redis at %s: %v", cfg.Redis.Addr, err))
	}
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers, log, cfg.Kafka.MockMode || !cfg.Kafka.Enabled)
	defer producer.Close()
	if cfg.Kafka.Enabled && !cfg.Kafka.MockMode {
		topics := []string{
			cfg.Kafka.Topics.BatchCreated,
			cfg.Kafka.Topics.TicketIssued,
			cfg.Kafka.Topics.TicketListed,
			cfg.Kafka.Topics.TicketTransferred,
			cfg.Kafka.Topics.TicketRedeemed,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("topic bootstrap failed: %v", err))
		}
	}

	clk := clock.NewSystem()

	batches := batch.NewService(
		&batch.DB{Bun: bunDB},
		batch.NewLease(redisClient),
		producer, cfg.Kafka.Topics.BatchCreated,
		clk, log, cfg.Auth.ReservationTTL,
	)
	instances := instance.NewService(
		&instance.DB{Bun: bunDB},
		clk, log,
		instance.FeePolicy{
			CommissionBps:  cfg.Settlement.CommissionBps,
			PlatformFeeBps: cfg.Settlement.PlatformFeeBps,
		},
	)
	settlement := transfer.NewPublishedSettlement(producer, cfg.Kafka.Topics.TicketTransferred, log)
	engine := transfer.NewEngine(batches, instances, settlement, producer, cfg.Kafka.Topics, log)
	validator := redemption.NewValidator(
		&redemption.DB{Bun: bunDB},
		instances,
		redemption.NewLock(redisClient),
		redemption.NewQRGenerator(cfg.Auth.QRSecret),
		producer, cfg.Kafka.Topics.TicketRedeemed,
		clk, log,
	)
	directory := &identity.DB{Bun: bunDB}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	batches.StartJanitor(ctx, janitorInterval)

	handler := &api.Handler{
		Batches:   batches,
		Instances: instances,
		Engine:    engine,
		Validator: validator,
		Directory: directory,
		Bun:       bunDB,
		Logger:    log,
	}

	r := chi.NewRouter()
	handler.Routes(r, identity.Middleware(directory, cfg.Auth.OIDCIssuer, cfg.Auth.JWTSecret))

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", "ticket ledger listening on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = server.Shutdown(ctxShutdown)
	log.Info("SERVER", "ticket ledger shutdown complete")
}
