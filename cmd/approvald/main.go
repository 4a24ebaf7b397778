package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/vantagetrading/approvald/internal/audit"
	"github.com/vantagetrading/approvald/internal/bus"
	"github.com/vantagetrading/approvald/internal/cache"
	"github.com/vantagetrading/approvald/internal/config"
	"github.com/vantagetrading/approvald/internal/envstate"
	"github.com/vantagetrading/approvald/internal/gate"
	"github.com/vantagetrading/approvald/internal/gateway"
	"github.com/vantagetrading/approvald/internal/httpserver"
	"github.com/vantagetrading/approvald/internal/metrics"
	"github.com/vantagetrading/approvald/internal/policy"
	"github.com/vantagetrading/approvald/internal/rbac"
	"github.com/vantagetrading/approvald/internal/store"
	"github.com/vantagetrading/approvald/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store init: %v", err)
	}
	defer closeStore()

	verifier, err := buildVerifier(cfg)
	if err != nil {
		log.Fatalf("verifier init: %v", err)
	}

	var archiver audit.Archiver = audit.NopArchiver{}
	if cfg.AuditBucket != "" {
		s3a, err := audit.NewS3Archiver(ctx, cfg.AuditBucket, cfg.AuditPrefix)
		if err != nil {
			log.Fatalf("archiver init: %v", err)
		}
		archiver = s3a
	}

	var pub gateway.Publisher
	var producer *bus.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = bus.NewProducer(bus.ProducerConfig{Brokers: cfg.KafkaBrokers})
		if err != nil {
			log.Fatalf("producer init: %v", err)
		}
		defer producer.Close()
		pub = producer
	}

	policies := policy.NewStore()
	env := envstate.NewTracker(0)
	validator := rbac.NewValidator(verifier, cfg.VerifyTimeout)

	gw := gateway.New(gateway.Options{
		Policies:  policies,
		Env:       env,
		Gates:     gate.NewChain(validator, env, cfg.BoundsWindow),
		Cache:     cache.New(cfg.IdempotencyTTL),
		Store:     st,
		Archiver:  archiver,
		Metrics:   metrics.NewRegistry(),
		Pub:       pub,
		Retention: cfg.Retention,
	})

	go func() {
		sw := sweeper.New(gw, sweeper.Config{
			Interval:        cfg.SweepInterval,
			MetricsInterval: cfg.MetricsInterval,
		})
		if err := sw.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("sweeper exited: %v", err)
		}
	}()

	if len(cfg.KafkaBrokers) > 0 {
		consumer := bus.NewConsumer(bus.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
		}, gw)
		go func() {
			if err := consumer.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("consumer exited: %v", err)
			}
		}()
	}

	server := httpserver.New(gw, st)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}
	go func() {
		log.Printf("approvald listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Printf("no database configured, using in-memory decision log")
		return store.NewMemoryStore(), func() {}, nil
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store.NewPGStore(db), func() { db.Close() }, nil
}

func buildVerifier(cfg config.Config) (rbac.Verifier, error) {
	if cfg.VerifierKeyB64 != "" {
		raw, err := base64.StdEncoding.DecodeString(cfg.VerifierKeyB64)
		if err != nil {
			return nil, err
		}
		return rbac.NewEd25519Verifier(raw)
	}
	log.Printf("WARNING: static signature verifier enabled; not for production")
	return rbac.StaticVerifier{}, nil
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
