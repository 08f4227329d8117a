// agent-passportd runs the agent registry service: passport issuance and
// lookup, revocation, job outcome recording and SLA checks, over a
// memory, Mongo or file-backed store.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parlakisik/agent-passport/identity"
	"github.com/parlakisik/agent-passport/internal/config"
	"github.com/parlakisik/agent-passport/internal/httpapi"
	"github.com/parlakisik/agent-passport/internal/service"
	"github.com/parlakisik/agent-passport/registry"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	setupLogger(cfg.Log)

	var st registry.Store
	var mongoClient *mongo.Client
	switch cfg.Store.Type {
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Store.MongoURI))
		if err != nil {
			log.Fatal(err)
		}
		mongoClient = c
		ms := registry.NewMongoStore(c, cfg.Store.MongoDatabase, cfg.Store.MongoCollection)
		if err := ms.EnsureIndexes(ctx); err != nil {
			slog.Warn("mongo index creation failed", "err", err)
		}
		st = ms
		slog.Info("store ready", "type", "mongo", "db", cfg.Store.MongoDatabase)
	case "file":
		fs, err := registry.NewFileStore(cfg.Store.FileDir)
		if err != nil {
			log.Fatal(err)
		}
		st = fs
		slog.Info("store ready", "type", "file", "dir", cfg.Store.FileDir)
	default:
		st = registry.NewMemoryStore()
		slog.Info("store ready", "type", "memory")
	}

	issuer := identity.NewPassportIssuer([]byte(cfg.Issuer.MasterSecret))
	svc := service.New(st, issuer)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpapi.NewRouter(svc),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	go func() {
		slog.Info("listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if mongoClient != nil {
		_ = mongoClient.Disconnect(shutdownCtx)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
