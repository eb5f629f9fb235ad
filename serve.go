package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard/api"
	"taskboard/config"
	"taskboard/storage"
)

// localIssuer is the iss claim of tokens minted with the shared secret.
const localIssuer = "taskboard"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the task API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateServer(); err != nil {
			return err
		}
		logger := log.StandardLogger()

		svc, cleanup, err := buildServices(cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		e := api.NewServer(svc)
		listenAddr := ":" + cfg.Port

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errc := make(chan error, 1)
		go func() {
			logger.WithFields(log.Fields{"addr": listenAddr, "storage": cfg.StorageBackend}).Info("server starting")
			errc <- e.Start(listenAddr)
		}()

		select {
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("server shutting down")
		return e.Shutdown(shutdownCtx)
	},
}

var initStorageCmd = &cobra.Command{
	Use:   "init-storage",
	Short: "Create the tables and queue used by the azure backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.StorageConnectionString == "" {
			return errors.New("missing STORAGE_CONNECTION_STRING")
		}
		log.Info("storage init starting")
		err := storage.Provision(cmd.Context(), cfg.StorageConnectionString,
			[]string{cfg.TasksTable, cfg.UsersTable},
			[]string{cfg.EventsQueue})
		if err != nil {
			return fmt.Errorf("provision storage: %w", err)
		}
		log.Info("storage init complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, initStorageCmd)
}

// buildServices wires storage, cache, auth and event delivery from cfg. The
// returned cleanup flushes pending events and closes connections.
func buildServices(cfg *config.Config, logger *log.Logger) (api.Services, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (api.Services, func(), error) {
		cleanup()
		return api.Services{}, nil, err
	}

	var (
		store     api.Storage
		publisher api.EventPublisher = api.LogPublisher{Logger: logger}
	)
	switch cfg.StorageBackend {
	case config.BackendAzure:
		tables, err := storage.NewTables(cfg.StorageConnectionString, cfg.TasksTable, cfg.UsersTable)
		if err != nil {
			return fail(fmt.Errorf("storage: %w", err))
		}
		store = tables
		if cfg.EventsQueue != "" {
			q, err := storage.NewEventQueue(cfg.StorageConnectionString, cfg.EventsQueue)
			if err != nil {
				return fail(fmt.Errorf("events queue: %w", err))
			}
			publisher = q
		}
	default:
		db, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("storage: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		store = db
	}

	svc := api.Services{Logger: logger}
	if cfg.RedisConnectionString != "" {
		opts, err := config.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			return fail(fmt.Errorf("redis: %w", err))
		}
		rc := redis.NewClient(opts)
		closers = append(closers, func() { _ = rc.Close() })
		store = storage.NewCache(store, rc, cfg.CacheTTL)
		svc.Deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}
	svc.Store = store

	if cfg.SharedSecret != "" {
		auth := api.NewSharedSecretAuth([]byte(cfg.SharedSecret), cfg.Auth0Audience, localIssuer, cfg.TokenTTL)
		svc.Auth = auth
		svc.Tokens = auth
	} else {
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			return fail(fmt.Errorf("jwks: %w", err))
		}
		closers = append(closers, jwks.EndBackground)
		svc.Auth = api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/")
	}

	sender := api.NewEventSender(publisher, logger, api.SenderConfig{})
	closers = append(closers, sender.Close)
	svc.Events = sender

	return svc, cleanup, nil
}
