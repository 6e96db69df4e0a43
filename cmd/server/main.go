package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notes-server/internal/cache"
	"notes-server/internal/config"
	"notes-server/internal/handler"
	"notes-server/internal/logger"
	"notes-server/internal/repository"
	"notes-server/internal/service"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/rs/zerolog"
)

type store struct {
	notes  repository.NoteRepository
	users  repository.UserRepository
	health handler.HealthCheck
	close  func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Server.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if err := run(cfg, log, quit); err != nil {
		log.Error().Err(err).Msg("Server exited")
		os.Exit(1)
	}
}

// run owns every resource it opens, so its deferred closes run on each
// return path before main exits.
func run(cfg *config.Config, log zerolog.Logger, quit <-chan os.Signal) error {
	ctx := context.Background()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	defer closeLogged(log, "store", st.close)

	var noteOpts []service.NoteServiceOption
	if cfg.Redis.URL != "" {
		publicCache, err := cache.NewPublicNotes(ctx, cfg.Redis.URL, cfg.Redis.PublicCacheTTL, log)
		if err != nil {
			return fmt.Errorf("failed to connect public note cache: %w", err)
		}
		defer closeLogged(log, "public note cache", publicCache.Close)

		noteOpts = append(noteOpts, service.WithPublicCache(publicCache))
		log.Info().Dur("ttl", cfg.Redis.PublicCacheTTL).Msg("Public note cache enabled")
	}

	authService := service.NewAuthService(st.users, cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.RefreshTokenExpiration)
	userService := service.NewUserService(st.users)
	noteService := service.NewNoteService(st.notes, noteOpts...)

	r := handler.NewRouter(handler.RouterConfig{
		AuthService:       authService,
		UserService:       userService,
		NoteService:       noteService,
		ShareBaseURL:      cfg.Share.BaseURL,
		TrustProxyHeaders: cfg.Share.TrustProxyHeaders,
		CORS:              cfg.CORS,
		Health:            st.health,
		Log:               log,
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Server.Env).Str("driver", cfg.Store.Driver).Msg("Starting notes server")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("Server stopped gracefully")
	return nil
}

func closeLogged(log zerolog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Warn().Err(err).Str("resource", name).Msg("Close failed")
	}
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*store, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		conn, err := repository.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLite.Path).Msg("Opened SQLite database")

		return &store{
			notes:  repository.NewSQLiteNoteRepository(conn),
			users:  repository.NewSQLiteUserRepository(conn),
			health: conn.PingContext,
			close:  conn.Close,
		}, nil

	case config.DriverCouchDB:
		couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Host,
			cfg.Database.Port,
		)

		client, err := kivik.New("couch", couchURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
		}

		created, err := repository.EnsureCouchDB(ctx, client, cfg.Database.Name)
		if err != nil {
			client.Close()
			return nil, err
		}
		if created {
			log.Info().Str("db", cfg.Database.Name).Msg("Created database")
		}
		log.Info().Str("host", cfg.Database.Host).Str("port", cfg.Database.Port).Msg("Connected to CouchDB")

		return &store{
			notes:  repository.NewCouchDBNoteRepository(client, cfg.Database.Name),
			users:  repository.NewCouchDBUserRepository(client, cfg.Database.Name),
			health: couchHealth(client),
			close:  client.Close,
		}, nil
	}

	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func couchHealth(client *kivik.Client) handler.HealthCheck {
	return func(ctx context.Context) error {
		up, err := client.Ping(ctx)
		if err != nil {
			return err
		}
		if !up {
			return errors.New("couchdb is not responding")
		}
		return nil
	}
}
