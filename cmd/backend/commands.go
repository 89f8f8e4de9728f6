package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"file-portal/internal/auth"
	"file-portal/internal/blob"
	"file-portal/internal/config"
	"file-portal/internal/db"
	"file-portal/internal/links"
	"file-portal/internal/logging"
	"file-portal/internal/ratelimit"
	"file-portal/internal/server"
	"file-portal/internal/store"
	"file-portal/internal/sweep"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "portal",
		Short:         "Self-hosted file portal with expiring share links.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newHashPasswordCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Init(cfg.Log)
			conn, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			return conn.Close()
		},
	}
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for PORTAL_AUTH_BCRYPT_HASH.",
		Long:  "Print a bcrypt hash for PORTAL_AUTH_BCRYPT_HASH. Without an argument the password is read from the first line of stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && err != io.EOF {
					return err
				}
				password = strings.TrimRight(line, "\r\n")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}

// openDatabase connects and brings the schema up to date.
func openDatabase(cfg config.Config) (*sql.DB, error) {
	conn, err := db.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	logging.Info("running_migrations", map[string]any{"driver": string(cfg.DBDriver)})
	if err := db.RunMigrations(conn, cfg.DBDriver); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

func openBlobStore(ctx context.Context, cfg config.Config) (blob.Store, error) {
	if cfg.Storage == "minio" {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return blob.NewMinIO(ctx, cfg.S3)
	}
	return blob.NewDisk(cfg.UploadDir)
}

// newLimiter builds one named limiter on the configured backend.
func newLimiter(cfg config.Config, client redis.UniversalClient, name string, l config.Limit) ratelimit.Limiter {
	if cfg.RateLimitBackend == "redis" && client != nil {
		return ratelimit.NewRedis(client, name, l.Max, l.Window)
	}
	return ratelimit.NewMemory(l.Max, l.Window)
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(cfg.Log)

	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	authn, err := auth.New(cfg.AuthModeValue(), auth.Options{
		SessionSecret: cfg.SessionSecret,
		SessionTTL:    cfg.SessionTTL,
		SecureCookie:  strings.HasPrefix(cfg.BaseURL, "https://"),
	})
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if !authn.Enabled() {
		logging.Warn("auth_disabled", map[string]any{"hint": "management API is open to anyone who can reach it"})
	}

	var rdb redis.UniversalClient
	if cfg.RateLimitBackend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logging.Warn("redis_unreachable", map[string]any{"addr": cfg.Redis.Addr, "error": err.Error()})
		}
		cancel()
	}

	st := store.New(conn, cfg.DBDriver, blobs)
	srv := server.New(server.Config{
		Addr:             cfg.Addr,
		BaseURL:          cfg.BaseURL,
		TrustProxy:       cfg.TrustProxy,
		MaxUploadBytes:   cfg.MaxUploadBytes,
		MaxCommentLength: cfg.MaxCommentLength,
	}, server.Deps{
		Store:           st,
		Blobs:           blobs,
		Issuer:          links.NewIssuer(nil),
		Resolver:        links.NewResolver(st, cfg.LinkTTL, nil),
		Auth:            authn,
		APILimiter:      newLimiter(cfg, rdb, "api", cfg.RateLimit),
		DownloadLimiter: newLimiter(cfg, rdb, "download", cfg.DownloadRateLimit),
		LoginLimiter:    newLimiter(cfg, rdb, "login", cfg.LoginRateLimit),
	})

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	sw := sweep.New(sweep.Config{
		Enabled:   cfg.Sweep.Enabled,
		Schedule:  cfg.Sweep.Schedule,
		LinkTTL:   cfg.LinkTTL,
		Retention: cfg.Sweep.Retention,
	}, st)
	if err := sw.Start(sweepCtx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting", map[string]any{
			"addr":     cfg.Addr,
			"driver":   string(cfg.DBDriver),
			"storage":  cfg.Storage,
			"link_ttl": cfg.LinkTTL.String(),
		})
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logging.Info("shutting_down", map[string]any{"signal": sig.String()})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logging.Info("shutdown_complete", nil)
		return nil
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
}
