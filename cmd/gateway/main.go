package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"relay-gateway/config"
	"relay-gateway/internal/adapter/downstream"
	httpHandler "relay-gateway/internal/adapter/http/handler"
	"relay-gateway/internal/adapter/http/middleware"
	ftpIngress "relay-gateway/internal/adapter/ingress/ftp"
	imapIngress "relay-gateway/internal/adapter/ingress/imap"
	memStorage "relay-gateway/internal/adapter/storage/memory"
	pgStorage "relay-gateway/internal/adapter/storage/postgres"
	redisStorage "relay-gateway/internal/adapter/storage/redis"
	"relay-gateway/internal/core/ports"
	"relay-gateway/internal/observability"
	"relay-gateway/internal/service"
	"relay-gateway/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	hashPass := flag.Bool("hash-password", false, "read a password from stdin, print its ftp.password_hash value and exit")
	flag.Parse()

	if *hashPass {
		if err := hashPassword(os.Stdin, os.Stdout, service.NewArgon2HashService()); err != nil {
			fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Relay gateway stopped with error")
	}
	log.Info().Msg("Relay gateway exited")
}

// hashPassword reads one line from in and writes its Argon2id hash to out.
func hashPassword(in io.Reader, out io.Writer, hasher ports.HashService) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

// stores groups the persistence ports chosen by configuration.
type stores struct {
	clients   ports.ClientRepository
	attempts  ports.AttemptRepository
	segments  ports.SegmentStore
	rateLimit ports.RateLimitStore
	health    []ports.HealthChecker
	closers   []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	st := &stores{}

	switch cfg.Database.Driver {
	case "memory":
		log.Warn().Msg("Using in-memory storage; clients and attempts are lost on restart")
		st.clients = memStorage.NewClientStore()
		st.attempts = memStorage.NewAttemptStore()
	default:
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, pool.Close)
		if cfg.Database.AutoMigrate {
			if err := pgStorage.Migrate(ctx, pool); err != nil {
				st.close()
				return nil, err
			}
			log.Info().Msg("Database schema up to date")
		}
		st.clients = pgStorage.NewClientRepo(pool)
		st.attempts = pgStorage.NewAttemptRepo(pool)
		st.health = append(st.health, pgStorage.NewHealthCheck(pool))
	}

	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = rdb.Close() })
		st.segments = redisStorage.NewSegmentStore(rdb, cfg.Redis.SegmentTTL)
		st.rateLimit = redisStorage.NewRateLimitStore(rdb)
		st.health = append(st.health, redisStorage.NewHealthCheck(rdb))
	} else {
		st.segments = memStorage.NewSegmentStore(cfg.Redis.SegmentTTL)
		st.rateLimit = memStorage.NewRateLimitStore()
	}
	return st, nil
}

func dialDownstreams(cfg config.DownstreamConfig, metrics *observability.Metrics, log zerolog.Logger) (bridge, publisher *downstream.Client, err error) {
	metricsOpt, err := downstream.MetricsDialOption(metrics.Registerer())
	if err != nil {
		return nil, nil, err
	}
	secure := cfg.Secure()

	dial := func(name string, ep config.GRPCEndpoint) (*downstream.Client, error) {
		return downstream.Dial(downstream.Options{
			Name:        name,
			Target:      ep.Target(secure),
			Method:      ep.Method,
			Secure:      secure,
			CAFile:      ep.CAFile,
			DialOptions: []grpc.DialOption{metricsOpt},
		}, log)
	}

	if publisher, err = dial("publisher", cfg.Publisher); err != nil {
		return nil, nil, fmt.Errorf("publisher: %w", err)
	}
	if bridge, err = dial("bridge", cfg.Bridge); err != nil {
		_ = publisher.Close()
		return nil, nil, fmt.Errorf("bridge: %w", err)
	}
	return bridge, publisher, nil
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Database.Driver).
		Bool("imap", cfg.IMAP.Enabled).
		Bool("ftp", cfg.FTP.Enabled).
		Msg("Starting Relay Gateway")

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	metrics := observability.NewMetrics()

	bridge, publisher, err := dialDownstreams(cfg.Downstream, metrics, log)
	if err != nil {
		return err
	}
	defer bridge.Close()
	defer publisher.Close()
	st.health = append(st.health, downstream.NewHealthCheck(publisher), downstream.NewHealthCheck(bridge))

	ledger := service.NewLedgerService(st.attempts, cfg.Ledger.PendingTimeout, log)
	registry := service.NewRegistryService(st.clients, st.attempts, log)
	query := service.NewQueryService(registry, ledger, st.clients)

	var router ports.Router = service.NewRouterService(
		bridge,
		publisher,
		ledger,
		registry,
		service.NewNumberingPlan(),
		service.RouterOptions{
			DisableBridgeOverHTTP: cfg.Router.DisableBridgeOverHTTP,
			AttemptDeadline:       cfg.Router.AttemptDeadline,
		},
		metrics,
		log,
	)
	if cfg.Router.ImageText {
		router = service.NewSegmentAssembler(router, st.segments, metrics, log)
	}

	engine := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Query:          query,
		Router:         router,
		RateLimitStore: st.rateLimit,
		PublishLimit: middleware.RateLimitRule{
			Limit:  cfg.RateLimit.PublishLimit,
			Window: cfg.RateLimit.PublishWindow,
		},
		HealthCheckers: st.health,
		Metrics:        metrics,
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Mode:           cfg.Server.Mode,
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", addr).Bool("tls", cfg.Server.TLSEnabled()).Msg("HTTP server listening")
		var err error
		if cfg.Server.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server forced to shutdown")
		}
		return nil
	})

	sweeper := service.NewTimeoutSweeper(ledger, cfg.Ledger.SweepInterval, metrics, log)
	g.Go(func() error { return sweeper.Start(gctx) })

	if cfg.IMAP.Enabled {
		listener := imapIngress.NewListener(cfg.IMAP, imapIngress.DialTLS(cfg.IMAP), router, metrics, log)
		g.Go(func() error { return listener.Start(gctx) })
	}

	if cfg.FTP.Enabled {
		ftpServer, err := newFTPServer(cfg.FTP, router, metrics, log)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error { return ftpServer.Start(gctx) })
	}

	return g.Wait()
}

func newFTPServer(cfg config.FTPConfig, router ports.Router, metrics *observability.Metrics, log zerolog.Logger) (*ftpIngress.Server, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(cfg.Directory, 0o750); err != nil {
		return nil, fmt.Errorf("create ftp directory: %w", err)
	}
	verifier := service.NewCredentialVerifier(cfg.Username, cfg.Password, cfg.PasswordHash, service.NewArgon2HashService())
	return ftpIngress.NewServer(cfg, afero.NewBasePathFs(osFs, cfg.Directory), verifier, router, metrics, log)
}
