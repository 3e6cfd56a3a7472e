package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/audit"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/auth"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/config"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/httpapi"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/obs"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/policyfile"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (overrides "+config.PathEnvVar+")")
	flag.Parse()
	if *configPath != "" {
		_ = os.Setenv(config.PathEnvVar, *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("load config")
	}
	if err := obs.InitLogger(obs.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		obs.Logger().Fatal().Err(err).Msg("init logger")
	}
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("api stopped")
	}
}

func run(cfg *config.Config, log *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accessTTL, err := cfg.Auth.AccessTTL()
	if err != nil {
		return err
	}
	codec, err := auth.NewTokenCodec(auth.TokenConfig{Secret: cfg.Auth.JWTSecret, AccessTTL: accessTTL})
	if err != nil {
		return err
	}

	var store *pg.Store
	if cfg.Database.DSN != "" {
		store, err = pg.Open(cfg.Database.DSN, pg.PoolConfig{
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			return err
		}
		defer store.Close()
	}

	var (
		source   auth.PermissionSource
		policies *policyfile.Source
	)
	switch cfg.Authz.Source {
	case config.SourceCasbin:
		policies, err = policyfile.New(policyfile.Config{ModelPath: cfg.Authz.ModelPath, PolicyPath: cfg.Authz.PolicyPath})
		if err != nil {
			return err
		}
		source = policies
	default:
		if store == nil {
			return errors.New("authz.source postgres needs database.dsn")
		}
		source = store
	}

	resolver, err := auth.NewResolver(source,
		auth.WithCacheTTL(cfg.Authz.CacheTTL),
		auth.WithBreaker(cfg.Authz.BreakerFailures, cfg.Authz.BreakerTimeout),
	)
	if err != nil {
		return err
	}
	evaluator, err := auth.NewPolicyEvaluator(resolver)
	if err != nil {
		return err
	}

	var auditStore audit.Store = audit.NewLogStore(*log)
	if store != nil {
		auditStore = store
	}
	recorder, err := audit.NewAsyncRecorder(auditStore,
		audit.WithBufferSize(cfg.Audit.BufferSize),
		audit.WithWriteTimeout(cfg.Audit.WriteTimeout),
	)
	if err != nil {
		return err
	}

	guard, err := httpapi.NewGuard(httpapi.GuardConfig{
		Tokens:    codec,
		Resolver:  resolver,
		Evaluator: evaluator,
		Recorder:  recorder,
	})
	if err != nil {
		return err
	}

	trusted, err := httpapi.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}
	deps := httpapi.Deps{
		Guard:          guard,
		Resolver:       resolver,
		Recorder:       recorder,
		Cache:          resolver,
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustedProxies: trusted,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Version:        version,
	}
	if store != nil {
		deps.Ready = store
		deps.AuditLog = store
		if deps.Sessions, err = auth.NewService(store, codec); err != nil {
			return err
		}
		if deps.RBAC, err = auth.NewRBACService(store); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	if cfg.RateLimit.Enabled {
		deps.RateLimiter = httpapi.NewRateLimiter(httpapi.RateLimitConfig{
			PerSecond: cfg.RateLimit.PerSecond,
			Burst:     cfg.RateLimit.Burst,
			Capacity:  cfg.RateLimit.Capacity,
			TTL:       cfg.RateLimit.TTL,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			deps.RateLimiter.Run(ctx)
		}()
	}

	api, err := httpapi.New(deps)
	if err != nil {
		return err
	}

	if policies != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reloadOnHangup(ctx, policies, resolver, log)
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr(),
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Str("authz_source", cfg.Authz.Source).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
		var healthSrv *health.Server
		grpcSrv, healthSrv = httpapi.NewGRPCServer(guard, httpapi.DefaultGRPCPolicies())
		if store != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				httpapi.WatchReadiness(ctx, healthSrv, store, 10*time.Second)
			}()
		}
		go func() {
			log.Info().Str("addr", cfg.Server.GRPCAddr).Msg("grpc listening")
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- err
			}
		}()
		defer healthSrv.Shutdown()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errc:
		log.Error().Err(err).Msg("server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("audit queue not fully drained")
	}
	wg.Wait()
	log.Info().Msg("stopped")
	return nil
}

// reloadOnHangup re-reads the policy file on SIGHUP and drops cached grants.
func reloadOnHangup(ctx context.Context, src *policyfile.Source, cache *auth.Resolver, log *zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := src.Reload(); err != nil {
				log.Error().Err(err).Msg("policy reload failed")
				continue
			}
			cache.Purge()
			log.Info().Msg("policy reloaded")
		}
	}
}
