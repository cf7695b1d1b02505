package main

import (
	"context"
	"errors"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/example/arctica/internal/lens"
	"github.com/example/arctica/internal/notify"
	"github.com/example/arctica/internal/platform/analytics"
	"github.com/example/arctica/internal/platform/auth"
	"github.com/example/arctica/internal/platform/config"
	"github.com/example/arctica/internal/platform/httpserver"
	"github.com/example/arctica/internal/platform/logging"
	"github.com/example/arctica/internal/platform/metrics"
	"github.com/example/arctica/internal/platform/natsconn"
	"github.com/example/arctica/internal/platform/run"
	"github.com/example/arctica/internal/session"
	gwconfig "github.com/example/arctica/services/gateway/internal/config"
	"github.com/example/arctica/services/gateway/internal/handlers"
	gatewayhttp "github.com/example/arctica/services/gateway/internal/http"
	"github.com/example/arctica/services/gateway/internal/scope"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.NewService(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	gwCfg, err := gwconfig.LoadGateway()
	if err != nil {
		log.Error("load gateway config", zap.Error(err))
		run.Exit(1)
	}

	reg := metrics.New()

	endpoint := gwCfg.LensEndpoint
	if endpoint == "" {
		endpoint = lens.EndpointFor(cfg.Environment)
	}
	cb := lens.NewBreaker("lens-api", gwCfg.CBFailureThreshold, gwCfg.CBTimeout, log)
	client := lens.New(endpoint, lens.ClientConfig{
		Origin:         gwCfg.LensOrigin,
		UserAgent:      gwCfg.LensUserAgent,
		Timeout:        gwCfg.LensTimeout,
		MaxRetries:     gwCfg.MaxRetries,
		RetryBaseDelay: gwCfg.RetryBaseDelay,
	}, lens.WithCircuitBreaker(cb), lens.WithLogger(log.Named("lens")), lens.WithMetrics(reg))
	log.Info("protocol client ready", zap.String("endpoint", endpoint), zap.String("environment", cfg.Environment))

	// NATS is optional: without it analytics and cross-tab notices are no-ops.
	var nc *nats.Conn
	ap := analytics.New(nil, log)
	if natsconn.Enabled() {
		nc, err = natsconn.Connect(natsconn.Options{Name: cfg.ServiceName, Logger: log})
		if err != nil {
			log.Warn("nats unavailable, analytics disabled", zap.Error(err))
		} else {
			if js, err := nc.JetStream(); err != nil {
				log.Warn("jetstream unavailable, analytics disabled", zap.Error(err))
			} else {
				ap = analytics.New(js, log)
			}
		}
	}

	manager := session.NewManager(client, session.WithLogger(log.Named("session")))
	scopes := scope.NewRegistry(manager, scope.Config{
		IdleTTL:        gwCfg.ScopeIdleTTL,
		NoticeCapacity: gwCfg.NoticeCapacity,
	},
		scope.WithLogger(log.Named("scope")),
		scope.WithMetrics(reg),
		scope.WithNoticeSink(func(scopeID string) notify.Notifier {
			if n := notify.NewNATSNotifier(nc, scopeID, log); n != nil {
				return n
			}
			return nil
		}),
	)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		Logger: log,
		ReadyFunc: func() error {
			if cb.State() == gobreaker.StateOpen {
				return errors.New("protocol api circuit open")
			}
			return nil
		},
	})
	r.Handle("/metrics", reg.Handler())
	handlers.Routes(r, handlers.Deps{
		Registry:  scopes,
		Verifier:  auth.JWTVerifier{Secret: gwCfg.Secret},
		Issuer:    auth.Issuer{Secret: gwCfg.Secret, TTL: gwCfg.ScopeTTL},
		Analytics: ap,
		Limiter:   gatewayhttp.NewRateLimiter(gwCfg.RateLimit, gwCfg.RateBurst),
	})

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		go scopes.Run(ctx, gwCfg.ReapInterval)
		return srv.Start(log)
	})

	runner.Graceful("http", srv.Shutdown)
	scopes.CloseAll()
	if nc != nil {
		runner.Graceful("nats", func(context.Context) error { return nc.Drain() })
	}

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}
