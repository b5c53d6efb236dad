package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"invite-checkout/config"
	"invite-checkout/internal/api"
	"invite-checkout/internal/handlers"
	"invite-checkout/internal/notify"
	"invite-checkout/internal/payment"
	"invite-checkout/internal/referral"
	"invite-checkout/internal/widget"
	"invite-checkout/monitoring"
	"invite-checkout/security"
	"invite-checkout/services"
	"invite-checkout/utils"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve the checkout API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg))
		},
	}
	c.Flags().StringVar(&cfg.Port, "port", cfg.Port, "HTTP port")
	c.Flags().BoolVar(&cfg.EnableMetrics, "metrics", cfg.EnableMetrics, "expose prometheus metrics")
	return c
}

// newPurchaseClient builds the backend client. monitor may be nil, as it is
// for the one-shot commands.
func newPurchaseClient(cfg *config.Config, log logrus.FieldLogger, monitor *monitoring.Monitor) *api.Client {
	breaker := utils.NewCircuitBreaker("purchase-api",
		utils.WithMaxRequests(20),
		utils.WithTimeout(30*time.Second),
		utils.WithIsSuccessful(func(err error) bool {
			return err == nil || api.IsValidation(err)
		}),
		utils.WithStateChange(func(name string, from, to utils.State) {
			if monitor != nil {
				monitor.SetBreakerState(name, int(to))
			}
			log.WithFields(logrus.Fields{"breaker": name, "from": from, "to": to}).Warn("circuit breaker state changed")
		}),
	)

	opts := []api.Option{api.WithBreaker(breaker)}
	if monitor != nil {
		opts = append(opts, api.WithObserver(monitor))
	}
	return api.NewClient(api.ClientConfig{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.APITimeout,
	}, log, opts...)
}

func newPoller(cfg *config.Config, client services.StatusAPI, publisher notify.Publisher, metrics services.Metrics, log logrus.FieldLogger) *services.Poller {
	return services.NewPoller(client, publisher, services.PollerConfig{
		Interval:               cfg.PollInterval,
		MaxDuration:            cfg.PollMaxDuration,
		MaxConsecutiveFailures: cfg.PollMaxFailures,
	}, metrics, log)
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	redisClient, err := utils.NewRedisClient(ctx, utils.RedisOptions{
		URL:      cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	defer redisClient.Close()

	instance, err := utils.GenerateCode(4)
	if err != nil {
		return fmt.Errorf("instance id: %w", err)
	}

	monitor := monitoring.NewMonitor(redisClient, log)
	client := newPurchaseClient(cfg, log, monitor)
	publisher := notify.New(notify.PubNubConfig{
		PublishKey:   cfg.PubNubPublishKey,
		SubscribeKey: cfg.PubNubSubscribeKey,
		SecretKey:    cfg.PubNubSecretKey,
		UserID:       fmt.Sprintf("%s-%s", cfg.PubNubUserID, instance),
	}, log)

	piiKey := []byte(cfg.PIIKey)
	if len(piiKey) == 0 {
		key, err := utils.GenerateCode(32)
		if err != nil {
			return fmt.Errorf("pii key: %w", err)
		}
		piiKey = []byte(key)
		log.Warn("PII_KEY not set, phone fingerprints change on restart")
	}

	deps := services.Deps{
		Pricing: services.NewPricingEngine(services.PriceListFromConfig(cfg)),
		API:     client,
		Router: payment.NewDefaultRouter(client, payment.Config{
			NotificationURL: cfg.NotificationURL,
		}),
		Poller: newPoller(cfg, client, publisher, monitor, log),
		Widget: widget.Config{
			ScriptURL:       cfg.WidgetScriptURL,
			PublicKey:       cfg.WidgetPublicKey,
			Locale:          cfg.WidgetLocale,
			MaxInstallments: cfg.WidgetMaxInstallment,
			InitAttempts:    cfg.WidgetInitAttempts,
			InitDelay:       cfg.WidgetInitDelay,
		},
		Metrics: monitor,
		Log:     log,
		PIIKey:  piiKey,
	}
	registry := services.NewRegistry(func(id string, rc *referral.Context) *services.Session {
		return services.NewSession(id, deps, rc)
	}, cfg.SessionIdleTTL, monitor, log)

	e := newServer(registry, redisClient, cfg, log)

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		registry.Run(runCtx, cfg.CleanupInterval)
		return nil
	})

	g.Go(func() error {
		monitor.Run(runCtx, 30*time.Second)
		return nil
	})

	servers := []*http.Server{{Addr: ":" + cfg.Port, Handler: e}}
	if cfg.EnableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux})
	}

	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			log.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-runCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		log.Info("shutting down")
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutting down %s: %w", srv.Addr, err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func newServer(registry *services.Registry, redisClient *redis.Client, cfg *config.Config, log logrus.FieldLogger) *echo.Echo {
	limiter := security.NewRateLimiter(redisClient, cfg.RateLimitPerMinute, cfg.AntiBotPerMinute, log)

	e := echo.New()
	e.Use(middleware.Recover())

	h := handlers.NewCheckoutHandler(
		registry,
		referral.NewRedisStore(redisClient, cfg.ReferralTTL, log),
		func(ctx context.Context) error { return utils.RedisHealthCheck(ctx, redisClient) },
		log,
	)
	h.Register(e, limiter.AntiBotMiddleware(), limiter.ContactRateLimit())
	return e
}
