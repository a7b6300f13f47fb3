package app

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/peakmsg/inapp-engine/internal/bootstrap"
	"github.com/peakmsg/inapp-engine/internal/config"
	"github.com/peakmsg/inapp-engine/internal/server"
	"github.com/peakmsg/inapp-engine/pkg/api"
	"github.com/peakmsg/inapp-engine/pkg/cache"
	"github.com/peakmsg/inapp-engine/pkg/dispatch"
	"github.com/peakmsg/inapp-engine/pkg/engine"
	"github.com/sirupsen/logrus"
)

// platformID identifies this client platform to the backend.
const platformID = 3

// App holds all application dependencies and manages the lifecycle.
type App struct {
	cfg               *config.Config
	engine            *engine.Engine
	metricsServer     *server.MetricsServer
	redisClient       *redis.Client
	shutdownTelemetry func(context.Context) error
}

// New creates and initializes an application instance. Components are
// initialized in dependency order: redis, backend config fetch (with
// the rollout gate), delivery policy, pipeline, metrics server,
// telemetry. A config failure here is terminal for the engine but
// must not crash a host embedding this package: New returns an error
// and the caller decides.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logrus.Info("initializing application...")

	a := &App{cfg: cfg}

	if err := a.initRedis(ctx); err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}

	client := api.NewClient(api.ClientConfig{
		ConfigURL:       cfg.ConfigURL,
		AppID:           cfg.AppID,
		AppVersion:      cfg.AppVersion,
		SDKVersion:      cfg.SDKVersion,
		Locale:          cfg.Locale,
		SubscriptionKey: cfg.SubscriptionKey,
	})

	backendCfg, err := client.FetchConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch backend config: %w", err)
	}
	if !rolledIn(backendCfg.RolloutPercentage) {
		return nil, fmt.Errorf("instance not in rollout (%d%%), engine disabled", backendCfg.RolloutPercentage)
	}
	client.SetEndpoints(backendCfg.Endpoints)
	logrus.Infof("backend config loaded (rollout %d%%)", backendCfg.RolloutPercentage)

	delivery, err := engine.LoadDeliveryConfig(cfg.DeliveryConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery config from %s: %w", cfg.DeliveryConfigPath, err)
	}
	logrus.Infof("loaded delivery configuration from %s", cfg.DeliveryConfigPath)

	campaignCache := cache.New(cache.NewRedisStore(a.redisClient))

	a.engine = bootstrap.InitEngine(client, campaignCache, dispatch.LogPresenter{}, delivery, bootstrap.Metadata{
		AppVersion: cfg.AppVersion,
		SDKVersion: cfg.SDKVersion,
		Locale:     cfg.Locale,
		Platform:   platformID,
	})

	a.metricsServer = server.NewMetricsServer(cfg.MetricsPort, "/metrics")
	if err := a.metricsServer.Setup(); err != nil {
		return nil, fmt.Errorf("failed to setup metrics server: %w", err)
	}

	if cfg.OtelEnabled {
		shutdownTelemetry, err := server.SetupTelemetry(ctx, cfg.ServiceName, cfg.Environment, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to setup telemetry: %w", err)
		}
		a.shutdownTelemetry = shutdownTelemetry
	}

	logrus.Info("application initialized successfully")
	return a, nil
}

// Engine exposes the messaging engine to embedders.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// initRedis connects the campaign cache store, retrying with
// exponential backoff.
func (a *App) initRedis(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:         a.cfg.RedisHost + ":" + a.cfg.RedisPort,
		Password:     a.cfg.RedisPassword,
		DB:           0, // use default DB
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	b := backoff.NewExponentialBackOff()
	maxRetries := backoff.WithMaxRetries(b, 5)

	err := backoff.Retry(
		func() error {
			_, err := client.Ping(ctx).Result()
			if err != nil {
				logrus.Warnf("redis connection failed: %v, retrying...", err)
				return err
			}
			return nil
		},
		maxRetries,
	)
	if err != nil {
		return err
	}

	a.redisClient = client
	logrus.Info("redis client initialized")
	return nil
}

// rolledIn rolls this instance against the rollout percentage.
func rolledIn(percentage int) bool {
	if percentage >= 100 {
		return true
	}
	if percentage <= 0 {
		return false
	}
	return rand.Intn(100) < percentage
}
