//go:build integration
// +build integration

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/peakmsg/inapp-engine/pkg/cache"
	"github.com/peakmsg/inapp-engine/pkg/campaign"
	"github.com/sirupsen/logrus"
)

// Manual integration check for the redis-backed campaign store.
// Run with: go run -tags integration test_redis_integration.go
// Requires: redis running on localhost:6379

func main() {
	logrus.SetLevel(logrus.DebugLevel)
	logrus.Info("starting redis integration check...")

	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if _, err := client.Ping(ctx).Result(); err != nil {
		logrus.Fatalf("failed to connect to redis: %v", err)
	}
	defer client.Close()

	store := cache.NewRedisStore(client)
	userKey := fmt.Sprintf("integration-user-%d", time.Now().Unix())
	logrus.Infof("using user key: %s", userKey)

	campaigns := []*campaign.Campaign{
		campaign.New(campaign.Data{CampaignID: "it-1", MaxImpressions: 3}),
	}
	campaigns[0].ImpressionsLeft = 2
	campaigns[0].IsOptedOut = true

	if err := store.Save(ctx, userKey, campaigns); err != nil {
		logrus.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load(ctx, userKey)
	if err != nil {
		logrus.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ImpressionsLeft != 2 || !loaded[0].IsOptedOut {
		logrus.Fatalf("round-trip mismatch: %+v", loaded)
	}

	missing, err := store.Load(ctx, "no-such-user")
	if err != nil {
		logrus.Fatalf("load of missing key failed: %v", err)
	}
	if len(missing) != 0 {
		logrus.Fatalf("expected empty state for missing key, got %d campaigns", len(missing))
	}

	logrus.Info("redis integration check passed")
}
