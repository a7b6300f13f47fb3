package bootstrap

import (
	"time"

	"github.com/peakmsg/inapp-engine/pkg/api"
	"github.com/peakmsg/inapp-engine/pkg/cache"
	"github.com/peakmsg/inapp-engine/pkg/dispatch"
	"github.com/peakmsg/inapp-engine/pkg/engine"
	"github.com/peakmsg/inapp-engine/pkg/match"
	"github.com/peakmsg/inapp-engine/pkg/poll"
	"github.com/peakmsg/inapp-engine/pkg/report"
	"github.com/peakmsg/inapp-engine/pkg/validate"
	"github.com/sirupsen/logrus"
)

// Metadata carries the static request fields shared by the dispatcher,
// poller and reporter.
type Metadata struct {
	AppVersion string
	SDKVersion string
	Locale     string
	Platform   int
}

// InitEngine wires the pipeline in dependency order, leaves first:
// matcher over the cache, validator over both, reporter, dispatcher,
// tooltip dispatcher, trigger agent, poller, and finally the engine
// that coordinates them. The returned engine still needs Start().
func InitEngine(
	client *api.Client,
	campaignCache *cache.CampaignCache,
	presenter dispatch.Presenter,
	delivery *engine.DeliveryConfig,
	meta Metadata,
) *engine.Engine {
	matcher := match.NewEventMatcher(campaignCache)
	validator := validate.New(campaignCache, matcher)

	// The engine is created empty first so the late-bound callbacks
	// (user identifiers, revalidation) can close over it.
	var eng *engine.Engine

	reporter := report.NewReporter(client, meta.AppVersion, meta.SDKVersion, func() []api.UserIdentifier {
		return eng.UserIdentifiers()
	})

	permissionReq := func(campaignID string) api.DisplayPermissionRequest {
		return api.DisplayPermissionRequest{
			CampaignID:             campaignID,
			UserIdentifiers:        eng.UserIdentifiers(),
			Platform:               meta.Platform,
			AppVersion:             meta.AppVersion,
			SDKVersion:             meta.SDKVersion,
			Locale:                 meta.Locale,
			LastPingInMilliseconds: campaignCache.LastSyncMillis(),
		}
	}

	var poller *poll.Poller
	dispatcher := dispatch.NewDispatcher(
		client,
		campaignCache,
		reporter,
		presenter,
		permissionReq,
		func() { poller.PingNow() },
		dispatch.Options{
			MaxPermissionRetries: delivery.Dispatcher.MaxPermissionRetries,
			PermissionRetryBase:  time.Duration(delivery.Dispatcher.PermissionRetryBaseSecs) * time.Second,
			PermissionRetryCap:   time.Duration(delivery.Dispatcher.PermissionRetryCapSecs) * time.Second,
		},
	)

	var tooltips *dispatch.TooltipDispatcher
	if delivery.TooltipsEnabled {
		tooltips = dispatch.NewTooltipDispatcher(dispatcher)
	}
	agent := dispatch.NewTriggerAgent(dispatcher, tooltips)

	pingRequest := func() api.PingRequest {
		return api.PingRequest{
			UserIdentifiers:        eng.UserIdentifiers(),
			AppVersion:             meta.AppVersion,
			SupportedCampaignTypes: delivery.SupportedCampaignTypes,
		}
	}
	poller = poll.NewPoller(client, campaignCache, pingRequest, func() { eng.Revalidate() }, poll.Options{
		InitialDelay:     time.Duration(delivery.Polling.InitialDelaySecs) * time.Second,
		ErrorBackoffBase: time.Duration(delivery.Polling.ErrorBackoffBaseSecs) * time.Second,
		ErrorBackoffCap:  time.Duration(delivery.Polling.ErrorBackoffCapSecs) * time.Second,
		JitterWindow:     time.Duration(delivery.Polling.JitterWindowSecs) * time.Second,
		ThrottleWindow:   time.Duration(delivery.Polling.ThrottleWindowSecs) * time.Second,
	})

	eng = engine.New(engine.Deps{
		Cache:      campaignCache,
		Matcher:    matcher,
		Validator:  validator,
		Agent:      agent,
		Dispatcher: dispatcher,
		Tooltips:   tooltips,
		Poller:     poller,
	})

	logrus.Infof("pipeline initialized (tooltips enabled: %v, supported types: %v)",
		delivery.TooltipsEnabled, delivery.SupportedCampaignTypes)
	return eng
}
