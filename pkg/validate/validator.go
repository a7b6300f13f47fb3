package validate

import (
	"time"

	"github.com/peakmsg/inapp-engine/pkg/cache"
	"github.com/peakmsg/inapp-engine/pkg/campaign"
	"github.com/peakmsg/inapp-engine/pkg/event"
	"github.com/peakmsg/inapp-engine/pkg/match"
	"github.com/sirupsen/logrus"
)

// Result pairs a ready campaign with the events that satisfied its
// triggers, one per trigger in trigger order.
type Result struct {
	Campaign    *campaign.Campaign
	TriggeredBy []event.Event
}

// CampaignsValidator decides which campaigns are ready to display.
// It records incoming events into the matcher, then walks the cache
// snapshot in server order applying the eligibility gates; ready
// campaigns come back in that same order, which is the display
// priority.
type CampaignsValidator struct {
	cache   *cache.CampaignCache
	matcher *match.EventMatcher
}

// New creates a validator over the given cache and matcher.
func New(campaignCache *cache.CampaignCache, matcher *match.EventMatcher) *CampaignsValidator {
	return &CampaignsValidator{cache: campaignCache, matcher: matcher}
}

// Validate records the given events (nil is fine: previously recorded
// events still count, so a call after a sync can surface campaigns
// that only just became known) and returns the campaigns whose
// triggers are now fully satisfied.
//
// Gates, in order: opt-out, impression budget, campaign end time, and
// the interval-between-displays delay. Campaigns that fail a gate are
// left untouched and stay eligible for future calls. A campaign with
// no triggers passes matching unconditionally.
func (v *CampaignsValidator) Validate(events []event.Event) []Result {
	for _, ev := range events {
		v.matcher.Record(ev)
	}

	now := time.Now().UnixMilli()
	var results []Result

	for _, c := range v.cache.List() {
		if c.IsOptedOut {
			continue
		}
		if c.ImpressionsLeft <= 0 {
			continue
		}
		if c.IsOutdated(now) {
			continue
		}
		if interval := c.Data.DisplaySettings.IntervalBetweenDisplaysMS; interval > 0 &&
			c.LastDisplayedAtMs > 0 && now < c.LastDisplayedAtMs+interval {
			continue
		}

		triggeredBy, ok := v.matcher.MatchedEvents(c.Data.Triggers)
		if !ok {
			continue
		}

		logrus.Debugf("campaign %s is ready (triggered by %d events)", c.ID(), len(triggeredBy))
		results = append(results, Result{Campaign: c, TriggeredBy: triggeredBy})
	}

	return results
}
