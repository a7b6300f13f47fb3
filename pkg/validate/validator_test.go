package validate

import (
	"context"
	"testing"
	"time"

	"github.com/peakmsg/inapp-engine/pkg/cache"
	"github.com/peakmsg/inapp-engine/pkg/campaign"
	"github.com/peakmsg/inapp-engine/pkg/event"
	"github.com/peakmsg/inapp-engine/pkg/match"
)

func newValidator(t *testing.T) (*CampaignsValidator, *cache.CampaignCache) {
	t.Helper()
	campaignCache := cache.New(cache.NewMemoryStore())
	if err := campaignCache.Hydrate(context.Background(), "user-a"); err != nil {
		t.Fatalf("Hydrate() error: %v", err)
	}
	matcher := match.NewEventMatcher(campaignCache)
	return New(campaignCache, matcher), campaignCache
}

func loginCampaign(id string, maxImpressions int) campaign.Data {
	return campaign.Data{
		CampaignID:     id,
		Type:           campaign.TypeModal,
		MaxImpressions: maxImpressions,
		Triggers: []campaign.Trigger{{
			Type:      campaign.TriggerTypeEvent,
			EventType: event.KindLogin,
			EventName: event.NameLogin,
		}},
	}
}

func TestValidate_TriggeredCampaignIsReady(t *testing.T) {
	v, campaignCache := newValidator(t)
	campaignCache.SyncWith([]campaign.Data{loginCampaign("c1", 3)}, 1000)

	results := v.Validate([]event.Event{event.NewLogin()})

	if len(results) != 1 {
		t.Fatalf("expected 1 ready campaign, got %d", len(results))
	}
	if results[0].Campaign.ID() != "c1" {
		t.Errorf("unexpected campaign: %s", results[0].Campaign.ID())
	}
	if len(results[0].TriggeredBy) != 1 || results[0].TriggeredBy[0].Kind != event.KindLogin {
		t.Errorf("expected the login event as trigger source, got %+v", results[0].TriggeredBy)
	}
}

func TestValidate_NoEventsNoMatch(t *testing.T) {
	v, campaignCache := newValidator(t)
	campaignCache.SyncWith([]campaign.Data{loginCampaign("c1", 3)}, 1000)

	if results := v.Validate(nil); len(results) != 0 {
		t.Errorf("expected no ready campaigns without events, got %d", len(results))
	}
}

func TestValidate_EmptyTriggerListReadyAfterSync(t *testing.T) {
	v, campaignCache := newValidator(t)
	campaignCache.SyncWith([]campaign.Data{modal("c1", 3)}, 1000)

	results := v.Validate(nil)
	if len(results) != 1 {
		t.Fatalf("expected trigger-less campaign to be ready immediately, got %d", len(results))
	}
	if len(results[0].TriggeredBy) != 0 {
		t.Errorf("expected no trigger events, got %d", len(results[0].TriggeredBy))
	}
}

func modal(id string, maxImpressions int) campaign.Data {
	return campaign.Data{CampaignID: id, Type: campaign.TypeModal, MaxImpressions: maxImpressions}
}

func TestValidate_RepeatedCallsStayReady(t *testing.T) {
	v, campaignCache := newValidator(t)
	campaignCache.SyncWith([]campaign.Data{loginCampaign("c1", 3)}, 1000)

	v.Validate([]event.Event{event.NewLogin()})

	// Recorded events persist: a later call with no new events still
	// reports the campaign as ready until something consumes it.
	if results := v.Validate(nil); len(results) != 1 {
		t.Errorf("expected campaign to stay ready across calls, got %d", len(results))
	}
}

func TestValidate_Gates(t *testing.T) {
	t.Run("opted out", func(t *testing.T) {
		v, campaignCache := newValidator(t)
		campaignCache.SyncWith([]campaign.Data{loginCampaign("c1", 3)}, 1000)
		campaignCache.OptOutCampaign("c1")

		if results := v.Validate([]event.Event{event.NewLogin()}); len(results) != 0 {
			t.Errorf("expected opted-out campaign to be skipped, got %d", len(results))
		}
	})

	t.Run("budget exhausted", func(t *testing.T) {
		v, campaignCache := newValidator(t)
		campaignCache.SyncWith([]campaign.Data{loginCampaign("c1", 1)}, 1000)
		campaignCache.DecrementImpressionsLeft("c1")

		if results := v.Validate([]event.Event{event.NewLogin()}); len(results) != 0 {
			t.Errorf("expected exhausted campaign to be skipped, got %d", len(results))
		}
	})

	t.Run("past end time", func(t *testing.T) {
		v, campaignCache := newValidator(t)
		data := loginCampaign("c1", 3)
		data.DisplaySettings.EndTimeMillis = time.Now().Add(-time.Hour).UnixMilli()
		campaignCache.SyncWith([]campaign.Data{data}, 1000)

		if results := v.Validate([]event.Event{event.NewLogin()}); len(results) != 0 {
			t.Errorf("expected outdated campaign to be skipped, got %d", len(results))
		}
	})

	t.Run("within display interval", func(t *testing.T) {
		v, campaignCache := newValidator(t)
		data := loginCampaign("c1", 3)
		data.DisplaySettings.IntervalBetweenDisplaysMS = time.Hour.Milliseconds()
		campaignCache.SyncWith([]campaign.Data{data}, 1000)
		campaignCache.MarkDisplayed("c1")

		if results := v.Validate([]event.Event{event.NewLogin()}); len(results) != 0 {
			t.Errorf("expected campaign inside its display interval to be skipped, got %d", len(results))
		}
	})

	t.Run("interval elapsed", func(t *testing.T) {
		v, campaignCache := newValidator(t)
		data := loginCampaign("c1", 3)
		data.DisplaySettings.IntervalBetweenDisplaysMS = 1
		campaignCache.SyncWith([]campaign.Data{data}, 1000)
		campaignCache.MarkDisplayed("c1")
		time.Sleep(5 * time.Millisecond)

		if results := v.Validate([]event.Event{event.NewLogin()}); len(results) != 1 {
			t.Errorf("expected campaign with elapsed interval to be ready, got %d", len(results))
		}
	})
}

func TestValidate_PreservesServerOrder(t *testing.T) {
	v, campaignCache := newValidator(t)
	campaignCache.SyncWith([]campaign.Data{
		loginCampaign("first", 3),
		loginCampaign("second", 3),
		loginCampaign("third", 3),
	}, 1000)

	results := v.Validate([]event.Event{event.NewLogin()})
	if len(results) != 3 {
		t.Fatalf("expected 3 ready campaigns, got %d", len(results))
	}
	for i, want := range []string{"first", "second", "third"} {
		if results[i].Campaign.ID() != want {
			t.Errorf("results[%d] = %s, want %s", i, results[i].Campaign.ID(), want)
		}
	}
}
