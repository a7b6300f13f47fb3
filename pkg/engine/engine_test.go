package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/peakmsg/inapp-engine/pkg/api"
	"github.com/peakmsg/inapp-engine/pkg/cache"
	"github.com/peakmsg/inapp-engine/pkg/campaign"
	"github.com/peakmsg/inapp-engine/pkg/dispatch"
	"github.com/peakmsg/inapp-engine/pkg/event"
	"github.com/peakmsg/inapp-engine/pkg/match"
	"github.com/peakmsg/inapp-engine/pkg/poll"
	"github.com/peakmsg/inapp-engine/pkg/validate"
)

type staticUser struct {
	userID   string
	tracking string
}

func (u staticUser) UserID() string               { return u.userID }
func (u staticUser) IDTrackingIdentifier() string { return u.tracking }

type approveChecker struct{}

func (approveChecker) CheckDisplayPermission(ctx context.Context, req api.DisplayPermissionRequest) (*api.DisplayPermissionResponse, error) {
	return &api.DisplayPermissionResponse{Display: true}, nil
}

// recordingPresenter immediately completes each display with a shown
// and exit impression, recording the order of presented campaigns.
type recordingPresenter struct {
	mu        sync.Mutex
	presented []string
	notify    chan string
}

func newRecordingPresenter() *recordingPresenter {
	return &recordingPresenter{notify: make(chan string, 16)}
}

func (p *recordingPresenter) Present(ctx context.Context, c *campaign.Campaign, triggeredBy []event.Event) dispatch.Outcome {
	p.mu.Lock()
	p.presented = append(p.presented, c.ID())
	p.mu.Unlock()
	p.notify <- c.ID()
	return dispatch.Outcome{Impressions: []api.Impression{
		{Type: api.ImpressionTypeImpression, Timestamp: event.NowMillis()},
		{Type: api.ImpressionTypeExit, Timestamp: event.NowMillis()},
	}}
}

type recordingSender struct {
	mu    sync.Mutex
	sends []string
	flush chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{flush: make(chan struct{}, 16)}
}

func (s *recordingSender) Send(campaignID string, isTest bool, impressions []api.Impression) {
	s.mu.Lock()
	s.sends = append(s.sends, campaignID)
	s.mu.Unlock()
	s.flush <- struct{}{}
}

type idlePingClient struct{}

func (idlePingClient) Ping(ctx context.Context, req api.PingRequest) (*api.PingResponse, error) {
	return &api.PingResponse{NextPingMilliseconds: 3_600_000}, nil
}

type fixture struct {
	engine    *Engine
	cache     *cache.CampaignCache
	presenter *recordingPresenter
	sender    *recordingSender
}

func newEngineFixture(t *testing.T) *fixture {
	t.Helper()

	campaignCache := cache.New(cache.NewMemoryStore())
	matcher := match.NewEventMatcher(campaignCache)
	validator := validate.New(campaignCache, matcher)
	presenter := newRecordingPresenter()
	sender := newRecordingSender()

	dispatcher := dispatch.NewDispatcher(
		approveChecker{}, campaignCache, sender, presenter,
		func(campaignID string) api.DisplayPermissionRequest {
			return api.DisplayPermissionRequest{CampaignID: campaignID}
		},
		nil,
		dispatch.Options{MaxPermissionRetries: 1, PermissionRetryBase: time.Millisecond},
	)
	tooltips := dispatch.NewTooltipDispatcher(dispatcher)
	agent := dispatch.NewTriggerAgent(dispatcher, tooltips)

	eng := New(Deps{
		Cache:      campaignCache,
		Matcher:    matcher,
		Validator:  validator,
		Agent:      agent,
		Dispatcher: dispatcher,
		Tooltips:   tooltips,
		Poller: poll.NewPoller(idlePingClient{}, campaignCache, func() api.PingRequest {
			return api.PingRequest{}
		}, nil, poll.Options{InitialDelay: time.Hour}),
	})

	eng.RegisterPreference(context.Background(), staticUser{userID: "u1"})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(eng.Stop)

	return &fixture{engine: eng, cache: campaignCache, presenter: presenter, sender: sender}
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

func waitForString(t *testing.T, ch chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func TestEngine_EventToDisplayToImpression(t *testing.T) {
	f := newEngineFixture(t)
	f.cache.SyncWith([]campaign.Data{loginCampaign("c1", 3)}, 1000)

	f.engine.LogEvent(event.NewLogin())

	waitForString(t, f.presenter.notify, "c1")

	select {
	case <-f.sender.flush:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for impression flush")
	}

	if left := f.cache.List()[0].ImpressionsLeft; left != 2 {
		t.Errorf("impressionsLeft = %d, want 2 after one display", left)
	}
}

func TestEngine_RevalidateAfterSyncSurfacesRetainedEvents(t *testing.T) {
	f := newEngineFixture(t)

	// Event arrives before the campaign exists.
	f.engine.LogEvent(event.NewLogin())

	select {
	case id := <-f.presenter.notify:
		t.Fatalf("campaign %s displayed before any sync", id)
	case <-time.After(100 * time.Millisecond):
	}

	// The campaign list lands, then validation re-runs as onSync would.
	f.cache.SyncWith([]campaign.Data{loginCampaign("c1", 3)}, 1000)
	f.engine.Revalidate()

	waitForString(t, f.presenter.notify, "c1")
}

func TestEngine_ViewAppearedReleasesTooltip(t *testing.T) {
	f := newEngineFixture(t)
	tooltip := campaign.Data{
		CampaignID:     "tip1",
		Type:           campaign.TypeTooltip,
		MaxImpressions: 3,
		MessagePayload: campaign.MessagePayload{TargetElement: "cart_icon"},
		Triggers: []campaign.Trigger{{
			Type:      campaign.TriggerTypeEvent,
			EventType: event.KindLogin,
			EventName: event.NameLogin,
		}},
	}
	f.cache.SyncWith([]campaign.Data{tooltip}, 1000)

	f.engine.LogEvent(event.NewLogin())

	select {
	case id := <-f.presenter.notify:
		t.Fatalf("tooltip %s displayed before its anchor appeared", id)
	case <-time.After(100 * time.Millisecond):
	}

	f.engine.LogEvent(event.NewViewAppeared("cart_icon"))
	waitForString(t, f.presenter.notify, "tip1")
}

func TestEngine_OptOutStopsFutureDisplays(t *testing.T) {
	f := newEngineFixture(t)
	f.cache.SyncWith([]campaign.Data{loginCampaign("c1", 3)}, 1000)
	f.engine.OptOutCampaign("c1")

	f.engine.LogEvent(event.NewLogin())

	select {
	case id := <-f.presenter.notify:
		t.Fatalf("opted-out campaign %s displayed", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngine_AddTestCampaign(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.AddTestCampaign(loginCampaign("t1", 1))

	f.engine.LogEvent(event.NewLogin())
	waitForString(t, f.presenter.notify, "t1")
}

func TestEngine_UserSwitchResetsMatcher(t *testing.T) {
	f := newEngineFixture(t)

	// The first user's login is retained, waiting for a campaign list.
	f.engine.LogEvent(event.NewLogin())

	f.engine.RegisterPreference(context.Background(), staticUser{userID: "u2"})
	f.cache.SyncWith([]campaign.Data{loginCampaign("c1", 3)}, 2000)
	f.engine.Revalidate()

	select {
	case id := <-f.presenter.notify:
		t.Fatalf("campaign %s displayed from another user's events", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngine_SameUserReRegistrationKeepsState(t *testing.T) {
	f := newEngineFixture(t)
	f.cache.SyncWith([]campaign.Data{loginCampaign("c1", 3)}, 1000)

	f.engine.LogEvent(event.NewLogin())
	waitForString(t, f.presenter.notify, "c1")

	// Same identity: matcher and cache state stay put.
	f.engine.RegisterPreference(context.Background(), staticUser{userID: "u1"})
	if len(f.cache.List()) != 1 {
		t.Error("expected cache content to survive same-user re-registration")
	}
}

func TestEngine_SameUserReRegistrationKeepsPendingEvents(t *testing.T) {
	f := newEngineFixture(t)

	// Event arrives before any campaign exists, then the host app
	// re-registers the same identity. The retained event must survive.
	f.engine.LogEvent(event.NewLogin())
	f.engine.RegisterPreference(context.Background(), staticUser{userID: "u1"})

	f.cache.SyncWith([]campaign.Data{loginCampaign("c1", 3)}, 1000)
	f.engine.Revalidate()

	waitForString(t, f.presenter.notify, "c1")
}

func TestEngine_PendingEventsBounded(t *testing.T) {
	f := newEngineFixture(t)

	for i := 0; i < maxPendingEvents+10; i++ {
		f.engine.LogEvent(event.NewAppStart())
	}

	f.engine.mu.Lock()
	got := len(f.engine.pending)
	f.engine.mu.Unlock()
	if got != maxPendingEvents {
		t.Errorf("expected pending window of %d events, got %d", maxPendingEvents, got)
	}
}

func TestEngine_DoubleStartFails(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.Start(context.Background()); err == nil {
		t.Error("expected second Start to fail")
	}
}

func TestEngine_InvalidEventIgnored(t *testing.T) {
	f := newEngineFixture(t)
	f.cache.SyncWith([]campaign.Data{{CampaignID: "c1", Type: campaign.TypeModal, MaxImpressions: 1}}, 1000)

	// An invalid event is dropped before validation; the trigger-less
	// campaign must not surface from it.
	f.engine.LogEvent(event.Event{})

	select {
	case id := <-f.presenter.notify:
		t.Fatalf("campaign %s displayed from an invalid event", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIdentifiers(t *testing.T) {
	ids := Identifiers(staticUser{userID: "u1", tracking: "t1"})
	if len(ids) != 2 {
		t.Fatalf("expected 2 identifiers, got %d", len(ids))
	}
	if ids[0].Type != api.IdentifierTypeUserID || ids[0].ID != "u1" {
		t.Errorf("unexpected first identifier: %+v", ids[0])
	}
	if ids[1].Type != api.IdentifierTypeIDTracking || ids[1].ID != "t1" {
		t.Errorf("unexpected second identifier: %+v", ids[1])
	}

	if got := Identifiers(nil); got != nil {
		t.Errorf("expected nil identifiers for anonymous, got %+v", got)
	}

	if got := Identifiers(staticUser{userID: "u1"}); len(got) != 1 {
		t.Errorf("expected only the set identifier, got %+v", got)
	}
}

func TestUserKeyIsStableAndOpaque(t *testing.T) {
	a := userKey(staticUser{userID: "u1", tracking: "t1"})
	b := userKey(staticUser{userID: "u1", tracking: "t1"})
	c := userKey(staticUser{userID: "u2", tracking: "t1"})

	if a != b {
		t.Error("expected identical identities to derive the same key")
	}
	if a == c {
		t.Error("expected different identities to derive different keys")
	}
	if a == "u1|t1" || len(a) != 32 {
		t.Errorf("expected a hashed key, got %q", a)
	}
}
