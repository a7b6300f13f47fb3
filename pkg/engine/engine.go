package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/peakmsg/inapp-engine/pkg/api"
	"github.com/peakmsg/inapp-engine/pkg/cache"
	"github.com/peakmsg/inapp-engine/pkg/campaign"
	"github.com/peakmsg/inapp-engine/pkg/dispatch"
	"github.com/peakmsg/inapp-engine/pkg/event"
	"github.com/peakmsg/inapp-engine/pkg/match"
	"github.com/peakmsg/inapp-engine/pkg/metrics"
	"github.com/peakmsg/inapp-engine/pkg/poll"
	"github.com/peakmsg/inapp-engine/pkg/validate"
	"github.com/sirupsen/logrus"
)

// maxPendingEvents bounds the events retained between successful
// syncs. A long offline stretch keeps only the most recent window;
// older events age out (oldest dropped first).
const maxPendingEvents = 256

// UserInfoProvider supplies the current user's identity. The host
// application registers one; identity changes take effect on the next
// RegisterPreference call.
type UserInfoProvider interface {
	UserID() string
	IDTrackingIdentifier() string
}

// Engine owns the campaign matching and delivery pipeline: the event
// matcher, campaign cache, validator, trigger agent, dispatcher,
// poller and reporter, with an explicit Start/Stop lifecycle. It is
// the single inbound surface for host applications.
type Engine struct {
	mu       sync.Mutex
	started  bool
	pending  []event.Event
	provider UserInfoProvider

	cache      *cache.CampaignCache
	matcher    *match.EventMatcher
	validator  *validate.CampaignsValidator
	agent      *dispatch.TriggerAgent
	dispatcher *dispatch.Dispatcher
	tooltips   *dispatch.TooltipDispatcher
	poller     *poll.Poller
}

// Deps are the pre-wired pipeline components an Engine coordinates.
// internal/bootstrap builds them in dependency order.
type Deps struct {
	Cache      *cache.CampaignCache
	Matcher    *match.EventMatcher
	Validator  *validate.CampaignsValidator
	Agent      *dispatch.TriggerAgent
	Dispatcher *dispatch.Dispatcher
	Tooltips   *dispatch.TooltipDispatcher
	Poller     *poll.Poller
}

// New creates an engine over the given components.
func New(deps Deps) *Engine {
	return &Engine{
		cache:      deps.Cache,
		matcher:    deps.Matcher,
		validator:  deps.Validator,
		agent:      deps.Agent,
		dispatcher: deps.Dispatcher,
		tooltips:   deps.Tooltips,
		poller:     deps.Poller,
	}
}

// Start hydrates the cache for the current user and launches the
// dispatcher and the polling loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	provider := e.provider
	e.mu.Unlock()

	if provider != nil {
		if err := e.cache.Hydrate(ctx, userKey(provider)); err != nil {
			logrus.Errorf("failed to hydrate campaign cache: %v (starting empty)", err)
		}
	}

	e.dispatcher.Start()
	e.poller.Start()
	logrus.Info("in-app messaging engine started")
	return nil
}

// Stop halts polling and dispatching. Pending timers are cancelled;
// a message currently on screen finishes its lifecycle.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()

	e.poller.Stop()
	e.dispatcher.Stop()
	logrus.Info("in-app messaging engine stopped")
}

// LogEvent records one application event and immediately dispatches
// any campaign it completes. Safe to call from any goroutine; never
// blocks on I/O. Events are also retained (the most recent
// maxPendingEvents) until the next successful sync so freshly
// delivered campaigns get a chance against them.
func (e *Engine) LogEvent(ev event.Event) {
	if ev.Kind == event.KindInvalid {
		logrus.Warn("ignoring event with invalid kind")
		return
	}
	metrics.EventsLoggedTotal.WithLabelValues(ev.Kind.String()).Inc()

	e.mu.Lock()
	e.pending = append(e.pending, ev)
	if drop := len(e.pending) - maxPendingEvents; drop > 0 {
		e.pending = append(e.pending[:0], e.pending[drop:]...)
	}
	e.mu.Unlock()

	if ev.Kind == event.KindViewAppeared && e.tooltips != nil {
		if attr := ev.Attribute("viewid"); attr != nil {
			e.tooltips.NotifyViewAppeared(attr.Value.String)
		}
	}

	e.triggerAll(e.validator.Validate([]event.Event{ev}))
}

// Revalidate re-runs validation over every event retained since the
// last successful sync. The poller calls this after SyncWith: a
// campaign that just arrived may already be satisfiable.
func (e *Engine) Revalidate() {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	e.triggerAll(e.validator.Validate(pending))
}

func (e *Engine) triggerAll(results []validate.Result) {
	for _, r := range results {
		e.agent.Trigger(r.Campaign, r.TriggeredBy)
	}
}

// RegisterPreference installs the current user. On an identity change
// the matcher state is reset (one account's events must not satisfy
// another's campaigns) and the cache is rehydrated for the new user,
// migrating the previous user's persisted state where appropriate.
func (e *Engine) RegisterPreference(ctx context.Context, provider UserInfoProvider) {
	e.mu.Lock()
	previous := e.provider
	e.provider = provider
	sameUser := previous != nil && provider != nil && userKey(previous) == userKey(provider)
	if !sameUser {
		// Retained events belong to the previous identity.
		e.pending = nil
	}
	e.mu.Unlock()

	if sameUser {
		return
	}

	e.matcher.Reset()
	if provider == nil {
		return
	}
	if err := e.cache.Hydrate(ctx, userKey(provider)); err != nil {
		logrus.Errorf("failed to rehydrate campaign cache on user switch: %v", err)
	}
}

// OptOutCampaign is the opt-out UI callback: the user asked never to
// see this campaign again.
func (e *Engine) OptOutCampaign(campaignID string) *campaign.Campaign {
	return e.cache.OptOutCampaign(campaignID)
}

// AddTestCampaign registers a local test campaign. Test campaigns
// bypass the server merge and persistence.
func (e *Engine) AddTestCampaign(data campaign.Data) {
	e.cache.AddTestCampaign(data)
}

// UserIdentifiers builds the identity list sent with every request.
func (e *Engine) UserIdentifiers() []api.UserIdentifier {
	e.mu.Lock()
	provider := e.provider
	e.mu.Unlock()
	return Identifiers(provider)
}

// Identifiers builds the wire identity list for a provider, which may
// be nil (anonymous).
func Identifiers(provider UserInfoProvider) []api.UserIdentifier {
	if provider == nil {
		return nil
	}
	var ids []api.UserIdentifier
	if id := provider.UserID(); id != "" {
		ids = append(ids, api.UserIdentifier{Type: api.IdentifierTypeUserID, ID: id})
	}
	if id := provider.IDTrackingIdentifier(); id != "" {
		ids = append(ids, api.UserIdentifier{Type: api.IdentifierTypeIDTracking, ID: id})
	}
	return ids
}

// userKey derives the stable persistence key for a user's identity.
// Hashed so raw identifiers never appear in storage keys.
func userKey(provider UserInfoProvider) string {
	sum := sha256.Sum256([]byte(provider.UserID() + "|" + provider.IDTrackingIdentifier()))
	return hex.EncodeToString(sum[:16])
}
