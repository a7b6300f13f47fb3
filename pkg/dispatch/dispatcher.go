package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/peakmsg/inapp-engine/pkg/api"
	"github.com/peakmsg/inapp-engine/pkg/cache"
	"github.com/peakmsg/inapp-engine/pkg/campaign"
	"github.com/peakmsg/inapp-engine/pkg/common"
	"github.com/peakmsg/inapp-engine/pkg/event"
	"github.com/peakmsg/inapp-engine/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// PermissionChecker is the slice of the API client the dispatcher needs.
type PermissionChecker interface {
	CheckDisplayPermission(ctx context.Context, req api.DisplayPermissionRequest) (*api.DisplayPermissionResponse, error)
}

// ImpressionSender flushes one presentation session's impressions.
type ImpressionSender interface {
	Send(campaignID string, isTest bool, impressions []api.Impression)
}

// Outcome describes how a presented message was dismissed.
type Outcome struct {
	Impressions []api.Impression
	OptedOut    bool
}

// Presenter hands a campaign to the host application's UI layer and
// blocks until the message's display lifecycle completes (shown then
// closed by any dismissal path). Rendering is out of the engine's
// scope.
type Presenter interface {
	Present(ctx context.Context, c *campaign.Campaign, triggeredBy []event.Event) Outcome
}

// Options bounds the display-permission retry policy.
type Options struct {
	MaxPermissionRetries uint64
	PermissionRetryBase  time.Duration
	PermissionRetryCap   time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxPermissionRetries == 0 {
		o.MaxPermissionRetries = 3
	}
	if o.PermissionRetryBase <= 0 {
		o.PermissionRetryBase = 2 * time.Second
	}
	if o.PermissionRetryCap <= 0 {
		o.PermissionRetryCap = 30 * time.Second
	}
}

type queuedCampaign struct {
	campaign    *campaign.Campaign
	triggeredBy []event.Event
}

// Dispatcher serializes the display of ready campaigns. Items are
// processed strictly in enqueue order by a single worker goroutine:
// permission check (with exponential backoff on transient failure),
// then presentation, then impression flush and cache bookkeeping.
// Exactly one campaign is ever on screen.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []queuedCampaign
	queued map[string]bool // campaign ids enqueued or on screen

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once

	checker   PermissionChecker
	cache     *cache.CampaignCache
	reporter  ImpressionSender
	presenter Presenter
	opts      Options

	permissionReq func(campaignID string) api.DisplayPermissionRequest
	onPerformPing func()
}

// NewDispatcher creates a dispatcher. permissionReq builds the
// request body for a campaign id; onPerformPing is invoked when the
// server instructs an out-of-band campaign list re-sync (may be nil).
func NewDispatcher(
	checker PermissionChecker,
	campaignCache *cache.CampaignCache,
	reporter ImpressionSender,
	presenter Presenter,
	permissionReq func(campaignID string) api.DisplayPermissionRequest,
	onPerformPing func(),
	opts Options,
) *Dispatcher {
	opts.applyDefaults()
	return &Dispatcher{
		queue:         nil,
		queued:        make(map[string]bool),
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		checker:       checker,
		cache:         campaignCache,
		reporter:      reporter,
		presenter:     presenter,
		permissionReq: permissionReq,
		onPerformPing: onPerformPing,
		opts:          opts,
	}
}

// Start launches the worker goroutine.
func (d *Dispatcher) Start() {
	go d.loop()
}

// Stop shuts the worker down. A campaign currently being presented
// finishes its lifecycle; queued items are discarded.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.stop) })
	<-d.done
}

// Enqueue adds a ready campaign to the display queue. Enqueueing is
// idempotent per campaign id: a campaign already queued or currently
// on screen is not added again, so repeated validator passes cannot
// double-display.
func (d *Dispatcher) Enqueue(c *campaign.Campaign, triggeredBy []event.Event) {
	d.mu.Lock()
	if d.queued[c.ID()] {
		d.mu.Unlock()
		logrus.Debugf("campaign %s already queued, skipping", c.ID())
		return
	}
	d.queued[c.ID()] = true
	d.queue = append(d.queue, queuedCampaign{campaign: c, triggeredBy: triggeredBy})
	d.mu.Unlock()

	logrus.Infof("campaign %s enqueued for display", c.ID())
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case <-d.wake:
		}

		for {
			item, ok := d.dequeue()
			if !ok {
				break
			}
			select {
			case <-d.stop:
				return
			default:
			}
			d.process(item)
		}
	}
}

func (d *Dispatcher) dequeue() (queuedCampaign, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return queuedCampaign{}, false
	}
	item := d.queue[0]
	d.queue = d.queue[1:]
	return item, true
}

// release frees the id for future re-triggering once the campaign is
// no longer queued or on screen.
func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.queued, id)
	d.mu.Unlock()
}

// process runs one item through permission check, presentation and
// the close side effects.
func (d *Dispatcher) process(item queuedCampaign) {
	c := item.campaign
	defer d.release(c.ID())

	scope := common.NewScope(context.Background(), "campaign_dispatch")
	defer scope.Finish()
	scope.TraceTag("campaign_id", c.ID())

	permission := d.checkPermission(scope, c.ID())
	if !permission.Display {
		scope.Log.Infof("display of campaign %s denied by server", c.ID())
		metrics.PermissionChecksTotal.WithLabelValues("denied").Inc()
		return
	}

	d.present(scope, item)

	if permission.PerformPing && d.onPerformPing != nil {
		scope.Log.Infof("server requested campaign list re-sync after campaign %s", c.ID())
		d.onPerformPing()
	}
}

// checkPermission calls the display-permission endpoint, retrying
// transient failures with exponential backoff and jitter up to the
// configured attempt bound. Exhausted retries fall back to the
// fail-open default: display, no forced re-ping.
func (d *Dispatcher) checkPermission(scope *common.Scope, campaignID string) *api.DisplayPermissionResponse {
	req := d.permissionReq(campaignID)

	var resp *api.DisplayPermissionResponse
	operation := func() error {
		r, err := d.checker.CheckDisplayPermission(scope.Ctx, req)
		if err != nil {
			scope.Log.Warnf("display permission check for campaign %s failed: %v", campaignID, err)
			return err
		}
		resp = r
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.opts.PermissionRetryBase
	policy.MaxInterval = d.opts.PermissionRetryCap

	err := backoff.Retry(operation, backoff.WithMaxRetries(policy, d.opts.MaxPermissionRetries))
	if err != nil {
		scope.TraceError(err)
		scope.Log.Errorf("display permission check for campaign %s failed after retries, failing open: %v",
			campaignID, err)
		metrics.PermissionChecksTotal.WithLabelValues("fail_open").Inc()
		return api.DefaultDisplayPermission()
	}

	if resp.Display {
		metrics.PermissionChecksTotal.WithLabelValues("approved").Inc()
	}
	return resp
}

// present runs the display lifecycle: mark displayed, hand off to the
// presenter, then apply the close side effects exactly once (impression
// flush, budget decrement, opt-out when the user asked for it).
func (d *Dispatcher) present(scope *common.Scope, item queuedCampaign) {
	c := item.campaign

	d.cache.MarkDisplayed(c.ID())
	scope.TraceEvent("campaign displayed")

	ctx, cancel := context.WithCancel(scope.Ctx)
	defer cancel()
	outcome := d.presenter.Present(ctx, c, item.triggeredBy)

	if d.cache.DecrementImpressionsLeft(c.ID()) == nil {
		scope.Log.Warnf("campaign %s vanished from cache during display", c.ID())
	}
	if outcome.OptedOut {
		d.cache.OptOutCampaign(c.ID())
		outcome.Impressions = append(outcome.Impressions, api.Impression{
			Type:      api.ImpressionTypeOptOut,
			Timestamp: event.NowMillis(),
		})
	}

	if len(outcome.Impressions) > 0 {
		d.reporter.Send(c.ID(), c.Data.IsTest, outcome.Impressions)
	}
}
