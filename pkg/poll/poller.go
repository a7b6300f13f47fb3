package poll

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/peakmsg/inapp-engine/pkg/api"
	"github.com/peakmsg/inapp-engine/pkg/cache"
	"github.com/peakmsg/inapp-engine/pkg/common"
	"github.com/peakmsg/inapp-engine/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// PingClient is the slice of the API client the poller needs.
type PingClient interface {
	Ping(ctx context.Context, req api.PingRequest) (*api.PingResponse, error)
}

// Options tunes the polling schedule.
type Options struct {
	// InitialDelay before the very first poll.
	InitialDelay time.Duration
	// ErrorBackoffBase is the first retry delay after a failure; it
	// doubles per consecutive failure up to ErrorBackoffCap.
	ErrorBackoffBase time.Duration
	// ErrorBackoffCap bounds the doubling.
	ErrorBackoffCap time.Duration
	// JitterWindow bounds the random jitter added to every retry delay.
	JitterWindow time.Duration
	// ThrottleWindow is the base delay after an HTTP 429; a random
	// delay in [ThrottleWindow, 2*ThrottleWindow) is used, decoupled
	// from the generic error backoff counter.
	ThrottleWindow time.Duration
	// RequestTimeout bounds a single ping call.
	RequestTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.ErrorBackoffBase <= 0 {
		o.ErrorBackoffBase = 10 * time.Second
	}
	if o.ErrorBackoffCap <= 0 {
		o.ErrorBackoffCap = 10 * time.Minute
	}
	if o.JitterWindow <= 0 {
		o.JitterWindow = 10 * time.Second
	}
	if o.ThrottleWindow <= 0 {
		o.ThrottleWindow = time.Minute
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
}

// Poller keeps the campaign cache fresh. On success it schedules the
// next poll at the server-provided interval and resets its error
// backoff; on failure it reschedules with randomized exponential
// backoff. A throttled response (429) uses its own larger randomized
// window without touching the error counter. Stopping cancels any
// pending timer: no poll fires after Stop.
type Poller struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool

	client  PingClient
	cache   *cache.CampaignCache
	request func() api.PingRequest
	onSync  func()
	opts    Options

	errBackoff *backoff.ExponentialBackOff
	rng        *rand.Rand
}

// NewPoller creates a polling manager. request builds the ping body
// from the current user; onSync runs after every successful sync (the
// engine revalidates pending events there) and may be nil.
func NewPoller(client PingClient, campaignCache *cache.CampaignCache, request func() api.PingRequest, onSync func(), opts Options) *Poller {
	opts.applyDefaults()

	// RandomizationFactor is zero: jitter is added separately so the
	// base delay sequence stays non-decreasing up to the cap.
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = opts.ErrorBackoffBase
	eb.MaxInterval = opts.ErrorBackoffCap
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	return &Poller{
		client:     client,
		cache:      campaignCache,
		request:    request,
		onSync:     onSync,
		opts:       opts,
		errBackoff: eb,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start schedules the first poll. Idempotent while running.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.timer != nil {
		return
	}
	p.timer = time.AfterFunc(p.opts.InitialDelay, p.poll)
	logrus.Infof("campaign polling scheduled in %v", p.opts.InitialDelay)
}

// Stop cancels the pending poll. Safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	logrus.Info("campaign polling stopped")
}

// PingNow schedules an immediate out-of-band poll, replacing any
// pending timer. Used when the display-permission endpoint sets
// performPing.
func (p *Poller) PingNow() {
	p.schedule(0)
}

func (p *Poller) poll() {
	scope := common.NewScope(context.Background(), "campaign_poll")
	defer scope.Finish()

	ctx, cancel := context.WithTimeout(scope.Ctx, p.opts.RequestTimeout)
	defer cancel()

	resp, err := p.client.Ping(ctx, p.request())
	if err != nil {
		scope.TraceError(err)
		p.schedule(p.failureDelay(err))
		return
	}

	p.errBackoff.Reset()
	metrics.PingsTotal.WithLabelValues("ok").Inc()

	p.cache.SyncWith(resp.Data, resp.CurrentPingMilliseconds)
	if p.onSync != nil {
		p.onSync()
	}

	next := time.Duration(resp.NextPingMilliseconds) * time.Millisecond
	if next <= 0 {
		next = p.opts.ErrorBackoffBase
	}
	scope.Log.Debugf("ping succeeded with %d campaigns, next poll in %v", len(resp.Data), next)
	p.schedule(next)
}

// failureDelay picks the retry delay for a failed poll.
func (p *Poller) failureDelay(err error) time.Duration {
	if errors.Is(err, api.ErrTooManyRequests) {
		delay := p.opts.ThrottleWindow + p.jitter(p.opts.ThrottleWindow)
		logrus.Warnf("ping throttled by server, retrying in %v", delay)
		metrics.PingsTotal.WithLabelValues("throttled").Inc()
		return delay
	}

	delay := p.errBackoff.NextBackOff() + p.jitter(p.opts.JitterWindow)
	logrus.Warnf("ping failed: %v, retrying in %v", err, delay)
	metrics.PingsTotal.WithLabelValues("error").Inc()
	return delay
}

func (p *Poller) jitter(window time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rng.Int63n(int64(window)))
}

// schedule arms the next poll, cancelling any pending timer first
// (last write wins; there is never more than one live timer).
func (p *Poller) schedule(delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(delay, p.poll)
}
