package dispatch

import (
	"strings"
	"sync"

	"github.com/peakmsg/inapp-engine/pkg/campaign"
	"github.com/peakmsg/inapp-engine/pkg/event"
	"github.com/sirupsen/logrus"
)

// TooltipDispatcher parks tooltip campaigns until the view they are
// anchored to appears. When NotifyViewAppeared names a held
// campaign's target element, the campaign moves onto the regular
// ready-campaign queue, which already serializes display.
type TooltipDispatcher struct {
	mu         sync.Mutex
	held       map[string]queuedCampaign // anchor view id → campaign
	dispatcher *Dispatcher
}

// NewTooltipDispatcher creates a tooltip dispatcher feeding the given
// ready-campaign dispatcher.
func NewTooltipDispatcher(dispatcher *Dispatcher) *TooltipDispatcher {
	return &TooltipDispatcher{
		held:       make(map[string]queuedCampaign),
		dispatcher: dispatcher,
	}
}

// Hold parks a ready tooltip campaign for its anchor view. A campaign
// whose payload names no target element cannot ever attach and is
// dropped with a log. Holding is idempotent per anchor: the latest
// ready campaign for an anchor wins.
func (t *TooltipDispatcher) Hold(c *campaign.Campaign, triggeredBy []event.Event) {
	anchor := strings.ToLower(c.Data.MessagePayload.TargetElement)
	if anchor == "" {
		logrus.Warnf("tooltip campaign %s has no target element, dropping", c.ID())
		return
	}

	t.mu.Lock()
	t.held[anchor] = queuedCampaign{campaign: c, triggeredBy: triggeredBy}
	t.mu.Unlock()

	logrus.Debugf("tooltip campaign %s held for view %q", c.ID(), anchor)
}

// NotifyViewAppeared releases the campaign held for the given view
// id, if any, onto the display queue.
func (t *TooltipDispatcher) NotifyViewAppeared(viewID string) {
	anchor := strings.ToLower(viewID)

	t.mu.Lock()
	item, ok := t.held[anchor]
	if ok {
		delete(t.held, anchor)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	logrus.Infof("view %q appeared, dispatching tooltip campaign %s", anchor, item.campaign.ID())
	t.dispatcher.Enqueue(item.campaign, item.triggeredBy)
}
