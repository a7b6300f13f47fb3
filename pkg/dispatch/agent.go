package dispatch

import (
	"github.com/peakmsg/inapp-engine/pkg/campaign"
	"github.com/peakmsg/inapp-engine/pkg/event"
	"github.com/peakmsg/inapp-engine/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// TriggerAgent routes validated campaigns to the right dispatcher:
// tooltip campaigns wait for their anchor view, everything else goes
// straight onto the ready-campaign queue. Both paths are idempotent
// per campaign id, so repeated validator passes cannot enqueue the
// same campaign twice.
type TriggerAgent struct {
	dispatcher *Dispatcher
	tooltips   *TooltipDispatcher
}

// NewTriggerAgent creates a trigger agent. tooltips may be nil when
// tooltip campaigns are disabled; they are then dropped with a log.
func NewTriggerAgent(dispatcher *Dispatcher, tooltips *TooltipDispatcher) *TriggerAgent {
	return &TriggerAgent{dispatcher: dispatcher, tooltips: tooltips}
}

// Trigger forwards one ready campaign with the events that made it
// ready.
func (a *TriggerAgent) Trigger(c *campaign.Campaign, triggeredBy []event.Event) {
	metrics.CampaignsReadyTotal.Inc()

	if c.IsTooltip() {
		if a.tooltips == nil {
			logrus.Warnf("tooltip campaign %s dropped: tooltips disabled", c.ID())
			return
		}
		a.tooltips.Hold(c, triggeredBy)
		return
	}

	a.dispatcher.Enqueue(c, triggeredBy)
}
