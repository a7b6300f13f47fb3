package dispatch

import (
	"context"

	"github.com/peakmsg/inapp-engine/pkg/api"
	"github.com/peakmsg/inapp-engine/pkg/campaign"
	"github.com/peakmsg/inapp-engine/pkg/event"
	"github.com/sirupsen/logrus"
)

// LogPresenter is the built-in Presenter: it logs the campaign and
// immediately reports it dismissed with an impression and an exit.
// Host applications replace it with their real UI integration.
type LogPresenter struct{}

// Present implements Presenter.
func (LogPresenter) Present(ctx context.Context, c *campaign.Campaign, triggeredBy []event.Event) Outcome {
	logrus.Infof("presenting campaign %s (%q), triggered by %d events",
		c.ID(), c.Data.MessagePayload.Title, len(triggeredBy))
	now := event.NowMillis()
	return Outcome{
		Impressions: []api.Impression{
			{Type: api.ImpressionTypeImpression, Timestamp: now},
			{Type: api.ImpressionTypeExit, Timestamp: now},
		},
	}
}
