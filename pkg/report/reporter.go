package report

import (
	"context"
	"time"

	"github.com/peakmsg/inapp-engine/pkg/api"
	"github.com/peakmsg/inapp-engine/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// ImpressionClient is the slice of the API client the reporter needs.
type ImpressionClient interface {
	ReportImpression(ctx context.Context, req api.ImpressionRequest) error
}

const sendTimeout = 15 * time.Second

// Reporter ships impression batches to the impression endpoint.
// Delivery is fire-and-forget and at-most-once: a failed report is
// logged and dropped, never retried, because losing an impression is
// preferable to the double display a replay could cause.
type Reporter struct {
	client      ImpressionClient
	appVersion  string
	sdkVersion  string
	identifiers func() []api.UserIdentifier
}

// NewReporter creates an impression reporter. identifiers supplies
// the current user's identity at send time (the user may have
// switched since the campaign was displayed).
func NewReporter(client ImpressionClient, appVersion, sdkVersion string, identifiers func() []api.UserIdentifier) *Reporter {
	return &Reporter{
		client:      client,
		appVersion:  appVersion,
		sdkVersion:  sdkVersion,
		identifiers: identifiers,
	}
}

// Send reports one presentation session's impressions in the
// background. Never blocks the caller.
func (r *Reporter) Send(campaignID string, isTest bool, impressions []api.Impression) {
	if len(impressions) == 0 {
		return
	}

	req := api.ImpressionRequest{
		CampaignID:      campaignID,
		IsTest:          isTest,
		AppVersion:      r.appVersion,
		SDKVersion:      r.sdkVersion,
		Impressions:     impressions,
		UserIdentifiers: r.identifiers(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if err := r.client.ReportImpression(ctx, req); err != nil {
			logrus.Errorf("failed to report %d impressions for campaign %s: %v",
				len(impressions), campaignID, err)
			metrics.ImpressionsReportedTotal.WithLabelValues("error").Inc()
			return
		}
		logrus.Debugf("reported %d impressions for campaign %s", len(impressions), campaignID)
		metrics.ImpressionsReportedTotal.WithLabelValues("ok").Inc()
	}()
}
