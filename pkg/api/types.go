package api

import "github.com/peakmsg/inapp-engine/pkg/campaign"

// UserIdentifier types understood by the backend.
const (
	IdentifierTypeUserID     = 1
	IdentifierTypeIDTracking = 2
)

// UserIdentifier names one identity of the current user.
type UserIdentifier struct {
	Type int    `json:"type"`
	ID   string `json:"id"`
}

// Endpoints are the mutable endpoint URLs returned by the config
// endpoint.
type Endpoints struct {
	Ping              string `json:"ping"`
	DisplayPermission string `json:"displayPermission"`
	Impression        string `json:"impression"`
}

// ConfigResponse is the payload of the config endpoint.
type ConfigResponse struct {
	RolloutPercentage int       `json:"rolloutPercentage"`
	Endpoints         Endpoints `json:"endpoints"`
}

// PingRequest is the body sent to the ping (mixer) endpoint.
type PingRequest struct {
	UserIdentifiers        []UserIdentifier `json:"userIdentifiers"`
	AppVersion             string           `json:"appVersion"`
	SupportedCampaignTypes []int            `json:"supportedCampaignTypes"`
}

// PingResponse is the authoritative campaign list plus scheduling
// hints for the next poll.
type PingResponse struct {
	NextPingMilliseconds    int             `json:"nextPingMilliseconds"`
	CurrentPingMilliseconds int64           `json:"currentPingMilliseconds"`
	Data                    []campaign.Data `json:"data"`
}

// DisplayPermissionRequest asks the server whether a matched campaign
// may actually be shown right now.
type DisplayPermissionRequest struct {
	CampaignID             string           `json:"campaignId"`
	UserIdentifiers        []UserIdentifier `json:"userIdentifiers"`
	Platform               int              `json:"platform"`
	AppVersion             string           `json:"appVersion"`
	SDKVersion             string           `json:"sdkVersion"`
	Locale                 string           `json:"locale"`
	LastPingInMilliseconds int64            `json:"lastPingInMilliseconds"`
}

// DisplayPermissionResponse is the server's display decision.
type DisplayPermissionResponse struct {
	Display                  bool  `json:"display"`
	PerformPing              bool  `json:"performPing"`
	CreationTimeMilliseconds int64 `json:"creationTimeMilliseconds"`
}

// DefaultDisplayPermission is the fail-open fallback applied when the
// permission endpoint cannot be reached or returns garbage: display
// the message, do not force a re-ping.
func DefaultDisplayPermission() *DisplayPermissionResponse {
	return &DisplayPermissionResponse{Display: true, PerformPing: false}
}

// ImpressionType enumerates user interactions reported per displayed
// campaign.
type ImpressionType int

const (
	ImpressionTypeInvalid ImpressionType = iota
	ImpressionTypeImpression
	ImpressionTypeActionOne
	ImpressionTypeActionTwo
	ImpressionTypeClickContent
	ImpressionTypeExit
	ImpressionTypeOptOut
)

// Impression is one recorded interaction.
type Impression struct {
	Type      ImpressionType `json:"impType"`
	Timestamp int64          `json:"timestamp"`
}

// ImpressionRequest is the fire-and-forget impression report body.
type ImpressionRequest struct {
	CampaignID      string           `json:"campaignId"`
	IsTest          bool             `json:"isTest"`
	AppVersion      string           `json:"appVersion"`
	SDKVersion      string           `json:"sdkVersion"`
	Impressions     []Impression     `json:"impressions"`
	UserIdentifiers []UserIdentifier `json:"userIdentifiers"`
}
