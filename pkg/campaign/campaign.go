package campaign

import (
	"strings"

	"github.com/peakmsg/inapp-engine/pkg/event"
)

// Type identifies the layout family of a campaign. The numeric values
// match the type field of campaign payloads from the ping endpoint.
type Type int

const (
	TypeInvalid Type = iota
	TypeModal
	TypeFull
	TypeSlide
	TypeHTML
	TypeTooltip
)

// Operator is a trigger attribute comparison operator.
type Operator int

const (
	OperatorInvalid Operator = iota
	OperatorEquals
	OperatorIsNotEqual
	OperatorGreaterThan
	OperatorLessThan
	OperatorIsBlank
	OperatorIsNotBlank
	OperatorMatchesRegex
	OperatorDoesNotMatchRegex
)

// TriggerAttribute is a single attribute predicate inside a trigger.
type TriggerAttribute struct {
	Name     string          `json:"name"`
	Value    string          `json:"value"`
	Type     event.ValueType `json:"type"`
	Operator Operator        `json:"operator"`
}

// TriggerType distinguishes event triggers from entries the client
// does not understand (forward compatibility: unknown types are kept
// but never satisfied).
type TriggerType int

const (
	TriggerTypeInvalid TriggerType = iota
	TriggerTypeEvent
)

// Trigger is a condition that must be satisfied by a recorded event
// for a campaign to become eligible.
type Trigger struct {
	Type       TriggerType        `json:"type"`
	EventType  event.Kind         `json:"eventType"`
	EventName  string             `json:"eventName"`
	Attributes []TriggerAttribute `json:"attributes"`
}

// Normalize lowercases the case-insensitive parts of the trigger.
// Called once when a campaign payload is decoded.
func (t *Trigger) Normalize() {
	t.EventName = strings.ToLower(t.EventName)
	for i := range t.Attributes {
		t.Attributes[i].Name = strings.ToLower(t.Attributes[i].Name)
		t.Attributes[i].Value = strings.ToLower(t.Attributes[i].Value)
	}
}

// DisplaySettings controls when and how often a campaign may be shown.
type DisplaySettings struct {
	IntervalBetweenDisplaysMS int64 `json:"intervalBetweenDisplaysInMS,omitempty"`
	EndTimeMillis             int64 `json:"endTimeMillis,omitempty"`
	DelayMS                   int64 `json:"delay,omitempty"`
	Optable                   bool  `json:"optOut"`
}

// MessagePayload is the subset of the display content the engine needs.
// Rendering is owned by the host application's presenter.
type MessagePayload struct {
	Title         string `json:"title"`
	MessageBody   string `json:"messageBody,omitempty"`
	Header        string `json:"header,omitempty"`
	TargetElement string `json:"targetElement,omitempty"` // tooltip anchor view id
}

// Data is the immutable campaign definition as delivered by the server.
type Data struct {
	CampaignID      string          `json:"campaignId"`
	Type            Type            `json:"type"`
	MaxImpressions  int             `json:"maxImpressions"`
	IsTest          bool            `json:"isTest"`
	Triggers        []Trigger       `json:"triggers"`
	DisplaySettings DisplaySettings `json:"displaySettings"`
	MessagePayload  MessagePayload  `json:"messagePayload"`
}

// Normalize normalizes all triggers in place.
func (d *Data) Normalize() {
	for i := range d.Triggers {
		d.Triggers[i].Normalize()
	}
}

// Campaign wraps an immutable Data payload with the local consumption
// state the server does not know about. Identity is the campaign id;
// the mutable fields do not participate in equality.
type Campaign struct {
	Data              Data  `json:"campaignData"`
	ImpressionsLeft   int   `json:"impressionsLeft"`
	IsOptedOut        bool  `json:"isOptedOut"`
	LastDisplayedAtMs int64 `json:"lastDisplayedAtMs,omitempty"`
}

// New creates a campaign with a full impression budget.
func New(data Data) *Campaign {
	data.Normalize()
	return &Campaign{Data: data, ImpressionsLeft: data.MaxImpressions}
}

// ID returns the campaign identifier.
func (c *Campaign) ID() string {
	return c.Data.CampaignID
}

// IsTooltip reports whether the campaign is anchored to a view rather
// than displayed as a full message.
func (c *Campaign) IsTooltip() bool {
	return c.Data.Type == TypeTooltip
}

// IsOutdated reports whether the campaign's display window has ended
// at the given time. A zero end time means no end date.
func (c *Campaign) IsOutdated(nowMillis int64) bool {
	end := c.Data.DisplaySettings.EndTimeMillis
	return end > 0 && nowMillis > end
}

// Equal reports identity equality: two campaigns are the same campaign
// when their ids match, regardless of local state.
func (c *Campaign) Equal(other *Campaign) bool {
	if other == nil {
		return false
	}
	return c.ID() == other.ID()
}

// Copy returns a value copy of the campaign. Data is shared; it is
// treated as immutable everywhere.
func (c *Campaign) Copy() *Campaign {
	cp := *c
	return &cp
}
