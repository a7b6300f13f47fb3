package campaign

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/peakmsg/inapp-engine/pkg/event"
)

func TestNew_StartsWithFullBudget(t *testing.T) {
	c := New(Data{CampaignID: "c1", MaxImpressions: 5})
	if c.ImpressionsLeft != 5 {
		t.Errorf("ImpressionsLeft = %d, want 5", c.ImpressionsLeft)
	}
	if c.IsOptedOut || c.LastDisplayedAtMs != 0 {
		t.Errorf("expected clean local state, got %+v", c)
	}
}

func TestNew_NormalizesTriggers(t *testing.T) {
	c := New(Data{
		CampaignID: "c1",
		Triggers: []Trigger{{
			Type:      TriggerTypeEvent,
			EventType: event.KindCustom,
			EventName: "Level_UP",
			Attributes: []TriggerAttribute{
				{Name: "Tier", Value: "GOLD", Type: event.TypeString, Operator: OperatorEquals},
			},
		}},
	})

	trigger := c.Data.Triggers[0]
	if trigger.EventName != "level_up" {
		t.Errorf("EventName = %s, want level_up", trigger.EventName)
	}
	if trigger.Attributes[0].Name != "tier" || trigger.Attributes[0].Value != "gold" {
		t.Errorf("attribute not normalized: %+v", trigger.Attributes[0])
	}
}

func TestEqual_IdentityIsTheID(t *testing.T) {
	a := New(Data{CampaignID: "c1", MaxImpressions: 5})
	b := New(Data{CampaignID: "c1", MaxImpressions: 2})
	b.IsOptedOut = true

	if !a.Equal(b) {
		t.Error("campaigns with the same id must be equal regardless of state")
	}
	if a.Equal(New(Data{CampaignID: "c2"})) {
		t.Error("campaigns with different ids must not be equal")
	}
	if a.Equal(nil) {
		t.Error("nil must never be equal")
	}
}

func TestIsOutdated(t *testing.T) {
	now := time.Now().UnixMilli()

	noEnd := New(Data{CampaignID: "c1"})
	if noEnd.IsOutdated(now) {
		t.Error("zero end time means no end date")
	}

	ended := New(Data{CampaignID: "c2", DisplaySettings: DisplaySettings{EndTimeMillis: now - 1}})
	if !ended.IsOutdated(now) {
		t.Error("expected campaign past its end time to be outdated")
	}

	running := New(Data{CampaignID: "c3", DisplaySettings: DisplaySettings{EndTimeMillis: now + 60_000}})
	if running.IsOutdated(now) {
		t.Error("expected campaign before its end time to be live")
	}
}

func TestIsTooltip(t *testing.T) {
	if !New(Data{CampaignID: "c1", Type: TypeTooltip}).IsTooltip() {
		t.Error("tooltip type must report IsTooltip")
	}
	if New(Data{CampaignID: "c2", Type: TypeModal}).IsTooltip() {
		t.Error("modal type must not report IsTooltip")
	}
}

func TestCopy_IsolatesLocalState(t *testing.T) {
	original := New(Data{CampaignID: "c1", MaxImpressions: 3})
	cp := original.Copy()
	cp.ImpressionsLeft = 0
	cp.IsOptedOut = true

	if original.ImpressionsLeft != 3 || original.IsOptedOut {
		t.Error("mutating a copy must not affect the original")
	}
}

func TestCampaignJSONRoundTrip(t *testing.T) {
	original := New(Data{
		CampaignID:     "c1",
		Type:           TypeModal,
		MaxImpressions: 3,
		DisplaySettings: DisplaySettings{
			IntervalBetweenDisplaysMS: 60_000,
			Optable:                   true,
		},
		MessagePayload: MessagePayload{Title: "Welcome"},
	})
	original.ImpressionsLeft = 2
	original.IsOptedOut = true
	original.LastDisplayedAtMs = 1234

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var decoded Campaign
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	if decoded.ID() != "c1" || decoded.ImpressionsLeft != 2 || !decoded.IsOptedOut || decoded.LastDisplayedAtMs != 1234 {
		t.Errorf("local state lost in round trip: %+v", decoded)
	}
	if !decoded.Data.DisplaySettings.Optable || decoded.Data.MessagePayload.Title != "Welcome" {
		t.Errorf("definition lost in round trip: %+v", decoded.Data)
	}
}
