package match

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/peakmsg/inapp-engine/pkg/campaign"
	"github.com/peakmsg/inapp-engine/pkg/event"
	"github.com/sirupsen/logrus"
)

// CampaignSource supplies the current campaign snapshot. The campaign
// cache implements it.
type CampaignSource interface {
	List() []*campaign.Campaign
}

// EventMatcher remembers, per distinct trigger signature, the most
// recent event that satisfied it. A campaign's trigger list is
// satisfied when every one of its triggers has a remembered event.
//
// Only the latest matching event is kept per signature; last matching
// occurrence wins and memory stays bounded by the number of distinct
// triggers across all campaigns.
type EventMatcher struct {
	mu      sync.Mutex
	matched map[string]event.Event
	source  CampaignSource
}

// NewEventMatcher creates an event matcher over the given campaign source.
func NewEventMatcher(source CampaignSource) *EventMatcher {
	return &EventMatcher{
		matched: make(map[string]event.Event),
		source:  source,
	}
}

// Record matches the event against every trigger of every known
// campaign and remembers it under each satisfied trigger's signature.
// Safe for concurrent callers; performs no I/O.
func (m *EventMatcher) Record(ev event.Event) {
	if ev.Kind == event.KindInvalid {
		return
	}

	campaigns := m.source.List()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range campaigns {
		for i := range c.Data.Triggers {
			trigger := &c.Data.Triggers[i]
			if TriggerMatches(trigger, ev) {
				m.matched[TriggerSignature(trigger)] = ev
			}
		}
	}

	logrus.Debugf("recorded event %s (name=%s), %d trigger signatures matched so far",
		ev.Kind, ev.Name, len(m.matched))
}

// MatchedEvents reports whether every trigger in the list has a
// remembered matching event and, if so, which events satisfied them
// (one per trigger, in trigger order). An empty trigger list is
// trivially satisfied.
func (m *EventMatcher) MatchedEvents(triggers []campaign.Trigger) ([]event.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]event.Event, 0, len(triggers))
	for i := range triggers {
		ev, ok := m.matched[TriggerSignature(&triggers[i])]
		if !ok {
			return nil, false
		}
		events = append(events, ev)
	}
	return events, true
}

// Reset drops all remembered matches. Called on user switches so one
// account's events cannot satisfy another account's campaigns.
func (m *EventMatcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matched = make(map[string]event.Event)
}

// TriggerMatches reports whether the event satisfies the trigger:
// same event type, same (lowercased) event name, and every attribute
// predicate passing against the event's attribute map. An empty
// attribute list matches any event of that type and name.
func TriggerMatches(trigger *campaign.Trigger, ev event.Event) bool {
	if trigger.Type != campaign.TriggerTypeEvent {
		return false
	}
	if trigger.EventType != ev.Kind {
		return false
	}
	if !strings.EqualFold(trigger.EventName, ev.Name) {
		return false
	}
	for _, cond := range trigger.Attributes {
		if !EvaluateAttribute(cond, ev.Attribute(cond.Name)) {
			return false
		}
	}
	return true
}

// TriggerSignature returns a stable identifier for the trigger's
// normalized condition set. Attribute order does not affect it.
func TriggerSignature(trigger *campaign.Trigger) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(trigger.EventType)))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(trigger.EventName))

	if len(trigger.Attributes) == 0 {
		return b.String()
	}

	parts := make([]string, 0, len(trigger.Attributes))
	for _, attr := range trigger.Attributes {
		parts = append(parts, strings.Join([]string{
			strings.ToLower(attr.Name),
			strconv.Itoa(int(attr.Type)),
			strconv.Itoa(int(attr.Operator)),
			strings.ToLower(attr.Value),
		}, ","))
	}
	sort.Strings(parts)

	for _, p := range parts {
		b.WriteByte('|')
		b.WriteString(p)
	}
	return b.String()
}
