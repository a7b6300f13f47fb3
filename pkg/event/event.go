package event

import (
	"strings"
	"time"
)

// Kind identifies the category of an application event.
// The numeric values match the eventType field of campaign triggers
// delivered by the ping endpoint, so they must stay stable.
type Kind int

const (
	KindInvalid Kind = iota
	KindAppStart
	KindLogin
	KindPurchase
	KindCustom
	KindViewAppeared
)

// Canonical names for the predefined event kinds. Triggers delivered by
// the server carry the same names, lowercased.
const (
	NameAppStart     = "app_start"
	NameLogin        = "login_successful"
	NamePurchase     = "purchase_successful"
	NameViewAppeared = "view_appeared"
)

// String returns the canonical name for the kind, or "invalid".
func (k Kind) String() string {
	switch k {
	case KindAppStart:
		return NameAppStart
	case KindLogin:
		return NameLogin
	case KindPurchase:
		return NamePurchase
	case KindCustom:
		return "custom"
	case KindViewAppeared:
		return NameViewAppeared
	default:
		return "invalid"
	}
}

// Event is a single application occurrence that campaign triggers are
// matched against. Events are immutable once created; construct them
// through the New* helpers so names and attribute values are normalized.
type Event struct {
	Kind       Kind
	Name       string // always lowercase
	Timestamp  int64  // unix milliseconds
	Attributes map[string]CustomAttribute
}

// NowMillis returns the current time in unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewAppStart creates an app-start event.
func NewAppStart() Event {
	return Event{Kind: KindAppStart, Name: NameAppStart, Timestamp: NowMillis()}
}

// NewLogin creates a successful-login event.
func NewLogin() Event {
	return Event{Kind: KindLogin, Name: NameLogin, Timestamp: NowMillis()}
}

// NewPurchase creates a successful-purchase event with optional
// purchase attributes (amount, currency, item ids and so on).
func NewPurchase(attributes ...CustomAttribute) Event {
	return Event{
		Kind:       KindPurchase,
		Name:       NamePurchase,
		Timestamp:  NowMillis(),
		Attributes: attributeMap(attributes),
	}
}

// NewCustom creates a custom event. The name is matched case-insensitively
// against trigger event names; it is lowercased here once.
func NewCustom(name string, attributes ...CustomAttribute) Event {
	return Event{
		Kind:       KindCustom,
		Name:       strings.ToLower(name),
		Timestamp:  NowMillis(),
		Attributes: attributeMap(attributes),
	}
}

// NewViewAppeared creates a view-appeared event for the given view
// identifier. Tooltip campaigns anchor on these.
func NewViewAppeared(viewID string) Event {
	return Event{
		Kind:      KindViewAppeared,
		Name:      NameViewAppeared,
		Timestamp: NowMillis(),
		Attributes: attributeMap([]CustomAttribute{
			NewStringAttribute("viewid", viewID),
		}),
	}
}

// Attribute returns the attribute with the given name, nil if absent.
// Lookup is case-insensitive because names are lowercased at ingestion.
func (e Event) Attribute(name string) *CustomAttribute {
	attr, ok := e.Attributes[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return &attr
}

func attributeMap(attributes []CustomAttribute) map[string]CustomAttribute {
	if len(attributes) == 0 {
		return nil
	}
	m := make(map[string]CustomAttribute, len(attributes))
	for _, attr := range attributes {
		m[attr.Name] = attr
	}
	return m
}
