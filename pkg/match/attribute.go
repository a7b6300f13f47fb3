package match

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/peakmsg/inapp-engine/pkg/campaign"
	"github.com/peakmsg/inapp-engine/pkg/event"
)

// EvaluateAttribute evaluates a single trigger attribute condition
// against the event attribute with the same name (nil when the event
// does not carry it). It is a pure function: identical inputs always
// produce the same result, and nothing here errors out. Type
// mismatches, unparsable operands and invalid regex patterns all
// evaluate to false.
func EvaluateAttribute(cond campaign.TriggerAttribute, actual *event.CustomAttribute) bool {
	// Presence operators never look at the value.
	switch cond.Operator {
	case campaign.OperatorIsBlank:
		return actual == nil || actual.Value.IsEmpty()
	case campaign.OperatorIsNotBlank:
		return actual != nil && !actual.Value.IsEmpty()
	}

	if actual == nil || actual.Value.Type != cond.Type {
		return false
	}

	switch cond.Type {
	case event.TypeString:
		return evaluateString(cond.Operator, cond.Value, actual.Value.String)
	case event.TypeInteger:
		return evaluateInteger(cond.Operator, cond.Value, actual.Value.Int)
	case event.TypeDouble:
		return evaluateDouble(cond.Operator, cond.Value, actual.Value.Double)
	case event.TypeBoolean:
		return evaluateBool(cond.Operator, cond.Value, actual.Value.Bool)
	case event.TypeTimeMillis:
		return evaluateTime(cond.Operator, cond.Value, actual.Value.TimeMillis)
	default:
		return false
	}
}

func evaluateString(op campaign.Operator, expected, actual string) bool {
	switch op {
	case campaign.OperatorEquals:
		return strings.EqualFold(expected, actual)
	case campaign.OperatorIsNotEqual:
		return !strings.EqualFold(expected, actual)
	case campaign.OperatorMatchesRegex:
		re, err := regexp.Compile(expected)
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	case campaign.OperatorDoesNotMatchRegex:
		re, err := regexp.Compile(expected)
		if err != nil {
			return false
		}
		return !re.MatchString(actual)
	default:
		return false
	}
}

func evaluateInteger(op campaign.Operator, expected string, actual int) bool {
	want, err := strconv.Atoi(strings.TrimSpace(expected))
	if err != nil {
		return false
	}
	switch op {
	case campaign.OperatorEquals:
		return actual == want
	case campaign.OperatorIsNotEqual:
		return actual != want
	case campaign.OperatorGreaterThan:
		return actual > want
	case campaign.OperatorLessThan:
		return actual < want
	default:
		return false
	}
}

func evaluateDouble(op campaign.Operator, expected string, actual float64) bool {
	want, err := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	if err != nil {
		return false
	}
	switch op {
	case campaign.OperatorEquals:
		return actual == want
	case campaign.OperatorIsNotEqual:
		return actual != want
	case campaign.OperatorGreaterThan:
		return actual > want
	case campaign.OperatorLessThan:
		return actual < want
	default:
		return false
	}
}

func evaluateBool(op campaign.Operator, expected string, actual bool) bool {
	want, err := strconv.ParseBool(strings.TrimSpace(expected))
	if err != nil {
		return false
	}
	switch op {
	case campaign.OperatorEquals:
		return actual == want
	case campaign.OperatorIsNotEqual:
		return actual != want
	default:
		return false
	}
}

func evaluateTime(op campaign.Operator, expected string, actual int64) bool {
	want, err := strconv.ParseInt(strings.TrimSpace(expected), 10, 64)
	if err != nil {
		return false
	}
	switch op {
	case campaign.OperatorEquals:
		return actual == want
	case campaign.OperatorIsNotEqual:
		return actual != want
	case campaign.OperatorGreaterThan:
		return actual > want
	case campaign.OperatorLessThan:
		return actual < want
	default:
		return false
	}
}
