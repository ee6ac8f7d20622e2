package alerts

import (
	"strings"

	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/detection"
)

// Alert types.
const (
	TypeNoPPE           = "no_ppe"
	TypeMissingHelmet   = "missing_helmet"
	TypeMissingVest     = "missing_vest"
	TypeMultipleMissing = "multiple_missing"
	TypeIncorrectPPE    = "incorrect_ppe"
)

// Classify derives the alert type, severity and message for a non-compliant
// result. The first matching rule wins: no PPE at all, missing helmet,
// missing vest, three or more missing, anything else.
func Classify(res core.ComplianceResult) (typ string, sev core.Severity, msg string) {
	if res.State == core.StateNoUse {
		return TypeNoPPE, core.SeverityCritical, "Worker without PPE detected"
	}

	missing := missingItems(res)
	has := func(t core.ItemType) bool {
		for _, m := range missing {
			if m == t {
				return true
			}
		}
		return false
	}

	switch {
	case has(core.ItemHelmet):
		typ, sev = TypeMissingHelmet, core.SeverityCritical
	case has(core.ItemVest):
		typ, sev = TypeMissingVest, core.SeverityHigh
	case len(missing) >= 3:
		typ, sev = TypeMultipleMissing, core.SeverityHigh
	default:
		typ, sev = TypeIncorrectPPE, core.SeverityMedium
	}

	names := make([]string, len(missing))
	for i, m := range missing {
		names[i] = string(m)
	}
	return typ, sev, "Incorrect PPE: missing " + strings.Join(names, ", ")
}

// missingItems prefers the result's own list and falls back to the item map,
// in catalog order.
func missingItems(res core.ComplianceResult) []core.ItemType {
	if len(res.Missing) > 0 {
		return res.Missing
	}
	var out []core.ItemType
	for _, t := range detection.Catalog {
		if present, ok := res.ItemStatus[t]; ok && !present {
			out = append(out, t)
		}
	}
	return out
}
