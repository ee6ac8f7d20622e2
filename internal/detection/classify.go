package detection

import (
	"fmt"
	"strings"

	"github.com/sua-org/ppe-watch/internal/core"
)

// Classify derives the compliance result for one frame. An item counts as
// present only if at least one detection of that type has Present set.
// Pure: the same detections always give the same result.
func Classify(dets []core.ItemDetection) core.ComplianceResult {
	status := make(map[core.ItemType]bool, len(Catalog))
	for _, t := range Catalog {
		status[t] = false
	}
	for _, d := range dets {
		if d.Present && InCatalog(d.ItemType) {
			status[d.ItemType] = true
		}
	}

	present := 0
	var missing []core.ItemType
	for _, t := range Catalog {
		if status[t] {
			present++
		} else {
			missing = append(missing, t)
		}
	}

	res := core.ComplianceResult{
		Score:      100 * float64(present) / float64(len(Catalog)),
		ItemStatus: status,
		Missing:    missing,
	}
	switch {
	case present == len(Catalog):
		res.State = core.StateCorrect
		res.Message = "PPE complete"
	case present > 0:
		res.State = core.StateIncomplete
		res.Message = fmt.Sprintf("Missing: %s", joinItems(missing))
	default:
		res.State = core.StateNoUse
		res.Message = "No PPE"
	}
	return res
}

// CountPersons returns how many person boxes are in dets.
func CountPersons(dets []core.ItemDetection) int {
	n := 0
	for _, d := range dets {
		if d.ItemType == core.ItemPerson {
			n++
		}
	}
	return n
}

func joinItems(items []core.ItemType) string {
	parts := make([]string, len(items))
	for i, t := range items {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
