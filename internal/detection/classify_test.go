package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/ppe-watch/internal/core"
)

func det(t core.ItemType, present bool) core.ItemDetection {
	return core.ItemDetection{ItemType: t, Present: present, Confidence: 0.8}
}

func TestClassifyPartition(t *testing.T) {
	tests := []struct {
		name    string
		dets    []core.ItemDetection
		state   core.ComplianceState
		score   float64
		missing []core.ItemType
		message string
	}{
		{
			name:    "nothing detected",
			dets:    nil,
			state:   core.StateNoUse,
			score:   0,
			missing: Catalog,
			message: "No PPE",
		},
		{
			name:    "only absence labels",
			dets:    []core.ItemDetection{det(core.ItemHelmet, false), det(core.ItemVest, false)},
			state:   core.StateNoUse,
			score:   0,
			missing: Catalog,
			message: "No PPE",
		},
		{
			name: "all present",
			dets: []core.ItemDetection{
				det(core.ItemHelmet, true), det(core.ItemVest, true), det(core.ItemGloves, true),
				det(core.ItemBoots, true), det(core.ItemGoggles, true),
			},
			state:   core.StateCorrect,
			score:   100,
			message: "PPE complete",
		},
		{
			name: "two of five",
			dets: []core.ItemDetection{
				det(core.ItemHelmet, true), det(core.ItemVest, true), det(core.ItemPerson, true),
			},
			state:   core.StateIncomplete,
			score:   40,
			missing: []core.ItemType{core.ItemGloves, core.ItemBoots, core.ItemGoggles},
			message: "Missing: gloves, boots, goggles",
		},
		{
			name: "present wins over a conflicting absence",
			dets: []core.ItemDetection{
				det(core.ItemHelmet, false), det(core.ItemHelmet, true),
			},
			state:   core.StateIncomplete,
			score:   20,
			missing: []core.ItemType{core.ItemVest, core.ItemGloves, core.ItemBoots, core.ItemGoggles},
			message: "Missing: vest, gloves, boots, goggles",
		},
		{
			name:    "items outside the catalog do not count",
			dets:    []core.ItemDetection{det(core.ItemMask, true), det(core.ItemPerson, true)},
			state:   core.StateNoUse,
			score:   0,
			missing: Catalog,
			message: "No PPE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify(tt.dets)
			assert.Equal(t, tt.state, res.State)
			assert.InDelta(t, tt.score, res.Score, 1e-9)
			assert.Equal(t, tt.missing, res.Missing)
			assert.Equal(t, tt.message, res.Message)
			assert.Len(t, res.ItemStatus, len(Catalog))
		})
	}
}

func TestClassifyScoreMatchesPresentCount(t *testing.T) {
	// Every subset of the catalog.
	for mask := 0; mask < 1<<len(Catalog); mask++ {
		var dets []core.ItemDetection
		present := 0
		for i, it := range Catalog {
			if mask&(1<<i) != 0 {
				dets = append(dets, det(it, true))
				present++
			} else {
				dets = append(dets, det(it, false))
			}
		}

		res := Classify(dets)
		require.InDelta(t, 100*float64(present)/float64(len(Catalog)), res.Score, 1e-9)

		switch {
		case present == len(Catalog):
			require.Equal(t, core.StateCorrect, res.State)
		case present == 0:
			require.Equal(t, core.StateNoUse, res.State)
		default:
			require.Equal(t, core.StateIncomplete, res.State)
		}
		require.Equal(t, res, Classify(dets), "classification must be deterministic")
	}
}

func TestMapLabel(t *testing.T) {
	tests := []struct {
		raw     string
		item    core.ItemType
		present bool
	}{
		{"helmet", core.ItemHelmet, true},
		{"Hardhat", core.ItemHelmet, true},
		{"no_helmet", core.ItemHelmet, false},
		{"NO-Hardhat", core.ItemHelmet, false},
		{"Safety Vest", core.ItemVest, true},
		{"NO-Safety Vest", core.ItemVest, false},
		{"glove", core.ItemGloves, true},
		{"no_shoes", core.ItemBoots, false},
		{"goggles", core.ItemGoggles, true},
		{"person", core.ItemPerson, true},
		{"Forklift", core.ItemType("forklift"), true},
		{"no_ladder", core.ItemType("ladder"), false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			item, present := MapLabel(tt.raw)
			assert.Equal(t, tt.item, item)
			assert.Equal(t, tt.present, present)
		})
	}
}

func TestCountPersons(t *testing.T) {
	dets := []core.ItemDetection{det(core.ItemPerson, true), det(core.ItemHelmet, true), det(core.ItemPerson, true)}
	assert.Equal(t, 2, CountPersons(dets))
	assert.Equal(t, 0, CountPersons(nil))
}
