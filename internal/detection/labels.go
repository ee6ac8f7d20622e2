package detection

import (
	"strings"

	"github.com/sua-org/ppe-watch/internal/core"
)

// Catalog is the fixed set of required items, in the order used for messages
// and per-item records.
var Catalog = []core.ItemType{
	core.ItemHelmet,
	core.ItemVest,
	core.ItemGloves,
	core.ItemBoots,
	core.ItemGoggles,
}

// labelTable maps raw model class names to canonical item types. Absence labels
// ("no_helmet", "NO-Hardhat") map to the same item as their presence form.
var labelTable = map[string]core.ItemType{
	"glove":          core.ItemGloves,
	"gloves":         core.ItemGloves,
	"goggles":        core.ItemGoggles,
	"helmet":         core.ItemHelmet,
	"hardhat":        core.ItemHelmet,
	"mask":           core.ItemMask,
	"shoes":          core.ItemBoots,
	"boots":          core.ItemBoots,
	"safety_vest":    core.ItemVest,
	"safety vest":    core.ItemVest,
	"vest":           core.ItemVest,
	"no_glove":       core.ItemGloves,
	"no_gloves":      core.ItemGloves,
	"no_goggles":     core.ItemGoggles,
	"no_helmet":      core.ItemHelmet,
	"no_hardhat":     core.ItemHelmet,
	"no_mask":        core.ItemMask,
	"no_shoes":       core.ItemBoots,
	"no_boots":       core.ItemBoots,
	"no-safety vest": core.ItemVest,
	"no-hardhat":     core.ItemHelmet,
	"no-gloves":      core.ItemGloves,
	"no-goggles":     core.ItemGoggles,
	"no-mask":        core.ItemMask,
	"person":         core.ItemPerson,
}

var catalogSet = func() map[core.ItemType]struct{} {
	m := make(map[core.ItemType]struct{}, len(Catalog))
	for _, t := range Catalog {
		m[t] = struct{}{}
	}
	return m
}()

// InCatalog reports whether t is one of the required items.
func InCatalog(t core.ItemType) bool {
	_, ok := catalogSet[t]
	return ok
}

// MapLabel returns the canonical item type and presence flag for a raw class
// name. Unknown labels fall back to their lowercased form.
func MapLabel(raw string) (core.ItemType, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	present := !strings.HasPrefix(key, "no_") && !strings.HasPrefix(key, "no-")

	if t, ok := labelTable[key]; ok {
		return t, present
	}
	if !present {
		key = key[3:]
	}
	return core.ItemType(key), present
}
