package core

// Canonical keys for custom numeric override fields carried on a scope
// instance. Historical clients have shipped the same logical field under
// several names; the alias table below maps every known spelling back to one
// canonical key. Resolution happens once, at the reconciliation boundary,
// never inside merge logic.
const (
	OverrideCustomFactor      = "custom_factor"
	OverrideCustomUncertainty = "custom_uncertainty"
	OverrideAnnualHours       = "annual_hours"
)

// overrideAliases lists accepted spellings per canonical key, most recent
// first. The first non-nil alias wins, checked incoming before existing.
var overrideAliases = map[string][]string{
	OverrideCustomFactor:      {"custom_factor", "customEmissionFactor", "manual_factor", "factorOverride"},
	OverrideCustomUncertainty: {"custom_uncertainty", "customUncertainty", "manual_uncertainty"},
	OverrideAnnualHours:       {"annual_hours", "annualHours", "operating_hours"},
}

// resolveOverrides collapses alias-named raw values into canonical keys,
// falling back to the existing canonical map when no incoming alias is set.
func resolveOverrides(raw map[string]*float64, existing map[string]float64) map[string]float64 {
	var out map[string]float64
	set := func(key string, val float64) {
		if out == nil {
			out = make(map[string]float64)
		}
		out[key] = val
	}
	for canonical, aliases := range overrideAliases {
		if val, ok := firstAlias(raw, aliases); ok {
			set(canonical, val)
			continue
		}
		if existing != nil {
			if val, ok := existing[canonical]; ok {
				set(canonical, val)
			}
		}
	}
	return out
}

func firstAlias(raw map[string]*float64, aliases []string) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	for _, name := range aliases {
		if v, ok := raw[name]; ok && v != nil {
			return *v, true
		}
	}
	return 0, false
}
