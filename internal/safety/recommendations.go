package safety

// MaxRecommendations caps the advisory list.
const MaxRecommendations = 6

// AllClear is returned when no threshold triggers.
const AllClear = "Area appears safe; stay aware of your surroundings"

type band struct {
	factor Factor
	below  float64
	advice string
}

// Bands are ordered most severe first within a factor; only the first
// matching band per factor is used.
var bands = []band{
	{FactorLighting, 40, "Poor lighting: stick to well-lit main roads"},
	{FactorLighting, 60, "Lighting is patchy: keep a torch or phone light handy"},
	{FactorHazards, 30, "Several recent incidents reported nearby: avoid this area if you can"},
	{FactorHazards, 50, "Some incidents reported recently: stay alert"},
	{FactorFootfall, 30, "Very few people around: share your live location with someone you trust"},
	{FactorFootfall, 50, "Low foot traffic: prefer busier streets"},
	{FactorProximity, 40, "Emergency services are far away: keep 112 on speed dial"},
	{FactorProximity, 60, "Help is some distance away: note the nearest police station or hospital"},
}

// Recommendations maps factor values to advisories. The result is
// deterministic, never empty and at most MaxRecommendations long.
func Recommendations(fs Factors) []string {
	return RecommendationsFor(fs, Context{})
}

// RecommendationsFor adds context-specific advice to the factor table.
func RecommendationsFor(fs Factors, sctx Context) []string {
	var out []string
	seen := make(map[Factor]bool, len(AllFactors))

	for _, b := range bands {
		if seen[b.factor] {
			continue
		}
		if fs.Get(b.factor) < b.below {
			out = append(out, b.advice)
			seen[b.factor] = true
		}
	}

	if sctx.TimeOfDay.IsDark() && fs.Lighting < 60 {
		out = append(out, "Travel with a companion after dark where possible")
	}
	switch sctx.Weather {
	case WeatherRainy, WeatherStormy:
		out = append(out, "Wet weather reduces visibility: allow extra time and avoid flooded underpasses")
	}
	if sctx.UserType == UserTwoWheeler && fs.Hazards < 50 {
		out = append(out, "Avoid stopping in isolated stretches on a two-wheeler")
	}

	if len(out) == 0 {
		return []string{AllClear}
	}
	if len(out) > MaxRecommendations {
		out = out[:MaxRecommendations]
	}
	return out
}
