package compression

import "math"

// strategies is indexed by level.
var strategies = [...]Strategy{
	{Level: 0, Name: "passthrough", Structural: StructuralNone, QualityThreshold: 1.0},
	{Level: 1, Name: "minimal", Structural: StructuralWhitespace, QualityThreshold: 0.98},
	{Level: 2, Name: "efficient", SymbolSystems: true, Structural: StructuralWhitespace, QualityThreshold: 0.95},
	{Level: 3, Name: "compressed", SymbolSystems: true, Abbreviations: true, Structural: StructuralWhitespace, QualityThreshold: 0.90},
	{Level: 4, Name: "critical", SymbolSystems: true, Abbreviations: true, Structural: StructuralAggressive, QualityThreshold: 0.85},
	{Level: 5, Name: "emergency", SymbolSystems: true, Abbreviations: true, Structural: StructuralMaximal, QualityThreshold: 0.80},
}

// MaxLevel is the most aggressive level.
const MaxLevel = len(strategies) - 1

// upper bounds (exclusive) of the pressure band for levels 1-4; anything
// at or above the last bound is level 5.
var pressureBounds = [...]float64{0.40, 0.70, 0.85, 0.95}

// StrategyFor returns the strategy for level, clamped to [0, MaxLevel].
func StrategyFor(level int) Strategy {
	return strategies[max(0, min(level, MaxLevel))]
}

// LevelFor maps pressure and classification to a level. It is monotonic in
// pressure.
func LevelFor(pressure float64, c Classification) int {
	if c == Protected {
		return 0
	}
	level := MaxLevel
	p := clampPressure(pressure)
	for i, bound := range pressureBounds {
		if p < bound {
			level = i + 1
			break
		}
	}
	if c == User {
		level = min(level, 1)
	}
	return level
}

func clampPressure(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	return min(p, 1)
}
