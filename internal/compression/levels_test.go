package compression

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		name     string
		pressure float64
		class    Classification
		want     int
	}{
		{"idle session", 0.1, Session, 1},
		{"efficient band", 0.5, Session, 2},
		{"compressed band", 0.75, Session, 3},
		{"critical band", 0.92, Session, 4},
		{"emergency band", 0.97, Session, 5},
		{"band edge belongs above", 0.85, Session, 4},
		{"full pressure", 1, Session, 5},
		{"user capped", 0.99, User, 1},
		{"user low", 0.2, User, 1},
		{"protected ignores pressure", 1, Protected, 0},
		{"negative clamps", -3, Session, 1},
		{"above one clamps", 7, Session, 5},
		{"nan clamps", math.NaN(), Session, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LevelFor(tt.pressure, tt.class))
		})
	}
}

func TestLevelFor_MonotonicInPressure(t *testing.T) {
	prev := 0
	for p := 0.0; p <= 1.0; p += 0.01 {
		level := LevelFor(p, Session)
		assert.GreaterOrEqual(t, level, prev, "pressure %.2f", p)
		prev = level
	}
}

func TestStrategies_ThresholdNonIncreasing(t *testing.T) {
	for level := 1; level <= MaxLevel; level++ {
		assert.LessOrEqual(t, StrategyFor(level).QualityThreshold, StrategyFor(level-1).QualityThreshold)
		assert.Equal(t, level, StrategyFor(level).Level)
	}
	assert.InDelta(t, 0.85, StrategyFor(4).QualityThreshold, 1e-9)
	assert.Equal(t, MaxLevel, StrategyFor(99).Level)
	assert.Equal(t, 0, StrategyFor(-1).Level)
}
