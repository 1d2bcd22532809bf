package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMoonPresets(t *testing.T) {
	// Dark moon, waxing.
	mb := MoonScore(10, 8)
	assert.Equal(t, "P1", mb.Preset)
	assert.Positive(t, mb.Signed)

	// Waxing mid-cycle.
	mb = MoonScore(50, 45)
	assert.Equal(t, "P2", mb.Preset)
	assert.Positive(t, mb.Signed)

	// Waning mid-cycle.
	mb = MoonScore(50, 55)
	assert.Equal(t, "P3", mb.Preset)
	assert.Negative(t, mb.Signed)

	// Bright moon.
	mb = MoonScore(90, 95)
	assert.Equal(t, "P4", mb.Preset)
	assert.Negative(t, mb.Signed)
}

func TestMoonAnchorsAndStages(t *testing.T) {
	// Sitting on the new moon.
	mb := MoonScore(3, 5)
	assert.Equal(t, AnchorNew, mb.Anchor)
	assert.Equal(t, "on", mb.Stage)
	assert.Equal(t, 1.5, mb.Bonus)

	// On the full moon.
	mb = MoonScore(98, 95)
	assert.Equal(t, AnchorFull, mb.Anchor)
	assert.Equal(t, "on", mb.Stage)

	// Waxing at 50 sits on the first quarter, never the last.
	mb = MoonScore(50, 45)
	assert.Equal(t, AnchorFirstQuarter, mb.Anchor)

	// Waning at 50 is the last quarter.
	mb = MoonScore(50, 55)
	assert.Equal(t, AnchorLastQuarter, mb.Anchor)

	// Waxing at 30 approaches the first quarter: pre.
	mb = MoonScore(30, 25)
	assert.Equal(t, AnchorFirstQuarter, mb.Anchor)
	assert.Equal(t, "pre", mb.Stage)
	assert.Equal(t, 1.0, mb.Bonus)

	// Waxing at 65 has left the first quarter: post.
	mb = MoonScore(65, 60)
	assert.Equal(t, AnchorFirstQuarter, mb.Anchor)
	assert.Equal(t, "post", mb.Stage)
	assert.Equal(t, 0.5, mb.Bonus)

	// Waning at 60 approaches the last quarter: pre.
	mb = MoonScore(60, 65)
	assert.Equal(t, AnchorLastQuarter, mb.Anchor)
	assert.Equal(t, "pre", mb.Stage)
}

func TestMoonBonusRange(t *testing.T) {
	for illum := 0; illum <= 100; illum += 5 {
		for _, yesterday := range []int{illum - 3, illum + 3} {
			mb := MoonScore(illum, yesterday)
			assert.GreaterOrEqual(t, mb.Bonus, 0.0)
			assert.LessOrEqual(t, mb.Bonus, 1.5)
		}
	}
}
