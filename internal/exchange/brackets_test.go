package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSLTPPercentTiers(t *testing.T) {
	sl, tp := SLTPPercent(3)
	assert.Equal(t, 6.0, sl)
	assert.Equal(t, 12.0, tp)

	sl, _ = SLTPPercent(10)
	assert.Equal(t, 4.0, sl)

	sl, _ = SLTPPercent(11)
	assert.Equal(t, 2.5, sl)

	sl, _ = SLTPPercent(125)
	assert.Equal(t, 0.8, sl)

	// Off the table clamps to the tightest tier.
	sl, _ = SLTPPercent(200)
	assert.Equal(t, 0.8, sl)
}

func TestDeriveSLTPDirectionAware(t *testing.T) {
	entry := decimal.NewFromInt(30000)

	sl, tp := DeriveSLTP(entry, SideLong, 10)
	assert.True(t, sl.LessThan(entry))
	assert.True(t, tp.GreaterThan(entry))
	assert.True(t, sl.Equal(decimal.NewFromInt(28800)), sl.String())
	assert.True(t, tp.Equal(decimal.NewFromInt(32400)), tp.String())

	sl, tp = DeriveSLTP(entry, SideShort, 10)
	assert.True(t, sl.GreaterThan(entry))
	assert.True(t, tp.LessThan(entry))
	assert.True(t, sl.Equal(decimal.NewFromInt(31200)), sl.String())
	assert.True(t, tp.Equal(decimal.NewFromInt(27600)), tp.String())
}
