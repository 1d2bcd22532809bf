package score

// ═══════════════════════════════════════════════════════════════════════════════
// MOON BONUS - Coarse lunar regime bias
// ═══════════════════════════════════════════════════════════════════════════════
//
// Illumination percent and waxing/waning (yesterday vs today) map to a
// preset P1..P4 and a pre/on/post stage relative to the nearest anchor
// (New, FirstQuarter, Full, LastQuarter). The bonus magnitude lands in
// [0, 1.5]; the signed variant carries the regime direction and is what
// enters the aggregate score. Neither picks the trade side.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Moon anchors.
const (
	AnchorNew          = "New"
	AnchorFirstQuarter = "FirstQuarter"
	AnchorFull         = "Full"
	AnchorLastQuarter  = "LastQuarter"
)

// MoonBonus is the resolved lunar regime for one evaluation.
type MoonBonus struct {
	Preset string // P1..P4
	Anchor string
	Stage  string  // pre | on | post
	Bonus  float64 // [0, 1.5]
	Signed float64 // bonus with regime sign, scoring only
}

// onBand is the illumination distance (percent points) treated as sitting
// on an anchor.
const onBand = 7

// MoonScore resolves the preset, anchor, stage and bonus from today's and
// yesterday's illumination percent.
func MoonScore(illum, yesterdayIllum int) MoonBonus {
	waxing := illum >= yesterdayIllum

	mb := MoonBonus{Preset: moonPreset(illum, waxing)}
	mb.Anchor, mb.Stage = moonAnchorStage(illum, waxing)
	mb.Bonus = stageBonus(mb.Stage)

	// Dark and waxing regimes bias long, bright and waning bias short.
	switch mb.Preset {
	case "P1", "P2":
		mb.Signed = mb.Bonus
	default:
		mb.Signed = -mb.Bonus
	}
	return mb
}

func moonPreset(illum int, waxing bool) string {
	switch {
	case illum < 25:
		return "P1"
	case illum >= 75:
		return "P4"
	case waxing:
		return "P2"
	default:
		return "P3"
	}
}

func moonAnchorStage(illum int, waxing bool) (anchor, stage string) {
	type candidate struct {
		name  string
		illum int
		// waxingAnchor: true if the anchor sits on the waxing half of
		// the cycle.
		waxingAnchor bool
	}
	candidates := []candidate{
		{AnchorNew, 0, true},
		{AnchorFirstQuarter, 50, true},
		{AnchorFull, 100, false},
		{AnchorLastQuarter, 50, false},
	}

	best := candidates[0]
	bestDist := 200
	for _, c := range candidates {
		dist := illum - c.illum
		if dist < 0 {
			dist = -dist
		}
		// Quarter anchors share illumination 50; the waxing flag picks
		// the right half of the cycle.
		if c.illum == 50 && c.waxingAnchor != waxing {
			dist += 100
		}
		if dist < bestDist {
			best = c
			bestDist = dist
		}
	}

	if bestDist <= onBand {
		return best.name, "on"
	}

	// Moving toward the anchor is pre, away is post. Illumination rises
	// while waxing, so the comparison flips per anchor.
	approaching := false
	switch best.name {
	case AnchorNew:
		approaching = !waxing
	case AnchorFull:
		approaching = waxing
	case AnchorFirstQuarter:
		approaching = waxing && illum < 50
	case AnchorLastQuarter:
		approaching = !waxing && illum > 50
	}
	if approaching {
		return best.name, "pre"
	}
	return best.name, "post"
}

func stageBonus(stage string) float64 {
	switch stage {
	case "on":
		return 1.5
	case "pre":
		return 1.0
	default:
		return 0.5
	}
}
