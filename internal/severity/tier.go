// Package severity holds the pure classification functions shared by the
// normalizer, the merge step, and alert matching: great-circle distance,
// severity tiers per hazard kind, and the tropical-cyclone public storm
// warning signal (PSWS) table.
//
// Nothing in this package performs I/O or reads the clock.
package severity

import (
	"fmt"
	"math"
	"strings"
)

// Tier is an ordered severity classification. Higher values are more severe,
// so tiers can be compared with the usual operators.
type Tier int

const (
	TierNone Tier = iota
	TierLow
	TierModerate
	TierHigh
	TierExtreme
)

var tierNames = [...]string{"none", "low", "moderate", "high", "extreme"}

func (t Tier) String() string {
	if t < TierNone || t > TierExtreme {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// ParseTier is the inverse of Tier.String. Matching is case-insensitive.
func ParseTier(s string) (Tier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range tierNames {
		if s == name {
			return Tier(i), nil
		}
	}
	return TierNone, fmt.Errorf("unknown severity tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// QuakeTier maps an earthquake magnitude to a tier:
//
//	<4.0 low | <6.0 moderate | <7.0 high | >=7.0 extreme
//
// Non-positive magnitudes are TierNone.
func QuakeTier(magnitude float64) Tier {
	switch {
	case magnitude <= 0:
		return TierNone
	case magnitude < 4.0:
		return TierLow
	case magnitude < 6.0:
		return TierModerate
	case magnitude < 7.0:
		return TierHigh
	default:
		return TierExtreme
	}
}

// QuakeSignificance is a coarse ranking score, round(magnitude * 100).
// It is not a calibrated unit.
func QuakeSignificance(magnitude float64) int {
	return int(math.Round(magnitude * 100))
}

// FloodSeverity classifies a discharge ratio (observed / historical mean).
// The second return value is false when the ratio does not describe a flood
// event at all (ratio <= 1.2); such readings are filtered before caching.
//
//	>1.2 low (monitoring) | >1.5 moderate (alert) | >2.0 high (alarm) | >3.0 extreme (alarm)
func FloodSeverity(ratio float64) (Tier, bool) {
	switch {
	case ratio > 3.0:
		return TierExtreme, true
	case ratio > 2.0:
		return TierHigh, true
	case ratio > 1.5:
		return TierModerate, true
	case ratio > 1.2:
		return TierLow, true
	default:
		return TierNone, false
	}
}

// FloodLevel names the public flood status for a tier.
func FloodLevel(t Tier) string {
	switch {
	case t >= TierHigh:
		return "alarm"
	case t == TierModerate:
		return "alert"
	case t == TierLow:
		return "monitoring"
	default:
		return "normal"
	}
}
