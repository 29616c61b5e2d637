package severity

import (
	"fmt"
	"strings"
)

// Category is a tropical-cyclone intensity class, ordered weakest first.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryTD               // tropical depression
	CategoryTS               // tropical storm
	CategorySTS              // severe tropical storm
	CategoryTY               // typhoon
	CategorySTY              // severe typhoon
	CategorySuperTY          // super typhoon
)

var categoryCodes = [...]string{"", "TD", "TS", "STS", "TY", "STY", "SuperTY"}

var categoryLabels = [...]string{
	"Tropical Cyclone",
	"Tropical Depression",
	"Tropical Storm",
	"Severe Tropical Storm",
	"Typhoon",
	"Severe Typhoon",
	"Super Typhoon",
}

// Lower wind bound (km/h, 10-minute sustained) for each category.
var categoryFloorKmh = [...]float64{0, 0, 62, 89, 118, 150, 185}

// Representative sustained wind (km/h) used when a source only reports the
// category, roughly the middle of each band.
var categoryRepresentativeKmh = [...]float64{0, 45, 75, 103, 134, 167, 205}

func (c Category) String() string {
	if c < CategoryUnknown || c > CategorySuperTY {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryCodes[c]
}

// Label is the human-readable category name, e.g. "Severe Tropical Storm".
func (c Category) Label() string {
	if c < CategoryUnknown || c > CategorySuperTY {
		return categoryLabels[0]
	}
	return categoryLabels[c]
}

// ParseCategory accepts category codes ("STS", "SuperTY") as well as the
// spelled-out names and the common agency abbreviations (TD, TS, TY, STY,
// SUPER TYPHOON). The empty string yields CategoryUnknown without error.
func ParseCategory(s string) (Category, error) {
	norm := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	switch norm {
	case "":
		return CategoryUnknown, nil
	case "TD", "TROPICAL DEPRESSION":
		return CategoryTD, nil
	case "TS", "TROPICAL STORM":
		return CategoryTS, nil
	case "STS", "SEVERE TROPICAL STORM":
		return CategorySTS, nil
	case "TY", "TYPHOON", "HU", "HURRICANE":
		return CategoryTY, nil
	case "STY", "SEVERE TYPHOON":
		return CategorySTY, nil
	case "SUPERTY", "SUPER TY", "SUPER TYPHOON":
		return CategorySuperTY, nil
	}
	return CategoryUnknown, fmt.Errorf("unknown storm category %q", s)
}

// CategoryFromWindKmh classifies a sustained wind speed.
func CategoryFromWindKmh(kmh float64) Category {
	if kmh <= 0 {
		return CategoryUnknown
	}
	for c := CategorySuperTY; c > CategoryTD; c-- {
		if kmh >= categoryFloorKmh[c] {
			return c
		}
	}
	return CategoryTD
}

// RepresentativeWindKmh returns the nominal wind speed for a category, or 0
// for CategoryUnknown.
func RepresentativeWindKmh(c Category) float64 {
	if c <= CategoryUnknown || c > CategorySuperTY {
		return 0
	}
	return categoryRepresentativeKmh[c]
}

// StormTier derives the severity tier of a storm from its sustained wind.
func StormTier(kmh float64) Tier {
	switch CategoryFromWindKmh(kmh) {
	case CategoryTD, CategoryTS:
		return TierLow
	case CategorySTS:
		return TierModerate
	case CategoryTY:
		return TierHigh
	case CategorySTY, CategorySuperTY:
		return TierExtreme
	default:
		return TierNone
	}
}

type signalStep struct {
	maxKm  float64
	signal int
}

// signalTable holds the distance breakpoints per category, nearest first.
// For every distance a stronger category yields a signal greater than or
// equal to any weaker one.
var signalTable = map[Category][]signalStep{
	CategoryTD: {
		{100, 1},
	},
	CategoryTS: {
		{100, 2},
		{200, 1},
	},
	CategorySTS: {
		{50, 3},
		{150, 2},
		{300, 1},
	},
	CategoryTY: {
		{50, 4},
		{100, 3},
		{200, 2},
		{500, 1},
	},
	CategorySTY: {
		{50, 5},
		{100, 4},
		{150, 3},
		{300, 2},
		{700, 1},
	},
	CategorySuperTY: {
		{50, 5},
		{100, 4},
		{200, 3},
		{400, 2},
		{1000, 1},
	},
}

// StormSignalNumber returns the public storm warning signal (0..5) for a
// location distanceKm away from a cyclone of the given category. The result
// is non-increasing in distance for a fixed category.
func StormSignalNumber(c Category, distanceKm float64) int {
	if distanceKm < 0 {
		distanceKm = 0
	}
	for _, step := range signalTable[c] {
		if distanceKm <= step.maxKm {
			return step.signal
		}
	}
	return 0
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
