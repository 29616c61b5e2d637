package alert

import (
	"fmt"
	"strings"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/severity"
)

// Message renders the user-facing text of a notification. distance and
// signal are included when known.
func Message(event domain.HazardEvent, distance *float64, signal *int) string {
	var b strings.Builder
	if event.IsSynthetic {
		b.WriteString("[TEST] ")
	}

	switch event.Kind {
	case domain.KindEarthquake:
		fmt.Fprintf(&b, "Magnitude %.1f earthquake %s", event.MagnitudeOrIntensity, where(event))
	case domain.KindStorm:
		fmt.Fprintf(&b, "%s %s with %.0f km/h winds", event.Category.Label(), event.Name, event.MagnitudeOrIntensity)
	case domain.KindFlood:
		fmt.Fprintf(&b, "Flood %s: %s river basin at %.1fx normal discharge",
			severity.FloodLevel(event.Severity), event.Basin, event.MagnitudeOrIntensity)
	default:
		b.WriteString(event.Title)
	}

	if distance != nil {
		fmt.Fprintf(&b, ", %.0f km from your area", *distance)
	}
	if signal != nil && *signal > 0 {
		fmt.Fprintf(&b, ", Signal No. %d", *signal)
	}
	return b.String()
}

func where(event domain.HazardEvent) string {
	if event.Place != "" {
		return "near " + event.Place
	}
	return fmt.Sprintf("at %.2f, %.2f", event.Location.Latitude, event.Location.Longitude)
}
