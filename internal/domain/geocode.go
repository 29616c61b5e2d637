package domain

import (
	"context"
	"log/slog"
)

// FillPlace names an event's place by reverse geocoding its coordinates
// when the source did not publish one. Geocoding is best effort: on error
// or an empty result the event is returned unchanged.
func FillPlace(ctx context.Context, event HazardEvent, geocoder Geocoder, logger *slog.Logger) HazardEvent {
	if geocoder == nil || event.Place != "" || event.IsSynthetic {
		return event
	}

	result, err := geocoder.ReverseGeocode(ctx, event.Location.Latitude, event.Location.Longitude)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"identity_key", event.IdentityKey,
			"lat", event.Location.Latitude,
			"lon", event.Location.Longitude,
			"error", err,
		)
		return event
	}

	switch {
	case result.PlaceName != "":
		event.Place = result.PlaceName
	case result.FormattedAddress != "":
		event.Place = result.FormattedAddress
	}
	return event
}
