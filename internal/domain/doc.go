// Package domain models natural-hazard events (earthquakes, tropical
// cyclones, river floods) and the subscribers who are alerted about them.
//
// # Data Sources
//
// Events arrive from several independent upstream providers, each read by a
// source adapter that emits loosely-typed [ProvisionalRecord] values. Every
// field on a provisional record is kept as the text the provider published so
// that unit and timezone handling lives in one place, [Normalize].
//
// # Upstream Conventions
//
// Timestamps:
//
//	JSON feeds (USGS, NHC, Open-Meteo) publish UTC or explicit offsets.
//	Philippine agency pages (PHIVOLCS, PAGASA) publish wall-clock time in
//	Philippine Standard Time (UTC+08:00) with no zone marker, e.g.
//	"21 March 2026 - 02:14 PM". Adapters set UTCOffsetSeconds and the layout;
//	the normalizer applies that fixed offset, never the machine's local zone.
//
// Units:
//
//	Wind: "kt" (knots, x1.852), "m/s" (x3.6), "mph" (x1.609344), "km/h".
//	Depth: free text such as "10 km", "033", "12.5km"; the first number is
//	taken as kilometres.
//	Discharge: cubic metres per second; only the ratio to the historical mean
//	is used.
//
// Severity classification is delegated to package severity:
//
//	Earthquake: <4.0 low | <6.0 moderate | <7.0 high | >=7.0 extreme
//	Storm:      TD/TS low | STS moderate | TY high | STY/SuperTY extreme
//	Flood:      ratio >1.2 low | >1.5 moderate | >2.0 high | >3.0 extreme
//
// A flood reading with ratio <= 1.2 is not a hazard and is rejected with
// [ErrNotHazard] so it never reaches the cache.
//
// # Identity Keys
//
// Identity keys are deterministic SHA-256 hashes namespaced by provider, so
// re-fetching the same physical event (including from a mirror of the same
// provider) yields the same key:
//
//	earthquake: provider | upstream event id, or provider | lat | lon | minute
//	storm:      provider | upper-cased storm name
//	flood:      provider | basin
//
// See [IdentityKey].
package domain
