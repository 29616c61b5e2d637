package pipeline

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
)

// RankFunc returns the authority rank of a source id. Lower is more
// authoritative.
type RankFunc func(sourceID string) int

// unranked sorts after every configured source.
const unranked = math.MaxInt32

func bestRank(e domain.HazardEvent, rank RankFunc) int {
	best := unranked
	for _, id := range e.SourceProvenance {
		best = min(best, rank(id))
	}
	return best
}

// Merge groups events by identity key and folds each group into one event
// with MergePair. The result is ordered most recently observed first.
func Merge(events []domain.HazardEvent, rank RankFunc) []domain.HazardEvent {
	byKey := make(map[string]int, len(events))
	out := make([]domain.HazardEvent, 0, len(events))
	for _, e := range events {
		if i, ok := byKey[e.IdentityKey]; ok {
			out[i] = MergePair(out[i], e, rank)
			continue
		}
		byKey[e.IdentityKey] = len(out)
		out = append(out, e.Clone())
	}
	slices.SortFunc(out, func(a, b domain.HazardEvent) int {
		if c := b.ObservedAt.Compare(a.ObservedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.IdentityKey, b.IdentityKey)
	})
	return out
}

// MergePair combines two reports of the same identity key.
//
// The more authoritative report (ties go to incoming) supplies location,
// observation time and descriptive fields. The higher severity tier
// supplies intensity, tier and category; on equal tiers the more
// authoritative report wins. Provenance is the union ordered by rank,
// IngestedAt the earliest set value, and the synthetic flag sticks.
func MergePair(existing, incoming domain.HazardEvent, rank RankFunc) domain.HazardEvent {
	primary, other := existing, incoming
	if bestRank(incoming, rank) <= bestRank(existing, rank) {
		primary, other = incoming, existing
	}

	out := primary.Clone()
	if other.Severity > primary.Severity {
		out.MagnitudeOrIntensity = other.MagnitudeOrIntensity
		out.Severity = other.Severity
		out.Category = other.Category
		out.Title = other.Title
	}
	fillBlanks(&out, other)

	out.SourceProvenance = unionProvenance(existing.SourceProvenance, incoming.SourceProvenance, rank)
	out.IngestedAt = earliest(existing.IngestedAt, incoming.IngestedAt)
	out.IsSynthetic = existing.IsSynthetic || incoming.IsSynthetic
	return out
}

// carryForward folds the stored version of an event into this cycle's
// reading. Earthquakes are fixed occurrences, so reports are merged as
// within a cycle. Storms and floods evolve, so the current reading keeps
// its intensity and only history (provenance, first ingest, place) is
// carried over.
func carryForward(stored, current domain.HazardEvent, rank RankFunc) domain.HazardEvent {
	if current.Kind == domain.KindEarthquake {
		return MergePair(stored, current, rank)
	}
	out := current.Clone()
	fillBlanks(&out, stored)
	out.SourceProvenance = unionProvenance(stored.SourceProvenance, current.SourceProvenance, rank)
	out.IngestedAt = earliest(stored.IngestedAt, current.IngestedAt)
	out.IsSynthetic = stored.IsSynthetic || current.IsSynthetic
	return out
}

func fillBlanks(dst *domain.HazardEvent, src domain.HazardEvent) {
	if dst.Place == "" {
		dst.Place = src.Place
	}
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Basin == "" {
		dst.Basin = src.Basin
	}
	if dst.Location.DepthKm == nil && src.Location.DepthKm != nil {
		d := *src.Location.DepthKm
		dst.Location.DepthKm = &d
	}
}

func unionProvenance(a, b []string, rank RankFunc) []string {
	out := make([]string, 0, len(a)+len(b))
	for _, id := range slices.Concat(a, b) {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	slices.SortStableFunc(out, func(x, y string) int {
		return cmp.Compare(rank(x), rank(y))
	})
	return out
}

func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	default:
		return a
	}
}
