package track

import (
	"sort"
	"time"

	"github.com/couchcryptid/cad-incident-notifier/internal/domain"
)

// FindMergeTarget scans the table for a live record whose coordinates fall
// within radiusMeters of coords and whose last observation is within window
// of now. Candidates are scanned in sorted key order so repeated calls over
// the same table pick the same target. Returns the owning identity key, or
// ok=false when no record qualifies.
func FindMergeTarget(coords *domain.Coordinates, t *Table, now time.Time, radiusMeters float64, window time.Duration) (string, bool) {
	if coords == nil {
		return "", false
	}
	keys := make([]string, 0, len(t.Records))
	for key := range t.Records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	horizon := now.Add(-window)
	for _, key := range keys {
		rec := t.Records[key]
		if rec.Closed || rec.Coordinates == nil {
			continue
		}
		if rec.LastSeen.Before(horizon) {
			continue
		}
		if domain.Haversine(*coords, *rec.Coordinates) <= radiusMeters {
			return key, true
		}
	}
	return "", false
}
