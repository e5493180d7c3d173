// Package match implements the proximity check: which markers are close
// enough to the user to notify about, net of per-marker cooldowns.
package match

import (
	"sort"
	"time"

	"github.com/accesspath/tracking/internal/geo"
	"github.com/accesspath/tracking/internal/model"
)

// CooldownChecker reports per-marker suppression. Implemented by
// store.CooldownStore.
type CooldownChecker interface {
	IsInCooldown(markerID string, now time.Time) bool
}

// Match is one marker within the proximity threshold.
type Match struct {
	Marker         model.Marker
	DistanceMeters float64
}

// Group collects all matches sharing an obstacle type, so one prompt can
// cover several nearby markers of the same kind.
type Group struct {
	ObstacleType model.ObstacleType
	Matches      []Match
}

// MarkerIDs returns the IDs of every marker in the group.
func (g Group) MarkerIDs() []string {
	ids := make([]string, len(g.Matches))
	for i, m := range g.Matches {
		ids[i] = m.Marker.ID
	}
	return ids
}

// MaxScore returns the highest obstacle score in the group.
func (g Group) MaxScore() int {
	max := 0
	for _, m := range g.Matches {
		if m.Marker.ObstacleScore > max {
			max = m.Marker.ObstacleScore
		}
	}
	return max
}

// Matcher filters markers by distance and cooldown.
type Matcher struct {
	thresholdMeters float64
	cooldowns       CooldownChecker
}

// New creates a matcher with the given proximity threshold.
func New(thresholdMeters float64, cooldowns CooldownChecker) *Matcher {
	return &Matcher{
		thresholdMeters: thresholdMeters,
		cooldowns:       cooldowns,
	}
}

// Run returns the markers within the threshold of the sample that are not
// in cooldown, grouped by obstacle type. Groups are ordered most severe
// first: by the group's highest obstacle score, then the obstacle type's
// severity weight, then the type name for a stable order. Matches inside
// each group are ordered nearest first. A marker enters cooldown at
// notification dispatch, not here; running the matcher is side-effect free.
func (m *Matcher) Run(sample model.LocationSample, markers []model.Marker, now time.Time) []Group {
	byType := make(map[model.ObstacleType][]Match)
	for _, marker := range markers {
		d := geo.DistanceMeters(sample.Latitude, sample.Longitude, marker.Latitude, marker.Longitude)
		if d > m.thresholdMeters {
			continue
		}
		if m.cooldowns != nil && m.cooldowns.IsInCooldown(marker.ID, now) {
			continue
		}
		byType[marker.ObstacleType] = append(byType[marker.ObstacleType], Match{
			Marker:         marker,
			DistanceMeters: d,
		})
	}

	groups := make([]Group, 0, len(byType))
	for ot, matches := range byType {
		sort.Slice(matches, func(i, j int) bool {
			return matches[i].DistanceMeters < matches[j].DistanceMeters
		})
		groups = append(groups, Group{ObstacleType: ot, Matches: matches})
	}

	sort.Slice(groups, func(i, j int) bool {
		si, sj := groups[i].MaxScore(), groups[j].MaxScore()
		if si != sj {
			return si > sj
		}
		wi, wj := groups[i].ObstacleType.SeverityWeight(), groups[j].ObstacleType.SeverityWeight()
		if wi != wj {
			return wi > wj
		}
		return groups[i].ObstacleType < groups[j].ObstacleType
	})
	return groups
}

// Threshold returns the configured proximity threshold in meters.
func (m *Matcher) Threshold() float64 {
	return m.thresholdMeters
}
