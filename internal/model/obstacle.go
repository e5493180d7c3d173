package model

// ObstacleType classifies a hazard marker. Values mirror the backend's
// obstacle taxonomy exactly; unknown values decode as ObstacleOther.
type ObstacleType string

const (
	ObstacleStairs           ObstacleType = "STAIRS"
	ObstacleNarrowPath       ObstacleType = "NARROW_PATH"
	ObstacleSteepIncline     ObstacleType = "STEEP_INCLINE"
	ObstacleUnevenSurface    ObstacleType = "UNEVEN_SURFACE"
	ObstacleInPath           ObstacleType = "OBSTACLE_IN_PATH"
	ObstaclePoorLighting     ObstacleType = "POOR_LIGHTING"
	ObstacleConstruction     ObstacleType = "CONSTRUCTION"
	ObstacleMissingRamp      ObstacleType = "MISSING_RAMP"
	ObstacleMissingCrosswalk ObstacleType = "MISSING_CROSSWALK"
	ObstacleOther            ObstacleType = "OTHER"
)

// severityWeights are the per-type base weights used by the routing backend.
// They break ties between obstacle types whose markers carry equal scores.
var severityWeights = map[ObstacleType]int{
	ObstacleStairs:           1000,
	ObstacleInPath:           1000,
	ObstacleSteepIncline:     900,
	ObstacleConstruction:     900,
	ObstacleNarrowPath:       800,
	ObstacleMissingRamp:      800,
	ObstacleUnevenSurface:    700,
	ObstacleMissingCrosswalk: 700,
	ObstacleOther:            600,
	ObstaclePoorLighting:     500,
}

// SeverityWeight returns the routing weight for the obstacle type.
// Unknown types fall back to the OTHER weight.
func (t ObstacleType) SeverityWeight() int {
	if w, ok := severityWeights[t]; ok {
		return w
	}
	return severityWeights[ObstacleOther]
}

// Known reports whether the type is part of the backend taxonomy.
func (t ObstacleType) Known() bool {
	_, ok := severityWeights[t]
	return ok
}
