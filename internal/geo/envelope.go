package geo

import (
	"errors"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// ErrInvalidCoordinates is returned when a latitude/longitude pair is out of range.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ValidCoordinates reports whether the pair is a plausible WGS84 position.
// (0,0) is rejected: every occurrence in practice is an unset value, not a
// real fix in the Gulf of Guinea.
func ValidCoordinates(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Point3857FromLatLon projects a WGS84 position to EPSG 3857 (web mercator),
// the projection the backend uses for bounding-box queries.
func Point3857FromLatLon(lat, lon float64) (geom.Point, error) {
	if !ValidCoordinates(lat, lon) {
		return geom.Point{}, ErrInvalidCoordinates
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(lon, lat, 0)
	point, err := geom.NewPoint(
		geom.Coordinates{
			XY: geom.XY{X: x, Y: y},
		},
	)
	if err != nil {
		return geom.Point{}, ErrInvalidCoordinates
	}
	return point, nil
}

// searchSpan returns the half-extent in degrees of a box covering a circle
// of radiusMeters at the given latitude.
func searchSpan(lat, radiusMeters float64) (dLat, dLon float64) {
	dLat = radiusMeters / metersPerDegreeLat
	cosLat := math.Cos(Radians(lat))
	// Near the poles a degree of longitude shrinks to nothing; clamp so the
	// span stays finite.
	if cosLat < 1e-6 {
		cosLat = 1e-6
	}
	dLon = radiusMeters / (metersPerDegreeLat * cosLat)
	return dLat, dLon
}

// SearchEnvelope returns a lat/lon-aligned envelope covering a circle of
// radiusMeters around the center. It deliberately overshoots; callers filter
// the remainder with DistanceMeters.
func SearchEnvelope(lat, lon, radiusMeters float64) (geom.Envelope, error) {
	if !ValidCoordinates(lat, lon) {
		return geom.Envelope{}, ErrInvalidCoordinates
	}
	if radiusMeters < 0 {
		return geom.Envelope{}, ErrInvalidCoordinates
	}

	dLat, dLon := searchSpan(lat, radiusMeters)
	env, err := geom.NewEnvelope([]geom.XY{
		{X: lon - dLon, Y: lat - dLat},
		{X: lon + dLon, Y: lat + dLat},
	})
	if err != nil {
		return geom.Envelope{}, err
	}
	return env, nil
}

// EnvelopeContains reports whether the envelope covers the position.
func EnvelopeContains(env geom.Envelope, lat, lon float64) bool {
	return env.Contains(geom.XY{X: lon, Y: lat})
}

// BBox3857 projects the corners of the search box around a position to
// EPSG 3857, the frame the backend expects for its bounding-box query.
func BBox3857(lat, lon, radiusMeters float64) (minX, minY, maxX, maxY float64, err error) {
	if !ValidCoordinates(lat, lon) || radiusMeters < 0 {
		return 0, 0, 0, 0, ErrInvalidCoordinates
	}

	dLat, dLon := searchSpan(lat, radiusMeters)
	lower, err := Point3857FromLatLon(lat-dLat, lon-dLon)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	upper, err := Point3857FromLatLon(lat+dLat, lon+dLon)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	lo, ok := lower.XY()
	if !ok {
		return 0, 0, 0, 0, ErrInvalidCoordinates
	}
	hi, ok := upper.XY()
	if !ok {
		return 0, 0, 0, 0, ErrInvalidCoordinates
	}
	return lo.X, lo.Y, hi.X, hi.Y, nil
}
