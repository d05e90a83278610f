package mapping

import (
	"math"

	"github.com/golang/geo/r3"
	geo "github.com/kellydunn/golang-geo"
)

// GeoReference anchors the local odometry frame to a geographic coordinate
// so map snapshots can be placed on a global map. The anchor is the
// geographic position of the odometry origin; bearing is the compass bearing
// of the odometry X axis in degrees.
type GeoReference struct {
	anchor  *geo.Point
	bearing float64
}

// NewGeoReference returns a reference with the given anchor and bearing.
func NewGeoReference(anchor *geo.Point, bearingDeg float64) *GeoReference {
	return &GeoReference{anchor: anchor, bearing: bearingDeg}
}

// Locate converts a point in the odometry frame to a geographic coordinate.
func (g *GeoReference) Locate(p r3.Vector) *geo.Point {
	distKm := math.Hypot(p.X, p.Y) / 1000.0
	if distKm == 0 {
		return geo.NewPoint(g.anchor.Lat(), g.anchor.Lng())
	}
	bearing := g.bearing - math.Atan2(p.Y, p.X)*180.0/math.Pi
	return g.anchor.PointAtDistanceAndBearing(distKm, bearing)
}

// LocateDump returns the geographic coordinate of a map snapshot's center.
func (g *GeoReference) LocateDump(dump GridDump) *geo.Point {
	return g.Locate(dump.GridPosition)
}
