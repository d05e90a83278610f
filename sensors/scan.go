// Package sensors defines the laser scan input types and interfaces used by
// the terrain mapping pipeline.
package sensors

import (
	"context"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

// LaserScan is a single sweep of a planar range scanner. Beam i points at
// angle StartAngle + i*AngularResolution around the scanner's Z axis,
// measured from its X axis.
type LaserScan struct {
	// Ranges holds one range per beam in meters. Non-finite or non-positive
	// entries mark invalid beams.
	Ranges []float64
	// StartAngle is the angle of beam 0 in radians.
	StartAngle float64
	// AngularResolution is the angular step between beams in radians.
	AngularResolution float64
	// MinRange and MaxRange bound the valid measurement window in meters. A
	// MaxRange of zero means unbounded.
	MinRange float64
	MaxRange float64
}

// PointFromBeam converts a single beam into a point in the scanner frame.
// The boolean is false when the beam carries no valid measurement.
func (ls *LaserScan) PointFromBeam(i int) (r3.Vector, bool) {
	if i < 0 || i >= len(ls.Ranges) {
		return r3.Vector{}, false
	}
	rng := ls.Ranges[i]
	if math.IsNaN(rng) || math.IsInf(rng, 0) || rng <= 0 {
		return r3.Vector{}, false
	}
	if rng < ls.MinRange || (ls.MaxRange > 0 && rng > ls.MaxRange) {
		return r3.Vector{}, false
	}
	angle := ls.StartAngle + float64(i)*ls.AngularResolution
	return r3.Vector{X: rng * math.Cos(angle), Y: rng * math.Sin(angle)}, true
}

// PointCloud converts every valid beam into the frame described by the given
// transform.
func (ls *LaserScan) PointCloud(frame spatialmath.Pose) []r3.Vector {
	points := make([]r3.Vector, 0, len(ls.Ranges))
	for i := range ls.Ranges {
		p, ok := ls.PointFromBeam(i)
		if !ok {
			continue
		}
		points = append(points, TransformPoint(frame, p))
	}
	return points
}

// TransformPoint applies a rigid transform to a point.
func TransformPoint(frame spatialmath.Pose, p r3.Vector) r3.Vector {
	return spatialmath.Compose(frame, spatialmath.NewPoseFromPoint(p)).Point()
}

// ScanReading bundles one laser sweep with the transforms valid at capture
// time.
type ScanReading struct {
	Scan        LaserScan
	BodyToOdo   spatialmath.Pose
	LaserToBody spatialmath.Pose
	ReadingTime time.Time
}

// ScanSource describes a source of timed laser scans, e.g. a live scanner or
// a replayed log.
type ScanSource interface {
	NextScan(ctx context.Context) (ScanReading, error)
}
