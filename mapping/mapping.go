// Package mapping orchestrates the traversability map pipeline: laser scans
// are filtered and accumulated into a world-fixed elevation grid, smoothed
// by conservative interpolation, and classified into traversable terrain and
// obstacles. The grids slide with the robot so the map stays centered on the
// area being driven.
package mapping

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"

	"github.com/viam-modules/terrain-navigation/grid"
	"github.com/viam-modules/terrain-navigation/sensors"
)

const (
	// A new map is only computed after the robot moved enough for the
	// classification to change.
	minTranslation = 0.05           // m
	minRotation    = math.Pi / 36.0 // 5 degrees

	// rectangleStep is the sampling step used when stamping rectangles.
	rectangleStep = 0.03 // m

	// recenterFactor projects the grid center ahead of the robot on
	// recentering, assuming it keeps moving in the same direction.
	recenterFactor = 2.0 / 3.0
)

// ErrOutOfGrid denotes that a region stamping operation was called with a
// pose outside the traversability grid. The caller should recenter first.
var ErrOutOfGrid = errors.New("pose out of grid")

// AlignedBox is an axis-aligned box in the body frame used to mask out scan
// returns from the robot itself, e.g. its wheels.
type AlignedBox struct {
	Min r3.Vector
	Max r3.Vector
}

// Contains reports whether the point lies inside the box. Corner ordering
// does not matter.
func (b AlignedBox) Contains(p r3.Vector) bool {
	return within(p.X, b.Min.X, b.Max.X) && within(p.Y, b.Min.Y, b.Max.Y) && within(p.Z, b.Min.Z, b.Max.Z)
}

func within(v, a, b float64) bool {
	return v >= math.Min(a, b) && v <= math.Max(a, b)
}

// Config configures the map pipeline.
type Config struct {
	// GridWidth and GridHeight are the grid dimensions in cells.
	GridWidth  int
	GridHeight int
	// GridResolution is the cell edge length in meters.
	GridResolution float64
	// BoundarySize is the distance in meters from the grid edge at which
	// the grid is recentered ahead of the robot.
	BoundarySize float64
	// MaxStepSize is the elevation step in meters above which a cell is
	// classified as an obstacle.
	MaxStepSize float64
	// MaskedAreas are body-frame boxes whose scan returns are discarded.
	MaskedAreas []AlignedBox
}

// MapPipeline ingests laser scans and maintains the elevation and
// traversability grids. It is exclusively owned by its session and not safe
// for concurrent use.
type MapPipeline struct {
	laserGrid        *grid.ElevationGrid
	interpolatedGrid *grid.ElevationGrid
	travGrid         *grid.TraversabilityGrid

	boundarySize float64
	maxStepSize  float64
	maskedAreas  []AlignedBox

	lastBodyToOdo  spatialmath.Pose
	lastLaserToOdo spatialmath.Pose
	hasLast        bool

	logger logging.Logger
}

// NewMapPipeline returns a pipeline with empty grids centered on the world
// origin.
func NewMapPipeline(cfg Config, logger logging.Logger) *MapPipeline {
	return &MapPipeline{
		laserGrid:        grid.NewElevationGrid(cfg.GridWidth, cfg.GridHeight, cfg.GridResolution),
		interpolatedGrid: grid.NewElevationGrid(cfg.GridWidth, cfg.GridHeight, cfg.GridResolution),
		travGrid:         grid.NewTraversabilityGrid(cfg.GridWidth, cfg.GridHeight, cfg.GridResolution),
		boundarySize:     cfg.BoundarySize,
		maxStepSize:      cfg.MaxStepSize,
		maskedAreas:      cfg.MaskedAreas,
		logger:           logger,
	}
}

// ElevationGrid returns the raw elevation grid fed by scans.
func (m *MapPipeline) ElevationGrid() *grid.ElevationGrid { return m.laserGrid }

// InterpolatedGrid returns the smoothed elevation grid produced by the last
// ComputeNewMap.
func (m *MapPipeline) InterpolatedGrid() *grid.ElevationGrid { return m.interpolatedGrid }

// TraversabilityGrid returns the classification grid produced by the last
// ComputeNewMap.
func (m *MapPipeline) TraversabilityGrid() *grid.TraversabilityGrid { return m.travGrid }

// Ingest adds one laser sweep to the elevation grid. It returns true when
// the robot moved enough since the last accepted ingest that the downstream
// map should be recomputed via ComputeNewMap; scans arriving while the robot
// is effectively stationary are accumulated but reported as false.
func (m *MapPipeline) Ingest(ctx context.Context, reading sensors.ScanReading) bool {
	_, span := trace.StartSpan(ctx, "mapping::MapPipeline::Ingest")
	defer span.End()

	laserToOdo := spatialmath.Compose(reading.BodyToOdo, reading.LaserToBody)

	var distance, laserChange float64
	if m.hasLast {
		distance = reading.BodyToOdo.Point().Sub(m.lastBodyToOdo.Point()).Norm()
		laserChange = angleBetween(laserYAxis(laserToOdo), laserYAxis(m.lastLaserToOdo))
	}

	m.moveGridIfRobotNearBoundary(reading.BodyToOdo.Point())

	points := m.filterScan(&reading.Scan, reading.LaserToBody, laserToOdo)
	m.laserGrid.AddScan(points)

	if m.hasLast && distance < minTranslation && laserChange < minRotation {
		return false
	}

	m.lastBodyToOdo = reading.BodyToOdo
	m.lastLaserToOdo = laserToOdo
	m.hasLast = true
	return true
}

// ComputeNewMap smooths the elevation grid and reclassifies the
// traversability grid from the result. It observes every scan accepted
// before the call and none after.
func (m *MapPipeline) ComputeNewMap() {
	m.laserGrid.SmoothInto(m.interpolatedGrid)
	m.travGrid.ClassifyFrom(m.interpolatedGrid, m.maxStepSize)
}

// filterScan converts the sweep into world points, dropping beams that hit
// the masked body-frame boxes.
func (m *MapPipeline) filterScan(scan *sensors.LaserScan, laserToBody, laserToOdo spatialmath.Pose) []r3.Vector {
	points := make([]r3.Vector, 0, len(scan.Ranges))
	for i := range scan.Ranges {
		local, ok := scan.PointFromBeam(i)
		if !ok {
			continue
		}

		masked := false
		bodyPoint := sensors.TransformPoint(laserToBody, local)
		for _, box := range m.maskedAreas {
			if box.Contains(bodyPoint) {
				masked = true
				break
			}
		}
		if masked {
			continue
		}

		points = append(points, sensors.TransformPoint(laserToOdo, local))
	}
	return points
}

// moveGridIfRobotNearBoundary recenters the elevation grid fed by scans when
// the robot comes within the boundary margin of a grid edge; the derived
// grids adopt its origin on the next ComputeNewMap. Assuming the robot keeps moving
// in the same direction, the new center is projected forward by two thirds
// of the robot's displacement from the old center. A robot entirely outside
// the grid recenters onto itself.
func (m *MapPipeline) moveGridIfRobotNearBoundary(robotPosition r3.Vector) bool {
	posInGrid := robotPosition.Sub(m.laserGrid.Origin())

	halfWidth := float64(m.laserGrid.Width()) * m.laserGrid.Resolution() / 2.0
	halfHeight := float64(m.laserGrid.Height()) * m.laserGrid.Resolution() / 2.0

	if math.Abs(posInGrid.X) <= halfWidth-m.boundarySize && math.Abs(posInGrid.Y) <= halfHeight-m.boundarySize {
		return false
	}

	if math.Abs(posInGrid.X) > halfWidth || math.Abs(posInGrid.Y) > halfHeight {
		// initial case, robot might be out of grid
		posInGrid = r3.Vector{}
	}

	m.laserGrid.MoveTo(robotPosition.Add(posInGrid.Mul(recenterFactor)))
	return true
}

// MarkRadiusAs overwrites the classification of every unclassified or
// unknown-obstacle cell within radius of the pose. Upgrading a cell to
// traversable seeds the elevation cell with its own current median so
// subsequent smoothing treats it as known.
func (m *MapPipeline) MarkRadiusAs(pose spatialmath.Pose, radius float64, class grid.Traversability) error {
	posX, posY, ok := m.travGrid.GridPoint(pose.Point())
	if !ok {
		return errors.Wrapf(ErrOutOfGrid, "marking radius around %v with grid at %v", pose.Point(), m.travGrid.Origin())
	}

	resolution := m.travGrid.Resolution()
	radiusGrid := int(radius / resolution)
	for dx := -radiusGrid; dx <= radiusGrid; dx++ {
		for dy := -radiusGrid; dy <= radiusGrid; dy++ {
			if math.Hypot(float64(dx)*resolution, float64(dy)*resolution) > radius {
				continue
			}

			rx, ry := posX+dx, posY+dy
			if !m.travGrid.InGrid(rx, ry) {
				return errors.Wrapf(ErrOutOfGrid, "marking radius cell (%d, %d)", rx, ry)
			}

			entry := m.travGrid.Entry(rx, ry)
			if *entry != grid.Unclassified && *entry != grid.UnknownObstacle {
				continue
			}
			*entry = class
			if class == grid.Traversable {
				cell := m.laserGrid.Entry(rx, ry)
				cell.AddMeasurement(cell.Median())
			}
		}
	}
	return nil
}

// MarkRectangleAs overwrites the classification of every unclassified or
// unknown-obstacle cell under a width x height rectangle rotated to the pose
// heading and extended forward by forwardOffset. Upgrading an unmeasured
// cell to traversable seeds it at height zero.
func (m *MapPipeline) MarkRectangleAs(pose spatialmath.Pose, width, height, forwardOffset float64, class grid.Traversability) error {
	if _, _, ok := m.travGrid.GridPoint(pose.Point()); !ok {
		return errors.Wrapf(ErrOutOfGrid, "marking rectangle around %v with grid at %v", pose.Point(), m.travGrid.Origin())
	}

	heading := pose.Orientation().EulerAngles().Yaw
	sin, cos := math.Sincos(heading)

	for x := -width / 2.0; x <= width/2.0; x += rectangleStep {
		for y := -height / 2.0; y <= height/2.0+forwardOffset; y += rectangleStep {
			world := pose.Point().Add(r3.Vector{X: x*cos - y*sin, Y: x*sin + y*cos})

			gx, gy, ok := m.travGrid.GridPoint(world)
			if !ok {
				m.logger.Debugf("rectangle point %v not in grid", world)
				continue
			}

			entry := m.travGrid.Entry(gx, gy)
			if *entry != grid.Unclassified && *entry != grid.UnknownObstacle {
				continue
			}
			*entry = class
			if class == grid.Traversable {
				cell := m.laserGrid.Entry(gx, gy)
				if cell.MeasurementCount() == 0 {
					cell.AddMeasurement(0)
				}
			}
		}
	}
	return nil
}

// MarkRadiusAsTraversable marks the unknown area around the pose as safe to
// drive, e.g. the robot's starting footprint.
func (m *MapPipeline) MarkRadiusAsTraversable(pose spatialmath.Pose, radius float64) error {
	return m.MarkRadiusAs(pose, radius, grid.Traversable)
}

// MarkRadiusAsObstacle marks the unknown area around the pose as blocked.
func (m *MapPipeline) MarkRadiusAsObstacle(pose spatialmath.Pose, radius float64) error {
	return m.MarkRadiusAs(pose, radius, grid.Obstacle)
}

// MarkRectangleAsTraversable marks the unknown area under the rectangle as
// safe to drive.
func (m *MapPipeline) MarkRectangleAsTraversable(pose spatialmath.Pose, width, height, forwardOffset float64) error {
	return m.MarkRectangleAs(pose, width, height, forwardOffset, grid.Traversable)
}

// MarkRectangleAsObstacle marks the unknown area under the rectangle as
// blocked.
func (m *MapPipeline) MarkRectangleAsObstacle(pose spatialmath.Pose, width, height, forwardOffset float64) error {
	return m.MarkRectangleAs(pose, width, height, forwardOffset, grid.Obstacle)
}

// laserYAxis returns the direction of the laser frame's Y axis in the
// odometry frame.
func laserYAxis(laserToOdo spatialmath.Pose) r3.Vector {
	y := sensors.TransformPoint(laserToOdo, r3.Vector{Y: 1}).Sub(laserToOdo.Point())
	return y.Normalize()
}

func angleBetween(a, b r3.Vector) float64 {
	dot := a.Dot(b)
	if dot > 1 {
		dot = 1
	} else if dot < -1 {
		dot = -1
	}
	return math.Acos(dot)
}
