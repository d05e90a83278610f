package grid

import "math"

// Traversability classifies a single map cell.
type Traversability uint8

const (
	// Unclassified marks a cell with no information at all.
	Unclassified Traversability = iota
	// Traversable marks a cell the robot may drive over.
	Traversable
	// Obstacle marks a cell failing the step-height criterion.
	Obstacle
	// UnknownObstacle marks a cell with indirect evidence of an obstruction
	// but no direct height measurement.
	UnknownObstacle
)

// String implements fmt.Stringer.
func (t Traversability) String() string {
	switch t {
	case Unclassified:
		return "unclassified"
	case Traversable:
		return "traversable"
	case Obstacle:
		return "obstacle"
	case UnknownObstacle:
		return "unknown_obstacle"
	default:
		return "invalid"
	}
}

// TraversabilityGrid is a sliding grid of per-cell classifications derived
// from an elevation grid.
type TraversabilityGrid struct {
	*SlidingGrid[Traversability]
}

// NewTraversabilityGrid returns a traversability grid of the given
// dimensions with every cell unclassified.
func NewTraversabilityGrid(width, height int, resolution float64) *TraversabilityGrid {
	return &TraversabilityGrid{NewSlidingGrid(width, height, resolution, func() Traversability { return Unclassified })}
}

// ClassifyFrom reclassifies the whole grid from the given elevation grid
// using a local step-height test: a cell becomes an obstacle when the height
// difference to any 8-neighbor exceeds maxStepSize. Cells without direct
// measurements but with a recorded maximum are tentatively unknown
// obstacles. The grid adopts the elevation grid's origin.
func (g *TraversabilityGrid) ClassifyFrom(elev *ElevationGrid, maxStepSize float64) {
	g.SetOrigin(elev.Origin())
	for iy := 0; iy < elev.Height(); iy++ {
		for ix := 0; ix < elev.Width(); ix++ {
			*g.Entry(ix, iy) = classifyCell(elev, ix, iy, maxStepSize)
		}
	}
}

func classifyCell(elev *ElevationGrid, ix, iy int, maxStepSize float64) Traversability {
	entry := elev.Entry(ix, iy)

	if entry.MeasurementCount() == 0 && math.IsInf(entry.Maximum(), -1) {
		return Unclassified
	}

	cl := Traversable
	var curHeight float64
	if entry.MeasurementCount() == 0 {
		curHeight = entry.Maximum()
		cl = UnknownObstacle
	} else {
		curHeight = entry.Median()
	}

	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := ix+dx, iy+dy
			if !elev.InGrid(nx, ny) {
				continue
			}
			neighbor := elev.Entry(nx, ny)

			var neighborHeight float64
			if neighbor.MeasurementCount() > 0 {
				neighborHeight = neighbor.Median()
			} else {
				if math.IsInf(neighbor.Maximum(), -1) {
					// no data at all, nothing to compare against
					continue
				}
				// no direct measurement, assume the worst plausible drop
				neighborHeight = neighbor.Minimum()
			}

			if math.Abs(neighborHeight-curHeight) > maxStepSize {
				cl = Obstacle
			}
		}
	}
	return cl
}
