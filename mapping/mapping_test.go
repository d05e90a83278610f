package mapping

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/test"

	"github.com/viam-modules/terrain-navigation/grid"
	"github.com/viam-modules/terrain-navigation/sensors"
)

func testConfig() Config {
	return Config{
		GridWidth:      100,
		GridHeight:     100,
		GridResolution: 0.1,
		BoundarySize:   0.5,
		MaxStepSize:    0.2,
	}
}

func singleBeamReading(bodyToOdo spatialmath.Pose) sensors.ScanReading {
	return sensors.ScanReading{
		Scan: sensors.LaserScan{
			Ranges:            []float64{1.0},
			StartAngle:        0,
			AngularResolution: math.Pi / 180,
		},
		BodyToOdo:   bodyToOdo,
		LaserToBody: spatialmath.NewZeroPose(),
	}
}

func TestIngestMovementGate(t *testing.T) {
	logger := logging.NewTestLogger(t)
	pipeline := NewMapPipeline(testConfig(), logger)
	ctx := context.Background()

	t.Run("the first scan triggers a map update", func(t *testing.T) {
		updated := pipeline.Ingest(ctx, singleBeamReading(spatialmath.NewZeroPose()))
		test.That(t, updated, test.ShouldBeTrue)
	})

	t.Run("a stationary scan is accumulated but needs no update", func(t *testing.T) {
		updated := pipeline.Ingest(ctx, singleBeamReading(spatialmath.NewZeroPose()))
		test.That(t, updated, test.ShouldBeFalse)

		cell, ok := pipeline.ElevationGrid().EntryAtPoint(r3.Vector{X: 1})
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, cell.MeasurementCount(), test.ShouldEqual, 2)
	})

	t.Run("enough translation triggers an update", func(t *testing.T) {
		moved := spatialmath.NewPoseFromPoint(r3.Vector{X: 0.06})
		updated := pipeline.Ingest(ctx, singleBeamReading(moved))
		test.That(t, updated, test.ShouldBeTrue)
	})

	t.Run("enough rotation triggers an update", func(t *testing.T) {
		rotated := spatialmath.NewPose(r3.Vector{X: 0.06}, &spatialmath.EulerAngles{Yaw: math.Pi / 18})
		updated := pipeline.Ingest(ctx, singleBeamReading(rotated))
		test.That(t, updated, test.ShouldBeTrue)
	})
}

func TestIngestMasking(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cfg := testConfig()
	cfg.MaskedAreas = []AlignedBox{
		{Min: r3.Vector{X: 0.9, Y: -0.1, Z: -0.1}, Max: r3.Vector{X: 1.1, Y: 0.1, Z: 0.1}},
	}
	pipeline := NewMapPipeline(cfg, logger)

	pipeline.Ingest(context.Background(), singleBeamReading(spatialmath.NewZeroPose()))

	cell, ok := pipeline.ElevationGrid().EntryAtPoint(r3.Vector{X: 1})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, cell.MeasurementCount(), test.ShouldEqual, 0)
}

func TestAlignedBoxContains(t *testing.T) {
	box := AlignedBox{Min: r3.Vector{X: 1, Y: -1, Z: -1}, Max: r3.Vector{X: -1, Y: 1, Z: 1}}
	// corner ordering does not matter
	test.That(t, box.Contains(r3.Vector{}), test.ShouldBeTrue)
	test.That(t, box.Contains(r3.Vector{X: 2}), test.ShouldBeFalse)
}

func TestMoveGridIfRobotNearBoundary(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()

	t.Run("the grid recenters ahead of a robot near the edge", func(t *testing.T) {
		pipeline := NewMapPipeline(testConfig(), logger)
		pipeline.Ingest(ctx, singleBeamReading(spatialmath.NewPoseFromPoint(r3.Vector{X: 4.9})))
		// projected forward by two thirds of the displacement, quantized to cells
		test.That(t, pipeline.ElevationGrid().Origin().X, test.ShouldAlmostEqual, 8.2, 1e-9)
	})

	t.Run("a robot outside the grid recenters onto itself", func(t *testing.T) {
		pipeline := NewMapPipeline(testConfig(), logger)
		pipeline.Ingest(ctx, singleBeamReading(spatialmath.NewPoseFromPoint(r3.Vector{X: 20})))
		test.That(t, pipeline.ElevationGrid().Origin().X, test.ShouldAlmostEqual, 20, 1e-9)
	})

	t.Run("a robot well inside the grid does not move it", func(t *testing.T) {
		pipeline := NewMapPipeline(testConfig(), logger)
		pipeline.Ingest(ctx, singleBeamReading(spatialmath.NewZeroPose()))
		test.That(t, pipeline.ElevationGrid().Origin(), test.ShouldResemble, r3.Vector{})
	})
}

func TestComputeNewMap(t *testing.T) {
	logger := logging.NewTestLogger(t)
	pipeline := NewMapPipeline(testConfig(), logger)

	// one sample per cell center on a 2x2 m patch, with a 1 m step in the
	// middle
	var points []r3.Vector
	for ix := 0; ix < 20; ix++ {
		for iy := 0; iy < 20; iy++ {
			z := 0.0
			if ix == 10 && iy == 10 {
				z = 1.0
			}
			points = append(points, r3.Vector{X: float64(ix)*0.1 - 0.95, Y: float64(iy)*0.1 - 0.95, Z: z})
		}
	}
	pipeline.ElevationGrid().AddScan(points)
	pipeline.ComputeNewMap()

	trav := pipeline.TraversabilityGrid()

	t.Run("the step and its ring classify as obstacles", func(t *testing.T) {
		ix, iy, ok := trav.GridPoint(r3.Vector{X: 0.05, Y: 0.05})
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, *trav.Entry(ix, iy), test.ShouldEqual, grid.Obstacle)
		test.That(t, *trav.Entry(ix-1, iy), test.ShouldEqual, grid.Obstacle)
	})

	t.Run("flat ground away from the step is traversable", func(t *testing.T) {
		ix, iy, ok := trav.GridPoint(r3.Vector{X: -0.85, Y: -0.85})
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, *trav.Entry(ix, iy), test.ShouldEqual, grid.Traversable)
	})

	t.Run("unseen terrain stays unclassified", func(t *testing.T) {
		ix, iy, ok := trav.GridPoint(r3.Vector{X: 4, Y: 4})
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, *trav.Entry(ix, iy), test.ShouldEqual, grid.Unclassified)
	})
}

func TestMarkRadiusAs(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("a pose outside the grid fails with ErrOutOfGrid", func(t *testing.T) {
		pipeline := NewMapPipeline(testConfig(), logger)
		err := pipeline.MarkRadiusAsTraversable(spatialmath.NewPoseFromPoint(r3.Vector{X: 100}), 0.2)
		test.That(t, errors.Is(err, ErrOutOfGrid), test.ShouldBeTrue)
	})

	t.Run("unknown cells upgrade and get seeded", func(t *testing.T) {
		pipeline := NewMapPipeline(testConfig(), logger)
		err := pipeline.MarkRadiusAsTraversable(spatialmath.NewZeroPose(), 0.25)
		test.That(t, err, test.ShouldBeNil)

		ix, iy, _ := pipeline.TraversabilityGrid().GridPoint(r3.Vector{})
		test.That(t, *pipeline.TraversabilityGrid().Entry(ix, iy), test.ShouldEqual, grid.Traversable)
		test.That(t, pipeline.ElevationGrid().Entry(ix, iy).MeasurementCount(), test.ShouldEqual, 1)
	})

	t.Run("already classified cells are left alone", func(t *testing.T) {
		pipeline := NewMapPipeline(testConfig(), logger)
		ix, iy, _ := pipeline.TraversabilityGrid().GridPoint(r3.Vector{})
		*pipeline.TraversabilityGrid().Entry(ix, iy) = grid.Obstacle

		err := pipeline.MarkRadiusAsTraversable(spatialmath.NewZeroPose(), 0.25)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, *pipeline.TraversabilityGrid().Entry(ix, iy), test.ShouldEqual, grid.Obstacle)
	})

	t.Run("marking as obstacle does not seed elevations", func(t *testing.T) {
		pipeline := NewMapPipeline(testConfig(), logger)
		err := pipeline.MarkRadiusAsObstacle(spatialmath.NewZeroPose(), 0.25)
		test.That(t, err, test.ShouldBeNil)

		ix, iy, _ := pipeline.TraversabilityGrid().GridPoint(r3.Vector{})
		test.That(t, *pipeline.TraversabilityGrid().Entry(ix, iy), test.ShouldEqual, grid.Obstacle)
		test.That(t, pipeline.ElevationGrid().Entry(ix, iy).MeasurementCount(), test.ShouldEqual, 0)
	})
}

func TestMarkRectangleAs(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("a pose outside the grid fails with ErrOutOfGrid", func(t *testing.T) {
		pipeline := NewMapPipeline(testConfig(), logger)
		err := pipeline.MarkRectangleAsObstacle(spatialmath.NewPoseFromPoint(r3.Vector{X: 100}), 0.2, 0.2, 0)
		test.That(t, errors.Is(err, ErrOutOfGrid), test.ShouldBeTrue)
	})

	t.Run("the robot footprint upgrades to traversable seeded at zero", func(t *testing.T) {
		pipeline := NewMapPipeline(testConfig(), logger)
		err := pipeline.MarkRectangleAsTraversable(spatialmath.NewZeroPose(), 0.3, 0.3, 0.1)
		test.That(t, err, test.ShouldBeNil)

		ix, iy, _ := pipeline.TraversabilityGrid().GridPoint(r3.Vector{})
		test.That(t, *pipeline.TraversabilityGrid().Entry(ix, iy), test.ShouldEqual, grid.Traversable)

		cell := pipeline.ElevationGrid().Entry(ix, iy)
		test.That(t, cell.MeasurementCount(), test.ShouldEqual, 1)
		test.That(t, cell.Median(), test.ShouldEqual, 0.0)
	})

	t.Run("the forward offset extends the rectangle along the heading", func(t *testing.T) {
		pipeline := NewMapPipeline(testConfig(), logger)
		err := pipeline.MarkRectangleAsTraversable(spatialmath.NewZeroPose(), 0.1, 0.1, 1.0)
		test.That(t, err, test.ShouldBeNil)

		// heading zero extends along the y axis
		ix, iy, _ := pipeline.TraversabilityGrid().GridPoint(r3.Vector{Y: 0.9})
		test.That(t, *pipeline.TraversabilityGrid().Entry(ix, iy), test.ShouldEqual, grid.Traversable)

		ix, iy, _ = pipeline.TraversabilityGrid().GridPoint(r3.Vector{Y: -0.9})
		test.That(t, *pipeline.TraversabilityGrid().Entry(ix, iy), test.ShouldEqual, grid.Unclassified)
	})
}

func TestDump(t *testing.T) {
	logger := logging.NewTestLogger(t)
	pipeline := NewMapPipeline(testConfig(), logger)

	pipeline.ElevationGrid().AddScan([]r3.Vector{
		{X: 0, Y: 0, Z: 0.4},
	})
	pipeline.ComputeNewMap()

	dump := pipeline.Dump()
	test.That(t, dump.Width, test.ShouldEqual, 100)
	test.That(t, dump.Height, test.ShouldEqual, 100)
	test.That(t, dump.GridPosition, test.ShouldResemble, r3.Vector{})

	ix, iy, _ := pipeline.InterpolatedGrid().GridPoint(r3.Vector{})
	i := iy*dump.Width + ix
	test.That(t, dump.Heights[i], test.ShouldAlmostEqual, 0.4, 1e-9)
	test.That(t, dump.Traversability[i], test.ShouldEqual, grid.Traversable)

	t.Run("cells without measurements dump as infinite height", func(t *testing.T) {
		j := 0 // corner cell, never observed
		test.That(t, math.IsInf(dump.Heights[j], 1), test.ShouldBeTrue)
		test.That(t, math.IsInf(dump.Maxes[j], -1), test.ShouldBeTrue)
		test.That(t, dump.Interpolated[j], test.ShouldBeFalse)
		test.That(t, dump.Traversability[j], test.ShouldEqual, grid.Unclassified)
	})
}
