package dataprocess

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/viam-modules/terrain-navigation/grid"
	"github.com/viam-modules/terrain-navigation/mapping"
)

func testDump() mapping.GridDump {
	width, height := 4, 4
	dump := mapping.GridDump{
		Width:          width,
		Height:         height,
		Resolution:     0.5,
		Heights:        make([]float64, width*height),
		Maxes:          make([]float64, width*height),
		Interpolated:   make([]bool, width*height),
		Traversability: make([]grid.Traversability, width*height),
	}
	for i := range dump.Heights {
		dump.Heights[i] = math.Inf(1)
		dump.Maxes[i] = math.Inf(-1)
	}

	// one measured traversable cell and one obstacle known only by its bound
	dump.Heights[5] = 0.3
	dump.Maxes[5] = 0.3
	dump.Traversability[5] = grid.Traversable

	dump.Maxes[10] = 0.5
	dump.Traversability[10] = grid.UnknownObstacle

	return dump
}

func TestPointCloudFromDump(t *testing.T) {
	cloud, err := PointCloudFromDump(testDump())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 2)
}

func TestWriteDumpToFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "map.pcd")
	err := WriteDumpToFile(testDump(), filename)
	test.That(t, err, test.ShouldBeNil)

	info, err := os.Stat(filename)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
}

func TestCreateTimestampFilename(t *testing.T) {
	timeStamp, err := time.Parse(time.RFC3339, "2024-07-01T12:00:00Z")
	test.That(t, err, test.ShouldBeNil)
	filename := CreateTimestampFilename("/tmp/maps", "yard", ".pcd", timeStamp)
	test.That(t, filename, test.ShouldEqual, "/tmp/maps/yard_map_2024-07-01T12:00:00.0000Z.pcd")
}
