// Package config implements attribute evaluation for the terrain navigation
// module.
package config

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// Defaults applied by GetOptionalParameters when the corresponding attribute
// is omitted.
const (
	DefaultGridWidth       = 600
	DefaultGridHeight      = 600
	DefaultGridResolution  = 0.05
	DefaultBoundarySize    = 0.5
	DefaultMaxStepSize     = 0.2
	DefaultAngularSampling = 16
	DefaultDiscountFactor  = 1.0
)

// newError returns an error specific to a failure in the module config.
func newError(configError string) error {
	return errors.Errorf("terrain navigation configuration error: %s", configError)
}

// MaskedBox is an axis-aligned body-frame box whose laser returns are
// discarded, e.g. a wheel footprint.
type MaskedBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MinZ float64 `json:"min_z"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
	MaxZ float64 `json:"max_z"`
}

// Config describes how to configure the terrain navigation module.
type Config struct {
	GridWidth      int      `json:"grid_width"`
	GridHeight     int      `json:"grid_height"`
	GridResolution *float64 `json:"grid_resolution"`
	BoundarySize   *float64 `json:"boundary_size"`
	MaxStepSize    *float64 `json:"max_step_size"`

	MaskedBoxes []MaskedBox `json:"masked_boxes"`

	MaxTreeSize            int      `json:"max_tree_size"`
	StepDistance           float64  `json:"step_distance"`
	AngularSampling        int      `json:"angular_sampling"`
	DiscountFactor         *float64 `json:"discount_factor"`
	ObstacleSafetyDistance float64  `json:"obstacle_safety_distance"`
	RobotWidth             float64  `json:"robot_width"`
}

// Validate ensures every required attribute is present and sane.
func (config *Config) Validate(path string) ([]string, error) {
	if config.GridWidth < 0 || config.GridHeight < 0 {
		return nil, newError("grid dimensions cannot be negative")
	}

	if config.GridResolution != nil && *config.GridResolution <= 0 {
		return nil, newError("grid_resolution must be greater than zero")
	}

	if config.BoundarySize != nil && *config.BoundarySize < 0 {
		return nil, newError("boundary_size cannot be negative")
	}

	if config.MaxStepSize != nil && *config.MaxStepSize <= 0 {
		return nil, newError("max_step_size must be greater than zero")
	}

	if config.MaxTreeSize <= 0 {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "max_tree_size")
	}

	if config.StepDistance <= 0 {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "step_distance")
	}

	if config.AngularSampling < 0 {
		return nil, newError("angular_sampling cannot be negative")
	}

	if config.DiscountFactor != nil && (*config.DiscountFactor <= 0 || *config.DiscountFactor > 1) {
		return nil, newError("discount_factor must be in (0, 1]")
	}

	if config.RobotWidth <= 0 {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "robot_width")
	}

	return nil, nil
}

// ParseAttributes decodes an unstructured attribute map into a Config.
func ParseAttributes(attributes map[string]interface{}) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: &cfg})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "error decoding terrain navigation attributes")
	}
	return &cfg, nil
}

// GetOptionalParameters sets any unset optional config parameters to their
// defaults, and returns them.
func GetOptionalParameters(config *Config, logger logging.Logger) (gridWidth, gridHeight int,
	gridResolution, boundarySize, maxStepSize float64, angularSampling int, discountFactor float64,
) {
	gridWidth = config.GridWidth
	if gridWidth == 0 {
		gridWidth = DefaultGridWidth
		logger.Debugf("no grid_width given, setting to default value of %d", DefaultGridWidth)
	}

	gridHeight = config.GridHeight
	if gridHeight == 0 {
		gridHeight = DefaultGridHeight
		logger.Debugf("no grid_height given, setting to default value of %d", DefaultGridHeight)
	}

	gridResolution = DefaultGridResolution
	if config.GridResolution == nil {
		logger.Debugf("no grid_resolution given, setting to default value of %f", DefaultGridResolution)
	} else {
		gridResolution = *config.GridResolution
	}

	boundarySize = DefaultBoundarySize
	if config.BoundarySize == nil {
		logger.Debugf("no boundary_size given, setting to default value of %f", DefaultBoundarySize)
	} else {
		boundarySize = *config.BoundarySize
	}

	maxStepSize = DefaultMaxStepSize
	if config.MaxStepSize == nil {
		logger.Debugf("no max_step_size given, setting to default value of %f", DefaultMaxStepSize)
	} else {
		maxStepSize = *config.MaxStepSize
	}

	angularSampling = config.AngularSampling
	if angularSampling == 0 {
		angularSampling = DefaultAngularSampling
		logger.Debugf("no angular_sampling given, setting to default value of %d", DefaultAngularSampling)
	}

	discountFactor = DefaultDiscountFactor
	if config.DiscountFactor == nil {
		logger.Debugf("no discount_factor given, setting to default value of %f", DefaultDiscountFactor)
	} else {
		discountFactor = *config.DiscountFactor
	}

	return gridWidth, gridHeight, gridResolution, boundarySize, maxStepSize, angularSampling, discountFactor
}

// DefaultWheelMasks returns the mask boxes for a robot with two wheel
// cutouts to the left and right of the laser.
func DefaultWheelMasks() []MaskedBox {
	return []MaskedBox{
		{MinX: 0.225, MinY: -0.215, MinZ: -0.18, MaxX: 0.285, MaxY: 0.215, MaxZ: 0.25},
		{MinX: -0.285, MinY: -0.215, MinZ: -0.18, MaxX: -0.225, MaxY: 0.215, MaxZ: 0.25},
	}
}
