package config

// Default artifact names.
const (
	DefaultCalibrationFile       = "calib.npz"
	DefaultRectificationFile     = "rectify.npz"
	DefaultTransformationMapFile = "transformation_map.npz"
	DefaultMatchingConfigFile    = "sgbm_config.yml"
)

// PatternConfig describes the chessboard target by its interior corner counts.
type PatternConfig struct {
	Rows       int     `yaml:"rows"`
	Columns    int     `yaml:"columns"`
	SquareSize float64 `yaml:"square_size"`
}

// RigConfig describes a stereo rig session: the calibration target, rectification scaling and
// where the artifacts live.
type RigConfig struct {
	Pattern PatternConfig `yaml:"pattern"`
	// Alpha scales the rectified views between 0 (only valid pixels) and 1 (every source pixel
	// kept). Negative disables scaling. Unset means 1.
	Alpha *float64 `yaml:"alpha,omitempty"`

	CalibrationFile       string `yaml:"calibration_file,omitempty"`
	RectificationFile     string `yaml:"rectification_file,omitempty"`
	TransformationMapFile string `yaml:"transformation_map_file,omitempty"`
	MatchingConfigFile    string `yaml:"matching_config_file,omitempty"`

	// MaxReprojectionError rejects calibrations whose RMS error exceeds it. Zero disables the check.
	MaxReprojectionError float64 `yaml:"max_reprojection_error,omitempty"`
}

// DefaultRigConfig returns the configuration of a 9x6 board with 2 cm squares.
func DefaultRigConfig() RigConfig {
	cfg := RigConfig{Pattern: PatternConfig{Rows: 6, Columns: 9, SquareSize: 2.0}}
	cfg.applyDefaults()
	return cfg
}

// RectificationAlpha returns the configured alpha or 1 when unset.
func (c RigConfig) RectificationAlpha() float64 {
	if c.Alpha == nil {
		return 1
	}
	return *c.Alpha
}

func (c *RigConfig) applyDefaults() {
	if c.CalibrationFile == "" {
		c.CalibrationFile = DefaultCalibrationFile
	}
	if c.RectificationFile == "" {
		c.RectificationFile = DefaultRectificationFile
	}
	if c.TransformationMapFile == "" {
		c.TransformationMapFile = DefaultTransformationMapFile
	}
	if c.MatchingConfigFile == "" {
		c.MatchingConfigFile = DefaultMatchingConfigFile
	}
}

// Validate ensures all parts of the config are valid.
func (c *RigConfig) Validate(path string) error {
	if c.Pattern.Rows < 2 {
		return NewFieldInvalidError(path, "pattern.rows", c.Pattern.Rows, "must be at least 2")
	}
	if c.Pattern.Columns < 2 {
		return NewFieldInvalidError(path, "pattern.columns", c.Pattern.Columns, "must be at least 2")
	}
	if c.Pattern.SquareSize <= 0 {
		return NewFieldInvalidError(path, "pattern.square_size", c.Pattern.SquareSize, "must be positive")
	}
	if c.Alpha != nil && *c.Alpha > 1 {
		return NewFieldInvalidError(path, "alpha", *c.Alpha, "must not exceed 1")
	}
	if c.MaxReprojectionError < 0 {
		return NewFieldInvalidError(path, "max_reprojection_error", c.MaxReprojectionError, "must not be negative")
	}
	return nil
}
