// Package config holds the validated configuration structs of the stereo tools and the readers
// that load them.
package config

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Mode selects the semi-global matching variant.
type Mode int

const (
	// ModeSGBM aggregates along 5 directions in a single pass.
	ModeSGBM Mode = iota
	// ModeHH runs the full two-pass 8 direction dynamic programming.
	ModeHH
	// ModeSGBM3Way aggregates along 3 directions; the fastest variant.
	ModeSGBM3Way
	// ModeHH4 aggregates along the 4 axis-aligned directions.
	ModeHH4
)

// DisparityGranularity is the multiple that the number of disparities must be of.
const DisparityGranularity = 16

var modeNames = map[Mode]string{
	ModeSGBM:     "sgbm",
	ModeHH:       "hh",
	ModeSGBM3Way: "sgbm_3way",
	ModeHH4:      "hh4",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a mode name such as "sgbm_3way". Parsing is case-insensitive.
func ParseMode(name string) (Mode, error) {
	for mode, modeName := range modeNames {
		if strings.EqualFold(name, modeName) {
			return mode, nil
		}
	}
	return 0, errors.Wrapf(ErrConfigurationInvalid, "unknown matching mode %q", name)
}

// UnmarshalYAML decodes a mode from its name.
func (m *Mode) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	mode, err := ParseMode(name)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// MarshalYAML encodes a mode as its name.
func (m Mode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

// MatchingConfig configures the semi-global block matcher.
type MatchingConfig struct {
	MinDisparity      int  `yaml:"min_disparity"`
	NumDisparities    int  `yaml:"num_disparities"`
	BlockSize         int  `yaml:"block_size"`
	Disp12MaxDiff     int  `yaml:"disp_12_max_diff"`
	UniquenessRatio   int  `yaml:"uniqueness_ratio"`
	SpeckleWindowSize int  `yaml:"speckle_window_size"`
	SpeckleRange      int  `yaml:"speckle_range"`
	PreFilterCap      int  `yaml:"pre_filter_cap"`
	Mode              Mode `yaml:"mode,omitempty"`
}

// DefaultMatchingConfig returns the settings used when tuning starts from scratch.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		MinDisparity:      0,
		NumDisparities:    64,
		BlockSize:         5,
		Disp12MaxDiff:     1,
		UniquenessRatio:   10,
		SpeckleWindowSize: 100,
		SpeckleRange:      2,
		PreFilterCap:      63,
		Mode:              ModeSGBM3Way,
	}
}

// P1 is the penalty on a disparity change of one between neighbor pixels.
func (c MatchingConfig) P1() int {
	return 8 * c.BlockSize * c.BlockSize
}

// P2 is the penalty on a disparity change of more than one between neighbor pixels.
func (c MatchingConfig) P2() int {
	return 32 * c.BlockSize * c.BlockSize
}

// MaxDisparity is one past the largest disparity searched.
func (c MatchingConfig) MaxDisparity() int {
	return c.MinDisparity + c.NumDisparities
}

// InvalidDisparity is the value, in disparity units, written for unmatched pixels.
func (c MatchingConfig) InvalidDisparity() float64 {
	return float64(c.MinDisparity - 1)
}

// Validate ensures all parts of the config are valid.
func (c *MatchingConfig) Validate(path string) error {
	if c.NumDisparities <= 0 || c.NumDisparities%DisparityGranularity != 0 {
		return NewFieldInvalidError(path, "num_disparities", c.NumDisparities,
			fmt.Sprintf("must be a positive multiple of %d", DisparityGranularity))
	}
	if c.BlockSize < 1 || c.BlockSize > 11 || c.BlockSize%2 == 0 {
		return NewFieldInvalidError(path, "block_size", c.BlockSize, "must be odd and between 1 and 11")
	}
	if c.UniquenessRatio < 0 || c.UniquenessRatio >= 100 {
		return NewFieldInvalidError(path, "uniqueness_ratio", c.UniquenessRatio, "must be in [0, 100)")
	}
	if c.PreFilterCap < 1 || c.PreFilterCap > 63 {
		return NewFieldInvalidError(path, "pre_filter_cap", c.PreFilterCap, "must be in [1, 63]")
	}
	if c.SpeckleWindowSize < 0 {
		return NewFieldInvalidError(path, "speckle_window_size", c.SpeckleWindowSize, "must not be negative")
	}
	if c.SpeckleRange < 0 {
		return NewFieldInvalidError(path, "speckle_range", c.SpeckleRange, "must not be negative")
	}
	if _, ok := modeNames[c.Mode]; !ok {
		return NewFieldInvalidError(path, "mode", c.Mode, "is not a known mode")
	}
	return nil
}
