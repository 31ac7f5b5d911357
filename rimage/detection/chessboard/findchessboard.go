package chessboard

import (
	"image"

	"github.com/golang/geo/r2"

	"go.viam.com/stereocam/logging"
	"go.viam.com/stereocam/rimage"
)

// DetectionConfiguration stores the parameters necessary for chessboard detection in an image.
type DetectionConfiguration struct {
	Saddle SaddleConfiguration `json:"saddle"`
	// MaxSeeds bounds how many saddle points near the image center are tried as grid origins.
	MaxSeeds int `json:"max-seeds"`
	// FastCheck only reports whether the board is present; corners are not refined.
	FastCheck bool `json:"fast-check"`
}

// DefaultDetectionConf is used when callers have no reason to tune detection.
var DefaultDetectionConf = DetectionConfiguration{
	Saddle:   DefaultSaddleConf,
	MaxSeeds: 5,
}

// FindCorners locates all interior corners of pattern in img and refines them to sub-pixel
// accuracy. It returns ErrDetectionFailed unless every corner is found.
func FindCorners(img image.Image, pattern Pattern, cfg DetectionConfiguration) (CornerSet, error) {
	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	gray := rimage.ToGrayFloat(img)
	saddles := GetSaddlePoints(gray, &cfg.Saddle)
	if len(saddles) < pattern.NumCorners() {
		return nil, NewDetectionFailedError("found %d saddle points, need %d", len(saddles), pattern.NumCorners())
	}
	maxSeeds := cfg.MaxSeeds
	if maxSeeds <= 0 {
		maxSeeds = DefaultDetectionConf.MaxSeeds
	}
	corners, ok := recoverGrid(saddles, pattern, maxSeeds)
	if !ok {
		return nil, NewDetectionFailedError("no %dx%d grid among %d saddle points", pattern.Rows, pattern.Cols, len(saddles))
	}
	if cfg.FastCheck {
		return corners, nil
	}

	field := newGradientField(gray)
	halves := refineWindows(corners, pattern)
	refined := make(CornerSet, len(corners))
	for k, pt := range corners {
		refined[k] = refineCorner(field, pt, halves[k])
	}
	return refined, nil
}

// Detector runs chessboard detection with a fixed configuration and logs the outcome.
type Detector struct {
	cfg    DetectionConfiguration
	logger logging.Logger
}

// NewDetector returns a Detector.
func NewDetector(cfg DetectionConfiguration, logger logging.Logger) *Detector {
	return &Detector{cfg: cfg, logger: logger}
}

// FindCorners calls FindCorners with the detector configuration.
func (d *Detector) FindCorners(img image.Image, pattern Pattern) (CornerSet, error) {
	corners, err := FindCorners(img, pattern, d.cfg)
	if err != nil {
		d.logger.Debugw("chessboard detection failed", "error", err)
		return nil, err
	}
	d.logger.Debugw("chessboard detected", "corners", len(corners), "first", corners[0], "last", corners[len(corners)-1])
	return corners, nil
}

// Found reports whether the full pattern is visible in img without refining corners.
func (d *Detector) Found(img image.Image, pattern Pattern) bool {
	cfg := d.cfg
	cfg.FastCheck = true
	_, err := FindCorners(img, pattern, cfg)
	return err == nil
}

// centroid returns the mean of a set of points.
func centroid(pts []r2.Point) r2.Point {
	var c r2.Point
	for _, p := range pts {
		c = c.Add(p)
	}
	if len(pts) > 0 {
		c = c.Mul(1 / float64(len(pts)))
	}
	return c
}
