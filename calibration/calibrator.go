package calibration

import (
	"context"
	"image"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/stereocam/dataset"
	"go.viam.com/stereocam/logging"
	"go.viam.com/stereocam/rimage"
	"go.viam.com/stereocam/rimage/detection/chessboard"
)

// Result bundles everything a calibration run produces.
type Result struct {
	Calibration    *CalibrationData
	Rectification  *RectificationData
	Transformation *TransformationMap
	Report         Report
}

// Report describes how well each view was explained by the calibration.
type Report struct {
	// UsedPairs are the dataset indices in which both frames showed the whole board.
	UsedPairs []int
	// SkippedPairs are the dataset indices the board was not found in.
	SkippedPairs    []int
	LeftRMS         float64
	RightRMS        float64
	LeftPerViewRMS  []float64
	RightPerViewRMS []float64
}

// StereoCalibrator calibrates a stereo rig from frame pairs showing a chessboard.
type StereoCalibrator struct {
	pattern  chessboard.Pattern
	alpha    float64
	detector *chessboard.Detector
	logger   logging.Logger
}

// NewStereoCalibrator returns a calibrator for pattern. alpha is passed to StereoRectify.
func NewStereoCalibrator(pattern chessboard.Pattern, alpha float64, logger logging.Logger) (*StereoCalibrator, error) {
	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	return &StereoCalibrator{
		pattern:  pattern,
		alpha:    alpha,
		detector: chessboard.NewDetector(chessboard.DefaultDetectionConf, logger.Sublogger("chessboard")),
		logger:   logger,
	}, nil
}

// Calibrate runs Run and returns its three artifacts.
func (c *StereoCalibrator) Calibrate(ctx context.Context, ds dataset.Dataset[rimage.ImagePair]) (
	*CalibrationData, *RectificationData, *TransformationMap, error,
) {
	res, err := c.Run(ctx, ds)
	if err != nil {
		return nil, nil, nil, err
	}
	return res.Calibration, res.Rectification, res.Transformation, nil
}

// Run detects the board in every pair, calibrates each camera, calibrates the rig with the
// intrinsics fixed, rectifies and builds the remapping tables. Pairs where the board is not
// found in both frames are skipped. ctx is checked between pairs and between stages.
func (c *StereoCalibrator) Run(ctx context.Context, ds dataset.Dataset[rimage.ImagePair]) (*Result, error) {
	start := time.Now()
	var (
		size      image.Point
		report    Report
		leftPts   [][]r2.Point
		rightPts  [][]r2.Point
		objectPts [][]r3.Vector
	)
	for i, pair := range ds.All() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := pair.Validate(); err != nil {
			return nil, errors.Wrapf(err, "pair %d", i)
		}
		if size == (image.Point{}) {
			size = pair.Size()
		} else if pair.Size() != size {
			return nil, errors.Errorf("pair %d is %v, earlier pairs are %v", i, pair.Size(), size)
		}
		left, err := c.detector.FindCorners(pair.Left, c.pattern)
		if err == nil {
			var right chessboard.CornerSet
			right, err = c.detector.FindCorners(pair.Right, c.pattern)
			if err == nil {
				leftPts = append(leftPts, left)
				rightPts = append(rightPts, right)
				objectPts = append(objectPts, c.pattern.ObjectPoints())
				report.UsedPairs = append(report.UsedPairs, i)
				c.logger.CDebugw(ctx, "board found", "pair", i)
				continue
			}
		}
		if !errors.Is(err, chessboard.ErrDetectionFailed) {
			return nil, err
		}
		c.logger.Warnw("skipping pair without a visible board", "pair", i, "error", err)
		report.SkippedPairs = append(report.SkippedPairs, i)
	}
	if len(objectPts) == 0 {
		return nil, errors.Wrap(chessboard.ErrDetectionFailed, "no pair shows the board in both frames")
	}
	c.logger.Infow("chessboard detection done", "used", len(report.UsedPairs), "skipped", len(report.SkippedPairs))

	var leftCam, rightCam *CameraCalibration
	group, _ := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		leftCam, err = CalibrateCamera(objectPts, leftPts, size)
		return errors.Wrap(err, "left camera")
	})
	group.Go(func() error {
		var err error
		rightCam, err = CalibrateCamera(objectPts, rightPts, size)
		return errors.Wrap(err, "right camera")
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}
	report.LeftRMS, report.RightRMS = leftCam.RMS, rightCam.RMS
	report.LeftPerViewRMS, report.RightPerViewRMS = leftCam.PerViewRMS, rightCam.PerViewRMS
	c.logViews("left", leftCam)
	c.logViews("right", rightCam)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	calib, err := StereoCalibrate(objectPts, leftPts, rightPts, leftCam, rightCam, size)
	if err != nil {
		return nil, errors.Wrap(err, "stereo calibration")
	}
	c.logger.Infow("stereo calibration done",
		"rms", calib.ReprojectionError,
		"baseline", calib.TranslationVector.Norm(),
		"translation", calib.TranslationVector)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rect, err := StereoRectify(calib, size, c.alpha)
	if err != nil {
		return nil, errors.Wrap(err, "rectification")
	}
	maps, err := BuildTransformationMap(calib, rect, size)
	if err != nil {
		return nil, err
	}
	c.logger.Infow("rectification done",
		"left_roi", rect.ValidROILeft,
		"right_roi", rect.ValidROIRight,
		"elapsed", time.Since(start))
	return &Result{Calibration: calib, Rectification: rect, Transformation: maps, Report: report}, nil
}

func (c *StereoCalibrator) logViews(side string, cam *CameraCalibration) {
	mean, _ := stats.Mean(cam.PerViewRMS)
	worst, _ := stats.Max(cam.PerViewRMS)
	p90, _ := stats.Percentile(cam.PerViewRMS, 90)
	c.logger.Infow("camera calibrated",
		"camera", side,
		"rms", cam.RMS,
		"view_rms_mean", mean,
		"view_rms_p90", p90,
		"view_rms_max", worst,
		"fx", cam.CameraMatrix.At(0, 0),
		"fy", cam.CameraMatrix.At(1, 1),
		"distortion", cam.Distortion,
		"fixed_k3", cam.FixedK3)
}
