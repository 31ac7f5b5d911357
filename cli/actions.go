package cli

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"go.viam.com/stereocam/calibration"
	"go.viam.com/stereocam/capture"
	"go.viam.com/stereocam/config"
	"go.viam.com/stereocam/dataset"
	"go.viam.com/stereocam/disparity"
	"go.viam.com/stereocam/logging"
	"go.viam.com/stereocam/pointcloud"
	"go.viam.com/stereocam/reconstruct"
	"go.viam.com/stereocam/rimage"
	"go.viam.com/stereocam/rimage/detection/chessboard"
	"go.viam.com/stereocam/utils"
)

func newLogger(c *cli.Context) logging.Logger {
	logger := logging.NewBlankLogger("stereocam")
	if c.Bool(generalFlagDebug) {
		logger.SetLevel(logging.DEBUG)
		logging.GlobalLogLevel.SetLevel(zapcore.DebugLevel)
	} else {
		logger.SetLevel(logging.INFO)
	}
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	return logger
}

// loadRigConfig reads the rig configuration given with --config, or returns the defaults.
func loadRigConfig(c *cli.Context) (*config.RigConfig, error) {
	if path := c.String(generalFlagConfig); path != "" {
		return config.ReadRigConfig(path)
	}
	cfg := config.DefaultRigConfig()
	return &cfg, nil
}

// patternFromFlags returns the board of rig with the pattern flags applied on top.
func patternFromFlags(c *cli.Context, rig *config.RigConfig) (chessboard.Pattern, error) {
	pattern := chessboard.Pattern{
		Rows:       rig.Pattern.Rows,
		Cols:       rig.Pattern.Columns,
		SquareSize: rig.Pattern.SquareSize,
	}
	if c.IsSet(patternFlagRows) {
		pattern.Rows = c.Int(patternFlagRows)
	}
	if c.IsSet(patternFlagColumns) {
		pattern.Cols = c.Int(patternFlagColumns)
	}
	if c.IsSet(patternFlagSquareSize) {
		pattern.SquareSize = c.Float64(patternFlagSquareSize)
	}
	return pattern, pattern.Validate()
}

func dirArgument(c *cli.Context, what string) (string, error) {
	if c.Args().Len() != 1 {
		return "", errors.Errorf("expected exactly one argument, the %s directory", what)
	}
	return c.Args().First(), nil
}

// artifactPath places a relative artifact name inside dir.
func artifactPath(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

// CaptureAction replays a directory of frame pairs and keeps the ones that show the board.
func CaptureAction(c *cli.Context) error {
	logger := newLogger(c)
	rig, err := loadRigConfig(c)
	if err != nil {
		return err
	}
	pattern, err := patternFromFlags(c, rig)
	if err != nil {
		return err
	}
	frames, err := dataset.LoadFramePairs(c.String(captureFlagInput))
	if err != nil {
		return err
	}
	source := capture.NewDatasetSource(frames, false)
	defer utils.UncheckedErrorFunc(source.Close)

	output := c.String(captureFlagOutput)
	saver, err := capture.NewFrameSaver(output, c.Int(captureFlagStartAt), logger)
	if err != nil {
		return err
	}
	worker := &capture.ChessboardCapture{
		Source:   source,
		Saver:    saver,
		Detector: chessboard.NewDetector(chessboard.DefaultDetectionConf, logger.Sublogger("chessboard")),
		Pattern:  pattern,
		Amount:   c.Int(captureFlagAmount),
		Delay:    c.Duration(captureFlagDelay),
		Logger:   logger,
	}
	saved, err := worker.Run(c.Context)
	if errors.Is(err, io.EOF) {
		warningf(c.App.ErrWriter, "input ran out of frames after %d of %d pairs", saved, worker.Amount)
		err = nil
	}
	if err != nil {
		return err
	}
	infof(c.App.Writer, "saved %d frame pairs to %s", saved, output)
	return nil
}

// ShowDatasetAction lists the pairs of a frames directory and optionally writes previews of them.
func ShowDatasetAction(c *cli.Context) error {
	dir, err := dirArgument(c, "frames")
	if err != nil {
		return err
	}
	frames, err := dataset.LoadFramePairs(dir)
	if err != nil {
		return err
	}

	var (
		out      = c.String(showDatasetFlagOut)
		detector *chessboard.Detector
		pattern  chessboard.Pattern
	)
	if out != "" {
		if err := os.MkdirAll(out, 0o750); err != nil {
			return errors.Wrapf(err, "cannot create %s", out)
		}
	}
	if c.Bool(showDatasetFlagCorners) {
		rig, err := loadRigConfig(c)
		if err != nil {
			return err
		}
		if pattern, err = patternFromFlags(c, rig); err != nil {
			return err
		}
		detector = chessboard.NewDetector(chessboard.DefaultDetectionConf, newLogger(c))
	}

	for i, pair := range frames.All() {
		left, right, err := frames.Paths(i)
		if err != nil {
			return err
		}
		size := pair.Size()
		printf(c.App.Writer, "%d\t%dx%d\t%s\t%s", i, size.X, size.Y, filepath.Base(left), filepath.Base(right))
		if out == "" {
			continue
		}
		if detector != nil {
			pair = rimage.ImagePair{
				Left:  drawBoard(detector, pair.Left, pattern),
				Right: drawBoard(detector, pair.Right, pattern),
			}
		}
		if err := rimage.WriteImageToFile(filepath.Join(out, fmt.Sprintf("%d.png", i)), rimage.SideBySide(pair)); err != nil {
			return err
		}
	}
	if out != "" {
		infof(c.App.Writer, "wrote %d previews to %s", frames.Len(), out)
	}
	return nil
}

func drawBoard(detector *chessboard.Detector, img image.Image, pattern chessboard.Pattern) image.Image {
	corners, err := detector.FindCorners(img, pattern)
	if err != nil {
		return img
	}
	return chessboard.DrawCorners(img, pattern, corners)
}

// CalibrateAction calibrates the rig and writes its calibration, rectification and remapping
// artifacts.
func CalibrateAction(c *cli.Context) error {
	dir, err := dirArgument(c, "frames")
	if err != nil {
		return err
	}
	logger := newLogger(c)
	rig, err := loadRigConfig(c)
	if err != nil {
		return err
	}
	pattern, err := patternFromFlags(c, rig)
	if err != nil {
		return err
	}
	alpha := rig.RectificationAlpha()
	if c.IsSet(calibrateFlagAlpha) {
		alpha = c.Float64(calibrateFlagAlpha)
		if alpha > 1 {
			return errors.Errorf("alpha must not exceed 1, got %v", alpha)
		}
	}
	maxRMS := rig.MaxReprojectionError
	if c.IsSet(calibrateFlagMaxRMS) {
		maxRMS = c.Float64(calibrateFlagMaxRMS)
	}

	frames, err := dataset.LoadFramePairs(dir)
	if err != nil {
		return err
	}
	calibrator, err := calibration.NewStereoCalibrator(pattern, alpha, logger)
	if err != nil {
		return err
	}
	res, err := calibrator.Run(c.Context, frames)
	if err != nil {
		return err
	}
	rms := res.Calibration.ReprojectionError
	if maxRMS > 0 && rms > maxRMS {
		return errors.Errorf("stereo reprojection error %.4f exceeds %.4f, no artifacts written", rms, maxRMS)
	}

	outDir := c.String(calibrateFlagOutputDir)
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return errors.Wrapf(err, "cannot create %s", outDir)
	}
	saves := []struct {
		name string
		save func(string) error
	}{
		{rig.CalibrationFile, res.Calibration.Save},
		{rig.RectificationFile, res.Rectification.Save},
		{rig.TransformationMapFile, res.Transformation.Save},
	}
	for _, s := range saves {
		path := artifactPath(outDir, s.name)
		if err := s.save(path); err != nil {
			return err
		}
		logger.Debugw("artifact written", "path", path)
	}
	if plot := c.String(calibrateFlagPlot); plot != "" {
		if err := res.Report.SavePlot(plot); err != nil {
			return err
		}
	}

	printf(c.App.Writer, "pairs used:    %d (skipped %v)", len(res.Report.UsedPairs), res.Report.SkippedPairs)
	printf(c.App.Writer, "left rms:      %.4f", res.Report.LeftRMS)
	printf(c.App.Writer, "right rms:     %.4f", res.Report.RightRMS)
	printf(c.App.Writer, "stereo rms:    %.4f", rms)
	printf(c.App.Writer, "baseline:      %.4f", res.Calibration.TranslationVector.Norm())
	infof(c.App.Writer, "calibration written to %s", outDir)
	return nil
}

// DisparityAction computes a disparity map for every pair of a frames directory and saves the
// selected pairs: their rectified frames and filtered maps become a disparity dataset.
func DisparityAction(c *cli.Context) error {
	dir, err := dirArgument(c, "frames")
	if err != nil {
		return err
	}
	logger := newLogger(c)
	rig, err := loadRigConfig(c)
	if err != nil {
		return err
	}
	cfgPath := rig.MatchingConfigFile
	if c.IsSet(disparityFlagMatchingConfig) {
		cfgPath = c.String(disparityFlagMatchingConfig)
	}
	cfg, err := config.ReadMatchingConfig(cfgPath)
	if err != nil {
		return err
	}
	maps, err := calibration.LoadTransformationMap(rig.TransformationMapFile)
	if err != nil {
		return err
	}
	frames, err := dataset.LoadFramePairs(dir)
	if err != nil {
		return err
	}

	live, err := disparity.NewEstimator(maps, *cfg, logger.Sublogger("live"))
	if err != nil {
		return err
	}
	saving, err := disparity.NewEstimator(maps, *cfg, logger.Sublogger("save"))
	if err != nil {
		return err
	}
	if err := saving.SetMode(config.ModeHH); err != nil {
		return err
	}
	wls := disparity.DefaultWLSConf
	if c.IsSet(disparityFlagLambda) {
		wls.Lambda = c.Float64(disparityFlagLambda)
	}
	if c.IsSet(disparityFlagSigma) {
		wls.SigmaColor = c.Float64(disparityFlagSigma)
	}
	saving.SetWLSConfig(wls)

	output := c.String(disparityFlagOutput)
	saver, err := capture.NewFrameSaver(filepath.Join(output, dataset.FramesDir), 0, logger)
	if err != nil {
		return err
	}
	selected := map[int]bool{}
	for _, i := range c.IntSlice(disparityFlagSave) {
		selected[i] = true
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)
	if c.Bool(disparityFlagWatch) {
		watcher, err := config.NewMatchingConfigWatcher(cfgPath, func(cfg *config.MatchingConfig) {
			for _, e := range []*disparity.Estimator{live, saving} {
				if err := e.SetConfig(*cfg); err != nil {
					logger.Warnw("cannot apply matching config", "error", err)
				}
			}
		}, logger.Sublogger("watcher"))
		if err != nil {
			return err
		}
		defer utils.UncheckedErrorFunc(watcher.Close)
		group.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	saved := 0
	group.Go(func() error {
		defer cancel()
		for i, pair := range frames.All() {
			if err := ctx.Err(); err != nil {
				return err
			}
			dmap, err := live.Compute(pair)
			if err != nil {
				return errors.Wrapf(err, "pair %d", i)
			}
			summary := dmap.Summarize()
			logger.Infow("disparity computed",
				"pair", i,
				"valid", summary.ValidFraction,
				"min", summary.Min,
				"median", summary.Median,
				"max", summary.Max)
			if !c.Bool(disparityFlagSaveAll) && !selected[i] {
				continue
			}
			n, err := saveDisparity(c, saving, saver, pair, output)
			if err != nil {
				return errors.Wrapf(err, "pair %d", i)
			}
			saved++
			logger.Debugw("disparity saved", "pair", i, "number", n)
		}
		return nil
	})
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err := c.Context.Err(); err != nil {
		return err
	}
	infof(c.App.Writer, "processed %d pairs, saved %d to %s", frames.Len(), saved, output)
	return nil
}

// saveDisparity writes the rectified frames of pair and its filtered map as <n>.npz, plus a
// visualization when asked to.
func saveDisparity(
	c *cli.Context,
	estimator *disparity.Estimator,
	saver *capture.FrameSaver,
	pair rimage.ImagePair,
	output string,
) (int, error) {
	filtered, err := estimator.ComputeFiltered(pair)
	if err != nil {
		return 0, err
	}
	rectified, err := estimator.Rectify(pair)
	if err != nil {
		return 0, err
	}
	n, err := saver.Save(rectified)
	if err != nil {
		return 0, err
	}
	if err := filtered.Save(filepath.Join(output, fmt.Sprintf("%d.npz", n))); err != nil {
		return 0, err
	}
	if c.Bool(disparityFlagVisualize) {
		vis := filtered.Visualize(c.Bool(disparityFlagColorize))
		if err := rimage.WriteImageToFile(filepath.Join(output, fmt.Sprintf("%d.png", n)), vis); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// ReconstructAction turns every map of a disparity dataset into a colored point cloud.
func ReconstructAction(c *cli.Context) error {
	dir, err := dirArgument(c, "disparity")
	if err != nil {
		return err
	}
	logger := newLogger(c)
	rig, err := loadRigConfig(c)
	if err != nil {
		return err
	}
	format := strings.ToLower(c.String(reconstructFlagFormat))
	if format != "ply" && format != "pcd" {
		return errors.Errorf("unknown point cloud format %q, expected ply or pcd", format)
	}
	binary := !c.Bool(reconstructFlagASCII)
	verify := c.Bool(reconstructFlagVerify)
	if verify && format == "ply" && binary {
		return errors.New("binary ply files cannot be read back, add --ascii to verify them")
	}

	invalid := c.Float64(reconstructFlagInvalid)
	if !c.IsSet(reconstructFlagInvalid) {
		cfg, err := config.ReadMatchingConfig(rig.MatchingConfigFile)
		if err != nil {
			return errors.Wrapf(err, "cannot determine the invalid disparity, set --%s", reconstructFlagInvalid)
		}
		invalid = cfg.InvalidDisparity()
	}
	rect, err := calibration.LoadRectificationData(rig.RectificationFile)
	if err != nil {
		return err
	}
	samples, err := dataset.LoadDisparityFrames(dir, func(path string) (*disparity.Map, error) {
		return disparity.LoadMap(path, invalid)
	})
	if err != nil {
		return err
	}
	order := rimage.RGB
	if c.Bool(reconstructFlagBGR) {
		order = rimage.BGR
	}
	rec, err := reconstruct.NewReconstructor(rect, order, logger)
	if err != nil {
		return err
	}
	rec.Binary = binary

	output := c.String(reconstructFlagOutput)
	if err := os.MkdirAll(output, 0o750); err != nil {
		return errors.Wrapf(err, "cannot create %s", output)
	}
	for i, sample := range samples.All() {
		if err := c.Context.Err(); err != nil {
			return err
		}
		path := filepath.Join(output, fmt.Sprintf("%d.%s", i, format))
		cloud, err := rec.SavePointCloud(sample.Frames, sample.Disparity, path)
		if err != nil {
			return errors.Wrapf(err, "sample %d", i)
		}
		printf(c.App.Writer, "%s\t%d points", path, cloud.Size())
		if verify {
			if err := verifyCloud(path, cloud.Size()); err != nil {
				return err
			}
		}
		if c.Bool(reconstructFlagFitPlane) {
			plane, rms, err := pointcloud.FitPlane(cloud)
			if err != nil {
				warningf(c.App.ErrWriter, "%s: %v", path, err)
				continue
			}
			printf(c.App.Writer, "\tplane normal %v, center %v, rms %.4f", plane.Normal, plane.Center, rms)
		}
	}
	infof(c.App.Writer, "wrote %d point clouds to %s", samples.Len(), output)
	return nil
}

func verifyCloud(path string, want int) error {
	cloud, err := pointcloud.NewFromFile(path)
	if err != nil {
		return errors.Wrapf(err, "cannot read back %s", path)
	}
	if cloud.Size() != want {
		return errors.Errorf("%s holds %d points, expected %d", path, cloud.Size(), want)
	}
	return nil
}
