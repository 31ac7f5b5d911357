package disparity

import (
	"image"
	"math"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/artifact"
	"go.viam.com/stereocam/calibration"
	"go.viam.com/stereocam/config"
	"go.viam.com/stereocam/logging"
	"go.viam.com/stereocam/rimage"
	"go.viam.com/stereocam/testutils"
	"go.viam.com/stereocam/utils"
)

// identityMaps leaves already rectified frames unchanged.
func identityMaps(size image.Point) *calibration.TransformationMap {
	mx := mat.NewDense(size.Y, size.X, nil)
	my := mat.NewDense(size.Y, size.X, nil)
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			mx.Set(y, x, float64(x))
			my.Set(y, x, float64(y))
		}
	}
	return &calibration.TransformationMap{LeftMapX: mx, LeftMapY: my, RightMapX: mx, RightMapY: my}
}

func testConfig() config.MatchingConfig {
	cfg := config.DefaultMatchingConfig()
	cfg.NumDisparities = 16
	cfg.BlockSize = 5
	cfg.SpeckleWindowSize = 50
	return cfg
}

// matchableValues returns the valid values in the columns that see every candidate disparity.
func matchableValues(m *Map, cfg config.MatchingConfig) (values []float64, total int) {
	size := m.Size()
	for y := 0; y < size.Y; y++ {
		for x := cfg.MaxDisparity() - 1; x < size.X; x++ {
			total++
			if m.Valid(x, y) {
				values = append(values, m.Values.At(y, x))
			}
		}
	}
	return values, total
}

func TestNewEstimatorValidation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	maps := identityMaps(image.Pt(32, 24))

	cfg := testConfig()
	cfg.BlockSize = 4
	_, err := NewEstimator(maps, cfg, logger)
	test.That(t, err, test.ShouldWrap, config.ErrConfigurationInvalid)

	cfg = testConfig()
	cfg.NumDisparities = 20
	_, err = NewEstimator(maps, cfg, logger)
	test.That(t, err, test.ShouldWrap, config.ErrConfigurationInvalid)

	cfg = testConfig()
	cfg.Mode = config.Mode(42)
	_, err = NewEstimator(maps, cfg, logger)
	test.That(t, err, test.ShouldWrap, config.ErrConfigurationInvalid)

	_, err = NewEstimator(nil, testConfig(), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSetModeRebuildsOnlyOnChange(t *testing.T) {
	est, err := NewEstimator(identityMaps(image.Pt(32, 24)), testConfig(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.Mode(), test.ShouldEqual, config.ModeSGBM3Way)

	test.That(t, est.SetMode(config.ModeSGBM3Way), test.ShouldBeNil)
	test.That(t, est.rebuilds, test.ShouldEqual, 0)

	test.That(t, est.SetMode(config.ModeHH), test.ShouldBeNil)
	test.That(t, est.Mode(), test.ShouldEqual, config.ModeHH)
	test.That(t, est.rebuilds, test.ShouldEqual, 1)
	test.That(t, est.matcher.paths, test.ShouldHaveLength, 8)

	test.That(t, est.SetMode(config.ModeHH), test.ShouldBeNil)
	test.That(t, est.rebuilds, test.ShouldEqual, 1)

	test.That(t, est.SetMode(config.Mode(9)), test.ShouldWrap, config.ErrConfigurationInvalid)
	test.That(t, est.Mode(), test.ShouldEqual, config.ModeHH)

	cfg := testConfig()
	cfg.UniquenessRatio = 5
	test.That(t, est.SetConfig(cfg), test.ShouldBeNil)
	test.That(t, est.rebuilds, test.ShouldEqual, 2)
	test.That(t, est.Config().UniquenessRatio, test.ShouldEqual, 5)
	test.That(t, est.Mode(), test.ShouldEqual, config.ModeHH)
	test.That(t, est.SetConfig(cfg), test.ShouldBeNil)
	test.That(t, est.rebuilds, test.ShouldEqual, 2)
}

func TestSetModeRoundTrip(t *testing.T) {
	size := image.Pt(96, 48)
	pair := testutils.RenderRectifiedPlanePair(size, 4)
	cfg := testConfig()
	cfg.Mode = config.ModeHH
	est, err := NewEstimator(identityMaps(size), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	before, err := est.Compute(pair)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.SetMode(config.ModeSGBM3Way), test.ShouldBeNil)
	_, err = est.Compute(pair)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.SetMode(config.ModeHH), test.ShouldBeNil)
	test.That(t, est.rebuilds, test.ShouldEqual, 2)

	after, err := est.Compute(pair)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Equal(before.Values, after.Values), test.ShouldBeTrue)
	test.That(t, after.Invalid, test.ShouldEqual, before.Invalid)
}

// shiftedMaps samples both raw frames shift rows higher, so the top rows of the rectified
// frames fall outside the raw frames.
func shiftedMaps(size image.Point, shift int) *calibration.TransformationMap {
	maps := identityMaps(size)
	my := mat.NewDense(size.Y, size.X, nil)
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			my.Set(y, x, float64(y-shift))
		}
	}
	maps.LeftMapY, maps.RightMapY = my, my
	return maps
}

func TestComputeDropsPixelsOutsideRawFrames(t *testing.T) {
	size := image.Pt(160, 100)
	const shift = 12
	pair := testutils.RenderRectifiedPlanePair(size, 7)
	cfg := testConfig()
	est, err := NewEstimator(shiftedMaps(size, shift), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	raw, err := est.Compute(pair)
	test.That(t, err, test.ShouldBeNil)
	filtered, err := est.ComputeFiltered(pair)
	test.That(t, err, test.ShouldBeNil)

	border := shift + cfg.BlockSize/2
	for _, m := range []*Map{raw, filtered} {
		for y := 0; y < border; y++ {
			for x := 0; x < size.X; x++ {
				test.That(t, m.Valid(x, y), test.ShouldBeFalse)
			}
		}
		test.That(t, m.ValidCount(), test.ShouldBeGreaterThan, (size.Y-border)*(size.X-cfg.MaxDisparity())/2)
		test.That(t, m.Summarize().Median, test.ShouldAlmostEqual, 7, 0.25)
	}
}

func TestSelectRejectsFlatTies(t *testing.T) {
	size := image.Pt(64, 16)
	flat := image.NewGray(image.Rect(0, 0, size.X, size.Y))
	cfg := testConfig()
	est, err := NewEstimator(identityMaps(size), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	// Every candidate costs nothing on a black frame, so no disparity wins.
	dmap, err := est.Compute(rimage.ImagePair{Left: flat, Right: flat})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dmap.ValidCount(), test.ShouldEqual, 0)
}

func TestErode(t *testing.T) {
	mask := []bool{
		true, true, true, true,
		true, false, true, true,
		true, true, true, true,
	}
	out := erode(mask, 4, 3, 1)
	test.That(t, out, test.ShouldResemble, []bool{
		false, false, false, true,
		false, false, false, true,
		false, false, false, true,
	})
	test.That(t, erode(mask, 4, 3, 0), test.ShouldResemble, mask)
}

func TestAggregationPaths(t *testing.T) {
	for mode, n := range map[config.Mode]int{
		config.ModeSGBM:     5,
		config.ModeHH:       8,
		config.ModeSGBM3Way: 3,
		config.ModeHH4:      4,
	} {
		test.That(t, aggregationPaths(mode), test.ShouldHaveLength, n)
	}
}

func TestComputeIdenticalFrames(t *testing.T) {
	size := image.Pt(96, 64)
	pair := testutils.RenderRectifiedPlanePair(size, 0)
	cfg := testConfig()
	est, err := NewEstimator(identityMaps(size), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	dmap, err := est.Compute(pair)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dmap.Size(), test.ShouldResemble, size)
	test.That(t, dmap.Invalid, test.ShouldEqual, -1.0)

	values, total := matchableValues(dmap, cfg)
	test.That(t, float64(len(values)), test.ShouldBeGreaterThan, 0.6*float64(total))
	for _, v := range values {
		test.That(t, math.Abs(v), test.ShouldBeLessThan, 0.25)
	}
	// Columns that cannot see every candidate are never matched.
	for y := 0; y < size.Y; y++ {
		for x := 0; x < cfg.MaxDisparity()-1; x++ {
			test.That(t, dmap.Valid(x, y), test.ShouldBeFalse)
		}
	}
}

func TestComputeKnownDisparity(t *testing.T) {
	size := image.Pt(160, 100)
	pair := testutils.RenderRectifiedPlanePair(size, 7)
	cfg := testConfig()
	logger := logging.NewTestLogger(t)

	for _, mode := range []config.Mode{config.ModeSGBM, config.ModeHH, config.ModeSGBM3Way, config.ModeHH4} {
		cfg.Mode = mode
		est, err := NewEstimator(identityMaps(size), cfg, logger)
		test.That(t, err, test.ShouldBeNil)
		dmap, err := est.Compute(pair)
		test.That(t, err, test.ShouldBeNil)

		values, total := matchableValues(dmap, cfg)
		test.That(t, float64(len(values)), test.ShouldBeGreaterThan, 0.6*float64(total))
		summary := dmap.Summarize()
		test.That(t, summary.Median, test.ShouldAlmostEqual, 7, 0.25)
		test.That(t, summary.ValidFraction, test.ShouldBeGreaterThan, 0)
	}
}

func TestComputeFiltered(t *testing.T) {
	size := image.Pt(160, 100)
	pair := testutils.RenderRectifiedPlanePair(size, 7)
	cfg := testConfig()
	est, err := NewEstimator(identityMaps(size), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.SetMode(config.ModeHH), test.ShouldBeNil)

	raw, err := est.Compute(pair)
	test.That(t, err, test.ShouldBeNil)
	filtered, err := est.ComputeFiltered(pair)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, filtered.Size(), test.ShouldResemble, size)

	rawValues, total := matchableValues(raw, cfg)
	values, _ := matchableValues(filtered, cfg)
	test.That(t, len(values), test.ShouldBeGreaterThanOrEqualTo, len(rawValues))
	// Filtering fills pixels in but never drops one the raw pass matched.
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			if raw.Valid(x, y) {
				test.That(t, filtered.Valid(x, y), test.ShouldBeTrue)
			}
		}
	}
	test.That(t, float64(len(values)), test.ShouldBeGreaterThan, 0.9*float64(total))
	for _, v := range values {
		test.That(t, v, test.ShouldAlmostEqual, 7, 0.75)
	}
	test.That(t, filtered.Valid(0, 0), test.ShouldBeFalse)
}

func TestRightReferencePass(t *testing.T) {
	size := image.Pt(120, 40)
	pair := testutils.RenderRectifiedPlanePair(size, 5)
	cfg := testConfig()
	est, err := NewEstimator(identityMaps(size), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	rect, err := est.Rectify(pair)
	test.That(t, err, test.ShouldBeNil)

	m, _ := est.current()
	left := m.compute(rimage.ToGrayFloat(rect.Left), rimage.ToGrayFloat(rect.Right))
	right := m.rightMatcher().compute(
		rimage.ToGrayFloat(imaging.FlipH(rect.Right)),
		rimage.ToGrayFloat(imaging.FlipH(rect.Left)),
	).flipped()

	var agree, checked int
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			if !left.valid(x, y) {
				continue
			}
			xr := x - int(math.Round(float64(left.at(x, y))/Scale))
			if xr < 0 || !right.valid(xr, y) {
				continue
			}
			checked++
			if utils.AbsInt(int(left.at(x, y)+right.at(xr, y))) <= DefaultWLSConf.LRCThreshold {
				agree++
			}
		}
	}
	test.That(t, checked, test.ShouldBeGreaterThan, 0)
	test.That(t, float64(agree), test.ShouldBeGreaterThan, 0.9*float64(checked))
}

func TestFilterSpeckles(t *testing.T) {
	disp := newFixedMap(8, 6, -Scale)
	// A large flat region and two small islands.
	for y := 0; y < 6; y++ {
		for x := 0; x < 5; x++ {
			disp.data[y*8+x] = 4 * Scale
		}
	}
	disp.data[0*8+7] = 9 * Scale
	disp.data[1*8+7] = 9*Scale + 8
	disp.data[5*8+7] = 2 * Scale
	// An outlier inside the large region.
	disp.data[2*8+2] = 12 * Scale

	filterSpeckles(disp, 2, 2*Scale)
	test.That(t, disp.valid(0, 0), test.ShouldBeTrue)
	test.That(t, disp.valid(7, 0), test.ShouldBeFalse)
	test.That(t, disp.valid(7, 1), test.ShouldBeFalse)
	test.That(t, disp.valid(7, 5), test.ShouldBeFalse)
	test.That(t, disp.valid(2, 2), test.ShouldBeFalse)
	test.That(t, disp.valid(4, 5), test.ShouldBeTrue)

	untouched := newFixedMap(3, 1, -Scale)
	untouched.data[1] = Scale
	filterSpeckles(untouched, 0, Scale)
	test.That(t, untouched.valid(1, 0), test.ShouldBeTrue)
}

func TestFixedMapFlipped(t *testing.T) {
	f := newFixedMap(3, 2, -Scale)
	f.data = []int32{1, 2, -Scale, 4, 5, 6}
	g := f.flipped()
	test.That(t, g.data, test.ShouldResemble, []int32{Scale, -2, -1, -6, -5, -4})
	test.That(t, g.valid(0, 0), test.ShouldBeFalse)
	test.That(t, g.at(1, 1), test.ShouldEqual, int32(-5))
}

func TestSmootherPreservesConstants(t *testing.T) {
	w, h := 7, 5
	guide := make([]float64, w*h)
	for i := range guide {
		guide[i] = float64((i * 37) % 255)
	}
	s := &smoother{w: w, h: h, guide: guide, conf: DefaultWLSConf}
	vals := make([]float64, w*h)
	for i := range vals {
		vals[i] = 3
	}
	s.smooth(vals)
	for _, v := range vals {
		test.That(t, v, test.ShouldAlmostEqual, 3, 1e-9)
	}
}

func TestMapSaveLoadVisualize(t *testing.T) {
	values := mat.NewDense(2, 3, []float64{-1, 4.5, 6, 8, -1, 10.25})
	m := &Map{Values: values, Invalid: -1}
	test.That(t, m.ValidValues(), test.ShouldResemble, []float64{4.5, 6, 8, 10.25})

	path := filepath.Join(t.TempDir(), "0.npz")
	test.That(t, m.Save(path), test.ShouldBeNil)
	loaded, err := LoadMap(path, -1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Equal(loaded.Values, values), test.ShouldBeTrue)

	rec, err := artifact.Load(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rec.Fields, test.ShouldHaveLength, 1)
	test.That(t, rec.Fields[0].Name, test.ShouldEqual, FieldDisparity)

	_, err = LoadMap(filepath.Join(t.TempDir(), "missing.npz"), -1)
	test.That(t, err, test.ShouldWrap, artifact.ErrArtifactLoadFailed)

	gray := m.Visualize(false).(*image.Gray)
	test.That(t, gray.GrayAt(0, 0).Y, test.ShouldEqual, uint8(0))
	test.That(t, gray.GrayAt(1, 0).Y, test.ShouldEqual, uint8(0))
	test.That(t, gray.GrayAt(2, 1).Y, test.ShouldEqual, uint8(255))
	colored := m.Visualize(true).(*image.NRGBA)
	test.That(t, colored.NRGBAAt(1, 1).R, test.ShouldEqual, uint8(0))
	test.That(t, colored.NRGBAAt(2, 1).R, test.ShouldEqual, uint8(255))

	summary := m.Summarize()
	test.That(t, summary.ValidFraction, test.ShouldAlmostEqual, 4.0/6)
	test.That(t, summary.Min, test.ShouldEqual, 4.5)
	test.That(t, summary.Max, test.ShouldEqual, 10.25)
	test.That(t, (&Map{Values: mat.NewDense(1, 1, []float64{-1}), Invalid: -1}).Summarize(), test.ShouldResemble, Summary{})
}
