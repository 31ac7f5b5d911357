package disparity

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"go.viam.com/stereocam/calibration"
	"go.viam.com/stereocam/config"
	"go.viam.com/stereocam/logging"
	"go.viam.com/stereocam/rimage"
	"go.viam.com/stereocam/utils"
)

// Estimator rectifies raw frame pairs with a TransformationMap and computes their disparity.
// It is safe for concurrent use; SetMode and SetConfig swap the matcher atomically.
type Estimator struct {
	maps   *calibration.TransformationMap
	logger logging.Logger

	mu       sync.Mutex
	matcher  *matcher
	wls      WLSConfiguration
	rebuilds int
}

// NewEstimator validates cfg and builds the matcher for its mode.
func NewEstimator(maps *calibration.TransformationMap, cfg config.MatchingConfig, logger logging.Logger) (*Estimator, error) {
	if maps == nil || maps.LeftMapX == nil {
		return nil, errors.New("transformation map is required")
	}
	m, err := newMatcher(cfg)
	if err != nil {
		return nil, err
	}
	return &Estimator{maps: maps, logger: logger, matcher: m, wls: DefaultWLSConf}, nil
}

// Mode returns the current matching mode.
func (e *Estimator) Mode() config.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matcher.cfg.Mode
}

// Config returns the current matching configuration.
func (e *Estimator) Config() config.MatchingConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matcher.cfg
}

// SetMode switches the matching mode. The matcher is only rebuilt when mode differs from the
// current one.
func (e *Estimator) SetMode(mode config.Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if mode == e.matcher.cfg.Mode {
		return nil
	}
	cfg := e.matcher.cfg
	cfg.Mode = mode
	return e.rebuild(cfg)
}

// SetConfig replaces the matching configuration but keeps the current mode.
func (e *Estimator) SetConfig(cfg config.MatchingConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg.Mode = e.matcher.cfg.Mode
	if cfg == e.matcher.cfg {
		return nil
	}
	return e.rebuild(cfg)
}

// SetWLSConfig replaces the filter setup used by ComputeFiltered.
func (e *Estimator) SetWLSConfig(conf WLSConfiguration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wls = conf
}

func (e *Estimator) rebuild(cfg config.MatchingConfig) error {
	m, err := newMatcher(cfg)
	if err != nil {
		return err
	}
	e.matcher = m
	e.rebuilds++
	e.logger.Debugw("matcher rebuilt", "mode", cfg.Mode, "num_disparities", cfg.NumDisparities, "block_size", cfg.BlockSize)
	return nil
}

func (e *Estimator) current() (*matcher, WLSConfiguration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matcher, e.wls
}

// Rectify remaps both frames of a raw pair into the rectified geometry.
func (e *Estimator) Rectify(pair rimage.ImagePair) (rimage.ImagePair, error) {
	if err := pair.Validate(); err != nil {
		return rimage.ImagePair{}, err
	}
	left := rimage.Remap(pair.Left, e.maps.LeftMapX, e.maps.LeftMapY)
	right := rimage.Remap(pair.Right, e.maps.RightMapX, e.maps.RightMapY)
	return rimage.ImagePair{Left: left, Right: right}, nil
}

// Compute rectifies pair and matches it with the left frame as reference. No filtering is
// applied. The returned map has the rectified frame size. Pixels whose matching block, or that
// of their match, reaches outside the raw frames are invalid.
func (e *Estimator) Compute(pair rimage.ImagePair) (*Map, error) {
	rect, err := e.Rectify(pair)
	if err != nil {
		return nil, err
	}
	m, _ := e.current()
	start := time.Now()
	leftMask, rightMask := sourceMasks(e.maps, pair.Size(), m.cfg.BlockSize/2)
	disp := m.compute(rimage.ToGrayFloat(rect.Left), rimage.ToGrayFloat(rect.Right))
	disp.restrict(leftMask, rightMask)
	e.logger.Debugw("disparity computed", "mode", m.cfg.Mode, "elapsed", time.Since(start))
	return &Map{Values: disp.toDense(), Invalid: m.cfg.InvalidDisparity()}, nil
}

// ComputeFiltered rectifies pair, matches it in both directions and smooths the left-reference
// disparity with the weighted least squares filter guided by the left frame. Pixels the
// right-reference pass does not confirm are filled from their neighbors. Every pixel valid in
// the Compute result stays valid.
func (e *Estimator) ComputeFiltered(pair rimage.ImagePair) (*Map, error) {
	rect, err := e.Rectify(pair)
	if err != nil {
		return nil, err
	}
	m, wls := e.current()
	start := time.Now()
	leftGray := rimage.ToGrayFloat(rect.Left)

	// The right-reference pass matches the mirrored frames with their roles swapped.
	var leftDisp, rightDisp *fixedMap
	_, err = utils.RunInParallel(context.Background(), []utils.SimpleFunc{
		func(ctx context.Context) error {
			leftDisp = m.compute(leftGray, rimage.ToGrayFloat(rect.Right))
			return nil
		},
		func(ctx context.Context) error {
			rightDisp = m.rightMatcher().compute(
				rimage.ToGrayFloat(imaging.FlipH(rect.Right)),
				rimage.ToGrayFloat(imaging.FlipH(rect.Left)),
			).flipped()
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	leftMask, rightMask := sourceMasks(e.maps, pair.Size(), m.cfg.BlockSize/2)
	leftDisp.restrict(leftMask, rightMask)
	rightDisp.restrict(rightMask, leftMask)
	firstColumn := max(m.cfg.MaxDisparity()-1, 0)
	values := filterWLS(leftDisp, rightDisp, leftGray, leftMask, firstColumn, m.cfg.InvalidDisparity(), wls)
	e.logger.Debugw("filtered disparity computed", "mode", m.cfg.Mode, "elapsed", time.Since(start))
	return &Map{Values: values, Invalid: m.cfg.InvalidDisparity()}, nil
}

// rightMatcher derives the matcher of the right-reference pass. It runs on mirrored frames, so
// disparities stay positive; its own speckle and consistency filtering are disabled since the
// filter checks consistency itself.
func (m *matcher) rightMatcher() *matcher {
	cfg := m.cfg
	cfg.SpeckleWindowSize = 0
	cfg.Disp12MaxDiff = -1
	return &matcher{cfg: cfg, paths: m.paths}
}

// Size returns the rectified frame size the estimator produces.
func (e *Estimator) Size() image.Point {
	return e.maps.Size()
}
