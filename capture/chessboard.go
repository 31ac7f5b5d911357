package capture

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/stereocam/logging"
	"go.viam.com/stereocam/rimage"
	"go.viam.com/stereocam/rimage/detection/chessboard"
	"go.viam.com/stereocam/utils"
)

// ChessboardCapture collects calibration frames: it saves pairs in which the whole board is
// visible in both frames.
type ChessboardCapture struct {
	Source   FrameSource
	Saver    *FrameSaver
	Detector *chessboard.Detector
	Pattern  chessboard.Pattern
	// Amount is the number of pairs to save.
	Amount int
	// Delay is waited before each shot so the board can be moved.
	Delay  time.Duration
	Logger logging.Logger
}

// Run saves Amount pairs and returns how many were saved. Cancellation is checked between
// attempts, never during detection.
func (c *ChessboardCapture) Run(ctx context.Context) (int, error) {
	if err := c.Pattern.Validate(); err != nil {
		return 0, err
	}
	if c.Amount <= 0 {
		return 0, errors.Errorf("amount must be positive, got %d", c.Amount)
	}
	c.Logger.Infow("place the board so that both cameras see it", "amount", c.Amount, "delay", c.Delay)
	for saved := 0; saved < c.Amount; saved++ {
		if c.Delay > 0 && !utils.SelectContextOrWait(ctx, c.Delay) {
			return saved, ctx.Err()
		}
		pair, attempts, err := c.waitForBoard(ctx)
		if err != nil {
			return saved, err
		}
		n, err := c.Saver.Save(pair)
		if err != nil {
			return saved, err
		}
		c.Logger.Infow("frames saved", "shot", saved, "number", n, "attempts", attempts)
	}
	c.Logger.Infow("all shots taken", "amount", c.Amount)
	return c.Amount, nil
}

// waitForBoard reads pairs until the board is found in both frames.
func (c *ChessboardCapture) waitForBoard(ctx context.Context) (rimage.ImagePair, int, error) {
	for attempts := 1; ; attempts++ {
		if err := ctx.Err(); err != nil {
			return rimage.ImagePair{}, attempts, err
		}
		pair, err := c.Source.Read(ctx)
		if err != nil {
			return rimage.ImagePair{}, attempts, errors.Wrap(err, "cannot read frames")
		}
		if c.Detector.Found(pair.Left, c.Pattern) && c.Detector.Found(pair.Right, c.Pattern) {
			return pair, attempts, nil
		}
		c.Logger.CDebugw(ctx, "board not visible in both frames", "attempt", attempts)
	}
}
