// Package cli contains the stereocam command line application.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"go.viam.com/stereocam/logging"
)

// Flags.
const (
	generalFlagDebug  = "debug"
	generalFlagConfig = "config"

	captureFlagInput   = "input"
	captureFlagOutput  = "output"
	captureFlagAmount  = "amount"
	captureFlagDelay   = "delay"
	captureFlagStartAt = "start-at"

	patternFlagRows       = "rows"
	patternFlagColumns    = "columns"
	patternFlagSquareSize = "square-size"

	showDatasetFlagOut     = "out"
	showDatasetFlagCorners = "corners"

	calibrateFlagOutputDir = "output-dir"
	calibrateFlagAlpha     = "alpha"
	calibrateFlagMaxRMS    = "max-rms"
	calibrateFlagPlot      = "plot"

	disparityFlagOutput         = "output"
	disparityFlagMatchingConfig = "matching-config"
	disparityFlagSaveAll        = "save-all"
	disparityFlagSave           = "save"
	disparityFlagVisualize      = "visualize"
	disparityFlagColorize       = "colorize"
	disparityFlagWatch          = "watch"
	disparityFlagLambda         = "wls-lambda"
	disparityFlagSigma          = "wls-sigma"

	reconstructFlagOutput   = "output"
	reconstructFlagFormat   = "format"
	reconstructFlagASCII    = "ascii"
	reconstructFlagBGR      = "bgr"
	reconstructFlagInvalid  = "invalid-disparity"
	reconstructFlagVerify   = "verify"
	reconstructFlagFitPlane = "fit-plane"
)

func patternFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  patternFlagRows,
			Usage: "interior corners along a board column, overrides the rig config",
		},
		&cli.IntFlag{
			Name:  patternFlagColumns,
			Usage: "interior corners along a board row, overrides the rig config",
		},
		&cli.Float64Flag{
			Name:  patternFlagSquareSize,
			Usage: "edge length of a board square, overrides the rig config",
		},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:            "stereocam",
		Usage:           "calibrate a stereo camera and reconstruct point clouds",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    generalFlagConfig,
				Aliases: []string{"c"},
				Usage:   "load rig configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    generalFlagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(generalFlagDebug) {
				c.Context = logging.EnableDebugMode(c.Context, c.App.Name)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "capture",
				Usage:     "save frame pairs that show the whole chessboard in both frames",
				UsageText: "stereocam capture --input <frames dir> --output <dir> [--amount N] [--delay 5s]",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     captureFlagInput,
						Required: true,
						Usage:    "directory of frame pairs to read from",
					},
					&cli.StringFlag{
						Name:     captureFlagOutput,
						Required: true,
						Usage:    "directory to save the pairs to",
					},
					&cli.IntFlag{
						Name:  captureFlagAmount,
						Value: 30,
						Usage: "number of pairs to save",
					},
					&cli.DurationFlag{
						Name:  captureFlagDelay,
						Value: 0,
						Usage: "time to wait before each shot",
					},
					&cli.IntFlag{
						Name:  captureFlagStartAt,
						Usage: "number of the first saved pair",
					},
				}, patternFlags()...),
				Action: CaptureAction,
			},
			{
				Name:      "show-dataset",
				Usage:     "list the frame pairs of a dataset directory",
				ArgsUsage: "<frames dir>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  showDatasetFlagOut,
						Usage: "write side by side previews to `DIR`",
					},
					&cli.BoolFlag{
						Name:  showDatasetFlagCorners,
						Usage: "draw detected chessboard corners on the previews",
					},
				},
				Action: ShowDatasetAction,
			},
			{
				Name:      "calibrate",
				Usage:     "calibrate the rig from chessboard frame pairs",
				ArgsUsage: "<frames dir>",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  calibrateFlagOutputDir,
						Value: ".",
						Usage: "directory the calibration artifacts are written to",
					},
					&cli.Float64Flag{
						Name:  calibrateFlagAlpha,
						Usage: "rectification scaling in [0, 1], negative disables scaling, overrides the rig config",
					},
					&cli.Float64Flag{
						Name:  calibrateFlagMaxRMS,
						Usage: "refuse to write artifacts when the stereo RMS error exceeds this, 0 disables the check",
					},
					&cli.StringFlag{
						Name:  calibrateFlagPlot,
						Usage: "write a per-view error plot to `FILE`",
					},
				}, patternFlags()...),
				Action: CalibrateAction,
			},
			{
				Name:      "disparity",
				Usage:     "compute disparity maps for frame pairs and save the selected ones",
				ArgsUsage: "<frames dir>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     disparityFlagOutput,
						Required: true,
						Usage:    "directory the maps and their frames are saved to",
					},
					&cli.StringFlag{
						Name:  disparityFlagMatchingConfig,
						Usage: "matching configuration, overrides the rig config",
					},
					&cli.BoolFlag{
						Name:  disparityFlagSaveAll,
						Usage: "save a filtered map for every pair",
					},
					&cli.IntSliceFlag{
						Name:  disparityFlagSave,
						Usage: "indices of the pairs to save a filtered map for",
					},
					&cli.BoolFlag{
						Name:  disparityFlagVisualize,
						Usage: "also write a normalized png next to every saved map",
					},
					&cli.BoolFlag{
						Name:  disparityFlagColorize,
						Usage: "color the visualization instead of using gray levels",
					},
					&cli.BoolFlag{
						Name:  disparityFlagWatch,
						Usage: "reload the matching configuration when its file changes",
					},
					&cli.Float64Flag{
						Name:  disparityFlagLambda,
						Usage: "smoothness weight of the filter",
					},
					&cli.Float64Flag{
						Name:  disparityFlagSigma,
						Usage: "edge sensitivity of the filter",
					},
				},
				Action: DisparityAction,
			},
			{
				Name:      "reconstruct",
				Usage:     "turn saved disparity maps into colored point clouds",
				ArgsUsage: "<disparity dir>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  reconstructFlagOutput,
						Value: "point_clouds",
						Usage: "directory the point clouds are written to",
					},
					&cli.StringFlag{
						Name:  reconstructFlagFormat,
						Value: "ply",
						Usage: "point cloud format, ply or pcd",
					},
					&cli.BoolFlag{
						Name:  reconstructFlagASCII,
						Usage: "write ascii files instead of binary ones",
					},
					&cli.BoolFlag{
						Name:  reconstructFlagBGR,
						Usage: "the saved frames store blue in the first channel",
					},
					&cli.Float64Flag{
						Name:  reconstructFlagInvalid,
						Usage: "disparities at or below this are dropped, defaults to the matching config's",
					},
					&cli.BoolFlag{
						Name:  reconstructFlagVerify,
						Usage: "read every written ascii ply file back and check its point count",
					},
					&cli.BoolFlag{
						Name:  reconstructFlagFitPlane,
						Usage: "log the best fitting plane of every cloud",
					},
				},
				Action: ReconstructAction,
			},
		},
	}
}

// NewApp returns a new app with the CLI function, usage and help information.
func NewApp(out, errOut io.Writer) *cli.App {
	app := newApp()
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
