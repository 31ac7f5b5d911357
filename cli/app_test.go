package cli

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/calibration"
	"go.viam.com/stereocam/config"
	"go.viam.com/stereocam/dataset"
	"go.viam.com/stereocam/disparity"
	"go.viam.com/stereocam/pointcloud"
	"go.viam.com/stereocam/rimage"
	"go.viam.com/stereocam/rimage/detection/chessboard"
	"go.viam.com/stereocam/testutils"
)

type testWriter struct {
	messages []string
}

func (tw *testWriter) Write(b []byte) (int, error) {
	tw.messages = append(tw.messages, string(b))
	return len(b), nil
}

func (tw *testWriter) String() string {
	return strings.Join(tw.messages, "")
}

func run(t *testing.T, args ...string) (*testWriter, *testWriter, error) {
	t.Helper()
	out, errOut := &testWriter{}, &testWriter{}
	err := NewApp(out, errOut).RunContext(context.Background(), append([]string{"stereocam"}, args...))
	return out, errOut, err
}

func filled(size image.Point, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, size.X, size.Y))
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func writeRigConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "rig.yaml")
	test.That(t, os.WriteFile(path, []byte(body), 0o600), test.ShouldBeNil)
	return path
}

func TestShowDataset(t *testing.T) {
	dir := t.TempDir()
	size := image.Point{8, 6}
	testutils.WriteImages(t, dir,
		filled(size, color.NRGBA{R: 10, A: 255}), filled(size, color.NRGBA{G: 20, A: 255}),
		filled(size, color.NRGBA{B: 30, A: 255}), filled(size, color.NRGBA{R: 40, A: 255}),
	)
	previews := filepath.Join(t.TempDir(), "previews")

	out, _, err := run(t, "show-dataset", "--out", previews, dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "0\t8x6\t0.png\t1.png")
	test.That(t, out.String(), test.ShouldContainSubstring, "1\t8x6\t2.png\t3.png")
	test.That(t, out.String(), test.ShouldContainSubstring, "wrote 2 previews")

	preview, err := rimage.ReadImageFromFile(filepath.Join(previews, "1.png"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, preview.Bounds().Size(), test.ShouldResemble, image.Point{16, 6})

	_, _, err = run(t, "show-dataset")
	test.That(t, err, test.ShouldNotBeNil)

	odd := t.TempDir()
	testutils.WriteImages(t, odd, filled(size, color.NRGBA{A: 255}))
	_, _, err = run(t, "show-dataset", odd)
	test.That(t, err, test.ShouldWrap, dataset.ErrInvalidDatasetShape)
}

func TestCaptureAction(t *testing.T) {
	rig := testutils.NewSyntheticRig()
	pattern := chessboard.Pattern{Rows: 6, Cols: 9, SquareSize: 2}
	board := rig.RenderChessboardPair(pattern, testutils.CalibrationPoses(pattern, 1)[0])
	blank := filled(rig.Size, color.NRGBA{R: 128, G: 128, B: 128, A: 255})

	input := t.TempDir()
	testutils.WriteImages(t, input, blank, blank, board.Left, board.Right)
	output := filepath.Join(t.TempDir(), "captured")

	out, errOut, err := run(t, "capture", "--input", input, "--output", output, "--amount", "2", "--start-at", "5")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "saved 1 frame pairs")
	test.That(t, errOut.String(), test.ShouldContainSubstring, "ran out of frames after 1 of 2 pairs")
	for _, name := range []string{"5_left.png", "5_right.png"} {
		_, err := os.Stat(filepath.Join(output, name))
		test.That(t, err, test.ShouldBeNil)
	}

	_, _, err = run(t, "capture", "--input", input, "--output", output, "--rows", "1")
	test.That(t, err, test.ShouldNotBeNil)
}

func simpleRectification() *calibration.RectificationData {
	identity := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	projection := mat.NewDense(3, 4, []float64{100, 0, 4, 0, 0, 100, 3, 0, 0, 0, 1, 0})
	return &calibration.RectificationData{
		RectificationLeft:  identity,
		RectificationRight: identity,
		ProjectionLeft:     projection,
		ProjectionRight:    projection,
		DisparityToDepth: mat.NewDense(4, 4, []float64{
			1, 0, 0, -4,
			0, 1, 0, -3,
			0, 0, 0, 100,
			0, 0, 0.5, 0,
		}),
		ValidROILeft:  image.Rect(0, 0, 8, 6),
		ValidROIRight: image.Rect(0, 0, 8, 6),
	}
}

func TestReconstructAction(t *testing.T) {
	work := t.TempDir()
	rectPath := filepath.Join(work, "rectify.npz")
	test.That(t, simpleRectification().Save(rectPath), test.ShouldBeNil)
	rigPath := writeRigConfig(t, work, fmt.Sprintf(`pattern:
  rows: 6
  columns: 9
  square_size: 2
rectification_file: %s
matching_config_file: %s
`, rectPath, filepath.Join(work, "missing.yml")))

	samples := filepath.Join(work, "disparities")
	size := image.Point{8, 6}
	testutils.WriteImages(t, filepath.Join(samples, dataset.FramesDir),
		filled(size, color.NRGBA{R: 200, G: 100, B: 50, A: 255}), filled(size, color.NRGBA{A: 255}))
	values := mat.NewDense(size.Y, size.X, nil)
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			values.Set(y, x, 4)
		}
	}
	values.Set(0, 0, -1)
	values.Set(2, 5, -1)
	test.That(t, (&disparity.Map{Values: values, Invalid: -1}).Save(filepath.Join(samples, "0.npz")), test.ShouldBeNil)

	// The matching config that would give the invalid disparity does not exist.
	_, _, err := run(t, "--config", rigPath, "reconstruct", samples)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "--invalid-disparity")

	_, _, err = run(t, "--config", rigPath, "reconstruct", "--verify", "--invalid-disparity", "-1", samples)
	test.That(t, err, test.ShouldNotBeNil)

	clouds := filepath.Join(work, "clouds")
	out, _, err := run(t, "--config", rigPath, "reconstruct",
		"--output", clouds, "--ascii", "--verify", "--bgr", "--fit-plane", "--invalid-disparity", "-1", samples)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "46 points")
	test.That(t, out.String(), test.ShouldContainSubstring, "plane normal")

	cloud, err := pointcloud.NewFromFile(filepath.Join(clouds, "0.ply"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 46)
	// Pixel (0, 1) reprojects to (-2, -1, 50).
	var found pointcloud.Data
	cloud.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		if p == (r3.Vector{X: -2, Y: -1, Z: 50}) {
			found = d
			return false
		}
		return true
	})
	test.That(t, found, test.ShouldNotBeNil)
	r, g, b := found.RGB255()
	test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{50, 100, 200})

	_, _, err = run(t, "--config", rigPath, "reconstruct",
		"--output", clouds, "--format", "pcd", "--invalid-disparity", "-1", samples)
	test.That(t, err, test.ShouldBeNil)
	cloud, err = pointcloud.NewFromFile(filepath.Join(clouds, "0.pcd"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 46)

	_, _, err = run(t, "--config", rigPath, "reconstruct", "--format", "xyz", samples)
	test.That(t, err, test.ShouldNotBeNil)
}

// TestPipeline runs calibrate, disparity and reconstruct on a rendered rig.
func TestPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("renders and calibrates a full rig")
	}
	rig := testutils.NewSyntheticRig()
	pattern := chessboard.Pattern{Rows: 6, Cols: 9, SquareSize: 2}
	var boards []image.Image
	for _, pose := range testutils.CalibrationPoses(pattern, 15) {
		pair := rig.RenderChessboardPair(pattern, pose)
		boards = append(boards, pair.Left, pair.Right)
	}
	work := t.TempDir()
	boardDir := filepath.Join(work, "boards")
	testutils.WriteImages(t, boardDir, boards...)

	artifacts := filepath.Join(work, "artifacts")
	matchingPath := filepath.Join(work, "sgbm_config.yml")
	test.That(t, config.WriteMatchingConfig(matchingPath, config.DefaultMatchingConfig()), test.ShouldBeNil)
	rigPath := writeRigConfig(t, work, fmt.Sprintf(`pattern:
  rows: 6
  columns: 9
  square_size: 2
alpha: 0
calibration_file: %[1]s/calib.npz
rectification_file: %[1]s/rectify.npz
transformation_map_file: %[1]s/transformation_map.npz
matching_config_file: %[2]s
`, artifacts, matchingPath))

	_, _, err := run(t, "--config", rigPath, "calibrate", "--output-dir", artifacts, "--max-rms", "1e-9", boardDir)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no artifacts written")
	_, err = os.Stat(filepath.Join(artifacts, "calib.npz"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	plot := filepath.Join(work, "errors.png")
	out, _, err := run(t, "--config", rigPath, "calibrate", "--output-dir", artifacts, "--plot", plot, boardDir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "stereo rms")
	for _, name := range []string{"calib.npz", "rectify.npz", "transformation_map.npz"} {
		_, err := os.Stat(filepath.Join(artifacts, name))
		test.That(t, err, test.ShouldBeNil)
	}
	_, err = os.Stat(plot)
	test.That(t, err, test.ShouldBeNil)

	scene := rig.RenderPair(testutils.PlaneShader(r3.Vector{Z: 80}, r3.Vector{X: 0.1, Y: -0.05, Z: -1}.Normalize(), 1.5))
	sceneDir := filepath.Join(work, "scene")
	testutils.WriteImages(t, sceneDir, scene.Left, scene.Right, scene.Left, scene.Right)

	disparities := filepath.Join(work, "disparities")
	out, _, err = run(t, "--config", rigPath, "disparity", "--output", disparities, "--save", "1", "--visualize", sceneDir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "processed 2 pairs, saved 1")
	for _, name := range []string{"0.npz", "0.png", "frames/0_left.png", "frames/0_right.png"} {
		_, err := os.Stat(filepath.Join(disparities, name))
		test.That(t, err, test.ShouldBeNil)
	}

	clouds := filepath.Join(work, "clouds")
	out, _, err = run(t, "--config", rigPath, "reconstruct", "--output", clouds, "--fit-plane", disparities)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "wrote 1 point clouds")
	info, err := os.Stat(filepath.Join(clouds, "0.ply"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 1000)
}
