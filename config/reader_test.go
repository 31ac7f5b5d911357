package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereocam/logging"
)

const validMatching = `
min_disparity: 0
num_disparities: 64
block_size: 5
disp_12_max_diff: 1
uniqueness_ratio: 10
speckle_window_size: 100
speckle_range: 2
pre_filter_cap: 63
`

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	return path
}

func TestReadMatchingConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		cfg, err := ReadMatchingConfig(writeFile(t, dir, "valid.yml", validMatching))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.NumDisparities, test.ShouldEqual, 64)
		test.That(t, cfg.BlockSize, test.ShouldEqual, 5)
		test.That(t, cfg.Mode, test.ShouldEqual, ModeSGBM3Way)
		test.That(t, cfg.P1(), test.ShouldEqual, 200)
		test.That(t, cfg.P2(), test.ShouldEqual, 800)
		test.That(t, cfg.InvalidDisparity(), test.ShouldEqual, -1.0)
	})

	t.Run("explicit mode", func(t *testing.T) {
		cfg, err := ReadMatchingConfig(writeFile(t, dir, "mode.yml", validMatching+"mode: HH\n"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.Mode, test.ShouldEqual, ModeHH)
	})

	t.Run("environment substitution", func(t *testing.T) {
		t.Setenv("STEREO_BLOCK", "7")
		doc := `
min_disparity: 0
num_disparities: 32
block_size: ${STEREO_BLOCK}
disp_12_max_diff: -1
uniqueness_ratio: 5
speckle_window_size: 0
speckle_range: 0
pre_filter_cap: 31
`
		cfg, err := ReadMatchingConfig(writeFile(t, dir, "env.yml", doc))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.BlockSize, test.ShouldEqual, 7)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadMatchingConfig(filepath.Join(dir, "nope.yml"))
		test.That(t, errors.Is(err, ErrConfigurationMissing), test.ShouldBeTrue)
	})

	t.Run("empty document", func(t *testing.T) {
		_, err := ReadMatchingConfig(writeFile(t, dir, "empty.yml", "\n"))
		test.That(t, errors.Is(err, ErrConfigurationMissing), test.ShouldBeTrue)
	})

	t.Run("missing key", func(t *testing.T) {
		doc := "min_disparity: 0\nnum_disparities: 64\nblock_size: 5\n"
		_, err := ReadMatchingConfig(writeFile(t, dir, "partial.yml", doc))
		test.That(t, errors.Is(err, ErrConfigurationInvalid), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "disp_12_max_diff")
	})

	for name, replacement := range map[string][2]string{
		"even block size":       {"block_size: 5", "block_size: 4"},
		"unaligned disparities": {"num_disparities: 64", "num_disparities: 40"},
		"zero disparities":      {"num_disparities: 64", "num_disparities: 0"},
		"negative speckle":      {"speckle_range: 2", "speckle_range: -2"},
		"unknown mode":          {"pre_filter_cap: 63", "pre_filter_cap: 63\nmode: fastest"},
	} {
		t.Run(name, func(t *testing.T) {
			doc := strings.Replace(validMatching, replacement[0], replacement[1], 1)
			_, err := ReadMatchingConfig(writeFile(t, dir, "bad.yml", doc))
			test.That(t, errors.Is(err, ErrConfigurationInvalid), test.ShouldBeTrue)
		})
	}
}

func TestWriteMatchingConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sgbm_config.yml")
	want := DefaultMatchingConfig()
	want.Mode = ModeHH4
	test.That(t, WriteMatchingConfig(path, want), test.ShouldBeNil)

	got, err := ReadMatchingConfig(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, *got, test.ShouldResemble, want)
}

func TestWriteMatchingConfigReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sgbm_config.yml", validMatching)

	want := DefaultMatchingConfig()
	want.NumDisparities = 128
	test.That(t, WriteMatchingConfig(path, want), test.ShouldBeNil)
	got, err := ReadMatchingConfig(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.NumDisparities, test.ShouldEqual, 128)

	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Mode().Perm(), test.ShouldEqual, os.FileMode(0o644))
	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 1)

	// A failed save leaves nothing behind.
	missing := filepath.Join(dir, "absent", "sgbm_config.yml")
	test.That(t, WriteMatchingConfig(missing, want), test.ShouldNotBeNil)
	entries, err = os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 1)
}

func TestReadRigConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := ReadRigConfig(writeFile(t, dir, "rig.yml", "pattern:\n  rows: 6\n  columns: 9\n  square_size: 2.0\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Pattern, test.ShouldResemble, PatternConfig{Rows: 6, Columns: 9, SquareSize: 2.0})
	test.That(t, cfg.RectificationAlpha(), test.ShouldEqual, 1.0)
	test.That(t, cfg.CalibrationFile, test.ShouldEqual, DefaultCalibrationFile)
	test.That(t, cfg.MatchingConfigFile, test.ShouldEqual, DefaultMatchingConfigFile)

	cfg, err = ReadRigConfig(writeFile(t, dir, "alpha.yml",
		"pattern: {rows: 6, columns: 9, square_size: 2.0}\nalpha: 0\ncalibration_file: rig.npz\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.RectificationAlpha(), test.ShouldEqual, 0.0)
	test.That(t, cfg.CalibrationFile, test.ShouldEqual, "rig.npz")

	_, err = ReadRigConfig(writeFile(t, dir, "small.yml", "pattern: {rows: 1, columns: 9, square_size: 2.0}\n"))
	test.That(t, errors.Is(err, ErrConfigurationInvalid), test.ShouldBeTrue)

	_, err = ReadRigConfig(writeFile(t, dir, "nopattern.yml", "alpha: 0.5\n"))
	test.That(t, errors.Is(err, ErrConfigurationInvalid), test.ShouldBeTrue)
}

func TestMatchingConfigWatcher(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sgbm_config.yml", validMatching)

	reloads := make(chan *MatchingConfig, 1)
	onChange := func(cfg *MatchingConfig) {
		select {
		case reloads <- cfg:
		default:
		}
	}
	watcher, err := NewMatchingConfigWatcher(path, onChange, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, watcher.Close(), test.ShouldBeNil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	writeFile(t, dir, "sgbm_config.yml", strings.Replace(validMatching, "block_size: 5", "block_size: 9", 1))
	select {
	case cfg := <-reloads:
		test.That(t, cfg.BlockSize, test.ShouldEqual, 9)
	case <-ctx.Done():
		t.Fatal("no reload observed")
	}
	cancel()
	test.That(t, <-done, test.ShouldBeNil)
}
