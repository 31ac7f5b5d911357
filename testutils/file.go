package testutils

import (
	"image"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/stereocam/rimage"
)

// WriteImages saves imgs into dir as 0.png, 1.png, ... with strictly increasing modification
// times and returns the paths.
func WriteImages(t *testing.T, dir string, imgs ...image.Image) []string {
	t.Helper()
	test.That(t, os.MkdirAll(dir, 0o750), test.ShouldBeNil)
	base := time.Now().Add(-time.Hour)
	paths := make([]string, 0, len(imgs))
	for i, img := range imgs {
		p := filepath.Join(dir, strconv.Itoa(i)+".png")
		test.That(t, rimage.WriteImageToFile(p, img), test.ShouldBeNil)
		mtime := base.Add(time.Duration(i) * time.Second)
		test.That(t, os.Chtimes(p, mtime, mtime), test.ShouldBeNil)
		paths = append(paths, p)
	}
	return paths
}
