package calibration

import (
	"fmt"
	"image/color"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SavePlot draws the per-view reprojection errors of both cameras as grouped bars. The format
// follows the extension of path (png, svg, pdf, ...).
func (r Report) SavePlot(path string) error {
	if len(r.LeftPerViewRMS) == 0 || len(r.LeftPerViewRMS) != len(r.RightPerViewRMS) {
		return errors.New("report has no per-view errors to plot")
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Reprojection error per view (left %.3f px, right %.3f px)", r.LeftRMS, r.RightRMS)
	p.Y.Label.Text = "RMS error (px)"
	p.X.Label.Text = "dataset pair"

	width := vg.Points(8)
	left, err := plotter.NewBarChart(plotter.Values(r.LeftPerViewRMS), width)
	if err != nil {
		return err
	}
	left.Color = color.RGBA{R: 66, G: 133, B: 244, A: 255}
	left.Offset = -width / 2
	right, err := plotter.NewBarChart(plotter.Values(r.RightPerViewRMS), width)
	if err != nil {
		return err
	}
	right.Color = color.RGBA{R: 219, G: 68, B: 55, A: 255}
	right.Offset = width / 2
	p.Add(left, right, plotter.NewGrid())
	p.Legend.Add("left", left)
	p.Legend.Add("right", right)
	p.Legend.Top = true

	names := make([]string, len(r.UsedPairs))
	for i, idx := range r.UsedPairs {
		names[i] = fmt.Sprint(idx)
	}
	if len(names) == len(r.LeftPerViewRMS) {
		p.NominalX(names...)
	}
	return p.Save(vg.Length(max(6, len(names)/2))*vg.Inch, 4*vg.Inch, path)
}
