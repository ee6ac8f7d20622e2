package vision

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"gocv.io/x/gocv"

	"github.com/sua-org/ppe-watch/internal/core"
)

var (
	colorPresent = color.RGBA{R: 0, G: 200, B: 0, A: 0}
	colorAbsent  = color.RGBA{R: 230, G: 0, B: 0, A: 0}
	colorPerson  = color.RGBA{R: 60, G: 120, B: 255, A: 0}
	colorText    = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	colorPanel   = color.RGBA{R: 0, G: 0, B: 0, A: 0}
)

const font = gocv.FontHersheySimplex

// Annotator draws detection boxes and a status panel in place.
type Annotator struct{}

func (Annotator) Annotate(frame core.Frame, dets []core.ItemDetection, res core.ComplianceResult) error {
	f, err := asFrame(frame)
	if err != nil {
		return err
	}
	img := &f.Mat

	for _, d := range dets {
		c := colorAbsent
		switch {
		case d.ItemType == core.ItemPerson:
			c = colorPerson
		case d.Present:
			c = colorPresent
		}
		rect := image.Rect(d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2)
		gocv.Rectangle(img, rect, c, 2)

		label := fmt.Sprintf("%s %.0f%%", d.RawClass, d.Confidence*100)
		size := gocv.GetTextSize(label, font, 0.5, 1)
		top := d.BBox.Y1 - size.Y - 6
		if top < 0 {
			top = d.BBox.Y1
		}
		gocv.Rectangle(img, image.Rect(d.BBox.X1, top, d.BBox.X1+size.X+6, top+size.Y+6), c, -1)
		gocv.PutText(img, label, image.Pt(d.BBox.X1+3, top+size.Y+2), font, 0.5, colorText, 1)
	}

	drawPanel(img, res)
	return nil
}

func drawPanel(img *gocv.Mat, res core.ComplianceResult) {
	lines := []string{
		"State: " + res.State.String(),
		fmt.Sprintf("Score: %.0f%%", res.Score),
	}
	if len(res.Missing) > 0 {
		names := make([]string, len(res.Missing))
		for i, m := range res.Missing {
			names[i] = string(m)
		}
		lines = append(lines, "Missing: "+strings.Join(names, ", "))
	}

	width := 0
	for _, l := range lines {
		if s := gocv.GetTextSize(l, font, 0.6, 2); s.X > width {
			width = s.X
		}
	}
	panel := image.Rect(10, 10, 10+width+20, 10+len(lines)*26+14)

	overlay := img.Clone()
	defer overlay.Close()
	gocv.Rectangle(&overlay, panel, colorPanel, -1)
	gocv.AddWeighted(overlay, 0.6, *img, 0.4, 0, img)

	stateColor := colorAbsent
	if res.State == core.StateCorrect {
		stateColor = colorPresent
	}
	for i, l := range lines {
		c := colorText
		if i == 0 {
			c = stateColor
		}
		gocv.PutText(img, l, image.Pt(20, 36+i*26), font, 0.6, c, 2)
	}
}
