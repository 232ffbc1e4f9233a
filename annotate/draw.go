package annotate

import (
	"fmt"
	"image"
	"sort"

	iface "DetStreamServer/interface"

	"gocv.io/x/gocv"
)

// DrawDetections strokes every detection box onto the frame with its
// "name: confidence" label. Classes are colored by their position in the
// sorted key order, so a class keeps its color from frame to frame.
func DrawDetections(mat *gocv.Mat, results map[string][]iface.Result, palette Palette) {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	for idx, name := range names {
		col := palette.ColorFor(idx)
		for _, res := range results[name] {
			rect := image.Rect(
				int(res.Box.LT.X), int(res.Box.LT.Y),
				int(res.Box.RB.X), int(res.Box.RB.Y),
			)
			gocv.Rectangle(mat, rect, col, 2)
			label := fmt.Sprintf("%s: %.2f", name, res.Conf)
			org := image.Pt(rect.Min.X, rect.Min.Y-6)
			if org.Y < 12 {
				org.Y = rect.Min.Y + 14
			}
			gocv.PutText(mat, label, org, gocv.FontHersheySimplex, 0.5, col, 1)
		}
	}
}
