// Package traffic derives road scene semantics from a fused frame result.
// It flags pedestrians standing in the drivable area and classifies the
// color of detected traffic lights.  All functions are pure pixel and
// geometry operations, no model inference happens here.
package traffic

import (
	"image"

	clipper "github.com/ctessum/go.clipper"
	"gocv.io/x/gocv"

	"github.com/swdee/go-roadsense/fusion"
	"github.com/swdee/go-roadsense/registry"
)

// Analyzer derives traffic semantics from fused frame results
type Analyzer struct {
	reg *registry.Registry
}

// NewAnalyzer returns an Analyzer using the given registry for class
// identification
func NewAnalyzer(reg *registry.Registry) *Analyzer {
	return &Analyzer{
		reg: reg,
	}
}

// Analyze derives the semantics of one frame.  The frame must be the same
// source image the detections were produced from as traffic light regions
// are cropped from it.
func (a *Analyzer) Analyze(frame gocv.Mat, res *fusion.FrameResult) Semantics {

	sem := Semantics{}

	if res == nil {
		return sem
	}

	road := expandedRoad(res)

	for i, det := range res.Detections {

		switch det.ClassID {

		case registry.PersonID:
			if footOnRoad(det.Box, road, res.FrameSize) {
				sem.PersonsAtRisk = append(sem.PersonsAtRisk, i)
			}

		case registry.TrafficLightID:
			sem.LightColors = append(sem.LightColors, LightColor{
				Index: i,
				Color: ClassifyLight(frame, det.Box),
			})
		}
	}

	sem.PedestrianRisk = len(sem.PersonsAtRisk) > 0

	return sem
}

// expandedRoad converts the drivable area mask into contour polygons
// inflated by the safety margin.  The segmentation mask excludes the
// pedestrians themselves so the area is grown to cover a person standing at
// its edge.  Returns nil when no drivable mask is present.
func expandedRoad(res *fusion.FrameResult) [][]image.Point {

	mask, ok := res.Mask(fusion.MaskDrivable)

	if !ok {
		return nil
	}

	mat, err := gocv.NewMatFromBytes(mask.Height, mask.Width,
		gocv.MatTypeCV8U, mask.Bitmap)

	if err != nil {
		return nil
	}
	defer mat.Close()

	contours := gocv.FindContours(mat, gocv.RetrievalExternal,
		gocv.ChainApproxSimple)
	defer contours.Close()

	margin := safetyMargin(mask.Width, mask.Height)

	var polys [][]image.Point

	for i := 0; i < contours.Size(); i++ {

		pts := contours.At(i).ToPoints()

		if len(pts) < 3 {
			continue
		}

		path := make(clipper.Path, 0, len(pts))

		for _, pt := range pts {
			path = append(path, &clipper.IntPoint{
				X: clipper.CInt(pt.X),
				Y: clipper.CInt(pt.Y),
			})
		}

		co := clipper.NewClipperOffset()
		co.AddPath(path, clipper.JtRound, clipper.EtClosedPolygon)

		solution := co.Execute(float64(margin))

		for _, sol := range solution {

			poly := make([]image.Point, 0, len(sol))

			for _, pt := range sol {
				poly = append(poly, image.Point{X: int(pt.X), Y: int(pt.Y)})
			}

			if len(poly) >= 3 {
				polys = append(polys, poly)
			}
		}
	}

	return polys
}

// safetyMargin is the polygon inflation distance in pixels, scaled to the
// frame with a floor of 30
func safetyMargin(w, h int) int {

	m := w

	if h < m {
		m = h
	}

	m = m * 5 / 100

	if m < 30 {
		m = 30
	}

	return m
}

// footOnRoad tests whether a person's foot point, the bottom center of the
// box, lies inside the expanded drivable area.  Persons whose foot point is
// in the upper half of the frame are treated as off the road regardless of
// the mask.
func footOnRoad(box image.Rectangle, road [][]image.Point,
	frame image.Point) bool {

	if len(road) == 0 {
		return false
	}

	footX := (box.Min.X + box.Max.X) / 2
	footY := box.Max.Y

	if float64(footY) <= float64(frame.Y)*0.5 {
		return false
	}

	pt := image.Pt(footX, footY)

	for _, poly := range road {

		pv := gocv.NewPointVectorFromPoints(poly)
		inside := gocv.PointPolygonTest(pv, pt, false) >= 0
		pv.Close()

		if inside {
			return true
		}
	}

	return false
}
