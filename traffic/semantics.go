package traffic

import (
	"fmt"
	"strings"

	"github.com/swdee/go-roadsense/fusion"
)

// LightColor is the classified color of one traffic light detection
type LightColor struct {
	// Index is the detection's index in the FrameResult
	Index int
	// Color is the classified light state
	Color Color
}

// Semantics holds the derived road scene state of one frame
type Semantics struct {
	// PedestrianRisk is true when at least one person stands in the
	// drivable area
	PedestrianRisk bool
	// PersonsAtRisk holds the detection indices of the persons standing
	// in the drivable area
	PersonsAtRisk []int
	// LightColors holds the classified color of every traffic light
	// detection, in detection order
	LightColors []LightColor
}

// AtRisk reports whether the detection at the given index is a person
// standing in the drivable area
func (s Semantics) AtRisk(index int) bool {

	for _, i := range s.PersonsAtRisk {
		if i == index {
			return true
		}
	}

	return false
}

// LightAt returns the classified color of the detection at the given index
// if it is a traffic light
func (s Semantics) LightAt(index int) (Color, bool) {

	for _, lc := range s.LightColors {
		if lc.Index == index {
			return lc.Color, true
		}
	}

	return ColorUnknown, false
}

// RedLight reports whether any traffic light classified red
func (s Semantics) RedLight() bool {

	for _, lc := range s.LightColors {
		if lc.Color == ColorRed {
			return true
		}
	}

	return false
}

// Warnings returns the warning banner lines for the frame
func (s Semantics) Warnings() []string {

	var w []string

	if s.PedestrianRisk {
		w = append(w, "Pedestrian on road!")
	}

	if s.RedLight() {
		w = append(w, "Red light detected")
	}

	return w
}

// InfoItems returns the status banner items for the frame
func (s Semantics) InfoItems(res *fusion.FrameResult) []string {

	items := []string{
		fmt.Sprintf("detections: %d", len(res.Detections)),
	}

	if len(s.LightColors) > 0 {

		names := make([]string, len(s.LightColors))

		for i, lc := range s.LightColors {
			names[i] = lc.Color.String()
		}

		items = append(items, "lights: "+strings.Join(names, ", "))
	}

	if len(s.PersonsAtRisk) > 0 {
		items = append(items,
			fmt.Sprintf("persons on road: %d", len(s.PersonsAtRisk)))
	}

	if res.InferenceTimeMs > 0 {
		items = append(items,
			fmt.Sprintf("inference: %.1fms", res.InferenceTimeMs))
	}

	return items
}
