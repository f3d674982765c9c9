// Package registry defines the canonical class taxonomy shared by both
// detection models, the color table used for rendering, and the special ID
// mapping that reconciles the auxiliary model's class indices with the
// primary label space.  A Registry is immutable once constructed and safe
// for concurrent use without locking.
package registry

import (
	"fmt"
	"image/color"
	"sort"

	roadsense "github.com/swdee/go-roadsense"
)

// Source identifies which model produced a raw detection
type Source int

const (
	// SourcePrimary is the multi-task detector producing vehicle boxes and
	// segmentation masks
	SourcePrimary Source = iota
	// SourceAuxiliary is the single-task detector restricted to pedestrians
	// and traffic lights
	SourceAuxiliary
)

// String returns a readable name of the source model
func (s Source) String() string {
	switch s {
	case SourcePrimary:
		return "primary"
	case SourceAuxiliary:
		return "auxiliary"
	default:
		return fmt.Sprintf("unknown source %d", s)
	}
}

// Unified special class IDs assigned to auxiliary detections.  They sit far
// above the primary model's class range so the two label spaces can never
// collide.
const (
	// PersonID is the unified class id of pedestrian detections
	PersonID = 999
	// TrafficLightID is the unified class id of traffic light detections
	TrafficLightID = 998
	// OtherID is reserved for any further mapped auxiliary class
	OtherID = 997
)

// Auxiliary model raw class ids, COCO indexing
const (
	auxPersonID       = 0
	auxTrafficLightID = 9
)

// Class is one resolved entry of the unified taxonomy
type Class struct {
	// ID is the unified class id
	ID int
	// Label is the display name of the class
	Label string
	// Color is the box/overlay color assigned to the class
	Color color.RGBA
}

// Registry holds the fixed taxonomy and color tables.  Construct with
// NewRegistry or NewRegistryFromLabels, then treat as read-only.
type Registry struct {
	// primary classes indexed by raw class id
	primary []Class
	// special maps auxiliary raw class ids to unified classes
	special map[int]Class
	// states are named status colors used for risk and light rendering
	states map[string]color.RGBA
}

// NewRegistry returns a registry with the built-in taxonomy: primary class 0
// is "vehicle", auxiliary person and traffic light classes map to the
// unified special IDs.
func NewRegistry() *Registry {
	return newRegistry([]string{"vehicle"})
}

// NewRegistryFromLabels returns a registry whose primary taxonomy is loaded
// from a labels file containing one class name per line.  The special ID
// mapping and status colors are always the built-in tables.
func NewRegistryFromLabels(file string) (*Registry, error) {

	labels, err := LoadLabels(file)

	if err != nil {
		return nil, fmt.Errorf("loading primary labels: %w", err)
	}

	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s contains no classes", file)
	}

	return newRegistry(labels), nil
}

// newRegistry builds the registry tables around the given primary labels
func newRegistry(labels []string) *Registry {

	r := &Registry{
		primary: make([]Class, len(labels)),
		special: map[int]Class{
			auxPersonID: {
				ID:    PersonID,
				Label: "person",
				Color: color.RGBA{R: 0, G: 255, B: 0, A: 255},
			},
			auxTrafficLightID: {
				ID:    TrafficLightID,
				Label: "traffic light",
				Color: color.RGBA{R: 255, G: 165, B: 0, A: 255},
			},
		},
		states: map[string]color.RGBA{
			"person_on_road": {R: 255, G: 0, B: 0, A: 255},
			"red":            {R: 255, G: 0, B: 0, A: 255},
			"yellow":         {R: 255, G: 255, B: 0, A: 255},
			"green":          {R: 0, G: 255, B: 0, A: 255},
			"unknown":        {R: 128, G: 128, B: 128, A: 255},
			"drivable":       {R: 0, G: 255, B: 0, A: 255},
			"lane":           {R: 255, G: 0, B: 0, A: 255},
		},
	}

	for i, label := range labels {
		r.primary[i] = Class{
			ID:    i,
			Label: label,
			Color: primaryPalette[i%len(primaryPalette)],
		}
	}

	return r
}

// Resolve translates a raw model class id into the unified taxonomy.  For the
// primary source this is an identity mapping over the label table, for the
// auxiliary source it applies the special ID mapping.  An auxiliary id absent
// from the mapping is a registry/model version mismatch and returns
// ErrUnmappedAuxiliaryClass so it is never silently dropped.
func (r *Registry) Resolve(rawClassID int, source Source) (Class, error) {

	switch source {
	case SourcePrimary:
		if rawClassID < 0 || rawClassID >= len(r.primary) {
			return Class{}, fmt.Errorf("%w: primary id %d outside 0..%d",
				roadsense.ErrUnknownClass, rawClassID, len(r.primary)-1)
		}
		return r.primary[rawClassID], nil

	case SourceAuxiliary:
		cls, ok := r.special[rawClassID]
		if !ok {
			return Class{}, fmt.Errorf("%w: auxiliary id %d",
				roadsense.ErrUnmappedAuxiliaryClass, rawClassID)
		}
		return cls, nil
	}

	return Class{}, fmt.Errorf("%w: invalid source %d", roadsense.ErrUnknownClass,
		source)
}

// Lookup returns the class for a unified class id, covering both the
// primary table and the special ID space
func (r *Registry) Lookup(unifiedID int) (Class, bool) {

	if unifiedID >= 0 && unifiedID < len(r.primary) {
		return r.primary[unifiedID], true
	}

	for _, cls := range r.special {
		if cls.ID == unifiedID {
			return cls, true
		}
	}

	return Class{}, false
}

// PrimaryCount returns the number of primary classes
func (r *Registry) PrimaryCount() int {
	return len(r.primary)
}

// PrimaryLabels returns the primary class names in id order
func (r *Registry) PrimaryLabels() []string {
	labels := make([]string, len(r.primary))
	for i, cls := range r.primary {
		labels[i] = cls.Label
	}
	return labels
}

// SpecialIDs returns the auxiliary raw class ids covered by the special ID
// mapping, in ascending order.  Detections of any other auxiliary class are
// discarded at decode before fusion.
func (r *Registry) SpecialIDs() []int {

	ids := make([]int, 0, len(r.special))

	for id := range r.special {
		ids = append(ids, id)
	}

	sort.Ints(ids)
	return ids
}

// StateColor returns the named status color used when rendering risk states
// and classified traffic lights.  Unrecognised names return the unknown
// color.
func (r *Registry) StateColor(name string) color.RGBA {

	if clr, ok := r.states[name]; ok {
		return clr
	}

	return r.states["unknown"]
}

// primaryPalette colors the primary classes, first entry matches the
// conventional vehicle box color
var primaryPalette = []color.RGBA{
	{R: 255, G: 56, B: 56, A: 255},  // #FF3838
	{R: 255, G: 112, B: 31, A: 255}, // #FF701F
	{R: 255, G: 178, B: 29, A: 255}, // #FFB21D
	{R: 207, G: 210, B: 49, A: 255}, // #CFD231
	{R: 72, G: 249, B: 10, A: 255},  // #48F90A
	{R: 26, G: 147, B: 52, A: 255},  // #1A9334
	{R: 0, G: 212, B: 187, A: 255},  // #00D4BB
	{R: 0, G: 194, B: 255, A: 255},  // #00C2FF
	{R: 52, G: 69, B: 147, A: 255},  // #344593
	{R: 100, G: 115, B: 255, A: 255}, // #6473FF
}
