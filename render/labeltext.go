package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/swdee/go-roadsense/fusion"
)

// LabelEntry is a single parsed line of detection label text
type LabelEntry struct {
	ClassID    int
	CenterX    float64
	CenterY    float64
	Width      float64
	Height     float64
	Confidence float64
}

// LabelText formats the frame detections as label file text, one line per
// detection in the form "<class> <cx> <cy> <width> <height> <confidence>"
// with box coordinates in center form normalized to the frame dimensions
func LabelText(res *fusion.FrameResult) string {

	w := float64(res.FrameSize.X)
	h := float64(res.FrameSize.Y)

	if w <= 0 || h <= 0 {
		return ""
	}

	var sb strings.Builder

	for _, det := range res.Detections {

		cx := (float64(det.Box.Min.X) + float64(det.Box.Max.X)) / 2 / w
		cy := (float64(det.Box.Min.Y) + float64(det.Box.Max.Y)) / 2 / h
		bw := float64(det.Box.Dx()) / w
		bh := float64(det.Box.Dy()) / h

		fmt.Fprintf(&sb, "%d %.6f %.6f %.6f %.6f %.6f\n",
			det.ClassID, cx, cy, bw, bh, det.Confidence)
	}

	return sb.String()
}

// ParseLabelText parses label file text produced by LabelText back into
// its entries
func ParseLabelText(text string) ([]LabelEntry, error) {

	var entries []LabelEntry

	for num, line := range strings.Split(text, "\n") {

		line = strings.TrimSpace(line)

		if line == "" {
			continue
		}

		fields := strings.Fields(line)

		if len(fields) != 6 {
			return nil, fmt.Errorf("line %d: expected 6 fields, got %d",
				num+1, len(fields))
		}

		classID, err := strconv.Atoi(fields[0])

		if err != nil {
			return nil, fmt.Errorf("line %d: invalid class: %w", num+1, err)
		}

		var vals [5]float64

		for i, field := range fields[1:] {
			vals[i], err = strconv.ParseFloat(field, 64)

			if err != nil {
				return nil, fmt.Errorf("line %d: invalid value: %w",
					num+1, err)
			}
		}

		entries = append(entries, LabelEntry{
			ClassID:    classID,
			CenterX:    vals[0],
			CenterY:    vals[1],
			Width:      vals[2],
			Height:     vals[3],
			Confidence: vals[4],
		})
	}

	return entries, nil
}
