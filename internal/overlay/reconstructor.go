// Package overlay reconstructs page-relative percentage bounding boxes from
// structural-parser block geometry, for overlaying parsed blocks on a
// rendered page image.
package overlay

import "math"

// minVisiblePercent is the size floor for a rendered box. Boxes below it are
// unreadable once drawn, so they are inflated to the floor.
const minVisiblePercent = 0.5

// Box is a page-relative rectangle, all values percentages in [0,100] with a
// top-left origin.
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SourceBlock is one block's raw geometry as the parser reported it: four
// numbers (two corners, fractional or absolute) or an eight-number polygon.
type SourceBlock struct {
	Index  int       `json:"index"`
	Coords []float64 `json:"coords"`
}

// Placement is a successfully reconstructed block box.
type Placement struct {
	Index int `json:"index"`
	Box   Box `json:"box"`
}

// FromBboxes wraps raw parser bboxes as source blocks, keeping the original
// block index even when some blocks carried no geometry.
func FromBboxes(bboxes [][]float64) []SourceBlock {
	var blocks []SourceBlock
	for i, bbox := range bboxes {
		if len(bbox) == 0 {
			continue
		}
		blocks = append(blocks, SourceBlock{Index: i, Coords: bbox})
	}
	return blocks
}

// rect is an axis-aligned rectangle in source units, top edge meaning
// smaller y under a top-left reading.
type rect struct {
	index          int
	x0, y0, x1, y1 float64
}

// ReconstructPage converts a page's block geometry to percentage boxes.
// It handles fractional coordinates, absolute coordinates against the
// declared page size, and eight-number polygons (reduced to their bounding
// rectangle). The vertical origin is not declared by parser payloads; when
// the mean vertical midpoint of the page's blocks sits in the lower 40% of
// the page, a bottom-left origin is assumed and the boxes are flipped.
// Zero-width or zero-height source boxes are excluded outright.
func ReconstructPage(blocks []SourceBlock, pageWidth, pageHeight float64) []Placement {
	rects := make([]rect, 0, len(blocks))
	for _, block := range blocks {
		if r, ok := boundingRect(block); ok {
			rects = append(rects, r)
		}
	}
	if len(rects) == 0 {
		return nil
	}

	width, height := pageWidth, pageHeight
	if fractional(rects) {
		width, height = 1, 1
	}
	if width <= 0 || height <= 0 {
		return nil
	}

	if bottomLeftOrigin(rects, height) {
		for i := range rects {
			rects[i].y0, rects[i].y1 = height-rects[i].y1, height-rects[i].y0
		}
	}

	placements := make([]Placement, 0, len(rects))
	for _, r := range rects {
		placements = append(placements, Placement{
			Index: r.index,
			Box:   toPercent(r, width, height),
		})
	}
	return placements
}

// boundingRect reduces raw coordinates to an axis-aligned rectangle,
// rejecting degenerate boxes.
func boundingRect(block SourceBlock) (rect, bool) {
	coords := block.Coords
	var x0, y0, x1, y1 float64
	switch len(coords) {
	case 4:
		x0, x1 = math.Min(coords[0], coords[2]), math.Max(coords[0], coords[2])
		y0, y1 = math.Min(coords[1], coords[3]), math.Max(coords[1], coords[3])
	case 8:
		x0, y0 = coords[0], coords[1]
		x1, y1 = coords[0], coords[1]
		for i := 2; i < 8; i += 2 {
			x0 = math.Min(x0, coords[i])
			x1 = math.Max(x1, coords[i])
			y0 = math.Min(y0, coords[i+1])
			y1 = math.Max(y1, coords[i+1])
		}
	default:
		return rect{}, false
	}
	if x1-x0 <= 0 || y1-y0 <= 0 {
		return rect{}, false
	}
	return rect{index: block.Index, x0: x0, y0: y0, x1: x1, y1: y1}, true
}

// fractional reports whether every coordinate already lies in [0,1].
func fractional(rects []rect) bool {
	for _, r := range rects {
		if r.x1 > 1 || r.y1 > 1 || r.x0 < 0 || r.y0 < 0 {
			return false
		}
	}
	return true
}

// bottomLeftOrigin applies the heuristic: under a top-left reading, content
// from a bottom-left source clusters toward large y values, so a mean
// vertical midpoint in the lower 40% of the page signals a flipped origin.
func bottomLeftOrigin(rects []rect, pageHeight float64) bool {
	var sum float64
	for _, r := range rects {
		sum += (r.y0 + r.y1) / 2
	}
	mean := sum / float64(len(rects))
	return mean > 0.6*pageHeight
}

func toPercent(r rect, pageWidth, pageHeight float64) Box {
	left := clampPercent(r.x0 / pageWidth * 100)
	top := clampPercent(r.y0 / pageHeight * 100)
	width := clampPercent(r.x1/pageWidth*100 - left)
	height := clampPercent(r.y1/pageHeight*100 - top)

	width = math.Max(width, minVisiblePercent)
	height = math.Max(height, minVisiblePercent)
	if left+width > 100 {
		left = 100 - width
	}
	if top+height > 100 {
		top = 100 - height
	}
	return Box{Left: left, Top: top, Width: width, Height: height}
}

func clampPercent(v float64) float64 {
	return math.Min(math.Max(v, 0), 100)
}
