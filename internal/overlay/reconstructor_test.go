package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertInRange(t *testing.T, box Box) {
	t.Helper()
	for _, v := range []float64{box.Left, box.Top, box.Width, box.Height} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
	assert.LessOrEqual(t, box.Left+box.Width, 100.0+1e-9)
	assert.LessOrEqual(t, box.Top+box.Height, 100.0+1e-9)
}

func TestReconstructPage_FractionalCoordinates(t *testing.T) {
	blocks := []SourceBlock{
		{Index: 0, Coords: []float64{0.1, 0.1, 0.5, 0.3}},
	}

	placements := ReconstructPage(blocks, 612, 792)
	require.Len(t, placements, 1)

	box := placements[0].Box
	assert.InDelta(t, 10, box.Left, 1e-9)
	assert.InDelta(t, 10, box.Top, 1e-9)
	assert.InDelta(t, 40, box.Width, 1e-9)
	assert.InDelta(t, 20, box.Height, 1e-9)
	assertInRange(t, box)
}

func TestReconstructPage_AbsoluteCoordinates(t *testing.T) {
	blocks := []SourceBlock{
		{Index: 0, Coords: []float64{61.2, 79.2, 306, 158.4}},
	}

	placements := ReconstructPage(blocks, 612, 792)
	require.Len(t, placements, 1)

	box := placements[0].Box
	assert.InDelta(t, 10, box.Left, 1e-9)
	assert.InDelta(t, 10, box.Top, 1e-9)
	assert.InDelta(t, 40, box.Width, 1e-9)
	assert.InDelta(t, 10, box.Height, 1e-9)
}

func TestReconstructPage_PolygonReducedToAABB(t *testing.T) {
	// Clockwise quad with jitter; the AABB spans the extremes.
	blocks := []SourceBlock{
		{Index: 2, Coords: []float64{100, 100, 300, 110, 290, 200, 110, 190}},
	}

	placements := ReconstructPage(blocks, 1000, 1000)
	require.Len(t, placements, 1)
	assert.Equal(t, 2, placements[0].Index)

	box := placements[0].Box
	assert.InDelta(t, 10, box.Left, 1e-9)
	assert.InDelta(t, 10, box.Top, 1e-9)
	assert.InDelta(t, 20, box.Width, 1e-9)
	assert.InDelta(t, 10, box.Height, 1e-9)
}

func TestReconstructPage_BottomLeftOriginFlipped(t *testing.T) {
	// Header-like content: near the top in a bottom-left origin, so raw y is
	// large. The mean midpoint lands in the lower 40% and triggers the flip.
	blocks := []SourceBlock{
		{Index: 0, Coords: []float64{100, 700, 500, 780}},
		{Index: 1, Coords: []float64{100, 600, 500, 680}},
	}

	placements := ReconstructPage(blocks, 612, 800)
	require.Len(t, placements, 2)

	// After the flip the first block sits near the top of the page.
	assert.InDelta(t, 2.5, placements[0].Box.Top, 1e-9) // (800-780)/800
	assert.InDelta(t, 15, placements[1].Box.Top, 1e-9)  // (800-680)/800
}

func TestReconstructPage_TopLeftOriginKept(t *testing.T) {
	blocks := []SourceBlock{
		{Index: 0, Coords: []float64{100, 80, 500, 160}},
		{Index: 1, Coords: []float64{100, 200, 500, 280}},
	}

	placements := ReconstructPage(blocks, 612, 800)
	require.Len(t, placements, 2)
	assert.InDelta(t, 10, placements[0].Box.Top, 1e-9)
}

func TestReconstructPage_DegenerateBoxesExcluded(t *testing.T) {
	blocks := []SourceBlock{
		{Index: 0, Coords: []float64{10, 10, 10, 50}},  // zero width
		{Index: 1, Coords: []float64{10, 10, 50, 10}},  // zero height
		{Index: 2, Coords: []float64{10, 10, 50, 50}},  // valid
		{Index: 3, Coords: []float64{10, 10, 50}},      // malformed
	}

	placements := ReconstructPage(blocks, 100, 100)
	require.Len(t, placements, 1)
	assert.Equal(t, 2, placements[0].Index)
}

func TestReconstructPage_ClampedAndFloored(t *testing.T) {
	blocks := []SourceBlock{
		{Index: 0, Coords: []float64{-50, -50, 1200, 1100}}, // spills past the page
		{Index: 1, Coords: []float64{500, 500, 500.1, 500.1}}, // sliver below the floor
	}

	placements := ReconstructPage(blocks, 1000, 1000)
	require.Len(t, placements, 2)
	for _, placement := range placements {
		assertInRange(t, placement.Box)
	}
	assert.GreaterOrEqual(t, placements[1].Box.Width, minVisiblePercent)
	assert.GreaterOrEqual(t, placements[1].Box.Height, minVisiblePercent)
}

func TestReconstructPage_Empty(t *testing.T) {
	assert.Nil(t, ReconstructPage(nil, 100, 100))
	assert.Nil(t, ReconstructPage([]SourceBlock{{Index: 0, Coords: []float64{1, 1, 1, 1}}}, 100, 100))
}

func TestFromBboxes_SkipsMissingGeometry(t *testing.T) {
	blocks := FromBboxes([][]float64{{1, 2, 3, 4}, nil, {5, 6, 7, 8}})
	require.Len(t, blocks, 2)
	assert.Equal(t, 0, blocks[0].Index)
	assert.Equal(t, 2, blocks[1].Index)
}
