package pdf

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/mediarag/internal/config"
	"github.com/bull/mediarag/internal/overlay"
	"github.com/bull/mediarag/internal/schema"
	"github.com/bull/mediarag/internal/storage"
	"github.com/bull/mediarag/internal/vector"
)

func pageShape(blocks ...any) map[string]any {
	return map[string]any{"page_number": 1, "blocks": blocks}
}

func TestNormalizePages_AllKnownShapes(t *testing.T) {
	block := map[string]any{"text": "hello"}
	shapes := map[string]map[string]any{
		"pages":        {"pages": []any{pageShape(block)}},
		"data.pages":   {"data": map[string]any{"pages": []any{pageShape(block)}}},
		"result.pages": {"result": map[string]any{"pages": []any{pageShape(block)}}},
		"bare blocks":  {"blocks": []any{block}},
		"content list": {"content_list": []any{map[string]any{"text": "hello", "page_idx": float64(0)}}},
	}

	for name, payload := range shapes {
		t.Run(name, func(t *testing.T) {
			pages := NormalizePages(payload)
			require.Len(t, pages, 1)
			require.Len(t, pages[0].Blocks, 1)
			assert.Equal(t, 1, pages[0].Number)
			assert.Equal(t, "hello", pages[0].Blocks[0].Text)
		})
	}
}

func TestNormalizePages_EmptyPayloadGetsPlaceholder(t *testing.T) {
	pages := NormalizePages(map[string]any{})
	require.Len(t, pages, 1)
	require.Len(t, pages[0].Blocks, 1)
	assert.Equal(t, "(no textual content)", pages[0].Blocks[0].Text)
}

func TestNormalizePages_DropsBlankBlocksAndPages(t *testing.T) {
	payload := map[string]any{"pages": []any{
		map[string]any{"page_number": 1, "blocks": []any{
			map[string]any{"text": "  "},
			map[string]any{"content": "kept"},
		}},
		map[string]any{"page_number": 2, "blocks": []any{
			map[string]any{"text": ""},
		}},
	}}

	pages := NormalizePages(payload)
	require.Len(t, pages, 1)
	assert.Equal(t, "kept", pages[0].Blocks[0].Text)
}

func TestNormalizePages_PageLevelText(t *testing.T) {
	payload := map[string]any{"pages": []any{
		map[string]any{"page": float64(3), "text": "whole page body"},
	}}

	pages := NormalizePages(payload)
	require.Len(t, pages, 1)
	assert.Equal(t, 3, pages[0].Number)
	assert.Equal(t, "whole page body", pages[0].Blocks[0].Text)
}

func TestLocalParser_ParagraphPerLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.pdf")
	require.NoError(t, os.WriteFile(path, []byte("first paragraph\n\nsecond paragraph\n"), 0o644))

	payload, extras, err := NewLocalParser().Parse(context.Background(), path, "doc-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "local", extras["parser"])

	pages := NormalizePages(payload)
	require.Len(t, pages, 1)
	require.Len(t, pages[0].Blocks, 2)
	assert.Equal(t, "first paragraph", pages[0].Blocks[0].Text)
}

func TestLocalParser_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blank.pdf")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	payload, _, err := NewLocalParser().Parse(context.Background(), path, "doc-1", nil)
	require.NoError(t, err)

	pages := NormalizePages(payload)
	require.Len(t, pages, 1)
	assert.Equal(t, "(empty document)", pages[0].Blocks[0].Text)
}

func TestRegistry_FallsBackWhenDisabled(t *testing.T) {
	local := NewLocalParser()
	remote := NewRemoteParser(config.PDFConfig{}, nil, nil) // no base URL, disabled
	registry := NewRegistry(local, nil, remote)

	assert.Equal(t, "local", registry.Resolve("remote").Name())
	assert.Equal(t, "local", registry.Resolve("nonexistent").Name())
}

func TestBuildChunks_LocalFallbackEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("intro line\nbody line\n"), 0o644))

	cfg := config.PDFConfig{Parser: "remote"} // unavailable, resolves to local
	store := storage.NewStore(t.TempDir(), nil, nil)
	vectors := vector.NewService(nil, 16, 0, nil)
	registry := NewRegistry(NewLocalParser(), nil, NewRemoteParser(config.PDFConfig{}, store, nil))
	p := NewProcessor(cfg, registry, vectors, store, nil)

	chunks, extras, err := p.BuildChunks(context.Background(), path, "doc-9", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	chunk := chunks[0]
	assert.Equal(t, "doc-9-p1", chunk.ChunkID)
	assert.Equal(t, schema.MediaPDF, chunk.MediaType)
	assert.Equal(t, "intro line\nbody line", chunk.Content.Text.FullText)
	assert.Len(t, chunk.Content.Text.Segments, 2)
	assert.Equal(t, 0.0, chunk.Temporal.StartTime)
	assert.Equal(t, 1.0, chunk.Temporal.EndTime)
	assert.Len(t, chunk.Vector.Embedding, 16)
	assert.Equal(t, 2, chunk.Analysis["block_count"])
	assert.Equal(t, 1, extras["pdf_chunks"])
}

func TestPageAnalysis_IncludesOverlayForGeometry(t *testing.T) {
	page := Page{
		Number: 1,
		Width:  1000,
		Height: 1000,
		Blocks: []Block{
			{Text: "with geometry", Bbox: []float64{100, 100, 400, 200}},
			{Text: "without geometry"},
		},
	}

	analysis := pageAnalysis(page)
	assert.Equal(t, 2, analysis["block_count"])
	require.Contains(t, analysis, "overlay")
	placements := analysis["overlay"].([]overlay.Placement)
	require.Len(t, placements, 1)
	assert.InDelta(t, 10, placements[0].Box.Left, 1e-9)

	// No geometry at all, no overlay key.
	noGeom := pageAnalysis(Page{Number: 1, Blocks: []Block{{Text: "plain"}}})
	assert.NotContains(t, noGeom, "overlay")
}

func TestDecodeZIPBundle_PrefersContentList(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	writeZIPEntry(t, w, "out/content_list.json",
		`[{"text":"from list","page_idx":1,"bbox":[1,2,3,4]}]`)
	writeZIPEntry(t, w, "out/doc_middle.json",
		`{"pdf_info":[{"page_idx":0,"preproc_blocks":[{"lines":[{"spans":[{"content":"from middle"}]}]}]}]}`)
	writeZIPEntry(t, w, "out/doc.md", "# Title\n\nfrom markdown\n")
	require.NoError(t, w.Close())

	payload, err := decodeZIPBundle(buf.Bytes())
	require.NoError(t, err)

	pages := NormalizePages(payload)
	require.Len(t, pages, 1)
	assert.Equal(t, 2, pages[0].Number) // page_idx is zero-based
	assert.Equal(t, "from list", pages[0].Blocks[0].Text)
	assert.Equal(t, []float64{1, 2, 3, 4}, pages[0].Blocks[0].Bbox)
}

func TestDecodeZIPBundle_MarkdownOnly(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	writeZIPEntry(t, w, "out/doc.md", "# Heading\n\nfirst paragraph\n\nsecond paragraph\n")
	require.NoError(t, w.Close())

	payload, err := decodeZIPBundle(buf.Bytes())
	require.NoError(t, err)

	pages := NormalizePages(payload)
	require.Len(t, pages, 1)
	require.Len(t, pages[0].Blocks, 3)
	assert.Equal(t, "Heading", pages[0].Blocks[0].Text)
	assert.Equal(t, "first paragraph", pages[0].Blocks[1].Text)
}

func TestOutlineFromMarkdown_NestedHeadings(t *testing.T) {
	source := []byte("# Report\n\n## Methods\n\nbody text\n\n## Results\n\n### Detail\n")

	outline := OutlineFromMarkdown(source)
	require.Len(t, outline, 1)
	assert.Equal(t, "Report", outline[0]["title"])
	assert.Equal(t, 1, outline[0]["level"])

	children := outline[0]["children"].([]map[string]any)
	require.Len(t, children, 2)
	assert.Equal(t, "Methods", children[0]["title"])
	assert.Equal(t, 2, children[0]["level"])

	detail := children[1]["children"].([]map[string]any)
	require.Len(t, detail, 1)
	assert.Equal(t, "Detail", detail[0]["title"])
	assert.Equal(t, 3, detail[0]["level"])

	assert.Nil(t, OutlineFromMarkdown([]byte("plain prose, no headings\n")))
}

func TestExtractEmbeddedJSON(t *testing.T) {
	raw := append([]byte{0x00, 0x01}, []byte(`{"pages":[]}`)...)
	raw = append(raw, 0xff)

	payload := extractEmbeddedJSON(raw)
	require.NotNil(t, payload)
	assert.Contains(t, payload, "pages")

	assert.Nil(t, extractEmbeddedJSON([]byte("no json here")))
}

func writeZIPEntry(t *testing.T, w *zip.Writer, name, content string) {
	t.Helper()
	f, err := w.Create(name)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
}
