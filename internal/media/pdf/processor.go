package pdf

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/bull/mediarag/internal/config"
	"github.com/bull/mediarag/internal/overlay"
	"github.com/bull/mediarag/internal/schema"
	"github.com/bull/mediarag/internal/storage"
	"github.com/bull/mediarag/internal/vector"
)

// Page is the normalized unit every parser payload reduces to. Width and
// Height are the declared page dimensions, zero when the parser did not
// report them.
type Page struct {
	Number int
	Width  float64
	Height float64
	Blocks []Block
}

// Block is one text unit on a page, with optional source geometry.
type Block struct {
	Text string
	Type string
	Bbox []float64
}

// Processor turns a PDF into one chunk per page with non-empty blocks.
type Processor struct {
	cfg      config.PDFConfig
	registry *Registry
	vectors  *vector.Service
	store    *storage.Store
	logger   *slog.Logger
}

func NewProcessor(cfg config.PDFConfig, registry *Registry, vectors *vector.Service, store *storage.Store, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:      cfg,
		registry: registry,
		vectors:  vectors,
		store:    store,
		logger:   logger,
	}
}

// BuildChunks parses the PDF, normalizes the payload to pages, and emits one
// chunk per page with non-empty blocks, ids {baseChunkID}-p{page}. A remote
// parse failure falls back to the local parser so parsing never aborts the
// document.
func (p *Processor) BuildChunks(ctx context.Context, sourcePath, baseChunkID string, opts *schema.PDFOptions) ([]schema.Chunk, map[string]any, error) {
	parser := p.registry.Resolve(p.cfg.Parser)
	payload, extras, err := parser.Parse(ctx, sourcePath, baseChunkID, opts)
	if err != nil && parser.Name() != p.registry.fallback.Name() {
		p.logger.Warn("structural parse failed, retrying with fallback parser",
			"parser", parser.Name(), "error", err)
		parser = p.registry.fallback
		payload, extras, err = parser.Parse(ctx, sourcePath, baseChunkID, opts)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("pdf parse: %w", err)
	}
	if extras == nil {
		extras = map[string]any{}
	}

	if path, perr := p.store.PersistAuxiliaryJSON(baseChunkID, payload, "pdf_"+parser.Name()); perr != nil {
		p.logger.Warn("cannot persist parser payload", "error", perr)
	} else {
		extras["payload_artifact_path"] = path
	}

	if md, ok := payload["md_content"].(string); ok && md != "" {
		if outline := OutlineFromMarkdown([]byte(md)); len(outline) > 0 {
			extras["outline"] = outline
		}
	}

	pages := NormalizePages(payload)
	texts := make([]string, len(pages))
	for i, page := range pages {
		texts[i] = page.fullText()
	}
	vectors := p.vectors.EmbedTexts(ctx, texts)

	stepName := parser.Name() + "_parse"
	chunks := make([]schema.Chunk, 0, len(pages))
	for i, page := range pages {
		text := schema.TextContent{
			FullText:  texts[i],
			Segments:  page.segments(),
			Language:  "en",
			WordCount: len(strings.Fields(texts[i])),
		}
		chunks = append(chunks, schema.Chunk{
			ChunkID:   fmt.Sprintf("%s-p%d", baseChunkID, page.Number),
			MediaType: schema.MediaPDF,
			Temporal: schema.TemporalInfo{
				// Pages are temporally ordered, not literally timed.
				StartTime:  float64(page.Number - 1),
				EndTime:    float64(page.Number),
				ChunkIndex: i + 1,
			},
			Content: schema.ChunkContent{Text: &text},
			Vector:  schema.NewVectorInfo(vectors[i], p.vectors.ModelName(), "1.0", p.vectors.Dimension(), "text"),
			Processing: map[string]any{
				"steps": []map[string]any{{"step_name": stepName, "status": "success"}},
			},
			Analysis: pageAnalysis(page),
		})
	}

	extras["pdf_chunks"] = len(chunks)
	p.logger.Info("built pdf chunks",
		"source", filepath.Base(sourcePath), "parser", parser.Name(), "chunks", len(chunks))
	return chunks, extras, nil
}

// NormalizePages reduces any known payload shape (pages, data.pages,
// result.pages, bare blocks, or a flattened content list) to an ordered page
// list. Pages whose blocks are all empty are dropped; a payload with no
// textual content at all yields a single placeholder page.
func NormalizePages(payload map[string]any) []Page {
	rawPages := rawPageList(payload)
	var pages []Page
	for i, rawPage := range rawPages {
		page, ok := rawPage.(map[string]any)
		if !ok {
			continue
		}
		number := i + 1
		for _, key := range []string{"page_number", "pageIndex", "page"} {
			if n, ok := numberValue(page[key]); ok && n > 0 {
				number = int(n)
				break
			}
		}
		blocks := normalizeBlocks(page)
		if len(blocks) == 0 {
			continue
		}
		width, _ := numberValue(firstOf(page, "width", "page_width"))
		height, _ := numberValue(firstOf(page, "height", "page_height"))
		pages = append(pages, Page{Number: number, Width: width, Height: height, Blocks: blocks})
	}

	if len(pages) == 0 {
		pages = append(pages, Page{
			Number: 1,
			Blocks: []Block{{Text: "(no textual content)"}},
		})
	}
	return pages
}

func rawPageList(payload map[string]any) []any {
	if pages, ok := payload["pages"].([]any); ok && len(pages) > 0 {
		return pages
	}
	for _, key := range []string{"data", "result"} {
		if nested, ok := payload[key].(map[string]any); ok {
			if pages, ok := nested["pages"].([]any); ok && len(pages) > 0 {
				return pages
			}
		}
	}
	if blocks, ok := payload["blocks"].([]any); ok && len(blocks) > 0 {
		return []any{map[string]any{"page_number": 1, "blocks": blocks}}
	}
	if contentList, ok := payload["content_list"].([]any); ok && len(contentList) > 0 {
		return pagesFromContentList(contentList)
	}
	return nil
}

func normalizeBlocks(page map[string]any) []Block {
	var raw []any
	for _, key := range []string{"blocks", "elements", "items"} {
		switch v := page[key].(type) {
		case []any:
			raw = v
		case map[string]any:
			raw = []any{v}
		case string:
			raw = []any{map[string]any{"text": v}}
		}
		if raw != nil {
			break
		}
	}
	if raw == nil {
		if text := strings.TrimSpace(stringValue(page["text"])); text != "" {
			raw = []any{map[string]any{"text": text}}
		}
	}

	var blocks []Block
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				blocks = append(blocks, Block{Text: strings.TrimSpace(s)})
			}
			continue
		}
		text := strings.TrimSpace(stringValue(entry["text"]))
		if text == "" {
			text = strings.TrimSpace(stringValue(entry["content"]))
		}
		if text == "" {
			continue
		}
		blocks = append(blocks, Block{
			Text: text,
			Type: stringValue(entry["type"]),
			Bbox: floatSlice(entry["bbox"]),
		})
	}
	return blocks
}

func (p Page) fullText() string {
	parts := make([]string, 0, len(p.Blocks))
	for _, block := range p.Blocks {
		parts = append(parts, block.Text)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// segments gives each block a segment whose index doubles as a stable
// within-page position; pages have no real timeline.
func (p Page) segments() []schema.TextSegment {
	segments := make([]schema.TextSegment, 0, len(p.Blocks))
	for i, block := range p.Blocks {
		segments = append(segments, schema.TextSegment{
			Index:     i,
			StartTime: float64(i),
			EndTime:   float64(i),
			Text:      block.Text,
		})
	}
	return segments
}

// usLetterWidth/Height are the assumed page dimensions in points when the
// parser reported absolute geometry without a page size.
const (
	usLetterWidth  = 612.0
	usLetterHeight = 792.0
)

// pageAnalysis carries the page's block stats plus the percentage overlay
// boxes reconstructed from block geometry, for visually verifying where
// parsed blocks sit on a rendered page.
func pageAnalysis(page Page) map[string]any {
	analysis := map[string]any{
		"page_number": page.Number,
		"block_count": len(page.Blocks),
	}
	bboxes := make([][]float64, len(page.Blocks))
	for i, block := range page.Blocks {
		bboxes[i] = block.Bbox
	}
	width, height := page.Width, page.Height
	if width <= 0 || height <= 0 {
		width, height = usLetterWidth, usLetterHeight
	}
	if placements := overlay.ReconstructPage(overlay.FromBboxes(bboxes), width, height); len(placements) > 0 {
		analysis["overlay"] = placements
	}
	return analysis
}

func firstOf(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return nil
}

func floatSlice(v any) []float64 {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(raw))
	for _, item := range raw {
		if f, ok := numberValue(item); ok {
			out = append(out, f)
		}
	}
	return out
}
