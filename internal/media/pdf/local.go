package pdf

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/bull/mediarag/internal/schema"
)

// LocalParser is the best-effort fallback: it treats the file as text and
// emits one page with one block per non-blank paragraph. It never needs an
// external service and is always enabled.
type LocalParser struct{}

func NewLocalParser() *LocalParser { return &LocalParser{} }

func (p *LocalParser) Name() string  { return "local" }
func (p *LocalParser) Enabled() bool { return true }

func (p *LocalParser) Parse(ctx context.Context, path, documentID string, opts *schema.PDFOptions) (map[string]any, map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("local parse %s: %w", path, err)
	}

	blocks := make([]any, 0)
	for _, paragraph := range splitParagraphs(printableText(data)) {
		blocks = append(blocks, map[string]any{"text": paragraph})
	}
	if len(blocks) == 0 {
		blocks = append(blocks, map[string]any{"text": "(empty document)"})
	}

	payload := map[string]any{
		"pages": []any{
			map[string]any{"page_number": 1, "blocks": blocks},
		},
	}
	return payload, map[string]any{"parser": p.Name()}, nil
}

// printableText keeps printable runes and line structure, dropping the binary
// noise a real PDF carries around its embedded text.
func printableText(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, r := range string(data) {
		if r == '\n' || r == '\t' || unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, raw := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}
