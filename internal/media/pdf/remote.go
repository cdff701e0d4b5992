package pdf

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"

	"github.com/bull/mediarag/internal/config"
	"github.com/bull/mediarag/internal/schema"
	"github.com/bull/mediarag/internal/storage"
)

// RemoteParser delegates structural parsing to an external
// document-understanding service over a multipart upload. The service
// answers with plain JSON, JSON embedded in a binary response, or a ZIP
// bundle (markdown rendering, per-block middle JSON, flattened content
// list). Opaque responses are persisted before being rejected so failures
// stay debuggable.
type RemoteParser struct {
	cfg    config.PDFConfig
	client *http.Client
	store  *storage.Store
	logger *slog.Logger
}

func NewRemoteParser(cfg config.PDFConfig, store *storage.Store, logger *slog.Logger) *RemoteParser {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &RemoteParser{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		store:  store,
		logger: logger,
	}
}

func (p *RemoteParser) Name() string  { return "remote" }
func (p *RemoteParser) Enabled() bool { return p.cfg.RemoteBaseURL != "" }

func (p *RemoteParser) Parse(ctx context.Context, path, documentID string, opts *schema.PDFOptions) (map[string]any, map[string]any, error) {
	if !p.Enabled() {
		return nil, nil, ErrParserDisabled
	}

	endpoint := strings.TrimRight(p.cfg.RemoteBaseURL, "/") + p.cfg.RemotePath
	req, err := p.buildRequest(ctx, endpoint, path, documentID, opts)
	if err != nil {
		return nil, nil, err
	}

	p.logger.Info("submitting pdf to remote parser",
		"file", filepath.Base(path), "endpoint", endpoint)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("remote parse request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read remote parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(raw))
		if len(detail) > 300 {
			detail = detail[:300]
		}
		return nil, nil, fmt.Errorf("remote parser status %d: %s", resp.StatusCode, detail)
	}

	extras := map[string]any{"parser": p.Name(), "endpoint": endpoint}
	payload, err := p.decodeResponse(raw, resp.Header.Get("Content-Type"), documentID, extras)
	if err != nil {
		return nil, nil, err
	}
	if result, ok := payload["result"].(map[string]any); ok {
		payload = result
	}
	return payload, extras, nil
}

func (p *RemoteParser) buildRequest(ctx context.Context, endpoint, path, documentID string, opts *schema.PDFOptions) (*http.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := p.formFields(documentID, opts)
	for _, field := range fields {
		if err := w.WriteField(field[0], field[1]); err != nil {
			return nil, fmt.Errorf("write form field: %w", err)
		}
	}
	part, err := w.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy pdf into request: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build remote parse request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if p.cfg.RemoteAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.RemoteAPIKey)
	}
	return req, nil
}

// formFields passes through backend/method/language/feature flags.
func (p *RemoteParser) formFields(documentID string, opts *schema.PDFOptions) [][2]string {
	backend := "pipeline"
	method := "auto"
	languages := []string{"ch"}
	fields := [][2]string{{"document_id", documentID}}

	if opts != nil {
		if opts.Backend != "" {
			backend = opts.Backend
		}
		if opts.ParseMethod != "" {
			method = opts.ParseMethod
		}
		if len(opts.Languages) > 0 {
			languages = opts.Languages
		}
	}
	fields = append(fields, [2]string{"backend", backend}, [2]string{"parse_method", method})
	for _, lang := range languages {
		if lang = strings.TrimSpace(lang); lang != "" {
			fields = append(fields, [2]string{"lang_list", lang})
		}
	}
	if opts != nil {
		fields = append(fields,
			[2]string{"formula_enable", strconv.FormatBool(opts.FormulaEnable)},
			[2]string{"table_enable", strconv.FormatBool(opts.TableEnable)},
			[2]string{"response_format_zip", strconv.FormatBool(opts.ResponseZIP)},
		)
		if opts.StartPage > 0 {
			fields = append(fields, [2]string{"start_page_id", strconv.Itoa(opts.StartPage)})
		}
		if opts.EndPage > 0 {
			fields = append(fields, [2]string{"end_page_id", strconv.Itoa(opts.EndPage)})
		}
	}
	return fields
}

func (p *RemoteParser) decodeResponse(raw []byte, contentType, documentID string, extras map[string]any) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err == nil {
		return payload, nil
	}

	lowered := strings.ToLower(contentType)
	if strings.Contains(lowered, "zip") || bytes.HasPrefix(raw, []byte("PK")) {
		artifactPath, saveErr := p.store.PersistAuxiliaryBytes(documentID, raw, ".zip", "parser_raw")
		if saveErr != nil {
			p.logger.Warn("cannot persist raw zip response", "error", saveErr)
		} else {
			extras["zip_artifact_path"] = artifactPath
		}
		payload, err := decodeZIPBundle(raw)
		if err != nil {
			return nil, fmt.Errorf("remote parser zip payload unreadable (saved to %s): %w", artifactPath, err)
		}
		return payload, nil
	}

	// Some deployments wrap a JSON body in binary framing; salvage the
	// outermost object before giving up.
	if embedded := extractEmbeddedJSON(raw); embedded != nil {
		return embedded, nil
	}

	suffix := ".bin"
	if strings.Contains(lowered, "html") || strings.Contains(lowered, "text") {
		suffix = ".txt"
	}
	artifactPath, saveErr := p.store.PersistAuxiliaryBytes(documentID, raw, suffix, "parser_raw")
	if saveErr != nil {
		p.logger.Warn("cannot persist raw parser response", "error", saveErr)
	}
	return nil, fmt.Errorf("remote parser returned opaque payload (content-type %q, saved to %s)", contentType, artifactPath)
}

// extractEmbeddedJSON scans for the outermost object in an otherwise-binary
// response.
func extractEmbeddedJSON(raw []byte) map[string]any {
	start := bytes.IndexByte(raw, '{')
	end := bytes.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(raw[start:end+1], &payload); err != nil {
		return nil
	}
	return payload
}

// decodeZIPBundle reads the service's ZIP bundle: a flattened content list,
// a per-block middle JSON tree, and a markdown rendering, in that order of
// preference for page reconstruction.
func decodeZIPBundle(raw []byte) (map[string]any, error) {
	archive, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("open zip bundle: %w", err)
	}

	var markdown []byte
	var middleJSON map[string]any
	var contentList []any
	var entries []string
	for _, file := range archive.File {
		if strings.HasSuffix(file.Name, "/") {
			continue
		}
		entries = append(entries, file.Name)
		data, err := readZIPEntry(file)
		if err != nil {
			continue
		}
		lower := strings.ToLower(file.Name)
		switch {
		case strings.HasSuffix(lower, ".md"):
			markdown = data
		case strings.HasSuffix(lower, "middle.json"):
			_ = json.Unmarshal(data, &middleJSON)
		case strings.HasSuffix(lower, "content_list.json"):
			_ = json.Unmarshal(data, &contentList)
		}
	}

	pages := pagesFromContentList(contentList)
	if len(pages) == 0 {
		pages = pagesFromMiddleJSON(middleJSON)
	}
	if len(pages) == 0 && len(markdown) > 0 {
		pages = pagesFromMarkdown(markdown)
	}
	return map[string]any{
		"pages":        pages,
		"content_list": contentList,
		"middle_json":  middleJSON,
		"md_content":   string(markdown),
		"source":       "remote_zip",
		"zip_entries":  entries,
	}, nil
}

func readZIPEntry(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// pagesFromContentList groups flattened blocks by zero-based page index.
func pagesFromContentList(contentList []any) []any {
	byPage := map[int][]any{}
	for _, item := range contentList {
		block, ok := item.(map[string]any)
		if !ok {
			continue
		}
		text := stringValue(block["text"])
		if text == "" {
			text = stringValue(block["content"])
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pageNumber := 1
		if idx, ok := numberValue(block["page_idx"]); ok {
			pageNumber = int(idx) + 1
		}
		byPage[pageNumber] = append(byPage[pageNumber], map[string]any{
			"text": text,
			"type": block["type"],
			"bbox": block["bbox"],
		})
	}
	return sortedPages(byPage)
}

// pagesFromMiddleJSON flattens the pdf_info block tree: each block's text is
// the join of its lines' span contents.
func pagesFromMiddleJSON(middle map[string]any) []any {
	infos, _ := middle["pdf_info"].([]any)
	var pages []any
	for i, rawInfo := range infos {
		info, ok := rawInfo.(map[string]any)
		if !ok {
			continue
		}
		pageNumber := i + 1
		if idx, ok := numberValue(info["page_idx"]); ok {
			pageNumber = int(idx) + 1
		}
		var blocks []any
		rawBlocks, _ := info["preproc_blocks"].([]any)
		for _, rawBlock := range rawBlocks {
			block, ok := rawBlock.(map[string]any)
			if !ok {
				continue
			}
			text := middleBlockText(block)
			if text == "" {
				continue
			}
			blocks = append(blocks, map[string]any{
				"text": text,
				"type": block["type"],
				"bbox": block["bbox"],
			})
		}
		if len(blocks) > 0 {
			pages = append(pages, map[string]any{"page_number": pageNumber, "blocks": blocks})
		}
	}
	return pages
}

func middleBlockText(block map[string]any) string {
	lines, _ := block["lines"].([]any)
	var pieces []string
	for _, rawLine := range lines {
		line, ok := rawLine.(map[string]any)
		if !ok {
			continue
		}
		spans, _ := line["spans"].([]any)
		for _, rawSpan := range spans {
			span, ok := rawSpan.(map[string]any)
			if !ok {
				continue
			}
			if content := strings.TrimSpace(stringValue(span["content"])); content != "" {
				pieces = append(pieces, content)
			}
		}
	}
	return strings.Join(pieces, "\n")
}

// pagesFromMarkdown is the last resort for a bundle that carried only the
// markdown rendering: each top-level heading or paragraph becomes a block
// on a single page.
func pagesFromMarkdown(source []byte) []any {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	var blocks []any
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch node.Kind() {
		case ast.KindHeading, ast.KindParagraph, ast.KindBlockquote, ast.KindCodeBlock, ast.KindFencedCodeBlock:
			if content := nodeText(node, source); content != "" {
				blocks = append(blocks, map[string]any{"text": content})
			}
		}
	}
	if len(blocks) == 0 {
		return nil
	}
	return []any{map[string]any{"page_number": 1, "blocks": blocks}}
}

// OutlineFromMarkdown derives a nested heading outline from the parser's
// markdown rendering. It becomes the document's structural outline.
func OutlineFromMarkdown(source []byte) []map[string]any {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	tree, err := toc.Inspect(doc, source)
	if err != nil || tree == nil {
		return nil
	}
	return outlineItems(tree.Items, 1)
}

func outlineItems(items toc.Items, level int) []map[string]any {
	var out []map[string]any
	for _, item := range items {
		entry := map[string]any{
			"title": string(item.Title),
			"level": level,
		}
		if children := outlineItems(item.Items, level+1); len(children) > 0 {
			entry["children"] = children
		}
		out = append(out, entry)
	}
	return out
}

func nodeText(node ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if txt, ok := n.(*ast.Text); ok {
			b.Write(txt.Segment.Value(source))
			if txt.SoftLineBreak() || txt.HardLineBreak() {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func sortedPages(byPage map[int][]any) []any {
	if len(byPage) == 0 {
		return nil
	}
	numbers := make([]int, 0, len(byPage))
	for n := range byPage {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	pages := make([]any, 0, len(numbers))
	for _, n := range numbers {
		pages = append(pages, map[string]any{"page_number": n, "blocks": byPage[n]})
	}
	return pages
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
