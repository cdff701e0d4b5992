// Package pdf turns a PDF into per-page text chunks via pluggable structural
// parsers: a remote document-understanding service for real layout analysis,
// and a best-effort local extractor as the always-available fallback.
package pdf

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bull/mediarag/internal/schema"
)

// ErrParserDisabled is returned by a parser that is not configured to run.
var ErrParserDisabled = errors.New("pdf: parser disabled")

// Parser is one structural-parsing backend. Parse returns the raw payload
// (heterogeneous page/block shapes, normalized later by the processor) and
// optional extras such as a markdown rendering.
type Parser interface {
	Name() string
	Enabled() bool
	Parse(ctx context.Context, path, documentID string, opts *schema.PDFOptions) (payload map[string]any, extras map[string]any, err error)
}

// Registry maps parser names to implementations, resolved once at startup.
type Registry struct {
	parsers  map[string]Parser
	fallback Parser
	logger   *slog.Logger
}

// NewRegistry builds a registry with the local parser as the fallback.
func NewRegistry(fallback Parser, logger *slog.Logger, parsers ...Parser) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		parsers:  make(map[string]Parser, len(parsers)+1),
		fallback: fallback,
		logger:   logger,
	}
	r.parsers[fallback.Name()] = fallback
	for _, p := range parsers {
		r.parsers[p.Name()] = p
	}
	return r
}

// Resolve returns the named parser when it exists and is enabled, otherwise
// the fallback.
func (r *Registry) Resolve(name string) Parser {
	if p, ok := r.parsers[name]; ok && p.Enabled() {
		return p
	}
	r.logger.Warn("requested pdf parser unavailable, using fallback",
		"requested", name, "fallback", r.fallback.Name())
	return r.fallback
}
