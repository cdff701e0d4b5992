// Package genai wraps the OpenAI API for the pipeline's language-model
// collaborators: speech-to-text, frame captioning, and document
// summarization. A client without an API key is disabled; callers detect
// this and take their documented fallbacks.
package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/openai/openai-go"

	"github.com/bull/mediarag/internal/schema"
)

const (
	// ChatModel handles captioning and summarization.
	ChatModel = openai.ChatModelGPT4o

	// TranscribeModel handles speech-to-text.
	TranscribeModel = openai.AudioModelWhisper1

	// segmentSpan is the assumed duration of one transcript segment when the
	// transcription endpoint returns plain text without timings.
	segmentSpan = 2.0
)

// Client is the OpenAI-backed collaborator client.
type Client struct {
	client  *openai.Client
	enabled bool
	logger  *slog.Logger
}

// NewClient builds a client from the environment. Missing OPENAI_API_KEY
// yields a disabled client rather than an error: every pipeline feature that
// needs it has a fallback.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if os.Getenv("OPENAI_API_KEY") == "" {
		logger.Info("OPENAI_API_KEY not set, language-model collaborators disabled")
		return &Client{logger: logger}
	}
	client := openai.NewClient()
	return &Client{client: &client, enabled: true, logger: logger}
}

// Enabled reports whether the client can reach the API at all.
func (c *Client) Enabled() bool { return c.enabled }

// Client exposes the underlying OpenAI client for the embedding provider.
func (c *Client) Client() *openai.Client { return c.client }

// Transcribe runs speech-to-text over the audio file and splits the result
// into evenly timed segments. Returns an error when disabled or on API
// failure; the audio processor substitutes its placeholder transcript.
func (c *Client) Transcribe(ctx context.Context, audioPath, language string) ([]schema.TextSegment, error) {
	if !c.enabled {
		return nil, fmt.Errorf("transcription collaborator disabled")
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: TranscribeModel,
	}
	if language != "" {
		params.Language = openai.String(language)
	}
	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	return SegmentTranscript(resp.Text), nil
}

// SegmentTranscript splits a plain transcript into sentence-sized segments
// with evenly distributed timings.
func SegmentTranscript(text string) []schema.TextSegment {
	sentences := splitSentences(text)
	segments := make([]schema.TextSegment, 0, len(sentences))
	for i, sentence := range sentences {
		start := float64(i) * segmentSpan
		segments = append(segments, schema.TextSegment{
			Index:     i,
			StartTime: start,
			EndTime:   start + segmentSpan*0.75,
			Text:      sentence,
		})
	}
	return segments
}

func splitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n' || r == '。' || r == '！' || r == '？'
	})
	var out []string
	for _, f := range fields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// CaptionImage produces a one-sentence description of the frame at the given
// path. Returns an empty string when disabled so captions never consume an
// embedding call.
func (c *Client) CaptionImage(ctx context.Context, imagePath string) (string, error) {
	if !c.enabled {
		return "", nil
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read frame: %w", err)
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeForFrame(imagePath), base64.StdEncoding.EncodeToString(data))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart("Describe this video frame in one short sentence."),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		Model: ChatModel,
	})
	if err != nil {
		return "", fmt.Errorf("caption request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("caption response had no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func mimeForFrame(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return "image/png"
	}
	return "image/jpeg"
}

// Summarize produces an abstract plus key points over the document corpus.
func (c *Client) Summarize(ctx context.Context, title, corpus string) (*schema.Summary, error) {
	if !c.enabled {
		return nil, fmt.Errorf("summary collaborator disabled")
	}

	const maxCorpus = 16000
	if len(corpus) > maxCorpus {
		corpus = corpus[:maxCorpus]
	}

	prompt := fmt.Sprintf(`Summarize the following document titled %q.
Provide a concise abstract (1-2 sentences) and 3-5 key points.

Content:
%s

Respond in JSON format:
{"abstract": "...", "key_points": ["...", "..."]}`, title, corpus)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: ChatModel,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("summary request failed: %w", err)
	}

	var summary schema.Summary
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &summary); err != nil {
		return nil, fmt.Errorf("parse summary response: %w", err)
	}
	return &summary, nil
}
