package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/mediarag/internal/schema"
)

func TestPersistDocument_DeterministicPathAndUTF8(t *testing.T) {
	store := NewStore(t.TempDir(), nil, nil)

	doc := &schema.Document{
		DocumentID: "doc-1",
		Metadata: schema.DocumentMetadata{
			Title: "测试文档",
			Tags:  []string{"a", "a"},
		},
		Chunks: []schema.Chunk{},
	}

	path, err := store.PersistDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, store.DocumentPath("doc-1"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Non-ASCII text must be stored verbatim, not \u-escaped.
	assert.Contains(t, string(data), "测试文档")
	assert.NotContains(t, string(data), `\u`)
}

func TestPersistDocument_OverwritesOnReingestion(t *testing.T) {
	store := NewStore(t.TempDir(), nil, nil)
	doc := &schema.Document{DocumentID: "doc-2", Chunks: []schema.Chunk{}}

	first, err := store.PersistDocument(doc)
	require.NoError(t, err)

	doc.Metadata.Title = "updated"
	second, err := store.PersistDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	data, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Contains(t, string(data), "updated")
}

func TestSaveRaw(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "clip.mp3")
	require.NoError(t, os.WriteFile(src, []byte("audio bytes"), 0o644))

	store := NewStore(filepath.Join(dir, "data"), nil, nil)
	dest, err := store.SaveRaw(src, "doc-3")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(dest, "doc-3_clip.mp3"))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "audio bytes", string(data))
}

func TestPersistAuxiliaryBytes(t *testing.T) {
	store := NewStore(t.TempDir(), nil, nil)

	path, err := store.PersistAuxiliaryBytes("doc-4", []byte{0x50, 0x4b}, ".zip", "parser_raw")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, filepath.Join("parser_raw", "doc-4.zip")))
}
